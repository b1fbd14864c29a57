package postprocess

import "github.com/seantiz/benchrunner/internal/model"

// ResNet50 reports the top-1 class of each sample. The model's class 0 is a
// background class, so reported labels are shifted down by one.
func ResNet50(item model.Item, outputs Outputs, buf *model.ResultBuffer) error {
	return classification(item, outputs, buf, "softmax_tensor:0")
}

func classification(item model.Item, outputs Outputs, buf *model.ResultBuffer, name string) error {
	_, values, err := floats(outputs, name)
	if err != nil {
		return err
	}
	per, err := checkBatch(item, values, name)
	if err != nil {
		return err
	}

	for j, id := range item.ResponseIDs {
		row := values[j*per : (j+1)*per]
		top := 0
		for i, v := range row {
			if v > row[top] {
				top = i
			}
		}
		buf.Append(id, float32(top-1))
	}
	return nil
}
