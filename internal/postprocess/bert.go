package postprocess

import (
	"fmt"

	"github.com/seantiz/benchrunner/internal/model"
)

// BERT interleaves start and end logits per token: [s0, e0, s1, e1, ...].
func BERT(item model.Item, outputs Outputs, buf *model.ResultBuffer) error {
	_, start, err := floats(outputs, "output_start_logits")
	if err != nil {
		return err
	}
	_, end, err := floats(outputs, "output_end_logits")
	if err != nil {
		return err
	}
	if len(start) != len(end) {
		return fmt.Errorf("start logits (%d) and end logits (%d) differ in length", len(start), len(end))
	}
	per, err := checkBatch(item, start, "output_start_logits")
	if err != nil {
		return err
	}

	pair := make([]float32, 2*per)
	for j, id := range item.ResponseIDs {
		s := start[j*per : (j+1)*per]
		e := end[j*per : (j+1)*per]
		for i := range per {
			pair[2*i] = s[i]
			pair[2*i+1] = e[i]
		}
		buf.Append(id, pair...)
	}
	return nil
}
