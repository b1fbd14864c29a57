package postprocess

import (
	"fmt"

	"github.com/seantiz/benchrunner/internal/model"
)

// DetectionWidth is the number of values per reported detection:
// sample index, ymin, xmin, ymax, xmax, score, label.
const DetectionWidth = 7

// RetinaNet keeps detections scoring at least model.RetinaNetScoreThreshold.
// Boxes arrive as pixel xmin, ymin, xmax, ymax and are reported as normalized
// ymin, xmin, ymax, xmax. A sample with no kept detections yields an empty
// result.
func RetinaNet(item model.Item, outputs Outputs, buf *model.ResultBuffer) error {
	_, boxes, err := floats(outputs, "boxes")
	if err != nil {
		return err
	}
	_, scores, err := floats(outputs, "scores")
	if err != nil {
		return err
	}
	labelsTensor, err := outputs.Output("labels")
	if err != nil {
		return err
	}
	labels, err := labelsTensor.Int64s()
	if err != nil {
		return fmt.Errorf("output %q: %w", "labels", err)
	}

	per, err := checkBatch(item, scores, "scores")
	if err != nil {
		return err
	}
	if len(boxes) != 4*len(scores) || len(labels) != len(scores) {
		return fmt.Errorf("detection outputs disagree: %d boxes values, %d scores, %d labels",
			len(boxes), len(scores), len(labels))
	}

	const size = float32(model.RetinaNetImageSize)
	for j, id := range item.ResponseIDs {
		sample := float32(item.SampleIndices[j])
		var kept []float32
		for i := j * per; i < (j+1)*per; i++ {
			if scores[i] < model.RetinaNetScoreThreshold {
				continue
			}
			b := boxes[i*4 : i*4+4]
			kept = append(kept,
				sample,
				b[1]/size,
				b[0]/size,
				b[3]/size,
				b[2]/size,
				scores[i],
				float32(labels[i]),
			)
		}
		buf.Append(id, kept...)
	}
	return nil
}
