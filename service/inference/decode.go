package inference

import (
	"image"

	"github.com/khaledhikmat/vs-inspect/model"
)

type outputLayout int

const (
	// [1, N, 5+C]: cx, cy, w, h, objectness, class scores
	layoutYolo5 outputLayout = iota
	// [1, 4+C, N]: cx, cy, w, h, class scores (transposed before decoding)
	layoutYolo8
)

func detectLayout(dims []int) outputLayout {
	if dims[1] < dims[2] {
		return layoutYolo8
	}
	return layoutYolo5
}

type candidate struct {
	det  model.Detection
	rect image.Rectangle
}

// decodeRows turns row-major model output into candidates above the confidence threshold.
// Boxes are scaled from the square network input back to the original image size.
func decodeRows(data []float32, rows, cols int, layout outputLayout, inputSize, imgW, imgH int, conf float32, labels []string) []candidate {
	classOffset := 4
	if layout == layoutYolo5 {
		classOffset = 5
	}
	if cols <= classOffset || len(data) < rows*cols || inputSize <= 0 {
		return nil
	}

	sx := float32(imgW) / float32(inputSize)
	sy := float32(imgH) / float32(inputSize)

	var cands []candidate
	for i := 0; i < rows; i++ {
		row := data[i*cols : (i+1)*cols]

		objectness := float32(1)
		if layout == layoutYolo5 {
			objectness = row[4]
			if objectness < conf {
				continue
			}
		}

		classID := -1
		best := float32(0)
		for j, score := range row[classOffset:] {
			if score > best {
				best = score
				classID = j
			}
		}
		score := best * objectness
		if classID < 0 || score < conf {
			continue
		}

		cx, cy := row[0]*sx, row[1]*sy
		w, h := row[2]*sx, row[3]*sy
		cands = append(cands, candidate{
			det: model.Detection{
				ClassID:    classID,
				Label:      labelFor(labels, classID),
				Confidence: score,
				BBox:       [4]float32{cx, cy, w, h},
			},
			rect: image.Rect(int(cx-w/2), int(cy-h/2), int(cx+w/2), int(cy+h/2)),
		})
	}
	return cands
}

func labelFor(labels []string, classID int) string {
	if classID >= 0 && classID < len(labels) {
		return labels[classID]
	}
	return ""
}
