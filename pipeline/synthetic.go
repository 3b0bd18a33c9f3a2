package pipeline

import (
	"fmt"
	"image"
	"image/color"
	"math"
	"time"

	"gocv.io/x/gocv"
)

var slotColors = []color.RGBA{
	{0, 255, 0, 0},
	{0, 200, 255, 0},
	{255, 0, 255, 0},
	{255, 165, 0, 0},
}

// Synthesize draws the placeholder shown when a slot has no real frame.
// Only the moving circle depends on now; everything else is fixed by slot and status.
func Synthesize(slot int, status string, now time.Time) gocv.Mat {
	canvas := gocv.NewMatWithSize(FrameHeight, FrameWidth, gocv.MatTypeCV8UC3)
	canvas.SetTo(gocv.NewScalar(0, 0, 0, 0))

	w, h := FrameWidth, FrameHeight

	// crosshair
	gocv.Line(&canvas, image.Pt(0, h/2), image.Pt(w, h/2), color.RGBA{0, 50, 0, 0}, 1)
	gocv.Line(&canvas, image.Pt(w/2, 0), image.Pt(w/2, h), color.RGBA{0, 50, 0, 0}, 1)

	// liveness indicator
	t := float64(now.UnixNano()) / float64(time.Second)
	offset := int(math.Sin(t*2) * 200)
	gocv.Circle(&canvas, image.Pt(w/2+offset, h/2), 30, color.RGBA{255, 255, 0, 0}, 2)

	gocv.PutText(&canvas, fmt.Sprintf("CAM [%d]", slot), image.Pt(20, 40),
		gocv.FontHersheySimplex, 0.8, slotColor(slot), 2)
	if status != "" {
		gocv.PutText(&canvas, status, image.Pt(20, 80),
			gocv.FontHersheySimplex, 0.6, color.RGBA{255, 0, 0, 0}, 2)
	}
	gocv.PutText(&canvas, now.Format("2006-01-02 15:04:05"), image.Pt(20, h-20),
		gocv.FontHersheySimplex, 0.6, color.RGBA{200, 200, 200, 0}, 1)

	return canvas
}

func slotColor(slot int) color.RGBA {
	if slot < 0 {
		slot = -slot
	}
	return slotColors[slot%len(slotColors)]
}

func syntheticFrame(slot int, status string) FrameData {
	now := time.Now()
	return FrameData{
		Mat:       Synthesize(slot, status, now),
		Timestamp: now,
		Synthetic: true,
		Status:    status,
	}
}

// canonicalize converts a real frame into the canonical shape, closing src when a new Mat is made
func canonicalize(src gocv.Mat) gocv.Mat {
	if src.Rows() == FrameHeight && src.Cols() == FrameWidth && src.Type() == gocv.MatTypeCV8UC3 {
		return src
	}

	bgr := src
	switch src.Channels() {
	case 1:
		bgr = gocv.NewMat()
		gocv.CvtColor(src, &bgr, gocv.ColorGrayToBGR)
		src.Close()
	case 4:
		bgr = gocv.NewMat()
		gocv.CvtColor(src, &bgr, gocv.ColorBGRAToBGR)
		src.Close()
	}

	if bgr.Rows() == FrameHeight && bgr.Cols() == FrameWidth {
		return bgr
	}

	resized := gocv.NewMat()
	gocv.Resize(bgr, &resized, image.Pt(FrameWidth, FrameHeight), 0, 0, gocv.InterpolationLinear)
	bgr.Close()
	return resized
}
