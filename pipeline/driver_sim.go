package pipeline

import (
	"sync/atomic"
	"time"

	"golang.org/x/xerrors"
)

// simulatedDriver stands in for the vendor SDK: it "finds" a single device per
// index and produces a moving test pattern
type simulatedDriver struct {
	width, height int
	pixelType     PixelType
	devices       int

	open  bool
	frame uint32

	// Failure injection for tests
	failOpen atomic.Bool
	failGrab atomic.Bool
}

func newSimulatedDriver(pixelType PixelType) *simulatedDriver {
	return &simulatedDriver{
		width:     FrameWidth,
		height:    FrameHeight,
		pixelType: pixelType,
		devices:   4,
	}
}

func (d *simulatedDriver) Open(index int) (int, error) {
	if d.failOpen.Load() {
		return 0, xerrors.New("simulated open failure")
	}
	if index < 0 || index >= d.devices {
		return 0, xerrors.Errorf("index %d: %w", index, ErrDeviceNotFound)
	}
	d.open = true
	return d.width * d.height * 3, nil
}

func (d *simulatedDriver) Grab(buf []byte, _ time.Duration) (GrabInfo, error) {
	if !d.open {
		return GrabInfo{}, ErrDeviceNotOpen
	}
	if d.failGrab.Load() {
		return GrabInfo{}, xerrors.New("simulated grab timeout")
	}

	d.frame++
	shift := int(d.frame % 256)

	bpp := 3
	if d.pixelType == PixelMono8 {
		bpp = 1
	}
	n := d.width * d.height * bpp
	if n > len(buf) {
		return GrabInfo{}, xerrors.Errorf("buffer too small: %d < %d", len(buf), n)
	}

	// Diagonal gradient that scrolls one step per grab
	for y := 0; y < d.height; y++ {
		row := y * d.width * bpp
		for x := 0; x < d.width; x++ {
			v := byte((x + y + shift) % 256)
			p := row + x*bpp
			buf[p] = v
			if bpp == 3 {
				buf[p+1] = byte(y % 256)
				buf[p+2] = byte(255 - int(v))
			}
		}
	}

	return GrabInfo{
		Width:     d.width,
		Height:    d.height,
		PixelType: d.pixelType,
		Length:    n,
	}, nil
}

func (d *simulatedDriver) Close() error {
	d.open = false
	return nil
}
