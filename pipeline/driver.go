package pipeline

import (
	"time"

	"golang.org/x/xerrors"
)

// PixelType values as reported by the MVS SDK (MvGvspPixelType)
type PixelType uint32

const (
	PixelMono8      PixelType = 0x01080001
	PixelBGR8Packed PixelType = 0x02180015
)

var (
	ErrDeviceNotFound = xerrors.New("device not found")
	ErrDeviceNotOpen  = xerrors.New("device not open")
)

type GrabInfo struct {
	Width     int
	Height    int
	PixelType PixelType
	// Length is the number of valid bytes written into the grab buffer
	Length int
}

// Driver talks to one industrial camera through the vendor SDK.
// Implementations are not safe for concurrent use; hikSource serializes calls.
type Driver interface {
	// Open enumerates GigE/USB devices, opens the one at index, starts grabbing
	// and returns the payload size a grab buffer must hold
	Open(index int) (int, error)
	// Grab fills buf with one frame, waiting at most timeout
	Grab(buf []byte, timeout time.Duration) (GrabInfo, error)
	// Close stops grabbing and destroys the device handle. Safe to call when not open.
	Close() error
}
