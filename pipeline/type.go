package pipeline

import (
	"time"

	"github.com/khaledhikmat/vs-inspect/service/config"
	"github.com/khaledhikmat/vs-inspect/service/data"
	"github.com/khaledhikmat/vs-inspect/service/events"
	"github.com/khaledhikmat/vs-inspect/service/inference"
	"github.com/khaledhikmat/vs-inspect/service/storage"
	"gocv.io/x/gocv"
	"golang.org/x/xerrors"
)

// Canonical frame shape handed to the rest of the pipeline (BGR, 8-bit, 3 channels)
const (
	FrameWidth  = 640
	FrameHeight = 480
)

var (
	ErrSlotOutOfRange = xerrors.New("camera slot out of range")
	ErrInvalidSource  = xerrors.New("invalid camera source")
)

type FrameData struct {
	Mat       gocv.Mat
	Timestamp time.Time
	// Synthetic frames are placeholders produced when no real frame is available
	Synthetic bool
	Status    string
}

// Close releases the underlying Mat
func (f FrameData) Close() {
	f.Mat.Close()
}

type SourceInfo struct {
	Kind   string
	Source string
	Index  int
}

// FrameSource is one camera connection. Implementations serialize device I/O internally.
type FrameSource interface {
	// Connect is rate limited: attempts within the reconnect interval are no-ops
	Connect()
	// GetFrame never blocks past the device timeout and always returns a canonical frame
	GetFrame() FrameData
	IsConnected() bool
	// SetSource retargets the source and forces a reconnect attempt.
	// Values the source kind cannot address fail with ErrInvalidSource.
	SetSource(source string) error
	// Release closes the device; a released source never reconnects
	Release() error
	Describe() SourceInfo
}

// ServicesFactory carries the services a mode processor wires together
type ServicesFactory struct {
	CfgSvc       config.IService
	DataSvc      data.IService
	StorageSvc   storage.IService
	EventsSvc    events.IService
	InferenceSvc inference.IService
}
