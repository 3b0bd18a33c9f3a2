package pipeline

import (
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/khaledhikmat/vs-inspect/model"
	"github.com/khaledhikmat/vs-inspect/service/lgr"
	"github.com/mdobak/go-xerrors"
	"gocv.io/x/gocv"
)

// OpenCV capture properties not exported by gocv
const (
	capPropOpenTimeoutMsec gocv.VideoCaptureProperties = 53
	capPropReadTimeoutMsec gocv.VideoCaptureProperties = 54
)

// videoCapture is the subset of *gocv.VideoCapture the capture source relies on
type videoCapture interface {
	Read(m *gocv.Mat) bool
	IsOpened() bool
	Close() error
}

// captureOpener may return a handle together with an error; the caller closes it
type captureOpener func(source string) (videoCapture, error)

func openVideoCapture(timeout time.Duration) captureOpener {
	ms := gocv.VideoCaptureProperties(timeout.Milliseconds())
	return func(source string) (videoCapture, error) {
		var device interface{} = source
		if id, err := strconv.Atoi(source); err == nil {
			device = id
		}

		// Timeouts must be passed at open time to bound the open itself
		params := []gocv.VideoCaptureProperties{
			capPropOpenTimeoutMsec, ms,
			capPropReadTimeoutMsec, ms,
		}
		webcam, err := gocv.OpenVideoCaptureWithAPIParams(device, gocv.VideoCaptureAny, params)
		if err != nil {
			// gocv allocates the native handle before it tries to open
			if webcam != nil {
				webcam.Close()
			}
			return nil, xerrors.New(err)
		}
		return webcam, nil
	}
}

// captureSource reads from anything OpenCV can open: device index, RTSP/HTTP url or file
type captureSource struct {
	slot              int
	reconnectInterval time.Duration
	open              captureOpener
	now               func() time.Time

	// mu serializes device I/O
	mu                   sync.Mutex
	webcam               videoCapture
	lastReconnectAttempt time.Time
	released             bool
	connected            atomic.Bool

	// source is written under mu and descMu; Describe only takes descMu
	descMu sync.RWMutex
	source string
}

func NewCaptureSource(slot int, source string, reconnectInterval, readTimeout time.Duration) FrameSource {
	return newCaptureSource(slot, source, reconnectInterval, openVideoCapture(readTimeout))
}

func newCaptureSource(slot int, source string, reconnectInterval time.Duration, open captureOpener) *captureSource {
	return &captureSource{
		slot:              slot,
		source:            source,
		reconnectInterval: reconnectInterval,
		open:              open,
		now:               time.Now,
	}
}

func (s *captureSource) Connect() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connectLocked()
}

func (s *captureSource) connectLocked() {
	if s.released {
		return
	}

	now := s.now()
	if !s.lastReconnectAttempt.IsZero() && now.Sub(s.lastReconnectAttempt) < s.reconnectInterval {
		return
	}
	s.lastReconnectAttempt = now

	s.closeLocked()

	lgr.Logger.Info(
		"connecting to camera source",
		slog.Int("slot", s.slot),
		slog.String("source", s.source),
	)

	webcam, err := s.safeOpen()
	if err != nil || webcam == nil || !webcam.IsOpened() {
		if webcam != nil {
			webcam.Close()
		}
		s.connected.Store(false)
		lgr.Logger.Warn(
			"failed to connect to camera",
			slog.Int("slot", s.slot),
			slog.String("source", s.source),
			slog.Any("error", err),
		)
		return
	}

	s.webcam = webcam
	s.connected.Store(true)
	lgr.Logger.Info(
		"camera connected",
		slog.Int("slot", s.slot),
		slog.String("source", s.source),
	)
}

func (s *captureSource) safeOpen() (webcam videoCapture, err error) {
	defer func() {
		if r := recover(); r != nil {
			webcam = nil
			err = xerrors.FromRecover(r)
		}
	}()
	return s.open(s.source)
}

func (s *captureSource) GetFrame() FrameData {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.connected.Load() {
		s.connectLocked()
		if !s.connected.Load() {
			return syntheticFrame(s.slot, "No Signal")
		}
	}

	img := gocv.NewMat()
	if ok := s.safeRead(&img); !ok || img.Empty() {
		img.Close() // Crucial to close the image to avoid memory leaks
		s.connected.Store(false)
		return syntheticFrame(s.slot, "Connection Lost")
	}

	return FrameData{
		Mat:       canonicalize(img),
		Timestamp: time.Now(),
	}
}

func (s *captureSource) safeRead(img *gocv.Mat) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
		}
	}()
	return s.webcam.Read(img)
}

func (s *captureSource) IsConnected() bool {
	return s.connected.Load()
}

func (s *captureSource) SetSource(source string) error {
	source = strings.TrimSpace(source)
	if source == "" {
		return xerrors.New(ErrInvalidSource, "empty capture source")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.descMu.Lock()
	s.source = source
	s.descMu.Unlock()

	s.lastReconnectAttempt = time.Time{}
	s.connectLocked()
	return nil
}

// Release is terminal: later connect attempts are no-ops
func (s *captureSource) Release() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.released = true
	return s.closeLocked()
}

func (s *captureSource) closeLocked() error {
	s.connected.Store(false)
	if s.webcam == nil {
		return nil
	}
	err := s.webcam.Close()
	s.webcam = nil
	return err
}

func (s *captureSource) Describe() SourceInfo {
	s.descMu.RLock()
	defer s.descMu.RUnlock()

	index := -1
	if id, err := strconv.Atoi(s.source); err == nil {
		index = id
	}
	return SourceInfo{
		Kind:   model.SourceKindCapture,
		Source: s.source,
		Index:  index,
	}
}
