package pipeline

import (
	"fmt"
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

// hikSource grabs from an industrial camera addressed by its enumeration index
type hikSource struct {
	slot              int
	reconnectInterval time.Duration
	readTimeout       time.Duration
	driver            Driver
	now               func() time.Time

	// mu serializes driver I/O
	mu                   sync.Mutex
	buf                  []byte
	lastReconnectAttempt time.Time
	released             bool
	connected            atomic.Bool

	// index is written under mu and descMu; Describe only takes descMu
	descMu sync.RWMutex
	index  int
}

func NewHikSource(slot, index int, driver Driver, reconnectInterval, readTimeout time.Duration) FrameSource {
	return newHikSource(slot, index, driver, reconnectInterval, readTimeout)
}

func newHikSource(slot, index int, driver Driver, reconnectInterval, readTimeout time.Duration) *hikSource {
	return &hikSource{
		slot:              slot,
		index:             index,
		driver:            driver,
		reconnectInterval: reconnectInterval,
		readTimeout:       readTimeout,
		now:               time.Now,
	}
}

func (s *hikSource) Connect() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connectLocked()
}

func (s *hikSource) connectLocked() {
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
		"opening industrial camera",
		slog.Int("slot", s.slot),
		slog.Int("index", s.index),
		slog.Bool("sdk", SDKAvailable),
	)

	payloadSize, err := s.safeOpen()
	if err != nil || payloadSize <= 0 {
		s.driver.Close()
		s.connected.Store(false)
		lgr.Logger.Warn(
			"failed to open industrial camera",
			slog.Int("slot", s.slot),
			slog.Int("index", s.index),
			slog.Int("payloadSize", payloadSize),
			slog.Any("error", err),
		)
		return
	}

	if cap(s.buf) < payloadSize {
		s.buf = make([]byte, payloadSize)
	}
	s.buf = s.buf[:payloadSize]
	s.connected.Store(true)
	lgr.Logger.Info(
		"industrial camera grabbing",
		slog.Int("slot", s.slot),
		slog.Int("index", s.index),
		slog.Int("payloadSize", payloadSize),
	)
}

func (s *hikSource) safeOpen() (payloadSize int, err error) {
	defer func() {
		if r := recover(); r != nil {
			payloadSize = 0
			err = xerrors.FromRecover(r)
		}
	}()
	return s.driver.Open(s.index)
}

func (s *hikSource) GetFrame() FrameData {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.connected.Load() {
		s.connectLocked()
		if !s.connected.Load() {
			return syntheticFrame(s.slot, "No Signal")
		}
	}

	info, err := s.safeGrab()
	if err != nil {
		lgr.Logger.Debug(
			"grab failed",
			slog.Int("slot", s.slot),
			slog.Any("error", err),
		)
		s.connected.Store(false)
		return syntheticFrame(s.slot, "Connection Lost")
	}

	return s.convert(info)
}

func (s *hikSource) safeGrab() (info GrabInfo, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = xerrors.FromRecover(r)
		}
	}()
	return s.driver.Grab(s.buf, s.readTimeout)
}

// convert turns the raw grab buffer into a canonical BGR frame
func (s *hikSource) convert(info GrabInfo) FrameData {
	var (
		mt  gocv.MatType
		bpp int
	)
	switch info.PixelType {
	case PixelMono8:
		mt, bpp = gocv.MatTypeCV8UC1, 1
	case PixelBGR8Packed:
		mt, bpp = gocv.MatTypeCV8UC3, 3
	default:
		return syntheticFrame(s.slot, fmt.Sprintf("Raw fmt: 0x%08x", uint32(info.PixelType)))
	}

	size := info.Width * info.Height * bpp
	if info.Width <= 0 || info.Height <= 0 || size > len(s.buf) || size > info.Length {
		return syntheticFrame(s.slot, fmt.Sprintf("Bad frame %dx%d", info.Width, info.Height))
	}

	// NewMatFromBytes does not own the buffer, which is reused on the next grab
	raw, err := gocv.NewMatFromBytes(info.Height, info.Width, mt, s.buf[:size])
	if err != nil {
		return syntheticFrame(s.slot, "Decode Error")
	}
	defer raw.Close()

	bgr := gocv.NewMat()
	if bpp == 1 {
		gocv.CvtColor(raw, &bgr, gocv.ColorGrayToBGR)
	} else {
		raw.CopyTo(&bgr)
	}

	return FrameData{
		Mat:       canonicalize(bgr),
		Timestamp: time.Now(),
	}
}

func (s *hikSource) IsConnected() bool {
	return s.connected.Load()
}

// SetSource takes the new enumeration index as a decimal string
func (s *hikSource) SetSource(source string) error {
	index, err := strconv.Atoi(strings.TrimSpace(source))
	if err != nil || index < 0 {
		return xerrors.New(ErrInvalidSource, fmt.Sprintf("industrial camera index must be a non-negative integer, got %q", source))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.descMu.Lock()
	s.index = index
	s.descMu.Unlock()

	s.lastReconnectAttempt = time.Time{}
	s.connectLocked()
	return nil
}

// Release is terminal: later connect attempts are no-ops
func (s *hikSource) Release() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.released = true
	return s.closeLocked()
}

func (s *hikSource) closeLocked() error {
	s.connected.Store(false)
	return s.driver.Close()
}

func (s *hikSource) Describe() SourceInfo {
	s.descMu.RLock()
	defer s.descMu.RUnlock()

	return SourceInfo{
		Kind:   model.SourceKindHik,
		Source: strconv.Itoa(s.index),
		Index:  s.index,
	}
}
