package pipeline

import (
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/khaledhikmat/vs-inspect/model"
	"gocv.io/x/gocv"
)

type fakeEngine struct {
	loaded   atomic.Bool
	predicts atomic.Int64
	closed   atomic.Bool
	delay    time.Duration
}

func newFakeEngine(loaded bool) *fakeEngine {
	e := &fakeEngine{}
	e.loaded.Store(loaded)
	return e
}

func (e *fakeEngine) Predict(img gocv.Mat, _ model.Settings) ([]model.Detection, gocv.Mat) {
	e.predicts.Add(1)
	if e.delay > 0 {
		time.Sleep(e.delay)
	}
	return []model.Detection{}, img.Clone()
}

func (e *fakeEngine) Settings() model.Settings {
	return model.Settings{Confidence: 0.25, InputSize: 640}
}

func (e *fakeEngine) UpdateSettings(model.SettingsUpdate) model.Settings {
	return e.Settings()
}

func (e *fakeEngine) IsLoaded() bool { return e.loaded.Load() }
func (e *fakeEngine) Device() string { return "fake" }
func (e *fakeEngine) Close() error {
	e.closed.Store(true)
	return nil
}

// fakeSource hands out synthetic frames and records calls
type fakeSource struct {
	slot int

	mu        sync.Mutex
	source    string
	connects  int
	released  int
	connected bool
	empty     bool
	failClose error
	panicRel  bool
	// block, when set, stalls GetFrame until it is closed
	block chan struct{}
}

func (s *fakeSource) Connect() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connects++
	s.connected = true
}

func (s *fakeSource) GetFrame() FrameData {
	s.mu.Lock()
	empty, block := s.empty, s.block
	s.mu.Unlock()
	if block != nil {
		<-block
	}
	if empty {
		return FrameData{Mat: gocv.NewMat()}
	}
	return syntheticFrame(s.slot, "fake")
}

func (s *fakeSource) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

func (s *fakeSource) SetSource(source string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.source = source
	return nil
}

func (s *fakeSource) Release() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.released++
	s.connected = false
	if s.panicRel {
		panic("driver crashed")
	}
	return s.failClose
}

func (s *fakeSource) Describe() SourceInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	index, err := strconv.Atoi(s.source)
	if err != nil {
		index = -1
	}
	return SourceInfo{Kind: "fake", Source: s.source, Index: index}
}

// fakeClock is advanced manually by tests
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 10, 15, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}
