package inference

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/khaledhikmat/vs-inspect/model"
	"github.com/khaledhikmat/vs-inspect/service/lgr"
)

// settingsStore gives readers a consistent snapshot without locking; writers
// replace the whole struct
type settingsStore struct {
	mu      sync.Mutex
	current atomic.Pointer[model.Settings]
}

func newSettingsStore(initial model.Settings) *settingsStore {
	s := &settingsStore{}
	s.current.Store(&initial)
	return s
}

func (s *settingsStore) Settings() model.Settings {
	return *s.current.Load()
}

func (s *settingsStore) UpdateSettings(update model.SettingsUpdate) model.Settings {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := *s.current.Load()
	if update.Confidence != nil {
		next.Confidence = *update.Confidence
	}
	if update.InputSize != nil {
		next.InputSize = *update.InputSize
	}
	s.current.Store(&next)

	lgr.Logger.Info(
		"inference settings updated",
		slog.Float64("confidence", next.Confidence),
		slog.Int("inputSize", next.InputSize),
	)
	return next
}
