package pipeline

import (
	"fmt"
	"log/slog"
	"strconv"
	"sync"

	"github.com/khaledhikmat/vs-inspect/model"
	"github.com/khaledhikmat/vs-inspect/service/config"
	"github.com/khaledhikmat/vs-inspect/service/lgr"
	"golang.org/x/xerrors"
)

type SourceFactory func(camera model.Camera) FrameSource

// NewSourceFactory picks the source variant from the camera kind
func NewSourceFactory(cfgSvc config.IService) SourceFactory {
	return func(camera model.Camera) FrameSource {
		switch camera.Kind {
		case model.SourceKindHik:
			return NewHikSource(camera.ID, camera.Index, NewDriver(), cfgSvc.GetReconnectInterval(), cfgSvc.GetDeviceReadTimeout())
		default:
			return NewCaptureSource(camera.ID, camera.Source, cfgSvc.GetReconnectInterval(), cfgSvc.GetDeviceReadTimeout())
		}
	}
}

// DefaultCamera is what an unconfigured slot opens: the capture device with the slot's index
func DefaultCamera(slot int) model.Camera {
	return model.Camera{
		ID:     slot,
		Name:   fmt.Sprintf("CAM %d", slot),
		Kind:   model.SourceKindCapture,
		Source: strconv.Itoa(slot),
		Index:  slot,
	}
}

// Registry owns a fixed number of camera slots for the process lifetime
type Registry struct {
	slots []FrameSource
}

func NewRegistry(cameras []model.Camera, n int, factory SourceFactory) *Registry {
	defs := make([]model.Camera, n)
	for i := range defs {
		defs[i] = DefaultCamera(i)
	}
	for _, camera := range cameras {
		if camera.ID < 0 || camera.ID >= n {
			lgr.Logger.Warn("camera definition outside slot range", slog.Int("id", camera.ID), slog.Int("slots", n))
			continue
		}
		defs[camera.ID] = camera
	}

	r := &Registry{
		slots: make([]FrameSource, n),
	}
	for i, camera := range defs {
		r.slots[i] = factory(camera)
	}

	// Initial connects are best-effort and independent per slot
	var wg sync.WaitGroup
	for _, src := range r.slots {
		wg.Add(1)
		go func(src FrameSource) {
			defer wg.Done()
			src.Connect()
		}(src)
	}
	wg.Wait()

	return r
}

func (r *Registry) Len() int {
	return len(r.slots)
}

func (r *Registry) Source(id int) (FrameSource, error) {
	if id < 0 || id >= len(r.slots) {
		return nil, xerrors.Errorf("slot %d: %w", id, ErrSlotOutOfRange)
	}
	return r.slots[id], nil
}

func (r *Registry) SetSource(id int, source string) error {
	src, err := r.Source(id)
	if err != nil {
		return err
	}
	return src.SetSource(source)
}

func (r *Registry) Status() []model.SlotStatus {
	statuses := make([]model.SlotStatus, 0, len(r.slots))
	for i, src := range r.slots {
		info := src.Describe()
		statuses = append(statuses, model.SlotStatus{
			ID:        i,
			Connected: src.IsConnected(),
			Index:     info.Index,
			Kind:      info.Kind,
			Source:    info.Source,
		})
	}
	return statuses
}

// Release closes every slot; a failing slot does not stop the others
func (r *Registry) Release() {
	for i, src := range r.slots {
		func() {
			defer func() {
				if rec := recover(); rec != nil {
					lgr.Logger.Error("camera release panicked", slog.Int("slot", i), slog.Any("panic", rec))
				}
			}()
			if err := src.Release(); err != nil {
				lgr.Logger.Error("camera release failed", slog.Int("slot", i), slog.Any("error", err))
			}
		}()
	}
	lgr.Logger.Info("camera registry released", slog.Int("slots", len(r.slots)))
}
