package pipeline

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/khaledhikmat/vs-inspect/service/inference"
	"github.com/khaledhikmat/vs-inspect/service/lgr"
)

// Runtime is the shared pipeline context handed to request handlers and stream loops
type Runtime struct {
	Registry *Registry
	Engine   inference.IService

	running  atomic.Bool
	shutdown sync.Once
}

func NewRuntime(registry *Registry, engine inference.IService) *Runtime {
	rt := &Runtime{
		Registry: registry,
		Engine:   engine,
	}
	rt.running.Store(true)
	return rt
}

func (rt *Runtime) Running() bool {
	return rt.running.Load()
}

// Ready reports whether frames can be processed right now
func (rt *Runtime) Ready() bool {
	return rt.Running() && rt.Registry != nil && rt.Engine != nil && rt.Engine.IsLoaded()
}

// Shutdown stops every stream loop, then releases cameras and the engine. Idempotent.
func (rt *Runtime) Shutdown() {
	rt.shutdown.Do(func() {
		rt.running.Store(false)
		if rt.Registry != nil {
			rt.Registry.Release()
		}
		if rt.Engine != nil {
			if err := rt.Engine.Close(); err != nil {
				lgr.Logger.Error("engine close failed", slog.Any("error", err))
			}
		}
	})
}
