package mode

import (
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/khaledhikmat/vs-inspect/api"
	"github.com/khaledhikmat/vs-inspect/model"
	"github.com/khaledhikmat/vs-inspect/pipeline"
	"github.com/khaledhikmat/vs-inspect/service/events"
	"github.com/khaledhikmat/vs-inspect/service/lgr"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// cameraMonitor turns readiness changes into events and health updates
type cameraMonitor struct {
	rt        *pipeline.Runtime
	eventsSvc events.IService
	health    *api.HealthReporter

	checked      bool
	loaded       bool
	reconnecting atomic.Bool
}

func newCameraMonitor(rt *pipeline.Runtime, eventsSvc events.IService, health *api.HealthReporter) *cameraMonitor {
	return &cameraMonitor{
		rt:        rt,
		eventsSvc: eventsSvc,
		health:    health,
	}
}

func (m *cameraMonitor) check() {
	if !m.rt.Running() {
		return
	}

	loaded := m.rt.Engine != nil && m.rt.Engine.IsLoaded()
	if !m.checked || loaded != m.loaded {
		m.health.SetDetector(loaded)
		if loaded {
			m.eventsSvc.Broadcast("Detector", fmt.Sprintf("model loaded on %s", m.rt.Engine.Device()), model.SeverityInfo, "")
		} else if m.checked {
			m.eventsSvc.Broadcast("Detector", "model unloaded", model.SeverityHigh, "")
		}
		m.loaded = loaded
	}

	// The published camera health is the last state this monitor saw
	for _, st := range m.rt.Registry.Status() {
		prev, seen := m.health.Status(api.CameraHealthService(st.ID))
		m.health.SetCamera(st.ID, st.Connected)

		if seen && (prev == healthpb.HealthCheckResponse_SERVING) == st.Connected {
			continue
		}
		title := fmt.Sprintf("Camera %d", st.ID)
		switch {
		case st.Connected:
			m.eventsSvc.Broadcast(title, fmt.Sprintf("connected (%s %s)", st.Kind, st.Source), model.SeverityInfo, "")
		case seen:
			m.eventsSvc.Broadcast(title, fmt.Sprintf("disconnected (%s %s)", st.Kind, st.Source), model.SeverityMedium, "")
		default:
			lgr.Logger.Info("camera slot without signal", slog.Int("slot", st.ID), slog.String("source", st.Source))
		}
	}

	m.checked = true
}

// reconnect nudges idle disconnected slots in the background; attempts stay rate limited by each source
func (m *cameraMonitor) reconnect() {
	if !m.rt.Running() || !m.reconnecting.CompareAndSwap(false, true) {
		return
	}
	go func() {
		defer m.reconnecting.Store(false)
		m.reconnectDisconnected()
	}()
}

func (m *cameraMonitor) reconnectDisconnected() {
	for _, st := range m.rt.Registry.Status() {
		if st.Connected || !m.rt.Running() {
			continue
		}
		if src, err := m.rt.Registry.Source(st.ID); err == nil {
			src.Connect()
		}
	}
}
