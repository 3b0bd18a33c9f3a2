package api

import (
	"fmt"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// Health service names besides the overall "" service
const (
	HealthDetector     = "detector"
	healthCameraPrefix = "camera/"
)

func CameraHealthService(slot int) string {
	return fmt.Sprintf("%s%d", healthCameraPrefix, slot)
}

// HealthReporter publishes pipeline readiness over grpc.health.v1
type HealthReporter struct {
	srv *health.Server

	mu     sync.Mutex
	states map[string]healthpb.HealthCheckResponse_ServingStatus
}

func NewHealthReporter() *HealthReporter {
	h := &HealthReporter{
		srv:    health.NewServer(),
		states: map[string]healthpb.HealthCheckResponse_ServingStatus{},
	}
	h.set("", false)
	h.set(HealthDetector, false)
	return h
}

func (h *HealthReporter) Register(s *grpc.Server) {
	healthpb.RegisterHealthServer(s, h.srv)
}

// SetDetector drives both the detector and the overall service status
func (h *HealthReporter) SetDetector(loaded bool) {
	h.set(HealthDetector, loaded)
	h.set("", loaded)
}

func (h *HealthReporter) SetCamera(slot int, connected bool) {
	h.set(CameraHealthService(slot), connected)
}

// Shutdown flips every service to NOT_SERVING so watchers see the stop
func (h *HealthReporter) Shutdown() {
	h.srv.Shutdown()
}

// Status returns the last published status of a service
func (h *HealthReporter) Status(service string) (healthpb.HealthCheckResponse_ServingStatus, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	st, ok := h.states[service]
	return st, ok
}

func (h *HealthReporter) set(service string, ok bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if ok {
		status = healthpb.HealthCheckResponse_SERVING
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if prev, seen := h.states[service]; seen && prev == status {
		return
	}
	h.states[service] = status
	h.srv.SetServingStatus(service, status)
}
