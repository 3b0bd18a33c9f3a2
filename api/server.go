package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/khaledhikmat/vs-inspect/pipeline"
	"github.com/khaledhikmat/vs-inspect/service/lgr"
	"go.opentelemetry.io/otel"
)

const tracerName = "github.com/khaledhikmat/vs-inspect/api"

var tracer = otel.Tracer(tracerName)

// Server is the HTTP front door of the inspection pipeline
type Server struct {
	svcs     pipeline.ServicesFactory
	rt       *pipeline.Runtime
	streamer *pipeline.Streamer
	hub      *Hub
	now      func() time.Time

	// partWriteTimeout bounds the write of one MJPEG part to a viewer
	partWriteTimeout time.Duration
}

func NewServer(svcs pipeline.ServicesFactory, rt *pipeline.Runtime, streamer *pipeline.Streamer) *Server {
	return &Server{
		svcs:     svcs,
		rt:       rt,
		streamer: streamer,
		hub:      NewHub(svcs.EventsSvc),
		now:      time.Now,

		partWriteTimeout: 10 * time.Second,
	}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /predict/image", s.handlePredict)
	mux.HandleFunc("GET /video_feed", s.handleVideoFeed)
	mux.HandleFunc("GET /video_feed/{id}", s.handleVideoFeed)
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.HandleFunc("GET /config/settings", s.handleGetSettings)
	mux.HandleFunc("POST /config/settings", s.handleUpdateSettings)
	mux.HandleFunc("GET /logs", s.handleLogs)
	mux.HandleFunc("POST /cameras/{id}/source", s.handleCameraSource)
	mux.Handle("GET /ws/events", s.hub)
	mux.Handle("GET /history/", http.StripPrefix("/history/", http.FileServer(http.Dir(s.svcs.StorageSvc.Folder()))))

	return withCORS(mux)
}

// Hub exposes the event channel so the owner can close viewers on shutdown
func (s *Server) Hub() *Hub {
	return s.hub
}

// withCORS allows the dashboard to be served from another origin
func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, code int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		lgr.Logger.Warn("unable to write response", slog.Any("error", err))
	}
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
