package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/khaledhikmat/vs-inspect/model"
	"github.com/khaledhikmat/vs-inspect/pipeline"
	"github.com/khaledhikmat/vs-inspect/service/lgr"
	"go.opentelemetry.io/otel/attribute"
	"gocv.io/x/gocv"
	"golang.org/x/xerrors"
)

const (
	maxUploadSize   = 32 << 20
	defaultLogLines = 50
	maxLogLines     = 5000

	minInputSize = 32
	maxInputSize = 4096
)

var errEmptyImage = xerrors.New("decoded image is empty")

type predictResponse struct {
	Message    string            `json:"message"`
	Detections int               `json:"detections"`
	ImageURL   string            `json:"image_url"`
	Objects    []model.Detection `json:"objects"`
}

func (s *Server) handlePredict(w http.ResponseWriter, r *http.Request) {
	_, span := tracer.Start(r.Context(), "predict")
	defer span.End()

	engine := s.rt.Engine
	if engine == nil || !engine.IsLoaded() {
		s.svcs.EventsSvc.Broadcast("Error", "Model not loaded", model.SeverityHigh, "")
		writeError(w, http.StatusInternalServerError, "Model not loaded")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
	file, _, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "multipart field 'file' is required")
		return
	}
	defer file.Close()

	contents, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "unable to read upload")
		return
	}

	ts := s.now().UnixMilli()
	rawURL, err := s.svcs.StorageSvc.StoreFile(fmt.Sprintf("raw_%d.jpg", ts), contents)
	if err != nil {
		lgr.Logger.Error("unable to store upload", slog.Any("error", err))
	}
	s.svcs.EventsSvc.Broadcast("Debug", fmt.Sprintf("received image: %d bytes", len(contents)), model.SeverityInfo, rawURL)

	img, err := gocv.IMDecode(contents, gocv.IMReadColor)
	if err == nil && img.Empty() {
		img.Close()
		err = errEmptyImage
	}
	if err != nil {
		s.svcs.EventsSvc.Broadcast("Error", "image decode failed", model.SeverityHigh, "")
		writeError(w, http.StatusBadRequest, "Invalid image")
		return
	}
	defer img.Close()

	start := time.Now()
	dets, annotated := engine.Predict(img, engine.Settings())
	defer annotated.Close()
	dt := time.Since(start)
	span.SetAttributes(attribute.Int("detections", len(dets)))

	imageURL, err := s.svcs.StorageSvc.StoreImage(fmt.Sprintf("detected_%d.jpg", ts), annotated)
	if err != nil {
		lgr.Logger.Error("unable to store annotated image", slog.Any("error", err))
	}

	severity := model.SeverityInfo
	if len(dets) > 0 {
		severity = model.SeverityHigh
	}
	s.svcs.EventsSvc.Broadcast(
		"Inference complete",
		fmt.Sprintf("took %.1fms, %d objects detected", float64(dt.Microseconds())/1000, len(dets)),
		severity,
		imageURL,
	)

	writeJSON(w, http.StatusOK, predictResponse{
		Message:    "Success",
		Detections: len(dets),
		ImageURL:   imageURL,
		Objects:    dets,
	})
}

type statusResponse struct {
	ModelLoaded     bool               `json:"model_loaded"`
	Device          string             `json:"device"`
	CameraConnected bool               `json:"camera_connected"`
	Running         bool               `json:"running"`
	Cameras         []model.SlotStatus `json:"cameras"`
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	resp := statusResponse{
		Device:  "unknown",
		Running: s.rt.Running(),
		Cameras: []model.SlotStatus{},
	}
	if s.rt.Engine != nil {
		resp.ModelLoaded = s.rt.Engine.IsLoaded()
		resp.Device = s.rt.Engine.Device()
	}
	if s.rt.Registry != nil {
		resp.Cameras = s.rt.Registry.Status()
		resp.CameraConnected = len(resp.Cameras) > 0 && resp.Cameras[0].Connected
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetSettings(w http.ResponseWriter, _ *http.Request) {
	if s.rt.Engine == nil {
		writeError(w, http.StatusInternalServerError, "Detector not initialized")
		return
	}
	writeJSON(w, http.StatusOK, s.rt.Engine.Settings())
}

func (s *Server) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	var update model.SettingsUpdate
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<16)).Decode(&update); err != nil {
		writeError(w, http.StatusBadRequest, "invalid settings payload")
		return
	}
	if err := validateSettings(update); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	engine := s.rt.Engine
	if engine == nil || !engine.IsLoaded() {
		writeError(w, http.StatusInternalServerError, "Detector not initialized")
		return
	}

	settings := engine.UpdateSettings(update)
	s.svcs.EventsSvc.Broadcast(
		"Settings",
		fmt.Sprintf("parameters updated: confidence=%g inputSize=%d", settings.Confidence, settings.InputSize),
		model.SeverityMedium,
		"",
	)
	writeJSON(w, http.StatusOK, settings)
}

func validateSettings(update model.SettingsUpdate) error {
	if update.Confidence != nil {
		if c := *update.Confidence; c < 0 || c > 1 {
			return fmt.Errorf("confidence must be within [0, 1], got %g", c)
		}
	}
	if update.InputSize != nil {
		if n := *update.InputSize; n < minInputSize || n > maxInputSize || n%32 != 0 {
			return fmt.Errorf("inputSize must be a multiple of 32 within [%d, %d], got %d", minInputSize, maxInputSize, n)
		}
	}
	return nil
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	lines := defaultLogLines
	if v := r.URL.Query().Get("lines"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "lines must be a positive integer")
			return
		}
		lines = min(n, maxLogLines)
	}

	entries, err := s.svcs.EventsSvc.Recent(lines)
	if err != nil {
		lgr.Logger.Error("unable to read events log", slog.Any("error", err))
		writeJSON(w, http.StatusOK, map[string]interface{}{"error": err.Error(), "logs": []model.LogEntry{}})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"logs": entries})
}

type sourceRequest struct {
	Source string `json:"source"`
}

func (s *Server) handleCameraSource(w http.ResponseWriter, r *http.Request) {
	slot, err := strconv.Atoi(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "camera id must be an integer")
		return
	}

	var req sourceRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<16)).Decode(&req); err != nil || strings.TrimSpace(req.Source) == "" {
		writeError(w, http.StatusBadRequest, "source is required")
		return
	}
	req.Source = strings.TrimSpace(req.Source)

	if err := s.rt.Registry.SetSource(slot, req.Source); err != nil {
		if errors.Is(err, pipeline.ErrSlotOutOfRange) || errors.Is(err, pipeline.ErrInvalidSource) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if err := s.svcs.DataSvc.UpdateCameraSource(slot, req.Source); err != nil {
		lgr.Logger.Error("unable to persist camera source", slog.Int("slot", slot), slog.Any("error", err))
	}

	src, _ := s.rt.Registry.Source(slot)
	s.svcs.EventsSvc.Broadcast(
		fmt.Sprintf("Camera %d", slot),
		fmt.Sprintf("source changed to %s", req.Source),
		model.SeverityMedium,
		"",
	)
	info := src.Describe()
	writeJSON(w, http.StatusOK, model.SlotStatus{
		ID:        slot,
		Connected: src.IsConnected(),
		Index:     info.Index,
		Kind:      info.Kind,
		Source:    info.Source,
	})
}
