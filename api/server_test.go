package api

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/khaledhikmat/vs-inspect/model"
	"github.com/khaledhikmat/vs-inspect/pipeline"
	"github.com/khaledhikmat/vs-inspect/service/config"
	"github.com/khaledhikmat/vs-inspect/service/data"
	"github.com/khaledhikmat/vs-inspect/service/events"
	"github.com/khaledhikmat/vs-inspect/service/inference"
	"github.com/khaledhikmat/vs-inspect/service/storage"
	"gocv.io/x/gocv"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// toggledEngine is a passthrough engine whose readiness tests control
type toggledEngine struct {
	inference.IService
	loaded atomic.Bool
}

func (e *toggledEngine) IsLoaded() bool { return e.loaded.Load() }

type testEnv struct {
	srv     *Server
	engine  *toggledEngine
	rt      *pipeline.Runtime
	events  events.IService
	history string
	input   string
}

func newTestEnv(t *testing.T, loaded bool) *testEnv {
	t.Helper()
	history := t.TempDir()
	input := t.TempDir()
	t.Setenv("HISTORY_FOLDER", history)
	t.Setenv("INPUT_FOLDER", input)
	t.Setenv("PUBLIC_BASE_URL", "http://localhost:8000")
	cfgSvc := config.NewEnvironment()

	engine := &toggledEngine{IService: inference.NewPassthrough(inference.DefaultSettings)}
	engine.loaded.Store(loaded)

	factory := func(camera model.Camera) pipeline.FrameSource {
		return pipeline.NewHikSource(camera.ID, camera.ID, pipeline.NewDriver(), 5*time.Second, 100*time.Millisecond)
	}
	rt := pipeline.NewRuntime(pipeline.NewRegistry(nil, 2, factory), engine)

	eventsSvc := events.NewBroadcaster(cfgSvc)
	svcs := pipeline.ServicesFactory{
		CfgSvc:       cfgSvc,
		DataSvc:      data.NewFilesDB(cfgSvc),
		StorageSvc:   storage.NewLocal(cfgSvc),
		EventsSvc:    eventsSvc,
		InferenceSvc: engine,
	}
	srv := NewServer(svcs, rt, pipeline.NewStreamer(rt, 30))

	t.Cleanup(func() {
		srv.Hub().Close()
		rt.Shutdown()
		eventsSvc.Close()
	})

	return &testEnv{srv: srv, engine: engine, rt: rt, events: eventsSvc, history: history, input: input}
}

func (e *testEnv) do(t *testing.T, method, path string, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	e.srv.Handler().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decoding %q: %v", rec.Body.String(), err)
	}
	return v
}

func TestVideoFeedRejectsBadSlot(t *testing.T) {
	env := newTestEnv(t, true)

	for _, path := range []string{"/video_feed/7", "/video_feed/-1", "/video_feed/abc"} {
		rec := env.do(t, http.MethodGet, path, "")
		if rec.Code != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d", path, rec.Code)
		}
		if strings.HasPrefix(rec.Header().Get("Content-Type"), "multipart/") {
			t.Errorf("%s: stream headers must not be sent for a bad slot", path)
		}
	}
}

func TestVideoFeedStreamsJPEGParts(t *testing.T) {
	env := newTestEnv(t, true)
	ts := httptest.NewServer(env.srv.Handler())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/video_feed/1", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "multipart/x-mixed-replace; boundary=frame" {
		t.Fatalf("unexpected content type %q", ct)
	}

	reader := multipart.NewReader(resp.Body, "frame")
	for i := 0; i < 2; i++ {
		part, err := reader.NextPart()
		if err != nil {
			t.Fatalf("part %d: %v", i, err)
		}
		if ct := part.Header.Get("Content-Type"); ct != "image/jpeg" {
			t.Fatalf("part %d content type %q", i, ct)
		}
		var buf bytes.Buffer
		if _, err := buf.ReadFrom(part); err != nil {
			t.Fatalf("part %d body: %v", i, err)
		}
		if !bytes.HasPrefix(buf.Bytes(), []byte{0xff, 0xd8}) {
			t.Fatalf("part %d is not a JPEG", i)
		}
	}
}

func TestSettingsRoundTrip(t *testing.T) {
	env := newTestEnv(t, true)

	rec := env.do(t, http.MethodPost, "/config/settings", `{"confidence":0.5,"inputSize":320}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("update: %d %s", rec.Code, rec.Body.String())
	}

	got := decode[model.Settings](t, env.do(t, http.MethodGet, "/config/settings", ""))
	if got != (model.Settings{Confidence: 0.5, InputSize: 320}) {
		t.Fatalf("unexpected settings %+v", got)
	}

	env.do(t, http.MethodPost, "/config/settings", `{"confidence":0.6}`)
	got = decode[model.Settings](t, env.do(t, http.MethodGet, "/config/settings", ""))
	if got != (model.Settings{Confidence: 0.6, InputSize: 320}) {
		t.Fatalf("partial update changed inputSize: %+v", got)
	}
}

func TestSettingsValidation(t *testing.T) {
	env := newTestEnv(t, true)

	for _, body := range []string{
		`{"confidence":1.5}`,
		`{"confidence":-0.1}`,
		`{"inputSize":100}`,
		`{"inputSize":0}`,
		`{"inputSize":8192}`,
		`not json`,
	} {
		if rec := env.do(t, http.MethodPost, "/config/settings", body); rec.Code != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d", body, rec.Code)
		}
	}

	got := decode[model.Settings](t, env.do(t, http.MethodGet, "/config/settings", ""))
	if got != inference.DefaultSettings {
		t.Fatalf("rejected updates changed settings: %+v", got)
	}
}

func TestSettingsUpdateNeedsLoadedEngine(t *testing.T) {
	env := newTestEnv(t, false)

	rec := env.do(t, http.MethodPost, "/config/settings", `{"confidence":0.5}`)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
}

func TestStatus(t *testing.T) {
	env := newTestEnv(t, true)

	rec := env.do(t, http.MethodGet, "/status", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status: %d", rec.Code)
	}
	got := decode[statusResponse](t, rec)
	if !got.ModelLoaded || got.Device != "passthrough" || !got.Running {
		t.Errorf("unexpected engine status %+v", got)
	}
	if len(got.Cameras) != 2 || !got.CameraConnected {
		t.Fatalf("unexpected cameras %+v", got.Cameras)
	}
	if got.Cameras[1].ID != 1 || got.Cameras[1].Index != 1 || got.Cameras[1].Kind != model.SourceKindHik {
		t.Errorf("unexpected slot 1 %+v", got.Cameras[1])
	}
}

func TestLogsNewestFirst(t *testing.T) {
	env := newTestEnv(t, true)

	env.events.Broadcast("one", "first", model.SeverityInfo, "")
	env.events.Broadcast("two", "second", model.SeverityMedium, "")
	env.events.Broadcast("three", "third", model.SeverityHigh, "http://localhost:8000/history/x.jpg")

	got := decode[struct {
		Logs []model.LogEntry `json:"logs"`
	}](t, env.do(t, http.MethodGet, "/logs?lines=2", ""))

	if len(got.Logs) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(got.Logs))
	}
	if got.Logs[0].Title != "three" || got.Logs[1].Title != "two" {
		t.Fatalf("unexpected order %+v", got.Logs)
	}
	if got.Logs[0].Attachment != "http://localhost:8000/history/x.jpg" {
		t.Errorf("attachment lost: %+v", got.Logs[0])
	}

	if rec := env.do(t, http.MethodGet, "/logs?lines=zero", ""); rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for bad lines, got %d", rec.Code)
	}
}

func TestCameraSource(t *testing.T) {
	env := newTestEnv(t, true)

	rec := env.do(t, http.MethodPost, "/cameras/1/source", `{"source":"3"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("set source: %d %s", rec.Code, rec.Body.String())
	}
	got := decode[model.SlotStatus](t, rec)
	if got.Index != 3 || !got.Connected {
		t.Errorf("unexpected slot status %+v", got)
	}

	if _, err := os.Stat(filepath.Join(env.input, "cameras.json")); err != nil {
		t.Errorf("source change not persisted: %v", err)
	}

	if rec := env.do(t, http.MethodPost, "/cameras/9/source", `{"source":"1"}`); rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for slot 9, got %d", rec.Code)
	}
	if rec := env.do(t, http.MethodPost, "/cameras/0/source", `{}`); rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 without a source, got %d", rec.Code)
	}
}

func TestCameraSourceRejectsUnaddressableIndex(t *testing.T) {
	env := newTestEnv(t, true)

	for _, body := range []string{`{"source":"rtsp://10.0.0.9/live"}`, `{"source":"-2"}`} {
		rec := env.do(t, http.MethodPost, "/cameras/1/source", body)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d %s", body, rec.Code, rec.Body.String())
		}
	}

	if _, err := os.Stat(filepath.Join(env.input, "cameras.json")); !os.IsNotExist(err) {
		t.Errorf("rejected source must not be persisted: %v", err)
	}
	if info := env.rt.Registry.Status()[1]; info.Index != 1 || info.Kind != model.SourceKindHik {
		t.Errorf("slot 1 changed: %+v", info)
	}
}

func uploadRequest(t *testing.T, data []byte) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", "part.jpg")
	if err != nil {
		t.Fatal(err)
	}
	fw.Write(data)
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/predict/image", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestPredictImage(t *testing.T) {
	env := newTestEnv(t, true)

	img := gocv.NewMatWithSize(120, 160, gocv.MatTypeCV8UC3)
	defer img.Close()
	buf, err := gocv.IMEncode(gocv.JPEGFileExt, img)
	if err != nil {
		t.Fatal(err)
	}
	jpeg := bytes.Clone(buf.GetBytes())
	buf.Close()

	rec := httptest.NewRecorder()
	env.srv.Handler().ServeHTTP(rec, uploadRequest(t, jpeg))
	if rec.Code != http.StatusOK {
		t.Fatalf("predict: %d %s", rec.Code, rec.Body.String())
	}

	got := decode[predictResponse](t, rec)
	if got.Message != "Success" || got.Detections != 0 {
		t.Errorf("unexpected response %+v", got)
	}
	if !strings.HasPrefix(got.ImageURL, "http://localhost:8000/history/detected_") {
		t.Errorf("unexpected image url %q", got.ImageURL)
	}
	if _, err := os.Stat(filepath.Join(env.history, filepath.Base(got.ImageURL))); err != nil {
		t.Errorf("annotated image not stored: %v", err)
	}

	entries, err := env.events.Recent(10)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 || entries[0].Attachment != got.ImageURL || !strings.Contains(entries[1].Attachment, "/history/raw_") {
		t.Errorf("unexpected events %+v", entries)
	}
}

func TestPredictInvalidImage(t *testing.T) {
	env := newTestEnv(t, true)

	rec := httptest.NewRecorder()
	env.srv.Handler().ServeHTTP(rec, uploadRequest(t, []byte("definitely not an image")))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestPredictNeedsLoadedEngine(t *testing.T) {
	env := newTestEnv(t, false)

	rec := httptest.NewRecorder()
	env.srv.Handler().ServeHTTP(rec, uploadRequest(t, []byte("x")))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	entries, _ := env.events.Recent(1)
	if len(entries) != 1 || entries[0].Severity != model.SeverityHigh {
		t.Errorf("expected a high severity event, got %+v", entries)
	}
}

func TestHistoryFilesAreServed(t *testing.T) {
	env := newTestEnv(t, true)
	if err := os.WriteFile(filepath.Join(env.history, "result_1.jpg"), []byte("img"), 0644); err != nil {
		t.Fatal(err)
	}

	rec := env.do(t, http.MethodGet, "/history/result_1.jpg", "")
	if rec.Code != http.StatusOK || rec.Body.String() != "img" {
		t.Fatalf("unexpected response %d %q", rec.Code, rec.Body.String())
	}
}

func TestEventsWebSocket(t *testing.T) {
	env := newTestEnv(t, true)
	ts := httptest.NewServer(env.srv.Handler())
	defer ts.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/ws/events", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// Wait for the hub to register the viewer
	deadline := time.Now().Add(2 * time.Second)
	for env.srv.Hub().ClientCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("viewer never registered")
		}
		time.Sleep(10 * time.Millisecond)
	}

	env.events.Broadcast("Camera 0", "disconnected", model.SeverityMedium, "")

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var entry model.LogEntry
	if err := conn.ReadJSON(&entry); err != nil {
		t.Fatalf("read: %v", err)
	}
	if entry.Title != "Camera 0" || entry.Severity != model.SeverityMedium {
		t.Fatalf("unexpected entry %+v", entry)
	}
}

func TestHealthReporter(t *testing.T) {
	h := NewHealthReporter()

	check := func(service string) healthpb.HealthCheckResponse_ServingStatus {
		resp, err := h.srv.Check(context.Background(), &healthpb.HealthCheckRequest{Service: service})
		if err != nil {
			t.Fatalf("check %q: %v", service, err)
		}
		return resp.Status
	}

	if check(HealthDetector) != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Fatal("detector should start NOT_SERVING")
	}

	h.SetDetector(true)
	h.SetCamera(2, true)
	if check("") != healthpb.HealthCheckResponse_SERVING || check(HealthDetector) != healthpb.HealthCheckResponse_SERVING {
		t.Fatal("detector should be SERVING")
	}
	if check(CameraHealthService(2)) != healthpb.HealthCheckResponse_SERVING {
		t.Fatal("camera/2 should be SERVING")
	}

	h.SetCamera(2, false)
	if st, _ := h.Status(CameraHealthService(2)); st != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Fatalf("camera/2 status %v", st)
	}
}
