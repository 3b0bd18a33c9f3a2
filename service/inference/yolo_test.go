package inference

import (
	"errors"
	"sync"
	"testing"

	"github.com/khaledhikmat/vs-inspect/model"
	"gocv.io/x/gocv"
)

func testImage(t *testing.T) gocv.Mat {
	t.Helper()
	img := gocv.NewMatWithSize(480, 640, gocv.MatTypeCV8UC3)
	t.Cleanup(func() { img.Close() })
	return img
}

func loadedYolo(detect detectFunc) *yoloService {
	svc := newYolo("unused.onnx", "default", model.Settings{Confidence: 0.5, InputSize: 320})
	svc.detect = detect
	svc.loaded.Store(true)
	return svc
}

func TestUpdateSettingsKeepsUnsetFields(t *testing.T) {
	svc := newYolo("unused.onnx", "default", model.Settings{Confidence: 0.5, InputSize: 320})

	conf := 0.7
	got := svc.UpdateSettings(model.SettingsUpdate{Confidence: &conf})
	if got.Confidence != 0.7 || got.InputSize != 320 {
		t.Fatalf("unexpected settings after confidence update: %+v", got)
	}

	size := 1280
	got = svc.UpdateSettings(model.SettingsUpdate{InputSize: &size})
	if got.Confidence != 0.7 || got.InputSize != 1280 {
		t.Fatalf("unexpected settings after size update: %+v", got)
	}
	if svc.Settings() != got {
		t.Fatalf("Settings() %+v does not match last update %+v", svc.Settings(), got)
	}
}

func TestSettingsSnapshotsAreConsistent(t *testing.T) {
	svc := newYolo("unused.onnx", "default", model.Settings{Confidence: 0.1, InputSize: 100})

	// Writers always keep InputSize == Confidence*1000
	var wg sync.WaitGroup
	for i := 1; i <= 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			conf := float64(i) / 100
			size := i * 10
			svc.UpdateSettings(model.SettingsUpdate{Confidence: &conf, InputSize: &size})
		}(i)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	for {
		s := svc.Settings()
		if int(s.Confidence*1000+0.5) != s.InputSize {
			t.Fatalf("torn settings snapshot: %+v", s)
		}
		select {
		case <-done:
			return
		default:
		}
	}
}

func TestPredictRetriesOnceWithDefaults(t *testing.T) {
	var calls []model.Settings
	svc := loadedYolo(func(_ gocv.Mat, s model.Settings) ([]model.Detection, error) {
		calls = append(calls, s)
		if s == DefaultSettings {
			return []model.Detection{{ClassID: 1, Confidence: 0.9, BBox: [4]float32{100, 100, 20, 20}}}, nil
		}
		return nil, errors.New("bad input size")
	})

	img := testImage(t)
	dets, annotated := svc.Predict(img, model.Settings{Confidence: 0.5, InputSize: 33})
	defer annotated.Close()

	if len(calls) != 2 || calls[1] != DefaultSettings {
		t.Fatalf("expected one retry with defaults, got %+v", calls)
	}
	if len(dets) != 1 {
		t.Fatalf("expected detections from retry, got %d", len(dets))
	}
	if annotated.Rows() != img.Rows() || annotated.Cols() != img.Cols() {
		t.Fatalf("annotated shape %dx%d", annotated.Cols(), annotated.Rows())
	}
}

func TestPredictSurvivesRepeatedFailure(t *testing.T) {
	calls := 0
	svc := loadedYolo(func(gocv.Mat, model.Settings) ([]model.Detection, error) {
		calls++
		panic("backend crashed")
	})

	img := testImage(t)
	dets, annotated := svc.Predict(img, svc.Settings())
	defer annotated.Close()

	if calls != 2 {
		t.Fatalf("expected 2 attempts, got %d", calls)
	}
	if len(dets) != 0 {
		t.Fatalf("expected no detections, got %d", len(dets))
	}
	if annotated.Empty() || annotated.Cols() != 640 || annotated.Rows() != 480 {
		t.Fatal("expected an unannotated copy of the input")
	}
}

func TestPredictWhenNotLoaded(t *testing.T) {
	svc := newYolo("unused.onnx", "default", DefaultSettings)
	svc.detect = func(gocv.Mat, model.Settings) ([]model.Detection, error) {
		t.Fatal("detect must not run before the model is loaded")
		return nil, nil
	}

	img := testImage(t)
	dets, annotated := svc.Predict(img, svc.Settings())
	defer annotated.Close()

	if len(dets) != 0 || annotated.Empty() {
		t.Fatalf("expected empty detections and a copy, got %d dets", len(dets))
	}
	if err := svc.Close(); err != nil {
		t.Fatalf("close without a net: %v", err)
	}
}

func TestDeviceForBackend(t *testing.T) {
	cases := map[string]string{
		"":         "cpu",
		"default":  "cpu",
		"openvino": "openvino",
		"cuda":     "cuda",
	}
	for backend, want := range cases {
		if got := deviceFor(backend); got != want {
			t.Errorf("deviceFor(%q) = %q, want %q", backend, got, want)
		}
	}
}

func TestPassthrough(t *testing.T) {
	svc := NewPassthrough(DefaultSettings)
	if !svc.IsLoaded() || svc.Device() != "passthrough" {
		t.Fatal("passthrough should always be loaded")
	}

	img := testImage(t)
	dets, annotated := svc.Predict(img, svc.Settings())
	defer annotated.Close()
	if len(dets) != 0 || annotated.Empty() {
		t.Fatal("passthrough should return no detections and a copy")
	}
}
