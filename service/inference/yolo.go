package inference

import (
	"fmt"
	"image"
	"image/color"
	"log/slog"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/khaledhikmat/vs-inspect/model"
	"github.com/khaledhikmat/vs-inspect/service/config"
	"github.com/khaledhikmat/vs-inspect/service/lgr"
	"gocv.io/x/gocv"
	"github.com/mdobak/go-xerrors"
)

const nmsThreshold = 0.45

var boxColor = color.RGBA{0, 255, 0, 0}

type detectFunc func(img gocv.Mat, settings model.Settings) ([]model.Detection, error)

type yoloService struct {
	*settingsStore

	modelPath string
	backend   string
	device    string
	labels    []string

	// gocv.Net is not thread-safe: every forward pass holds mu
	mu     sync.Mutex
	net    *gocv.Net
	loaded atomic.Bool
	detect detectFunc
}

// NewYolo starts loading the ONNX model in the background. Until it is done
// IsLoaded reports false.
func NewYolo(cfgSvc config.IService) IService {
	svc := newYolo(cfgSvc.GetModelPath(), cfgSvc.GetInferenceBackend(), model.Settings{
		Confidence: cfgSvc.GetDefaultConfidence(),
		InputSize:  cfgSvc.GetDefaultInputSize(),
	})
	svc.labels = loadLabels(cfgSvc.GetLabelsPath())
	svc.detect = svc.forward

	go func() {
		if err := svc.load(); err != nil {
			lgr.Logger.Error(
				"detection engine failed to load",
				slog.String("model", svc.modelPath),
				slog.Any("error", err),
			)
		}
	}()

	return svc
}

func newYolo(modelPath, backend string, initial model.Settings) *yoloService {
	return &yoloService{
		settingsStore: newSettingsStore(initial),
		modelPath:     modelPath,
		backend:       backend,
		device:        deviceFor(backend),
	}
}

func deviceFor(backend string) string {
	switch backend {
	case "openvino":
		return "openvino"
	case "cuda":
		return "cuda"
	default:
		return "cpu"
	}
}

func (svc *yoloService) load() error {
	lgr.Logger.Info(
		"loading detection engine",
		slog.String("model", svc.modelPath),
		slog.String("device", svc.device),
		slog.String("openCV", gocv.Version()),
	)

	if _, err := os.Stat(svc.modelPath); err != nil {
		return xerrors.New("model file", err)
	}

	net := gocv.ReadNet(svc.modelPath, "")
	if net.Empty() {
		return xerrors.New(fmt.Sprintf("error reading model %s", svc.modelPath))
	}

	backend, target := gocv.NetBackendDefault, gocv.NetTargetCPU
	switch svc.device {
	case "openvino":
		backend = gocv.NetBackendOpenVINO
	case "cuda":
		backend, target = gocv.NetBackendCUDA, gocv.NetTargetCUDA
	}
	if err := net.SetPreferableBackend(backend); err != nil {
		net.Close()
		return xerrors.New("error setting backend", err)
	}
	if err := net.SetPreferableTarget(target); err != nil {
		net.Close()
		return xerrors.New("error setting target", err)
	}

	svc.mu.Lock()
	svc.net = &net
	svc.mu.Unlock()
	svc.loaded.Store(true)

	lgr.Logger.Info(
		"detection engine loaded",
		slog.String("model", svc.modelPath),
		slog.String("device", svc.device),
		slog.Int("labels", len(svc.labels)),
	)
	return nil
}

func (svc *yoloService) IsLoaded() bool {
	return svc.loaded.Load()
}

func (svc *yoloService) Device() string {
	return svc.device
}

func (svc *yoloService) Predict(img gocv.Mat, settings model.Settings) ([]model.Detection, gocv.Mat) {
	if img.Empty() || !svc.IsLoaded() {
		return []model.Detection{}, img.Clone()
	}

	dets, err := svc.safeDetect(img, settings)
	if err != nil {
		lgr.Logger.Warn(
			"inference failed, retrying with defaults",
			slog.Float64("confidence", settings.Confidence),
			slog.Int("inputSize", settings.InputSize),
			slog.Any("error", err),
		)
		dets, err = svc.safeDetect(img, DefaultSettings)
		if err != nil {
			lgr.Logger.Error("inference retry failed", slog.Any("error", err))
			return []model.Detection{}, img.Clone()
		}
	}

	annotated := img.Clone()
	annotate(&annotated, dets)
	return dets, annotated
}

func (svc *yoloService) safeDetect(img gocv.Mat, settings model.Settings) (dets []model.Detection, err error) {
	defer func() {
		if r := recover(); r != nil {
			dets = nil
			err = xerrors.New("inference panicked", xerrors.FromRecover(r))
		}
	}()
	return svc.detect(img, settings)
}

func (svc *yoloService) forward(img gocv.Mat, settings model.Settings) ([]model.Detection, error) {
	size := settings.InputSize
	if size <= 0 {
		return nil, xerrors.New(fmt.Sprintf("invalid input size %d", size))
	}

	blob := gocv.BlobFromImage(img, 1.0/255.0, image.Pt(size, size), gocv.NewScalar(0, 0, 0, 0), true, false)
	defer blob.Close()

	svc.mu.Lock()
	if svc.net == nil {
		svc.mu.Unlock()
		return nil, ErrNotLoaded
	}
	svc.net.SetInput(blob, "")
	output := svc.net.Forward("")
	svc.mu.Unlock()
	defer output.Close()

	dims := output.Size()
	if len(dims) != 3 {
		return nil, xerrors.New(fmt.Sprintf("unexpected DNN output dims: %v", dims))
	}
	layout := detectLayout(dims)

	reshaped := output.Reshape(1, dims[1])
	defer reshaped.Close()
	rows := reshaped
	if layout == layoutYolo8 {
		transposed := gocv.NewMat()
		defer transposed.Close()
		gocv.Transpose(reshaped, &transposed)
		rows = transposed
	}

	data, err := rows.DataPtrFloat32()
	if err != nil {
		return nil, xerrors.New("reading output", err)
	}

	conf := float32(settings.Confidence)
	cands := decodeRows(data, rows.Rows(), rows.Cols(), layout, size, img.Cols(), img.Rows(), conf, svc.labels)
	if len(cands) == 0 {
		return []model.Detection{}, nil
	}

	boxes := make([]image.Rectangle, len(cands))
	scores := make([]float32, len(cands))
	for i, c := range cands {
		boxes[i] = c.rect
		scores[i] = c.det.Confidence
	}

	indices := gocv.NMSBoxes(boxes, scores, conf, nmsThreshold)
	dets := make([]model.Detection, 0, len(indices))
	for _, idx := range indices {
		dets = append(dets, cands[idx].det)
	}
	return dets, nil
}

func annotate(img *gocv.Mat, dets []model.Detection) {
	for _, d := range dets {
		cx, cy, w, h := d.BBox[0], d.BBox[1], d.BBox[2], d.BBox[3]
		rect := image.Rect(int(cx-w/2), int(cy-h/2), int(cx+w/2), int(cy+h/2))
		gocv.Rectangle(img, rect, boxColor, 2)

		label := d.Label
		if label == "" {
			label = fmt.Sprintf("class %d", d.ClassID)
		}
		gocv.PutText(img, fmt.Sprintf("%s %.2f", label, d.Confidence),
			image.Pt(rect.Min.X, max(rect.Min.Y-5, 12)), gocv.FontHersheySimplex, 0.5, boxColor, 1)
	}
}

func (svc *yoloService) Close() error {
	svc.mu.Lock()
	defer svc.mu.Unlock()

	svc.loaded.Store(false)
	if svc.net == nil {
		return nil
	}
	err := svc.net.Close()
	svc.net = nil
	return err
}

// loadLabels reads one class name per line; a missing file means numeric labels
func loadLabels(path string) []string {
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		lgr.Logger.Warn("labels not loaded", slog.String("path", path), slog.Any("error", err))
		return nil
	}
	return strings.Split(strings.TrimSpace(string(data)), "\n")
}
