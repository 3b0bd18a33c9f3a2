package inference

import (
	"github.com/khaledhikmat/vs-inspect/model"
	"gocv.io/x/gocv"
	"golang.org/x/xerrors"
)

var ErrNotLoaded = xerrors.New("detection engine not loaded")

// DefaultSettings is the permissive fallback used when inference with the
// current settings fails
var DefaultSettings = model.Settings{
	Confidence: 0.25,
	InputSize:  640,
}

type IService interface {
	// Predict never panics. The annotated Mat is always a new Mat owned by the caller;
	// on failure it is an unannotated copy of img and detections are empty.
	Predict(img gocv.Mat, settings model.Settings) ([]model.Detection, gocv.Mat)
	Settings() model.Settings
	// UpdateSettings applies the non-nil fields and returns the resulting settings
	UpdateSettings(update model.SettingsUpdate) model.Settings
	IsLoaded() bool
	Device() string
	Close() error
}
