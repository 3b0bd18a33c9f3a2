package inference

import (
	"github.com/khaledhikmat/vs-inspect/model"
	"gocv.io/x/gocv"
)

// passthroughService detects nothing. It lets the pipeline run without a model file.
type passthroughService struct {
	*settingsStore
}

func NewPassthrough(initial model.Settings) IService {
	return &passthroughService{
		settingsStore: newSettingsStore(initial),
	}
}

func (svc *passthroughService) Predict(img gocv.Mat, _ model.Settings) ([]model.Detection, gocv.Mat) {
	return []model.Detection{}, img.Clone()
}

func (svc *passthroughService) IsLoaded() bool {
	return true
}

func (svc *passthroughService) Device() string {
	return "passthrough"
}

func (svc *passthroughService) Close() error {
	return nil
}
