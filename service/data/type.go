package data

import "github.com/khaledhikmat/vs-inspect/model"

type IService interface {
	RetrieveCameras() ([]model.Camera, error)
	RetrieveCameraByID(id int) (model.Camera, bool, error)
	UpdateCameraSource(id int, source string) error

	NewError(err interface{}) error
	NewStreamerStats(stats model.StreamerStats) error
}
