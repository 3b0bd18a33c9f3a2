package data

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/khaledhikmat/vs-inspect/model"
	"github.com/khaledhikmat/vs-inspect/service/config"
	"github.com/mdobak/go-xerrors"
)

// filesDBService keeps camera definitions in the cameras input file and
// appends errors and stats as JSON lines into the history folder
type filesDBService struct {
	CfgSvc config.IService

	mu sync.Mutex
}

func NewFilesDB(cfgsvc config.IService) IService {
	return &filesDBService{
		CfgSvc: cfgsvc,
	}
}

// RetrieveCameras returns an empty list when no cameras file exists yet
func (svc *filesDBService) RetrieveCameras() ([]model.Camera, error) {
	svc.mu.Lock()
	defer svc.mu.Unlock()
	return svc.readCameras()
}

func (svc *filesDBService) readCameras() ([]model.Camera, error) {
	cameras := []model.Camera{}

	input := svc.CfgSvc.GetCamerasInputFile()
	data, err := os.ReadFile(input)
	if errors.Is(err, os.ErrNotExist) {
		return cameras, nil
	}
	if err != nil {
		return cameras, xerrors.New(err)
	}

	err = json.Unmarshal(data, &cameras)
	if err != nil {
		return cameras, xerrors.New(fmt.Sprintf("parsing %s", input), err)
	}

	return cameras, nil
}

func (svc *filesDBService) RetrieveCameraByID(id int) (model.Camera, bool, error) {
	cameras, err := svc.RetrieveCameras()
	if err != nil {
		return model.Camera{}, false, err
	}

	for _, camera := range cameras {
		if camera.ID == id {
			return camera, true, nil
		}
	}

	return model.Camera{}, false, nil
}

// UpdateCameraSource records a new source for a slot so it survives restarts.
// A slot missing from the file is added as a capture camera.
func (svc *filesDBService) UpdateCameraSource(id int, source string) error {
	svc.mu.Lock()
	defer svc.mu.Unlock()

	cameras, err := svc.readCameras()
	if err != nil {
		return err
	}

	found := false
	for i, camera := range cameras {
		if camera.ID != id {
			continue
		}
		found = true
		cameras[i].Source = source
		if camera.Kind == model.SourceKindHik {
			if index, err := strconv.Atoi(source); err == nil {
				cameras[i].Index = index
			}
		}
		break
	}
	if !found {
		cameras = append(cameras, model.Camera{
			ID:     id,
			Name:   "CAM " + strconv.Itoa(id),
			Kind:   model.SourceKindCapture,
			Source: source,
		})
		sort.Slice(cameras, func(i, j int) bool { return cameras[i].ID < cameras[j].ID })
	}

	data, err := json.MarshalIndent(cameras, "", "  ")
	if err != nil {
		return err
	}

	output := svc.CfgSvc.GetCamerasInputFile()
	if err := os.MkdirAll(filepath.Dir(output), 0o755); err != nil {
		return xerrors.New(err)
	}
	// Write the JSON data to the file (with truncation)
	if err := os.WriteFile(output, data, 0644); err != nil {
		return xerrors.New(fmt.Sprintf("writing %s", output), err)
	}
	return nil
}

func (svc *filesDBService) NewError(err interface{}) error {
	// Determine if the error is custom
	var customErr model.CustomError
	switch e := err.(type) {
	case model.CustomError:
		customErr = e
	case error:
		customErr.Processor = "N/A"
		customErr.Inner = e
		customErr.Message = e.Error()
		customErr.StackTrace = "N/A"
	default:
		return xerrors.New(fmt.Sprintf("unsupported error value %T", err))
	}

	inner := ""
	if customErr.Inner != nil {
		inner = customErr.Inner.Error()
	}

	// Create an error object to persist
	errorData := struct {
		Timestamp  int64                  `json:"timestamp"`
		Processor  string                 `json:"processor"`
		Inner      string                 `json:"innerError"`
		Message    string                 `json:"message"`
		StackTrace string                 `json:"stackTrace"`
		Misc       map[string]interface{} `json:"misc"`
	}{
		Timestamp:  time.Now().Unix(),
		Processor:  customErr.Processor,
		Inner:      inner,
		Message:    customErr.Message,
		StackTrace: customErr.StackTrace,
		Misc:       customErr.Misc,
	}
	return svc.newEntity(errorData, "errors")
}

func (svc *filesDBService) NewStreamerStats(stats model.StreamerStats) error {
	if stats.Timestamp == 0 {
		stats.Timestamp = time.Now().Unix()
	}
	return svc.newEntity(stats, "streamer-stats")
}

// newEntity appends one JSON document per line
func (svc *filesDBService) newEntity(entity interface{}, name string) error {
	data, err := json.Marshal(entity)
	if err != nil {
		return err
	}

	svc.mu.Lock()
	defer svc.mu.Unlock()

	folder := svc.CfgSvc.GetHistoryFolder()
	if err := os.MkdirAll(folder, 0o755); err != nil {
		return xerrors.New(err)
	}

	// Open the file in append mode, create it if it doesn't exist
	file, err := os.OpenFile(filepath.Join(folder, name+".jsonl"), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return xerrors.New(fmt.Sprintf("opening %s history", name), err)
	}
	defer file.Close()

	if _, err = file.Write(append(data, '\n')); err != nil {
		return xerrors.New(fmt.Sprintf("appending %s history", name), err)
	}
	return nil
}
