package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/khaledhikmat/vs-inspect/service/config"
	"gocv.io/x/gocv"
	"github.com/mdobak/go-xerrors"
)

// localService stores files in the history folder, which the HTTP server exposes under /history/
type localService struct {
	CfgSvc config.IService
}

func NewLocal(cfgsvc config.IService) IService {
	return &localService{
		CfgSvc: cfgsvc,
	}
}

func (svc *localService) Folder() string {
	return svc.CfgSvc.GetHistoryFolder()
}

func (svc *localService) StoreFile(fileName string, data []byte) (string, error) {
	path, err := svc.path(fileName)
	if err != nil {
		return "", err
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", xerrors.New(fmt.Sprintf("storing %s", fileName), err)
	}
	return svc.url(fileName), nil
}

func (svc *localService) StoreImage(fileName string, img gocv.Mat) (string, error) {
	path, err := svc.path(fileName)
	if err != nil {
		return "", err
	}

	if ok := gocv.IMWrite(path, img); !ok {
		return "", xerrors.New(fmt.Sprintf("unable to write image %s", fileName))
	}
	return svc.url(fileName), nil
}

func (svc *localService) path(fileName string) (string, error) {
	if fileName == "" || fileName != filepath.Base(fileName) || strings.HasPrefix(fileName, ".") {
		return "", xerrors.New(fmt.Sprintf("invalid file name %q", fileName))
	}

	folder := svc.Folder()
	if err := os.MkdirAll(folder, 0o755); err != nil {
		return "", xerrors.New(err)
	}
	return filepath.Join(folder, fileName), nil
}

func (svc *localService) url(fileName string) string {
	return fmt.Sprintf("%s/history/%s", strings.TrimRight(svc.CfgSvc.GetPublicBaseURL(), "/"), fileName)
}
