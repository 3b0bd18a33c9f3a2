package storage

import "gocv.io/x/gocv"

type IService interface {
	// StoreFile writes raw bytes and returns the public URL of the stored file
	StoreFile(fileName string, data []byte) (string, error)
	// StoreImage encodes img by the extension of fileName
	StoreImage(fileName string, img gocv.Mat) (string, error)
	Folder() string
}
