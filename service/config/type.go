package config

import "time"

type IService interface {
	GetRunTimeEnv() string
	IsDev() bool
	GetLogLevel() string
	GetAppLogFile() string
	GetModeMaxShutdownTime() int
	GetMonitorPeriodicTimeout() int

	GetHTTPAddr() string
	GetGRPCAddr() string
	GetPublicBaseURL() string

	GetInputFolder() string
	GetCamerasInputFile() string
	GetHistoryFolder() string
	GetEventsLogFile() string
	GetEventsLogMaxSize() int

	GetCameraSlots() int
	GetReconnectInterval() time.Duration
	GetDeviceReadTimeout() time.Duration
	GetStreamFPSLimit() int

	GetModelPath() string
	GetLabelsPath() string
	GetInferenceBackend() string
	GetDefaultConfidence() float64
	GetDefaultInputSize() int
}
