package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type environmentService struct {
}

// NewEnvironment reads every setting from the process environment.
// In dev mode main loads a .env file first, so values there apply too.
func NewEnvironment() IService {
	return &environmentService{}
}

func (svc *environmentService) GetRunTimeEnv() string {
	return getEnv("RUN_TIME_ENV", "dev")
}

func (svc *environmentService) IsDev() bool {
	return svc.GetRunTimeEnv() == "dev"
}

func (svc *environmentService) GetLogLevel() string {
	return getEnv("LOG_LEVEL", "INFO")
}

func (svc *environmentService) GetAppLogFile() string {
	return getEnv("APP_LOG_FILE", "")
}

func (svc *environmentService) GetModeMaxShutdownTime() int {
	return getEnvInt("MODE_MAX_SHUTDOWN_TIME_SEC", 5)
}

func (svc *environmentService) GetMonitorPeriodicTimeout() int {
	return getEnvInt("MONITOR_PERIODIC_TIMEOUT_SEC", 2)
}

func (svc *environmentService) GetHTTPAddr() string {
	return getEnv("HTTP_ADDR", ":8000")
}

func (svc *environmentService) GetGRPCAddr() string {
	return getEnv("GRPC_ADDR", ":50051")
}

func (svc *environmentService) GetPublicBaseURL() string {
	return getEnv("PUBLIC_BASE_URL", "http://localhost:8000")
}

func (svc *environmentService) GetInputFolder() string {
	return getEnv("INPUT_FOLDER", "./settings")
}

func (svc *environmentService) GetCamerasInputFile() string {
	return fmt.Sprintf("%s/cameras.json", svc.GetInputFolder())
}

func (svc *environmentService) GetHistoryFolder() string {
	return getEnv("HISTORY_FOLDER", "./history")
}

func (svc *environmentService) GetEventsLogFile() string {
	return fmt.Sprintf("%s/events.log", svc.GetHistoryFolder())
}

// GetEventsLogMaxSize is in megabytes
func (svc *environmentService) GetEventsLogMaxSize() int {
	return getEnvInt("EVENTS_LOG_MAX_SIZE_MB", 50)
}

func (svc *environmentService) GetCameraSlots() int {
	return getEnvInt("CAMERA_SLOTS", 4)
}

func (svc *environmentService) GetReconnectInterval() time.Duration {
	return time.Duration(getEnvInt("RECONNECT_INTERVAL_SEC", 5)) * time.Second
}

func (svc *environmentService) GetDeviceReadTimeout() time.Duration {
	return time.Duration(getEnvInt("DEVICE_READ_TIMEOUT_MS", 1000)) * time.Millisecond
}

func (svc *environmentService) GetStreamFPSLimit() int {
	return getEnvInt("STREAM_FPS_LIMIT", 30)
}

func (svc *environmentService) GetModelPath() string {
	return getEnv("MODEL_PATH", "models/best.onnx")
}

func (svc *environmentService) GetLabelsPath() string {
	return getEnv("LABELS_PATH", "models/labels.txt")
}

func (svc *environmentService) GetInferenceBackend() string {
	return getEnv("INFERENCE_BACKEND", "default")
}

func (svc *environmentService) GetDefaultConfidence() float64 {
	return getEnvFloat("DEFAULT_CONFIDENCE", 0.25)
}

func (svc *environmentService) GetDefaultInputSize() int {
	return getEnvInt("DEFAULT_INPUT_SIZE", 640)
}

func getEnv(key string, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if intVal, err := strconv.Atoi(v); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return defaultVal
}
