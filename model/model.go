package model

import (
	"fmt"
	"runtime/debug"
	"strings"

	"github.com/mdobak/go-xerrors"
)

type CustomError struct {
	Processor  string                 `json:"processor"`
	Inner      error                  `json:"innerError"`
	Message    string                 `json:"message"`
	StackTrace string                 `json:"stackTrace"`
	Misc       map[string]interface{} `json:"misc"`
}

func (e CustomError) Error() string {
	if e.Inner == nil {
		return fmt.Sprintf("%s: %s", e.Processor, e.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.Processor, e.Message, e.Inner)
}

func (e CustomError) Unwrap() error {
	return e.Inner
}

func GenError(proc string, err error, misc map[string]interface{}, messagef string, args ...interface{}) CustomError {
	// Inner errors carry a stack trace so structured logs can expand it
	if err != nil && len(xerrors.StackTrace(err)) == 0 {
		err = xerrors.WithStackTrace(err, 1)
	}
	return CustomError{
		Processor:  proc,
		Inner:      err,
		Message:    fmt.Sprintf(messagef, args...),
		StackTrace: string(debug.Stack()),
		Misc:       misc,
	}
}

// Source kinds a camera slot can be configured with
const (
	SourceKindCapture = "capture"
	SourceKindHik     = "hik"
)

// Camera describes what a registry slot should open at startup.
// Source is a device index ("0"), an RTSP/HTTP url or a file for capture sources.
// Index is the enumeration index for hik sources.
type Camera struct {
	ID     int    `json:"id"`
	Name   string `json:"name"`
	Kind   string `json:"kind"`
	Source string `json:"source"`
	Index  int    `json:"index"`
}

type SlotStatus struct {
	ID        int    `json:"id"`
	Connected bool   `json:"connected"`
	Index     int    `json:"index"`
	Kind      string `json:"kind"`
	Source    string `json:"source"`
}

// Detection bbox is [cx, cy, w, h] in pixels of the original image
type Detection struct {
	ClassID    int        `json:"class"`
	Label      string     `json:"label,omitempty"`
	Confidence float32    `json:"conf"`
	BBox       [4]float32 `json:"bbox"`
}

type Settings struct {
	Confidence float64 `json:"confidence"`
	InputSize  int     `json:"inputSize"`
}

// SettingsUpdate carries optional fields; nil means keep the current value
type SettingsUpdate struct {
	Confidence *float64 `json:"confidence"`
	InputSize  *int     `json:"inputSize"`
}

type Severity string

const (
	SeverityInfo   Severity = "info"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// ParseSeverity folds anything unknown into info
func ParseSeverity(s string) Severity {
	switch Severity(strings.ToLower(strings.TrimSpace(s))) {
	case SeverityMedium:
		return SeverityMedium
	case SeverityHigh:
		return SeverityHigh
	default:
		return SeverityInfo
	}
}

type LogEntry struct {
	Time       string   `json:"time"`
	Severity   Severity `json:"severity"`
	Title      string   `json:"title"`
	Message    string   `json:"message"`
	Attachment string   `json:"attachment,omitempty"`
}

type StreamerStats struct {
	Name        string  `json:"name"`
	Session     string  `json:"session"`
	Camera      int     `json:"camera"`
	FPS         float64 `json:"fps"`
	Frames      int     `json:"frames"`
	Synthetic   int     `json:"synthetic"`
	Errors      int     `json:"errors"`
	Uptime      int64   `json:"uptime"`
	AvgProcTime float64 `json:"avgProcTime"`
	Timestamp   int64   `json:"timestamp"`
}
