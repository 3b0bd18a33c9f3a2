package events

import (
	"github.com/khaledhikmat/vs-inspect/model"
)

type IService interface {
	// Broadcast never fails: delivery, persistence and echo failures are logged and swallowed
	Broadcast(title, message string, severity model.Severity, attachment string)
	// Subscribe registers an observer. Entries are dropped for observers whose buffer is full.
	Subscribe(buffer int) (<-chan model.LogEntry, func())
	// Recent returns up to n of the most recent persisted entries, newest first
	Recent(n int) ([]model.LogEntry, error)
	Close() error
}
