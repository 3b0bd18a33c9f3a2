package events

import (
	"bufio"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/khaledhikmat/vs-inspect/model"
	"github.com/khaledhikmat/vs-inspect/service/config"
	"github.com/khaledhikmat/vs-inspect/service/lgr"
	"github.com/natefinch/lumberjack"
	"github.com/mdobak/go-xerrors"
)

const defaultRecent = 50

type broadcaster struct {
	path string
	now  func() time.Time

	mu          sync.RWMutex
	subscribers map[chan model.LogEntry]struct{}

	// Appends are serialized so lines never interleave
	logMu sync.Mutex
	log   io.WriteCloser
}

// NewBroadcaster appends to the configured events log, rotated by size
func NewBroadcaster(cfgSvc config.IService) IService {
	path := cfgSvc.GetEventsLogFile()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		lgr.Logger.Error("unable to create events log folder", slog.String("path", path), slog.Any("error", err))
	}

	return newBroadcaster(path, &lumberjack.Logger{
		Filename:   path,
		MaxSize:    cfgSvc.GetEventsLogMaxSize(), // MB
		MaxBackups: 3,
		MaxAge:     30, // days
	})
}

func newBroadcaster(path string, w io.WriteCloser) *broadcaster {
	return &broadcaster{
		path:        path,
		now:         time.Now,
		subscribers: map[chan model.LogEntry]struct{}{},
		log:         w,
	}
}

func (b *broadcaster) Broadcast(title, message string, severity model.Severity, attachment string) {
	entry := model.LogEntry{
		Time:       b.now().Format("15:04:05"),
		Severity:   model.ParseSeverity(string(severity)),
		Title:      titleField(title),
		Message:    messageField(message),
		Attachment: sanitize(attachment),
	}

	guard := func(step string, fn func()) {
		defer func() {
			if r := recover(); r != nil {
				lgr.Logger.Error("event broadcast step panicked", slog.String("step", step), slog.Any("panic", r))
			}
		}()
		fn()
	}

	guard("notify", func() { b.notify(entry) })
	guard("append", func() {
		if err := b.append(entry); err != nil {
			lgr.Logger.Error("unable to append event", slog.String("path", b.path), slog.Any("error", err))
		}
	})
	guard("echo", func() {
		lgr.Logger.Info(
			"event",
			slog.String("severity", string(entry.Severity)),
			slog.String("title", entry.Title),
			slog.String("message", entry.Message),
			slog.String("attachment", entry.Attachment),
		)
	})
}

func (b *broadcaster) notify(entry model.LogEntry) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for ch := range b.subscribers {
		select {
		case ch <- entry:
		default:
			// Slow observer, drop
		}
	}
}

func (b *broadcaster) append(entry model.LogEntry) error {
	b.logMu.Lock()
	defer b.logMu.Unlock()

	if b.log == nil {
		return xerrors.New("events log closed")
	}
	if _, err := io.WriteString(b.log, FormatLine(entry)+"\n"); err != nil {
		return xerrors.New("appending to events log", err)
	}
	return nil
}

func (b *broadcaster) Subscribe(buffer int) (<-chan model.LogEntry, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan model.LogEntry, buffer)

	b.mu.Lock()
	b.subscribers[ch] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subscribers, ch)
			b.mu.Unlock()
			close(ch)
		})
	}
	return ch, unsubscribe
}

func (b *broadcaster) Recent(n int) ([]model.LogEntry, error) {
	if n <= 0 {
		n = defaultRecent
	}

	f, err := os.Open(b.path)
	if errors.Is(err, os.ErrNotExist) {
		return []model.LogEntry{}, nil
	}
	if err != nil {
		return nil, xerrors.New("opening events log", err)
	}
	defer f.Close()

	// Keep only the last n lines
	tail := make([]string, 0, n)
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		if len(tail) == n {
			tail = tail[1:]
		}
		tail = append(tail, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, xerrors.New("reading events log", err)
	}

	entries := make([]model.LogEntry, 0, len(tail))
	for _, line := range tail {
		if entry, ok := ParseLine(line); ok {
			entries = append(entries, entry)
		}
	}
	slices.Reverse(entries)
	return entries, nil
}

func (b *broadcaster) Close() error {
	b.logMu.Lock()
	defer b.logMu.Unlock()

	if b.log == nil {
		return nil
	}
	err := b.log.Close()
	b.log = nil
	return err
}
