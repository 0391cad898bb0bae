package eventlog

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/DigitumDei/Actuarius/internal/core"
	"github.com/DigitumDei/Actuarius/internal/engine"
)

// EventLog appends one JSON object per line.
type EventLog struct {
	mu   sync.Mutex
	file *os.File
	now  func() time.Time
}

func New(path string) (*EventLog, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create event log dir: %w", err)
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open event log: %w", err)
	}

	return &EventLog{file: file, now: time.Now}, nil
}

// Open returns a no-op logger when path is empty.
func Open(path string) (core.EventLogger, func() error, error) {
	if path == "" {
		return core.NopEventLogger{}, func() error { return nil }, nil
	}
	l, err := New(path)
	if err != nil {
		return nil, nil, err
	}
	return l, l.Close, nil
}

func (l *EventLog) Emit(event core.Event) error {
	payload := struct {
		TS string `json:"ts"`
		core.Event
	}{
		TS:    l.now().UTC().Format(time.RFC3339Nano),
		Event: event,
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	_, err = l.file.Write(append(data, '\n'))
	return err
}

func (l *EventLog) Close() error {
	if l == nil || l.file == nil {
		return nil
	}
	return l.file.Close()
}

// QueueObserver records queue transitions as queue_<type> events.
func QueueObserver(logger core.EventLogger, runID string) func(engine.QueueEvent) {
	return func(ev engine.QueueEvent) {
		_ = logger.Emit(core.Event{
			RunID:     runID,
			Level:     "debug",
			EventType: "queue_" + string(ev.Type),
			GuildID:   ev.Key,
			Payload: map[string]int{
				"running": ev.Running,
				"pending": ev.Pending,
			},
		})
	}
}
