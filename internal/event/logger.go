package event

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Logger appends events to one NDJSON file per day.
type Logger struct {
	logDir string
	mu     sync.Mutex
	now    func() time.Time
}

func NewLogger(logDir string) (*Logger, error) {
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create event log directory: %w", err)
	}
	return &Logger{logDir: logDir, now: time.Now}, nil
}

type logEntry struct {
	*Event
	LoggedAt time.Time `json:"logged_at"`
}

func (l *Logger) Log(_ context.Context, e *Event) error {
	data, err := json.Marshal(logEntry{Event: e, LoggedAt: l.now()})
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	data = append(data, '\n')

	l.mu.Lock()
	defer l.mu.Unlock()
	f, err := os.OpenFile(logFilePath(l.logDir, e.Timestamp), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open event log: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("failed to write event log: %w", err)
	}
	return nil
}

// Attach logs every event published on bus until ctx is done.
func (l *Logger) Attach(ctx context.Context, bus *Bus) {
	bus.Handle(ctx, "event-logger", l.Log)
}

func logFilePath(dir string, ts time.Time) string {
	return filepath.Join(dir, fmt.Sprintf("events_%s.ndjson", ts.Format("2006-01-02")))
}

type Reader struct {
	logDir string
}

func NewReader(logDir string) *Reader {
	return &Reader{logDir: logDir}
}

// ReadDay returns the events logged for date. Lines that do not parse are
// skipped.
func (r *Reader) ReadDay(date time.Time) ([]*Event, error) {
	data, err := os.ReadFile(logFilePath(r.logDir, date))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read event log: %w", err)
	}
	var events []*Event
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		var entry logEntry
		if err := json.Unmarshal(line, &entry); err != nil || entry.Event == nil {
			slog.Warn("skipping unreadable event log line", "file", logFilePath(r.logDir, date), "error", err)
			continue
		}
		events = append(events, entry.Event)
	}
	return events, sc.Err()
}

// ReadRun returns the events of one run logged on date.
func (r *Reader) ReadRun(date time.Time, runID string) ([]*Event, error) {
	all, err := r.ReadDay(date)
	if err != nil {
		return nil, err
	}
	var out []*Event
	for _, e := range all {
		if e.RunID == runID {
			out = append(out, e)
		}
	}
	return out, nil
}
