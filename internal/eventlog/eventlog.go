// Package eventlog persists the control protocol's observable events
// (boot, toggles, heartbeats) to an NDJSON journal. Writes are
// best-effort from the protocol's point of view: a failed write is
// reported but never changes task-state outcomes.
package eventlog

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"log/slog"

	"github.com/google/uuid"
	"github.com/iambrandonn/eswgpio/internal/ndjson"
)

// Kind identifies an event record type.
type Kind string

const (
	KindBoot      Kind = "boot"
	KindToggle    Kind = "toggle"
	KindHeartbeat Kind = "heartbeat"
)

// Record is one journal line.
type Record struct {
	ID      string    `json:"id"`
	Time    time.Time `json:"ts"`
	Kind    Kind      `json:"kind"`
	Task    string    `json:"task,omitempty"`
	State   string    `json:"state,omitempty"`
	Message string    `json:"message,omitempty"`
}

// Log appends records to an NDJSON file.
type Log struct {
	file    *os.File
	encoder *ndjson.Encoder
	logger  *slog.Logger
	mu      sync.Mutex
}

// New opens (or creates) the journal at logPath for appending.
func New(logPath string, logger *slog.Logger) (*Log, error) {
	dir := filepath.Dir(logPath)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	file, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}

	return &Log{
		file:    file,
		encoder: ndjson.NewEncoder(file, logger),
		logger:  logger,
	}, nil
}

// Write appends a record, stamping its ID and timestamp.
func (l *Log) Write(rec Record) error {
	rec.ID = uuid.New().String()
	rec.Time = time.Now().UTC()

	l.mu.Lock()
	defer l.mu.Unlock()
	return l.encoder.Encode(&rec)
}

// WriteBoot records a boot banner.
func (l *Log) WriteBoot(version string) error {
	return l.Write(Record{Kind: KindBoot, Message: version})
}

// WriteToggle records a completed worker-group toggle. Implements the
// control package's EventLogger.
func (l *Log) WriteToggle(state string) error {
	return l.Write(Record{Kind: KindToggle, State: state})
}

// WriteHeartbeat records a heartbeat from the named task.
func (l *Log) WriteHeartbeat(task string) error {
	return l.Write(Record{Kind: KindHeartbeat, Task: task})
}

// Close closes the journal file.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file != nil {
		return l.file.Close()
	}
	return nil
}
