package logger

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// RunLog appends timestamped lines to a log artifact inside a run directory.
// The file is part of the run's audit trail and is registered under
// artifacts.logs before the run is checksummed.
type RunLog struct {
	mu   sync.Mutex
	f    *os.File
	name string
}

// OpenRunLog opens (or creates) the named log file under dir.
func OpenRunLog(dir, name string) (*RunLog, error) {
	f, err := os.OpenFile(filepath.Join(dir, name), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open run log: %w", err)
	}
	return &RunLog{f: f, name: name}, nil
}

// Name returns the file name relative to the run directory.
func (r *RunLog) Name() string { return r.name }

// Line appends one timestamped line.
func (r *RunLog) Line(msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ts := time.Now().UTC().Truncate(time.Second).Format("2006-01-02T15:04:05Z")
	fmt.Fprintf(r.f, "[%s] %s\n", ts, msg)
}

// Linef appends one formatted timestamped line.
func (r *RunLog) Linef(format string, args ...interface{}) {
	r.Line(fmt.Sprintf(format, args...))
}

// Close flushes and closes the log file.
func (r *RunLog) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.f.Sync(); err != nil {
		_ = r.f.Close()
		return err
	}
	return r.f.Close()
}
