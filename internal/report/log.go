// Package report captures per-unit execution logs and renders the run
// report: the JSON document, the console summary and progress output.
package report

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/alexisbeaulieu97/autoflow/internal/logger"
)

// Level of an execution log entry.
type Level string

const (
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
)

// Entry is one line of an execution log.
type Entry struct {
	Time     time.Time
	Level    Level
	Message  string
	Location string
}

func (e Entry) String() string {
	loc := ""
	if e.Location != "" {
		loc = " [" + e.Location + "]"
	}
	return fmt.Sprintf("%s %-5s%s %s", e.Time.Format(time.RFC3339Nano), e.Level, loc, e.Message)
}

// ExecutionLog collects the entries of one executable unit. Entries are
// mirrored to the process logger at debug level.
type ExecutionLog struct {
	mu       sync.Mutex
	unit     string
	location string
	entries  []Entry
	logger   *logger.Logger
	now      func() time.Time
}

// NewExecutionLog creates the log of unit.
func NewExecutionLog(unit string, log *logger.Logger) *ExecutionLog {
	return &ExecutionLog{unit: unit, logger: log.WithField("unit", unit), now: time.Now}
}

// Unit names the owning unit.
func (l *ExecutionLog) Unit() string {
	return l.unit
}

// SetLocation records the step location attached to subsequent entries.
func (l *ExecutionLog) SetLocation(location string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.location = location
}

// Info appends an informational entry.
func (l *ExecutionLog) Info(message string) { l.add(LevelInfo, message) }

// Warn appends a warning entry.
func (l *ExecutionLog) Warn(message string) { l.add(LevelWarn, message) }

// Error appends an error entry.
func (l *ExecutionLog) Error(message string) { l.add(LevelError, message) }

func (l *ExecutionLog) add(level Level, message string) {
	l.mu.Lock()
	entry := Entry{Time: l.now(), Level: level, Message: message, Location: l.location}
	l.entries = append(l.entries, entry)
	l.mu.Unlock()

	fields := map[string]any{"level": string(level)}
	if entry.Location != "" {
		fields["location"] = entry.Location
	}
	l.logger.WithFields(fields).Debug(message)
}

// Entries returns a copy of every entry.
func (l *ExecutionLog) Entries() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Entry(nil), l.entries...)
}

// String renders the log one entry per line.
func (l *ExecutionLog) String() string {
	var b strings.Builder
	for _, e := range l.Entries() {
		b.WriteString(e.String())
		b.WriteByte('\n')
	}
	return b.String()
}

var unsafeFileChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// LogFileName maps a unit name to a file name under the logs folder.
func LogFileName(unit string) string {
	name := strings.Trim(unsafeFileChars.ReplaceAllString(unit, "_"), "_")
	if name == "" {
		name = "unit"
	}
	return name + ".log"
}

// Write persists the log under <dir>/logs and returns the path relative to dir.
func (l *ExecutionLog) Write(dir string) (string, error) {
	if dir == "" {
		return "", nil
	}
	rel := filepath.Join("logs", LogFileName(l.unit))
	path := filepath.Join(dir, rel)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("create log folder: %w", err)
	}
	if err := os.WriteFile(path, []byte(l.String()), 0o644); err != nil {
		return "", fmt.Errorf("write execution log: %w", err)
	}
	return rel, nil
}
