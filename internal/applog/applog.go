// Package applog writes one-line key=value events to ragex.log in the data
// directory. The TUI owns the terminal, so this is the only diagnostic output.
package applog

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

const (
	fileName    = "ragex.log"
	maxFileSize = 5 << 20 // 5 MB
	maxValueLen = 200
	truncSuffix = "…"
)

type logger struct {
	mu   sync.Mutex
	file *os.File
	path string
	now  func() time.Time
}

var std = &logger{now: time.Now}

// Init opens the log for appending, rotating it to ragex.log.1 once it
// exceeds 5 MB. Logging is a no-op until Init succeeds.
func Init(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create log dir: %w", err)
	}
	path := filepath.Join(dir, fileName)
	if info, err := os.Stat(path); err == nil && info.Size() > maxFileSize {
		os.Rename(path, path+".1")
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open log: %w", err)
	}

	std.mu.Lock()
	if std.file != nil {
		std.file.Close()
	}
	std.file = f
	std.path = path
	std.mu.Unlock()
	return nil
}

// Path returns the active log file, or "" before Init.
func Path() string {
	std.mu.Lock()
	defer std.mu.Unlock()
	return std.path
}

// Close closes the log file.
func Close() {
	std.mu.Lock()
	defer std.mu.Unlock()
	if std.file != nil {
		std.file.Close()
		std.file = nil
	}
}

// Info logs an event.
//
//	applog.Info("session.created", "id", id)
func Info(event string, kv ...any) {
	std.write("INFO", event, nil, kv)
}

// Warn logs an event that did not stop the operation.
func Warn(event string, kv ...any) {
	std.write("WARN", event, nil, kv)
}

// Error logs an event with its error.
//
//	applog.Error("store.save", err, "sessions", 3)
func Error(event string, err error, kv ...any) {
	std.write("ERROR", event, err, kv)
}

func (l *logger) write(level, event string, err error, kv []any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return
	}
	l.file.WriteString(format(l.now(), level, event, err, kv))
}

func format(ts time.Time, level, event string, err error, kv []any) string {
	var b strings.Builder
	b.WriteString(ts.UTC().Format("2006-01-02T15:04:05.000Z"))
	fmt.Fprintf(&b, " %s %s", level, event)
	if err != nil {
		b.WriteString(" err=" + quote(err.Error()))
	}
	for i := 0; i+1 < len(kv); i += 2 {
		fmt.Fprintf(&b, " %v=%s", kv[i], quote(fmt.Sprint(kv[i+1])))
	}
	if len(kv)%2 == 1 {
		fmt.Fprintf(&b, " %v=", kv[len(kv)-1])
	}
	b.WriteByte('\n')
	return b.String()
}

func quote(s string) string {
	if r := []rune(s); len(r) > maxValueLen {
		s = string(r[:maxValueLen]) + truncSuffix
	}
	if s == "" || strings.ContainsAny(s, " \t\n\"=") {
		return "\"" + strings.ReplaceAll(s, "\"", "\\\"") + "\""
	}
	return s
}
