package engine

import (
	"bytes"
	"strings"
	"sync"

	"github.com/stwalsh4118/couchcast/internal/logger"
)

// lineLogger forwards player output to the log line by line and remembers the last line
type lineLogger struct {
	stream string
	pid    int

	mu   sync.Mutex
	buf  bytes.Buffer
	last string
}

func newLineLogger(stream string) *lineLogger {
	return &lineLogger{stream: stream}
}

func (w *lineLogger) Write(b []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.buf.Write(b)
	for {
		line, err := w.buf.ReadString('\n')
		if err != nil {
			// Incomplete line, keep it for the next write
			w.buf.Reset()
			w.buf.WriteString(line)
			break
		}
		w.emit(strings.TrimRight(line, "\r\n"))
	}
	return len(b), nil
}

func (w *lineLogger) setPID(pid int) {
	w.mu.Lock()
	w.pid = pid
	w.mu.Unlock()
}

// Last returns the most recent complete or partial line
func (w *lineLogger) Last() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	if rest := strings.TrimSpace(w.buf.String()); rest != "" {
		return rest
	}
	return w.last
}

func (w *lineLogger) emit(line string) {
	if strings.TrimSpace(line) == "" {
		return
	}
	w.last = line

	event := logger.Log.Debug()
	if containsError(line) {
		event = logger.Log.Warn()
	}
	event.
		Int("player_pid", w.pid).
		Str("stream", w.stream).
		Str("output", line).
		Msg("Media player output")
}

// containsError checks if a log line contains error indicators
func containsError(line string) bool {
	lower := strings.ToLower(line)
	for _, keyword := range []string{"error", "failed", "fatal"} {
		if strings.Contains(lower, keyword) {
			return true
		}
	}
	return false
}
