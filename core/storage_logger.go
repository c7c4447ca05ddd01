package core

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/bytedance/sonic"
)

type sessionLoggerKey struct{}

// ContextWithSessionLogger returns a new context carrying the session logger.
func ContextWithSessionLogger(ctx context.Context, logger *Logger) context.Context {
	return context.WithValue(ctx, sessionLoggerKey{}, logger)
}

// SessionLoggerFromContext extracts the session logger from the context, or nil.
func SessionLoggerFromContext(ctx context.Context) *Logger {
	if l, ok := ctx.Value(sessionLoggerKey{}).(*Logger); ok {
		return l
	}
	return nil
}

// SessionMetadata is the first JSON line in each session log file.
type SessionMetadata struct {
	SessionID string   `json:"session_id"`
	TopicID   string   `json:"topic_id"`
	Personas  []string `json:"personas"`
	StartedAt string   `json:"started_at"`
}

// LogEntry is a single JSON log line written after the metadata line.
type LogEntry struct {
	Timestamp string                 `json:"ts"`
	Level     string                 `json:"level"`
	Message   string                 `json:"msg"`
	Attrs     map[string]interface{} `json:"attrs,omitempty"`
}

// NewLogEntry stamps a log line with the current time. Error attributes are
// flattened to their message.
func NewLogEntry(level, msg string, attrs map[string]interface{}) LogEntry {
	return LogEntry{
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Level:     level,
		Message:   msg,
		Attrs:     stringifyErrors(attrs),
	}
}

// LogWriter abstracts the destination for session log entries.
type LogWriter interface {
	Write(level, msg string, attrs map[string]interface{})
	Close()
}

// SessionLogWriter appends log lines and conversation turns to <dir>/<session>.jsonl.
// An <session>.active marker exists while the session is open.
type SessionLogWriter struct {
	mu        sync.Mutex
	file      *os.File
	logDir    string
	sessionID string
}

func NewSessionLogWriter(logDir string, meta SessionMetadata) (*SessionLogWriter, error) {
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, fmt.Errorf("session log: mkdir %q: %w", logDir, err)
	}

	filePath := filepath.Join(logDir, meta.SessionID+".jsonl")
	f, err := os.Create(filePath)
	if err != nil {
		return nil, fmt.Errorf("session log: create %q: %w", filePath, err)
	}

	if meta.StartedAt == "" {
		meta.StartedAt = time.Now().UTC().Format(time.RFC3339)
	}
	data, err := sonic.Marshal(meta)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("session log: encode metadata: %w", err)
	}
	f.Write(append(data, '\n'))

	activePath := filepath.Join(logDir, meta.SessionID+".active")
	if af, err := os.Create(activePath); err == nil {
		af.Close()
	}

	return &SessionLogWriter{
		file:      f,
		logDir:    logDir,
		sessionID: meta.SessionID,
	}, nil
}

// Write appends a structured log line to the session file.
func (w *SessionLogWriter) Write(level, msg string, attrs map[string]interface{}) {
	w.writeLine(NewLogEntry(level, msg, attrs))
}

// WriteEvent appends one conversation turn as a "turn" entry so the file doubles as a transcript.
func (w *SessionLogWriter) WriteEvent(event ConversationEvent) {
	w.writeLine(LogEntry{
		Timestamp: event.CreatedAt.UTC().Format(time.RFC3339Nano),
		Level:     "TURN",
		Message:   event.Text,
		Attrs: map[string]interface{}{
			"turn":            event.TurnIndex,
			"speaker":         event.SpeakerID,
			"triggered":       event.Triggered,
			"intensity_after": event.IntensityAfter,
			"degraded":        event.Degraded,
		},
	})
}

func (w *SessionLogWriter) writeLine(entry LogEntry) {
	data, err := sonic.Marshal(entry)
	if err != nil {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file != nil {
		w.file.Write(append(data, '\n'))
	}
}

// Close closes the log file and removes the .active marker. Safe to call twice.
func (w *SessionLogWriter) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file != nil {
		w.file.Close()
		w.file = nil
	}
	os.Remove(filepath.Join(w.logDir, w.sessionID+".active"))
}

// NewSessionLogger tees every line to the base logger and the writer.
// Child loggers created via With inherit both destinations.
func NewSessionLogger(baseLogger *Logger, writer LogWriter) *Logger {
	handler := func(level string, msg string, attrs map[string]interface{}) {
		if baseLogger != nil && baseLogger.handlerFunc != nil {
			baseLogger.handlerFunc(level, msg, attrs)
		}
		writer.Write(level, msg, attrs)
	}
	l := NewLogger(handler)
	if baseLogger != nil {
		l.level = baseLogger.level
	}
	return l
}
