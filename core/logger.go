package core

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bytedance/sonic"
)

var (
	loggerMu       sync.RWMutex
	loggerInstance = NewDevelopmentLogger(os.Stdout)
)

// SetLogger replaces the process-wide logger returned by GetLogger.
func SetLogger(logger *Logger) {
	if logger == nil {
		return
	}
	loggerMu.Lock()
	loggerInstance = logger
	loggerMu.Unlock()
}

// GetLogger returns the process-wide logger.
func GetLogger() *Logger {
	loggerMu.RLock()
	defer loggerMu.RUnlock()
	return loggerInstance
}

// LogLevel orders log severities; messages below a logger's level are dropped.
type LogLevel int

const (
	LevelTrace LogLevel = iota
	LevelDebug
	LevelInfo
	LevelWarn
	LevelError
)

var levelNames = map[LogLevel]string{
	LevelTrace: "TRACE",
	LevelDebug: "DEBUG",
	LevelInfo:  "INFO",
	LevelWarn:  "WARN",
	LevelError: "ERROR",
}

func (l LogLevel) String() string {
	if name, ok := levelNames[l]; ok {
		return name
	}
	return "INFO"
}

// ParseLogLevel maps names such as "debug" or "WARN" to a LogLevel.
// Unknown names resolve to LevelInfo.
func ParseLogLevel(name string) LogLevel {
	for level, n := range levelNames {
		if strings.EqualFold(n, name) {
			return level
		}
	}
	return LevelInfo
}

// HandlerFunc receives every log line that passes the level filter.
type HandlerFunc func(level string, msg string, attrs map[string]interface{})

type Logger struct {
	handlerFunc HandlerFunc
	attrs       map[string]interface{}
	level       LogLevel
}

func NewLogger(handler HandlerFunc) *Logger {
	return &Logger{
		handlerFunc: handler,
		attrs:       make(map[string]interface{}),
		level:       LevelDebug,
	}
}

// NewDevelopmentLogger writes human readable lines with attributes sorted by key.
func NewDevelopmentLogger(w io.Writer) *Logger {
	var mu sync.Mutex
	return NewLogger(func(level string, msg string, attrs map[string]interface{}) {
		var b strings.Builder
		b.WriteString(time.Now().Format(time.RFC3339))
		b.WriteString(" [")
		b.WriteString(level)
		b.WriteString("] ")
		b.WriteString(msg)
		if len(attrs) > 0 {
			b.WriteString(" |")
			for _, k := range sortedKeys(attrs) {
				fmt.Fprintf(&b, " %s=%v", k, attrs[k])
			}
		}
		b.WriteByte('\n')
		mu.Lock()
		io.WriteString(w, b.String())
		mu.Unlock()
	})
}

// NewJSONLogger writes one JSON object per line: ts, level, msg and attrs.
func NewJSONLogger(w io.Writer) *Logger {
	var mu sync.Mutex
	return NewLogger(func(level string, msg string, attrs map[string]interface{}) {
		data, err := sonic.Marshal(NewLogEntry(level, msg, attrs))
		if err != nil {
			return
		}
		mu.Lock()
		w.Write(append(data, '\n'))
		mu.Unlock()
	})
}

// NewNopLogger discards everything. Handy in tests.
func NewNopLogger() *Logger {
	return NewLogger(nil)
}

func sortedKeys(attrs map[string]interface{}) []string {
	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// stringifyErrors turns error values into strings so they survive JSON encoding.
func stringifyErrors(attrs map[string]interface{}) map[string]interface{} {
	if len(attrs) == 0 {
		return nil
	}
	out := make(map[string]interface{}, len(attrs))
	for k, v := range attrs {
		if err, ok := v.(error); ok {
			out[k] = err.Error()
			continue
		}
		out[k] = v
	}
	return out
}

func (l *Logger) log(level LogLevel, msg string, args ...interface{}) {
	if l == nil || l.handlerFunc == nil || level < l.level {
		return
	}
	if len(args) > 0 {
		// slog-style key-value pairs extend the attributes, anything else is a format.
		if isKeyValuePairs(args) {
			attrs := make(map[string]interface{}, len(l.attrs)+len(args)/2)
			for k, v := range l.attrs {
				attrs[k] = v
			}
			for i := 0; i < len(args)-1; i += 2 {
				key, _ := args[i].(string)
				attrs[key] = args[i+1]
			}
			l.handlerFunc(level.String(), msg, attrs)
			return
		}
		msg = fmt.Sprintf(msg, args...)
	}
	l.handlerFunc(level.String(), msg, l.attrs)
}

func (l *Logger) logf(level LogLevel, format string, args ...interface{}) {
	if l == nil || l.handlerFunc == nil || level < l.level {
		return
	}
	l.handlerFunc(level.String(), fmt.Sprintf(format, args...), l.attrs)
}

// isKeyValuePairs reports whether args is an even list whose keys are all strings.
func isKeyValuePairs(args []interface{}) bool {
	if len(args)%2 != 0 {
		return false
	}
	for i := 0; i < len(args); i += 2 {
		if _, ok := args[i].(string); !ok {
			return false
		}
	}
	return true
}

func (l *Logger) Trace(msg string, args ...interface{}) { l.log(LevelTrace, msg, args...) }

func (l *Logger) Tracef(format string, args ...interface{}) { l.logf(LevelTrace, format, args...) }

func (l *Logger) Debug(msg string, args ...interface{}) { l.log(LevelDebug, msg, args...) }

func (l *Logger) Debugf(format string, args ...interface{}) { l.logf(LevelDebug, format, args...) }

func (l *Logger) Info(msg string, args ...interface{}) { l.log(LevelInfo, msg, args...) }

func (l *Logger) Infof(format string, args ...interface{}) { l.logf(LevelInfo, format, args...) }

func (l *Logger) Warn(msg string, args ...interface{}) { l.log(LevelWarn, msg, args...) }

func (l *Logger) Warnf(format string, args ...interface{}) { l.logf(LevelWarn, format, args...) }

func (l *Logger) Error(msg string, args ...interface{}) { l.log(LevelError, msg, args...) }

func (l *Logger) Errorf(format string, args ...interface{}) { l.logf(LevelError, format, args...) }

// WithLevel returns a copy of the logger that drops messages below level.
func (l *Logger) WithLevel(level LogLevel) *Logger {
	return &Logger{
		handlerFunc: l.handlerFunc,
		attrs:       l.attrs,
		level:       level,
	}
}

// With returns a child logger carrying the union of both attribute sets.
func (l *Logger) With(attrs map[string]interface{}) *Logger {
	combinedAttrs := make(map[string]interface{}, len(l.attrs)+len(attrs))
	for k, v := range l.attrs {
		combinedAttrs[k] = v
	}
	for k, v := range attrs {
		combinedAttrs[k] = v
	}
	return &Logger{
		handlerFunc: l.handlerFunc,
		attrs:       combinedAttrs,
		level:       l.level,
	}
}
