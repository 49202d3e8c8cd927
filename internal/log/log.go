package log

import (
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

type Level string

const (
	LevelDebug Level = "DEBUG"
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
)

var (
	mu         sync.RWMutex
	logger     zerolog.Logger
	loggerOnce sync.Once
)

// initLogger initializes the global logger to write to stderr with timestamps.
func initLogger() {
	loggerOnce.Do(func() {
		mu.Lock()
		logger = newLogger(os.Stderr, false).Level(zerolog.InfoLevel)
		mu.Unlock()
	})
}

func newLogger(w io.Writer, jsonFormat bool) zerolog.Logger {
	if !jsonFormat {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339Nano}
	}
	return zerolog.New(w).With().Timestamp().Logger()
}

// Configure replaces the output and format of the global logger. Format
// "json" emits one JSON object per line; anything else uses the console
// writer.
func Configure(w io.Writer, format string, l Level) {
	initLogger()
	if w == nil {
		w = os.Stderr
	}
	mu.Lock()
	logger = newLogger(w, strings.EqualFold(format, "json")).Level(toZerolog(l))
	mu.Unlock()
}

func SetLevel(l Level) {
	initLogger()
	mu.Lock()
	logger = logger.Level(toZerolog(l))
	mu.Unlock()
}

// ParseLevel maps a config string to a Level. Unknown values map to INFO.
func ParseLevel(s string) Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return LevelDebug
	case "WARN", "WARNING":
		return LevelWarn
	case "ERROR":
		return LevelError
	default:
		return LevelInfo
	}
}

func Debug(msg string, kv ...any) {
	logWithLevel(zerolog.DebugLevel, nil, msg, kv...)
}

func Info(msg string, kv ...any) {
	logWithLevel(zerolog.InfoLevel, nil, msg, kv...)
}

func Warn(msg string, kv ...any) {
	logWithLevel(zerolog.WarnLevel, nil, msg, kv...)
}

func Error(msg string, err error, kv ...any) {
	logWithLevel(zerolog.ErrorLevel, err, msg, kv...)
}

func logWithLevel(level zerolog.Level, err error, msg string, kv ...any) {
	initLogger()
	mu.RLock()
	l := logger
	mu.RUnlock()

	ev := l.WithLevel(level)
	if ev == nil {
		return
	}
	if err != nil {
		ev = ev.Err(err)
	}
	// Expect kv as pairs: key, value, key, value, ...
	// If odd number of args, last one is ignored.
	if n := len(kv) &^ 1; n > 0 {
		ev = ev.Fields(kv[:n])
	}
	ev.Msg(msg)
}

func toZerolog(l Level) zerolog.Level {
	switch l {
	case LevelDebug:
		return zerolog.DebugLevel
	case LevelWarn:
		return zerolog.WarnLevel
	case LevelError:
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}
