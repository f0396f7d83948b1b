package logging

import (
	"encoding/json"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Level represents the logging verbosity level
type Level int

const (
	// LevelNormal shows INFO and above (default)
	LevelNormal Level = 0
	// LevelVerbose shows DEBUG and above (-v)
	LevelVerbose Level = 1
	// LevelTrace shows DEBUG and above plus HTTP headers (-vv)
	LevelTrace Level = 2
)

// Format selects the log line encoding
type Format string

const (
	// FormatConsole writes human readable lines (default)
	FormatConsole Format = "console"
	// FormatJSON writes one JSON object per line, for log shippers
	FormatJSON Format = "json"
)

var currentLevel Level

// Logger is the global zerolog logger instance
var Logger zerolog.Logger

// Setup initializes zerolog writing to stderr.
// The level parameter controls verbosity:
//   - 0: INFO and above (default)
//   - 1: DEBUG and above (-v)
//   - 2+: DEBUG and above with HTTP headers (-vv)
func Setup(level Level, format Format) {
	SetupWithWriter(level, format, os.Stderr)
}

// SetupWithWriter is Setup with an explicit destination
func SetupWithWriter(level Level, format Format, out io.Writer) {
	currentLevel = level

	zerologLevel := zerolog.InfoLevel
	if level >= LevelVerbose {
		zerologLevel = zerolog.DebugLevel
	}

	if format != FormatJSON {
		out = zerolog.ConsoleWriter{
			Out:        out,
			TimeFormat: time.RFC3339,
		}
	}

	Logger = zerolog.New(out).
		Level(zerologLevel).
		With().
		Timestamp().
		Logger()
}

// GetLevel returns the current logging level
func GetLevel() Level {
	return currentLevel
}

// IsVerbose returns true if verbose/debug logging is enabled
func IsVerbose() bool {
	return currentLevel >= LevelVerbose
}

// IsTraceEnabled returns true if trace-level logging (HTTP headers) is enabled
func IsTraceEnabled() bool {
	return currentLevel >= LevelTrace
}

// ToJSON converts any value to JSON string for debug logging
func ToJSON(v any) string {
	if v == nil {
		return "null"
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "<marshal error>"
	}
	s := string(b)
	if len(s) > 2000 {
		return s[:2000] + "...(truncated)"
	}
	return s
}

// secretKeys are field names whose values never reach the log output
var secretKeys = map[string]bool{
	"access_token":  true,
	"refresh_token": true,
	"client_secret": true,
	"code":          true,
}

// fields turns key-value pairs into zerolog fields with OAuth secrets masked
func fields(keysAndValues []interface{}) []interface{} {
	copied := false
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		k, ok := keysAndValues[i].(string)
		if !ok || !secretKeys[strings.ToLower(k)] {
			continue
		}
		if !copied {
			keysAndValues = append([]interface{}(nil), keysAndValues...)
			copied = true
		}
		keysAndValues[i+1] = "[REDACTED]"
	}
	return keysAndValues
}

// LeveledLogger adapts the package logger for retryablehttp
type LeveledLogger struct{}

func (l *LeveledLogger) Error(msg string, keysAndValues ...interface{}) {
	Error(msg, keysAndValues...)
}

func (l *LeveledLogger) Info(msg string, keysAndValues ...interface{}) {
	Info(msg, keysAndValues...)
}

// retryablehttp logs every request at debug; keep those at trace verbosity only.
func (l *LeveledLogger) Debug(msg string, keysAndValues ...interface{}) {
	if !IsTraceEnabled() {
		return
	}
	Debug(msg, keysAndValues...)
}

func (l *LeveledLogger) Warn(msg string, keysAndValues ...interface{}) {
	Warn(msg, keysAndValues...)
}

// Info logs at info level with key-value pairs
func Info(msg string, keysAndValues ...interface{}) {
	Logger.Info().Fields(fields(keysAndValues)).Msg(msg)
}

func Debug(msg string, keysAndValues ...interface{}) {
	Logger.Debug().Fields(fields(keysAndValues)).Msg(msg)
}

func Warn(msg string, keysAndValues ...interface{}) {
	Logger.Warn().Fields(fields(keysAndValues)).Msg(msg)
}

// Error logs at error level with key-value pairs
func Error(msg string, keysAndValues ...interface{}) {
	Logger.Error().Fields(fields(keysAndValues)).Msg(msg)
}
