package observability

import (
	"fmt"
	"log"
	"strconv"
	"strings"
)

// Level orders log severities.
type Level int

const (
	// LevelDebug enables every message.
	LevelDebug Level = iota
	// LevelInfo drops debug messages.
	LevelInfo
	// LevelError keeps only errors.
	LevelError
)

// ParseLevel maps a textual level to a Level, defaulting to LevelInfo.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug", "trace":
		return LevelDebug, nil
	case "", "info":
		return LevelInfo, nil
	case "error", "warn":
		return LevelError, nil
	default:
		return LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "debug"
	case LevelError:
		return "error"
	default:
		return "info"
	}
}

// StdLogger renders structured entries through a standard library logger.
type StdLogger struct {
	out   *log.Logger
	level Level
}

// NewStdLogger wraps out. A nil out falls back to log.Default().
func NewStdLogger(out *log.Logger, level Level) *StdLogger {
	if out == nil {
		out = log.Default()
	}
	return &StdLogger{out: out, level: level}
}

// Debug logs at debug level.
func (l *StdLogger) Debug(msg string, fields ...Field) {
	l.emit(LevelDebug, msg, fields)
}

// Info logs at info level.
func (l *StdLogger) Info(msg string, fields ...Field) {
	l.emit(LevelInfo, msg, fields)
}

// Error logs at error level.
func (l *StdLogger) Error(msg string, fields ...Field) {
	l.emit(LevelError, msg, fields)
}

func (l *StdLogger) emit(level Level, msg string, fields []Field) {
	if level < l.level {
		return
	}
	var b strings.Builder
	b.WriteString(strings.ToUpper(level.String()))
	b.WriteByte(' ')
	b.WriteString(msg)
	for _, f := range fields {
		if f.Key == "" {
			continue
		}
		b.WriteByte(' ')
		b.WriteString(f.Key)
		b.WriteByte('=')
		b.WriteString(formatValue(f.Value))
	}
	l.out.Print(b.String())
}

func formatValue(v any) string {
	switch val := v.(type) {
	case string:
		if val == "" || strings.ContainsAny(val, " \t\"=") {
			return strconv.Quote(val)
		}
		return val
	case error:
		return strconv.Quote(val.Error())
	case fmt.Stringer:
		return formatValue(val.String())
	default:
		return fmt.Sprint(val)
	}
}
