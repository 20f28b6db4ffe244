// Package logging adapts zerolog to the push.Logger interface.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Formats accepted by New.
const (
	FormatConsole = "console"
	FormatJSON    = "json"
)

// Logger is a push.Logger backed by zerolog. Arguments are key-value pairs
// in the log/slog convention.
type Logger struct {
	zl zerolog.Logger
}

// New builds a logger writing to w at the given level and format.
func New(w io.Writer, level, format string) (*Logger, error) {
	lvl, err := ParseLevel(level)
	if err != nil {
		return nil, err
	}

	if w == nil {
		w = os.Stderr
	}
	switch strings.ToLower(format) {
	case "", FormatConsole:
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	case FormatJSON:
	default:
		return nil, fmt.Errorf("unknown log format %q", format)
	}

	zl := zerolog.New(w).Level(lvl).With().Timestamp().Logger()
	return &Logger{zl: zl}, nil
}

// ParseLevel maps a level name to zerolog; empty means info.
func ParseLevel(level string) (zerolog.Level, error) {
	if strings.TrimSpace(level) == "" {
		return zerolog.InfoLevel, nil
	}
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil {
		return zerolog.NoLevel, fmt.Errorf("unknown log level %q", level)
	}
	return lvl, nil
}

// Zerolog returns the underlying logger.
func (l *Logger) Zerolog() zerolog.Logger { return l.zl }

func (l *Logger) Debug(msg string, args ...any) { l.log(l.zl.Debug(), msg, args) }
func (l *Logger) Info(msg string, args ...any)  { l.log(l.zl.Info(), msg, args) }
func (l *Logger) Warn(msg string, args ...any)  { l.log(l.zl.Warn(), msg, args) }
func (l *Logger) Error(msg string, args ...any) { l.log(l.zl.Error(), msg, args) }

func (l *Logger) log(ev *zerolog.Event, msg string, args []any) {
	if ev == nil {
		return
	}
	for i := 0; i < len(args); i += 2 {
		key, ok := args[i].(string)
		if !ok {
			key = fmt.Sprint(args[i])
		}
		if i+1 == len(args) {
			ev = ev.Interface("!BADKEY", args[i])
			break
		}
		switch v := args[i+1].(type) {
		case error:
			ev = ev.AnErr(key, v)
		case fmt.Stringer:
			ev = ev.Stringer(key, v)
		default:
			ev = ev.Interface(key, v)
		}
	}
	ev.Msg(msg)
}
