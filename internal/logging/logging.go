package logging

import (
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/thediveo/enumflag/v2"
)

type Level enumflag.Flag

const (
	Debug Level = iota
	Info
	Warn
	Error
)

// LevelIDs maps the log levels to their command line names.
var LevelIDs = map[Level][]string{
	Debug: {"debug"},
	Info:  {"info"},
	Warn:  {"warn"},
	Error: {"error"},
}

func (l Level) zerolog() zerolog.Level {
	switch l {
	case Debug:
		return zerolog.DebugLevel
	case Warn:
		return zerolog.WarnLevel
	case Error:
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

type Config struct {
	Level  Level
	Output io.Writer // defaults to stderr
	JSON   bool
}

// Logger is a leveled logger with printf style helpers. A nil *Logger
// discards everything, so components can be constructed without one.
type Logger struct {
	log zerolog.Logger
}

func NewLogger(c Config) *Logger {
	out := c.Output
	if out == nil {
		out = os.Stderr
	}
	if !c.JSON {
		out = zerolog.ConsoleWriter{Out: out, NoColor: true, TimeFormat: "15:04:05"}
	}

	return &Logger{log: zerolog.New(out).Level(c.Level.zerolog()).With().Timestamp().Logger()}
}

// NewNop returns a Logger that discards all output.
func NewNop() *Logger {
	return &Logger{log: zerolog.Nop()}
}

// With returns a child logger carrying an extra string field on every line.
func (l *Logger) With(key, value string) *Logger {
	if l == nil {
		return nil
	}
	return &Logger{log: l.log.With().Str(key, value).Logger()}
}

// Zerolog exposes the underlying logger for adapters (e.g. the SQL logger).
func (l *Logger) Zerolog() zerolog.Logger {
	if l == nil {
		return zerolog.Nop()
	}
	return l.log
}

func (l *Logger) Debugf(f string, args ...any) {
	if l == nil {
		return
	}
	l.log.Debug().Msg(fmt.Sprintf(f, args...))
}

func (l *Logger) Infof(f string, args ...any) {
	if l == nil {
		return
	}
	l.log.Info().Msg(fmt.Sprintf(f, args...))
}

func (l *Logger) Warnf(f string, args ...any) {
	if l == nil {
		return
	}
	l.log.Warn().Msg(fmt.Sprintf(f, args...))
}

func (l *Logger) Errorf(f string, args ...any) {
	if l == nil {
		return
	}
	l.log.Error().Msg(fmt.Sprintf(f, args...))
}
