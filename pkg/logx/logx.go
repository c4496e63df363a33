// Package logx is a small structured-logging façade over zerolog.
//
// Services receive a Logger at construction time; the zero value is a safe
// no-op logger, so tests can pass Logger{} and stay silent.
package logx

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

type Config struct {
	Level   string
	Console bool
	File    FileConfig
}

type FileConfig struct {
	Enabled bool
	Path    string
}

const consoleTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// Field mutates a zerolog event. This mirrors the ergonomics of slog.Attr
// without depending on slog. Fields are applied in order; later keys win.
type Field func(e *zerolog.Event)

func String(k, v string) Field          { return func(e *zerolog.Event) { e.Str(k, v) } }
func Int(k string, v int) Field         { return func(e *zerolog.Event) { e.Int(k, v) } }
func Int64(k string, v int64) Field     { return func(e *zerolog.Event) { e.Int64(k, v) } }
func Uint64(k string, v uint64) Field   { return func(e *zerolog.Event) { e.Uint64(k, v) } }
func Bool(k string, v bool) Field       { return func(e *zerolog.Event) { e.Bool(k, v) } }
func Time(k string, v time.Time) Field  { return func(e *zerolog.Event) { e.Time(k, v) } }
func Any(k string, v any) Field         { return func(e *zerolog.Event) { e.Interface(k, v) } }
func Duration(k string, v time.Duration) Field {
	return func(e *zerolog.Event) { e.Dur(k, v) }
}

func Err(err error) Field {
	return func(e *zerolog.Event) {
		if err != nil {
			e.Err(err)
		}
	}
}

// Service owns the sinks and the current level. Loggers handed out by
// Logger() stay live across SetLevel calls.
type Service struct {
	mu   sync.Mutex
	base zerolog.Logger
	file *os.File
}

func NewService(cfg Config) (*Service, error) {
	lvl, err := parseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}

	var sinks []io.Writer
	if cfg.Console {
		sinks = append(sinks, zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: consoleTimeFormat})
	}

	var file *os.File
	if cfg.File.Enabled {
		path := strings.TrimSpace(cfg.File.Path)
		if path == "" {
			return nil, fmt.Errorf("logging: file sink enabled but path is empty")
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("logging: %w", err)
		}
		file, err = os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("logging: %w", err)
		}
		sinks = append(sinks, file)
	}
	if len(sinks) == 0 {
		sinks = append(sinks, os.Stderr)
	}

	base := zerolog.New(zerolog.MultiLevelWriter(sinks...)).Level(lvl).With().Timestamp().Logger()
	return &Service{base: base, file: file}, nil
}

// SetLevel changes the level for all loggers derived from this service.
func (s *Service) SetLevel(level string) error {
	lvl, err := parseLevel(level)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.base = s.base.Level(lvl)
	s.mu.Unlock()
	return nil
}

func (s *Service) Logger() Logger {
	return Logger{svc: s}
}

func (s *Service) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file != nil {
		err := s.file.Close()
		s.file = nil
		return err
	}
	return nil
}

func (s *Service) current() zerolog.Logger {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.base
}

// Logger is a lightweight handle. Zero value is a no-op.
type Logger struct {
	svc    *Service
	fields []Field
}

func Nop() Logger { return Logger{} }

func (l Logger) IsZero() bool { return l.svc == nil }

// With returns a derived logger with additional fixed fields.
func (l Logger) With(fields ...Field) Logger {
	if l.svc == nil {
		return l
	}
	merged := make([]Field, 0, len(l.fields)+len(fields))
	merged = append(merged, l.fields...)
	merged = append(merged, fields...)
	return Logger{svc: l.svc, fields: merged}
}

func (l Logger) Debug(msg string, fields ...Field) { l.emit(zerolog.DebugLevel, msg, fields) }
func (l Logger) Info(msg string, fields ...Field)  { l.emit(zerolog.InfoLevel, msg, fields) }
func (l Logger) Warn(msg string, fields ...Field)  { l.emit(zerolog.WarnLevel, msg, fields) }
func (l Logger) Error(msg string, fields ...Field) { l.emit(zerolog.ErrorLevel, msg, fields) }

func (l Logger) emit(lvl zerolog.Level, msg string, fields []Field) {
	if l.svc == nil {
		return
	}
	base := l.svc.current()
	e := base.WithLevel(lvl)
	for _, f := range l.fields {
		f(e)
	}
	for _, f := range fields {
		f(e)
	}
	e.Msg(msg)
}

func parseLevel(s string) (zerolog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "info":
		return zerolog.InfoLevel, nil
	case "trace":
		return zerolog.TraceLevel, nil
	case "debug":
		return zerolog.DebugLevel, nil
	case "warn", "warning":
		return zerolog.WarnLevel, nil
	case "error":
		return zerolog.ErrorLevel, nil
	default:
		return zerolog.InfoLevel, fmt.Errorf("logging: unknown level %q", s)
	}
}
