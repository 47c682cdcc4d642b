// Package logging builds the loggers handed to the mapper and the CLI.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"kvorm/pkg/orm"
)

// Format selects the log encoding.
type Format string

const (
	FormatText Format = "text" // coloured when writing to a terminal
	FormatJSON Format = "json"
	FormatZap  Format = "zap"
)

// TimeFormat is the timestamp layout of the text format.
const TimeFormat = "15:04:05.000"

// Config describes the logger to build.
type Config struct {
	Format Format `mapstructure:"format"`
	Level  string `mapstructure:"level"`
}

// Logger is an orm.Logger that may hold buffered output.
type Logger interface {
	orm.Logger
	// Sync flushes buffered entries.
	Sync() error
}

// New builds a logger writing to out.
func New(cfg Config, out *os.File) (Logger, error) {
	tty := out != nil && isatty.IsTerminal(out.Fd())
	var w io.Writer = out
	if tty {
		w = colorable.NewColorable(out)
	}
	return build(cfg, w, tty)
}

func build(cfg Config, w io.Writer, color bool) (Logger, error) {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	switch cfg.Format {
	case "", FormatText:
		return slogLogger{slog.New(tint.NewHandler(w, &tint.Options{
			Level:      level,
			TimeFormat: TimeFormat,
			NoColor:    !color,
		}))}, nil
	case FormatJSON:
		return slogLogger{slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))}, nil
	case FormatZap:
		core := zapcore.NewCore(
			zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()),
			zapcore.AddSync(w),
			zapLevel(level),
		)
		return zapLogger{zap.New(core).Sugar()}, nil
	default:
		return nil, fmt.Errorf("unknown log format %q", cfg.Format)
	}
}

// ParseLevel accepts debug, info, warn and error; empty means info.
func ParseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if strings.TrimSpace(s) == "" {
		return slog.LevelInfo, nil
	}
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("invalid log level %q: %w", s, err)
	}
	return l, nil
}

func zapLevel(l slog.Level) zapcore.Level {
	switch {
	case l >= slog.LevelError:
		return zapcore.ErrorLevel
	case l >= slog.LevelWarn:
		return zapcore.WarnLevel
	case l >= slog.LevelInfo:
		return zapcore.InfoLevel
	default:
		return zapcore.DebugLevel
	}
}

type slogLogger struct{ *slog.Logger }

func (slogLogger) Sync() error { return nil }

// zapLogger adapts a sugared zap logger; args are key/value pairs.
type zapLogger struct{ s *zap.SugaredLogger }

func (z zapLogger) Debug(msg string, args ...any) { z.s.Debugw(msg, args...) }
func (z zapLogger) Info(msg string, args ...any)  { z.s.Infow(msg, args...) }
func (z zapLogger) Warn(msg string, args ...any)  { z.s.Warnw(msg, args...) }
func (z zapLogger) Error(msg string, args ...any) { z.s.Errorw(msg, args...) }
func (z zapLogger) Sync() error                   { return z.s.Sync() }
