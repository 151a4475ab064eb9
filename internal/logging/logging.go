// Package logging builds the logr.Logger used across kubehop, backed by zap.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/term"
)

// Formats.
const (
	FormatConsole = "console"
	FormatJSON    = "json"
)

// Options configures the logger.
type Options struct {
	// Level is one of error, warn, info, debug or trace. Empty means info.
	Level string
	// Format is console or json. Empty means console.
	Format string
	// Output defaults to stderr.
	Output io.Writer
}

// ParseLevel maps a level name to a zap level. debug enables logr V(1),
// trace enables V(2).
func ParseLevel(s string) (zapcore.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "info":
		return zapcore.InfoLevel, nil
	case "warn", "warning":
		return zapcore.WarnLevel, nil
	case "error":
		return zapcore.ErrorLevel, nil
	case "debug":
		return zapcore.DebugLevel, nil
	case "trace":
		return zapcore.Level(-2), nil
	default:
		return 0, fmt.Errorf("unknown log level %q (use error, warn, info, debug or trace)", s)
	}
}

// New returns a logger and a function that flushes it.
func New(opts Options) (logr.Logger, func(), error) {
	level, err := ParseLevel(opts.Level)
	if err != nil {
		return logr.Discard(), func() {}, err
	}

	out := opts.Output
	if out == nil {
		out = os.Stderr
	}

	var encoder zapcore.Encoder
	switch strings.ToLower(opts.Format) {
	case "", FormatConsole:
		cfg := zap.NewDevelopmentEncoderConfig()
		cfg.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05")
		cfg.CallerKey = ""
		if isTerminal(out) {
			cfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		}
		encoder = zapcore.NewConsoleEncoder(cfg)
	case FormatJSON:
		cfg := zap.NewProductionEncoderConfig()
		cfg.EncodeTime = zapcore.ISO8601TimeEncoder
		encoder = zapcore.NewJSONEncoder(cfg)
	default:
		return logr.Discard(), func() {}, fmt.Errorf("unknown log format %q (use console or json)", opts.Format)
	}

	core := zapcore.NewCore(encoder, zapcore.AddSync(out), zap.NewAtomicLevelAt(level))
	zl := zap.New(core)

	return zapr.NewLogger(zl), func() { _ = zl.Sync() }, nil
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd())) //nolint:gosec // fd fits in int
}
