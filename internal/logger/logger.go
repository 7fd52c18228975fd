// Package logger provides the process-wide structured logger for majoord.
//
// It wraps log/slog with a colored text handler for terminals and a JSON
// handler for machine consumption. The logger is package-global: every
// subsystem (indexer, watcher, storage engine, HTTP surface) logs through
// the same handler so that output format and level are controlled in one
// place.
package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"sync/atomic"
)

// Level represents log levels.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

// Config holds logger configuration.
type Config struct {
	Level  string // DEBUG, INFO, WARN, ERROR
	Format string // text, json
	Output string // stdout, stderr, or a file path
}

var (
	currentLevel  atomic.Int32
	currentFormat atomic.Value // "text" or "json"

	mu       sync.RWMutex
	handler  slog.Handler
	slogger  *slog.Logger
	output   io.Writer = os.Stdout
	useColor bool      = true
)

func init() {
	currentLevel.Store(int32(LevelInfo))
	currentFormat.Store("text")

	if f, ok := output.(*os.File); ok {
		useColor = isTerminal(f.Fd())
	}

	reconfigure()
}

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

func toSlogLevel(l Level) slog.Level {
	switch l {
	case LevelDebug:
		return slog.LevelDebug
	case LevelInfo:
		return slog.LevelInfo
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// reconfigure rebuilds the slog handler from the current settings.
func reconfigure() {
	mu.Lock()
	defer mu.Unlock()

	level := Level(currentLevel.Load())
	format, _ := currentFormat.Load().(string)

	levelVar := new(slog.LevelVar)
	levelVar.Set(toSlogLevel(level))

	opts := &slog.HandlerOptions{Level: levelVar}

	if format == "json" {
		handler = slog.NewJSONHandler(output, opts)
	} else {
		handler = NewColorTextHandler(output, opts, useColor)
	}

	slogger = slog.New(handler)
}

// Init initializes the logger with the given configuration.
// Output can be "stdout", "stderr", or a file path.
func Init(cfg Config) error {
	if cfg.Output != "" {
		mu.Lock()
		var newOutput io.Writer
		var newUseColor bool

		switch strings.ToLower(cfg.Output) {
		case "stdout":
			newOutput = os.Stdout
			newUseColor = isTerminal(os.Stdout.Fd())
		case "stderr":
			newOutput = os.Stderr
			newUseColor = isTerminal(os.Stderr.Fd())
		default:
			f, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
			if err != nil {
				mu.Unlock()
				return fmt.Errorf("failed to open log file %s: %w", cfg.Output, err)
			}
			newOutput = f
			newUseColor = false
		}
		output = newOutput
		useColor = newUseColor
		mu.Unlock()
	}

	if cfg.Level != "" {
		if err := SetLevel(cfg.Level); err != nil {
			return err
		}
	}
	if cfg.Format != "" {
		if err := SetFormat(cfg.Format); err != nil {
			return err
		}
	}

	reconfigure()
	return nil
}

// SetLevel changes the minimum level at runtime.
func SetLevel(level string) error {
	switch strings.ToUpper(level) {
	case "DEBUG":
		currentLevel.Store(int32(LevelDebug))
	case "INFO":
		currentLevel.Store(int32(LevelInfo))
	case "WARN", "WARNING":
		currentLevel.Store(int32(LevelWarn))
	case "ERROR":
		currentLevel.Store(int32(LevelError))
	default:
		return fmt.Errorf("unknown log level: %s", level)
	}
	reconfigure()
	return nil
}

// SetFormat changes the output format ("text" or "json") at runtime.
func SetFormat(format string) error {
	switch strings.ToLower(format) {
	case "text", "json":
		currentFormat.Store(strings.ToLower(format))
	default:
		return fmt.Errorf("unknown log format: %s", format)
	}
	reconfigure()
	return nil
}

// GetLevel returns the current minimum level.
func GetLevel() Level {
	return Level(currentLevel.Load())
}

func log(ctx context.Context, level slog.Level, msg string, args ...any) {
	mu.RLock()
	l := slogger
	mu.RUnlock()
	l.Log(ctx, level, msg, args...)
}

// Debug logs at DEBUG level with alternating key/value args.
func Debug(msg string, args ...any) {
	log(context.Background(), slog.LevelDebug, msg, args...)
}

// Info logs at INFO level with alternating key/value args.
func Info(msg string, args ...any) {
	log(context.Background(), slog.LevelInfo, msg, args...)
}

// Warn logs at WARN level with alternating key/value args.
func Warn(msg string, args ...any) {
	log(context.Background(), slog.LevelWarn, msg, args...)
}

// Error logs at ERROR level with alternating key/value args.
func Error(msg string, args ...any) {
	log(context.Background(), slog.LevelError, msg, args...)
}

// With returns a slog.Logger that carries the given attributes on every
// record. Long-lived components (watcher, enrichment workers) use this to
// tag their output.
func With(args ...any) *slog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return slogger.With(args...)
}
