// Package logger provides vnts's structured logging: a slog-based API with
// a colorized text handler for terminals and JSON for files, adapted from
// the handler this codebase's transport layer was grounded on.
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

	"github.com/c2h5oh/datasize"
	"golang.org/x/term"
)

// Level mirrors slog's levels with a small public enum for Config parsing.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

// DefaultRotationSize is the size threshold at which the active log file
// is rotated out and a fresh one opened in its place, expressed with a
// byte-size type rather than a bare integer.
const DefaultRotationSize = 10 * datasize.MB

// Config configures the package-level logger.
type Config struct {
	Level string // DEBUG, INFO, WARN, ERROR
	// Format is "text" or "json".
	Format string
	// Output is "stdout", "stderr", a log directory path (rolling files
	// are written and rotated inside it), or "/dev/null" to disable file
	// logging entirely, matching the original --log-path contract.
	Output string
}

var (
	currentLevel  atomic.Int32
	currentFormat atomic.Value

	mu       sync.RWMutex
	handler  slog.Handler
	slogger  *slog.Logger
	output   io.Writer = os.Stdout
	useColor           = true
)

func init() {
	currentLevel.Store(int32(LevelInfo))
	currentFormat.Store("text")
	if f, ok := output.(*os.File); ok {
		useColor = term.IsTerminal(int(f.Fd()))
	}
	reconfigure()
}

func toSlogLevel(l Level) slog.Level {
	switch l {
	case LevelDebug:
		return slog.LevelDebug
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

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

// Init configures the package-level logger. Output "/dev/null" disables
// file output by discarding writes, matching the CLI's documented
// behavior.
func Init(cfg Config) error {
	if cfg.Output != "" {
		mu.Lock()
		var newOutput io.Writer
		var newUseColor bool

		switch strings.ToLower(cfg.Output) {
		case "stdout":
			newOutput, newUseColor = os.Stdout, term.IsTerminal(int(os.Stdout.Fd()))
		case "stderr":
			newOutput, newUseColor = os.Stderr, term.IsTerminal(int(os.Stderr.Fd()))
		case "/dev/null":
			newOutput, newUseColor = io.Discard, false
		default:
			rw, err := newRotatingWriter(cfg.Output, DefaultRotationSize)
			if err != nil {
				mu.Unlock()
				return fmt.Errorf("opening log output %q: %w", cfg.Output, err)
			}
			newOutput, newUseColor = rw, false
		}
		output, useColor = newOutput, newUseColor
		mu.Unlock()
	}

	if cfg.Level != "" {
		SetLevel(cfg.Level)
	}
	if cfg.Format != "" {
		SetFormat(cfg.Format)
	}
	return nil
}

// InitWithWriter is a test helper that installs an explicit writer.
func InitWithWriter(w io.Writer, level, format string, enableColor bool) {
	mu.Lock()
	output, useColor = w, enableColor
	mu.Unlock()

	if level != "" {
		SetLevel(level)
	}
	if format != "" {
		SetFormat(format)
	}
}

// SetLevel changes the minimum log level; invalid values are ignored.
func SetLevel(level string) {
	switch strings.ToUpper(level) {
	case "DEBUG":
		currentLevel.Store(int32(LevelDebug))
	case "INFO":
		currentLevel.Store(int32(LevelInfo))
	case "WARN":
		currentLevel.Store(int32(LevelWarn))
	case "ERROR":
		currentLevel.Store(int32(LevelError))
	default:
		return
	}
	reconfigure()
}

// SetFormat changes the output format ("text" or "json"); invalid values
// are ignored.
func SetFormat(format string) {
	format = strings.ToLower(format)
	if format != "text" && format != "json" {
		return
	}
	currentFormat.Store(format)
	reconfigure()
}

func getLogger() *slog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return slogger
}

func Debug(msg string, args ...any) {
	if LevelDebug < Level(currentLevel.Load()) {
		return
	}
	getLogger().Debug(msg, args...)
}

func Info(msg string, args ...any) {
	if LevelInfo < Level(currentLevel.Load()) {
		return
	}
	getLogger().Info(msg, args...)
}

func Warn(msg string, args ...any) {
	if LevelWarn < Level(currentLevel.Load()) {
		return
	}
	getLogger().Warn(msg, args...)
}

func Error(msg string, args ...any) {
	getLogger().Error(msg, args...)
}

// DebugCtx/InfoCtx/WarnCtx/ErrorCtx inject the packet/request correlation
// fields carried on ctx ahead of the explicit args.
func DebugCtx(ctx context.Context, msg string, args ...any) {
	if LevelDebug < Level(currentLevel.Load()) {
		return
	}
	getLogger().Debug(msg, withContext(ctx, args)...)
}

func InfoCtx(ctx context.Context, msg string, args ...any) {
	if LevelInfo < Level(currentLevel.Load()) {
		return
	}
	getLogger().Info(msg, withContext(ctx, args)...)
}

func WarnCtx(ctx context.Context, msg string, args ...any) {
	if LevelWarn < Level(currentLevel.Load()) {
		return
	}
	getLogger().Warn(msg, withContext(ctx, args)...)
}

func ErrorCtx(ctx context.Context, msg string, args ...any) {
	getLogger().Error(msg, withContext(ctx, args)...)
}

func withContext(ctx context.Context, args []any) []any {
	pc := FromContext(ctx)
	if pc == nil {
		return args
	}
	out := make([]any, 0, 10+len(args))
	out = pc.appendTo(out)
	return append(out, args...)
}

// With returns a *slog.Logger pre-bound with the given attributes.
func With(args ...any) *slog.Logger {
	return getLogger().With(args...)
}
