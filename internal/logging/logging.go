// Package logging provides centralized logging configuration for devlink.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	// globalLogger is the process-wide logger
	globalLogger *slog.Logger
	globalMu     sync.RWMutex

	// logWriter holds the rotating log file writer (if any) for cleanup
	logWriter   io.WriteCloser
	logWriterMu sync.Mutex

	// allowedComponents stores the set of components to log (nil means all)
	allowedComponents map[string]bool
	componentsMu      sync.RWMutex
)

// FileConfig holds configuration for file-based logging with rotation.
type FileConfig struct {
	// Path is the log file path. Empty disables file logging.
	Path string
	// MaxSizeMB is the size in megabytes before rotation. Default: 10.
	MaxSizeMB int
	// MaxBackups is the number of rotated files to retain. Default: 3.
	MaxBackups int
	// Compress controls compression of rotated files.
	Compress bool
}

// Config holds logging configuration.
type Config struct {
	// Level is the minimum log level (debug, info, warn, error).
	Level string
	// File configures optional file output with rotation.
	File FileConfig
	// JSON enables JSON output format.
	JSON bool
	// Components restricts logging to the named components (empty means all).
	Components []string
}

// Initialize sets up the global logger. Logs always go to stderr; when
// File.Path is set they additionally go to a rotating file.
func Initialize(cfg Config) error {
	level := parseLevel(cfg.Level)

	componentsMu.Lock()
	if len(cfg.Components) > 0 {
		allowedComponents = make(map[string]bool, len(cfg.Components))
		for _, c := range cfg.Components {
			allowedComponents[c] = true
		}
	} else {
		allowedComponents = nil
	}
	componentsMu.Unlock()

	logWriterMu.Lock()
	defer logWriterMu.Unlock()

	var w io.Writer = os.Stderr
	if cfg.File.Path != "" {
		maxSize := cfg.File.MaxSizeMB
		if maxSize <= 0 {
			maxSize = 10
		}
		maxBackups := cfg.File.MaxBackups
		if maxBackups < 0 {
			maxBackups = 3
		}
		lj := &lumberjack.Logger{
			Filename:   cfg.File.Path,
			MaxSize:    maxSize,
			MaxBackups: maxBackups,
			Compress:   cfg.File.Compress,
		}
		logWriter = lj
		w = io.MultiWriter(os.Stderr, lj)
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.JSON {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	logger := slog.New(handler)

	globalMu.Lock()
	globalLogger = logger
	globalMu.Unlock()

	slog.SetDefault(logger)
	return nil
}

// Get returns the global logger.
// If Initialize hasn't been called, returns slog.Default().
func Get() *slog.Logger {
	globalMu.RLock()
	defer globalMu.RUnlock()
	if globalLogger == nil {
		return slog.Default()
	}
	return globalLogger
}

// Close releases logging resources (closes the log file if open).
func Close() error {
	logWriterMu.Lock()
	defer logWriterMu.Unlock()
	if logWriter != nil {
		err := logWriter.Close()
		logWriter = nil
		return err
	}
	return nil
}

// parseLevel converts a string level to slog.Level.
func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// isComponentAllowed checks if a component should be logged.
func isComponentAllowed(component string) bool {
	componentsMu.RLock()
	defer componentsMu.RUnlock()
	if allowedComponents == nil {
		return true
	}
	return allowedComponents[component]
}

// componentFilterHandler wraps a slog.Handler and filters based on component.
type componentFilterHandler struct {
	inner     slog.Handler
	component string
}

func (h *componentFilterHandler) Enabled(ctx context.Context, level slog.Level) bool {
	if !isComponentAllowed(h.component) {
		return false
	}
	return h.inner.Enabled(ctx, level)
}

func (h *componentFilterHandler) Handle(ctx context.Context, r slog.Record) error {
	if !isComponentAllowed(h.component) {
		return nil
	}
	return h.inner.Handle(ctx, r)
}

func (h *componentFilterHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &componentFilterHandler{
		inner:     h.inner.WithAttrs(attrs),
		component: h.component,
	}
}

func (h *componentFilterHandler) WithGroup(name string) slog.Handler {
	return &componentFilterHandler{
		inner:     h.inner.WithGroup(name),
		component: h.component,
	}
}

// WithComponent returns a logger tagged with a component attribute.
// If component filtering is enabled and this component is not in the
// allowed list, the returned logger is a no-op.
func WithComponent(component string) *slog.Logger {
	base := Get()
	handler := &componentFilterHandler{
		inner:     base.Handler().WithAttrs([]slog.Attr{slog.String("component", component)}),
		component: component,
	}
	return slog.New(handler)
}

// Server returns a logger for server-side connection events.
func Server() *slog.Logger {
	return WithComponent("server")
}

// Client returns a logger for client connection/request events.
func Client() *slog.Logger {
	return WithComponent("client")
}

// Coordinator returns a logger for multi-window coordination events.
func Coordinator() *slog.Logger {
	return WithComponent("coordinator")
}

// Relay returns a logger for push delivery events.
func Relay() *slog.Logger {
	return WithComponent("relay")
}

// Dispatch returns a logger for command dispatch events.
func Dispatch() *slog.Logger {
	return WithComponent("dispatch")
}

// WithWindow returns a logger with window identity attached.
// Window processes log their window_id and role on coordinator events.
func WithWindow(base *slog.Logger, windowID, role string) *slog.Logger {
	if base == nil {
		return nil
	}
	return base.With("window_id", windowID, "role", role)
}
