package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Log is the global application logger instance
var Log *slog.Logger

// level is the dynamic log level, changeable at runtime via SetLevel.
// slog.LevelVar is safe for concurrent use.
var level slog.LevelVar

var (
	appFile *os.File

	streamMu   sync.Mutex
	streamFile *os.File
)

// Init initializes the global logger with the specified level, writing to
// stdout only. Used before a workspace exists and by tests.
func Init(levelStr string) {
	SetLevel(levelStr)
	Log = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: &level,
	}))
}

// InitWorkspace routes the application log to <workspace>/app.log (teed to
// stdout) and opens <workspace>/stream.log, the sink for raw subprocess
// output lines.
func InitWorkspace(workspace, levelStr string) error {
	SetLevel(levelStr)

	app, err := os.OpenFile(filepath.Join(workspace, "app.log"),
		os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("open app log: %w", err)
	}

	stream, err := os.OpenFile(filepath.Join(workspace, "stream.log"),
		os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		app.Close()
		return fmt.Errorf("open stream log: %w", err)
	}

	Close()
	appFile = app
	streamMu.Lock()
	streamFile = stream
	streamMu.Unlock()

	Log = slog.New(slog.NewTextHandler(io.MultiWriter(os.Stdout, app), &slog.HandlerOptions{
		Level: &level,
	}))
	return nil
}

// Close flushes and closes the workspace log files. Safe to call when no
// workspace was initialized.
func Close() {
	if appFile != nil {
		appFile.Close()
		appFile = nil
	}
	streamMu.Lock()
	if streamFile != nil {
		streamFile.Close()
		streamFile = nil
	}
	streamMu.Unlock()
}

// SetLevel changes the log level at runtime. Valid values: debug, info, warn, error.
// Invalid values fall back to info.
func SetLevel(levelStr string) {
	var lvl slog.Level
	switch strings.ToLower(levelStr) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn", "warning":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	level.Set(lvl)
}

// Stream appends one subprocess output line to stream.log, tagged with the
// originating stream (STDOUT or STDERR). Lines are dropped silently when no
// workspace is open.
func Stream(tag, line string) {
	streamMu.Lock()
	defer streamMu.Unlock()
	if streamFile == nil {
		return
	}
	fmt.Fprintf(streamFile, "%s [%s] %s\n", time.Now().Format("2006-01-02 15:04:05"), tag, line)
}

// StreamSeparator writes a visual break into stream.log before a new command.
func StreamSeparator(command string) {
	streamMu.Lock()
	defer streamMu.Unlock()
	if streamFile == nil {
		return
	}
	fmt.Fprintln(streamFile, strings.Repeat("-", 94))
	fmt.Fprintf(streamFile, "%s [CMD] %s\n", time.Now().Format("2006-01-02 15:04:05"), command)
}

// Debug logs a debug message
func Debug(msg string, args ...any) {
	if Log != nil {
		Log.Debug(msg, args...)
	}
}

// Info logs an info message
func Info(msg string, args ...any) {
	if Log != nil {
		Log.Info(msg, args...)
	}
}

// Warn logs a warning message
func Warn(msg string, args ...any) {
	if Log != nil {
		Log.Warn(msg, args...)
	}
}

// Error logs an error message
func Error(msg string, args ...any) {
	if Log != nil {
		Log.Error(msg, args...)
	}
}
