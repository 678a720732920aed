package log

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/small-frappuccino/productdock/pkg/util"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Category loggers split operational concerns the way the log directory is
// split: application flow, Discord traffic, database access and errors. Each
// category writes to the console and to its own rotated file.

var (
	setupOnce sync.Once
	setupErr  error

	application *slog.Logger
	discord     *slog.Logger
	database    *slog.Logger
	errLogger   *slog.Logger
)

func rotatedFile(name string) io.Writer {
	return &lumberjack.Logger{
		Filename:   filepath.Join(util.LogDirPath(), name),
		MaxSize:    10, // megabytes
		MaxBackups: 5,
		Compress:   true,
	}
}

// logLevel is Info unless PRODUCTDOCK_DEBUG is set, which also surfaces the
// per-tick reconciliation skips.
func logLevel() slog.Level {
	if util.EnvBool("PRODUCTDOCK_DEBUG") {
		return slog.LevelDebug
	}
	return slog.LevelInfo
}

func newLogger(console io.Writer, fileName string) *slog.Logger {
	w := io.MultiWriter(console, rotatedFile(fileName))
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: logLevel()}))
}

// SetupLogger initializes the category loggers. It is idempotent and safe to
// call from multiple goroutines; only the first call does any work.
func SetupLogger() error {
	setupOnce.Do(func() {
		if err := os.MkdirAll(util.LogDirPath(), 0o755); err != nil {
			setupErr = err
			return
		}
		application = newLogger(os.Stdout, "application.log")
		discord = newLogger(os.Stdout, "discord_events.log")
		database = newLogger(os.Stdout, "database.log")
		errLogger = newLogger(os.Stderr, "error.log")
	})
	return setupErr
}

func fallback() *slog.Logger {
	return slog.Default()
}

// ApplicationLogger returns the logger for application lifecycle events.
func ApplicationLogger() *slog.Logger {
	if application == nil {
		return fallback()
	}
	return application
}

// DiscordLogger returns the logger for Discord API and gateway events.
func DiscordLogger() *slog.Logger {
	if discord == nil {
		return fallback()
	}
	return discord
}

// DatabaseLogger returns the logger for persistence operations.
func DatabaseLogger() *slog.Logger {
	if database == nil {
		return fallback()
	}
	return database
}

// ErrorLoggerRaw returns the error logger. Errors logged through the other
// categories are not duplicated here; call this for failures that need the
// error log file.
func ErrorLoggerRaw() *slog.Logger {
	if errLogger == nil {
		return fallback()
	}
	return errLogger
}
