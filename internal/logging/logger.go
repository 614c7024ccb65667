package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var (
	mu     sync.RWMutex
	logger = zerolog.Nop()
	file   *os.File
)

// Logger returns the process logger. It discards everything until Setup or
// SetOutput is called, so packages can log unconditionally.
func Logger() zerolog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return logger
}

// Component returns a child logger tagged with the component name.
func Component(name string) zerolog.Logger {
	l := Logger()
	return l.With().Str("component", name).Logger()
}

// Setup opens the log file (the terminal belongs to the UI) and installs the
// logger at the given level.
func Setup(path, level string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}

	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}

	mu.Lock()
	if file != nil {
		file.Close()
	}
	file = f
	logger = zerolog.New(f).Level(lvl).With().Timestamp().Logger()
	mu.Unlock()

	return nil
}

// SetOutput installs a logger writing to w. Used by the CLI subcommands that
// log to stderr.
func SetOutput(w io.Writer, level zerolog.Level) {
	mu.Lock()
	defer mu.Unlock()
	logger = zerolog.New(zerolog.ConsoleWriter{Out: w, TimeFormat: time.Kitchen}).Level(level).With().Timestamp().Logger()
}

// Close releases the log file if one is open.
func Close() error {
	mu.Lock()
	defer mu.Unlock()
	logger = zerolog.Nop()
	if file == nil {
		return nil
	}
	err := file.Close()
	file = nil
	return err
}
