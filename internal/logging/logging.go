// Package logging builds the process-wide zerolog logger.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

type Options struct {
	Level  string // zerolog level name; empty means info
	Format string // "console" or "json"
	File   string // optional log file, rotated
	// Output replaces stderr as the terminal destination.
	Output io.Writer
	// NoTerminal disables the terminal destination when File is set.
	NoTerminal bool
	Rotation   Rotation
}

// Rotation bounds the size and history of the log file.
type Rotation struct {
	MaxSize    int // megabytes
	MaxBackups int
	MaxAge     int // days
	Compress   bool
}

var defaultRotation = Rotation{
	MaxSize:    128,
	MaxBackups: 5,
	MaxAge:     16,
}

// New returns a logger writing to the terminal, the log file, or both. The
// returned closer releases the log file and is never nil.
func New(opts Options) (zerolog.Logger, io.Closer, error) {
	level := zerolog.InfoLevel
	if opts.Level != "" {
		parsed, err := zerolog.ParseLevel(strings.ToLower(opts.Level))
		if err != nil {
			return zerolog.Nop(), nopCloser{}, fmt.Errorf("invalid log level %q: %w", opts.Level, err)
		}
		level = parsed
	}

	terminal := opts.Output
	if terminal == nil {
		terminal = os.Stderr
	}
	if opts.Format != "json" {
		terminal = zerolog.ConsoleWriter{Out: terminal, TimeFormat: time.RFC3339}
	}

	var writers []io.Writer
	if !opts.NoTerminal || opts.File == "" {
		writers = append(writers, terminal)
	}

	var closer io.Closer = nopCloser{}
	if opts.File != "" {
		rot := opts.Rotation
		if rot == (Rotation{}) {
			rot = defaultRotation
		}
		file := &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    rot.MaxSize,
			MaxBackups: rot.MaxBackups,
			MaxAge:     rot.MaxAge,
			Compress:   rot.Compress,
		}
		// Files always get JSON lines.
		writers = append(writers, file)
		closer = file
	}

	logger := zerolog.New(io.MultiWriter(writers...)).
		Level(level).
		With().
		Timestamp().
		Logger()
	return logger, closer, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
