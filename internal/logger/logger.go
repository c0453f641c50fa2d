package logger

import (
	"io"
	"path/filepath"

	lj "gopkg.in/natefinch/lumberjack.v2"
)

// Rotation defaults, in lumberjack units.
const (
	DefaultMaxSizeMB  = 10
	DefaultMaxBackups = 3
	DefaultMaxAgeDays = 7
)

// Config describes where an engine's protocol transcript and stderr go.
// If TranscriptPath/StderrPath are empty and Dir is set, files are
// Dir/<name>.io.log and Dir/<name>.err.log. A zero Config disables
// transcript logging entirely.
type Config struct {
	Dir            string // base directory for engine logs
	TranscriptPath string // explicit transcript path overrides Dir
	StderrPath     string // explicit stderr path overrides Dir
	MaxSizeMB      int    // megabytes before rotation (default 10)
	MaxBackups     int    // rotated files to keep (default 3)
	MaxAgeDays     int    // days to keep (default 7)
	Compress       bool   // gzip rotated files
}

// Writers returns io.WriteClosers for the protocol transcript and stderr
// of the named engine. Either writer may be nil when its destination is
// not configured.
func (c Config) Writers(name string) (io.WriteCloser, io.WriteCloser, error) {
	transcript := c.TranscriptPath
	if transcript == "" && c.Dir != "" {
		transcript = filepath.Join(c.Dir, name+".io.log")
	}
	stderr := c.StderrPath
	if stderr == "" && c.Dir != "" {
		stderr = filepath.Join(c.Dir, name+".err.log")
	}
	return c.rotating(transcript), c.rotating(stderr), nil
}

// rotating builds a rotating file writer, nil for an empty path.
func (c Config) rotating(path string) io.WriteCloser {
	if path == "" {
		return nil
	}
	return &lj.Logger{
		Filename:   path,
		MaxSize:    valOr(c.MaxSizeMB, DefaultMaxSizeMB),
		MaxBackups: valOr(c.MaxBackups, DefaultMaxBackups),
		MaxAge:     valOr(c.MaxAgeDays, DefaultMaxAgeDays),
		Compress:   c.Compress,
	}
}

func valOr(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
