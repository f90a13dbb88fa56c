// Package logging builds the application logger.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
)

// Options configures New.
type Options struct {
	// Level is a logrus level name. Empty means info.
	Level string

	// Dir, when set, receives a log file named after the start time,
	// YYYYMMDD-HHMM.log, in addition to Output.
	Dir string

	// Output defaults to stderr. Stdout is reserved for the serve protocol.
	Output io.Writer

	// Now defaults to time.Now.
	Now func() time.Time
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// FileName returns the log file name for a run started at t.
func FileName(t time.Time) string {
	return t.Format("20060102-1504") + ".log"
}

// New returns a configured logger and a closer for its log file.
func New(opts Options) (*logrus.Logger, io.Closer, error) {
	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	level := logrus.InfoLevel
	if opts.Level != "" {
		parsed, err := logrus.ParseLevel(opts.Level)
		if err != nil {
			return nil, nil, fmt.Errorf("invalid log level %q: %w", opts.Level, err)
		}
		level = parsed
	}
	log.SetLevel(level)

	out := opts.Output
	if out == nil {
		out = os.Stderr
	}

	if opts.Dir == "" {
		log.SetOutput(out)
		return log, nopCloser{}, nil
	}

	now := opts.Now
	if now == nil {
		now = time.Now
	}
	if err := os.MkdirAll(opts.Dir, 0755); err != nil {
		return nil, nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	path := filepath.Join(opts.Dir, FileName(now()))
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open log file: %w", err)
	}
	log.SetOutput(io.MultiWriter(out, file))
	return log, file, nil
}
