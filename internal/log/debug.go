package log

import (
	"io"
	"log/slog"

	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	// DebugLogMaxSizeMB is the size at which the debug log is rotated.
	DebugLogMaxSizeMB = 20

	// DebugLogMaxBackups is the number of rotated debug logs kept.
	DebugLogMaxBackups = 5
)

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// NewDebugLogger returns the attempt-level debug logger.
//
// When path is empty the logger discards everything and the returned closer
// is a no-op. Otherwise records are written as JSON to path, which is rotated
// by size. The caller must close the returned io.Closer when the crawl ends.
func NewDebugLogger(path string) (*slog.Logger, io.Closer) {
	if path == "" {
		return slog.New(slog.NewTextHandler(io.Discard, nil)), nopCloser{}
	}

	rotator := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    DebugLogMaxSizeMB,
		MaxBackups: DebugLogMaxBackups,
		Compress:   true,
	}
	handler := slog.NewJSONHandler(rotator, &slog.HandlerOptions{Level: slog.LevelDebug})
	return slog.New(NewSecureHandler(handler)), rotator
}
