// v1
// internal/app/logger.go
package app

import (
	"io"
	"log/slog"
	"os"
)

// newLogger writes one structured stream to both stdout and the configured
// log file, so container logs and the attached volume stay in sync.
func newLogger(file *os.File) *slog.Logger {
	sink := io.MultiWriter(os.Stdout, file)
	return slog.New(slog.NewTextHandler(sink, &slog.HandlerOptions{Level: slog.LevelInfo}))
}
