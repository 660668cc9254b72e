package logging

import (
	"log/slog"
	"os"
)

// New returns a text logger on stdout that drops records below level.
func New(level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
}
