// Package logsvc provides the leveled, category-tagged logging sink shared
// across svckit's components: a slog.Logger colorized via lmittmann/tint,
// with category tags applied through slog.Logger.With rather than a global
// macro table.
package logsvc

import (
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/lmittmann/tint"
)

// New returns a logger writing colorized text to os.Stderr at the given
// level, tagged with category. verbose true lowers the level to Debug
// regardless of level.
func New(category string, level slog.Level, verbose bool) *slog.Logger {
	if verbose {
		level = slog.LevelDebug
	}
	h := tint.NewHandler(os.Stderr, &tint.Options{
		Level:      level,
		TimeFormat: time.RFC3339,
	})
	return slog.New(h).With("category", category)
}

// Discard returns a logger that writes nowhere, for use in tests that don't
// care about log output.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
