// Package console is the terminal collaborator: structured log setup,
// human-readable event rendering and line-oriented operator input.
package console

import (
	"io"
	"log/slog"

	"github.com/pterm/pterm"

	"github.com/juanpablocruz/uap/internal/config"
)

const timeFormat = "02 Jan 15:04:05"

// SetupLogger builds a pterm-backed slog logger, installs it as the slog
// default and returns it.
func SetupLogger(cfg config.Log, w io.Writer) *slog.Logger {
	level := pterm.LogLevelInfo
	if cfg.Debug {
		level = pterm.LogLevelDebug
	}
	pl := pterm.DefaultLogger.
		WithWriter(w).
		WithLevel(level).
		WithTime(true).
		WithTimeFormat(timeFormat).
		WithMaxWidth(1000)
	if cfg.JSON {
		pl = pl.WithFormatter(pterm.LogFormatterJSON)
	}
	l := slog.New(pterm.NewSlogHandler(pl))
	slog.SetDefault(l)
	return l
}
