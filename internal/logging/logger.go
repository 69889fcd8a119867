package logging

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/lmittmann/tint"
)

// New returns a logger writing to w. Format "text" selects the coloured
// development handler; "json" the structured production handler.
func New(w io.Writer, format, level string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("logging: level %q: %w", level, err)
	}

	switch strings.ToLower(format) {
	case "", "text":
		h := tint.NewHandler(w, &tint.Options{
			Level:      lvl,
			TimeFormat: time.Kitchen,
		})
		return slog.New(h).With("app", "tenki"), nil
	case "json":
		h := slog.NewJSONHandler(w, &slog.HandlerOptions{
			Level: lvl,
		})
		return slog.New(h).With("app", "tenki"), nil
	}
	return nil, fmt.Errorf("logging: unknown format %q (allowed: text, json)", format)
}

// Discard returns a logger that drops every record, for tests and library
// defaults.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
