package logger

import (
	"context"
	"io"
	"log/slog"
)

// ColorTextHandler wraps slog.TextHandler and prefixes each message with
// an ANSI-colored level tag.
type ColorTextHandler struct {
	*slog.TextHandler
}

// NewColorTextHandler creates a new ColorTextHandler
func NewColorTextHandler(w io.Writer, opts *slog.HandlerOptions) *ColorTextHandler {
	return &ColorTextHandler{
		TextHandler: slog.NewTextHandler(w, opts),
	}
}

// Handle implements slog.Handler
func (h *ColorTextHandler) Handle(ctx context.Context, r slog.Record) error {
	var colorCode string
	switch {
	case r.Level >= slog.LevelError:
		colorCode = "\033[31m" // Red
	case r.Level >= slog.LevelWarn:
		colorCode = "\033[33m" // Yellow
	case r.Level >= slog.LevelInfo:
		colorCode = "\033[32m" // Green
	default:
		colorCode = "\033[36m" // Cyan
	}

	r.Message = colorCode + r.Level.String() + "\033[0m  " + r.Message
	return h.TextHandler.Handle(ctx, r)
}
