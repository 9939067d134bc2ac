// Package logging provides a slog handler that mirrors WARN and ERROR
// records into the local store's event log, so sync failures remain
// inspectable after the fact.
package logging

import (
	"context"
	"log/slog"
	"strings"

	"github.com/everhouse/clubsync/internal/store"
)

// EventLogHandler is a slog.Handler that wraps another handler and also
// writes records at or above a threshold level to the event log.
type EventLogHandler struct {
	inner slog.Handler
	st    *store.Store
	level slog.Level
}

// NewEventLogHandler creates an EventLogHandler that forwards everything to
// inner and mirrors WARN+ records into the store.
func NewEventLogHandler(inner slog.Handler, st *store.Store) *EventLogHandler {
	return &EventLogHandler{
		inner: inner,
		st:    st,
		level: slog.LevelWarn,
	}
}

// Enabled implements slog.Handler.
func (h *EventLogHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

// Handle implements slog.Handler.
func (h *EventLogHandler) Handle(ctx context.Context, r slog.Record) error {
	if err := h.inner.Handle(ctx, r); err != nil {
		return err
	}

	if r.Level >= h.level {
		h.writeToEventLog(r)
	}

	return nil
}

// WithAttrs implements slog.Handler.
func (h *EventLogHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &EventLogHandler{
		inner: h.inner.WithAttrs(attrs),
		st:    h.st,
		level: h.level,
	}
}

// WithGroup implements slog.Handler.
func (h *EventLogHandler) WithGroup(name string) slog.Handler {
	return &EventLogHandler{
		inner: h.inner.WithGroup(name),
		st:    h.st,
		level: h.level,
	}
}

// writeToEventLog persists a record. A background context is used so the
// entry survives request-context cancellation.
func (h *EventLogHandler) writeToEventLog(r slog.Record) {
	level := "warning"
	if r.Level >= slog.LevelError {
		level = "error"
	}

	_ = h.st.LogEvent(context.Background(), level, r.Message, attrsJSON(r))
}

// attrsJSON collects a record's attributes into a flat JSON object.
func attrsJSON(r slog.Record) string {
	if r.NumAttrs() == 0 {
		return "{}"
	}

	var sb strings.Builder
	sb.WriteString("{")
	first := true

	r.Attrs(func(a slog.Attr) bool {
		if !first {
			sb.WriteString(",")
		}
		first = false
		sb.WriteString(`"`)
		sb.WriteString(escapeJSON(a.Key))
		sb.WriteString(`":"`)
		sb.WriteString(escapeJSON(a.Value.String()))
		sb.WriteString(`"`)
		return true
	})

	sb.WriteString("}")
	return sb.String()
}

// escapeJSON escapes special characters in a string for JSON.
func escapeJSON(s string) string {
	var sb strings.Builder
	for _, r := range s {
		switch r {
		case '"':
			sb.WriteString(`\"`)
		case '\\':
			sb.WriteString(`\\`)
		case '\n':
			sb.WriteString(`\n`)
		case '\r':
			sb.WriteString(`\r`)
		case '\t':
			sb.WriteString(`\t`)
		default:
			sb.WriteRune(r)
		}
	}
	return sb.String()
}
