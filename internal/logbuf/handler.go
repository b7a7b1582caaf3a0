package logbuf

import (
	"context"
	"log/slog"
)

// TeeHandler is an slog.Handler that captures every record into a Ring
// before delegating to an inner handler. The ring sees all levels; the
// inner handler keeps its own level filter.
type TeeHandler struct {
	inner  slog.Handler
	ring   *Ring
	attrs  []slog.Attr
	groups []string
}

// NewTeeHandler wraps inner so records also land in ring.
func NewTeeHandler(inner slog.Handler, ring *Ring) *TeeHandler {
	return &TeeHandler{inner: inner, ring: ring}
}

// Enabled always reports true so the ring captures every level.
func (h *TeeHandler) Enabled(_ context.Context, _ slog.Level) bool {
	return true
}

func (h *TeeHandler) Handle(ctx context.Context, r slog.Record) error {
	attrs := make(map[string]any)
	// Pre-bound attrs were qualified when bound; only record attrs take
	// the current group prefix.
	for _, a := range h.attrs {
		attrs[a.Key] = flatten(a.Value)
	}
	r.Attrs(func(a slog.Attr) bool {
		attrs[h.qualify(a.Key)] = flatten(a.Value)
		return true
	})
	if len(attrs) == 0 {
		attrs = nil
	}

	h.ring.Append(Record{
		Time:    r.Time,
		Level:   r.Level.String(),
		Message: r.Message,
		Attrs:   attrs,
	})

	if h.inner.Enabled(ctx, r.Level) {
		return h.inner.Handle(ctx, r)
	}
	return nil
}

func (h *TeeHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	bound := append([]slog.Attr(nil), h.attrs...)
	for _, a := range attrs {
		bound = append(bound, slog.Attr{Key: h.qualify(a.Key), Value: a.Value})
	}
	return &TeeHandler{
		inner:  h.inner.WithAttrs(attrs),
		ring:   h.ring,
		attrs:  bound,
		groups: h.groups,
	}
}

func (h *TeeHandler) WithGroup(name string) slog.Handler {
	return &TeeHandler{
		inner:  h.inner.WithGroup(name),
		ring:   h.ring,
		attrs:  h.attrs,
		groups: append(h.groups[:len(h.groups):len(h.groups)], name),
	}
}

func (h *TeeHandler) qualify(key string) string {
	for i := len(h.groups) - 1; i >= 0; i-- {
		key = h.groups[i] + "." + key
	}
	return key
}

// flatten converts slog values to JSON-safe types. Errors become their
// string form so they don't serialize to {}.
func flatten(v slog.Value) any {
	v = v.Resolve()
	raw := v.Any()
	if err, ok := raw.(error); ok {
		return err.Error()
	}
	return raw
}
