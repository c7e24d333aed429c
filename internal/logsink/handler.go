package logsink

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// Handler is an slog.Handler that forwards records to a Sink. Error level
// records land in the error log, everything else in the system log.
type Handler struct {
	sink   *Sink
	level  slog.Leveler
	attrs  []groupedAttr
	groups []string
}

// groupedAttr remembers the group prefix in effect when the attr was added.
type groupedAttr struct {
	prefix string
	attr   slog.Attr
}

// NewHandler returns a handler writing records at or above level to sink.
func NewHandler(sink *Sink, level slog.Leveler) *Handler {
	if level == nil {
		level = slog.LevelInfo
	}
	return &Handler{sink: sink, level: level}
}

// NewLogger returns an info-level logger backed by sink.
func NewLogger(sink *Sink) *slog.Logger {
	return slog.New(NewHandler(sink, slog.LevelInfo))
}

func (h *Handler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *Handler) Handle(_ context.Context, r slog.Record) error {
	var b strings.Builder
	b.WriteString(r.Message)

	for _, ga := range h.attrs {
		appendAttr(&b, ga.prefix, ga.attr)
	}
	prefix := strings.Join(h.groups, ".")
	r.Attrs(func(a slog.Attr) bool {
		appendAttr(&b, prefix, a)
		return true
	})

	kind := System
	if r.Level >= slog.LevelError {
		kind = Error
	}
	h.sink.Record(kind, b.String())
	return nil
}

func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := *h
	next.attrs = append([]groupedAttr(nil), h.attrs...)
	prefix := strings.Join(h.groups, ".")
	for _, a := range attrs {
		next.attrs = append(next.attrs, groupedAttr{prefix: prefix, attr: a})
	}
	return &next
}

func (h *Handler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	next := *h
	next.groups = append(append([]string(nil), h.groups...), name)
	return &next
}

func appendAttr(b *strings.Builder, prefix string, a slog.Attr) {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return
	}

	key := a.Key
	switch {
	case key == "":
		key = prefix
	case prefix != "":
		key = prefix + "." + key
	}

	if a.Value.Kind() == slog.KindGroup {
		for _, ga := range a.Value.Group() {
			appendAttr(b, key, ga)
		}
		return
	}

	val := a.Value.String()
	if strings.ContainsAny(val, " \t\r\n\"=") {
		val = fmt.Sprintf("%q", val)
	}
	b.WriteString(" ")
	b.WriteString(key)
	b.WriteString("=")
	b.WriteString(val)
}
