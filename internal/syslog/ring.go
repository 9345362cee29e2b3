// Package syslog keeps a bounded in-memory ring of recent log lines.
// The device console replays it on request, which is the only way to
// read logs from an adapter reachable over its serial channel alone.
package syslog

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
)

// DefaultCapacity is how many lines a ring holds before evicting the
// oldest.
const DefaultCapacity = 256

// Ring is a fixed-capacity line buffer. Safe for concurrent use.
type Ring struct {
	mu    sync.Mutex
	lines []string
	next  int
	count int
}

// NewRing returns a ring holding up to capacity lines. Non-positive
// capacities fall back to DefaultCapacity.
func NewRing(capacity int) *Ring {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Ring{lines: make([]string, capacity)}
}

// Append adds a line, evicting the oldest when full.
func (r *Ring) Append(line string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lines[r.next] = line
	r.next = (r.next + 1) % len(r.lines)
	if r.count < len(r.lines) {
		r.count++
	}
}

// Lines returns the buffered lines, oldest first.
func (r *Ring) Lines() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, r.count)
	start := r.next - r.count
	if start < 0 {
		start += len(r.lines)
	}
	for i := 0; i < r.count; i++ {
		out = append(out, r.lines[(start+i)%len(r.lines)])
	}
	return out
}

// Len returns the number of buffered lines.
func (r *Ring) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}

// Handler is a slog.Handler that renders records into a Ring.
type Handler struct {
	ring  *Ring
	level slog.Level
	attrs []slog.Attr
	group string
}

// NewHandler returns a handler feeding ring with records at or above
// level.
func NewHandler(ring *Ring, level slog.Level) *Handler {
	return &Handler{ring: ring, level: level}
}

func (h *Handler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *Handler) Handle(_ context.Context, rec slog.Record) error {
	var b strings.Builder
	b.WriteString(rec.Time.Format("15:04:05.000"))
	b.WriteByte(' ')
	b.WriteString(rec.Level.String())
	b.WriteByte(' ')
	b.WriteString(rec.Message)
	for _, a := range h.attrs {
		h.writeAttr(&b, a)
	}
	rec.Attrs(func(a slog.Attr) bool {
		h.writeAttr(&b, a)
		return true
	})
	h.ring.Append(b.String())
	return nil
}

func (h *Handler) writeAttr(b *strings.Builder, a slog.Attr) {
	key := a.Key
	if h.group != "" {
		key = h.group + "." + key
	}
	fmt.Fprintf(b, " %s=%v", key, a.Value)
}

func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	out := *h
	out.attrs = append(append([]slog.Attr(nil), h.attrs...), attrs...)
	return &out
}

func (h *Handler) WithGroup(name string) slog.Handler {
	out := *h
	if out.group != "" {
		out.group += "." + name
	} else {
		out.group = name
	}
	return &out
}
