package logging

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
)

type LogAttrFormat string

const (
	LogAttrFormatText LogAttrFormat = "TEXT"
	LogAttrFormatJSON LogAttrFormat = "JSON"
)

const DefaultRingSize = 500

type Entry struct {
	Timestamp time.Time  `json:"timestamp"`
	Level     slog.Level `json:"level"`
	Message   string     `json:"message"`
	Attrs     string     `json:"attrs,omitempty"`
}

type ring struct {
	mu      sync.RWMutex
	entries []Entry
	next    int
	full    bool
}

// RingHandler keeps the most recent log records in memory, nothing is
// persisted. All handlers derived with WithAttrs share the same buffer.
type RingHandler struct {
	ring     *ring
	minLevel slog.Level
	format   LogAttrFormat
	attrs    []slog.Attr
}

func NewRingHandler(size int, minLevel slog.Level, format LogAttrFormat) *RingHandler {
	if size <= 0 {
		size = DefaultRingSize
	}
	return &RingHandler{
		ring:     &ring{entries: make([]Entry, size)},
		minLevel: minLevel,
		format:   format,
	}
}

func (h *RingHandler) Handle(ctx context.Context, r slog.Record) error {
	if r.Level < h.minLevel {
		return nil
	}

	ts := r.Time
	if ts.IsZero() {
		ts = time.Now()
	}

	attrs := make([]slog.Attr, 0, len(h.attrs)+r.NumAttrs())
	attrs = append(attrs, h.attrs...)
	r.Attrs(func(a slog.Attr) bool {
		attrs = append(attrs, a)
		return true
	})

	h.ring.add(Entry{
		Timestamp: ts,
		Level:     r.Level,
		Message:   r.Message,
		Attrs:     formatAttrs(attrs, h.format),
	})
	return nil
}

func formatAttrs(attrs []slog.Attr, format LogAttrFormat) string {
	if len(attrs) == 0 {
		return ""
	}

	if strings.EqualFold(string(format), string(LogAttrFormatText)) {
		var b strings.Builder
		for _, a := range attrs {
			if b.Len() > 0 {
				b.WriteString("; ")
			}
			b.WriteString(a.Key)
			b.WriteString("=")
			b.WriteString(strings.ReplaceAll(strings.ReplaceAll(a.Value.String(), "=", "\\="), ";", "\\;"))
		}
		return b.String()
	}

	list := make([]map[string]string, len(attrs))
	for i, a := range attrs {
		list[i] = map[string]string{a.Key: a.Value.String()}
	}
	jsonBytes, err := json.Marshal(list)
	if err != nil {
		return fmt.Sprintf(`{"error": "%v"}`, err)
	}
	return string(jsonBytes)
}

func (h *RingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return h
	}
	h2 := *h
	h2.attrs = append(append([]slog.Attr{}, h.attrs...), attrs...)
	return &h2
}

func (h *RingHandler) WithGroup(name string) slog.Handler {
	return h
}

func (h *RingHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return level >= h.minLevel
}

// Entries returns a page of records at or above minLevel, newest first.
// Pages start at 1.
func (h *RingHandler) Entries(minLevel slog.Level, page, pageSize int) []Entry {
	if page < 1 || pageSize < 1 {
		return nil
	}
	all := h.ring.newestFirst(minLevel)
	from := (page - 1) * pageSize
	if from >= len(all) {
		return []Entry{}
	}
	to := min(from+pageSize, len(all))
	return all[from:to]
}

func (r *ring) add(e Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[r.next] = e
	r.next = (r.next + 1) % len(r.entries)
	if r.next == 0 {
		r.full = true
	}
}

func (r *ring) newestFirst(minLevel slog.Level) []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	count := r.next
	if r.full {
		count = len(r.entries)
	}
	result := make([]Entry, 0, count)
	for i := 1; i <= count; i++ {
		e := r.entries[(r.next-i+len(r.entries))%len(r.entries)]
		if e.Level >= minLevel {
			result = append(result, e)
		}
	}
	return result
}
