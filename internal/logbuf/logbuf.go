// Package logbuf keeps a bounded in-memory tail of the daemon's log
// output, queryable through the admin API.
package logbuf

import (
	"log/slog"
	"sync"
	"time"
)

// Record is one captured log line.
type Record struct {
	Time    time.Time      `json:"time"`
	Level   string         `json:"level"`
	Message string         `json:"message"`
	Attrs   map[string]any `json:"attrs,omitempty"`
}

// Filter narrows a Records query. The zero value matches records at info
// level and above; set MinLevel to slog.LevelDebug to include debug output.
type Filter struct {
	Since    time.Time  // drop records before this instant
	MinLevel slog.Level // drop records below this level
	Ticket   int        // when > 0, only records carrying this ticket id
	Limit    int        // when > 0, keep only the newest Limit records
}

// Ring retains the most recent records up to a fixed capacity. Safe for
// concurrent use.
type Ring struct {
	mu      sync.Mutex
	records []Record
	cap     int
}

// NewRing creates a Ring holding up to capacity records.
func NewRing(capacity int) *Ring {
	return &Ring{cap: capacity}
}

// Append adds a record, evicting the oldest once capacity is reached.
func (r *Ring) Append(rec Record) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, rec)
	if len(r.records) > r.cap {
		// Shift rather than reslice so the backing array stays bounded.
		copy(r.records, r.records[1:])
		r.records = r.records[:r.cap]
	}
}

// Records returns the retained records matching f, oldest first.
func (r *Ring) Records(f Filter) []Record {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []Record
	for _, rec := range r.records {
		if !f.Since.IsZero() && rec.Time.Before(f.Since) {
			continue
		}
		if levelValue(rec.Level) < f.MinLevel {
			continue
		}
		if f.Ticket > 0 && !hasTicket(rec, f.Ticket) {
			continue
		}
		out = append(out, rec)
	}
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[len(out)-f.Limit:]
	}
	return out
}

// Len returns the number of retained records.
func (r *Ring) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.records)
}

func hasTicket(rec Record, id int) bool {
	switch v := rec.Attrs["ticket"].(type) {
	case int:
		return v == id
	case int64:
		return v == int64(id)
	case float64:
		return v == float64(id)
	}
	return false
}

func levelValue(s string) slog.Level {
	switch s {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
