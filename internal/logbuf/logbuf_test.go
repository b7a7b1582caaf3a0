package logbuf

import (
	"log/slog"
	"testing"
	"time"
)

func TestRingEvictsOldest(t *testing.T) {
	ring := NewRing(3)
	now := time.Now()

	for i := 0; i < 5; i++ {
		ring.Append(Record{
			Time:    now.Add(time.Duration(i) * time.Second),
			Level:   "INFO",
			Message: "msg",
			Attrs:   map[string]any{"i": i},
		})
	}

	if ring.Len() != 3 {
		t.Fatalf("len = %d, want 3", ring.Len())
	}
	got := ring.Records(Filter{})
	if got[0].Attrs["i"] != 2 || got[2].Attrs["i"] != 4 {
		t.Fatalf("records = %v, want i=2..4 oldest first", got)
	}
}

func TestRecordsSince(t *testing.T) {
	ring := NewRing(10)
	now := time.Now()

	for i := 0; i < 5; i++ {
		ring.Append(Record{Time: now.Add(time.Duration(i) * time.Second), Level: "INFO", Message: "msg"})
	}

	got := ring.Records(Filter{Since: now.Add(3 * time.Second)})
	if len(got) != 2 {
		t.Fatalf("got %d records since t+3s, want 2", len(got))
	}
}

func TestRecordsMinLevel(t *testing.T) {
	ring := NewRing(10)
	now := time.Now()

	ring.Append(Record{Time: now, Level: "DEBUG", Message: "debug"})
	ring.Append(Record{Time: now, Level: "INFO", Message: "info"})
	ring.Append(Record{Time: now, Level: "WARN", Message: "warn"})
	ring.Append(Record{Time: now, Level: "ERROR", Message: "error"})

	got := ring.Records(Filter{MinLevel: slog.LevelWarn})
	if len(got) != 2 || got[0].Message != "warn" || got[1].Message != "error" {
		t.Fatalf("records = %v", got)
	}
}

func TestRecordsTicketFilter(t *testing.T) {
	ring := NewRing(10)
	now := time.Now()

	ring.Append(Record{Time: now, Level: "INFO", Message: "ticket opened", Attrs: map[string]any{"ticket": int64(3)}})
	ring.Append(Record{Time: now, Level: "INFO", Message: "ticket opened", Attrs: map[string]any{"ticket": int64(4)}})
	ring.Append(Record{Time: now, Level: "INFO", Message: "ticket closing", Attrs: map[string]any{"ticket": int64(3)}})
	ring.Append(Record{Time: now, Level: "INFO", Message: "sweeper started"})

	got := ring.Records(Filter{Ticket: 3})
	if len(got) != 2 {
		t.Fatalf("got %d records for ticket 3, want 2", len(got))
	}
	if got[1].Message != "ticket closing" {
		t.Errorf("records = %v", got)
	}
}

func TestRecordsLimitKeepsNewest(t *testing.T) {
	ring := NewRing(10)
	now := time.Now()

	for i := 0; i < 8; i++ {
		ring.Append(Record{Time: now.Add(time.Duration(i) * time.Second), Level: "INFO", Message: "msg", Attrs: map[string]any{"i": i}})
	}

	got := ring.Records(Filter{Limit: 3})
	if len(got) != 3 {
		t.Fatalf("got %d records, want 3", len(got))
	}
	if got[0].Attrs["i"] != 5 {
		t.Errorf("limit kept %v, want newest three", got[0].Attrs)
	}
}

func TestTeeHandlerCaptures(t *testing.T) {
	ring := NewRing(10)
	logger := slog.New(NewTeeHandler(slog.NewTextHandler(discard{}, nil), ring))

	logger.Info("ticket opened", "ticket", 7, "owner", "U-1")
	logger.Warn("ephemeral ack failed")

	got := ring.Records(Filter{})
	if len(got) != 2 {
		t.Fatalf("got %d records, want 2", len(got))
	}
	if got[0].Attrs["ticket"] != int64(7) {
		t.Errorf("attrs = %v", got[0].Attrs)
	}
	if got[1].Level != "WARN" {
		t.Errorf("level = %q", got[1].Level)
	}
}

func TestTeeHandlerWithAttrsAndGroups(t *testing.T) {
	ring := NewRing(10)
	logger := slog.New(NewTeeHandler(slog.NewTextHandler(discard{}, nil), ring)).
		With("component", "sweeper").WithGroup("sweep")

	logger.Info("pass finished", "closed", 2)

	got := ring.Records(Filter{})
	if len(got) != 1 {
		t.Fatalf("got %d records", len(got))
	}
	if got[0].Attrs["component"] != "sweeper" {
		t.Errorf("attrs = %v", got[0].Attrs)
	}
	if got[0].Attrs["sweep.closed"] != int64(2) {
		t.Errorf("attrs = %v", got[0].Attrs)
	}
}

func TestTeeHandlerCapturesBelowInnerLevel(t *testing.T) {
	ring := NewRing(10)
	inner := slog.NewTextHandler(discard{}, &slog.HandlerOptions{Level: slog.LevelWarn})
	logger := slog.New(NewTeeHandler(inner, ring))

	logger.Debug("noisy")
	logger.Info("routine")
	logger.Warn("notable")

	if ring.Len() != 3 {
		t.Fatalf("ring has %d records, want all 3", ring.Len())
	}
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }
