package ticket

import (
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tickets.db")
	s, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { s.DB().Close() })
	return s
}

func TestSQLiteCreateAndGet(t *testing.T) {
	s := newTestStore(t)

	in := openTicket(3, "chan-a")
	if err := s.Create(in); err != nil {
		t.Fatalf("create: %v", err)
	}

	got, err := s.Get(3)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Owner != "alice" || got.Reason != "billing" {
		t.Errorf("got %+v", got)
	}
	if got.State != StateOpen {
		t.Errorf("state = %q, want open", got.State)
	}
	if !got.CreatedAt.Equal(in.CreatedAt) {
		t.Errorf("created_at = %v, want %v", got.CreatedAt, in.CreatedAt)
	}
}

func TestSQLiteDuplicateChannel(t *testing.T) {
	s := newTestStore(t)
	s.Create(openTicket(1, "chan-a"))

	err := s.Create(openTicket(2, "chan-a"))
	if !errors.Is(err, ErrDuplicateChannel) {
		t.Fatalf("err = %v, want ErrDuplicateChannel", err)
	}
}

func TestSQLiteByChannel(t *testing.T) {
	s := newTestStore(t)
	s.Create(openTicket(1, "chan-a"))
	s.Create(openTicket(2, "chan-b"))

	got, err := s.ByChannel("chan-b")
	if err != nil {
		t.Fatalf("by channel: %v", err)
	}
	if got.ID != 2 {
		t.Errorf("id = %d, want 2", got.ID)
	}

	if _, err := s.ByChannel("chan-z"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestSQLiteTransition(t *testing.T) {
	s := newTestStore(t)
	s.Create(openTicket(1, "chan-a"))

	prev, err := s.Transition(1, StateClosing)
	if err != nil {
		t.Fatalf("open→closing: %v", err)
	}
	if prev != StateOpen {
		t.Errorf("prev = %q", prev)
	}

	prev, err = s.Transition(1, StateClosing)
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("closing→closing err = %v", err)
	}
	if prev != StateClosing {
		t.Errorf("prev = %q, want closing", prev)
	}

	if _, err := s.Transition(1, StateDeleted); err != nil {
		t.Fatalf("closing→deleted: %v", err)
	}
	if _, err := s.Transition(99, StateClosing); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing ticket err = %v", err)
	}
}

func TestSQLiteRemove(t *testing.T) {
	s := newTestStore(t)
	s.Create(openTicket(1, "chan-a"))

	if err := s.Remove(1); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("remove open err = %v", err)
	}

	s.Transition(1, StateClosing)
	s.Transition(1, StateDeleted)
	if err := s.Remove(1); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if _, err := s.Get(1); !errors.Is(err, ErrNotFound) {
		t.Fatalf("get after remove err = %v", err)
	}
}

func TestSQLiteListOpen(t *testing.T) {
	s := newTestStore(t)
	for i := 1; i <= 3; i++ {
		tk := openTicket(i, "chan-"+string(rune('a'+i)))
		tk.CreatedAt = time.Now().Add(time.Duration(-i) * time.Minute).Truncate(time.Second)
		s.Create(tk)
	}
	s.Transition(2, StateClosing)

	open, err := s.ListOpen()
	if err != nil {
		t.Fatalf("list open: %v", err)
	}
	if len(open) != 2 {
		t.Fatalf("got %d open, want 2", len(open))
	}
	if open[0].ID != 1 || open[1].ID != 3 {
		t.Errorf("ids = %d, %d", open[0].ID, open[1].ID)
	}
}

func TestSQLiteList(t *testing.T) {
	s := newTestStore(t)
	s.Create(openTicket(2, "chan-b"))
	s.Create(openTicket(1, "chan-a"))
	s.Transition(2, StateClosing)

	all, err := s.List()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("got %d tickets, want 2", len(all))
	}
	if all[0].ID != 1 || all[1].ID != 2 {
		t.Errorf("ids = %d, %d, want ordered", all[0].ID, all[1].ID)
	}
	if all[1].State != StateClosing {
		t.Errorf("state = %q", all[1].State)
	}
}
