package sweep

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ticketd-io/ticketd/internal/config"
	"github.com/ticketd-io/ticketd/internal/platform"
	"github.com/ticketd-io/ticketd/internal/platform/platformtest"
	"github.com/ticketd-io/ticketd/internal/reaper"
	"github.com/ticketd-io/ticketd/internal/ticket"
)

const category = platform.ChannelRef("cat-tickets")

// recordingCloser applies the closing transition and records the channel.
type recordingCloser struct {
	store  *ticket.MemoryStore
	closed []platform.ChannelRef
	err    error
}

func (c *recordingCloser) CloseAsSystem(_ context.Context, ch platform.ChannelRef) (ticket.CloseOutcome, error) {
	if c.err != nil {
		return 0, c.err
	}
	tk, err := c.store.ByChannel(ch)
	if err != nil {
		return 0, err
	}
	if _, err := c.store.Transition(tk.ID, ticket.StateClosing); err != nil {
		return 0, err
	}
	c.closed = append(c.closed, ch)
	return ticket.Closed, nil
}

type fixture struct {
	sweeper *Sweeper
	fake    *platformtest.Fake
	store   *ticket.MemoryStore
	closer  *recordingCloser
	reaper  *reaper.Reaper
}

func newFixture(t *testing.T, autoCloseDays int) *fixture {
	t.Helper()

	fake := platformtest.New()
	fake.AddCategory(category)
	store := ticket.NewMemoryStore()
	closer := &recordingCloser{store: store}
	r := reaper.New(fake, store, nil, nil)
	t.Cleanup(r.Stop)

	cfg := config.TicketConfig{
		CategoryID:    string(category),
		AutoCloseDays: autoCloseDays,
		SweepInterval: "24h",
	}
	return &fixture{
		sweeper: New(cfg, fake, store, closer, r, nil, nil),
		fake:    fake,
		store:   store,
		closer:  closer,
		reaper:  r,
	}
}

// seedTicket adds a channel plus its store record and returns the ref.
func (f *fixture) seedTicket(t *testing.T, id int, createdAt, lastMsg time.Time) platform.ChannelRef {
	t.Helper()
	ref := f.fake.AddChannel(category, "ticket-user", createdAt)
	if !lastMsg.IsZero() {
		f.fake.SetLastMessage(ref, lastMsg)
	}
	if err := f.store.Create(&ticket.Ticket{ID: id, Owner: "U-x", Channel: ref}); err != nil {
		t.Fatalf("seed ticket %d: %v", id, err)
	}
	return ref
}

func days(n int) time.Duration { return time.Duration(n) * 24 * time.Hour }

func TestSweepClosesIdle(t *testing.T) {
	f := newFixture(t, 3)
	now := time.Now()
	idle := f.seedTicket(t, 1, now.Add(-days(10)), now.Add(-days(4)))
	active := f.seedTicket(t, 2, now.Add(-days(10)), now.Add(-time.Hour))

	if err := f.sweeper.Sweep(context.Background()); err != nil {
		t.Fatalf("sweep: %v", err)
	}

	if len(f.closer.closed) != 1 || f.closer.closed[0] != idle {
		t.Fatalf("closed = %v, want [%s]", f.closer.closed, idle)
	}

	embeds := f.fake.Embeds(idle)
	if len(embeds) != 1 || embeds[0].Title != "Ticket auto-closed" {
		t.Errorf("idle channel embeds = %+v", embeds)
	}
	if got := f.fake.Embeds(active); len(got) != 0 {
		t.Errorf("active channel got %d embeds", len(got))
	}

	tk, _ := f.store.Get(2)
	if tk.State != ticket.StateOpen {
		t.Errorf("active ticket state = %q", tk.State)
	}
}

func TestSweepFallsBackToCreatedAt(t *testing.T) {
	f := newFixture(t, 3)
	now := time.Now()
	// No messages at all: idleness is measured from channel creation.
	silent := f.seedTicket(t, 1, now.Add(-days(5)), time.Time{})
	fresh := f.seedTicket(t, 2, now.Add(-time.Hour), time.Time{})

	if err := f.sweeper.Sweep(context.Background()); err != nil {
		t.Fatalf("sweep: %v", err)
	}

	if len(f.closer.closed) != 1 || f.closer.closed[0] != silent {
		t.Fatalf("closed = %v, want [%s]", f.closer.closed, silent)
	}
	_ = fresh
}

func TestSweepSkipsUntrackedAndNonOpen(t *testing.T) {
	f := newFixture(t, 3)
	now := time.Now()

	// Untracked channel sitting in the category.
	f.fake.AddChannel(category, "general-chat", now.Add(-days(30)))

	closing := f.seedTicket(t, 1, now.Add(-days(30)), now.Add(-days(20)))
	if _, err := f.store.Transition(1, ticket.StateClosing); err != nil {
		t.Fatalf("transition: %v", err)
	}

	if err := f.sweeper.Sweep(context.Background()); err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if len(f.closer.closed) != 0 {
		t.Errorf("closed = %v, want none", f.closer.closed)
	}
	_ = closing
}

func TestSweepDisabled(t *testing.T) {
	f := newFixture(t, 0)
	// Prove the disabled sweeper never touches the platform.
	f.fake.ListErr = errors.New("must not be called")

	if err := f.sweeper.Sweep(context.Background()); err != nil {
		t.Fatalf("sweep: %v", err)
	}
}

func TestSweepHistoryErrorIsolated(t *testing.T) {
	f := newFixture(t, 3)
	now := time.Now()
	broken := f.seedTicket(t, 1, now.Add(-days(10)), now.Add(-days(9)))
	idle := f.seedTicket(t, 2, now.Add(-days(10)), now.Add(-days(9)))

	f.fake.HistoryErr = map[platform.ChannelRef]error{broken: errors.New("rate limited")}

	if err := f.sweeper.Sweep(context.Background()); err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if len(f.closer.closed) != 1 || f.closer.closed[0] != idle {
		t.Errorf("closed = %v, want [%s]", f.closer.closed, idle)
	}
}

func TestSweepReconcilesVanishedChannels(t *testing.T) {
	f := newFixture(t, 3)
	now := time.Now()

	// Tracked ticket whose channel was deleted out of band: no channel in
	// the category, record still open.
	if err := f.store.Create(&ticket.Ticket{ID: 7, Owner: "U-x", Channel: "chan-gone"}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	kept := f.seedTicket(t, 8, now.Add(-time.Hour), now.Add(-time.Minute))

	if err := f.sweeper.Sweep(context.Background()); err != nil {
		t.Fatalf("sweep: %v", err)
	}

	if _, err := f.store.Get(7); !errors.Is(err, ticket.ErrNotFound) {
		t.Errorf("vanished ticket still tracked: %v", err)
	}
	if _, err := f.store.Get(8); err != nil {
		t.Errorf("live ticket dropped: %v", err)
	}
	_ = kept
}
