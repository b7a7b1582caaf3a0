// Package reaper finalizes closed tickets: after the grace period it
// deletes the channel, marks the ticket deleted and drops it from the store.
package reaper

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/ticketd-io/ticketd/internal/metrics"
	"github.com/ticketd-io/ticketd/internal/platform"
	"github.com/ticketd-io/ticketd/internal/ticket"
)

const finalizeTimeout = 30 * time.Second

// Reaper schedules one-shot deletions keyed by channel reference. At most
// one timer is outstanding per channel; duplicate arms are no-ops.
type Reaper struct {
	platform platform.Platform
	store    ticket.Store
	metrics  *metrics.Metrics
	logger   *slog.Logger

	mu     sync.Mutex
	timers map[platform.ChannelRef]*time.Timer
}

// New creates a Reaper. metrics may be nil.
func New(p platform.Platform, store ticket.Store, m *metrics.Metrics, logger *slog.Logger) *Reaper {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reaper{
		platform: p,
		store:    store,
		metrics:  m,
		logger:   logger,
		timers:   make(map[platform.ChannelRef]*time.Timer),
	}
}

// Arm schedules deletion of ch after delay. It reports whether a new timer
// was armed; false means one was already outstanding.
func (r *Reaper) Arm(ch platform.ChannelRef, delay time.Duration) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, armed := r.timers[ch]; armed {
		return false
	}
	r.timers[ch] = time.AfterFunc(delay, func() { r.fire(ch) })
	r.logger.Info("deletion armed", "channel", ch, "delay", delay)
	return true
}

// Cancel stops a pending deletion, typically because the channel ceased to
// exist through another path. It reports whether a timer was cancelled.
func (r *Reaper) Cancel(ch platform.ChannelRef) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	timer, armed := r.timers[ch]
	if !armed {
		return false
	}
	timer.Stop()
	delete(r.timers, ch)
	r.logger.Info("deletion cancelled", "channel", ch)
	return true
}

// Armed reports whether a deletion is outstanding for ch.
func (r *Reaper) Armed(ch platform.ChannelRef) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, armed := r.timers[ch]
	return armed
}

// Stop cancels every outstanding timer.
func (r *Reaper) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for ch, timer := range r.timers {
		timer.Stop()
		delete(r.timers, ch)
	}
}

func (r *Reaper) fire(ch platform.ChannelRef) {
	r.mu.Lock()
	delete(r.timers, ch)
	r.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), finalizeTimeout)
	defer cancel()

	if err := r.platform.DeleteChannel(ctx, ch); err != nil {
		if !errors.Is(err, platform.ErrChannelAbsent) {
			r.logger.Error("channel delete failed", "channel", ch, "error", err)
			return
		}
		// Already gone through another path: success.
	}

	t, err := r.store.ByChannel(ch)
	if err != nil {
		if !errors.Is(err, ticket.ErrNotFound) {
			r.logger.Error("finalize lookup failed", "channel", ch, "error", err)
		}
		return
	}
	if _, err := r.store.Transition(t.ID, ticket.StateDeleted); err != nil {
		r.logger.Error("finalize transition failed", "ticket", t.ID, "error", err)
		return
	}
	if err := r.store.Remove(t.ID); err != nil {
		r.logger.Error("finalize remove failed", "ticket", t.ID, "error", err)
		return
	}

	r.metrics.IncDeleted()
	r.logger.Info("ticket deleted", "ticket", t.ID, "channel", ch)
}
