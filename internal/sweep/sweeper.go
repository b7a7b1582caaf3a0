// Package sweep periodically closes tickets whose channels have gone idle.
package sweep

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/ticketd-io/ticketd/internal/config"
	"github.com/ticketd-io/ticketd/internal/metrics"
	"github.com/ticketd-io/ticketd/internal/platform"
	"github.com/ticketd-io/ticketd/internal/reaper"
	"github.com/ticketd-io/ticketd/internal/ticket"
)

// Closer transitions a ticket to closing on behalf of the system.
type Closer interface {
	CloseAsSystem(ctx context.Context, ch platform.ChannelRef) (ticket.CloseOutcome, error)
}

// Sweeper walks the ticket category on a cron schedule, auto-closes idle
// tickets and reconciles records whose channels vanished out of band.
type Sweeper struct {
	cfg      config.TicketConfig
	platform platform.Platform
	store    ticket.Store
	closer   Closer
	reaper   *reaper.Reaper
	metrics  *metrics.Metrics
	logger   *slog.Logger
	cron     *cron.Cron
	now      func() time.Time
}

// New creates a Sweeper. metrics may be nil.
func New(cfg config.TicketConfig, p platform.Platform, store ticket.Store, closer Closer, r *reaper.Reaper, m *metrics.Metrics, logger *slog.Logger) *Sweeper {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{
		cfg:      cfg,
		platform: p,
		store:    store,
		closer:   closer,
		reaper:   r,
		metrics:  m,
		logger:   logger,
		cron:     cron.New(),
		now:      time.Now,
	}
}

// Start schedules the sweep and blocks until ctx is cancelled. When the
// idle threshold is disabled the sweeper stays dormant.
func (s *Sweeper) Start(ctx context.Context) error {
	if s.cfg.IdleThreshold() <= 0 {
		s.logger.Info("sweeper disabled", "auto_close_days", s.cfg.AutoCloseDays)
		<-ctx.Done()
		return ctx.Err()
	}

	schedule := "@every " + s.cfg.SweepInterval
	if _, err := s.cron.AddFunc(schedule, func() {
		if err := s.Sweep(context.Background()); err != nil {
			s.logger.Error("sweep failed", "error", err)
		}
	}); err != nil {
		return fmt.Errorf("sweep: invalid schedule %q: %w", schedule, err)
	}

	s.cron.Start()
	s.logger.Info("sweeper started", "interval", s.cfg.SweepInterval, "threshold", s.cfg.IdleThreshold())

	<-ctx.Done()
	stopped := s.cron.Stop()
	<-stopped.Done()
	s.logger.Info("sweeper stopped")
	return ctx.Err()
}

// Sweep runs a single pass. Per-ticket failures are counted and skipped so
// one bad channel cannot stall the rest of the category.
func (s *Sweeper) Sweep(ctx context.Context) error {
	threshold := s.cfg.IdleThreshold()
	if threshold <= 0 {
		return nil
	}

	channels, err := s.platform.ListChannels(ctx, platform.ChannelRef(s.cfg.CategoryID))
	if err != nil {
		return fmt.Errorf("sweep: list category: %w", err)
	}

	live := make(map[platform.ChannelRef]bool, len(channels))
	for _, ch := range channels {
		live[ch.Ref] = true
	}

	for _, ch := range channels {
		tk, err := s.store.ByChannel(ch.Ref)
		if errors.Is(err, ticket.ErrNotFound) {
			continue // untracked channel in the category
		}
		if err != nil {
			s.metrics.IncSweepError()
			s.logger.Error("sweep lookup failed", "channel", ch.Ref, "error", err)
			continue
		}
		if tk.State != ticket.StateOpen {
			continue
		}

		last, err := s.platform.LastMessageAt(ctx, ch.Ref)
		if err != nil {
			s.metrics.IncSweepError()
			s.logger.Error("sweep history failed", "ticket", tk.ID, "channel", ch.Ref, "error", err)
			continue
		}
		if last.IsZero() {
			last = ch.CreatedAt
		}

		idle := s.now().Sub(last)
		if idle < threshold {
			continue
		}

		notice := platform.Embed{
			Title:       "Ticket auto-closed",
			Description: fmt.Sprintf("This ticket was closed automatically after %d days of inactivity.", s.cfg.AutoCloseDays),
			Color:       s.cfg.Color,
		}
		if err := s.platform.SendEmbed(ctx, ch.Ref, notice); err != nil {
			s.logger.Warn("auto-close notice failed", "ticket", tk.ID, "error", err)
		}

		if _, err := s.closer.CloseAsSystem(ctx, ch.Ref); err != nil {
			s.metrics.IncSweepError()
			s.logger.Error("auto-close failed", "ticket", tk.ID, "error", err)
			continue
		}
		s.metrics.IncAutoClosed()
		s.logger.Info("ticket auto-closed", "ticket", tk.ID, "idle", idle)
	}

	s.reconcile(live)
	return nil
}

// reconcile drops open tickets whose channels were deleted out of band, so
// the store never accumulates records pointing at nothing.
func (s *Sweeper) reconcile(live map[platform.ChannelRef]bool) {
	open, err := s.store.ListOpen()
	if err != nil {
		s.logger.Error("sweep reconcile list failed", "error", err)
		return
	}
	for _, tk := range open {
		if live[tk.Channel] {
			continue
		}
		s.reaper.Cancel(tk.Channel)
		if _, err := s.store.Transition(tk.ID, ticket.StateClosing); err != nil {
			continue
		}
		if _, err := s.store.Transition(tk.ID, ticket.StateDeleted); err != nil {
			continue
		}
		if err := s.store.Remove(tk.ID); err != nil {
			s.logger.Error("sweep reconcile remove failed", "ticket", tk.ID, "error", err)
			continue
		}
		s.logger.Info("reconciled vanished channel", "ticket", tk.ID, "channel", tk.Channel)
	}
}
