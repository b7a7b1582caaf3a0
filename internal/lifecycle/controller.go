// Package lifecycle drives tickets through creation, closing and deletion.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/ticketd-io/ticketd/internal/config"
	"github.com/ticketd-io/ticketd/internal/metrics"
	"github.com/ticketd-io/ticketd/internal/naming"
	"github.com/ticketd-io/ticketd/internal/platform"
	"github.com/ticketd-io/ticketd/internal/prompt"
	"github.com/ticketd-io/ticketd/internal/reaper"
	"github.com/ticketd-io/ticketd/internal/ticket"
)

// Stable identifiers for the persistent buttons.
const (
	CreateButtonID = "create_ticket"
	CloseButtonID  = "close_ticket"
)

const closeColor = 0xED4245

// Lifecycle errors.
var (
	ErrUnauthorized        = errors.New("lifecycle: unauthorized")
	ErrChannelCreateFailed = errors.New("lifecycle: channel create failed")
)

// Actor identifies who requested an operation. The zero value is invalid;
// use SystemActor for controller-internal closes (sweeper, admin API).
type Actor struct {
	User   platform.UserRef
	Name   string
	System bool
}

// SystemActor attributes operations to the system itself. It bypasses
// authorization.
var SystemActor = Actor{Name: "system", System: true}

// DisplayName returns the name used when attributing an operation.
func (a Actor) DisplayName() string {
	if a.Name != "" {
		return a.Name
	}
	return string(a.User)
}

// Kind labels the actor for metrics.
func (a Actor) Kind() string {
	if a.System {
		return "system"
	}
	return "user"
}

// Controller orchestrates ticket creation and closing against the platform
// collaborator. All dependencies are injected; the config snapshot is
// immutable for the controller's lifetime.
type Controller struct {
	cfg      config.TicketConfig
	platform platform.Platform
	store    ticket.Store
	prompts  *prompt.Broker
	reaper   *reaper.Reaper
	metrics  *metrics.Metrics
	logger   *slog.Logger

	// createMu makes id computation and channel creation a critical
	// section per category, so concurrent opens cannot corrupt numbering.
	createMu sync.Mutex
}

// New creates a Controller. metrics may be nil.
func New(cfg config.TicketConfig, p platform.Platform, store ticket.Store, prompts *prompt.Broker, r *reaper.Reaper, m *metrics.Metrics, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		cfg:      cfg,
		platform: p,
		store:    store,
		prompts:  prompts,
		reaper:   r,
		metrics:  m,
		logger:   logger,
	}
}

// RequestOpen handles a create-ticket activation from user in origin: it
// prompts for a reason with a bounded wait, mints the ticket channel and
// registers the ticket. Every failure path leaves the store untouched and
// is reported to the requester as an ephemeral acknowledgment.
func (c *Controller) RequestOpen(ctx context.Context, user platform.UserRef, username string, origin platform.ChannelRef) (*ticket.Ticket, error) {
	if err := c.platform.SendEphemeral(ctx, origin, user, c.cfg.CreatePrompt); err != nil {
		return nil, fmt.Errorf("lifecycle: prompt: %w", err)
	}

	reason, err := c.prompts.Wait(ctx, user, origin, c.cfg.PromptTimeout())
	if err != nil {
		c.metrics.IncPromptTimeout()
		c.ephemeral(ctx, origin, user, "Timed out waiting for a reason. Please try again.")
		return nil, err
	}

	tk, err := c.open(ctx, user, username, reason)
	if err != nil {
		switch {
		case errors.Is(err, platform.ErrCategoryMissing):
			c.ephemeral(ctx, origin, user, "Ticket category not found. Please notify an admin.")
		default:
			c.ephemeral(ctx, origin, user, "Could not create your ticket. Please try again later.")
		}
		return nil, err
	}

	c.ephemeral(ctx, origin, user, fmt.Sprintf("Your ticket has been created: <#%s>", tk.Channel))
	return tk, nil
}

// open performs steps 2-6 of ticket creation: resolve category, mint
// id/name, create the channel, register the ticket, post the embeds.
func (c *Controller) open(ctx context.Context, user platform.UserRef, username, reason string) (*ticket.Ticket, error) {
	category := platform.ChannelRef(c.cfg.CategoryID)

	c.createMu.Lock()
	defer c.createMu.Unlock()

	channels, err := c.platform.ListChannels(ctx, category)
	if err != nil {
		return nil, fmt.Errorf("lifecycle: resolve category: %w", err)
	}

	id, name, err := naming.Next(len(channels), c.cfg.NameTemplate, username)
	if err != nil {
		return nil, err
	}
	// Count-based ids can collide with a live ticket after out-of-order
	// deletions; bump until free and re-derive the name.
	for {
		if _, err := c.store.Get(id); errors.Is(err, ticket.ErrNotFound) {
			break
		}
		id++
		if name, err = naming.Format(c.cfg.NameTemplate, username, id); err != nil {
			return nil, err
		}
	}

	overwrites := []platform.Overwrite{
		{Everyone: true, Deny: platform.Access{Read: true}},
		{User: user, Allow: platform.Access{Read: true, Send: true}},
		{Role: platform.RoleRef(c.cfg.SupportRoleID), Allow: platform.Access{Read: true, Send: true, Manage: true}},
	}
	topic := fmt.Sprintf("Ticket from %s | Reason: %s", username, reason)

	ch, err := c.platform.CreateChannel(ctx, category, name, topic, overwrites)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrChannelCreateFailed, err)
	}

	tk := &ticket.Ticket{
		ID:      id,
		Owner:   user,
		Reason:  reason,
		Channel: ch,
	}
	if err := c.store.Create(tk); err != nil {
		// Roll the channel back so no orphan is left on the platform.
		if delErr := c.platform.DeleteChannel(ctx, ch); delErr != nil && !errors.Is(delErr, platform.ErrChannelAbsent) {
			c.logger.Error("rollback delete failed", "channel", ch, "error", delErr)
		}
		return nil, fmt.Errorf("lifecycle: register ticket: %w", err)
	}

	embed := platform.Embed{
		Title:       "New Ticket",
		Description: c.cfg.OpenMessage,
		Fields: []platform.EmbedField{
			{Name: "User", Value: username},
			{Name: "Reason", Value: reason},
		},
		Footer:  fmt.Sprintf("Ticket ID: %d", id),
		Color:   c.cfg.Color,
		Buttons: []platform.Button{{ID: CloseButtonID, Label: "Close Ticket", Style: "danger"}},
	}
	if err := c.platform.SendEmbed(ctx, ch, embed); err != nil {
		c.logger.Warn("ticket embed failed", "ticket", id, "error", err)
	}

	c.logToChannel(ctx, platform.Embed{
		Title:       "Ticket opened",
		Description: fmt.Sprintf("**User:** %s\n**Reason:** %s\n**Channel:** <#%s>", username, reason, ch),
		Color:       c.cfg.Color,
	})

	c.metrics.IncOpened()
	c.logger.Info("ticket opened", "ticket", id, "owner", user, "channel", ch)
	return tk, nil
}

// RequestClose transitions the ticket owning ch to closing and arms the
// delayed deletion. Closing an already-closing or deleted ticket is a
// reported no-op, never an error that aborts the caller.
func (c *Controller) RequestClose(ctx context.Context, actor Actor, ch platform.ChannelRef) (ticket.CloseOutcome, error) {
	tk, err := c.store.ByChannel(ch)
	if err != nil {
		return 0, err
	}

	if !actor.System {
		authorized, err := c.Authorize(ctx, actor.User)
		if err != nil {
			return 0, fmt.Errorf("lifecycle: authorize: %w", err)
		}
		if !authorized {
			c.ephemeral(ctx, ch, actor.User, "Only the support team can close tickets.")
			return 0, ErrUnauthorized
		}
	}

	prev, err := c.store.Transition(tk.ID, ticket.StateClosing)
	if err != nil {
		if errors.Is(err, ticket.ErrInvalidTransition) {
			switch prev {
			case ticket.StateClosing:
				return ticket.AlreadyClosing, nil
			case ticket.StateDeleted:
				return ticket.AlreadyDeleted, nil
			}
		}
		return 0, err
	}

	notice := platform.Embed{
		Title:       "Ticket closed",
		Description: fmt.Sprintf("This ticket was closed by %s.", actor.DisplayName()),
		Color:       closeColor,
	}
	if err := c.platform.SendEmbed(ctx, ch, notice); err != nil {
		c.logger.Warn("closure notice failed", "ticket", tk.ID, "error", err)
	}

	c.logToChannel(ctx, platform.Embed{
		Title:       "Ticket closed",
		Description: fmt.Sprintf("**Ticket:** %d\n**Closed by:** %s", tk.ID, actor.DisplayName()),
		Color:       closeColor,
	})

	c.reaper.Arm(ch, c.cfg.GracePeriod())
	c.metrics.IncClosed(actor.Kind())
	c.logger.Info("ticket closing", "ticket", tk.ID, "by", actor.DisplayName())
	return ticket.Closed, nil
}

// CloseAsSystem closes the ticket owning ch attributed to the system,
// bypassing authorization. Used by the sweeper and the admin API.
func (c *Controller) CloseAsSystem(ctx context.Context, ch platform.ChannelRef) (ticket.CloseOutcome, error) {
	return c.RequestClose(ctx, SystemActor, ch)
}

// PublishPanel posts the create-ticket panel into a channel. Admin only.
func (c *Controller) PublishPanel(ctx context.Context, actor Actor, ch platform.ChannelRef) error {
	if !actor.System {
		admin, err := c.isAdmin(ctx, actor.User)
		if err != nil {
			return fmt.Errorf("lifecycle: authorize: %w", err)
		}
		if !admin {
			c.ephemeral(ctx, ch, actor.User, "Only admins can publish the ticket panel.")
			return ErrUnauthorized
		}
	}

	panel := platform.Embed{
		Title:       "Support Ticket",
		Description: "Click the button below to create a ticket.",
		Color:       c.cfg.Color,
		Buttons:     []platform.Button{{ID: CreateButtonID, Label: "Create Ticket", Style: "primary"}},
	}
	return c.platform.SendEmbed(ctx, ch, panel)
}

// CloseAll closes every open ticket. Admin only; per-ticket failures are
// isolated. Returns the number of tickets transitioned to closing.
func (c *Controller) CloseAll(ctx context.Context, actor Actor) (int, error) {
	if !actor.System {
		admin, err := c.isAdmin(ctx, actor.User)
		if err != nil {
			return 0, fmt.Errorf("lifecycle: authorize: %w", err)
		}
		if !admin {
			return 0, ErrUnauthorized
		}
	}

	open, err := c.store.ListOpen()
	if err != nil {
		return 0, err
	}

	closed := 0
	for _, tk := range open {
		outcome, err := c.RequestClose(ctx, SystemActor, tk.Channel)
		if err != nil {
			c.logger.Error("close-all item failed", "ticket", tk.ID, "error", err)
			continue
		}
		if outcome == ticket.Closed {
			closed++
		}
	}
	c.logger.Info("close-all finished", "closed", closed, "total", len(open), "by", actor.DisplayName())
	return closed, nil
}

// HandleMessage feeds an inbound message to the prompt broker. It reports
// whether the message answered a pending reason prompt.
func (c *Controller) HandleMessage(ev platform.MessageEvent) bool {
	return c.prompts.Resolve(ev.User, ev.Channel, ev.Text)
}

// Authorize is the single close-authorization predicate: support role
// membership or top-level administrator.
func (c *Controller) Authorize(ctx context.Context, user platform.UserRef) (bool, error) {
	ok, err := c.platform.HasRole(ctx, user, platform.RoleRef(c.cfg.SupportRoleID))
	if err != nil {
		return false, err
	}
	if ok {
		return true, nil
	}
	return c.platform.IsAdmin(ctx, user)
}

// isAdmin gates the admin commands: admin role membership or top-level
// administrator.
func (c *Controller) isAdmin(ctx context.Context, user platform.UserRef) (bool, error) {
	ok, err := c.platform.HasRole(ctx, user, platform.RoleRef(c.cfg.AdminRoleID))
	if err != nil {
		return false, err
	}
	if ok {
		return true, nil
	}
	return c.platform.IsAdmin(ctx, user)
}

func (c *Controller) ephemeral(ctx context.Context, ch platform.ChannelRef, user platform.UserRef, text string) {
	if err := c.platform.SendEphemeral(ctx, ch, user, text); err != nil {
		c.logger.Warn("ephemeral ack failed", "user", user, "error", err)
	}
}

func (c *Controller) logToChannel(ctx context.Context, embed platform.Embed) {
	if c.cfg.LogChannelID == "" {
		return
	}
	// Log-channel absence or failure is non-fatal.
	if err := c.platform.SendEmbed(ctx, platform.ChannelRef(c.cfg.LogChannelID), embed); err != nil {
		c.logger.Warn("log channel post failed", "error", err)
	}
}
