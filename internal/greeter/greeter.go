// Package greeter posts a welcome message when a member joins.
package greeter

import (
	"context"
	"log/slog"
	"strings"

	"github.com/ticketd-io/ticketd/internal/config"
	"github.com/ticketd-io/ticketd/internal/platform"
)

// Greeter renders the welcome template into the configured channel. An
// empty channel id disables it.
type Greeter struct {
	cfg      config.WelcomeConfig
	platform platform.Platform
	logger   *slog.Logger
}

// New creates a Greeter.
func New(cfg config.WelcomeConfig, p platform.Platform, logger *slog.Logger) *Greeter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Greeter{cfg: cfg, platform: p, logger: logger}
}

// Enabled reports whether a welcome channel is configured.
func (g *Greeter) Enabled() bool {
	return g.cfg.ChannelID != ""
}

// Greet posts the welcome message for a new member. A greeting failure is
// logged, never propagated: joining must not depend on the welcome channel.
func (g *Greeter) Greet(ctx context.Context, ev platform.MemberJoinEvent) {
	if !g.Enabled() {
		return
	}

	name := ev.Name
	if name == "" {
		name = string(ev.User)
	}
	text := strings.ReplaceAll(g.cfg.Message, "{member}", name)

	if err := g.platform.SendMessage(ctx, platform.ChannelRef(g.cfg.ChannelID), text); err != nil {
		g.logger.Warn("welcome message failed", "user", ev.User, "error", err)
		return
	}
	g.logger.Info("member welcomed", "user", ev.User)
}
