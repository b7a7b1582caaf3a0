// Package slack implements platform.Platform on the Slack Web and Socket
// Mode APIs.
//
// Slack has no channel categories, so the configured category ref is used
// as a channel-name prefix; archiving stands in for deletion. Ticket
// channels are created private, which covers the deny-everyone overwrite,
// and the remaining overwrites become invitations.
package slack

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"

	"github.com/ticketd-io/ticketd/internal/platform"
)

// Config holds the Slack adapter configuration.
type Config struct {
	BotToken string // xoxb-... Bot User OAuth Token
	AppToken string // xapp-... App-Level Token (for Socket Mode)
}

// Adapter is the Slack-backed platform.
type Adapter struct {
	api      *slack.Client
	socket   *socketmode.Client
	handlers platform.Handlers
	logger   *slog.Logger
	botID    string
}

// New creates the adapter and verifies the tokens with an auth test.
func New(cfg Config, handlers platform.Handlers, logger *slog.Logger) (*Adapter, error) {
	if cfg.BotToken == "" {
		return nil, fmt.Errorf("slack: bot token is required")
	}
	if cfg.AppToken == "" {
		return nil, fmt.Errorf("slack: app token is required (socket mode)")
	}
	if logger == nil {
		logger = slog.Default()
	}

	api := slack.New(cfg.BotToken, slack.OptionAppLevelToken(cfg.AppToken))

	authResp, err := api.AuthTest()
	if err != nil {
		return nil, fmt.Errorf("slack: auth test: %w", err)
	}
	logger.Info("slack bot authorized", "user", authResp.User, "team", authResp.Team)

	return &Adapter{
		api:      api,
		socket:   socketmode.New(api),
		handlers: handlers,
		logger:   logger,
		botID:    authResp.UserID,
	}, nil
}

// Start runs the Socket Mode event loop. Blocks until ctx is cancelled.
func (a *Adapter) Start(ctx context.Context) error {
	go a.handleEvents(ctx)
	a.logger.Info("slack adapter started (socket mode)")
	return a.socket.RunContext(ctx)
}

// --- platform.Platform ---

func (a *Adapter) CreateChannel(ctx context.Context, category platform.ChannelRef, name, topic string, overwrites []platform.Overwrite) (platform.ChannelRef, error) {
	ch, err := a.api.CreateConversationContext(ctx, slack.CreateConversationParams{
		ChannelName: name,
		IsPrivate:   true,
	})
	if err != nil {
		return "", fmt.Errorf("%w: create conversation: %v", platform.ErrUnavailable, err)
	}

	if topic != "" {
		if _, err := a.api.SetTopicOfConversationContext(ctx, ch.ID, topic); err != nil {
			a.logger.Warn("set topic failed", "channel", ch.ID, "error", err)
		}
	}

	for _, user := range a.resolveInvitees(ctx, overwrites) {
		if _, err := a.api.InviteUsersToConversationContext(ctx, ch.ID, user); err != nil {
			a.logger.Warn("invite failed", "channel", ch.ID, "user", user, "error", err)
		}
	}

	_ = category // categories are a naming convention on Slack
	return platform.ChannelRef(ch.ID), nil
}

// resolveInvitees flattens allow-overwrites into user ids: direct users
// plus the members of any allowed role (Slack user group).
func (a *Adapter) resolveInvitees(ctx context.Context, overwrites []platform.Overwrite) []string {
	seen := make(map[string]bool)
	var users []string
	add := func(id string) {
		if id != "" && id != a.botID && !seen[id] {
			seen[id] = true
			users = append(users, id)
		}
	}

	for _, ow := range overwrites {
		if !ow.Allow.Read {
			continue
		}
		if ow.User != "" {
			add(string(ow.User))
		}
		if ow.Role != "" {
			members, err := a.api.GetUserGroupMembersContext(ctx, string(ow.Role))
			if err != nil {
				a.logger.Warn("resolve role members failed", "role", ow.Role, "error", err)
				continue
			}
			for _, m := range members {
				add(m)
			}
		}
	}
	return users
}

func (a *Adapter) DeleteChannel(ctx context.Context, ch platform.ChannelRef) error {
	if err := a.api.ArchiveConversationContext(ctx, string(ch)); err != nil {
		if isAbsent(err) {
			return platform.ErrChannelAbsent
		}
		return fmt.Errorf("%w: archive conversation: %v", platform.ErrUnavailable, err)
	}
	return nil
}

func (a *Adapter) ListChannels(ctx context.Context, category platform.ChannelRef) ([]platform.Channel, error) {
	prefix := string(category)
	var out []platform.Channel

	params := &slack.GetConversationsParameters{
		Types:           []string{"public_channel", "private_channel"},
		ExcludeArchived: true,
		Limit:           200,
	}
	for {
		channels, cursor, err := a.api.GetConversationsContext(ctx, params)
		if err != nil {
			return nil, fmt.Errorf("%w: list conversations: %v", platform.ErrUnavailable, err)
		}
		for _, ch := range channels {
			if !strings.HasPrefix(ch.Name, prefix) {
				continue
			}
			out = append(out, platform.Channel{
				Ref:       platform.ChannelRef(ch.ID),
				Name:      ch.Name,
				CreatedAt: ch.Created.Time(),
			})
		}
		if cursor == "" {
			return out, nil
		}
		params.Cursor = cursor
	}
}

func (a *Adapter) LastMessageAt(ctx context.Context, ch platform.ChannelRef) (time.Time, error) {
	resp, err := a.api.GetConversationHistoryContext(ctx, &slack.GetConversationHistoryParameters{
		ChannelID: string(ch),
		Limit:     1,
	})
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: conversation history: %v", platform.ErrUnavailable, err)
	}
	if len(resp.Messages) == 0 {
		return time.Time{}, nil
	}
	return parseTimestamp(resp.Messages[0].Timestamp), nil
}

func (a *Adapter) SendMessage(ctx context.Context, ch platform.ChannelRef, text string) error {
	_, _, err := a.api.PostMessageContext(ctx, string(ch), slack.MsgOptionText(text, false))
	if err != nil {
		return fmt.Errorf("%w: post message: %v", platform.ErrUnavailable, err)
	}
	return nil
}

func (a *Adapter) SendEmbed(ctx context.Context, ch platform.ChannelRef, e platform.Embed) error {
	attachment := slack.Attachment{
		Color: colorHex(e.Color),
		Blocks: slack.Blocks{
			BlockSet: embedBlocks(e),
		},
	}
	_, _, err := a.api.PostMessageContext(ctx, string(ch), slack.MsgOptionAttachments(attachment))
	if err != nil {
		return fmt.Errorf("%w: post embed: %v", platform.ErrUnavailable, err)
	}
	return nil
}

func (a *Adapter) SendEphemeral(ctx context.Context, ch platform.ChannelRef, user platform.UserRef, text string) error {
	_, err := a.api.PostEphemeralContext(ctx, string(ch), string(user), slack.MsgOptionText(text, false))
	if err != nil {
		return fmt.Errorf("%w: post ephemeral: %v", platform.ErrUnavailable, err)
	}
	return nil
}

func (a *Adapter) HasRole(ctx context.Context, user platform.UserRef, role platform.RoleRef) (bool, error) {
	members, err := a.api.GetUserGroupMembersContext(ctx, string(role))
	if err != nil {
		return false, fmt.Errorf("%w: user group members: %v", platform.ErrUnavailable, err)
	}
	for _, m := range members {
		if m == string(user) {
			return true, nil
		}
	}
	return false, nil
}

func (a *Adapter) IsAdmin(ctx context.Context, user platform.UserRef) (bool, error) {
	info, err := a.api.GetUserInfoContext(ctx, string(user))
	if err != nil {
		return false, fmt.Errorf("%w: user info: %v", platform.ErrUnavailable, err)
	}
	return info.IsAdmin || info.IsOwner || info.IsPrimaryOwner, nil
}

// --- Event loop ---

func (a *Adapter) handleEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event := <-a.socket.Events:
			switch event.Type {
			case socketmode.EventTypeEventsAPI:
				a.handleEventsAPI(ctx, event)
			case socketmode.EventTypeInteractive:
				a.handleInteractive(ctx, event)
			}
		}
	}
}

func (a *Adapter) handleEventsAPI(ctx context.Context, event socketmode.Event) {
	apiEvent, ok := event.Data.(slackevents.EventsAPIEvent)
	if !ok {
		return
	}
	a.socket.Ack(*event.Request)

	switch ev := apiEvent.InnerEvent.Data.(type) {
	case *slackevents.MessageEvent:
		a.handleMessage(ctx, ev)
	case *slackevents.TeamJoinEvent:
		if a.handlers.MemberJoin != nil && ev.User != nil {
			a.handlers.MemberJoin(ctx, platform.MemberJoinEvent{
				User: platform.UserRef(ev.User.ID),
				Name: displayName(ev.User),
			})
		}
	}
}

func (a *Adapter) handleMessage(ctx context.Context, ev *slackevents.MessageEvent) {
	// Skip bot traffic (including our own) and message subtypes.
	if ev.BotID != "" || ev.User == "" || ev.User == a.botID || ev.SubType != "" {
		return
	}
	if ev.Text == "" || a.handlers.Message == nil {
		return
	}

	a.handlers.Message(ctx, platform.MessageEvent{
		User:    platform.UserRef(ev.User),
		Channel: platform.ChannelRef(ev.Channel),
		Text:    ev.Text,
		At:      parseTimestamp(ev.TimeStamp),
	})
}

func (a *Adapter) handleInteractive(ctx context.Context, event socketmode.Event) {
	callback, ok := event.Data.(slack.InteractionCallback)
	if !ok {
		return
	}
	a.socket.Ack(*event.Request)

	if callback.Type != slack.InteractionTypeBlockActions || a.handlers.Button == nil {
		return
	}
	for _, action := range callback.ActionCallback.BlockActions {
		a.handlers.Button(ctx, platform.ButtonEvent{
			Button:  action.ActionID,
			User:    platform.UserRef(callback.User.ID),
			Name:    callback.User.Name,
			Channel: platform.ChannelRef(callback.Channel.ID),
		})
	}
}

// --- Helpers ---

// embedBlocks renders an Embed into Slack Block Kit blocks.
func embedBlocks(e platform.Embed) []slack.Block {
	var blocks []slack.Block

	if e.Title != "" {
		blocks = append(blocks, slack.NewHeaderBlock(
			slack.NewTextBlockObject(slack.PlainTextType, e.Title, false, false)))
	}
	if e.Description != "" {
		blocks = append(blocks, slack.NewSectionBlock(
			slack.NewTextBlockObject(slack.MarkdownType, e.Description, false, false), nil, nil))
	}
	if len(e.Fields) > 0 {
		var fields []*slack.TextBlockObject
		for _, f := range e.Fields {
			fields = append(fields, slack.NewTextBlockObject(slack.MarkdownType,
				fmt.Sprintf("*%s*\n%s", f.Name, f.Value), false, false))
		}
		blocks = append(blocks, slack.NewSectionBlock(nil, fields, nil))
	}
	if len(e.Buttons) > 0 {
		var elements []slack.BlockElement
		for _, b := range e.Buttons {
			btn := slack.NewButtonBlockElement(b.ID, b.ID,
				slack.NewTextBlockObject(slack.PlainTextType, b.Label, false, false))
			switch b.Style {
			case "danger":
				btn = btn.WithStyle(slack.StyleDanger)
			case "primary":
				btn = btn.WithStyle(slack.StylePrimary)
			}
			elements = append(elements, btn)
		}
		blocks = append(blocks, slack.NewActionBlock("", elements...))
	}
	if e.Footer != "" {
		blocks = append(blocks, slack.NewContextBlock("",
			slack.NewTextBlockObject(slack.MarkdownType, e.Footer, false, false)))
	}
	return blocks
}

// parseTimestamp converts a Slack "seconds.fraction" ts to time.Time.
// Returns the zero time for malformed input.
func parseTimestamp(ts string) time.Time {
	if ts == "" {
		return time.Time{}
	}
	sec, frac, _ := strings.Cut(ts, ".")
	s, err := strconv.ParseInt(sec, 10, 64)
	if err != nil {
		return time.Time{}
	}
	var micro int64
	if frac != "" {
		if f, err := strconv.ParseInt(frac, 10, 64); err == nil {
			for i := len(frac); i < 6; i++ {
				f *= 10
			}
			micro = f
		}
	}
	return time.Unix(s, micro*int64(time.Microsecond))
}

// colorHex renders an RGB int as Slack's "#rrggbb" attachment color.
func colorHex(c int) string {
	if c == 0 {
		return ""
	}
	return fmt.Sprintf("#%06x", c&0xFFFFFF)
}

// isAbsent reports whether a Slack API error means the channel is already
// gone for deletion purposes.
func isAbsent(err error) bool {
	if err == nil {
		return false
	}
	switch err.Error() {
	case "channel_not_found", "already_archived", "is_archived":
		return true
	}
	return false
}

func displayName(u *slack.User) string {
	if u.RealName != "" {
		return u.RealName
	}
	return u.Name
}
