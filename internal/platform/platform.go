package platform

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors shared by all platform implementations.
var (
	// ErrCategoryMissing is returned when the ticket category cannot be resolved.
	ErrCategoryMissing = errors.New("platform: category missing")
	// ErrChannelAbsent is returned by DeleteChannel when the channel is already gone.
	ErrChannelAbsent = errors.New("platform: channel absent")
	// ErrUnavailable wraps transient platform failures.
	ErrUnavailable = errors.New("platform: unavailable")
)

// ChannelRef is an opaque platform channel identifier.
type ChannelRef string

// UserRef is an opaque platform user identifier.
type UserRef string

// RoleRef is an opaque platform role identifier.
type RoleRef string

// Channel describes a channel inside the ticket category.
type Channel struct {
	Ref       ChannelRef
	Name      string
	CreatedAt time.Time
}

// Access is a set of channel permissions.
type Access struct {
	Read   bool
	Send   bool
	Manage bool
}

// Overwrite grants or denies access to a user or a role on a channel.
// Exactly one of User or Role is set. Everyone targets the default role.
type Overwrite struct {
	User     UserRef
	Role     RoleRef
	Everyone bool
	Allow    Access
	Deny     Access
}

// EmbedField is a labelled value inside an embed.
type EmbedField struct {
	Name  string
	Value string
}

// Button is an interactive control attached to an embed. ID is the stable
// identifier delivered back in ButtonEvent when the button is pressed.
type Button struct {
	ID    string
	Label string
	Style string // "primary" or "danger"
}

// Embed is a structured message.
type Embed struct {
	Title       string
	Description string
	Fields      []EmbedField
	Footer      string
	Color       int
	Buttons     []Button
}

// ButtonEvent is delivered when a user activates a registered button.
type ButtonEvent struct {
	Button  string // button ID
	User    UserRef
	Name    string // display name of the acting user
	Channel ChannelRef
}

// MessageEvent is delivered for every inbound user message.
type MessageEvent struct {
	User    UserRef
	Name    string // display name of the sender
	Channel ChannelRef
	Text    string
	At      time.Time
}

// MemberJoinEvent is delivered when a new member joins the workspace.
type MemberJoinEvent struct {
	User UserRef
	Name string
}

// Handlers receives inbound platform events. Nil handlers are skipped.
type Handlers struct {
	Button     func(ctx context.Context, ev ButtonEvent)
	Message    func(ctx context.Context, ev MessageEvent)
	MemberJoin func(ctx context.Context, ev MemberJoinEvent)
}

// Platform is the chat-platform collaborator: channel CRUD, messaging,
// identity checks and interactive controls. Implementations must be safe
// for concurrent use.
type Platform interface {
	// CreateChannel creates a channel inside category with the given
	// permission overwrites and returns its reference.
	CreateChannel(ctx context.Context, category ChannelRef, name, topic string, overwrites []Overwrite) (ChannelRef, error)
	// DeleteChannel removes a channel. Returns ErrChannelAbsent when the
	// channel is already gone.
	DeleteChannel(ctx context.Context, ch ChannelRef) error
	// ListChannels enumerates the text channels in a category. Returns
	// ErrCategoryMissing when the category cannot be resolved.
	ListChannels(ctx context.Context, category ChannelRef) ([]Channel, error)
	// LastMessageAt returns the timestamp of the most recent message in a
	// channel, or the zero time when the channel has no messages.
	LastMessageAt(ctx context.Context, ch ChannelRef) (time.Time, error)

	// SendMessage posts plain text into a channel.
	SendMessage(ctx context.Context, ch ChannelRef, text string) error
	// SendEmbed posts a structured message, including any attached buttons.
	SendEmbed(ctx context.Context, ch ChannelRef, e Embed) error
	// SendEphemeral delivers a private acknowledgment visible only to user.
	SendEphemeral(ctx context.Context, ch ChannelRef, user UserRef, text string) error

	// HasRole reports whether user is a member of role.
	HasRole(ctx context.Context, user UserRef, role RoleRef) (bool, error)
	// IsAdmin reports whether user is a top-level administrator.
	IsAdmin(ctx context.Context, user UserRef) (bool, error)
}
