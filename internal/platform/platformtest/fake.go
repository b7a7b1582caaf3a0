// Package platformtest provides an in-memory Platform for tests.
package platformtest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ticketd-io/ticketd/internal/platform"
)

// Ephemeral records a private acknowledgment sent to a user.
type Ephemeral struct {
	Channel platform.ChannelRef
	User    platform.UserRef
	Text    string
}

// Fake is an in-memory platform.Platform. Channels are grouped under
// categories registered with AddCategory. All methods are safe for
// concurrent use.
type Fake struct {
	mu         sync.Mutex
	nextRef    int
	categories map[platform.ChannelRef][]platform.Channel
	parent     map[platform.ChannelRef]platform.ChannelRef
	lastMsg    map[platform.ChannelRef]time.Time
	messages   map[platform.ChannelRef][]string
	embeds     map[platform.ChannelRef][]platform.Embed
	ephemerals []Ephemeral
	roles      map[platform.RoleRef]map[platform.UserRef]bool
	admins     map[platform.UserRef]bool

	// Error injection. When set, the corresponding call fails.
	CreateErr    error
	DeleteErr    error
	ListErr      error
	HistoryErr   map[platform.ChannelRef]error
	EphemeralErr error
}

// New returns an empty Fake.
func New() *Fake {
	return &Fake{
		categories: make(map[platform.ChannelRef][]platform.Channel),
		parent:     make(map[platform.ChannelRef]platform.ChannelRef),
		lastMsg:    make(map[platform.ChannelRef]time.Time),
		messages:   make(map[platform.ChannelRef][]string),
		embeds:     make(map[platform.ChannelRef][]platform.Embed),
		roles:      make(map[platform.RoleRef]map[platform.UserRef]bool),
		admins:     make(map[platform.UserRef]bool),
	}
}

// AddCategory registers an empty category.
func (f *Fake) AddCategory(category platform.ChannelRef) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.categories[category]; !ok {
		f.categories[category] = nil
	}
}

// AddChannel seeds a channel into a category and returns its reference.
func (f *Fake) AddChannel(category platform.ChannelRef, name string, createdAt time.Time) platform.ChannelRef {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextRef++
	ref := platform.ChannelRef(fmt.Sprintf("chan-%d", f.nextRef))
	f.categories[category] = append(f.categories[category], platform.Channel{Ref: ref, Name: name, CreatedAt: createdAt})
	f.parent[ref] = category
	return ref
}

// SetLastMessage fixes the most-recent-message timestamp of a channel.
func (f *Fake) SetLastMessage(ch platform.ChannelRef, at time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastMsg[ch] = at
}

// GrantRole adds a user to a role.
func (f *Fake) GrantRole(user platform.UserRef, role platform.RoleRef) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.roles[role] == nil {
		f.roles[role] = make(map[platform.UserRef]bool)
	}
	f.roles[role][user] = true
}

// MakeAdmin marks a user as a top-level administrator.
func (f *Fake) MakeAdmin(user platform.UserRef) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.admins[user] = true
}

// Embeds returns the embeds posted into a channel.
func (f *Fake) Embeds(ch platform.ChannelRef) []platform.Embed {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]platform.Embed(nil), f.embeds[ch]...)
}

// MessagesIn returns the plain messages posted into a channel.
func (f *Fake) MessagesIn(ch platform.ChannelRef) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.messages[ch]...)
}

// EphemeralsFor returns the ephemeral acknowledgments sent to a user.
func (f *Fake) EphemeralsFor(user platform.UserRef) []Ephemeral {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Ephemeral
	for _, e := range f.ephemerals {
		if e.User == user {
			out = append(out, e)
		}
	}
	return out
}

// HasChannel reports whether a channel still exists.
func (f *Fake) HasChannel(ch platform.ChannelRef) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.parent[ch]
	return ok
}

// --- platform.Platform ---

func (f *Fake) CreateChannel(_ context.Context, category platform.ChannelRef, name, topic string, _ []platform.Overwrite) (platform.ChannelRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.CreateErr != nil {
		return "", f.CreateErr
	}
	if _, ok := f.categories[category]; !ok {
		return "", platform.ErrCategoryMissing
	}
	f.nextRef++
	ref := platform.ChannelRef(fmt.Sprintf("chan-%d", f.nextRef))
	f.categories[category] = append(f.categories[category], platform.Channel{Ref: ref, Name: name, CreatedAt: time.Now()})
	f.parent[ref] = category
	return ref, nil
}

func (f *Fake) DeleteChannel(_ context.Context, ch platform.ChannelRef) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.DeleteErr != nil {
		return f.DeleteErr
	}
	category, ok := f.parent[ch]
	if !ok {
		return platform.ErrChannelAbsent
	}
	delete(f.parent, ch)
	channels := f.categories[category]
	for i, c := range channels {
		if c.Ref == ch {
			f.categories[category] = append(channels[:i], channels[i+1:]...)
			break
		}
	}
	return nil
}

func (f *Fake) ListChannels(_ context.Context, category platform.ChannelRef) ([]platform.Channel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ListErr != nil {
		return nil, f.ListErr
	}
	channels, ok := f.categories[category]
	if !ok {
		return nil, platform.ErrCategoryMissing
	}
	return append([]platform.Channel(nil), channels...), nil
}

func (f *Fake) LastMessageAt(_ context.Context, ch platform.ChannelRef) (time.Time, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.HistoryErr[ch]; err != nil {
		return time.Time{}, err
	}
	return f.lastMsg[ch], nil
}

func (f *Fake) SendMessage(_ context.Context, ch platform.ChannelRef, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages[ch] = append(f.messages[ch], text)
	f.lastMsg[ch] = time.Now()
	return nil
}

func (f *Fake) SendEmbed(_ context.Context, ch platform.ChannelRef, e platform.Embed) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.embeds[ch] = append(f.embeds[ch], e)
	return nil
}

func (f *Fake) SendEphemeral(_ context.Context, ch platform.ChannelRef, user platform.UserRef, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.EphemeralErr != nil {
		return f.EphemeralErr
	}
	f.ephemerals = append(f.ephemerals, Ephemeral{Channel: ch, User: user, Text: text})
	return nil
}

func (f *Fake) HasRole(_ context.Context, user platform.UserRef, role platform.RoleRef) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.roles[role][user], nil
}

func (f *Fake) IsAdmin(_ context.Context, user platform.UserRef) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.admins[user], nil
}
