// Package prompt correlates a request for user input with the next
// matching inbound message, bounded by a deadline.
package prompt

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ticketd-io/ticketd/internal/platform"
)

// ErrTimeout is returned when the user does not answer within the bound.
// The correlation is cancelled; the user must re-initiate.
var ErrTimeout = errors.New("prompt: timed out waiting for reply")

type key struct {
	user    platform.UserRef
	channel platform.ChannelRef
}

// Broker tracks pending prompts keyed by (user, channel). One prompt per
// key: registering a new one replaces the previous, which times out.
type Broker struct {
	mu      sync.Mutex
	pending map[key]chan string
}

// NewBroker returns an empty Broker.
func NewBroker() *Broker {
	return &Broker{pending: make(map[key]chan string)}
}

// Wait blocks until the next message from user in channel arrives, the
// timeout elapses, or ctx is cancelled. Only the calling goroutine waits;
// other ticket operations proceed freely.
func (b *Broker) Wait(ctx context.Context, user platform.UserRef, channel platform.ChannelRef, timeout time.Duration) (string, error) {
	k := key{user: user, channel: channel}
	ch := make(chan string, 1)

	b.mu.Lock()
	b.pending[k] = ch
	b.mu.Unlock()

	defer func() {
		b.mu.Lock()
		if b.pending[k] == ch {
			delete(b.pending, k)
		}
		b.mu.Unlock()
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case text := <-ch:
		return text, nil
	case <-timer.C:
		return "", ErrTimeout
	case <-ctx.Done():
		return "", ErrTimeout
	}
}

// Resolve delivers an inbound message to a pending prompt. It reports
// whether the message was consumed by a waiter.
func (b *Broker) Resolve(user platform.UserRef, channel platform.ChannelRef, text string) bool {
	k := key{user: user, channel: channel}

	b.mu.Lock()
	ch, ok := b.pending[k]
	if ok {
		delete(b.pending, k)
	}
	b.mu.Unlock()

	if !ok {
		return false
	}
	ch <- text
	return true
}

// Pending reports whether a prompt is outstanding for (user, channel).
func (b *Broker) Pending(user platform.UserRef, channel platform.ChannelRef) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.pending[key{user: user, channel: channel}]
	return ok
}
