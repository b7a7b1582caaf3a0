package ticket

import (
	"errors"
	"time"

	"github.com/ticketd-io/ticketd/internal/platform"
)

// State is the lifecycle state of a ticket.
type State string

const (
	// StateOpen is the initial state after successful creation.
	StateOpen State = "open"
	// StateClosing means closure was requested and the deletion grace
	// period is running.
	StateClosing State = "closing"
	// StateDeleted is terminal: the channel has been removed from the
	// platform. Deleted tickets are removed from the store.
	StateDeleted State = "deleted"
)

// CanTransition reports whether the edge s → to is legal. The only legal
// edges are open → closing and closing → deleted; nothing skips closing.
func (s State) CanTransition(to State) bool {
	switch s {
	case StateOpen:
		return to == StateClosing
	case StateClosing:
		return to == StateDeleted
	}
	return false
}

// Store errors.
var (
	ErrNotFound          = errors.New("ticket: not found")
	ErrDuplicateChannel  = errors.New("ticket: channel already tracked")
	ErrInvalidTransition = errors.New("ticket: invalid transition")
)

// CloseOutcome is the result of a close request. Re-closing a ticket that
// is already on its way out is a no-op, not an error.
type CloseOutcome int

const (
	Closed CloseOutcome = iota
	AlreadyClosing
	AlreadyDeleted
)

func (o CloseOutcome) String() string {
	switch o {
	case Closed:
		return "closed"
	case AlreadyClosing:
		return "already_closing"
	case AlreadyDeleted:
		return "already_deleted"
	}
	return "unknown"
}

// Ticket is a single support request and its dedicated channel. Reason is
// immutable after creation; the channel reference is owned exclusively by
// the ticket for its lifetime.
type Ticket struct {
	ID        int                 `json:"id"`
	Owner     platform.UserRef    `json:"owner"`
	Reason    string              `json:"reason"`
	Channel   platform.ChannelRef `json:"channel"`
	State     State               `json:"state"`
	CreatedAt time.Time           `json:"created_at"`
}

// Store is the authoritative registry of tickets. Implementations must
// serialize all mutations with respect to concurrent callers.
type Store interface {
	// Create registers a new ticket in StateOpen. Fails with
	// ErrDuplicateChannel when the channel is already tracked.
	Create(t *Ticket) error
	// Get returns the ticket with the given id.
	Get(id int) (*Ticket, error)
	// ByChannel returns the ticket owning the given channel.
	ByChannel(ch platform.ChannelRef) (*Ticket, error)
	// Transition moves a ticket to the given state, enforcing the state
	// machine. It returns the state the ticket held before the call; on
	// an illegal edge the state is returned alongside ErrInvalidTransition
	// so callers can classify no-op re-closes.
	Transition(id int, to State) (State, error)
	// Remove deletes a ticket from the store. Only legal from StateDeleted.
	Remove(id int) error
	// ListOpen returns a point-in-time snapshot of all open tickets.
	ListOpen() ([]*Ticket, error)
	// List returns a snapshot of every tracked ticket ordered by id.
	List() ([]*Ticket, error)
}
