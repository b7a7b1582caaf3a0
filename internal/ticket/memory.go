package ticket

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ticketd-io/ticketd/internal/platform"
)

// MemoryStore is the default in-process Store. A single mutex serializes
// every mutation, which is the concurrency contract the rest of the system
// relies on.
type MemoryStore struct {
	mu        sync.Mutex
	tickets   map[int]*Ticket
	byChannel map[platform.ChannelRef]int
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tickets:   make(map[int]*Ticket),
		byChannel: make(map[platform.ChannelRef]int),
	}
}

func (s *MemoryStore) Create(t *Ticket) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, taken := s.byChannel[t.Channel]; taken {
		return ErrDuplicateChannel
	}
	if _, taken := s.tickets[t.ID]; taken {
		return fmt.Errorf("ticket: id %d already tracked", t.ID)
	}
	stored := *t
	stored.State = StateOpen
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now()
	}
	s.tickets[stored.ID] = &stored
	s.byChannel[stored.Channel] = stored.ID
	*t = stored
	return nil
}

func (s *MemoryStore) Get(id int) (*Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tickets[id]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *t
	return &copied, nil
}

func (s *MemoryStore) ByChannel(ch platform.ChannelRef) (*Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byChannel[ch]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *s.tickets[id]
	return &copied, nil
}

func (s *MemoryStore) Transition(id int, to State) (State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tickets[id]
	if !ok {
		return "", ErrNotFound
	}
	prev := t.State
	if !prev.CanTransition(to) {
		return prev, ErrInvalidTransition
	}
	t.State = to
	return prev, nil
}

func (s *MemoryStore) Remove(id int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tickets[id]
	if !ok {
		return ErrNotFound
	}
	if t.State != StateDeleted {
		return ErrInvalidTransition
	}
	delete(s.byChannel, t.Channel)
	delete(s.tickets, id)
	return nil
}

func (s *MemoryStore) List() ([]*Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	all := make([]*Ticket, 0, len(s.tickets))
	for _, t := range s.tickets {
		copied := *t
		all = append(all, &copied)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })
	return all, nil
}

func (s *MemoryStore) ListOpen() ([]*Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var open []*Ticket
	for _, t := range s.tickets {
		if t.State == StateOpen {
			copied := *t
			open = append(open, &copied)
		}
	}
	return open, nil
}
