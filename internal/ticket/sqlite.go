package ticket

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/ticketd-io/ticketd/internal/platform"
)

// SQLiteStore implements Store on a SQLite database, for deployments that
// want open tickets to survive a restart.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database and runs migrations.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("ticket store: open: %w", err)
	}

	// Enable WAL mode for better concurrent reads
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("ticket store: wal: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS tickets (
			id         INTEGER PRIMARY KEY,
			owner      TEXT NOT NULL,
			reason     TEXT NOT NULL DEFAULT '',
			channel    TEXT NOT NULL UNIQUE,
			state      TEXT NOT NULL DEFAULT 'open',
			created_at TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_tickets_state ON tickets(state);
	`)
	if err != nil {
		return fmt.Errorf("ticket store: migrate: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Create(t *Ticket) error {
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}
	t.State = StateOpen

	_, err := s.db.Exec(`
		INSERT INTO tickets (id, owner, reason, channel, state, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, t.ID, string(t.Owner), t.Reason, string(t.Channel), string(t.State), t.CreatedAt.Format(time.RFC3339))
	if err != nil {
		var tracked int
		if scanErr := s.db.QueryRow(`SELECT COUNT(*) FROM tickets WHERE channel = ?`, string(t.Channel)).Scan(&tracked); scanErr == nil && tracked > 0 {
			return ErrDuplicateChannel
		}
		return fmt.Errorf("ticket store: create: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Get(id int) (*Ticket, error) {
	row := s.db.QueryRow(`SELECT id, owner, reason, channel, state, created_at FROM tickets WHERE id = ?`, id)
	t, err := scanTicket(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ticket store: get: %w", err)
	}
	return t, nil
}

func (s *SQLiteStore) ByChannel(ch platform.ChannelRef) (*Ticket, error) {
	row := s.db.QueryRow(`SELECT id, owner, reason, channel, state, created_at FROM tickets WHERE channel = ?`, string(ch))
	t, err := scanTicket(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ticket store: by channel: %w", err)
	}
	return t, nil
}

// Transition runs the read-validate-write inside a transaction so it stays
// atomic with respect to concurrent callers.
func (s *SQLiteStore) Transition(id int, to State) (State, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return "", fmt.Errorf("ticket store: transition: %w", err)
	}
	defer tx.Rollback()

	var state string
	if err := tx.QueryRow(`SELECT state FROM tickets WHERE id = ?`, id).Scan(&state); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("ticket store: transition: %w", err)
	}

	prev := State(state)
	if !prev.CanTransition(to) {
		return prev, ErrInvalidTransition
	}

	if _, err := tx.Exec(`UPDATE tickets SET state = ? WHERE id = ?`, string(to), id); err != nil {
		return prev, fmt.Errorf("ticket store: transition: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return prev, fmt.Errorf("ticket store: transition: %w", err)
	}
	return prev, nil
}

func (s *SQLiteStore) Remove(id int) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("ticket store: remove: %w", err)
	}
	defer tx.Rollback()

	var state string
	if err := tx.QueryRow(`SELECT state FROM tickets WHERE id = ?`, id).Scan(&state); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("ticket store: remove: %w", err)
	}
	if State(state) != StateDeleted {
		return ErrInvalidTransition
	}

	if _, err := tx.Exec(`DELETE FROM tickets WHERE id = ?`, id); err != nil {
		return fmt.Errorf("ticket store: remove: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("ticket store: remove: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListOpen() ([]*Ticket, error) {
	rows, err := s.db.Query(`SELECT id, owner, reason, channel, state, created_at FROM tickets WHERE state = 'open' ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("ticket store: list open: %w", err)
	}
	defer rows.Close()

	var open []*Ticket
	for rows.Next() {
		t, err := scanTicket(rows)
		if err != nil {
			return nil, fmt.Errorf("ticket store: list scan: %w", err)
		}
		open = append(open, t)
	}
	return open, rows.Err()
}

func (s *SQLiteStore) List() ([]*Ticket, error) {
	rows, err := s.db.Query(`SELECT id, owner, reason, channel, state, created_at FROM tickets ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("ticket store: list: %w", err)
	}
	defer rows.Close()

	var all []*Ticket
	for rows.Next() {
		t, err := scanTicket(rows)
		if err != nil {
			return nil, fmt.Errorf("ticket store: list scan: %w", err)
		}
		all = append(all, t)
	}
	return all, rows.Err()
}

// DB returns the underlying database connection (for testing or direct access).
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

type scannable interface {
	Scan(dest ...any) error
}

func scanTicket(row scannable) (*Ticket, error) {
	var t Ticket
	var owner, channel, state, createdAt string
	if err := row.Scan(&t.ID, &owner, &t.Reason, &channel, &state, &createdAt); err != nil {
		return nil, err
	}
	t.Owner = platform.UserRef(owner)
	t.Channel = platform.ChannelRef(channel)
	t.State = State(state)
	t.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return &t, nil
}
