/*
Package sqlite provides a SQLite-backed engine.TxRepository.

PURPOSE:
  Persists shows, tickets, their event history and users in a single SQLite
  file. Suitable for a single box-office node; PostgreSQL is the multi-node
  backend (store/postgres).

KEY TABLES:
  users:   Directors, agents and supers
  shows:   Show metadata, agent roster as a JSON array
  tickets: One row per issued ticket, versioned for compare-and-swap
  events:  Append-only ticket history

CONSTRAINTS:
  - tickets.code UNIQUE            -> ErrDuplicateCode
  - tickets(show_id, seq) UNIQUE   -> stable creation order per show
  - No UPDATE or DELETE on events outside Reset

COMPARE-AND-SWAP:
  UPDATE tickets SET ..., version = version + 1
   WHERE id = ? AND version = ?
  Zero affected rows means another writer got there first. The update and
  its event insert share one SQL transaction.

CONCURRENCY:
  SQLite allows one writer. The store holds a single connection and a mutex;
  WithTx keeps the mutex for the whole function and hands out a session
  bound to the open *sql.Tx, so reads inside a transaction never re-enter
  the lock.

TIME AND MONEY:
  Times are UTC text in a fixed-width layout so they sort lexically.
  Prices are decimal text (shopspring/decimal implements sql.Scanner).

USAGE:
  store, err := sqlite.New("./data/tickets.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  eng := engine.New(store, codec)

SEE ALSO:
  - engine/store.go: Interface definitions
  - engine/store/memory.go: In-memory implementation for testing
  - store/postgres: PostgreSQL implementation
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/warp/ticket-engine/engine"
)

// timeLayout is fixed width so TEXT ordering equals chronological ordering.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// Store implements engine.TxRepository using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection: an in-memory database lives per connection, and
	// SQLite serializes writers anyway.
	db.SetMaxOpenConns(1)

	store, err := NewWithDB(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// NewWithDB wraps an already opened database and migrates it.
func NewWithDB(db *sql.DB) (*Store, error) {
	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		role TEXT NOT NULL,
		contact TEXT NOT NULL DEFAULT '',
		active INTEGER NOT NULL DEFAULT 1,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_users_role ON users(role);

	CREATE TABLE IF NOT EXISTS shows (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		venue TEXT NOT NULL DEFAULT '',
		starts_at TEXT NOT NULL,
		capacity INTEGER NOT NULL CHECK (capacity > 0),
		base_price TEXT NOT NULL,
		director_id TEXT NOT NULL,
		agent_ids TEXT NOT NULL DEFAULT '[]',
		status TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_shows_director ON shows(director_id);
	CREATE INDEX IF NOT EXISTS idx_shows_status_start ON shows(status, starts_at);

	CREATE TABLE IF NOT EXISTS tickets (
		id TEXT PRIMARY KEY,
		code TEXT NOT NULL UNIQUE,
		show_id TEXT NOT NULL REFERENCES shows(id),
		seq INTEGER NOT NULL,
		state TEXT NOT NULL,
		owner_id TEXT NOT NULL DEFAULT '',
		price TEXT NOT NULL,
		buyer_name TEXT,
		buyer_contact TEXT,
		payment_method TEXT,
		sold_at TEXT,
		retired INTEGER NOT NULL DEFAULT 0,
		version INTEGER NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		UNIQUE(show_id, seq)
	);

	-- Allocation hot path: DISPONIBLE tickets of a show in seq order
	CREATE INDEX IF NOT EXISTS idx_tickets_show_state_seq ON tickets(show_id, state, seq);
	CREATE INDEX IF NOT EXISTS idx_tickets_owner ON tickets(owner_id, state);

	CREATE TABLE IF NOT EXISTS events (
		id TEXT PRIMARY KEY,
		ticket_id TEXT NOT NULL,
		ticket_code TEXT NOT NULL,
		show_id TEXT NOT NULL,
		type TEXT NOT NULL,
		actor_id TEXT NOT NULL DEFAULT '',
		from_owner TEXT NOT NULL DEFAULT '',
		to_owner TEXT NOT NULL DEFAULT '',
		from_state TEXT NOT NULL DEFAULT '',
		to_state TEXT NOT NULL DEFAULT '',
		occurred_at TEXT NOT NULL,
		details TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_events_ticket ON events(ticket_id, occurred_at);
	CREATE INDEX IF NOT EXISTS idx_events_show ON events(show_id, occurred_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// REPOSITORY (locked entry points)
// =============================================================================

func (s *Store) read() *session {
	return &session{q: s.db}
}

func (s *Store) SaveShow(ctx context.Context, show engine.Show) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read().SaveShow(ctx, show)
}

func (s *Store) GetShow(ctx context.Context, id engine.ShowID) (engine.Show, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.read().GetShow(ctx, id)
}

func (s *Store) LockShow(ctx context.Context, id engine.ShowID) (engine.Show, error) {
	return s.GetShow(ctx, id)
}

func (s *Store) ListShows(ctx context.Context, filter engine.ShowFilter) ([]engine.Show, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.read().ListShows(ctx, filter)
}

// InsertTickets writes tickets and events in their own transaction.
func (s *Store) InsertTickets(ctx context.Context, tickets []engine.Ticket, events []engine.Event) error {
	return s.WithTx(ctx, func(repo engine.Repository) error {
		return repo.InsertTickets(ctx, tickets, events)
	})
}

func (s *Store) GetTicket(ctx context.Context, id engine.TicketID) (engine.Ticket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.read().GetTicket(ctx, id)
}

func (s *Store) GetTicketByCode(ctx context.Context, code string) (engine.Ticket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.read().GetTicketByCode(ctx, code)
}

func (s *Store) ListByShow(ctx context.Context, showID engine.ShowID) ([]engine.Ticket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.read().ListByShow(ctx, showID)
}

func (s *Store) ListTickets(ctx context.Context, filter engine.TicketFilter) ([]engine.Ticket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.read().ListTickets(ctx, filter)
}

func (s *Store) CodeExists(ctx context.Context, code string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.read().CodeExists(ctx, code)
}

// CompareAndSwap runs the versioned update and its event insert in one
// transaction.
func (s *Store) CompareAndSwap(ctx context.Context, expectedVersion int64, next engine.Ticket, ev engine.Event) error {
	return s.WithTx(ctx, func(repo engine.Repository) error {
		return repo.CompareAndSwap(ctx, expectedVersion, next, ev)
	})
}

func (s *Store) ListEvents(ctx context.Context, filter engine.EventFilter) ([]engine.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.read().ListEvents(ctx, filter)
}

func (s *Store) InsertUser(ctx context.Context, user engine.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read().InsertUser(ctx, user)
}

func (s *Store) SaveUser(ctx context.Context, user engine.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read().SaveUser(ctx, user)
}

func (s *Store) GetUser(ctx context.Context, id engine.UserID) (engine.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.read().GetUser(ctx, id)
}

func (s *Store) ListUsers(ctx context.Context, filter engine.UserFilter) ([]engine.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.read().ListUsers(ctx, filter)
}

// =============================================================================
// TRANSACTIONAL STORE (engine.TxRepository interface)
// =============================================================================

// WithTx executes a function within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(engine.Repository) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&session{q: sqlTx}); err != nil {
		return err
	}
	return sqlTx.Commit()
}

// Reset clears all data (for testing/demo).
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tables := []string{"events", "tickets", "shows", "users"}
	for _, table := range tables {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return err
		}
	}
	return nil
}

// =============================================================================
// SESSION (unlocked; bound to the db or an open transaction)
// =============================================================================

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type session struct {
	q querier
}

type scanner interface {
	Scan(dest ...any) error
}

// --- shows ---

const showColumns = `id, title, venue, starts_at, capacity, base_price, director_id, agent_ids, status, created_at, updated_at`

func (ss *session) SaveShow(ctx context.Context, show engine.Show) error {
	agents, err := json.Marshal(agentIDs(show.AgentIDs))
	if err != nil {
		return err
	}
	_, err = ss.q.ExecContext(ctx, `
		INSERT INTO shows (`+showColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			venue = excluded.venue,
			starts_at = excluded.starts_at,
			capacity = excluded.capacity,
			base_price = excluded.base_price,
			director_id = excluded.director_id,
			agent_ids = excluded.agent_ids,
			status = excluded.status,
			updated_at = excluded.updated_at
	`,
		show.ID,
		show.Title,
		show.Venue,
		formatTime(show.StartsAt),
		show.Capacity,
		show.BasePrice.String(),
		show.DirectorID,
		string(agents),
		show.Status,
		formatTime(show.CreatedAt),
		formatTime(show.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save show: %w", err)
	}
	return nil
}

func (ss *session) GetShow(ctx context.Context, id engine.ShowID) (engine.Show, error) {
	row := ss.q.QueryRowContext(ctx, `SELECT `+showColumns+` FROM shows WHERE id = ?`, id)
	show, err := scanShow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return engine.Show{}, engine.ErrShowNotFound
	}
	return show, err
}

// LockShow is a plain read: the write transaction already excludes other
// writers.
func (ss *session) LockShow(ctx context.Context, id engine.ShowID) (engine.Show, error) {
	return ss.GetShow(ctx, id)
}

func (ss *session) ListShows(ctx context.Context, f engine.ShowFilter) ([]engine.Show, error) {
	var where []string
	var args []any
	if f.DirectorID != "" {
		where = append(where, "director_id = ?")
		args = append(args, f.DirectorID)
	}
	if f.AgentID != "" {
		where = append(where, "EXISTS (SELECT 1 FROM json_each(shows.agent_ids) WHERE json_each.value = ?)")
		args = append(args, f.AgentID)
	}
	if len(f.Statuses) > 0 {
		where = append(where, "status IN ("+placeholders(len(f.Statuses))+")")
		for _, st := range f.Statuses {
			args = append(args, st)
		}
	}
	if !f.StartsBefore.IsZero() {
		where = append(where, "starts_at < ?")
		args = append(args, formatTime(f.StartsBefore))
	}

	rows, err := ss.q.QueryContext(ctx, `SELECT `+showColumns+` FROM shows`+whereClause(where)+` ORDER BY starts_at, id`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []engine.Show
	for rows.Next() {
		show, err := scanShow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, show)
	}
	return out, rows.Err()
}

func scanShow(row scanner) (engine.Show, error) {
	var (
		show                 engine.Show
		startsAt, agentsJSON string
		createdAt, updatedAt string
	)
	err := row.Scan(
		&show.ID,
		&show.Title,
		&show.Venue,
		&startsAt,
		&show.Capacity,
		&show.BasePrice,
		&show.DirectorID,
		&agentsJSON,
		&show.Status,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return engine.Show{}, err
	}
	if err := json.Unmarshal([]byte(agentsJSON), &show.AgentIDs); err != nil {
		return engine.Show{}, fmt.Errorf("invalid agent roster for show %s: %w", show.ID, err)
	}
	if len(show.AgentIDs) == 0 {
		show.AgentIDs = nil
	}
	show.StartsAt = parseTime(startsAt)
	show.CreatedAt = parseTime(createdAt)
	show.UpdatedAt = parseTime(updatedAt)
	return show, nil
}

// --- tickets ---

const ticketColumns = `id, code, show_id, seq, state, owner_id, price, buyer_name, buyer_contact,
	payment_method, sold_at, retired, version, created_at, updated_at`

func (ss *session) InsertTickets(ctx context.Context, tickets []engine.Ticket, events []engine.Event) error {
	for _, t := range tickets {
		buyer, contact, method, soldAt := saleColumns(t.Sale)
		_, err := ss.q.ExecContext(ctx, `
			INSERT INTO tickets (`+ticketColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`,
			t.ID,
			t.Code,
			t.ShowID,
			t.Seq,
			t.State,
			t.OwnerID,
			t.Price.String(),
			buyer,
			contact,
			method,
			soldAt,
			t.Retired,
			t.Version,
			formatTime(t.CreatedAt),
			formatTime(t.UpdatedAt),
		)
		if err != nil {
			if isUniqueConstraintError(err) && strings.Contains(err.Error(), "tickets.code") {
				return engine.ErrDuplicateCode
			}
			return fmt.Errorf("failed to insert ticket: %w", err)
		}
	}
	for _, ev := range events {
		if err := ss.insertEvent(ctx, ev); err != nil {
			return err
		}
	}
	return nil
}

func (ss *session) GetTicket(ctx context.Context, id engine.TicketID) (engine.Ticket, error) {
	return ss.getTicket(ctx, `SELECT `+ticketColumns+` FROM tickets WHERE id = ?`, id)
}

func (ss *session) GetTicketByCode(ctx context.Context, code string) (engine.Ticket, error) {
	return ss.getTicket(ctx, `SELECT `+ticketColumns+` FROM tickets WHERE code = ?`, code)
}

func (ss *session) getTicket(ctx context.Context, query string, arg any) (engine.Ticket, error) {
	t, err := scanTicket(ss.q.QueryRowContext(ctx, query, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return engine.Ticket{}, engine.ErrTicketNotFound
	}
	return t, err
}

func (ss *session) ListByShow(ctx context.Context, showID engine.ShowID) ([]engine.Ticket, error) {
	return ss.ListTickets(ctx, engine.TicketFilter{ShowID: showID})
}

// ListTickets filters in SQL on show, owner and state. The free-text query
// is applied afterwards because SQLite's LOWER only folds ASCII.
func (ss *session) ListTickets(ctx context.Context, f engine.TicketFilter) ([]engine.Ticket, error) {
	var where []string
	var args []any
	if f.ShowID != "" {
		where = append(where, "show_id = ?")
		args = append(args, f.ShowID)
	}
	if f.OwnerID != "" {
		where = append(where, "owner_id = ?")
		args = append(args, f.OwnerID)
	}
	if len(f.States) > 0 {
		where = append(where, "state IN ("+placeholders(len(f.States))+")")
		for _, st := range f.States {
			args = append(args, st)
		}
	}

	rows, err := ss.q.QueryContext(ctx, `SELECT `+ticketColumns+` FROM tickets`+whereClause(where)+` ORDER BY show_id, seq`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []engine.Ticket
	for rows.Next() {
		t, err := scanTicket(rows)
		if err != nil {
			return nil, err
		}
		if f.MatchesQuery(t) {
			out = append(out, t)
		}
	}
	return out, rows.Err()
}

func (ss *session) CodeExists(ctx context.Context, code string) (bool, error) {
	var n int
	err := ss.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM tickets WHERE code = ?`, code).Scan(&n)
	return n > 0, err
}

func (ss *session) CompareAndSwap(ctx context.Context, expectedVersion int64, next engine.Ticket, ev engine.Event) error {
	buyer, contact, method, soldAt := saleColumns(next.Sale)
	res, err := ss.q.ExecContext(ctx, `
		UPDATE tickets SET
			state = ?, owner_id = ?, price = ?,
			buyer_name = ?, buyer_contact = ?, payment_method = ?, sold_at = ?,
			retired = ?, version = version + 1, updated_at = ?
		WHERE id = ? AND version = ?
	`,
		next.State,
		next.OwnerID,
		next.Price.String(),
		buyer,
		contact,
		method,
		soldAt,
		next.Retired,
		formatTime(next.UpdatedAt),
		next.ID,
		expectedVersion,
	)
	if err != nil {
		return fmt.Errorf("failed to update ticket: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		exists, err := ss.ticketExists(ctx, next.ID)
		if err != nil {
			return err
		}
		if !exists {
			return engine.ErrTicketNotFound
		}
		return engine.ErrConcurrentModification
	}
	return ss.insertEvent(ctx, ev)
}

func (ss *session) ticketExists(ctx context.Context, id engine.TicketID) (bool, error) {
	var n int
	err := ss.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM tickets WHERE id = ?`, id).Scan(&n)
	return n > 0, err
}

func scanTicket(row scanner) (engine.Ticket, error) {
	var (
		t                      engine.Ticket
		buyer, contact, method sql.NullString
		soldAt                 sql.NullString
		retired                bool
		createdAt, updatedAt   string
	)
	err := row.Scan(
		&t.ID,
		&t.Code,
		&t.ShowID,
		&t.Seq,
		&t.State,
		&t.OwnerID,
		&t.Price,
		&buyer,
		&contact,
		&method,
		&soldAt,
		&retired,
		&t.Version,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return engine.Ticket{}, err
	}
	if buyer.Valid {
		t.Sale = &engine.SaleDetails{
			BuyerName:     buyer.String,
			BuyerContact:  contact.String,
			PaymentMethod: method.String,
			SoldAt:        parseTime(soldAt.String),
		}
	}
	t.Retired = retired
	t.CreatedAt = parseTime(createdAt)
	t.UpdatedAt = parseTime(updatedAt)
	return t, nil
}

func saleColumns(sale *engine.SaleDetails) (buyer, contact, method, soldAt sql.NullString) {
	if sale == nil {
		return
	}
	return sql.NullString{String: sale.BuyerName, Valid: true},
		sql.NullString{String: sale.BuyerContact, Valid: true},
		sql.NullString{String: sale.PaymentMethod, Valid: true},
		sql.NullString{String: formatTime(sale.SoldAt), Valid: true}
}

// --- events ---

const eventColumns = `id, ticket_id, ticket_code, show_id, type, actor_id, from_owner, to_owner, from_state, to_state, occurred_at, details`

func (ss *session) insertEvent(ctx context.Context, ev engine.Event) error {
	var details sql.NullString
	if len(ev.Details) > 0 {
		raw, err := json.Marshal(ev.Details)
		if err != nil {
			return err
		}
		details = sql.NullString{String: string(raw), Valid: true}
	}
	_, err := ss.q.ExecContext(ctx, `INSERT INTO events (`+eventColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.ID,
		ev.TicketID,
		ev.TicketCode,
		ev.ShowID,
		ev.Type,
		ev.ActorID,
		ev.FromOwner,
		ev.ToOwner,
		ev.FromState,
		ev.ToState,
		formatTime(ev.At),
		details,
	)
	if err != nil {
		return fmt.Errorf("failed to append event: %w", err)
	}
	return nil
}

func (ss *session) ListEvents(ctx context.Context, f engine.EventFilter) ([]engine.Event, error) {
	var where []string
	var args []any
	if f.TicketID != "" {
		where = append(where, "ticket_id = ?")
		args = append(args, f.TicketID)
	}
	if f.ShowID != "" {
		where = append(where, "show_id = ?")
		args = append(args, f.ShowID)
	}
	if f.ActorID != "" {
		where = append(where, "(actor_id = ? OR from_owner = ? OR to_owner = ?)")
		args = append(args, f.ActorID, f.ActorID, f.ActorID)
	}
	if len(f.Types) > 0 {
		where = append(where, "type IN ("+placeholders(len(f.Types))+")")
		for _, typ := range f.Types {
			args = append(args, typ)
		}
	}

	order := " ORDER BY occurred_at, rowid"
	if f.NewestFirst {
		order = " ORDER BY occurred_at DESC, rowid DESC"
	}
	query := `SELECT ` + eventColumns + ` FROM events` + whereClause(where) + order
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := ss.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []engine.Event
	for rows.Next() {
		var (
			ev      engine.Event
			at      string
			details sql.NullString
		)
		err := rows.Scan(
			&ev.ID,
			&ev.TicketID,
			&ev.TicketCode,
			&ev.ShowID,
			&ev.Type,
			&ev.ActorID,
			&ev.FromOwner,
			&ev.ToOwner,
			&ev.FromState,
			&ev.ToState,
			&at,
			&details,
		)
		if err != nil {
			return nil, err
		}
		ev.At = parseTime(at)
		if details.Valid {
			if err := json.Unmarshal([]byte(details.String), &ev.Details); err != nil {
				return nil, fmt.Errorf("invalid event details %s: %w", ev.ID, err)
			}
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

// --- users ---

func (ss *session) InsertUser(ctx context.Context, u engine.User) error {
	_, err := ss.q.ExecContext(ctx, `
		INSERT INTO users (id, name, role, contact, active, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, u.ID, u.Name, u.Role, u.Contact, u.Active, formatTime(u.CreatedAt))
	if err != nil {
		if isUniqueConstraintError(err) {
			return engine.ErrUserExists
		}
		return fmt.Errorf("failed to insert user: %w", err)
	}
	return nil
}

func (ss *session) SaveUser(ctx context.Context, u engine.User) error {
	_, err := ss.q.ExecContext(ctx, `
		INSERT INTO users (id, name, role, contact, active, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			role = excluded.role,
			contact = excluded.contact,
			active = excluded.active
	`, u.ID, u.Name, u.Role, u.Contact, u.Active, formatTime(u.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to save user: %w", err)
	}
	return nil
}

func (ss *session) GetUser(ctx context.Context, id engine.UserID) (engine.User, error) {
	row := ss.q.QueryRowContext(ctx, `SELECT id, name, role, contact, active, created_at FROM users WHERE id = ?`, id)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return engine.User{}, engine.ErrUserNotFound
	}
	return u, err
}

func (ss *session) ListUsers(ctx context.Context, f engine.UserFilter) ([]engine.User, error) {
	var where []string
	var args []any
	if f.Role != "" {
		where = append(where, "role = ?")
		args = append(args, f.Role)
	}
	if f.ActiveOnly {
		where = append(where, "active = 1")
	}
	rows, err := ss.q.QueryContext(ctx, `SELECT id, name, role, contact, active, created_at FROM users`+whereClause(where)+` ORDER BY id`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []engine.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func scanUser(row scanner) (engine.User, error) {
	var (
		u         engine.User
		createdAt string
	)
	if err := row.Scan(&u.ID, &u.Name, &u.Role, &u.Contact, &u.Active, &createdAt); err != nil {
		return engine.User{}, err
	}
	u.CreatedAt = parseTime(createdAt)
	return u, nil
}

// =============================================================================
// HELPERS
// =============================================================================

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		t, _ = time.Parse(time.RFC3339Nano, s)
	}
	return t.UTC()
}

func agentIDs(ids []engine.UserID) []engine.UserID {
	if ids == nil {
		return []engine.UserID{}
	}
	return ids
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func whereClause(conds []string) string {
	if len(conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(conds, " AND ")
}

func isUniqueConstraintError(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

var _ engine.TxRepository = (*Store)(nil)
