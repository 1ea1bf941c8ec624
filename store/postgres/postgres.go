/*
Package postgres provides a PostgreSQL-backed engine.TxRepository using pgx.

PURPOSE:
  The multi-node backend. Several engine processes may share one database;
  row locks and version checks replace the in-process mutex of the SQLite
  and memory stores.

CONCURRENCY:
  - LockShow inside a transaction is SELECT ... FOR UPDATE on the show row,
    which serializes allocators of the same show across processes.
  - CompareAndSwap is UPDATE ... WHERE id = $1 AND version = $2. Zero rows
    means a lost race and surfaces as engine.ErrConcurrentModification.

MONEY:
  Prices are NUMERIC(12,2). Values travel as text (decimal.String() in,
  price::text out) so no float conversion happens on either side.

SCHEMA:
  Managed by store/postgres/migrations (embedded SQL, advisory-locked).

USAGE:
  pool, _ := pgxpool.New(ctx, dsn)
  _ = migrations.Apply(ctx, pool)
  store := postgres.New(pool)
*/
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/warp/ticket-engine/engine"
)

// Store implements engine.TxRepository on a pgx pool.
type Store struct {
	pool *pgxpool.Pool
}

// New wraps a pool. The schema must already be migrated.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases the pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// Reset clears all data (for testing/demo). TRUNCATE bypasses the
// append-only trigger on ticket_events.
func (s *Store) Reset(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `TRUNCATE ticket_events, tickets, shows, users RESTART IDENTITY`)
	return err
}

func (s *Store) conn() *session {
	return &session{db: s.pool}
}

func (s *Store) SaveShow(ctx context.Context, show engine.Show) error {
	return s.conn().SaveShow(ctx, show)
}

func (s *Store) GetShow(ctx context.Context, id engine.ShowID) (engine.Show, error) {
	return s.conn().GetShow(ctx, id)
}

// LockShow outside a transaction is a plain read.
func (s *Store) LockShow(ctx context.Context, id engine.ShowID) (engine.Show, error) {
	return s.conn().GetShow(ctx, id)
}

func (s *Store) ListShows(ctx context.Context, filter engine.ShowFilter) ([]engine.Show, error) {
	return s.conn().ListShows(ctx, filter)
}

func (s *Store) InsertTickets(ctx context.Context, tickets []engine.Ticket, events []engine.Event) error {
	return s.WithTx(ctx, func(repo engine.Repository) error {
		return repo.InsertTickets(ctx, tickets, events)
	})
}

func (s *Store) GetTicket(ctx context.Context, id engine.TicketID) (engine.Ticket, error) {
	return s.conn().GetTicket(ctx, id)
}

func (s *Store) GetTicketByCode(ctx context.Context, code string) (engine.Ticket, error) {
	return s.conn().GetTicketByCode(ctx, code)
}

func (s *Store) ListByShow(ctx context.Context, showID engine.ShowID) ([]engine.Ticket, error) {
	return s.conn().ListByShow(ctx, showID)
}

func (s *Store) ListTickets(ctx context.Context, filter engine.TicketFilter) ([]engine.Ticket, error) {
	return s.conn().ListTickets(ctx, filter)
}

func (s *Store) CodeExists(ctx context.Context, code string) (bool, error) {
	return s.conn().CodeExists(ctx, code)
}

func (s *Store) CompareAndSwap(ctx context.Context, expectedVersion int64, next engine.Ticket, ev engine.Event) error {
	return s.WithTx(ctx, func(repo engine.Repository) error {
		return repo.CompareAndSwap(ctx, expectedVersion, next, ev)
	})
}

func (s *Store) ListEvents(ctx context.Context, filter engine.EventFilter) ([]engine.Event, error) {
	return s.conn().ListEvents(ctx, filter)
}

func (s *Store) InsertUser(ctx context.Context, user engine.User) error {
	return s.conn().InsertUser(ctx, user)
}

func (s *Store) SaveUser(ctx context.Context, user engine.User) error {
	return s.conn().SaveUser(ctx, user)
}

func (s *Store) GetUser(ctx context.Context, id engine.UserID) (engine.User, error) {
	return s.conn().GetUser(ctx, id)
}

func (s *Store) ListUsers(ctx context.Context, filter engine.UserFilter) ([]engine.User, error) {
	return s.conn().ListUsers(ctx, filter)
}

// WithTx runs fn in a READ COMMITTED transaction. Correctness comes from
// the show row lock and the ticket version check, not from isolation level.
func (s *Store) WithTx(ctx context.Context, fn func(engine.Repository) error) error {
	return withTx(ctx, s.pool, func(tx pgx.Tx) error {
		return fn(&session{db: tx, inTx: true})
	})
}

func withTx(ctx context.Context, pool *pgxpool.Pool, fn func(pgx.Tx) error) error {
	tx, err := pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	return tx.Commit(ctx)
}

// =============================================================================
// SESSION
// =============================================================================

type dbtx interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type session struct {
	db   dbtx
	inTx bool
}

// params collects positional arguments and hands out their placeholders.
type params []any

func (p *params) add(v any) string {
	*p = append(*p, v)
	return "$" + strconv.Itoa(len(*p))
}

func whereClause(conds []string) string {
	if len(conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(conds, " AND ")
}

// --- shows ---

const showColumns = `id, title, venue, starts_at, capacity, base_price::text, director_id, agent_ids, status, created_at, updated_at`

func (ss *session) SaveShow(ctx context.Context, show engine.Show) error {
	agents := make([]string, 0, len(show.AgentIDs))
	for _, id := range show.AgentIDs {
		agents = append(agents, string(id))
	}
	const query = `
INSERT INTO shows (id, title, venue, starts_at, capacity, base_price, director_id, agent_ids, status, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6::numeric, $7, $8, $9, $10, $11)
ON CONFLICT (id) DO UPDATE SET
	title = EXCLUDED.title,
	venue = EXCLUDED.venue,
	starts_at = EXCLUDED.starts_at,
	capacity = EXCLUDED.capacity,
	base_price = EXCLUDED.base_price,
	director_id = EXCLUDED.director_id,
	agent_ids = EXCLUDED.agent_ids,
	status = EXCLUDED.status,
	updated_at = EXCLUDED.updated_at`
	_, err := ss.db.Exec(ctx, query,
		string(show.ID), show.Title, show.Venue, show.StartsAt, show.Capacity,
		show.BasePrice.String(), string(show.DirectorID), agents, string(show.Status),
		show.CreatedAt, show.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("save show: %w", err)
	}
	return nil
}

func (ss *session) GetShow(ctx context.Context, id engine.ShowID) (engine.Show, error) {
	show, err := scanShow(ss.db.QueryRow(ctx, `SELECT `+showColumns+` FROM shows WHERE id = $1`, string(id)))
	if errors.Is(err, pgx.ErrNoRows) {
		return engine.Show{}, engine.ErrShowNotFound
	}
	if err != nil {
		return engine.Show{}, fmt.Errorf("get show: %w", err)
	}
	return show, nil
}

func (ss *session) LockShow(ctx context.Context, id engine.ShowID) (engine.Show, error) {
	if !ss.inTx {
		return ss.GetShow(ctx, id)
	}
	show, err := scanShow(ss.db.QueryRow(ctx, `SELECT `+showColumns+` FROM shows WHERE id = $1 FOR UPDATE`, string(id)))
	if errors.Is(err, pgx.ErrNoRows) {
		return engine.Show{}, engine.ErrShowNotFound
	}
	if err != nil {
		return engine.Show{}, fmt.Errorf("lock show: %w", err)
	}
	return show, nil
}

func (ss *session) ListShows(ctx context.Context, f engine.ShowFilter) ([]engine.Show, error) {
	var (
		p     params
		where []string
	)
	if f.DirectorID != "" {
		where = append(where, "director_id = "+p.add(string(f.DirectorID)))
	}
	if f.AgentID != "" {
		where = append(where, p.add(string(f.AgentID))+" = ANY(agent_ids)")
	}
	if len(f.Statuses) > 0 {
		statuses := make([]string, len(f.Statuses))
		for i, st := range f.Statuses {
			statuses[i] = string(st)
		}
		where = append(where, "status = ANY("+p.add(statuses)+")")
	}
	if !f.StartsBefore.IsZero() {
		where = append(where, "starts_at < "+p.add(f.StartsBefore))
	}

	rows, err := ss.db.Query(ctx, `SELECT `+showColumns+` FROM shows`+whereClause(where)+` ORDER BY starts_at, id`, p...)
	if err != nil {
		return nil, fmt.Errorf("list shows: %w", err)
	}
	defer rows.Close()

	var out []engine.Show
	for rows.Next() {
		show, err := scanShow(rows)
		if err != nil {
			return nil, fmt.Errorf("scan show: %w", err)
		}
		out = append(out, show)
	}
	return out, rows.Err()
}

func scanShow(row pgx.Row) (engine.Show, error) {
	var (
		show                        engine.Show
		id, director, status, price string
		agents                      []string
	)
	err := row.Scan(&id, &show.Title, &show.Venue, &show.StartsAt, &show.Capacity,
		&price, &director, &agents, &status, &show.CreatedAt, &show.UpdatedAt)
	if err != nil {
		return engine.Show{}, err
	}
	show.ID = engine.ShowID(id)
	show.DirectorID = engine.UserID(director)
	show.Status = engine.ShowStatus(status)
	if show.BasePrice, err = decimal.NewFromString(price); err != nil {
		return engine.Show{}, err
	}
	for _, a := range agents {
		show.AgentIDs = append(show.AgentIDs, engine.UserID(a))
	}
	show.StartsAt = show.StartsAt.UTC()
	show.CreatedAt = show.CreatedAt.UTC()
	show.UpdatedAt = show.UpdatedAt.UTC()
	return show, nil
}

// --- tickets ---

const ticketColumns = `id, code, show_id, seq, state, owner_id, price::text, buyer_name, buyer_contact,
	payment_method, sold_at, retired, version, created_at, updated_at`

func (ss *session) InsertTickets(ctx context.Context, tickets []engine.Ticket, events []engine.Event) error {
	const query = `
INSERT INTO tickets (id, code, show_id, seq, state, owner_id, price, buyer_name, buyer_contact,
	payment_method, sold_at, retired, version, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7::numeric, $8, $9, $10, $11, $12, $13, $14, $15)`

	batch := &pgx.Batch{}
	for _, t := range tickets {
		buyer, contact, method, soldAt := saleColumns(t.Sale)
		batch.Queue(query,
			string(t.ID), t.Code, string(t.ShowID), t.Seq, string(t.State), string(t.OwnerID),
			t.Price.String(), buyer, contact, method, soldAt, t.Retired, t.Version,
			t.CreatedAt, t.UpdatedAt,
		)
	}
	for _, ev := range events {
		query, args, err := eventInsert(ev)
		if err != nil {
			return err
		}
		batch.Queue(query, args...)
	}
	if batch.Len() == 0 {
		return nil
	}

	tx, ok := ss.db.(pgx.Tx)
	if !ok {
		return errors.New("insert tickets: batch requires a transaction")
	}
	results := tx.SendBatch(ctx, batch)
	for i := 0; i < batch.Len(); i++ {
		if _, err := results.Exec(); err != nil {
			results.Close()
			if isUniqueViolation(err, "tickets_code_key") {
				return engine.ErrDuplicateCode
			}
			return fmt.Errorf("insert tickets: %w", err)
		}
	}
	return results.Close()
}

func (ss *session) GetTicket(ctx context.Context, id engine.TicketID) (engine.Ticket, error) {
	return ss.getTicket(ctx, `SELECT `+ticketColumns+` FROM tickets WHERE id = $1`, string(id))
}

func (ss *session) GetTicketByCode(ctx context.Context, code string) (engine.Ticket, error) {
	return ss.getTicket(ctx, `SELECT `+ticketColumns+` FROM tickets WHERE code = $1`, code)
}

func (ss *session) getTicket(ctx context.Context, query string, arg any) (engine.Ticket, error) {
	t, err := scanTicket(ss.db.QueryRow(ctx, query, arg))
	if errors.Is(err, pgx.ErrNoRows) {
		return engine.Ticket{}, engine.ErrTicketNotFound
	}
	if err != nil {
		return engine.Ticket{}, fmt.Errorf("get ticket: %w", err)
	}
	return t, nil
}

func (ss *session) ListByShow(ctx context.Context, showID engine.ShowID) ([]engine.Ticket, error) {
	return ss.ListTickets(ctx, engine.TicketFilter{ShowID: showID})
}

func (ss *session) ListTickets(ctx context.Context, f engine.TicketFilter) ([]engine.Ticket, error) {
	var (
		p     params
		where []string
	)
	if f.ShowID != "" {
		where = append(where, "show_id = "+p.add(string(f.ShowID)))
	}
	if f.OwnerID != "" {
		where = append(where, "owner_id = "+p.add(string(f.OwnerID)))
	}
	if len(f.States) > 0 {
		states := make([]string, len(f.States))
		for i, st := range f.States {
			states[i] = string(st)
		}
		where = append(where, "state = ANY("+p.add(states)+")")
	}
	if q := strings.TrimSpace(f.Query); q != "" {
		ph := p.add(q)
		where = append(where, "(starts_with(code, upper("+ph+")) OR strpos(lower(coalesce(buyer_name, '')), lower("+ph+")) > 0)")
	}

	rows, err := ss.db.Query(ctx, `SELECT `+ticketColumns+` FROM tickets`+whereClause(where)+` ORDER BY show_id, seq`, p...)
	if err != nil {
		return nil, fmt.Errorf("list tickets: %w", err)
	}
	defer rows.Close()

	var out []engine.Ticket
	for rows.Next() {
		t, err := scanTicket(rows)
		if err != nil {
			return nil, fmt.Errorf("scan ticket: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (ss *session) CodeExists(ctx context.Context, code string) (bool, error) {
	var exists bool
	err := ss.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM tickets WHERE code = $1)`, code).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("code exists: %w", err)
	}
	return exists, nil
}

func (ss *session) CompareAndSwap(ctx context.Context, expectedVersion int64, next engine.Ticket, ev engine.Event) error {
	buyer, contact, method, soldAt := saleColumns(next.Sale)
	const query = `
UPDATE tickets SET
	state = $1, owner_id = $2, price = $3::numeric,
	buyer_name = $4, buyer_contact = $5, payment_method = $6, sold_at = $7,
	retired = $8, version = version + 1, updated_at = $9
WHERE id = $10 AND version = $11`
	tag, err := ss.db.Exec(ctx, query,
		string(next.State), string(next.OwnerID), next.Price.String(),
		buyer, contact, method, soldAt,
		next.Retired, next.UpdatedAt, string(next.ID), expectedVersion,
	)
	if err != nil {
		return fmt.Errorf("update ticket: %w", err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := ss.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM tickets WHERE id = $1)`, string(next.ID)).Scan(&exists); err != nil {
			return fmt.Errorf("check ticket: %w", err)
		}
		if !exists {
			return engine.ErrTicketNotFound
		}
		return engine.ErrConcurrentModification
	}

	query2, args, err := eventInsert(ev)
	if err != nil {
		return err
	}
	if _, err := ss.db.Exec(ctx, query2, args...); err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	return nil
}

func scanTicket(row pgx.Row) (engine.Ticket, error) {
	var (
		t                             engine.Ticket
		id, show, state, owner, price string
		buyer, contact, method        *string
		soldAt                        *time.Time
	)
	err := row.Scan(&id, &t.Code, &show, &t.Seq, &state, &owner, &price,
		&buyer, &contact, &method, &soldAt, &t.Retired, &t.Version, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return engine.Ticket{}, err
	}
	t.ID = engine.TicketID(id)
	t.ShowID = engine.ShowID(show)
	t.State = engine.State(state)
	t.OwnerID = engine.UserID(owner)
	if t.Price, err = decimal.NewFromString(price); err != nil {
		return engine.Ticket{}, err
	}
	if buyer != nil {
		t.Sale = &engine.SaleDetails{BuyerName: *buyer}
		if contact != nil {
			t.Sale.BuyerContact = *contact
		}
		if method != nil {
			t.Sale.PaymentMethod = *method
		}
		if soldAt != nil {
			t.Sale.SoldAt = soldAt.UTC()
		}
	}
	t.CreatedAt = t.CreatedAt.UTC()
	t.UpdatedAt = t.UpdatedAt.UTC()
	return t, nil
}

func saleColumns(sale *engine.SaleDetails) (buyer, contact, method *string, soldAt *time.Time) {
	if sale == nil {
		return nil, nil, nil, nil
	}
	at := sale.SoldAt
	return &sale.BuyerName, &sale.BuyerContact, &sale.PaymentMethod, &at
}

// --- events ---

const eventColumns = `id, ticket_id, ticket_code, show_id, type, actor_id, from_owner, to_owner, from_state, to_state, occurred_at, details`

func eventInsert(ev engine.Event) (string, []any, error) {
	var details []byte
	if len(ev.Details) > 0 {
		raw, err := json.Marshal(ev.Details)
		if err != nil {
			return "", nil, err
		}
		details = raw
	}
	return `INSERT INTO ticket_events (` + eventColumns + `) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		[]any{
			string(ev.ID), string(ev.TicketID), ev.TicketCode, string(ev.ShowID), string(ev.Type),
			string(ev.ActorID), string(ev.FromOwner), string(ev.ToOwner),
			string(ev.FromState), string(ev.ToState), ev.At, details,
		}, nil
}

func (ss *session) ListEvents(ctx context.Context, f engine.EventFilter) ([]engine.Event, error) {
	var (
		p     params
		where []string
	)
	if f.TicketID != "" {
		where = append(where, "ticket_id = "+p.add(string(f.TicketID)))
	}
	if f.ShowID != "" {
		where = append(where, "show_id = "+p.add(string(f.ShowID)))
	}
	if f.ActorID != "" {
		ph := p.add(string(f.ActorID))
		where = append(where, "("+ph+" IN (actor_id, from_owner, to_owner))")
	}
	if len(f.Types) > 0 {
		types := make([]string, len(f.Types))
		for i, typ := range f.Types {
			types[i] = string(typ)
		}
		where = append(where, "type = ANY("+p.add(types)+")")
	}

	query := `SELECT ` + eventColumns + ` FROM ticket_events` + whereClause(where)
	if f.NewestFirst {
		query += ` ORDER BY occurred_at DESC, pos DESC`
	} else {
		query += ` ORDER BY occurred_at, pos`
	}
	if f.Limit > 0 {
		query += ` LIMIT ` + p.add(f.Limit)
	}

	rows, err := ss.db.Query(ctx, query, p...)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var out []engine.Event
	for rows.Next() {
		var (
			ev                                     engine.Event
			id, ticket, show, typ, actor           string
			fromOwner, toOwner, fromState, toState string
			details                                []byte
		)
		err := rows.Scan(&id, &ticket, &ev.TicketCode, &show, &typ, &actor,
			&fromOwner, &toOwner, &fromState, &toState, &ev.At, &details)
		if err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		ev.ID = engine.EventID(id)
		ev.TicketID = engine.TicketID(ticket)
		ev.ShowID = engine.ShowID(show)
		ev.Type = engine.EventType(typ)
		ev.ActorID = engine.UserID(actor)
		ev.FromOwner = engine.UserID(fromOwner)
		ev.ToOwner = engine.UserID(toOwner)
		ev.FromState = engine.State(fromState)
		ev.ToState = engine.State(toState)
		ev.At = ev.At.UTC()
		if len(details) > 0 {
			if err := json.Unmarshal(details, &ev.Details); err != nil {
				return nil, fmt.Errorf("decode event details %s: %w", id, err)
			}
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

// --- users ---

func (ss *session) InsertUser(ctx context.Context, u engine.User) error {
	createdAt := u.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	const query = `
INSERT INTO users (id, name, role, contact, active, created_at)
VALUES ($1, $2, $3, $4, $5, $6)`
	if _, err := ss.db.Exec(ctx, query, string(u.ID), u.Name, string(u.Role), u.Contact, u.Active, createdAt); err != nil {
		if isUniqueViolation(err, "users_pkey") {
			return engine.ErrUserExists
		}
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (ss *session) SaveUser(ctx context.Context, u engine.User) error {
	createdAt := u.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	const query = `
INSERT INTO users (id, name, role, contact, active, created_at)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (id) DO UPDATE SET
	name = EXCLUDED.name,
	role = EXCLUDED.role,
	contact = EXCLUDED.contact,
	active = EXCLUDED.active`
	if _, err := ss.db.Exec(ctx, query, string(u.ID), u.Name, string(u.Role), u.Contact, u.Active, createdAt); err != nil {
		return fmt.Errorf("save user: %w", err)
	}
	return nil
}

func (ss *session) GetUser(ctx context.Context, id engine.UserID) (engine.User, error) {
	u, err := scanUser(ss.db.QueryRow(ctx, `SELECT id, name, role, contact, active, created_at FROM users WHERE id = $1`, string(id)))
	if errors.Is(err, pgx.ErrNoRows) {
		return engine.User{}, engine.ErrUserNotFound
	}
	if err != nil {
		return engine.User{}, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

func (ss *session) ListUsers(ctx context.Context, f engine.UserFilter) ([]engine.User, error) {
	var (
		p     params
		where []string
	)
	if f.Role != "" {
		where = append(where, "role = "+p.add(string(f.Role)))
	}
	if f.ActiveOnly {
		where = append(where, "active")
	}
	rows, err := ss.db.Query(ctx, `SELECT id, name, role, contact, active, created_at FROM users`+whereClause(where)+` ORDER BY id`, p...)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	var out []engine.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func scanUser(row pgx.Row) (engine.User, error) {
	var (
		u        engine.User
		id, role string
	)
	if err := row.Scan(&id, &u.Name, &role, &u.Contact, &u.Active, &u.CreatedAt); err != nil {
		return engine.User{}, err
	}
	u.ID = engine.UserID(id)
	u.Role = engine.Role(role)
	u.CreatedAt = u.CreatedAt.UTC()
	return u, nil
}

func isUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505" &&
		(constraint == "" || pgErr.ConstraintName == constraint)
}

var _ engine.TxRepository = (*Store)(nil)
