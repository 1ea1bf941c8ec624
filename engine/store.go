/*
store.go - Persistence interface for shows, tickets, events and users

PURPOSE:
  Defines the boundary between the engine and its storage. The engine never
  holds a ticket record across calls; it reads, decides, and writes back with
  CompareAndSwap, which is the only way ticket state changes.

KEY INTERFACES:
  Repository:   Reads and the versioned ticket write
  TxRepository: Repository plus WithTx for all-or-nothing batches

COMPARE-AND-SWAP:
  CompareAndSwap(ctx, expectedVersion, next, event) stores next and appends
  event in one atomic unit, but only if the stored ticket still carries
  expectedVersion. The stored version becomes expectedVersion+1. A lost race
  returns ErrConcurrentModification and changes nothing.

APPEND-ONLY EVENTS:
  Events are written only by InsertTickets and CompareAndSwap. There is no
  method to update or delete an event.

IMPLEMENTATIONS:
  - engine/store/memory.go: In-memory, for tests and single-node demos
  - store/sqlite/sqlite.go: SQLite
  - store/postgres/postgres.go: PostgreSQL (pgx)

SEE ALSO:
  - lifecycle.go, allocator.go: The only writers
*/
package engine

import (
	"context"
	"strings"
	"time"
)

// =============================================================================
// FILTERS
// =============================================================================

// ShowFilter narrows ListShows. Zero values match everything.
type ShowFilter struct {
	DirectorID   UserID
	AgentID      UserID
	Statuses     []ShowStatus
	StartsBefore time.Time
}

// TicketFilter narrows ListTickets. Results are ordered by show then Seq.
type TicketFilter struct {
	ShowID  ShowID
	OwnerID UserID
	States  []State
	// Query matches a code prefix or a case-insensitive buyer name substring.
	Query string
}

// MatchesQuery applies the Query part of the filter to t.
func (f TicketFilter) MatchesQuery(t Ticket) bool {
	q := strings.TrimSpace(f.Query)
	if q == "" {
		return true
	}
	if strings.HasPrefix(t.Code, strings.ToUpper(q)) {
		return true
	}
	return t.Sale != nil && strings.Contains(strings.ToLower(t.Sale.BuyerName), strings.ToLower(q))
}

// EventFilter narrows ListEvents. ActorID matches the performer or either owner.
type EventFilter struct {
	TicketID TicketID
	ShowID   ShowID
	ActorID  UserID
	Types    []EventType
	Limit    int
	// NewestFirst reverses the default chronological order.
	NewestFirst bool
}

// UserFilter narrows ListUsers.
type UserFilter struct {
	Role       Role
	ActiveOnly bool
}

// =============================================================================
// REPOSITORY
// =============================================================================

// Repository is the storage contract of the engine.
type Repository interface {
	SaveShow(ctx context.Context, show Show) error
	GetShow(ctx context.Context, id ShowID) (Show, error)
	// LockShow reads a show and, where the backend supports it, holds a row
	// lock on it until the surrounding transaction ends.
	LockShow(ctx context.Context, id ShowID) (Show, error)
	ListShows(ctx context.Context, filter ShowFilter) ([]Show, error)

	// InsertTickets stores newly issued tickets and their issue events.
	// Returns ErrDuplicateCode if any code already exists.
	InsertTickets(ctx context.Context, tickets []Ticket, events []Event) error
	GetTicket(ctx context.Context, id TicketID) (Ticket, error)
	GetTicketByCode(ctx context.Context, code string) (Ticket, error)
	// ListByShow returns a show's pool in stable creation order.
	ListByShow(ctx context.Context, showID ShowID) ([]Ticket, error)
	ListTickets(ctx context.Context, filter TicketFilter) ([]Ticket, error)
	CodeExists(ctx context.Context, code string) (bool, error)
	CompareAndSwap(ctx context.Context, expectedVersion int64, next Ticket, ev Event) error

	ListEvents(ctx context.Context, filter EventFilter) ([]Event, error)

	// InsertUser registers a new user. Returns ErrUserExists if the id is taken.
	InsertUser(ctx context.Context, user User) error
	SaveUser(ctx context.Context, user User) error
	GetUser(ctx context.Context, id UserID) (User, error)
	ListUsers(ctx context.Context, filter UserFilter) ([]User, error)
}

// TxRepository wraps Repository with transaction support.
type TxRepository interface {
	Repository

	// WithTx executes fn within a transaction.
	// If fn returns error, every write made through the passed Repository
	// is rolled back.
	WithTx(ctx context.Context, fn func(Repository) error) error
}
