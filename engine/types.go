/*
types.go - Core domain types for the ticket engine

PURPOSE:
  Defines the records the engine reads and writes: shows, tickets, users and
  the transition events that form each ticket's audit trail.

KEY TYPES:
  Show:        An event instance with a fixed capacity and a ticket pool
  Ticket:      One seat; the unit of inventory and of money
  SaleDetails: Buyer and payment facts recorded when a ticket is sold
  User:        A role-bearing identity (super, director, agent)
  Event:       Immutable record of one state change
  Subject:     The (id, role) pair supplied by the identity provider

WIRE VALUES:
  Ticket states and roles keep the values already stored by deployed
  systems and printed in reports (DISPONIBLE, VENDEDOR, ...). Do not
  rename them.

SEE ALSO:
  - state.go: Legal transitions between ticket states
  - store.go: Repository interface
*/
package engine

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type ShowID string
type TicketID string
type UserID string
type EventID string

// =============================================================================
// ROLES & SUBJECTS
// =============================================================================

// Role is the role claim carried by a user.
type Role string

const (
	RoleSuper    Role = "SUPER"
	RoleDirector Role = "ADMIN"
	RoleAgent    Role = "VENDEDOR"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleSuper, RoleDirector, RoleAgent:
		return true
	}
	return false
}

// Subject is the caller of an engine operation, as vouched for by the
// identity provider.
type Subject struct {
	ID   UserID
	Role Role
}

// SystemSubject is used by background jobs.
var SystemSubject = Subject{ID: "system", Role: RoleSuper}

// User is a person who can direct shows or hold ticket stock.
type User struct {
	ID        UserID
	Name      string
	Role      Role
	Contact   string
	Active    bool
	CreatedAt time.Time
}

// IsAgent reports whether u can hold ticket stock.
func (u User) IsAgent() bool {
	return u.Role == RoleAgent && u.Active
}

// =============================================================================
// SHOW
// =============================================================================

// ShowStatus tracks whether a show still accepts sales.
type ShowStatus string

const (
	ShowActive    ShowStatus = "ACTIVA"
	ShowConcluded ShowStatus = "CONCLUIDA"
	ShowRetired   ShowStatus = "RETIRADA"
)

// Show is one performance with a fixed ticket pool.
type Show struct {
	ID         ShowID
	Title      string
	Venue      string
	StartsAt   time.Time
	Capacity   int
	BasePrice  decimal.Decimal
	DirectorID UserID
	AgentIDs   []UserID
	Status     ShowStatus
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// HasAgent reports whether id has ever been given stock for this show.
func (s Show) HasAgent(id UserID) bool {
	for _, a := range s.AgentIDs {
		if a == id {
			return true
		}
	}
	return false
}

// =============================================================================
// TICKET
// =============================================================================

// SaleDetails records who bought a ticket and how it was paid.
// Nil until the ticket is reserved or reported sold.
type SaleDetails struct {
	BuyerName     string
	BuyerContact  string
	PaymentMethod string
	SoldAt        time.Time
}

// Ticket is a single seat. Code and ShowID never change after issue.
type Ticket struct {
	ID        TicketID
	Code      string
	ShowID    ShowID
	Seq       int // creation order within the show
	State     State
	OwnerID   UserID // empty when not held by an agent
	Price     decimal.Decimal
	Sale      *SaleDetails
	Retired   bool
	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// OwnedBy reports whether the ticket is held by agent id.
func (t Ticket) OwnedBy(id UserID) bool {
	return t.OwnerID != "" && t.OwnerID == id
}

// =============================================================================
// EVENTS
// =============================================================================

// EventType names the transition recorded by an Event.
type EventType string

const (
	EventIssued              EventType = "EMISION"
	EventAssigned            EventType = "ASIGNACION"
	EventReserved            EventType = "RESERVA"
	EventGuestReserved       EventType = "RESERVA_INVITADO"
	EventSaleReported        EventType = "REPORTE_VENTA"
	EventReservationReleased EventType = "LIBERACION"
	EventPaid                EventType = "COBRO_DIRECTOR"
	EventUsed                EventType = "SCAN"
	EventTransferred         EventType = "TRANSFER"
	EventAgentRemoved        EventType = "REMOVE_ACTOR"
	EventRetired             EventType = "BAJA"
)

// Event is one immutable entry of a ticket's history.
type Event struct {
	ID         EventID
	TicketID   TicketID
	TicketCode string
	ShowID     ShowID
	Type       EventType
	ActorID    UserID // who performed the operation
	FromOwner  UserID
	ToOwner    UserID
	FromState  State
	ToState    State
	At         time.Time
	Details    map[string]string
}
