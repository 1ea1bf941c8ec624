/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  JSON shapes of the HTTP API. Engine types carry no tags; everything
  crossing the wire goes through here. Money is serialized by
  shopspring/decimal as a quoted string ("1500.50") and accepted as a
  string or a number.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Small response wrappers

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/ticket-engine/engine"
)

// =============================================================================
// SHOWS & TICKETS
// =============================================================================

// ShowDTO represents a show in API responses.
type ShowDTO struct {
	ID         string          `json:"id"`
	Title      string          `json:"title"`
	Venue      string          `json:"venue"`
	StartsAt   time.Time       `json:"starts_at"`
	Capacity   int             `json:"capacity"`
	BasePrice  decimal.Decimal `json:"base_price"`
	DirectorID string          `json:"director_id"`
	AgentIDs   []string        `json:"agent_ids"`
	Status     string          `json:"status"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// CreateShowRequest is the request body for creating a show.
type CreateShowRequest struct {
	Title      string          `json:"title"`
	Venue      string          `json:"venue"`
	StartsAt   time.Time       `json:"starts_at"`
	Capacity   int             `json:"capacity"`
	BasePrice  decimal.Decimal `json:"base_price"`
	DirectorID string          `json:"director_id,omitempty"`
	Issue      *int            `json:"issue,omitempty"` // tickets minted now; omitted means all
}

// UpdateShowRequest changes only the fields present.
type UpdateShowRequest struct {
	Title     *string          `json:"title,omitempty"`
	Venue     *string          `json:"venue,omitempty"`
	StartsAt  *time.Time       `json:"starts_at,omitempty"`
	BasePrice *decimal.Decimal `json:"base_price,omitempty"`
	Capacity  *int             `json:"capacity,omitempty"`
}

// GenerateTicketsRequest issues more tickets for a show.
type GenerateTicketsRequest struct {
	Count int `json:"count"`
}

// SaleDTO describes the buyer of a ticket.
type SaleDTO struct {
	BuyerName     string    `json:"buyer_name"`
	BuyerContact  string    `json:"buyer_contact,omitempty"`
	PaymentMethod string    `json:"payment_method,omitempty"`
	SoldAt        time.Time `json:"sold_at"`
}

// TicketDTO represents a ticket in API responses.
type TicketDTO struct {
	ID        string          `json:"id"`
	Code      string          `json:"code"`
	ShowID    string          `json:"show_id"`
	Seq       int             `json:"seq"`
	State     string          `json:"state"`
	OwnerID   string          `json:"owner_id,omitempty"`
	Price     decimal.Decimal `json:"price"`
	Sale      *SaleDTO        `json:"sale,omitempty"`
	Retired   bool            `json:"retired"`
	Version   int64           `json:"version"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// EventDTO is one history entry.
type EventDTO struct {
	ID         string            `json:"id"`
	TicketID   string            `json:"ticket_id"`
	TicketCode string            `json:"ticket_code"`
	ShowID     string            `json:"show_id"`
	Type       string            `json:"type"`
	ActorID    string            `json:"actor_id"`
	FromOwner  string            `json:"from_owner,omitempty"`
	ToOwner    string            `json:"to_owner,omitempty"`
	FromState  string            `json:"from_state,omitempty"`
	ToState    string            `json:"to_state"`
	At         time.Time         `json:"at"`
	Details    map[string]string `json:"details,omitempty"`
}

// TicketDetailDTO is a ticket with its history.
type TicketDetailDTO struct {
	Ticket  TicketDTO  `json:"ticket"`
	History []EventDTO `json:"history"`
}

// =============================================================================
// LIFECYCLE REQUESTS
// =============================================================================

// AssignRequest hands count available tickets to an agent.
type AssignRequest struct {
	AgentID string `json:"agent_id"`
	Count   int    `json:"count"`
}

// SaleRequest reserves or reports a sale, depending on the configured flow.
type SaleRequest struct {
	BuyerName     string           `json:"buyer_name"`
	BuyerContact  string           `json:"buyer_contact,omitempty"`
	PaymentMethod string           `json:"payment_method,omitempty"`
	Price         *decimal.Decimal `json:"price,omitempty"`
}

// ReportSoldRequest confirms that a reservation was sold.
type ReportSoldRequest struct {
	Price         *decimal.Decimal `json:"price,omitempty"`
	PaymentMethod string           `json:"payment_method,omitempty"`
}

// TransferRequest moves a stock ticket between agents.
type TransferRequest struct {
	Code        string `json:"code"`
	FromAgentID string `json:"from_agent_id"`
	ToAgentID   string `json:"to_agent_id"`
	Reason      string `json:"reason,omitempty"`
}

// TransferDTO is one entry of an agent's transfer feed.
type TransferDTO struct {
	TicketID   string    `json:"ticket_id"`
	TicketCode string    `json:"ticket_code"`
	ShowID     string    `json:"show_id"`
	FromID     string    `json:"from_id"`
	FromName   string    `json:"from_name"`
	ToID       string    `json:"to_id"`
	ToName     string    `json:"to_name"`
	ByID       string    `json:"by_id"`
	Reason     string    `json:"reason,omitempty"`
	Direction  string    `json:"direction"` // "in" or "out" relative to the agent
	At         time.Time `json:"at"`
}

// ScanRequest is sent by door scanners.
type ScanRequest struct {
	Code string `json:"code"`
}

// ReceiptDTO describes an admitted ticket.
type ReceiptDTO struct {
	Code        string          `json:"code"`
	ShowID      string          `json:"show_id"`
	ShowTitle   string          `json:"show_title"`
	Venue       string          `json:"venue"`
	StartsAt    time.Time       `json:"starts_at"`
	SellerID    string          `json:"seller_id,omitempty"`
	SellerName  string          `json:"seller_name,omitempty"`
	BuyerName   string          `json:"buyer_name,omitempty"`
	Price       decimal.Decimal `json:"price"`
	ValidatedAt time.Time       `json:"validated_at"`
}

// ScanResultDTO is the door's answer. Rejections are 200 responses with
// ok=false; only authorization and storage failures are HTTP errors.
type ScanResultDTO struct {
	OK      bool        `json:"ok"`
	Reason  string      `json:"reason,omitempty"`
	Message string      `json:"message"`
	Receipt *ReceiptDTO `json:"receipt,omitempty"`
}

// ReleaseAgentResponse summarizes an agent removal.
type ReleaseAgentResponse struct {
	Returned    int  `json:"returned"`
	Deactivated bool `json:"deactivated"`
}

// PaidResponse reports a batch payment.
type PaidResponse struct {
	Paid int `json:"paid"`
}

// =============================================================================
// REPORTS
// =============================================================================

// CountsDTO tallies tickets by state.
type CountsDTO struct {
	Available    int `json:"available"`
	Stock        int `json:"stock"`
	Reserved     int `json:"reserved"`
	ReportedSold int `json:"reported_sold"`
	Paid         int `json:"paid"`
	Used         int `json:"used"`
	Issued       int `json:"issued"`
	Sold         int `json:"sold"`
	Unpaid       int `json:"unpaid"`
	Collected    int `json:"collected"`
}

// MoneyDTO holds derived amounts.
type MoneyDTO struct {
	Collected decimal.Decimal `json:"collected"`
	Debt      decimal.Decimal `json:"debt"`
	Reported  decimal.Decimal `json:"reported"`
}

// AgentSummaryDTO is one agent's position.
type AgentSummaryDTO struct {
	AgentID   string    `json:"agent_id"`
	AgentName string    `json:"agent_name"`
	Counts    CountsDTO `json:"counts"`
	Money     MoneyDTO  `json:"money"`
}

// ShowReportDTO is the reconciliation of one show.
type ShowReportDTO struct {
	Show       ShowDTO           `json:"show"`
	Counts     CountsDTO         `json:"counts"`
	Money      MoneyDTO          `json:"money"`
	Balanced   bool              `json:"balanced"`
	Attendance int               `json:"attendance"`
	Agents     []AgentSummaryDTO `json:"agents"`
	Debtors    []AgentSummaryDTO `json:"debtors"`
	TopSeller  *AgentSummaryDTO  `json:"top_seller,omitempty"`
}

// AgentShowLineDTO is an agent's position in one show.
type AgentShowLineDTO struct {
	ShowID    string          `json:"show_id"`
	ShowTitle string          `json:"show_title"`
	StartsAt  time.Time       `json:"starts_at"`
	Summary   AgentSummaryDTO `json:"summary"`
}

// AgentReportDTO is an agent's position across shows.
type AgentReportDTO struct {
	Agent UserDTO            `json:"agent"`
	Shows []AgentShowLineDTO `json:"shows"`
	Total AgentSummaryDTO    `json:"total"`
}

// =============================================================================
// USERS
// =============================================================================

// UserDTO represents a user in API responses.
type UserDTO struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Role      string    `json:"role"`
	Contact   string    `json:"contact,omitempty"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// CreateUserRequest registers a user.
type CreateUserRequest struct {
	ID      string `json:"id,omitempty"`
	Name    string `json:"name"`
	Role    string `json:"role"`
	Contact string `json:"contact,omitempty"`
}

// =============================================================================
// PUBLIC
// =============================================================================

// PublicShowDTO is the buyer-facing view of a show. Sellers is only filled
// on the detail route.
type PublicShowDTO struct {
	ID        string          `json:"id"`
	Title     string          `json:"title"`
	Venue     string          `json:"venue"`
	StartsAt  time.Time       `json:"starts_at"`
	BasePrice decimal.Decimal `json:"base_price"`
	Sellers   []SellerDTO     `json:"sellers,omitempty"`
}

// SellerDTO is an agent offering tickets to guests.
type SellerDTO struct {
	AgentID string `json:"agent_id"`
	Name    string `json:"name"`
	Stock   int    `json:"stock"`
}

// GuestReservationRequest holds a ticket with one agent.
type GuestReservationRequest struct {
	AgentID      string `json:"agent_id"`
	BuyerName    string `json:"buyer_name"`
	BuyerContact string `json:"buyer_contact"`
}

// GuestReservationDTO is returned to the guest. The ticket becomes valid at
// the door once the agent has collected and the director marked it paid.
type GuestReservationDTO struct {
	Code    string          `json:"code"`
	ShowID  string          `json:"show_id"`
	AgentID string          `json:"agent_id"`
	State   string          `json:"state"`
	Price   decimal.Decimal `json:"price"`
}

// =============================================================================
// SCENARIOS & ERRORS
// =============================================================================

// ScenarioDTO represents a demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// LoadScenarioRequest selects a scenario.
type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id"`
}

// LoadScenarioResponse lists bearer tokens for the seeded users.
type LoadScenarioResponse struct {
	Status   string            `json:"status"`
	Scenario string            `json:"scenario"`
	Tokens   map[string]string `json:"tokens,omitempty"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}

// =============================================================================
// CONVERTERS
// =============================================================================

func toPublicShowDTO(s engine.Show, sellers []engine.SellerStock) PublicShowDTO {
	dto := PublicShowDTO{
		ID:        string(s.ID),
		Title:     s.Title,
		Venue:     s.Venue,
		StartsAt:  s.StartsAt,
		BasePrice: s.BasePrice,
	}
	for _, sl := range sellers {
		dto.Sellers = append(dto.Sellers, SellerDTO{AgentID: string(sl.AgentID), Name: sl.Name, Stock: sl.Stock})
	}
	return dto
}

func toShowDTO(s engine.Show) ShowDTO {
	agents := make([]string, len(s.AgentIDs))
	for i, a := range s.AgentIDs {
		agents[i] = string(a)
	}
	return ShowDTO{
		ID:         string(s.ID),
		Title:      s.Title,
		Venue:      s.Venue,
		StartsAt:   s.StartsAt,
		Capacity:   s.Capacity,
		BasePrice:  s.BasePrice,
		DirectorID: string(s.DirectorID),
		AgentIDs:   agents,
		Status:     string(s.Status),
		CreatedAt:  s.CreatedAt,
		UpdatedAt:  s.UpdatedAt,
	}
}

func toTicketDTO(t engine.Ticket) TicketDTO {
	dto := TicketDTO{
		ID:        string(t.ID),
		Code:      t.Code,
		ShowID:    string(t.ShowID),
		Seq:       t.Seq,
		State:     string(t.State),
		OwnerID:   string(t.OwnerID),
		Price:     t.Price,
		Retired:   t.Retired,
		Version:   t.Version,
		CreatedAt: t.CreatedAt,
		UpdatedAt: t.UpdatedAt,
	}
	if t.Sale != nil {
		dto.Sale = &SaleDTO{
			BuyerName:     t.Sale.BuyerName,
			BuyerContact:  t.Sale.BuyerContact,
			PaymentMethod: t.Sale.PaymentMethod,
			SoldAt:        t.Sale.SoldAt,
		}
	}
	return dto
}

func toTicketDTOs(tickets []engine.Ticket) []TicketDTO {
	out := make([]TicketDTO, len(tickets))
	for i, t := range tickets {
		out[i] = toTicketDTO(t)
	}
	return out
}

func toEventDTOs(events []engine.Event) []EventDTO {
	out := make([]EventDTO, len(events))
	for i, e := range events {
		out[i] = EventDTO{
			ID:         string(e.ID),
			TicketID:   string(e.TicketID),
			TicketCode: e.TicketCode,
			ShowID:     string(e.ShowID),
			Type:       string(e.Type),
			ActorID:    string(e.ActorID),
			FromOwner:  string(e.FromOwner),
			ToOwner:    string(e.ToOwner),
			FromState:  string(e.FromState),
			ToState:    string(e.ToState),
			At:         e.At,
			Details:    e.Details,
		}
	}
	return out
}

func toUserDTO(u engine.User) UserDTO {
	return UserDTO{
		ID:        string(u.ID),
		Name:      u.Name,
		Role:      string(u.Role),
		Contact:   u.Contact,
		Active:    u.Active,
		CreatedAt: u.CreatedAt,
	}
}

func toCountsDTO(c engine.Counts) CountsDTO {
	return CountsDTO{
		Available:    c.Available,
		Stock:        c.Stock,
		Reserved:     c.Reserved,
		ReportedSold: c.ReportedSold,
		Paid:         c.Paid,
		Used:         c.Used,
		Issued:       c.Issued(),
		Sold:         c.Sold(),
		Unpaid:       c.Unpaid(),
		Collected:    c.Collected(),
	}
}

func toMoneyDTO(m engine.Money) MoneyDTO {
	return MoneyDTO{Collected: m.Collected, Debt: m.Debt, Reported: m.Reported}
}

func toAgentSummaryDTO(a engine.AgentSummary) AgentSummaryDTO {
	return AgentSummaryDTO{
		AgentID:   string(a.AgentID),
		AgentName: a.AgentName,
		Counts:    toCountsDTO(a.Counts),
		Money:     toMoneyDTO(a.Money),
	}
}

func toAgentSummaryDTOs(rows []engine.AgentSummary) []AgentSummaryDTO {
	out := make([]AgentSummaryDTO, len(rows))
	for i, a := range rows {
		out[i] = toAgentSummaryDTO(a)
	}
	return out
}

func toShowReportDTO(s engine.ShowSummary) ShowReportDTO {
	dto := ShowReportDTO{
		Show:       toShowDTO(s.Show),
		Counts:     toCountsDTO(s.Counts),
		Money:      toMoneyDTO(s.Money),
		Balanced:   s.Money.Balanced(),
		Attendance: s.Attendance(),
		Agents:     toAgentSummaryDTOs(s.Agents),
		Debtors:    toAgentSummaryDTOs(s.Debtors),
	}
	if s.Top != nil {
		top := toAgentSummaryDTO(*s.Top)
		dto.TopSeller = &top
	}
	return dto
}

func toAgentReportDTO(r engine.AgentReport) AgentReportDTO {
	lines := make([]AgentShowLineDTO, len(r.Shows))
	for i, l := range r.Shows {
		lines[i] = AgentShowLineDTO{
			ShowID:    string(l.Show.ID),
			ShowTitle: l.Show.Title,
			StartsAt:  l.Show.StartsAt,
			Summary:   toAgentSummaryDTO(l.Summary),
		}
	}
	return AgentReportDTO{
		Agent: toUserDTO(r.Agent),
		Shows: lines,
		Total: toAgentSummaryDTO(r.Total),
	}
}

func toTransferDTOs(agent engine.UserID, records []engine.TransferRecord) []TransferDTO {
	out := make([]TransferDTO, len(records))
	for i, r := range records {
		out[i] = TransferDTO{
			TicketID:   string(r.TicketID),
			TicketCode: r.TicketCode,
			ShowID:     string(r.ShowID),
			FromID:     string(r.FromID),
			FromName:   r.FromName,
			ToID:       string(r.ToID),
			ToName:     r.ToName,
			ByID:       string(r.ByID),
			Reason:     r.Reason,
			Direction:  r.Direction(agent),
			At:         r.At,
		}
	}
	return out
}

func toScanResultDTO(res engine.ScanResult) ScanResultDTO {
	dto := ScanResultDTO{OK: res.OK, Reason: res.Reason, Message: res.Message}
	if r := res.Receipt; r != nil {
		dto.Receipt = &ReceiptDTO{
			Code:        r.Code,
			ShowID:      string(r.ShowID),
			ShowTitle:   r.ShowTitle,
			Venue:       r.Venue,
			StartsAt:    r.StartsAt,
			SellerID:    string(r.SellerID),
			SellerName:  r.SellerName,
			BuyerName:   r.BuyerName,
			Price:       r.Price,
			ValidatedAt: r.ValidatedAt,
		}
	}
	return dto
}
