/*
handlers.go - HTTP API handlers for the ticket engine

PURPOSE:
  Exposes the engine via REST. Handlers decode the request, take the
  caller from the context, call one engine operation and encode the
  result. No business rule lives here.

ENDPOINTS:
  Shows:
    GET    /api/shows                         List visible shows
    POST   /api/shows                         Create show and issue tickets
    GET    /api/shows/{id}                    Show details
    PUT    /api/shows/{id}                    Update show
    DELETE /api/shows/{id}                    Retire show
    POST   /api/shows/{id}/tickets            Issue more tickets
    GET    /api/shows/{id}/tickets?q=         Search tickets
    POST   /api/shows/{id}/conclude           Close sales
    POST   /api/shows/{id}/assign             Hand stock to an agent
    POST   /api/shows/{id}/agents/{agentID}/pay  Collect all of an agent's debt
    GET    /api/shows/{id}/report             Reconciliation
    GET    /api/shows/{id}/debtors            Agents with debt
    GET    /api/shows/{id}/activity           Event feed

  Tickets:
    GET    /api/tickets/{id}                  Ticket with history
    POST   /api/tickets/{id}/sale             Reserve or report a sale
    POST   /api/tickets/{id}/report           Report a reservation sold
    POST   /api/tickets/{id}/release          Release a reservation
    POST   /api/tickets/{id}/pay              Director collects
    POST   /api/transfers                     Move stock between agents
    POST   /api/scan                          Door validation

  Agents & users:
    GET    /api/agents/{id}/report            Agent reconciliation
    GET    /api/agents/{id}/transfers         Last transfers
    DELETE /api/agents/{id}                   Release agent
    GET    /api/users, POST /api/users

  Public (no token):
    GET    /api/public/shows                  Upcoming shows
    GET    /api/public/shows/{id}             Show with agents holding stock
    POST   /api/public/shows/{id}/reservations  Guest reservation

ERROR HANDLING:
  - 400: invalid input, malformed code
  - 401: missing or invalid token
  - 403: role or ownership refused
  - 404: show, ticket or user not found
  - 409: state conflict, closed or retired show, lost race, user id taken
  - 422: not enough inventory, capacity, target is not an agent
  - 429: scan or guest reservation rate limit
  - 500: storage failures

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/warp/ticket-engine/engine"
	"github.com/warp/ticket-engine/logger"
	"github.com/warp/ticket-engine/ratelimit"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Resetter wipes the backing store. Only scenarios use it.
type Resetter interface {
	Reset(ctx context.Context) error
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Engine *engine.Engine
	Log    *zap.Logger

	// Scans throttles POST /api/scan per caller. Nil disables throttling.
	Scans ratelimit.Limiter

	// Store and Tokens are needed by the demo scenarios only.
	Store  Resetter
	Tokens *Tokens

	mu              sync.Mutex
	currentScenario string
}

// NewHandler creates a handler over eng.
func NewHandler(eng *engine.Engine, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{Engine: eng, Log: log}
}

// Health reports liveness.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "ok",
		"sale_flow": string(h.Engine.SaleFlow()),
	})
}

// =============================================================================
// SHOW HANDLERS
// =============================================================================

// ListShows returns the shows the caller may see.
func (h *Handler) ListShows(w http.ResponseWriter, r *http.Request) {
	includeRetired, _ := strconv.ParseBool(r.URL.Query().Get("include_retired"))
	shows, err := h.Engine.ListShows(r.Context(), subject(r), includeRetired)
	if err != nil {
		h.fail(w, r, "Failed to list shows", err)
		return
	}
	dtos := make([]ShowDTO, len(shows))
	for i, s := range shows {
		dtos[i] = toShowDTO(s)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateShow creates a show and issues its tickets.
func (h *Handler) CreateShow(w http.ResponseWriter, r *http.Request) {
	var req CreateShowRequest
	if !decode(w, r, &req) {
		return
	}
	show, err := h.Engine.CreateShow(r.Context(), subject(r), engine.NewShow{
		Title:      req.Title,
		Venue:      req.Venue,
		StartsAt:   req.StartsAt,
		Capacity:   req.Capacity,
		BasePrice:  req.BasePrice,
		DirectorID: engine.UserID(req.DirectorID),
		Issue:      req.Issue,
	})
	if err != nil {
		h.fail(w, r, "Failed to create show", err)
		return
	}
	writeJSON(w, http.StatusCreated, toShowDTO(show))
}

// GetShow returns one show. Visibility follows the report rules.
func (h *Handler) GetShow(w http.ResponseWriter, r *http.Request) {
	summary, err := h.Engine.ShowReport(r.Context(), subject(r), showID(r))
	if err != nil {
		h.fail(w, r, "Failed to get show", err)
		return
	}
	writeJSON(w, http.StatusOK, toShowDTO(summary.Show))
}

// UpdateShow edits a show.
func (h *Handler) UpdateShow(w http.ResponseWriter, r *http.Request) {
	var req UpdateShowRequest
	if !decode(w, r, &req) {
		return
	}
	show, err := h.Engine.UpdateShow(r.Context(), subject(r), showID(r), engine.ShowUpdate{
		Title:     req.Title,
		Venue:     req.Venue,
		StartsAt:  req.StartsAt,
		BasePrice: req.BasePrice,
		Capacity:  req.Capacity,
	})
	if err != nil {
		h.fail(w, r, "Failed to update show", err)
		return
	}
	writeJSON(w, http.StatusOK, toShowDTO(show))
}

// RetireShow takes a show down and retires its tickets.
func (h *Handler) RetireShow(w http.ResponseWriter, r *http.Request) {
	n, err := h.Engine.RetireShow(r.Context(), subject(r), showID(r))
	if err != nil {
		h.fail(w, r, "Failed to retire show", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"retired_tickets": n})
}

// ConcludeShow closes a show for sales.
func (h *Handler) ConcludeShow(w http.ResponseWriter, r *http.Request) {
	show, err := h.Engine.ConcludeShow(r.Context(), subject(r), showID(r))
	if err != nil {
		h.fail(w, r, "Failed to conclude show", err)
		return
	}
	writeJSON(w, http.StatusOK, toShowDTO(show))
}

// GenerateTickets issues more tickets, up to capacity.
func (h *Handler) GenerateTickets(w http.ResponseWriter, r *http.Request) {
	var req GenerateTicketsRequest
	if !decode(w, r, &req) {
		return
	}
	tickets, err := h.Engine.GenerateTickets(r.Context(), subject(r), showID(r), req.Count)
	if err != nil {
		h.fail(w, r, "Failed to generate tickets", err)
		return
	}
	writeJSON(w, http.StatusCreated, toTicketDTOs(tickets))
}

// SearchTickets lists a show's tickets matching ?q= by code prefix or buyer.
func (h *Handler) SearchTickets(w http.ResponseWriter, r *http.Request) {
	tickets, err := h.Engine.SearchTickets(r.Context(), subject(r), showID(r), r.URL.Query().Get("q"))
	if err != nil {
		h.fail(w, r, "Failed to search tickets", err)
		return
	}
	writeJSON(w, http.StatusOK, toTicketDTOs(tickets))
}

// Assign hands available tickets to an agent.
func (h *Handler) Assign(w http.ResponseWriter, r *http.Request) {
	var req AssignRequest
	if !decode(w, r, &req) {
		return
	}
	tickets, err := h.Engine.Assign(r.Context(), subject(r), showID(r), engine.UserID(req.AgentID), req.Count)
	if err != nil {
		h.fail(w, r, "Failed to assign tickets", err)
		return
	}
	writeJSON(w, http.StatusOK, toTicketDTOs(tickets))
}

// PayAgent collects every unpaid ticket an agent holds for the show.
func (h *Handler) PayAgent(w http.ResponseWriter, r *http.Request) {
	agent := engine.UserID(chi.URLParam(r, "agentID"))
	n, err := h.Engine.MarkPaidBatch(r.Context(), subject(r), showID(r), agent)
	if err != nil {
		h.fail(w, r, "Failed to collect payment", err)
		return
	}
	writeJSON(w, http.StatusOK, PaidResponse{Paid: n})
}

// ShowReport returns the reconciliation of a show.
func (h *Handler) ShowReport(w http.ResponseWriter, r *http.Request) {
	summary, err := h.Engine.ShowReport(r.Context(), subject(r), showID(r))
	if err != nil {
		h.fail(w, r, "Failed to build report", err)
		return
	}
	writeJSON(w, http.StatusOK, toShowReportDTO(summary))
}

// ShowDebtors lists agents that owe money, largest debt first.
func (h *Handler) ShowDebtors(w http.ResponseWriter, r *http.Request) {
	rows, err := h.Engine.ShowDebtors(r.Context(), subject(r), showID(r))
	if err != nil {
		h.fail(w, r, "Failed to list debtors", err)
		return
	}
	writeJSON(w, http.StatusOK, toAgentSummaryDTOs(rows))
}

// Activity returns the show's latest events.
func (h *Handler) Activity(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "Invalid limit", err)
			return
		}
		limit = n
	}
	events, err := h.Engine.Activity(r.Context(), subject(r), showID(r), limit)
	if err != nil {
		h.fail(w, r, "Failed to load activity", err)
		return
	}
	writeJSON(w, http.StatusOK, toEventDTOs(events))
}

// =============================================================================
// TICKET HANDLERS
// =============================================================================

// GetTicket returns a ticket with its full history.
func (h *Handler) GetTicket(w http.ResponseWriter, r *http.Request) {
	detail, err := h.Engine.TicketDetail(r.Context(), subject(r), ticketID(r))
	if err != nil {
		h.fail(w, r, "Failed to get ticket", err)
		return
	}
	writeJSON(w, http.StatusOK, TicketDetailDTO{
		Ticket:  toTicketDTO(detail.Ticket),
		History: toEventDTOs(detail.History),
	})
}

// Sell reserves or reports a sale depending on the configured flow.
func (h *Handler) Sell(w http.ResponseWriter, r *http.Request) {
	var req SaleRequest
	if !decode(w, r, &req) {
		return
	}
	t, err := h.Engine.ReserveOrReportSale(r.Context(), subject(r), ticketID(r), engine.Sale{
		BuyerName:     req.BuyerName,
		BuyerContact:  req.BuyerContact,
		PaymentMethod: req.PaymentMethod,
		Price:         req.Price,
	})
	if err != nil {
		h.fail(w, r, "Failed to record sale", err)
		return
	}
	writeJSON(w, http.StatusOK, toTicketDTO(t))
}

// ReportSold confirms a reservation as sold.
func (h *Handler) ReportSold(w http.ResponseWriter, r *http.Request) {
	var req ReportSoldRequest
	if !decode(w, r, &req) {
		return
	}
	t, err := h.Engine.ReportSold(r.Context(), subject(r), ticketID(r), engine.SaleReport{
		Price:         req.Price,
		PaymentMethod: req.PaymentMethod,
	})
	if err != nil {
		h.fail(w, r, "Failed to report sale", err)
		return
	}
	writeJSON(w, http.StatusOK, toTicketDTO(t))
}

// ReleaseReservation returns a reserved ticket to the agent's stock.
func (h *Handler) ReleaseReservation(w http.ResponseWriter, r *http.Request) {
	t, err := h.Engine.ReleaseReservation(r.Context(), subject(r), ticketID(r))
	if err != nil {
		h.fail(w, r, "Failed to release reservation", err)
		return
	}
	writeJSON(w, http.StatusOK, toTicketDTO(t))
}

// MarkPaid records that the director collected a ticket's money.
func (h *Handler) MarkPaid(w http.ResponseWriter, r *http.Request) {
	t, err := h.Engine.MarkPaid(r.Context(), subject(r), ticketID(r))
	if err != nil {
		h.fail(w, r, "Failed to mark paid", err)
		return
	}
	writeJSON(w, http.StatusOK, toTicketDTO(t))
}

// Transfer moves a stock ticket between agents.
func (h *Handler) Transfer(w http.ResponseWriter, r *http.Request) {
	var req TransferRequest
	if !decode(w, r, &req) {
		return
	}
	t, err := h.Engine.Transfer(r.Context(), subject(r), engine.TransferRequest{
		Code:        req.Code,
		FromAgentID: engine.UserID(req.FromAgentID),
		ToAgentID:   engine.UserID(req.ToAgentID),
		Reason:      req.Reason,
	})
	if err != nil {
		h.fail(w, r, "Failed to transfer ticket", err)
		return
	}
	writeJSON(w, http.StatusOK, toTicketDTO(t))
}

// Scan validates a code at the door.
func (h *Handler) Scan(w http.ResponseWriter, r *http.Request) {
	subj := subject(r)
	if h.Scans != nil {
		ok, err := h.Scans.Allow(r.Context(), string(subj.ID))
		if err != nil {
			// Fail open.
			logger.FromContext(r.Context(), h.Log).Warn("scan limiter unavailable", zap.Error(err))
		} else if !ok {
			w.Header().Set("Retry-After", "1")
			writeError(w, http.StatusTooManyRequests, "Too many scans", nil)
			return
		}
	}

	var req ScanRequest
	if !decode(w, r, &req) {
		return
	}
	res, err := h.Engine.Validate(r.Context(), subj, req.Code)
	if err != nil {
		h.fail(w, r, "Failed to validate ticket", err)
		return
	}
	writeJSON(w, http.StatusOK, toScanResultDTO(res))
}

// =============================================================================
// PUBLIC HANDLERS
// =============================================================================

// PublicShows lists upcoming shows for guests.
func (h *Handler) PublicShows(w http.ResponseWriter, r *http.Request) {
	shows, err := h.Engine.PublicShows(r.Context())
	if err != nil {
		h.fail(w, r, "Failed to list shows", err)
		return
	}
	out := make([]PublicShowDTO, len(shows))
	for i, s := range shows {
		out[i] = toPublicShowDTO(s, nil)
	}
	writeJSON(w, http.StatusOK, out)
}

// PublicShow returns a show with the agents a guest can reserve from.
func (h *Handler) PublicShow(w http.ResponseWriter, r *http.Request) {
	pub, err := h.Engine.PublicShow(r.Context(), showID(r))
	if err != nil {
		h.fail(w, r, "Failed to get show", err)
		return
	}
	writeJSON(w, http.StatusOK, toPublicShowDTO(pub.Show, pub.Sellers))
}

// GuestReserve holds a ticket from an agent's stock for a guest.
func (h *Handler) GuestReserve(w http.ResponseWriter, r *http.Request) {
	if h.Scans != nil {
		ok, err := h.Scans.Allow(r.Context(), "guest:"+clientIP(r))
		if err != nil {
			logger.FromContext(r.Context(), h.Log).Warn("guest limiter unavailable", zap.Error(err))
		} else if !ok {
			w.Header().Set("Retry-After", "1")
			writeError(w, http.StatusTooManyRequests, "Too many reservations", nil)
			return
		}
	}

	var req GuestReservationRequest
	if !decode(w, r, &req) {
		return
	}
	t, err := h.Engine.ReserveForGuest(r.Context(), showID(r), engine.UserID(req.AgentID), engine.Sale{
		BuyerName:    req.BuyerName,
		BuyerContact: req.BuyerContact,
	})
	if err != nil {
		h.fail(w, r, "Failed to reserve ticket", err)
		return
	}
	writeJSON(w, http.StatusCreated, GuestReservationDTO{
		Code:    t.Code,
		ShowID:  string(t.ShowID),
		AgentID: string(t.OwnerID),
		State:   string(t.State),
		Price:   t.Price,
	})
}

// =============================================================================
// AGENT & USER HANDLERS
// =============================================================================

// AgentReport reconciles an agent across shows.
func (h *Handler) AgentReport(w http.ResponseWriter, r *http.Request) {
	rep, err := h.Engine.AgentReport(r.Context(), subject(r), agentID(r))
	if err != nil {
		h.fail(w, r, "Failed to build agent report", err)
		return
	}
	writeJSON(w, http.StatusOK, toAgentReportDTO(rep))
}

// AgentTransfers returns the agent's latest transfers, newest first.
func (h *Handler) AgentTransfers(w http.ResponseWriter, r *http.Request) {
	agent := agentID(r)
	records, err := h.Engine.Transfers(r.Context(), subject(r), agent)
	if err != nil {
		h.fail(w, r, "Failed to list transfers", err)
		return
	}
	writeJSON(w, http.StatusOK, toTransferDTOs(agent, records))
}

// ReleaseAgent returns an agent's unsold tickets to the pool.
func (h *Handler) ReleaseAgent(w http.ResponseWriter, r *http.Request) {
	res, err := h.Engine.ReleaseAgent(r.Context(), subject(r), agentID(r))
	if err != nil {
		h.fail(w, r, "Failed to release agent", err)
		return
	}
	writeJSON(w, http.StatusOK, ReleaseAgentResponse{Returned: res.Returned, Deactivated: res.Deactivated})
}

// ListUsers lists users, optionally filtered by ?role=.
func (h *Handler) ListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.Engine.ListUsers(r.Context(), subject(r), engine.Role(strings.ToUpper(r.URL.Query().Get("role"))))
	if err != nil {
		h.fail(w, r, "Failed to list users", err)
		return
	}
	dtos := make([]UserDTO, len(users))
	for i, u := range users {
		dtos[i] = toUserDTO(u)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateUser registers a user.
func (h *Handler) CreateUser(w http.ResponseWriter, r *http.Request) {
	var req CreateUserRequest
	if !decode(w, r, &req) {
		return
	}
	u, err := h.Engine.CreateUser(r.Context(), subject(r), engine.NewUser{
		ID:      engine.UserID(req.ID),
		Name:    req.Name,
		Role:    engine.Role(strings.ToUpper(req.Role)),
		Contact: req.Contact,
	})
	if err != nil {
		h.fail(w, r, "Failed to create user", err)
		return
	}
	writeJSON(w, http.StatusCreated, toUserDTO(u))
}

// =============================================================================
// HELPERS
// =============================================================================

func subject(r *http.Request) engine.Subject {
	subj, _ := SubjectFromContext(r.Context())
	return subj
}

func showID(r *http.Request) engine.ShowID     { return engine.ShowID(chi.URLParam(r, "id")) }
func ticketID(r *http.Request) engine.TicketID { return engine.TicketID(chi.URLParam(r, "id")) }
func agentID(r *http.Request) engine.UserID    { return engine.UserID(chi.URLParam(r, "id")) }

// clientIP is the caller address without the port. RealIP has already
// replaced RemoteAddr when a proxy header is present.
func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	return true
}

// fail maps an engine error to its HTTP status. Server errors are logged
// and their details withheld.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, message string, err error) {
	status, code := statusFor(err)
	if status >= http.StatusInternalServerError {
		logger.FromContext(r.Context(), h.Log).Error(message, zap.Error(err))
		writeError(w, status, message, nil)
		return
	}
	writeJSON(w, status, ErrorResponse{Error: message, Code: code, Details: err.Error()})
}

func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, engine.ErrInvalidInput),
		errors.Is(err, engine.ErrMalformedCode),
		errors.Is(err, engine.ErrChecksumMismatch):
		return http.StatusBadRequest, "invalid_input"
	case errors.Is(err, engine.ErrForbidden):
		return http.StatusForbidden, "forbidden"
	case engine.IsNotFound(err):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, engine.ErrInvalidState):
		return http.StatusConflict, "invalid_state"
	case errors.Is(err, engine.ErrShowClosed):
		return http.StatusConflict, "show_closed"
	case errors.Is(err, engine.ErrShowRetired):
		return http.StatusConflict, "show_retired"
	case errors.Is(err, engine.ErrConcurrentModification):
		return http.StatusConflict, "concurrent_modification"
	case errors.Is(err, engine.ErrUserExists):
		return http.StatusConflict, "user_exists"
	case errors.Is(err, engine.ErrInsufficientInventory):
		return http.StatusUnprocessableEntity, "insufficient_inventory"
	case errors.Is(err, engine.ErrCapacityExceeded):
		return http.StatusUnprocessableEntity, "capacity_exceeded"
	case errors.Is(err, engine.ErrNotAgent):
		return http.StatusUnprocessableEntity, "not_agent"
	}
	return http.StatusInternalServerError, "internal"
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
