/*
scenarios.go - Demo scenario loaders for development and demonstrations

PURPOSE:
  Populates the store with a small theatre company so the API can be
  explored without typing setup requests. Every scenario goes through
  the engine, so the seeded history is the same one real operations
  would produce.

AVAILABLE SCENARIOS:
  opening-night:  One show, three agents, sales at every stage
  debtors:        Agents owing money, for reconciliation views
  season:         A concluded show, an active one and a retired one

HOW SCENARIOS WORK:
  1. Reset the store
  2. Register the company (super, director, agents)
  3. Create shows and assign stock
  4. Sell, collect and scan tickets
  5. Return bearer tokens for every seeded user

NOTE:
  Routes are only mounted in development.

SEE ALSO:
  - server.go: RouterConfig.Scenarios
*/
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/ticket-engine/engine"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "opening-night",
		Name:        "Opening Night",
		Description: "One show with stock, sales, payments and a scanned ticket",
	},
	{
		ID:          "debtors",
		Name:        "Debtors",
		Description: "Three agents with different amounts of unpaid sales",
	},
	{
		ID:          "season",
		Name:        "Season",
		Description: "A concluded show, an upcoming show and a retired show",
	},
}

// Company members seeded by every scenario.
var (
	demoSuper    = engine.Subject{ID: "super", Role: engine.RoleSuper}
	demoDirector = engine.Subject{ID: "directora", Role: engine.RoleDirector}
	demoAgents   = []engine.Subject{
		{ID: "actor-lucia", Role: engine.RoleAgent},
		{ID: "actor-pablo", Role: engine.RoleAgent},
		{ID: "actor-ines", Role: engine.RoleAgent},
	}
	demoNames = map[engine.UserID]string{
		"super":       "Administración",
		"directora":   "Carmen Ruiz",
		"actor-lucia": "Lucía Martín",
		"actor-pablo": "Pablo Gil",
		"actor-ines":  "Inés Navarro",
	}
)

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	current := h.currentScenario
	h.mu.Unlock()

	for _, s := range scenarios {
		if s.ID == current {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	writeJSON(w, http.StatusOK, nil)
}

// LoadScenario resets the store and loads a predefined scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if !decode(w, r, &req) {
		return
	}

	var load func(context.Context) error
	switch req.ScenarioID {
	case "opening-night":
		load = h.loadOpeningNightScenario
	case "debtors":
		load = h.loadDebtorsScenario
	case "season":
		load = h.loadSeasonScenario
	default:
		writeError(w, http.StatusBadRequest, "Unknown scenario", nil)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	ctx := r.Context()
	h.currentScenario = ""
	if err := h.Store.Reset(ctx); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset database", err)
		return
	}
	if err := load(ctx); err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to load scenario: %v", err), err)
		return
	}
	h.currentScenario = req.ScenarioID

	tokens, err := h.demoTokens(ctx)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to issue tokens", err)
		return
	}
	writeJSON(w, http.StatusOK, LoadScenarioResponse{Status: "loaded", Scenario: req.ScenarioID, Tokens: tokens})
}

// ResetDatabase clears all data.
func (h *Handler) ResetDatabase(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.Store.Reset(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset database", err)
		return
	}
	h.currentScenario = ""
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) demoTokens(ctx context.Context) (map[string]string, error) {
	if h.Tokens == nil {
		return nil, nil
	}
	users, err := h.Engine.ListUsers(ctx, engine.SystemSubject, "")
	if err != nil {
		return nil, err
	}
	tokens := make(map[string]string, len(users))
	for _, u := range users {
		tok, err := h.Tokens.Issue(u)
		if err != nil {
			return nil, err
		}
		tokens[string(u.ID)] = tok
	}
	return tokens, nil
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

func (h *Handler) loadOpeningNightScenario(ctx context.Context) error {
	if err := h.seedCompany(ctx); err != nil {
		return err
	}
	show, err := h.seedShow(ctx, "Bodas de Sangre", time.Now().AddDate(0, 0, 10), 40, 1800)
	if err != nil {
		return err
	}

	lucia, pablo, ines := demoAgents[0], demoAgents[1], demoAgents[2]
	stock := map[engine.UserID][]engine.Ticket{}
	for _, a := range []struct {
		agent engine.Subject
		n     int
	}{{lucia, 10}, {pablo, 8}, {ines, 5}} {
		tickets, err := h.Engine.Assign(ctx, demoDirector, show.ID, a.agent.ID, a.n)
		if err != nil {
			return err
		}
		stock[a.agent.ID] = tickets
	}

	// Lucía sold four, two already collected and one of those at the door.
	sold, err := h.sellAll(ctx, lucia, stock[lucia.ID][:4], "Público Lucía")
	if err != nil {
		return err
	}
	for _, t := range sold[:2] {
		if _, err := h.Engine.MarkPaid(ctx, demoDirector, t.ID); err != nil {
			return err
		}
	}
	if _, err := h.Engine.Validate(ctx, demoDirector, sold[0].Code); err != nil {
		return err
	}

	// Pablo sold two and passed one ticket to Inés.
	if _, err := h.sellAll(ctx, pablo, stock[pablo.ID][:2], "Público Pablo"); err != nil {
		return err
	}
	_, err = h.Engine.Transfer(ctx, pablo, engine.TransferRequest{
		Code:        stock[pablo.ID][7].Code,
		FromAgentID: pablo.ID,
		ToAgentID:   ines.ID,
		Reason:      "Inés tiene más público",
	})
	return err
}

func (h *Handler) loadDebtorsScenario(ctx context.Context) error {
	if err := h.seedCompany(ctx); err != nil {
		return err
	}
	show, err := h.seedShow(ctx, "Yerma", time.Now().AddDate(0, 0, 3), 30, 1500)
	if err != nil {
		return err
	}

	// Each agent owes a different amount; Inés already settled one ticket.
	for i, n := range []int{6, 3, 5} {
		agent := demoAgents[i]
		tickets, err := h.Engine.Assign(ctx, demoDirector, show.ID, agent.ID, n+2)
		if err != nil {
			return err
		}
		sold, err := h.sellAll(ctx, agent, tickets[:n], "Deudor")
		if err != nil {
			return err
		}
		if i == 2 {
			if _, err := h.Engine.MarkPaid(ctx, demoDirector, sold[0].ID); err != nil {
				return err
			}
		}
	}
	return nil
}

func (h *Handler) loadSeasonScenario(ctx context.Context) error {
	if err := h.seedCompany(ctx); err != nil {
		return err
	}
	lucia, pablo := demoAgents[0], demoAgents[1]

	past, err := h.seedShow(ctx, "La Casa de Bernarda Alba", time.Now().AddDate(0, 0, -7), 20, 1200)
	if err != nil {
		return err
	}
	tickets, err := h.Engine.Assign(ctx, demoDirector, past.ID, lucia.ID, 6)
	if err != nil {
		return err
	}
	sold, err := h.sellAll(ctx, lucia, tickets[:5], "Público")
	if err != nil {
		return err
	}
	for _, t := range sold[:4] {
		if _, err := h.Engine.MarkPaid(ctx, demoDirector, t.ID); err != nil {
			return err
		}
	}
	for _, t := range sold[:3] {
		if _, err := h.Engine.Validate(ctx, demoDirector, t.Code); err != nil {
			return err
		}
	}
	if _, err := h.Engine.ConcludeShow(ctx, demoDirector, past.ID); err != nil {
		return err
	}

	upcoming, err := h.seedShow(ctx, "Doña Rosita la Soltera", time.Now().AddDate(0, 1, 0), 25, 2000)
	if err != nil {
		return err
	}
	if _, err := h.Engine.Assign(ctx, demoDirector, upcoming.ID, pablo.ID, 5); err != nil {
		return err
	}

	cancelled, err := h.seedShow(ctx, "Así que pasen cinco años", time.Now().AddDate(0, 0, 20), 10, 1500)
	if err != nil {
		return err
	}
	_, err = h.Engine.RetireShow(ctx, demoDirector, cancelled.ID)
	return err
}

// =============================================================================
// HELPERS
// =============================================================================

func (h *Handler) seedCompany(ctx context.Context) error {
	members := append([]engine.Subject{demoSuper, demoDirector}, demoAgents...)
	for _, m := range members {
		_, err := h.Engine.CreateUser(ctx, engine.SystemSubject, engine.NewUser{
			ID:      m.ID,
			Name:    demoNames[m.ID],
			Role:    m.Role,
			Contact: string(m.ID) + "@teatro.example",
		})
		if err != nil {
			return fmt.Errorf("failed to create %s: %w", m.ID, err)
		}
	}
	return nil
}

func (h *Handler) seedShow(ctx context.Context, title string, startsAt time.Time, capacity int, price int64) (engine.Show, error) {
	return h.Engine.CreateShow(ctx, demoDirector, engine.NewShow{
		Title:     title,
		Venue:     "Sala Baco",
		StartsAt:  startsAt.Truncate(time.Hour),
		Capacity:  capacity,
		BasePrice: decimal.NewFromInt(price),
	})
}

// sellAll records a sale for each ticket and, under the reserve flow,
// reports it sold so every scenario ends with the same debt.
func (h *Handler) sellAll(ctx context.Context, agent engine.Subject, tickets []engine.Ticket, buyer string) ([]engine.Ticket, error) {
	out := make([]engine.Ticket, 0, len(tickets))
	for i, t := range tickets {
		sold, err := h.Engine.ReserveOrReportSale(ctx, agent, t.ID, engine.Sale{
			BuyerName:     fmt.Sprintf("%s %d", buyer, i+1),
			PaymentMethod: "efectivo",
		})
		if err != nil {
			return nil, err
		}
		if sold.State == engine.StateReserved {
			if sold, err = h.Engine.ReportSold(ctx, agent, t.ID, engine.SaleReport{}); err != nil {
				return nil, err
			}
		}
		out = append(out, sold)
	}
	return out, nil
}
