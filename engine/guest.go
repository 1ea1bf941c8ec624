/*
guest.go - Public listing and guest reservations

PURPOSE:
  Lets an unauthenticated buyer pick a show and one of its agents and hold
  a ticket from that agent's stock. The agent then collects the money and
  reports the sale like any other reservation.

FLOW:
  PublicShows         active shows that have not started yet
  PublicShow          one show with the agents that still hold stock
  ReserveForGuest     agent's lowest-Seq STOCK_VENDEDOR ticket -> RESERVADO

  The guest reservation ignores the configured sale flow: a guest never
  reports a sale, so the ticket always lands in RESERVADO with the show's
  current base price.

SEE ALSO:
  - lifecycle.go: ReportSold, ReleaseReservation for the follow-up
*/
package engine

import (
	"context"
	"sort"
	"strings"

	"go.uber.org/zap"
)

// SellerStock is an agent offering tickets on the public page.
type SellerStock struct {
	AgentID UserID
	Name    string
	Stock   int
}

// PublicShow is the buyer-facing view of a show.
type PublicShow struct {
	Show    Show
	Sellers []SellerStock
}

// PublicShows lists active shows that start after now, soonest first.
func (e *Engine) PublicShows(ctx context.Context) ([]Show, error) {
	shows, err := e.repo.ListShows(ctx, ShowFilter{Statuses: []ShowStatus{ShowActive}})
	if err != nil {
		return nil, err
	}
	now := e.now()
	out := shows[:0]
	for _, s := range shows {
		if s.StartsAt.After(now) {
			out = append(out, s)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].StartsAt.Before(out[j].StartsAt) })
	return out, nil
}

// PublicShow returns an open show with the active agents that still hold
// stock for it, ordered by name.
func (e *Engine) PublicShow(ctx context.Context, showID ShowID) (PublicShow, error) {
	show, err := e.repo.GetShow(ctx, showID)
	if err != nil {
		return PublicShow{}, err
	}
	if err := requireOpen(show); err != nil {
		return PublicShow{}, err
	}
	stock, err := e.AgentStock(ctx, showID)
	if err != nil {
		return PublicShow{}, err
	}
	agents, err := e.repo.ListUsers(ctx, UserFilter{Role: RoleAgent, ActiveOnly: true})
	if err != nil {
		return PublicShow{}, err
	}

	out := PublicShow{Show: show}
	for _, a := range agents {
		if n := stock[a.ID]; n > 0 {
			out.Sellers = append(out.Sellers, SellerStock{AgentID: a.ID, Name: a.Name, Stock: n})
		}
	}
	sort.SliceStable(out.Sellers, func(i, j int) bool {
		if out.Sellers[i].Name != out.Sellers[j].Name {
			return out.Sellers[i].Name < out.Sellers[j].Name
		}
		return out.Sellers[i].AgentID < out.Sellers[j].AgentID
	})
	return out, nil
}

// AgentStock counts the unsold STOCK_VENDEDOR tickets each agent holds for a show.
func (e *Engine) AgentStock(ctx context.Context, showID ShowID) (map[UserID]int, error) {
	tickets, err := e.repo.ListTickets(ctx, TicketFilter{ShowID: showID, States: []State{StateAgentStock}})
	if err != nil {
		return nil, err
	}
	out := map[UserID]int{}
	for _, t := range tickets {
		if !t.Retired && t.OwnerID != "" {
			out[t.OwnerID]++
		}
	}
	return out, nil
}

// ReserveForGuest holds the agent's first stock ticket for a guest buyer.
// Buyer name and contact are both required so the agent can follow up.
func (e *Engine) ReserveForGuest(ctx context.Context, showID ShowID, agentID UserID, sale Sale) (Ticket, error) {
	sale.BuyerName = strings.TrimSpace(sale.BuyerName)
	sale.BuyerContact = strings.TrimSpace(sale.BuyerContact)
	if sale.BuyerName == "" {
		return Ticket{}, invalidInput("buyer name is required")
	}
	if sale.BuyerContact == "" {
		return Ticket{}, invalidInput("buyer contact is required")
	}

	var out Ticket
	err := e.atomically(ctx, OpSell, func(repo Repository) error {
		show, err := repo.LockShow(ctx, showID)
		if err != nil {
			return err
		}
		if err := requireOpen(show); err != nil {
			return err
		}
		if err := requireAgent(ctx, repo, agentID); err != nil {
			return err
		}
		stock, err := repo.ListTickets(ctx, TicketFilter{ShowID: showID, OwnerID: agentID, States: []State{StateAgentStock}})
		if err != nil {
			return err
		}
		var t *Ticket
		for i := range stock {
			if !stock[i].Retired && (t == nil || stock[i].Seq < t.Seq) {
				t = &stock[i]
			}
		}
		if t == nil {
			return &InsufficientInventoryError{ShowID: showID, Available: 0, Requested: 1}
		}
		if err := checkTransition(*t, OpSell, StateReserved); err != nil {
			return err
		}

		next := *t
		next.State = StateReserved
		next.Price = show.BasePrice
		next.Sale = &SaleDetails{
			BuyerName:    sale.BuyerName,
			BuyerContact: sale.BuyerContact,
			SoldAt:       e.now(),
		}
		out, err = e.swap(ctx, repo, *t, next, Event{
			Type:    EventGuestReserved,
			Details: details("buyer", sale.BuyerName, "contact", sale.BuyerContact),
		})
		return err
	})
	if err != nil {
		e.log.Debug("guest reservation rejected",
			zap.String("show", string(showID)), zap.String("agent", string(agentID)), zap.Error(err))
		return Ticket{}, err
	}
	e.log.Info("guest reservation",
		zap.String("ticket", string(out.ID)),
		zap.String("show", string(showID)),
		zap.String("agent", string(agentID)))
	return out, nil
}
