/*
allocator.go - Atomic selection and movement of ticket stock

PURPOSE:
  Moves blocks of tickets between the show pool and agents without ever
  allocating the same ticket twice and without partial batches.

ALGORITHM (assign):
  1. Lock the show row (serializes allocators on the same show)
  2. List DISPONIBLE tickets in Seq order
  3. Fewer than requested -> InsufficientInventoryError, nothing written
  4. Compare-and-swap the first N to STOCK_VENDEDOR under the agent
  Any failed swap aborts the transaction, so the batch is all-or-nothing.

TRANSFER:
  Only STOCK_VENDEDOR tickets move between agents. A reservation is a promise
  to a buyer and stays with the seller who made it.

AGENT RELEASE:
  Unsold stock and reservations return to the pool. Paid and used tickets
  keep their owner so collected money stays attributed.
*/
package engine

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/warp/ticket-engine/ticketcode"
)

// Assign moves count DISPONIBLE tickets of a show to an agent, in creation
// order. Either all count tickets move or none do.
func (e *Engine) Assign(ctx context.Context, subj Subject, showID ShowID, agentID UserID, count int) ([]Ticket, error) {
	if count <= 0 {
		return nil, invalidInput("count must be positive")
	}
	var assigned []Ticket
	err := e.atomically(ctx, OpAssign, func(repo Repository) error {
		assigned = assigned[:0]
		show, err := repo.LockShow(ctx, showID)
		if err != nil {
			return err
		}
		if err := Authorize(OpAssign, subj, Relation{DirectsShow: show.DirectorID == subj.ID}); err != nil {
			return err
		}
		if err := requireOpen(show); err != nil {
			return err
		}
		if err := requireAgent(ctx, repo, agentID); err != nil {
			return err
		}

		pool, err := repo.ListTickets(ctx, TicketFilter{ShowID: showID, States: []State{StateAvailable}})
		if err != nil {
			return err
		}
		if len(pool) < count {
			return &InsufficientInventoryError{ShowID: showID, Available: len(pool), Requested: count}
		}

		for _, t := range pool[:count] {
			next := t
			next.State = StateAgentStock
			next.OwnerID = agentID
			moved, err := e.swap(ctx, repo, t, next, Event{Type: EventAssigned, ActorID: subj.ID})
			if err != nil {
				return err
			}
			assigned = append(assigned, moved)
		}

		if !show.HasAgent(agentID) {
			show.AgentIDs = append(show.AgentIDs, agentID)
			show.UpdatedAt = e.now()
			return repo.SaveShow(ctx, show)
		}
		return nil
	})
	if err != nil {
		e.log.Debug("assign rejected",
			zap.String("show", string(showID)),
			zap.String("agent", string(agentID)),
			zap.Int("count", count),
			zap.Error(err))
		return nil, err
	}
	e.log.Info("tickets assigned",
		zap.String("show", string(showID)),
		zap.String("agent", string(agentID)),
		zap.Int("count", len(assigned)),
		zap.String("actor", string(subj.ID)))
	return assigned, nil
}

// TransferRequest moves one stock ticket between agents.
type TransferRequest struct {
	Code        string
	FromAgentID UserID
	ToAgentID   UserID
	Reason      string
}

// Transfer hands a STOCK_VENDEDOR ticket from one agent to another. The
// caller is either the owning agent or a director of the show.
func (e *Engine) Transfer(ctx context.Context, subj Subject, req TransferRequest) (Ticket, error) {
	if req.FromAgentID == "" || req.ToAgentID == "" {
		return Ticket{}, invalidInput("source and target agents are required")
	}
	if req.FromAgentID == req.ToAgentID {
		return Ticket{}, invalidInput("source and target agents are the same")
	}
	code := ticketcode.Normalize(req.Code)
	if code == "" {
		return Ticket{}, invalidInput("ticket code is required")
	}

	var out Ticket
	err := e.atomically(ctx, OpTransfer, func(repo Repository) error {
		t, err := repo.GetTicketByCode(ctx, code)
		if err != nil {
			return err
		}
		t, show, err := ticketAndShow(ctx, repo, t.ID)
		if err != nil {
			return err
		}
		rel := Relation{
			OwnsTicket:  t.OwnedBy(subj.ID) && subj.ID == req.FromAgentID,
			DirectsShow: show.DirectorID == subj.ID,
		}
		if err := Authorize(OpTransfer, subj, rel); err != nil {
			return err
		}
		if err := requireOpen(show); err != nil {
			return err
		}
		if t.State != StateAgentStock {
			return &InvalidStateError{TicketID: t.ID, Op: OpTransfer, From: t.State}
		}
		if !t.OwnedBy(req.FromAgentID) {
			return ErrNotOwned
		}
		if err := requireAgent(ctx, repo, req.ToAgentID); err != nil {
			return err
		}

		next := t
		next.OwnerID = req.ToAgentID
		out, err = e.swap(ctx, repo, t, next, Event{
			Type:    EventTransferred,
			ActorID: subj.ID,
			Details: details("reason", strings.TrimSpace(req.Reason)),
		})
		if err != nil {
			return err
		}
		if !show.HasAgent(req.ToAgentID) {
			show.AgentIDs = append(show.AgentIDs, req.ToAgentID)
			show.UpdatedAt = e.now()
			return repo.SaveShow(ctx, show)
		}
		return nil
	})
	if err != nil {
		e.log.Debug("transfer rejected", zap.String("code", code), zap.Error(err))
		return Ticket{}, err
	}
	e.log.Info("ticket transferred",
		zap.String("ticket", string(out.ID)),
		zap.String("from", string(req.FromAgentID)),
		zap.String("to", string(req.ToAgentID)),
		zap.String("actor", string(subj.ID)))
	return out, nil
}

// ReleaseResult summarizes an agent removal.
type ReleaseResult struct {
	Returned    int
	Deactivated bool
}

// ReleaseAgent returns an agent's unsold stock and reservations to the pool.
// A director only releases tickets of shows they direct; a super releases
// everything and deactivates the agent.
func (e *Engine) ReleaseAgent(ctx context.Context, subj Subject, agentID UserID) (ReleaseResult, error) {
	if subj.Role != RoleSuper && subj.Role != RoleDirector {
		return ReleaseResult{}, forbidden(OpReleaseAgent, subj.Role, ErrForbidden)
	}
	var res ReleaseResult
	err := e.atomically(ctx, OpReleaseAgent, func(repo Repository) error {
		res = ReleaseResult{}
		agent, err := repo.GetUser(ctx, agentID)
		if err != nil {
			return err
		}
		if agent.Role != RoleAgent {
			return ErrNotAgent
		}
		held, err := repo.ListTickets(ctx, TicketFilter{
			OwnerID: agentID,
			States:  []State{StateAgentStock, StateReserved},
		})
		if err != nil {
			return err
		}

		shows := map[ShowID]Show{}
		for _, t := range held {
			show, ok := shows[t.ShowID]
			if !ok {
				if show, err = repo.LockShow(ctx, t.ShowID); err != nil {
					return err
				}
				shows[t.ShowID] = show
			}
			if Authorize(OpReleaseAgent, subj, Relation{DirectsShow: show.DirectorID == subj.ID}) != nil {
				continue
			}
			if t.Retired {
				continue
			}
			next := t
			next.State = StateAvailable
			next.OwnerID = ""
			next.Sale = nil
			next.Price = show.BasePrice
			if _, err := e.swap(ctx, repo, t, next, Event{Type: EventAgentRemoved, ActorID: subj.ID}); err != nil {
				return err
			}
			res.Returned++
		}

		if subj.Role == RoleSuper && agent.Active {
			agent.Active = false
			if err := repo.SaveUser(ctx, agent); err != nil {
				return err
			}
			res.Deactivated = true
		}
		return nil
	})
	if err != nil {
		return ReleaseResult{}, err
	}
	e.log.Info("agent released",
		zap.String("agent", string(agentID)),
		zap.Int("returned", res.Returned),
		zap.Bool("deactivated", res.Deactivated),
		zap.String("actor", string(subj.ID)))
	return res, nil
}

func requireAgent(ctx context.Context, repo Repository, id UserID) error {
	u, err := repo.GetUser(ctx, id)
	if err != nil {
		return err
	}
	if !u.IsAgent() {
		return ErrNotAgent
	}
	return nil
}
