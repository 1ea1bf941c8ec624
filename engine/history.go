package engine

import (
	"context"
	"time"
)

// feedLimit is how many transfers an agent's feed shows.
const feedLimit = 10

// TicketDetail is a ticket with its full history.
type TicketDetail struct {
	Ticket  Ticket
	History []Event
}

// TicketDetail returns a ticket and its history, oldest event first.
func (e *Engine) TicketDetail(ctx context.Context, subj Subject, id TicketID) (TicketDetail, error) {
	t, err := e.repo.GetTicket(ctx, id)
	if err != nil {
		return TicketDetail{}, err
	}
	show, err := e.repo.GetShow(ctx, t.ShowID)
	if err != nil {
		return TicketDetail{}, err
	}
	rel := Relation{DirectsShow: show.DirectorID == subj.ID, OwnsTicket: t.OwnedBy(subj.ID)}
	if err := Authorize(OpViewShow, subj, rel); err != nil {
		return TicketDetail{}, err
	}
	history, err := e.repo.ListEvents(ctx, EventFilter{TicketID: id})
	if err != nil {
		return TicketDetail{}, err
	}
	return TicketDetail{Ticket: t, History: history}, nil
}

// TransferRecord is one stock movement between agents.
type TransferRecord struct {
	TicketID   TicketID
	TicketCode string
	ShowID     ShowID
	FromID     UserID
	FromName   string
	ToID       UserID
	ToName     string
	ByID       UserID
	Reason     string
	At         time.Time
}

// Direction tells whether the agent gave or received the ticket.
func (r TransferRecord) Direction(agent UserID) string {
	if r.ToID == agent {
		return "in"
	}
	return "out"
}

// Transfers returns the latest transfers involving an agent, newest first.
func (e *Engine) Transfers(ctx context.Context, subj Subject, agentID UserID) ([]TransferRecord, error) {
	if err := Authorize(OpViewAgent, subj, Relation{IsSelf: subj.ID == agentID}); err != nil {
		return nil, err
	}
	events, err := e.repo.ListEvents(ctx, EventFilter{
		ActorID:     agentID,
		Types:       []EventType{EventTransferred},
		Limit:       feedLimit,
		NewestFirst: true,
	})
	if err != nil {
		return nil, err
	}
	names, err := e.userNames(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]TransferRecord, 0, len(events))
	for _, ev := range events {
		out = append(out, TransferRecord{
			TicketID:   ev.TicketID,
			TicketCode: ev.TicketCode,
			ShowID:     ev.ShowID,
			FromID:     ev.FromOwner,
			FromName:   names[ev.FromOwner],
			ToID:       ev.ToOwner,
			ToName:     names[ev.ToOwner],
			ByID:       ev.ActorID,
			Reason:     ev.Details["reason"],
			At:         ev.At,
		})
	}
	return out, nil
}

// Activity returns a show's event feed, newest first. Agents only see
// events that involve them.
func (e *Engine) Activity(ctx context.Context, subj Subject, showID ShowID, limit int) ([]Event, error) {
	show, err := e.repo.GetShow(ctx, showID)
	if err != nil {
		return nil, err
	}
	rel := Relation{DirectsShow: show.DirectorID == subj.ID, OwnsTicket: show.HasAgent(subj.ID)}
	if err := Authorize(OpViewShow, subj, rel); err != nil {
		return nil, err
	}
	filter := EventFilter{ShowID: showID, Limit: limit, NewestFirst: true}
	if subj.Role == RoleAgent {
		filter.ActorID = subj.ID
	}
	return e.repo.ListEvents(ctx, filter)
}

// SearchTickets finds tickets of a show by code prefix or buyer name.
// Agents only find their own tickets.
func (e *Engine) SearchTickets(ctx context.Context, subj Subject, showID ShowID, query string) ([]Ticket, error) {
	show, err := e.repo.GetShow(ctx, showID)
	if err != nil {
		return nil, err
	}
	rel := Relation{DirectsShow: show.DirectorID == subj.ID, OwnsTicket: show.HasAgent(subj.ID)}
	if err := Authorize(OpViewShow, subj, rel); err != nil {
		return nil, err
	}
	filter := TicketFilter{ShowID: showID, Query: query}
	if subj.Role == RoleAgent {
		filter.OwnerID = subj.ID
	}
	return e.repo.ListTickets(ctx, filter)
}
