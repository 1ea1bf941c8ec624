/*
storetest - Behaviour every engine.TxRepository must share

PURPOSE:
  The engine relies on a handful of storage guarantees: version-checked
  swaps, unique codes, events appended with their transition and
  transactions that roll back as a whole. Run exercises those guarantees so
  the memory, sqlite and postgres stores are held to the same contract.

USAGE:
  func TestMemory(t *testing.T) {
      storetest.Run(t, func(t *testing.T) engine.TxRepository {
          return store.NewMemory()
      })
  }
*/
package storetest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/ticket-engine/engine"
)

// Opener returns an empty repository for one subtest.
type Opener func(t *testing.T) engine.TxRepository

var at = time.Date(2026, time.March, 10, 18, 30, 0, 0, time.UTC)

// Run executes the repository contract against repositories made by open.
func Run(t *testing.T, open Opener) {
	t.Run("ShowRoundTrip", func(t *testing.T) { testShowRoundTrip(t, open(t)) })
	t.Run("ShowFilters", func(t *testing.T) { testShowFilters(t, open(t)) })
	t.Run("TicketsAndEvents", func(t *testing.T) { testTicketsAndEvents(t, open(t)) })
	t.Run("DuplicateCode", func(t *testing.T) { testDuplicateCode(t, open(t)) })
	t.Run("CompareAndSwap", func(t *testing.T) { testCompareAndSwap(t, open(t)) })
	t.Run("TicketQuery", func(t *testing.T) { testTicketQuery(t, open(t)) })
	t.Run("EventFilters", func(t *testing.T) { testEventFilters(t, open(t)) })
	t.Run("TxRollback", func(t *testing.T) { testTxRollback(t, open(t)) })
	t.Run("Users", func(t *testing.T) { testUsers(t, open(t)) })
	t.Run("InsertUser", func(t *testing.T) { testInsertUser(t, open(t)) })
	t.Run("NotFound", func(t *testing.T) { testNotFound(t, open(t)) })
}

// =============================================================================
// FIXTURES
// =============================================================================

func seedShow(t *testing.T, repo engine.Repository, id engine.ShowID, director engine.UserID, n int) (engine.Show, []engine.Ticket) {
	t.Helper()
	ctx := context.Background()
	capacity := n
	if capacity == 0 {
		capacity = 1
	}
	show := engine.Show{
		ID:         id,
		Title:      "Yerma",
		Venue:      "Sala Baco",
		StartsAt:   at,
		Capacity:   capacity,
		BasePrice:  decimal.RequireFromString("1500.50"),
		DirectorID: director,
		Status:     engine.ShowActive,
		CreatedAt:  at,
		UpdatedAt:  at,
	}
	require.NoError(t, repo.SaveShow(ctx, show))

	tickets := make([]engine.Ticket, n)
	events := make([]engine.Event, n)
	for i := range tickets {
		tickets[i] = engine.Ticket{
			ID:        engine.TicketID(fmt.Sprintf("%s-t%02d", id, i+1)),
			Code:      fmt.Sprintf("T-%s%02dAAAAAAAA-0000", strings.ToUpper(string(id)[:2]), i+1),
			ShowID:    id,
			Seq:       i + 1,
			State:     engine.StateAvailable,
			Price:     show.BasePrice,
			Version:   1,
			CreatedAt: at,
			UpdatedAt: at,
		}
		events[i] = engine.Event{
			ID:         engine.EventID(fmt.Sprintf("%s-e%02d", id, i+1)),
			TicketID:   tickets[i].ID,
			TicketCode: tickets[i].Code,
			ShowID:     id,
			Type:       engine.EventIssued,
			ActorID:    director,
			ToState:    engine.StateAvailable,
			At:         at,
		}
	}
	require.NoError(t, repo.InsertTickets(ctx, tickets, events))
	return show, tickets
}

func moveEvent(id string, t engine.Ticket, next engine.Ticket, typ engine.EventType, actor engine.UserID, when time.Time) engine.Event {
	return engine.Event{
		ID:         engine.EventID(id),
		TicketID:   t.ID,
		TicketCode: t.Code,
		ShowID:     t.ShowID,
		Type:       typ,
		ActorID:    actor,
		FromOwner:  t.OwnerID,
		ToOwner:    next.OwnerID,
		FromState:  t.State,
		ToState:    next.State,
		At:         when,
	}
}

// =============================================================================
// CASES
// =============================================================================

func testShowRoundTrip(t *testing.T, repo engine.TxRepository) {
	ctx := context.Background()
	show, _ := seedShow(t, repo, "s1", "dir-1", 0)
	show.AgentIDs = []engine.UserID{"agent-a", "agent-b"}
	show.Status = engine.ShowConcluded
	require.NoError(t, repo.SaveShow(ctx, show))

	got, err := repo.GetShow(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, show.Title, got.Title)
	assert.Equal(t, show.Venue, got.Venue)
	assert.True(t, show.StartsAt.Equal(got.StartsAt))
	assert.True(t, show.BasePrice.Equal(got.BasePrice), "price %s", got.BasePrice)
	assert.Equal(t, show.AgentIDs, got.AgentIDs)
	assert.Equal(t, engine.ShowConcluded, got.Status)

	locked, err := repo.LockShow(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, show.ID, locked.ID)
}

func testShowFilters(t *testing.T, repo engine.TxRepository) {
	ctx := context.Background()
	a, _ := seedShow(t, repo, "sa", "dir-1", 0)
	b, _ := seedShow(t, repo, "sb", "dir-2", 0)
	b.StartsAt = at.Add(48 * time.Hour)
	b.AgentIDs = []engine.UserID{"agent-a"}
	require.NoError(t, repo.SaveShow(ctx, b))

	byDirector, err := repo.ListShows(ctx, engine.ShowFilter{DirectorID: "dir-1"})
	require.NoError(t, err)
	require.Len(t, byDirector, 1)
	assert.Equal(t, a.ID, byDirector[0].ID)

	byAgent, err := repo.ListShows(ctx, engine.ShowFilter{AgentID: "agent-a"})
	require.NoError(t, err)
	require.Len(t, byAgent, 1)
	assert.Equal(t, b.ID, byAgent[0].ID)

	past, err := repo.ListShows(ctx, engine.ShowFilter{StartsBefore: at.Add(time.Hour), Statuses: []engine.ShowStatus{engine.ShowActive}})
	require.NoError(t, err)
	require.Len(t, past, 1)
	assert.Equal(t, a.ID, past[0].ID)

	all, err := repo.ListShows(ctx, engine.ShowFilter{})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, a.ID, all[0].ID, "ordered by start time")
}

func testTicketsAndEvents(t *testing.T, repo engine.TxRepository) {
	ctx := context.Background()
	_, tickets := seedShow(t, repo, "s1", "dir-1", 3)

	listed, err := repo.ListByShow(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, listed, 3)
	for i, tk := range listed {
		assert.Equal(t, i+1, tk.Seq)
		assert.Equal(t, tickets[i].Code, tk.Code)
		assert.Equal(t, int64(1), tk.Version)
		assert.True(t, tk.Price.Equal(tickets[i].Price))
		assert.Nil(t, tk.Sale)
	}

	byCode, err := repo.GetTicketByCode(ctx, tickets[1].Code)
	require.NoError(t, err)
	assert.Equal(t, tickets[1].ID, byCode.ID)

	exists, err := repo.CodeExists(ctx, tickets[2].Code)
	require.NoError(t, err)
	assert.True(t, exists)
	exists, err = repo.CodeExists(ctx, "T-ZZZZZZZZZZZZ-0000")
	require.NoError(t, err)
	assert.False(t, exists)

	events, err := repo.ListEvents(ctx, engine.EventFilter{ShowID: "s1"})
	require.NoError(t, err)
	assert.Len(t, events, 3)
}

func testDuplicateCode(t *testing.T, repo engine.TxRepository) {
	ctx := context.Background()
	_, tickets := seedShow(t, repo, "s1", "dir-1", 1)

	dup := tickets[0]
	dup.ID = "other"
	dup.Seq = 2
	err := repo.InsertTickets(ctx, []engine.Ticket{dup}, nil)

	assert.ErrorIs(t, err, engine.ErrDuplicateCode)
	listed, err := repo.ListByShow(ctx, "s1")
	require.NoError(t, err)
	assert.Len(t, listed, 1)
}

func testCompareAndSwap(t *testing.T, repo engine.TxRepository) {
	ctx := context.Background()
	_, tickets := seedShow(t, repo, "s1", "dir-1", 1)
	cur := tickets[0]

	next := cur
	next.State = engine.StateReportedSold
	next.OwnerID = "agent-a"
	next.Price = decimal.RequireFromString("1800")
	next.Sale = &engine.SaleDetails{BuyerName: "Ana", BuyerContact: "ana@example.com", PaymentMethod: "efectivo", SoldAt: at}
	require.NoError(t, repo.CompareAndSwap(ctx, 1, next, moveEvent("e-sale", cur, next, engine.EventSaleReported, "agent-a", at.Add(time.Minute))))

	got, err := repo.GetTicket(ctx, cur.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.Version)
	assert.Equal(t, engine.StateReportedSold, got.State)
	assert.Equal(t, engine.UserID("agent-a"), got.OwnerID)
	assert.True(t, got.Price.Equal(next.Price))
	require.NotNil(t, got.Sale)
	assert.Equal(t, "Ana", got.Sale.BuyerName)
	assert.Equal(t, "efectivo", got.Sale.PaymentMethod)

	// A writer holding the old version loses.
	stale := cur
	stale.State = engine.StateAgentStock
	err = repo.CompareAndSwap(ctx, 1, stale, moveEvent("e-stale", cur, stale, engine.EventAssigned, "dir-1", at))
	assert.True(t, errors.Is(err, engine.ErrConcurrentModification), "got %v", err)

	got, err = repo.GetTicket(ctx, cur.ID)
	require.NoError(t, err)
	assert.Equal(t, engine.StateReportedSold, got.State)

	history, err := repo.ListEvents(ctx, engine.EventFilter{TicketID: cur.ID})
	require.NoError(t, err)
	require.Len(t, history, 2, "the losing swap leaves no event")
	assert.Equal(t, engine.EventSaleReported, history[1].Type)
	assert.Equal(t, engine.StateAvailable, history[1].FromState)
	assert.Equal(t, engine.StateReportedSold, history[1].ToState)

	err = repo.CompareAndSwap(ctx, 1, engine.Ticket{ID: "missing"}, engine.Event{ID: "e-x", TicketID: "missing"})
	assert.Error(t, err)
}

func testTicketQuery(t *testing.T, repo engine.TxRepository) {
	ctx := context.Background()
	_, tickets := seedShow(t, repo, "s1", "dir-1", 3)
	sold := tickets[0]
	sold.State = engine.StateReportedSold
	sold.OwnerID = "agent-a"
	sold.Sale = &engine.SaleDetails{BuyerName: "María López", SoldAt: at}
	require.NoError(t, repo.CompareAndSwap(ctx, 1, sold, moveEvent("e1", tickets[0], sold, engine.EventSaleReported, "agent-a", at)))

	byBuyer, err := repo.ListTickets(ctx, engine.TicketFilter{ShowID: "s1", Query: "lópez"})
	require.NoError(t, err)
	require.Len(t, byBuyer, 1)
	assert.Equal(t, sold.ID, byBuyer[0].ID)

	byCode, err := repo.ListTickets(ctx, engine.TicketFilter{Query: "t-s102"})
	require.NoError(t, err)
	require.Len(t, byCode, 1)
	assert.Equal(t, tickets[1].ID, byCode[0].ID)

	byState, err := repo.ListTickets(ctx, engine.TicketFilter{ShowID: "s1", States: []engine.State{engine.StateAvailable}})
	require.NoError(t, err)
	assert.Len(t, byState, 2)

	byOwner, err := repo.ListTickets(ctx, engine.TicketFilter{OwnerID: "agent-a"})
	require.NoError(t, err)
	assert.Len(t, byOwner, 1)
}

func testEventFilters(t *testing.T, repo engine.TxRepository) {
	ctx := context.Background()
	_, tickets := seedShow(t, repo, "s1", "dir-1", 3)
	for i, tk := range tickets {
		next := tk
		next.State = engine.StateAgentStock
		next.OwnerID = "agent-a"
		require.NoError(t, repo.CompareAndSwap(ctx, 1, next,
			moveEvent(fmt.Sprintf("a%d", i), tk, next, engine.EventAssigned, "dir-1", at.Add(time.Duration(i+1)*time.Minute))))
	}
	moved, err := repo.GetTicket(ctx, tickets[2].ID)
	require.NoError(t, err)
	next := moved
	next.OwnerID = "agent-b"
	ev := moveEvent("tr", moved, next, engine.EventTransferred, "agent-a", at.Add(time.Hour))
	ev.Details = map[string]string{"reason": "viaje"}
	require.NoError(t, repo.CompareAndSwap(ctx, 2, next, ev))

	touching, err := repo.ListEvents(ctx, engine.EventFilter{ActorID: "agent-b"})
	require.NoError(t, err)
	require.Len(t, touching, 1)
	assert.Equal(t, "viaje", touching[0].Details["reason"])

	latest, err := repo.ListEvents(ctx, engine.EventFilter{ShowID: "s1", Limit: 2, NewestFirst: true})
	require.NoError(t, err)
	require.Len(t, latest, 2)
	assert.Equal(t, engine.EventTransferred, latest[0].Type)
	assert.Equal(t, engine.EventID("a2"), latest[1].ID)

	assigned, err := repo.ListEvents(ctx, engine.EventFilter{Types: []engine.EventType{engine.EventAssigned}})
	require.NoError(t, err)
	assert.Len(t, assigned, 3)
	assert.True(t, assigned[0].At.Before(assigned[2].At))
}

func testTxRollback(t *testing.T, repo engine.TxRepository) {
	ctx := context.Background()
	_, tickets := seedShow(t, repo, "s1", "dir-1", 2)
	boom := errors.New("boom")

	err := repo.WithTx(ctx, func(tx engine.Repository) error {
		next := tickets[0]
		next.State = engine.StateAgentStock
		next.OwnerID = "agent-a"
		if err := tx.CompareAndSwap(ctx, 1, next, moveEvent("e1", tickets[0], next, engine.EventAssigned, "dir-1", at)); err != nil {
			return err
		}
		// The write is visible inside the transaction.
		got, err := tx.GetTicket(ctx, tickets[0].ID)
		if err != nil {
			return err
		}
		if got.State != engine.StateAgentStock {
			return fmt.Errorf("uncommitted write not visible: %s", got.State)
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	got, err := repo.GetTicket(ctx, tickets[0].ID)
	require.NoError(t, err)
	assert.Equal(t, engine.StateAvailable, got.State)
	assert.Equal(t, int64(1), got.Version)
	events, err := repo.ListEvents(ctx, engine.EventFilter{TicketID: tickets[0].ID})
	require.NoError(t, err)
	assert.Len(t, events, 1)

	err = repo.WithTx(ctx, func(tx engine.Repository) error {
		next := tickets[1]
		next.State = engine.StateAgentStock
		next.OwnerID = "agent-a"
		return tx.CompareAndSwap(ctx, 1, next, moveEvent("e2", tickets[1], next, engine.EventAssigned, "dir-1", at))
	})
	require.NoError(t, err)
	got, err = repo.GetTicket(ctx, tickets[1].ID)
	require.NoError(t, err)
	assert.Equal(t, engine.StateAgentStock, got.State)
}

func testUsers(t *testing.T, repo engine.TxRepository) {
	ctx := context.Background()
	users := []engine.User{
		{ID: "dir-1", Name: "Directora", Role: engine.RoleDirector, Active: true, CreatedAt: at},
		{ID: "agent-a", Name: "Actor A", Role: engine.RoleAgent, Contact: "a@example.com", Active: true, CreatedAt: at},
		{ID: "agent-x", Name: "Actor X", Role: engine.RoleAgent, Active: false, CreatedAt: at},
	}
	for _, u := range users {
		require.NoError(t, repo.SaveUser(ctx, u))
	}

	got, err := repo.GetUser(ctx, "agent-a")
	require.NoError(t, err)
	assert.Equal(t, "a@example.com", got.Contact)
	assert.True(t, got.Active)

	agents, err := repo.ListUsers(ctx, engine.UserFilter{Role: engine.RoleAgent})
	require.NoError(t, err)
	assert.Len(t, agents, 2)

	active, err := repo.ListUsers(ctx, engine.UserFilter{Role: engine.RoleAgent, ActiveOnly: true})
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, engine.UserID("agent-a"), active[0].ID)

	got.Active = false
	require.NoError(t, repo.SaveUser(ctx, got))
	got, err = repo.GetUser(ctx, "agent-a")
	require.NoError(t, err)
	assert.False(t, got.Active)
}

func testInsertUser(t *testing.T, repo engine.TxRepository) {
	ctx := context.Background()
	dir := engine.User{ID: "dir-2", Name: "Director Two", Role: engine.RoleDirector, Active: true, CreatedAt: at}
	require.NoError(t, repo.InsertUser(ctx, dir))

	// WHEN: the same id is inserted again with another role
	err := repo.InsertUser(ctx, engine.User{ID: "dir-2", Name: "other", Role: engine.RoleAgent, Active: true, CreatedAt: at})

	// THEN: it is refused and the stored record is untouched
	assert.ErrorIs(t, err, engine.ErrUserExists)
	got, err := repo.GetUser(ctx, "dir-2")
	require.NoError(t, err)
	assert.Equal(t, engine.RoleDirector, got.Role)
	assert.Equal(t, "Director Two", got.Name)

	// A refused insert inside a transaction rolls the transaction back.
	err = repo.WithTx(ctx, func(tx engine.Repository) error {
		if err := tx.InsertUser(ctx, engine.User{ID: "agent-n", Name: "New", Role: engine.RoleAgent, Active: true, CreatedAt: at}); err != nil {
			return err
		}
		return tx.InsertUser(ctx, dir)
	})
	assert.ErrorIs(t, err, engine.ErrUserExists)
	_, err = repo.GetUser(ctx, "agent-n")
	assert.ErrorIs(t, err, engine.ErrUserNotFound)
}

func testNotFound(t *testing.T, repo engine.TxRepository) {
	ctx := context.Background()

	_, err := repo.GetShow(ctx, "nope")
	assert.ErrorIs(t, err, engine.ErrShowNotFound)
	_, err = repo.LockShow(ctx, "nope")
	assert.ErrorIs(t, err, engine.ErrShowNotFound)
	_, err = repo.GetTicket(ctx, "nope")
	assert.ErrorIs(t, err, engine.ErrTicketNotFound)
	_, err = repo.GetTicketByCode(ctx, "T-AAAAAAAAAAAA-5EE9")
	assert.ErrorIs(t, err, engine.ErrTicketNotFound)
	_, err = repo.GetUser(ctx, "nope")
	assert.ErrorIs(t, err, engine.ErrUserNotFound)
}
