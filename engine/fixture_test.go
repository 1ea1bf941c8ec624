package engine_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/warp/ticket-engine/clock"
	"github.com/warp/ticket-engine/engine"
	"github.com/warp/ticket-engine/engine/store"
	"github.com/warp/ticket-engine/ticketcode"
)

// =============================================================================
// TEST SETUP
// =============================================================================

var (
	super     = engine.Subject{ID: "super-1", Role: engine.RoleSuper}
	director  = engine.Subject{ID: "dir-1", Role: engine.RoleDirector}
	director2 = engine.Subject{ID: "dir-2", Role: engine.RoleDirector}
	agentA    = engine.Subject{ID: "agent-a", Role: engine.RoleAgent}
	agentB    = engine.Subject{ID: "agent-b", Role: engine.RoleAgent}
	retiredAg = engine.Subject{ID: "agent-x", Role: engine.RoleAgent}

	basePrice = decimal.NewFromInt(1500)
	opening   = time.Date(2026, time.March, 14, 21, 0, 0, 0, time.UTC)
)

type fixture struct {
	eng   *engine.Engine
	repo  engine.TxRepository
	clock *clock.Manual
	codec *ticketcode.Codec
}

func newTestEngine(t *testing.T, opts ...engine.Option) *fixture {
	t.Helper()
	return newTestEngineWithRepo(t, store.NewMemory(), opts...)
}

func newTestEngineWithRepo(t *testing.T, repo engine.TxRepository, opts ...engine.Option) *fixture {
	t.Helper()
	codec, err := ticketcode.New(ticketcode.DefaultSecret)
	require.NoError(t, err)
	clk := clock.NewManual(opening.Add(-72 * time.Hour))

	ctx := context.Background()
	users := []engine.User{
		{ID: super.ID, Name: "Super", Role: engine.RoleSuper, Active: true},
		{ID: director.ID, Name: "Directora", Role: engine.RoleDirector, Active: true},
		{ID: director2.ID, Name: "Otro Director", Role: engine.RoleDirector, Active: true},
		{ID: agentA.ID, Name: "Actor A", Role: engine.RoleAgent, Active: true},
		{ID: agentB.ID, Name: "Actor B", Role: engine.RoleAgent, Active: true},
		{ID: retiredAg.ID, Name: "Actor X", Role: engine.RoleAgent, Active: false},
	}
	for _, u := range users {
		require.NoError(t, repo.SaveUser(ctx, u))
	}

	all := append([]engine.Option{engine.WithClock(clk)}, opts...)
	return &fixture{
		eng:   engine.New(repo, codec, all...),
		repo:  repo,
		clock: clk,
		codec: codec,
	}
}

func (f *fixture) createShow(t *testing.T, capacity int) engine.Show {
	t.Helper()
	show, err := f.eng.CreateShow(context.Background(), director, engine.NewShow{
		Title:     "La Casa de Bernarda Alba",
		Venue:     "Sala Baco",
		StartsAt:  opening,
		Capacity:  capacity,
		BasePrice: basePrice,
	})
	require.NoError(t, err)
	return show
}

func (f *fixture) assign(t *testing.T, show engine.Show, agent engine.Subject, n int) []engine.Ticket {
	t.Helper()
	tickets, err := f.eng.Assign(context.Background(), director, show.ID, agent.ID, n)
	require.NoError(t, err)
	require.Len(t, tickets, n)
	return tickets
}

func (f *fixture) sell(t *testing.T, agent engine.Subject, ticket engine.Ticket, buyer string) engine.Ticket {
	t.Helper()
	sold, err := f.eng.ReserveOrReportSale(context.Background(), agent, ticket.ID, engine.Sale{
		BuyerName:    buyer,
		BuyerContact: buyer + "@example.com",
	})
	require.NoError(t, err)
	return sold
}

func (f *fixture) ticket(t *testing.T, id engine.TicketID) engine.Ticket {
	t.Helper()
	tk, err := f.repo.GetTicket(context.Background(), id)
	require.NoError(t, err)
	return tk
}

func (f *fixture) countStates(t *testing.T, showID engine.ShowID) map[engine.State]int {
	t.Helper()
	tickets, err := f.repo.ListByShow(context.Background(), showID)
	require.NoError(t, err)
	out := map[engine.State]int{}
	for _, tk := range tickets {
		out[tk.State]++
	}
	return out
}

// =============================================================================
// LOOKUP SPY
// =============================================================================

// spyRepo counts ticket lookups, including those made inside transactions.
type spyRepo struct {
	engine.TxRepository
	lookups atomic.Int32
}

func (s *spyRepo) GetTicket(ctx context.Context, id engine.TicketID) (engine.Ticket, error) {
	s.lookups.Add(1)
	return s.TxRepository.GetTicket(ctx, id)
}

func (s *spyRepo) GetTicketByCode(ctx context.Context, code string) (engine.Ticket, error) {
	s.lookups.Add(1)
	return s.TxRepository.GetTicketByCode(ctx, code)
}

func (s *spyRepo) WithTx(ctx context.Context, fn func(engine.Repository) error) error {
	return s.TxRepository.WithTx(ctx, func(r engine.Repository) error {
		return fn(&spyView{Repository: r, spy: s})
	})
}

type spyView struct {
	engine.Repository
	spy *spyRepo
}

func (v *spyView) GetTicket(ctx context.Context, id engine.TicketID) (engine.Ticket, error) {
	v.spy.lookups.Add(1)
	return v.Repository.GetTicket(ctx, id)
}

func (v *spyView) GetTicketByCode(ctx context.Context, code string) (engine.Ticket, error) {
	v.spy.lookups.Add(1)
	return v.Repository.GetTicketByCode(ctx, code)
}
