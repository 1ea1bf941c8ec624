package engine_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/ticket-engine/engine"
)

// =============================================================================
// ASSIGN
// =============================================================================

func TestAssign_TakesTicketsInCreationOrder(t *testing.T) {
	f := newTestEngine(t)
	show := f.createShow(t, 5)

	first := f.assign(t, show, agentA, 2)
	second := f.assign(t, show, agentB, 2)

	assert.Equal(t, []int{1, 2}, []int{first[0].Seq, first[1].Seq})
	assert.Equal(t, []int{3, 4}, []int{second[0].Seq, second[1].Seq})
	for _, tk := range first {
		assert.Equal(t, engine.StateAgentStock, tk.State)
		assert.Equal(t, agentA.ID, tk.OwnerID)
	}

	got, err := f.eng.GetShow(context.Background(), show.ID)
	require.NoError(t, err)
	assert.Equal(t, []engine.UserID{agentA.ID, agentB.ID}, got.AgentIDs)
}

func TestAssign_InsufficientInventoryAssignsNothing(t *testing.T) {
	// GIVEN: 3 tickets, 2 already assigned
	// WHEN: Asking for 2 more
	// THEN: InsufficientInventory, and the remaining ticket stays in the pool
	f := newTestEngine(t)
	show := f.createShow(t, 3)
	f.assign(t, show, agentA, 2)

	_, err := f.eng.Assign(context.Background(), director, show.ID, agentB.ID, 2)

	var ie *engine.InsufficientInventoryError
	require.ErrorAs(t, err, &ie)
	assert.Equal(t, 1, ie.Available)
	assert.Equal(t, 2, ie.Requested)
	assert.Equal(t, 1, f.countStates(t, show.ID)[engine.StateAvailable])
}

func TestAssign_Rejections(t *testing.T) {
	f := newTestEngine(t)
	ctx := context.Background()
	show := f.createShow(t, 3)

	_, err := f.eng.Assign(ctx, director2, show.ID, agentA.ID, 1)
	assert.ErrorIs(t, err, engine.ErrForbidden, "director of another show")

	_, err = f.eng.Assign(ctx, agentA, show.ID, agentA.ID, 1)
	assert.ErrorIs(t, err, engine.ErrForbidden, "agents cannot assign")

	_, err = f.eng.Assign(ctx, director, show.ID, retiredAg.ID, 1)
	assert.ErrorIs(t, err, engine.ErrNotAgent, "inactive agent")

	_, err = f.eng.Assign(ctx, director, show.ID, director2.ID, 1)
	assert.ErrorIs(t, err, engine.ErrNotAgent, "directors hold no stock")

	_, err = f.eng.Assign(ctx, director, show.ID, "ghost", 1)
	assert.ErrorIs(t, err, engine.ErrUserNotFound)

	_, err = f.eng.Assign(ctx, director, show.ID, agentA.ID, 0)
	assert.ErrorIs(t, err, engine.ErrInvalidInput)

	_, err = f.eng.Assign(ctx, director, "missing", agentA.ID, 1)
	assert.ErrorIs(t, err, engine.ErrShowNotFound)

	assert.Equal(t, 3, f.countStates(t, show.ID)[engine.StateAvailable])
}

func TestAssign_ConcurrentRequestsForWholePool(t *testing.T) {
	// GIVEN: Exactly N tickets available
	// WHEN: Two assign(N) calls race
	// THEN: Exactly one succeeds and the other gets InsufficientInventory
	const n = 5
	for round := 0; round < 20; round++ {
		f := newTestEngine(t)
		show := f.createShow(t, n)

		var wg sync.WaitGroup
		start := make(chan struct{})
		errs := make([]error, 2)
		for i, agent := range []engine.Subject{agentA, agentB} {
			wg.Add(1)
			go func(i int, agent engine.Subject) {
				defer wg.Done()
				<-start
				_, errs[i] = f.eng.Assign(context.Background(), director, show.ID, agent.ID, n)
			}(i, agent)
		}
		close(start)
		wg.Wait()

		successes, shortages := 0, 0
		for _, err := range errs {
			switch {
			case err == nil:
				successes++
			case errors.Is(err, engine.ErrInsufficientInventory):
				shortages++
			default:
				t.Fatalf("unexpected error: %v", err)
			}
		}
		require.Equal(t, 1, successes)
		require.Equal(t, 1, shortages)
		require.Equal(t, n, f.countStates(t, show.ID)[engine.StateAgentStock])
	}
}

// =============================================================================
// TRANSFER
// =============================================================================

func TestTransfer_MovesStockBetweenAgents(t *testing.T) {
	f := newTestEngine(t)
	show := f.createShow(t, 2)
	tk := f.assign(t, show, agentA, 1)[0]

	moved, err := f.eng.Transfer(context.Background(), agentA, engine.TransferRequest{
		Code:        tk.Code,
		FromAgentID: agentA.ID,
		ToAgentID:   agentB.ID,
		Reason:      "no puedo ir a vender",
	})

	require.NoError(t, err)
	assert.Equal(t, engine.StateAgentStock, moved.State)
	assert.Equal(t, agentB.ID, moved.OwnerID)

	got, err := f.eng.GetShow(context.Background(), show.ID)
	require.NoError(t, err)
	assert.True(t, got.HasAgent(agentB.ID))
}

func TestTransfer_AcceptsTypedLowercaseCode(t *testing.T) {
	f := newTestEngine(t)
	show := f.createShow(t, 1)
	tk := f.assign(t, show, agentA, 1)[0]

	moved, err := f.eng.Transfer(context.Background(), director, engine.TransferRequest{
		Code:        "  " + strings.ToLower(tk.Code) + " ",
		FromAgentID: agentA.ID,
		ToAgentID:   agentB.ID,
	})

	require.NoError(t, err)
	assert.Equal(t, tk.ID, moved.ID)
	assert.Equal(t, agentB.ID, moved.OwnerID)
}

func TestTransfer_ReservedTicketRejected(t *testing.T) {
	f := newTestEngine(t, engine.WithSaleFlow(engine.FlowReserve))
	show := f.createShow(t, 2)
	tk := f.assign(t, show, agentA, 1)[0]
	f.sell(t, agentA, tk, "Rosa")

	_, err := f.eng.Transfer(context.Background(), agentA, engine.TransferRequest{
		Code:        tk.Code,
		FromAgentID: agentA.ID,
		ToAgentID:   agentB.ID,
	})

	assert.ErrorIs(t, err, engine.ErrInvalidState)
	got := f.ticket(t, tk.ID)
	assert.Equal(t, agentA.ID, got.OwnerID)
	assert.Equal(t, engine.StateReserved, got.State)
}

func TestTransfer_Rejections(t *testing.T) {
	f := newTestEngine(t)
	ctx := context.Background()
	show := f.createShow(t, 2)
	tk := f.assign(t, show, agentA, 1)[0]

	req := func(from, to engine.UserID) engine.TransferRequest {
		return engine.TransferRequest{Code: tk.Code, FromAgentID: from, ToAgentID: to}
	}

	_, err := f.eng.Transfer(ctx, agentB, req(agentA.ID, agentB.ID))
	assert.ErrorIs(t, err, engine.ErrNotOwned, "agent moving someone else's ticket")

	_, err = f.eng.Transfer(ctx, director, req(agentB.ID, agentA.ID))
	assert.ErrorIs(t, err, engine.ErrNotOwned, "wrong source agent")

	_, err = f.eng.Transfer(ctx, agentA, req(agentA.ID, retiredAg.ID))
	assert.ErrorIs(t, err, engine.ErrNotAgent)

	_, err = f.eng.Transfer(ctx, agentA, req(agentA.ID, director.ID))
	assert.ErrorIs(t, err, engine.ErrNotAgent)

	_, err = f.eng.Transfer(ctx, agentA, req(agentA.ID, "ghost"))
	assert.ErrorIs(t, err, engine.ErrUserNotFound)

	_, err = f.eng.Transfer(ctx, agentA, req(agentA.ID, agentA.ID))
	assert.ErrorIs(t, err, engine.ErrInvalidInput)

	_, err = f.eng.Transfer(ctx, agentA, engine.TransferRequest{Code: "T-AAAAAAAAAAAA-5EE9", FromAgentID: agentA.ID, ToAgentID: agentB.ID})
	assert.ErrorIs(t, err, engine.ErrTicketNotFound)

	assert.Equal(t, agentA.ID, f.ticket(t, tk.ID).OwnerID)
}

func TestTransfer_DirectorSide(t *testing.T) {
	f := newTestEngine(t)
	show := f.createShow(t, 1)
	tk := f.assign(t, show, agentA, 1)[0]

	moved, err := f.eng.Transfer(context.Background(), director, engine.TransferRequest{
		Code:        tk.Code,
		FromAgentID: agentA.ID,
		ToAgentID:   agentB.ID,
	})

	require.NoError(t, err)
	assert.Equal(t, agentB.ID, moved.OwnerID)
}

// =============================================================================
// RELEASE AGENT
// =============================================================================

func TestReleaseAgent_ReturnsUnsoldKeepsCollected(t *testing.T) {
	f := newTestEngine(t, engine.WithSaleFlow(engine.FlowReserve))
	ctx := context.Background()
	show := f.createShow(t, 4)
	tickets := f.assign(t, show, agentA, 4)
	f.sell(t, agentA, tickets[0], "S1") // RESERVADO
	f.sell(t, agentA, tickets[1], "S2")
	_, err := f.eng.MarkPaid(ctx, director, tickets[1].ID) // PAGADO
	require.NoError(t, err)

	res, err := f.eng.ReleaseAgent(ctx, super, agentA.ID)

	require.NoError(t, err)
	assert.Equal(t, 3, res.Returned)
	assert.True(t, res.Deactivated)

	assert.Equal(t, engine.StateAvailable, f.ticket(t, tickets[0].ID).State)
	assert.Nil(t, f.ticket(t, tickets[0].ID).Sale)
	assert.Empty(t, f.ticket(t, tickets[2].ID).OwnerID)
	paid := f.ticket(t, tickets[1].ID)
	assert.Equal(t, engine.StatePaid, paid.State)
	assert.Equal(t, agentA.ID, paid.OwnerID)

	u, err := f.eng.GetUser(ctx, agentA.ID)
	require.NoError(t, err)
	assert.False(t, u.Active)
}

func TestReleaseAgent_DirectorScopedToOwnShows(t *testing.T) {
	f := newTestEngine(t)
	ctx := context.Background()
	mine := f.createShow(t, 2)
	theirs, err := f.eng.CreateShow(ctx, director2, engine.NewShow{Title: "Otra", Capacity: 2, BasePrice: basePrice, StartsAt: opening})
	require.NoError(t, err)
	f.assign(t, mine, agentA, 2)
	_, err = f.eng.Assign(ctx, director2, theirs.ID, agentA.ID, 2)
	require.NoError(t, err)

	res, err := f.eng.ReleaseAgent(ctx, director, agentA.ID)

	require.NoError(t, err)
	assert.Equal(t, 2, res.Returned)
	assert.False(t, res.Deactivated)
	assert.Equal(t, 2, f.countStates(t, mine.ID)[engine.StateAvailable])
	assert.Equal(t, 2, f.countStates(t, theirs.ID)[engine.StateAgentStock])
}

func TestReleaseAgent_AgentsCannotRelease(t *testing.T) {
	f := newTestEngine(t)

	_, err := f.eng.ReleaseAgent(context.Background(), agentB, agentA.ID)

	assert.ErrorIs(t, err, engine.ErrForbidden)
}
