package engine_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/ticket-engine/engine"
)

func TestTicketDetail_RecordsEveryTransition(t *testing.T) {
	f := newTestEngine(t, engine.WithSaleFlow(engine.FlowReserve))
	ctx := context.Background()
	show := f.createShow(t, 1)
	tk := f.assign(t, show, agentA, 1)[0]
	f.clock.Advance(time.Hour)
	f.sell(t, agentA, tk, "Ana")
	f.clock.Advance(time.Hour)
	_, err := f.eng.MarkPaid(ctx, director, tk.ID)
	require.NoError(t, err)
	f.clock.Advance(time.Hour)
	_, err = f.eng.Validate(ctx, director, tk.Code)
	require.NoError(t, err)

	detail, err := f.eng.TicketDetail(ctx, agentA, tk.ID)

	require.NoError(t, err)
	assert.Equal(t, engine.StateUsed, detail.Ticket.State)
	var types []engine.EventType
	for _, ev := range detail.History {
		types = append(types, ev.Type)
		assert.Equal(t, tk.Code, ev.TicketCode)
	}
	assert.Equal(t, []engine.EventType{
		engine.EventIssued,
		engine.EventAssigned,
		engine.EventReserved,
		engine.EventPaid,
		engine.EventUsed,
	}, types)
	assert.Equal(t, engine.StatePaid, detail.History[4].FromState)
	assert.Equal(t, director.ID, detail.History[4].ActorID)

	_, err = f.eng.TicketDetail(ctx, agentB, tk.ID)
	assert.ErrorIs(t, err, engine.ErrForbidden)
}

func TestTransfers_LatestTenNewestFirst(t *testing.T) {
	f := newTestEngine(t)
	ctx := context.Background()
	show := f.createShow(t, 12)
	tickets := f.assign(t, show, agentA, 12)

	for i, x := range tickets {
		f.clock.Advance(time.Minute)
		_, err := f.eng.Transfer(ctx, agentA, engine.TransferRequest{
			Code:        x.Code,
			FromAgentID: agentA.ID,
			ToAgentID:   agentB.ID,
			Reason:      fmt.Sprintf("r%d", i),
		})
		require.NoError(t, err)
	}

	feed, err := f.eng.Transfers(ctx, agentB, agentB.ID)

	require.NoError(t, err)
	require.Len(t, feed, 10)
	assert.Equal(t, "r11", feed[0].Reason)
	assert.Equal(t, "r2", feed[9].Reason)
	assert.Equal(t, "Actor A", feed[0].FromName)
	assert.Equal(t, "Actor B", feed[0].ToName)
	assert.Equal(t, "in", feed[0].Direction(agentB.ID))
	assert.Equal(t, "out", feed[0].Direction(agentA.ID))

	_, err = f.eng.Transfers(ctx, agentA, agentB.ID)
	assert.ErrorIs(t, err, engine.ErrForbidden)
}

func TestActivity_AgentSeesOwnEvents(t *testing.T) {
	f := newTestEngine(t)
	ctx := context.Background()
	show := f.createShow(t, 4)
	f.assign(t, show, agentA, 1)
	f.assign(t, show, agentB, 1)

	all, err := f.eng.Activity(ctx, director, show.ID, 0)
	require.NoError(t, err)
	assert.Len(t, all, 6) // 4 issued + 2 assigned

	recent, err := f.eng.Activity(ctx, director, show.ID, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, engine.EventAssigned, recent[0].Type)

	own, err := f.eng.Activity(ctx, agentA, show.ID, 0)
	require.NoError(t, err)
	require.Len(t, own, 1)
	assert.Equal(t, agentA.ID, own[0].ToOwner)
}

func TestSearchTickets_ByCodePrefixAndBuyer(t *testing.T) {
	f := newTestEngine(t)
	ctx := context.Background()
	show := f.createShow(t, 3)
	held := f.assign(t, show, agentA, 2)
	f.sell(t, agentA, held[0], "María López")

	byBuyer, err := f.eng.SearchTickets(ctx, director, show.ID, "lópez")
	require.NoError(t, err)
	require.Len(t, byBuyer, 1)
	assert.Equal(t, held[0].ID, byBuyer[0].ID)

	byCode, err := f.eng.SearchTickets(ctx, director, show.ID, held[1].Code[:10])
	require.NoError(t, err)
	require.NotEmpty(t, byCode)
	assert.Contains(t, ticketIDs(byCode), held[1].ID)

	mine, err := f.eng.SearchTickets(ctx, agentA, show.ID, "")
	require.NoError(t, err)
	assert.Len(t, mine, 2)
}

func ticketIDs(ts []engine.Ticket) []engine.TicketID {
	out := make([]engine.TicketID, 0, len(ts))
	for _, x := range ts {
		out = append(out, x.ID)
	}
	return out
}
