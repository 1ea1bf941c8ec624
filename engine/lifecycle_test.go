package engine_test

import (
	"context"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/ticket-engine/engine"
	"github.com/warp/ticket-engine/engine/store"
)

// =============================================================================
// END-TO-END SCENARIO
// =============================================================================

func TestScenario_ReserveMarkPaidValidateTwice(t *testing.T) {
	// GIVEN: A show with capacity 3, two tickets assigned to agent A
	// WHEN: A reserves one for "Ana", the director marks A paid, the door
	//       validates the ticket twice
	// THEN: The first scan admits, the second reports "already used"
	f := newTestEngine(t, engine.WithSaleFlow(engine.FlowReserve))
	ctx := context.Background()

	show := f.createShow(t, 3)
	tickets := f.assign(t, show, agentA, 2)

	sold := f.sell(t, agentA, tickets[0], "Ana")
	assert.Equal(t, engine.StateReserved, sold.State)
	require.NotNil(t, sold.Sale)
	assert.Equal(t, "Ana", sold.Sale.BuyerName)

	paid, err := f.eng.MarkPaidBatch(ctx, director, show.ID, agentA.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, paid)

	first, err := f.eng.Validate(ctx, director, sold.Code)
	require.NoError(t, err)
	assert.True(t, first.OK)
	require.NotNil(t, first.Receipt)
	assert.Equal(t, show.Title, first.Receipt.ShowTitle)
	assert.Equal(t, "Actor A", first.Receipt.SellerName)
	assert.Equal(t, "Ana", first.Receipt.BuyerName)
	assert.True(t, first.Receipt.StartsAt.Equal(opening))

	second, err := f.eng.Validate(ctx, director, sold.Code)
	require.NoError(t, err)
	assert.False(t, second.OK)
	assert.Equal(t, engine.ReasonAlreadyUsed, second.Reason)
	assert.Nil(t, second.Receipt)

	assert.Equal(t, map[engine.State]int{
		engine.StateAvailable:  1,
		engine.StateAgentStock: 1,
		engine.StateUsed:       1,
	}, f.countStates(t, show.ID))
}

func TestScenario_ReportFlow(t *testing.T) {
	f := newTestEngine(t)
	ctx := context.Background()

	show := f.createShow(t, 3)
	tickets := f.assign(t, show, agentA, 1)
	sold := f.sell(t, agentA, tickets[0], "Bruno")
	assert.Equal(t, engine.StateReportedSold, sold.State)

	paid, err := f.eng.MarkPaid(ctx, director, sold.ID)
	require.NoError(t, err)
	assert.Equal(t, engine.StatePaid, paid.State)

	res, err := f.eng.Validate(ctx, super, sold.Code)
	require.NoError(t, err)
	assert.True(t, res.OK)
}

// =============================================================================
// VALIDATE
// =============================================================================

func TestValidate_TamperedChecksumRejectedWithoutLookup(t *testing.T) {
	spy := &spyRepo{TxRepository: store.NewMemory()}
	f := newTestEngineWithRepo(t, spy)
	ctx := context.Background()

	res, err := f.eng.Validate(ctx, director, "T-AAAAAAAAAAAA-0000")

	require.NoError(t, err)
	assert.False(t, res.OK)
	assert.Equal(t, engine.ReasonForged, res.Reason)
	assert.Equal(t, int32(0), spy.lookups.Load(), "no inventory lookup for a forged code")
}

func TestValidate_MalformedRejectedWithoutLookup(t *testing.T) {
	spy := &spyRepo{TxRepository: store.NewMemory()}
	f := newTestEngineWithRepo(t, spy)

	res, err := f.eng.Validate(context.Background(), director, "T-ABC-12")

	require.NoError(t, err)
	assert.Equal(t, engine.ReasonMalformed, res.Reason)
	assert.Equal(t, int32(0), spy.lookups.Load())
}

func TestValidate_Reasons(t *testing.T) {
	f := newTestEngine(t)
	ctx := context.Background()

	show := f.createShow(t, 4)
	tickets := f.assign(t, show, agentA, 2)
	unpaid := f.sell(t, agentA, tickets[0], "Carla")
	all, err := f.repo.ListByShow(ctx, show.ID)
	require.NoError(t, err)
	available := all[3]

	// A well-formed code with a valid checksum that was never issued.
	unknown, err := f.codec.Generate(nil)
	require.NoError(t, err)

	cases := []struct {
		name   string
		code   string
		reason string
	}{
		{"never assigned", available.Code, engine.ReasonNeverSold},
		{"agent stock", tickets[1].Code, engine.ReasonNeverSold},
		{"sold but unpaid", unpaid.Code, engine.ReasonUnpaid},
		{"not issued", unknown, engine.ReasonNotFound},
		{"forged", "T-AAAAAAAAAAAA-0000", engine.ReasonForged},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res, err := f.eng.Validate(ctx, director, tc.code)
			require.NoError(t, err)
			assert.False(t, res.OK)
			assert.Equal(t, tc.reason, res.Reason)
			assert.NotEmpty(t, res.Message)
		})
	}

	// Rejections never mutate state.
	assert.Equal(t, engine.StateReportedSold, f.ticket(t, unpaid.ID).State)
	assert.Equal(t, engine.StateAvailable, f.ticket(t, available.ID).State)
}

func TestValidate_AcceptsTypedLowercaseCode(t *testing.T) {
	f := newTestEngine(t)
	ctx := context.Background()
	show := f.createShow(t, 1)
	tk := f.assign(t, show, agentA, 1)[0]
	f.sell(t, agentA, tk, "Dario")
	_, err := f.eng.MarkPaid(ctx, director, tk.ID)
	require.NoError(t, err)

	res, err := f.eng.Validate(ctx, director, "  "+strings.ToLower(tk.Code)+" ")

	require.NoError(t, err)
	assert.True(t, res.OK)
}

func TestValidate_RequiresDoorRole(t *testing.T) {
	f := newTestEngine(t)

	_, err := f.eng.Validate(context.Background(), agentA, "T-AAAAAAAAAAAA-5EE9")

	assert.ErrorIs(t, err, engine.ErrForbidden)
}

func TestValidate_RetiredShow(t *testing.T) {
	f := newTestEngine(t)
	ctx := context.Background()
	show := f.createShow(t, 1)
	tk := f.assign(t, show, agentA, 1)[0]
	f.sell(t, agentA, tk, "Eva")
	_, err := f.eng.MarkPaid(ctx, director, tk.ID)
	require.NoError(t, err)
	_, err = f.eng.RetireShow(ctx, director, show.ID)
	require.NoError(t, err)

	res, err := f.eng.Validate(ctx, director, tk.Code)

	require.NoError(t, err)
	assert.Equal(t, engine.ReasonRetired, res.Reason)
	assert.Equal(t, engine.StatePaid, f.ticket(t, tk.ID).State)
}

// =============================================================================
// SALES
// =============================================================================

func TestReserveOrReportSale_RequiresOwnership(t *testing.T) {
	f := newTestEngine(t)
	show := f.createShow(t, 2)
	tk := f.assign(t, show, agentA, 1)[0]

	_, err := f.eng.ReserveOrReportSale(context.Background(), agentB, tk.ID, engine.Sale{BuyerName: "Fede"})

	assert.ErrorIs(t, err, engine.ErrNotOwned)
	assert.Equal(t, engine.StateAgentStock, f.ticket(t, tk.ID).State)
}

func TestReserveOrReportSale_RequiresStock(t *testing.T) {
	f := newTestEngine(t)
	show := f.createShow(t, 2)
	tk := f.assign(t, show, agentA, 1)[0]
	f.sell(t, agentA, tk, "Gabi")

	_, err := f.eng.ReserveOrReportSale(context.Background(), agentA, tk.ID, engine.Sale{BuyerName: "Otro"})

	assert.ErrorIs(t, err, engine.ErrInvalidState)
	got := f.ticket(t, tk.ID)
	assert.Equal(t, "Gabi", got.Sale.BuyerName, "sale is never silently overwritten")
}

func TestReserveOrReportSale_BuyerRequired(t *testing.T) {
	f := newTestEngine(t)
	show := f.createShow(t, 1)
	tk := f.assign(t, show, agentA, 1)[0]

	_, err := f.eng.ReserveOrReportSale(context.Background(), agentA, tk.ID, engine.Sale{BuyerName: "   "})

	assert.ErrorIs(t, err, engine.ErrInvalidInput)
}

func TestReserveOrReportSale_PriceOverride(t *testing.T) {
	f := newTestEngine(t)
	show := f.createShow(t, 1)
	tk := f.assign(t, show, agentA, 1)[0]
	price := decimal.NewFromInt(1000)

	sold, err := f.eng.ReserveOrReportSale(context.Background(), agentA, tk.ID, engine.Sale{
		BuyerName:     "Hugo",
		PaymentMethod: "transferencia",
		Price:         &price,
	})

	require.NoError(t, err)
	assert.True(t, sold.Price.Equal(price))
	assert.Equal(t, "transferencia", sold.Sale.PaymentMethod)
}

func TestReserveOrReportSale_UsesCurrentBasePrice(t *testing.T) {
	f := newTestEngine(t)
	ctx := context.Background()
	show := f.createShow(t, 3)
	before := f.assign(t, show, agentA, 1)[0]

	// GIVEN: the base price goes up after issue and after one assignment
	raised := decimal.NewFromInt(2000)
	_, err := f.eng.UpdateShow(ctx, director, show.ID, engine.ShowUpdate{BasePrice: &raised})
	require.NoError(t, err)
	after := f.assign(t, show, agentA, 1)[0]

	// WHEN: both tickets are sold without a price override
	soldBefore := f.sell(t, agentA, before, "Lola")
	soldAfter := f.sell(t, agentA, after, "Pepe")

	// THEN: both sell at the new base price and the report owes it
	assert.True(t, soldBefore.Price.Equal(raised), "got %s", soldBefore.Price)
	assert.True(t, soldAfter.Price.Equal(raised), "got %s", soldAfter.Price)
	rep, err := f.eng.ShowReport(ctx, director, show.ID)
	require.NoError(t, err)
	assert.True(t, rep.Money.Debt.Equal(decimal.NewFromInt(4000)), "got %s", rep.Money.Debt)
}

func TestReserveOrReportSale_ClosedShow(t *testing.T) {
	f := newTestEngine(t)
	ctx := context.Background()
	show := f.createShow(t, 1)
	tk := f.assign(t, show, agentA, 1)[0]
	_, err := f.eng.ConcludeShow(ctx, director, show.ID)
	require.NoError(t, err)

	_, err = f.eng.ReserveOrReportSale(ctx, agentA, tk.ID, engine.Sale{BuyerName: "Ines"})

	assert.ErrorIs(t, err, engine.ErrShowClosed)
}

func TestReportSold_FromReservation(t *testing.T) {
	f := newTestEngine(t, engine.WithSaleFlow(engine.FlowReserve))
	ctx := context.Background()
	show := f.createShow(t, 1)
	tk := f.assign(t, show, agentA, 1)[0]
	f.sell(t, agentA, tk, "Juan")
	price := decimal.NewFromInt(1200)

	rep, err := f.eng.ReportSold(ctx, agentA, tk.ID, engine.SaleReport{Price: &price, PaymentMethod: "efectivo"})

	require.NoError(t, err)
	assert.Equal(t, engine.StateReportedSold, rep.State)
	assert.True(t, rep.Price.Equal(price))
	assert.Equal(t, "Juan", rep.Sale.BuyerName)
	assert.Equal(t, "efectivo", rep.Sale.PaymentMethod)

	_, err = f.eng.ReportSold(ctx, agentA, tk.ID, engine.SaleReport{})
	assert.ErrorIs(t, err, engine.ErrInvalidState)
}

func TestReleaseReservation_AgentGetsStockBack(t *testing.T) {
	f := newTestEngine(t, engine.WithSaleFlow(engine.FlowReserve))
	show := f.createShow(t, 1)
	tk := f.assign(t, show, agentA, 1)[0]
	f.sell(t, agentA, tk, "Karina")

	got, err := f.eng.ReleaseReservation(context.Background(), agentA, tk.ID)

	require.NoError(t, err)
	assert.Equal(t, engine.StateAgentStock, got.State)
	assert.Equal(t, agentA.ID, got.OwnerID)
	assert.Nil(t, got.Sale)
}

func TestReleaseReservation_DirectorReturnsToPool(t *testing.T) {
	f := newTestEngine(t, engine.WithSaleFlow(engine.FlowReserve))
	show := f.createShow(t, 1)
	tk := f.assign(t, show, agentA, 1)[0]
	f.sell(t, agentA, tk, "Lucia")

	got, err := f.eng.ReleaseReservation(context.Background(), director, tk.ID)

	require.NoError(t, err)
	assert.Equal(t, engine.StateAvailable, got.State)
	assert.Empty(t, got.OwnerID)
	assert.True(t, got.Price.Equal(basePrice))
}

func TestReleaseReservation_OnlyReservations(t *testing.T) {
	f := newTestEngine(t)
	show := f.createShow(t, 1)
	tk := f.assign(t, show, agentA, 1)[0]
	f.sell(t, agentA, tk, "Marta") // report flow: REPORTADA_VENDIDA

	_, err := f.eng.ReleaseReservation(context.Background(), agentA, tk.ID)

	assert.ErrorIs(t, err, engine.ErrInvalidState)
}

// =============================================================================
// PAYMENT
// =============================================================================

func TestMarkPaid_RepeatIsNoOpError(t *testing.T) {
	f := newTestEngine(t)
	ctx := context.Background()
	show := f.createShow(t, 1)
	tk := f.assign(t, show, agentA, 1)[0]
	f.sell(t, agentA, tk, "Nora")

	_, err := f.eng.MarkPaid(ctx, director, tk.ID)
	require.NoError(t, err)
	before := f.ticket(t, tk.ID)

	_, err = f.eng.MarkPaid(ctx, director, tk.ID)

	assert.ErrorIs(t, err, engine.ErrInvalidState)
	after := f.ticket(t, tk.ID)
	assert.Equal(t, before.Version, after.Version)
}

func TestMarkPaid_RequiresShowDirector(t *testing.T) {
	f := newTestEngine(t)
	show := f.createShow(t, 1)
	tk := f.assign(t, show, agentA, 1)[0]
	f.sell(t, agentA, tk, "Oscar")

	_, err := f.eng.MarkPaid(context.Background(), director2, tk.ID)

	assert.ErrorIs(t, err, engine.ErrForbidden)
}

func TestMarkPaid_RequiresSale(t *testing.T) {
	f := newTestEngine(t)
	show := f.createShow(t, 1)
	tk := f.assign(t, show, agentA, 1)[0]

	_, err := f.eng.MarkPaid(context.Background(), director, tk.ID)

	var se *engine.InvalidStateError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, engine.StateAgentStock, se.From)
}

func TestMarkPaidBatch_PaysBothUnpaidStatesOnce(t *testing.T) {
	f := newTestEngine(t, engine.WithSaleFlow(engine.FlowReserve))
	ctx := context.Background()
	show := f.createShow(t, 5)
	tickets := f.assign(t, show, agentA, 4)
	f.assign(t, show, agentB, 1)

	f.sell(t, agentA, tickets[0], "P1")
	f.sell(t, agentA, tickets[1], "P2")
	_, err := f.eng.ReportSold(ctx, agentA, tickets[1].ID, engine.SaleReport{})
	require.NoError(t, err)

	n, err := f.eng.MarkPaidBatch(ctx, director, show.ID, agentA.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = f.eng.MarkPaidBatch(ctx, director, show.ID, agentA.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, n, "second run moves nothing")

	states := f.countStates(t, show.ID)
	assert.Equal(t, 2, states[engine.StatePaid])
	assert.Equal(t, 3, states[engine.StateAgentStock])
}

// =============================================================================
// ABSORBING USADO
// =============================================================================

func TestUsedTicketCannotLeaveUsed(t *testing.T) {
	f := newTestEngine(t)
	ctx := context.Background()
	show := f.createShow(t, 2)
	tk := f.assign(t, show, agentA, 1)[0]
	f.sell(t, agentA, tk, "Quique")
	_, err := f.eng.MarkPaid(ctx, director, tk.ID)
	require.NoError(t, err)
	res, err := f.eng.Validate(ctx, director, tk.Code)
	require.NoError(t, err)
	require.True(t, res.OK)

	_, err = f.eng.MarkPaid(ctx, director, tk.ID)
	assert.ErrorIs(t, err, engine.ErrInvalidState)
	_, err = f.eng.ReserveOrReportSale(ctx, agentA, tk.ID, engine.Sale{BuyerName: "x"})
	assert.ErrorIs(t, err, engine.ErrInvalidState)
	_, err = f.eng.ReportSold(ctx, agentA, tk.ID, engine.SaleReport{})
	assert.ErrorIs(t, err, engine.ErrInvalidState)
	_, err = f.eng.ReleaseReservation(ctx, director, tk.ID)
	assert.ErrorIs(t, err, engine.ErrInvalidState)
	_, err = f.eng.Transfer(ctx, agentA, engine.TransferRequest{Code: tk.Code, FromAgentID: agentA.ID, ToAgentID: agentB.ID})
	assert.ErrorIs(t, err, engine.ErrInvalidState)
	_, err = f.eng.ReleaseAgent(ctx, super, agentA.ID)
	assert.NoError(t, err)
	_, err = f.eng.MarkPaidBatch(ctx, director, show.ID, agentA.ID)
	assert.NoError(t, err)
	again, err := f.eng.Validate(ctx, director, tk.Code)
	require.NoError(t, err)
	assert.False(t, again.OK)

	got := f.ticket(t, tk.ID)
	assert.Equal(t, engine.StateUsed, got.State)
	assert.Equal(t, agentA.ID, got.OwnerID)
}
