package engine

import "fmt"

// State is the lifecycle position of a ticket.
type State string

const (
	StateAvailable    State = "DISPONIBLE"
	StateAgentStock   State = "STOCK_VENDEDOR"
	StateReserved     State = "RESERVADO"
	StateReportedSold State = "REPORTADA_VENDIDA"
	StatePaid         State = "PAGADO"
	StateUsed         State = "USADO"
)

// AllStates lists states in life-progress order.
var AllStates = []State{
	StateAvailable, StateAgentStock, StateReserved, StateReportedSold, StatePaid, StateUsed,
}

// transitions is the authoritative edge table. STOCK_VENDEDOR -> STOCK_VENDEDOR
// is a transfer between agents. USADO has no outgoing edge.
var transitions = map[State][]State{
	StateAvailable:    {StateAgentStock},
	StateAgentStock:   {StateAgentStock, StateReserved, StateReportedSold, StateAvailable},
	StateReserved:     {StateReportedSold, StatePaid, StateAgentStock, StateAvailable},
	StateReportedSold: {StatePaid},
	StatePaid:         {StateUsed},
	StateUsed:         {},
}

// CanTransition reports whether from -> to is a legal edge.
func CanTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// ParseState validates a wire value.
func ParseState(s string) (State, error) {
	st := State(s)
	if _, ok := transitions[st]; !ok {
		return "", invalidInput("unknown ticket state %q", s)
	}
	return st, nil
}

// Terminal reports whether no transition leaves s.
func (s State) Terminal() bool {
	return len(transitions[s]) == 0
}

// SoldUnpaid is true for the two states that count as debt.
func (s State) SoldUnpaid() bool {
	return s == StateReserved || s == StateReportedSold
}

// Collected is true once the director holds the money.
func (s State) Collected() bool {
	return s == StatePaid || s == StateUsed
}

// Sold is true for every state past the agent's stock.
func (s State) Sold() bool {
	return s.SoldUnpaid() || s.Collected()
}

// checkTransition returns an InvalidStateError when t cannot move to `to`.
func checkTransition(t Ticket, op Operation, to State) error {
	if !CanTransition(t.State, to) {
		return &InvalidStateError{TicketID: t.ID, Op: op, From: t.State}
	}
	return nil
}

// SaleFlow selects which sold-but-unpaid state an agent's sale lands in.
type SaleFlow string

const (
	// FlowReport sends sales to REPORTADA_VENDIDA for director approval.
	FlowReport SaleFlow = "report"
	// FlowReserve sends sales to RESERVADO, paid directly by the director.
	FlowReserve SaleFlow = "reserve"
)

// ParseSaleFlow validates a configured flow name.
func ParseSaleFlow(s string) (SaleFlow, error) {
	switch SaleFlow(s) {
	case FlowReport, FlowReserve:
		return SaleFlow(s), nil
	case "":
		return FlowReport, nil
	}
	return "", fmt.Errorf("%w: unknown sale flow %q", ErrInvalidInput, s)
}

// SoldState is the state a sale lands in under this flow.
func (f SaleFlow) SoldState() State {
	if f == FlowReserve {
		return StateReserved
	}
	return StateReportedSold
}
