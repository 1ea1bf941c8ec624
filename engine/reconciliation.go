/*
reconciliation.go - Money and stock figures derived from ticket state

PURPOSE:
  Pure functions that turn a set of tickets into counts and money per agent
  and per show. Nothing here is stored; every figure is recomputed from the
  current ticket states.

DEFINITIONS:
  Collected = Σ price of PAGADO + USADO
  Debt      = Σ price of RESERVADO + REPORTADA_VENDIDA
  Reported  = Σ price of every sold state

  For every agent at every point in time: Debt + Collected == Reported.

TOP SELLER:
  Most paid tickets wins; ties go to most sold; remaining ties to the lower
  agent id so the ordering is total.

SEE ALSO:
  - reports.go: Engine methods that load tickets and call these functions
*/
package engine

import (
	"sort"

	"github.com/shopspring/decimal"
)

// Counts tallies tickets by state.
type Counts struct {
	Available    int
	Stock        int
	Reserved     int
	ReportedSold int
	Paid         int
	Used         int
}

func (c *Counts) add(s State) {
	switch s {
	case StateAvailable:
		c.Available++
	case StateAgentStock:
		c.Stock++
	case StateReserved:
		c.Reserved++
	case StateReportedSold:
		c.ReportedSold++
	case StatePaid:
		c.Paid++
	case StateUsed:
		c.Used++
	}
}

// Issued is the size of the pool.
func (c Counts) Issued() int {
	return c.Available + c.Stock + c.Sold()
}

// Sold counts every ticket past the agent's stock.
func (c Counts) Sold() int {
	return c.Reserved + c.ReportedSold + c.Paid + c.Used
}

// Unpaid counts sold tickets whose money is still with the agent.
func (c Counts) Unpaid() int {
	return c.Reserved + c.ReportedSold
}

// Collected counts tickets whose money the director holds. Used tickets
// were paid before entry, so they are included.
func (c Counts) Collected() int {
	return c.Paid + c.Used
}

// ByState returns the counts keyed by wire state.
func (c Counts) ByState() map[State]int {
	return map[State]int{
		StateAvailable:    c.Available,
		StateAgentStock:   c.Stock,
		StateReserved:     c.Reserved,
		StateReportedSold: c.ReportedSold,
		StatePaid:         c.Paid,
		StateUsed:         c.Used,
	}
}

// Money holds the amounts derived from a set of tickets.
type Money struct {
	Collected decimal.Decimal
	Debt      decimal.Decimal
	Reported  decimal.Decimal
}

func (m *Money) add(t Ticket) {
	switch {
	case t.State.Collected():
		m.Collected = m.Collected.Add(t.Price)
		m.Reported = m.Reported.Add(t.Price)
	case t.State.SoldUnpaid():
		m.Debt = m.Debt.Add(t.Price)
		m.Reported = m.Reported.Add(t.Price)
	}
}

// Balanced reports whether Debt + Collected == Reported.
func (m Money) Balanced() bool {
	return m.Debt.Add(m.Collected).Equal(m.Reported)
}

// AgentSummary is one agent's position, for one show or across shows.
type AgentSummary struct {
	AgentID   UserID
	AgentName string
	Counts
	Money
}

// ShowSummary is the reconciliation of one show.
type ShowSummary struct {
	Show     Show
	Counts   Counts
	Money    Money
	Agents   []AgentSummary // ranked, best seller first
	Debtors  []AgentSummary // agents with debt, largest first
	Top      *AgentSummary
	Capacity int
}

// Attendance is the number of admitted holders.
func (s ShowSummary) Attendance() int {
	return s.Counts.Used
}

// SummarizeAgents groups tickets by owner. Tickets without an owner are
// skipped. names may be nil.
func SummarizeAgents(tickets []Ticket, names map[UserID]string) []AgentSummary {
	byAgent := map[UserID]*AgentSummary{}
	var order []UserID
	for _, t := range tickets {
		if t.OwnerID == "" {
			continue
		}
		a, ok := byAgent[t.OwnerID]
		if !ok {
			a = &AgentSummary{AgentID: t.OwnerID, AgentName: names[t.OwnerID]}
			byAgent[t.OwnerID] = a
			order = append(order, t.OwnerID)
		}
		a.Counts.add(t.State)
		a.Money.add(t)
	}
	out := make([]AgentSummary, 0, len(order))
	for _, id := range order {
		out = append(out, *byAgent[id])
	}
	RankSellers(out)
	return out
}

// SummarizeShow reconciles a show's tickets.
func SummarizeShow(show Show, tickets []Ticket, names map[UserID]string) ShowSummary {
	s := ShowSummary{Show: show, Capacity: show.Capacity}
	for _, t := range tickets {
		s.Counts.add(t.State)
		s.Money.add(t)
	}
	s.Agents = SummarizeAgents(tickets, names)
	s.Debtors = Debtors(s.Agents)
	s.Top = TopSeller(s.Agents)
	return s
}

// RankSellers orders agents by paid desc, then sold desc, then id.
func RankSellers(agents []AgentSummary) {
	sort.SliceStable(agents, func(i, j int) bool {
		a, b := agents[i], agents[j]
		if a.Counts.Collected() != b.Counts.Collected() {
			return a.Counts.Collected() > b.Counts.Collected()
		}
		if a.Counts.Sold() != b.Counts.Sold() {
			return a.Counts.Sold() > b.Counts.Sold()
		}
		return a.AgentID < b.AgentID
	})
}

// TopSeller returns the best-ranked agent with at least one sale.
func TopSeller(agents []AgentSummary) *AgentSummary {
	ranked := append([]AgentSummary(nil), agents...)
	RankSellers(ranked)
	for _, a := range ranked {
		if a.Counts.Sold() > 0 {
			top := a
			return &top
		}
	}
	return nil
}

// Debtors returns agents owing money, largest debt first.
func Debtors(agents []AgentSummary) []AgentSummary {
	var out []AgentSummary
	for _, a := range agents {
		if a.Debt.IsPositive() {
			out = append(out, a)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].Debt.Equal(out[j].Debt) {
			return out[i].Debt.GreaterThan(out[j].Debt)
		}
		return out[i].AgentID < out[j].AgentID
	})
	return out
}

// TotalDebt sums the debt of a list of agents.
func TotalDebt(agents []AgentSummary) decimal.Decimal {
	total := decimal.Zero
	for _, a := range agents {
		total = total.Add(a.Debt)
	}
	return total
}
