package engine

import (
	"context"
)

// ShowReport reconciles one show. Agents may read the report of a show they
// hold stock in; the whole report is then limited to their own figures.
func (e *Engine) ShowReport(ctx context.Context, subj Subject, showID ShowID) (ShowSummary, error) {
	show, err := e.repo.GetShow(ctx, showID)
	if err != nil {
		return ShowSummary{}, err
	}
	rel := Relation{DirectsShow: show.DirectorID == subj.ID, OwnsTicket: show.HasAgent(subj.ID)}
	if err := Authorize(OpViewShow, subj, rel); err != nil {
		return ShowSummary{}, err
	}
	tickets, err := e.repo.ListByShow(ctx, showID)
	if err != nil {
		return ShowSummary{}, err
	}
	names, err := e.userNames(ctx)
	if err != nil {
		return ShowSummary{}, err
	}
	summary := SummarizeShow(show, tickets, names)
	if subj.Role == RoleAgent {
		summary = scopeToAgent(summary, subj.ID)
	}
	return summary, nil
}

// scopeToAgent reduces a show summary to one agent's own figures. Totals
// and the top seller of other agents are not visible to an agent.
func scopeToAgent(s ShowSummary, id UserID) ShowSummary {
	s.Agents = onlyAgent(s.Agents, id)
	s.Debtors = onlyAgent(s.Debtors, id)
	s.Counts = Counts{}
	s.Money = Money{}
	if len(s.Agents) == 1 {
		s.Counts = s.Agents[0].Counts
		s.Money = s.Agents[0].Money
	}
	if s.Top != nil && s.Top.AgentID != id {
		s.Top = nil
	}
	return s
}

// ShowDebtors lists the agents of a show that still owe money.
func (e *Engine) ShowDebtors(ctx context.Context, subj Subject, showID ShowID) ([]AgentSummary, error) {
	summary, err := e.ShowReport(ctx, subj, showID)
	if err != nil {
		return nil, err
	}
	return summary.Debtors, nil
}

// AgentShowLine is an agent's position in one show.
type AgentShowLine struct {
	Show    Show
	Summary AgentSummary
}

// AgentReport is an agent's position across shows.
type AgentReport struct {
	Agent User
	Shows []AgentShowLine
	Total AgentSummary
}

// AgentReport reconciles an agent across every show the subject may see.
func (e *Engine) AgentReport(ctx context.Context, subj Subject, agentID UserID) (AgentReport, error) {
	if err := Authorize(OpViewAgent, subj, Relation{IsSelf: subj.ID == agentID}); err != nil {
		return AgentReport{}, err
	}
	agent, err := e.repo.GetUser(ctx, agentID)
	if err != nil {
		return AgentReport{}, err
	}
	tickets, err := e.repo.ListTickets(ctx, TicketFilter{OwnerID: agentID})
	if err != nil {
		return AgentReport{}, err
	}

	report := AgentReport{
		Agent: agent,
		Total: AgentSummary{AgentID: agent.ID, AgentName: agent.Name},
	}
	byShow := map[ShowID][]Ticket{}
	var order []ShowID
	for _, t := range tickets {
		if _, ok := byShow[t.ShowID]; !ok {
			order = append(order, t.ShowID)
		}
		byShow[t.ShowID] = append(byShow[t.ShowID], t)
	}
	for _, id := range order {
		show, err := e.repo.GetShow(ctx, id)
		if err != nil {
			return AgentReport{}, err
		}
		if subj.Role == RoleDirector && show.DirectorID != subj.ID {
			continue
		}
		line := AgentShowLine{Show: show, Summary: AgentSummary{AgentID: agent.ID, AgentName: agent.Name}}
		for _, t := range byShow[id] {
			line.Summary.Counts.add(t.State)
			line.Summary.Money.add(t)
			report.Total.Counts.add(t.State)
			report.Total.Money.add(t)
		}
		report.Shows = append(report.Shows, line)
	}
	return report, nil
}

func (e *Engine) userNames(ctx context.Context) (map[UserID]string, error) {
	users, err := e.repo.ListUsers(ctx, UserFilter{})
	if err != nil {
		return nil, err
	}
	names := make(map[UserID]string, len(users))
	for _, u := range users {
		names[u.ID] = u.Name
	}
	return names, nil
}

func onlyAgent(rows []AgentSummary, id UserID) []AgentSummary {
	var out []AgentSummary
	for _, r := range rows {
		if r.AgentID == id {
			out = append(out, r)
		}
	}
	return out
}
