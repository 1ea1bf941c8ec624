/*
scenarios_test.go - Tests for demo scenarios

Each scenario is loaded through the router and checked through the
report endpoints, using the tokens the load call returns.
*/
package api

import (
	"net/http"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/ticket-engine/engine"
)

func loadScenario(t *testing.T, s *testServer, id string) LoadScenarioResponse {
	t.Helper()
	rec := s.do(t, engine.Subject{}, http.MethodPost, "/api/scenarios/load", LoadScenarioRequest{ScenarioID: id})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	return decodeBody[LoadScenarioResponse](t, rec)
}

func TestScenario_AllLoadWithoutError(t *testing.T) {
	for _, flow := range []engine.SaleFlow{engine.FlowReport, engine.FlowReserve} {
		for _, sc := range scenarios {
			t.Run(string(flow)+"/"+sc.ID, func(t *testing.T) {
				s := newTestServer(t, engine.WithSaleFlow(flow))

				resp := loadScenario(t, s, sc.ID)

				assert.Equal(t, sc.ID, resp.Scenario)
				assert.Len(t, resp.Tokens, 5)
				for id, tok := range resp.Tokens {
					subj, err := s.tokens.Verify(tok)
					require.NoError(t, err)
					assert.Equal(t, engine.UserID(id), subj.ID)
				}
			})
		}
	}
}

func TestScenario_OpeningNight(t *testing.T) {
	// GIVEN: the opening-night scenario
	s := newTestServer(t)
	loadScenario(t, s, "opening-night")

	// WHEN: the director looks at the only show
	rec := s.do(t, demoDirector, http.MethodGet, "/api/shows", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	shows := decodeBody[[]ShowDTO](t, rec)
	require.Len(t, shows, 1)
	rec = s.do(t, demoDirector, http.MethodGet, "/api/shows/"+shows[0].ID+"/report", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	report := decodeBody[ShowReportDTO](t, rec)

	// THEN: stock, debt and attendance match the seeded story
	assert.Equal(t, 40, report.Counts.Issued)
	assert.Equal(t, 17, report.Counts.Available)
	assert.Equal(t, 17, report.Counts.Stock)
	assert.Equal(t, 4, report.Counts.ReportedSold)
	assert.Equal(t, 1, report.Counts.Paid)
	assert.Equal(t, 1, report.Attendance)
	assert.True(t, decimal.NewFromInt(7200).Equal(report.Money.Debt))
	assert.True(t, decimal.NewFromInt(3600).Equal(report.Money.Collected))
	assert.True(t, report.Balanced)
	require.NotNil(t, report.TopSeller)
	assert.Equal(t, "actor-lucia", report.TopSeller.AgentID)
}

func TestScenario_Debtors(t *testing.T) {
	s := newTestServer(t)
	loadScenario(t, s, "debtors")

	rec := s.do(t, demoDirector, http.MethodGet, "/api/shows", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	shows := decodeBody[[]ShowDTO](t, rec)
	require.Len(t, shows, 1)

	rec = s.do(t, demoDirector, http.MethodGet, "/api/shows/"+shows[0].ID+"/debtors", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	debtors := decodeBody[[]AgentSummaryDTO](t, rec)

	require.Len(t, debtors, 3)
	assert.Equal(t, []string{"actor-lucia", "actor-ines", "actor-pablo"},
		[]string{debtors[0].AgentID, debtors[1].AgentID, debtors[2].AgentID})
	assert.True(t, decimal.NewFromInt(9000).Equal(debtors[0].Money.Debt))
}

func TestScenario_Season(t *testing.T) {
	s := newTestServer(t)
	loadScenario(t, s, "season")

	rec := s.do(t, demoDirector, http.MethodGet, "/api/shows?include_retired=true", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	statuses := map[string]int{}
	for _, sh := range decodeBody[[]ShowDTO](t, rec) {
		statuses[sh.Status]++
	}
	assert.Equal(t, map[string]int{"ACTIVA": 1, "CONCLUIDA": 1, "RETIRADA": 1}, statuses)

	rec = s.do(t, demoDirector, http.MethodGet, "/api/shows", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody[[]ShowDTO](t, rec), 2)
}

func TestScenario_UnknownAndReset(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, engine.Subject{}, http.MethodPost, "/api/scenarios/load", LoadScenarioRequest{ScenarioID: "nope"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	loadScenario(t, s, "debtors")
	rec = s.do(t, engine.Subject{}, http.MethodGet, "/api/scenarios/current", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "debtors", decodeBody[ScenarioDTO](t, rec).ID)

	rec = s.do(t, engine.Subject{}, http.MethodPost, "/api/scenarios/reset", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, superSubj, http.MethodGet, "/api/users", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decodeBody[[]UserDTO](t, rec))
}

func TestScenario_RoutesHiddenOutsideDevelopment(t *testing.T) {
	s := newTestServer(t)
	s.router = NewRouter(s.h, RouterConfig{Tokens: s.tokens})

	rec := s.do(t, engine.Subject{}, http.MethodGet, "/api/scenarios/", nil)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}
