/*
handlers_test.go - HTTP tests for the ticket API

Tests run the full router (auth, middleware, handlers) over the memory
store, so each test reads like a client session.
*/
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/ticket-engine/engine"
	"github.com/warp/ticket-engine/engine/store"
	"github.com/warp/ticket-engine/ratelimit"
	"github.com/warp/ticket-engine/ticketcode"
)

// =============================================================================
// TEST SETUP
// =============================================================================

var (
	superSubj = engine.Subject{ID: "super", Role: engine.RoleSuper}
	dirSubj   = engine.Subject{ID: "dir-1", Role: engine.RoleDirector}
	agentSubj = engine.Subject{ID: "agent-a", Role: engine.RoleAgent}
	otherSubj = engine.Subject{ID: "agent-b", Role: engine.RoleAgent}
)

type testServer struct {
	h      *Handler
	router http.Handler
	tokens *Tokens
	repo   *store.Memory
}

func newTestServer(t *testing.T, opts ...engine.Option) *testServer {
	t.Helper()
	repo := store.NewMemory()
	ctx := context.Background()
	for _, u := range []engine.User{
		{ID: superSubj.ID, Name: "Super", Role: engine.RoleSuper, Active: true},
		{ID: dirSubj.ID, Name: "Directora", Role: engine.RoleDirector, Active: true},
		{ID: agentSubj.ID, Name: "Actor A", Role: engine.RoleAgent, Active: true},
		{ID: otherSubj.ID, Name: "Actor B", Role: engine.RoleAgent, Active: true},
	} {
		require.NoError(t, repo.SaveUser(ctx, u))
	}

	codec, err := ticketcode.New(ticketcode.DefaultSecret)
	require.NoError(t, err)
	eng := engine.New(repo, codec, opts...)

	tokens := NewTokens(testSecret, "ticket-engine", time.Hour)
	h := NewHandler(eng, nil)
	h.Store = repo
	h.Tokens = tokens

	return &testServer{
		h:      h,
		router: NewRouter(h, RouterConfig{Tokens: tokens, Scenarios: true}),
		tokens: tokens,
		repo:   repo,
	}
}

// do sends body as JSON on behalf of subj. A zero subject sends no token.
func (s *testServer) do(t *testing.T, subj engine.Subject, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if subj.ID != "" {
		tok, err := s.tokens.Issue(engine.User{ID: subj.ID, Role: subj.Role})
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func (s *testServer) createShow(t *testing.T, capacity int) ShowDTO {
	t.Helper()
	rec := s.do(t, dirSubj, http.MethodPost, "/api/shows", map[string]any{
		"title":      "Bodas de Sangre",
		"venue":      "Sala Baco",
		"starts_at":  time.Now().Add(72 * time.Hour).UTC().Format(time.RFC3339),
		"capacity":   capacity,
		"base_price": "1500",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decodeBody[ShowDTO](t, rec)
}

func (s *testServer) assign(t *testing.T, showID string, agent engine.Subject, n int) []TicketDTO {
	t.Helper()
	rec := s.do(t, dirSubj, http.MethodPost, "/api/shows/"+showID+"/assign", AssignRequest{AgentID: string(agent.ID), Count: n})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	return decodeBody[[]TicketDTO](t, rec)
}

// =============================================================================
// TESTS
// =============================================================================

func TestHealth_NoAuth(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, engine.Subject{}, http.MethodGet, "/api/health", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "report", decodeBody[map[string]string](t, rec)["sale_flow"])
}

func TestRoutes_RequireToken(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, engine.Subject{}, http.MethodGet, "/api/shows", nil)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestTicketLifecycle_OverHTTP(t *testing.T) {
	// GIVEN: a show with stock handed to an agent
	s := newTestServer(t)
	show := s.createShow(t, 10)
	assert.Equal(t, 10, show.Capacity)
	assert.True(t, decimal.NewFromInt(1500).Equal(show.BasePrice))
	stock := s.assign(t, show.ID, agentSubj, 3)
	require.Len(t, stock, 3)
	assert.Equal(t, string(engine.StateAgentStock), stock[0].State)

	// WHEN: the agent sells, the director collects and the door scans twice
	rec := s.do(t, agentSubj, http.MethodPost, "/api/tickets/"+stock[0].ID+"/sale", SaleRequest{BuyerName: "Federico"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	sold := decodeBody[TicketDTO](t, rec)

	rec = s.do(t, dirSubj, http.MethodPost, "/api/tickets/"+stock[0].ID+"/pay", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	paid := decodeBody[TicketDTO](t, rec)

	first := s.do(t, dirSubj, http.MethodPost, "/api/scan", ScanRequest{Code: stock[0].Code})
	second := s.do(t, dirSubj, http.MethodPost, "/api/scan", ScanRequest{Code: stock[0].Code})

	// THEN: every step is reflected in state, scans and the report
	assert.Equal(t, string(engine.StateReportedSold), sold.State)
	require.NotNil(t, sold.Sale)
	assert.Equal(t, "Federico", sold.Sale.BuyerName)
	assert.Equal(t, string(engine.StatePaid), paid.State)

	require.Equal(t, http.StatusOK, first.Code)
	ok := decodeBody[ScanResultDTO](t, first)
	assert.True(t, ok.OK)
	require.NotNil(t, ok.Receipt)
	assert.Equal(t, "Federico", ok.Receipt.BuyerName)

	require.Equal(t, http.StatusOK, second.Code)
	again := decodeBody[ScanResultDTO](t, second)
	assert.False(t, again.OK)
	assert.Equal(t, engine.ReasonAlreadyUsed, again.Reason)

	rec = s.do(t, dirSubj, http.MethodGet, "/api/shows/"+show.ID+"/report", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	report := decodeBody[ShowReportDTO](t, rec)
	assert.Equal(t, 7, report.Counts.Available)
	assert.Equal(t, 2, report.Counts.Stock)
	assert.Equal(t, 1, report.Counts.Used)
	assert.Equal(t, 1, report.Attendance)
	assert.True(t, report.Balanced)
	assert.True(t, decimal.NewFromInt(1500).Equal(report.Money.Collected))

	rec = s.do(t, agentSubj, http.MethodGet, "/api/tickets/"+stock[0].ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	detail := decodeBody[TicketDetailDTO](t, rec)
	types := make([]string, len(detail.History))
	for i, e := range detail.History {
		types[i] = e.Type
	}
	assert.Equal(t, []string{"EMISION", "ASIGNACION", "REPORTE_VENTA", "COBRO_DIRECTOR", "SCAN"}, types)
}

func TestReserveFlow_ReportAndRelease(t *testing.T) {
	s := newTestServer(t, engine.WithSaleFlow(engine.FlowReserve))
	show := s.createShow(t, 4)
	stock := s.assign(t, show.ID, agentSubj, 2)

	rec := s.do(t, agentSubj, http.MethodPost, "/api/tickets/"+stock[0].ID+"/sale", SaleRequest{BuyerName: "Ana"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, string(engine.StateReserved), decodeBody[TicketDTO](t, rec).State)

	price := decimal.NewFromInt(1200)
	rec = s.do(t, agentSubj, http.MethodPost, "/api/tickets/"+stock[0].ID+"/report", ReportSoldRequest{Price: &price})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	reported := decodeBody[TicketDTO](t, rec)
	assert.Equal(t, string(engine.StateReportedSold), reported.State)
	assert.True(t, price.Equal(reported.Price))

	rec = s.do(t, agentSubj, http.MethodPost, "/api/tickets/"+stock[1].ID+"/sale", SaleRequest{BuyerName: "Luis"})
	require.Equal(t, http.StatusOK, rec.Code)
	rec = s.do(t, agentSubj, http.MethodPost, "/api/tickets/"+stock[1].ID+"/release", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	released := decodeBody[TicketDTO](t, rec)
	assert.Equal(t, string(engine.StateAgentStock), released.State)
	assert.Nil(t, released.Sale)
}

func TestErrorStatuses(t *testing.T) {
	s := newTestServer(t)
	show := s.createShow(t, 3)
	stock := s.assign(t, show.ID, agentSubj, 1)

	tests := []struct {
		name   string
		subj   engine.Subject
		method string
		path   string
		body   any
		status int
		code   string
	}{
		{"agent cannot create shows", agentSubj, http.MethodPost, "/api/shows",
			CreateShowRequest{Title: "X", Capacity: 1}, http.StatusForbidden, "forbidden"},
		{"zero capacity", dirSubj, http.MethodPost, "/api/shows",
			CreateShowRequest{Title: "X"}, http.StatusBadRequest, "invalid_input"},
		{"not enough tickets", dirSubj, http.MethodPost, "/api/shows/" + show.ID + "/assign",
			AssignRequest{AgentID: string(agentSubj.ID), Count: 5}, http.StatusUnprocessableEntity, "insufficient_inventory"},
		{"assign to director", dirSubj, http.MethodPost, "/api/shows/" + show.ID + "/assign",
			AssignRequest{AgentID: string(dirSubj.ID), Count: 1}, http.StatusUnprocessableEntity, "not_agent"},
		{"other agent sells", otherSubj, http.MethodPost, "/api/tickets/" + stock[0].ID + "/sale",
			SaleRequest{BuyerName: "B"}, http.StatusForbidden, "forbidden"},
		{"pay stock ticket", dirSubj, http.MethodPost, "/api/tickets/" + stock[0].ID + "/pay",
			nil, http.StatusConflict, "invalid_state"},
		{"unknown ticket", dirSubj, http.MethodGet, "/api/tickets/nope",
			nil, http.StatusNotFound, "not_found"},
		{"capacity shrink below issued", dirSubj, http.MethodPut, "/api/shows/" + show.ID,
			map[string]int{"capacity": 1}, http.StatusUnprocessableEntity, "capacity_exceeded"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec := s.do(t, tc.subj, tc.method, tc.path, tc.body)
			assert.Equal(t, tc.status, rec.Code, rec.Body.String())
			assert.Equal(t, tc.code, decodeBody[ErrorResponse](t, rec).Code)
		})
	}

	t.Run("bad json", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/scan", bytes.NewBufferString("{"))
		tok, err := s.tokens.Issue(engine.User{ID: dirSubj.ID, Role: dirSubj.Role})
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+tok)
		rec := httptest.NewRecorder()
		s.router.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestConcludedShow_BlocksAssignAllowsPay(t *testing.T) {
	s := newTestServer(t)
	show := s.createShow(t, 4)
	stock := s.assign(t, show.ID, agentSubj, 2)
	rec := s.do(t, agentSubj, http.MethodPost, "/api/tickets/"+stock[0].ID+"/sale", SaleRequest{BuyerName: "Ana"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, dirSubj, http.MethodPost, "/api/shows/"+show.ID+"/conclude", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, string(engine.ShowConcluded), decodeBody[ShowDTO](t, rec).Status)

	rec = s.do(t, dirSubj, http.MethodPost, "/api/shows/"+show.ID+"/assign", AssignRequest{AgentID: string(agentSubj.ID), Count: 1})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "show_closed", decodeBody[ErrorResponse](t, rec).Code)

	rec = s.do(t, dirSubj, http.MethodPost, "/api/shows/"+show.ID+"/agents/"+string(agentSubj.ID)+"/pay", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, 1, decodeBody[PaidResponse](t, rec).Paid)
}

func TestTransferAndAgentViews(t *testing.T) {
	s := newTestServer(t)
	show := s.createShow(t, 5)
	stock := s.assign(t, show.ID, agentSubj, 2)

	rec := s.do(t, agentSubj, http.MethodPost, "/api/transfers", TransferRequest{
		Code:        stock[1].Code,
		FromAgentID: string(agentSubj.ID),
		ToAgentID:   string(otherSubj.ID),
		Reason:      "cambio de turno",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, string(otherSubj.ID), decodeBody[TicketDTO](t, rec).OwnerID)

	rec = s.do(t, otherSubj, http.MethodGet, "/api/agents/"+string(otherSubj.ID)+"/transfers", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	feed := decodeBody[[]TransferDTO](t, rec)
	require.Len(t, feed, 1)
	assert.Equal(t, "in", feed[0].Direction)
	assert.Equal(t, "cambio de turno", feed[0].Reason)

	rec = s.do(t, otherSubj, http.MethodGet, "/api/agents/"+string(agentSubj.ID)+"/report", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(t, agentSubj, http.MethodGet, "/api/agents/"+string(agentSubj.ID)+"/report", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	report := decodeBody[AgentReportDTO](t, rec)
	assert.Equal(t, 1, report.Total.Counts.Stock)

	rec = s.do(t, superSubj, http.MethodDelete, "/api/agents/"+string(agentSubj.ID), nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	released := decodeBody[ReleaseAgentResponse](t, rec)
	assert.Equal(t, 1, released.Returned)
	assert.True(t, released.Deactivated)
}

func TestSearchAndActivity(t *testing.T) {
	s := newTestServer(t)
	show := s.createShow(t, 3)
	stock := s.assign(t, show.ID, agentSubj, 1)
	rec := s.do(t, agentSubj, http.MethodPost, "/api/tickets/"+stock[0].ID+"/sale", SaleRequest{BuyerName: "Margarita Xirgu"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, dirSubj, http.MethodGet, "/api/shows/"+show.ID+"/tickets?q=xirgu", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	found := decodeBody[[]TicketDTO](t, rec)
	require.Len(t, found, 1)
	assert.Equal(t, stock[0].ID, found[0].ID)

	rec = s.do(t, dirSubj, http.MethodGet, "/api/shows/"+show.ID+"/activity?limit=2", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	events := decodeBody[[]EventDTO](t, rec)
	require.Len(t, events, 2)
	assert.Equal(t, "REPORTE_VENTA", events[0].Type)

	rec = s.do(t, dirSubj, http.MethodGet, "/api/shows/"+show.ID+"/activity?limit=abc", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUsers(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, dirSubj, http.MethodPost, "/api/users", CreateUserRequest{Name: "Nuevo Actor", Role: "vendedor"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decodeBody[UserDTO](t, rec)
	assert.Equal(t, "VENDEDOR", created.Role)
	assert.NotEmpty(t, created.ID)

	rec = s.do(t, dirSubj, http.MethodPost, "/api/users", CreateUserRequest{Name: "Otra", Role: "ADMIN"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(t, superSubj, http.MethodGet, "/api/users?role=vendedor", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody[[]UserDTO](t, rec), 3)

	rec = s.do(t, agentSubj, http.MethodGet, "/api/users", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestUsers_ExistingIDIsNotOverwritten(t *testing.T) {
	s := newTestServer(t)

	// WHEN: a director registers an agent under the super's id
	rec := s.do(t, dirSubj, http.MethodPost, "/api/users", CreateUserRequest{ID: string(superSubj.ID), Name: "pwned", Role: "VENDEDOR"})

	// THEN
	require.Equal(t, http.StatusConflict, rec.Code, rec.Body.String())
	assert.Equal(t, "user_exists", decodeBody[ErrorResponse](t, rec).Code)

	rec = s.do(t, superSubj, http.MethodGet, "/api/users?role=SUPER", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	supers := decodeBody[[]UserDTO](t, rec)
	require.Len(t, supers, 1)
	assert.Equal(t, "Super", supers[0].Name)
}

func TestPublicShow_GuestReservation(t *testing.T) {
	s := newTestServer(t)
	show := s.createShow(t, 3)
	stock := s.assign(t, show.ID, agentSubj, 2)

	// GIVEN: a guest with no token browsing the public pages
	rec := s.do(t, engine.Subject{}, http.MethodGet, "/api/public/shows", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Len(t, decodeBody[[]PublicShowDTO](t, rec), 1)

	rec = s.do(t, engine.Subject{}, http.MethodGet, "/api/public/shows/"+show.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	pub := decodeBody[PublicShowDTO](t, rec)
	assert.Equal(t, []SellerDTO{{AgentID: string(agentSubj.ID), Name: "Actor A", Stock: 2}}, pub.Sellers)

	// WHEN: the guest reserves with agent A
	rec = s.do(t, engine.Subject{}, http.MethodPost, "/api/public/shows/"+show.ID+"/reservations", GuestReservationRequest{
		AgentID: string(agentSubj.ID), BuyerName: "Marta", BuyerContact: "600123123",
	})

	// THEN: the agent's first stock ticket is held
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	held := decodeBody[GuestReservationDTO](t, rec)
	assert.Equal(t, stock[0].Code, held.Code)
	assert.Equal(t, "RESERVADO", held.State)

	rec = s.do(t, engine.Subject{}, http.MethodPost, "/api/public/shows/"+show.ID+"/reservations", GuestReservationRequest{
		AgentID: string(otherSubj.ID), BuyerName: "Luis", BuyerContact: "611",
	})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "insufficient_inventory", decodeBody[ErrorResponse](t, rec).Code)
}

func TestScan_RateLimited(t *testing.T) {
	s := newTestServer(t)
	s.h.Scans = ratelimit.NewMemory(0.001, 2)

	var codes []int
	for i := 0; i < 3; i++ {
		rec := s.do(t, dirSubj, http.MethodPost, "/api/scan", ScanRequest{Code: "T-AAAAAAAAAAAA-0000"})
		codes = append(codes, rec.Code)
	}

	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)
}

type brokenLimiter struct{}

func (brokenLimiter) Allow(context.Context, string) (bool, error) {
	return false, errors.New("redis down")
}

func TestScan_LimiterFailureFailsOpen(t *testing.T) {
	s := newTestServer(t)
	s.h.Scans = brokenLimiter{}

	rec := s.do(t, dirSubj, http.MethodPost, "/api/scan", ScanRequest{Code: "garbage"})

	require.Equal(t, http.StatusOK, rec.Code)
	res := decodeBody[ScanResultDTO](t, rec)
	assert.False(t, res.OK)
	assert.Equal(t, engine.ReasonMalformed, res.Reason)
}

func TestStatusFor_UserExists(t *testing.T) {
	status, code := statusFor(fmt.Errorf("register: %w", engine.ErrUserExists))
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "user_exists", code)
}

func TestStatusFor_Unknown(t *testing.T) {
	status, code := statusFor(fmt.Errorf("disk on fire"))
	assert.Equal(t, http.StatusInternalServerError, status)
	assert.Equal(t, "internal", code)
}
