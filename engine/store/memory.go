// Package store provides an in-memory engine.TxRepository.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/warp/ticket-engine/engine"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory keeps every record in maps guarded by one RWMutex. WithTx holds the
// write lock for the whole function, which makes each transaction serial.
type Memory struct {
	mu sync.RWMutex
	d  *data
}

type data struct {
	shows   map[engine.ShowID]engine.Show
	tickets map[engine.TicketID]engine.Ticket
	byCode  map[string]engine.TicketID
	events  []engine.Event
	users   map[engine.UserID]engine.User
}

func newData() *data {
	return &data{
		shows:   make(map[engine.ShowID]engine.Show),
		tickets: make(map[engine.TicketID]engine.Ticket),
		byCode:  make(map[string]engine.TicketID),
		users:   make(map[engine.UserID]engine.User),
	}
}

func NewMemory() *Memory {
	return &Memory{d: newData()}
}

// Reset clears all data (for demo scenarios).
func (m *Memory) Reset(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.d = newData()
	return nil
}

func (m *Memory) read() *view {
	return &view{d: m.d}
}

func (m *Memory) SaveShow(ctx context.Context, show engine.Show) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.read().SaveShow(ctx, show)
}

func (m *Memory) GetShow(ctx context.Context, id engine.ShowID) (engine.Show, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.read().GetShow(ctx, id)
}

func (m *Memory) LockShow(ctx context.Context, id engine.ShowID) (engine.Show, error) {
	return m.GetShow(ctx, id)
}

func (m *Memory) ListShows(ctx context.Context, filter engine.ShowFilter) ([]engine.Show, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.read().ListShows(ctx, filter)
}

func (m *Memory) InsertTickets(ctx context.Context, tickets []engine.Ticket, events []engine.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.read().InsertTickets(ctx, tickets, events)
}

func (m *Memory) GetTicket(ctx context.Context, id engine.TicketID) (engine.Ticket, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.read().GetTicket(ctx, id)
}

func (m *Memory) GetTicketByCode(ctx context.Context, code string) (engine.Ticket, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.read().GetTicketByCode(ctx, code)
}

func (m *Memory) ListByShow(ctx context.Context, showID engine.ShowID) ([]engine.Ticket, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.read().ListByShow(ctx, showID)
}

func (m *Memory) ListTickets(ctx context.Context, filter engine.TicketFilter) ([]engine.Ticket, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.read().ListTickets(ctx, filter)
}

func (m *Memory) CodeExists(ctx context.Context, code string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.read().CodeExists(ctx, code)
}

func (m *Memory) CompareAndSwap(ctx context.Context, expectedVersion int64, next engine.Ticket, ev engine.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.read().CompareAndSwap(ctx, expectedVersion, next, ev)
}

func (m *Memory) ListEvents(ctx context.Context, filter engine.EventFilter) ([]engine.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.read().ListEvents(ctx, filter)
}

func (m *Memory) InsertUser(ctx context.Context, user engine.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.read().InsertUser(ctx, user)
}

func (m *Memory) SaveUser(ctx context.Context, user engine.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.read().SaveUser(ctx, user)
}

func (m *Memory) GetUser(ctx context.Context, id engine.UserID) (engine.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.read().GetUser(ctx, id)
}

func (m *Memory) ListUsers(ctx context.Context, filter engine.UserFilter) ([]engine.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.read().ListUsers(ctx, filter)
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error.
func (m *Memory) WithTx(_ context.Context, fn func(engine.Repository) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.d.clone()
	if err := fn(&view{d: m.d}); err != nil {
		m.d = snapshot
		return err
	}
	return nil
}

func (d *data) clone() *data {
	c := newData()
	for k, v := range d.shows {
		c.shows[k] = cloneShow(v)
	}
	for k, v := range d.tickets {
		c.tickets[k] = cloneTicket(v)
	}
	for k, v := range d.byCode {
		c.byCode[k] = v
	}
	c.events = append([]engine.Event(nil), d.events...)
	for k, v := range d.users {
		c.users[k] = v
	}
	return c
}

// =============================================================================
// UNLOCKED VIEW
// =============================================================================

// view implements engine.Repository without locking. The caller holds the lock.
type view struct {
	d *data
}

func (v *view) SaveShow(_ context.Context, show engine.Show) error {
	v.d.shows[show.ID] = cloneShow(show)
	return nil
}

func (v *view) GetShow(_ context.Context, id engine.ShowID) (engine.Show, error) {
	s, ok := v.d.shows[id]
	if !ok {
		return engine.Show{}, engine.ErrShowNotFound
	}
	return cloneShow(s), nil
}

func (v *view) LockShow(ctx context.Context, id engine.ShowID) (engine.Show, error) {
	return v.GetShow(ctx, id)
}

func (v *view) ListShows(_ context.Context, f engine.ShowFilter) ([]engine.Show, error) {
	var out []engine.Show
	for _, s := range v.d.shows {
		if f.DirectorID != "" && s.DirectorID != f.DirectorID {
			continue
		}
		if f.AgentID != "" && !s.HasAgent(f.AgentID) {
			continue
		}
		if len(f.Statuses) > 0 && !containsStatus(f.Statuses, s.Status) {
			continue
		}
		if !f.StartsBefore.IsZero() && !s.StartsAt.Before(f.StartsBefore) {
			continue
		}
		out = append(out, cloneShow(s))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartsAt.Equal(out[j].StartsAt) {
			return out[i].StartsAt.Before(out[j].StartsAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (v *view) InsertTickets(_ context.Context, tickets []engine.Ticket, events []engine.Event) error {
	seen := make(map[string]bool, len(tickets))
	for _, t := range tickets {
		if _, ok := v.d.byCode[t.Code]; ok || seen[t.Code] {
			return engine.ErrDuplicateCode
		}
		seen[t.Code] = true
	}
	for _, t := range tickets {
		v.d.tickets[t.ID] = cloneTicket(t)
		v.d.byCode[t.Code] = t.ID
	}
	v.d.events = append(v.d.events, events...)
	return nil
}

func (v *view) GetTicket(_ context.Context, id engine.TicketID) (engine.Ticket, error) {
	t, ok := v.d.tickets[id]
	if !ok {
		return engine.Ticket{}, engine.ErrTicketNotFound
	}
	return cloneTicket(t), nil
}

func (v *view) GetTicketByCode(ctx context.Context, code string) (engine.Ticket, error) {
	id, ok := v.d.byCode[code]
	if !ok {
		return engine.Ticket{}, engine.ErrTicketNotFound
	}
	return v.GetTicket(ctx, id)
}

func (v *view) ListByShow(ctx context.Context, showID engine.ShowID) ([]engine.Ticket, error) {
	return v.ListTickets(ctx, engine.TicketFilter{ShowID: showID})
}

func (v *view) ListTickets(_ context.Context, f engine.TicketFilter) ([]engine.Ticket, error) {
	var out []engine.Ticket
	for _, t := range v.d.tickets {
		if matchTicket(t, f) {
			out = append(out, cloneTicket(t))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ShowID != out[j].ShowID {
			return out[i].ShowID < out[j].ShowID
		}
		return out[i].Seq < out[j].Seq
	})
	return out, nil
}

func (v *view) CodeExists(_ context.Context, code string) (bool, error) {
	_, ok := v.d.byCode[code]
	return ok, nil
}

func (v *view) CompareAndSwap(_ context.Context, expectedVersion int64, next engine.Ticket, ev engine.Event) error {
	cur, ok := v.d.tickets[next.ID]
	if !ok {
		return engine.ErrTicketNotFound
	}
	if cur.Version != expectedVersion {
		return engine.ErrConcurrentModification
	}
	next.Version = expectedVersion + 1
	// Identity fields are immutable once issued.
	next.Code = cur.Code
	next.ShowID = cur.ShowID
	next.Seq = cur.Seq
	next.CreatedAt = cur.CreatedAt
	v.d.tickets[next.ID] = cloneTicket(next)
	v.d.events = append(v.d.events, ev)
	return nil
}

func (v *view) ListEvents(_ context.Context, f engine.EventFilter) ([]engine.Event, error) {
	var out []engine.Event
	for _, ev := range v.d.events {
		if f.TicketID != "" && ev.TicketID != f.TicketID {
			continue
		}
		if f.ShowID != "" && ev.ShowID != f.ShowID {
			continue
		}
		if f.ActorID != "" && ev.ActorID != f.ActorID && ev.FromOwner != f.ActorID && ev.ToOwner != f.ActorID {
			continue
		}
		if len(f.Types) > 0 && !containsType(f.Types, ev.Type) {
			continue
		}
		out = append(out, ev)
	}
	// Events are appended in commit order; a stable sort on time keeps it
	// for equal timestamps.
	sort.SliceStable(out, func(i, j int) bool { return out[i].At.Before(out[j].At) })
	if f.NewestFirst {
		for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
			out[i], out[j] = out[j], out[i]
		}
	}
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (v *view) InsertUser(_ context.Context, user engine.User) error {
	if _, ok := v.d.users[user.ID]; ok {
		return engine.ErrUserExists
	}
	v.d.users[user.ID] = user
	return nil
}

func (v *view) SaveUser(_ context.Context, user engine.User) error {
	v.d.users[user.ID] = user
	return nil
}

func (v *view) GetUser(_ context.Context, id engine.UserID) (engine.User, error) {
	u, ok := v.d.users[id]
	if !ok {
		return engine.User{}, engine.ErrUserNotFound
	}
	return u, nil
}

func (v *view) ListUsers(_ context.Context, f engine.UserFilter) ([]engine.User, error) {
	var out []engine.User
	for _, u := range v.d.users {
		if f.Role != "" && u.Role != f.Role {
			continue
		}
		if f.ActiveOnly && !u.Active {
			continue
		}
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// =============================================================================
// HELPERS
// =============================================================================

func matchTicket(t engine.Ticket, f engine.TicketFilter) bool {
	if f.ShowID != "" && t.ShowID != f.ShowID {
		return false
	}
	if f.OwnerID != "" && t.OwnerID != f.OwnerID {
		return false
	}
	if len(f.States) > 0 && !containsState(f.States, t.State) {
		return false
	}
	return f.MatchesQuery(t)
}

func cloneShow(s engine.Show) engine.Show {
	s.AgentIDs = append([]engine.UserID(nil), s.AgentIDs...)
	return s
}

func cloneTicket(t engine.Ticket) engine.Ticket {
	if t.Sale != nil {
		sale := *t.Sale
		t.Sale = &sale
	}
	return t
}

func containsState(states []engine.State, s engine.State) bool {
	for _, x := range states {
		if x == s {
			return true
		}
	}
	return false
}

func containsStatus(statuses []engine.ShowStatus, s engine.ShowStatus) bool {
	for _, x := range statuses {
		if x == s {
			return true
		}
	}
	return false
}

func containsType(types []engine.EventType, t engine.EventType) bool {
	for _, x := range types {
		if x == t {
			return true
		}
	}
	return false
}
