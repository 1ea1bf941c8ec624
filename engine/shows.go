package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// =============================================================================
// SHOWS
// =============================================================================

// NewShow describes a show to create.
type NewShow struct {
	Title     string
	Venue     string
	StartsAt  time.Time
	Capacity  int
	BasePrice decimal.Decimal
	// DirectorID may only be set by a super; directors always own their shows.
	DirectorID UserID
	// Issue is the number of tickets minted now. Nil issues the full capacity.
	Issue *int
}

// ShowUpdate carries the editable fields of a show. Nil fields are untouched.
type ShowUpdate struct {
	Title     *string
	Venue     *string
	StartsAt  *time.Time
	BasePrice *decimal.Decimal
	Capacity  *int
}

// CreateShow creates a show and issues its ticket pool.
func (e *Engine) CreateShow(ctx context.Context, subj Subject, in NewShow) (Show, error) {
	if err := Authorize(OpCreateShow, subj, Relation{}); err != nil {
		return Show{}, err
	}
	in.Title = strings.TrimSpace(in.Title)
	if in.Title == "" {
		return Show{}, invalidInput("title is required")
	}
	if in.Capacity <= 0 {
		return Show{}, invalidInput("capacity must be positive")
	}
	if in.BasePrice.IsNegative() {
		return Show{}, invalidInput("base price must not be negative")
	}
	issue := in.Capacity
	if in.Issue != nil {
		issue = *in.Issue
	}
	if issue < 0 {
		return Show{}, invalidInput("issue count must not be negative")
	}
	if issue > in.Capacity {
		return Show{}, &CapacityError{Capacity: in.Capacity, Requested: issue}
	}

	director := subj.ID
	if subj.Role == RoleSuper && in.DirectorID != "" {
		director = in.DirectorID
	}

	now := e.now()
	show := Show{
		ID:         ShowID(e.newID()),
		Title:      in.Title,
		Venue:      strings.TrimSpace(in.Venue),
		StartsAt:   in.StartsAt.UTC(),
		Capacity:   in.Capacity,
		BasePrice:  in.BasePrice,
		DirectorID: director,
		Status:     ShowActive,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	err := e.repo.WithTx(ctx, func(repo Repository) error {
		if director != subj.ID {
			u, err := repo.GetUser(ctx, director)
			if err != nil {
				return err
			}
			if u.Role != RoleDirector && u.Role != RoleSuper {
				return invalidInput("user %s cannot direct shows", director)
			}
		}
		if err := repo.SaveShow(ctx, show); err != nil {
			return err
		}
		_, err := e.issueTickets(ctx, repo, subj, show, 0, issue)
		return err
	})
	if err != nil {
		return Show{}, err
	}

	e.log.Info("show created",
		zap.String("show", string(show.ID)),
		zap.String("director", string(show.DirectorID)),
		zap.Int("capacity", show.Capacity),
		zap.Int("issued", issue))
	return show, nil
}

// GenerateTickets mints n more tickets for a show, never beyond capacity.
func (e *Engine) GenerateTickets(ctx context.Context, subj Subject, showID ShowID, n int) ([]Ticket, error) {
	if n <= 0 {
		return nil, invalidInput("ticket count must be positive")
	}
	var issued []Ticket
	err := e.atomically(ctx, OpManageShow, func(repo Repository) error {
		show, err := repo.LockShow(ctx, showID)
		if err != nil {
			return err
		}
		if err := Authorize(OpManageShow, subj, Relation{DirectsShow: show.DirectorID == subj.ID}); err != nil {
			return err
		}
		if err := requireOpen(show); err != nil {
			return err
		}
		existing, err := repo.ListByShow(ctx, showID)
		if err != nil {
			return err
		}
		if len(existing)+n > show.Capacity {
			return &CapacityError{ShowID: showID, Capacity: show.Capacity, Issued: len(existing), Requested: n}
		}
		issued, err = e.issueTickets(ctx, repo, subj, show, len(existing), n)
		return err
	})
	if err != nil {
		return nil, err
	}
	e.log.Info("tickets generated", zap.String("show", string(showID)), zap.Int("count", len(issued)))
	return issued, nil
}

// issueTickets mints n tickets continuing the show's sequence after `after`.
func (e *Engine) issueTickets(ctx context.Context, repo Repository, subj Subject, show Show, after, n int) ([]Ticket, error) {
	if n == 0 {
		return nil, nil
	}
	now := e.now()
	minted := make(map[string]bool, n)
	tickets := make([]Ticket, 0, n)
	events := make([]Event, 0, n)

	for i := 0; i < n; i++ {
		var lookupErr error
		code, err := e.codec.Generate(func(c string) bool {
			if minted[c] {
				return true
			}
			taken, err := repo.CodeExists(ctx, c)
			if err != nil {
				lookupErr = err
				return false
			}
			return taken
		})
		if lookupErr != nil {
			return nil, lookupErr
		}
		if err != nil {
			return nil, err
		}
		minted[code] = true

		t := Ticket{
			ID:        TicketID(e.newID()),
			Code:      code,
			ShowID:    show.ID,
			Seq:       after + i + 1,
			State:     StateAvailable,
			Price:     show.BasePrice,
			Version:   1,
			CreatedAt: now,
			UpdatedAt: now,
		}
		tickets = append(tickets, t)
		events = append(events, Event{
			ID:         EventID(e.newID()),
			TicketID:   t.ID,
			TicketCode: t.Code,
			ShowID:     show.ID,
			Type:       EventIssued,
			ActorID:    subj.ID,
			ToState:    StateAvailable,
			At:         now,
		})
	}
	if err := repo.InsertTickets(ctx, tickets, events); err != nil {
		return nil, err
	}
	return tickets, nil
}

// UpdateShow edits a show. Capacity may grow at any time but never shrinks
// once tickets exist.
func (e *Engine) UpdateShow(ctx context.Context, subj Subject, showID ShowID, upd ShowUpdate) (Show, error) {
	var show Show
	err := e.atomically(ctx, OpManageShow, func(repo Repository) error {
		var err error
		show, err = repo.LockShow(ctx, showID)
		if err != nil {
			return err
		}
		if err := Authorize(OpManageShow, subj, Relation{DirectsShow: show.DirectorID == subj.ID}); err != nil {
			return err
		}
		if show.Status == ShowRetired {
			return ErrShowRetired
		}
		if upd.Title != nil {
			title := strings.TrimSpace(*upd.Title)
			if title == "" {
				return invalidInput("title is required")
			}
			show.Title = title
		}
		if upd.Venue != nil {
			show.Venue = strings.TrimSpace(*upd.Venue)
		}
		if upd.StartsAt != nil {
			show.StartsAt = upd.StartsAt.UTC()
		}
		if upd.BasePrice != nil {
			if upd.BasePrice.IsNegative() {
				return invalidInput("base price must not be negative")
			}
			show.BasePrice = *upd.BasePrice
		}
		if upd.Capacity != nil {
			capacity := *upd.Capacity
			if capacity <= 0 {
				return invalidInput("capacity must be positive")
			}
			tickets, err := repo.ListByShow(ctx, showID)
			if err != nil {
				return err
			}
			if len(tickets) > 0 && capacity < show.Capacity {
				return &CapacityError{ShowID: showID, Capacity: show.Capacity, Issued: len(tickets), Requested: capacity}
			}
			show.Capacity = capacity
		}
		show.UpdatedAt = e.now()
		return repo.SaveShow(ctx, show)
	})
	if err != nil {
		return Show{}, err
	}
	e.log.Info("show updated", zap.String("show", string(showID)), zap.String("actor", string(subj.ID)))
	return show, nil
}

// ConcludeShow closes a show for sales. Payments and door validation remain
// possible so outstanding debt can still be collected.
func (e *Engine) ConcludeShow(ctx context.Context, subj Subject, showID ShowID) (Show, error) {
	var show Show
	err := e.atomically(ctx, OpManageShow, func(repo Repository) error {
		var err error
		show, err = repo.LockShow(ctx, showID)
		if err != nil {
			return err
		}
		if err := Authorize(OpManageShow, subj, Relation{DirectsShow: show.DirectorID == subj.ID}); err != nil {
			return err
		}
		switch show.Status {
		case ShowRetired:
			return ErrShowRetired
		case ShowConcluded:
			return nil
		}
		show.Status = ShowConcluded
		show.UpdatedAt = e.now()
		return repo.SaveShow(ctx, show)
	})
	if err != nil {
		return Show{}, err
	}
	e.log.Info("show concluded", zap.String("show", string(showID)), zap.String("actor", string(subj.ID)))
	return show, nil
}

// RetireShow soft-deletes a show. Tickets are flagged retired and kept with
// their full history; nothing is physically removed.
func (e *Engine) RetireShow(ctx context.Context, subj Subject, showID ShowID) (int, error) {
	retired := 0
	err := e.atomically(ctx, OpManageShow, func(repo Repository) error {
		retired = 0
		show, err := repo.LockShow(ctx, showID)
		if err != nil {
			return err
		}
		if err := Authorize(OpManageShow, subj, Relation{DirectsShow: show.DirectorID == subj.ID}); err != nil {
			return err
		}
		if show.Status == ShowRetired {
			return ErrShowRetired
		}
		tickets, err := repo.ListByShow(ctx, showID)
		if err != nil {
			return err
		}
		for _, t := range tickets {
			if t.Retired {
				continue
			}
			next := t
			next.Retired = true
			if _, err := e.swap(ctx, repo, t, next, Event{Type: EventRetired, ActorID: subj.ID}); err != nil {
				return err
			}
			retired++
		}
		show.Status = ShowRetired
		show.UpdatedAt = e.now()
		return repo.SaveShow(ctx, show)
	})
	if err != nil {
		return 0, err
	}
	e.log.Info("show retired", zap.String("show", string(showID)), zap.Int("tickets", retired))
	return retired, nil
}

// ConcludePastShows concludes every active show that started before cutoff.
// A show that fails is logged and skipped; the failures are returned joined
// together with the shows that were concluded.
func (e *Engine) ConcludePastShows(ctx context.Context, cutoff time.Time) ([]ShowID, error) {
	shows, err := e.repo.ListShows(ctx, ShowFilter{Statuses: []ShowStatus{ShowActive}, StartsBefore: cutoff})
	if err != nil {
		return nil, err
	}
	var (
		done []ShowID
		errs []error
	)
	for _, s := range shows {
		if _, err := e.ConcludeShow(ctx, SystemSubject, s.ID); err != nil {
			e.log.Warn("failed to conclude show", zap.String("show", string(s.ID)), zap.Error(err))
			errs = append(errs, fmt.Errorf("show %s: %w", s.ID, err))
			continue
		}
		done = append(done, s.ID)
	}
	return done, errors.Join(errs...)
}

// GetShow returns a show.
func (e *Engine) GetShow(ctx context.Context, id ShowID) (Show, error) {
	return e.repo.GetShow(ctx, id)
}

// ListShows returns the shows visible to subj: all for a super, directed
// shows for a director, shows with assigned stock for an agent.
func (e *Engine) ListShows(ctx context.Context, subj Subject, includeRetired bool) ([]Show, error) {
	filter := ShowFilter{}
	switch subj.Role {
	case RoleDirector:
		filter.DirectorID = subj.ID
	case RoleAgent:
		filter.AgentID = subj.ID
	case RoleSuper:
	default:
		return nil, forbidden(OpViewShow, subj.Role, ErrForbidden)
	}
	if !includeRetired {
		filter.Statuses = []ShowStatus{ShowActive, ShowConcluded}
	}
	return e.repo.ListShows(ctx, filter)
}

// =============================================================================
// USERS
// =============================================================================

// NewUser describes a user to register.
type NewUser struct {
	ID      UserID // optional; generated when empty
	Name    string
	Role    Role
	Contact string
}

// CreateUser registers a user. Directors may only register agents. An
// existing id is never overwritten; see ReleaseAgent for deactivation.
func (e *Engine) CreateUser(ctx context.Context, subj Subject, in NewUser) (User, error) {
	if err := Authorize(OpManageUsers, subj, Relation{}); err != nil {
		return User{}, err
	}
	if !in.Role.Valid() {
		return User{}, invalidInput("unknown role %q", in.Role)
	}
	if subj.Role == RoleDirector && in.Role != RoleAgent {
		return User{}, forbidden(OpManageUsers, subj.Role, ErrForbidden)
	}
	in.Name = strings.TrimSpace(in.Name)
	if in.Name == "" {
		return User{}, invalidInput("name is required")
	}
	id := in.ID
	if id == "" {
		id = UserID(e.newID())
	}
	u := User{
		ID:        id,
		Name:      in.Name,
		Role:      in.Role,
		Contact:   strings.TrimSpace(in.Contact),
		Active:    true,
		CreatedAt: e.now(),
	}
	if err := e.repo.InsertUser(ctx, u); err != nil {
		return User{}, err
	}
	e.log.Info("user created", zap.String("user", string(u.ID)), zap.String("role", string(u.Role)))
	return u, nil
}

// GetUser returns a user.
func (e *Engine) GetUser(ctx context.Context, id UserID) (User, error) {
	return e.repo.GetUser(ctx, id)
}

// ListUsers lists users, optionally by role.
func (e *Engine) ListUsers(ctx context.Context, subj Subject, role Role) ([]User, error) {
	if err := Authorize(OpManageUsers, subj, Relation{}); err != nil {
		return nil, err
	}
	return e.repo.ListUsers(ctx, UserFilter{Role: role})
}
