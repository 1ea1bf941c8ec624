/*
engine.go - Engine construction and shared plumbing

PURPOSE:
  The Engine is the only writer of ticket state. It owns the codec used for
  issuance and door validation, the clock, the logger and the configured
  sale flow, and runs every mutation through a retrying transaction.

CONCURRENCY:
  Every mutation reads, checks and writes inside repo.WithTx and finishes
  with CompareAndSwap on the ticket version. A lost race surfaces as
  ErrConcurrentModification; the whole operation is re-run (preconditions
  re-checked against fresh data) up to maxAttempts times.

USAGE:
  codec, _ := ticketcode.New(secret)
  eng := engine.New(repo, codec,
      engine.WithLogger(log),
      engine.WithSaleFlow(engine.FlowReport),
  )

SEE ALSO:
  - lifecycle.go: Sale, payment, release and validate transitions
  - allocator.go: Assign, transfer and agent release
  - shows.go: Show and user management
*/
package engine

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/warp/ticket-engine/clock"
	"github.com/warp/ticket-engine/ticketcode"
)

const defaultMaxAttempts = 3

// Engine implements the ticket lifecycle.
type Engine struct {
	repo        TxRepository
	codec       *ticketcode.Codec
	clock       clock.Clock
	log         *zap.Logger
	flow        SaleFlow
	maxAttempts int
	newID       func() string
}

// Option configures an Engine.
type Option func(*Engine)

func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.log = l
		}
	}
}

func WithClock(c clock.Clock) Option {
	return func(e *Engine) {
		if c != nil {
			e.clock = c
		}
	}
}

// WithSaleFlow selects where agent sales land. Defaults to FlowReport.
func WithSaleFlow(f SaleFlow) Option {
	return func(e *Engine) {
		if f != "" {
			e.flow = f
		}
	}
}

// WithMaxAttempts bounds retries after a lost compare-and-swap.
func WithMaxAttempts(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxAttempts = n
		}
	}
}

// WithIDGenerator replaces uuid generation, mostly for deterministic tests.
func WithIDGenerator(fn func() string) Option {
	return func(e *Engine) {
		if fn != nil {
			e.newID = fn
		}
	}
}

// New creates an engine over repo.
func New(repo TxRepository, codec *ticketcode.Codec, opts ...Option) *Engine {
	e := &Engine{
		repo:        repo,
		codec:       codec,
		clock:       clock.NewSystem(),
		log:         zap.NewNop(),
		flow:        FlowReport,
		maxAttempts: defaultMaxAttempts,
		newID:       uuid.NewString,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// SaleFlow returns the configured flow.
func (e *Engine) SaleFlow() SaleFlow {
	return e.flow
}

// Codec returns the codec used for issuance and validation.
func (e *Engine) Codec() *ticketcode.Codec {
	return e.codec
}

// =============================================================================
// TRANSACTION HELPERS
// =============================================================================

// atomically runs fn in a transaction, re-running it after a lost
// compare-and-swap.
func (e *Engine) atomically(ctx context.Context, op Operation, fn func(Repository) error) error {
	var err error
	for attempt := 1; attempt <= e.maxAttempts; attempt++ {
		err = e.repo.WithTx(ctx, fn)
		if err == nil || !IsRetryable(err) {
			return err
		}
		e.log.Debug("retrying after concurrent modification",
			zap.String("op", string(op)), zap.Int("attempt", attempt))
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
	}
	return err
}

// swap writes next over t and appends an event describing the move.
func (e *Engine) swap(ctx context.Context, repo Repository, t, next Ticket, ev Event) (Ticket, error) {
	now := e.now()
	next.UpdatedAt = now
	ev.ID = EventID(e.newID())
	ev.TicketID = t.ID
	ev.TicketCode = t.Code
	ev.ShowID = t.ShowID
	ev.FromOwner = t.OwnerID
	ev.ToOwner = next.OwnerID
	ev.FromState = t.State
	ev.ToState = next.State
	ev.At = now
	if err := repo.CompareAndSwap(ctx, t.Version, next, ev); err != nil {
		return Ticket{}, err
	}
	next.Version = t.Version + 1
	return next, nil
}

func (e *Engine) now() time.Time {
	return e.clock.Now().UTC()
}

// ticketAndShow loads a ticket with its show and rejects retired inventory.
func ticketAndShow(ctx context.Context, repo Repository, id TicketID) (Ticket, Show, error) {
	t, err := repo.GetTicket(ctx, id)
	if err != nil {
		return Ticket{}, Show{}, err
	}
	show, err := repo.GetShow(ctx, t.ShowID)
	if err != nil {
		return Ticket{}, Show{}, err
	}
	if t.Retired || show.Status == ShowRetired {
		return Ticket{}, Show{}, ErrShowRetired
	}
	return t, show, nil
}

// requireOpen rejects sales-side operations on concluded or retired shows.
func requireOpen(show Show) error {
	switch show.Status {
	case ShowRetired:
		return ErrShowRetired
	case ShowConcluded:
		return ErrShowClosed
	}
	return nil
}

func details(kv ...string) map[string]string {
	if len(kv) == 0 {
		return nil
	}
	m := make(map[string]string, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		if kv[i+1] != "" {
			m[kv[i]] = kv[i+1]
		}
	}
	if len(m) == 0 {
		return nil
	}
	return m
}
