/*
lifecycle.go - Sale, payment, release and door-validation transitions

PURPOSE:
  Implements the per-ticket transitions of the state machine:

  DISPONIBLE -> STOCK_VENDEDOR -> {RESERVADO | REPORTADA_VENDIDA} -> PAGADO -> USADO

  Each operation authorizes the subject, checks the edge against the
  transition table, and writes through CompareAndSwap with an event.

SALE FLOWS:
  FlowReport  (default): STOCK_VENDEDOR -> REPORTADA_VENDIDA -> PAGADO
  FlowReserve:           STOCK_VENDEDOR -> RESERVADO -> PAGADO
  Both sold-but-unpaid states count as debt and both can be marked paid.
  A reservation can additionally be reported sold by its agent.

DOOR VALIDATION:
  Validate checks role, then the code checksum, and only then looks the
  ticket up. Rejections are returned as a ScanResult with a reason, never
  as an error, and never mutate state.

SEE ALSO:
  - state.go: Transition table
  - allocator.go: Assign, transfer, agent release
*/
package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/warp/ticket-engine/ticketcode"
)

// =============================================================================
// SALES
// =============================================================================

// Sale carries the buyer facts of a reservation or reported sale.
type Sale struct {
	BuyerName     string
	BuyerContact  string
	PaymentMethod string
	// Price overrides the show's current base price when set.
	Price *decimal.Decimal
}

// ReserveOrReportSale moves one of the agent's stock tickets to the sale
// flow's sold-but-unpaid state and records the buyer.
func (e *Engine) ReserveOrReportSale(ctx context.Context, subj Subject, ticketID TicketID, sale Sale) (Ticket, error) {
	sale.BuyerName = strings.TrimSpace(sale.BuyerName)
	if sale.BuyerName == "" {
		return Ticket{}, invalidInput("buyer name is required")
	}
	if sale.Price != nil && sale.Price.IsNegative() {
		return Ticket{}, invalidInput("price must not be negative")
	}
	target := e.flow.SoldState()
	evType := EventSaleReported
	if target == StateReserved {
		evType = EventReserved
	}

	var out Ticket
	err := e.atomically(ctx, OpSell, func(repo Repository) error {
		t, show, err := ticketAndShow(ctx, repo, ticketID)
		if err != nil {
			return err
		}
		if err := Authorize(OpSell, subj, Relation{OwnsTicket: t.OwnedBy(subj.ID)}); err != nil {
			return err
		}
		if err := requireOpen(show); err != nil {
			return err
		}
		if t.State != StateAgentStock {
			return &InvalidStateError{TicketID: t.ID, Op: OpSell, From: t.State}
		}
		if err := checkTransition(t, OpSell, target); err != nil {
			return err
		}

		next := t
		next.State = target
		next.Price = show.BasePrice
		if sale.Price != nil {
			next.Price = *sale.Price
		}
		next.Sale = &SaleDetails{
			BuyerName:     sale.BuyerName,
			BuyerContact:  strings.TrimSpace(sale.BuyerContact),
			PaymentMethod: strings.TrimSpace(sale.PaymentMethod),
			SoldAt:        e.now(),
		}
		out, err = e.swap(ctx, repo, t, next, Event{
			Type:    evType,
			ActorID: subj.ID,
			Details: details("buyer", sale.BuyerName, "price", next.Price.String(), "payment_method", next.Sale.PaymentMethod),
		})
		return err
	})
	if err != nil {
		e.log.Debug("sale rejected", zap.String("ticket", string(ticketID)), zap.Error(err))
		return Ticket{}, err
	}
	e.log.Info("ticket sold",
		zap.String("ticket", string(out.ID)),
		zap.String("state", string(out.State)),
		zap.String("agent", string(subj.ID)))
	return out, nil
}

// SaleReport carries what an agent declares when a reservation is sold.
type SaleReport struct {
	Price         *decimal.Decimal
	PaymentMethod string
}

// ReportSold moves a reservation to REPORTADA_VENDIDA.
func (e *Engine) ReportSold(ctx context.Context, subj Subject, ticketID TicketID, rep SaleReport) (Ticket, error) {
	if rep.Price != nil && rep.Price.IsNegative() {
		return Ticket{}, invalidInput("price must not be negative")
	}
	var out Ticket
	err := e.atomically(ctx, OpSell, func(repo Repository) error {
		t, show, err := ticketAndShow(ctx, repo, ticketID)
		if err != nil {
			return err
		}
		if err := Authorize(OpSell, subj, Relation{OwnsTicket: t.OwnedBy(subj.ID)}); err != nil {
			return err
		}
		if err := requireOpen(show); err != nil {
			return err
		}
		if t.State != StateReserved {
			return &InvalidStateError{TicketID: t.ID, Op: OpSell, From: t.State}
		}

		next := t
		next.State = StateReportedSold
		if rep.Price != nil {
			next.Price = *rep.Price
		}
		sale := SaleDetails{SoldAt: e.now()}
		if t.Sale != nil {
			sale = *t.Sale
		}
		if m := strings.TrimSpace(rep.PaymentMethod); m != "" {
			sale.PaymentMethod = m
		}
		next.Sale = &sale
		out, err = e.swap(ctx, repo, t, next, Event{
			Type:    EventSaleReported,
			ActorID: subj.ID,
			Details: details("price", next.Price.String(), "payment_method", sale.PaymentMethod),
		})
		return err
	})
	if err != nil {
		return Ticket{}, err
	}
	e.log.Info("reservation reported sold", zap.String("ticket", string(out.ID)), zap.String("agent", string(subj.ID)))
	return out, nil
}

// ReleaseReservation undoes a reservation. The owning agent gets the ticket
// back as stock; a director or super returns it to the show's pool.
func (e *Engine) ReleaseReservation(ctx context.Context, subj Subject, ticketID TicketID) (Ticket, error) {
	var out Ticket
	err := e.atomically(ctx, OpReleaseReservation, func(repo Repository) error {
		t, show, err := ticketAndShow(ctx, repo, ticketID)
		if err != nil {
			return err
		}
		rel := Relation{OwnsTicket: t.OwnedBy(subj.ID), DirectsShow: show.DirectorID == subj.ID}
		if err := Authorize(OpReleaseReservation, subj, rel); err != nil {
			return err
		}
		if t.State != StateReserved {
			return &InvalidStateError{TicketID: t.ID, Op: OpReleaseReservation, From: t.State}
		}

		next := t
		next.Sale = nil
		next.Price = show.BasePrice
		if subj.Role == RoleAgent {
			next.State = StateAgentStock
		} else {
			next.State = StateAvailable
			next.OwnerID = ""
		}
		if err := checkTransition(t, OpReleaseReservation, next.State); err != nil {
			return err
		}
		buyer := ""
		if t.Sale != nil {
			buyer = t.Sale.BuyerName
		}
		out, err = e.swap(ctx, repo, t, next, Event{
			Type:    EventReservationReleased,
			ActorID: subj.ID,
			Details: details("buyer", buyer),
		})
		return err
	})
	if err != nil {
		return Ticket{}, err
	}
	e.log.Info("reservation released",
		zap.String("ticket", string(out.ID)),
		zap.String("state", string(out.State)),
		zap.String("actor", string(subj.ID)))
	return out, nil
}

// =============================================================================
// PAYMENT
// =============================================================================

// MarkPaid records that the director collected a ticket's money. Re-running
// it on a paid ticket fails with ErrInvalidState and changes nothing.
func (e *Engine) MarkPaid(ctx context.Context, subj Subject, ticketID TicketID) (Ticket, error) {
	var out Ticket
	err := e.atomically(ctx, OpMarkPaid, func(repo Repository) error {
		t, show, err := ticketAndShow(ctx, repo, ticketID)
		if err != nil {
			return err
		}
		if err := Authorize(OpMarkPaid, subj, Relation{DirectsShow: show.DirectorID == subj.ID}); err != nil {
			return err
		}
		out, err = e.pay(ctx, repo, subj, t)
		return err
	})
	if err != nil {
		return Ticket{}, err
	}
	e.log.Info("ticket paid", zap.String("ticket", string(out.ID)), zap.String("director", string(subj.ID)))
	return out, nil
}

// MarkPaidBatch pays every sold-but-unpaid ticket an agent holds for a show
// and returns how many moved. A second call returns 0.
func (e *Engine) MarkPaidBatch(ctx context.Context, subj Subject, showID ShowID, agentID UserID) (int, error) {
	paid := 0
	err := e.atomically(ctx, OpMarkPaid, func(repo Repository) error {
		paid = 0
		show, err := repo.LockShow(ctx, showID)
		if err != nil {
			return err
		}
		if err := Authorize(OpMarkPaid, subj, Relation{DirectsShow: show.DirectorID == subj.ID}); err != nil {
			return err
		}
		if show.Status == ShowRetired {
			return ErrShowRetired
		}
		tickets, err := repo.ListTickets(ctx, TicketFilter{
			ShowID:  showID,
			OwnerID: agentID,
			States:  []State{StateReserved, StateReportedSold},
		})
		if err != nil {
			return err
		}
		for _, t := range tickets {
			if _, err := e.pay(ctx, repo, subj, t); err != nil {
				return err
			}
			paid++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	e.log.Info("batch paid",
		zap.String("show", string(showID)),
		zap.String("agent", string(agentID)),
		zap.Int("count", paid))
	return paid, nil
}

func (e *Engine) pay(ctx context.Context, repo Repository, subj Subject, t Ticket) (Ticket, error) {
	if !t.State.SoldUnpaid() {
		return Ticket{}, &InvalidStateError{TicketID: t.ID, Op: OpMarkPaid, From: t.State}
	}
	next := t
	next.State = StatePaid
	return e.swap(ctx, repo, t, next, Event{
		Type:    EventPaid,
		ActorID: subj.ID,
		Details: details("amount", t.Price.String()),
	})
}

// =============================================================================
// DOOR VALIDATION
// =============================================================================

// Rejection reasons shown to door staff.
const (
	ReasonMalformed   = "malformed code"
	ReasonForged      = "forged code"
	ReasonNotFound    = "ticket not found"
	ReasonNeverSold   = "ticket never sold"
	ReasonUnpaid      = "sold but unpaid"
	ReasonAlreadyUsed = "already used"
	ReasonRetired     = "show retired"
)

// ScanResult is the answer returned to the door scanner.
type ScanResult struct {
	OK      bool
	Reason  string
	Message string
	Receipt *Receipt
}

// Receipt describes an admitted ticket.
type Receipt struct {
	Code        string
	ShowID      ShowID
	ShowTitle   string
	Venue       string
	StartsAt    time.Time
	SellerID    UserID
	SellerName  string
	BuyerName   string
	Price       decimal.Decimal
	ValidatedAt time.Time
}

func reject(reason, message string) ScanResult {
	return ScanResult{Reason: reason, Message: message}
}

// Validate admits the holder of code exactly once. The returned error is
// reserved for authorization and storage failures.
func (e *Engine) Validate(ctx context.Context, subj Subject, code string) (ScanResult, error) {
	if err := Authorize(OpValidate, subj, Relation{}); err != nil {
		return ScanResult{}, err
	}
	code = ticketcode.Normalize(code)
	if err := e.codec.Verify(code); err != nil {
		e.log.Warn("scan rejected before lookup", zap.String("scanner", string(subj.ID)), zap.Error(err))
		if errors.Is(err, ErrMalformedCode) {
			return reject(ReasonMalformed, "Code format is not valid"), nil
		}
		return reject(ReasonForged, "Code failed the authenticity check"), nil
	}

	var result ScanResult
	err := e.atomically(ctx, OpValidate, func(repo Repository) error {
		t, err := repo.GetTicketByCode(ctx, code)
		if errors.Is(err, ErrTicketNotFound) {
			result = reject(ReasonNotFound, "No ticket was issued with this code")
			return nil
		}
		if err != nil {
			return err
		}
		show, err := repo.GetShow(ctx, t.ShowID)
		if err != nil {
			return err
		}
		if t.Retired || show.Status == ShowRetired {
			result = reject(ReasonRetired, fmt.Sprintf("Show %q was cancelled", show.Title))
			return nil
		}

		switch t.State {
		case StateUsed:
			result = reject(ReasonAlreadyUsed, e.usedMessage(ctx, repo, t))
			return nil
		case StateAvailable, StateAgentStock:
			result = reject(ReasonNeverSold, "Ticket was never sold")
			return nil
		case StateReserved, StateReportedSold:
			result = reject(ReasonUnpaid, "Ticket was sold but payment was not collected")
			return nil
		}

		next := t
		next.State = StateUsed
		used, err := e.swap(ctx, repo, t, next, Event{Type: EventUsed, ActorID: subj.ID})
		if err != nil {
			return err
		}

		receipt := &Receipt{
			Code:        used.Code,
			ShowID:      show.ID,
			ShowTitle:   show.Title,
			Venue:       show.Venue,
			StartsAt:    show.StartsAt,
			SellerID:    used.OwnerID,
			Price:       used.Price,
			ValidatedAt: used.UpdatedAt,
		}
		if used.Sale != nil {
			receipt.BuyerName = used.Sale.BuyerName
		}
		if used.OwnerID != "" {
			if seller, err := repo.GetUser(ctx, used.OwnerID); err == nil {
				receipt.SellerName = seller.Name
			}
		}
		result = ScanResult{OK: true, Receipt: receipt}
		return nil
	})
	if err != nil {
		return ScanResult{}, err
	}

	if result.OK {
		e.log.Info("ticket admitted", zap.String("code", code), zap.String("scanner", string(subj.ID)))
	} else {
		e.log.Info("ticket refused", zap.String("code", code), zap.String("reason", result.Reason))
	}
	return result, nil
}

func (e *Engine) usedMessage(ctx context.Context, repo Repository, t Ticket) string {
	events, err := repo.ListEvents(ctx, EventFilter{TicketID: t.ID, Types: []EventType{EventUsed}, Limit: 1})
	if err != nil || len(events) == 0 {
		return "Ticket was already used"
	}
	return "Ticket was already used at " + events[0].At.Format(time.RFC3339)
}
