/*
errors.go - Error taxonomy of the ticket engine

PURPOSE:
  All engine errors in one place. Every failure is recoverable by the caller
  and maps to a user-facing message; none should crash the process.

ERROR CATEGORIES:
  1. State errors       - Transition not legal from the current state
  2. Authorization      - Role or ownership check failed
  3. Inventory errors   - Not enough tickets, capacity exceeded
  4. Code errors        - Malformed or forged ticket code
  5. Lookup errors      - Show, ticket or user absent
  6. Concurrency        - Optimistic lock lost; safe to retry

USAGE:
  if errors.Is(err, engine.ErrInsufficientInventory) {
      var ie *engine.InsufficientInventoryError
      errors.As(err, &ie) // ie.Available, ie.Requested
  }

SEE ALSO:
  - api/handlers.go: Maps these errors to HTTP status codes
*/
package engine

import (
	"errors"
	"fmt"

	"github.com/warp/ticket-engine/ticketcode"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrInvalidState is returned when a transition is not legal from the
	// ticket's current state.
	ErrInvalidState = errors.New("invalid state transition")

	// ErrForbidden is returned when the subject's role does not allow the operation.
	ErrForbidden = errors.New("forbidden")

	// ErrNotOwned is returned when an agent acts on a ticket held by someone else.
	ErrNotOwned = fmt.Errorf("%w: ticket not owned by caller", ErrForbidden)

	// ErrInsufficientInventory is returned when fewer tickets are available
	// than requested. Nothing is allocated in that case.
	ErrInsufficientInventory = errors.New("insufficient inventory")

	// ErrCapacityExceeded is returned when issuing would exceed show capacity
	// or a capacity change would drop below issued tickets.
	ErrCapacityExceeded = errors.New("capacity exceeded")

	// Code errors are shared with the codec so errors.Is works across packages.
	ErrMalformedCode    = ticketcode.ErrMalformedCode
	ErrChecksumMismatch = ticketcode.ErrChecksumMismatch

	ErrShowNotFound   = errors.New("show not found")
	ErrTicketNotFound = errors.New("ticket not found")
	ErrUserNotFound   = errors.New("user not found")

	// ErrUserExists is returned when registering an id that is already taken.
	ErrUserExists = errors.New("user already exists")

	// ErrDuplicateCode is returned by stores when a code is already issued.
	ErrDuplicateCode = errors.New("duplicate ticket code")

	// ErrConcurrentModification is returned when a compare-and-swap loses.
	ErrConcurrentModification = errors.New("concurrent modification detected")

	// ErrShowClosed is returned for sales operations on a concluded show.
	ErrShowClosed = errors.New("show is closed for sales")

	// ErrShowRetired is returned for any mutation on a retired show.
	ErrShowRetired = errors.New("show is retired")

	// ErrNotAgent is returned when a target user cannot hold stock.
	ErrNotAgent = errors.New("user is not an active agent")

	// ErrInvalidInput is returned for malformed operation arguments.
	ErrInvalidInput = errors.New("invalid input")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// InvalidStateError reports which operation was refused from which state.
type InvalidStateError struct {
	TicketID TicketID
	Op       Operation
	From     State
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("invalid state transition: cannot %s ticket %s in state %s", e.Op, e.TicketID, e.From)
}

func (e *InvalidStateError) Unwrap() error {
	return ErrInvalidState
}

// InsufficientInventoryError reports the shortfall of an allocation.
type InsufficientInventoryError struct {
	ShowID    ShowID
	Available int
	Requested int
}

func (e *InsufficientInventoryError) Error() string {
	return fmt.Sprintf("insufficient inventory: show %s has %d available, requested %d",
		e.ShowID, e.Available, e.Requested)
}

func (e *InsufficientInventoryError) Unwrap() error {
	return ErrInsufficientInventory
}

// CapacityError reports an attempt to exceed or shrink below a show's capacity.
type CapacityError struct {
	ShowID    ShowID
	Capacity  int
	Issued    int
	Requested int
}

func (e *CapacityError) Error() string {
	return fmt.Sprintf("capacity exceeded: show %s capacity %d, issued %d, requested %d",
		e.ShowID, e.Capacity, e.Issued, e.Requested)
}

func (e *CapacityError) Unwrap() error {
	return ErrCapacityExceeded
}

// ForbiddenError reports a failed authorization check.
type ForbiddenError struct {
	Op   Operation
	Role Role
	err  error
}

func (e *ForbiddenError) Error() string {
	return fmt.Sprintf("%v: role %s may not %s", e.err, e.Role, e.Op)
}

func (e *ForbiddenError) Unwrap() error {
	return e.err
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrentModification)
}

// IsClientError returns true if the error is due to the request itself.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidState) ||
		errors.Is(err, ErrForbidden) ||
		errors.Is(err, ErrInsufficientInventory) ||
		errors.Is(err, ErrCapacityExceeded) ||
		errors.Is(err, ErrMalformedCode) ||
		errors.Is(err, ErrChecksumMismatch) ||
		errors.Is(err, ErrShowClosed) ||
		errors.Is(err, ErrShowRetired) ||
		errors.Is(err, ErrNotAgent) ||
		errors.Is(err, ErrUserExists) ||
		errors.Is(err, ErrInvalidInput) ||
		IsNotFound(err)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrShowNotFound) ||
		errors.Is(err, ErrTicketNotFound) ||
		errors.Is(err, ErrUserNotFound)
}

func invalidInput(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}
