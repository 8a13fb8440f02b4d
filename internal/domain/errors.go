package domain

import (
	"errors"
	"fmt"
)

var (
	ErrRecordNotFound = errors.New("record not found")
	ErrEditConflict   = errors.New("edit conflict")

	ErrSeatUnavailable             = errors.New("one or more selected seats are no longer available")
	ErrLockNotOwned                = errors.New("seat lock is not held by the current user or has expired")
	ErrSeatNotLocked               = errors.New("seats must be locked by the current user before tickets can be issued")
	ErrPromotionInvalid            = errors.New("promotion code is invalid or no longer applicable")
	ErrOrderNotLinkable            = errors.New("concession order cannot be linked in its current state")
	ErrInvalidTicketState          = errors.New("ticket is not in a state that allows this operation")
	ErrPaymentConflict             = errors.New("another payment is already in progress for this selection")
	ErrGatewayUnreachable          = errors.New("payment gateway is unreachable, please try again later")
	ErrReconciliationIndeterminate = errors.New("we could not confirm the outcome of your payment, please contact support")

	ErrInvalidCallback = errors.New("payment callback could not be verified")
	ErrUnhandledEvent  = errors.New("payment gateway event is not handled")
	ErrEmptySelection  = errors.New("at least one seat must be selected")
	ErrEmptyOrder      = errors.New("at least one concession item must be ordered")
	ErrItemUnavailable = errors.New("one or more concession items are unavailable")
	ErrInvalidMethod   = errors.New("payment method is not supported")
	ErrPaymentPending  = errors.New("payment is still being processed")
)

// StepRedirectError is returned when a booking session is sent back to an earlier step
// because the prerequisite of the requested step is missing.
type StepRedirectError struct {
	Step BookingStep
	Err  error
}

func (e *StepRedirectError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("booking must resume at step %s: %v", e.Step, e.Err)
	}

	return fmt.Sprintf("booking must resume at step %s", e.Step)
}

func (e *StepRedirectError) Unwrap() error {
	return e.Err
}

// IsContention reports whether err means the seat itself is gone and the user has to pick again.
func IsContention(err error) bool {
	return errors.Is(err, ErrSeatUnavailable) ||
		errors.Is(err, ErrLockNotOwned) ||
		errors.Is(err, ErrSeatNotLocked)
}
