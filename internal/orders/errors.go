package orders

import (
	"errors"
	"net/http"
)

var (
	ErrNotFound               = errors.New("not found")
	ErrUnauthorized           = errors.New("unauthorized")
	ErrInvalidTransition      = errors.New("invalid status transition")
	ErrAlreadyInStatus        = errors.New("order already in status")
	ErrInsufficientStock      = errors.New("insufficient stock")
	ErrDuplicateRequest       = errors.New("duplicate request")
	ErrDuplicatePayment       = errors.New("duplicate payment")
	ErrDuplicateCancelRequest = errors.New("cancel already requested")
	ErrWindowExpired          = errors.New("eligibility window expired")
	ErrRateLimited            = errors.New("daily order limit reached")
	ErrNoPendingRequest       = errors.New("no pending request")
	ErrEmptyCart              = errors.New("cart is empty")
	ErrNoCancelRequest        = errors.New("no cancel request pending")
	ErrTerminalState          = errors.New("order is in a terminal state")
	ErrInvalidInput           = errors.New("invalid input")

	// ErrOrderIDConflict is returned by Tx.InsertOrder on primary key collision.
	ErrOrderIDConflict = errors.New("order id conflict")
)

// HTTPStatus maps an error kind to its response status. Unknown errors are 500.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrEmptyCart):
		return http.StatusNotFound
	case errors.Is(err, ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, ErrDuplicatePayment), errors.Is(err, ErrOrderIDConflict):
		return http.StatusConflict
	case errors.Is(err, ErrInvalidTransition),
		errors.Is(err, ErrAlreadyInStatus),
		errors.Is(err, ErrInsufficientStock),
		errors.Is(err, ErrDuplicateRequest),
		errors.Is(err, ErrDuplicateCancelRequest),
		errors.Is(err, ErrWindowExpired),
		errors.Is(err, ErrNoPendingRequest),
		errors.Is(err, ErrNoCancelRequest),
		errors.Is(err, ErrTerminalState),
		errors.Is(err, ErrInvalidInput):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}
