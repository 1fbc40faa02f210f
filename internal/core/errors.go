package core

import "errors"

// Error taxonomy shared by the ledger jobs. NotFound, NotDue and Conflict are
// soft outcomes: callers treat them as no-ops rather than failures.
var (
	ErrInvalidInput     = errors.New("invalid input")
	ErrNotFound         = errors.New("not found")
	ErrNotDue           = errors.New("not due")
	ErrConflict         = errors.New("concurrent modification")
	ErrZeroBudget       = errors.New("budget amount is zero")
	ErrNoDefaultAccount = errors.New("no default account")
	ErrExternalService  = errors.New("external service failure")
	ErrMutationFailed   = errors.New("ledger mutation failed")
)

// IsSoft reports whether err is an outcome that must not be retried or
// surfaced as a failure.
func IsSoft(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, ErrNotDue) || errors.Is(err, ErrConflict)
}
