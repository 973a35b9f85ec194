package board

import (
	"errors"
	"fmt"
)

var (
	ErrDuplicateID        = errors.New("duplicate id")
	ErrItemNotFound       = errors.New("item not found")
	ErrConnectionNotFound = errors.New("connection not found")
	ErrDanglingEndpoint   = errors.New("connection endpoint does not resolve")
	ErrInvalidContainer   = errors.New("invalid container reference")
	ErrWrongBoard         = errors.New("event targets another board")
	ErrUnknownAction      = errors.New("unknown action")
	ErrSerialMismatch     = errors.New("serial out of sequence")
)

// ValidationError is returned by the reducer when an event does not fit the
// board it is applied to. It wraps one of the sentinel errors above.
type ValidationError struct {
	Action Action
	ID     string
	Err    error
}

func (e *ValidationError) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("%s: %v", e.Action, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Action, e.ID, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

func invalid(a Action, id string, err error) error {
	return &ValidationError{Action: a, ID: id, Err: err}
}
