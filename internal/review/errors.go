package review

import (
	"errors"
	"fmt"
)

// ErrItemNotFound is returned when an operation names a receipt id that is
// not in the review list.
var ErrItemNotFound = errors.New("item not found")

// InvalidTransitionError marks an action invoked from a phase where it is
// not valid. It signals a programming defect in the caller: the action is
// rejected and logged, never silently accepted.
type InvalidTransitionError struct {
	Action string
	Phase  Phase
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid transition: %s not allowed in phase %s", e.Action, e.Phase)
}

// IsInvalidTransition returns true if err is an InvalidTransitionError.
func IsInvalidTransition(err error) bool {
	var ite *InvalidTransitionError
	return errors.As(err, &ite)
}
