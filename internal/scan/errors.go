package scan

import (
	"errors"
	"fmt"
)

// ErrBlockedByDialog is returned when save is requested while a dialog is
// active; the save may be retried once the dialog resolves.
var ErrBlockedByDialog = errors.New("save blocked by active dialog")

// InvalidTransitionError marks an action invoked from a phase where it is
// not valid. It signals a programming defect in the caller: the action is
// rejected and logged, never silently accepted and never surfaced to the
// end user.
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
