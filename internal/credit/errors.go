package credit

import (
	"errors"
	"fmt"
)

var (
	ErrReservationNotFound = errors.New("reservation not found")
	ErrAlreadyConfirmed    = errors.New("reservation already confirmed")
	ErrAlreadyRefunded     = errors.New("reservation already refunded")
)

// InsufficientError is returned when a reservation would exceed the
// remaining credit count. It carries what the caller needs to offer a
// reduced scope or a smaller batch.
type InsufficientError struct {
	Required  int
	Remaining int
}

func (e *InsufficientError) Error() string {
	return fmt.Sprintf("insufficient credits: need %d, have %d", e.Required, e.Remaining)
}

// IsInsufficient returns true if err is an InsufficientError, unwrapping as
// needed.
func IsInsufficient(err error) bool {
	var ie *InsufficientError
	return errors.As(err, &ie)
}
