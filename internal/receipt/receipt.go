package receipt

import (
	"errors"
	"time"
)

// ErrUnauthorized is returned by a DB when the caller is not allowed to
// persist records. The scan flow treats it as fatal for the save; the core
// never retries it.
var ErrUnauthorized = errors.New("unauthorized")

// Receipt represents a saved receipt transaction record
type Receipt struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Date        time.Time `json:"date"`
	Amount      int       `json:"amount"`   // Amount in cents
	Currency    string    `json:"currency"` // ISO 4217 code
	Confidence  float64   `json:"confidence"`
	Filename    string    `json:"filename"`
	ContentType string    `json:"content_type"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}
