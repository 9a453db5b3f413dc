// Package credit implements the scan credit ledger.
//
// Starting a scan reserves credit optimistically in memory. The reservation
// is later either confirmed (the debit is persisted durably) or refunded
// (the amount is restored). Each reservation carries a unique id so that
// confirm and refund are idempotent and mutually exclusive per reservation.
package credit

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Kind identifies what a reservation pays for.
type Kind string

const (
	KindSingle    Kind = "single"
	KindBatch     Kind = "batch"
	KindStatement Kind = "statement"
)

// Outcome is the terminal state of a reservation.
type Outcome string

const (
	OutcomePending   Outcome = "pending"
	OutcomeConfirmed Outcome = "confirmed"
	OutcomeRefunded  Outcome = "refunded"
)

// Reservation is an optimistic, not yet durable credit decrement.
type Reservation struct {
	ID        string    `json:"id"`
	Kind      Kind      `json:"kind"`
	Amount    int       `json:"amount"`
	Outcome   Outcome   `json:"outcome"`
	CreatedAt time.Time `json:"created_at"`
}

// Store persists confirmed debits durably.
type Store interface {
	// RecordDebit durably records a confirmed reservation.
	RecordDebit(reservation *Reservation) error

	// Close closes the store.
	Close() error
}

// Ledger tracks a reservable, confirmable, refundable credit count.
type Ledger struct {
	mu           sync.Mutex
	remaining    int
	reservations map[string]*Reservation
	store        Store
	timeSource   func() time.Time
}

// NewLedger creates a Ledger holding the given number of credits.
func NewLedger(remaining int, store Store) *Ledger {
	return &Ledger{
		remaining:    remaining,
		reservations: make(map[string]*Reservation),
		store:        store,
		timeSource:   time.Now,
	}
}

// Remaining returns the spendable credit count, reservations excluded.
func (l *Ledger) Remaining() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.remaining
}

// Reserved returns the total amount held by pending reservations.
func (l *Ledger) Reserved() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	total := 0
	for _, r := range l.reservations {
		if r.Outcome == OutcomePending {
			total += r.Amount
		}
	}
	return total
}

// Reserve decrements remaining optimistically and returns a reservation id.
// If remaining is insufficient it fails fast with InsufficientError without
// mutating state.
func (l *Ledger) Reserve(kind Kind, amount int) (string, error) {
	if amount <= 0 {
		return "", fmt.Errorf("reserving credits: amount must be positive, got %d", amount)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.remaining < amount {
		return "", &InsufficientError{Required: amount, Remaining: l.remaining}
	}

	reservation := &Reservation{
		ID:        uuid.NewString(),
		Kind:      kind,
		Amount:    amount,
		Outcome:   OutcomePending,
		CreatedAt: l.timeSource(),
	}
	l.remaining -= amount
	l.reservations[reservation.ID] = reservation

	slog.Debug("Reserved credits", "reservation_id", reservation.ID, "kind", kind, "amount", amount, "remaining", l.remaining)
	return reservation.ID, nil
}

// Confirm persists the decrement durably. Confirming an already-confirmed
// reservation is a no-op; confirming a refunded one is rejected. If the
// durable store fails the reservation stays pending so a refund remains
// possible.
func (l *Ledger) Confirm(reservationID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	reservation, ok := l.reservations[reservationID]
	if !ok {
		return fmt.Errorf("confirming reservation %s: %w", reservationID, ErrReservationNotFound)
	}

	switch reservation.Outcome {
	case OutcomeConfirmed:
		return nil
	case OutcomeRefunded:
		return fmt.Errorf("confirming reservation %s: %w", reservationID, ErrAlreadyRefunded)
	}

	confirmed := *reservation
	confirmed.Outcome = OutcomeConfirmed
	if err := l.store.RecordDebit(&confirmed); err != nil {
		return fmt.Errorf("recording debit for reservation %s: %w", reservationID, err)
	}
	reservation.Outcome = OutcomeConfirmed

	slog.Debug("Confirmed credits", "reservation_id", reservationID, "amount", reservation.Amount)
	return nil
}

// Refund restores remaining. Valid only while the reservation is pending;
// refunding a confirmed or already-refunded reservation is rejected.
func (l *Ledger) Refund(reservationID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	reservation, ok := l.reservations[reservationID]
	if !ok {
		return fmt.Errorf("refunding reservation %s: %w", reservationID, ErrReservationNotFound)
	}

	switch reservation.Outcome {
	case OutcomeConfirmed:
		return fmt.Errorf("refunding reservation %s: %w", reservationID, ErrAlreadyConfirmed)
	case OutcomeRefunded:
		return fmt.Errorf("refunding reservation %s: %w", reservationID, ErrAlreadyRefunded)
	}

	reservation.Outcome = OutcomeRefunded
	l.remaining += reservation.Amount

	slog.Debug("Refunded credits", "reservation_id", reservationID, "amount", reservation.Amount, "remaining", l.remaining)
	return nil
}

// Outcome reports the current outcome of a reservation.
func (l *Ledger) Outcome(reservationID string) (Outcome, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	reservation, ok := l.reservations[reservationID]
	if !ok {
		return "", fmt.Errorf("looking up reservation %s: %w", reservationID, ErrReservationNotFound)
	}
	return reservation.Outcome, nil
}
