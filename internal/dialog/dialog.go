// Package dialog holds the single-slot blocking interrupt for the scan flow.
//
// At most one dialog exists at any time. Opening a new dialog replaces any
// existing one; there is never a stack.
package dialog

import (
	"log/slog"
	"sync"
)

// Type identifies a dialog. The set is closed.
type Type string

const (
	TypeCurrencyMismatch     Type = "currency-mismatch"
	TypeTotalMismatch        Type = "total-mismatch"
	TypeQuickSaveOffer       Type = "quick-save-offer"
	TypeBatchCompleteSummary Type = "batch-complete-summary"
)

// Valid reports whether t is a member of the closed type set.
func (t Type) Valid() bool {
	switch t {
	case TypeCurrencyMismatch, TypeTotalMismatch, TypeQuickSaveOffer, TypeBatchCompleteSummary:
		return true
	}
	return false
}

// Record is one open dialog and its payload.
type Record struct {
	Type Type
	Data any
}

// Queue is the single-slot dialog holder.
type Queue struct {
	mu      sync.Mutex
	current *Record
	onClose func()
}

// NewQueue creates an empty Queue. onClose, if non-nil, is invoked after
// every Close once internal cleanup has happened.
func NewQueue(onClose func()) *Queue {
	return &Queue{onClose: onClose}
}

// Open sets the active dialog, unconditionally replacing any current one.
func (q *Queue) Open(dialogType Type, data any) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if !dialogType.Valid() {
		slog.Warn("Ignoring unknown dialog type", "type", dialogType)
		return
	}
	if q.current != nil {
		slog.Debug("Replacing active dialog", "old", q.current.Type, "new", dialogType)
	}
	q.current = &Record{Type: dialogType, Data: data}
}

// Close clears the slot and then invokes the composed onClose callback.
// The slot is cleared before the callback runs, so a panicking callback can
// never leave a stale dialog behind.
func (q *Queue) Close() {
	q.mu.Lock()
	q.current = nil
	onClose := q.onClose
	q.mu.Unlock()

	if onClose != nil {
		onClose()
	}
}

// Current returns the active dialog, or nil when the slot is empty.
func (q *Queue) Current() *Record {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.current
}
