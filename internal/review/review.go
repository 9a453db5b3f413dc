// Package review owns per-item review, edit, discard and save once a batch
// of analyzed receipts has been produced by the scan machine.
//
// The machine never reaches outside its own state directly: every mutation
// that must stay consistent with the scan machine or the credit ledger is
// emitted through the Effects interface, keeping ownership single-directional.
package review

import (
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Phase is the discrete state of the review machine.
type Phase string

const (
	PhaseIdle      Phase = "idle"
	PhaseLoading   Phase = "loading"
	PhaseReviewing Phase = "reviewing"
	PhaseEditing   Phase = "editing"
	PhaseSaving    Phase = "saving"
	PhaseComplete  Phase = "complete"
	PhaseError     Phase = "error"
)

// BatchReceipt is one analyzed receipt under review.
type BatchReceipt struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Date        time.Time `json:"date"`
	Amount      int       `json:"amount"`   // Amount in cents
	Currency    string    `json:"currency"` // ISO 4217 code
	Confidence  float64   `json:"confidence"`
	ImageID     string    `json:"image_id,omitempty"`
	ContentType string    `json:"content_type,omitempty"`
}

// Update is a partial update merged into a BatchReceipt. Nil fields are
// left unchanged.
type Update struct {
	Title    *string
	Date     *time.Time
	Amount   *int
	Currency *string
}

// Effects is the cross-machine channel back into the scan machine and the
// credit ledger. Implementations must not call back into the review machine
// synchronously except for Reset, which is safe at any time.
type Effects interface {
	// BatchItemRemoved fires when an item leaves the review list through
	// save or discard, so the scan machine can drop its mirror entry.
	BatchItemRemoved(id string)

	// EditingStarted and EditingFinished keep the scan machine's
	// batchEditingIndex paired with the editing phase.
	EditingStarted(index int)
	EditingFinished()

	// BatchCompleted fires exactly once per batch, after the machine has
	// already reset to idle. The receiver confirms or refunds the credit
	// reservation based on the counts.
	BatchCompleted(saved, failed int)

	// ConfirmCredits durably confirms the batch's credit reservation.
	// Invoked on each successful item save; must be idempotent.
	ConfirmCredits() error
}

// Machine is the batch review state machine. All exported methods are safe
// for concurrent use; effects are invoked with the internal lock released.
type Machine struct {
	mu               sync.Mutex
	phase            Phase
	items            []BatchReceipt
	currentIndex     int
	savedCount       int
	failedCount      int
	err              error
	editingReceiptID string

	// hadItems lives in the machine itself, not in any caller-side
	// tracking, so the non-empty→empty completion edge survives caller
	// restarts.
	hadItems bool

	effects Effects
}

// NewMachine creates an idle review machine wired to the given effects.
func NewMachine(effects Effects) *Machine {
	return &Machine{phase: PhaseIdle, effects: effects}
}

// Phase returns the current phase.
func (m *Machine) Phase() Phase {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.phase
}

// Items returns a copy of the current review list.
func (m *Machine) Items() []BatchReceipt {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]BatchReceipt(nil), m.items...)
}

// CurrentIndex returns the selected item index.
func (m *Machine) CurrentIndex() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.currentIndex
}

// Counts returns the saved and failed counters.
func (m *Machine) Counts() (saved, failed int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.savedCount, m.failedCount
}

// Err returns the error recorded by SaveComplete on total failure.
func (m *Machine) Err() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.err
}

// LoadBatch seeds the machine with analyzed receipts. Valid only from idle.
func (m *Machine) LoadBatch(receipts []BatchReceipt) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.phase != PhaseIdle {
		return m.reject("loadBatch")
	}

	m.phase = PhaseLoading
	m.items = append([]BatchReceipt(nil), receipts...)
	m.currentIndex = 0
	m.savedCount = 0
	m.failedCount = 0
	m.err = nil
	m.editingReceiptID = ""
	m.hadItems = len(m.items) > 0
	m.phase = PhaseReviewing

	slog.Info("Loaded batch for review", "items", len(m.items))
	return nil
}

// SelectItem moves the selection. Valid in reviewing; bounds-checked.
func (m *Machine) SelectItem(index int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.phase != PhaseReviewing {
		return m.reject("selectItem")
	}
	if index < 0 || index >= len(m.items) {
		return fmt.Errorf("selecting item %d: index out of range [0, %d)", index, len(m.items))
	}
	m.currentIndex = index
	return nil
}

// UpdateItem merges a partial update into the matching item. Valid in
// reviewing or editing.
func (m *Machine) UpdateItem(id string, update Update) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.phase != PhaseReviewing && m.phase != PhaseEditing {
		return m.reject("updateItem")
	}

	index := m.indexOf(id)
	if index == -1 {
		return fmt.Errorf("updating item %s: %w", id, ErrItemNotFound)
	}

	item := &m.items[index]
	if update.Title != nil {
		item.Title = *update.Title
	}
	if update.Date != nil {
		item.Date = *update.Date
	}
	if update.Amount != nil {
		item.Amount = *update.Amount
	}
	if update.Currency != nil {
		item.Currency = *update.Currency
	}
	return nil
}

// DiscardItem removes an item from the review list without saving it.
func (m *Machine) DiscardItem(id string) error {
	m.mu.Lock()

	if m.phase != PhaseReviewing {
		defer m.mu.Unlock()
		return m.reject("discardItem")
	}

	index := m.indexOf(id)
	if index == -1 {
		m.mu.Unlock()
		return fmt.Errorf("discarding item %s: %w", id, ErrItemNotFound)
	}

	m.removeAt(index)
	after := m.completionAfterRemoval()
	m.mu.Unlock()

	m.effects.BatchItemRemoved(id)
	after()
	return nil
}

// StartEditing enters the editing phase for one item. The scan machine's
// batchEditingIndex is set through the effects channel in the same logical
// operation.
func (m *Machine) StartEditing(id string) error {
	m.mu.Lock()

	if m.phase != PhaseReviewing {
		defer m.mu.Unlock()
		return m.reject("startEditing")
	}

	index := m.indexOf(id)
	if index == -1 {
		m.mu.Unlock()
		return fmt.Errorf("editing item %s: %w", id, ErrItemNotFound)
	}

	m.phase = PhaseEditing
	m.editingReceiptID = id
	m.currentIndex = index
	m.mu.Unlock()

	m.effects.EditingStarted(index)
	return nil
}

// FinishEditing returns to reviewing. Items and selection are untouched;
// the scan machine clears its batchEditingIndex through the effects channel.
func (m *Machine) FinishEditing() error {
	m.mu.Lock()

	if m.phase != PhaseEditing {
		defer m.mu.Unlock()
		return m.reject("finishEditing")
	}

	m.phase = PhaseReviewing
	m.editingReceiptID = ""
	m.mu.Unlock()

	m.effects.EditingFinished()
	return nil
}

// SaveStart enters the saving phase. The caller then reports per-item
// outcomes through SaveItemSuccess and SaveItemFailure and finishes with
// SaveComplete.
func (m *Machine) SaveStart() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.phase != PhaseReviewing {
		return m.reject("saveStart")
	}
	if len(m.items) == 0 {
		return fmt.Errorf("starting save: no items")
	}
	m.phase = PhaseSaving
	return nil
}

// SaveItemSuccess records one durably saved item: counters update, the item
// leaves the list, the scan machine drops its mirror entry and the credit
// reservation is confirmed, all within this one operation.
func (m *Machine) SaveItemSuccess(id string) error {
	m.mu.Lock()

	if m.phase != PhaseSaving {
		defer m.mu.Unlock()
		return m.reject("saveItemSuccess")
	}

	index := m.indexOf(id)
	if index == -1 {
		m.mu.Unlock()
		return fmt.Errorf("recording saved item %s: %w", id, ErrItemNotFound)
	}

	m.savedCount++
	m.removeAt(index)
	after := m.completionAfterRemoval()
	m.mu.Unlock()

	m.effects.BatchItemRemoved(id)
	if err := m.effects.ConfirmCredits(); err != nil {
		slog.Error("Failed to confirm credits after item save", "item_id", id, "error", err)
	}
	after()
	return nil
}

// SaveItemFailure records one failed save. The item stays in the list so the
// user can retry or discard it; the batch is never aborted.
func (m *Machine) SaveItemFailure(id string, saveErr error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.phase != PhaseSaving {
		return m.reject("saveItemFailure")
	}

	m.failedCount++
	slog.Warn("Batch item save failed", "item_id", id, "error", saveErr)
	return nil
}

// SaveComplete finishes the saving phase once every item has been attempted.
// Partial failure still completes, carrying both counts; only total failure
// moves to the error phase.
func (m *Machine) SaveComplete() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.phase != PhaseSaving {
		return m.reject("saveComplete")
	}
	// A save pass that emptied the list has already auto-completed and
	// reset; this call is then rejected above since phase is idle.

	if m.savedCount == 0 && m.failedCount > 0 {
		m.phase = PhaseError
		m.err = fmt.Errorf("saving batch: all %d items failed", m.failedCount)
		return nil
	}
	m.phase = PhaseComplete
	return nil
}

// Reset clears the machine to idle from any phase. Idempotent. Resetting
// mid-edit clears the scan machine's editing mirror in the same operation,
// so the two are never left pointing at different states.
func (m *Machine) Reset() {
	m.mu.Lock()
	wasEditing := m.editingReceiptID != ""
	m.resetLocked()
	m.mu.Unlock()

	if wasEditing {
		m.effects.EditingFinished()
	}
}

func (m *Machine) resetLocked() {
	m.phase = PhaseIdle
	m.items = nil
	m.currentIndex = 0
	m.savedCount = 0
	m.failedCount = 0
	m.err = nil
	m.editingReceiptID = ""
	m.hadItems = false
}

// indexOf returns the position of the item with the given id, or -1.
// Callers must hold m.mu.
func (m *Machine) indexOf(id string) int {
	for i := range m.items {
		if m.items[i].ID == id {
			return i
		}
	}
	return -1
}

// removeAt drops the item at index and keeps currentIndex resolving to a
// valid position whenever items remain. Callers must hold m.mu.
func (m *Machine) removeAt(index int) {
	m.items = append(m.items[:index], m.items[index+1:]...)

	switch {
	case len(m.items) == 0:
		m.currentIndex = 0
	case index < m.currentIndex:
		m.currentIndex--
	case m.currentIndex >= len(m.items):
		m.currentIndex = len(m.items) - 1
	}
}

// completionAfterRemoval checks the non-empty→empty edge. When it fires, the
// machine resets to idle first and the returned closure notifies completion
// afterwards, outside the lock: reset-then-notify-once. Callers must hold
// m.mu and must invoke the closure after releasing it.
func (m *Machine) completionAfterRemoval() func() {
	if !m.hadItems || len(m.items) != 0 {
		return func() {}
	}

	saved, failed := m.savedCount, m.failedCount
	m.resetLocked()

	return func() {
		slog.Info("Batch review complete", "saved", saved, "failed", failed)
		m.effects.BatchCompleted(saved, failed)
	}
}

// reject logs and returns an InvalidTransitionError for the given action.
// Callers must hold m.mu.
func (m *Machine) reject(action string) error {
	err := &InvalidTransitionError{Action: action, Phase: m.phase}
	slog.Warn("Rejected review action", "action", action, "phase", m.phase)
	return err
}
