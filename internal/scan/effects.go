package scan

import (
	"log/slog"
)

// The scan machine is the receiving end of the review machine's effect
// channel. Each method applies the mirrored mutation that keeps the two
// machines and the credit ledger consistent.

// BatchItemRemoved drops the mirrored capture and result for an item that
// was saved or discarded during review.
func (m *Machine) BatchItemRemoved(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := range m.images {
		if m.images[i].ID == id {
			m.images = append(m.images[:i], m.images[i+1:]...)
			break
		}
	}
	for i := range m.results {
		if m.results[i].ItemID == id {
			m.results = append(m.results[:i], m.results[i+1:]...)
			break
		}
	}
}

// EditingStarted mirrors the review machine's editing phase onto ScanState.
func (m *Machine) EditingStarted(index int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.batchEditingIndex = &index
}

// EditingFinished clears the editing mirror together with the review
// machine's editing phase.
func (m *Machine) EditingFinished() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.batchEditingIndex = nil
}

// ConfirmCredits durably confirms the session's reservation. Idempotent:
// the review machine invokes it once per successful item save.
func (m *Machine) ConfirmCredits() error {
	m.mu.Lock()
	reservationID := m.reservationID
	m.mu.Unlock()

	if reservationID == "" {
		return nil
	}
	if err := m.ledger.Confirm(reservationID); err != nil {
		return err
	}

	m.mu.Lock()
	m.creditStatus = CreditConfirmed
	m.mu.Unlock()
	return nil
}

// BatchCompleted finishes the batch session: the reservation is confirmed
// when anything was saved and refunded otherwise, the scan state resets to
// idle, and the completion event fires for the routing layer.
func (m *Machine) BatchCompleted(saved, failed int) {
	m.mu.Lock()

	if saved > 0 {
		if m.creditStatus == CreditReserved {
			if err := m.ledger.Confirm(m.reservationID); err != nil {
				slog.Error("Failed to confirm credits at batch completion", "reservation_id", m.reservationID, "error", err)
			} else {
				m.creditStatus = CreditConfirmed
			}
		}
	} else {
		m.refundLocked()
	}

	onComplete := m.onComplete
	m.resetLocked()
	m.mu.Unlock()

	slog.Info("Batch session complete", "saved", saved, "failed", failed)
	if onComplete != nil {
		onComplete(saved, failed)
	}
}
