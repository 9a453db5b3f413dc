package scan

import "github.com/zombor/receipt-scanner/internal/batch"

// Phase returns the current phase.
func (m *Machine) Phase() Phase {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.phase
}

// Mode returns the current mode.
func (m *Machine) Mode() Mode {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mode
}

// Progress returns the batch progress counters. Completed never decreases
// within one session.
func (m *Machine) Progress() batch.Progress {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.progress
}

// Images returns a copy of the capture list.
func (m *Machine) Images() []Image {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Image(nil), m.images...)
}

// Results returns the analysis outputs of the current session.
func (m *Machine) Results() []batch.Result {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]batch.Result(nil), m.results...)
}

// CreditStatus returns the session's reservation status.
func (m *Machine) CreditStatus() CreditStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.creditStatus
}

// CreditRemaining returns the spendable credit count.
func (m *Machine) CreditRemaining() int {
	return m.ledger.Remaining()
}

// BatchEditingIndex returns the index being edited in the review machine,
// or -1 when no edit is active.
func (m *Machine) BatchEditingIndex() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.batchEditingIndex == nil {
		return -1
	}
	return *m.batchEditingIndex
}

// Err returns the error that moved the machine to the error phase.
func (m *Machine) Err() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastErr
}

// HasActiveRequest reports whether a scan session is in flight. The
// navigation layer blocks route changes while this is true.
func (m *Machine) HasActiveRequest() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch m.phase {
	case PhaseCapturing, PhaseScanning, PhaseReviewing, PhaseSaving:
		return true
	}
	return false
}
