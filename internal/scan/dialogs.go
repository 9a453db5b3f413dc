package scan

import (
	"log/slog"

	"github.com/zombor/receipt-scanner/internal/dialog"
)

// OpenDialog raises a blocking interrupt. Dialogs are valid only while
// reviewing or saving; a dialog is never set while idle. Opening replaces
// any current dialog.
func (m *Machine) OpenDialog(dialogType dialog.Type, data any) {
	m.mu.Lock()
	phase := m.phase
	m.mu.Unlock()

	if phase != PhaseReviewing && phase != PhaseSaving {
		slog.Warn("Rejected dialog outside reviewing/saving", "type", dialogType, "phase", phase)
		return
	}
	m.dialogs.Open(dialogType, data)
}

// CloseDialog resolves the active dialog. Internal cleanup runs before the
// composed close hook, so the slot is always cleared. The hook may call
// Save, SaveConfirmed or Reset.
func (m *Machine) CloseDialog() {
	m.dialogs.Close()
}

// ActiveDialog returns the current dialog, or nil.
func (m *Machine) ActiveDialog() *dialog.Record {
	return m.dialogs.Current()
}
