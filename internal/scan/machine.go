// Package scan owns the capture→process→review→save lifecycle for single
// and batch receipt scans.
//
// The machine composes the credit ledger, the dialog slot and the batch
// processor, and hands finished batches to the review machine. All state
// transitions are synchronous guarded updates; asynchronous work (analysis,
// durable saves) re-enters through the action methods.
package scan

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zombor/receipt-scanner/internal/batch"
	"github.com/zombor/receipt-scanner/internal/credit"
	"github.com/zombor/receipt-scanner/internal/dialog"
	"github.com/zombor/receipt-scanner/internal/receipt"
	"github.com/zombor/receipt-scanner/internal/review"
	"github.com/zombor/receipt-scanner/internal/scanning"
)

// Phase is the discrete state of the scan machine.
type Phase string

const (
	PhaseIdle      Phase = "idle"
	PhaseCapturing Phase = "capturing"
	PhaseScanning  Phase = "scanning"
	PhaseReviewing Phase = "reviewing"
	PhaseSaving    Phase = "saving"
	PhaseError     Phase = "error"
)

// Mode selects the capture flow.
type Mode string

const (
	ModeSingle    Mode = "single"
	ModeBatch     Mode = "batch"
	ModeStatement Mode = "statement"
)

// CreditStatus tracks the session's credit reservation.
type CreditStatus string

const (
	CreditNone      CreditStatus = "none"
	CreditReserved  CreditStatus = "reserved"
	CreditConfirmed CreditStatus = "confirmed"
	CreditRefunded  CreditStatus = "refunded"
)

// Image is one capture reference held while the session is active.
type Image struct {
	ID          string
	Filename    string
	ContentType string
	Data        []byte
}

// CompletionFunc is invoked after a session finishes and the machine has
// returned to idle. The navigation layer uses it to route home.
type CompletionFunc func(saved, failed int)

// IDGenerator generates unique IDs for saved receipts
type IDGenerator interface {
	Generate() string
}

// TimeSource provides the current time
type TimeSource interface {
	Now() time.Time
}

type defaultIDGenerator struct{}

func (g *defaultIDGenerator) Generate() string {
	return uuid.NewString()
}

type defaultTimeSource struct{}

func (t *defaultTimeSource) Now() time.Time {
	return time.Now()
}

// Config wires the machine's collaborators.
type Config struct {
	Ledger  *credit.Ledger
	Scanner scanning.Scanner
	DB      receipt.DB
	Storage receipt.Storage

	// Concurrency bounds in-flight batch analysis calls; <= 0 selects the
	// processor default.
	Concurrency int

	// DefaultCurrency is compared against analysis output before a single
	// save; a difference opens the currency-mismatch dialog. Empty
	// disables the check.
	DefaultCurrency string

	OnComplete    CompletionFunc
	OnDialogClose func()
}

// Machine is the scan state machine. All exported methods are safe for
// concurrent use.
type Machine struct {
	mu            sync.Mutex
	phase         Phase
	mode          Mode
	images        []Image
	results       []batch.Result
	progress      batch.Progress
	creditStatus  CreditStatus
	reservationID string
	lastErr       error

	// batchEditingIndex mirrors the review machine's editing phase; the
	// two are set and cleared together through the effects channel.
	batchEditingIndex *int

	ledger          *credit.Ledger
	scanner         scanning.Scanner
	processor       *batch.Processor
	dialogs         *dialog.Queue
	reviewMachine   *review.Machine
	db              receipt.DB
	storage         receipt.Storage
	defaultCurrency string
	onComplete      CompletionFunc
	idGenerator     IDGenerator
	timeSource      TimeSource
}

// NewMachine creates an idle Machine from the given configuration.
func NewMachine(cfg Config) *Machine {
	m := &Machine{
		phase:           PhaseIdle,
		mode:            ModeSingle,
		creditStatus:    CreditNone,
		ledger:          cfg.Ledger,
		scanner:         cfg.Scanner,
		processor:       batch.NewProcessor(cfg.Scanner, cfg.Concurrency),
		db:              cfg.DB,
		storage:         cfg.Storage,
		defaultCurrency: cfg.DefaultCurrency,
		onComplete:      cfg.OnComplete,
		idGenerator:     &defaultIDGenerator{},
		timeSource:      &defaultTimeSource{},
	}
	m.dialogs = dialog.NewQueue(cfg.OnDialogClose)
	m.reviewMachine = review.NewMachine(m)
	return m
}

// SetDeps overrides the id generator and time source for testing.
func (m *Machine) SetDeps(idGen IDGenerator, timeSrc TimeSource) {
	m.idGenerator = idGen
	m.timeSource = timeSrc
}

// Review returns the batch review machine owned by this scan machine.
func (m *Machine) Review() *review.Machine {
	return m.reviewMachine
}

// StartSingle begins a single-receipt session. Guarded: rejected unless
// idle. Credit is reserved before the transition to capturing; on
// insufficient credit no state changes.
func (m *Machine) StartSingle(userID string) error {
	return m.start(userID, ModeSingle, credit.KindSingle)
}

// StartBatch begins a multi-receipt session.
func (m *Machine) StartBatch(userID string) error {
	return m.start(userID, ModeBatch, credit.KindBatch)
}

// StartStatement begins a statement session; it follows the single-capture
// flow under its own credit kind.
func (m *Machine) StartStatement(userID string) error {
	return m.start(userID, ModeStatement, credit.KindStatement)
}

func (m *Machine) start(userID string, mode Mode, kind credit.Kind) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.phase != PhaseIdle {
		return m.reject("start")
	}

	reservationID, err := m.ledger.Reserve(kind, 1)
	if err != nil {
		return fmt.Errorf("starting %s scan: %w", mode, err)
	}

	m.mode = mode
	m.reservationID = reservationID
	m.creditStatus = CreditReserved
	m.phase = PhaseCapturing

	slog.Info("Scan session started", "mode", mode, "user_id", userID, "reservation_id", reservationID)
	return nil
}

// AddImage registers a capture. Valid only while capturing.
func (m *Machine) AddImage(filename, contentType string, data []byte) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.phase != PhaseCapturing {
		return "", m.reject("addImage")
	}

	image := Image{
		ID:          uuid.NewString(),
		Filename:    filename,
		ContentType: contentType,
		Data:        data,
	}
	m.images = append(m.images, image)
	return image.ID, nil
}

// RemoveImage drops a capture. Valid only while capturing.
func (m *Machine) RemoveImage(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.phase != PhaseCapturing {
		return m.reject("removeImage")
	}

	for i := range m.images {
		if m.images[i].ID == id {
			m.images = append(m.images[:i], m.images[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("removing image %s: not found", id)
}

// ProcessStart runs the captured images through analysis. It blocks until
// analysis resolves and re-enters the machine with the outcome: reviewing on
// success, error (with refund) on failure. Batch results are handed to the
// review machine.
func (m *Machine) ProcessStart(ctx context.Context) error {
	m.mu.Lock()
	if m.phase != PhaseCapturing {
		defer m.mu.Unlock()
		return m.reject("processStart")
	}
	if len(m.images) == 0 {
		defer m.mu.Unlock()
		return fmt.Errorf("starting processing: no images captured")
	}

	m.phase = PhaseScanning
	m.progress = batch.Progress{Total: len(m.images)}
	mode := m.mode
	items := make([]batch.Item, len(m.images))
	for i, image := range m.images {
		items[i] = batch.Item{
			ID:          image.ID,
			Filename:    image.Filename,
			ContentType: image.ContentType,
			Data:        image.Data,
		}
	}
	m.mu.Unlock()

	if mode == ModeBatch {
		results, err := m.processor.Process(ctx, items, m.batchProgress)
		if err != nil {
			return m.processError(err)
		}
		return m.processSuccess(results)
	}

	// Single and statement sessions analyze the first capture directly.
	receiptData, err := m.scanner.ScanReceipt(items[0].Data, items[0].ContentType)
	if err != nil {
		return m.processError(fmt.Errorf("scanning receipt: %w", err))
	}
	return m.processSuccess([]batch.Result{{ItemID: items[0].ID, Receipt: receiptData}})
}

// batchProgress is the bookkeeping callback for per-item completions. It
// never changes phase; progress only moves forward.
func (m *Machine) batchProgress(p batch.Progress) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if p.Completed > m.progress.Completed {
		m.progress = p
	}
}

// processSuccess moves scanning → reviewing and, in batch mode, hands the
// item set to the review machine.
func (m *Machine) processSuccess(results []batch.Result) error {
	m.mu.Lock()

	if m.phase != PhaseScanning {
		defer m.mu.Unlock()
		return m.reject("processSuccess")
	}

	m.results = results
	m.phase = PhaseReviewing
	mode := m.mode
	imagesByID := make(map[string]Image, len(m.images))
	for _, image := range m.images {
		imagesByID[image.ID] = image
	}
	m.mu.Unlock()

	if mode != ModeBatch {
		// Offer the quick save before any manual review interaction.
		if r := results[0].Receipt; r != nil {
			m.OpenDialog(dialog.TypeQuickSaveOffer, r)
		}
		return nil
	}

	receipts := make([]review.BatchReceipt, 0, len(results))
	for _, result := range results {
		item := review.BatchReceipt{ID: result.ItemID}
		if image, ok := imagesByID[result.ItemID]; ok {
			item.ImageID = image.ID
			item.ContentType = image.ContentType
		}
		if result.Receipt != nil {
			item.Title = result.Receipt.Title
			item.Amount = int(math.Round(result.Receipt.Amount * 100))
			item.Currency = result.Receipt.Currency
			item.Confidence = result.Receipt.Confidence
			if date, err := time.Parse("2006-01-02", result.Receipt.Date); err == nil {
				item.Date = date
			}
		} else {
			// Analysis failed: the item still enters review so the
			// user can fill it in or discard it.
			item.Title = "Unknown Expense"
		}
		receipts = append(receipts, item)
	}

	if err := m.reviewMachine.LoadBatch(receipts); err != nil {
		return fmt.Errorf("loading batch for review: %w", err)
	}
	return nil
}

// processError moves scanning → error and refunds the pending reservation.
func (m *Machine) processError(processErr error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.phase != PhaseScanning {
		return m.reject("processError")
	}

	m.phase = PhaseError
	m.lastErr = processErr
	m.refundLocked()

	slog.Error("Processing failed", "mode", m.mode, "error", processErr)
	return processErr
}

// Save persists a single or statement scan. Valid only while reviewing with
// no active dialog and a result that passes the validity checks; a failed
// check opens the matching dialog and returns ErrBlockedByDialog.
func (m *Machine) Save() error {
	return m.save(false)
}

// SaveConfirmed persists like Save but skips the mismatch checks. It is the
// confirm path of the currency- and total-mismatch dialogs.
func (m *Machine) SaveConfirmed() error {
	return m.save(true)
}

func (m *Machine) save(confirmed bool) error {
	m.mu.Lock()

	if m.phase != PhaseReviewing {
		defer m.mu.Unlock()
		return m.reject("save")
	}
	if m.mode == ModeBatch {
		defer m.mu.Unlock()
		return m.reject("save")
	}
	if m.dialogs.Current() != nil {
		m.mu.Unlock()
		return ErrBlockedByDialog
	}
	if len(m.results) == 0 || m.results[0].Receipt == nil {
		defer m.mu.Unlock()
		return m.reject("save")
	}

	receiptData := m.results[0].Receipt
	var image Image
	if found := m.imageByID(m.results[0].ItemID); found != nil {
		image = *found
	}

	if !confirmed {
		if receiptData.Amount <= 0 {
			m.mu.Unlock()
			m.OpenDialog(dialog.TypeTotalMismatch, receiptData)
			return ErrBlockedByDialog
		}
		if m.defaultCurrency != "" && receiptData.Currency != m.defaultCurrency {
			m.mu.Unlock()
			m.OpenDialog(dialog.TypeCurrencyMismatch, receiptData)
			return ErrBlockedByDialog
		}
	}

	m.phase = PhaseSaving
	m.mu.Unlock()

	_, err := m.persistReceipt(receiptData, image)
	if err != nil {
		m.mu.Lock()
		m.phase = PhaseError
		m.lastErr = err
		m.refundLocked()
		m.mu.Unlock()
		return fmt.Errorf("saving receipt: %w", err)
	}

	if err := m.ledger.Confirm(m.reservationID); err != nil {
		m.mu.Lock()
		m.phase = PhaseError
		m.lastErr = err
		m.refundLocked()
		m.mu.Unlock()
		return fmt.Errorf("confirming credits: %w", err)
	}

	m.mu.Lock()
	m.creditStatus = CreditConfirmed
	onComplete := m.onComplete
	m.resetLocked()
	m.mu.Unlock()

	if onComplete != nil {
		onComplete(1, 0)
	}
	return nil
}

// Reset clears the machine to initial from any phase, refunding a pending
// reservation and dismissing any dialog. Idempotent.
func (m *Machine) Reset() {
	m.mu.Lock()
	m.refundLocked()
	m.resetLocked()
	m.mu.Unlock()

	m.reviewMachine.Reset()
	m.dialogs.Close()
}

// refundLocked refunds a still-pending reservation. Callers must hold m.mu.
func (m *Machine) refundLocked() {
	if m.creditStatus != CreditReserved {
		return
	}
	if err := m.ledger.Refund(m.reservationID); err != nil {
		slog.Error("Failed to refund reservation", "reservation_id", m.reservationID, "error", err)
		return
	}
	m.creditStatus = CreditRefunded
}

// resetLocked clears ScanState to initial. Callers must hold m.mu.
func (m *Machine) resetLocked() {
	m.phase = PhaseIdle
	m.mode = ModeSingle
	m.images = nil
	m.results = nil
	m.progress = batch.Progress{}
	m.creditStatus = CreditNone
	m.reservationID = ""
	m.lastErr = nil
	m.batchEditingIndex = nil
}

// imageByID returns the capture with the given id, or nil. Callers must
// hold m.mu or be on the single-threaded save path.
func (m *Machine) imageByID(id string) *Image {
	for i := range m.images {
		if m.images[i].ID == id {
			return &m.images[i]
		}
	}
	return nil
}

// reject logs and returns an InvalidTransitionError. Callers must hold m.mu.
func (m *Machine) reject(action string) error {
	err := &InvalidTransitionError{Action: action, Phase: m.phase}
	slog.Warn("Rejected scan action", "action", action, "phase", m.phase)
	return err
}
