package tests

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/ghttp"

	"github.com/zombor/receipt-scanner/internal/credit"
	"github.com/zombor/receipt-scanner/internal/receipt"
	"github.com/zombor/receipt-scanner/internal/review"
	"github.com/zombor/receipt-scanner/internal/scan"
	"github.com/zombor/receipt-scanner/internal/scanning"
)

func TestIntegration(t *testing.T) {
	// Disable logging during tests
	slog.SetDefault(slog.New(slog.NewTextHandler(io.Discard, nil)))

	RegisterFailHandler(Fail)
	RunSpecs(t, "Integration Suite")
}

// MockScanner for testing, keyed on the capture's content
type MockScanner struct {
	receipts map[string]*scanning.ReceiptData
	scanErr  error
}

func (m *MockScanner) ScanReceipt(imageData []byte, contentType string) (*scanning.ReceiptData, error) {
	if m.scanErr != nil {
		return nil, m.scanErr
	}
	if data, ok := m.receipts[string(imageData)]; ok {
		copied := *data
		return &copied, nil
	}
	return &scanning.ReceiptData{Title: "Unknown", Currency: "USD"}, nil
}

func (m *MockScanner) Close() error {
	return nil
}

var _ = Describe("Integration", func() {
	var (
		tempDir     string
		db          *receipt.BoltDB
		creditStore *credit.BoltStore
		ledger      *credit.Ledger
		store       receipt.Storage
		scanner     *MockScanner
		machine     *scan.Machine
		completions []struct{ saved, failed int }
		ghServer    *ghttp.Server
		mux         *http.ServeMux
		err         error
	)

	BeforeEach(func() {
		tempDir = GinkgoT().TempDir()

		db, err = receipt.NewBoltDB(filepath.Join(tempDir, "receipts.db"))
		Expect(err).NotTo(HaveOccurred())

		creditStore, err = credit.NewBoltStore(filepath.Join(tempDir, "credits.db"))
		Expect(err).NotTo(HaveOccurred())

		ledger = credit.NewLedger(50, creditStore)

		store, err = receipt.NewLocalStorage(filepath.Join(tempDir, "files"))
		Expect(err).NotTo(HaveOccurred())

		scanner = &MockScanner{
			receipts: map[string]*scanning.ReceiptData{
				"pharmacy": {Title: "CVS Pharmacy", Date: "2024-03-20", Amount: 42.50, Currency: "USD", Confidence: 0.95},
				"grocery":  {Title: "Whole Foods", Date: "2024-03-21", Amount: 18.25, Currency: "USD", Confidence: 0.9},
			},
		}

		completions = nil
		machine = scan.NewMachine(scan.Config{
			Ledger:          ledger,
			Scanner:         scanner,
			DB:              db,
			Storage:         store,
			DefaultCurrency: "USD",
			OnComplete: func(saved, failed int) {
				completions = append(completions, struct{ saved, failed int }{saved, failed})
			},
		})

		mux = http.NewServeMux()
		receipt.NewServerWithMux(db, store, func() receipt.ScanStatus {
			return receipt.ScanStatus{
				Phase:            string(machine.Phase()),
				Mode:             string(machine.Mode()),
				CreditsRemaining: machine.CreditRemaining(),
				HasActiveRequest: machine.HasActiveRequest(),
			}
		}, receipt.BasicAuth{}, mux) // No auth for testing convenience

		ghServer = ghttp.NewServer()
	})

	AfterEach(func() {
		if ghServer != nil {
			ghServer.Close()
		}
		if db != nil {
			db.Close()
		}
		if creditStore != nil {
			creditStore.Close()
		}
	})

	It("should capture, scan, review and save a batch end to end", func() {
		Expect(machine.StartBatch("user-1")).To(Succeed())
		_, err = machine.AddImage("pharmacy.jpg", "image/jpeg", []byte("pharmacy"))
		Expect(err).NotTo(HaveOccurred())
		_, err = machine.AddImage("grocery.jpg", "image/jpeg", []byte("grocery"))
		Expect(err).NotTo(HaveOccurred())

		Expect(machine.ProcessStart(context.Background())).To(Succeed())
		Expect(machine.Phase()).To(Equal(scan.PhaseReviewing))

		reviewer := machine.Review()
		items := reviewer.Items()
		Expect(items).To(HaveLen(2))

		// Correct one title before saving
		title := "CVS Pharmacy #1234"
		Expect(reviewer.StartEditing(items[0].ID)).To(Succeed())
		Expect(reviewer.UpdateItem(items[0].ID, review.Update{Title: &title})).To(Succeed())
		Expect(reviewer.FinishEditing()).To(Succeed())

		Expect(reviewer.SaveStart()).To(Succeed())
		for _, item := range reviewer.Items() {
			_, persistErr := machine.PersistBatchItem(item)
			Expect(persistErr).NotTo(HaveOccurred())
			Expect(reviewer.SaveItemSuccess(item.ID)).To(Succeed())
		}

		// Saving the last item empties the batch and completes the session
		Expect(completions).To(HaveLen(1))
		Expect(completions[0].saved).To(Equal(2))
		Expect(machine.Phase()).To(Equal(scan.PhaseIdle))

		// One credit spent, durably
		Expect(ledger.Remaining()).To(Equal(49))
		debits, debitErr := creditStore.ListDebits()
		Expect(debitErr).NotTo(HaveOccurred())
		Expect(debits).To(HaveLen(1))
		Expect(debits[0].Kind).To(Equal(credit.KindBatch))

		// Both receipts durable, the edit included
		saved, listErr := db.ListReceipts()
		Expect(listErr).NotTo(HaveOccurred())
		Expect(saved).To(HaveLen(2))
		titles := []string{saved[0].Title, saved[1].Title}
		Expect(titles).To(ConsistOf("CVS Pharmacy #1234", "Whole Foods"))
	})

	It("should serve a saved single scan over the HTTP API", func() {
		Expect(machine.StartSingle("user-1")).To(Succeed())
		_, err = machine.AddImage("pharmacy.jpg", "image/jpeg", []byte("pharmacy"))
		Expect(err).NotTo(HaveOccurred())
		Expect(machine.ProcessStart(context.Background())).To(Succeed())

		// Accept the quick-save offer
		machine.CloseDialog()
		Expect(machine.Save()).To(Succeed())

		ghServer.AppendHandlers(
			mux.ServeHTTP, // list
			mux.ServeHTTP, // file
			mux.ServeHTTP, // status
		)

		resp, httpErr := http.Get(ghServer.URL() + "/api/receipts")
		Expect(httpErr).NotTo(HaveOccurred())
		defer resp.Body.Close()
		Expect(resp.StatusCode).To(Equal(http.StatusOK))

		var listed []*receipt.Receipt
		Expect(json.NewDecoder(resp.Body).Decode(&listed)).To(Succeed())
		Expect(listed).To(HaveLen(1))
		Expect(listed[0].Title).To(Equal("CVS Pharmacy"))
		Expect(listed[0].Amount).To(Equal(4250)) // 42.50 * 100

		fileResp, fileErr := http.Get(ghServer.URL() + "/api/receipts/" + listed[0].ID + "/file")
		Expect(fileErr).NotTo(HaveOccurred())
		defer fileResp.Body.Close()
		Expect(fileResp.StatusCode).To(Equal(http.StatusOK))
		body, readErr := io.ReadAll(fileResp.Body)
		Expect(readErr).NotTo(HaveOccurred())
		Expect(string(body)).To(Equal("pharmacy"))

		statusResp, statusErr := http.Get(ghServer.URL() + "/api/status")
		Expect(statusErr).NotTo(HaveOccurred())
		defer statusResp.Body.Close()
		var status receipt.ScanStatus
		Expect(json.NewDecoder(statusResp.Body).Decode(&status)).To(Succeed())
		Expect(status.Phase).To(Equal("idle"))
		Expect(status.CreditsRemaining).To(Equal(49))
	})

	It("should refund the credit when analysis fails", func() {
		scanner.scanErr = errors.New("model unavailable")

		Expect(machine.StartSingle("user-1")).To(Succeed())
		_, err = machine.AddImage("pharmacy.jpg", "image/jpeg", []byte("pharmacy"))
		Expect(err).NotTo(HaveOccurred())

		Expect(machine.ProcessStart(context.Background())).To(HaveOccurred())
		Expect(machine.Phase()).To(Equal(scan.PhaseError))
		Expect(ledger.Remaining()).To(Equal(50))

		debits, debitErr := creditStore.ListDebits()
		Expect(debitErr).NotTo(HaveOccurred())
		Expect(debits).To(BeEmpty())
	})

	It("should refund the credit when the session is abandoned", func() {
		Expect(machine.StartBatch("user-1")).To(Succeed())
		_, err = machine.AddImage("pharmacy.jpg", "image/jpeg", []byte("pharmacy"))
		Expect(err).NotTo(HaveOccurred())
		Expect(ledger.Remaining()).To(Equal(49))

		machine.Reset()
		Expect(machine.Phase()).To(Equal(scan.PhaseIdle))
		Expect(ledger.Remaining()).To(Equal(50))
	})
})
