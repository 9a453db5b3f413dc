package receipt

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

// mockDB is a mock implementation of DB
type mockDB struct {
	receipts map[string]*Receipt
	listErr  error
}

func newMockDB() *mockDB {
	return &mockDB{receipts: make(map[string]*Receipt)}
}

func (m *mockDB) SaveReceipt(r *Receipt) error {
	m.receipts[r.ID] = r
	return nil
}

func (m *mockDB) GetReceipt(id string) (*Receipt, error) {
	r, ok := m.receipts[id]
	if !ok {
		return nil, errors.New("receipt not found")
	}
	return r, nil
}

func (m *mockDB) ListReceipts() ([]*Receipt, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	receipts := make([]*Receipt, 0, len(m.receipts))
	for _, r := range m.receipts {
		receipts = append(receipts, r)
	}
	return receipts, nil
}

func (m *mockDB) DeleteReceipt(id string) error {
	delete(m.receipts, id)
	return nil
}

func (m *mockDB) Close() error {
	return nil
}

// mockStorage is a mock implementation of Storage
type mockStorage struct {
	files map[string][]byte
}

func (m *mockStorage) Save(filename string, data []byte) (string, error) {
	m.files[filename] = data
	return filename, nil
}

func (m *mockStorage) Get(path string) ([]byte, error) {
	data, ok := m.files[path]
	if !ok {
		return nil, errors.New("file not found")
	}
	return data, nil
}

func (m *mockStorage) Delete(path string) error {
	delete(m.files, path)
	return nil
}

var _ = Describe("Server", func() {
	var (
		db      *mockDB
		storage *mockStorage
		status  ScanStatus
		mux     *http.ServeMux
	)

	BeforeEach(func() {
		db = newMockDB()
		storage = &mockStorage{files: make(map[string][]byte)}
		status = ScanStatus{Phase: "idle", Mode: "single", CreditsRemaining: 50}
		mux = http.NewServeMux()
		NewServerWithMux(db, storage, func() ScanStatus { return status }, BasicAuth{}, mux)
	})

	Describe("GET /api/status", func() {
		It("should return the status snapshot", func() {
			req := httptest.NewRequest("GET", "/api/status", nil)
			w := httptest.NewRecorder()
			mux.ServeHTTP(w, req)

			Expect(w.Code).To(Equal(http.StatusOK))
			var got ScanStatus
			Expect(json.Unmarshal(w.Body.Bytes(), &got)).To(Succeed())
			Expect(got.Phase).To(Equal("idle"))
			Expect(got.CreditsRemaining).To(Equal(50))
		})

		It("should reflect an in-flight batch", func() {
			status = ScanStatus{
				Phase:            "scanning",
				Mode:             "batch",
				Completed:        2,
				Total:            5,
				HasActiveRequest: true,
			}

			req := httptest.NewRequest("GET", "/api/status", nil)
			w := httptest.NewRecorder()
			mux.ServeHTTP(w, req)

			var got ScanStatus
			Expect(json.Unmarshal(w.Body.Bytes(), &got)).To(Succeed())
			Expect(got.Completed).To(Equal(2))
			Expect(got.Total).To(Equal(5))
			Expect(got.HasActiveRequest).To(BeTrue())
		})
	})

	Describe("GET /api/receipts", func() {
		BeforeEach(func() {
			db.SaveReceipt(&Receipt{ID: "r-1", Title: "CVS Pharmacy", Amount: 2599, Currency: "USD", Date: time.Now()})
		})

		It("should list receipts as JSON", func() {
			req := httptest.NewRequest("GET", "/api/receipts", nil)
			w := httptest.NewRecorder()
			mux.ServeHTTP(w, req)

			Expect(w.Code).To(Equal(http.StatusOK))
			Expect(w.Header().Get("Content-Type")).To(Equal("application/json"))

			var got []*Receipt
			Expect(json.Unmarshal(w.Body.Bytes(), &got)).To(Succeed())
			Expect(got).To(HaveLen(1))
			Expect(got[0].Title).To(Equal("CVS Pharmacy"))
		})

		It("should return 500 when the database fails", func() {
			db.listErr = errors.New("db down")

			req := httptest.NewRequest("GET", "/api/receipts", nil)
			w := httptest.NewRecorder()
			mux.ServeHTTP(w, req)

			Expect(w.Code).To(Equal(http.StatusInternalServerError))
		})
	})

	Describe("GET /api/receipts/{id}", func() {
		BeforeEach(func() {
			db.SaveReceipt(&Receipt{ID: "r-1", Title: "CVS Pharmacy"})
		})

		It("should return the receipt", func() {
			req := httptest.NewRequest("GET", "/api/receipts/r-1", nil)
			w := httptest.NewRecorder()
			mux.ServeHTTP(w, req)

			Expect(w.Code).To(Equal(http.StatusOK))
			var got Receipt
			Expect(json.Unmarshal(w.Body.Bytes(), &got)).To(Succeed())
			Expect(got.ID).To(Equal("r-1"))
		})

		It("should return 404 for an unknown id", func() {
			req := httptest.NewRequest("GET", "/api/receipts/missing", nil)
			w := httptest.NewRecorder()
			mux.ServeHTTP(w, req)

			Expect(w.Code).To(Equal(http.StatusNotFound))
		})
	})

	Describe("GET /api/receipts/{id}/file", func() {
		BeforeEach(func() {
			db.SaveReceipt(&Receipt{ID: "r-1", Filename: "r-1_receipt.jpg", ContentType: "image/jpeg"})
			storage.files["r-1_receipt.jpg"] = []byte("image bytes")
		})

		It("should serve the file with its content type", func() {
			req := httptest.NewRequest("GET", "/api/receipts/r-1/file", nil)
			w := httptest.NewRecorder()
			mux.ServeHTTP(w, req)

			Expect(w.Code).To(Equal(http.StatusOK))
			Expect(w.Header().Get("Content-Type")).To(Equal("image/jpeg"))
			Expect(w.Body.String()).To(Equal("image bytes"))
		})

		It("should return 404 when the file is missing", func() {
			delete(storage.files, "r-1_receipt.jpg")

			req := httptest.NewRequest("GET", "/api/receipts/r-1/file", nil)
			w := httptest.NewRecorder()
			mux.ServeHTTP(w, req)

			Expect(w.Code).To(Equal(http.StatusNotFound))
		})
	})

	Describe("basic auth", func() {
		BeforeEach(func() {
			mux = http.NewServeMux()
			NewServerWithMux(db, storage, func() ScanStatus { return status }, BasicAuth{
				Username: "admin",
				Password: "secret",
			}, mux)
		})

		It("should reject requests without credentials", func() {
			req := httptest.NewRequest("GET", "/api/status", nil)
			w := httptest.NewRecorder()
			mux.ServeHTTP(w, req)

			Expect(w.Code).To(Equal(http.StatusUnauthorized))
			Expect(w.Header().Get("WWW-Authenticate")).To(ContainSubstring("Basic"))
		})

		It("should reject wrong credentials", func() {
			req := httptest.NewRequest("GET", "/api/status", nil)
			req.SetBasicAuth("admin", "wrong")
			w := httptest.NewRecorder()
			mux.ServeHTTP(w, req)

			Expect(w.Code).To(Equal(http.StatusUnauthorized))
		})

		It("should accept valid credentials", func() {
			req := httptest.NewRequest("GET", "/api/status", nil)
			req.SetBasicAuth("admin", "secret")
			w := httptest.NewRecorder()
			mux.ServeHTTP(w, req)

			Expect(w.Code).To(Equal(http.StatusOK))
		})
	})

	Describe("CORS", func() {
		It("should answer preflight requests", func() {
			req := httptest.NewRequest("OPTIONS", "/api/receipts", nil)
			w := httptest.NewRecorder()
			mux.ServeHTTP(w, req)

			Expect(w.Code).To(Equal(http.StatusNoContent))
			Expect(w.Header().Get("Access-Control-Allow-Origin")).To(Equal("*"))
		})

		It("should set CORS headers on API responses", func() {
			req := httptest.NewRequest("GET", "/api/status", nil)
			w := httptest.NewRecorder()
			mux.ServeHTTP(w, req)

			Expect(w.Header().Get("Access-Control-Allow-Origin")).To(Equal("*"))
		})
	})
})
