package scanning

// ReceiptData contains extracted information from a receipt
type ReceiptData struct {
	Title      string  `json:"title"`
	Date       string  `json:"date"` // ISO 8601 format
	Amount     float64 `json:"amount"`
	Currency   string  `json:"currency"`   // ISO 4217 code, e.g. "USD"
	Confidence float64 `json:"confidence"` // 0..1, the model's own estimate
}

// Scanner defines the interface for receipt scanning operations
type Scanner interface {
	// ScanReceipt analyzes a receipt image/PDF and extracts metadata
	ScanReceipt(imageData []byte, contentType string) (*ReceiptData, error)
	// Close closes the scanner and releases resources
	Close() error
}
