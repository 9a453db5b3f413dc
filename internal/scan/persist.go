package scan

import (
	"fmt"
	"math"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/zombor/receipt-scanner/internal/receipt"
	"github.com/zombor/receipt-scanner/internal/review"
	"github.com/zombor/receipt-scanner/internal/scanning"
)

// sanitizeFilename cleans up a filename by removing special characters and truncating length
func sanitizeFilename(filename string) string {
	// Get the extension
	ext := filepath.Ext(filename)
	base := strings.TrimSuffix(filename, ext)

	// Remove special characters, keep only alphanumeric, spaces, hyphens, and underscores
	reg := regexp.MustCompile(`[^a-zA-Z0-9\s\-_]`)
	base = reg.ReplaceAllString(base, "")

	// Replace multiple spaces with single space
	reg = regexp.MustCompile(`\s+`)
	base = reg.ReplaceAllString(base, " ")

	// Trim spaces
	base = strings.TrimSpace(base)

	// Truncate to reasonable length (50 chars for base, plus extension)
	maxLen := 50
	if len(base) > maxLen {
		base = base[:maxLen]
	}

	// If base is empty after sanitization, use a default
	if base == "" {
		base = "receipt"
	}

	return base + ext
}

// persistReceipt durably saves one analyzed receipt and its capture file.
// The saved file is cleaned up if the database save fails.
func (m *Machine) persistReceipt(data *scanning.ReceiptData, image Image) (string, error) {
	id := m.idGenerator.Generate()
	now := m.timeSource.Now()

	savedPath := ""
	if len(image.Data) > 0 {
		cleanFilename := sanitizeFilename(image.Filename)
		path, err := m.storage.Save(fmt.Sprintf("%s_%s", id, cleanFilename), image.Data)
		if err != nil {
			return "", fmt.Errorf("saving file: %w", err)
		}
		savedPath = path
	}

	date, err := time.Parse("2006-01-02", data.Date)
	if err != nil {
		date = now
	}

	record := &receipt.Receipt{
		ID:          id,
		Title:       data.Title,
		Date:        date,
		Amount:      int(math.Round(data.Amount * 100)),
		Currency:    data.Currency,
		Confidence:  data.Confidence,
		Filename:    savedPath,
		ContentType: image.ContentType,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := m.db.SaveReceipt(record); err != nil {
		if savedPath != "" {
			m.storage.Delete(savedPath)
		}
		return "", fmt.Errorf("saving receipt to database: %w", err)
	}

	return id, nil
}

// PersistBatchItem durably saves one reviewed batch item. The review save
// loop calls it per item and reports the outcome back to the review machine
// through SaveItemSuccess or SaveItemFailure.
func (m *Machine) PersistBatchItem(item review.BatchReceipt) (string, error) {
	id := m.idGenerator.Generate()
	now := m.timeSource.Now()

	var image Image
	m.mu.Lock()
	if found := m.imageByID(item.ImageID); found != nil {
		image = *found
	}
	m.mu.Unlock()

	savedPath := ""
	if len(image.Data) > 0 {
		cleanFilename := sanitizeFilename(image.Filename)
		path, err := m.storage.Save(fmt.Sprintf("%s_%s", id, cleanFilename), image.Data)
		if err != nil {
			return "", fmt.Errorf("saving file: %w", err)
		}
		savedPath = path
	}

	date := item.Date
	if date.IsZero() {
		date = now
	}

	record := &receipt.Receipt{
		ID:          id,
		Title:       item.Title,
		Date:        date,
		Amount:      item.Amount,
		Currency:    item.Currency,
		Confidence:  item.Confidence,
		Filename:    savedPath,
		ContentType: item.ContentType,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := m.db.SaveReceipt(record); err != nil {
		if savedPath != "" {
			m.storage.Delete(savedPath)
		}
		return "", fmt.Errorf("saving receipt to database: %w", err)
	}

	return id, nil
}
