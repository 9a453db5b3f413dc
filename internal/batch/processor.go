// Package batch runs a set of capture items through the analysis scanner
// concurrently and aggregates progress for the scan state machine.
package batch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/zombor/receipt-scanner/internal/scanning"
)

// DefaultConcurrency bounds in-flight analysis calls when no explicit bound
// is configured.
const DefaultConcurrency = 3

// Item is one capture awaiting analysis.
type Item struct {
	ID          string
	Filename    string
	ContentType string
	Data        []byte
}

// Result is the per-item outcome. Exactly one of Receipt or Err is set.
type Result struct {
	ItemID  string
	Receipt *scanning.ReceiptData
	Err     error
}

// Progress is emitted after each item completes, in whatever order
// completions actually occur. Completed never decreases and reaches Total
// exactly once per batch.
type Progress struct {
	Completed int
	Total     int
	FailedIDs []string
}

// ProgressFunc receives progress events. Calls are serialized by the
// aggregator, so observed Completed counts never go backwards. The callback
// must not call back into Process.
type ProgressFunc func(Progress)

// Processor fans a batch out over the scanner with bounded concurrency.
type Processor struct {
	scanner     scanning.Scanner
	concurrency int
}

// NewProcessor creates a Processor. concurrency <= 0 selects
// DefaultConcurrency.
func NewProcessor(scanner scanning.Scanner, concurrency int) *Processor {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	return &Processor{scanner: scanner, concurrency: concurrency}
}

// Process analyzes every item and returns the full result set, failures
// included, indexed by input position. Per-item analysis errors never abort
// the batch; they are recorded in the item's Result and in the progress
// failed-id list.
//
// Cancellation is cooperative: the context is checked before each item's
// result is applied. Results arriving after cancellation are discarded and
// no further progress events fire.
func (p *Processor) Process(ctx context.Context, items []Item, onProgress ProgressFunc) ([]Result, error) {
	if len(items) == 0 {
		return nil, fmt.Errorf("processing batch: no items")
	}

	var (
		mu        sync.Mutex
		wg        sync.WaitGroup
		results   = make([]Result, len(items))
		completed int
		failedIDs []string
	)

	sem := make(chan struct{}, p.concurrency)

	for i, item := range items {
		wg.Add(1)
		go func(index int, item Item) {
			defer wg.Done()

			sem <- struct{}{}
			defer func() { <-sem }()

			if ctx.Err() != nil {
				return
			}

			receipt, err := p.scanner.ScanReceipt(item.Data, item.ContentType)

			mu.Lock()
			// Discard, don't apply: the batch was cancelled while this
			// item was in flight.
			if ctx.Err() != nil {
				mu.Unlock()
				return
			}

			if err != nil {
				slog.Warn("Batch item analysis failed", "item_id", item.ID, "filename", item.Filename, "error", err)
				results[index] = Result{ItemID: item.ID, Err: err}
				failedIDs = append(failedIDs, item.ID)
			} else {
				results[index] = Result{ItemID: item.ID, Receipt: receipt}
			}
			completed++
			if onProgress != nil {
				onProgress(Progress{
					Completed: completed,
					Total:     len(items),
					FailedIDs: append([]string(nil), failedIDs...),
				})
			}
			mu.Unlock()
		}(i, item)
	}

	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("processing batch: %w", err)
	}
	return results, nil
}
