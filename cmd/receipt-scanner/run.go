package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/zombor/receipt-scanner/internal/scan"
)

// runScan drives one headless scan session over the given files: a single
// session for one file, a batch session otherwise. Dialog interrupts are
// resolved automatically since there is no one to ask.
func runScan(ctx context.Context, machine *scan.Machine, files []string, done chan struct{}) error {
	single := len(files) == 1

	var err error
	if single {
		err = machine.StartSingle("local")
	} else {
		err = machine.StartBatch("local")
	}
	if err != nil {
		return fmt.Errorf("starting session: %w", err)
	}

	for _, file := range files {
		data, readErr := os.ReadFile(file)
		if readErr != nil {
			return fmt.Errorf("reading %s: %w", file, readErr)
		}
		if _, addErr := machine.AddImage(filepath.Base(file), contentTypeForFile(file), data); addErr != nil {
			return fmt.Errorf("adding %s: %w", file, addErr)
		}
	}

	slog.Info("Processing captures", "count", len(files))
	if err := machine.ProcessStart(ctx); err != nil {
		return fmt.Errorf("processing: %w", err)
	}

	if single {
		return saveSingle(machine)
	}
	return saveBatch(machine, done)
}

// saveSingle resolves the quick-save offer and any mismatch dialog, then
// persists the one result.
func saveSingle(machine *scan.Machine) error {
	// The quick-save offer is always taken in headless mode.
	if d := machine.ActiveDialog(); d != nil {
		slog.Info("Accepting dialog", "type", d.Type)
		machine.CloseDialog()
	}

	err := machine.Save()
	if errors.Is(err, scan.ErrBlockedByDialog) {
		if d := machine.ActiveDialog(); d != nil {
			slog.Warn("Confirming past mismatch dialog", "type", d.Type)
			machine.CloseDialog()
		}
		err = machine.SaveConfirmed()
	}
	if err != nil {
		return err
	}
	return nil
}

// saveBatch walks the review machine through a save pass over every item.
// Items whose save fails are discarded afterwards so the session completes
// with both counts intact.
func saveBatch(machine *scan.Machine, done chan struct{}) error {
	reviewMachine := machine.Review()

	items := reviewMachine.Items()
	if len(items) == 0 {
		machine.Reset()
		return fmt.Errorf("no items to review")
	}

	if err := reviewMachine.SaveStart(); err != nil {
		return fmt.Errorf("starting batch save: %w", err)
	}

	var failedIDs []string
	for _, item := range items {
		if _, err := machine.PersistBatchItem(item); err != nil {
			reviewMachine.SaveItemFailure(item.ID, err)
			failedIDs = append(failedIDs, item.ID)
			continue
		}
		if err := reviewMachine.SaveItemSuccess(item.ID); err != nil {
			return fmt.Errorf("recording saved item: %w", err)
		}
	}

	if len(failedIDs) > 0 {
		// Partial failure still completes the batch; surface the summary
		// and drop the unsavable items.
		if err := reviewMachine.SaveComplete(); err != nil {
			return fmt.Errorf("completing batch save: %w", err)
		}
		saved, failed := reviewMachine.Counts()
		slog.Warn("Batch finished with failures", "saved", saved, "failed", failed)
		machine.Reset()
		return nil
	}

	// Every save succeeded: the emptiness edge has already fired the
	// completion event and reset both machines.
	<-done
	return nil
}
