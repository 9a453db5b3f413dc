package main

import (
	_ "embed"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/lmittmann/tint"
	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"

	"github.com/zombor/receipt-scanner/internal/credit"
	"github.com/zombor/receipt-scanner/internal/receipt"
	"github.com/zombor/receipt-scanner/internal/scan"
	"github.com/zombor/receipt-scanner/internal/scanning"
)

//go:embed VERSION.txt
var versionFile string

var version = strings.TrimSpace(versionFile)

func main() {
	fs := ff.NewFlagSet("receipt-scanner")
	var (
		port        = fs.IntLong("port", 8080, "HTTP status server port")
		dbPath      = fs.StringLong("db", "receipt-scanner.db", "Receipt database file path")
		creditDB    = fs.StringLong("credit-db", "credits.db", "Credit ledger database file path")
		storagePath = fs.StringLong("storage", "./receipts", "Storage directory path")
		scannerType = fs.StringLong("scanner", "gemini", "Scanner type: 'gemini' or 'ollama'")
		geminiKey   = fs.StringLong("gemini-key", "", "Google Gemini API key (or set GEMINI_API_KEY env var)")
		geminiModel = fs.StringLong("gemini-model", "gemini-2.5-pro", "Google Gemini model name")
		ollamaURL   = fs.StringLong("ollama-url", "http://localhost:11434", "Ollama API base URL")
		ollamaModel = fs.StringLong("ollama-model", "llava", "Ollama model name (e.g., llava, llava-phi3, bakllava, qwen2-vl)")
		credits     = fs.IntLong("credits", 50, "Scan credits available to this session")
		currency    = fs.StringLong("currency", "USD", "Expected receipt currency (ISO 4217)")
		concurrency = fs.IntLong("concurrency", 3, "Concurrent analysis calls per batch")
		authUser    = fs.StringLong("auth-user", "", "Basic auth username (optional)")
		authPass    = fs.StringLong("auth-pass", "", "Basic auth password (optional)")
		logLevel    = fs.StringLong("log-level", "info", "Log level: debug, info, warn, error")
		showVersion = fs.BoolLong("version", "Show version information")
	)

	if err := ff.Parse(fs, os.Args[1:],
		ff.WithEnvVarPrefix("RECEIPT_SCANNER"),
	); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", ffhelp.Flags(fs))
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	if *showVersion {
		fmt.Println(version)
		os.Exit(0)
	}

	setupLogging(*logLevel)

	// Initialize receipt database
	slog.Info("Initializing database...")
	db, err := receipt.NewBoltDB(*dbPath)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	// Initialize credit ledger
	creditStore, err := credit.NewBoltStore(*creditDB)
	if err != nil {
		slog.Error("Failed to initialize credit store", "error", err)
		os.Exit(1)
	}
	defer creditStore.Close()
	ledger := credit.NewLedger(*credits, creditStore)

	// Initialize scanner based on type
	var scanner scanning.Scanner
	switch *scannerType {
	case "gemini":
		apiKey := *geminiKey
		if apiKey == "" {
			apiKey = os.Getenv("GEMINI_API_KEY")
		}
		if apiKey == "" {
			slog.Error("Gemini API key is required. Set --gemini-key flag or GEMINI_API_KEY environment variable")
			os.Exit(1)
		}
		slog.Info("Initializing Gemini scanner...", "model", *geminiModel)
		scanner, err = scanning.NewGemini(apiKey, *geminiModel)
		if err != nil {
			slog.Error("Failed to initialize Gemini", "error", err)
			os.Exit(1)
		}
	case "ollama":
		slog.Info("Initializing Ollama scanner...", "url", *ollamaURL, "model", *ollamaModel)
		scanner, err = scanning.NewOllama(*ollamaURL, *ollamaModel)
		if err != nil {
			slog.Error("Failed to initialize Ollama", "error", err)
			os.Exit(1)
		}
	default:
		slog.Error("Invalid scanner type", "type", *scannerType, "valid", "gemini or ollama")
		os.Exit(1)
	}
	defer scanner.Close()

	// Initialize storage
	store, err := receipt.NewLocalStorage(*storagePath)
	if err != nil {
		slog.Error("Failed to initialize storage", "error", err)
		os.Exit(1)
	}

	done := make(chan struct{}, 1)
	machine := scan.NewMachine(scan.Config{
		Ledger:          ledger,
		Scanner:         scanner,
		DB:              db,
		Storage:         store,
		Concurrency:     *concurrency,
		DefaultCurrency: strings.ToUpper(*currency),
		OnComplete: func(saved, failed int) {
			slog.Info("Scan session finished", "saved", saved, "failed", failed)
			select {
			case done <- struct{}{}:
			default:
			}
		},
	})

	// Start status server
	basicAuth := receipt.BasicAuth{Username: *authUser, Password: *authPass}
	server := receipt.NewServer(db, store, statusFunc(machine), basicAuth)
	addr := fmt.Sprintf(":%d", *port)
	go func() {
		if err := server.Start(addr); err != nil {
			slog.Error("Server error", "error", err)
			os.Exit(1)
		}
	}()
	slog.Info("Status server started", "address", fmt.Sprintf("http://localhost%s", addr))

	// Files passed as arguments are scanned in one headless session
	if files := fs.GetArgs(); len(files) > 0 {
		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		if err := runScan(ctx, machine, files, done); err != nil {
			slog.Error("Scan failed", "error", err)
			machine.Reset()
			os.Exit(1)
		}
		slog.Info("Credits remaining", "remaining", ledger.Remaining())
		return
	}

	// No files: serve the status API until interrupted
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	slog.Info("Shutting down...")
}

// setupLogging installs a colored slog handler at the requested level
func setupLogging(level string) {
	var l slog.Level
	switch strings.ToLower(level) {
	case "debug":
		l = slog.LevelDebug
	case "warn":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	slog.SetDefault(slog.New(
		tint.NewHandler(os.Stderr, &tint.Options{
			Level:      l,
			TimeFormat: time.Kitchen,
		}),
	))
}

// statusFunc assembles the read-only status snapshot for the HTTP surface
func statusFunc(machine *scan.Machine) receipt.StatusFunc {
	return func() receipt.ScanStatus {
		progress := machine.Progress()
		status := receipt.ScanStatus{
			Phase:            string(machine.Phase()),
			Mode:             string(machine.Mode()),
			Completed:        progress.Completed,
			Total:            progress.Total,
			CreditsRemaining: machine.CreditRemaining(),
			HasActiveRequest: machine.HasActiveRequest(),
		}
		if d := machine.ActiveDialog(); d != nil {
			status.ActiveDialog = string(d.Type)
		}
		return status
	}
}

// contentTypeForFile maps a file extension to a MIME type
func contentTypeForFile(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".pdf":
		return "application/pdf"
	case ".heic":
		return "image/heic"
	case ".heif":
		return "image/heif"
	case ".gif":
		return "image/gif"
	default:
		return "application/octet-stream"
	}
}
