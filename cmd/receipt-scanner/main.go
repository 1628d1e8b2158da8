package main

import (
	_ "embed"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"

	"github.com/8UOU8/ReceiptScannerDK/internal/receipt"
)

//go:embed VERSION.txt
var versionFile string

var version = strings.TrimSpace(versionFile)

func main() {
	// Check for version flag before parsing other flags
	for _, arg := range os.Args[1:] {
		if arg == "--version" || arg == "-version" || arg == "-v" {
			fmt.Println(version)
			os.Exit(0)
		}
	}

	fs := ff.NewFlagSet("receipt-scanner")
	var (
		port        = fs.IntLong("port", 8080, "HTTP server port")
		dbPath      = fs.StringLong("db", "receipt-scanner.db", "Database file path")
		storagePath = fs.StringLong("storage", "./receipts", "Storage directory path")
		provider    = fs.StringLong("provider", "", "Extraction provider: 'gemini' or 'openrouter' (stored on first run)")
		apiKey      = fs.StringLong("api-key", "", "Provider API key (or set RECEIPT_SCANNER_API_KEY env var; stored on first run)")
		model       = fs.StringLong("model", "", "Model name override (provider default when empty)")
		authUser    = fs.StringLong("auth-user", "", "Basic auth username (optional)")
		authPass    = fs.StringLong("auth-pass", "", "Basic auth password (optional)")
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

	slog.Info("Initializing database...")
	db, err := receipt.NewBoltDB(*dbPath)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	slog.Info("Initializing storage...")
	store, err := receipt.NewLocalStorage(*storagePath)
	if err != nil {
		slog.Error("Failed to initialize storage", "error", err)
		os.Exit(1)
	}

	service := receipt.NewService(db, store)

	// Seed settings from flags/env on first run; after that the stored
	// values win and are managed through the settings API
	settings, err := service.Settings()
	if err != nil {
		slog.Error("Failed to read settings", "error", err)
		os.Exit(1)
	}
	if settings.APIKey == "" && *apiKey != "" {
		settings.APIKey = *apiKey
		settings.Provider = *provider
		settings.Model = *model
		if err := service.SaveSettings(settings); err != nil {
			slog.Error("Failed to seed settings", "error", err)
			os.Exit(1)
		}
		slog.Info("Stored initial extraction settings", "provider", settings.Provider)
	}
	if settings.APIKey == "" {
		slog.Warn("No API key configured; uploads are disabled until one is saved in settings")
	}

	service.Start()
	defer service.Stop()

	basicAuth := receipt.BasicAuth{
		Username: *authUser,
		Password: *authPass,
	}
	server := receipt.NewServer(service, basicAuth)

	addr := fmt.Sprintf(":%d", *port)
	go func() {
		if err := server.Start(addr); err != nil {
			slog.Error("Server error", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("Server started", "address", fmt.Sprintf("http://localhost%s", addr))
	if *authUser != "" || *authPass != "" {
		slog.Info("Basic auth enabled", "user", *authUser)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	slog.Info("Shutting down...")
}
