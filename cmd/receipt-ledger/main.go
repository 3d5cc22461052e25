package main

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/peterbourgon/ff/v4"

	"github.com/zombor/receipt-ledger/internal/config"
	"github.com/zombor/receipt-ledger/internal/journal"
	"github.com/zombor/receipt-ledger/internal/notify"
	"github.com/zombor/receipt-ledger/internal/pipeline"
	"github.com/zombor/receipt-ledger/internal/receipt"
	"github.com/zombor/receipt-ledger/internal/scanning"
	"github.com/zombor/receipt-ledger/internal/sheet"
)

//go:embed VERSION.txt
var versionFile string

var version = strings.TrimSpace(versionFile)

func main() {
	cfg, err := config.Parse(os.Args[1:])
	if errors.Is(err, ff.ErrHelp) {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(0)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	if cfg.ShowVersion {
		fmt.Println(version)
		os.Exit(0)
	}

	setupLogging(os.Stderr, cfg.LogLevel, cfg.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		slog.Error("Exiting", "error", err)
		os.Exit(1)
	}
}

func setupLogging(w io.Writer, level slog.Level, format string) {
	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler = slog.NewTextHandler(w, opts)
	if format == "json" {
		handler = slog.NewJSONHandler(w, opts)
	}
	slog.SetDefault(slog.New(handler))
}

func run(ctx context.Context, cfg config.Config) error {
	extractor, err := newExtractor(cfg)
	if err != nil {
		return err
	}
	defer extractor.Close()

	writer, err := newWriter(ctx, cfg)
	if err != nil {
		return err
	}

	var store journal.Store
	if cfg.JournalPath != "" {
		slog.Info("Initializing journal...", "path", cfg.JournalPath)
		db, err := journal.NewBoltDB(cfg.JournalPath)
		if err != nil {
			return fmt.Errorf("initializing journal: %w", err)
		}
		defer db.Close()
		store = db
	}

	var notifier pipeline.Notifier
	if cfg.WebhookURL != "" {
		notifier = notify.NewWebhook(cfg.WebhookURL)
	}

	service := pipeline.NewService(pipeline.Deps{
		Preprocessor: scanning.NewPreprocessor(cfg.PreprocessOptions()),
		Extractor:    extractor,
		Parser:       receipt.NewParser(cfg.ParserOptions()),
		Adapter:      sheet.NewAdapter(cfg.Layout, cfg.Separator, cfg.AdapterOptions()...),
		Writer:       writer,
		Formatter:    notify.NewFormatter(cfg.Locale),
		Journal:      store,
		Notifier:     notifier,
		Concurrency:  cfg.Concurrency,
	})

	if cfg.File != "" {
		return processFile(ctx, service, cfg.File)
	}

	server := pipeline.NewServer(service, cfg.BasicAuth())
	if cfg.AuthUser != "" || cfg.AuthPass != "" {
		slog.Info("Basic auth enabled", "user", cfg.AuthUser)
	}
	return server.Start(ctx, cfg.Addr())
}

func newExtractor(cfg config.Config) (*scanning.Retrying, error) {
	var (
		client scanning.Extractor
		err    error
	)
	switch cfg.Extractor {
	case config.ExtractorGemini:
		slog.Info("Initializing Gemini extractor...", "model", cfg.GeminiModel)
		client, err = scanning.NewGemini(cfg.GeminiKey, cfg.GeminiModel, cfg.Timeout)
	default:
		slog.Info("Initializing Ollama extractor...", "url", cfg.OllamaURL, "model", cfg.OllamaModel)
		client, err = scanning.NewOllama(cfg.OllamaURL, cfg.OllamaModel, cfg.Timeout)
	}
	if err != nil {
		return nil, fmt.Errorf("initializing %s extractor: %w", cfg.Extractor, err)
	}

	retrying := scanning.NewRetrying(client, cfg.Attempts, cfg.Backoff)
	retrying.OnRetry = pipeline.CountRetry
	return retrying, nil
}

func newWriter(ctx context.Context, cfg config.Config) (sheet.Writer, error) {
	switch cfg.Sink {
	case config.SinkSheets:
		slog.Info("Initializing Google Sheets sink...", "spreadsheet", cfg.SpreadsheetID)
		w, err := sheet.NewGoogleSheets(ctx, cfg.SpreadsheetID, cfg.Credentials)
		if err != nil {
			return nil, fmt.Errorf("initializing sheets sink: %w", err)
		}
		return w, nil
	case config.SinkXLSX:
		slog.Info("Initializing workbook sink...", "path", cfg.XLSXPath)
		return sheet.NewWorkbook(cfg.XLSXPath), nil
	default:
		slog.Warn("No sink configured; accepted receipts are only journaled")
		return nil, nil
	}
}

// processFile runs one receipt and prints the outcome message
func processFile(ctx context.Context, service *pipeline.Service, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}

	out, err := service.Process(ctx, pipeline.Submission{
		Filename:    filepath.Base(path),
		Data:        data,
		ContentType: pipeline.ContentTypeFor(path),
	})
	if err != nil {
		return err
	}

	fmt.Println(out.Message)
	if !out.Accepted() {
		if out.RawResponse != "" {
			fmt.Fprintf(os.Stderr, "raw response:\n%s\n", out.RawResponse)
		}
		return out.Err
	}
	return nil
}
