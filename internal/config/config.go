package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"
	"github.com/shopspring/decimal"
	"golang.org/x/text/language"

	"github.com/zombor/receipt-ledger/internal/pipeline"
	"github.com/zombor/receipt-ledger/internal/receipt"
	"github.com/zombor/receipt-ledger/internal/scanning"
	"github.com/zombor/receipt-ledger/internal/sheet"
)

// EnvVarPrefix prefixes every flag's environment variable
const EnvVarPrefix = "RECEIPT_LEDGER"

// Extractor names
const (
	ExtractorOllama = "ollama"
	ExtractorGemini = "gemini"
)

// Sink names
const (
	SinkSheets = "sheets"
	SinkXLSX   = "xlsx"
	SinkNone   = "none"
)

// Config is the validated application configuration
type Config struct {
	Port        int
	JournalPath string

	Extractor   string
	OllamaURL   string
	OllamaModel string
	GeminiKey   string
	GeminiModel string
	Timeout     time.Duration
	Attempts    int
	Backoff     time.Duration
	Concurrency int

	MaxBytes     int
	MaxDimension int

	DefaultCurrency string
	Tolerance       decimal.Decimal
	DateFormats     []string

	Sink          string
	SpreadsheetID string
	Credentials   string
	SheetName     string
	MonthlySheets bool
	XLSXPath      string
	Layout        sheet.Layout
	Separator     string

	Locale     language.Tag
	WebhookURL string

	AuthUser string
	AuthPass string

	// File switches to one-shot mode: process this file and exit
	File string

	LogLevel    slog.Level
	LogFormat   string
	ShowVersion bool
}

// Parse reads flags and RECEIPT_LEDGER_* environment variables, after
// loading a .env file from the working directory when one exists
func Parse(args []string) (Config, error) {
	return ParseWithEnvFile(args, ".env")
}

// ParseWithEnvFile is Parse with an explicit .env location
func ParseWithEnvFile(args []string, envFile string) (Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("loading %s: %w", envFile, err)
		}
	}

	flags := ff.NewFlagSet("receipt-ledger")
	var (
		port            = flags.IntLong("port", 8080, "HTTP server port")
		journalPath     = flags.StringLong("journal", "receipt-ledger.db", "Journal database path (empty disables the journal)")
		extractor       = flags.StringLong("extractor", ExtractorOllama, "Extractor: 'ollama' or 'gemini'")
		ollamaURL       = flags.StringLong("ollama-url", "http://localhost:11434", "Ollama API base URL")
		ollamaModel     = flags.StringLong("ollama-model", "qwen2.5vl:3b", "Ollama vision model name")
		geminiKey       = flags.StringLong("gemini-key", "", "Google Gemini API key (or set GEMINI_API_KEY env var)")
		geminiModel     = flags.StringLong("gemini-model", "gemini-2.5-flash", "Google Gemini model name")
		timeout         = flags.DurationLong("timeout", scanning.DefaultTimeout, "Timeout for a single extraction attempt")
		attempts        = flags.IntLong("attempts", scanning.DefaultAttempts, "Extraction attempts, including the first")
		backoff         = flags.DurationLong("backoff", scanning.DefaultBackoff, "Base delay between extraction attempts")
		concurrency     = flags.IntLong("concurrency", pipeline.DefaultConcurrency, "Receipts extracted at once")
		maxBytes        = flags.IntLong("max-bytes", scanning.DefaultMaxBytes, "Largest image sent to the model, in bytes")
		maxDimension    = flags.IntLong("max-dimension", scanning.DefaultMaxDimension, "Longest image side sent to the model, in pixels")
		defaultCurrency = flags.StringLong("default-currency", receipt.DefaultCurrency, "Currency when the receipt names none")
		tolerance       = flags.StringLong("tolerance", "0.01", "Largest accepted gap between stated total and item sum")
		dateFormats     = flags.StringLong("date-formats", strings.Join(receipt.DefaultDateFormats, ";"), "Accepted date layouts in Go reference form, ';'-separated, first match wins")
		sink            = flags.StringLong("sink", SinkNone, "Row sink: 'sheets', 'xlsx' or 'none'")
		spreadsheetID   = flags.StringLong("spreadsheet-id", "", "Google Sheets spreadsheet ID")
		credentials     = flags.StringLong("credentials", "", "Google service account key file")
		sheetName       = flags.StringLong("sheet-name", sheet.DefaultSheetName, "Worksheet name")
		monthlySheets   = flags.BoolLong("monthly-sheets", "Write each receipt to a worksheet named after its purchase month")
		xlsxPath        = flags.StringLong("xlsx-path", "receipts.xlsx", "Workbook path for the xlsx sink")
		layout          = flags.StringLong("layout", string(sheet.SingleRow), "Row layout: 'single_row' or 'one_row_per_item'")
		separator       = flags.StringLong("separator", sheet.DefaultSeparator, "Item separator for the single_row layout")
		locale          = flags.StringLong("locale", "en", "Language of notification messages (BCP 47)")
		webhookURL      = flags.StringLong("webhook-url", "", "Discord-compatible webhook for outcome notifications (optional)")
		authUser        = flags.StringLong("auth-user", "", "Basic auth username (optional)")
		authPass        = flags.StringLong("auth-pass", "", "Basic auth password (optional)")
		file            = flags.StringLong("file", "", "Process this receipt file once and exit")
		logLevel        = flags.StringLong("log-level", "info", "Log level: debug, info, warn or error")
		logFormat       = flags.StringLong("log-format", "text", "Log format: 'text' or 'json'")
		showVersion     = flags.BoolLong("version", "Show version information")
	)

	if err := ff.Parse(flags, args, ff.WithEnvVarPrefix(EnvVarPrefix)); err != nil {
		return Config{}, fmt.Errorf("%w\n%s", err, ffhelp.Flags(flags))
	}

	cfg := Config{
		Port:            *port,
		JournalPath:     *journalPath,
		Extractor:       strings.ToLower(strings.TrimSpace(*extractor)),
		OllamaURL:       *ollamaURL,
		OllamaModel:     *ollamaModel,
		GeminiKey:       *geminiKey,
		GeminiModel:     *geminiModel,
		Timeout:         *timeout,
		Attempts:        *attempts,
		Backoff:         *backoff,
		Concurrency:     *concurrency,
		MaxBytes:        *maxBytes,
		MaxDimension:    *maxDimension,
		DefaultCurrency: strings.ToUpper(strings.TrimSpace(*defaultCurrency)),
		DateFormats:     splitFormats(*dateFormats),
		Sink:            strings.ToLower(strings.TrimSpace(*sink)),
		SpreadsheetID:   *spreadsheetID,
		Credentials:     *credentials,
		SheetName:       *sheetName,
		MonthlySheets:   *monthlySheets,
		XLSXPath:        *xlsxPath,
		Separator:       *separator,
		WebhookURL:      *webhookURL,
		AuthUser:        *authUser,
		AuthPass:        *authPass,
		File:            *file,
		LogFormat:       strings.ToLower(*logFormat),
		ShowVersion:     *showVersion,
	}
	if cfg.GeminiKey == "" {
		cfg.GeminiKey = os.Getenv("GEMINI_API_KEY")
	}

	if cfg.ShowVersion {
		return cfg, nil
	}

	var err error
	if cfg.Tolerance, err = decimal.NewFromString(strings.TrimSpace(*tolerance)); err != nil {
		return Config{}, fmt.Errorf("invalid tolerance %q: %w", *tolerance, err)
	}
	if cfg.Layout, err = sheet.ParseLayout(*layout); err != nil {
		return Config{}, err
	}
	if cfg.Locale, err = language.Parse(*locale); err != nil {
		return Config{}, fmt.Errorf("invalid locale %q: %w", *locale, err)
	}
	if err := cfg.LogLevel.UnmarshalText([]byte(*logLevel)); err != nil {
		return Config{}, fmt.Errorf("invalid log level %q: %w", *logLevel, err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks settings that depend on each other
func (c Config) Validate() error {
	var errs []error

	switch c.Extractor {
	case ExtractorOllama:
		if c.OllamaURL == "" {
			errs = append(errs, errors.New("ollama-url is required for the ollama extractor"))
		}
	case ExtractorGemini:
		if c.GeminiKey == "" {
			errs = append(errs, errors.New("gemini key is required: set --gemini-key or GEMINI_API_KEY"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown extractor %q (want ollama or gemini)", c.Extractor))
	}

	switch c.Sink {
	case SinkSheets:
		if c.SpreadsheetID == "" {
			errs = append(errs, errors.New("spreadsheet-id is required for the sheets sink"))
		}
		if c.Credentials == "" {
			errs = append(errs, errors.New("credentials is required for the sheets sink"))
		}
	case SinkXLSX:
		if c.XLSXPath == "" {
			errs = append(errs, errors.New("xlsx-path is required for the xlsx sink"))
		}
	case SinkNone:
	default:
		errs = append(errs, fmt.Errorf("unknown sink %q (want sheets, xlsx or none)", c.Sink))
	}

	if c.Tolerance.IsNegative() {
		errs = append(errs, errors.New("tolerance must not be negative"))
	}
	if len(c.DateFormats) == 0 {
		errs = append(errs, errors.New("at least one date format is required"))
	}
	if c.Timeout <= 0 {
		errs = append(errs, errors.New("timeout must be positive"))
	}
	if c.Attempts < 1 {
		errs = append(errs, errors.New("attempts must be at least 1"))
	}
	if c.Concurrency < 1 {
		errs = append(errs, errors.New("concurrency must be at least 1"))
	}
	if c.MaxBytes < 1 || c.MaxDimension < 1 {
		errs = append(errs, errors.New("max-bytes and max-dimension must be positive"))
	}
	if c.DefaultCurrency == "" {
		errs = append(errs, errors.New("default-currency is required"))
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		errs = append(errs, fmt.Errorf("unknown log format %q (want text or json)", c.LogFormat))
	}

	return errors.Join(errs...)
}

// PreprocessOptions returns the image preprocessor settings
func (c Config) PreprocessOptions() scanning.PreprocessOptions {
	return scanning.PreprocessOptions{MaxBytes: c.MaxBytes, MaxDimension: c.MaxDimension}
}

// ParserOptions returns the normalizer settings
func (c Config) ParserOptions() receipt.Options {
	return receipt.Options{
		DefaultCurrency: c.DefaultCurrency,
		Tolerance:       c.Tolerance,
		DateFormats:     c.DateFormats,
	}
}

// AdapterOptions returns the row adapter settings
func (c Config) AdapterOptions() []sheet.Option {
	return []sheet.Option{
		sheet.WithSheetName(c.SheetName),
		sheet.WithMonthlySheets(c.MonthlySheets),
	}
}

// BasicAuth returns the HTTP credentials
func (c Config) BasicAuth() pipeline.BasicAuth {
	return pipeline.BasicAuth{Username: c.AuthUser, Password: c.AuthPass}
}

// Addr returns the HTTP listen address
func (c Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

func splitFormats(s string) []string {
	var formats []string
	for _, f := range strings.Split(s, ";") {
		if f = strings.TrimSpace(f); f != "" {
			formats = append(formats, f)
		}
	}
	return formats
}
