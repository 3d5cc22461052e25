package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/zombor/receipt-ledger/internal/journal"
	"github.com/zombor/receipt-ledger/internal/receipt"
	"github.com/zombor/receipt-ledger/internal/scanning"
	"github.com/zombor/receipt-ledger/internal/sheet"
)

// DefaultConcurrency is how many receipts are extracted at once
const DefaultConcurrency = 2

// ErrNoJournal is returned by lookups when the journal is disabled
var ErrNoJournal = errors.New("journal is disabled")

// Preprocessor prepares uploaded bytes for the model
type Preprocessor interface {
	Normalize(img scanning.RawImage) (scanning.RawImage, error)
}

// Parser turns model output into a record
type Parser interface {
	Parse(text string) (*receipt.Record, error)
}

// RowAdapter maps records to spreadsheet rows
type RowAdapter interface {
	ToRows(rec *receipt.Record) []sheet.Row
	SheetTitle(rec *receipt.Record) string
}

// Formatter renders an outcome for people
type Formatter interface {
	Format(rec *receipt.Record, err error) string
}

// Notifier delivers a message to a chat channel
type Notifier interface {
	Notify(ctx context.Context, message string) error
}

// IDGenerator generates unique IDs for submissions
type IDGenerator interface {
	Generate() string
}

// TimeSource provides the current time
type TimeSource interface {
	Now() time.Time
}

// defaultIDGenerator generates random UUIDs
type defaultIDGenerator struct{}

func (g *defaultIDGenerator) Generate() string {
	return uuid.NewString()
}

// defaultTimeSource provides the current time
type defaultTimeSource struct{}

func (t *defaultTimeSource) Now() time.Time {
	return time.Now()
}

// Deps are the collaborators of a Service. Writer, Journal and Notifier are optional.
type Deps struct {
	Preprocessor Preprocessor
	Extractor    scanning.Extractor
	Parser       Parser
	Adapter      RowAdapter
	Writer       sheet.Writer
	Formatter    Formatter
	Journal      journal.Store
	Notifier     Notifier

	// Model overrides the extractor's default model when set
	Model       string
	Concurrency int
}

// Submission is one uploaded receipt
type Submission struct {
	Filename    string
	Data        []byte
	ContentType string
}

// Outcome is the result of processing a Submission. Record is set whenever
// the model output was read; Err is set for every rejection, including a
// valid Record the sink refused.
type Outcome struct {
	ID          string          `json:"id"`
	ReceivedAt  time.Time       `json:"received_at"`
	Status      journal.Status  `json:"status"`
	Record      *receipt.Record `json:"record,omitempty"`
	Sheet       string          `json:"sheet,omitempty"`
	Rows        int             `json:"rows,omitempty"`
	Message     string          `json:"message"`
	Error       string          `json:"error,omitempty"`
	RawResponse string          `json:"raw_response,omitempty"`

	Err error `json:"-"`
}

// Accepted reports whether the receipt reached the sink
func (o *Outcome) Accepted() bool {
	return o.Status == journal.Accepted
}

// Service runs submissions through preprocess, extract, parse and sink
type Service struct {
	deps        Deps
	slots       *semaphore.Weighted
	idGenerator IDGenerator
	timeSource  TimeSource
}

// NewService creates a new Service with default ID generator and time source
func NewService(deps Deps) *Service {
	return NewServiceWithDeps(deps, &defaultIDGenerator{}, &defaultTimeSource{})
}

// NewServiceWithDeps creates a new Service with custom dependencies for testing
func NewServiceWithDeps(deps Deps, idGen IDGenerator, timeSrc TimeSource) *Service {
	if deps.Concurrency < 1 {
		deps.Concurrency = DefaultConcurrency
	}
	return &Service{
		deps:        deps,
		slots:       semaphore.NewWeighted(int64(deps.Concurrency)),
		idGenerator: idGen,
		timeSource:  timeSrc,
	}
}

// sanitizeFilename cleans up a filename by removing special characters and truncating length
func sanitizeFilename(filename string) string {
	ext := filepath.Ext(filename)
	base := strings.TrimSuffix(filepath.Base(filename), ext)

	reg := regexp.MustCompile(`[^\p{L}\p{N}\s\-_]`)
	base = reg.ReplaceAllString(base, "")

	reg = regexp.MustCompile(`\s+`)
	base = strings.TrimSpace(reg.ReplaceAllString(base, " "))

	// 50 characters is plenty for phone-generated names
	if runes := []rune(base); len(runes) > 50 {
		base = string(runes[:50])
	}
	if base == "" {
		base = "receipt"
	}

	return base + strings.ToLower(ext)
}

// Process runs one submission to completion. Receipt-level failures are
// reported in the Outcome; the error is only set when the context ends
// before a worker slot frees up.
func (s *Service) Process(ctx context.Context, sub Submission) (*Outcome, error) {
	if err := s.slots.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("waiting for a worker: %w", err)
	}
	defer s.slots.Release(1)

	out := &Outcome{
		ID:         s.idGenerator.Generate(),
		ReceivedAt: s.timeSource.Now(),
	}
	filename := sanitizeFilename(sub.Filename)
	logger := slog.With("id", out.ID, "filename", filename)

	rec, raw, err := s.extract(ctx, sub, logger)
	out.RawResponse = raw
	if err == nil {
		out.Record = rec
		out.Sheet = s.deps.Adapter.SheetTitle(rec)
		err = s.write(ctx, out)
	}

	if err != nil {
		out.Status = journal.Rejected
		out.Err = err
		out.Error = err.Error()
		logger.Warn("Receipt rejected", "error", err)
	} else {
		out.Status = journal.Accepted
		// raw text is only kept for follow-up on rejections
		out.RawResponse = ""
		logger.Info("Receipt recorded", "sheet", out.Sheet, "rows", out.Rows, "total", rec.TotalAmount.String(), "currency", rec.Currency)
	}
	receiptsProcessed.WithLabelValues(string(out.Status)).Inc()

	out.Message = s.deps.Formatter.Format(out.Record, out.Err)
	s.record(out, filename, logger)
	s.notify(ctx, out.Message, logger)

	return out, nil
}

// extract returns the parsed record and the raw model text
func (s *Service) extract(ctx context.Context, sub Submission, logger *slog.Logger) (*receipt.Record, string, error) {
	img, err := s.deps.Preprocessor.Normalize(scanning.RawImage{Data: sub.Data, MIMEType: sub.ContentType})
	if err != nil {
		return nil, "", fmt.Errorf("preparing image: %w", err)
	}

	start := time.Now()
	resp, err := s.deps.Extractor.Extract(ctx, scanning.NewExtractionRequest(img, s.deps.Model))
	extractionDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		logger.Error("Failed to extract receipt",
			"content_type", sub.ContentType,
			"file_size", len(sub.Data),
			"error", err,
		)
		return nil, "", fmt.Errorf("extracting receipt: %w", err)
	}

	rec, err := s.deps.Parser.Parse(resp.Text)
	if err != nil {
		return nil, resp.Text, err
	}
	parseStrategy.WithLabelValues(rec.Strategy).Inc()
	return rec, resp.Text, nil
}

// write hands the record's rows to the sink, when one is configured
func (s *Service) write(ctx context.Context, out *Outcome) error {
	rows := s.deps.Adapter.ToRows(out.Record)
	if s.deps.Writer == nil {
		return nil
	}
	if err := s.deps.Writer.AppendRows(ctx, out.Sheet, rows); err != nil {
		return fmt.Errorf("writing rows: %w", err)
	}
	out.Rows = len(rows)
	return nil
}

func (s *Service) record(out *Outcome, filename string, logger *slog.Logger) {
	if s.deps.Journal == nil {
		return
	}
	entry := &journal.Entry{
		ID:          out.ID,
		ReceivedAt:  out.ReceivedAt,
		Filename:    filename,
		Status:      out.Status,
		Record:      out.Record,
		Sheet:       out.Sheet,
		Rows:        out.Rows,
		Error:       out.Error,
		Message:     out.Message,
		RawResponse: out.RawResponse,
	}
	if err := s.deps.Journal.Save(entry); err != nil {
		logger.Error("Failed to save journal entry", "error", err)
	}
}

func (s *Service) notify(ctx context.Context, message string, logger *slog.Logger) {
	if s.deps.Notifier == nil {
		return
	}
	// the reply is still useful when the caller has gone away
	if err := s.deps.Notifier.Notify(context.WithoutCancel(ctx), message); err != nil {
		logger.Warn("Failed to send notification", "error", err)
	}
}

// Entry retrieves a journaled outcome by ID
func (s *Service) Entry(id string) (*journal.Entry, error) {
	if s.deps.Journal == nil {
		return nil, ErrNoJournal
	}
	entry, err := s.deps.Journal.Get(id)
	if err != nil {
		return nil, fmt.Errorf("getting journal entry: %w", err)
	}
	return entry, nil
}

// Rejections lists rejected submissions, oldest first
func (s *Service) Rejections() ([]*journal.Entry, error) {
	if s.deps.Journal == nil {
		return nil, ErrNoJournal
	}
	entries, err := s.deps.Journal.List(journal.Rejected)
	if err != nil {
		return nil, fmt.Errorf("listing rejections: %w", err)
	}
	return entries, nil
}
