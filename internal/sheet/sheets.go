package sheet

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/shopspring/decimal"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"
)

// GoogleSheets appends rows to a Google Sheets spreadsheet
type GoogleSheets struct {
	service       *sheets.Service
	spreadsheetID string

	mu    sync.Mutex
	known map[string]bool // worksheets confirmed to exist with a header
}

// NewGoogleSheets creates a Writer for spreadsheetID. credentialsFile is a
// service account key; when empty, authentication comes from extra options.
func NewGoogleSheets(ctx context.Context, spreadsheetID, credentialsFile string, extra ...option.ClientOption) (*GoogleSheets, error) {
	if spreadsheetID == "" {
		return nil, fmt.Errorf("spreadsheet id is required")
	}

	var opts []option.ClientOption
	if credentialsFile != "" {
		data, err := os.ReadFile(credentialsFile)
		if err != nil {
			return nil, fmt.Errorf("reading credentials: %w", err)
		}
		conf, err := google.JWTConfigFromJSON(data, sheets.SpreadsheetsScope)
		if err != nil {
			return nil, fmt.Errorf("parsing credentials: %w", err)
		}
		opts = append(opts, option.WithHTTPClient(conf.Client(ctx)))
	}
	opts = append(opts, extra...)

	svc, err := sheets.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating sheets service: %w", err)
	}

	return &GoogleSheets{
		service:       svc,
		spreadsheetID: spreadsheetID,
		known:         make(map[string]bool),
	}, nil
}

// AppendRows appends rows after the last row of the worksheet, creating the
// worksheet and its header first if needed
func (g *GoogleSheets) AppendRows(ctx context.Context, sheet string, rows []Row) error {
	if len(rows) == 0 {
		return nil
	}
	if err := g.ensureSheet(ctx, sheet); err != nil {
		return err
	}

	values := make([][]interface{}, 0, len(rows))
	for _, row := range rows {
		values = append(values, cells(escapeFormulas(row)))
	}

	_, err := g.service.Spreadsheets.Values.Append(g.spreadsheetID, a1(sheet, "A1"), &sheets.ValueRange{Values: values}).
		ValueInputOption("USER_ENTERED").
		InsertDataOption("INSERT_ROWS").
		Context(ctx).
		Do()
	if err != nil {
		return fmt.Errorf("appending rows to %s: %w", sheet, err)
	}
	return nil
}

func (g *GoogleSheets) ensureSheet(ctx context.Context, sheet string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.known[sheet] {
		return nil
	}

	spreadsheet, err := g.service.Spreadsheets.Get(g.spreadsheetID).
		Fields("sheets.properties.title").
		Context(ctx).
		Do()
	if err != nil {
		return fmt.Errorf("getting spreadsheet: %w", err)
	}
	for _, s := range spreadsheet.Sheets {
		if s.Properties != nil {
			g.known[s.Properties.Title] = true
		}
	}
	if g.known[sheet] {
		return nil
	}

	slog.Info("Creating worksheet", "sheet", sheet)
	req := &sheets.BatchUpdateSpreadsheetRequest{
		Requests: []*sheets.Request{{
			AddSheet: &sheets.AddSheetRequest{
				Properties: &sheets.SheetProperties{Title: sheet},
			},
		}},
	}
	if _, err := g.service.Spreadsheets.BatchUpdate(g.spreadsheetID, req).Context(ctx).Do(); err != nil {
		return fmt.Errorf("creating worksheet %s: %w", sheet, err)
	}

	header := &sheets.ValueRange{Values: [][]interface{}{cells(Columns)}}
	if _, err := g.service.Spreadsheets.Values.Update(g.spreadsheetID, a1(sheet, "A1"), header).
		ValueInputOption("RAW").
		Context(ctx).
		Do(); err != nil {
		return fmt.Errorf("writing header to %s: %w", sheet, err)
	}

	g.known[sheet] = true
	return nil
}

// formulaTriggers are the leading characters Sheets parses as a formula
const formulaTriggers = "=+-@"

// a1 quotes a worksheet title for A1 notation
func a1(sheet, cell string) string {
	return "'" + strings.ReplaceAll(sheet, "'", "''") + "'!" + cell
}

func cells(row []string) []interface{} {
	out := make([]interface{}, len(row))
	for i, v := range row {
		out[i] = v
	}
	return out
}

// escapeFormulas quotes text cells that USER_ENTERED would evaluate as a
// formula. Numbers keep their sign so totals stay numeric.
func escapeFormulas(row []string) []string {
	out := make([]string, len(row))
	for i, v := range row {
		out[i] = v
		if v == "" || !strings.ContainsRune(formulaTriggers, rune(v[0])) {
			continue
		}
		if _, err := decimal.NewFromString(v); err == nil {
			continue
		}
		out[i] = "'" + v
	}
	return out
}
