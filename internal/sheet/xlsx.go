package sheet

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/xuri/excelize/v2"
)

// Workbook appends rows to a local .xlsx file
type Workbook struct {
	path string
	mu   sync.Mutex
}

// NewWorkbook creates a Writer for the workbook at path. The file is created
// on first append.
func NewWorkbook(path string) *Workbook {
	return &Workbook{path: path}
}

// Path returns the workbook location
func (w *Workbook) Path() string {
	return w.path
}

// AppendRows appends rows after the last used row of the worksheet
func (w *Workbook) AppendRows(ctx context.Context, sheet string, rows []Row) error {
	if len(rows) == 0 {
		return nil
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	f, created, err := w.open(sheet)
	if err != nil {
		return err
	}
	defer f.Close()

	idx, err := f.GetSheetIndex(sheet)
	if err != nil {
		return fmt.Errorf("looking up worksheet %s: %w", sheet, err)
	}
	if idx < 0 || created {
		if idx < 0 {
			if _, err := f.NewSheet(sheet); err != nil {
				return fmt.Errorf("creating worksheet %s: %w", sheet, err)
			}
		}
		if err := setRow(f, sheet, 1, Columns); err != nil {
			return err
		}
	}

	existing, err := f.GetRows(sheet)
	if err != nil {
		return fmt.Errorf("reading worksheet %s: %w", sheet, err)
	}
	next := len(existing) + 1
	for i, row := range rows {
		if err := setRow(f, sheet, next+i, row); err != nil {
			return err
		}
	}

	if err := os.MkdirAll(filepath.Dir(w.path), 0o755); err != nil {
		return fmt.Errorf("creating workbook directory: %w", err)
	}
	if err := f.SaveAs(w.path); err != nil {
		return fmt.Errorf("saving workbook: %w", err)
	}
	return nil
}

// open loads the workbook, or starts a new one whose first worksheet is named sheet
func (w *Workbook) open(sheet string) (*excelize.File, bool, error) {
	f, err := excelize.OpenFile(w.path)
	if err == nil {
		return f, false, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, false, fmt.Errorf("opening workbook: %w", err)
	}

	f = excelize.NewFile()
	if err := f.SetSheetName(f.GetSheetName(0), sheet); err != nil {
		f.Close()
		return nil, false, fmt.Errorf("naming worksheet %s: %w", sheet, err)
	}
	return f, true, nil
}

func setRow(f *excelize.File, sheet string, rowNum int, values []string) error {
	cell, err := excelize.CoordinatesToCellName(1, rowNum)
	if err != nil {
		return err
	}
	row := cells(values)
	if err := f.SetSheetRow(sheet, cell, &row); err != nil {
		return fmt.Errorf("writing row %d of %s: %w", rowNum, sheet, err)
	}
	return nil
}
