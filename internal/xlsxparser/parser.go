// =============================================================================
// Payment Import - Spreadsheet Reader
// =============================================================================
//
// This module is responsible for accepting or rejecting an uploaded payment
// workbook and turning its first sheet into positional raw rows.
//
// FILE STRUCTURE (Expected Columns):
//   The first row is a header and is skipped. Columns are positional; header
//   text is never interpreted.
//
//   | Column A | Column B     | Column C | Column D        | Column E          | Column F          |
//   |----------|--------------|----------|-----------------|-------------------|-------------------|
//   | Identity | Payment Date | Amount   | Document Number | Loan Id (opt.)    | Reconciled (opt.) |
//   | V1234567 | 01/03/2024   | 150,00   | DOC-1           | 42                | SI                |
//
//   Five-column files from older templates are resolved by legacy.go.
//
// FORMATS:
//   - .xlsx  read with excelize, raw cell values (date serials survive)
//   - .xls   read with shakinm/xlsReader
//
// =============================================================================

package xlsxparser

import (
	"bytes"
	"fmt"
	"mime"
	"path/filepath"
	"slices"
	"strings"

	"github.com/ginjaninja78/payment-import/internal/config"
	perr "github.com/ginjaninja78/payment-import/internal/errors"
	"github.com/ginjaninja78/payment-import/internal/types"
	"github.com/shakinm/xlsReader/xls"
	"github.com/xuri/excelize/v2"
)

// =============================================================================
// COLUMN LAYOUT
// =============================================================================

// Positions of the required columns (0-based, A=0).
const (
	ColIdentity = iota
	ColPaymentDate
	ColAmount
	ColDocumentNumber
	ColLoanID
	ColReconciled
)

// RequiredColumns is the number of leading mandatory columns.
const RequiredColumns = 4

// Layout records where the optional columns were found. -1 means absent.
type Layout struct {
	LoanIDCol int `json:"loanIdColumn"`
	FlagCol   int `json:"reconciledColumn"`

	// Sniffed is true when the legacy five-column heuristic decided the layout.
	Sniffed bool `json:"sniffed"`
}

// Sheet is the result of reading a workbook.
type Sheet struct {
	// Name is the worksheet that was read.
	Name string

	// Columns is the widest row in the sheet, header included.
	Columns int

	Layout Layout

	// Rows are the non-empty data rows. Empty rows are skipped but still
	// consume a RowIndex.
	Rows []types.RawRow
}

// =============================================================================
// OPTIONS
// =============================================================================

// Options are the acceptance limits applied while reading.
type Options struct {
	MaxFileBytes      int64
	MaxRows           int
	MaxColumns        int
	AllowedExtensions []string
	AllowedMediaTypes []string
	LegacyColumnSniff bool
}

// OptionsFromConfig builds Options from the import configuration section.
func OptionsFromConfig(c config.ImportConfig) Options {
	return Options{
		MaxFileBytes:      c.MaxFileBytes,
		MaxRows:           c.MaxRows,
		MaxColumns:        c.MaxColumns,
		AllowedExtensions: c.AllowedExtensions,
		AllowedMediaTypes: c.AllowedMediaTypes,
		LegacyColumnSniff: c.LegacyColumnSniff,
	}
}

// =============================================================================
// FILE ACCEPTANCE
// =============================================================================

// CheckFile rejects a file before any of its content is parsed.
//
// PARAMETERS:
//   - name: The original file name; only its extension is inspected.
//   - size: The file size in bytes.
//   - contentType: The declared media type; "" and application/octet-stream
//     are not checked.
//   - opts: The acceptance limits.
//
// RETURNS:
//   - A FileRejected error describing the first failed check, or nil.
func CheckFile(name string, size int64, contentType string, opts Options) error {
	if size <= 0 {
		return perr.FileRejectedf("file %q is empty", name)
	}
	if opts.MaxFileBytes > 0 && size > opts.MaxFileBytes {
		return perr.FileRejectedf("file %q is %d bytes; the limit is %d", name, size, opts.MaxFileBytes)
	}

	ext := strings.ToLower(filepath.Ext(name))
	if !containsFold(opts.AllowedExtensions, ext) {
		return perr.FileRejectedf("file %q has extension %q; accepted: %s",
			name, ext, strings.Join(opts.AllowedExtensions, ", "))
	}

	if contentType != "" && len(opts.AllowedMediaTypes) > 0 {
		mediaType, _, err := mime.ParseMediaType(contentType)
		if err != nil {
			return perr.FileRejectedf("file %q declares an invalid content type %q", name, contentType)
		}
		if mediaType != "application/octet-stream" && !containsFold(opts.AllowedMediaTypes, mediaType) {
			return perr.FileRejectedf("file %q declares content type %q which is not a spreadsheet", name, mediaType)
		}
	}
	return nil
}

// =============================================================================
// READER FUNCTIONS
// =============================================================================

// Read parses the first worksheet of an xlsx or xls workbook.
//
// PARAMETERS:
//   - data: The complete file content.
//   - name: The original file name; its extension selects the reader.
//   - opts: The row and column limits.
//
// RETURNS:
//   - The Sheet with the data rows and the resolved column layout.
//   - A FileRejected error if the workbook is unreadable, empty, or too large.
func Read(data []byte, name string, opts Options) (*Sheet, error) {
	var (
		sheetName string
		grid      [][]string
		err       error
	)
	switch strings.ToLower(filepath.Ext(name)) {
	case ".xls":
		sheetName, grid, err = readXLS(data)
		if err != nil {
			// .xls uploads are sometimes renamed xlsx files.
			if n, g, errX := readXLSX(data); errX == nil {
				sheetName, grid, err = n, g, nil
			}
		}
	default:
		sheetName, grid, err = readXLSX(data)
	}
	if err != nil {
		return nil, perr.Wrapf(err, perr.ErrorCodeFileRejected, "failed to read workbook %q", name)
	}

	grid = trimTrailingEmpty(grid)
	if len(grid) < 2 {
		return nil, perr.FileRejectedf("workbook %q has no data rows", name)
	}

	dataRows := len(grid) - 1
	if opts.MaxRows > 0 && dataRows > opts.MaxRows {
		return nil, perr.FileRejectedf("workbook %q has %d data rows; the limit is %d", name, dataRows, opts.MaxRows)
	}

	width := 0
	for _, row := range grid {
		width = max(width, len(row))
	}
	if opts.MaxColumns > 0 && width > opts.MaxColumns {
		return nil, perr.FileRejectedf("workbook %q has %d columns; the limit is %d", name, width, opts.MaxColumns)
	}

	sheet := &Sheet{
		Name:    sheetName,
		Columns: width,
		Layout:  resolveLayout(grid[1:], width, opts.LegacyColumnSniff),
	}

	// Data rows are numbered from 1; the header is row 0.
	for i, cells := range grid[1:] {
		if isRowEmpty(cells) {
			continue
		}
		trimmed := make([]string, len(cells))
		for j, c := range cells {
			trimmed[j] = strings.TrimSpace(c)
		}
		sheet.Rows = append(sheet.Rows, types.RawRow{
			RowIndex:  i + 1,
			Cells:     trimmed,
			LoanIDCol: sheet.Layout.LoanIDCol,
			FlagCol:   sheet.Layout.FlagCol,
		})
	}
	if len(sheet.Rows) == 0 {
		return nil, perr.FileRejectedf("workbook %q has no data rows", name)
	}
	return sheet, nil
}

// readXLSX returns the first sheet of an xlsx workbook with raw cell values.
func readXLSX(data []byte) (string, [][]string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return "", nil, fmt.Errorf("failed to open xlsx: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return "", nil, fmt.Errorf("workbook has no sheets")
	}
	rows, err := f.GetRows(sheets[0], excelize.Options{RawCellValue: true})
	if err != nil {
		return "", nil, fmt.Errorf("failed to read rows: %w", err)
	}
	return sheets[0], rows, nil
}

// readXLS returns the first sheet of a legacy BIFF workbook.
func readXLS(data []byte) (string, [][]string, error) {
	wb, err := xls.OpenReader(bytes.NewReader(data))
	if err != nil {
		return "", nil, fmt.Errorf("failed to open xls: %w", err)
	}
	if len(wb.GetSheets()) == 0 {
		return "", nil, fmt.Errorf("workbook has no sheets")
	}
	sheet, err := wb.GetSheet(0)
	if err != nil || sheet == nil {
		return "", nil, fmt.Errorf("failed to open first sheet: %w", err)
	}

	var grid [][]string
	for _, row := range sheet.GetRows() {
		var cells []string
		for _, cell := range row.GetCols() {
			cells = append(cells, cell.GetString())
		}
		grid = append(grid, cells)
	}
	return sheet.GetName(), grid, nil
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

// resolveLayout places the optional columns from the sheet width.
func resolveLayout(data [][]string, width int, sniff bool) Layout {
	switch {
	case width > ColReconciled:
		return Layout{LoanIDCol: ColLoanID, FlagCol: ColReconciled}
	case width == ColLoanID+1:
		if sniff {
			return sniffFifthColumn(data)
		}
		return Layout{LoanIDCol: ColLoanID, FlagCol: -1}
	default:
		return Layout{LoanIDCol: -1, FlagCol: -1}
	}
}

// isRowEmpty checks if a row contains only empty cells.
func isRowEmpty(row []string) bool {
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}

func trimTrailingEmpty(grid [][]string) [][]string {
	for len(grid) > 0 && isRowEmpty(grid[len(grid)-1]) {
		grid = grid[:len(grid)-1]
	}
	return grid
}

func containsFold(list []string, v string) bool {
	return slices.ContainsFunc(list, func(s string) bool { return strings.EqualFold(s, v) })
}
