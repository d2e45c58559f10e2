package xlsxparser

import (
	"fmt"
	"strings"
	"testing"

	"github.com/ginjaninja78/payment-import/internal/config"
	perr "github.com/ginjaninja78/payment-import/internal/errors"
	"github.com/ginjaninja78/payment-import/internal/testkit"
)

func defaultOptions() Options {
	return OptionsFromConfig(config.Default().Import)
}

var header6 = []any{"Cedula", "Fecha", "Monto", "Documento", "Prestamo", "Conciliado"}

func TestReadSixColumns(t *testing.T) {
	data := testkit.Workbook(t,
		header6,
		[]any{"V-12345678", 45352, "150,00", "DOC-1", 42, "SI"},
		[]any{"V-87654321", "01/03/2024", "200", "DOC-2", "", "NO"},
	)
	sheet, err := Read(data, "payments.xlsx", defaultOptions())
	if err != nil {
		t.Fatal(err)
	}
	if sheet.Columns != 6 || sheet.Layout.LoanIDCol != ColLoanID || sheet.Layout.FlagCol != ColReconciled {
		t.Fatalf("layout = %+v, columns = %d", sheet.Layout, sheet.Columns)
	}
	if len(sheet.Rows) != 2 {
		t.Fatalf("rows = %d", len(sheet.Rows))
	}
	first := sheet.Rows[0]
	if first.RowIndex != 1 || first.Cell(ColIdentity) != "V-12345678" || first.Cell(ColPaymentDate) != "45352" {
		t.Fatalf("first row = %+v", first)
	}
	if first.Cell(ColLoanID) != "42" || first.Cell(ColReconciled) != "SI" {
		t.Fatalf("optional cells = %q %q", first.Cell(ColLoanID), first.Cell(ColReconciled))
	}
}

func TestReadSkipsEmptyRowsButKeepsIndex(t *testing.T) {
	data := testkit.Workbook(t,
		header6,
		[]any{"V12345678", "01/03/2024", "1", "A"},
		[]any{"", "", "", ""},
		[]any{"V12345679", "01/03/2024", "2", "B"},
	)
	sheet, err := Read(data, "p.xlsx", defaultOptions())
	if err != nil {
		t.Fatal(err)
	}
	if len(sheet.Rows) != 2 || sheet.Rows[1].RowIndex != 3 {
		t.Fatalf("rows = %+v", sheet.Rows)
	}
}

func TestLegacyFifthColumnSniff(t *testing.T) {
	header5 := []any{"Cedula", "Fecha", "Monto", "Documento", "Col5"}
	cases := []struct {
		name        string
		values      []any
		sniff       bool
		wantLoan    int
		wantFlag    int
		wantSniffed bool
	}{
		{"flags", []any{"SI", "no", "Sí"}, true, -1, ColLoanID, true},
		{"binary flags", []any{"1", "0", ""}, true, -1, ColLoanID, true},
		{"loan ids", []any{"1", "0", "1234"}, true, ColLoanID, -1, true},
		{"sniff disabled", []any{"SI", "NO", "SI"}, false, ColLoanID, -1, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rows := [][]any{header5}
			for i, v := range tc.values {
				rows = append(rows, []any{"V12345678", "01/03/2024", "1", fmt.Sprintf("D%d", i), v})
			}
			opts := defaultOptions()
			opts.LegacyColumnSniff = tc.sniff
			sheet, err := Read(testkit.Workbook(t, rows...), "legacy.xlsx", opts)
			if err != nil {
				t.Fatal(err)
			}
			l := sheet.Layout
			if l.LoanIDCol != tc.wantLoan || l.FlagCol != tc.wantFlag || l.Sniffed != tc.wantSniffed {
				t.Fatalf("layout = %+v", l)
			}
		})
	}
}

func TestReadRejects(t *testing.T) {
	opts := defaultOptions()
	opts.MaxRows = 2
	opts.MaxColumns = 6

	cases := map[string][]byte{
		"header only": testkit.Workbook(t, header6),
		"too many rows": testkit.Workbook(t, header6,
			[]any{"V1", "x", "1", "a"}, []any{"V2", "x", "1", "b"}, []any{"V3", "x", "1", "c"}),
		"too many columns": testkit.Workbook(t, []any{"a", "b", "c", "d", "e", "f", "g"}, []any{"V1", "x", "1", "a"}),
		"not a workbook":   []byte("identity,date,amount,doc\n"),
	}
	for name, data := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Read(data, "bad.xlsx", opts)
			if !perr.IsCode(err, perr.ErrorCodeFileRejected) {
				t.Fatalf("err = %v, want FileRejected", err)
			}
		})
	}
}

func TestCheckFile(t *testing.T) {
	opts := defaultOptions()
	opts.MaxFileBytes = 1024

	ok := []struct {
		name, ctype string
	}{
		{"a.xlsx", ""},
		{"a.XLS", ""},
		{"a.xlsx", "application/octet-stream"},
		{"a.xlsx", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"},
	}
	for _, c := range ok {
		if err := CheckFile(c.name, 10, c.ctype, opts); err != nil {
			t.Errorf("CheckFile(%q, %q) = %v", c.name, c.ctype, err)
		}
	}

	bad := []struct {
		name  string
		size  int64
		ctype string
		want  string
	}{
		{"a.xlsx", 0, "", "empty"},
		{"a.xlsx", 2048, "", "limit"},
		{"a.csv", 10, "", "extension"},
		{"a.xlsx", 10, "text/csv", "content type"},
	}
	for _, c := range bad {
		err := CheckFile(c.name, c.size, c.ctype, opts)
		if !perr.IsCode(err, perr.ErrorCodeFileRejected) || !strings.Contains(err.Error(), c.want) {
			t.Errorf("CheckFile(%q, %d, %q) = %v", c.name, c.size, c.ctype, err)
		}
	}
}
