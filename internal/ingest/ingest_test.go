package ingest

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ginjaninja78/payment-import/internal/config"
	perr "github.com/ginjaninja78/payment-import/internal/errors"
	"github.com/ginjaninja78/payment-import/internal/testkit"
	"github.com/ginjaninja78/payment-import/internal/types"
	"github.com/ginjaninja78/payment-import/internal/validation"
)

var header = []any{"Cedula", "Fecha", "Monto", "Documento", "Prestamo", "Conciliado"}

func pipeline(svc *testkit.FakeService) *Pipeline {
	cfg := config.Default().Import
	rules := validation.RulesFromConfig(cfg)
	rules.Now = func() time.Time { return time.Date(2024, time.June, 15, 0, 0, 0, 0, time.UTC) }

	var p *Pipeline
	if svc == nil {
		p = New(cfg, nil)
	} else {
		p = New(cfg, svc)
	}
	return p.WithValidator(validation.NewValidator(rules))
}

func open(t *testing.T, p *Pipeline, rows ...[]any) *Result {
	t.Helper()
	res, err := p.Open(context.Background(), Source{Name: "march.xlsx", Data: testkit.Workbook(t, rows...)})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(res.Session.Close)
	return res
}

func TestOpenNormalizesAndResolves(t *testing.T) {
	svc := testkit.NewFakeService()
	svc.AddLoans("V-12345678", testkit.ActiveLoan(77, "V-12345678"))

	res := open(t, pipeline(svc),
		header,
		[]any{"v-12.345.678", 45352, "1.234,50", "DOC-1", "", "SI"},
		[]any{"V12345678", "02/03/2024", "200", "DOC-2", "", "No"},
	)

	if res.Stats.RowsRead != 2 || res.Stats.ValidRows != 2 || res.Stats.Identities != 1 {
		t.Fatalf("stats = %+v", res.Stats)
	}
	rows := res.Session.Rows()
	first := rows[0]
	if first.Identity != "V12345678" || first.PaymentDate != "01/03/2024" || first.Amount != "1234.5" {
		t.Fatalf("first = %+v", first)
	}
	if first.LoanID == nil || *first.LoanID != 77 || first.LoanSource != types.LoanSourceAuto {
		t.Fatalf("first row loan = %v (%s)", first.LoanID, first.LoanSource)
	}
	if !first.Reconciled || rows[1].Reconciled {
		t.Fatal("reconciled flags not read")
	}
	if got := svc.CallLog(); len(got) != 1 || got[0] != "lookup:V-12345678" {
		t.Fatalf("calls = %v", got)
	}
}

func TestOpenKeepsFileLoanID(t *testing.T) {
	svc := testkit.NewFakeService()
	svc.AddLoans("V-12345678", testkit.ActiveLoan(77, "V-12345678"))

	res := open(t, pipeline(svc),
		header,
		[]any{"V12345678", "01/03/2024", "10", "DOC-1", 55, "SI"},
		[]any{"V12345678", "01/03/2024", "10", "DOC-2", "abc", "SI"},
	)
	rows := res.Session.Rows()
	if rows[0].LoanID == nil || *rows[0].LoanID != 55 || rows[0].LoanSource != types.LoanSourceFile {
		t.Fatalf("file loan id must win: %+v", rows[0])
	}
	if rows[1].LoanID != nil || rows[1].LoanIDRaw != "abc" {
		t.Fatalf("invalid loan text must be kept: %+v", rows[1])
	}
	if rows[1].HasErrors {
		t.Fatal("loan id never blocks a row")
	}
}

func TestOpenWithoutLookup(t *testing.T) {
	res := open(t, pipeline(nil),
		header,
		[]any{"V12345678", "01/03/2024", "10", "DOC-1"},
	)
	if r := res.Session.Rows()[0]; r.CandidateCount != 0 || r.LoanID != nil {
		t.Fatalf("row = %+v", r)
	}
}

func TestOpenLookupFailureWarns(t *testing.T) {
	svc := testkit.NewFakeService()
	svc.LookupErr["V-12345678"] = testkit.ErrBoom

	res := open(t, pipeline(svc),
		header,
		[]any{"V12345678", "01/03/2024", "10", "DOC-1"},
	)
	if res.Stats.Warnings != 1 {
		t.Fatalf("stats = %+v", res.Stats)
	}
	testkit.MustContain(t, res.Session.Rows()[0].Warning, "loan lookup failed")
}

func TestOpenRejectsFile(t *testing.T) {
	p := pipeline(nil)
	cases := map[string]Source{
		"empty":     {Name: "a.xlsx"},
		"extension": {Name: "a.csv", Data: []byte("x")},
		"garbage":   {Name: "a.xlsx", Data: []byte("not a workbook")},
		"no rows":   {Name: "a.xlsx", Data: testkit.Workbook(t, header)},
	}
	for name, src := range cases {
		t.Run(name, func(t *testing.T) {
			res, err := p.Open(context.Background(), src)
			if !perr.IsCode(err, perr.ErrorCodeFileRejected) || res != nil {
				t.Fatalf("res = %v, err = %v", res, err)
			}
		})
	}
}

func TestOpenFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "march.xlsx")
	data := testkit.Workbook(t, header, []any{"V12345678", "01/03/2024", "10", "DOC-1"})
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	res, err := pipeline(nil).OpenFile(context.Background(), path)
	if err != nil {
		t.Fatal(err)
	}
	defer res.Session.Close()
	if res.Session.SourceFile() != "march.xlsx" {
		t.Fatalf("source = %s", res.Session.SourceFile())
	}
}

func TestBuildRowsLayouts(t *testing.T) {
	raw := []types.RawRow{
		{RowIndex: 1, Cells: []string{"V1234567", "01/03/2024", "5", "D1", "NO"}, LoanIDCol: -1, FlagCol: 4},
		{RowIndex: 3, Cells: []string{"V1234567", "01/03/2024", "5", "D2"}, LoanIDCol: -1, FlagCol: -1},
	}
	rows := BuildRows(raw)
	if rows[0].Reconciled || rows[0].LoanID != nil {
		t.Fatalf("row 1 = %+v", rows[0])
	}
	if rows[1].RowIndex != 3 || !rows[1].Reconciled || rows[1].Status != types.StatusUnsaved {
		t.Fatalf("row 3 = %+v", rows[1])
	}
}
