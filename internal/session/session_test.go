package session

import (
	"context"
	"errors"
	"testing"
	"time"

	perr "github.com/ginjaninja78/payment-import/internal/errors"
	"github.com/ginjaninja78/payment-import/internal/resolver"
	"github.com/ginjaninja78/payment-import/internal/types"
	"github.com/ginjaninja78/payment-import/internal/validation"
)

func testValidator() *validation.Validator {
	r := validation.DefaultRules()
	r.Now = func() time.Time { return time.Date(2024, time.June, 15, 0, 0, 0, 0, time.UTC) }
	return validation.NewValidator(r)
}

func row(idx int, identity, doc string) types.ImportRow {
	return types.ImportRow{
		RowIndex:       idx,
		Identity:       identity,
		PaymentDate:    "01/03/2024",
		Amount:         "150",
		DocumentNumber: doc,
		Reconciled:     true,
	}
}

func newSession(t *testing.T, rows ...types.ImportRow) *Session {
	t.Helper()
	s, err := New(context.Background(), "payments.xlsx", testValidator(), rows)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(s.Close)
	return s
}

func mustRow(t *testing.T, s *Session, idx int) types.ImportRow {
	t.Helper()
	r, err := s.Row(idx)
	if err != nil {
		t.Fatal(err)
	}
	return r
}

func loans(ids ...int64) []types.Loan {
	out := make([]types.Loan, len(ids))
	for i, id := range ids {
		out[i] = types.Loan{ID: id, Status: "disbursed"}
	}
	return out
}

func TestNewRejectsDuplicateRowIndex(t *testing.T) {
	_, err := New(context.Background(), "f.xlsx", testValidator(), []types.ImportRow{row(1, "V12345678", "A"), row(1, "V12345678", "B")})
	if !perr.IsCode(err, perr.ErrorCodeInvalidArgument) {
		t.Fatalf("err = %v", err)
	}
}

func TestDuplicateInFileFlagsBothRows(t *testing.T) {
	s := newSession(t, row(1, "V12345678", "DOC-1"), row(2, "V12345678", "DOC-1"), row(3, "V12345678", "DOC-3"))
	for _, idx := range []int{1, 2} {
		r := mustRow(t, s, idx)
		if !r.HasErrors || r.Validation[types.FieldDocumentNumber].Valid {
			t.Fatalf("row %d must be flagged as duplicate: %+v", idx, r.Validation)
		}
		if err := s.CheckCommittable(idx); !perr.IsCode(err, perr.ErrorCodeDuplicateInFile) {
			t.Fatalf("row %d commit check = %v", idx, err)
		}
	}
	if mustRow(t, s, 3).HasErrors {
		t.Fatal("row 3 must be valid")
	}
	if got := s.BatchRows(); len(got) != 1 || got[0] != 3 {
		t.Fatalf("batch rows = %v", got)
	}
}

func TestEditDocumentRevalidatesPeers(t *testing.T) {
	s := newSession(t, row(1, "V12345678", "DOC-1"), row(2, "V12345678", "DOC-1"))

	if _, err := s.EditCell(2, types.FieldDocumentNumber, "DOC-2"); err != nil {
		t.Fatal(err)
	}
	if mustRow(t, s, 1).HasErrors || mustRow(t, s, 2).HasErrors {
		t.Fatal("both rows must be valid after the edit")
	}

	// Editing back re-creates the conflict on both sides.
	if _, err := s.EditCell(1, types.FieldDocumentNumber, " DOC-2 "); err != nil {
		t.Fatal(err)
	}
	if !mustRow(t, s, 1).HasErrors || !mustRow(t, s, 2).HasErrors {
		t.Fatal("both rows must be flagged again")
	}
}

func TestEditCellNormalizes(t *testing.T) {
	s := newSession(t, row(1, "V12345678", "DOC-1"))
	cases := []struct {
		field types.Field
		in    string
		check func(types.ImportRow) bool
	}{
		{types.FieldIdentity, "v-87.654.321", func(r types.ImportRow) bool { return r.Identity == "V87654321" }},
		{types.FieldPaymentDate, "2024-03-02", func(r types.ImportRow) bool { return r.PaymentDate == "02/03/2024" }},
		{types.FieldAmount, "1.234,50", func(r types.ImportRow) bool { return r.Amount == "1234.5" }},
		{types.FieldDocumentNumber, "1.23E+11", func(r types.ImportRow) bool { return r.DocumentNumber == "123000000000" }},
		{types.FieldReconciled, "No", func(r types.ImportRow) bool { return !r.Reconciled }},
		{types.FieldLoanID, "42", func(r types.ImportRow) bool {
			return r.LoanID != nil && *r.LoanID == 42 && r.LoanSource == types.LoanSourceOperator
		}},
		{types.FieldLoanID, "", func(r types.ImportRow) bool { return r.LoanID == nil && r.LoanSource == types.LoanSourceNone }},
	}
	for _, tc := range cases {
		got, err := s.EditCell(1, tc.field, tc.in)
		if err != nil {
			t.Fatalf("%s: %v", tc.field, err)
		}
		if !tc.check(got) {
			t.Fatalf("%s = %q produced %+v", tc.field, tc.in, got)
		}
		if got.HasErrors {
			t.Fatalf("%s edit left errors: %s", tc.field, validation.FormatErrors(&got))
		}
	}

	if _, err := s.EditCell(1, types.Field("nope"), "x"); !perr.IsCode(err, perr.ErrorCodeInvalidArgument) {
		t.Fatalf("unknown field err = %v", err)
	}
	if _, err := s.EditCell(99, types.FieldAmount, "1"); !perr.IsCode(err, perr.ErrorCodeNotFound) {
		t.Fatalf("unknown row err = %v", err)
	}
}

func TestApplyCandidatesAutoAssignsUnique(t *testing.T) {
	s := newSession(t, row(1, "V12345678", "DOC-1"), row(2, "V12345678", "DOC-2"))
	if got := s.PendingIdentities(); len(got) != 1 || got[0] != "V12345678" {
		t.Fatalf("pending = %v", got)
	}

	s.ApplyCandidates(types.LoanCandidateSet{"V12345678": loans(7), "V-12345678": loans(7)}, nil)
	for _, idx := range []int{1, 2} {
		r := mustRow(t, s, idx)
		if r.LoanID == nil || *r.LoanID != 7 || r.LoanSource != types.LoanSourceAuto || r.CandidateCount != 1 {
			t.Fatalf("row %d = %+v", idx, r)
		}
	}
	if len(s.PendingIdentities()) != 0 {
		t.Fatal("resolved identity must not be pending")
	}
}

func TestApplyCandidatesNeverClobbersExplicit(t *testing.T) {
	explicit := row(1, "V12345678", "DOC-1")
	id := int64(99)
	explicit.LoanID, explicit.LoanSource = &id, types.LoanSourceFile
	s := newSession(t, explicit, row(2, "V12345678", "DOC-2"))

	s.ApplyCandidates(types.LoanCandidateSet{"V12345678": loans(7)}, nil)
	s.ApplyCandidates(types.LoanCandidateSet{"V12345678": loans(7)}, nil)
	if r := mustRow(t, s, 1); *r.LoanID != 99 || r.LoanSource != types.LoanSourceFile {
		t.Fatalf("explicit loan replaced: %+v", r)
	}

	if _, err := s.SelectLoan(2, 7); err != nil {
		t.Fatal(err)
	}
	s.ApplyCandidates(types.LoanCandidateSet{"V12345678": loans(8)}, nil)
	if r := mustRow(t, s, 2); *r.LoanID != 7 || r.LoanSource != types.LoanSourceOperator {
		t.Fatalf("operator loan replaced: %+v", r)
	}
}

func TestAmbiguousRequiresSelection(t *testing.T) {
	s := newSession(t, row(1, "V12345678", "DOC-1"))
	s.ApplyCandidates(types.LoanCandidateSet{"V12345678": loans(7, 8)}, nil)

	r := mustRow(t, s, 1)
	if r.LoanID != nil || r.CandidateCount != 2 || r.HasErrors {
		t.Fatalf("row = %+v", r)
	}
	err := s.CheckCommittable(1)
	if !perr.IsCode(err, perr.ErrorCodeLoanAmbiguous) {
		t.Fatalf("err = %v", err)
	}

	if _, err := s.SelectLoan(1, 9); !perr.IsCode(err, perr.ErrorCodeInvalidArgument) {
		t.Fatalf("foreign loan err = %v", err)
	}
	if _, err := s.SelectLoan(1, 8); err != nil {
		t.Fatal(err)
	}
	if err := s.CheckCommittable(1); err != nil {
		t.Fatalf("after selection: %v", err)
	}
}

func TestLookupFailureWarns(t *testing.T) {
	s := newSession(t, row(1, "V12345678", "DOC-1"))
	s.ApplyCandidates(types.LoanCandidateSet{}, map[string]error{"V12345678": errors.New("timeout")})
	r := mustRow(t, s, 1)
	if r.Warning == "" || r.CandidateCount != 0 || r.HasErrors {
		t.Fatalf("row = %+v", r)
	}
	if len(s.PendingIdentities()) != 1 {
		t.Fatal("failed identity stays pending for a retry")
	}
}

type stubResolver struct {
	set   types.LoanCandidateSet
	calls int
}

func (r *stubResolver) Resolve(ctx context.Context, t resolver.Target) {
	r.calls++
	found := make(types.LoanCandidateSet)
	for _, id := range t.PendingIdentities() {
		if l, ok := r.set[id]; ok {
			found[id] = l
		}
	}
	t.ApplyCandidates(found, nil)
}

func TestEditedIdentityBlocksCommitUntilResolved(t *testing.T) {
	s := newSession(t, row(1, "V12345678", "DOC-1"))
	res := &stubResolver{set: types.LoanCandidateSet{
		"V12345678": loans(7),
		"V87654321": loans(2, 3),
	}}
	s.SetResolver(res)
	s.ResolvePending(context.Background())
	if r := mustRow(t, s, 1); r.LoanID == nil || *r.LoanID != 7 {
		t.Fatalf("row = %+v", r)
	}

	r, err := s.EditCell(1, types.FieldIdentity, "v-87.654.321")
	if err != nil {
		t.Fatal(err)
	}
	if r.Identity != "V87654321" || r.LoanID != nil || r.Warning != "loan lookup pending" {
		t.Fatalf("row = %+v", r)
	}
	if err := s.CheckCommittable(1); !perr.IsCode(err, perr.ErrorCodeLoanUnresolved) {
		t.Fatalf("err = %v, want LoanUnresolved", err)
	}
	if _, err := s.BeginCommit(1); !perr.IsCode(err, perr.ErrorCodeLoanUnresolved) {
		t.Fatalf("begin err = %v", err)
	}

	s.ResolvePending(context.Background())
	if r := mustRow(t, s, 1); r.CandidateCount != 2 || r.Warning != "" {
		t.Fatalf("row = %+v", r)
	}
	if err := s.CheckCommittable(1); !perr.IsCode(err, perr.ErrorCodeLoanAmbiguous) {
		t.Fatalf("err = %v, want LoanAmbiguous", err)
	}
}

func TestExplicitLoanCommitsWhileIdentityUnresolved(t *testing.T) {
	s := newSession(t, row(1, "V12345678", "DOC-1"))
	s.SetResolver(&stubResolver{})
	if _, err := s.EditCell(1, types.FieldLoanID, "44"); err != nil {
		t.Fatal(err)
	}
	if err := s.CheckCommittable(1); err != nil {
		t.Fatalf("explicit loan id must not wait for a lookup: %v", err)
	}
}

func TestNoResolverMeansNothingPending(t *testing.T) {
	s := newSession(t, row(1, "V12345678", "DOC-1"))
	if _, err := s.EditCell(1, types.FieldIdentity, "E7654321"); err != nil {
		t.Fatal(err)
	}
	if err := s.CheckCommittable(1); err != nil {
		t.Fatalf("err = %v", err)
	}
	s.ResolvePending(context.Background())
}

func TestCommitTransitions(t *testing.T) {
	s := newSession(t, row(1, "V12345678", "DOC-1"), row(2, "V12345678", "DOC-2"))

	req, err := s.BeginCommit(1)
	if err != nil {
		t.Fatal(err)
	}
	if req.Identity != "V-12345678" || req.PaymentDate != "2024-03-01" || req.Amount.String() != "150" || req.Note != nil {
		t.Fatalf("request = %+v", req)
	}
	if _, err := s.EditCell(1, types.FieldAmount, "10"); !perr.IsCode(err, perr.ErrorCodeConflict) {
		t.Fatalf("edit while saving err = %v", err)
	}
	if s.MarkSaved(1, types.PaymentReceipt{ID: 1}) {
		t.Fatal("row 2 is still unsaved")
	}

	if _, err := s.BeginCommit(2); err != nil {
		t.Fatal(err)
	}
	s.MarkDuplicate(2, "already registered")
	if r := mustRow(t, s, 2); r.Status != types.StatusDuplicatePending || r.StatusReason == "" {
		t.Fatalf("row 2 = %+v", r)
	}
	if s.Completed() {
		t.Fatal("duplicate-pending row keeps the session open")
	}

	// Retry after editing the document number.
	if _, err := s.EditCell(2, types.FieldDocumentNumber, "DOC-2B"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.BeginCommit(2); err != nil {
		t.Fatal(err)
	}
	if !s.MarkSaved(2, types.PaymentReceipt{ID: 2}) {
		t.Fatal("last row saved must complete the session")
	}
	if _, err := s.BeginCommit(2); !perr.IsCode(err, perr.ErrorCodeConflict) {
		t.Fatalf("recommit saved row err = %v", err)
	}

	c := s.Counts()
	if c.Total != 2 || c.SavedCount != 2 || c.Duplicates != 0 {
		t.Fatalf("counts = %+v", c)
	}
}

func TestMarkFailedResetsToUnsaved(t *testing.T) {
	s := newSession(t, row(1, "V12345678", "DOC-1"))
	if _, err := s.BeginCommit(1); err != nil {
		t.Fatal(err)
	}
	s.MarkFailed(1, "502 bad gateway")
	r := mustRow(t, s, 1)
	if r.Status != types.StatusUnsaved || r.StatusReason != "502 bad gateway" {
		t.Fatalf("row = %+v", r)
	}
}

func TestMarkRoutedFreesDocument(t *testing.T) {
	s := newSession(t, row(1, "V12345678", "DOC-1"), row(2, "V12345678", "DOC-1"))
	routed, err := s.MarkRouted(1, "duplicate document")
	if err != nil {
		t.Fatal(err)
	}
	if routed.Status != types.StatusRoutedToReview {
		t.Fatalf("routed = %+v", routed)
	}
	if mustRow(t, s, 2).HasErrors {
		t.Fatal("peer must become valid once the duplicate leaves")
	}
	if _, err := s.MarkRouted(1, "again"); !perr.IsCode(err, perr.ErrorCodeConflict) {
		t.Fatalf("re-route err = %v", err)
	}
	if c := s.Counts(); c.Routed != 1 || c.ValidCount != 1 {
		t.Fatalf("counts = %+v", c)
	}
}

func TestCloseCancelsContext(t *testing.T) {
	s := newSession(t, row(1, "V12345678", "DOC-1"))
	s.Close()
	s.Close()
	select {
	case <-s.Context().Done():
	default:
		t.Fatal("context must be cancelled")
	}
	if _, err := s.EditCell(1, types.FieldAmount, "1"); !perr.IsCode(err, perr.ErrorCodeConflict) {
		t.Fatalf("edit after close err = %v", err)
	}
	if !s.Snapshot().Closed {
		t.Fatal("snapshot must report closed")
	}
}
