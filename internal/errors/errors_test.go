package errors

import (
	stderrs "errors"
	"fmt"
	"net/http"
	"testing"
)

func TestHTTPStatusCode(t *testing.T) {
	cases := []struct {
		code ErrorCode
		want int
	}{
		{ErrorCodeFileRejected, http.StatusBadRequest},
		{ErrorCodeFieldInvalid, http.StatusUnprocessableEntity},
		{ErrorCodeLoanAmbiguous, http.StatusUnprocessableEntity},
		{ErrorCodeDuplicateInFile, http.StatusUnprocessableEntity},
		{ErrorCodeDuplicateOnCommit, http.StatusConflict},
		{ErrorCodeConflict, http.StatusConflict},
		{ErrorCodeLoanUnresolved, http.StatusConflict},
		{ErrorCodeCommitFailed, http.StatusBadGateway},
		{ErrorCodeServiceUnreachable, http.StatusServiceUnavailable},
		{ErrorCodeNotFound, http.StatusNotFound},
		{ErrorCodeUnknown, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		if got := HTTPStatusCode(tc.code); got != tc.want {
			t.Errorf("HTTPStatusCode(%s) = %d, want %d", tc.code, got, tc.want)
		}
	}
}

func TestWrapAndUnwrap(t *testing.T) {
	root := stderrs.New("socket closed")
	err := CommitFailed(3, root)

	if !IsCode(err, ErrorCodeCommitFailed) {
		t.Fatalf("code = %s, want CommitFailed", CodeOf(err))
	}
	if !stderrs.Is(err, root) {
		t.Fatal("wrapped cause not reachable through errors.Is")
	}
	e, ok := As(fmt.Errorf("outer: %w", err))
	if !ok {
		t.Fatal("As failed through fmt wrapping")
	}
	if e.Row() != 3 {
		t.Fatalf("row = %d, want 3", e.Row())
	}
}

func TestLoanAmbiguousNamesRows(t *testing.T) {
	err := LoanAmbiguous(1, 2)
	e, _ := As(err)
	if len(e.Rows()) != 2 || e.Rows()[0] != 1 || e.Rows()[1] != 2 {
		t.Fatalf("rows = %v, want [1 2]", e.Rows())
	}
	w := WireFrom(err)
	if w.Code != "LoanAmbiguous" {
		t.Fatalf("wire code = %q", w.Code)
	}

	single, _ := As(LoanAmbiguous(7))
	if single.Row() != 7 {
		t.Fatalf("single row = %d, want 7", single.Row())
	}
}

func TestMutatorsCopyOnWrite(t *testing.T) {
	base := New(ErrorCodeFieldInvalid, "bad")
	withRow := WithRow(base, 4)
	withField := WithField(withRow, "amount")

	if e, _ := As(base); e.Row() != 0 || e.Field() != "" {
		t.Fatal("base error was mutated")
	}
	e, _ := As(withField)
	if e.Row() != 4 || e.Field() != "amount" {
		t.Fatalf("got row=%d field=%q", e.Row(), e.Field())
	}

	foreign := stderrs.New("plain")
	if WithRow(foreign, 1) != foreign {
		t.Fatal("foreign errors must pass through unchanged")
	}
}

func TestWireFromForeignError(t *testing.T) {
	w := WireFrom(stderrs.New("boom"))
	if w.Code != "Unknown" || w.Message != "boom" {
		t.Fatalf("unexpected wire %+v", w)
	}
	if z := WireFrom(nil); z.Code != "" || z.Message != "" || z.Rows != nil {
		t.Fatal("nil error must map to zero Wire")
	}
}
