// =============================================================================
// Payment Import - Shared Types
// =============================================================================
//
// This package contains the types shared by every stage of the pipeline so
// that the stages do not import each other. Types defined here are used by:
//   - xlsxparser  (produces raw rows)
//   - normalize / validation (fill canonical values and verdicts)
//   - resolver / session / commit (enrich, track and persist rows)
//   - api / cmd   (render rows to the operator)
//
// =============================================================================

package types

import (
	"github.com/shopspring/decimal"
)

// =============================================================================
// FIELDS
// =============================================================================

// Field names a column of the import row. Values double as the JSON keys of
// the validation map and the names accepted by cell edits.
type Field string

const (
	FieldIdentity       Field = "identity"
	FieldPaymentDate    Field = "paymentDate"
	FieldAmount         Field = "amount"
	FieldDocumentNumber Field = "documentNumber"
	FieldLoanID         Field = "loanId"
	FieldReconciled     Field = "reconciled"
)

// RequiredFields are the four fields whose verdicts make up HasErrors.
var RequiredFields = []Field{FieldIdentity, FieldPaymentDate, FieldAmount, FieldDocumentNumber}

// ParseField maps an external field name onto a Field.
func ParseField(s string) (Field, bool) {
	switch Field(s) {
	case FieldIdentity, FieldPaymentDate, FieldAmount, FieldDocumentNumber, FieldLoanID, FieldReconciled:
		return Field(s), true
	}
	return "", false
}

// FieldValidation is the verdict for a single field.
type FieldValidation struct {
	Valid   bool   `json:"valid"`
	Message string `json:"message,omitempty"`
}

// =============================================================================
// ROW STATE
// =============================================================================

// CommitStatus is the per-row commit state machine.
//
//	unsaved -> saving -> saved | duplicatePending | unsaved (on failure)
//	duplicatePending -> saving (retry) | routedToReview
//	unsaved -> routedToReview
type CommitStatus string

const (
	StatusUnsaved          CommitStatus = "unsaved"
	StatusSaving           CommitStatus = "saving"
	StatusSaved            CommitStatus = "saved"
	StatusDuplicatePending CommitStatus = "duplicatePending"
	StatusRoutedToReview   CommitStatus = "routedToReview"
)

// Terminal reports whether no further commit or edit can happen on the row.
func (s CommitStatus) Terminal() bool {
	return s == StatusSaved || s == StatusRoutedToReview
}

// LoanSource records who set the row's loan id.
type LoanSource string

const (
	LoanSourceNone     LoanSource = "none"
	LoanSourceFile     LoanSource = "file"
	LoanSourceOperator LoanSource = "operator"
	LoanSourceAuto     LoanSource = "auto"
)

// Explicit reports whether the loan id came from the file or the operator.
func (s LoanSource) Explicit() bool {
	return s == LoanSourceFile || s == LoanSourceOperator
}

// =============================================================================
// IMPORT ROW
// =============================================================================

// RawRow is one data row as read from the workbook, before normalization.
// Cells keep their positional order; LoanIDCol and FlagCol are -1 when the
// file has no such column.
type RawRow struct {
	RowIndex  int
	Cells     []string
	LoanIDCol int
	FlagCol   int
}

// Cell returns the trimmed cell at index i, or "" when out of range.
func (r RawRow) Cell(i int) string {
	if i < 0 || i >= len(r.Cells) {
		return ""
	}
	return r.Cells[i]
}

// ImportRow is one spreadsheet line with its canonical values, validation
// verdicts, loan resolution and commit status.
type ImportRow struct {
	// RowIndex is the 1-based data-row position in the source file.
	RowIndex int `json:"rowIndex"`

	Identity       string `json:"identity"`
	PaymentDate    string `json:"paymentDate"`
	Amount         string `json:"amount"`
	DocumentNumber string `json:"documentNumber"`

	// LoanID is nil when no loan is linked. LoanIDRaw keeps unparseable
	// loan-id text so the operator can see what the file contained.
	LoanID     *int64     `json:"loanId"`
	LoanIDRaw  string     `json:"loanIdRaw,omitempty"`
	LoanSource LoanSource `json:"loanSource"`

	Reconciled bool `json:"reconciled"`

	Validation map[Field]FieldValidation `json:"fieldValidation"`
	HasErrors  bool                      `json:"hasErrors"`

	CandidateCount int    `json:"candidateCount"`
	Warning        string `json:"warning,omitempty"`

	Status       CommitStatus `json:"commitStatus"`
	StatusReason string       `json:"statusReason,omitempty"`
}

// Clone returns a deep copy so callers outside the session cannot mutate it.
func (r *ImportRow) Clone() ImportRow {
	c := *r
	if r.LoanID != nil {
		id := *r.LoanID
		c.LoanID = &id
	}
	if r.Validation != nil {
		c.Validation = make(map[Field]FieldValidation, len(r.Validation))
		for k, v := range r.Validation {
			c.Validation[k] = v
		}
	}
	return c
}

// =============================================================================
// LOANS
// =============================================================================

// Loan is a loan account as returned by the loan-servicing service.
type Loan struct {
	ID          int64           `json:"id"`
	Identity    string          `json:"identity"`
	Status      string          `json:"status"`
	Principal   decimal.Decimal `json:"principal"`
	Description string          `json:"description,omitempty"`
}

// LoanCandidateSet maps an identity (and each of its aliases) to the loans
// currently in an active servicing state.
type LoanCandidateSet map[string][]Loan

// =============================================================================
// OUTBOUND PAYMENT
// =============================================================================

// PaymentRequest is the per-row commit payload.
type PaymentRequest struct {
	Identity       string          `json:"identity"`
	LoanID         *int64          `json:"loan_id"`
	PaymentDate    string          `json:"payment_date"`
	Amount         decimal.Decimal `json:"amount"`
	DocumentNumber string          `json:"document_number"`
	Reconciled     bool            `json:"reconciled"`
	Note           *string         `json:"note"`
}

// PaymentReceipt is the service's answer to a successful commit.
type PaymentReceipt struct {
	ID int64 `json:"id"`
}

// =============================================================================
// REVIEW HAND-OFF
// =============================================================================

// ReviewItem is a row handed to the manual reconciliation queue.
type ReviewItem struct {
	ID             string `json:"id"`
	SessionID      string `json:"sessionId"`
	SourceFile     string `json:"sourceFile"`
	RowIndex       int    `json:"rowIndex"`
	Identity       string `json:"identity"`
	PaymentDate    string `json:"paymentDate"`
	Amount         string `json:"amount"`
	DocumentNumber string `json:"documentNumber"`
	LoanID         *int64 `json:"loanId"`
	Reconciled     bool   `json:"reconciled"`
	Reason         string `json:"reason"`
	CreatedAt      string `json:"createdAt"`
}

// =============================================================================
// COUNTS
// =============================================================================

// Counts summarizes a session.
type Counts struct {
	Total      int `json:"total"`
	ValidCount int `json:"validCount"`
	SavedCount int `json:"savedCount"`
	Duplicates int `json:"duplicatePending"`
	Routed     int `json:"routedToReview"`
}
