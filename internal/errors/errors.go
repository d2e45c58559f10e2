// =============================================================================
// Payment Import - Error Taxonomy
// =============================================================================
//
// Structured error type shared by every stage of the import pipeline. Each
// error carries a machine-facing code, a short human-facing message and,
// for row-level failures, the row index and field that caused it.
//
// PROPAGATION:
//   - FileRejected is fatal to the import attempt and reported once
//   - Every row-level code stays local to its row
//   - ServiceUnreachable blocks commit actions until the probe recovers
//
// Always import this package as perr.
//
// =============================================================================

package errors

import (
	stderrs "errors"
	"fmt"
	"net/http"
)

// =============================================================================
// ERROR CODES
// =============================================================================

// ErrorCode identifies the class of failure. Values are stable for wire use.
type ErrorCode uint16

const (
	// ErrorCodeUnknown is for unclassified errors
	ErrorCodeUnknown ErrorCode = iota

	// ErrorCodeFileRejected is for files failing size/extension/content checks
	ErrorCodeFileRejected

	// ErrorCodeFieldInvalid is for a cell that failed its validation rule
	ErrorCodeFieldInvalid

	// ErrorCodeLoanAmbiguous is for rows with several active loans and no selection
	ErrorCodeLoanAmbiguous

	// ErrorCodeDuplicateInFile is for a document number repeated inside the file
	ErrorCodeDuplicateInFile

	// ErrorCodeDuplicateOnCommit is for a document number the remote store already holds
	ErrorCodeDuplicateOnCommit

	// ErrorCodeCommitFailed is for any other remote rejection of a row
	ErrorCodeCommitFailed

	// ErrorCodeServiceUnreachable is for commits attempted while the service is offline
	ErrorCodeServiceUnreachable

	// ErrorCodeNotFound is for unknown sessions or rows
	ErrorCodeNotFound

	// ErrorCodeInvalidArgument is for malformed requests
	ErrorCodeInvalidArgument

	// ErrorCodeConflict is for operations on a row in a state that forbids them
	ErrorCodeConflict

	// ErrorCodeLoanUnresolved is for rows whose identity has not been looked up yet
	ErrorCodeLoanUnresolved
)

var codeNames = map[ErrorCode]string{
	ErrorCodeUnknown:            "Unknown",
	ErrorCodeFileRejected:       "FileRejected",
	ErrorCodeFieldInvalid:       "FieldInvalid",
	ErrorCodeLoanAmbiguous:      "LoanAmbiguous",
	ErrorCodeDuplicateInFile:    "DuplicateInFile",
	ErrorCodeDuplicateOnCommit:  "DuplicateOnCommit",
	ErrorCodeCommitFailed:       "CommitFailed",
	ErrorCodeServiceUnreachable: "ServiceUnreachable",
	ErrorCodeNotFound:           "NotFound",
	ErrorCodeInvalidArgument:    "InvalidArgument",
	ErrorCodeConflict:           "Conflict",
	ErrorCodeLoanUnresolved:     "LoanUnresolved",
}

// String returns the stable name of the code.
func (c ErrorCode) String() string {
	if n, ok := codeNames[c]; ok {
		return n
	}
	return "Unknown"
}

// HTTPStatusCode turns an ErrorCode into an http status code
func HTTPStatusCode(c ErrorCode) int {
	switch c {
	case ErrorCodeNotFound:
		return http.StatusNotFound
	case ErrorCodeFileRejected, ErrorCodeInvalidArgument:
		return http.StatusBadRequest
	case ErrorCodeFieldInvalid, ErrorCodeLoanAmbiguous, ErrorCodeDuplicateInFile:
		return http.StatusUnprocessableEntity
	case ErrorCodeDuplicateOnCommit, ErrorCodeConflict, ErrorCodeLoanUnresolved:
		return http.StatusConflict
	case ErrorCodeCommitFailed:
		return http.StatusBadGateway
	case ErrorCodeServiceUnreachable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// =============================================================================
// ERROR TYPE
// =============================================================================

// Error is the structured error type.
// row is the 1-based data-row index (0 when not row-scoped); rows lists every
// offending row for batch-level rejections.
type Error struct {
	orig  error
	msg   string
	code  ErrorCode
	row   int
	rows  []int
	field string
	op    string
}

// Wire is the JSON-serializable form returned by the API
type Wire struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Row     int    `json:"row,omitempty"`
	Rows    []int  `json:"rows,omitempty"`
	Field   string `json:"field,omitempty"`
}

// Error implements the error interface
func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.orig != nil {
		return fmt.Sprintf("%s: %v", e.msg, e.orig)
	}
	return e.msg
}

// Unwrap returns the wrapped error, if any
func (e *Error) Unwrap() error { return e.orig }

// Code returns the error code
func (e *Error) Code() ErrorCode { return e.code }

// Message returns the message without the wrapped cause
func (e *Error) Message() string { return e.msg }

// Row returns the offending row index, 0 if none
func (e *Error) Row() int { return e.row }

// Rows returns every offending row for batch rejections
func (e *Error) Rows() []int { return e.rows }

// Field returns the offending field, if any
func (e *Error) Field() string { return e.field }

// Op returns the operation label, if set
func (e *Error) Op() string { return e.op }

// ToWire converts an *Error to a Wire payload
func (e *Error) ToWire() Wire {
	return Wire{Code: e.code.String(), Message: e.Error(), Row: e.row, Rows: e.rows, Field: e.field}
}

// WireFrom converts any error into a Wire payload with best-effort mapping
func WireFrom(err error) Wire {
	if err == nil {
		return Wire{}
	}
	if e, ok := As(err); ok {
		return e.ToWire()
	}
	return Wire{Code: ErrorCodeUnknown.String(), Message: err.Error()}
}

// CodeOf extracts an ErrorCode from any error, defaulting to Unknown
func CodeOf(err error) ErrorCode {
	if e, ok := As(err); ok {
		return e.code
	}
	return ErrorCodeUnknown
}

// IsCode reports whether err has the given code
func IsCode(err error, code ErrorCode) bool { return CodeOf(err) == code }

// HTTPStatus returns the mapped HTTP status for any error
func HTTPStatus(err error) int { return HTTPStatusCode(CodeOf(err)) }

// As unwraps and returns (*Error, true) if err is one of ours
func As(err error) (*Error, bool) {
	var e *Error
	if stderrs.As(err, &e) {
		return e, true
	}
	return nil, false
}

// =============================================================================
// MUTATORS (copy-on-write)
// =============================================================================

// WithRow attaches a row index. Foreign errors are returned unchanged.
func WithRow(err error, row int) error {
	if e, ok := As(err); ok {
		c := *e
		c.row = row
		return &c
	}
	return err
}

// WithField attaches a field name. Foreign errors are returned unchanged.
func WithField(err error, field string) error {
	if e, ok := As(err); ok {
		c := *e
		c.field = field
		return &c
	}
	return err
}

// WithOp attaches an operation label. Foreign errors are returned unchanged.
func WithOp(err error, op string) error {
	if e, ok := As(err); ok {
		c := *e
		c.op = op
		return &c
	}
	return err
}

// =============================================================================
// CONSTRUCTORS
// =============================================================================

// New returns a new *Error with the given code and message
func New(code ErrorCode, msg string) error { return &Error{code: code, msg: msg} }

// Newf returns a new *Error with code and formatted message
func Newf(code ErrorCode, format string, a ...any) error {
	return &Error{code: code, msg: fmt.Sprintf(format, a...)}
}

// Wrap returns a new *Error that wraps orig with code and message
func Wrap(orig error, code ErrorCode, msg string) error {
	return &Error{code: code, msg: msg, orig: orig}
}

// Wrapf returns a new *Error that wraps orig with code and formatted message
func Wrapf(orig error, code ErrorCode, format string, a ...any) error {
	return &Error{code: code, msg: fmt.Sprintf(format, a...), orig: orig}
}

// Sugar

// FileRejectedf rejects an input file before any row is read
func FileRejectedf(format string, a ...any) error {
	return Newf(ErrorCodeFileRejected, format, a...)
}

// FieldInvalid reports a failed cell on a row
func FieldInvalid(row int, field, msg string) error {
	return &Error{code: ErrorCodeFieldInvalid, msg: msg, row: row, field: field}
}

// LoanAmbiguous reports rows that need a loan selected before commit
func LoanAmbiguous(rows ...int) error {
	e := &Error{code: ErrorCodeLoanAmbiguous, rows: rows}
	if len(rows) == 1 {
		e.row = rows[0]
		e.msg = fmt.Sprintf("row %d: select a loan before committing", rows[0])
	} else {
		e.msg = fmt.Sprintf("select a loan before committing rows %v", rows)
	}
	return e
}

// LoanUnresolved reports a row whose identity changed and whose loans are not
// known yet
func LoanUnresolved(row int, identity string) error {
	return &Error{
		code:  ErrorCodeLoanUnresolved,
		msg:   fmt.Sprintf("row %d: loans for %s have not been looked up yet", row, identity),
		row:   row,
		field: "identity",
	}
}

// DuplicateInFile reports a document number repeated within the file
func DuplicateInFile(row int, doc string) error {
	return &Error{
		code:  ErrorCodeDuplicateInFile,
		msg:   fmt.Sprintf("row %d: document number %q is repeated in the file", row, doc),
		row:   row,
		field: "documentNumber",
	}
}

// DuplicateOnCommit reports a document number already persisted remotely
func DuplicateOnCommit(row int, orig error) error {
	return &Error{code: ErrorCodeDuplicateOnCommit, msg: fmt.Sprintf("row %d: document number already registered", row), row: row, field: "documentNumber", orig: orig}
}

// CommitFailed reports any other remote failure for a row
func CommitFailed(row int, orig error) error {
	return &Error{code: ErrorCodeCommitFailed, msg: fmt.Sprintf("row %d: commit failed", row), row: row, orig: orig}
}

// ServiceUnreachable blocks commit actions while the service is offline
func ServiceUnreachable(orig error) error {
	return &Error{code: ErrorCodeServiceUnreachable, msg: "loan service is unreachable", orig: orig}
}

// NotFoundf returns a not found error
func NotFoundf(format string, a ...any) error { return Newf(ErrorCodeNotFound, format, a...) }

// InvalidArgf returns an invalid argument error
func InvalidArgf(format string, a ...any) error { return Newf(ErrorCodeInvalidArgument, format, a...) }

// Conflictf returns a state conflict error
func Conflictf(format string, a ...any) error { return Newf(ErrorCodeConflict, format, a...) }
