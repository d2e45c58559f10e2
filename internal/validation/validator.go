// =============================================================================
// Payment Import - Row Validator
// =============================================================================
//
// This module applies an independent rule to each field of an import row and
// records a verdict (valid + human-readable reason) in the row's validation
// map.
//
// FIELDS:
//   Required (any failure sets HasErrors):
//     - identity        letter prefix from a fixed set + 6..11 digits
//     - paymentDate     DD/MM/YYYY, real calendar date, year inside the
//                       operational window, not in the future
//     - amount          positive decimal not above the configured ceiling
//     - documentNumber  non-empty and unique within the file
//   Optional (never blocking):
//     - loanId          positive integer when present
//
// DUPLICATE DETECTION:
//   The validator has no state of its own. Intra-file duplicates are looked
//   up through a DuplicateLookup supplied by the session, which owns the
//   incremental document-number index. The lookup always excludes the row
//   being validated.
//
// =============================================================================

package validation

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/ginjaninja78/payment-import/internal/config"
	"github.com/ginjaninja78/payment-import/internal/normalize"
	"github.com/ginjaninja78/payment-import/internal/types"
	"github.com/shopspring/decimal"
)

// =============================================================================
// RULES
// =============================================================================

// Rules are the tunable limits of the validator.
type Rules struct {
	// IdentityPrefixes lists the accepted leading letters, e.g. "VEJGP".
	IdentityPrefixes string

	// IdentityMinDigits / IdentityMaxDigits bound the digit run after the prefix.
	IdentityMinDigits int
	IdentityMaxDigits int

	// MaxAmount is the inclusive amount ceiling.
	MaxAmount decimal.Decimal

	// MinYear is the earliest accepted payment year.
	MinYear int

	// Now returns the current time; the date rule rejects anything after
	// today in this clock's location.
	Now func() time.Time
}

// DefaultRules mirrors the configuration defaults.
func DefaultRules() Rules {
	return RulesFromConfig(config.Default().Import)
}

// RulesFromConfig builds Rules from the import configuration section.
func RulesFromConfig(c config.ImportConfig) Rules {
	return Rules{
		IdentityPrefixes:  strings.ToUpper(c.IdentityPrefixes),
		IdentityMinDigits: c.IdentityMinDigits,
		IdentityMaxDigits: c.IdentityMaxDigits,
		MaxAmount:         c.MaxAmountDecimal(),
		MinYear:           c.MinYear,
		Now:               time.Now,
	}
}

// DuplicateLookup returns the indexes of every other row carrying doc.
// self is excluded from the answer.
type DuplicateLookup func(doc string, self int) []int

// NoDuplicates is a DuplicateLookup for rows validated in isolation.
func NoDuplicates(string, int) []int { return nil }

// =============================================================================
// VALIDATOR
// =============================================================================

// Validator evaluates the field rules for import rows.
type Validator struct {
	rules    Rules
	identity *regexp.Regexp
}

// NewValidator creates a Validator for the given rules.
func NewValidator(rules Rules) *Validator {
	if rules.Now == nil {
		rules.Now = time.Now
	}
	prefixes := regexp.QuoteMeta(rules.IdentityPrefixes)
	pattern := fmt.Sprintf(`^[%s]\d{%d,%d}$`, prefixes, rules.IdentityMinDigits, rules.IdentityMaxDigits)
	return &Validator{
		rules:    rules,
		identity: regexp.MustCompile(pattern),
	}
}

// Rules returns the validator's rules.
func (v *Validator) Rules() Rules { return v.rules }

// =============================================================================
// ROW VALIDATION
// =============================================================================

// ValidateRow recomputes every verdict of row and its HasErrors flag.
// Re-validating an unchanged row against an unchanged index yields the same
// verdicts.
func (v *Validator) ValidateRow(row *types.ImportRow, dups DuplicateLookup) {
	if dups == nil {
		dups = NoDuplicates
	}
	if row.Validation == nil {
		row.Validation = make(map[types.Field]types.FieldValidation, 5)
	}

	row.Validation[types.FieldIdentity] = v.Identity(row.Identity)
	row.Validation[types.FieldPaymentDate] = v.PaymentDate(row.PaymentDate)
	row.Validation[types.FieldAmount] = v.Amount(row.Amount)
	row.Validation[types.FieldDocumentNumber] = v.DocumentNumber(row.DocumentNumber, row.RowIndex, dups)
	row.Validation[types.FieldLoanID] = v.LoanID(row)

	row.HasErrors = HasErrors(row.Validation)
}

// HasErrors is the OR of the required-field verdicts. Missing verdicts count
// as failures.
func HasErrors(m map[types.Field]types.FieldValidation) bool {
	for _, f := range types.RequiredFields {
		if fv, ok := m[f]; !ok || !fv.Valid {
			return true
		}
	}
	return false
}

// =============================================================================
// FIELD RULES
// =============================================================================

func ok() types.FieldValidation { return types.FieldValidation{Valid: true} }

func fail(format string, a ...any) types.FieldValidation {
	return types.FieldValidation{Valid: false, Message: fmt.Sprintf(format, a...)}
}

// Identity validates the account-holder identifier.
func (v *Validator) Identity(value string) types.FieldValidation {
	id := normalize.Identity(value)
	if id == "" {
		return fail("Identity is required")
	}
	if !v.identity.MatchString(id) {
		return fail("Identity must be one of %s followed by %d to %d digits",
			strings.Join(strings.Split(v.rules.IdentityPrefixes, ""), "/"),
			v.rules.IdentityMinDigits, v.rules.IdentityMaxDigits)
	}
	return ok()
}

var displayDatePattern = regexp.MustCompile(`^\d{2}/\d{2}/\d{4}$`)

// PaymentDate validates a DD/MM/YYYY payment date.
func (v *Validator) PaymentDate(value string) types.FieldValidation {
	s := strings.TrimSpace(value)
	if s == "" {
		return fail("Payment date is required")
	}
	if !displayDatePattern.MatchString(s) {
		return fail("Payment date must use the DD/MM/YYYY format")
	}
	t, parsed := normalize.ParseDisplay(s)
	if !parsed {
		return fail("Payment date %s is not a calendar date", s)
	}

	now := v.rules.Now()
	if t.Year() < v.rules.MinYear || t.Year() > now.Year() {
		return fail("Payment year must be between %d and %d", v.rules.MinYear, now.Year())
	}
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	if t.After(today) {
		return fail("Payment date cannot be in the future")
	}
	return ok()
}

// Amount validates a canonical amount.
func (v *Validator) Amount(value string) types.FieldValidation {
	s := strings.TrimSpace(value)
	if s == "" {
		return fail("Amount is required")
	}
	d, parsed := normalize.AmountDecimal(s)
	if !parsed {
		return fail("Amount %q is not a number", s)
	}
	if !d.IsPositive() {
		return fail("Amount must be greater than zero")
	}
	if v.rules.MaxAmount.IsPositive() && d.GreaterThan(v.rules.MaxAmount) {
		return fail("Amount exceeds the maximum of %s", v.rules.MaxAmount.String())
	}
	return ok()
}

// DocumentNumber validates presence and intra-file uniqueness.
func (v *Validator) DocumentNumber(value string, self int, dups DuplicateLookup) types.FieldValidation {
	s := strings.TrimSpace(value)
	if s == "" {
		return fail("Document number is required")
	}
	if others := dups(s, self); len(others) > 0 {
		return fail("Document number is repeated in row %s", joinInts(others))
	}
	return ok()
}

// LoanID validates the optional loan id. Its verdict never feeds HasErrors.
func (v *Validator) LoanID(row *types.ImportRow) types.FieldValidation {
	if row.LoanID != nil {
		if *row.LoanID <= 0 {
			return fail("Loan id must be a positive integer")
		}
		return ok()
	}
	if strings.TrimSpace(row.LoanIDRaw) != "" {
		return fail("Loan id %q is not a number", row.LoanIDRaw)
	}
	return ok()
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

func joinInts(ns []int) string {
	parts := make([]string, len(ns))
	for i, n := range ns {
		parts[i] = fmt.Sprint(n)
	}
	return strings.Join(parts, ", ")
}

// FormatErrors renders the failing verdicts of a row on one line, e.g.
// "amount: Amount must be greater than zero; identity: Identity is required".
func FormatErrors(row *types.ImportRow) string {
	var parts []string
	for _, f := range append(append([]types.Field{}, types.RequiredFields...), types.FieldLoanID) {
		if fv, ok := row.Validation[f]; ok && !fv.Valid {
			parts = append(parts, fmt.Sprintf("%s: %s", f, fv.Message))
		}
	}
	return strings.Join(parts, "; ")
}
