package normalize

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/shopspring/decimal"
)

// =============================================================================
// AMOUNT NORMALIZATION
// =============================================================================

// Amount normalizes a monetary cell to canonical decimal text.
//
// SEPARATOR RULES:
//   - Only "," present: a single comma is always decimal ("150,50" and
//     "1,234" both keep the comma as the decimal point); repeated commas
//     group thousands ("1,234,567").
//   - Only "." present: a single point is always decimal; repeated points
//     group thousands ("1.234.567").
//   - Both present: the right-most one is the decimal separator and the other
//     groups thousands ("1.234,56" and "1,234.56" both give "1234.56").
//
// Currency symbols, spaces and NBSPs are stripped first. Scientific notation
// ("1.5E+3") is accepted.
//
// RETURNS:
//   - Canonical text such as "1234.56", or the trimmed input if it does not
//     parse as a number.
func Amount(raw string) string {
	s := strings.TrimSpace(raw)
	if s == "" {
		return ""
	}
	if sciPattern.MatchString(s) {
		d, err := decimal.NewFromString(strings.Replace(s, ",", ".", 1))
		if err != nil {
			return s
		}
		return d.String()
	}
	cleaned := stripAmountResidue(s)
	if cleaned == "" {
		return s
	}

	d, ok := parseLocalizedDecimal(cleaned)
	if !ok {
		return s
	}
	return d.String()
}

// AmountDecimal parses a canonical amount produced by Amount.
func AmountDecimal(canonical string) (decimal.Decimal, bool) {
	d, err := decimal.NewFromString(strings.TrimSpace(canonical))
	if err != nil {
		return decimal.Zero, false
	}
	return d, true
}

var sciPattern = regexp.MustCompile(`^[+-]?\d+([.,]\d+)?[eE][+-]?\d+$`)

// stripAmountResidue drops leading/trailing currency symbols or codes ("Bs",
// "USD", "$") and grouping whitespace. Letters inside the number make the
// value unparseable.
func stripAmountResidue(s string) string {
	s = strings.TrimFunc(s, func(r rune) bool {
		return unicode.IsLetter(r) || unicode.Is(unicode.Sc, r) || unicode.IsSpace(r)
	})
	// abbreviated codes such as "Bs. 150"
	s = strings.TrimSpace(strings.TrimPrefix(s, ". "))
	var b strings.Builder
	for _, r := range s {
		switch {
		case unicode.IsDigit(r), r == '.', r == ',', r == '-', r == '+':
			b.WriteRune(r)
		case unicode.IsSpace(r), r == '\'':
			// grouping whitespace and apostrophes
		default:
			return ""
		}
	}
	return b.String()
}

func parseLocalizedDecimal(s string) (decimal.Decimal, bool) {
	lastComma := strings.LastIndex(s, ",")
	lastDot := strings.LastIndex(s, ".")

	var normalized string
	switch {
	case lastComma >= 0 && lastDot >= 0:
		if lastComma > lastDot {
			normalized = strings.ReplaceAll(s, ".", "")
			normalized = strings.Replace(normalized, ",", ".", 1)
		} else {
			normalized = strings.ReplaceAll(s, ",", "")
		}
	case lastComma >= 0:
		normalized = resolveSingleSeparator(s, ",")
	case lastDot >= 0:
		normalized = resolveSingleSeparator(s, ".")
	default:
		normalized = s
	}

	if strings.Count(normalized, ".") > 1 {
		return decimal.Zero, false
	}
	d, err := decimal.NewFromString(normalized)
	if err != nil {
		return decimal.Zero, false
	}
	return d, true
}

// resolveSingleSeparator decides whether sep, the only separator kind in s,
// marks decimals or thousands groups.
func resolveSingleSeparator(s, sep string) string {
	if strings.Count(s, sep) > 1 {
		return strings.ReplaceAll(s, sep, "")
	}
	return strings.Replace(s, sep, ".", 1)
}
