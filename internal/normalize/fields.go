package normalize

import (
	"regexp"
	"strconv"
	"strings"
	"sync"
	"unicode"

	"github.com/shopspring/decimal"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// =============================================================================
// DOCUMENT NUMBERS
// =============================================================================

var (
	// 1.23E+11, 1,23E+11, 4.5e10
	sciDocPattern = regexp.MustCompile(`^\d+([.,]\d+)?[eE]\+?\d+$`)
	// 12345.0 / 12345.00: integral float artifacts of numeric cells
	floatDocPattern = regexp.MustCompile(`^(\d+)\.0+$`)
)

// DocumentNumber trims a document reference and expands the numeric artifacts
// spreadsheet engines produce for long numbers ("1.23E+11" becomes
// "123000000000", "98765.0" becomes "98765"). Anything else is returned as
// trimmed text.
func DocumentNumber(raw string) string {
	s := strings.TrimSpace(raw)
	if s == "" {
		return ""
	}
	if sciDocPattern.MatchString(s) {
		d, err := decimal.NewFromString(strings.Replace(s, ",", ".", 1))
		if err == nil && d.Equal(d.Truncate(0)) {
			return d.StringFixed(0)
		}
		return s
	}
	if m := floatDocPattern.FindStringSubmatch(s); m != nil {
		return m[1]
	}
	return s
}

// =============================================================================
// IDENTITIES
// =============================================================================

// Identity canonicalizes an account-holder identifier: accents removed,
// upper-cased, every non-alphanumeric rune dropped ("v-12.345.678" becomes
// "V12345678").
func Identity(raw string) string {
	s := Token(raw)
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Hyphenated inserts the hyphen after the letter prefix ("V12345678" becomes
// "V-12345678"). Identities without a letter prefix are returned unchanged.
func Hyphenated(canonical string) string {
	if canonical == "" {
		return ""
	}
	r := []rune(canonical)
	if !unicode.IsLetter(r[0]) || len(r) < 2 || !unicode.IsDigit(r[1]) {
		return canonical
	}
	return string(r[0]) + "-" + string(r[1:])
}

// IdentityAliases returns every spelling under which an identity must
// resolve: the canonical form first, then the hyphenated form.
func IdentityAliases(raw string) []string {
	c := Identity(raw)
	if c == "" {
		return nil
	}
	h := Hyphenated(c)
	if h == c {
		return []string{c}
	}
	return []string{c, h}
}

// =============================================================================
// TOKENS AND FLAGS
// =============================================================================

// A chain carries state between calls, so each caller takes its own from
// the pool.
var stripperPool = sync.Pool{
	New: func() any {
		return transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	},
}

// stripAccents removes combining marks ("é" becomes "e").
func stripAccents(s string) (string, error) {
	tr := stripperPool.Get().(transform.Transformer)
	out, _, err := transform.String(tr, s)
	tr.Reset()
	stripperPool.Put(tr)
	return out, err
}

// Token upper-cases and strips diacritics from a short vocabulary token
// ("sí" becomes "SI").
func Token(raw string) string {
	s := strings.TrimSpace(raw)
	if s == "" {
		return ""
	}
	out, err := stripAccents(s)
	if err != nil {
		out = s
	}
	return strings.ToUpper(out)
}

// Reconciled reads a reconciliation flag cell. Only an explicit negative
// token ("NO", "0") clears the flag; blank and unknown values default to
// reconciled.
func Reconciled(raw string) bool {
	switch Token(raw) {
	case "NO", "0":
		return false
	default:
		return true
	}
}

// LoanID parses a loan-id cell. Numeric cells read as "123.0" are accepted.
// Returns (nil, true) for blank input and (nil, false) for text that is not
// a positive integer.
func LoanID(raw string) (*int64, bool) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return nil, true
	}
	if m := floatDocPattern.FindStringSubmatch(s); m != nil {
		s = m[1]
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n <= 0 {
		return nil, false
	}
	return &n, true
}
