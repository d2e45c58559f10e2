// =============================================================================
// Payment Import - Field Normalizer
// =============================================================================
//
// This package converts raw spreadsheet cell content into the canonical forms
// used by the rest of the pipeline. Every function is pure.
//
// FAILURE MODE:
//   Normalizers never return errors. Input that cannot be converted comes back
//   trimmed but otherwise unchanged, so the validator is the single place that
//   reports user-facing problems.
//
// CANONICAL FORMS:
//   - Dates:       DD/MM/YYYY for display, YYYY-MM-DD for transmission
//   - Amounts:     decimal text with "." separator and no grouping ("1234.56")
//   - Documents:   trimmed text; scientific-notation artifacts expanded
//   - Identities:  upper-case letter prefix + digits, no punctuation
//
// =============================================================================

package normalize

import (
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// =============================================================================
// DATE LAYOUTS
// =============================================================================

// DisplayLayout is the canonical display form.
const DisplayLayout = "02/01/2006"

// ISOLayout is the transmission form.
const ISOLayout = "2006-01-02"

// spreadsheetEpoch is day zero of the 1900 date system. Using 30 Dec 1899
// instead of 1 Jan 1900 absorbs both the 1-based numbering and the phantom
// 29 Feb 1900, so every serial from 61 (1 Mar 1900) onward maps exactly.
var spreadsheetEpoch = time.Date(1899, time.December, 30, 0, 0, 0, 0, time.UTC)

var (
	dmyPattern = regexp.MustCompile(`^(\d{1,2})/(\d{1,2})/(\d{4})$`)
	ymdPattern = regexp.MustCompile(`^(\d{4})-(\d{1,2})-(\d{1,2})$`)
)

// fallbackLayouts are tried, in order, when neither explicit pattern matches.
// Ambiguous slash-separated forms are deliberately absent: slashes always mean
// day first.
var fallbackLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"02/01/2006 15:04:05",
	"02-01-2006",
	"2006/01/02",
	"02.01.2006",
	"20060102",
	"2 Jan 2006",
	"2 January 2006",
	"Jan 2, 2006",
	"January 2, 2006",
}

// =============================================================================
// DATE NORMALIZATION
// =============================================================================

// Date normalizes a date cell to DD/MM/YYYY.
//
// ACCEPTED INPUT:
//   - time.Time / *time.Time
//   - numeric day serials (float64, int, int64, or numeric strings) in the
//     1900 spreadsheet date system; a fractional part (time of day) is dropped
//   - DD/MM/YYYY and D/M/YYYY
//   - YYYY-MM-DD
//   - the fallbackLayouts list
//
// RETURNS:
//   - The canonical DD/MM/YYYY string, or the trimmed input when nothing
//     matches (including impossible dates such as 31/02/2024).
//
// Normalizing an already canonical value returns it unchanged.
func Date(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case time.Time:
		if t.IsZero() {
			return ""
		}
		return t.Format(DisplayLayout)
	case *time.Time:
		if t == nil || t.IsZero() {
			return ""
		}
		return t.Format(DisplayLayout)
	case float64:
		if s, ok := fromSerial(t); ok {
			return s
		}
		return strconv.FormatFloat(t, 'f', -1, 64)
	case float32:
		return Date(float64(t))
	case int:
		return Date(float64(t))
	case int64:
		return Date(float64(t))
	case string:
		return dateString(t)
	default:
		return ""
	}
}

func dateString(raw string) string {
	s := strings.TrimSpace(raw)
	if s == "" {
		return ""
	}

	if m := dmyPattern.FindStringSubmatch(s); m != nil {
		if out, ok := civil(m[3], m[2], m[1]); ok {
			return out
		}
		return s
	}
	if m := ymdPattern.FindStringSubmatch(s); m != nil {
		if out, ok := civil(m[1], m[2], m[3]); ok {
			return out
		}
		return s
	}

	// Serials arrive as text when the cell is read raw.
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		if out, ok := fromSerial(f); ok {
			return out
		}
		return s
	}

	for _, layout := range fallbackLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Format(DisplayLayout)
		}
	}
	return s
}

// civil builds a date from its parts and rejects values time.Date would
// silently roll over (e.g. 31/02 becoming 02/03).
func civil(year, month, day string) (string, bool) {
	y, _ := strconv.Atoi(year)
	m, _ := strconv.Atoi(month)
	d, _ := strconv.Atoi(day)
	if m < 1 || m > 12 || d < 1 || d > 31 {
		return "", false
	}
	t := time.Date(y, time.Month(m), d, 0, 0, 0, 0, time.UTC)
	if t.Year() != y || int(t.Month()) != m || t.Day() != d {
		return "", false
	}
	return t.Format(DisplayLayout), true
}

// maxSerial is 31/12/9999.
const maxSerial = 2958465

func fromSerial(f float64) (string, bool) {
	if math.IsNaN(f) || math.IsInf(f, 0) || f < 1 || f > maxSerial {
		return "", false
	}
	days := int(math.Floor(f))
	return spreadsheetEpoch.AddDate(0, 0, days).Format(DisplayLayout), true
}

// DateISO converts a canonical DD/MM/YYYY value to YYYY-MM-DD.
func DateISO(display string) (string, bool) {
	t, err := time.Parse(DisplayLayout, strings.TrimSpace(display))
	if err != nil {
		return "", false
	}
	return t.Format(ISOLayout), true
}

// ParseDisplay parses a canonical DD/MM/YYYY value.
func ParseDisplay(display string) (time.Time, bool) {
	t, err := time.Parse(DisplayLayout, strings.TrimSpace(display))
	return t, err == nil
}
