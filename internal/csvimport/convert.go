package csvimport

// convert.go turns untrusted cell text into typed values.
//
// Bank exports are messy:
//   - Dates arrive in ISO, US, EU and textual layouts, sometimes with 2-digit years
//   - Amounts carry currency symbols, thousands separators and accounting parentheses
//   - Some locales use a decimal comma
//   - Spreadsheet tools add formula prefixes (="value") and stray quotes
//
// Parse functions return an error for unusable input so the caller can fail
// the row rather than the batch.

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var (
	errEmptyValue   = errors.New("value is empty")
	errNotNumeric   = errors.New("not a valid amount")
	errNotDate      = errors.New("not a valid date")
	errBadSeparator = errors.New("decimal separator must be \".\" or \",\"")
)

// amountRegex accepts a plain signed decimal after cleanup. Exponents are
// rejected; no bank statement writes 1e3.
var amountRegex = regexp.MustCompile(`^[+-]?(\d+(\.\d*)?|\.\d+)$`)

// currencySymbols are stripped from amount cells before parsing.
var currencySymbols = []string{"$", "€", "£", "¥", "₹", "₩", "CHF", "kr"}

// TwoDigitYearPivot bounds how far into the future a 2-digit year may land
// before it is moved back a century.
var TwoDigitYearPivot = 20

// dateLayouts is the inference order. Unambiguous layouts come first so a
// column of ISO dates never gets read as anything else; US precedes EU, so a
// column is only read day-first when some value rules month-first out.
var dateLayouts = []string{
	"2006-01-02",
	"2006/01/02",
	"2006.01.02",
	"2006-01-02T15:04:05Z07:00",
	"2006-01-02 15:04:05",
	"20060102",
	"1/2/2006",
	"2/1/2006",
	"1-2-2006",
	"2-1-2006",
	"2.1.2006",
	"1.2.2006",
	"Jan 2, 2006",
	"January 2, 2006",
	"2 Jan 2006",
	"02-Jan-2006",
	"1/2/06",
	"2/1/06",
	"2.1.06",
	"02-Jan-06",
}

// dateTokens converts human date patterns to Go layouts. Order matters:
// longer tokens must win over their prefixes.
var dateTokens = strings.NewReplacer(
	"YYYY", "2006",
	"YY", "06",
	"MMMM", "January",
	"MMM", "Jan",
	"MM", "01",
	"M", "1",
	"DD", "02",
	"D", "2",
)

// NormalizeDateLayout returns a Go time layout for pattern. Patterns written
// with YYYY/MM/DD tokens are translated; anything else is assumed to already
// be a Go layout.
func NormalizeDateLayout(pattern string) string {
	p := strings.TrimSpace(pattern)
	if p == "" {
		return ""
	}
	if strings.Contains(p, "YY") || strings.Contains(p, "DD") || strings.Contains(p, "MM") {
		return dateTokens.Replace(p)
	}
	return p
}

// ParseDate parses s with layout and adjusts 2-digit years around the pivot.
func ParseDate(s, layout string) (time.Time, error) {
	s = CleanCell(s)
	if s == "" {
		return time.Time{}, errEmptyValue
	}
	t, err := time.Parse(layout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q does not match %s", errNotDate, s, layout)
	}
	if !strings.Contains(layout, "2006") {
		if t.Year() > time.Now().Year()+TwoDigitYearPivot {
			t = t.AddDate(-100, 0, 0)
		}
	}
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), nil
}

// InferDateLayout picks the first layout that parses every non-empty value.
// If none does, the layout that parses the most values wins. It returns ""
// when nothing parses at all.
func InferDateLayout(values []string) string {
	best, bestHits := "", 0
	nonEmpty := 0
	for _, v := range values {
		if CleanCell(v) != "" {
			nonEmpty++
		}
	}
	if nonEmpty == 0 {
		return ""
	}

	for _, layout := range dateLayouts {
		hits := 0
		for _, v := range values {
			v = CleanCell(v)
			if v == "" {
				continue
			}
			if _, err := time.Parse(layout, v); err == nil {
				hits++
			}
		}
		if hits == nonEmpty {
			return layout
		}
		if hits > bestHits {
			best, bestHits = layout, hits
		}
	}
	return best
}

// ParseAmount converts a cell to a decimal. decimalSep is "." or ",".
func ParseAmount(s, decimalSep string) (decimal.Decimal, error) {
	raw := s
	s = CleanCell(s)
	if s == "" {
		return decimal.Zero, errEmptyValue
	}
	if decimalSep == "" {
		decimalSep = "."
	}
	if decimalSep != "." && decimalSep != "," {
		return decimal.Zero, errBadSeparator
	}

	negative := false
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		negative = true
		s = strings.TrimSpace(s[1 : len(s)-1])
	}

	for _, sym := range currencySymbols {
		s = strings.ReplaceAll(s, sym, "")
	}
	s = strings.TrimSpace(s)

	// Thousands separators: whatever is not the decimal separator.
	s = strings.NewReplacer(" ", "", "\u00a0", "", "'", "").Replace(s)
	if decimalSep == "," {
		s = strings.ReplaceAll(s, ".", "")
		s = strings.ReplaceAll(s, ",", ".")
	} else {
		s = strings.ReplaceAll(s, ",", "")
	}

	if negative {
		if strings.HasPrefix(s, "-") || strings.HasPrefix(s, "+") {
			return decimal.Zero, fmt.Errorf("%w: %q", errNotNumeric, raw)
		}
		s = "-" + s
	}
	s = strings.TrimPrefix(s, "+")

	if !amountRegex.MatchString(s) {
		return decimal.Zero, fmt.Errorf("%w: %q", errNotNumeric, raw)
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %q", errNotNumeric, raw)
	}
	return d, nil
}

// CleanCell removes common spreadsheet artifacts from a cell:
// surrounding whitespace, the Excel formula prefix (="...") and stray quotes.
func CleanCell(s string) string {
	s = strings.TrimSpace(s)

	if strings.HasPrefix(s, "=\"") && strings.HasSuffix(s, "\"") {
		s = s[2 : len(s)-1]
	} else if strings.HasPrefix(s, "=") {
		s = s[1:]
	}

	s = strings.Trim(s, `"'`)
	return strings.TrimSpace(s)
}
