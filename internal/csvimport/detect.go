package csvimport

import (
	"bytes"
	"encoding/csv"
	"strings"
	"unicode"

	"github.com/JonMunkholm/ledgersync/internal/ledger"
	"golang.org/x/text/cases"
)

// Canonical fields a column mapping may target.
const (
	FieldDate        = "date"
	FieldAmount      = "amount"
	FieldDescription = "description"
	FieldType        = "type"
	FieldReference   = "reference"
	FieldCurrency    = "currency"
)

// Fields lists the canonical fields in matching priority order.
var Fields = []string{FieldDate, FieldAmount, FieldDescription, FieldType, FieldReference, FieldCurrency}

// SampleRowLimit caps the rows returned for user confirmation.
const SampleRowLimit = 5

// inferenceRowLimit caps how many rows feed date layout inference.
const inferenceRowLimit = 200

// candidateDelimiters are tried in order; the first wins ties.
var candidateDelimiters = []rune{',', ';', '\t', '|'}

// synonyms maps each canonical field to header spellings seen in bank and
// accounting exports. Entries are compared after normalizeHeader.
var synonyms = map[string][]string{
	FieldDate: {
		"date", "transaction date", "trans date", "txn date", "posting date",
		"posted date", "post date", "booking date", "value date", "datum",
	},
	FieldAmount: {
		"amount", "amt", "transaction amount", "txn amount", "value", "sum",
		"net amount", "betrag", "importe", "montant",
	},
	FieldDescription: {
		"description", "desc", "memo", "narrative", "details", "payee",
		"merchant", "particulars", "transaction description", "text", "name",
	},
	FieldType: {
		"type", "transaction type", "txn type", "dr/cr", "cr/dr",
		"debit/credit", "direction", "credit/debit",
	},
	FieldReference: {
		"reference", "ref", "ref no", "reference number", "transaction id",
		"txn id", "id", "external id", "fitid", "check number",
	},
	FieldCurrency: {
		"currency", "ccy", "currency code", "cur", "waehrung",
	},
}

// normalizeHeader folds case and drops everything but letters and digits, so
// "Trans. Date" and "TRANS_DATE" compare equal.
func normalizeHeader(s string) string {
	s = foldKey(s)
	var b strings.Builder
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Detection is what Detect learned about a file.
type Detection struct {
	Columns          []string             `json:"columns"`
	SampleRows       [][]string           `json:"sampleRows"`
	SuggestedMapping ledger.ColumnMapping `json:"suggestedMapping"`
	Delimiter        string               `json:"delimiter"`
	DateFormat       string               `json:"dateFormat,omitempty"`
}

// Detect discovers columns, a few sample rows, and a suggested mapping. It
// never fails: unreadable content yields an empty Detection.
func Detect(content []byte) Detection {
	det := Detection{
		Columns:          []string{},
		SampleRows:       [][]string{},
		SuggestedMapping: ledger.ColumnMapping{},
		Delimiter:        ",",
	}

	content = Sanitize(content)
	if len(bytes.TrimSpace(content)) == 0 {
		return det
	}

	delim := DetectDelimiter(content)
	det.Delimiter = string(delim)

	r := newReader(content, delim)
	header, err := r.Read()
	if err != nil {
		return det
	}
	for _, h := range header {
		det.Columns = append(det.Columns, CleanCell(h))
	}
	det.SuggestedMapping = SuggestMapping(det.Columns)

	dateCol := -1
	if col, ok := det.SuggestedMapping[FieldDate]; ok {
		dateCol = indexOf(det.Columns, col)
	}

	var dates []string
	for n := 0; n < inferenceRowLimit; n++ {
		row, err := r.Read()
		if err != nil {
			// Malformed rows past the header are the parser's problem.
			break
		}
		if blankRow(row) {
			continue
		}
		if len(det.SampleRows) < SampleRowLimit {
			cells := make([]string, len(row))
			for i, c := range row {
				cells[i] = CleanCell(c)
			}
			det.SampleRows = append(det.SampleRows, cells)
		}
		if dateCol >= 0 && dateCol < len(row) {
			dates = append(dates, row[dateCol])
		}
	}
	det.DateFormat = InferDateLayout(dates)

	return det
}

// SuggestMapping matches headers against the synonym table. Exact matches are
// assigned first; a second pass lets a header containing a synonym fill any
// field still open. Each column maps to at most one field.
func SuggestMapping(columns []string) ledger.ColumnMapping {
	mapping := ledger.ColumnMapping{}
	used := make([]bool, len(columns))
	norm := make([]string, len(columns))
	for i, c := range columns {
		norm[i] = normalizeHeader(c)
	}

	assign := func(match func(header, syn string) bool) {
		for _, field := range Fields {
			if _, done := mapping[field]; done {
				continue
			}
		search:
			for _, syn := range synonyms[field] {
				s := normalizeHeader(syn)
				for i, h := range norm {
					if used[i] || h == "" {
						continue
					}
					if match(h, s) {
						mapping[field] = columns[i]
						used[i] = true
						break search
					}
				}
			}
		}
	}

	assign(func(h, s string) bool { return h == s })
	assign(func(h, s string) bool { return len(s) >= 4 && strings.Contains(h, s) })

	return mapping
}

// DetectDelimiter picks the candidate that splits the first lines into the
// same number of fields (more than one) on every line. If none is
// consistent, the one giving the widest header wins; the fallback is comma.
func DetectDelimiter(content []byte) rune {
	lines := firstLines(content, 10)
	if len(lines) == 0 {
		return ','
	}
	sample := []byte(strings.Join(lines, "\n"))

	best, bestWidth := ',', 0
	fallback, fallbackWidth := ',', 1
	for _, d := range candidateDelimiters {
		records, err := newReader(sample, d).ReadAll()
		if err != nil || len(records) == 0 {
			continue
		}
		width := len(records[0])
		if width > fallbackWidth {
			fallback, fallbackWidth = d, width
		}
		consistent := width > 1
		for _, rec := range records[1:] {
			if len(rec) != width {
				consistent = false
				break
			}
		}
		if consistent && width > bestWidth {
			best, bestWidth = d, width
		}
	}
	if bestWidth > 0 {
		return best
	}
	return fallback
}

// foldKey is the case-insensitive form of a header. A Caser carries state, so
// one is made per call.
func foldKey(s string) string {
	return cases.Fold().String(CleanCell(s))
}

func firstLines(content []byte, n int) []string {
	var out []string
	for _, line := range strings.Split(string(content), "\n") {
		line = strings.TrimRight(line, "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		out = append(out, line)
		if len(out) == n {
			break
		}
	}
	return out
}

func newReader(content []byte, delim rune) *csv.Reader {
	r := csv.NewReader(bytes.NewReader(content))
	r.Comma = delim
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	return r
}

func blankRow(row []string) bool {
	for _, c := range row {
		if CleanCell(c) != "" {
			return false
		}
	}
	return true
}

func indexOf(columns []string, name string) int {
	for i, c := range columns {
		if c == name {
			return i
		}
	}
	return -1
}
