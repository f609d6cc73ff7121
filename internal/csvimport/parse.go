package csvimport

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/JonMunkholm/ledgersync/internal/ledger"
	"github.com/Rhymond/go-money"
	"github.com/shopspring/decimal"
)

var (
	// ErrStructural means the content cannot be read as a table or the
	// mapping does not fit it. No row was evaluated.
	ErrStructural = errors.New("file structure is invalid")

	// ErrNoValidRecords means every data row failed, or there were none.
	ErrNoValidRecords = errors.New("no valid records in file")
)

// DefaultCurrency applies when neither the row nor the format names one.
const DefaultCurrency = "USD"

// Fallback external id strategies.
const (
	FallbackFingerprint = "fingerprint"
	FallbackRow         = "row"
)

// RowIssue is a problem with one cell or row. Row is 1-indexed, header excluded.
type RowIssue struct {
	Row     int    `json:"row"`
	Field   string `json:"field,omitempty"`
	Value   string `json:"value,omitempty"`
	Message string `json:"message"`
}

func (i RowIssue) String() string {
	if i.Field == "" {
		return fmt.Sprintf("row %d: %s", i.Row, i.Message)
	}
	return fmt.Sprintf("row %d: %s: %s", i.Row, i.Field, i.Message)
}

// Summary aggregates row outcomes.
type Summary struct {
	TotalRows   int `json:"totalRows"`
	ValidRows   int `json:"validRows"`
	InvalidRows int `json:"invalidRows"`
}

// Result is the outcome of Parse. Records carry only parsed fields; the
// caller stamps tenant, connection, account and job before writing.
type Result struct {
	Records    []ledger.Transaction `json:"-"`
	Errors     []RowIssue           `json:"errors"`
	Warnings   []RowIssue           `json:"warnings"`
	Summary    Summary              `json:"summary"`
	Delimiter  string               `json:"delimiter"`
	DateLayout string               `json:"dateLayout"`
}

// Details flattens errors then warnings into display strings.
func (r *Result) Details() []string {
	out := make([]string, 0, len(r.Errors)+len(r.Warnings))
	for _, e := range r.Errors {
		out = append(out, e.String())
	}
	for _, w := range r.Warnings {
		out = append(out, "warning: "+w.String())
	}
	return out
}

var (
	debitWords  = map[string]bool{"debit": true, "dr": true, "d": true, "withdrawal": true, "payment": true, "purchase": true, "expense": true, "charge": true, "out": true, "outflow": true, "-": true}
	creditWords = map[string]bool{"credit": true, "cr": true, "c": true, "deposit": true, "income": true, "refund": true, "in": true, "inflow": true, "+": true}
)

// parseTxType maps a type cell to a direction.
func parseTxType(s string) (ledger.TxType, bool) {
	k := foldKey(s)
	switch {
	case debitWords[k]:
		return ledger.Debit, true
	case creditWords[k]:
		return ledger.Credit, true
	}
	return "", false
}

// Parse applies mapping and cfg to content. Bad rows are reported and
// skipped; the batch fails only with ErrStructural or ErrNoValidRecords, and
// even then the Result is returned for inspection.
func Parse(content []byte, mapping ledger.ColumnMapping, cfg ledger.FormatConfig) (*Result, error) {
	res := &Result{Errors: []RowIssue{}, Warnings: []RowIssue{}}

	content = Sanitize(content)

	delim, err := resolveDelimiter(content, cfg.Delimiter)
	if err != nil {
		return res, err
	}
	res.Delimiter = string(delim)

	rows, err := newReader(content, delim).ReadAll()
	if err != nil {
		return res, fmt.Errorf("%w: %v", ErrStructural, err)
	}
	if len(rows) == 0 || blankRow(rows[0]) {
		return res, fmt.Errorf("%w: missing header row", ErrStructural)
	}

	cols, err := resolveColumns(rows[0], mapping)
	if err != nil {
		return res, err
	}

	currency := strings.ToUpper(strings.TrimSpace(cfg.Currency))
	if currency == "" {
		currency = DefaultCurrency
	}
	if money.GetCurrency(currency) == nil {
		return res, fmt.Errorf("%w: unknown currency %q", ErrStructural, cfg.Currency)
	}

	layout := NormalizeDateLayout(cfg.DateFormat)
	if layout == "" {
		layout = InferDateLayout(columnValues(rows[1:], cols[FieldDate]))
	}
	res.DateLayout = layout

	p := &rowParser{
		cols:       cols,
		header:     rows[0],
		cfg:        cfg,
		currency:   currency,
		layout:     layout,
		res:        res,
		refs:       make(map[string]int),
		occurrence: make(map[string]int),
	}

	for i, row := range rows[1:] {
		if blankRow(row) {
			continue
		}
		res.Summary.TotalRows++
		p.parseRow(i+1, row)
	}

	res.Summary.ValidRows = len(res.Records)
	res.Summary.InvalidRows = res.Summary.TotalRows - res.Summary.ValidRows

	if res.Summary.TotalRows == 0 {
		return res, fmt.Errorf("%w: file has no data rows", ErrNoValidRecords)
	}
	if res.Summary.ValidRows == 0 {
		return res, fmt.Errorf("%w: all %d rows failed", ErrNoValidRecords, res.Summary.TotalRows)
	}
	return res, nil
}

func resolveDelimiter(content []byte, configured string) (rune, error) {
	if configured == "" {
		return DetectDelimiter(content), nil
	}
	if configured == `\t` || strings.EqualFold(configured, "tab") {
		return '\t', nil
	}
	r, size := utf8.DecodeRuneInString(configured)
	if size != len(configured) || r == '"' || r == '\r' || r == '\n' || r == utf8.RuneError {
		return 0, fmt.Errorf("%w: invalid delimiter %q", ErrStructural, configured)
	}
	return r, nil
}

// resolveColumns maps each canonical field to its column index. Header
// names compare case-insensitively.
func resolveColumns(header []string, mapping ledger.ColumnMapping) (map[string]int, error) {
	index := make(map[string]int, len(header))
	for i, h := range header {
		k := foldKey(h)
		if _, dup := index[k]; !dup {
			index[k] = i
		}
	}

	known := make(map[string]bool, len(Fields))
	for _, f := range Fields {
		known[f] = true
	}

	var problems []string
	cols := make(map[string]int, len(mapping))
	for field, column := range mapping {
		if !known[field] {
			problems = append(problems, fmt.Sprintf("unknown field %q", field))
			continue
		}
		if strings.TrimSpace(column) == "" {
			continue
		}
		idx, ok := index[foldKey(column)]
		if !ok {
			problems = append(problems, fmt.Sprintf("column %q for %s not found in header", column, field))
			continue
		}
		cols[field] = idx
	}
	for _, required := range []string{FieldDate, FieldAmount} {
		if _, ok := mapping[required]; !ok || strings.TrimSpace(mapping[required]) == "" {
			problems = append(problems, fmt.Sprintf("mapping for %s is required", required))
		}
	}

	if len(problems) > 0 {
		sort.Strings(problems)
		return nil, fmt.Errorf("%w: %s", ErrStructural, strings.Join(problems, "; "))
	}
	return cols, nil
}

func columnValues(rows [][]string, col int) []string {
	out := make([]string, 0, len(rows))
	for _, row := range rows {
		if col < len(row) {
			out = append(out, row[col])
		}
	}
	return out
}

type rowParser struct {
	cols       map[string]int
	header     []string
	cfg        ledger.FormatConfig
	currency   string
	layout     string
	res        *Result
	refs       map[string]int
	occurrence map[string]int
}

func (p *rowParser) cell(row []string, field string) (string, bool) {
	idx, ok := p.cols[field]
	if !ok {
		return "", false
	}
	if idx >= len(row) {
		return "", true
	}
	return CleanCell(row[idx]), true
}

func (p *rowParser) fail(n int, field, value, msg string) {
	p.res.Errors = append(p.res.Errors, RowIssue{Row: n, Field: field, Value: value, Message: msg})
}

func (p *rowParser) warn(n int, field, value, msg string) {
	p.res.Warnings = append(p.res.Warnings, RowIssue{Row: n, Field: field, Value: value, Message: msg})
}

func (p *rowParser) parseRow(n int, row []string) {
	valid := true

	rawAmount, _ := p.cell(row, FieldAmount)
	amount, err := ParseAmount(rawAmount, p.cfg.DecimalSeparator)
	if err != nil {
		p.fail(n, FieldAmount, rawAmount, amountMessage(err))
		valid = false
	}

	rawDate, _ := p.cell(row, FieldDate)
	var date time.Time
	if p.layout == "" {
		p.fail(n, FieldDate, rawDate, "date format could not be recognized")
		valid = false
	} else if date, err = ParseDate(rawDate, p.layout); err != nil {
		msg := "date does not match format " + p.layout
		if errors.Is(err, errEmptyValue) {
			msg = "date is required"
		}
		p.fail(n, FieldDate, rawDate, msg)
		valid = false
	}

	if !valid {
		return
	}

	desc, mapped := p.cell(row, FieldDescription)
	if mapped && desc == "" {
		p.warn(n, FieldDescription, "", "description is empty")
	}

	currency := p.currency
	if raw, mapped := p.cell(row, FieldCurrency); mapped {
		switch code := strings.ToUpper(raw); {
		case code == "":
			p.warn(n, FieldCurrency, "", "currency is empty, using "+p.currency)
		case money.GetCurrency(code) == nil:
			p.warn(n, FieldCurrency, raw, "unknown currency code")
			currency = code
		default:
			currency = code
		}
	}
	if c := money.GetCurrency(currency); c != nil && -amount.Exponent() > int32(c.Fraction) {
		p.warn(n, FieldAmount, rawAmount, fmt.Sprintf("amount has more than %d decimal places for %s", c.Fraction, currency))
	}

	txType := ledger.Credit
	if p.cfg.SignedAmounts && amount.IsNegative() {
		txType = ledger.Debit
	}
	if raw, mapped := p.cell(row, FieldType); mapped && raw != "" {
		if t, ok := parseTxType(raw); ok {
			txType = t
		} else {
			p.warn(n, FieldType, raw, "unrecognized transaction type, using "+string(txType))
		}
	}

	externalID, _ := p.cell(row, FieldReference)
	if externalID != "" {
		if first, seen := p.refs[externalID]; seen {
			p.warn(n, FieldReference, externalID, fmt.Sprintf("duplicate reference, also on row %d", first))
		} else {
			p.refs[externalID] = n
		}
	} else {
		externalID = p.fallbackID(n, date.Format("2006-01-02"), amount, desc)
	}

	meta := map[string]any{"row": n}
	if extra := p.unmapped(row); len(extra) > 0 {
		meta["columns"] = extra
	}

	p.res.Records = append(p.res.Records, ledger.Transaction{
		ExternalID:  externalID,
		Date:        date,
		Amount:      amount,
		Currency:    currency,
		Description: desc,
		Type:        txType,
		Source:      ledger.SourceFile,
		Metadata:    meta,
	})
}

// fallbackID synthesizes an external id for a row with no reference. The
// fingerprint hashes the row's content plus how many identical rows came
// before it, so a reordered file yields the same ids.
func (p *rowParser) fallbackID(n int, date string, amount decimal.Decimal, desc string) string {
	if p.cfg.FallbackID == FallbackRow {
		return fmt.Sprintf("row-%d", n)
	}
	return Fingerprint(date, amount, desc, p.nextOccurrence(date, amount, desc))
}

func (p *rowParser) nextOccurrence(date string, amount decimal.Decimal, desc string) int {
	key := date + "|" + amount.String() + "|" + desc
	occ := p.occurrence[key]
	p.occurrence[key] = occ + 1
	return occ
}

// Fingerprint is the content-derived external id for a row without a reference.
func Fingerprint(date string, amount decimal.Decimal, desc string, occurrence int) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%s|%d", date, amount.String(), desc, occurrence)))
	return "fp-" + hex.EncodeToString(sum[:16])
}

func (p *rowParser) unmapped(row []string) map[string]string {
	mapped := make(map[int]bool, len(p.cols))
	for _, idx := range p.cols {
		mapped[idx] = true
	}
	out := map[string]string{}
	for i, v := range row {
		if mapped[i] || i >= len(p.header) {
			continue
		}
		if v = CleanCell(v); v != "" {
			out[CleanCell(p.header[i])] = v
		}
	}
	return out
}

func amountMessage(err error) string {
	switch {
	case errors.Is(err, errEmptyValue):
		return "amount is required"
	case errors.Is(err, errBadSeparator):
		return err.Error()
	default:
		return "amount is not a number"
	}
}
