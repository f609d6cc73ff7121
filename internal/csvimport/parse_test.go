package csvimport

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/JonMunkholm/ledgersync/internal/ledger"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var basicMapping = ledger.ColumnMapping{
	FieldDate:        "Date",
	FieldAmount:      "Amount",
	FieldDescription: "Desc",
	FieldReference:   "Ref",
}

func TestParse_MixedValidAndInvalidRows(t *testing.T) {
	content := []byte("Date,Amount,Desc,Ref\n2024-01-01,100.00,Coffee,R1\n2024-01-02,abc,Lunch,R2\n")

	res, err := Parse(content, basicMapping, ledger.FormatConfig{})
	require.NoError(t, err)

	assert.Equal(t, Summary{TotalRows: 2, ValidRows: 1, InvalidRows: 1}, res.Summary)
	require.Len(t, res.Records, 1)
	rec := res.Records[0]
	assert.True(t, decimal.RequireFromString("100.00").Equal(rec.Amount))
	assert.Equal(t, "R1", rec.ExternalID)
	assert.Equal(t, "Coffee", rec.Description)
	assert.Equal(t, ledger.Credit, rec.Type)
	assert.Equal(t, "USD", rec.Currency)
	assert.Equal(t, ledger.SourceFile, rec.Source)
	assert.True(t, rec.Date.Equal(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)))

	require.Len(t, res.Errors, 1)
	assert.Equal(t, 2, res.Errors[0].Row)
	assert.Equal(t, FieldAmount, res.Errors[0].Field)
	assert.Equal(t, "abc", res.Errors[0].Value)
}

func TestParse_RowIsolation(t *testing.T) {
	var b strings.Builder
	b.WriteString("Date,Amount,Desc,Ref\n")
	for i := 1; i <= 10; i++ {
		amount := fmt.Sprintf("%d.00", i)
		if i == 5 {
			amount = "five"
		}
		fmt.Fprintf(&b, "2024-01-%02d,%s,item %d,R%d\n", i, amount, i, i)
	}

	res, err := Parse([]byte(b.String()), basicMapping, ledger.FormatConfig{})
	require.NoError(t, err)

	assert.Len(t, res.Records, 9)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, 5, res.Errors[0].Row)
	for _, rec := range res.Records {
		assert.NotEqual(t, "R5", rec.ExternalID)
	}
}

func TestParse_DateFailureFailsRow(t *testing.T) {
	content := []byte("Date,Amount\n2024-01-01,1\nnot a date,2\n,3\n")

	res, err := Parse(content, ledger.ColumnMapping{FieldDate: "Date", FieldAmount: "Amount"}, ledger.FormatConfig{})
	require.NoError(t, err)

	assert.Equal(t, 1, res.Summary.ValidRows)
	require.Len(t, res.Errors, 2)
	assert.Equal(t, 2, res.Errors[0].Row)
	assert.Equal(t, 3, res.Errors[1].Row)
	assert.Equal(t, "date is required", res.Errors[1].Message)
}

func TestParse_ConfiguredFormat(t *testing.T) {
	content := []byte("Datum;Betrag;Text\n31.01.2024;-1.234,56;Miete\n01.02.2024;50,00;Gehalt\n")
	mapping := ledger.ColumnMapping{FieldDate: "datum", FieldAmount: "BETRAG", FieldDescription: "Text"}
	cfg := ledger.FormatConfig{
		Delimiter:        ";",
		DateFormat:       "DD.MM.YYYY",
		DecimalSeparator: ",",
		Currency:         "eur",
		SignedAmounts:    true,
	}

	res, err := Parse(content, mapping, cfg)
	require.NoError(t, err)
	require.Len(t, res.Records, 2)

	rent := res.Records[0]
	assert.True(t, decimal.RequireFromString("-1234.56").Equal(rent.Amount))
	assert.Equal(t, ledger.Debit, rent.Type)
	assert.Equal(t, "EUR", rent.Currency)
	assert.True(t, rent.Date.Equal(time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC)))

	assert.Equal(t, ledger.Credit, res.Records[1].Type)
	assert.Equal(t, "02.01.2006", res.DateLayout)
}

func TestParse_TypeColumn(t *testing.T) {
	content := []byte("Date,Amount,Type\n2024-01-01,10,DR\n2024-01-02,10,Credit\n2024-01-03,10,sideways\n")
	mapping := ledger.ColumnMapping{FieldDate: "Date", FieldAmount: "Amount", FieldType: "Type"}

	res, err := Parse(content, mapping, ledger.FormatConfig{})
	require.NoError(t, err)
	require.Len(t, res.Records, 3)

	assert.Equal(t, ledger.Debit, res.Records[0].Type)
	assert.Equal(t, ledger.Credit, res.Records[1].Type)
	assert.Equal(t, ledger.Credit, res.Records[2].Type)
	require.Len(t, res.Warnings, 1)
	assert.Equal(t, FieldType, res.Warnings[0].Field)
	assert.Equal(t, 3, res.Warnings[0].Row)
}

func TestParse_Warnings(t *testing.T) {
	content := []byte("Date,Amount,Desc,Ref,Currency\n" +
		"2024-01-01,1.005,,R1,USD\n" +
		"2024-01-02,2,Ok,R1,XXQ\n" +
		"2024-01-03,3,Ok,R3,\n")
	mapping := ledger.ColumnMapping{
		FieldDate: "Date", FieldAmount: "Amount", FieldDescription: "Desc",
		FieldReference: "Ref", FieldCurrency: "Currency",
	}

	res, err := Parse(content, mapping, ledger.FormatConfig{})
	require.NoError(t, err)
	assert.Len(t, res.Records, 3)
	assert.Empty(t, res.Errors)

	byRow := map[int][]string{}
	for _, w := range res.Warnings {
		byRow[w.Row] = append(byRow[w.Row], w.Field)
	}
	assert.ElementsMatch(t, []string{FieldDescription, FieldAmount}, byRow[1])
	assert.ElementsMatch(t, []string{FieldCurrency, FieldReference}, byRow[2])
	assert.ElementsMatch(t, []string{FieldCurrency}, byRow[3])

	assert.Equal(t, "XXQ", res.Records[1].Currency)
	assert.Equal(t, "USD", res.Records[2].Currency)
}

func TestParse_FingerprintIsStableAcrossReordering(t *testing.T) {
	mapping := ledger.ColumnMapping{FieldDate: "Date", FieldAmount: "Amount", FieldDescription: "Desc"}
	a := []byte("Date,Amount,Desc\n2024-01-01,5,Tea\n2024-01-02,7,Cake\n2024-01-01,5,Tea\n")
	b := []byte("Date,Amount,Desc\n2024-01-02,7,Cake\n2024-01-01,5,Tea\n2024-01-01,5.00,Tea\n")

	ra, err := Parse(a, mapping, ledger.FormatConfig{})
	require.NoError(t, err)
	rb, err := Parse(b, mapping, ledger.FormatConfig{})
	require.NoError(t, err)

	ids := func(r *Result) []string {
		var out []string
		for _, rec := range r.Records {
			assert.True(t, strings.HasPrefix(rec.ExternalID, "fp-"))
			out = append(out, rec.ExternalID)
		}
		return out
	}
	idsA, idsB := ids(ra), ids(rb)
	assert.ElementsMatch(t, idsA, idsB)
	assert.NotEqual(t, idsA[0], idsA[2], "identical rows need distinct ids")
}

func TestParse_RowFallbackID(t *testing.T) {
	content := []byte("Date,Amount\n2024-01-01,1\n,\n2024-01-02,2\n")

	res, err := Parse(content, ledger.ColumnMapping{FieldDate: "Date", FieldAmount: "Amount"},
		ledger.FormatConfig{FallbackID: FallbackRow})
	require.NoError(t, err)
	require.Len(t, res.Records, 2)

	assert.Equal(t, "row-1", res.Records[0].ExternalID)
	assert.Equal(t, "row-3", res.Records[1].ExternalID)
	assert.Equal(t, 2, res.Summary.TotalRows)
}

func TestParse_UnmappedColumnsKeptAsMetadata(t *testing.T) {
	content := []byte("Date,Amount,Category\n2024-01-01,1,Food\n")

	res, err := Parse(content, ledger.ColumnMapping{FieldDate: "Date", FieldAmount: "Amount"}, ledger.FormatConfig{})
	require.NoError(t, err)
	require.Len(t, res.Records, 1)

	meta := res.Records[0].Metadata
	assert.Equal(t, 1, meta["row"])
	assert.Equal(t, map[string]string{"Category": "Food"}, meta["columns"])
}

func TestParse_StructuralFailures(t *testing.T) {
	tests := []struct {
		name    string
		content string
		mapping ledger.ColumnMapping
		cfg     ledger.FormatConfig
	}{
		{"empty content", "", basicMapping, ledger.FormatConfig{}},
		{"missing column", "Date,Amount\n2024-01-01,1\n", ledger.ColumnMapping{FieldDate: "Date", FieldAmount: "Total"}, ledger.FormatConfig{}},
		{"no amount mapping", "Date,Amount\n2024-01-01,1\n", ledger.ColumnMapping{FieldDate: "Date"}, ledger.FormatConfig{}},
		{"unknown field", "Date,Amount\n2024-01-01,1\n", ledger.ColumnMapping{FieldDate: "Date", FieldAmount: "Amount", "color": "Date"}, ledger.FormatConfig{}},
		{"bad delimiter", "Date,Amount\n2024-01-01,1\n", basicMapping, ledger.FormatConfig{Delimiter: ",,"}},
		{"unknown currency", "Date,Amount\n2024-01-01,1\n", ledger.ColumnMapping{FieldDate: "Date", FieldAmount: "Amount"}, ledger.FormatConfig{Currency: "ZZZ"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := Parse([]byte(tt.content), tt.mapping, tt.cfg)
			require.ErrorIs(t, err, ErrStructural)
			require.NotNil(t, res)
			assert.Empty(t, res.Records)
		})
	}
}

func TestParse_NoValidRecords(t *testing.T) {
	res, err := Parse([]byte("Date,Amount\n2024-01-01,x\n2024-01-02,y\n"),
		ledger.ColumnMapping{FieldDate: "Date", FieldAmount: "Amount"}, ledger.FormatConfig{})

	require.ErrorIs(t, err, ErrNoValidRecords)
	assert.Equal(t, Summary{TotalRows: 2, ValidRows: 0, InvalidRows: 2}, res.Summary)
	assert.Len(t, res.Errors, 2)
}

func TestParse_HeaderOnly(t *testing.T) {
	_, err := Parse([]byte("Date,Amount\n"), ledger.ColumnMapping{FieldDate: "Date", FieldAmount: "Amount"}, ledger.FormatConfig{})
	require.ErrorIs(t, err, ErrNoValidRecords)
}

func TestResult_Details(t *testing.T) {
	r := &Result{
		Errors:   []RowIssue{{Row: 2, Field: "amount", Message: "amount is not a number"}},
		Warnings: []RowIssue{{Row: 3, Message: "odd"}},
	}
	assert.Equal(t, []string{"row 2: amount: amount is not a number", "warning: row 3: odd"}, r.Details())
}
