package csvimport

import (
	"testing"

	"github.com/JonMunkholm/ledgersync/internal/ledger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetect_SuggestsMappingAndSamples(t *testing.T) {
	content := []byte("Transaction Date,Amount,Desc,Ref,Balance\n" +
		"2024-01-01,100.00,Coffee,R1,900\n" +
		"2024-01-02,-5.50,Bus,R2,894.5\n")

	det := Detect(content)

	assert.Equal(t, []string{"Transaction Date", "Amount", "Desc", "Ref", "Balance"}, det.Columns)
	assert.Equal(t, ledger.ColumnMapping{
		FieldDate:        "Transaction Date",
		FieldAmount:      "Amount",
		FieldDescription: "Desc",
		FieldReference:   "Ref",
	}, det.SuggestedMapping)
	require.Len(t, det.SampleRows, 2)
	assert.Equal(t, []string{"2024-01-01", "100.00", "Coffee", "R1", "900"}, det.SampleRows[0])
	assert.Equal(t, ",", det.Delimiter)
	assert.Equal(t, "2006-01-02", det.DateFormat)
}

func TestDetect_CaseAndPunctuationInsensitive(t *testing.T) {
	det := Detect([]byte("POSTING_DATE;  AMT ;Memo;Dr/Cr;CCY\n01.02.2024;1,5;x;D;EUR\n"))

	assert.Equal(t, ";", det.Delimiter)
	assert.Equal(t, "POSTING_DATE", det.SuggestedMapping[FieldDate])
	assert.Equal(t, "AMT", det.SuggestedMapping[FieldAmount])
	assert.Equal(t, "Memo", det.SuggestedMapping[FieldDescription])
	assert.Equal(t, "Dr/Cr", det.SuggestedMapping[FieldType])
	assert.Equal(t, "CCY", det.SuggestedMapping[FieldCurrency])
	assert.Equal(t, "2.1.2006", det.DateFormat)
}

func TestDetect_UnmatchedFieldsStayUnmapped(t *testing.T) {
	det := Detect([]byte("foo,bar\n1,2\n"))

	assert.Equal(t, []string{"foo", "bar"}, det.Columns)
	assert.Empty(t, det.SuggestedMapping)
}

func TestDetect_EachColumnMapsOnce(t *testing.T) {
	// "Amount Date" could match both fields by containment; exact matches
	// claim their columns first.
	det := Detect([]byte("Date,Amount,Amount Date\n2024-01-01,1,2024-01-01\n"))

	assert.Equal(t, "Date", det.SuggestedMapping[FieldDate])
	assert.Equal(t, "Amount", det.SuggestedMapping[FieldAmount])

	seen := map[string]bool{}
	for _, col := range det.SuggestedMapping {
		assert.False(t, seen[col], "column %q mapped twice", col)
		seen[col] = true
	}
}

func TestDetect_SampleRowLimit(t *testing.T) {
	content := "date,amount\n"
	for i := 0; i < 20; i++ {
		content += "2024-01-01,1\n"
	}

	det := Detect([]byte(content))
	assert.Len(t, det.SampleRows, SampleRowLimit)
}

func TestDetect_NeverFails(t *testing.T) {
	tests := []struct {
		name    string
		content []byte
	}{
		{"nil", nil},
		{"empty", []byte{}},
		{"whitespace", []byte("   \n\n  ")},
		{"binary", []byte{0x00, 0xFF, 0xFE, 0x01}},
		{"unterminated quote", []byte("\"a,b\nc")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			det := Detect(tt.content)
			assert.NotNil(t, det.Columns)
			assert.NotNil(t, det.SuggestedMapping)
		})
	}
}

func TestDetectDelimiter(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    rune
	}{
		{"comma", "a,b,c\n1,2,3\n", ','},
		{"semicolon with decimal commas", "a;b\n1,5;2,5\n", ';'},
		{"tab", "a\tb\n1\t2\n", '\t'},
		{"pipe", "a|b|c\n1|2|3\n", '|'},
		{"single column", "a\n1\n", ','},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DetectDelimiter([]byte(tt.content)))
		})
	}
}
