package csvimport

import (
	"testing"
	"time"
)

// ----------------------------------------------------------------------------
// ParseAmount Tests
// ----------------------------------------------------------------------------

func TestParseAmount(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		sep     string
		wantErr bool
		want    string
	}{
		{name: "integer", input: "123", want: "123"},
		{name: "negative", input: "-456", want: "-456"},
		{name: "decimal", input: "123.45", want: "123.45"},
		{name: "leading decimal point", input: ".99", want: "0.99"},
		{name: "dollar with thousands", input: "$1,234.56", want: "1234.56"},
		{name: "euro sign", input: "€1234.56", want: "1234.56"},
		{name: "pound sign", input: "£1234.56", want: "1234.56"},
		{name: "accounting negative", input: "(1,234.56)", want: "-1234.56"},
		{name: "accounting negative with currency", input: "($50.00)", want: "-50"},
		{name: "explicit plus", input: "+10.5", want: "10.5"},
		{name: "excel formula prefix", input: `="42.10"`, want: "42.1"},
		{name: "decimal comma", input: "1.234,56", sep: ",", want: "1234.56"},
		{name: "decimal comma with spaces", input: "1 234,56", sep: ",", want: "1234.56"},
		{name: "swiss apostrophe", input: "1'234.50", want: "1234.5"},

		{name: "empty", input: "", wantErr: true},
		{name: "whitespace", input: "   ", wantErr: true},
		{name: "alphabetic", input: "abc", wantErr: true},
		{name: "mixed", input: "12abc", wantErr: true},
		{name: "only symbol", input: "$", wantErr: true},
		{name: "two points", input: "1.2.3", wantErr: true},
		{name: "double negative", input: "--5", wantErr: true},
		{name: "negative inside parentheses", input: "(-5)", wantErr: true},
		{name: "exponent", input: "1e3", wantErr: true},
		{name: "NaN", input: "NaN", wantErr: true},
		{name: "bad separator", input: "1", sep: ":", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseAmount(tt.input, tt.sep)
			if tt.wantErr {
				if err == nil {
					t.Errorf("ParseAmount(%q) = %s, want error", tt.input, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseAmount(%q) error: %v", tt.input, err)
			}
			if got.String() != tt.want {
				t.Errorf("ParseAmount(%q) = %s, want %s", tt.input, got, tt.want)
			}
		})
	}
}

// ----------------------------------------------------------------------------
// Date Tests
// ----------------------------------------------------------------------------

func TestParseDate(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		layout  string
		want    time.Time
		wantErr bool
	}{
		{name: "ISO", input: "2024-01-15", layout: "2006-01-02", want: date(2024, 1, 15)},
		{name: "US short", input: "1/5/2024", layout: "1/2/2006", want: date(2024, 1, 5)},
		{name: "US padded with short layout", input: "01/05/2024", layout: "1/2/2006", want: date(2024, 1, 5)},
		{name: "EU dots", input: "15.01.2024", layout: "2.1.2006", want: date(2024, 1, 15)},
		{name: "text month", input: "Jan 15, 2024", layout: "Jan 2, 2006", want: date(2024, 1, 15)},
		{name: "timestamp truncated to day", input: "2024-03-01 17:45:00", layout: "2006-01-02 15:04:05", want: date(2024, 3, 1)},
		{name: "two digit year recent", input: "1/5/24", layout: "1/2/06", want: date(2024, 1, 5)},
		{name: "two digit year last century", input: "1/5/99", layout: "1/2/06", want: date(1999, 1, 5)},

		{name: "empty", input: "", layout: "2006-01-02", wantErr: true},
		{name: "wrong layout", input: "15/01/2024", layout: "1/2/2006", wantErr: true},
		{name: "garbage", input: "yesterday", layout: "2006-01-02", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseDate(tt.input, tt.layout)
			if tt.wantErr {
				if err == nil {
					t.Errorf("ParseDate(%q) = %v, want error", tt.input, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseDate(%q) error: %v", tt.input, err)
			}
			if !got.Equal(tt.want) {
				t.Errorf("ParseDate(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestInferDateLayout(t *testing.T) {
	tests := []struct {
		name   string
		values []string
		want   string
	}{
		{"iso", []string{"2024-01-01", "2024-12-31"}, "2006-01-02"},
		{"ambiguous defaults to month first", []string{"01/02/2024", "03/04/2024"}, "1/2/2006"},
		{"day first when month first impossible", []string{"01/02/2024", "25/12/2024"}, "2/1/2006"},
		{"dots read day first", []string{"31.01.2024"}, "2.1.2006"},
		{"empty values ignored", []string{"", "2024-01-01", "  "}, "2006-01-02"},
		{"majority wins when one value is bad", []string{"2024-01-01", "2024-01-02", "nope"}, "2006-01-02"},
		{"nothing parses", []string{"abc", "def"}, ""},
		{"no values", nil, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := InferDateLayout(tt.values); got != tt.want {
				t.Errorf("InferDateLayout(%v) = %q, want %q", tt.values, got, tt.want)
			}
		})
	}
}

func TestNormalizeDateLayout(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"YYYY-MM-DD", "2006-01-02"},
		{"DD/MM/YYYY", "02/01/2006"},
		{"MM/DD/YY", "01/02/06"},
		{"D MMM YYYY", "2 Jan 2006"},
		{"2006-01-02", "2006-01-02"},
		{"Jan 2, 2006", "Jan 2, 2006"},
		{"", ""},
	}

	for _, tt := range tests {
		if got := NormalizeDateLayout(tt.in); got != tt.want {
			t.Errorf("NormalizeDateLayout(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestCleanCell(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"  hello  ", "hello"},
		{`="00123"`, "00123"},
		{"=SUM", "SUM"},
		{`"quoted"`, "quoted"},
		{"'single'", "single"},
		{"", ""},
	}

	for _, tt := range tests {
		if got := CleanCell(tt.in); got != tt.want {
			t.Errorf("CleanCell(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
