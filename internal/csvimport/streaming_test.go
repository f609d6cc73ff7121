package csvimport

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"
	"testing/iotest"
)

func TestSanitizingReader(t *testing.T) {
	tests := []struct {
		name     string
		input    []byte
		expected string
		replaced int
	}{
		{
			name:     "BOM stripped",
			input:    append([]byte{0xEF, 0xBB, 0xBF}, "a,b"...),
			expected: "a,b",
		},
		{
			name:     "no BOM",
			input:    []byte("a,b"),
			expected: "a,b",
		},
		{
			name:     "only BOM",
			input:    []byte{0xEF, 0xBB, 0xBF},
			expected: "",
		},
		{
			name:     "partial BOM kept",
			input:    []byte{0xEF, 0xBB, 'x'},
			expected: "\ufffd\ufffdx",
			replaced: 2,
		},
		{
			name:     "valid multibyte",
			input:    []byte("café,€5"),
			expected: "café,€5",
		},
		{
			name:     "latin1 byte replaced",
			input:    []byte{'c', 'a', 'f', 0xE9, ',', '1'},
			expected: "caf\ufffd,1",
			replaced: 1,
		},
		{
			name:     "empty",
			input:    []byte{},
			expected: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewSanitizingReader(bytes.NewReader(tt.input))
			got, err := io.ReadAll(r)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if string(got) != tt.expected {
				t.Errorf("got %q, want %q", got, tt.expected)
			}
			if r.Replaced() != tt.replaced {
				t.Errorf("Replaced() = %d, want %d", r.Replaced(), tt.replaced)
			}
		})
	}
}

func TestSanitizingReader_SmallReads(t *testing.T) {
	input := "Datum;Betrag\n2024-01-01;€1.234,56\n"
	r := iotest.OneByteReader(NewSanitizingReader(strings.NewReader(input)))

	got, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(got) != input {
		t.Errorf("got %q, want %q", got, input)
	}
}

func TestSanitize_ReturnsCleanInputUnchanged(t *testing.T) {
	in := []byte("a,b\n1,2\n")
	if out := Sanitize(in); &out[0] != &in[0] {
		t.Error("clean input should not be copied")
	}
}

func TestReadLimited(t *testing.T) {
	data, err := ReadLimited(strings.NewReader("12345"), 5)
	if err != nil {
		t.Fatalf("unexpected error at limit: %v", err)
	}
	if string(data) != "12345" {
		t.Errorf("got %q", data)
	}

	_, err = ReadLimited(strings.NewReader("123456"), 5)
	if !errors.Is(err, ErrFileTooLarge) {
		t.Errorf("err = %v, want ErrFileTooLarge", err)
	}

	data, err = ReadLimited(strings.NewReader("123456"), 0)
	if err != nil || len(data) != 6 {
		t.Errorf("unlimited read = %q, %v", data, err)
	}
}
