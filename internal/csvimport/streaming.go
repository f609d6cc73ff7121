package csvimport

// streaming.go cleans file bytes before they reach the CSV reader.
//
// Exports from Windows tools start with a UTF-8 BOM, and legacy encodings leave
// bytes that are not valid UTF-8. Both are fixed on the fly with constant memory.

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"unicode/utf8"
)

// ErrFileTooLarge is returned by ReadLimited when the input exceeds the limit.
var ErrFileTooLarge = errors.New("file exceeds maximum size")

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// SanitizingReader strips a leading BOM and replaces every invalid UTF-8 byte
// with U+FFFD.
type SanitizingReader struct {
	br         *bufio.Reader
	bomChecked bool
	pending    []byte
	replaced   int
}

// NewSanitizingReader wraps r.
func NewSanitizingReader(r io.Reader) *SanitizingReader {
	return &SanitizingReader{br: bufio.NewReader(r)}
}

// Replaced returns how many invalid bytes have been replaced so far.
func (s *SanitizingReader) Replaced() int { return s.replaced }

// Read implements io.Reader.
func (s *SanitizingReader) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if !s.bomChecked {
		s.bomChecked = true
		if head, err := s.br.Peek(len(utf8BOM)); err == nil && bytes.Equal(head, utf8BOM) {
			_, _ = s.br.Discard(len(utf8BOM))
		}
	}

	n := 0
	for n < len(p) {
		if len(s.pending) > 0 {
			c := copy(p[n:], s.pending)
			s.pending = s.pending[c:]
			n += c
			continue
		}

		r, size, err := s.br.ReadRune()
		if err != nil {
			if n > 0 && err == io.EOF {
				return n, nil
			}
			return n, err
		}
		if r == utf8.RuneError && size == 1 {
			s.replaced++
		}

		var enc [utf8.UTFMax]byte
		m := utf8.EncodeRune(enc[:], r)
		c := copy(p[n:], enc[:m])
		n += c
		if c < m {
			s.pending = append(s.pending[:0], enc[c:m]...)
		}
	}
	return n, nil
}

// Sanitize returns content with the BOM removed and invalid UTF-8 replaced.
// Clean input is returned as is.
func Sanitize(content []byte) []byte {
	if utf8.Valid(content) && !bytes.HasPrefix(content, utf8BOM) {
		return content
	}
	out, _ := io.ReadAll(NewSanitizingReader(bytes.NewReader(content)))
	return out
}

// ReadLimited reads r fully, failing with ErrFileTooLarge once more than max
// bytes arrive. A max of zero or less disables the limit.
func ReadLimited(r io.Reader, max int64) ([]byte, error) {
	if max <= 0 {
		return io.ReadAll(r)
	}
	data, err := io.ReadAll(io.LimitReader(r, max+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > max {
		return nil, fmt.Errorf("%w (%d bytes)", ErrFileTooLarge, max)
	}
	return data, nil
}
