package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/JonMunkholm/ledgersync/internal/core"
	"github.com/JonMunkholm/ledgersync/internal/csvimport"
)

// bodyOverhead is allowed on top of the file size limit for the JSON
// envelope and escaping around the content field.
const bodyOverhead = 1 << 20

// decodeJSON reads exactly one JSON object of at most limit bytes into v.
// Unknown fields are rejected.
func decodeJSON(w http.ResponseWriter, r *http.Request, limit int64, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return fmt.Errorf("%w (%d bytes)", csvimport.ErrFileTooLarge, tooLarge.Limit)
		}
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("%w: %w: empty body", core.ErrInvalidRequest, errBadBody)
		}
		return fmt.Errorf("%w: %w: %v", core.ErrInvalidRequest, errBadBody, err)
	}
	if dec.More() {
		return fmt.Errorf("%w: %w: trailing data after JSON object", core.ErrInvalidRequest, errBadBody)
	}
	return nil
}

// queryInt parses an optional non-negative integer query parameter.
func queryInt(r *http.Request, name string) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: %q must be a non-negative integer", core.ErrInvalidRequest, name)
	}
	return n, nil
}
