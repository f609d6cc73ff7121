package web

import (
	"net/http"

	"github.com/JonMunkholm/ledgersync/internal/core"
	"github.com/JonMunkholm/ledgersync/internal/csvimport"
)

// detectRequest carries the content to inspect before a mapping is chosen.
type detectRequest struct {
	Content string `json:"content"`
}

// handleImport runs a file import synchronously. The tenant always comes
// from X-Tenant-ID; the user falls back to X-User-ID.
//
// A job that ran but failed is reported with 422 and the full result body.
func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	var req core.FileImportRequest
	if err := decodeJSON(w, r, s.cfg.Import.MaxFileSize+bodyOverhead, &req); err != nil {
		respondError(w, r, err)
		return
	}
	req.TenantID = tenantFrom(r.Context())
	if req.UserID == "" {
		req.UserID = userFrom(r)
	}

	res, err := s.service.ImportFile(r.Context(), req)
	if err != nil {
		respondError(w, r, err)
		return
	}

	status := http.StatusOK
	if !res.Success {
		status = http.StatusUnprocessableEntity
	}
	writeJSON(w, status, res)
}

// handleDetect returns the columns, sample rows, and suggested mapping for
// uploaded content. It never creates a job.
func (s *Server) handleDetect(w http.ResponseWriter, r *http.Request) {
	var req detectRequest
	if err := decodeJSON(w, r, s.cfg.Import.MaxFileSize+bodyOverhead, &req); err != nil {
		respondError(w, r, err)
		return
	}
	if req.Content == "" {
		respondError(w, r, &core.MissingFieldsError{Fields: []string{"content"}})
		return
	}
	writeJSON(w, http.StatusOK, csvimport.Detect([]byte(req.Content)))
}
