package web

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/JonMunkholm/ledgersync/internal/core"
	"github.com/JonMunkholm/ledgersync/internal/ledger"
	"github.com/go-chi/chi/v5"
)

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.service.GetJob(r.Context(), tenantFrom(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// handleListRawData lists snapshot metadata for a job. Content is never
// returned inline.
func (s *Server) handleListRawData(w http.ResponseWriter, r *http.Request) {
	raw, err := s.service.ListRawData(r.Context(), tenantFrom(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newList(raw))
}

// handleGetRawContent serves the captured bytes of one snapshot, inline or
// archived, after checking them against the stored checksum.
func (s *Server) handleGetRawContent(w http.ResponseWriter, r *http.Request) {
	raw, content, err := s.service.GetRawContent(r.Context(), tenantFrom(r.Context()),
		chi.URLParam(r, "id"), chi.URLParam(r, "rawId"))
	if err != nil {
		respondError(w, r, err)
		return
	}

	contentType := raw.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(content)))
	w.Header().Set("X-Content-SHA256", raw.Checksum)
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(content); err != nil {
		slog.Warn("write raw content", "raw_id", raw.ID, "error", err)
	}
}

// handleListAudit filters the tenant's audit trail by connection, job,
// event, and an RFC 3339 since timestamp.
func (s *Server) handleListAudit(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := ledger.AuditFilter{
		TenantID:     tenantFrom(r.Context()),
		ConnectionID: q.Get("connectionId"),
		JobID:        q.Get("jobId"),
		Event:        ledger.AuditEvent(q.Get("event")),
	}

	var err error
	if f.Limit, err = queryInt(r, "limit"); err != nil {
		respondError(w, r, err)
		return
	}
	if f.Offset, err = queryInt(r, "offset"); err != nil {
		respondError(w, r, err)
		return
	}
	if since := q.Get("since"); since != "" {
		t, perr := time.Parse(time.RFC3339, since)
		if perr != nil {
			respondError(w, r, core.ErrInvalidRequest)
			return
		}
		f.Since = t
	}

	entries, err := s.service.ListAudit(r.Context(), f)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newList(entries))
}
