package web

import (
	"net/http"

	"github.com/JonMunkholm/ledgersync/internal/core"
	"github.com/JonMunkholm/ledgersync/internal/ledger"
	"github.com/go-chi/chi/v5"
)

// listResponse wraps collection results so the envelope can grow.
type listResponse[T any] struct {
	Items []T `json:"items"`
	Count int `json:"count"`
}

func newList[T any](items []T) listResponse[T] {
	if items == nil {
		items = []T{}
	}
	return listResponse[T]{Items: items, Count: len(items)}
}

const maxSmallBody = 64 << 10

func (s *Server) handleCreateConnection(w http.ResponseWriter, r *http.Request) {
	var req core.CreateConnectionRequest
	if err := decodeJSON(w, r, maxSmallBody, &req); err != nil {
		respondError(w, r, err)
		return
	}
	req.TenantID = tenantFrom(r.Context())
	if req.UserID == "" {
		req.UserID = userFrom(r)
	}

	conn, err := s.service.CreateConnection(r.Context(), req)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, conn)
}

func (s *Server) handleGetConnection(w http.ResponseWriter, r *http.Request) {
	conn, err := s.service.GetConnection(r.Context(), tenantFrom(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, conn)
}

// handleSyncConnection runs a manual sync and waits for it to finish. The
// actor recorded on the job is X-User-ID.
func (s *Server) handleSyncConnection(w http.ResponseWriter, r *http.Request) {
	res, err := s.service.SyncConnection(r.Context(), tenantFrom(r.Context()), chi.URLParam(r, "id"), ledger.JobManual)
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

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		respondError(w, r, err)
		return
	}
	jobs, err := s.service.ListJobs(r.Context(), tenantFrom(r.Context()), chi.URLParam(r, "id"), limit)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newList(jobs))
}

func (s *Server) handleListTransactions(w http.ResponseWriter, r *http.Request) {
	txs, err := s.service.ListTransactions(r.Context(), tenantFrom(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newList(txs))
}

func (s *Server) handleListAccounts(w http.ResponseWriter, r *http.Request) {
	accounts, err := s.service.ListAccounts(r.Context(), tenantFrom(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newList(accounts))
}
