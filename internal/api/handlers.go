package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/sydlexius/alldbs/internal/client"
	"github.com/sydlexius/alldbs/internal/event"
	"github.com/sydlexius/alldbs/internal/registry"
	"github.com/sydlexius/alldbs/internal/version"
)

func (r *Router) handleUp(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": version.Version,
		"commit":  version.Commit,
		"time":    time.Now().UTC().Format(time.RFC3339),
	})
}

func (r *Router) handleAllDbs(w http.ResponseWriter, req *http.Request) {
	keys, err := r.client.AllDbs(req.Context())
	if err != nil {
		r.writeClientError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, keys)
}

func (r *Router) handleCreateDB(w http.ResponseWriter, req *http.Request) {
	name := req.PathValue("db")
	if strings.HasPrefix(name, "_") {
		writeError(w, http.StatusBadRequest, "illegal_database_name", "names beginning with _ are reserved")
		return
	}
	opts := client.Options{Adapter: req.URL.Query().Get("adapter")}
	db, err := r.client.Create(req.Context(), name, opts)
	if err != nil {
		r.writeClientError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"ok":      true,
		"key":     db.Key,
		"adapter": db.Adapter,
	})
}

func (r *Router) handleDestroyDB(w http.ResponseWriter, req *http.Request) {
	opts := client.Options{Adapter: req.URL.Query().Get("adapter")}
	if err := r.client.Destroy(req.Context(), req.PathValue("db"), opts); err != nil {
		r.writeClientError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (r *Router) handleResetAllDbs(w http.ResponseWriter, req *http.Request) {
	if err := r.client.ResetAllDbs(req.Context()); err != nil {
		r.writeClientError(w, err)
		return
	}
	r.logger.Warn("registry reset over http", "remote", req.RemoteAddr)
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (r *Router) handleDBUpdates(w http.ResponseWriter, req *http.Request) {
	var since int64
	if v := req.URL.Query().Get("since"); v != "" && v != "0" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "bad_request", "since must be a non-negative integer")
			return
		}
		since = n
	}

	results, last := []event.Update{}, int64(0)
	if r.feed != nil {
		results, last = r.feed.Since(since)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"results":  results,
		"last_seq": last,
	})
}

// writeClientError maps client and registry errors onto HTTP statuses.
func (r *Router) writeClientError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, client.ErrInvalidName),
		errors.Is(err, client.ErrUnknownAdapter),
		errors.Is(err, registry.ErrInvalidKey):
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
	case errors.Is(err, registry.ErrStorage):
		r.logger.Error("registry storage failure", "error", err)
		if r.metrics != nil {
			r.metrics.ObserveStorageFailure()
		}
		writeError(w, http.StatusServiceUnavailable, "storage_failure", "registry storage is unavailable, retry later")
	default:
		r.logger.Error("request failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "internal error")
	}
}

func writeError(w http.ResponseWriter, status int, code, reason string) {
	writeJSON(w, status, map[string]string{"error": code, "reason": reason})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, "encode error", http.StatusInternalServerError)
	}
}
