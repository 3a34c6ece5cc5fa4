package api

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"github.com/sydlexius/alldbs/internal/backup"
)

func (r *Router) handleMaintenanceStatus(w http.ResponseWriter, req *http.Request) {
	if r.maintenanceService == nil {
		writeError(w, http.StatusServiceUnavailable, "unavailable", "maintenance service not available")
		return
	}

	status, err := r.maintenanceService.Status(req.Context())
	if err != nil {
		r.logger.Error("getting maintenance status", "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "internal error")
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (r *Router) handleMaintenanceOptimize(w http.ResponseWriter, req *http.Request) {
	if r.maintenanceService == nil {
		writeError(w, http.StatusServiceUnavailable, "unavailable", "maintenance service not available")
		return
	}

	ctx, cancel := context.WithTimeout(req.Context(), 60*time.Second)
	defer cancel()

	if err := r.maintenanceService.Optimize(ctx); err != nil {
		r.logger.Error("optimize failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "optimize failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (r *Router) handleBackupCreate(w http.ResponseWriter, req *http.Request) {
	if r.backupService == nil {
		writeError(w, http.StatusServiceUnavailable, "unavailable", "backup service not available")
		return
	}

	info, err := r.backupService.Backup(req.Context())
	if err != nil {
		r.logger.Error("backup failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "backup failed")
		return
	}
	writeJSON(w, http.StatusCreated, info)
}

func (r *Router) handleBackupHistory(w http.ResponseWriter, _ *http.Request) {
	if r.backupService == nil {
		writeError(w, http.StatusServiceUnavailable, "unavailable", "backup service not available")
		return
	}

	backups, err := r.backupService.ListBackups()
	if err != nil {
		r.logger.Error("listing backups failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "listing backups failed")
		return
	}
	if backups == nil {
		backups = []backup.Info{}
	}
	writeJSON(w, http.StatusOK, backups)
}

func (r *Router) handleBackupDelete(w http.ResponseWriter, req *http.Request) {
	if r.backupService == nil {
		writeError(w, http.StatusServiceUnavailable, "unavailable", "backup service not available")
		return
	}

	filename := req.PathValue("filename")
	if !backup.IsValidBackupFilename(filename) {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid filename")
		return
	}

	if err := r.backupService.Delete(filename); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			writeError(w, http.StatusNotFound, "not_found", "backup not found")
			return
		}
		r.logger.Error("deleting backup", "filename", filename, "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to delete backup")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}
