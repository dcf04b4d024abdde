package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// Handler exposes import management over HTTP:
//
//	POST /imports                   create an import and queue its run
//	GET  /imports                   list imports
//	GET  /imports/{id}              one import with checkpoint and counters
//	POST /imports/{id}/override     approve a gate-parked import
//	POST /imports/{id}/retry        re-queue a failed import
//	GET  /queue/health              queue depth by status
//
// The diff export and validation report routes under /imports/{id}/ are
// delegated to the export handler.
type Handler struct {
	service *Service
	exports ExportRoutes
}

// ExportRoutes is the read-only sub-surface served by the export package.
type ExportRoutes interface {
	http.Handler
	Handles(path string) bool
}

func NewHTTPHandler(service *Service, exports ExportRoutes) http.Handler {
	return &Handler{service: service, exports: exports}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(r.URL.Path, "/")

	if h.exports != nil && h.exports.Handles(r.URL.Path) {
		h.exports.ServeHTTP(w, r)
		return
	}

	switch {
	case path == "queue/health" && r.Method == http.MethodGet:
		h.handleQueueHealth(w, r)
	case path == "imports" && r.Method == http.MethodPost:
		h.handleCreate(w, r)
	case path == "imports" && r.Method == http.MethodGet:
		h.handleList(w, r)
	case strings.HasPrefix(path, "imports/"):
		h.handleImportSubroute(w, r, strings.TrimPrefix(path, "imports/"))
	default:
		http.Error(w, "not found", http.StatusNotFound)
	}
}

type createImportPayload struct {
	SourceVersion string `json:"sourceVersion"`
	SourceURL     string `json:"sourceUrl"`
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	var payload createImportPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, fmt.Sprintf("invalid payload: %v", err), http.StatusBadRequest)
		return
	}

	job, err := h.service.CreateImport(r.Context(), ImportRequest{
		SourceVersion: payload.SourceVersion,
		SourceURL:     payload.SourceURL,
	})
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusAccepted, job)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 50)
	offset := queryInt(r, "offset", 0)

	jobs, err := h.service.ListImports(r.Context(), limit, offset)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, jobs)
}

func (h *Handler) handleImportSubroute(w http.ResponseWriter, r *http.Request, rest string) {
	parts := strings.SplitN(rest, "/", 2)
	importID, err := uuid.Parse(parts[0])
	if err != nil {
		http.Error(w, fmt.Sprintf("invalid import id: %v", err), http.StatusBadRequest)
		return
	}

	action := ""
	if len(parts) == 2 {
		action = parts[1]
	}

	switch {
	case action == "" && r.Method == http.MethodGet:
		h.handleGet(w, r, importID)
	case action == "override" && r.Method == http.MethodPost:
		h.handleOverride(w, r, importID)
	case action == "retry" && r.Method == http.MethodPost:
		h.handleRetry(w, r, importID)
	default:
		http.Error(w, "not found", http.StatusNotFound)
	}
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request, id uuid.UUID) {
	job, err := h.service.GetImport(r.Context(), id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (h *Handler) handleOverride(w http.ResponseWriter, r *http.Request, id uuid.UUID) {
	job, err := h.service.OverrideGate(r.Context(), id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	writeJSON(w, http.StatusAccepted, job)
}

func (h *Handler) handleRetry(w http.ResponseWriter, r *http.Request, id uuid.UUID) {
	job, err := h.service.RetryImport(r.Context(), id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	writeJSON(w, http.StatusAccepted, job)
}

func (h *Handler) handleQueueHealth(w http.ResponseWriter, r *http.Request) {
	health, err := h.service.QueueHealth(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, health)
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < 0 {
		return fallback
	}
	return value
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, fmt.Sprintf("failed to encode response: %v", err), http.StatusInternalServerError)
	}
}
