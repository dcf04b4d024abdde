package export

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/tariffops/htsflow/internal/domain"
)

// Handler exposes the diff export and validation report endpoints under
// /imports/{id}/.
type Handler struct {
	service *Service
}

// NewHTTPHandler wraps the service with its read-only HTTP surface.
func NewHTTPHandler(service *Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	importID, rest, err := splitImportPath(r.URL.Path)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	switch rest {
	case "diffs/export":
		h.handleDiffExport(w, r, importID)
	case "validation-summary":
		h.handleValidationReport(w, r, importID)
	default:
		http.Error(w, "not found", http.StatusNotFound)
	}
}

// Handles reports whether the path belongs to this handler.
func (h *Handler) Handles(path string) bool {
	_, rest, err := splitImportPath(path)
	if err != nil {
		return false
	}
	return rest == "diffs/export" || rest == "validation-summary"
}

func (h *Handler) handleDiffExport(w http.ResponseWriter, r *http.Request, importID uuid.UUID) {
	format, err := ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var diffType *domain.DiffType
	if raw := strings.TrimSpace(r.URL.Query().Get("type")); raw != "" {
		parsed := domain.DiffType(strings.ToUpper(raw))
		switch parsed {
		case domain.DiffAdded, domain.DiffChanged, domain.DiffRemoved, domain.DiffUnchanged:
			diffType = &parsed
		default:
			http.Error(w, fmt.Sprintf("unknown diff type %q", raw), http.StatusBadRequest)
			return
		}
	}

	switch format {
	case FormatCSV:
		w.Header().Set("Content-Type", "text/csv")
	case FormatXLSX:
		w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	}
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", FileName(importID, format)))

	if err := h.service.WriteDiff(r.Context(), w, importID, diffType, format); err != nil {
		// Headers are already out; all we can do is log-and-abort the stream.
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func (h *Handler) handleValidationReport(w http.ResponseWriter, r *http.Request, importID uuid.UUID) {
	limit := queryInt(r, "limit", 0)
	offset := queryInt(r, "offset", 0)

	report, err := h.service.ValidationReport(r.Context(), importID, limit, offset)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// splitImportPath parses /imports/{id}/{rest...}.
func splitImportPath(path string) (uuid.UUID, string, error) {
	trimmed := strings.Trim(path, "/")
	parts := strings.SplitN(trimmed, "/", 3)
	if len(parts) < 3 || parts[0] != "imports" {
		return uuid.Nil, "", errors.New("expected /imports/{id}/...")
	}
	importID, err := uuid.Parse(parts[1])
	if err != nil {
		return uuid.Nil, "", fmt.Errorf("invalid import id: %w", err)
	}
	return importID, parts[2], nil
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
