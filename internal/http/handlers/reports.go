package handlers

import (
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"
)

// ReportsHandler serves generated report files for download.
type ReportsHandler struct {
	baseDir string
	logger  *slog.Logger
}

// NewReportsHandler creates a handler rooted at the reports directory.
func NewReportsHandler(baseDir string, logger *slog.Logger) *ReportsHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ReportsHandler{baseDir: baseDir, logger: logger.With("component", "reports-handler")}
}

// Download streams one report file. Raw chi handler rather than huma so
// Content-Type and Content-Disposition follow the file instead of JSON.
func (h *ReportsHandler) Download(w http.ResponseWriter, r *http.Request) {
	run := chi.URLParam(r, "run")
	file := chi.URLParam(r, "file")

	if !safeComponent(run) || !safeComponent(file) {
		http.Error(w, "invalid report path", http.StatusBadRequest)
		return
	}

	path := filepath.Join(h.baseDir, run, file)

	// Resolve and re-check containment in case Join normalized anything.
	abs, err := filepath.Abs(path)
	if err != nil {
		http.Error(w, "invalid report path", http.StatusBadRequest)
		return
	}
	base, err := filepath.Abs(h.baseDir)
	if err != nil || !strings.HasPrefix(abs, base+string(filepath.Separator)) {
		http.Error(w, "invalid report path", http.StatusBadRequest)
		return
	}

	switch filepath.Ext(file) {
	case ".csv":
		w.Header().Set("Content-Type", "text/csv")
	case ".json":
		w.Header().Set("Content-Type", "application/json")
	default:
		http.Error(w, "unsupported report type", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Disposition", `attachment; filename="`+file+`"`)

	http.ServeFile(w, r, abs)
}

// safeComponent rejects path components that could escape the reports dir.
func safeComponent(s string) bool {
	if s == "" || s == "." || s == ".." {
		return false
	}
	return !strings.ContainsAny(s, `/\`)
}
