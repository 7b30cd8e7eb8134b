// Package api exposes the daemon to the browser extension over a loopback
// HTTP API, and to MCP clients over stdio.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mkovacs/salespanel/internal/analyzer"
	"github.com/mkovacs/salespanel/internal/cache"
	"github.com/mkovacs/salespanel/internal/engine"
	"github.com/mkovacs/salespanel/internal/export"
	"github.com/mkovacs/salespanel/internal/extract"
	"github.com/mkovacs/salespanel/internal/quota"
	"github.com/mkovacs/salespanel/internal/saved"
	"github.com/mkovacs/salespanel/internal/session"
	"github.com/mkovacs/salespanel/internal/storage"
)

const maxRequestBodySize = 1 << 20 // 1MB

// Deps holds everything the handlers need.
type Deps struct {
	Runner  *engine.Runner
	Saver   *saved.Saver
	Store   *saved.Store
	Deleter *saved.Deleter
	Cache   *cache.Store
	Session *session.State
	Quota   *quota.Gate

	// Token authenticates the extension against this daemon.
	Token string
	// RemoteToken authenticates the daemon against the analysis backend.
	RemoteToken string
	// UserID identifies the signed-in user for saved records.
	UserID string

	Logger *slog.Logger
}

func (d Deps) logger() *slog.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return slog.Default()
}

// NewHandler returns the daemon's HTTP API. Everything except /health sits
// behind bearer auth.
func NewHandler(deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))

		r.Post("/analyze", handleAnalyze(deps))
		r.Get("/quota", handleQuota(deps))

		r.Get("/saved", handleListSaved(deps))
		r.Post("/saved", handleSave(deps))
		r.Delete("/saved", handleDeleteBatch(deps))
		r.Post("/saved/undo", handleUndoBatch(deps))
		r.Delete("/saved/{id}", handleDeleteOne(deps))
		r.Post("/saved/{id}/undo", handleUndoOne(deps))

		r.Get("/export", handleExport(deps))
		r.Post("/cache/clear", handleCacheClear(deps))
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

type analyzeRequest struct {
	URL          string `json:"url"`
	OverrideURL  string `json:"overrideUrl,omitempty"`
	ForceRefresh bool   `json:"forceRefresh,omitempty"`
	// Extracted carries content the extension's in-page script already
	// pulled from the tab, skipping the daemon-side fetch.
	Extracted *extract.Content `json:"extracted,omitempty"`
}

type analyzeResponse struct {
	Status           string         `json:"status"`
	Reason           string         `json:"reason,omitempty"`
	ReuseSource      string         `json:"reuseSource,omitempty"`
	HomepageFallback string         `json:"homepageFallback,omitempty"`
	Error            string         `json:"error,omitempty"`
	Analysis         *analyzer.Result `json:"analysis,omitempty"`
	Meta             *extract.Meta    `json:"meta,omitempty"`
	Quota            quota.Snapshot `json:"quota"`
}

func handleAnalyze(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		var req analyzeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.URL == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "url is required")
			return
		}

		out := deps.Runner.Run(r.Context(), engine.Request{
			UserID:       deps.UserID,
			Token:        deps.RemoteToken,
			TabURL:       req.URL,
			OverrideURL:  req.OverrideURL,
			ForceRefresh: req.ForceRefresh,
			Extracted:    req.Extracted,
		})

		writeJSON(w, outcomeJSON(out))
	}
}

// outcomeJSON maps a pipeline outcome to the wire shape. Every outcome,
// including blocked and failed ones, is a 200: they are designed states of
// the pipeline, not transport errors.
func outcomeJSON(out engine.Outcome) analyzeResponse {
	resp := analyzeResponse{
		Status:           string(out.Status),
		Reason:           out.Reason,
		ReuseSource:      out.ReuseSource,
		HomepageFallback: out.HomepageFallback,
		Quota:            out.Quota,
	}
	if out.Err != nil {
		resp.Error = out.Err.Error()
	}
	resp.Analysis = out.Analysis
	resp.Meta = out.Meta
	return resp
}

func handleQuota(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		force := r.URL.Query().Get("force") == "true"
		snap := deps.Quota.Refresh(r.Context(), deps.RemoteToken, force)
		deps.Session.SetQuota(snap)
		writeJSON(w, snap)
	}
}

func handleListSaved(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f, err := filterFromQuery(r)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}

		items, err := deps.Store.List(deps.UserID, f)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list saved analyses: %v", err)
			return
		}
		total, err := deps.Store.Count(deps.UserID)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to count saved analyses: %v", err)
			return
		}

		out := make([]savedJSON, 0, len(items))
		for _, a := range items {
			out = append(out, toSavedJSON(a, deps.Deleter.Pending(a.ID)))
		}
		writeJSON(w, map[string]any{
			"items":    out,
			"total":    total,
			"page":     f.Page,
			"pageSize": storage.PageSize,
		})
	}
}

func filterFromQuery(r *http.Request) (storage.ListFilter, error) {
	q := r.URL.Query()
	var f storage.ListFilter

	for _, k := range []string{"minScore", "maxScore"} {
		s := q.Get(k)
		if s == "" {
			continue
		}
		v, err := strconv.Atoi(s)
		if err != nil {
			return f, fmt.Errorf("invalid %s %q", k, s)
		}
		if k == "minScore" {
			f.ScoreMin = &v
		} else {
			f.ScoreMax = &v
		}
	}

	f.Persona = q.Get("persona")
	f.Search = q.Get("search")
	f.SortBy = q.Get("sortBy")
	f.SortDesc = q.Get("sortDesc") != "false" // newest first by default

	if s := q.Get("page"); s != "" {
		v, err := strconv.Atoi(s)
		if err != nil || v < 0 {
			return f, fmt.Errorf("invalid page %q", s)
		}
		f.Page = v
	}
	return f, nil
}

type saveRequest struct {
	URL string `json:"url"`
}

func handleSave(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		var req saveRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.URL == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "url is required")
			return
		}

		res, err := deps.Saver.Save(r.Context(), engine.Request{
			UserID: deps.UserID,
			Token:  deps.RemoteToken,
			TabURL: req.URL,
		})
		switch {
		case errors.Is(err, saved.ErrSaveLimit):
			httpError(w, http.StatusForbidden, "limit_reached", "saved-analyses limit reached")
			return
		case errors.Is(err, saved.ErrBusy):
			httpError(w, http.StatusConflict, "busy", "an analysis is already in progress")
			return
		case err != nil:
			httpError(w, http.StatusBadGateway, "api_error", "save failed: %v", err)
			return
		}

		status := http.StatusCreated
		if res.AlreadySaved {
			status = http.StatusOK
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(map[string]any{
			"record":       toSavedJSON(res.Record, false),
			"alreadySaved": res.AlreadySaved,
		})
	}
}

func handleDeleteOne(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if !deps.ownsRecord(w, id) {
			return
		}
		deps.Deleter.Delete(deps.UserID, id)
		writeJSON(w, map[string]any{"status": "pending", "undoWindowMs": saved.UndoWindow.Milliseconds()})
	}
}

func handleUndoOne(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if deps.Deleter.Undo(id) == 0 {
			httpError(w, http.StatusNotFound, "not_found", "no pending delete for %s", id)
			return
		}
		writeJSON(w, map[string]string{"status": "restored"})
	}
}

type idsRequest struct {
	IDs []string `json:"ids"`
}

func handleDeleteBatch(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		var req idsRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if len(req.IDs) == 0 {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "ids is required")
			return
		}
		for _, id := range req.IDs {
			if !deps.ownsRecord(w, id) {
				return
			}
		}
		deps.Deleter.Delete(deps.UserID, req.IDs...)
		writeJSON(w, map[string]any{
			"status":       "pending",
			"count":        len(req.IDs),
			"undoWindowMs": saved.UndoWindow.Milliseconds(),
		})
	}
}

func handleUndoBatch(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		var req idsRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		restored := deps.Deleter.Undo(req.IDs...)
		writeJSON(w, map[string]any{"status": "restored", "count": restored})
	}
}

func handleExport(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		format, err := export.ParseFormat(r.URL.Query().Get("format"))
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}

		// Export walks every page; the page filter does not apply.
		var records []storage.SavedAnalysis
		for page := 0; ; page++ {
			batch, err := deps.Store.List(deps.UserID, storage.ListFilter{Page: page})
			if err != nil {
				httpError(w, http.StatusInternalServerError, "api_error", "failed to list saved analyses: %v", err)
				return
			}
			records = append(records, batch...)
			if len(batch) < storage.PageSize {
				break
			}
		}

		w.Header().Set("Content-Type", format.ContentType())
		w.Header().Set("Content-Disposition", `attachment; filename="`+format.Filename(time.Now())+`"`)
		if err := export.Write(w, format, records); err != nil {
			deps.logger().Error("export failed", "format", format, "error", err)
		}
	}
}

func handleCacheClear(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := deps.Cache.ClearAll(); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to clear cache: %v", err)
			return
		}
		writeJSON(w, map[string]string{"status": "cleared"})
	}
}

// ownsRecord verifies the record exists and belongs to the configured user,
// writing the error response itself when it does not.
func (d Deps) ownsRecord(w http.ResponseWriter, id string) bool {
	rec, err := d.Store.Get(id)
	if errors.Is(err, storage.ErrNotFound) || (err == nil && rec.UserID != d.UserID) {
		httpError(w, http.StatusNotFound, "not_found", "saved analysis not found")
		return false
	}
	if err != nil {
		httpError(w, http.StatusInternalServerError, "api_error", "failed to load saved analysis: %v", err)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}
