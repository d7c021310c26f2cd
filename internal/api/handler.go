// Package api exposes the recruiting workflow, the directory and the
// suggestion service over HTTP+JSON, and a read-only subset over MCP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/jobmatch/internal/embedding"
	"github.com/kalambet/jobmatch/internal/matching"
	"github.com/kalambet/jobmatch/internal/profile"
	"github.com/kalambet/jobmatch/internal/recruit"
	"github.com/kalambet/jobmatch/internal/workflow"
)

const maxRequestBodySize = 1 << 20 // 1MB

// BackfillFunc re-embeds stored entities; force re-embeds those that
// already have a vector.
type BackfillFunc func(ctx context.Context, force bool) (embedding.Report, error)

type Deps struct {
	Workflow *workflow.Engine
	Matching *matching.Service
	Profiles *profile.Manager
	Tasks    TaskCounter  // optional; if nil, /admin/queue answers 501
	Backfill BackfillFunc // optional; if nil, /admin/reindex answers 501
	Token    string
}

// NewHandler builds the router. Everything except /health requires the
// bearer token and actor headers.
func NewHandler(deps Deps) http.Handler {
	r := chi.NewRouter()
	r.Get("/health", handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))
		r.Use(ResolveActor)

		r.Post("/applications", handleApply(deps))
		r.Post("/invitations", handleInvite(deps))
		r.Get("/relationships/{id}", handleGetRelationship(deps))
		r.Delete("/relationships/{id}", handleRemoveRelationship(deps))
		r.Post("/relationships/{id}/respond", handleRespond(deps))
		r.Post("/relationships/{id}/review", handleReview(deps))
		r.Post("/relationships/{id}/withdraw", handleWithdraw(deps))

		r.Get("/candidates/{id}", handleGetCandidate(deps))
		r.Put("/candidates/{id}", handlePutCandidate(deps))
		r.Delete("/candidates/{id}", handleDeleteCandidate(deps))
		r.Get("/candidates/{id}/relationships", handleCandidateRelationships(deps))
		r.Get("/candidates/{id}/suggestions", handleSuggestJobs(deps))

		r.Put("/companies/{id}", handlePutCompany(deps))
		r.Get("/companies/me/relationships", handleCompanyRelationships(deps))

		r.Get("/jobs/{id}", handleGetJob(deps))
		r.Put("/jobs/{id}", handlePutJob(deps))
		r.Delete("/jobs/{id}", handleDeleteJob(deps))
		r.Get("/jobs/{id}/relationships", handleJobRelationships(deps))
		r.Get("/jobs/{id}/suggestions", handleSuggestCandidates(deps))

		r.Post("/admin/reindex", handleReindex(deps))
		r.Get("/admin/queue", handleQueue(deps))
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func handleReindex(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !actorFrom(r).IsAdmin() {
			writeError(w, fmt.Errorf("%w: reindex requires admin", recruit.ErrForbidden))
			return
		}
		if deps.Backfill == nil {
			httpError(w, http.StatusNotImplemented, "api_error", "reindex is not available")
			return
		}
		force := false
		if s := r.URL.Query().Get("force"); s != "" {
			v, err := strconv.ParseBool(s)
			if err != nil {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "force must be a boolean")
				return
			}
			force = v
		}

		rep, err := deps.Backfill(r.Context(), force)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, rep)
	}
}

func handleQueue(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !actorFrom(r).IsAdmin() {
			writeError(w, fmt.Errorf("%w: queue status requires admin", recruit.ErrForbidden))
			return
		}
		if deps.Tasks == nil {
			httpError(w, http.StatusNotImplemented, "api_error", "queue status is not available")
			return
		}
		counts, err := deps.Tasks.TaskCounts(r.Context())
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, counts)
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

// writeError maps a domain error to its HTTP status and error type.
func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, recruit.ErrNotRankable):
		httpError(w, http.StatusBadRequest, "not_rankable", "%v", err)
	case errors.Is(err, recruit.ErrNotFound):
		httpError(w, http.StatusNotFound, "not_found", "%v", err)
	case errors.Is(err, recruit.ErrForbidden):
		httpError(w, http.StatusForbidden, "forbidden", "%v", err)
	case errors.Is(err, recruit.ErrConflict):
		httpError(w, http.StatusConflict, "conflict", "%v", err)
	case errors.Is(err, recruit.ErrBadRequest):
		httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
	case errors.Is(err, recruit.ErrExternal):
		httpError(w, http.StatusBadGateway, "external_service_error", "%v", err)
	default:
		slog.Error("request failed", "error", err)
		httpError(w, http.StatusInternalServerError, "api_error", "internal error")
	}
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

func parseIntParam(r *http.Request, key string, defaultVal, maxVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return defaultVal
	}
	if maxVal > 0 && v > maxVal {
		return maxVal
	}
	return v
}
