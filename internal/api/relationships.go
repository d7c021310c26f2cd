package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/jobmatch/internal/recruit"
	"github.com/kalambet/jobmatch/internal/storage"
)

// Relationship is the wire form of a relationship record.
type Relationship struct {
	ID          string     `json:"id"`
	CandidateID string     `json:"candidate_id"`
	JobID       string     `json:"job_id"`
	JobTitle    string     `json:"job_title,omitempty"`
	Initiator   string     `json:"initiator"`
	Type        string     `json:"type"`
	Status      string     `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	UpdatedBy   string     `json:"updated_by"`
	DeletedAt   *time.Time `json:"deleted_at,omitempty"`
}

func relationshipJSON(r storage.Relationship) Relationship {
	out := Relationship{
		ID:          r.ID,
		CandidateID: r.CandidateID,
		JobID:       r.JobID,
		JobTitle:    r.JobTitle,
		Initiator:   string(r.Initiator),
		Type:        "invitation",
		Status:      string(r.Status),
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
		UpdatedBy:   r.UpdatedBy,
	}
	if r.Initiator == recruit.CandidateInitiated {
		out.Type = "application"
	}
	if r.Deleted {
		at := r.DeletedAt
		out.DeletedAt = &at
	}
	return out
}

func relationshipsJSON(rs []storage.Relationship) []Relationship {
	out := make([]Relationship, len(rs))
	for i, r := range rs {
		out[i] = relationshipJSON(r)
	}
	return out
}

type applyRequest struct {
	CandidateID string `json:"candidate_id"`
	JobID       string `json:"job_id"`
}

func handleApply(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req applyRequest
		if !decodeBody(w, r, &req) {
			return
		}
		actor := actorFrom(r)
		if req.CandidateID == "" {
			req.CandidateID = actor.ID
		}
		if req.JobID == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "job_id is required")
			return
		}

		rel, err := deps.Workflow.Apply(r.Context(), actor, req.CandidateID, req.JobID)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, relationshipJSON(rel))
	}
}

func handleInvite(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req applyRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if req.CandidateID == "" || req.JobID == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "job_id and candidate_id are required")
			return
		}

		rel, err := deps.Workflow.Invite(r.Context(), actorFrom(r), req.JobID, req.CandidateID)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, relationshipJSON(rel))
	}
}

type respondRequest struct {
	Decision string `json:"decision"`
}

func handleRespond(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req respondRequest
		if !decodeBody(w, r, &req) {
			return
		}
		decision := recruit.Status(strings.ToLower(strings.TrimSpace(req.Decision)))

		rel, err := deps.Workflow.Respond(r.Context(), actorFrom(r), chi.URLParam(r, "id"), decision)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, relationshipJSON(rel))
	}
}

func handleReview(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rel, err := deps.Workflow.Review(r.Context(), actorFrom(r), chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, relationshipJSON(rel))
	}
}

func handleWithdraw(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rel, err := deps.Workflow.Withdraw(r.Context(), actorFrom(r), chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, relationshipJSON(rel))
	}
}

func handleRemoveRelationship(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := deps.Workflow.Remove(r.Context(), actorFrom(r), chi.URLParam(r, "id")); err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func handleGetRelationship(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rel, err := deps.Workflow.Get(r.Context(), actorFrom(r), chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, relationshipJSON(rel))
	}
}

func handleCandidateRelationships(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		initiator, err := recruit.ParseInitiator(r.URL.Query().Get("initiator"))
		if err != nil {
			writeError(w, err)
			return
		}
		rels, err := deps.Workflow.ListForCandidate(r.Context(), actorFrom(r), chi.URLParam(r, "id"), initiator)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, relationshipsJSON(rels))
	}
}

func handleJobRelationships(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		initiator, err := recruit.ParseInitiator(r.URL.Query().Get("initiator"))
		if err != nil {
			writeError(w, err)
			return
		}
		rels, err := deps.Workflow.ListForJob(r.Context(), actorFrom(r), chi.URLParam(r, "id"), initiator)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, relationshipsJSON(rels))
	}
}

// handleCompanyRelationships lists records across the caller's jobs. Admins
// may pass ?owner= to look at another company.
func handleCompanyRelationships(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		initiator, err := recruit.ParseInitiator(r.URL.Query().Get("initiator"))
		if err != nil {
			writeError(w, err)
			return
		}
		rels, err := deps.Workflow.ListForCompany(r.Context(), actorFrom(r), r.URL.Query().Get("owner"), initiator)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, relationshipsJSON(rels))
	}
}
