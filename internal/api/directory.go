package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/jobmatch/internal/matching"
	"github.com/kalambet/jobmatch/internal/recruit"
	"github.com/kalambet/jobmatch/internal/storage"
)

type Candidate struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	Skills         string    `json:"skills,omitempty"`
	Major          string    `json:"major,omitempty"`
	Experiences    string    `json:"experiences,omitempty"`
	Projects       string    `json:"projects,omitempty"`
	Certifications string    `json:"certifications,omitempty"`
	ResumeText     string    `json:"resume_text,omitempty"`
	OpenToWork     bool      `json:"open_to_work"`
	HasEmbedding   bool      `json:"has_embedding"`
	UpdatedAt      time.Time `json:"updated_at"`
}

type candidateRequest struct {
	Name           string `json:"name"`
	Skills         string `json:"skills"`
	Major          string `json:"major"`
	Experiences    string `json:"experiences"`
	Projects       string `json:"projects"`
	Certifications string `json:"certifications"`
	ResumeText     string `json:"resume_text"`
	OpenToWork     *bool  `json:"open_to_work"` // nil: true on create, stored flag on update
}

func candidateJSON(c storage.Candidate) Candidate {
	return Candidate{
		ID:             c.ID,
		Name:           c.Name,
		Skills:         c.Skills,
		Major:          c.Major,
		Experiences:    c.Experiences,
		Projects:       c.Projects,
		Certifications: c.Certifications,
		ResumeText:     c.ResumeText,
		OpenToWork:     c.OpenToWork,
		HasEmbedding:   len(c.Embedding) > 0,
		UpdatedAt:      c.UpdatedAt,
	}
}

type Company struct {
	ID      string `json:"id"`
	OwnerID string `json:"owner_id"`
	Name    string `json:"name"`
}

type Job struct {
	ID           string    `json:"id"`
	CompanyID    string    `json:"company_id"`
	CompanyName  string    `json:"company_name,omitempty"`
	Title        string    `json:"title"`
	Description  string    `json:"description,omitempty"`
	Requirements string    `json:"requirements,omitempty"`
	NiceToHave   string    `json:"nice_to_have,omitempty"`
	Location     string    `json:"location,omitempty"`
	SalaryRange  string    `json:"salary_range,omitempty"`
	Status       string    `json:"status"`
	HasEmbedding bool      `json:"has_embedding"`
	UpdatedAt    time.Time `json:"updated_at"`
}

type jobRequest struct {
	CompanyID    string `json:"company_id"`
	Title        string `json:"title"`
	Description  string `json:"description"`
	Requirements string `json:"requirements"`
	NiceToHave   string `json:"nice_to_have"`
	Location     string `json:"location"`
	SalaryRange  string `json:"salary_range"`
	Status       string `json:"status"`
}

func jobJSON(j storage.Job) Job {
	return Job{
		ID:           j.ID,
		CompanyID:    j.CompanyID,
		CompanyName:  j.CompanyName,
		Title:        j.Title,
		Description:  j.Description,
		Requirements: j.Requirements,
		NiceToHave:   j.NiceToHave,
		Location:     j.Location,
		SalaryRange:  j.SalaryRange,
		Status:       j.Status,
		HasEmbedding: len(j.Embedding) > 0,
		UpdatedAt:    j.UpdatedAt,
	}
}

func handleGetCandidate(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c, err := deps.Profiles.GetCandidate(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, candidateJSON(c))
	}
}

func handlePutCandidate(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req candidateRequest
		if !decodeBody(w, r, &req) {
			return
		}
		c, err := deps.Profiles.SaveCandidate(r.Context(), actorFrom(r), storage.Candidate{
			ID:             chi.URLParam(r, "id"),
			Name:           req.Name,
			Skills:         req.Skills,
			Major:          req.Major,
			Experiences:    req.Experiences,
			Projects:       req.Projects,
			Certifications: req.Certifications,
			ResumeText:     req.ResumeText,
		}, req.OpenToWork)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, candidateJSON(c))
	}
}

func handleDeleteCandidate(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := deps.Profiles.DeleteCandidate(r.Context(), actorFrom(r), chi.URLParam(r, "id")); err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func handlePutCompany(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req Company
		if !decodeBody(w, r, &req) {
			return
		}
		co, err := deps.Profiles.SaveCompany(r.Context(), actorFrom(r), storage.Company{
			ID:      chi.URLParam(r, "id"),
			OwnerID: req.OwnerID,
			Name:    req.Name,
		})
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, Company{ID: co.ID, OwnerID: co.OwnerID, Name: co.Name})
	}
}

func handleGetJob(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		j, err := deps.Profiles.GetJob(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, jobJSON(j))
	}
}

func handlePutJob(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req jobRequest
		if !decodeBody(w, r, &req) {
			return
		}
		j, err := deps.Profiles.SaveJob(r.Context(), actorFrom(r), storage.Job{
			ID:           chi.URLParam(r, "id"),
			CompanyID:    req.CompanyID,
			Title:        req.Title,
			Description:  req.Description,
			Requirements: req.Requirements,
			NiceToHave:   req.NiceToHave,
			Location:     req.Location,
			SalaryRange:  req.SalaryRange,
			Status:       req.Status,
		})
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, jobJSON(j))
	}
}

func handleDeleteJob(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := deps.Profiles.DeleteJob(r.Context(), actorFrom(r), chi.URLParam(r, "id")); err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// handleSuggestCandidates ranks candidates for a job. Only the company
// owning the job or an admin may ask.
func handleSuggestCandidates(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		actor := actorFrom(r)

		job, err := deps.Profiles.GetJob(r.Context(), id)
		if err != nil {
			writeError(w, err)
			return
		}
		if !actor.IsAdmin() && !actor.Is(recruit.RoleCompany, job.OwnerID) {
			writeError(w, fmt.Errorf("%w: suggestions for job %s", recruit.ErrForbidden, id))
			return
		}

		limit := parseIntParam(r, "limit", matching.DefaultLimit, 100)
		out, err := deps.Matching.SuggestCandidates(r.Context(), id, limit)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, out)
	}
}

// handleSuggestJobs ranks jobs for a candidate. Only the candidate or an
// admin may ask.
func handleSuggestJobs(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		actor := actorFrom(r)

		if _, err := deps.Profiles.GetCandidate(r.Context(), id); err != nil {
			writeError(w, err)
			return
		}
		if !actor.IsAdmin() && !actor.Is(recruit.RoleCandidate, id) {
			writeError(w, fmt.Errorf("%w: suggestions for candidate %s", recruit.ErrForbidden, id))
			return
		}

		limit := parseIntParam(r, "limit", matching.DefaultLimit, 100)
		out, err := deps.Matching.SuggestJobs(r.Context(), id, limit)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, out)
	}
}
