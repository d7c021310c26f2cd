// Package matching ranks candidates against jobs (and jobs against
// candidates) by cosine similarity of their precomputed embeddings.
package matching

import (
	"context"
	"errors"
	"fmt"

	"github.com/kalambet/jobmatch/internal/recruit"
	"github.com/kalambet/jobmatch/internal/storage"
)

// Store is the read-only view of the directory the Service needs.
// Implemented by storage.Store.
type Store interface {
	GetJob(ctx context.Context, id string) (storage.Job, error)
	GetCandidate(ctx context.Context, id string) (storage.Candidate, error)
	ListRankableCandidates(ctx context.Context) ([]storage.Candidate, error)
	ListRankableJobs(ctx context.Context) ([]storage.Job, error)
}

type CandidateSummary struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	Skills         string `json:"skills,omitempty"`
	Major          string `json:"major,omitempty"`
	Experiences    string `json:"experiences,omitempty"`
	Certifications string `json:"certifications,omitempty"`
}

type CandidateSuggestion struct {
	Candidate CandidateSummary `json:"candidate"`
	Score     float64          `json:"score"`
}

type JobSummary struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	CompanyID   string `json:"company_id"`
	CompanyName string `json:"company_name,omitempty"`
	Location    string `json:"location,omitempty"`
	SalaryRange string `json:"salary_range,omitempty"`
}

type JobSuggestion struct {
	Job   JobSummary `json:"job"`
	Score float64    `json:"score"`
}

// Service produces advisory suggestions. It never writes.
type Service struct {
	store Store
}

func NewService(store Store) *Service {
	return &Service{store: store}
}

// SuggestCandidates ranks open-to-work candidates for a job.
func (s *Service) SuggestCandidates(ctx context.Context, jobID string, limit int) ([]CandidateSuggestion, error) {
	job, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, lookupErr("job", jobID, err)
	}
	if len(job.Embedding) == 0 {
		return nil, fmt.Errorf("job %s: %w", jobID, recruit.ErrNotRankable)
	}

	pool, err := s.store.ListRankableCandidates(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading candidate pool: %w", err)
	}

	entries := make([]Entry, len(pool))
	byID := make(map[string]storage.Candidate, len(pool))
	for i, c := range pool {
		entries[i] = Entry{ID: c.ID, Vector: c.Embedding}
		byID[c.ID] = c
	}

	ranked := Rank(job.Embedding, entries, limit)
	out := make([]CandidateSuggestion, len(ranked))
	for i, r := range ranked {
		c := byID[r.ID]
		out[i] = CandidateSuggestion{
			Candidate: CandidateSummary{
				ID:             c.ID,
				Name:           c.Name,
				Skills:         c.Skills,
				Major:          c.Major,
				Experiences:    c.Experiences,
				Certifications: c.Certifications,
			},
			Score: r.Score,
		}
	}
	return out, nil
}

// SuggestJobs ranks active jobs for a candidate.
func (s *Service) SuggestJobs(ctx context.Context, candidateID string, limit int) ([]JobSuggestion, error) {
	cand, err := s.store.GetCandidate(ctx, candidateID)
	if err != nil {
		return nil, lookupErr("candidate", candidateID, err)
	}
	if len(cand.Embedding) == 0 {
		return nil, fmt.Errorf("candidate %s: %w", candidateID, recruit.ErrNotRankable)
	}

	pool, err := s.store.ListRankableJobs(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading job pool: %w", err)
	}

	entries := make([]Entry, len(pool))
	byID := make(map[string]storage.Job, len(pool))
	for i, j := range pool {
		entries[i] = Entry{ID: j.ID, Vector: j.Embedding}
		byID[j.ID] = j
	}

	ranked := Rank(cand.Embedding, entries, limit)
	out := make([]JobSuggestion, len(ranked))
	for i, r := range ranked {
		j := byID[r.ID]
		out[i] = JobSuggestion{
			Job: JobSummary{
				ID:          j.ID,
				Title:       j.Title,
				CompanyID:   j.CompanyID,
				CompanyName: j.CompanyName,
				Location:    j.Location,
				SalaryRange: j.SalaryRange,
			},
			Score: r.Score,
		}
	}
	return out, nil
}

func lookupErr(kind, id string, err error) error {
	if errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("%w: %s %s", recruit.ErrNotFound, kind, id)
	}
	return fmt.Errorf("loading %s %s: %w", kind, id, err)
}
