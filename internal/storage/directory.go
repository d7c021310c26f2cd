package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// --- Candidates ---

const candidateFields = `id, name, skills, major, experiences, projects, certifications, resume_text,
	open_to_work, embedding, created_at, updated_at, updated_by`

const candidateColumns = candidateFields + `, revision`

// SaveCandidate inserts or replaces a candidate profile, reviving it if it
// was tombstoned, and bumps its revision.
func (q queries) SaveCandidate(ctx context.Context, c Candidate) error {
	now := time.Now().UTC()
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = now
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = c.UpdatedAt
	}
	_, err := q.q.ExecContext(ctx, `
		INSERT INTO candidates (`+candidateFields+`, revision, deleted, deleted_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1, 0, NULL)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name, skills = excluded.skills, major = excluded.major,
			experiences = excluded.experiences, projects = excluded.projects,
			certifications = excluded.certifications, resume_text = excluded.resume_text,
			open_to_work = excluded.open_to_work, embedding = excluded.embedding,
			updated_at = excluded.updated_at, updated_by = excluded.updated_by,
			revision = candidates.revision + 1, deleted = 0, deleted_at = NULL`,
		c.ID, c.Name, c.Skills, c.Major, c.Experiences, c.Projects, c.Certifications, c.ResumeText,
		boolInt(c.OpenToWork), encodeVector(c.Embedding),
		formatTime(c.CreatedAt), formatTime(c.UpdatedAt), c.UpdatedBy,
	)
	if err != nil {
		return fmt.Errorf("saving candidate %s: %w", c.ID, err)
	}
	return nil
}

// GetCandidate returns a non-tombstoned candidate.
func (q queries) GetCandidate(ctx context.Context, id string) (Candidate, error) {
	row := q.q.QueryRowContext(ctx, `SELECT `+candidateColumns+` FROM candidates WHERE id = ? AND deleted = 0`, id)
	c, err := scanCandidate(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Candidate{}, ErrNotFound
	}
	return c, err
}

// ListRankableCandidates returns open-to-work, non-tombstoned candidates
// that carry an embedding.
func (q queries) ListRankableCandidates(ctx context.Context) ([]Candidate, error) {
	return q.listCandidates(ctx, `SELECT `+candidateColumns+` FROM candidates
		WHERE deleted = 0 AND open_to_work = 1 AND embedding IS NOT NULL
		ORDER BY id ASC`)
}

// ListCandidatesForEmbedding returns non-tombstoned candidates without an
// embedding, or all of them when force is set.
func (q queries) ListCandidatesForEmbedding(ctx context.Context, force bool) ([]Candidate, error) {
	return q.listCandidates(ctx, `SELECT `+candidateColumns+` FROM candidates
		WHERE deleted = 0 AND (? = 1 OR embedding IS NULL)
		ORDER BY id ASC`, boolInt(force))
}

func (q queries) listCandidates(ctx context.Context, query string, args ...any) ([]Candidate, error) {
	rows, err := q.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Candidate
	for rows.Next() {
		c, err := scanCandidate(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// SetCandidateEmbedding stores (or with nil, clears) the vector computed
// from the candidate at the given revision. It returns ErrStale when the
// profile was saved again in the meantime.
func (q queries) SetCandidateEmbedding(ctx context.Context, id string, revision int64, vec []float32) error {
	return q.setEmbedding(ctx, "candidates", id, revision, vec)
}

// DeleteCandidate tombstones a candidate.
func (q queries) DeleteCandidate(ctx context.Context, id, by string) error {
	now := formatTime(time.Now())
	res, err := q.q.ExecContext(ctx, `
		UPDATE candidates SET deleted = 1, deleted_at = ?, updated_at = ?, updated_by = ?
		WHERE id = ? AND deleted = 0`, now, now, by, id)
	if err != nil {
		return fmt.Errorf("deleting candidate: %w", err)
	}
	return affectedOne(res, ErrNotFound)
}

func scanCandidate(s scanner) (Candidate, error) {
	var c Candidate
	var openToWork int
	var embedding sql.NullString
	var createdAt, updatedAt string
	if err := s.Scan(&c.ID, &c.Name, &c.Skills, &c.Major, &c.Experiences, &c.Projects, &c.Certifications,
		&c.ResumeText, &openToWork, &embedding, &createdAt, &updatedAt, &c.UpdatedBy, &c.Revision); err != nil {
		return Candidate{}, err
	}
	c.OpenToWork = openToWork != 0

	var err error
	if c.Embedding, err = decodeVector(embedding); err != nil {
		return Candidate{}, fmt.Errorf("candidate %s: %w", c.ID, err)
	}
	if c.CreatedAt, err = parseTime("created_at", createdAt); err != nil {
		return Candidate{}, err
	}
	if c.UpdatedAt, err = parseTime("updated_at", updatedAt); err != nil {
		return Candidate{}, err
	}
	return c, nil
}

// --- Companies ---

func (q queries) SaveCompany(ctx context.Context, c Company) error {
	now := time.Now().UTC()
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = now
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = c.UpdatedAt
	}
	_, err := q.q.ExecContext(ctx, `
		INSERT INTO companies (id, owner_id, name, created_at, updated_at, deleted, deleted_at)
		VALUES (?, ?, ?, ?, ?, 0, NULL)
		ON CONFLICT(id) DO UPDATE SET
			owner_id = excluded.owner_id, name = excluded.name,
			updated_at = excluded.updated_at, deleted = 0, deleted_at = NULL`,
		c.ID, c.OwnerID, c.Name, formatTime(c.CreatedAt), formatTime(c.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("saving company %s: %w", c.ID, err)
	}
	return nil
}

func (q queries) GetCompany(ctx context.Context, id string) (Company, error) {
	var c Company
	var createdAt, updatedAt string
	err := q.q.QueryRowContext(ctx, `
		SELECT id, owner_id, name, created_at, updated_at
		FROM companies WHERE id = ? AND deleted = 0`, id,
	).Scan(&c.ID, &c.OwnerID, &c.Name, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Company{}, ErrNotFound
	}
	if err != nil {
		return Company{}, err
	}
	if c.CreatedAt, err = parseTime("created_at", createdAt); err != nil {
		return Company{}, err
	}
	if c.UpdatedAt, err = parseTime("updated_at", updatedAt); err != nil {
		return Company{}, err
	}
	return c, nil
}

// --- Jobs ---

const jobSelect = `SELECT j.id, j.company_id, COALESCE(c.owner_id, ''), COALESCE(c.name, ''),
	j.title, j.description, j.requirements, j.nice_to_have, j.location, j.salary_range, j.status,
	j.embedding, j.created_at, j.updated_at, j.updated_by, j.revision
	FROM jobs j LEFT JOIN companies c ON c.id = j.company_id`

func (q queries) SaveJob(ctx context.Context, j Job) error {
	now := time.Now().UTC()
	if j.UpdatedAt.IsZero() {
		j.UpdatedAt = now
	}
	if j.CreatedAt.IsZero() {
		j.CreatedAt = j.UpdatedAt
	}
	if j.Status == "" {
		j.Status = JobActive
	}
	_, err := q.q.ExecContext(ctx, `
		INSERT INTO jobs (id, company_id, title, description, requirements, nice_to_have, location, salary_range,
			status, embedding, created_at, updated_at, updated_by, revision, deleted, deleted_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1, 0, NULL)
		ON CONFLICT(id) DO UPDATE SET
			company_id = excluded.company_id, title = excluded.title, description = excluded.description,
			requirements = excluded.requirements, nice_to_have = excluded.nice_to_have,
			location = excluded.location, salary_range = excluded.salary_range, status = excluded.status,
			embedding = excluded.embedding, updated_at = excluded.updated_at, updated_by = excluded.updated_by,
			revision = jobs.revision + 1, deleted = 0, deleted_at = NULL`,
		j.ID, j.CompanyID, j.Title, j.Description, j.Requirements, j.NiceToHave, j.Location, j.SalaryRange,
		j.Status, encodeVector(j.Embedding), formatTime(j.CreatedAt), formatTime(j.UpdatedAt), j.UpdatedBy,
	)
	if err != nil {
		return fmt.Errorf("saving job %s: %w", j.ID, err)
	}
	return nil
}

// GetJob returns a non-tombstoned job with its owner resolved.
func (q queries) GetJob(ctx context.Context, id string) (Job, error) {
	j, err := scanJob(q.q.QueryRowContext(ctx, jobSelect+` WHERE j.id = ? AND j.deleted = 0`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Job{}, ErrNotFound
	}
	return j, err
}

// ListRankableJobs returns active, non-tombstoned jobs carrying an embedding.
func (q queries) ListRankableJobs(ctx context.Context) ([]Job, error) {
	return q.listJobs(ctx, jobSelect+` WHERE j.deleted = 0 AND j.status = 'active' AND j.embedding IS NOT NULL
		ORDER BY j.id ASC`)
}

// ListJobsForEmbedding returns non-tombstoned jobs without an embedding, or
// all of them when force is set.
func (q queries) ListJobsForEmbedding(ctx context.Context, force bool) ([]Job, error) {
	return q.listJobs(ctx, jobSelect+` WHERE j.deleted = 0 AND (? = 1 OR j.embedding IS NULL)
		ORDER BY j.id ASC`, boolInt(force))
}

func (q queries) listJobs(ctx context.Context, query string, args ...any) ([]Job, error) {
	rows, err := q.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

// SetJobEmbedding is SetCandidateEmbedding for job postings.
func (q queries) SetJobEmbedding(ctx context.Context, id string, revision int64, vec []float32) error {
	return q.setEmbedding(ctx, "jobs", id, revision, vec)
}

// setEmbedding writes a vector only if the row is still at revision.
func (q queries) setEmbedding(ctx context.Context, table, id string, revision int64, vec []float32) error {
	res, err := q.q.ExecContext(ctx, `UPDATE `+table+` SET embedding = ? WHERE id = ? AND revision = ? AND deleted = 0`,
		encodeVector(vec), id, revision)
	if err != nil {
		return fmt.Errorf("setting %s embedding: %w", table, err)
	}
	if err := affectedOne(res, ErrStale); !errors.Is(err, ErrStale) {
		return err
	}

	var current int64
	err = q.q.QueryRowContext(ctx, `SELECT revision FROM `+table+` WHERE id = ? AND deleted = 0`, id).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: %s %s is at revision %d, vector computed from %d", ErrStale, table, id, current, revision)
}

// DeleteJob tombstones a job posting.
func (q queries) DeleteJob(ctx context.Context, id, by string) error {
	now := formatTime(time.Now())
	res, err := q.q.ExecContext(ctx, `
		UPDATE jobs SET deleted = 1, deleted_at = ?, updated_at = ?, updated_by = ?
		WHERE id = ? AND deleted = 0`, now, now, by, id)
	if err != nil {
		return fmt.Errorf("deleting job: %w", err)
	}
	return affectedOne(res, ErrNotFound)
}

func scanJob(s scanner) (Job, error) {
	var j Job
	var embedding sql.NullString
	var createdAt, updatedAt string
	if err := s.Scan(&j.ID, &j.CompanyID, &j.OwnerID, &j.CompanyName, &j.Title, &j.Description,
		&j.Requirements, &j.NiceToHave, &j.Location, &j.SalaryRange, &j.Status,
		&embedding, &createdAt, &updatedAt, &j.UpdatedBy, &j.Revision); err != nil {
		return Job{}, err
	}

	var err error
	if j.Embedding, err = decodeVector(embedding); err != nil {
		return Job{}, fmt.Errorf("job %s: %w", j.ID, err)
	}
	if j.CreatedAt, err = parseTime("created_at", createdAt); err != nil {
		return Job{}, err
	}
	if j.UpdatedAt, err = parseTime("updated_at", updatedAt); err != nil {
		return Job{}, err
	}
	return j, nil
}
