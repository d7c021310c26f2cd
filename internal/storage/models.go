package storage

import (
	"errors"
	"time"

	"github.com/kalambet/jobmatch/internal/recruit"
)

var (
	// ErrNotFound is returned when a requested record does not exist or is tombstoned.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when an insert violates a uniqueness constraint.
	ErrConflict = errors.New("conflict")
	// ErrStale is returned when a conditional update finds the row no longer
	// in the expected state.
	ErrStale = errors.New("stale state")
)

// Candidate is a student profile. ID is the candidate's user id.
type Candidate struct {
	ID             string
	Name           string
	Skills         string
	Major          string
	Experiences    string
	Projects       string
	Certifications string
	ResumeText     string
	OpenToWork     bool
	Embedding      []float32 // nil when absent
	Revision       int64     // bumped by every save, read-only
	CreatedAt      time.Time
	UpdatedAt      time.Time
	UpdatedBy      string
}

// Company is an employer account. OwnerID is the user id acting for it.
type Company struct {
	ID        string
	OwnerID   string
	Name      string
	CreatedAt time.Time
	UpdatedAt time.Time
}

const (
	JobActive = "active"
	JobClosed = "closed"
)

// Job is a job posting.
type Job struct {
	ID           string
	CompanyID    string
	OwnerID      string // resolved from companies.owner_id, read-only
	CompanyName  string // read-only
	Title        string
	Description  string
	Requirements string
	NiceToHave   string
	Location     string
	SalaryRange  string
	Status       string // "active", "closed"
	Embedding    []float32
	Revision     int64 // bumped by every save, read-only
	CreatedAt    time.Time
	UpdatedAt    time.Time
	UpdatedBy    string
}

// Relationship is one candidate-job interaction (application or invitation).
type Relationship struct {
	ID          string
	CandidateID string
	JobID       string
	Initiator   recruit.Initiator
	Status      recruit.Status
	CreatedAt   time.Time
	UpdatedAt   time.Time
	UpdatedBy   string
	Deleted     bool
	DeletedAt   time.Time

	// Joined from jobs/companies on read.
	JobTitle   string
	JobOwnerID string
}

// Task is a durable unit of background work.
type Task struct {
	ID          string
	Type        string
	PayloadJSON string
	Status      string // "pending", "running", "completed", "failed"
	Attempts    int
	MaxAttempts int
	RunAfter    time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
	LastError   string
}
