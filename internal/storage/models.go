package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Job statuses.
const (
	JobPending   = "pending"
	JobRunning   = "running"
	JobCompleted = "completed"
	JobFailed    = "failed"
)

type Job struct {
	ID          string
	Type        string
	DedupeKey   string // at most one pending or running job per (Type, DedupeKey)
	PayloadJSON string
	Status      string
	Attempts    int
	MaxAttempts int
	RunAfter    time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
	LastError   string
}

// Corruption is one ERP record that kept failing with the malformed
// description signature. Only identifiers and the last error body are kept.
type Corruption struct {
	ObjectType  string     `json:"objectType"`
	RecordID    string     `json:"recordId"`
	FirstSeen   time.Time  `json:"firstSeen"`
	LastSeen    time.Time  `json:"lastSeen"`
	Occurrences int        `json:"occurrences"`
	LastBody    string     `json:"lastBody,omitempty"`
	ResolvedAt  *time.Time `json:"resolvedAt,omitempty"`
}

// Resolved reports whether a later read succeeded.
func (c Corruption) Resolved() bool { return c.ResolvedAt != nil }
