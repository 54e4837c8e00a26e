package models

import (
	"time"

	"github.com/google/uuid"
)

// JobStatus enumerates lifecycle states persisted in Postgres.
type JobStatus string

const (
	StatusQueued   JobStatus = "QUEUED"
	StatusRunning  JobStatus = "RUNNING"
	StatusFinished JobStatus = "FINISHED"
	StatusFailed   JobStatus = "FAILED"
)

func (s JobStatus) String() string {
	return string(s)
}

// IsTerminal reports whether no further transition is allowed out of s.
func (s JobStatus) IsTerminal() bool {
	return s == StatusFinished || s == StatusFailed
}

// CanTransition reports whether a job may move from one status to another.
func CanTransition(from, to JobStatus) bool {
	switch from {
	case StatusQueued:
		return to == StatusRunning
	case StatusRunning:
		return to == StatusFinished || to == StatusFailed
	default:
		return false
	}
}

// Job is one train execution accepted from a track.
type Job struct {
	ID               uuid.UUID     `json:"uuid"`
	Secret           string        `json:"-"`
	RemoteID         string        `json:"remoteId"`
	Status           JobStatus     `json:"status"`
	StartedAt        *time.Time    `json:"startedAt"`
	FinishedAt       *time.Time    `json:"finishedAt"`
	TrainURI         string        `json:"trainUri"`
	CallbackEventURI string        `json:"-"`
	CallbackArtifact string        `json:"-"`
	Version          int64         `json:"version"`
	Events           []JobEvent    `json:"events,omitempty"`
	Artifacts        []JobArtifact `json:"artifacts,omitempty"`
	CreatedAt        time.Time     `json:"createdAt"`
	UpdatedAt        time.Time     `json:"updatedAt"`
}

// WithStatus returns a copy of the job moved to status at the given time.
// Terminal statuses stamp FinishedAt, RUNNING stamps StartedAt.
func (j Job) WithStatus(status JobStatus, at time.Time) Job {
	j.Status = status
	j.UpdatedAt = at
	j.Version++
	switch {
	case status == StatusRunning:
		j.StartedAt = &at
	case status.IsTerminal():
		j.FinishedAt = &at
	}
	return j
}

// JobEvent is one narration record for a job.
type JobEvent struct {
	ID           uuid.UUID  `json:"uuid"`
	JobID        uuid.UUID  `json:"-"`
	Message      string     `json:"message"`
	ResultStatus *JobStatus `json:"resultStatus"`
	OccurredAt   time.Time  `json:"occurredAt"`
	CreatedAt    time.Time  `json:"createdAt"`
	UpdatedAt    time.Time  `json:"updatedAt"`
}

// Page is a slice of items plus paging metadata.
type Page[T any] struct {
	Content       []T `json:"content"`
	Number        int `json:"number"`
	Size          int `json:"size"`
	TotalElements int `json:"totalElements"`
	TotalPages    int `json:"totalPages"`
}

// NewPage computes the paging metadata for a result slice.
func NewPage[T any](items []T, number, size, total int) Page[T] {
	pages := 0
	if size > 0 {
		pages = (total + size - 1) / size
	}
	if items == nil {
		items = []T{}
	}
	return Page[T]{Content: items, Number: number, Size: size, TotalElements: total, TotalPages: pages}
}
