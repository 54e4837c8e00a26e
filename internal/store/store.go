// Package store persists jobs, their events and artifacts, and the
// delivery ledger. Two implementations share the Repository contract:
// Postgres for production and Memory for development and tests.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"fairdatastation/internal/models"
)

// ErrInvalidTransition is returned when a status change would leave a
// terminal state or skip a step of the job lifecycle.
var ErrInvalidTransition = errors.New("invalid job status transition")

// Repository is the durable state shared by the API and both pollers.
type Repository interface {
	CreateJob(ctx context.Context, job models.Job) (models.Job, error)
	GetJob(ctx context.Context, id uuid.UUID) (models.Job, error)
	ListJobs(ctx context.Context, page, size int) (models.Page[models.Job], error)
	// ClaimNextJob moves the oldest unfinished QUEUED job to RUNNING.
	ClaimNextJob(ctx context.Context, now time.Time) (models.Job, bool, error)
	UpdateJobStatus(ctx context.Context, id uuid.UUID, status models.JobStatus, at time.Time) (models.Job, error)
	StaleJobs(ctx context.Context, runningBefore time.Time) ([]models.Job, error)
	Backlog(ctx context.Context) (int, error)

	// CreateEvent stores the event together with its initial delivery.
	CreateEvent(ctx context.Context, event models.JobEvent, delivery models.Delivery) error
	// CreateArtifact stores the artifact together with its initial delivery.
	CreateArtifact(ctx context.Context, artifact models.JobArtifact, delivery models.Delivery) error
	ListEvents(ctx context.Context, jobID uuid.UUID) ([]models.JobEvent, error)
	ListArtifacts(ctx context.Context, jobID uuid.UUID) ([]models.JobArtifact, error)
	GetArtifact(ctx context.Context, jobID, artifactID uuid.UUID) (models.JobArtifact, error)

	// ClaimDelivery locks the oldest eligible delivery. The lock is held
	// until the claim is completed or released.
	ClaimDelivery(ctx context.Context, now time.Time) (DeliveryClaim, bool, error)
}

// DeliveryClaim is an exclusively held delivery record.
type DeliveryClaim interface {
	Item() models.DeliveryItem
	// Complete records the outcome, inserts the retry record if any, and
	// releases the lock.
	Complete(ctx context.Context, outcome models.DeliveryOutcome) error
	// Release drops the lock without recording anything.
	Release(ctx context.Context) error
}

func normalizePage(page, size int) (int, int) {
	if page < 0 {
		page = 0
	}
	if size <= 0 {
		size = 20
	}
	if size > 200 {
		size = 200
	}
	return page, size
}

var (
	_ Repository = (*Postgres)(nil)
	_ Repository = (*Memory)(nil)
)
