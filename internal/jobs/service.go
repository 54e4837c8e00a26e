// Package jobs owns the job lifecycle: intake, claiming, status changes,
// and the events and artifacts a job accumulates.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"fairdatastation/internal/apperr"
	"fairdatastation/internal/artifacts"
	"fairdatastation/internal/models"
	"fairdatastation/internal/store"
	"fairdatastation/internal/telemetry"
)

const queuedMessage = "Train queued for processing..."

// TrainRequest is a train dispatched to the station by a track.
type TrainRequest struct {
	JobUUID                  string `json:"jobUuid"`
	Secret                   string `json:"secret"`
	TrainURI                 string `json:"trainUri"`
	CallbackEventLocation    string `json:"callbackEventLocation"`
	CallbackArtifactLocation string `json:"callbackArtifactLocation"`
}

// Validate checks the request shape only; the train itself is validated
// once the job runs.
func (r TrainRequest) Validate() error {
	var missing []string
	for name, v := range map[string]string{
		"jobUuid":                  r.JobUUID,
		"secret":                   r.Secret,
		"trainUri":                 r.TrainURI,
		"callbackEventLocation":    r.CallbackEventLocation,
		"callbackArtifactLocation": r.CallbackArtifactLocation,
	} {
		if strings.TrimSpace(v) == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return apperr.Validation(nil, "Missing required fields: %s", strings.Join(missing, ", "))
	}
	return nil
}

// TrainResponse acknowledges a queued train.
type TrainResponse struct {
	ID      uuid.UUID        `json:"id"`
	Status  models.JobStatus `json:"status"`
	Message string           `json:"message"`
}

// Service is the job lifecycle manager shared by the API and the pollers.
type Service struct {
	repo      store.Repository
	artifacts *artifacts.Store
	now       func() time.Time
}

func NewService(repo store.Repository, artifactStore *artifacts.Store) *Service {
	if artifactStore == nil {
		artifactStore = artifacts.NewStore(artifacts.Postgres{})
	}
	return &Service{repo: repo, artifacts: artifactStore, now: func() time.Time { return time.Now().UTC() }}
}

// WithClock replaces the time source, for tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// AcceptTrain queues a new job for the train.
func (s *Service) AcceptTrain(ctx context.Context, req TrainRequest) (TrainResponse, error) {
	if err := req.Validate(); err != nil {
		return TrainResponse{}, err
	}
	now := s.now()
	job := models.Job{
		ID:               uuid.New(),
		Secret:           req.Secret,
		RemoteID:         req.JobUUID,
		Status:           models.StatusQueued,
		TrainURI:         req.TrainURI,
		CallbackEventURI: req.CallbackEventLocation,
		CallbackArtifact: req.CallbackArtifactLocation,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	job, err := s.repo.CreateJob(ctx, job)
	if err != nil {
		return TrainResponse{}, err
	}
	telemetry.JobsReceived.Inc()
	log.Printf("job queued job=%s remote=%s train=%s", job.ID, job.RemoteID, job.TrainURI)
	return TrainResponse{ID: job.ID, Status: models.StatusQueued, Message: queuedMessage}, nil
}

// Next claims the oldest queued job, moving it to RUNNING.
func (s *Service) Next(ctx context.Context) (models.Job, bool, error) {
	job, ok, err := s.repo.ClaimNextJob(ctx, s.now())
	if err != nil || !ok {
		return models.Job{}, false, err
	}
	log.Printf("job claimed job=%s version=%d", job.ID, job.Version)
	return job, true, nil
}

// UpdateStatus moves job to status.
func (s *Service) UpdateStatus(ctx context.Context, job models.Job, status models.JobStatus) (models.Job, error) {
	updated, err := s.repo.UpdateJobStatus(ctx, job.ID, status, s.now())
	if err != nil {
		return job, err
	}
	switch status {
	case models.StatusFinished:
		telemetry.JobsFinished.Inc()
	case models.StatusFailed:
		telemetry.JobsFailed.Inc()
	}
	log.Printf("job status job=%s status=%s", updated.ID, updated.Status)
	return updated, nil
}

// CreateEvent records a narration event and enqueues its delivery.
// status is set only on events that terminate the job.
func (s *Service) CreateEvent(ctx context.Context, job models.Job, message string, status *models.JobStatus) (models.JobEvent, error) {
	now := s.now()
	ev := models.JobEvent{
		ID:           uuid.New(),
		JobID:        job.ID,
		Message:      message,
		ResultStatus: status,
		OccurredAt:   now,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	d := models.NewEventDelivery(ev.ID, now)
	if err := s.repo.CreateEvent(ctx, ev, d); err != nil {
		return models.JobEvent{}, err
	}
	log.Printf("job event job=%s event=%s delivery=%s message=%q", job.ID, ev.ID, d.ID, message)
	return ev, nil
}

// CreateArtifact hashes and stores content and enqueues its delivery.
func (s *Service) CreateArtifact(ctx context.Context, job models.Job, content models.ArtifactContent) (models.JobArtifact, error) {
	now := s.now()
	a := models.JobArtifact{
		ID:          uuid.New(),
		JobID:       job.ID,
		DisplayName: content.DisplayName,
		Filename:    content.Filename,
		ContentType: content.ContentType,
		OccurredAt:  now,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.artifacts.Put(ctx, &a, content.Data); err != nil {
		return models.JobArtifact{}, err
	}
	d := models.NewArtifactDelivery(a.ID, now)
	if err := s.repo.CreateArtifact(ctx, a, d); err != nil {
		if derr := s.artifacts.Delete(context.WithoutCancel(ctx), a); derr != nil {
			log.Printf("job artifact cleanup failed job=%s artifact=%s: %v", job.ID, a.ID, derr)
		}
		return models.JobArtifact{}, err
	}
	telemetry.ArtifactsCreated.Inc()
	log.Printf("job artifact job=%s artifact=%s delivery=%s name=%q bytes=%d", job.ID, a.ID, d.ID, a.DisplayName, a.Bytesize)
	return a, nil
}

// ArtifactData loads the bytes of a from its storage backend.
func (s *Service) ArtifactData(ctx context.Context, a models.JobArtifact) ([]byte, error) {
	return s.artifacts.Get(ctx, a)
}

// GetJob returns the job with its events and artifacts in insertion order.
func (s *Service) GetJob(ctx context.Context, id uuid.UUID) (models.Job, error) {
	job, err := s.repo.GetJob(ctx, id)
	if err != nil {
		return models.Job{}, err
	}
	if job.Events, err = s.repo.ListEvents(ctx, id); err != nil {
		return models.Job{}, err
	}
	if job.Artifacts, err = s.repo.ListArtifacts(ctx, id); err != nil {
		return models.Job{}, err
	}
	return job, nil
}

// ListJobs returns a page of jobs, newest first, each with its artifacts.
func (s *Service) ListJobs(ctx context.Context, page, size int) (models.Page[models.Job], error) {
	p, err := s.repo.ListJobs(ctx, page, size)
	if err != nil {
		return p, err
	}
	for i := range p.Content {
		if p.Content[i].Artifacts, err = s.repo.ListArtifacts(ctx, p.Content[i].ID); err != nil {
			return p, err
		}
	}
	return p, nil
}

func (s *Service) ListEvents(ctx context.Context, jobID uuid.UUID) ([]models.JobEvent, error) {
	if _, err := s.repo.GetJob(ctx, jobID); err != nil {
		return nil, err
	}
	events, err := s.repo.ListEvents(ctx, jobID)
	if events == nil {
		events = []models.JobEvent{}
	}
	return events, err
}

func (s *Service) ListArtifacts(ctx context.Context, jobID uuid.UUID) ([]models.JobArtifact, error) {
	if _, err := s.repo.GetJob(ctx, jobID); err != nil {
		return nil, err
	}
	list, err := s.repo.ListArtifacts(ctx, jobID)
	if list == nil {
		list = []models.JobArtifact{}
	}
	return list, err
}

// GetArtifactData returns an artifact of the job with its bytes.
func (s *Service) GetArtifactData(ctx context.Context, jobID, artifactID uuid.UUID) (models.JobArtifact, []byte, error) {
	if _, err := s.repo.GetJob(ctx, jobID); err != nil {
		return models.JobArtifact{}, nil, err
	}
	a, err := s.repo.GetArtifact(ctx, jobID, artifactID)
	if err != nil {
		return models.JobArtifact{}, nil, err
	}
	data, err := s.artifacts.Get(ctx, a)
	if err != nil {
		return models.JobArtifact{}, nil, err
	}
	return a, data, nil
}

// staleMessage narrates a job abandoned by a worker that went away.
const staleMessage = "Processing: Job interrupted (stale)"

// ReapStale fails jobs left RUNNING for longer than after.
func (s *Service) ReapStale(ctx context.Context, after time.Duration) (int, error) {
	if after <= 0 {
		return 0, nil
	}
	stale, err := s.repo.StaleJobs(ctx, s.now().Add(-after))
	if err != nil {
		return 0, err
	}
	reaped := 0
	failed := models.StatusFailed
	for _, job := range stale {
		if _, err := s.UpdateStatus(ctx, job, models.StatusFailed); err != nil {
			if errors.Is(err, store.ErrInvalidTransition) {
				continue
			}
			return reaped, fmt.Errorf("reap job %s: %w", job.ID, err)
		}
		if _, err := s.CreateEvent(ctx, job, staleMessage, &failed); err != nil {
			return reaped, err
		}
		log.Printf("job reaped job=%s running_since=%s", job.ID, job.UpdatedAt.Format(time.RFC3339))
		reaped++
	}
	return reaped, nil
}

// Backlog reports the number of queued jobs and publishes it as a gauge.
func (s *Service) Backlog(ctx context.Context) (int, error) {
	n, err := s.repo.Backlog(ctx)
	if err != nil {
		return 0, err
	}
	telemetry.JobsBacklogGauge.Set(float64(n))
	return n, nil
}
