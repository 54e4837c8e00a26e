package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"fairdatastation/internal/apperr"
	"fairdatastation/internal/models"
)

// Memory is a Repository kept in process memory. A single mutex stands in
// for the row locks of the Postgres implementation.
type Memory struct {
	mu         sync.Mutex
	jobs       map[uuid.UUID]models.Job
	jobOrder   []uuid.UUID
	events     []models.JobEvent
	artifacts  []models.JobArtifact
	deliveries []models.Delivery
	locked     map[uuid.UUID]bool
}

func NewMemory() *Memory {
	return &Memory{
		jobs:   make(map[uuid.UUID]models.Job),
		locked: make(map[uuid.UUID]bool),
	}
}

func (m *Memory) CreateJob(_ context.Context, job models.Job) (models.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.jobs[job.ID]; ok {
		return models.Job{}, fmt.Errorf("insert job: duplicate id %s", job.ID)
	}
	m.jobs[job.ID] = job
	m.jobOrder = append(m.jobOrder, job.ID)
	return job, nil
}

func (m *Memory) GetJob(_ context.Context, id uuid.UUID) (models.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return models.Job{}, apperr.NotFound("Job", id)
	}
	return job, nil
}

func (m *Memory) ListJobs(_ context.Context, page, size int) (models.Page[models.Job], error) {
	page, size = normalizePage(page, size)
	m.mu.Lock()
	defer m.mu.Unlock()
	all := make([]models.Job, 0, len(m.jobOrder))
	for i := len(m.jobOrder) - 1; i >= 0; i-- {
		all = append(all, m.jobs[m.jobOrder[i]])
	}
	start := page * size
	if start > len(all) {
		start = len(all)
	}
	end := start + size
	if end > len(all) {
		end = len(all)
	}
	return models.NewPage(all[start:end], page, size, len(all)), nil
}

func (m *Memory) ClaimNextJob(_ context.Context, now time.Time) (models.Job, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var next *models.Job
	for _, id := range m.jobOrder {
		job := m.jobs[id]
		if job.FinishedAt != nil || job.Status != models.StatusQueued {
			continue
		}
		if next == nil || job.CreatedAt.Before(next.CreatedAt) {
			j := job
			next = &j
		}
	}
	if next == nil {
		return models.Job{}, false, nil
	}
	claimed := next.WithStatus(models.StatusRunning, now)
	m.jobs[claimed.ID] = claimed
	return claimed, true, nil
}

func (m *Memory) UpdateJobStatus(_ context.Context, id uuid.UUID, status models.JobStatus, at time.Time) (models.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return models.Job{}, apperr.NotFound("Job", id)
	}
	if !models.CanTransition(job.Status, status) {
		return models.Job{}, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, job.Status, status)
	}
	job = job.WithStatus(status, at)
	m.jobs[id] = job
	return job, nil
}

func (m *Memory) StaleJobs(_ context.Context, runningBefore time.Time) ([]models.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var stale []models.Job
	for _, id := range m.jobOrder {
		job := m.jobs[id]
		if job.FinishedAt == nil && job.Status == models.StatusRunning && job.UpdatedAt.Before(runningBefore) {
			stale = append(stale, job)
		}
	}
	return stale, nil
}

func (m *Memory) Backlog(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, job := range m.jobs {
		if job.FinishedAt == nil && job.Status == models.StatusQueued {
			n++
		}
	}
	return n, nil
}

func (m *Memory) CreateEvent(_ context.Context, ev models.JobEvent, d models.Delivery) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.jobs[ev.JobID]; !ok {
		return fmt.Errorf("insert job event: %w", apperr.NotFound("Job", ev.JobID))
	}
	m.events = append(m.events, ev)
	m.deliveries = append(m.deliveries, d)
	m.touchRunning(ev.JobID, ev.CreatedAt)
	return nil
}

func (m *Memory) CreateArtifact(_ context.Context, a models.JobArtifact, d models.Delivery) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.jobs[a.JobID]; !ok {
		return fmt.Errorf("insert job artifact: %w", apperr.NotFound("Job", a.JobID))
	}
	a.Data = append([]byte(nil), a.Data...)
	m.artifacts = append(m.artifacts, a)
	m.deliveries = append(m.deliveries, d)
	m.touchRunning(a.JobID, a.CreatedAt)
	return nil
}

// touchRunning must be called with m.mu held.
func (m *Memory) touchRunning(jobID uuid.UUID, at time.Time) {
	job, ok := m.jobs[jobID]
	if !ok || job.Status != models.StatusRunning || !job.UpdatedAt.Before(at) {
		return
	}
	job.UpdatedAt = at
	m.jobs[jobID] = job
}

func (m *Memory) ListEvents(_ context.Context, jobID uuid.UUID) ([]models.JobEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.JobEvent
	for _, ev := range m.events {
		if ev.JobID == jobID {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (m *Memory) ListArtifacts(_ context.Context, jobID uuid.UUID) ([]models.JobArtifact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.JobArtifact
	for _, a := range m.artifacts {
		if a.JobID == jobID {
			a.Data = nil
			out = append(out, a)
		}
	}
	return out, nil
}

func (m *Memory) GetArtifact(_ context.Context, jobID, artifactID uuid.UUID) (models.JobArtifact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.artifacts {
		if a.ID == artifactID && a.JobID == jobID {
			a.Data = append([]byte(nil), a.Data...)
			return a, nil
		}
	}
	return models.JobArtifact{}, apperr.NotFound("JobArtifact", artifactID)
}

func (m *Memory) ClaimDelivery(_ context.Context, now time.Time) (DeliveryClaim, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	idx := -1
	for i, d := range m.deliveries {
		if m.locked[d.ID] || !d.Eligible(now) {
			continue
		}
		if idx == -1 || d.DispatchAt.Before(*m.deliveries[idx].DispatchAt) {
			idx = i
		}
	}
	if idx == -1 {
		return nil, false, nil
	}
	d := m.deliveries[idx]
	item := models.DeliveryItem{Delivery: d}
	var jobID uuid.UUID
	switch {
	case d.EventID != nil:
		for _, ev := range m.events {
			if ev.ID == *d.EventID {
				e := ev
				item.Event, jobID = &e, ev.JobID
			}
		}
	case d.ArtifactID != nil:
		for _, a := range m.artifacts {
			if a.ID == *d.ArtifactID {
				art := a
				art.Data = append([]byte(nil), a.Data...)
				item.Artifact, jobID = &art, a.JobID
			}
		}
	}
	job, ok := m.jobs[jobID]
	if !ok {
		return nil, false, fmt.Errorf("delivery %s references no known job", d.ID)
	}
	item.Job = job
	m.locked[d.ID] = true
	return &memDeliveryClaim{store: m, item: item}, true, nil
}

// Deliveries returns a snapshot of the delivery ledger ordered by creation.
func (m *Memory) Deliveries() []models.Delivery {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := append([]models.Delivery(nil), m.deliveries...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

type memDeliveryClaim struct {
	store *Memory
	item  models.DeliveryItem
	done  bool
}

func (c *memDeliveryClaim) Item() models.DeliveryItem {
	return c.item
}

func (c *memDeliveryClaim) Complete(_ context.Context, outcome models.DeliveryOutcome) error {
	m := c.store
	m.mu.Lock()
	defer m.mu.Unlock()
	if c.done {
		return fmt.Errorf("delivery %s already completed", c.item.Delivery.ID)
	}
	c.done = true
	delete(m.locked, c.item.Delivery.ID)
	for i := range m.deliveries {
		if m.deliveries[i].ID != c.item.Delivery.ID {
			continue
		}
		at := outcome.DispatchedAt
		m.deliveries[i].Delivered = outcome.Delivered
		m.deliveries[i].DispatchedAt = &at
		m.deliveries[i].LastError = outcome.LastError
		m.deliveries[i].UpdatedAt = at
	}
	if outcome.Next != nil {
		m.deliveries = append(m.deliveries, *outcome.Next)
	}
	return nil
}

func (c *memDeliveryClaim) Release(_ context.Context) error {
	m := c.store
	m.mu.Lock()
	defer m.mu.Unlock()
	if !c.done {
		c.done = true
		delete(m.locked, c.item.Delivery.ID)
	}
	return nil
}
