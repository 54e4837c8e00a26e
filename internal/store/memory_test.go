package store

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fairdatastation/internal/apperr"
	"fairdatastation/internal/models"
)

func newJob(created time.Time) models.Job {
	return models.Job{
		ID:               uuid.New(),
		Secret:           "s3cr3t",
		RemoteID:         "remote-1",
		Status:           models.StatusQueued,
		TrainURI:         "http://train.example/1",
		CallbackEventURI: "http://track.example/events",
		CallbackArtifact: "http://track.example/artifacts",
		CreatedAt:        created,
		UpdatedAt:        created,
	}
}

func TestClaimNextJobIsFIFOAndSingleShot(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	base := time.Now().Add(-time.Hour)
	newer, _ := m.CreateJob(ctx, newJob(base.Add(time.Minute)))
	older, _ := m.CreateJob(ctx, newJob(base))

	job, ok, err := m.ClaimNextJob(ctx, time.Now())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, older.ID, job.ID)
	assert.Equal(t, models.StatusRunning, job.Status)
	require.NotNil(t, job.StartedAt)

	job, ok, _ = m.ClaimNextJob(ctx, time.Now())
	require.True(t, ok)
	assert.Equal(t, newer.ID, job.ID)

	_, ok, _ = m.ClaimNextJob(ctx, time.Now())
	assert.False(t, ok)
}

func TestUpdateJobStatusRejectsLeavingTerminalState(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	job, _ := m.CreateJob(ctx, newJob(time.Now()))

	_, err := m.UpdateJobStatus(ctx, job.ID, models.StatusFinished, time.Now())
	assert.ErrorIs(t, err, ErrInvalidTransition)

	_, _, _ = m.ClaimNextJob(ctx, time.Now())
	done, err := m.UpdateJobStatus(ctx, job.ID, models.StatusFinished, time.Now())
	require.NoError(t, err)
	require.NotNil(t, done.FinishedAt)
	assert.Equal(t, int64(2), done.Version)

	_, err = m.UpdateJobStatus(ctx, job.ID, models.StatusFailed, time.Now())
	assert.ErrorIs(t, err, ErrInvalidTransition)

	_, err = m.UpdateJobStatus(ctx, uuid.New(), models.StatusFailed, time.Now())
	assert.True(t, errors.Is(err, apperr.ErrNotFound))
}

func TestStaleJobsAndBacklog(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	_, _ = m.CreateJob(ctx, newJob(time.Now().Add(-2*time.Hour)))
	_, _ = m.CreateJob(ctx, newJob(time.Now()))

	n, _ := m.Backlog(ctx)
	assert.Equal(t, 2, n)

	claimed, _, _ := m.ClaimNextJob(ctx, time.Now().Add(-90*time.Minute))
	stale, err := m.StaleJobs(ctx, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, claimed.ID, stale[0].ID)

	n, _ = m.Backlog(ctx)
	assert.Equal(t, 1, n)
}

func TestProgressKeepsRunningJobFresh(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	start := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	_, _ = m.CreateJob(ctx, newJob(start))
	job, ok, err := m.ClaimNextJob(ctx, start)
	require.NoError(t, err)
	require.True(t, ok)

	progress := start.Add(50 * time.Minute)
	ev := models.JobEvent{ID: uuid.New(), JobID: job.ID, Message: "Execution: still going", OccurredAt: progress, CreatedAt: progress}
	require.NoError(t, m.CreateEvent(ctx, ev, models.NewEventDelivery(ev.ID, progress)))

	stale, err := m.StaleJobs(ctx, start.Add(30*time.Minute))
	require.NoError(t, err)
	assert.Empty(t, stale, "a job that keeps narrating is not stale")

	later := progress.Add(5 * time.Minute)
	a := models.JobArtifact{ID: uuid.New(), JobID: job.ID, CreatedAt: later}
	require.NoError(t, m.CreateArtifact(ctx, a, models.NewArtifactDelivery(a.ID, later)))
	got, err := m.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, later, got.UpdatedAt)

	stale, err = m.StaleJobs(ctx, later.Add(time.Minute))
	require.NoError(t, err)
	require.Len(t, stale, 1)
}

func TestEventsAndArtifactsKeepInsertionOrder(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	job, _ := m.CreateJob(ctx, newJob(time.Now()))
	now := time.Now()
	for _, msg := range []string{"first", "second", "third"} {
		ev := models.JobEvent{ID: uuid.New(), JobID: job.ID, Message: msg, OccurredAt: now}
		require.NoError(t, m.CreateEvent(ctx, ev, models.NewEventDelivery(ev.ID, now)))
	}
	events, _ := m.ListEvents(ctx, job.ID)
	require.Len(t, events, 3)
	assert.Equal(t, "third", events[2].Message)

	data := []byte("payload")
	a := models.JobArtifact{ID: uuid.New(), JobID: job.ID, Data: data, Bytesize: int64(len(data)), Hash: models.HashData(data)}
	require.NoError(t, m.CreateArtifact(ctx, a, models.NewArtifactDelivery(a.ID, now)))

	listed, _ := m.ListArtifacts(ctx, job.ID)
	require.Len(t, listed, 1)
	assert.Nil(t, listed[0].Data)

	got, err := m.GetArtifact(ctx, job.ID, a.ID)
	require.NoError(t, err)
	assert.True(t, got.Verify(got.Data))

	_, err = m.GetArtifact(ctx, uuid.New(), a.ID)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	assert.Len(t, m.Deliveries(), 4)
}

func TestClaimDeliveryOldestFirst(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	job, _ := m.CreateJob(ctx, newJob(time.Now()))
	now := time.Now()

	late := models.JobEvent{ID: uuid.New(), JobID: job.ID, Message: "late"}
	early := models.JobEvent{ID: uuid.New(), JobID: job.ID, Message: "early"}
	require.NoError(t, m.CreateEvent(ctx, late, models.NewEventDelivery(late.ID, now.Add(-time.Second))))
	require.NoError(t, m.CreateEvent(ctx, early, models.NewEventDelivery(early.ID, now.Add(-time.Minute))))
	future := models.JobEvent{ID: uuid.New(), JobID: job.ID, Message: "future"}
	require.NoError(t, m.CreateEvent(ctx, future, models.NewEventDelivery(future.ID, now.Add(time.Hour))))

	claim, ok, err := m.ClaimDelivery(ctx, now)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "early", claim.Item().Event.Message)
	assert.Equal(t, job.ID, claim.Item().Job.ID)
	require.NoError(t, claim.Complete(ctx, models.DeliveryOutcome{Delivered: true, DispatchedAt: now}))

	claim, ok, _ = m.ClaimDelivery(ctx, now)
	require.True(t, ok)
	assert.Equal(t, "late", claim.Item().Event.Message)
	require.NoError(t, claim.Release(ctx))

	claim, ok, _ = m.ClaimDelivery(ctx, now)
	require.True(t, ok)
	assert.Equal(t, "late", claim.Item().Event.Message)
	require.NoError(t, claim.Complete(ctx, models.DeliveryOutcome{DispatchedAt: now, LastError: "boom"}))

	_, ok, _ = m.ClaimDelivery(ctx, now)
	assert.False(t, ok, "attempted and future deliveries are not eligible")
}

func TestClaimDeliveryExclusiveUnderConcurrency(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	job, _ := m.CreateJob(ctx, newJob(time.Now()))
	ev := models.JobEvent{ID: uuid.New(), JobID: job.ID, Message: "only"}
	require.NoError(t, m.CreateEvent(ctx, ev, models.NewEventDelivery(ev.ID, time.Now().Add(-time.Second))))

	const claimers = 16
	var wins int32
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < claimers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			claim, ok, err := m.ClaimDelivery(ctx, time.Now())
			if err != nil || !ok {
				return
			}
			atomic.AddInt32(&wins, 1)
			time.Sleep(10 * time.Millisecond)
			_ = claim.Complete(ctx, models.DeliveryOutcome{Delivered: true, DispatchedAt: time.Now()})
		}()
	}
	close(start)
	wg.Wait()
	assert.Equal(t, int32(1), wins)
}
