package models

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanTransition(t *testing.T) {
	all := []JobStatus{StatusQueued, StatusRunning, StatusFinished, StatusFailed}
	allowed := map[[2]JobStatus]bool{
		{StatusQueued, StatusRunning}:   true,
		{StatusRunning, StatusFinished}: true,
		{StatusRunning, StatusFailed}:   true,
	}
	for _, from := range all {
		for _, to := range all {
			assert.Equal(t, allowed[[2]JobStatus{from, to}], CanTransition(from, to), "%s -> %s", from, to)
		}
	}
}

func TestWithStatusStampsTimes(t *testing.T) {
	now := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	job := Job{ID: uuid.New(), Status: StatusQueued}

	running := job.WithStatus(StatusRunning, now)
	require.NotNil(t, running.StartedAt)
	assert.Nil(t, running.FinishedAt)
	assert.Equal(t, int64(1), running.Version)

	done := running.WithStatus(StatusFailed, now.Add(time.Minute))
	require.NotNil(t, done.FinishedAt)
	assert.Equal(t, now.Add(time.Minute), *done.FinishedAt)
	assert.Equal(t, now, *done.StartedAt)
	assert.True(t, done.Status.IsTerminal())
}

func TestHashData(t *testing.T) {
	assert.Equal(t, "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855", HashData(nil))
	a := JobArtifact{Bytesize: 5, Hash: HashData([]byte("hello"))}
	assert.True(t, a.Verify([]byte("hello")))
	assert.False(t, a.Verify([]byte("hellO")))
}

func TestDeliveryEligible(t *testing.T) {
	now := time.Now()
	d := NewEventDelivery(uuid.New(), now)
	assert.True(t, d.Eligible(now))
	assert.False(t, d.Eligible(now.Add(-time.Second)))

	d.DispatchedAt = &now
	assert.False(t, d.Eligible(now))

	d = NewArtifactDelivery(uuid.New(), now)
	d.Delivered = true
	assert.False(t, d.Eligible(now))
	assert.Nil(t, d.EventID)
}

func TestNewPage(t *testing.T) {
	p := NewPage([]int{1, 2}, 1, 2, 5)
	assert.Equal(t, 3, p.TotalPages)
	empty := NewPage[int](nil, 0, 20, 0)
	assert.NotNil(t, empty.Content)
	assert.Equal(t, 0, empty.TotalPages)
}
