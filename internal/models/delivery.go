package models

import (
	"time"

	"github.com/google/uuid"
)

// Delivery is one attempt in the retry chain pushing an event or an
// artifact to the job's callback. Exactly one of EventID and ArtifactID is set.
type Delivery struct {
	ID           uuid.UUID  `json:"uuid"`
	EventID      *uuid.UUID `json:"eventId,omitempty"`
	ArtifactID   *uuid.UUID `json:"artifactId,omitempty"`
	RetryNumber  int        `json:"retryNumber"`
	Priority     int        `json:"priority"`
	Delivered    bool       `json:"delivered"`
	DispatchAt   *time.Time `json:"dispatchAt"`
	DispatchedAt *time.Time `json:"dispatchedAt"`
	LastError    string     `json:"lastError"`
	CreatedAt    time.Time  `json:"createdAt"`
	UpdatedAt    time.Time  `json:"updatedAt"`
}

// NewEventDelivery builds the initial delivery for a freshly created event.
func NewEventDelivery(eventID uuid.UUID, now time.Time) Delivery {
	d := initialDelivery(now)
	d.EventID = &eventID
	return d
}

// NewArtifactDelivery builds the initial delivery for a freshly created artifact.
func NewArtifactDelivery(artifactID uuid.UUID, now time.Time) Delivery {
	d := initialDelivery(now)
	d.ArtifactID = &artifactID
	return d
}

func initialDelivery(now time.Time) Delivery {
	return Delivery{
		ID:         uuid.New(),
		DispatchAt: &now,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// Eligible reports whether the delivery may be claimed at now.
func (d Delivery) Eligible(now time.Time) bool {
	return !d.Delivered && d.DispatchedAt == nil && d.DispatchAt != nil && !d.DispatchAt.After(now)
}

// DeliveryItem is a claimed delivery with everything needed to build its payload.
type DeliveryItem struct {
	Delivery Delivery
	Job      Job
	Event    *JobEvent
	Artifact *JobArtifact
}

// DeliveryOutcome is the result of one dispatch attempt. Next, when set,
// is the retry record to insert in the same transaction.
type DeliveryOutcome struct {
	Delivered    bool
	DispatchedAt time.Time
	LastError    string
	Next         *Delivery
}
