// Package delivery pushes job events and artifacts to the callbacks the
// track registered, retrying failed pushes with exponential backoff.
package delivery

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"

	"fairdatastation/internal/apperr"
	"fairdatastation/internal/models"
	"fairdatastation/internal/store"
	"fairdatastation/internal/telemetry"
)

// DefaultMaxRetries bounds the retry number of a delivery chain.
const DefaultMaxRetries = 5

// EventPayload is the body posted to the event callback.
type EventPayload struct {
	RemoteID     string            `json:"remoteId"`
	Secret       string            `json:"secret"`
	Message      string            `json:"message"`
	ResultStatus *models.JobStatus `json:"resultStatus"`
	OccurredAt   time.Time         `json:"occurredAt"`
}

// ArtifactPayload is the body posted to the artifact callback.
type ArtifactPayload struct {
	RemoteID    string    `json:"remoteId"`
	Secret      string    `json:"secret"`
	DisplayName string    `json:"displayName"`
	Filename    string    `json:"filename"`
	Bytesize    int64     `json:"bytesize"`
	Hash        string    `json:"hash"`
	ContentType string    `json:"contentType"`
	Base64Data  string    `json:"base64data"`
	OccurredAt  time.Time `json:"occurredAt"`
}

// ArtifactLoader reads artifact bytes from wherever they are stored.
type ArtifactLoader interface {
	ArtifactData(ctx context.Context, a models.JobArtifact) ([]byte, error)
}

// Options tunes the engine.
type Options struct {
	MaxRetries int
	Timeout    time.Duration
}

// Engine claims eligible deliveries one at a time and dispatches them.
type Engine struct {
	repo       store.Repository
	artifacts  ArtifactLoader
	httpClient *http.Client
	maxRetries int
	now        func() time.Time
}

func NewEngine(repo store.Repository, loader ArtifactLoader, opts Options) *Engine {
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = DefaultMaxRetries
	}
	if opts.Timeout == 0 {
		opts.Timeout = 30 * time.Second
	}
	return &Engine{
		repo:       repo,
		artifacts:  loader,
		httpClient: &http.Client{Timeout: opts.Timeout},
		maxRetries: opts.MaxRetries,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// WithClock replaces the time source, for tests.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// maxBackoffShift caps the exponent so the delay stays a valid Duration
// (2^20 minutes is close to two years).
const maxBackoffShift = 20

// Backoff is the delay before retry number retry is dispatched.
func Backoff(retry int) time.Duration {
	if retry < 0 {
		retry = 0
	}
	if retry > maxBackoffShift {
		retry = maxBackoffShift
	}
	return time.Minute << uint(retry)
}

// NextDelivery returns the retry record following a failed attempt d, or
// nil once the chain has used up maxRetries.
func NextDelivery(d models.Delivery, now time.Time, maxRetries int) *models.Delivery {
	retry := d.RetryNumber + 1
	if retry > maxRetries {
		return nil
	}
	at := now.Add(Backoff(retry))
	return &models.Delivery{
		ID:          uuid.New(),
		EventID:     d.EventID,
		ArtifactID:  d.ArtifactID,
		RetryNumber: retry,
		Priority:    d.Priority,
		DispatchAt:  &at,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// Result counts what one drain did.
type Result struct {
	Delivered int
	Failed    int
}

// Drain dispatches every delivery eligible now, each under its own claim.
func (e *Engine) Drain(ctx context.Context) (Result, error) {
	var res Result
	for {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		processed, delivered, err := e.DeliverNext(ctx)
		if err != nil {
			return res, err
		}
		if !processed {
			return res, nil
		}
		if delivered {
			res.Delivered++
		} else {
			res.Failed++
		}
	}
}

// DeliverNext claims the oldest eligible delivery and dispatches it.
// processed is false when nothing was eligible.
func (e *Engine) DeliverNext(ctx context.Context) (processed, delivered bool, err error) {
	claim, ok, err := e.repo.ClaimDelivery(ctx, e.now())
	if err != nil {
		return false, false, fmt.Errorf("claim delivery: %w", err)
	}
	if !ok {
		return false, false, nil
	}
	item := claim.Item()
	log.Printf("delivery: dispatching delivery=%s job=%s retry=%d", item.Delivery.ID, item.Job.ID, item.Delivery.RetryNumber)

	dispatchErr := e.dispatch(ctx, item)
	if dispatchErr != nil && ctx.Err() != nil {
		_ = claim.Release(context.Background())
		return false, false, ctx.Err()
	}

	dispatchedAt := e.now()
	outcome := models.DeliveryOutcome{Delivered: dispatchErr == nil, DispatchedAt: dispatchedAt}
	if dispatchErr != nil {
		outcome.LastError = dispatchErr.Error()
		outcome.Next = NextDelivery(item.Delivery, dispatchedAt, e.maxRetries)
	}
	if err := claim.Complete(ctx, outcome); err != nil {
		_ = claim.Release(context.Background())
		return false, false, fmt.Errorf("complete delivery %s: %w", item.Delivery.ID, err)
	}

	switch {
	case dispatchErr == nil:
		telemetry.DeliveriesSucceeded.Inc()
		log.Printf("delivery: delivered delivery=%s", item.Delivery.ID)
	case outcome.Next != nil:
		telemetry.DeliveriesFailed.Inc()
		log.Printf("delivery: failed delivery=%s err=%v next=%s retry=%d", item.Delivery.ID, dispatchErr, outcome.Next.ID, outcome.Next.RetryNumber)
	default:
		telemetry.DeliveriesFailed.Inc()
		telemetry.DeliveriesAbandoned.Inc()
		log.Printf("delivery: failed delivery=%s err=%v, retries exhausted", item.Delivery.ID, dispatchErr)
	}
	return true, dispatchErr == nil, nil
}

func (e *Engine) dispatch(ctx context.Context, item models.DeliveryItem) error {
	switch {
	case item.Event != nil:
		return e.post(ctx, item.Job.CallbackEventURI, EventPayload{
			RemoteID:     item.Job.RemoteID,
			Secret:       item.Job.Secret,
			Message:      item.Event.Message,
			ResultStatus: item.Event.ResultStatus,
			OccurredAt:   item.Event.OccurredAt,
		})
	case item.Artifact != nil:
		a := *item.Artifact
		data, err := e.artifacts.ArtifactData(ctx, a)
		if err != nil {
			return apperr.Delivery(err, "Failed to load artifact %s (%v)", a.ID, err)
		}
		return e.post(ctx, item.Job.CallbackArtifact, ArtifactPayload{
			RemoteID:    item.Job.RemoteID,
			Secret:      item.Job.Secret,
			DisplayName: a.DisplayName,
			Filename:    a.Filename,
			Bytesize:    a.Bytesize,
			Hash:        a.Hash,
			ContentType: a.ContentType,
			Base64Data:  base64.StdEncoding.EncodeToString(data),
			OccurredAt:  a.OccurredAt,
		})
	}
	return apperr.Delivery(errors.New("empty delivery"), "Delivery %s references nothing", item.Delivery.ID)
}

func (e *Engine) post(ctx context.Context, uri string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return apperr.Delivery(err, "Failed to encode payload (%v)", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, uri, bytes.NewReader(body))
	if err != nil {
		return apperr.Delivery(err, "Invalid callback %q (%v)", uri, err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := e.httpClient.Do(req)
	if err != nil {
		return apperr.Delivery(err, "Failed to reach callback (%v)", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return apperr.Delivery(nil, "Callback responded with status: %d", resp.StatusCode)
	}
	return nil
}
