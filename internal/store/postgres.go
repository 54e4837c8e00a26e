package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"fairdatastation/internal/apperr"
	"fairdatastation/internal/models"
)

// Postgres wraps pgxpool for Postgres persistence.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres creates a pooled connection to Postgres.
func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

func (s *Postgres) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

const jobColumns = `id, secret, remote_id, status, started_at, finished_at, train_uri,
	callback_event, callback_artifact, version, created_at, updated_at`

// CreateJob inserts a queued job row.
func (s *Postgres) CreateJob(ctx context.Context, job models.Job) (models.Job, error) {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO job (`+jobColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, job.ID, job.Secret, job.RemoteID, string(job.Status), job.StartedAt, job.FinishedAt, job.TrainURI,
		job.CallbackEventURI, job.CallbackArtifact, job.Version, job.CreatedAt, job.UpdatedAt)
	if err != nil {
		return models.Job{}, fmt.Errorf("insert job: %w", err)
	}
	return job, nil
}

// GetJob fetches a job by id.
func (s *Postgres) GetJob(ctx context.Context, id uuid.UUID) (models.Job, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM job WHERE id = $1`, id)
	job, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Job{}, apperr.NotFound("Job", id)
	}
	return job, err
}

// ListJobs returns one page of jobs, newest first.
func (s *Postgres) ListJobs(ctx context.Context, page, size int) (models.Page[models.Job], error) {
	page, size = normalizePage(page, size)
	var total int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM job`).Scan(&total); err != nil {
		return models.Page[models.Job]{}, fmt.Errorf("count jobs: %w", err)
	}
	rows, err := s.pool.Query(ctx, `
		SELECT `+jobColumns+` FROM job
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2
	`, size, page*size)
	if err != nil {
		return models.Page[models.Job]{}, fmt.Errorf("query jobs: %w", err)
	}
	defer rows.Close()

	var jobs []models.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return models.Page[models.Job]{}, err
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return models.Page[models.Job]{}, fmt.Errorf("iterate jobs: %w", err)
	}
	return models.NewPage(jobs, page, size, total), nil
}

// ClaimNextJob atomically moves the oldest unfinished queued job to RUNNING.
// SKIP LOCKED keeps concurrent station instances from claiming the same row.
func (s *Postgres) ClaimNextJob(ctx context.Context, now time.Time) (models.Job, bool, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE job
		SET status = $1, started_at = $2, updated_at = $2, version = version + 1
		WHERE id = (
			SELECT id FROM job
			WHERE finished_at IS NULL AND status = $3
			ORDER BY created_at ASC
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+jobColumns,
		string(models.StatusRunning), now, string(models.StatusQueued))
	job, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Job{}, false, nil
	}
	if err != nil {
		return models.Job{}, false, fmt.Errorf("claim job: %w", err)
	}
	return job, true, nil
}

// UpdateJobStatus applies a lifecycle transition, rejecting invalid ones.
func (s *Postgres) UpdateJobStatus(ctx context.Context, id uuid.UUID, status models.JobStatus, at time.Time) (models.Job, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Job{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) // safe no-op on commit

	job, err := scanJob(tx.QueryRow(ctx, `SELECT `+jobColumns+` FROM job WHERE id = $1 FOR UPDATE`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Job{}, apperr.NotFound("Job", id)
	}
	if err != nil {
		return models.Job{}, err
	}
	if !models.CanTransition(job.Status, status) {
		return models.Job{}, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, job.Status, status)
	}
	job = job.WithStatus(status, at)
	if _, err := tx.Exec(ctx, `
		UPDATE job SET status = $2, started_at = $3, finished_at = $4, version = $5, updated_at = $6
		WHERE id = $1
	`, id, string(job.Status), job.StartedAt, job.FinishedAt, job.Version, job.UpdatedAt); err != nil {
		return models.Job{}, fmt.Errorf("update job status: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return models.Job{}, fmt.Errorf("commit: %w", err)
	}
	return job, nil
}

// StaleJobs lists RUNNING jobs whose last update is older than runningBefore.
func (s *Postgres) StaleJobs(ctx context.Context, runningBefore time.Time) ([]models.Job, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+jobColumns+` FROM job
		WHERE finished_at IS NULL AND status = $1 AND updated_at < $2
		ORDER BY created_at ASC
	`, string(models.StatusRunning), runningBefore)
	if err != nil {
		return nil, fmt.Errorf("query stale jobs: %w", err)
	}
	defer rows.Close()
	var jobs []models.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// Backlog counts jobs waiting to be claimed.
func (s *Postgres) Backlog(ctx context.Context) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM job WHERE finished_at IS NULL AND status = $1
	`, string(models.StatusQueued)).Scan(&n); err != nil {
		return 0, fmt.Errorf("count backlog: %w", err)
	}
	return n, nil
}

// CreateEvent inserts the event and its initial delivery in one transaction.
func (s *Postgres) CreateEvent(ctx context.Context, ev models.JobEvent, d models.Delivery) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var status *string
	if ev.ResultStatus != nil {
		v := string(*ev.ResultStatus)
		status = &v
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO job_event (id, job_id, message, result_status, occurred_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, ev.ID, ev.JobID, ev.Message, status, ev.OccurredAt, ev.CreatedAt, ev.UpdatedAt); err != nil {
		return fmt.Errorf("insert job event: %w", err)
	}
	if err := insertDelivery(ctx, tx, d); err != nil {
		return err
	}
	if err := touchRunningJob(ctx, tx, ev.JobID, ev.CreatedAt); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// CreateArtifact inserts the artifact and its initial delivery in one transaction.
func (s *Postgres) CreateArtifact(ctx context.Context, a models.JobArtifact, d models.Delivery) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `
		INSERT INTO job_artifact (id, job_id, display_name, filename, content_type, bytesize, hash, storage, data,
			occurred_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, a.ID, a.JobID, a.DisplayName, a.Filename, a.ContentType, a.Bytesize, a.Hash, string(a.Storage), a.Data,
		a.OccurredAt, a.CreatedAt, a.UpdatedAt); err != nil {
		return fmt.Errorf("insert job artifact: %w", err)
	}
	if err := insertDelivery(ctx, tx, d); err != nil {
		return err
	}
	if err := touchRunningJob(ctx, tx, a.JobID, a.CreatedAt); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// ListEvents returns the events of a job in insertion order.
func (s *Postgres) ListEvents(ctx context.Context, jobID uuid.UUID) ([]models.JobEvent, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, job_id, message, result_status, occurred_at, created_at, updated_at
		FROM job_event WHERE job_id = $1 ORDER BY seq ASC
	`, jobID)
	if err != nil {
		return nil, fmt.Errorf("query job events: %w", err)
	}
	defer rows.Close()
	var events []models.JobEvent
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// ListArtifacts returns artifact metadata of a job in insertion order, without data.
func (s *Postgres) ListArtifacts(ctx context.Context, jobID uuid.UUID) ([]models.JobArtifact, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, job_id, display_name, filename, content_type, bytesize, hash, storage, NULL::bytea,
			occurred_at, created_at, updated_at
		FROM job_artifact WHERE job_id = $1 ORDER BY seq ASC
	`, jobID)
	if err != nil {
		return nil, fmt.Errorf("query job artifacts: %w", err)
	}
	defer rows.Close()
	var artifacts []models.JobArtifact
	for rows.Next() {
		a, err := scanArtifact(rows)
		if err != nil {
			return nil, err
		}
		artifacts = append(artifacts, a)
	}
	return artifacts, rows.Err()
}

// GetArtifact fetches one artifact of a job including its data.
func (s *Postgres) GetArtifact(ctx context.Context, jobID, artifactID uuid.UUID) (models.JobArtifact, error) {
	a, err := scanArtifact(s.pool.QueryRow(ctx, `
		SELECT id, job_id, display_name, filename, content_type, bytesize, hash, storage, data,
			occurred_at, created_at, updated_at
		FROM job_artifact WHERE id = $1
	`, artifactID))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.JobArtifact{}, apperr.NotFound("JobArtifact", artifactID)
	}
	if err != nil {
		return models.JobArtifact{}, err
	}
	if a.JobID != jobID {
		return models.JobArtifact{}, apperr.NotFound("JobArtifact", artifactID)
	}
	return a, nil
}

// ClaimDelivery locks the oldest eligible delivery row inside a transaction
// that stays open until the claim is completed or released.
func (s *Postgres) ClaimDelivery(ctx context.Context, now time.Time) (DeliveryClaim, bool, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, false, fmt.Errorf("begin tx: %w", err)
	}
	d, err := scanDelivery(tx.QueryRow(ctx, `
		SELECT id, job_event_id, job_artifact_id, retry_number, priority, delivered, dispatch_at, dispatched_at,
			last_error, created_at, updated_at
		FROM event_delivery
		WHERE delivered = FALSE AND dispatched_at IS NULL AND dispatch_at IS NOT NULL AND dispatch_at <= $1
		ORDER BY dispatch_at ASC
		LIMIT 1
		FOR UPDATE SKIP LOCKED
	`, now))
	if errors.Is(err, pgx.ErrNoRows) {
		_ = tx.Rollback(ctx)
		return nil, false, nil
	}
	if err != nil {
		_ = tx.Rollback(ctx)
		return nil, false, fmt.Errorf("claim delivery: %w", err)
	}

	item := models.DeliveryItem{Delivery: d}
	var jobID uuid.UUID
	switch {
	case d.EventID != nil:
		ev, err := scanEvent(tx.QueryRow(ctx, `
			SELECT id, job_id, message, result_status, occurred_at, created_at, updated_at
			FROM job_event WHERE id = $1
		`, *d.EventID))
		if err != nil {
			_ = tx.Rollback(ctx)
			return nil, false, fmt.Errorf("load delivery event: %w", err)
		}
		item.Event, jobID = &ev, ev.JobID
	case d.ArtifactID != nil:
		a, err := scanArtifact(tx.QueryRow(ctx, `
			SELECT id, job_id, display_name, filename, content_type, bytesize, hash, storage, data,
				occurred_at, created_at, updated_at
			FROM job_artifact WHERE id = $1
		`, *d.ArtifactID))
		if err != nil {
			_ = tx.Rollback(ctx)
			return nil, false, fmt.Errorf("load delivery artifact: %w", err)
		}
		item.Artifact, jobID = &a, a.JobID
	default:
		_ = tx.Rollback(ctx)
		return nil, false, fmt.Errorf("delivery %s references neither event nor artifact", d.ID)
	}
	job, err := scanJob(tx.QueryRow(ctx, `SELECT `+jobColumns+` FROM job WHERE id = $1`, jobID))
	if err != nil {
		_ = tx.Rollback(ctx)
		return nil, false, fmt.Errorf("load delivery job: %w", err)
	}
	item.Job = job
	return &pgDeliveryClaim{tx: tx, item: item}, true, nil
}

type pgDeliveryClaim struct {
	tx   pgx.Tx
	item models.DeliveryItem
}

func (c *pgDeliveryClaim) Item() models.DeliveryItem {
	return c.item
}

func (c *pgDeliveryClaim) Complete(ctx context.Context, outcome models.DeliveryOutcome) error {
	defer c.tx.Rollback(ctx) // safe no-op on commit
	if _, err := c.tx.Exec(ctx, `
		UPDATE event_delivery
		SET delivered = $2, dispatched_at = $3, last_error = $4, updated_at = $3
		WHERE id = $1
	`, c.item.Delivery.ID, outcome.Delivered, outcome.DispatchedAt, outcome.LastError); err != nil {
		return fmt.Errorf("update delivery: %w", err)
	}
	if outcome.Next != nil {
		if err := insertDelivery(ctx, c.tx, *outcome.Next); err != nil {
			return err
		}
	}
	if err := c.tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (c *pgDeliveryClaim) Release(ctx context.Context) error {
	return c.tx.Rollback(ctx)
}

// touchRunningJob marks a RUNNING job as alive so the stale reaper leaves it
// alone while it keeps producing events and artifacts.
func touchRunningJob(ctx context.Context, tx pgx.Tx, jobID uuid.UUID, at time.Time) error {
	if _, err := tx.Exec(ctx, `
		UPDATE job SET updated_at = $2
		WHERE id = $1 AND status = $3 AND updated_at < $2
	`, jobID, at, string(models.StatusRunning)); err != nil {
		return fmt.Errorf("touch job %s: %w", jobID, err)
	}
	return nil
}

func insertDelivery(ctx context.Context, tx pgx.Tx, d models.Delivery) error {
	if _, err := tx.Exec(ctx, `
		INSERT INTO event_delivery (id, job_event_id, job_artifact_id, retry_number, priority, delivered,
			dispatch_at, dispatched_at, last_error, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, d.ID, d.EventID, d.ArtifactID, d.RetryNumber, d.Priority, d.Delivered,
		d.DispatchAt, d.DispatchedAt, d.LastError, d.CreatedAt, d.UpdatedAt); err != nil {
		return fmt.Errorf("insert delivery: %w", err)
	}
	return nil
}

func scanJob(row pgx.Row) (models.Job, error) {
	var job models.Job
	var remoteID pgtype.Text
	var status string
	if err := row.Scan(&job.ID, &job.Secret, &remoteID, &status, &job.StartedAt, &job.FinishedAt, &job.TrainURI,
		&job.CallbackEventURI, &job.CallbackArtifact, &job.Version, &job.CreatedAt, &job.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Job{}, err
		}
		return models.Job{}, fmt.Errorf("scan job: %w", err)
	}
	job.RemoteID = remoteID.String
	job.Status = models.JobStatus(status)
	return job, nil
}

func scanEvent(row pgx.Row) (models.JobEvent, error) {
	var ev models.JobEvent
	var status pgtype.Text
	if err := row.Scan(&ev.ID, &ev.JobID, &ev.Message, &status, &ev.OccurredAt, &ev.CreatedAt, &ev.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.JobEvent{}, err
		}
		return models.JobEvent{}, fmt.Errorf("scan job event: %w", err)
	}
	if status.Valid {
		s := models.JobStatus(status.String)
		ev.ResultStatus = &s
	}
	return ev, nil
}

func scanArtifact(row pgx.Row) (models.JobArtifact, error) {
	var a models.JobArtifact
	var storage string
	if err := row.Scan(&a.ID, &a.JobID, &a.DisplayName, &a.Filename, &a.ContentType, &a.Bytesize, &a.Hash, &storage,
		&a.Data, &a.OccurredAt, &a.CreatedAt, &a.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.JobArtifact{}, err
		}
		return models.JobArtifact{}, fmt.Errorf("scan job artifact: %w", err)
	}
	a.Storage = models.ArtifactStorage(storage)
	return a, nil
}

func scanDelivery(row pgx.Row) (models.Delivery, error) {
	var d models.Delivery
	if err := row.Scan(&d.ID, &d.EventID, &d.ArtifactID, &d.RetryNumber, &d.Priority, &d.Delivered,
		&d.DispatchAt, &d.DispatchedAt, &d.LastError, &d.CreatedAt, &d.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Delivery{}, err
		}
		return models.Delivery{}, fmt.Errorf("scan delivery: %w", err)
	}
	return d, nil
}
