package worker

import (
	"context"
	"log"
	"time"

	"fairdatastation/internal/delivery"
	"fairdatastation/internal/jobs"
	"fairdatastation/internal/models"
)

// Interactor runs one claimed job to a terminal status.
type Interactor interface {
	Interact(ctx context.Context, job models.Job) models.JobStatus
}

// Poller runs cycle once after initialDelay and then at a fixed rate
// until the context is cancelled. A cycle that overruns the interval
// delays the next one rather than overlapping it.
type Poller struct {
	Name         string
	InitialDelay time.Duration
	Interval     time.Duration
	Cycle        func(ctx context.Context) error
}

// Run blocks until ctx is done.
func (p Poller) Run(ctx context.Context) error {
	interval := p.Interval
	if interval <= 0 {
		interval = time.Minute
	}
	timer := time.NewTimer(p.InitialDelay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if err := p.Cycle(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Printf("%s: cycle failed: %v", p.Name, err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// JobProcessor drives queued jobs through the dispatcher.
type JobProcessor struct {
	jobs       *jobs.Service
	dispatcher Interactor
	staleAfter time.Duration
	workerID   string
}

func NewJobProcessor(svc *jobs.Service, dispatcher Interactor, staleAfter time.Duration) *JobProcessor {
	return NewJobProcessorWithID(svc, dispatcher, staleAfter, "")
}

// NewJobProcessorWithID creates a processor with a specific worker ID for tracking.
func NewJobProcessorWithID(svc *jobs.Service, dispatcher Interactor, staleAfter time.Duration, workerID string) *JobProcessor {
	return &JobProcessor{jobs: svc, dispatcher: dispatcher, staleAfter: staleAfter, workerID: workerID}
}

// ProcessJobs fails stale jobs, then runs queued jobs oldest first until
// none is left. It returns the number of jobs run.
func (p *JobProcessor) ProcessJobs(ctx context.Context) (int, error) {
	if reaped, err := p.jobs.ReapStale(ctx, p.staleAfter); err != nil {
		log.Printf("worker=%s reap stale jobs: %v", p.workerID, err)
	} else if reaped > 0 {
		log.Printf("worker=%s reaped %d stale job(s)", p.workerID, reaped)
	}
	if backlog, err := p.jobs.Backlog(ctx); err == nil {
		log.Printf("worker=%s starting to process jobs backlog=%d", p.workerID, backlog)
	}

	processed := 0
	for {
		if err := ctx.Err(); err != nil {
			return processed, err
		}
		job, ok, err := p.jobs.Next(ctx)
		if err != nil {
			return processed, err
		}
		if !ok {
			break
		}
		started := time.Now()
		log.Printf("worker=%s processing job=%s", p.workerID, job.ID)
		status := p.dispatcher.Interact(ctx, job)
		log.Printf("worker=%s processing job=%s done status=%s took=%s", p.workerID, job.ID, status, time.Since(started).Round(time.Millisecond))
		processed++
	}
	_, _ = p.jobs.Backlog(ctx)
	log.Printf("worker=%s no more jobs to process now processed=%d", p.workerID, processed)
	return processed, nil
}

// Poller wraps ProcessJobs in a fixed-rate loop.
func (p *JobProcessor) Poller(initialDelay, interval time.Duration) Poller {
	return Poller{
		Name:         "job processor",
		InitialDelay: initialDelay,
		Interval:     interval,
		Cycle: func(ctx context.Context) error {
			_, err := p.ProcessJobs(ctx)
			return err
		},
	}
}

// DeliveryProcessor pushes pending events and artifacts to their callbacks.
type DeliveryProcessor struct {
	engine *delivery.Engine
}

func NewDeliveryProcessor(engine *delivery.Engine) *DeliveryProcessor {
	return &DeliveryProcessor{engine: engine}
}

// ProcessDeliveries dispatches every delivery that is due.
func (p *DeliveryProcessor) ProcessDeliveries(ctx context.Context) (delivery.Result, error) {
	res, err := p.engine.Drain(ctx)
	log.Printf("delivery processor: delivered=%d failed=%d", res.Delivered, res.Failed)
	return res, err
}

// Poller wraps ProcessDeliveries in a fixed-rate loop.
func (p *DeliveryProcessor) Poller(initialDelay, interval time.Duration) Poller {
	return Poller{
		Name:         "delivery processor",
		InitialDelay: initialDelay,
		Interval:     interval,
		Cycle: func(ctx context.Context) error {
			_, err := p.ProcessDeliveries(ctx)
			return err
		},
	}
}
