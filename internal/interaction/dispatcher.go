// Package interaction runs a claimed job through the train pipeline:
// fetch and validate the train, hand it to the executor of its type, and
// settle the job as FINISHED or FAILED.
package interaction

import (
	"context"
	"log"

	"github.com/knakk/rdf"

	"fairdatastation/internal/access"
	"fairdatastation/internal/apperr"
	"fairdatastation/internal/fhir"
	"fairdatastation/internal/jobs"
	"fairdatastation/internal/metadata"
	"fairdatastation/internal/models"
	"fairdatastation/internal/validation"
)

// Executor is the protocol specific part of the pipeline. A returned
// error fails the job; its message becomes the terminal event.
type Executor interface {
	Execute(ctx context.Context, r *Run, g *metadata.Graph, train rdf.Subject) error
}

// Dispatcher is the single failure boundary of a job run.
type Dispatcher struct {
	jobs      *jobs.Service
	fetcher   *metadata.Fetcher
	validator *validation.Validator
	executors map[validation.TrainType]Executor
}

// Deps are the collaborators of the executors.
type Deps struct {
	Fetcher     *metadata.Fetcher
	Access      access.Checker
	TripleStore QueryRunner
	FHIR        *fhir.Client
}

// NewDispatcher wires an executor for every train type enabled in registry.
func NewDispatcher(jobSvc *jobs.Service, registry validation.Registry, deps Deps) *Dispatcher {
	if deps.Access == nil {
		deps.Access = access.Basic{}
	}
	steps := payloadSteps{fetcher: deps.Fetcher, access: deps.Access}
	executors := make(map[validation.TrainType]Executor)
	if registry.Supports(validation.SPARQLTrain) && deps.TripleStore != nil {
		executors[validation.SPARQLTrain] = NewSPARQLExecutor(steps, deps.TripleStore)
	}
	if registry.Supports(validation.FHIRTrain) && deps.FHIR.Ready() {
		executors[validation.FHIRTrain] = NewFHIRExecutor(steps, deps.FHIR)
	}
	return &Dispatcher{
		jobs:      jobSvc,
		fetcher:   deps.Fetcher,
		validator: validation.NewValidator(registry),
		executors: executors,
	}
}

// Interact runs job to completion and returns its terminal status.
func (d *Dispatcher) Interact(ctx context.Context, job models.Job) models.JobStatus {
	r := &Run{ctx: ctx, jobs: d.jobs, job: job}
	r.Info("Retrieved job from queue")

	err := d.run(ctx, r)
	if err != nil {
		return d.settle(ctx, job, models.StatusFailed, apperr.Message(err))
	}
	return d.settle(ctx, job, models.StatusFinished, "Finished!")
}

func (d *Dispatcher) run(ctx context.Context, r *Run) (err error) {
	defer func() {
		if p := recover(); p != nil {
			log.Printf("interaction: panic job=%s: %v", r.job.ID, p)
			err = apperr.Execution(nil, "Unexpected failure (%v)", p)
		}
	}()

	job := r.Job()
	r.Info("Fetch: Fetching details for train: %s", job.TrainURI)
	g, err := d.fetcher.FetchGraph(ctx, job.TrainURI)
	if err != nil {
		return apperr.Fetch(err, "Failed to fetch train metadata (%v)", err)
	}
	r.Info("Fetch: Details fetched successfully for train: %s", job.TrainURI)

	r.Info("Validation: Validating train metadata and checking type")
	train, err := d.validator.Validate(g)
	if err != nil {
		return apperr.Validation(err, "Invalid train (%s)", detail(err))
	}
	trainType, err := d.validator.DetermineType(g, train)
	if err != nil {
		return apperr.Validation(err, "Invalid train (%s)", detail(err))
	}
	executor, ok := d.executors[trainType]
	if !ok {
		return apperr.Validation(nil, "Invalid train (no executor for %s)", trainType)
	}
	r.Info("Validation: Train metadata validated")

	return executor.Execute(ctx, r, g, train)
}

// settle moves the job to status and then records the terminal event.
// It runs detached from ctx so a shutdown mid-run still leaves the job
// terminal. No event is written when the transition is refused, e.g. for
// a job another instance already reaped.
func (d *Dispatcher) settle(ctx context.Context, job models.Job, status models.JobStatus, message string) models.JobStatus {
	ctx = context.WithoutCancel(ctx)
	if _, err := d.jobs.UpdateStatus(ctx, job, status); err != nil {
		log.Printf("interaction: settle job=%s status=%s failed: %v", job.ID, status, err)
		return job.Status
	}
	if _, err := d.jobs.CreateEvent(ctx, job, message, &status); err != nil {
		log.Printf("interaction: record terminal event failed job=%s err=%v", job.ID, err)
	}
	log.Printf("interaction: job=%s settled status=%s message=%q", job.ID, status, message)
	return status
}

