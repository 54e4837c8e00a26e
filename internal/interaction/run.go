package interaction

import (
	"context"
	"errors"
	"fmt"
	"log"

	"fairdatastation/internal/apperr"
	"fairdatastation/internal/jobs"
	"fairdatastation/internal/models"
)

// Run is one job going through the pipeline. Executors narrate through it.
type Run struct {
	ctx  context.Context
	jobs *jobs.Service
	job  models.Job
}

func (r *Run) Job() models.Job {
	return r.job
}

// Info records a progress event. A failure to record narration does not
// stop the run; the terminal status update reports persistent failures.
func (r *Run) Info(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	if _, err := r.jobs.CreateEvent(r.ctx, r.job, msg, nil); err != nil {
		log.Printf("interaction: record event failed job=%s message=%q err=%v", r.job.ID, msg, err)
	}
}

// AddArtifact attaches a produced result to the job.
func (r *Run) AddArtifact(content models.ArtifactContent) error {
	if _, err := r.jobs.CreateArtifact(r.ctx, r.job, content); err != nil {
		return apperr.Execution(err, "Failed to store artifact %s (%v)", content.Filename, err)
	}
	return nil
}

// detail returns the message of a classified error without its kind
// prefix, for nesting into another error message.
func detail(err error) string {
	var e *apperr.Error
	if errors.As(err, &e) {
		return e.Message
	}
	return err.Error()
}
