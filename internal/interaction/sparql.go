package interaction

import (
	"context"

	"github.com/knakk/rdf"

	"fairdatastation/internal/apperr"
	"fairdatastation/internal/metadata"
	"fairdatastation/internal/models"
	"fairdatastation/internal/triplestore"
)

// QueryRunner evaluates a read-only query once per accepted format.
type QueryRunner interface {
	Execute(ctx context.Context, query, label string, accept []string) ([]models.ArtifactContent, error)
}

// QueryRunnerFunc adapts a function to QueryRunner.
type QueryRunnerFunc func(ctx context.Context, query, label string, accept []string) ([]models.ArtifactContent, error)

func (f QueryRunnerFunc) Execute(ctx context.Context, query, label string, accept []string) ([]models.ArtifactContent, error) {
	return f(ctx, query, label, accept)
}

// SPARQLExecutor runs a train whose payload is a SPARQL query.
type SPARQLExecutor struct {
	steps  payloadSteps
	store  QueryRunner
	accept []string
}

func NewSPARQLExecutor(steps payloadSteps, store QueryRunner) *SPARQLExecutor {
	return &SPARQLExecutor{steps: steps, store: store, accept: []string{"*/*"}}
}

func (e *SPARQLExecutor) Execute(ctx context.Context, r *Run, g *metadata.Graph, train rdf.Subject) error {
	r.Info("Processing further as SPARQL train")
	query, err := e.steps.fetchPayload(ctx, r, g, train, "SPARQL query")
	if err != nil {
		return err
	}

	r.Info("Validation: Validating train payload")
	switch form := triplestore.ClassifyQuery(query); {
	case form == triplestore.FormUpdate:
		return apperr.Validation(nil, "SPARQL Query not valid (update query)")
	case !form.IsReadOnly():
		return apperr.Validation(nil, "SPARQL Query not valid (unrecognized query form)")
	}
	r.Info("Validation: Train payload validated")

	if err := e.steps.checkAccess(ctx, r, "Triple Store"); err != nil {
		return err
	}

	r.Info("Execution: Executing query from SPARQL train")
	results, err := e.store.Execute(ctx, query, "Result", e.accept)
	if err != nil {
		return apperr.Execution(err, "Failed to execute SPARQL query (%s)", detail(err))
	}
	r.Info("Execution: Processing query result")

	r.Info("Execution: Preparing and sending artifact(s)")
	for _, res := range results {
		if err := r.AddArtifact(res); err != nil {
			return err
		}
	}
	return nil
}
