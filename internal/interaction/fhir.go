package interaction

import (
	"context"

	"github.com/knakk/rdf"

	"fairdatastation/internal/fhir"
	"fairdatastation/internal/metadata"
)

// FHIRExecutor runs a train whose payload describes one FHIR API call.
type FHIRExecutor struct {
	steps  payloadSteps
	client *fhir.Client
}

func NewFHIRExecutor(steps payloadSteps, client *fhir.Client) *FHIRExecutor {
	return &FHIRExecutor{steps: steps, client: client}
}

func (e *FHIRExecutor) Execute(ctx context.Context, r *Run, g *metadata.Graph, train rdf.Subject) error {
	r.Info("Processing further as FHIR train")
	payload, err := e.steps.fetchPayload(ctx, r, g, train, "FHIR request")
	if err != nil {
		return err
	}

	r.Info("Validation: Parsing train payload")
	req, err := e.client.Parse(payload)
	if err != nil {
		return err
	}
	r.Info("Validation: Train payload parsed")

	r.Info("Validation: Validating FHIR request")
	if err := fhir.Validate(req); err != nil {
		return err
	}
	r.Info("Validation: FHIR request validated")

	if err := e.steps.checkAccess(ctx, r, "FHIR API"); err != nil {
		return err
	}

	r.Info("Execution: Sending FHIR request to API")
	resp, err := e.client.Send(ctx, req)
	if err != nil {
		return err
	}
	r.Info("Execution: FHIR response received from API")

	r.Info("Validation: Validating FHIR response")
	if !resp.Successful() {
		r.Info("Validation: FHIR API answered with status %d", resp.StatusCode)
	}
	r.Info("Validation: FHIR response validated")

	r.Info("Execution: Preparing and sending artifact(s)")
	for _, a := range fhir.Artifacts(resp) {
		if err := r.AddArtifact(a); err != nil {
			return err
		}
	}
	return nil
}
