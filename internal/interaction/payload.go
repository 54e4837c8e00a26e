package interaction

import (
	"context"

	"github.com/knakk/rdf"

	"fairdatastation/internal/access"
	"fairdatastation/internal/apperr"
	"fairdatastation/internal/metadata"
)

// payloadSteps are the pipeline steps every protocol shares.
type payloadSteps struct {
	fetcher *metadata.Fetcher
	access  access.Checker
}

// fetchPayload follows the payload link of train to its download URL and
// returns the downloaded payload. kind names the payload in narration.
func (p payloadSteps) fetchPayload(ctx context.Context, r *Run, g *metadata.Graph, train rdf.Subject, kind string) (string, error) {
	r.Info("Validation: Validating payload resource")
	payload, ok := g.ResourceObject(train, metadata.FDTHasPayload)
	if !ok {
		return "", apperr.Validation(nil, "No payload resource found")
	}
	r.Info("Validation: Payload resource validated")

	r.Info("Fetch: Fetching payload metadata")
	payloadGraph := g
	if iri, isIRI := payload.(rdf.IRI); isIRI {
		fetched, err := p.fetcher.FetchGraph(ctx, iri.String())
		if err != nil {
			return "", apperr.Fetch(err, "Failed to fetch payload metadata (%v)", err)
		}
		payloadGraph = fetched
	}
	r.Info("Fetch: Payload metadata fetched")

	r.Info("Validation: Validating payload metadata")
	downloadURL, ok := payloadGraph.StringObject(payload, metadata.FDTPayloadDownloadURL)
	if !ok || downloadURL == "" {
		return "", apperr.Validation(nil, "Missing payload download URL")
	}
	r.Info("Validation: Payload metadata validated")

	r.Info("Fetch: Fetching train payload (%s)", kind)
	body, err := p.fetcher.FetchText(ctx, downloadURL)
	if err != nil {
		return "", apperr.Fetch(err, "Failed to fetch train payload (%v)", err)
	}
	r.Info("Fetch: Train payload (%s) fetched", kind)
	return body, nil
}

// checkAccess asks the access collaborator before target is touched.
func (p payloadSteps) checkAccess(ctx context.Context, r *Run, target string) error {
	r.Info("Access Control: Requesting access to %s", target)
	if err := p.access.CheckAccess(ctx); err != nil {
		return apperr.AccessDenied(err, "Access denied (%s)", detail(err))
	}
	r.Info("Access Control: Access to %s granted", target)
	return nil
}
