package worker

import (
	"fmt"

	"fairdatastation/internal/access"
	"fairdatastation/internal/config"
	"fairdatastation/internal/delivery"
	"fairdatastation/internal/fhir"
	"fairdatastation/internal/interaction"
	"fairdatastation/internal/jobs"
	"fairdatastation/internal/metadata"
	"fairdatastation/internal/store"
	"fairdatastation/internal/triplestore"
	"fairdatastation/internal/validation"
)

// Pollers wires the job and delivery pollers over repo and svc, which must
// share the same storage.
func Pollers(cfg config.Config, repo store.Repository, svc *jobs.Service, workerID string) (jobPoller, deliveryPoller Poller, err error) {
	deps := interaction.Deps{
		Fetcher: metadata.NewFetcher(cfg.HTTPClientTimeout),
		Access:  access.Basic{},
		FHIR:    fhir.NewClient(cfg.FHIRBaseURL, cfg.HTTPClientTimeout),
	}
	if cfg.TripleStoreReady() {
		ts, err := triplestore.NewExecutor(triplestore.Options{
			Endpoint: cfg.TripleStoreEndpoint,
			Username: cfg.TripleStoreUsername,
			Password: cfg.TripleStorePassword,
			Timeout:  cfg.HTTPClientTimeout,
		})
		if err != nil {
			return Poller{}, Poller{}, fmt.Errorf("triple store: %w", err)
		}
		deps.TripleStore = ts
	}
	dispatcher := interaction.NewDispatcher(svc, validation.RegistryFromConfig(cfg), deps)

	jobPoller = NewJobProcessorWithID(svc, dispatcher, cfg.JobStaleAfter, workerID).
		Poller(cfg.JobPollInitialDelay, cfg.JobPollInterval)
	engine := delivery.NewEngine(repo, svc, delivery.Options{
		MaxRetries: cfg.DeliveryMaxRetries,
		Timeout:    cfg.HTTPClientTimeout,
	})
	deliveryPoller = NewDeliveryProcessor(engine).
		Poller(cfg.DeliveryPollInitialDelay, cfg.DeliveryPollInterval)
	return jobPoller, deliveryPoller, nil
}
