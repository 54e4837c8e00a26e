package telemetry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	JobsReceived         = prometheus.NewCounter(prometheus.CounterOpts{Name: "station_jobs_received_total", Help: "Trains accepted and queued as jobs"})
	JobsFinished         = prometheus.NewCounter(prometheus.CounterOpts{Name: "station_jobs_finished_total", Help: "Jobs that reached FINISHED"})
	JobsFailed           = prometheus.NewCounter(prometheus.CounterOpts{Name: "station_jobs_failed_total", Help: "Jobs that reached FAILED"})
	ArtifactsCreated     = prometheus.NewCounter(prometheus.CounterOpts{Name: "station_artifacts_created_total", Help: "Artifacts attached to jobs"})
	DeliveriesSucceeded  = prometheus.NewCounter(prometheus.CounterOpts{Name: "station_deliveries_succeeded_total", Help: "Callback deliveries accepted by the origin"})
	DeliveriesFailed     = prometheus.NewCounter(prometheus.CounterOpts{Name: "station_deliveries_failed_total", Help: "Callback delivery attempts that failed"})
	DeliveriesAbandoned  = prometheus.NewCounter(prometheus.CounterOpts{Name: "station_deliveries_abandoned_total", Help: "Delivery chains given up after the last retry"})
	JobsBacklogGauge     = prometheus.NewGauge(prometheus.GaugeOpts{Name: "station_jobs_backlog", Help: "Jobs not yet finished"})
	IntakeRateLimited    = prometheus.NewCounter(prometheus.CounterOpts{Name: "station_intake_rate_limited_total", Help: "Train submissions rejected by the rate limiter"})
)

// Handler exposes /metrics HTTP handler with a singleton registry.
func Handler() http.Handler {
	once.Do(func() {
		prometheus.MustRegister(
			JobsReceived,
			JobsFinished,
			JobsFailed,
			ArtifactsCreated,
			DeliveriesSucceeded,
			DeliveriesFailed,
			DeliveriesAbandoned,
			JobsBacklogGauge,
			IntakeRateLimited,
		)
	})
	return promhttp.Handler()
}
