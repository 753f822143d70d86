package obs

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// RequestsFinished counts terminal Request transitions by extended state
	// (SUCCESS, CLIENT_ERROR, SERVER_BAD, SERVER_ERROR, SERVER_CANCELLED,
	// TIMEOUT_EXPIRED, CANCELLED).
	RequestsFinished = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "qserv_requests_finished_total",
		Help: "Total Requests that reached FINISHED, labeled by extended state.",
	}, []string{"type", "extended_state"})

	// RequestRetries counts tracking-frame sends on the retry timer.
	RequestRetries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "qserv_request_retries_total",
		Help: "Total tracking frames sent by the Request retry timer.",
	}, []string{"type"})

	// JobsFinished counts terminal Job transitions by extended state.
	JobsFinished = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "qserv_jobs_finished_total",
		Help: "Total Jobs that reached FINISHED, labeled by extended state.",
	}, []string{"type", "extended_state"})

	// IngestQueueDepth reports the pending-contribution count per database.
	IngestQueueDepth = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "qserv_ingest_queue_depth",
		Help: "Pending ingest contributions per database.",
	}, []string{"database"})

	// IngestConcurrency reports the in-flight contribution count per database.
	IngestConcurrency = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "qserv_ingest_concurrency",
		Help: "In-flight ingest contributions per database.",
	}, []string{"database"})

	// IngestRecovered counts contributions reclassified at boot, by outcome.
	IngestRecovered = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "qserv_ingest_recovered_total",
		Help: "Contributions reclassified at boot, labeled by resulting status.",
	}, []string{"status"})

	// DBPoolWaitSeconds histograms the time a caller blocked in allocateService.
	DBPoolWaitSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "qserv_dbpool_wait_seconds",
		Help:    "Time spent blocked acquiring a database service handle.",
		Buckets: prometheus.DefBuckets,
	})

	// DBPoolInUse reports the number of allocated (checked-out) handles.
	DBPoolInUse = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "qserv_dbpool_in_use",
		Help: "Number of database service handles currently checked out.",
	})

	// MessengerReconnects counts per-worker connection re-establishment.
	MessengerReconnects = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "qserv_messenger_reconnects_total",
		Help: "Total reconnect attempts by the Messenger, per worker.",
	}, []string{"worker"})
)

func init() {
	prometheus.MustRegister(
		RequestsFinished, RequestRetries, JobsFinished,
		IngestQueueDepth, IngestConcurrency, IngestRecovered,
		DBPoolWaitSeconds, DBPoolInUse, MessengerReconnects,
	)
}

// StartHTTPServer exposes /metrics, /healthz and /readyz on the configured
// metrics port. readiness is invoked on every /readyz probe; a nil
// readiness callback makes /readyz always succeed.
func StartHTTPServer(metricsPort int, readiness func(context.Context) error) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if readiness != nil {
			if err := readiness(r.Context()); err != nil {
				http.Error(w, fmt.Sprintf("not ready: %v", err), http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})
	srv := &http.Server{Addr: fmt.Sprintf(":%d", metricsPort), Handler: mux}
	go func() { _ = srv.ListenAndServe() }()
	return srv
}
