// Package metrics exposes Prometheus counters for the submission and
// retrieval services and a dedicated listener serving them.
package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "diagnosis_server"

var (
	CodesIssued = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "one_time_codes_issued_total",
		Help:      "One-time codes issued to healthcare portals.",
	})
	CodesClaimed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "one_time_codes_claimed_total",
		Help:      "One-time codes successfully claimed by devices.",
	})
	ClaimFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "claim_failures_total",
		Help:      "Failed one-time-code claim attempts.",
	})
	KeysUploaded = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "diagnosis_keys_uploaded_total",
		Help:      "Diagnosis keys accepted from encrypted uploads.",
	})
	OutbreakEventsSubmitted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "outbreak_events_submitted_total",
		Help:      "Outbreak events accepted from QR portals.",
	})
	ExportsServed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "exports_served_total",
		Help:      "Export downloads served, by format.",
	}, []string{"format"})
	RowsExpired = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "rows_expired_total",
		Help:      "Rows removed by the expiration worker, by table.",
	}, []string{"table"})
)

// MetricsServer serves the Prometheus registry on its own listener.
type MetricsServer struct {
	srv *http.Server
}

func New(addr string) *MetricsServer {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return &MetricsServer{srv: &http.Server{Addr: addr, Handler: mux}}
}

func (m *MetricsServer) ListenAndServe() error {
	return m.srv.ListenAndServe()
}

func (m *MetricsServer) Shutdown(ctx context.Context) error {
	return m.srv.Shutdown(ctx)
}
