package metrics

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/levalup/quickdist/pkg/log"
)

var (
	// Request metrics
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quickdist_requests_total",
			Help: "Total number of handled requests by command and status",
		},
		[]string{"cmd", "status"},
	)

	CallDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "quickdist_call_duration_seconds",
			Help:    "Duration of CALL handling including staging",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Staging metrics
	StagedCopies = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quickdist_staged_copies_total",
			Help: "Total number of files staged by direction",
		},
		[]string{"direction"},
	)

	// Pool metrics
	PoolWorkers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "quickdist_pool_workers",
			Help: "Current number of worker processes in the node pool",
		},
	)
)

// Init registers all metrics with the default registry.
func Init() error {
	collectors := []prometheus.Collector{
		RequestsTotal,
		CallDuration,
		StagedCopies,
		PoolWorkers,
	}

	for _, c := range collectors {
		if err := prometheus.Register(c); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
				return fmt.Errorf("failed to register metrics: %w", err)
			}
		}
	}
	return nil
}

// StartServer exposes /metrics on the given port in a background goroutine.
func StartServer(port int) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger := log.WithComponent("metrics")
			logger.Error().Err(err).Msg("metrics server failed")
		}
	}()
	logger := log.WithComponent("metrics")
	logger.Info().Int("port", port).Msg("metrics server listening")
}

// Timer measures a duration for histogram observation.
type Timer struct {
	start time.Time
}

// NewTimer starts a timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the elapsed time on a histogram.
func (t *Timer) ObserveDuration(h prometheus.Histogram) {
	h.Observe(time.Since(t.start).Seconds())
}
