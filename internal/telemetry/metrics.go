package telemetry

import (
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Gossip send outcomes, used as the "result" label.
const (
	ResultSent      = "sent"
	ResultEmpty     = "empty"
	ResultThrottled = "throttled"
	ResultFailed    = "failed"
)

var (
	Registry = prometheus.NewRegistry()

	MessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "zephyrgossip",
			Name:      "messages_handled_total",
			Help:      "Inbound envelopes handled, by body type.",
		},
		[]string{"type"},
	)

	HandleDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "zephyrgossip",
			Name:      "handle_duration_seconds",
			Help:      "Time spent applying one inbound envelope.",
			// 10us .. ~80ms
			Buckets: prometheus.ExponentialBuckets(0.00001, 2, 14),
		},
		[]string{"type"},
	)

	MalformedLines = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "zephyrgossip",
			Name:      "malformed_lines_total",
			Help:      "Inbound lines skipped because they did not decode.",
		},
	)

	GossipSends = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "zephyrgossip",
			Name:      "gossip_sends_total",
			Help:      "Per-neighbor gossip attempts, by result.",
		},
		[]string{"result"},
	)

	GossipValuesSent = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "zephyrgossip",
			Name:      "gossip_values_sent_total",
			Help:      "Values carried in gossip messages that were sent.",
		},
	)

	TickDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "zephyrgossip",
			Name:      "gossip_tick_duration_seconds",
			Help:      "Wall time of one gossip round including all fan-out sends.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 14),
		},
	)

	StoreValues = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "zephyrgossip",
			Name:      "store_values",
			Help:      "Values currently held in the grow-only set.",
		},
	)

	// ---- Process / build info ----
	buildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "zephyrgossip",
			Name:      "build_info",
			Help:      "Build info (constant 1, labeled by version and git_sha).",
		},
		[]string{"version", "git_sha"},
	)

	startTime = time.Now()
	uptime    = prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: "zephyrgossip",
			Name:      "uptime_seconds",
			Help:      "Process uptime in seconds.",
		},
		func() float64 { return time.Since(startTime).Seconds() },
	)
)

func init() {
	Registry.MustRegister(
		MessagesTotal, HandleDuration, MalformedLines,
		GossipSends, GossipValuesSent, TickDuration, StoreValues,
		buildInfo, uptime,
	)
}

// MetricsHandler exposes /metrics. Mount it with mux.Handle("/metrics", telemetry.MetricsHandler()).
func MetricsHandler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// SetBuildInfo should be called once at startup, e.g. with ldflags-provided values.
func SetBuildInfo(version, gitSHA string) {
	buildInfo.WithLabelValues(version, gitSHA).Set(1)
}

// ObserveHandle records one handled envelope of the given type.
// Example:
//
//	defer telemetry.ObserveHandle(string(env.Body.Kind()), time.Now())
func ObserveHandle(kind string, start time.Time) {
	MessagesTotal.WithLabelValues(kind).Inc()
	HandleDuration.WithLabelValues(kind).Observe(time.Since(start).Seconds())
}

// Serve starts the metrics endpoint on addr and returns the server so the
// caller can shut it down. Listen failures are logged, not fatal.
func Serve(addr string, log *zap.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", MetricsHandler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Warn("metrics endpoint stopped", zap.String("addr", addr), zap.Error(err))
		}
	}()
	return srv
}
