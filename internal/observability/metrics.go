package observability

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var registerOnce sync.Once

var (
	samplesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "epgio",
		Name:      "samples_total",
		Help:      "Data samples parsed from the board.",
	})

	samplesDroppedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "epgio",
		Name:      "samples_dropped_total",
		Help:      "Samples discarded by the backpressure policy.",
	}, []string{"policy"})

	framesMalformedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "epgio",
		Name:      "frames_malformed_total",
		Help:      "Lines that looked numeric but failed to parse.",
	})

	reconnectAttemptsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "epgio",
		Name:      "reconnect_attempts_total",
		Help:      "Automatic reconnect attempts per device address.",
	}, []string{"address"})

	batchesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "epgio",
		Name:      "batches_total",
		Help:      "Data batches emitted to consumers.",
	})

	batchSize = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "epgio",
		Name:      "batch_size_samples",
		Help:      "Samples per emitted batch.",
		Buckets:   []float64{1, 10, 50, 100, 250, 500, 1000, 2500, 5000},
	})

	throughputGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "epgio",
		Name:      "throughput_samples_per_second",
		Help:      "Parsed sample rate over the last window.",
	})

	eventsDroppedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "epgio",
		Name:      "events_dropped_total",
		Help:      "Events evicted from the dispatch queue.",
	})

	httpRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "epgio",
		Name:      "http_requests_total",
		Help:      "HTTP requests by method, route and status.",
	}, []string{"method", "route", "status"})

	httpRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "epgio",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency by route.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "route"})
)

// RegisterMetrics installs all collectors on the default registry. Safe to
// call from multiple packages; registration happens once.
func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			samplesTotal,
			samplesDroppedTotal,
			framesMalformedTotal,
			reconnectAttemptsTotal,
			batchesTotal,
			batchSize,
			throughputGauge,
			eventsDroppedTotal,
			httpRequestsTotal,
			httpRequestDuration,
		)
	})
}

func RecordSamples(n int) {
	if n > 0 {
		samplesTotal.Add(float64(n))
	}
}

func RecordSamplesDropped(n int, policy string) {
	if n > 0 {
		samplesDroppedTotal.WithLabelValues(policy).Add(float64(n))
	}
}

func RecordMalformedFrames(n int) {
	if n > 0 {
		framesMalformedTotal.Add(float64(n))
	}
}

func RecordReconnectAttempt(address string) {
	reconnectAttemptsTotal.WithLabelValues(address).Inc()
}

func RecordBatch(size int) {
	batchesTotal.Inc()
	batchSize.Observe(float64(size))
}

func SetThroughput(samplesPerSecond float64) {
	throughputGauge.Set(samplesPerSecond)
}

func RecordEventDropped() {
	eventsDroppedTotal.Inc()
}

func RecordHTTPRequest(method, route, status string, elapsed time.Duration) {
	httpRequestsTotal.WithLabelValues(method, route, status).Inc()
	httpRequestDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}
