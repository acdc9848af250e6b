package observability

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"route", "method", "status"},
	)
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"route", "method"},
	)

	// Aggregator batch pipeline.
	ProcessingStatsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "processing_stats_total",
			Help: "Aggregator counters: processed ballots and batch outcomes",
		},
		[]string{"stat"},
	)
	ProcessingStatsPending = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "processing_stats_pending",
			Help: "Ballots buffered per topic type awaiting a flush",
		},
		[]string{"topic_type"},
	)
	ProcessingStatsQueued = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "processing_stats_queued",
			Help: "Ballots accepted but not yet picked up by the aggregator loop",
		},
	)
	ProcessingBatchTime = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "processing_stats_batch_process_time",
			Help:    "Batch flush duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.002, 2, 10),
		},
	)
	ProcessingBatchTotalTime = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "processing_stats_batch_total_process_time",
			Help: "Cumulative batch flush time in microseconds",
		},
	)

	// Stream consumers.
	ConsumerMessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "consumer_messages_total",
			Help: "Stream messages handled per subject and result",
		},
		[]string{"subject", "result"},
	)
	ConsumerDLQTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "consumer_dlq_total",
			Help: "Messages routed to the dead letter queue per origin subject",
		},
		[]string{"subject"},
	)
)

// Aggregator counter stat labels.
const (
	StatTotalProcessed    = "total_processed"
	StatSuccessfulBatches = "successful_batches"
	StatFailedBatches     = "failed_batches"
)

func InitMetrics() {
	prometheus.MustRegister(HTTPRequestsTotal)
	prometheus.MustRegister(HTTPRequestDuration)
	prometheus.MustRegister(ProcessingStatsTotal)
	prometheus.MustRegister(ProcessingStatsPending)
	prometheus.MustRegister(ProcessingStatsQueued)
	prometheus.MustRegister(ProcessingBatchTime)
	prometheus.MustRegister(ProcessingBatchTotalTime)
	prometheus.MustRegister(ConsumerMessagesTotal)
	prometheus.MustRegister(ConsumerDLQTotal)
}

// HTTPMetricsMiddleware records Prometheus metrics for each request.
func HTTPMetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		dur := time.Since(start).Seconds()
		// Route pattern may be unavailable outside chi router; guard nil
		var route string
		if rc := chi.RouteContext(r.Context()); rc != nil {
			route = rc.RoutePattern()
		}
		if route == "" {
			route = r.URL.Path
		}
		method := r.Method
		status := ww.Status()
		HTTPRequestsTotal.WithLabelValues(route, method, http.StatusText(status)).Inc()
		HTTPRequestDuration.WithLabelValues(route, method).Observe(dur)
	})
}
