// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var Registry = prometheus.NewRegistry()

var (
	// HTTP metrics
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vibe",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests by route, method and status",
		},
		[]string{"route", "method", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "vibe",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms to ~10s
		},
		[]string{"route", "method"},
	)

	// Evaluation metrics
	evaluationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vibe",
			Subsystem: "reviewer",
			Name:      "evaluations_total",
			Help:      "Total number of tutorial evaluations by result",
		},
		[]string{"result"},
	)

	evaluationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "vibe",
			Subsystem: "reviewer",
			Name:      "evaluation_duration_seconds",
			Help:      "Duration of tutorial evaluations in seconds",
			Buckets:   prometheus.ExponentialBuckets(5, 2, 10), // 5s to ~43min
		},
	)

	chaptersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vibe",
			Subsystem: "reviewer",
			Name:      "chapters_total",
			Help:      "Chapters processed by outcome (evaluated, skipped, failed)",
		},
		[]string{"outcome"},
	)

	chapterScore = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "vibe",
			Subsystem: "reviewer",
			Name:      "chapter_score",
			Help:      "Overall score of evaluated chapters",
			Buckets:   prometheus.LinearBuckets(10, 10, 10),
		},
	)

	activeEvaluations = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "vibe",
			Subsystem: "reviewer",
			Name:      "active_evaluations",
			Help:      "Number of evaluations currently running",
		},
	)

	// Upstream provider metrics
	providerCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vibe",
			Subsystem: "provider",
			Name:      "calls_total",
			Help:      "Calls to external providers by provider and result",
		},
		[]string{"provider", "result"},
	)

	documentsParsedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vibe",
			Subsystem: "documents",
			Name:      "parsed_total",
			Help:      "Uploaded documents by parse result",
		},
		[]string{"result"},
	)
)

func init() {
	Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		httpRequestsTotal,
		httpRequestDuration,
		evaluationsTotal,
		evaluationDuration,
		chaptersTotal,
		chapterScore,
		activeEvaluations,
		providerCallsTotal,
		documentsParsedTotal,
	)
}

// Handler serves the registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// Middleware records request counts and latency keyed by the chi route
// pattern, so path parameters do not explode label cardinality.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil {
			if p := rc.RoutePattern(); p != "" {
				route = p
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		httpRequestsTotal.WithLabelValues(route, r.Method, strconv.Itoa(status)).Inc()
		httpRequestDuration.WithLabelValues(route, r.Method).Observe(time.Since(start).Seconds())
	})
}

// EvaluationStarted marks an evaluation as running and returns a function
// that records its end.
func EvaluationStarted() func(result string) {
	start := time.Now()
	activeEvaluations.Inc()
	return func(result string) {
		activeEvaluations.Dec()
		evaluationsTotal.WithLabelValues(result).Inc()
		evaluationDuration.Observe(time.Since(start).Seconds())
	}
}

// RecordChapter records one chapter outcome; score is ignored unless the
// chapter was evaluated.
func RecordChapter(outcome string, score int) {
	chaptersTotal.WithLabelValues(outcome).Inc()
	if outcome == "evaluated" {
		chapterScore.Observe(float64(score))
	}
}

func RecordProviderCall(provider string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	providerCallsTotal.WithLabelValues(provider, result).Inc()
}

func RecordDocumentParsed(err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	documentsParsedTotal.WithLabelValues(result).Inc()
}
