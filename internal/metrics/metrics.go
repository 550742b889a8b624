// Package metrics holds the prometheus collectors for stamping and preview operations
// and the HTTP handler that exposes them.
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
	"go.uber.org/zap"
)

// Stamp outcomes
const (
	OutcomeStamped   = "stamped"
	OutcomeUnchanged = "unchanged" // placement rejected, original returned
	OutcomeFailed    = "failed"
)

var (
	stampTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "signstamp_stamp_total",
			Help: "Stamping requests by document type and outcome.",
		},
		[]string{"type", "outcome"},
	)

	stampDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "signstamp_stamp_duration_seconds",
			Help:    "Duration of stamping requests.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.3, 1, 3, 10},
		},
		[]string{"type"},
	)

	fontDegraded = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "signstamp_font_degraded_total",
			Help: "Font fallback steps taken while drawing labels.",
		},
	)

	previewTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "signstamp_preview_total",
			Help: "Preview renders by document type.",
		},
		[]string{"type"},
	)

	reqDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests.",
			Buckets: []float64{0.01, 0.1, 0.3, 1.2, 5},
		},
		[]string{"path", "method", "status"},
	)
)

// Register registers the runtime collectors and the service collectors. Call once at startup.
func Register(logger *zap.Logger) {
	mustRegister(logger, "Go collector", collectors.NewGoCollector())
	mustRegister(logger, "process collector", collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	mustRegister(logger, "stamp counter", stampTotal)
	mustRegister(logger, "stamp histogram", stampDuration)
	mustRegister(logger, "font degradation counter", fontDegraded)
	mustRegister(logger, "preview counter", previewTotal)
	mustRegister(logger, "HTTP request histogram", reqDuration)
}

// mustRegister tolerates repeat registration and treats anything else as fatal
func mustRegister(logger *zap.Logger, name string, c prometheus.Collector) {
	if err := prometheus.Register(c); err != nil {
		if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
			return
		}
		if logger != nil {
			logger.Fatal("failed to register "+name, zap.Error(err))
		} else {
			panic("metrics: failed to register " + name + ": " + err.Error())
		}
	}
}

// ObserveStamp records one stamping request
func ObserveStamp(docType, outcome string, elapsed time.Duration) {
	stampTotal.WithLabelValues(docType, outcome).Inc()
	stampDuration.WithLabelValues(docType).Observe(elapsed.Seconds())
}

// FontDegraded counts n font fallback steps
func FontDegraded(n int) {
	if n > 0 {
		fontDegraded.Add(float64(n))
	}
}

// ObservePreview records one preview render
func ObservePreview(docType string) {
	previewTotal.WithLabelValues(docType).Inc()
}

// HTTPMetrics records request duration using the chi route pattern as the path label
func HTTPMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		protoMajor := r.ProtoMajor
		if protoMajor < 1 {
			protoMajor = 1
		}
		ww := middleware.NewWrapResponseWriter(w, protoMajor)

		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}

		path := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				path = pattern
			}
		}
		reqDuration.WithLabelValues(path, r.Method, strconv.Itoa(status)).Observe(time.Since(start).Seconds())
	})
}

// Handler returns an http.Handler that exposes the Prometheus metrics
func Handler() http.Handler {
	return promhttp.Handler()
}
