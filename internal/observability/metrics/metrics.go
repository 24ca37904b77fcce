// Package metrics registers the service's Prometheus collectors and exposes
// them over HTTP.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "spriteforge"

// Generation outcomes.
const (
	OutcomeGenerated = "generated"
	OutcomeCached    = "cached"
	OutcomeFailed    = "failed"
)

// Job events.
const (
	JobSubmitted = "submitted"
	JobSucceeded = "succeeded"
	JobRetried   = "retried"
	JobFailed    = "failed"
)

var (
	registry = prometheus.NewRegistry()
	factory  = promauto.With(registry)

	httpRequests = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_requests_total",
		Help:      "Total number of HTTP requests processed.",
	}, []string{"handler", "method", "code"})

	httpDuration = factory.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration in seconds.",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
	}, []string{"handler", "method"})

	generations = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "generations_total",
		Help:      "Generation requests by kind and outcome.",
	}, []string{"kind", "outcome"})

	generationDuration = factory.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "generation_duration_seconds",
		Help:      "End-to-end orchestration time.",
		Buckets:   []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120},
	}, []string{"kind"})

	synthesisCalls = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "synthesis_calls_total",
		Help:      "Calls made to the image synthesis provider.",
	}, []string{"outcome"})

	cacheLookups = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "cache_lookups_total",
		Help:      "Cache lookups by level and result.",
	}, []string{"level", "result"})

	assetUploads = factory.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "asset_uploads_total",
		Help:      "Assets written to the cache store.",
	})

	jobs = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "jobs_total",
		Help:      "Sprite job lifecycle events.",
	}, []string{"event"})
)

func init() {
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
}

// ObserveHTTPRequest records metrics about an HTTP request lifecycle.
func ObserveHTTPRequest(handler, method string, status int, duration time.Duration) {
	httpRequests.WithLabelValues(handler, method, strconv.Itoa(status)).Inc()
	httpDuration.WithLabelValues(handler, method).Observe(duration.Seconds())
}

// ObserveGeneration records one orchestration call.
func ObserveGeneration(kind, outcome string, duration time.Duration) {
	generations.WithLabelValues(kind, outcome).Inc()
	generationDuration.WithLabelValues(kind).Observe(duration.Seconds())
}

// ObserveSynthesis counts a provider call.
func ObserveSynthesis(err error) {
	if err != nil {
		synthesisCalls.WithLabelValues("error").Inc()
		return
	}
	synthesisCalls.WithLabelValues("ok").Inc()
}

// ObserveCacheLookup counts a cache lookup at the given level (atlas, motion, image).
func ObserveCacheLookup(level string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	cacheLookups.WithLabelValues(level, result).Inc()
}

// ObserveUpload counts a stored asset.
func ObserveUpload() { assetUploads.Inc() }

// ObserveJob counts a job lifecycle event.
func ObserveJob(event string) { jobs.WithLabelValues(event).Inc() }

// Handler exposes the metrics in Prometheus text exposition format.
func Handler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

// StartServer launches a standalone HTTP server exposing the /metrics endpoint.
func StartServer(ctx context.Context, addr string) error {
	if addr == "" {
		return errors.New("metrics address is empty")
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err, ok := <-errCh:
		if !ok {
			return nil
		}
		return err
	}
}
