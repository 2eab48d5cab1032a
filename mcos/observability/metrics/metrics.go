// Package metrics provides Prometheus metrics export for the memory and
// context orchestration subsystem.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Exporter collects and exports subsystem metrics in Prometheus format.
type Exporter struct {
	registry *prometheus.Registry

	// Job queue metrics
	jobsEnqueued    *prometheus.CounterVec
	jobsCompleted   *prometheus.CounterVec
	jobsRetried     *prometheus.CounterVec
	jobsDeadLetter  *prometheus.CounterVec
	jobsCoalesced   prometheus.Counter
	queueDepth      prometheus.Gauge

	// Context assembly metrics
	assembleLatency    prometheus.Histogram
	retrievalDecisions *prometheus.CounterVec
	partialBundles     prometheus.Counter

	// Vector memory metrics
	embedLatency    prometheus.Histogram
	upsertBatchSize prometheus.Histogram
	upsertRetries   prometheus.Counter

	// Session metrics
	activeSessions  prometheus.Gauge
	sessionEvicted  prometheus.Counter
	profileCacheHit *prometheus.CounterVec

	// Model adapter token accounting
	modelTokens *prometheus.CounterVec
}

// Config configures the exporter.
type Config struct {
	// Registry to use; a new one is created when nil.
	Registry *prometheus.Registry

	// Buckets for latency histograms, in seconds.
	LatencyBuckets []float64
}

// DefaultConfig returns default exporter configuration.
func DefaultConfig() Config {
	return Config{
		LatencyBuckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10},
	}
}

// NewExporter creates a metrics exporter and registers all collectors.
func NewExporter(cfg Config) *Exporter {
	registry := cfg.Registry
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	buckets := cfg.LatencyBuckets
	if len(buckets) == 0 {
		buckets = DefaultConfig().LatencyBuckets
	}

	e := &Exporter{
		registry: registry,
		jobsEnqueued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mcos_jobs_enqueued_total",
			Help: "Background jobs enqueued, by job type.",
		}, []string{"type"}),
		jobsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mcos_jobs_completed_total",
			Help: "Background jobs completed successfully, by job type.",
		}, []string{"type"}),
		jobsRetried: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mcos_jobs_retried_total",
			Help: "Background job retry attempts, by job type.",
		}, []string{"type"}),
		jobsDeadLetter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mcos_jobs_dead_letter_total",
			Help: "Background jobs dropped after exhausting retries, by job type.",
		}, []string{"type"}),
		jobsCoalesced: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mcos_jobs_coalesced_total",
			Help: "Upload jobs dropped because an identical job was already queued.",
		}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mcos_job_queue_depth",
			Help: "Current number of queued background jobs.",
		}),
		assembleLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "mcos_assemble_latency_seconds",
			Help:    "Context assembly latency.",
			Buckets: buckets,
		}),
		retrievalDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mcos_retrieval_decisions_total",
			Help: "Long-term retrieval decisions, by reason (skipped, sparse_local, intent, trigger_phrase).",
		}, []string{"reason"}),
		partialBundles: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mcos_partial_bundles_total",
			Help: "Context bundles returned with partial=true.",
		}),
		embedLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "mcos_embed_latency_seconds",
			Help:    "Embedding call latency.",
			Buckets: buckets,
		}),
		upsertBatchSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "mcos_upsert_batch_size",
			Help:    "Records per vector store upsert call.",
			Buckets: []float64{1, 2, 5, 10, 25, 50, 100},
		}),
		upsertRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mcos_upsert_retries_total",
			Help: "Vector store upsert retry attempts.",
		}),
		activeSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mcos_active_sessions",
			Help: "Chat sessions currently resident in the session store.",
		}),
		sessionEvicted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mcos_sessions_evicted_total",
			Help: "Sessions evicted by TTL janitor.",
		}),
		profileCacheHit: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mcos_profile_cache_total",
			Help: "Profile read cache lookups, by outcome (hit, miss).",
		}, []string{"outcome"}),
		modelTokens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mcos_model_tokens_total",
			Help: "Tokens consumed by model adapter calls, by direction (prompt, completion).",
		}, []string{"direction"}),
	}

	registry.MustRegister(
		e.jobsEnqueued, e.jobsCompleted, e.jobsRetried, e.jobsDeadLetter,
		e.jobsCoalesced, e.queueDepth,
		e.assembleLatency, e.retrievalDecisions, e.partialBundles,
		e.embedLatency, e.upsertBatchSize, e.upsertRetries,
		e.activeSessions, e.sessionEvicted, e.profileCacheHit,
		e.modelTokens,
	)
	return e
}

// Handler returns the HTTP handler exposing the registry.
func (e *Exporter) Handler() http.Handler {
	return promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for composition.
func (e *Exporter) Registry() *prometheus.Registry {
	return e.registry
}

func (e *Exporter) JobEnqueued(jobType string)   { e.jobsEnqueued.WithLabelValues(jobType).Inc() }
func (e *Exporter) JobCompleted(jobType string)  { e.jobsCompleted.WithLabelValues(jobType).Inc() }
func (e *Exporter) JobRetried(jobType string)    { e.jobsRetried.WithLabelValues(jobType).Inc() }
func (e *Exporter) JobDeadLetter(jobType string) { e.jobsDeadLetter.WithLabelValues(jobType).Inc() }
func (e *Exporter) JobCoalesced()                { e.jobsCoalesced.Inc() }
func (e *Exporter) SetQueueDepth(n int)          { e.queueDepth.Set(float64(n)) }

func (e *Exporter) ObserveAssemble(d time.Duration) { e.assembleLatency.Observe(d.Seconds()) }
func (e *Exporter) RetrievalDecision(reason string) {
	e.retrievalDecisions.WithLabelValues(reason).Inc()
}
func (e *Exporter) PartialBundle() { e.partialBundles.Inc() }

func (e *Exporter) ObserveEmbed(d time.Duration) { e.embedLatency.Observe(d.Seconds()) }
func (e *Exporter) ObserveUpsertBatch(n int)     { e.upsertBatchSize.Observe(float64(n)) }
func (e *Exporter) UpsertRetried()               { e.upsertRetries.Inc() }

func (e *Exporter) SetActiveSessions(n int) { e.activeSessions.Set(float64(n)) }
func (e *Exporter) SessionEvicted()         { e.sessionEvicted.Inc() }
func (e *Exporter) ProfileCache(outcome string) {
	e.profileCacheHit.WithLabelValues(outcome).Inc()
}

func (e *Exporter) AddModelTokens(prompt, completion int) {
	if prompt > 0 {
		e.modelTokens.WithLabelValues("prompt").Add(float64(prompt))
	}
	if completion > 0 {
		e.modelTokens.WithLabelValues("completion").Add(float64(completion))
	}
}

// Nop returns an exporter wired to a throwaway registry, for tests and for
// callers that do not scrape metrics.
func Nop() *Exporter {
	return NewExporter(Config{Registry: prometheus.NewRegistry()})
}
