// Package metrics exposes shrinker runs as Prometheus metrics.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/class-shrinker/internal/graph"
	"github.com/class-shrinker/internal/shrinker"
	apperrors "github.com/class-shrinker/pkg/errors"
)

// Collector records shrinker progress. It implements shrinker.Observer.
type Collector struct {
	registry *prometheus.Registry

	phaseDuration *prometheus.HistogramVec
	runs          *prometheus.CounterVec
	failures      *prometheus.CounterVec
	fallbacks     prometheus.Counter
	classes       *prometheus.GaugeVec
	keptClasses   *prometheus.GaugeVec
	graphSize     *prometheus.GaugeVec
	changes       *prometheus.GaugeVec
	lastDuration  prometheus.Gauge
}

var _ shrinker.Observer = (*Collector)(nil)

// NewCollector creates a Collector registering its metrics in a fresh
// registry under namespace.
func NewCollector(namespace string) *Collector {
	if namespace == "" {
		namespace = "shrinker"
	}

	c := &Collector{
		registry: prometheus.NewRegistry(),
		phaseDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "phase_duration_seconds",
			Help:      "Duration of shrinker run phases.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
		}, []string{"phase"}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Completed shrinker runs by mode.",
		}, []string{"mode"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "run_failures_total",
			Help:      "Failed shrinker runs by error code.",
		}, []string{"code"}),
		fallbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "incremental_fallbacks_total",
			Help:      "Incremental runs that fell back to a full run.",
		}),
		classes: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "input_classes",
			Help:      "Classes scanned by the last run.",
		}, []string{"kind"}),
		keptClasses: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "kept_classes",
			Help:      "Classes kept by the last run per shrink target.",
		}, []string{"target"}),
		graphSize: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "graph_size",
			Help:      "Dependency graph size after the last run.",
		}, []string{"element"}),
		changes: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "output_changes",
			Help:      "Output files touched by the last run.",
		}, []string{"action"}),
		lastDuration: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_duration_seconds",
			Help:      "Wall time of the last run.",
		}),
	}

	c.registry.MustRegister(
		c.phaseDuration, c.runs, c.failures, c.fallbacks,
		c.classes, c.keptClasses, c.graphSize, c.changes, c.lastDuration,
	)
	return c
}

// Registry returns the registry holding the collector's metrics.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// PhaseFinished observes the duration of a phase.
func (c *Collector) PhaseFinished(phase string, d time.Duration) {
	c.phaseDuration.WithLabelValues(phase).Observe(d.Seconds())
}

// RunFinished records the outcome of a successful run.
func (c *Collector) RunFinished(res *shrinker.Result) {
	c.runs.WithLabelValues(res.Mode.String()).Inc()
	if res.FallbackReason != "" {
		c.fallbacks.Inc()
	}

	c.classes.WithLabelValues("program").Set(float64(res.ProgramClasses))
	c.classes.WithLabelValues("library").Set(float64(res.LibraryClasses))
	for _, target := range graph.AllTargets {
		c.keptClasses.WithLabelValues(target.String()).Set(float64(res.KeptClasses[target]))
	}
	c.graphSize.WithLabelValues("nodes").Set(float64(res.Nodes))
	c.graphSize.WithLabelValues("edges").Set(float64(res.Edges))
	c.changes.WithLabelValues("written").Set(float64(res.Written))
	c.changes.WithLabelValues("deleted").Set(float64(res.Deleted))
	c.lastDuration.Set(res.Duration.Seconds())
}

// RunFailed counts a failed run by its error code.
func (c *Collector) RunFailed(err error) {
	c.failures.WithLabelValues(apperrors.GetErrorCode(err)).Inc()
}

// WriteToTextfile writes the current metrics in the text exposition format
// for the node exporter textfile collector.
func (c *Collector) WriteToTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, c.registry); err != nil {
		return fmt.Errorf("failed to write metrics: %w", err)
	}
	return nil
}
