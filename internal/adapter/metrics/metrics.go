// Package metrics exports schedule events as Prometheus metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"driftd/pkg/drift"
)

const namespace = "drift"

// Observer is a drift.Observer that records tick outcomes. It owns its
// registry so several instances (for example in tests) never collide.
type Observer struct {
	reg *prometheus.Registry

	ticks    *prometheus.CounterVec
	duration *prometheus.HistogramVec
	skipped  *prometheus.CounterVec
	stopped  *prometheus.CounterVec
	nextWait *prometheus.GaugeVec
}

var _ drift.Observer = (*Observer)(nil)

// New creates an observer with Go runtime and process collectors registered.
func New() *Observer {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Observer{
		reg: reg,
		ticks: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ticks_total",
			Help:      "Finished executions by schedule and result.",
		}, []string{"schedule", "result"}),
		duration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tick_duration_seconds",
			Help:      "Execution time of a tick.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
		}, []string{"schedule"}),
		skipped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ticks_skipped_total",
			Help:      "Cron instants skipped because they were already in the past.",
		}, []string{"schedule"}),
		stopped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "schedules_stopped_total",
			Help:      "Schedules that stopped, by reason.",
		}, []string{"schedule", "reason"}),
		nextWait: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "next_wait_seconds",
			Help:      "Delay computed before the next tick.",
		}, []string{"schedule"}),
	}
}

// Observe implements drift.Observer.
func (o *Observer) Observe(e drift.Event) {
	switch e.Kind {
	case drift.TickSuccess:
		o.finished(e, "success")
	case drift.TickFailure:
		o.finished(e, "failure")
	case drift.TickSkipped:
		o.skipped.WithLabelValues(e.Schedule).Inc()
	case drift.ScheduleStopped:
		o.stopped.WithLabelValues(e.Schedule, e.Reason.String()).Inc()
		o.nextWait.DeleteLabelValues(e.Schedule)
	}
}

func (o *Observer) finished(e drift.Event, result string) {
	o.ticks.WithLabelValues(e.Schedule, result).Inc()
	o.duration.WithLabelValues(e.Schedule).Observe(e.Elapsed.Seconds())
	o.nextWait.WithLabelValues(e.Schedule).Set(e.Wait.Seconds())
}

// Registry exposes the underlying registry for extra collectors.
func (o *Observer) Registry() *prometheus.Registry { return o.reg }

// Handler serves the registry in the Prometheus exposition format.
func (o *Observer) Handler() http.Handler {
	return promhttp.HandlerFor(o.reg, promhttp.HandlerOpts{Registry: o.reg})
}
