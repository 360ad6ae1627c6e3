// Package metrics holds the prometheus collectors of the poller.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	CyclesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "feedwatch_cycles_total",
		Help: "Poll cycles run, by target and outcome",
	}, []string{"target", "status"})
	CycleDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "feedwatch_cycle_duration_seconds",
		Help:    "Duration of one poll cycle",
		Buckets: prometheus.DefBuckets,
	}, []string{"target"})
	FetchTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "feedwatch_fetch_total",
		Help: "Source polls, by source kind and outcome",
	}, []string{"kind", "status"})
	ItemsDetected = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "feedwatch_items_detected_total",
		Help: "Items detected by the change detector, by change type",
	}, []string{"target", "source", "change"})
	NotificationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "feedwatch_notifications_total",
		Help: "Notifications handed to the sink, by outcome",
	}, []string{"target", "status"})
	PersistenceErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "feedwatch_persistence_errors_total",
		Help: "Failed seen-state loads and flushes",
	})
	RunningTargets = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "feedwatch_running_targets",
		Help: "Targets with an active polling loop",
	})
)

// MustRegister registers all collectors.
func MustRegister(registerer prometheus.Registerer) {
	registerer.MustRegister(
		CyclesTotal,
		CycleDuration,
		FetchTotal,
		ItemsDetected,
		NotificationsTotal,
		PersistenceErrors,
		RunningTargets,
	)
}

// ObserveCycle records the duration and outcome of one cycle.
func ObserveCycle(target string, start time.Time, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	CycleDuration.WithLabelValues(target).Observe(time.Since(start).Seconds())
	CyclesTotal.WithLabelValues(target, status).Inc()
}

// ObserveFetch counts one source poll.
func ObserveFetch(kind string, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	FetchTotal.WithLabelValues(kind, status).Inc()
}
