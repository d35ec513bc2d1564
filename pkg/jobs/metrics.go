package jobs

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricEnqueued = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "swarm",
		Subsystem: "jobs",
		Name:      "enqueued_total",
		Help:      "Jobs accepted by the backing store.",
	}, []string{"queue"})
	metricEnqueueDegraded = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "swarm",
		Subsystem: "jobs",
		Name:      "enqueue_degraded_total",
		Help:      "Enqueues dropped because the backing store was unavailable.",
	}, []string{"queue"})
	metricCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "swarm",
		Subsystem: "jobs",
		Name:      "completed_total",
		Help:      "Jobs finished successfully.",
	}, []string{"queue"})
	metricRetried = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "swarm",
		Subsystem: "jobs",
		Name:      "retried_total",
		Help:      "Failed attempts scheduled for retry.",
	}, []string{"queue"})
	metricDead = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "swarm",
		Subsystem: "jobs",
		Name:      "dead_total",
		Help:      "Jobs dead-lettered after exhausting attempts.",
	}, []string{"queue"})
	metricActive = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "swarm",
		Subsystem: "jobs",
		Name:      "active",
		Help:      "Jobs currently executing.",
	}, []string{"queue"})
)
