// Package processors holds the job handlers behind the default queues.
//
// Each processor is a struct wired with its downstream dependencies (push
// gateway, Kafka producer, MySQL, cache) and exposes a single Handle method
// matching jobs.Handler. Register binds all of them to their queues.
package processors

import (
	"time"

	"go.palytt.app/swarm/pkg/jobs"
)

// Queue names served by the default processors.
const (
	QueueNotifications = "notifications"
	QueueAnalytics     = "analytics"
	QueueCleanup       = "cleanup"
)

// Set bundles every default processor.
type Set struct {
	Notifier  *Notifier
	Collector *Collector
	Janitor   *Janitor
}

// Register binds payload decoders and workers for all default queues.
func (s *Set) Register(reg *jobs.Registry) {
	reg.RegisterPayload(KindNotification, func() jobs.Payload { return new(NotificationPayload) })
	reg.RegisterPayload(KindAnalytics, func() jobs.Payload { return new(AnalyticsPayload) })
	reg.RegisterPayload(KindCleanup, func() jobs.Payload { return new(CleanupPayload) })

	reg.RegisterWorker(QueueNotifications, s.Notifier.Handle, jobs.WorkerConfig{
		Concurrency: 8,
		RateLimit:   &jobs.RateLimit{Max: 100, Window: time.Minute},
	})
	reg.RegisterWorker(QueueAnalytics, s.Collector.Handle, jobs.WorkerConfig{
		Concurrency: 4,
	})
	reg.RegisterWorker(QueueCleanup, s.Janitor.Handle, jobs.WorkerConfig{
		Concurrency: 1,
	})
}
