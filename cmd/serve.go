package main

import (
	"context"
	"net/http"
	"time"

	"github.com/Shopify/sarama"
	"github.com/jmoiron/sqlx"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.palytt.app/swarm/cmd/providers"
	"go.palytt.app/swarm/pkg/cache"
	"go.palytt.app/swarm/pkg/invalidation"
	"go.palytt.app/swarm/pkg/jobs"
	"go.palytt.app/swarm/pkg/processors"
	"go.palytt.app/swarm/pkg/scheduler"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var serveCmd = cobra.Command{
	Use:   "serve",
	Short: "Run background processing server",
	Long: "Runs the job workers, delayed-job promoters, recurring-job scheduler,\n" +
		"cache invalidation subscriber and metrics endpoint.\n" +
		"It is safe to run multiple serve instances against the same Redis.",
	Args: cobra.NoArgs,
	Run:  providers.NewCmd(runServe),
}

// Serve config keys.
const (
	ConfAnalyticsTopic          = "kafka.analytics_topic"
	ConfPushWebhookURL          = "push.webhook_url"
	ConfCleanupSessionsSchedule = "cleanup.sessions_schedule"
	ConfCleanupCacheInterval    = "cleanup.cache_interval"
)

func init() {
	viper.SetDefault(ConfAnalyticsTopic, "swarm.analytics")
	viper.SetDefault(ConfPushWebhookURL, "")
	viper.SetDefault(ConfCleanupSessionsSchedule, "0 4 * * *")
	viper.SetDefault(ConfCleanupCacheInterval, time.Hour)

	rootCmd.AddCommand(&serveCmd)
}

func runServe(
	lc fx.Lifecycle,
	log *zap.Logger,
	ctx context.Context,
	registry *jobs.Registry,
	store *cache.Store,
	bus *invalidation.Bus,
	db *sqlx.DB,
	producer sarama.SyncProducer,
) {
	var pusher processors.Pusher
	if url := viper.GetString(ConfPushWebhookURL); url != "" {
		pusher = &processors.WebhookPusher{
			Log:    log.Named("pusher"),
			Client: &http.Client{Timeout: 10 * time.Second},
			URL:    url,
		}
	} else {
		pusher = &processors.NopPusher{Log: log.Named("pusher")}
	}
	set := &processors.Set{
		Notifier: &processors.Notifier{
			Log:    log.Named("notifier"),
			Cache:  store,
			Pusher: pusher,
		},
		Collector: &processors.Collector{
			Log:      log.Named("collector"),
			Producer: producer,
			Topic:    viper.GetString(ConfAnalyticsTopic),
		},
		Janitor: &processors.Janitor{
			Log:   log.Named("janitor"),
			DB:    db,
			Cache: store,
			Bus:   bus,
		},
	}
	set.Register(registry)

	sched := &scheduler.Scheduler{
		Log:      log.Named("scheduler"),
		Registry: registry,
		Jobs: []scheduler.RecurringJob{
			{
				Queue:   processors.QueueCleanup,
				Name:    "sessions",
				Payload: &processors.CleanupPayload{Scope: processors.ScopeSessions},
				Pattern: viper.GetString(ConfCleanupSessionsSchedule),
			},
			{
				Queue:   processors.QueueCleanup,
				Name:    "cache",
				Payload: &processors.CleanupPayload{Scope: processors.ScopeCache},
				Every:   viper.GetDuration(ConfCleanupCacheInterval),
			},
		},
	}

	providers.ServeMetrics(log, lc)
	lc.Append(fx.Hook{
		OnStart: func(startCtx context.Context) error {
			registry.Start()
			go func() { _ = store.Run(ctx) }()
			go func() { _ = bus.Run(ctx) }()
			return sched.RegisterAll(startCtx)
		},
		OnStop: func(stopCtx context.Context) error {
			store.Close()
			return nil
		},
	})
}
