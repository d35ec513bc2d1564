package providers

import (
	"context"

	"github.com/go-redis/redis/v8"
	"github.com/spf13/viper"
	"go.palytt.app/swarm/pkg/jobs"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Job system config keys.
const (
	ConfJobsClaimInterval   = "jobs.claim_interval"
	ConfJobsPromoteInterval = "jobs.promote_interval"
	ConfJobsPromoteBatch    = "jobs.promote_batch"
	ConfJobsJanitorInterval = "jobs.janitor_interval"
	ConfJobsCleanBatch      = "jobs.clean_batch"

	ConfJobsCompletedMaxCount = "jobs.completed.max_count"
	ConfJobsCompletedMaxAge   = "jobs.completed.max_age"
	ConfJobsDeadMaxCount      = "jobs.dead.max_count"
	ConfJobsDeadMaxAge        = "jobs.dead.max_age"

	ConfJobsDefaultMaxAttempts = "jobs.default_max_attempts"
	ConfJobsBackoffBase        = "jobs.backoff_base"
	ConfJobsBackoffGrowth      = "jobs.backoff_growth"
)

func init() {
	viper.SetDefault(ConfJobsClaimInterval, jobs.DefaultOptions.ClaimInterval)
	viper.SetDefault(ConfJobsPromoteInterval, jobs.DefaultOptions.PromoteInterval)
	viper.SetDefault(ConfJobsPromoteBatch, jobs.DefaultOptions.PromoteBatch)
	viper.SetDefault(ConfJobsJanitorInterval, jobs.DefaultOptions.JanitorInterval)
	viper.SetDefault(ConfJobsCleanBatch, jobs.DefaultOptions.CleanBatch)

	viper.SetDefault(ConfJobsCompletedMaxCount, jobs.DefaultOptions.CompletedRetention.MaxCount)
	viper.SetDefault(ConfJobsCompletedMaxAge, jobs.DefaultOptions.CompletedRetention.MaxAge)
	viper.SetDefault(ConfJobsDeadMaxCount, jobs.DefaultOptions.DeadRetention.MaxCount)
	viper.SetDefault(ConfJobsDeadMaxAge, jobs.DefaultOptions.DeadRetention.MaxAge)

	viper.SetDefault(ConfJobsDefaultMaxAttempts, jobs.DefaultOptions.DefaultMaxAttempts)
	viper.SetDefault(ConfJobsBackoffBase, jobs.DefaultOptions.BackoffBase)
	viper.SetDefault(ConfJobsBackoffGrowth, jobs.DefaultOptions.BackoffGrowth)
}

// NewJobsOptions builds job system options from config.
func NewJobsOptions() *jobs.Options {
	return &jobs.Options{
		ClaimInterval:   viper.GetDuration(ConfJobsClaimInterval),
		PromoteInterval: viper.GetDuration(ConfJobsPromoteInterval),
		PromoteBatch:    viper.GetUint(ConfJobsPromoteBatch),
		JanitorInterval: viper.GetDuration(ConfJobsJanitorInterval),
		CleanBatch:      viper.GetUint(ConfJobsCleanBatch),
		CompletedRetention: jobs.Retention{
			MaxCount: viper.GetInt64(ConfJobsCompletedMaxCount),
			MaxAge:   viper.GetDuration(ConfJobsCompletedMaxAge),
		},
		DeadRetention: jobs.Retention{
			MaxCount: viper.GetInt64(ConfJobsDeadMaxCount),
			MaxAge:   viper.GetDuration(ConfJobsDeadMaxAge),
		},
		DefaultMaxAttempts: viper.GetUint(ConfJobsDefaultMaxAttempts),
		BackoffBase:        viper.GetDuration(ConfJobsBackoffBase),
		BackoffGrowth:      viper.GetFloat64(ConfJobsBackoffGrowth),
	}
}

// NewRegistry builds the job registry and ties worker draining to the
// application lifecycle.
func NewRegistry(log *zap.Logger, lc fx.Lifecycle, rd *redis.Client, opts *jobs.Options) *jobs.Registry {
	registry := jobs.NewRegistry(log.Named("jobs"), rd, opts)
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return registry.Close()
		},
	})
	return registry
}
