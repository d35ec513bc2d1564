package providers

import (
	"github.com/go-redis/redis/v8"
	"github.com/spf13/viper"
	"go.palytt.app/swarm/pkg/cache"
	"go.palytt.app/swarm/pkg/invalidation"
	"go.uber.org/zap"
)

// Cache config keys.
const (
	ConfCacheFallbackSize  = "cache.fallback_size"
	ConfCacheScanBatch     = "cache.scan_batch"
	ConfCacheSweepInterval = "cache.sweep_interval"

	ConfInvalidationStreamKey = "cache.invalidation.stream_key"
	ConfInvalidationBacklog   = "cache.invalidation.backlog"
)

func init() {
	viper.SetDefault(ConfCacheFallbackSize, cache.DefaultOptions.FallbackSize)
	viper.SetDefault(ConfCacheScanBatch, cache.DefaultOptions.ScanBatch)
	viper.SetDefault(ConfCacheSweepInterval, cache.DefaultOptions.SweepInterval)

	viper.SetDefault(ConfInvalidationStreamKey, "cache-invalidations")
	viper.SetDefault(ConfInvalidationBacklog, 4096)
}

// NewCacheStore builds the two-tier cache store from config.
func NewCacheStore(log *zap.Logger, rd *redis.Client) (*cache.Store, error) {
	opts := cache.Options{
		FallbackSize:  viper.GetInt(ConfCacheFallbackSize),
		ScanBatch:     viper.GetInt64(ConfCacheScanBatch),
		SweepInterval: viper.GetDuration(ConfCacheSweepInterval),
	}
	return cache.NewStore(log.Named("cache"), rd, opts)
}

// NewBus builds the cache invalidation bus from config.
func NewBus(log *zap.Logger, rd *redis.Client, store *cache.Store) *invalidation.Bus {
	return &invalidation.Bus{
		Log:       log.Named("invalidation"),
		Redis:     rd,
		Cache:     store,
		StreamKey: viper.GetString(ConfInvalidationStreamKey),
		Backlog:   viper.GetInt64(ConfInvalidationBacklog),
	}
}
