// Package providers holds fx constructors for the shared components of all
// swarm sub-commands.
package providers

import (
	"context"

	"github.com/spf13/cobra"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Log is the global logger.
var Log *zap.Logger

// Providers holds constructors for shared components.
var Providers = []interface{}{
	// cache.go
	NewCacheStore,
	NewBus,
	// jobs.go
	NewJobsOptions,
	NewRegistry,
	// mysql.go
	NewMySQL,
	// providers.go
	NewContext,
	// redis.go
	NewRedis,
	// sarama.go
	NewSaramaConfig,
	NewSaramaClient,
	NewSaramaSyncProducer,
}

// NewApp assembles an fx application with all shared providers.
func NewApp(cmd *cobra.Command, opts ...fx.Option) *fx.App {
	baseOpts := []fx.Option{
		fx.Provide(Providers...),
		fx.Supply(cmd),
		fx.Supply(Log),
		fx.Logger(zap.NewStdLog(Log)),
	}
	baseOpts = append(baseOpts, opts...)
	return fx.New(baseOpts...)
}

// NewCmd wraps an invoke function into a cobra run function backed by a
// throwaway fx application.
func NewCmd(invoke interface{}) func(cmd *cobra.Command, args []string) {
	return func(cmd *cobra.Command, args []string) {
		app := fx.New(
			fx.Provide(Providers...),
			fx.Supply(cmd),
			fx.Supply(args),
			fx.Supply(Log),
			fx.Logger(zap.NewStdLog(Log)),
			fx.Invoke(invoke),
		)
		app.Run()
	}
}

// NewContext provides a context bound to the application lifecycle.
func NewContext(lc fx.Lifecycle) context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStop: func(_ context.Context) error {
			cancel()
			return nil
		},
	})
	return ctx
}
