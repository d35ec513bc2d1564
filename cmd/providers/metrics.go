package providers

import (
	"context"
	"net/http"
	"time"

	prometheusmetrics "github.com/deathowl/go-metrics-prometheus"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rcrowley/go-metrics"
	"github.com/spf13/viper"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Metrics config keys.
const (
	ConfMetricsListenAddr = "metrics.listen.addr"
)

func init() {
	viper.SetDefault(ConfMetricsListenAddr, "localhost:9100")
}

// GOMPrometheusSync specifies the time interval to sync go-metrics to Prometheus.
var GOMPrometheusSync = 5 * time.Second

// SetupPrometheus bridges the go-metrics default registry (fed by sarama)
// into Prometheus and returns the metrics HTTP handler.
func SetupPrometheus() http.Handler {
	gomProvider := prometheusmetrics.NewPrometheusProvider(
		metrics.DefaultRegistry,
		"swarm", "",
		prometheus.DefaultRegisterer,
		GOMPrometheusSync)
	go gomProvider.UpdatePrometheusMetrics()
	return promhttp.Handler()
}

// ServeMetrics runs the Prometheus scrape endpoint on the configured address
// for the lifetime of the application.
func ServeMetrics(log *zap.Logger, lc fx.Lifecycle) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", SetupPrometheus())
	server := &http.Server{
		Addr:    viper.GetString(ConfMetricsListenAddr),
		Handler: mux,
	}
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			log.Info("Starting metrics server",
				zap.String(ConfMetricsListenAddr, server.Addr))
			go func() {
				if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Error("Metrics server failed", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return server.Shutdown(ctx)
		},
	})
}
