package metrics

import (
	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/intentflow/internal/clock"
	"github.com/smallbiznis/intentflow/internal/config"
	metricsdomain "github.com/smallbiznis/intentflow/internal/metrics/domain"
	"github.com/smallbiznis/intentflow/internal/metrics/service"
	"github.com/smallbiznis/intentflow/internal/metrics/store"
	"go.uber.org/fx"
)

var Module = fx.Module("metrics.service",
	fx.Provide(provideStore),
	fx.Provide(service.New),
)

func provideStore(client *redis.Client, clk clock.Clock, cfg config.Config) metricsdomain.Store {
	if client == nil {
		return store.NewMemory(clk, cfg.Metrics.Retention)
	}
	return store.NewRedis(client, cfg.Metrics.Retention)
}
