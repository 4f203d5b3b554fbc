package stream

import (
	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/intentflow/internal/config"
	"go.uber.org/fx"
)

var Module = fx.Module("stream",
	fx.Provide(provideLog),
	fx.Provide(New),
)

func provideLog(client *redis.Client, cfg config.Config) Log {
	if client == nil {
		return NewMemoryLog()
	}
	return NewRedisLog(client, cfg.Stream.Shards, cfg.Stream.MaxLen)
}
