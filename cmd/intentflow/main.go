package main

import (
	"github.com/smallbiznis/intentflow/internal/cache"
	"github.com/smallbiznis/intentflow/internal/clock"
	"github.com/smallbiznis/intentflow/internal/config"
	"github.com/smallbiznis/intentflow/internal/metrics"
	"github.com/smallbiznis/intentflow/internal/migration"
	"github.com/smallbiznis/intentflow/internal/observability"
	"github.com/smallbiznis/intentflow/internal/orchestrator"
	"github.com/smallbiznis/intentflow/internal/provisioning"
	"github.com/smallbiznis/intentflow/internal/ratelimit"
	"github.com/smallbiznis/intentflow/internal/scoring"
	"github.com/smallbiznis/intentflow/internal/server"
	"github.com/smallbiznis/intentflow/internal/stream"
	"github.com/smallbiznis/intentflow/internal/tenant"
	"github.com/smallbiznis/intentflow/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
)

func main() {
	app := fx.New(
		fx.WithLogger(func(log *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: log.Named("fx")}
		}),

		// Core Infrastructure
		config.Module,
		observability.Module,
		clock.Module,
		db.Module,
		migration.Module,
		cache.Module,

		// Pipeline
		tenant.Module,
		metrics.Module,
		ratelimit.Module,
		stream.Module,
		scoring.Module,
		provisioning.Module,
		orchestrator.Module,

		server.Module,
	)
	app.Run()
}
