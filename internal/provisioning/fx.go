package provisioning

import (
	"context"

	"github.com/smallbiznis/intentflow/internal/config"
	"github.com/smallbiznis/intentflow/internal/scoring/client"
	tenantdomain "github.com/smallbiznis/intentflow/internal/tenant/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("provisioning.workflow",
	fx.Provide(provideRegistry),
	fx.Provide(func(c *client.Client) Trainer { return c }),
	fx.Provide(New),
	fx.Provide(func(w *Workflow) tenantdomain.Provisioner { return w }),
)

func provideRegistry(cfg config.Config, log *zap.Logger) (Registry, error) {
	if cfg.Provisioning.S3Bucket == "" {
		log.Named("provisioning.workflow").Info("no model bucket configured, using in-memory registry")
		return NewMemoryRegistry(), nil
	}
	return NewS3Registry(context.Background(), cfg.Provisioning)
}
