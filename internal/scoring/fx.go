package scoring

import (
	"github.com/smallbiznis/intentflow/internal/scoring/client"
	scoringdomain "github.com/smallbiznis/intentflow/internal/scoring/domain"
	"github.com/smallbiznis/intentflow/internal/scoring/service"
	"go.uber.org/fx"
)

var Module = fx.Module("scoring.service",
	fx.Provide(client.New),
	fx.Provide(
		func(c *client.Client) scoringdomain.FeatureExtractor { return c },
		func(c *client.Client) scoringdomain.ClusterPredictor { return c },
		func(c *client.Client) scoringdomain.IntentPredictor { return c },
	),
	fx.Provide(service.New),
)
