package orchestrator

import (
	"github.com/smallbiznis/intentflow/internal/cache"
	"github.com/smallbiznis/intentflow/internal/provisioning"
	"github.com/smallbiznis/intentflow/internal/ratelimit"
	"github.com/smallbiznis/intentflow/internal/stream"
	"go.uber.org/fx"
)

var Module = fx.Module("orchestrator",
	fx.Provide(
		func(l *ratelimit.Limiter) RateLimiter { return l },
		func(s *stream.Stream) EventAppender { return s },
		func(c *cache.SessionCache) SessionTracker { return c },
		func(w *provisioning.Workflow) ModelProvisioner { return w },
	),
	fx.Provide(New),
)
