package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/intentflow/internal/config"
	"github.com/smallbiznis/intentflow/internal/observability"
	obsmiddleware "github.com/smallbiznis/intentflow/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/intentflow/internal/observability/metrics"
	obstracing "github.com/smallbiznis/intentflow/internal/observability/tracing"
	"github.com/smallbiznis/intentflow/internal/orchestrator"
	"github.com/smallbiznis/intentflow/internal/ratelimit"
	tenantdomain "github.com/smallbiznis/intentflow/internal/tenant/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	Routes,
	fx.Invoke(run),
)

// Routes builds the engine and registers every route without listening.
var Routes = fx.Options(
	fx.Provide(registerGin),
	fx.Provide(func(o *orchestrator.Orchestrator) Orchestrator { return o }),
	fx.Invoke(NewServer),
)

// Orchestrator is the slice of the event pipeline the HTTP surface drives.
type Orchestrator interface {
	Process(ctx context.Context, apiKey string, req orchestrator.EventRequest) *orchestrator.ProcessResult
	GetUserInsights(ctx context.Context, apiKey, anonID, window string) (*orchestrator.Insights, error)
	GetDashboard(ctx context.Context, apiKey, window string) (*orchestrator.Dashboard, error)
	CreateTenant(ctx context.Context, req tenantdomain.CreateRequest) (*orchestrator.Provisioned, error)
}

func NewEngine(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(httpMetrics.GinMiddleware())
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", httpMetrics.Handler())

	return r
}

func registerGin(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	if !obsCfg.Debug() {
		gin.SetMode(gin.ReleaseMode)
	}
	return NewEngine(obsCfg, httpMetrics)
}

func run(lc fx.Lifecycle, r *gin.Engine, cfg config.Config, log *zap.Logger) {
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Fatal("http server stopped", zap.Error(err))
				}
			}()
			log.Info("http server listening", zap.String("addr", cfg.HTTPAddr))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine        *gin.Engine
	cfg           config.Config
	orchestrator  Orchestrator
	tenantSvc     tenantdomain.Service
	createLimiter *ratelimit.TenantCreateLimiter
}

type ServerParams struct {
	fx.In

	Gin           *gin.Engine
	Cfg           config.Config
	Orchestrator  Orchestrator
	TenantSvc     tenantdomain.Service
	CreateLimiter *ratelimit.TenantCreateLimiter `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:        p.Gin,
		cfg:           p.Cfg,
		orchestrator:  p.Orchestrator,
		tenantSvc:     p.TenantSvc,
		createLimiter: p.CreateLimiter,
	}

	svc.registerAPIRoutes()
	svc.registerAdminRoutes()
	svc.registerFallback()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/v1", s.APIKeyRequired())

	api.POST("/events", s.IngestEvent)
	api.GET("/insights", s.GetInsights)
	api.GET("/dashboard", s.GetDashboard)
}

func (s *Server) registerAdminRoutes() {
	admin := s.engine.Group("/v1/tenants", s.AdminRequired())

	admin.GET("", s.ListTenants)
	admin.POST("", s.TenantCreateRateLimit(), s.CreateTenant)
	admin.POST("/:apiKey/suspend", s.SuspendTenant)
	admin.POST("/:apiKey/reactivate", s.ReactivateTenant)
	admin.PUT("/:apiKey/plan", s.ChangeTenantPlan)
}

func (s *Server) registerFallback() {
	s.engine.NoRoute(func(c *gin.Context) {
		AbortWithError(c, ErrNotFound)
	})
}
