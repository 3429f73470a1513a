package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	attributiondomain "github.com/smallbiznis/loyaltyrail/internal/attribution/domain"
	attributionservice "github.com/smallbiznis/loyaltyrail/internal/attribution/service"
	"github.com/smallbiznis/loyaltyrail/internal/auth/token"
	"github.com/smallbiznis/loyaltyrail/internal/config"
	merchantservice "github.com/smallbiznis/loyaltyrail/internal/merchant/service"
	"github.com/smallbiznis/loyaltyrail/internal/observability"
	obslogger "github.com/smallbiznis/loyaltyrail/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/loyaltyrail/internal/observability/metrics"
	obstracing "github.com/smallbiznis/loyaltyrail/internal/observability/tracing"
	"github.com/smallbiznis/loyaltyrail/internal/ratelimit"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	token.Module,
	ratelimit.Module,
	fx.Provide(registerGin),
	fx.Provide(NewServer),
	fx.Invoke(func(*Server) {}),
	fx.Invoke(run),
)

// WebhookIngester processes one platform delivery.
type WebhookIngester interface {
	Ingest(ctx context.Context, req merchantservice.Request) (merchantservice.Result, error)
}

// ArrivalRecorder stores referral arrivals.
type ArrivalRecorder interface {
	RecordArrival(ctx context.Context, in attributiondomain.Arrival) (attributiondomain.Touchpoint, bool, error)
}

type TokenVerifier interface {
	Verify(raw string) (*token.Claims, error)
}

// RateLimiter throttles authenticated API callers.
type RateLimiter interface {
	Allow(ctx context.Context, key string) (ratelimit.Result, error)
}

func NewEngine(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obslogger.GinMiddleware(obslogger.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(obsmetrics.GinMiddleware(httpMetrics))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(cfg config.Config, obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	return NewEngine(obsCfg, httpMetrics)
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine, log *zap.Logger) {
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Fatal("http.server.failed", zap.Error(err))
				}
			}()
			log.Info("http.server.started", zap.String("addr", cfg.HTTPAddr))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type ServerParams struct {
	fx.In

	Gin      *gin.Engine
	Cfg      config.Config
	Log      *zap.Logger
	Webhooks *merchantservice.Service
	Arrivals *attributionservice.Service
	Tokens   *token.Verifier
	Limiter  *ratelimit.Limiter
}

type Server struct {
	engine   *gin.Engine
	cfg      config.Config
	log      *zap.Logger
	webhooks WebhookIngester
	arrivals ArrivalRecorder
	tokens   TokenVerifier
	limiter  RateLimiter
}

func NewServer(p ServerParams) *Server {
	return New(p.Gin, p.Cfg, p.Log, p.Webhooks, p.Arrivals, p.Tokens, p.Limiter)
}

// New registers the routes on engine. A nil limiter disables throttling.
func New(engine *gin.Engine, cfg config.Config, log *zap.Logger, webhooks WebhookIngester, arrivals ArrivalRecorder, tokens TokenVerifier, limiter RateLimiter) *Server {
	svc := &Server{
		engine:   engine,
		cfg:      cfg,
		log:      log.Named("http.server"),
		webhooks: webhooks,
		arrivals: arrivals,
		tokens:   tokens,
		limiter:  limiter,
	}

	svc.registerWebhookRoutes()
	svc.registerAPIRoutes()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerWebhookRoutes() {
	hooks := s.engine.Group("/webhooks")

	hooks.POST("/shopify/:merchantId", s.HandleShopifyWebhook)
	hooks.POST("/woocommerce/:merchantId", s.HandleWooCommerceWebhook)
	hooks.POST("/custom/:identifier", s.HandleCustomWebhook)
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/api", s.BearerAuth(), s.RateLimit())

	api.POST("/referrals/arrivals", s.RecordArrival)
}
