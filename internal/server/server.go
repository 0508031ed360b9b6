package server

import (
	"context"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/payflow-io/payflow/internal/apikey"
	apikeydomain "github.com/payflow-io/payflow/internal/apikey/domain"
	"github.com/payflow-io/payflow/internal/audit"
	auditdomain "github.com/payflow-io/payflow/internal/audit/domain"
	"github.com/payflow-io/payflow/internal/authorization"
	"github.com/payflow-io/payflow/internal/config"
	"github.com/payflow-io/payflow/internal/intent"
	intentdomain "github.com/payflow-io/payflow/internal/intent/domain"
	"github.com/payflow-io/payflow/internal/migration"
	"github.com/payflow-io/payflow/internal/observability"
	obsmiddleware "github.com/payflow-io/payflow/internal/observability/logger"
	obsmetrics "github.com/payflow-io/payflow/internal/observability/metrics"
	obstracing "github.com/payflow-io/payflow/internal/observability/tracing"
	"github.com/payflow-io/payflow/internal/processor"
	processordomain "github.com/payflow-io/payflow/internal/processor/domain"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Options(
	fx.Provide(registerGin),
	migration.Module,
	apikey.Module,
	audit.Module,
	authorization.Module,
	processor.Module,
	intent.Module,
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
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

func registerGin(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	return NewEngine(obsCfg, httpMetrics)
}

func run(lc fx.Lifecycle, r *gin.Engine, cfg config.Config) {
	addr := cfg.HTTPAddr
	if addr == "" {
		addr = ":8080"
	}
	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					panic(err)
				}
			}()
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
	engine         *gin.Engine
	cfg            config.Config
	db             *gorm.DB
	genID          *snowflake.Node
	apiKeySvc      apikeydomain.Service
	authzSvc       authorization.Authorizer
	auditSvc       auditdomain.Service
	intentSvc      intentdomain.Service
	webhookAdapter processordomain.WebhookAdapter
	obsMetrics     *obsmetrics.Metrics
}

type ServerParams struct {
	fx.In

	Gin            *gin.Engine
	Cfg            config.Config
	DB             *gorm.DB
	GenID          *snowflake.Node
	APIKeySvc      apikeydomain.Service
	AuthzSvc       authorization.Authorizer
	AuditSvc       auditdomain.Service
	IntentSvc      intentdomain.Service
	WebhookAdapter processordomain.WebhookAdapter
	ObsMetrics     *obsmetrics.Metrics `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:         p.Gin,
		cfg:            p.Cfg,
		db:             p.DB,
		genID:          p.GenID,
		apiKeySvc:      p.APIKeySvc,
		authzSvc:       p.AuthzSvc,
		auditSvc:       p.AuditSvc,
		intentSvc:      p.IntentSvc,
		webhookAdapter: p.WebhookAdapter,
		obsMetrics:     p.ObsMetrics,
	}

	svc.registerAPIRoutes()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/api")

	// -------- Payment Intents --------
	api.POST("/payments", s.APIKeyRequired(), s.CreatePaymentIntent)
	api.GET("/payments", s.APIKeyRequired(), s.ListPaymentIntents)
	api.GET("/payments/:id", s.APIKeyRequired(), s.GetPaymentIntentByID)
	api.PATCH("/payments/:id/status", s.APIKeyRequired(), s.UpdatePaymentIntentStatus)
	api.PATCH("/payments/:id/sync", s.APIKeyRequired(), s.SyncPaymentIntentStatus)

	// -------- Payment Webhooks --------
	api.POST("/payments/webhooks/:provider", s.HandlePaymentWebhook)

	// -------- API Keys --------
	api.GET("/api-keys", s.APIKeyRequired(), s.ListAPIKeys)
	api.POST("/api-keys", s.APIKeyRequired(), s.CreateAPIKey)
	api.POST("/api-keys/:key_id/rotate", s.APIKeyRequired(), s.RotateAPIKey)
	api.POST("/api-keys/:key_id/revoke", s.APIKeyRequired(), s.RevokeAPIKey)

	// -------- Audit Logs --------
	api.GET("/audit-logs", s.APIKeyRequired(), s.ListAuditLogs)
}
