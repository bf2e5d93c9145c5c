package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/studkg/cashier/docs"
	"github.com/studkg/cashier/internal/app/api/handlers"
	mw "github.com/studkg/cashier/internal/app/api/middleware"
	nh "github.com/studkg/cashier/internal/app/service/notification_handler"
	"github.com/studkg/cashier/internal/app/service/payment"
	"github.com/studkg/cashier/internal/app/service/referral"
	"github.com/studkg/cashier/internal/app/service/statistics"
	cfgpkg "github.com/studkg/cashier/pkg/config"
	metrics "github.com/studkg/cashier/pkg/metrics"
)

const defaultWebhookPath = "/webhooks/finik"

func newEngine() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	// request logger & access log are attached per group in registerRoutes
	r.Use(mw.TraceMiddleware(), mw.UserMiddleware())
	return r
}

type routeParams struct {
	fx.In

	Engine       *gin.Engine
	Log          *zap.SugaredLogger
	Config       *cfgpkg.Config
	DB           *gorm.DB
	Notification *nh.NotificationHandler
	Payments     *payment.Service
	Referrals    *referral.Service
	Stats        *statistics.Service
	Lifecycle    fx.Lifecycle
}

func registerRoutes(p routeParams) {
	r, log, cfg := p.Engine, p.Log, p.Config

	if cfg.MetricsAddr != "" {
		prom := metrics.NewPrometheus(metrics.NewPrometheusOptions{
			ReqCntURLLabelMappingFn: func(c *gin.Context) string {
				if fp := c.FullPath(); fp != "" {
					return fp
				}
				return "unmatched"
			},
			Logger: log,
		})
		prom.SetListenAddress(cfg.MetricsAddr)
		prom.Use(r)
		p.Lifecycle.Append(fx.Hook{
			OnStart: func(context.Context) error {
				prom.Start()
				log.Infow("metrics started", "addr", cfg.MetricsAddr)
				return nil
			},
			OnStop: prom.Shutdown,
		})
	}

	pub := r.Group("/")
	pub.Use(mw.RequestLoggerMiddleware(log), mw.AccessLogMiddleware())
	handlers.RegisterHealthRoutes(pub, p.DB)
	docs.SwaggerInfo.BasePath = "/"
	pub.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	webhookPath := cfg.Finik.WebhookPath
	if webhookPath == "" {
		webhookPath = defaultWebhookPath
	}
	handlers.RegisterWebhookRoutes(pub, webhookPath, p.Notification)

	apiV1 := r.Group("/api/v1")
	apiV1.Use(mw.RequestLoggerMiddleware(log), mw.AccessLogMiddleware())
	handlers.RegisterPaymentRoutes(apiV1.Group("/payment"), p.Payments, log)
	handlers.RegisterReferralRoutes(apiV1.Group("/referral"), p.Referrals)
	// admin access is enforced by the upstream proxy
	handlers.RegisterAdminRoutes(apiV1.Group("/admin"), p.Stats, p.Referrals, log)
}

func runServer(lc fx.Lifecycle, log *zap.SugaredLogger, cfg *cfgpkg.Config, r *gin.Engine) {
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{Addr: addr, Handler: r, ReadHeaderTimeout: 5 * time.Second}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			log.Infow("starting HTTP server", "addr", addr)
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Errorf("server error: %v", err)
					panic(err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			log.Infow("stopping HTTP server")
			shutdownCtx, cancel := context.WithTimeout(ctx, 120*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

var Module = fx.Options(
	fx.Provide(newEngine),
	fx.Invoke(registerRoutes),
	fx.Invoke(runServer),
)
