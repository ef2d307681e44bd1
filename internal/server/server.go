package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	commissiondomain "github.com/smallbiznis/uplink/internal/commission/domain"
	"github.com/smallbiznis/uplink/internal/config"
	networkdomain "github.com/smallbiznis/uplink/internal/network/domain"
	"github.com/smallbiznis/uplink/internal/observability"
	obsmiddleware "github.com/smallbiznis/uplink/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/uplink/internal/observability/metrics"
	obstracing "github.com/smallbiznis/uplink/internal/observability/tracing"
	qualificationdomain "github.com/smallbiznis/uplink/internal/qualification/domain"
	"github.com/smallbiznis/uplink/internal/ratelimit"
	rewarddomain "github.com/smallbiznis/uplink/internal/reward/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("http.server",
	ratelimit.Module,
	fx.Provide(registerGin),
	fx.Provide(NewServer),
	fx.Invoke(run),
)

func NewEngine(debug bool) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
		Debug:           debug,
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(ErrorHandlingMiddleware())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(obsCfg observability.Config) *gin.Engine {
	if !obsCfg.Debug() {
		gin.SetMode(gin.ReleaseMode)
	}
	return NewEngine(obsCfg.Debug())
}

func run(lc fx.Lifecycle, cfg config.Config, log *zap.Logger, s *Server) {
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           s.Engine(),
		ReadHeaderTimeout: 10 * time.Second,
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
	engine           *gin.Engine
	cfg              config.Config
	db               *gorm.DB
	networkSvc       networkdomain.Service
	commissionSvc    commissiondomain.Service
	qualificationSvc qualificationdomain.Service
	rewardSvc        rewarddomain.Service
	ingestLimiter    *ratelimit.TransactionIngestLimiter
	obsMetrics       *obsmetrics.Metrics
}

type ServerParams struct {
	fx.In

	Gin              *gin.Engine
	Cfg              config.Config
	DB               *gorm.DB `optional:"true"`
	NetworkSvc       networkdomain.Service
	CommissionSvc    commissiondomain.Service
	QualificationSvc qualificationdomain.Service
	RewardSvc        rewarddomain.Service
	IngestLimiter    *ratelimit.TransactionIngestLimiter `optional:"true"`
	ObsMetrics       *obsmetrics.Metrics                 `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:           p.Gin,
		cfg:              p.Cfg,
		db:               p.DB,
		networkSvc:       p.NetworkSvc,
		commissionSvc:    p.CommissionSvc,
		qualificationSvc: p.QualificationSvc,
		rewardSvc:        p.RewardSvc,
		ingestLimiter:    p.IngestLimiter,
		obsMetrics:       p.ObsMetrics,
	}

	svc.registerHealthRoutes()
	svc.registerAPIRoutes()
	svc.registerAdminRoutes()
	svc.registerFallback()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerHealthRoutes() {
	s.engine.GET("/healthz", s.Healthz)
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/v1")

	// -------- Transactions --------
	api.POST("/transactions", s.TransactionIngestRateLimit(), s.ProcessTransaction)

	// -------- Members --------
	api.POST("/members", s.RegisterMember)
	api.GET("/members/:id", s.GetMember)
	api.GET("/members/:id/upline", s.GetUpline)
	api.GET("/members/:id/tier-history", s.ListTierHistory)
	api.GET("/members/:id/qualification", s.GetQualificationState)
	api.GET("/members/:id/commissions", s.ListMemberCommissions)
	api.GET("/members/:id/balance", s.GetMemberBalance)
	api.GET("/members/:id/rewards", s.ListMemberRewards)

	// -------- Commissions --------
	api.GET("/commissions/:id", s.GetCommission)
}

func (s *Server) registerAdminRoutes() {
	admin := s.engine.Group("/v1/admin")
	admin.Use(AdminActorRequired())

	// -------- Commissions --------
	admin.POST("/commissions/:id/adjust", s.AdjustCommission)
	admin.POST("/commissions/:id/approve", s.ApproveCommission)
	admin.POST("/commissions/:id/reject", s.RejectCommission)

	// -------- Members --------
	admin.PUT("/members/:id/subscription", s.SetSubscriptionStatus)
	admin.POST("/members/:id/qualification/evaluate", s.EvaluateQualification)

	// -------- Rewards --------
	admin.POST("/rewards/:code/members/:id/evaluate", s.EvaluateRewardEligibility)
	admin.GET("/rewards/:code/inventory", s.GetRewardInventory)
	admin.POST("/rewards/:code/restock", s.RestockReward)
	admin.GET("/reward-allocations/:id", s.GetRewardAllocation)
	admin.POST("/reward-allocations/:id/maintenance", s.CheckRewardMaintenance)
	admin.POST("/reward-allocations/:id/deliver", s.MarkRewardDelivered)
	admin.POST("/reward-allocations/:id/transfer", s.TransferRewardOwnership)
	admin.POST("/reward-allocations/:id/revoke", s.RevokeReward)
}

func (s *Server) registerFallback() {
	s.engine.NoRoute(func(c *gin.Context) {
		AbortWithError(c, ErrNotFound)
	})
}

// Healthz reports whether the database answers.
func (s *Server) Healthz(c *gin.Context) {
	if s.db != nil {
		sqlDB, err := s.db.DB()
		if err == nil {
			ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
			err = sqlDB.PingContext(ctx)
			cancel()
		}
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
