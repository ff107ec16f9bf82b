package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	archivedomain "github.com/smallbiznis/stockline/internal/archive/domain"
	auditdomain "github.com/smallbiznis/stockline/internal/audit/domain"
	"github.com/smallbiznis/stockline/internal/authorization"
	catalogdomain "github.com/smallbiznis/stockline/internal/catalog/domain"
	"github.com/smallbiznis/stockline/internal/config"
	datalogdomain "github.com/smallbiznis/stockline/internal/datalog/domain"
	"github.com/smallbiznis/stockline/internal/dispatcher"
	"github.com/smallbiznis/stockline/internal/observability"
	obsmiddleware "github.com/smallbiznis/stockline/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/stockline/internal/observability/metrics"
	obstracing "github.com/smallbiznis/stockline/internal/observability/tracing"
	queuedomain "github.com/smallbiznis/stockline/internal/queue/domain"
	"github.com/smallbiznis/stockline/internal/stationsync"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	fx.Provide(
		func(d *dispatcher.Dispatcher) DispatcherControl { return d },
		func(s *stationsync.Service) StationSyncer { return s },
	),
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
	r.Use(obstracing.GinMiddleware(nil))
	r.Use(httpMetrics.GinMiddleware())
	r.Use(ErrorHandlingMiddleware())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	if !obsCfg.Debug() {
		gin.SetMode(gin.ReleaseMode)
	}
	return NewEngine(obsCfg, httpMetrics)
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine, log *zap.Logger) {
	if !cfg.RunsAPI() {
		log.Info("http server disabled for role", zap.String("role", cfg.Role))
		return
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
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
	engine      *gin.Engine
	db          *gorm.DB
	authzSvc    authorization.Service
	auditSvc    auditdomain.Service
	queueSvc    queuedomain.Service
	archiveSvc  archivedomain.Service
	datalogSvc  datalogdomain.Service
	catalogSvc  catalogdomain.Service
	dispatcher  DispatcherControl
	stationSync StationSyncer
}

type ServerParams struct {
	fx.In

	Gin         *gin.Engine
	DB          *gorm.DB
	AuthzSvc    authorization.Service
	AuditSvc    auditdomain.Service
	QueueSvc    queuedomain.Service
	ArchiveSvc  archivedomain.Service
	DataLogSvc  datalogdomain.Service
	CatalogSvc  catalogdomain.Service
	Dispatcher  DispatcherControl `optional:"true"`
	StationSync StationSyncer
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:      p.Gin,
		db:          p.DB,
		authzSvc:    p.AuthzSvc,
		auditSvc:    p.AuditSvc,
		queueSvc:    p.QueueSvc,
		archiveSvc:  p.ArchiveSvc,
		datalogSvc:  p.DataLogSvc,
		catalogSvc:  p.CatalogSvc,
		dispatcher:  p.Dispatcher,
		stationSync: p.StationSync,
	}

	svc.registerHealthRoutes()
	svc.registerAPIRoutes()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerHealthRoutes() {
	s.engine.GET("/health", s.Health)
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/v1", ActorContext())

	// -------- Queue --------
	queue := api.Group("/queue")
	{
		queue.POST("/items", s.authorize(authorization.ObjectQueue, authorization.ActionQueueEnqueue), s.EnqueueItems)
		queue.GET("/items", s.authorize(authorization.ObjectQueue, authorization.ActionQueueView), s.ListQueueItems)
		queue.GET("/items/:id", s.authorize(authorization.ObjectQueue, authorization.ActionQueueView), s.GetQueueItem)
		queue.POST("/items/:id/retry", s.authorize(authorization.ObjectQueue, authorization.ActionQueueRetry), s.RetryItem)
		queue.DELETE("/items/:id", s.authorize(authorization.ObjectQueue, authorization.ActionQueueDelete), s.DeleteQueueItem)
		queue.GET("/stats", s.authorize(authorization.ObjectQueue, authorization.ActionQueueView), s.QueueStats)
		queue.POST("/retry-failed", s.authorize(authorization.ObjectQueue, authorization.ActionQueueRetry), s.RetryFailed)
		queue.POST("/clear-completed", s.authorize(authorization.ObjectQueue, authorization.ActionQueueClear), s.ClearCompleted)
		queue.GET("/batches/:id", s.authorize(authorization.ObjectQueue, authorization.ActionQueueView), s.GetBatch)
	}

	// -------- Archive --------
	archive := api.Group("/archive")
	{
		archive.GET("/stats", s.authorize(authorization.ObjectArchive, authorization.ActionArchiveView), s.ArchiveStats)
		archive.GET("/:imei", s.authorize(authorization.ObjectArchive, authorization.ActionArchiveView), s.ListArchive)
		archive.POST("/:imei", s.authorize(authorization.ObjectArchive, authorization.ActionArchiveCreate), s.ArchiveDevice)
		archive.POST("/:imei/restore", s.authorize(authorization.ObjectArchive, authorization.ActionArchiveRestore), s.RestoreDevice)
		archive.DELETE("/:imei", s.authorize(authorization.ObjectArchive, authorization.ActionArchiveDelete), s.PermanentlyDeleteArchive)
	}

	// -------- Reporting --------
	api.GET("/datalog/stats", s.authorize(authorization.ObjectDataLog, authorization.ActionDataLogView), s.DataLogStats)
	api.GET("/devices/:imei/history", s.authorize(authorization.ObjectDataLog, authorization.ActionDataLogView), s.DeviceHistory)
	api.GET("/metrics/processing", s.authorize(authorization.ObjectMetrics, authorization.ActionMetricsView), s.ProcessingMetrics)
	api.GET("/audit-logs", s.authorize(authorization.ObjectAuditLog, authorization.ActionAuditLogView), s.ListAuditLogs)

	// -------- Dispatcher --------
	api.GET("/dispatcher", s.authorize(authorization.ObjectDispatcher, authorization.ActionDispatcherView), s.DispatcherStatus)
	api.POST("/dispatcher/stop", s.authorize(authorization.ObjectDispatcher, authorization.ActionDispatcherControl), s.StopDispatcher)
	api.POST("/dispatcher/start", s.authorize(authorization.ObjectDispatcher, authorization.ActionDispatcherControl), s.StartDispatcher)

	// -------- Stations --------
	api.POST("/stations/:station/sync", s.authorize(authorization.ObjectStation, authorization.ActionStationSync), s.SyncStation)

	// -------- Catalog --------
	api.GET("/catalog/keys", s.authorize(authorization.ObjectCatalog, authorization.ActionCatalogView), s.ListCatalogKeys)
	api.POST("/catalog/import", s.authorize(authorization.ObjectCatalog, authorization.ActionCatalogImport), s.ImportCatalog)
}

func (s *Server) Health(c *gin.Context) {
	status := http.StatusOK
	body := gin.H{"status": "ok"}
	if s.db != nil {
		sqlDB, err := s.db.DB()
		if err == nil {
			err = sqlDB.PingContext(c.Request.Context())
		}
		if err != nil {
			status = http.StatusServiceUnavailable
			body = gin.H{"status": "degraded", "database": "unreachable"}
		}
	}
	if s.dispatcher != nil {
		body["dispatcher_running"] = s.dispatcher.Status().Running
	}
	c.JSON(status, body)
}
