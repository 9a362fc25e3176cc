package api

import (
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/parcelbroker/parcelbroker/acceptance"
	"github.com/parcelbroker/parcelbroker/capacity"
	"github.com/parcelbroker/parcelbroker/config"
	"github.com/parcelbroker/parcelbroker/fairness"
	"github.com/parcelbroker/parcelbroker/matching"
	"github.com/parcelbroker/parcelbroker/util"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type apiV1 struct {
	cfg       *config.ParcelBroker
	db        *gorm.DB
	tracer    trace.Tracer
	matcher   matching.IManager
	acceptMgr acceptance.IManager
	gate      capacity.IGate
	index     fairness.Index
	registry  *prometheus.Registry
	log       *zap.SugaredLogger
}

func NewAPIV1(
	cfg *config.ParcelBroker,
	db *gorm.DB,
	matcher matching.IManager,
	acceptMgr acceptance.IManager,
	gate capacity.IGate,
	index fairness.Index,
	registry *prometheus.Registry,
	log *zap.SugaredLogger,
) *apiV1 {
	return &apiV1{
		cfg:       cfg,
		db:        db,
		tracer:    otel.Tracer("api_v1"),
		matcher:   matcher,
		acceptMgr: acceptMgr,
		gate:      gate,
		index:     index,
		registry:  registry,
		log:       log,
	}
}

func (s *apiV1) RegisterRoutes(e *echo.Echo) {
	e.HTTPErrorHandler = util.ErrorHandler
	e.Use(middleware.Recover())
	if s.cfg.Logging.ApiEndpointLogging {
		e.Use(middleware.Logger())
	}

	e.GET("/health", s.handleHealth)
	e.GET("/debug/metrics/prometheus", echo.WrapHandler(
		promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})))

	v1 := e.Group("/v1")
	v1.POST("/requests", s.handleCreateRequest)
	v1.GET("/requests/:id", s.handleGetRequest)
	v1.POST("/requests/:id/match", s.handleMatchRequest)
	v1.GET("/requests/:id/responses", s.handleListResponses)
	v1.POST("/responses/:id/accept", s.handlePartyAction(acceptance.ActionAccept))
	v1.POST("/responses/:id/reject", s.handlePartyAction(acceptance.ActionReject))
	v1.GET("/deliverers/:id/capacity", s.handleCapacityInfo)

	admin := v1.Group("/admin")
	admin.POST("/fairness/reset", s.handleResetFairnessIndex)
}
