// Package api assembles the operations HTTP server.
package api

import (
	"net/http"

	sentryecho "github.com/getsentry/sentry-go/echo"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jordanlanch/leadguard/pkg/api/handlers"
	"github.com/jordanlanch/leadguard/pkg/logger"
	"github.com/jordanlanch/leadguard/pkg/metrics"
	custommiddleware "github.com/jordanlanch/leadguard/pkg/middleware"
)

// Server holds everything the ops server routes to. Events is optional.
type Server struct {
	Lifecycle *handlers.LeadLifecycleHandler
	Jobs      *handlers.JobsHandler
	Health    *handlers.HealthHandler
	Events    *handlers.EventsHandler

	Metrics  *metrics.Metrics
	Gatherer prometheus.Gatherer

	// OpsToken guards /api/v1. Empty disables the check.
	OpsToken string
	// TriggerLimiter throttles manual job runs per caller and job.
	TriggerLimiter *custommiddleware.RateLimiter
	Sentry         bool
	Log            logger.Logger
}

// NewEcho builds the echo instance with middleware and routes.
func (s Server) NewEcho() *echo.Echo {
	log := s.Log
	if log == nil {
		log = logger.Nop()
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(echomw.RequestLoggerWithConfig(echomw.RequestLoggerConfig{
		LogStatus: true,
		LogURI:    true,
		LogMethod: true,
		LogError:  true,
		LogValuesFunc: func(c echo.Context, v echomw.RequestLoggerValues) error {
			log.Debug("request", "method", v.Method, "uri", v.URI, "status", v.Status)
			return nil
		},
	}))
	e.Use(echomw.Recover())
	if s.Sentry {
		e.Use(sentryecho.New(sentryecho.Options{
			Repanic: true, // let Recover answer after capture
		}))
	}
	if s.Metrics != nil {
		e.Use(s.Metrics.Middleware())
	}
	e.Use(custommiddleware.SecurityHeaders(custommiddleware.SecurityHeadersConfig{}))

	e.GET("/health", s.Health.Health)
	if s.Gatherer != nil {
		e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(s.Gatherer, promhttp.HandlerOpts{})))
	}

	v1 := e.Group("/api/v1", custommiddleware.RequireOpsToken(s.OpsToken))
	v1.GET("/ping", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"message": "pong"})
	})

	trigger := []echo.MiddlewareFunc{}
	if s.TriggerLimiter != nil {
		trigger = append(trigger, s.TriggerLimiter.RateLimitMiddleware())
	}
	v1.GET("/jobs", s.Jobs.ListJobs)
	v1.POST("/jobs/:name/run", s.Jobs.TriggerJob, trigger...)

	leads := v1.Group("/leads")
	leads.POST("", s.Lifecycle.Register)
	leads.GET("/status-counts", s.Lifecycle.GetStatusCounts)
	leads.GET("/:id/protection", s.Lifecycle.GetProtectionStatus)
	leads.GET("/:id/status-history", s.Lifecycle.GetLeadStatusHistory)
	leads.POST("/:id/activity", s.Lifecycle.RecordActivity)
	leads.POST("/:id/stage", s.Lifecycle.AdvanceStage)
	leads.POST("/:id/clock/stop", s.Lifecycle.StopClock)
	leads.POST("/:id/clock/resume", s.Lifecycle.ResumeClock)
	leads.POST("/:id/convert", s.Lifecycle.Convert)
	leads.POST("/:id/expire", s.Lifecycle.Expire, trigger...)

	if s.Events != nil {
		v1.GET("/events/recent", s.Events.ListRecent)
	}

	return e
}
