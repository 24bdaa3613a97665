package api

import (
	"github.com/grabd/grabd/internal/api/controllers"
	"github.com/grabd/grabd/internal/app"
	"github.com/grabd/grabd/internal/engine"
	"github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"
)

func RegisterRoutes(e *echo.Echo, app *app.Context, manager *engine.QueueManager) {

	// Middleware: Request Logger
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:  true,
		LogURI:     true,
		LogMethod:  true,
		LogLatency: true,
		LogValuesFunc: func(c *echo.Context, v middleware.RequestLoggerValues) error {
			app.Logger.Info("%s %s | %d | %s", v.Method, v.URI, v.Status, v.Latency)
			return nil
		},
	}))

	jobsCtrl := &controllers.JobsController{Manager: manager}
	queueCtrl := &controllers.QueueController{Manager: manager}
	eventsCtrl := &controllers.EventsController{Manager: manager}

	e.POST("/api/jobs", jobsCtrl.Submit)
	e.GET("/api/jobs", jobsCtrl.List)
	e.GET("/api/jobs/:id", jobsCtrl.Get)
	e.DELETE("/api/jobs/:id", jobsCtrl.Remove)

	e.GET("/api/jobs/:id/variants", jobsCtrl.Variants)
	e.POST("/api/jobs/:id/select", jobsCtrl.Select)

	e.POST("/api/jobs/:id/pause", jobsCtrl.Pause)
	e.POST("/api/jobs/:id/resume", jobsCtrl.Resume)
	e.POST("/api/jobs/:id/cancel", jobsCtrl.Cancel)
	e.POST("/api/jobs/:id/retry", jobsCtrl.Retry)
	e.POST("/api/jobs/:id/reorder", jobsCtrl.Reorder)

	e.GET("/api/queue", queueCtrl.Status)
	e.PUT("/api/queue/concurrency", queueCtrl.SetConcurrency)

	// Live transition and progress stream (SSE)
	e.GET("/api/events", eventsCtrl.Stream)
}
