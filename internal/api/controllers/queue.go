package controllers

import (
	"net/http"

	"github.com/grabd/grabd/internal/engine"
	"github.com/labstack/echo/v5"
)

type QueueController struct {
	Manager *engine.QueueManager
}

func (ctrl *QueueController) Status(c *echo.Context) error {
	return c.JSON(http.StatusOK, QueueStatus{
		Limit:   ctrl.Manager.ConcurrencyLimit(),
		Running: ctrl.Manager.RunningCount(),
	})
}

func (ctrl *QueueController) SetConcurrency(c *echo.Context) error {
	var req ConcurrencyRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
	}
	if err := ctrl.Manager.SetConcurrencyLimit(req.Limit); err != nil {
		return jobError(c, err)
	}
	return c.JSON(http.StatusOK, QueueStatus{
		Limit:   ctrl.Manager.ConcurrencyLimit(),
		Running: ctrl.Manager.RunningCount(),
	})
}
