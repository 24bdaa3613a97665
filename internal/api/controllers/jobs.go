package controllers

import (
	"errors"
	"net/http"

	"github.com/grabd/grabd/internal/domain"
	"github.com/grabd/grabd/internal/engine"
	"github.com/labstack/echo/v5"
)

type JobsController struct {
	Manager *engine.QueueManager
}

func (ctrl *JobsController) Submit(c *echo.Context) error {
	var req SubmitRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
	}
	if req.URL == "" {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "url is required"})
	}

	job, err := ctrl.Manager.Submit(req.URL)
	if err != nil {
		return jobError(c, err)
	}
	return c.JSON(http.StatusCreated, job)
}

func (ctrl *JobsController) List(c *echo.Context) error {
	return c.JSON(http.StatusOK, ctrl.Manager.List())
}

func (ctrl *JobsController) Get(c *echo.Context) error {
	job, err := ctrl.Manager.Get(c.Param("id"))
	if err != nil {
		return jobError(c, err)
	}
	return c.JSON(http.StatusOK, job)
}

func (ctrl *JobsController) Variants(c *echo.Context) error {
	variants, err := ctrl.Manager.ListVariants(c.Param("id"))
	if err != nil {
		return jobError(c, err)
	}
	return c.JSON(http.StatusOK, variants)
}

func (ctrl *JobsController) Select(c *echo.Context) error {
	var req SelectRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
	}
	if req.VariantID == "" {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "variant_id is required"})
	}
	return ctrl.act(c, ctrl.Manager.SelectVariant(c.Param("id"), req.VariantID))
}

func (ctrl *JobsController) Pause(c *echo.Context) error {
	return ctrl.act(c, ctrl.Manager.Pause(c.Param("id")))
}

func (ctrl *JobsController) Resume(c *echo.Context) error {
	return ctrl.act(c, ctrl.Manager.Resume(c.Param("id")))
}

func (ctrl *JobsController) Cancel(c *echo.Context) error {
	return ctrl.act(c, ctrl.Manager.Cancel(c.Param("id")))
}

func (ctrl *JobsController) Retry(c *echo.Context) error {
	return ctrl.act(c, ctrl.Manager.RetryNow(c.Param("id")))
}

func (ctrl *JobsController) Reorder(c *echo.Context) error {
	var req ReorderRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
	}
	return ctrl.act(c, ctrl.Manager.Reorder(c.Param("id"), req.Position))
}

func (ctrl *JobsController) Remove(c *echo.Context) error {
	if err := ctrl.Manager.Remove(c.Param("id")); err != nil {
		return jobError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// act is the common tail of every state-changing endpoint: on success the
// updated job is returned so clients see the new state without a follow-up
// GET.
func (ctrl *JobsController) act(c *echo.Context, err error) error {
	if err != nil {
		return jobError(c, err)
	}
	job, err := ctrl.Manager.Get(c.Param("id"))
	if err != nil {
		return jobError(c, err)
	}
	return c.JSON(http.StatusOK, job)
}

func jobError(c *echo.Context, err error) error {
	var stateErr *domain.StateError
	switch {
	case errors.Is(err, domain.ErrJobNotFound), errors.Is(err, domain.ErrVariantNotFound):
		return c.JSON(http.StatusNotFound, ErrorResponse{Error: err.Error()})
	case errors.As(err, &stateErr):
		return c.JSON(http.StatusConflict, ErrorResponse{Error: err.Error()})
	case errors.Is(err, domain.ErrInvalidLimit):
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
	case errors.Is(err, domain.ErrShuttingDown):
		return c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: err.Error()})
	default:
		return c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
	}
}
