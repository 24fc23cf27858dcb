package handlers

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"

	apierrors "github.com/jordanlanch/leadguard/pkg/api/errors"
	"github.com/jordanlanch/leadguard/pkg/jobs"
	"github.com/jordanlanch/leadguard/pkg/logger"
)

// JobScheduler runs and lists maintenance jobs.
type JobScheduler interface {
	RunNow(ctx context.Context, name string) (int, error)
	Entries() []jobs.Entry
}

// JobsHandler handles maintenance job endpoints
type JobsHandler struct {
	scheduler JobScheduler
	names     []string
	log       logger.Logger
}

// NewJobsHandler creates a new jobs handler. names lists every job that can
// be triggered, scheduled or not.
func NewJobsHandler(scheduler JobScheduler, names []string, log logger.Logger) *JobsHandler {
	if log == nil {
		log = logger.Nop()
	}
	return &JobsHandler{
		scheduler: scheduler,
		names:     names,
		log:       log,
	}
}

// ListJobs godoc
// @Summary List maintenance jobs
// @Description Lists every maintenance job and the cron schedule of those that are scheduled.
// @Tags Jobs
// @Produce json
// @Security BearerAuth
// @Success 200 {object} map[string]interface{}
// @Router /api/v1/jobs [get]
func (h *JobsHandler) ListJobs(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"jobs":      h.names,
		"schedules": h.scheduler.Entries(),
	})
}

// TriggerJob godoc
// @Summary Run a maintenance job now
// @Description Runs one invocation of the named job and returns the number of leads or import jobs it transitioned.
// @Tags Jobs
// @Produce json
// @Security BearerAuth
// @Param name path string true "Job name"
// @Success 200 {object} map[string]interface{}
// @Failure 404 {object} apierrors.ErrorResponse "Unknown job"
// @Failure 429 {object} map[string]interface{} "Rate limited"
// @Failure 500 {object} apierrors.ErrorResponse
// @Router /api/v1/jobs/{name}/run [post]
func (h *JobsHandler) TriggerJob(c echo.Context) error {
	name := c.Param("name")

	count, err := h.scheduler.RunNow(c.Request().Context(), name)
	if err != nil {
		return apierrors.Respond(c, h.log, err)
	}

	h.log.Info("maintenance job triggered manually", "job", name, "count", count)
	return c.JSON(http.StatusOK, map[string]interface{}{
		"job":   name,
		"count": count,
	})
}
