package handlers

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	apierrors "github.com/jordanlanch/leadguard/pkg/api/errors"
	"github.com/jordanlanch/leadguard/pkg/leadlifecycle"
	"github.com/jordanlanch/leadguard/pkg/logger"
	"github.com/jordanlanch/leadguard/pkg/models"
)

// Expirer expires a single lead on operator request.
type Expirer interface {
	ExpireLead(ctx context.Context, leadID int) error
}

// LeadLifecycleHandler handles lead lifecycle endpoints.
type LeadLifecycleHandler struct {
	service *leadlifecycle.Service
	expirer Expirer
	log     logger.Logger
}

// NewLeadLifecycleHandler creates a new lead lifecycle handler.
func NewLeadLifecycleHandler(service *leadlifecycle.Service, expirer Expirer, log logger.Logger) *LeadLifecycleHandler {
	if log == nil {
		log = logger.Nop()
	}
	return &LeadLifecycleHandler{
		service: service,
		expirer: expirer,
		log:     log,
	}
}

// ActorRequest identifies the user acting on a lead.
type ActorRequest struct {
	UserID *int `json:"user_id,omitempty"`
}

// StageRequest names the target profiling stage.
type StageRequest struct {
	Stage int `json:"stage"`
}

// StopClockRequest explains why protection is paused.
type StopClockRequest struct {
	Reason     string `json:"reason"`
	ApprovedBy *int   `json:"approved_by,omitempty"`
}

func leadID(c echo.Context) (int, bool) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

func invalidID(c echo.Context) error {
	return apierrors.BadRequest(c, "invalid_id", "Invalid lead ID")
}

func invalidBody(c echo.Context) error {
	return apierrors.BadRequest(c, "invalid_request", "Invalid request body")
}

// Register godoc
// @Summary Register a lead
// @Description Registers a lead for protection. Protection starts at registration and lasts six months unless configured otherwise.
// @Tags Leads
// @Accept json
// @Produce json
// @Param request body leadlifecycle.RegisterRequest true "Lead"
// @Success 201 {object} models.Lead
// @Failure 400 {object} apierrors.ErrorResponse
// @Security BearerAuth
// @Router /api/v1/leads [post]
func (h *LeadLifecycleHandler) Register(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	var req leadlifecycle.RegisterRequest
	if err := c.Bind(&req); err != nil {
		return invalidBody(c)
	}

	l, err := h.service.Register(ctx, req)
	if err != nil {
		return apierrors.Respond(c, h.log, err)
	}
	return c.JSON(http.StatusCreated, l)
}

// RecordActivity godoc
// @Summary Record sales activity
// @Description Records progress on a lead, moving its progress deadline and clearing a pending warning.
// @Tags Leads
// @Accept json
// @Produce json
// @Param id path int true "Lead ID"
// @Success 200 {object} models.Lead
// @Failure 404 {object} apierrors.ErrorResponse
// @Failure 422 {object} apierrors.ErrorResponse
// @Security BearerAuth
// @Router /api/v1/leads/{id}/activity [post]
func (h *LeadLifecycleHandler) RecordActivity(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	id, ok := leadID(c)
	if !ok {
		return invalidID(c)
	}
	var req ActorRequest
	if err := c.Bind(&req); err != nil {
		return invalidBody(c)
	}

	l, err := h.service.RecordActivity(ctx, id, req.UserID)
	if err != nil {
		return apierrors.Respond(c, h.log, err)
	}
	return c.JSON(http.StatusOK, l)
}

// AdvanceStage godoc
// @Summary Advance profiling stage
// @Tags Leads
// @Accept json
// @Produce json
// @Param id path int true "Lead ID"
// @Param request body StageRequest true "Target stage"
// @Success 200 {object} models.Lead
// @Failure 422 {object} apierrors.ErrorResponse
// @Security BearerAuth
// @Router /api/v1/leads/{id}/stage [post]
func (h *LeadLifecycleHandler) AdvanceStage(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	id, ok := leadID(c)
	if !ok {
		return invalidID(c)
	}
	var req StageRequest
	if err := c.Bind(&req); err != nil {
		return invalidBody(c)
	}
	stage := models.LeadStage(req.Stage)
	if !stage.Valid() {
		return apierrors.BadRequest(c, "invalid_stage", "Stage must be 0, 1 or 2")
	}

	l, err := h.service.AdvanceStage(ctx, id, stage)
	if err != nil {
		return apierrors.Respond(c, h.log, err)
	}
	return c.JSON(http.StatusOK, l)
}

// StopClock godoc
// @Summary Stop the protection clock
// @Tags Leads
// @Accept json
// @Produce json
// @Param id path int true "Lead ID"
// @Param request body StopClockRequest true "Reason"
// @Success 200 {object} models.Lead
// @Failure 400 {object} apierrors.ErrorResponse
// @Failure 422 {object} apierrors.ErrorResponse
// @Security BearerAuth
// @Router /api/v1/leads/{id}/clock/stop [post]
func (h *LeadLifecycleHandler) StopClock(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	id, ok := leadID(c)
	if !ok {
		return invalidID(c)
	}
	var req StopClockRequest
	if err := c.Bind(&req); err != nil {
		return invalidBody(c)
	}

	l, err := h.service.StopClock(ctx, id, req.Reason, req.ApprovedBy)
	if err != nil {
		return apierrors.Respond(c, h.log, err)
	}
	return c.JSON(http.StatusOK, l)
}

// ResumeClock godoc
// @Summary Resume the protection clock
// @Tags Leads
// @Produce json
// @Param id path int true "Lead ID"
// @Success 200 {object} models.Lead
// @Failure 422 {object} apierrors.ErrorResponse
// @Security BearerAuth
// @Router /api/v1/leads/{id}/clock/resume [post]
func (h *LeadLifecycleHandler) ResumeClock(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	id, ok := leadID(c)
	if !ok {
		return invalidID(c)
	}

	l, err := h.service.ResumeClock(ctx, id)
	if err != nil {
		return apierrors.Respond(c, h.log, err)
	}
	return c.JSON(http.StatusOK, l)
}

// Convert godoc
// @Summary Convert a lead
// @Tags Leads
// @Accept json
// @Produce json
// @Param id path int true "Lead ID"
// @Success 200 {object} models.Lead
// @Failure 422 {object} apierrors.ErrorResponse
// @Security BearerAuth
// @Router /api/v1/leads/{id}/convert [post]
func (h *LeadLifecycleHandler) Convert(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	id, ok := leadID(c)
	if !ok {
		return invalidID(c)
	}
	var req ActorRequest
	if err := c.Bind(&req); err != nil {
		return invalidBody(c)
	}

	l, err := h.service.Convert(ctx, id, req.UserID)
	if err != nil {
		return apierrors.Respond(c, h.log, err)
	}
	return c.JSON(http.StatusOK, l)
}

// Expire godoc
// @Summary Expire a lead now
// @Description Expires a warned lead whose grace period has elapsed, without waiting for the scheduled check.
// @Tags Leads
// @Produce json
// @Param id path int true "Lead ID"
// @Success 200 {object} protection.Status
// @Failure 404 {object} apierrors.ErrorResponse
// @Failure 409 {object} apierrors.ErrorResponse
// @Failure 422 {object} apierrors.ErrorResponse
// @Security BearerAuth
// @Router /api/v1/leads/{id}/expire [post]
func (h *LeadLifecycleHandler) Expire(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	id, ok := leadID(c)
	if !ok {
		return invalidID(c)
	}

	if err := h.expirer.ExpireLead(ctx, id); err != nil {
		return apierrors.Respond(c, h.log, err)
	}

	status, err := h.service.GetProtectionStatus(ctx, id)
	if err != nil {
		return apierrors.Respond(c, h.log, err)
	}
	return c.JSON(http.StatusOK, status)
}

// GetProtectionStatus godoc
// @Summary Get protection status
// @Tags Leads
// @Produce json
// @Param id path int true "Lead ID"
// @Success 200 {object} protection.Status
// @Failure 404 {object} apierrors.ErrorResponse
// @Security BearerAuth
// @Router /api/v1/leads/{id}/protection [get]
func (h *LeadLifecycleHandler) GetProtectionStatus(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	id, ok := leadID(c)
	if !ok {
		return invalidID(c)
	}

	status, err := h.service.GetProtectionStatus(ctx, id)
	if err != nil {
		return apierrors.Respond(c, h.log, err)
	}
	return c.JSON(http.StatusOK, status)
}

// GetLeadStatusHistory godoc
// @Summary Get lead status history
// @Description Get complete history of status changes for a lead
// @Tags Leads
// @Produce json
// @Param id path int true "Lead ID"
// @Success 200 {array} models.StatusHistory
// @Failure 400 {object} apierrors.ErrorResponse
// @Failure 404 {object} apierrors.ErrorResponse
// @Security BearerAuth
// @Router /api/v1/leads/{id}/status-history [get]
func (h *LeadLifecycleHandler) GetLeadStatusHistory(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	id, ok := leadID(c)
	if !ok {
		return invalidID(c)
	}

	history, err := h.service.GetStatusHistory(ctx, id)
	if err != nil {
		return apierrors.Respond(c, h.log, err)
	}
	if history == nil {
		history = []*models.StatusHistory{}
	}
	return c.JSON(http.StatusOK, history)
}

// GetStatusCounts godoc
// @Summary Get lead counts by status
// @Description Get count of leads in each lifecycle status
// @Tags Leads
// @Produce json
// @Success 200 {object} map[string]int
// @Failure 500 {object} apierrors.ErrorResponse
// @Security BearerAuth
// @Router /api/v1/leads/status-counts [get]
func (h *LeadLifecycleHandler) GetStatusCounts(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 10*time.Second)
	defer cancel()

	counts, err := h.service.GetStatusCounts(ctx)
	if err != nil {
		return apierrors.Respond(c, h.log, err)
	}
	return c.JSON(http.StatusOK, counts)
}
