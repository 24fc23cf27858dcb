package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	apierrors "github.com/jordanlanch/leadguard/pkg/api/errors"
	"github.com/jordanlanch/leadguard/pkg/events"
	"github.com/jordanlanch/leadguard/pkg/logger"
)

// RecentEvents reads the most recently published lifecycle events.
type RecentEvents interface {
	Recent(ctx context.Context, n int64) ([]events.Event, error)
}

// EventsHandler exposes the recent event stream.
type EventsHandler struct {
	recent RecentEvents
	log    logger.Logger
}

// NewEventsHandler creates a new events handler.
func NewEventsHandler(recent RecentEvents, log logger.Logger) *EventsHandler {
	if log == nil {
		log = logger.Nop()
	}
	return &EventsHandler{recent: recent, log: log}
}

type eventResponse struct {
	Event string       `json:"event"`
	Data  events.Event `json:"data"`
}

// ListRecent godoc
// @Summary List recent lifecycle events
// @Tags Events
// @Produce json
// @Param limit query int false "Limit (default 50, max 500)"
// @Success 200 {array} eventResponse
// @Security BearerAuth
// @Router /api/v1/events/recent [get]
func (h *EventsHandler) ListRecent(c echo.Context) error {
	limit := int64(50)
	if v := c.QueryParam("limit"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > 500 {
		limit = 500
	}

	evs, err := h.recent.Recent(c.Request().Context(), limit)
	if err != nil {
		return apierrors.Respond(c, h.log, err)
	}

	out := make([]eventResponse, 0, len(evs))
	for _, e := range evs {
		out = append(out, eventResponse{Event: e.EventName(), Data: e})
	}
	return c.JSON(http.StatusOK, out)
}
