package auditevent

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/ehr/hl7-engine/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/audit-events", h.ListEvents)
}

func (h *Handler) ListEvents(c echo.Context) error {
	resourceType := c.QueryParam("resource_type")
	resourceID := c.QueryParam("resource_id")
	if resourceType == "" || resourceID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "resource_type and resource_id are required")
	}

	pg := pagination.FromContext(c)
	events, total, err := h.svc.List(c.Request().Context(), resourceType, resourceID, pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if events == nil {
		events = []*Event{}
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(events, total, pg.Limit, pg.Offset))
}
