package scheduling

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

// Handler exposes read-only lookups for the appointment ids the message
// queue reports as projection results.
type Handler struct {
	appointments AppointmentRepository
}

func NewHandler(appointments AppointmentRepository) *Handler {
	return &Handler{appointments: appointments}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/appointments/:id", h.GetAppointment)
}

func (h *Handler) GetAppointment(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	appt, err := h.appointments.GetByID(c.Request().Context(), id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "appointment not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, appt)
}
