package identity

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

// Handler exposes read-only lookups for the patient ids the message queue
// reports as projection results.
type Handler struct {
	patients PatientRepository
}

func NewHandler(patients PatientRepository) *Handler {
	return &Handler{patients: patients}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/patients/:id", h.GetPatient)
}

func (h *Handler) GetPatient(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	patient, err := h.patients.GetByID(c.Request().Context(), id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "patient not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, patient)
}
