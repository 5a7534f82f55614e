package diagnostics

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/ehr/hl7-engine/pkg/pagination"
)

// Handler exposes read-only lookups over ingested lab results: the report ids
// the message queue reports, and a per-patient observation listing.
type Handler struct {
	reports      ReportRepository
	observations ObservationRepository
}

func NewHandler(reports ReportRepository, observations ObservationRepository) *Handler {
	return &Handler{reports: reports, observations: observations}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/lab-reports/:id", h.GetLabReport)
	api.GET("/patients/:id/observations", h.ListPatientObservations)
}

func (h *Handler) GetLabReport(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	report, err := h.reports.GetByID(c.Request().Context(), id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "lab report not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, report)
}

func (h *Handler) ListPatientObservations(c echo.Context) error {
	patientID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	pg := pagination.FromContext(c)
	observations, total, err := h.observations.ListByPatient(c.Request().Context(), patientID, pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if observations == nil {
		observations = []*Observation{}
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(observations, total, pg.Limit, pg.Offset))
}
