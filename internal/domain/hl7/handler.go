package hl7

import (
	"errors"
	"io"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/ehr/hl7-engine/pkg/pagination"
)

const hl7ContentType = "x-application/hl7-v2+er7"

// ActorIDHeader names the operator behind a management request so the audit
// trail can attribute the action. Interface feeds normally omit it.
const ActorIDHeader = "X-Actor-ID"

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.POST("/hl7/messages", h.ReceiveMessage)
	api.POST("/hl7/messages/process", h.ReceiveAndProcessMessage)
	api.GET("/hl7/messages", h.ListMessages)
	api.GET("/hl7/messages/stats", h.QueueStats)
	api.GET("/hl7/messages/:id", h.GetMessage)
	api.POST("/hl7/messages/:id/retry", h.RetryMessage)
}

// RegisterIngressRoute mounts the plain-text endpoint HL7 senders post to.
// It answers with the bare ACK message, nothing else, since interface
// engines on the other side expect ER7 back rather than JSON.
func (h *Handler) RegisterIngressRoute(g *echo.Group) {
	g.POST("/hl7", h.ReceiveRaw)
}

func (h *Handler) ReceiveRaw(c echo.Context) error {
	raw, err := readBody(c)
	if err != nil {
		return err
	}
	actorID, err := actorFromRequest(c)
	if err != nil {
		return err
	}
	result, err := h.svc.ReceiveAndProcess(c.Request().Context(), raw, actorID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.Blob(http.StatusOK, hl7ContentType, []byte(result.Ack))
}

func (h *Handler) ReceiveMessage(c echo.Context) error {
	raw, err := readBody(c)
	if err != nil {
		return err
	}
	actorID, err := actorFromRequest(c)
	if err != nil {
		return err
	}
	result, err := h.svc.Receive(c.Request().Context(), raw, actorID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if !result.Accepted {
		return c.JSON(http.StatusUnprocessableEntity, result)
	}
	return c.JSON(http.StatusAccepted, result)
}

func (h *Handler) ReceiveAndProcessMessage(c echo.Context) error {
	raw, err := readBody(c)
	if err != nil {
		return err
	}
	actorID, err := actorFromRequest(c)
	if err != nil {
		return err
	}
	result, err := h.svc.ReceiveAndProcess(c.Request().Context(), raw, actorID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	switch {
	case !result.Accepted:
		return c.JSON(http.StatusUnprocessableEntity, result)
	case result.Status == StatusFailed:
		return c.JSON(http.StatusOK, result)
	default:
		return c.JSON(http.StatusCreated, result)
	}
}

func (h *Handler) ListMessages(c echo.Context) error {
	pg := pagination.FromContext(c)
	filter := ListFilter{
		Status:      Status(c.QueryParam("status")),
		MessageType: c.QueryParam("message_type"),
		Limit:       pg.Limit,
		Offset:      pg.Offset,
	}
	entries, total, err := h.svc.ListMessages(c.Request().Context(), filter)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if entries == nil {
		entries = []*QueueEntry{}
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(entries, total, pg.Limit, pg.Offset))
}

func (h *Handler) GetMessage(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	entry, err := h.svc.GetMessage(c.Request().Context(), id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "message not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, entry)
}

func (h *Handler) RetryMessage(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	actorID, err := actorFromRequest(c)
	if err != nil {
		return err
	}
	entry, err := h.svc.RetryMessage(c.Request().Context(), id, actorID)
	if err != nil {
		switch {
		case errors.Is(err, ErrNotFound):
			return echo.NewHTTPError(http.StatusNotFound, "message not found")
		case errors.Is(err, ErrNotRetryable):
			return echo.NewHTTPError(http.StatusConflict, err.Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, entry)
}

func (h *Handler) QueueStats(c echo.Context) error {
	stats, err := h.svc.QueueStats(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, stats)
}

func actorFromRequest(c echo.Context) (*uuid.UUID, error) {
	header := c.Request().Header.Get(ActorIDHeader)
	if header == "" {
		return nil, nil
	}
	id, err := uuid.Parse(header)
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusBadRequest, "invalid "+ActorIDHeader+" header")
	}
	return &id, nil
}

func readBody(c echo.Context) (string, error) {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return "", echo.NewHTTPError(http.StatusBadRequest, "unreadable request body")
	}
	if len(body) == 0 {
		return "", echo.NewHTTPError(http.StatusBadRequest, "empty request body")
	}
	return string(body), nil
}
