package cases

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/careline/careline/internal/platform/auth"
	"github.com/careline/careline/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("", auth.RequireRole(auth.RolePHW))
	g.GET("/cases", h.List)
	g.GET("/cases/:id", h.Get)
	g.POST("/cases/:id/close", h.Close)
	g.POST("/cases/:id/cancel", h.Cancel)
}

func (h *Handler) List(c echo.Context) error {
	pg := pagination.FromContext(c)
	phwID := auth.UserIDFromContext(c.Request().Context())

	items, total, err := h.svc.List(c.Request().Context(), phwID, pg.Limit, pg.Offset)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) Get(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid case id")
	}
	detail, err := h.svc.Get(c.Request().Context(), id, auth.UserIDFromContext(c.Request().Context()))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, detail)
}

func (h *Handler) Close(c echo.Context) error {
	return h.transition(c, h.svc.Close)
}

func (h *Handler) Cancel(c echo.Context) error {
	return h.transition(c, h.svc.Cancel)
}

func (h *Handler) transition(c echo.Context, op func(ctx context.Context, id uuid.UUID, actor Actor) error) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid case id")
	}
	actor := Actor{
		UserID:    auth.UserIDFromContext(c.Request().Context()),
		IPAddress: c.RealIP(),
	}
	if rid, ok := c.Get("request_id").(string); ok {
		actor.RequestID = rid
	}
	if err := op(c.Request().Context(), id, actor); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "ok", "case_id": id.String()})
}
