package triage

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/careline/careline/internal/domain/cases"
	"github.com/careline/careline/internal/platform/auth"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("", auth.RequireRole(auth.RolePHW))
	g.POST("/analyze/risk", h.AnalyzeRisk)
}

func (h *Handler) AnalyzeRisk(c echo.Context) error {
	var req IntakeRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed intake payload")
	}

	actor := cases.Actor{
		UserID:    auth.UserIDFromContext(c.Request().Context()),
		Name:      auth.UserNameFromContext(c.Request().Context()),
		IPAddress: c.RealIP(),
	}
	if rid, ok := c.Get("request_id").(string); ok {
		actor.RequestID = rid
	}

	resp, err := h.svc.Analyze(c.Request().Context(), &req, actor)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, resp)
}
