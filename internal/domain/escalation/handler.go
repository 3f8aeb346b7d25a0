package escalation

import (
	"net/http"
	"strings"

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

// RegisterRoutes wires the escalation surface. The specialist endpoints are
// token-authenticated, not session-authenticated; the bearer-auth
// middleware is configured to skip them.
func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.POST("/escalate", h.Escalate, auth.RequireRole(auth.RolePHW))
	api.GET("/specialist/portal/:token", h.Portal)
	api.POST("/specialist/advice", h.SubmitAdvice)
}

func (h *Handler) Escalate(c echo.Context) error {
	var req EscalateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed escalation payload")
	}

	actor := cases.Actor{
		UserID:    auth.UserIDFromContext(c.Request().Context()),
		Name:      auth.UserNameFromContext(c.Request().Context()),
		IPAddress: c.RealIP(),
	}
	if rid, ok := c.Get("request_id").(string); ok {
		actor.RequestID = rid
	}

	resp, err := h.svc.Escalate(c.Request().Context(), &req, actor)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, resp)
}

func (h *Handler) Portal(c echo.Context) error {
	bundle, err := h.svc.Portal(c.Request().Context(), c.Param("token"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, bundle)
}

func (h *Handler) SubmitAdvice(c echo.Context) error {
	var req AdviceRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed advice payload")
	}

	rid, _ := c.Get("request_id").(string)
	_, err := h.svc.SubmitAdvice(c.Request().Context(), bearerToken(c), &req, c.RealIP(), rid)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "ok", "case_id": req.CaseID})
}

// bearerToken extracts the escalation token from the Authorization header
// or, failing that, the token query parameter.
func bearerToken(c echo.Context) string {
	header := c.Request().Header.Get("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimPrefix(header, "Bearer ")
	}
	return c.QueryParam("token")
}
