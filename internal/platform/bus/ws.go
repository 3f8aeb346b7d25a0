package bus

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	gorillawebsocket "github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/careline/careline/internal/platform/auth"
)

var upgrader = gorillawebsocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins; tighten in production.
	},
}

// TokenValidator resolves an escalation token to the case it grants access
// to. Implemented by the escalation service.
type TokenValidator interface {
	Validate(ctx context.Context, token string) (uuid.UUID, error)
}

// WSHandler binds the hub to the /ws/case/:id endpoint. PHW clients
// authenticate with a bearer token, specialists with their escalation token
// in the ?token= query parameter.
type WSHandler struct {
	hub          *Hub
	secret       []byte
	tokens       TokenValidator
	pingInterval time.Duration
	logger       zerolog.Logger
}

func NewWSHandler(hub *Hub, secret []byte, tokens TokenValidator, pingInterval time.Duration, logger zerolog.Logger) *WSHandler {
	if pingInterval <= 0 {
		pingInterval = 30 * time.Second
	}
	return &WSHandler{hub: hub, secret: secret, tokens: tokens, pingInterval: pingInterval, logger: logger}
}

func (h *WSHandler) RegisterRoutes(e *echo.Echo) {
	e.GET("/ws/case/:id", h.HandleCase)
}

// HandleCase authenticates the connection, joins the case room, and starts
// the read/write pumps.
func (h *WSHandler) HandleCase(c echo.Context) error {
	caseID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid case id")
	}

	role, err := h.authorize(c, caseID)
	if err != nil {
		return err
	}

	ws, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}

	sub := h.hub.Subscribe(caseID.String(), role)

	go h.writePump(sub, ws)
	go h.readPump(sub, ws)

	return nil
}

func (h *WSHandler) authorize(c echo.Context, caseID uuid.UUID) (string, error) {
	if token := c.QueryParam("token"); token != "" {
		if h.tokens == nil {
			return "", echo.NewHTTPError(http.StatusForbidden, "escalation tokens not accepted")
		}
		grantedCase, err := h.tokens.Validate(c.Request().Context(), token)
		if err != nil || grantedCase != caseID {
			return "", echo.NewHTTPError(http.StatusForbidden, "invalid escalation token")
		}
		return auth.RoleSpecialist, nil
	}

	header := c.Request().Header.Get("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		return "", echo.NewHTTPError(http.StatusUnauthorized, "missing credentials")
	}
	claims, err := auth.ParseToken(h.secret, strings.TrimPrefix(header, "Bearer "))
	if err != nil {
		return "", echo.NewHTTPError(http.StatusUnauthorized, "invalid or expired token")
	}
	if claims.Role != auth.RolePHW && claims.Role != auth.RoleAdmin {
		return "", echo.NewHTTPError(http.StatusForbidden, "required role: phw")
	}
	return auth.RolePHW, nil
}

// readPump drains inbound messages. Client messages are ignored except
// pongs, which just keep the connection alive.
func (h *WSHandler) readPump(sub *Subscriber, ws *gorillawebsocket.Conn) {
	defer func() {
		h.hub.Unsubscribe(sub)
		ws.Close()
	}()

	for {
		if _, _, err := ws.ReadMessage(); err != nil {
			break
		}
	}
}

// writePump forwards room events to the connection and emits a PING event
// after every idle interval. A failed write ends the connection.
func (h *WSHandler) writePump(sub *Subscriber, ws *gorillawebsocket.Conn) {
	ticker := time.NewTicker(h.pingInterval)
	defer func() {
		ticker.Stop()
		ws.Close()
	}()

	for {
		select {
		case message, ok := <-sub.Send:
			if !ok {
				_ = ws.WriteMessage(gorillawebsocket.CloseMessage, []byte{})
				return
			}
			if err := ws.WriteMessage(gorillawebsocket.TextMessage, message); err != nil {
				h.hub.Unsubscribe(sub)
				return
			}
			ticker.Reset(h.pingInterval)
		case <-ticker.C:
			ping, _ := json.Marshal(Event{Type: EventPing, Timestamp: time.Now().UTC()})
			if err := ws.WriteMessage(gorillawebsocket.TextMessage, ping); err != nil {
				h.hub.Unsubscribe(sub)
				return
			}
		}
	}
}
