package bus

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/careline/careline/internal/platform/auth"
)

var wsSecret = []byte("ws-test-secret")

type stubValidator struct {
	caseID uuid.UUID
	err    error
}

func (s *stubValidator) Validate(_ context.Context, token string) (uuid.UUID, error) {
	if s.err != nil {
		return uuid.Nil, s.err
	}
	return s.caseID, nil
}

func wsRequest(t *testing.T, target string, bearer string) (echo.Context, *httptest.ResponseRecorder, uuid.UUID) {
	t.Helper()
	caseID := uuid.New()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetPath("/ws/case/:id")
	c.SetParamNames("id")
	c.SetParamValues(caseID.String())
	return c, rec, caseID
}

func TestWSHandler_RejectsMissingCredentials(t *testing.T) {
	h := NewWSHandler(NewHub(zerolog.Nop()), wsSecret, nil, time.Second, zerolog.Nop())
	c, _, _ := wsRequest(t, "/ws/case/x", "")

	err := h.HandleCase(c)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusUnauthorized {
		t.Fatalf("err = %v, want 401", err)
	}
}

func TestWSHandler_RejectsSpecialistRole(t *testing.T) {
	token, err := auth.IssueToken(wsSecret, "spec-1", auth.RoleSpecialist, "", time.Hour)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	h := NewWSHandler(NewHub(zerolog.Nop()), wsSecret, nil, time.Second, zerolog.Nop())
	c, _, _ := wsRequest(t, "/ws/case/x", token)

	wsErr := h.HandleCase(c)
	he, ok := wsErr.(*echo.HTTPError)
	if !ok || he.Code != http.StatusForbidden {
		t.Fatalf("err = %v, want 403 (specialists join via escalation token)", wsErr)
	}
}

func TestWSHandler_RejectsEscalationTokenForWrongCase(t *testing.T) {
	validator := &stubValidator{caseID: uuid.New()} // grants a different case
	h := NewWSHandler(NewHub(zerolog.Nop()), wsSecret, validator, time.Second, zerolog.Nop())
	c, _, _ := wsRequest(t, "/ws/case/x?token=abc123", "")

	err := h.HandleCase(c)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusForbidden {
		t.Fatalf("err = %v, want 403", err)
	}
}

func TestWSHandler_InvalidCaseID(t *testing.T) {
	h := NewWSHandler(NewHub(zerolog.Nop()), wsSecret, nil, time.Second, zerolog.Nop())
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/ws/case/not-a-uuid", nil)
	c := e.NewContext(req, httptest.NewRecorder())
	c.SetPath("/ws/case/:id")
	c.SetParamNames("id")
	c.SetParamValues("not-a-uuid")

	err := h.HandleCase(c)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusBadRequest {
		t.Fatalf("err = %v, want 400", err)
	}
}
