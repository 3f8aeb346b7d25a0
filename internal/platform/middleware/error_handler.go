package middleware

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/careline/careline/internal/platform/errs"
)

// errorBody is the wire shape for every error response.
type errorBody struct {
	Detail string            `json:"detail"`
	Fields map[string]string `json:"fields,omitempty"`
}

// ErrorHandler renders service errors as {detail} JSON bodies with the
// status the error kind dictates. Unknown errors become opaque 500s; the
// request id is logged so the audit trail can be joined.
func ErrorHandler(logger zerolog.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		status := http.StatusInternalServerError
		body := errorBody{Detail: "internal server error"}

		if e, ok := errs.As(err); ok {
			status = e.Status()
			body.Detail = e.Detail
			body.Fields = e.Fields
		} else if he, ok := err.(*echo.HTTPError); ok {
			status = he.Code
			if msg, ok := he.Message.(string); ok {
				body.Detail = msg
			} else {
				body.Detail = http.StatusText(he.Code)
			}
		}

		if status >= http.StatusInternalServerError {
			logger.Error().Err(err).
				Str("request_id", RequestIDFromEcho(c)).
				Str("path", c.Request().URL.Path).
				Msg("request failed")
		}

		if c.Request().Method == http.MethodHead {
			_ = c.NoContent(status)
			return
		}
		_ = c.JSON(status, body)
	}
}
