package handler

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"
)

// internalErrorMessage is the only detail callers see for unexpected failures.
const internalErrorMessage = "Internal server error"

// errorBody is the JSON shape of every error response.
type errorBody struct {
	Error string `json:"error"`
}

// NewErrorHandler returns an echo.HTTPErrorHandler that renders errors as
// {"error": "..."}. Errors that are not *echo.HTTPError become a generic 500
// and are logged with their cause.
func NewErrorHandler(logger *slog.Logger) echo.HTTPErrorHandler {
	logger = logger.With("component", "error_handler")
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		code := http.StatusInternalServerError
		msg := internalErrorMessage

		var he *echo.HTTPError
		if errors.As(err, &he) {
			code = he.Code
			switch m := he.Message.(type) {
			case string:
				msg = m
			case error:
				msg = m.Error()
			case nil:
				msg = http.StatusText(code)
			default:
				msg = fmt.Sprint(m)
			}
			if he.Internal != nil {
				logger.Warn("request failed",
					"status", code,
					"path", c.Request().URL.Path,
					"err", he.Internal,
				)
			}
			if code >= http.StatusInternalServerError && code != http.StatusBadGateway && code != http.StatusServiceUnavailable {
				msg = internalErrorMessage
			}
		} else {
			logger.Error("unhandled error",
				"path", c.Request().URL.Path,
				"request_id", c.Response().Header().Get(echo.HeaderXRequestID),
				"err", err,
			)
		}

		var werr error
		if c.Request().Method == http.MethodHead {
			werr = c.NoContent(code)
		} else {
			werr = c.JSON(code, errorBody{Error: msg})
		}
		if werr != nil {
			logger.Error("writing error response", "err", werr)
		}
	}
}
