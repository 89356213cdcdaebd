package middleware

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

// ErrorResponse is the JSON body of every error response.
type ErrorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

// ErrorHandler renders errors as {"error": "..."}. Errors that are not
// *echo.HTTPError become a 500 whose message is only exposed when debug is on.
func ErrorHandler(logger zerolog.Logger, debug bool) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		code := http.StatusInternalServerError
		msg := http.StatusText(code)

		var he *echo.HTTPError
		if errors.As(err, &he) {
			code = he.Code
			msg = fmt.Sprintf("%v", he.Message)
			if he.Internal != nil && debug {
				msg = fmt.Sprintf("%s: %v", msg, he.Internal)
			}
		} else {
			logger.Error().Err(err).Str("request_id", RequestIDFromContext(c)).Msg("unhandled error")
			if debug {
				msg = err.Error()
			}
		}

		resp := ErrorResponse{Error: msg, RequestID: RequestIDFromContext(c)}
		var werr error
		if c.Request().Method == http.MethodHead {
			werr = c.NoContent(code)
		} else {
			werr = c.JSON(code, resp)
		}
		if werr != nil {
			logger.Error().Err(werr).Msg("write error response")
		}
	}
}
