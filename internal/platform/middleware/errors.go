package middleware

import "github.com/labstack/echo/v4"

// ErrorBody is the JSON error shape every middleware and handler responds with.
type ErrorBody struct {
	Error     string `json:"error"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}

// JSONError writes status with an ErrorBody unless the response is committed.
func JSONError(c echo.Context, status int, code, message string) error {
	if c.Response().Committed {
		return nil
	}
	return c.JSON(status, ErrorBody{
		Error:     code,
		Message:   message,
		RequestID: RequestIDFromContext(c),
	})
}
