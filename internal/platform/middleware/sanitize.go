package middleware

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

const maxHeaderValueSize = 8192

// Sanitize rejects requests with path traversal, null bytes, CR/LF in header
// values, oversized headers or control characters in query parameters. It
// runs before auth and never reads the body. Rejections are logged without
// the offending value.
func Sanitize(logger zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if reason := inspect(c.Request()); reason != "" {
				logger.Warn().
					Str("request_id", RequestIDFromContext(c)).
					Str("reason", reason).
					Str("remote_ip", c.RealIP()).
					Msg("request rejected by sanitizer")
				return JSONError(c, http.StatusBadRequest, "invalid_request", reason)
			}
			return next(c)
		}
	}
}

// inspect returns why req must be rejected, or "".
func inspect(req *http.Request) string {
	paths := []string{req.URL.Path}
	if req.URL.RawPath != "" {
		paths = append(paths, req.URL.RawPath)
	}
	for _, p := range paths {
		if containsPathTraversal(p) {
			return "path traversal detected"
		}
		if containsNullByte(p) {
			return "null byte in path"
		}
	}

	for name, values := range req.Header {
		for _, v := range values {
			if len(v) > maxHeaderValueSize {
				return "header value too large: " + name
			}
			if strings.ContainsAny(v, "\r\n") {
				return "header injection detected: " + name
			}
		}
	}

	for key, values := range req.URL.Query() {
		if hasControl(key) {
			return "control character in query parameter"
		}
		for _, v := range values {
			if hasControl(v) {
				return "control character in query parameter"
			}
		}
	}
	return ""
}

// containsPathTraversal checks raw, percent-encoded and double-encoded "..".
func containsPathTraversal(s string) bool {
	if strings.Contains(s, "..") {
		return true
	}
	lower := strings.ToLower(s)
	return strings.Contains(lower, "%2e%2e") || strings.Contains(lower, "%252e")
}

func containsNullByte(s string) bool {
	return strings.ContainsRune(s, '\x00') || strings.Contains(strings.ToLower(s), "%00")
}

func hasControl(s string) bool {
	for _, r := range s {
		if r < 0x20 || r == 0x7f {
			return true
		}
	}
	return false
}
