package release

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/phigate/phigate/internal/platform/auth"
	"github.com/phigate/phigate/internal/platform/deid"
	"github.com/phigate/phigate/internal/platform/middleware"
	"github.com/phigate/phigate/internal/platform/summarizer"
)

const maxHistoryLimit = 200

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.POST("/documents", h.ProcessDocument)
	api.GET("/releases", h.ListReleases)
}

func subject(c echo.Context) (string, error) {
	sub := auth.SubjectFromContext(c.Request().Context())
	if sub == "" {
		return "", echo.NewHTTPError(http.StatusUnauthorized, "no authenticated subject")
	}
	return sub, nil
}

// ProcessDocument accepts an extracted JSON document. It answers 200 with the
// redacted document when released and 403 with the verdicts when denied.
func (h *Handler) ProcessDocument(c echo.Context) error {
	sub, err := subject(c)
	if err != nil {
		return err
	}
	doc, err := deid.ReadDocument(c.Request().Body)
	if err != nil {
		var he *echo.HTTPError
		if errors.As(err, &he) {
			return he
		}
		if errors.Is(err, deid.ErrNotObject) {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		return echo.NewHTTPError(http.StatusBadRequest, "malformed document body")
	}

	ctx := WithRequestID(c.Request().Context(), middleware.RequestIDFromContext(c))
	out, err := h.svc.Process(ctx, sub, doc)
	if err != nil {
		return mapError(err)
	}
	if !out.Released {
		return c.JSON(http.StatusForbidden, out.denial())
	}
	return c.JSON(http.StatusOK, out)
}

// ListReleases returns the caller's release history, newest first.
func (h *Handler) ListReleases(c echo.Context) error {
	sub, err := subject(c)
	if err != nil {
		return err
	}
	limit := 50
	if v := c.QueryParam("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return echo.NewHTTPError(http.StatusBadRequest, "limit must be a positive integer")
		}
		limit = min(n, maxHistoryLimit)
	}

	events, err := h.svc.History(c.Request().Context(), sub, limit)
	if errors.Is(err, errors.ErrUnsupported) {
		return echo.NewHTTPError(http.StatusNotImplemented, "release history is not stored")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "release history error").SetInternal(err)
	}
	return c.JSON(http.StatusOK, map[string]any{"releases": events})
}

func mapError(err error) error {
	// Deadline first: a summarizer or recognizer call cut off by the request
	// deadline wraps both its own sentinel and the context error.
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return echo.NewHTTPError(http.StatusGatewayTimeout, "document processing timed out").SetInternal(err)
	case errors.Is(err, ErrNoProfile):
		return echo.NewHTTPError(http.StatusNotFound, "no profile registered")
	case errors.Is(err, deid.ErrRecognizer), errors.Is(err, deid.ErrInvalidSpan):
		return echo.NewHTTPError(http.StatusBadGateway, "entity recognizer unavailable").SetInternal(err)
	case errors.Is(err, summarizer.ErrSummarizer):
		return echo.NewHTTPError(http.StatusBadGateway, "summarizer unavailable").SetInternal(err)
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, "document processing failed").SetInternal(err)
	}
}
