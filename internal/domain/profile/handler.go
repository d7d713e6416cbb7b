package profile

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/phigate/phigate/internal/platform/auth"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/profile", h.GetProfile)
	api.PUT("/profile", h.PutProfile)
	api.DELETE("/profile", h.DeleteProfile)
}

func subject(c echo.Context) (string, error) {
	sub := auth.SubjectFromContext(c.Request().Context())
	if sub == "" {
		return "", echo.NewHTTPError(http.StatusUnauthorized, "no authenticated subject")
	}
	return sub, nil
}

func (h *Handler) GetProfile(c echo.Context) error {
	sub, err := subject(c)
	if err != nil {
		return err
	}
	p, err := h.svc.Get(c.Request().Context(), sub)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) PutProfile(c echo.Context) error {
	sub, err := subject(c)
	if err != nil {
		return err
	}
	var in Profile
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed profile body")
	}
	p, err := h.svc.Register(c.Request().Context(), sub, &in)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) DeleteProfile(c echo.Context) error {
	sub, err := subject(c)
	if err != nil {
		return err
	}
	if err := h.svc.Delete(c.Request().Context(), sub); err != nil {
		return mapError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func mapError(err error) error {
	switch {
	case errors.Is(err, ErrValidation):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "no profile registered")
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, "profile store error").SetInternal(err)
	}
}
