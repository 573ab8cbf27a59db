package reference

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/sidra/sidra/internal/platform/auth"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes exposes the lists to any authenticated user; writes need
// manageSettings.
func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/drugs/:kind", h.List)

	write := api.Group("/drugs", auth.RequireRole(auth.PermManageSettings))
	write.PUT("/:kind/:id", h.Upsert)
	write.DELETE("/:kind/:id", h.Delete)
	write.POST("/_refresh", h.Refresh)
}

// List returns {status, body}. ?parent=<id> narrows to the children of one
// parent item.
func (h *Handler) List(c echo.Context) error {
	ctx := c.Request().Context()
	kind := c.Param("kind")

	var (
		items []Item
		err   error
	)
	if p := c.QueryParam("parent"); p != "" {
		parent, perr := strconv.Atoi(p)
		if perr != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid parent")
		}
		items, err = h.svc.Children(ctx, kind, parent)
	} else {
		items, err = h.svc.Items(ctx, kind)
	}
	if errors.Is(err, ErrUnknownKind) {
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "error loading data")
	}
	return c.JSON(http.StatusOK, Envelope{Status: http.StatusOK, Body: items})
}

func (h *Handler) Upsert(c echo.Context) error {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var it Item
	if err := c.Bind(&it); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	it.Kind = c.Param("kind")
	it.ID = id
	if err := h.svc.Upsert(c.Request().Context(), &it); err != nil {
		if errors.Is(err, ErrUnknownKind) {
			return echo.NewHTTPError(http.StatusNotFound, err.Error())
		}
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, it)
}

func (h *Handler) Delete(c echo.Context) error {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	if err := h.svc.Delete(c.Request().Context(), c.Param("kind"), id); err != nil {
		if errors.Is(err, ErrUnknownKind) || errors.Is(err, ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, err.Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) Refresh(c echo.Context) error {
	if err := h.svc.Refresh(c.Request().Context()); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}
