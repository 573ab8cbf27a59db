package forms

import (
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/sidra/sidra/internal/platform/auth"
	"github.com/sidra/sidra/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	read := api.Group("/forms", auth.RequireRole(auth.PermManageRequests, auth.PermAccessDashboard))
	read.GET("", h.List)
	read.GET("/stats", h.Stats)
	read.GET("/:id", h.Get)

	write := api.Group("/forms", auth.RequireRole(auth.PermManageRequests))
	write.POST("", h.Create)
	write.PATCH("/:id", h.Replace)
	write.PUT("/:id/status", h.Review)
	write.DELETE("/:id", h.Delete)
}

type reviewRequest struct {
	Status string  `json:"status"`
	Note   *string `json:"note"`
}

func parseID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return id, nil
}

func notFoundOr(err error, code int) error {
	if errors.Is(err, ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "form not found")
	}
	return echo.NewHTTPError(code, err.Error())
}

func (h *Handler) Create(c echo.Context) error {
	var rec Record
	if err := c.Bind(&rec); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.Create(c.Request().Context(), &rec); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusCreated, rec)
}

func (h *Handler) Get(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	rec, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return notFoundOr(err, http.StatusInternalServerError)
	}
	return c.JSON(http.StatusOK, rec)
}

func (h *Handler) Replace(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var rec Record
	if err := c.Bind(&rec); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.Replace(c.Request().Context(), id, &rec); err != nil {
		return notFoundOr(err, http.StatusBadRequest)
	}
	return c.JSON(http.StatusOK, rec)
}

func (h *Handler) Review(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var req reviewRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	rec, err := h.svc.Review(c.Request().Context(), id, req.Status, req.Note)
	if err != nil {
		return notFoundOr(err, http.StatusBadRequest)
	}
	return c.JSON(http.StatusOK, rec)
}

func (h *Handler) Delete(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	if err := h.svc.Delete(c.Request().Context(), id); err != nil {
		return notFoundOr(err, http.StatusInternalServerError)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) List(c echo.Context) error {
	pg := pagination.FromContext(c)
	sort := pagination.SortFromContext(c)
	f := ListFilter{
		Status:     c.QueryParam("status"),
		Governorat: c.QueryParam("governorat"),
		Structure:  c.QueryParam("structure"),
		Query:      c.QueryParam("q"),
		SortBy:     sort.Field,
		Desc:       sort.Desc,
	}
	if d := c.QueryParam("date"); d != "" {
		t, err := time.Parse("2006-01-02", d)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "date must be YYYY-MM-DD")
		}
		f.Date = &t
	}
	items, total, err := h.svc.List(c.Request().Context(), f, pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) Stats(c echo.Context) error {
	st, err := h.svc.Stats(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, st)
}
