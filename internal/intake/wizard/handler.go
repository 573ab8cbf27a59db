package wizard

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/sidra/sidra/internal/domain/forms"
	"github.com/sidra/sidra/internal/intake/selection"
	"github.com/sidra/sidra/internal/platform/auth"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/intake/sessions", auth.RequireRole(auth.PermManageRequests))
	g.POST("", h.Open)
	g.GET("/:id", h.Get)
	g.DELETE("/:id", h.Discard)
	g.PATCH("/:id/sections/:section", h.Update)
	g.PUT("/:id/sections/:section/groups/:field/options/:option", h.Select)
	g.POST("/:id/goto", h.GoTo)
	g.POST("/:id/next", h.Next)
	g.POST("/:id/prev", h.Prev)
	g.POST("/:id/retry", h.Retry)
	g.POST("/:id/submit", h.Submit)
}

type openRequest struct {
	Mode     Mode       `json:"mode"`
	RecordID *uuid.UUID `json:"recordId"`
}

type selectRequest struct {
	Selected bool `json:"selected"`
}

type gotoRequest struct {
	Step int `json:"step"`
}

// errorBody is returned with 422 and 502 responses so the client can keep
// rendering the session.
type errorBody struct {
	Message string       `json:"message"`
	Fields  []FieldError `json:"fields,omitempty"`
	View    *View        `json:"view,omitempty"`
}

// Open starts a session. The edit flow is selected with ?id=<uuid>&mode=edit,
// as the records list links to it; a JSON body {mode, recordId} is accepted
// when the query is absent.
func (h *Handler) Open(c echo.Context) error {
	var req openRequest
	if c.Request().ContentLength != 0 {
		if err := c.Bind(&req); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
	}
	if m := c.QueryParam("mode"); m != "" {
		req.Mode = Mode(m)
	}
	if raw := c.QueryParam("id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid record id")
		}
		req.RecordID = &id
	}
	if req.Mode == "" {
		req.Mode = ModeCreate
	}
	if req.Mode != ModeCreate && req.Mode != ModeEdit {
		return echo.NewHTTPError(http.StatusBadRequest, "mode must be create or edit")
	}
	ctx := c.Request().Context()
	v, err := h.svc.Open(ctx, auth.UserIDFromContext(ctx), req.Mode, req.RecordID)
	if err != nil {
		return h.fail(c, v, err)
	}
	return c.JSON(http.StatusCreated, v)
}

func (h *Handler) Get(c echo.Context) error {
	v, err := h.svc.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return h.fail(c, v, err)
	}
	return c.JSON(http.StatusOK, v)
}

func (h *Handler) Update(c echo.Context) error {
	// Decoded directly: binding into a map would also copy the path params.
	var values map[string]any
	if err := json.NewDecoder(c.Request().Body).Decode(&values); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid JSON body")
	}
	v, err := h.svc.Update(c.Request().Context(), c.Param("id"), c.Param("section"), values)
	if err != nil {
		return h.fail(c, v, err)
	}
	return c.JSON(http.StatusOK, v)
}

func (h *Handler) Select(c echo.Context) error {
	optionID, err := strconv.Atoi(c.Param("option"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid option id")
	}
	var req selectRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	v, err := h.svc.Select(c.Request().Context(), c.Param("id"), c.Param("section"), c.Param("field"), optionID, req.Selected)
	if err != nil {
		return h.fail(c, v, err)
	}
	return c.JSON(http.StatusOK, v)
}

func (h *Handler) GoTo(c echo.Context) error {
	var req gotoRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	v, err := h.svc.GoTo(c.Request().Context(), c.Param("id"), req.Step)
	if err != nil {
		return h.fail(c, v, err)
	}
	return c.JSON(http.StatusOK, v)
}

func (h *Handler) Next(c echo.Context) error {
	v, err := h.svc.Next(c.Request().Context(), c.Param("id"))
	if err != nil {
		return h.fail(c, v, err)
	}
	return c.JSON(http.StatusOK, v)
}

func (h *Handler) Prev(c echo.Context) error {
	v, err := h.svc.Prev(c.Request().Context(), c.Param("id"))
	if err != nil {
		return h.fail(c, v, err)
	}
	return c.JSON(http.StatusOK, v)
}

func (h *Handler) Retry(c echo.Context) error {
	v, err := h.svc.Retry(c.Request().Context(), c.Param("id"))
	if err != nil {
		return h.fail(c, v, err)
	}
	return c.JSON(http.StatusOK, v)
}

func (h *Handler) Submit(c echo.Context) error {
	v, err := h.svc.Submit(c.Request().Context(), c.Param("id"))
	if err != nil {
		return h.fail(c, v, err)
	}
	if v.Submitted {
		return c.JSON(http.StatusCreated, v)
	}
	return c.JSON(http.StatusUnprocessableEntity, v)
}

func (h *Handler) Discard(c echo.Context) error {
	if err := h.svc.Discard(c.Request().Context(), c.Param("id")); err != nil {
		return h.fail(c, nil, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) fail(c echo.Context, v *View, err error) error {
	var ie *InputError
	switch {
	case errors.As(err, &ie):
		return c.JSON(http.StatusUnprocessableEntity, errorBody{Message: err.Error(), Fields: ie.Fields, View: v})
	case errors.Is(err, ErrSubmitFailed):
		return c.JSON(http.StatusBadGateway, errorBody{Message: ErrSubmitFailed.Error(), View: v})
	case errors.Is(err, ErrSessionNotFound), errors.Is(err, forms.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrUnknownSection), errors.Is(err, ErrUnknownField), errors.Is(err, ErrNotOptions),
		errors.Is(err, ErrStepOutOfRange), errors.Is(err, ErrEditWithoutRecord), errors.Is(err, selection.ErrUnknownOption):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrAlreadySubmitted), errors.Is(err, ErrNotFinalStep):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}
