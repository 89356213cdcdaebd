package nursing

import (
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/careline/careline/internal/platform/auth"
	"github.com/careline/careline/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/nursing-queue", auth.RequireRole(auth.RoleProfessional))
	g.GET("", h.ListEntries)
	g.GET("/:id", h.GetEntry)
	g.POST("/:id/complete", h.Complete)
	g.POST("/:id/reschedule", h.Reschedule)

	// Manual pass, normally run by the daily job.
	api.POST("/nursing-queue/run", h.Run, auth.RequireRole(auth.RoleAdmin))

	groups := api.Group("/nursing-groups", auth.RequireRole(auth.RoleProfessional))
	groups.GET("", h.ListGroups)
	groups.POST("", h.CreateGroup)
}

func httpError(err error) error {
	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrGroupNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrAlreadyCompleted):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	}
	return err
}

func (h *Handler) ListEntries(c echo.Context) error {
	pg := pagination.FromContext(c)
	params := map[string]string{}
	for _, k := range []string{"nursing_group_id", "patient_id", "entry_type", "completed"} {
		if v := c.QueryParam(k); v != "" {
			params[k] = v
		}
	}
	for _, k := range []string{"nursing_group_id", "patient_id"} {
		if v, ok := params[k]; ok {
			if _, err := uuid.Parse(v); err != nil {
				return echo.NewHTTPError(http.StatusBadRequest, "invalid "+k)
			}
		}
	}
	items, total, err := h.svc.ListEntries(c.Request().Context(), params, pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset).WithLinks(c.Request().URL))
}

func (h *Handler) GetEntry(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	e, err := h.svc.GetEntry(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, e)
}

func (h *Handler) Complete(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var req struct {
		Note string `json:"note"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ctx := c.Request().Context()
	e, err := h.svc.Complete(ctx, id, auth.UserIDFromContext(ctx), req.Note)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, e)
}

func (h *Handler) Reschedule(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var req struct {
		DueDate string `json:"due_date"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	due, err := time.Parse("2006-01-02", req.DueDate)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "due_date must be YYYY-MM-DD")
	}
	e, err := h.svc.Reschedule(c.Request().Context(), id, due)
	if err != nil {
		if he := httpError(err); he != err {
			return he
		}
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, e)
}

func (h *Handler) Run(c echo.Context) error {
	ctx := c.Request().Context()
	res, err := h.svc.Run(ctx, h.svc.now())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, res)
}

func (h *Handler) ListGroups(c echo.Context) error {
	items, err := h.svc.ListGroups(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) CreateGroup(c echo.Context) error {
	var g Group
	if err := c.Bind(&g); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.CreateGroup(c.Request().Context(), &g); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusCreated, g)
}
