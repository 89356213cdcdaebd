package order

import (
	"errors"
	"net/http"

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
	g := api.Group("/orders", auth.RequireRole(auth.RoleProfessional, auth.RoleWarehouse))
	g.GET("", h.List)
	g.POST("", h.Create)
	g.GET("/:id", h.Get)

	// Warehouse workflow
	g.POST("/:id/lock", h.Lock)
	g.POST("/:id/unlock", h.Unlock)
	g.POST("/:id/problems", h.AddProblem)
	g.POST("/:id/problems/resolve", h.ResolveProblem)
	g.POST("/:id/fulfill", h.Fulfill)

	// Care team workflow
	g.POST("/:id/hold", h.Hold)
	g.POST("/:id/unhold", h.Unhold)
	g.POST("/:id/cancel", h.Cancel)
	g.POST("/:id/await-rx", h.AwaitRx)
	g.POST("/:id/receive-rx", h.ReceiveRx)
}

// httpError maps service errors to HTTP responses. Unrecognized errors
// pass through to the central error handler.
func httpError(err error) error {
	switch {
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "order not found")
	case errors.Is(err, ErrInvalidTransition),
		errors.Is(err, ErrAlreadyLockedByUser),
		errors.Is(err, ErrLockedByAnotherUser),
		errors.Is(err, ErrNoOpenProblems):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	}
	return err
}

func parseID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return id, nil
}

type createRequest struct {
	PatientID     uuid.UUID `json:"patient_id"`
	OrderType     Type      `json:"order_type"`
	ShippingClass string    `json:"shipping_class"`
	Notes         string    `json:"notes"`
	Entries       []struct {
		ProductCode string `json:"product_code"`
		Quantity    int    `json:"quantity"`
	} `json:"entries"`
}

func (h *Handler) Create(c echo.Context) error {
	var req createRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	o := &Order{
		PatientID:     req.PatientID,
		OrderType:     req.OrderType,
		ShippingClass: req.ShippingClass,
		Notes:         req.Notes,
		CreatedBy:     auth.UserIDFromContext(c.Request().Context()),
	}
	for _, e := range req.Entries {
		o.Entries = append(o.Entries, &Entry{ProductCode: e.ProductCode, Quantity: e.Quantity})
	}
	if err := h.svc.Create(c.Request().Context(), o); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusCreated, o)
}

func (h *Handler) Get(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	o, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, o)
}

func (h *Handler) List(c echo.Context) error {
	pg := pagination.FromContext(c)
	params := map[string]string{}
	if v := c.QueryParam("status"); v != "" {
		if _, err := ParseStatus(v); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		params["status"] = v
	}
	if v := c.QueryParam("patient_id"); v != "" {
		if _, err := uuid.Parse(v); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid patient_id")
		}
		params["patient_id"] = v
	}
	if v := c.QueryParam("order_type"); v != "" {
		params["order_type"] = v
	}
	items, total, err := h.svc.List(c.Request().Context(), params, pg.Limit, pg.Offset)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset).WithLinks(c.Request().URL))
}

type reasonRequest struct {
	Reason string `json:"reason"`
}

type problemRequest struct {
	Category    string `json:"category"`
	Description string `json:"description"`
}

func (h *Handler) Lock(c echo.Context) error {
	return h.do(c, func(id uuid.UUID, user string) (*Order, error) {
		return h.svc.Lock(c.Request().Context(), id, user)
	})
}

func (h *Handler) Unlock(c echo.Context) error {
	return h.do(c, func(id uuid.UUID, _ string) (*Order, error) {
		return h.svc.Unlock(c.Request().Context(), id)
	})
}

func (h *Handler) Hold(c echo.Context) error {
	var req reasonRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Reason == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "reason is required")
	}
	return h.do(c, func(id uuid.UUID, user string) (*Order, error) {
		return h.svc.Hold(c.Request().Context(), id, req.Reason, user)
	})
}

func (h *Handler) Unhold(c echo.Context) error {
	return h.do(c, func(id uuid.UUID, _ string) (*Order, error) {
		return h.svc.Unhold(c.Request().Context(), id)
	})
}

func (h *Handler) Cancel(c echo.Context) error {
	var req reasonRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return h.do(c, func(id uuid.UUID, user string) (*Order, error) {
		return h.svc.Cancel(c.Request().Context(), id, req.Reason, user)
	})
}

func (h *Handler) AddProblem(c echo.Context) error {
	var req problemRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Category == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "category is required")
	}
	return h.do(c, func(id uuid.UUID, user string) (*Order, error) {
		return h.svc.AddProblem(c.Request().Context(), id, req.Category, req.Description, user)
	})
}

func (h *Handler) ResolveProblem(c echo.Context) error {
	var req problemRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return h.do(c, func(id uuid.UUID, user string) (*Order, error) {
		return h.svc.ResolveProblem(c.Request().Context(), id, req.Description, user)
	})
}

func (h *Handler) Fulfill(c echo.Context) error {
	return h.do(c, func(id uuid.UUID, _ string) (*Order, error) {
		return h.svc.Fulfill(c.Request().Context(), id)
	})
}

func (h *Handler) AwaitRx(c echo.Context) error {
	return h.do(c, func(id uuid.UUID, _ string) (*Order, error) {
		return h.svc.AwaitRx(c.Request().Context(), id)
	})
}

func (h *Handler) ReceiveRx(c echo.Context) error {
	return h.do(c, func(id uuid.UUID, _ string) (*Order, error) {
		return h.svc.ReceiveRx(c.Request().Context(), id)
	})
}

func (h *Handler) do(c echo.Context, fn func(id uuid.UUID, user string) (*Order, error)) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	o, err := fn(id, auth.UserIDFromContext(c.Request().Context()))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, o)
}
