package shipment

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"

	"github.com/careline/careline/internal/domain/order"
	"github.com/careline/careline/internal/platform/auth"
	"github.com/careline/careline/internal/platform/carrier"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/shipments", auth.RequireRole(auth.RoleWarehouse))
	g.GET("", h.ListByOrder)
	g.POST("", h.Create)
	g.GET("/:id", h.Get)
	g.GET("/:id/rates", h.Rates)
	g.POST("/:id/finalize", h.Finalize)
	g.GET("/:id/label", h.Label)
}

func httpError(err error) error {
	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, order.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrNoArchivedLabel):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrAlreadyFinalized), errors.Is(err, order.ErrInvalidTransition):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, carrier.ErrInvalidAddress), errors.Is(err, carrier.ErrNoRate):
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, ErrRatesUnavailable), errors.Is(err, ErrLabelUnavailable):
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	}
	return err
}

type createRequest struct {
	OrderID       uuid.UUID       `json:"order_id"`
	ShippingClass string          `json:"shipping_class"`
	PackageType   string          `json:"package_type"`
	WeightOz      decimal.Decimal `json:"weight_oz"`
}

func (h *Handler) Create(c echo.Context) error {
	var req createRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	sh := &Shipment{
		OrderID:       req.OrderID,
		ShippingClass: req.ShippingClass,
		PackageType:   req.PackageType,
		WeightOz:      req.WeightOz,
	}
	if err := h.svc.Create(c.Request().Context(), sh); err != nil {
		if he := httpError(err); he != err {
			return he
		}
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusCreated, sh)
}

func (h *Handler) Get(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	sh, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, sh)
}

func (h *Handler) ListByOrder(c echo.Context) error {
	orderID, err := uuid.Parse(c.QueryParam("order_id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "order_id is required")
	}
	items, err := h.svc.ListByOrder(c.Request().Context(), orderID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) Rates(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	rates, err := h.svc.Rates(c.Request().Context(), id, c.QueryParam("all") == "true")
	if err != nil {
		return httpError(err)
	}
	if rates == nil {
		rates = []carrier.Rate{}
	}
	return c.JSON(http.StatusOK, rates)
}

func (h *Handler) Finalize(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	sh, err := h.svc.Finalize(c.Request().Context(), id, auth.UserIDFromContext(c.Request().Context()))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, sh)
}

func (h *Handler) Label(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	body, err := h.svc.Label(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.Blob(http.StatusOK, "application/pdf", body)
}
