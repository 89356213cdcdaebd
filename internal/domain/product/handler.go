package product

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

type Handler struct{}

func NewHandler() *Handler {
	return &Handler{}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/product-types", h.List)
	api.GET("/product-types/:code", h.Get)
}

func (h *Handler) List(c echo.Context) error {
	if c.QueryParam("orderable") == "true" {
		return c.JSON(http.StatusOK, Orderable())
	}
	return c.JSON(http.StatusOK, All())
}

func (h *Handler) Get(c echo.Context) error {
	p, ok := Lookup(c.Param("code"))
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "product type not found")
	}
	return c.JSON(http.StatusOK, p)
}
