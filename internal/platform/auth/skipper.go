package auth

import (
	"strings"

	"github.com/labstack/echo/v4"
)

var publicPaths = map[string]bool{
	"/health":    true,
	"/health/db": true,
}

// AuthSkipper skips bearer auth for health checks and the partner API, which
// authenticates with its own Basic credentials.
func AuthSkipper(c echo.Context) bool {
	return IsPublicPath(c.Path())
}

func IsPublicPath(path string) bool {
	return publicPaths[path] || strings.HasPrefix(path, "/epc/")
}
