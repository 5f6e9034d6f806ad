package auth

import (
	"strings"

	"github.com/labstack/echo/v4"
)

// publicPaths bypass bearer authentication. The payment webhook authenticates
// with its HMAC signature instead.
var publicPaths = map[string]bool{
	"/health":    true,
	"/health/db": true,
}

const webhookPrefix = "/webhooks/"

// AuthSkipper returns true for requests whose path should skip authentication.
func AuthSkipper(c echo.Context) bool {
	return IsPublicPath(c.Request().URL.Path)
}

func IsPublicPath(path string) bool {
	return publicPaths[path] || strings.HasPrefix(path, webhookPrefix)
}
