package auth

import (
	"github.com/labstack/echo/v4"
)

// publicPaths bypass authentication: infrastructure endpoints and the
// login flow itself.
var publicPaths = map[string]bool{
	"/health":         true,
	"/health/db":      true,
	"/metrics":        true,
	"/api/auth/login": true,
	"/api/auth/otp":   true,
}

// AuthSkipper returns true for requests whose route should skip
// authentication.
func AuthSkipper(c echo.Context) bool {
	return publicPaths[c.Path()]
}

// IsPublicPath reports whether path bypasses authentication.
func IsPublicPath(path string) bool {
	return publicPaths[path]
}
