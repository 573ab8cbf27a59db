package auth

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

// RequireRole returns middleware that checks if the user holds at least one
// of the given permissions.
func RequireRole(roles ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if HasAnyRole(RolesFromContext(c.Request().Context()), roles...) {
				return next(c)
			}
			return echo.NewHTTPError(http.StatusForbidden,
				fmt.Sprintf("required permission: %s", strings.Join(roles, " or ")))
		}
	}
}

// HasAnyRole reports whether granted contains one of required.
func HasAnyRole(granted []string, required ...string) bool {
	for _, want := range required {
		for _, has := range granted {
			if has == want {
				return true
			}
		}
	}
	return false
}

// KnownPermission reports whether p is one of AllPermissions.
func KnownPermission(p string) bool {
	return HasAnyRole(AllPermissions, p)
}
