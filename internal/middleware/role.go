package middleware

import (
    "net/http"

    "github.com/labstack/echo/v4"
)

// Roles carried in access tokens.
const (
    RoleScanner = "SCANNER"
    RoleAdmin   = "ADMIN"
)

// RequireRole rejects requests whose token role, stored by JWTAuth, is
// not one of roles.
func RequireRole(roles ...string) echo.MiddlewareFunc {
    allowed := make(map[string]bool, len(roles))
    for _, r := range roles {
        allowed[r] = true
    }
    return func(next echo.HandlerFunc) echo.HandlerFunc {
        return func(c echo.Context) error {
            if !allowed[Role(c)] {
                return c.JSON(http.StatusForbidden, echo.Map{"error": "forbidden"})
            }
            return next(c)
        }
    }
}
