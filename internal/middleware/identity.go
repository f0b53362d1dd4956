package middleware

// identity.go reads the caller identity stored by JWTAuth.  Missing
// values come back empty; routes that need them sit behind JWTAuth.

import "github.com/labstack/echo/v4"

func str(c echo.Context, key string) string {
    s, _ := c.Get(key).(string)
    return s
}

// SubjectID is the scanner id or admin user id of the caller.
func SubjectID(c echo.Context) string { return str(c, CtxSubject) }

// Role is the caller's role claim.
func Role(c echo.Context) string { return str(c, CtxRole) }

// OrganizationID is the organization the caller acts for.
func OrganizationID(c echo.Context) string { return str(c, CtxOrg) }
