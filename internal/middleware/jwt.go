package middleware // reusable HTTP middleware for the admission API

import (
    "net/http"
    "strings"

    "github.com/golang-jwt/jwt/v5"
    "github.com/labstack/echo/v4"

    "github.com/iliyamo/event-admission/internal/utils"
)

// Context keys set by JWTAuth.
const (
    CtxSubject = "subject_id"
    CtxRole    = "role"
    CtxOrg     = "org_id"
)

// JWTAuth returns an Echo middleware that validates a Bearer access token
// issued by utils.NewAccessToken and stores its subject, role and
// organization in the request context.  Scanners authenticate with the
// scanner id as subject.
func JWTAuth(secret string) echo.MiddlewareFunc {
    return func(next echo.HandlerFunc) echo.HandlerFunc {
        return func(c echo.Context) error {
            auth := c.Request().Header.Get("Authorization")
            if !strings.HasPrefix(auth, "Bearer ") {
                return c.JSON(http.StatusUnauthorized, echo.Map{"error": "missing bearer token"})
            }
            raw := strings.TrimPrefix(auth, "Bearer ")

            claims := &utils.AccessClaims{}
            tok, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
                return []byte(secret), nil
            }, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
            if err != nil || !tok.Valid || claims.Subject == "" {
                return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid token"})
            }

            c.Set(CtxSubject, claims.Subject)
            c.Set(CtxRole, claims.Role)
            c.Set(CtxOrg, claims.OrganizationID)
            return next(c)
        }
    }
}
