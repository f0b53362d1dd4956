package router // package router registers the HTTP routes of the admission API

import (
    "github.com/labstack/echo/v4"
    "github.com/prometheus/client_golang/prometheus/promhttp"

    "github.com/iliyamo/event-admission/internal/handler"
    "github.com/iliyamo/event-admission/internal/middleware"
)

// Handlers bundles everything the routes dispatch to.
type Handlers struct {
    Health  *handler.HealthHandler
    Scans   *handler.ScanHandler
    NFC     *handler.NFCHandler
    Binding *handler.BindingHandler
    Tickets *handler.TicketHandler
}

// RegisterRoutes registers the unauthenticated probes: /healthz for
// load balancers and scanners deciding whether they are online, and
// /metrics for Prometheus.
func RegisterRoutes(e *echo.Echo, h Handlers) {
    e.GET("/healthz", h.Health.Health)
    e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
}

// RegisterAPI registers the authenticated API under /api/v1.  Every
// route needs a valid access token; limit is applied after
// authentication so buckets can key on the token subject.
func RegisterAPI(e *echo.Echo, h Handlers, jwtSecret string, limit echo.MiddlewareFunc) {
    api := e.Group("/api/v1", middleware.JWTAuth(jwtSecret), limit)

    // Scanner devices and gate staff.
    scan := api.Group("", middleware.RequireRole(middleware.RoleScanner, middleware.RoleAdmin))
    scan.POST("/scans", h.Scans.Submit)
    scan.POST("/nfc/validate", h.NFC.Validate)
    scan.POST("/nfc/sessions/:token/end", h.NFC.EndSession)
    scan.POST("/bands/:id/binding", h.Binding.Prepare)
    scan.POST("/binding/read", h.Binding.Read)
    scan.POST("/binding/write", h.Binding.Write)
    scan.POST("/binding/confirm", h.Binding.Confirm)

    // Operators.
    admin := api.Group("", middleware.RequireRole(middleware.RoleAdmin))
    admin.GET("/tickets/:id/scans", h.Scans.History)
    admin.POST("/tickets/:id/transition", h.Tickets.Transition)
    admin.POST("/tickets/transitions", h.Tickets.TransitionBatch)
    admin.POST("/tickets/:id/credential", h.Tickets.IssueCredential)
}
