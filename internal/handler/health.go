package handler // package handler contains the HTTP handlers of the admission API

import (
    "context"
    "net/http"
    "time"

    "github.com/labstack/echo/v4"
)

// Pinger is anything that can report its own reachability.
type Pinger interface {
    PingContext(ctx context.Context) error
}

// HealthHandler answers liveness probes.  Scanners use /healthz to decide
// whether they are online, so it fails only when the database is down.
type HealthHandler struct {
    db    Pinger
    redis func(ctx context.Context) error // nil when Redis is not configured
}

// NewHealthHandler builds a HealthHandler.  redisPing may be nil.
func NewHealthHandler(db Pinger, redisPing func(ctx context.Context) error) *HealthHandler {
    if db == nil {
        panic("nil database passed to NewHealthHandler")
    }
    return &HealthHandler{db: db, redis: redisPing}
}

// Health handles GET /healthz.
func (h *HealthHandler) Health(c echo.Context) error {
    ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
    defer cancel()

    if err := h.db.PingContext(ctx); err != nil {
        return c.JSON(http.StatusServiceUnavailable, echo.Map{"status": "down", "database": err.Error()})
    }
    body := echo.Map{"status": "ok", "nfc": "available"}
    if h.redis == nil || h.redis(ctx) != nil {
        // QR admission keeps working; NFC validation reports unavailable.
        body["nfc"] = "unavailable"
    }
    return c.JSON(http.StatusOK, body)
}
