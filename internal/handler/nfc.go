package handler

import (
    "context"
    "errors"
    "net/http"

    "github.com/labstack/echo/v4"
    "github.com/sirupsen/logrus"

    "github.com/iliyamo/event-admission/internal/middleware"
    "github.com/iliyamo/event-admission/internal/model"
    "github.com/iliyamo/event-admission/internal/nfc"
    "github.com/iliyamo/event-admission/internal/repository"
)

// BandValidator decides NFC band presentations.
type BandValidator interface {
    Validate(ctx context.Context, req nfc.ValidationRequest) (nfc.ValidationResult, error)
}

// SessionEnder closes usage sessions on exit scans.
type SessionEnder interface {
    EndUsageSession(ctx context.Context, sessionToken string) (model.UsageSession, error)
}

// NFCHandler exposes band validation and session end.
type NFCHandler struct {
    validator BandValidator
    sessions  SessionEnder
}

func NewNFCHandler(v BandValidator, s SessionEnder) *NFCHandler {
    if v == nil || s == nil {
        panic("nil dependency passed to NewNFCHandler")
    }
    return &NFCHandler{validator: v, sessions: s}
}

// Validate handles POST /api/v1/nfc/validate.
func (h *NFCHandler) Validate(c echo.Context) error {
    var req nfc.ValidationRequest
    if err := c.Bind(&req); err != nil {
        return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
    }
    if req.SecurityToken == "" || req.EventID == "" {
        return c.JSON(http.StatusBadRequest, echo.Map{"error": "security_token and event_id are required"})
    }
    req.ScannerID = middleware.SubjectID(c)

    res, err := h.validator.Validate(c.Request().Context(), req)
    switch {
    case errors.Is(err, nfc.ErrUnavailable):
        return c.JSON(http.StatusServiceUnavailable, echo.Map{"error": "nfc validation unavailable"})
    case err != nil:
        logrus.WithError(err).WithField("scanner_id", req.ScannerID).Error("nfc validation failed")
        return c.JSON(http.StatusInternalServerError, echo.Map{"error": "validation failed"})
    }
    return c.JSON(http.StatusOK, res)
}

// EndSession handles POST /api/v1/nfc/sessions/:token/end, the exit scan
// of a band.
func (h *NFCHandler) EndSession(c echo.Context) error {
    token := c.Param("token")
    if token == "" {
        return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid session token"})
    }
    s, err := h.sessions.EndUsageSession(c.Request().Context(), token)
    switch {
    case errors.Is(err, repository.ErrNotFound):
        return c.JSON(http.StatusNotFound, echo.Map{"error": "session not found"})
    case err != nil:
        return c.JSON(http.StatusInternalServerError, echo.Map{"error": "database error"})
    }
    return c.JSON(http.StatusOK, echo.Map{
        "session_token": s.SessionToken,
        "band_id":       s.BandID,
        "started_at":    s.StartedAt,
        "ended_at":      s.EndedAt,
    })
}
