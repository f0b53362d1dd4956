package handler

import (
    "context"
    "net/http"
    "strconv"
    "time"

    "github.com/labstack/echo/v4"
    "github.com/sirupsen/logrus"

    "github.com/iliyamo/event-admission/internal/middleware"
    "github.com/iliyamo/event-admission/internal/model"
    "github.com/iliyamo/event-admission/internal/validation"
)

// ScanValidator decides QR scans.
type ScanValidator interface {
    Validate(ctx context.Context, req validation.Request) (validation.Result, error)
}

// ScanHistory lists recorded scans of a ticket.
type ScanHistory interface {
    ListByTicket(ctx context.Context, ticketID string, limit int) ([]model.Scan, error)
}

// ScanHandler exposes QR validation and the scan audit trail.
type ScanHandler struct {
    validator ScanValidator
    history   ScanHistory
}

// NewScanHandler panics on nil dependencies.
func NewScanHandler(v ScanValidator, h ScanHistory) *ScanHandler {
    if v == nil || h == nil {
        panic("nil dependency passed to NewScanHandler")
    }
    return &ScanHandler{validator: v, history: h}
}

type scanRequest struct {
    Credential string          `json:"credential_signature"`
    ScannerID  string          `json:"scanner_id"`
    Location   *model.Location `json:"location,omitempty"`
    ScannedAt  *time.Time      `json:"scanned_at,omitempty"`
}

// Submit handles POST /api/v1/scans.  Accepted and rejected scans both
// answer 200 with the decision; only infrastructure failures are errors,
// which scanners treat as "retry later".
func (h *ScanHandler) Submit(c echo.Context) error {
    var body scanRequest
    if err := c.Bind(&body); err != nil {
        return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
    }
    if body.Credential == "" {
        return c.JSON(http.StatusBadRequest, echo.Map{"error": "credential_signature is required"})
    }

    scanner := middleware.SubjectID(c)
    if body.ScannerID != "" && body.ScannerID != scanner {
        logrus.WithFields(logrus.Fields{"token": scanner, "body": body.ScannerID}).Warn("scanner id mismatch, using token subject")
    }
    if body.ScannedAt != nil {
        // Queued scans are decided at arrival time; the device time is
        // only kept for diagnosing sync lag.
        logrus.WithFields(logrus.Fields{
            "scanner_id": scanner,
            "lag":        time.Since(*body.ScannedAt).Round(time.Second).String(),
        }).Info("replayed offline scan")
    }

    res, err := h.validator.Validate(c.Request().Context(), validation.Request{
        Credential:     body.Credential,
        ScannerID:      scanner,
        OrganizationID: middleware.OrganizationID(c),
        Location:       body.Location,
    })
    if err != nil {
        return c.JSON(http.StatusServiceUnavailable, echo.Map{"error": "validation unavailable", "message": "try again later"})
    }
    return c.JSON(http.StatusOK, res)
}

type scanView struct {
    ID              string                `json:"id"`
    TicketID        *string               `json:"ticket_id,omitempty"`
    BandID          *string               `json:"band_id,omitempty"`
    ScannedBy       string                `json:"scanned_by"`
    Method          model.ScanMethod      `json:"method"`
    Location        *model.Location       `json:"location,omitempty"`
    IsValid         bool                  `json:"is_valid"`
    RejectionReason model.RejectionReason `json:"rejection_reason,omitempty"`
    Message         string                `json:"message"`
    CreatedAt       time.Time             `json:"created_at"`
}

// History handles GET /api/v1/tickets/:id/scans?limit=N, newest first.
func (h *ScanHandler) History(c echo.Context) error {
    id := c.Param("id")
    if id == "" {
        return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid ticket id"})
    }
    limit := 50
    if q := c.QueryParam("limit"); q != "" {
        n, err := strconv.Atoi(q)
        if err != nil || n <= 0 || n > 500 {
            return c.JSON(http.StatusBadRequest, echo.Map{"error": "limit must be between 1 and 500"})
        }
        limit = n
    }
    scans, err := h.history.ListByTicket(c.Request().Context(), id, limit)
    if err != nil {
        return c.JSON(http.StatusInternalServerError, echo.Map{"error": "database error"})
    }
    out := make([]scanView, 0, len(scans))
    for _, s := range scans {
        out = append(out, scanView{
            ID:              s.ID,
            TicketID:        s.TicketID,
            BandID:          s.BandID,
            ScannedBy:       s.ScannedBy,
            Method:          s.Method,
            Location:        s.Location,
            IsValid:         s.IsValid,
            RejectionReason: s.RejectionReason,
            Message:         s.Message,
            CreatedAt:       s.CreatedAt,
        })
    }
    return c.JSON(http.StatusOK, echo.Map{"ticket_id": id, "scans": out})
}
