package handler

import (
    "context"
    "errors"
    "net/http"
    "time"

    "github.com/labstack/echo/v4"
    "github.com/sirupsen/logrus"

    "github.com/iliyamo/event-admission/internal/credential"
    "github.com/iliyamo/event-admission/internal/lifecycle"
    "github.com/iliyamo/event-admission/internal/middleware"
    "github.com/iliyamo/event-admission/internal/model"
    "github.com/iliyamo/event-admission/internal/repository"
)

// Transitioner applies ticket status changes.
type Transitioner interface {
    Transition(ctx context.Context, req lifecycle.Request) (lifecycle.Change, error)
    TransitionBatch(ctx context.Context, reqs []lifecycle.Request) ([]lifecycle.Change, error)
}

// TicketLookup loads a ticket with its type and event.
type TicketLookup interface {
    GetSnapshot(ctx context.Context, id string) (model.TicketSnapshot, error)
}

// NonceRegistry records nonces handed out in credentials.
type NonceRegistry interface {
    Issue(ctx context.Context, ticketID, nonce string) error
}

// QRIssuer signs QR credentials.
type QRIssuer interface {
    IssueQR(c credential.QRCredential) (string, error)
}

// TicketHandler exposes the administrative ticket operations.
type TicketHandler struct {
    machine Transitioner
    tickets TicketLookup
    nonces  NonceRegistry
    signer  QRIssuer
}

func NewTicketHandler(m Transitioner, t TicketLookup, n NonceRegistry, s QRIssuer) *TicketHandler {
    if m == nil || t == nil || n == nil || s == nil {
        panic("nil dependency passed to NewTicketHandler")
    }
    return &TicketHandler{machine: m, tickets: t, nonces: n, signer: s}
}

type transitionBody struct {
    TicketID string             `json:"ticket_id,omitempty"`
    To       model.TicketStatus `json:"to"`
    Reason   string             `json:"reason"`
}

type changeView struct {
    TicketID string             `json:"ticket_id"`
    From     model.TicketStatus `json:"from"`
    To       model.TicketStatus `json:"to"`
    Changed  bool               `json:"changed"`
    At       time.Time          `json:"at"`
}

func viewChange(c lifecycle.Change) changeView {
    return changeView{TicketID: c.TicketID, From: c.From, To: c.To, Changed: c.Changed, At: c.At}
}

// transitionError maps lifecycle failures onto status codes.
func transitionError(c echo.Context, err error, extra echo.Map) error {
    body := echo.Map{}
    for k, v := range extra {
        body[k] = v
    }
    var ite *lifecycle.IllegalTransitionError
    switch {
    case errors.As(err, &ite):
        body["error"] = "illegal transition"
        body["ticket_id"], body["from"], body["to"] = ite.TicketID, ite.From, ite.To
        body["allowed"] = lifecycle.Allowed(ite.From)
        return c.JSON(http.StatusConflict, body)
    case errors.Is(err, repository.ErrNotFound):
        body["error"] = "ticket not found"
        return c.JSON(http.StatusNotFound, body)
    case errors.Is(err, repository.ErrConflict):
        body["error"] = "ticket changed concurrently, retry"
        return c.JSON(http.StatusConflict, body)
    }
    logrus.WithError(err).Error("ticket transition failed")
    body["error"] = "database error"
    return c.JSON(http.StatusInternalServerError, body)
}

// Transition handles POST /api/v1/tickets/:id/transition.
func (h *TicketHandler) Transition(c echo.Context) error {
    var body transitionBody
    if err := c.Bind(&body); err != nil || !body.To.Valid() {
        return c.JSON(http.StatusBadRequest, echo.Map{"error": "a known target status \"to\" is required"})
    }
    change, err := h.machine.Transition(c.Request().Context(), lifecycle.Request{
        TicketID: c.Param("id"),
        To:       body.To,
        Reason:   body.Reason,
        Actor:    middleware.SubjectID(c),
    })
    if err != nil {
        return transitionError(c, err, nil)
    }
    return c.JSON(http.StatusOK, viewChange(change))
}

// TransitionBatch handles POST /api/v1/tickets/transitions.  Either every
// transition applies or none does.
func (h *TicketHandler) TransitionBatch(c echo.Context) error {
    var body struct {
        Transitions []transitionBody `json:"transitions"`
    }
    if err := c.Bind(&body); err != nil || len(body.Transitions) == 0 {
        return c.JSON(http.StatusBadRequest, echo.Map{"error": "transitions is required"})
    }
    actor := middleware.SubjectID(c)
    reqs := make([]lifecycle.Request, 0, len(body.Transitions))
    for i, t := range body.Transitions {
        if t.TicketID == "" || !t.To.Valid() {
            return c.JSON(http.StatusBadRequest, echo.Map{"error": "ticket_id and a known status are required", "index": i})
        }
        reqs = append(reqs, lifecycle.Request{TicketID: t.TicketID, To: t.To, Reason: t.Reason, Actor: actor})
    }
    changes, err := h.machine.TransitionBatch(c.Request().Context(), reqs)
    if err != nil {
        var be *lifecycle.BatchError
        if errors.As(err, &be) {
            return transitionError(c, be.Err, echo.Map{"index": be.Index})
        }
        return transitionError(c, err, nil)
    }
    out := make([]changeView, 0, len(changes))
    for _, ch := range changes {
        out = append(out, viewChange(ch))
    }
    return c.JSON(http.StatusOK, echo.Map{"changes": out})
}

// IssueCredential handles POST /api/v1/tickets/:id/credential.  Each call
// mints a fresh nonce; the returned QR token stays valid until the event
// ends.
func (h *TicketHandler) IssueCredential(c echo.Context) error {
    ctx := c.Request().Context()
    id := c.Param("id")
    snap, err := h.tickets.GetSnapshot(ctx, id)
    switch {
    case errors.Is(err, repository.ErrNotFound):
        return c.JSON(http.StatusNotFound, echo.Map{"error": "ticket not found"})
    case err != nil:
        return c.JSON(http.StatusInternalServerError, echo.Map{"error": "database error"})
    }
    if org := middleware.OrganizationID(c); org != "" && org != snap.Event.OrganizationID {
        return c.JSON(http.StatusForbidden, echo.Map{"error": "ticket belongs to another organization"})
    }
    if snap.Ticket.Status.Terminal() {
        return c.JSON(http.StatusConflict, echo.Map{"error": "ticket is " + string(snap.Ticket.Status)})
    }

    nonce, err := credential.NewNonce()
    if err != nil {
        return c.JSON(http.StatusInternalServerError, echo.Map{"error": "nonce generation failed"})
    }
    if err := h.nonces.Issue(ctx, id, nonce); err != nil {
        return c.JSON(http.StatusInternalServerError, echo.Map{"error": "database error"})
    }
    token, err := h.signer.IssueQR(credential.QRCredential{
        TicketID:  id,
        EventID:   snap.Event.ID,
        Nonce:     nonce,
        ExpiresAt: snap.Event.EndsAt,
    })
    if err != nil {
        logrus.WithError(err).WithField("ticket_id", id).Error("sign credential failed")
        return c.JSON(http.StatusInternalServerError, echo.Map{"error": "signing failed"})
    }
    return c.JSON(http.StatusCreated, echo.Map{
        "ticket_id":  id,
        "credential": token,
        "expires_at": snap.Event.EndsAt,
    })
}
