package handler

import (
    "context"
    "encoding/hex"
    "errors"
    "net/http"

    "github.com/labstack/echo/v4"
    "github.com/sirupsen/logrus"

    "github.com/iliyamo/event-admission/internal/credential"
    "github.com/iliyamo/event-admission/internal/nfc"
    "github.com/iliyamo/event-admission/internal/repository"
)

// BandBinder runs the server side of tag binding.
type BandBinder interface {
    Prepare(ctx context.Context, bandID string) (nfc.Prepared, error)
    Read(ctx context.Context, bindingToken string, rec credential.TagRecord) (nfc.TagRead, error)
    Write(ctx context.Context, bindingToken string) (credential.TagRecord, error)
    Confirm(ctx context.Context, bindingToken string, response []byte, rec credential.TagRecord) (nfc.Confirmed, error)
}

// BindingHandler exposes the three step binding protocol to scanners.
type BindingHandler struct {
    binder BandBinder
}

func NewBindingHandler(b BandBinder) *BindingHandler {
    if b == nil {
        panic("nil binder passed to NewBindingHandler")
    }
    return &BindingHandler{binder: b}
}

// tagRecord is a tag record on the wire; Data is hex.
type tagRecord struct {
    Type string `json:"type"`
    Data string `json:"data"`
}

func (r tagRecord) decode() (credential.TagRecord, error) {
    data, err := hex.DecodeString(r.Data)
    if err != nil {
        return credential.TagRecord{}, err
    }
    return credential.TagRecord{Type: r.Type, Data: data}, nil
}

type bindingRequest struct {
    BindingToken string    `json:"binding_token"`
    Response     string    `json:"response,omitempty"`
    Record       tagRecord `json:"record"`
}

// bindingError maps binder failures onto status codes.
func bindingError(c echo.Context, err error) error {
    switch {
    case errors.Is(err, nfc.ErrUnavailable):
        return c.JSON(http.StatusServiceUnavailable, echo.Map{"error": "binding unavailable"})
    case errors.Is(err, nfc.ErrTokenInvalid), errors.Is(err, nfc.ErrTokenExpired):
        return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid or expired binding token"})
    case errors.Is(err, repository.ErrNotFound):
        return c.JSON(http.StatusNotFound, echo.Map{"error": "band not found"})
    case errors.Is(err, nfc.ErrBandInactive):
        return c.JSON(http.StatusConflict, echo.Map{"error": "band is not active"})
    case errors.Is(err, nfc.ErrChallengeExpired):
        return c.JSON(http.StatusGone, echo.Map{"error": "binding challenge expired, start again"})
    case errors.Is(err, nfc.ErrBadResponse):
        return c.JSON(http.StatusUnprocessableEntity, echo.Map{"error": "tag failed the challenge"})
    case errors.Is(err, nfc.ErrTagMismatch):
        return c.JSON(http.StatusUnprocessableEntity, echo.Map{"error": "tag does not carry the issued payload"})
    }
    logrus.WithError(err).Error("binding failed")
    return c.JSON(http.StatusInternalServerError, echo.Map{"error": "binding failed"})
}

// Prepare handles POST /api/v1/bands/:id/binding.
func (h *BindingHandler) Prepare(c echo.Context) error {
    id := c.Param("id")
    if id == "" {
        return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid band id"})
    }
    out, err := h.binder.Prepare(c.Request().Context(), id)
    if err != nil {
        return bindingError(c, err)
    }
    return c.JSON(http.StatusCreated, out)
}

// Read handles POST /api/v1/binding/read.
func (h *BindingHandler) Read(c echo.Context) error {
    var body bindingRequest
    if err := c.Bind(&body); err != nil || body.BindingToken == "" {
        return c.JSON(http.StatusBadRequest, echo.Map{"error": "binding_token and record are required"})
    }
    rec, err := body.Record.decode()
    if err != nil {
        return c.JSON(http.StatusBadRequest, echo.Map{"error": "record data must be hex"})
    }
    out, err := h.binder.Read(c.Request().Context(), body.BindingToken, rec)
    if err != nil {
        return bindingError(c, err)
    }
    return c.JSON(http.StatusOK, out)
}

// Write handles POST /api/v1/binding/write.
func (h *BindingHandler) Write(c echo.Context) error {
    var body bindingRequest
    if err := c.Bind(&body); err != nil || body.BindingToken == "" {
        return c.JSON(http.StatusBadRequest, echo.Map{"error": "binding_token is required"})
    }
    rec, err := h.binder.Write(c.Request().Context(), body.BindingToken)
    if err != nil {
        return bindingError(c, err)
    }
    return c.JSON(http.StatusOK, echo.Map{"record": tagRecord{Type: rec.Type, Data: hex.EncodeToString(rec.Data)}})
}

// Confirm handles POST /api/v1/binding/confirm.
func (h *BindingHandler) Confirm(c echo.Context) error {
    var body bindingRequest
    if err := c.Bind(&body); err != nil || body.BindingToken == "" || body.Response == "" {
        return c.JSON(http.StatusBadRequest, echo.Map{"error": "binding_token, response and record are required"})
    }
    resp, err := hex.DecodeString(body.Response)
    if err != nil {
        return c.JSON(http.StatusBadRequest, echo.Map{"error": "response must be hex"})
    }
    rec, err := body.Record.decode()
    if err != nil {
        return c.JSON(http.StatusBadRequest, echo.Map{"error": "record data must be hex"})
    }
    out, err := h.binder.Confirm(c.Request().Context(), body.BindingToken, resp, rec)
    if err != nil {
        return bindingError(c, err)
    }
    return c.JSON(http.StatusOK, out)
}
