package handler

import (
    "context"
    "encoding/hex"
    "encoding/json"
    "errors"
    "net/http"
    "net/http/httptest"
    "strings"
    "testing"
    "time"

    "github.com/labstack/echo/v4"
    "github.com/stretchr/testify/assert"
    "github.com/stretchr/testify/require"

    "github.com/iliyamo/event-admission/internal/credential"
    "github.com/iliyamo/event-admission/internal/lifecycle"
    "github.com/iliyamo/event-admission/internal/middleware"
    "github.com/iliyamo/event-admission/internal/model"
    "github.com/iliyamo/event-admission/internal/nfc"
    "github.com/iliyamo/event-admission/internal/repository"
    "github.com/iliyamo/event-admission/internal/validation"
)

// call runs h against a JSON request as scanner-1 of org-1.
func call(t *testing.T, h echo.HandlerFunc, method, target, body string, params ...string) (int, map[string]any) {
    t.Helper()
    e := echo.New()
    req := httptest.NewRequest(method, target, strings.NewReader(body))
    req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
    rec := httptest.NewRecorder()
    c := e.NewContext(req, rec)
    for i := 0; i+1 < len(params); i += 2 {
        c.SetParamNames(params[i])
        c.SetParamValues(params[i+1])
    }
    c.Set(middleware.CtxSubject, "scanner-1")
    c.Set(middleware.CtxOrg, "org-1")
    require.NoError(t, h(c))

    out := map[string]any{}
    if rec.Body.Len() > 0 {
        require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
    }
    return rec.Code, out
}

type fakeScans struct {
    got  validation.Request
    res  validation.Result
    err  error
    rows []model.Scan
}

func (f *fakeScans) Validate(_ context.Context, r validation.Request) (validation.Result, error) {
    f.got = r
    return f.res, f.err
}

func (f *fakeScans) ListByTicket(_ context.Context, _ string, limit int) ([]model.Scan, error) {
    if limit < len(f.rows) {
        return f.rows[:limit], nil
    }
    return f.rows, nil
}

func TestSubmitScan(t *testing.T) {
    f := &fakeScans{res: validation.Result{Accepted: false, Reason: model.ReasonReplayDetected, Message: "already used"}}
    h := NewScanHandler(f, f)

    code, body := call(t, h.Submit, http.MethodPost, "/api/v1/scans",
        `{"credential_signature":"tok","scanner_id":"other","location":{"latitude":1,"longitude":2}}`)
    assert.Equal(t, http.StatusOK, code)
    assert.Equal(t, false, body["success"])
    assert.Equal(t, "replay_detected", body["rejection_reason"])

    assert.Equal(t, "tok", f.got.Credential)
    assert.Equal(t, "scanner-1", f.got.ScannerID)
    assert.Equal(t, "org-1", f.got.OrganizationID)
    require.NotNil(t, f.got.Location)
    assert.True(t, f.got.ScanTime.IsZero())
}

func TestSubmitScanErrors(t *testing.T) {
    f := &fakeScans{err: errors.New("db down")}
    h := NewScanHandler(f, f)

    code, _ := call(t, h.Submit, http.MethodPost, "/api/v1/scans", `{}`)
    assert.Equal(t, http.StatusBadRequest, code)

    code, body := call(t, h.Submit, http.MethodPost, "/api/v1/scans", `{"credential_signature":"tok"}`)
    assert.Equal(t, http.StatusServiceUnavailable, code)
    assert.Equal(t, "validation unavailable", body["error"])
}

func TestScanHistory(t *testing.T) {
    id := "t-1"
    f := &fakeScans{rows: []model.Scan{
        {ID: "s2", TicketID: &id, Method: model.ScanMethodQR, IsValid: false, RejectionReason: model.ReasonReplayDetected},
        {ID: "s1", TicketID: &id, Method: model.ScanMethodQR, IsValid: true},
    }}
    h := NewScanHandler(f, f)

    code, body := call(t, h.History, http.MethodGet, "/api/v1/tickets/t-1/scans?limit=1", "", "id", "t-1")
    require.Equal(t, http.StatusOK, code)
    scans := body["scans"].([]any)
    require.Len(t, scans, 1)
    assert.Equal(t, "s2", scans[0].(map[string]any)["id"])

    code, _ = call(t, h.History, http.MethodGet, "/api/v1/tickets/t-1/scans?limit=0", "", "id", "t-1")
    assert.Equal(t, http.StatusBadRequest, code)
}

type fakeNFC struct {
    got nfc.ValidationRequest
    err error
}

func (f *fakeNFC) Validate(_ context.Context, r nfc.ValidationRequest) (nfc.ValidationResult, error) {
    f.got = r
    return nfc.ValidationResult{Valid: true, BandID: "b-1", SessionToken: "sess"}, f.err
}

func (f *fakeNFC) EndUsageSession(_ context.Context, token string) (model.UsageSession, error) {
    if token != "sess" {
        return model.UsageSession{}, repository.ErrNotFound
    }
    now := time.Now()
    return model.UsageSession{BandID: "b-1", SessionToken: token, StartedAt: now, EndedAt: &now}, nil
}

func TestNFCValidate(t *testing.T) {
    f := &fakeNFC{}
    h := NewNFCHandler(f, f)

    code, body := call(t, h.Validate, http.MethodPost, "/api/v1/nfc/validate",
        `{"security_token":"st","nonce":"n1","event_id":"e-1","scanner_id":"spoofed"}`)
    assert.Equal(t, http.StatusOK, code)
    assert.Equal(t, true, body["valid"])
    assert.Equal(t, "scanner-1", f.got.ScannerID)

    code, _ = call(t, h.Validate, http.MethodPost, "/api/v1/nfc/validate", `{"security_token":"st"}`)
    assert.Equal(t, http.StatusBadRequest, code)

    f.err = nfc.ErrUnavailable
    code, _ = call(t, h.Validate, http.MethodPost, "/api/v1/nfc/validate", `{"security_token":"st","event_id":"e-1"}`)
    assert.Equal(t, http.StatusServiceUnavailable, code)
}

func TestEndSession(t *testing.T) {
    f := &fakeNFC{}
    h := NewNFCHandler(f, f)

    code, body := call(t, h.EndSession, http.MethodPost, "/", "", "token", "sess")
    assert.Equal(t, http.StatusOK, code)
    assert.Equal(t, "b-1", body["band_id"])

    code, _ = call(t, h.EndSession, http.MethodPost, "/", "", "token", "nope")
    assert.Equal(t, http.StatusNotFound, code)
}

type fakeBinder struct {
    rec      credential.TagRecord
    response []byte
    err      error
}

func (f *fakeBinder) Prepare(_ context.Context, id string) (nfc.Prepared, error) {
    return nfc.Prepared{BandID: id, BindingToken: "bt", Challenge: "aa"}, f.err
}

func (f *fakeBinder) Read(_ context.Context, _ string, rec credential.TagRecord) (nfc.TagRead, error) {
    f.rec = rec
    return nfc.TagRead{State: credential.TagUnbound}, f.err
}

func (f *fakeBinder) Write(context.Context, string) (credential.TagRecord, error) {
    return credential.TagRecord{Type: credential.RecordType, Data: []byte{1, 2}}, f.err
}

func (f *fakeBinder) Confirm(_ context.Context, _ string, resp []byte, rec credential.TagRecord) (nfc.Confirmed, error) {
    f.response, f.rec = resp, rec
    return nfc.Confirmed{BandID: "b-1", SecurityToken: "st"}, f.err
}

func TestBindingRoundTrip(t *testing.T) {
    f := &fakeBinder{}
    h := NewBindingHandler(f)

    code, body := call(t, h.Prepare, http.MethodPost, "/", "", "id", "b-1")
    assert.Equal(t, http.StatusCreated, code)
    assert.Equal(t, "bt", body["binding_token"])

    code, body = call(t, h.Read, http.MethodPost, "/", `{"binding_token":"bt","record":{"type":"x","data":"0a0b"}}`)
    assert.Equal(t, http.StatusOK, code)
    assert.Equal(t, "unbound", body["state"])
    assert.Equal(t, []byte{0x0a, 0x0b}, f.rec.Data)

    code, body = call(t, h.Write, http.MethodPost, "/", `{"binding_token":"bt"}`)
    assert.Equal(t, http.StatusOK, code)
    assert.Equal(t, hex.EncodeToString([]byte{1, 2}), body["record"].(map[string]any)["data"])

    code, body = call(t, h.Confirm, http.MethodPost, "/", `{"binding_token":"bt","response":"ff","record":{"type":"x","data":"0102"}}`)
    assert.Equal(t, http.StatusOK, code)
    assert.Equal(t, "st", body["security_token"])
    assert.Equal(t, []byte{0xff}, f.response)
}

func TestBindingErrors(t *testing.T) {
    cases := map[error]int{
        nfc.ErrTokenExpired:     http.StatusUnauthorized,
        repository.ErrNotFound:  http.StatusNotFound,
        nfc.ErrBandInactive:     http.StatusConflict,
        nfc.ErrChallengeExpired: http.StatusGone,
        nfc.ErrBadResponse:      http.StatusUnprocessableEntity,
        errors.New("redis"):     http.StatusInternalServerError,
    }
    for err, want := range cases {
        h := NewBindingHandler(&fakeBinder{err: err})
        code, _ := call(t, h.Confirm, http.MethodPost, "/", `{"binding_token":"bt","response":"ff","record":{"type":"x","data":""}}`)
        assert.Equal(t, want, code, err.Error())
    }

    h := NewBindingHandler(&fakeBinder{})
    code, _ := call(t, h.Confirm, http.MethodPost, "/", `{"binding_token":"bt","response":"zz"}`)
    assert.Equal(t, http.StatusBadRequest, code)
}

type fakeTickets struct {
    reqs []lifecycle.Request
    err  error
    snap model.TicketSnapshot
    nonc []string
}

func (f *fakeTickets) Transition(_ context.Context, r lifecycle.Request) (lifecycle.Change, error) {
    f.reqs = append(f.reqs, r)
    return lifecycle.Change{TicketID: r.TicketID, From: model.TicketIssued, To: r.To, Changed: true}, f.err
}

func (f *fakeTickets) TransitionBatch(_ context.Context, rs []lifecycle.Request) ([]lifecycle.Change, error) {
    f.reqs = append(f.reqs, rs...)
    if f.err != nil {
        return nil, f.err
    }
    out := make([]lifecycle.Change, len(rs))
    for i, r := range rs {
        out[i] = lifecycle.Change{TicketID: r.TicketID, To: r.To, Changed: true}
    }
    return out, nil
}

func (f *fakeTickets) GetSnapshot(_ context.Context, id string) (model.TicketSnapshot, error) {
    if id != f.snap.Ticket.ID {
        return model.TicketSnapshot{}, repository.ErrNotFound
    }
    return f.snap, nil
}

func (f *fakeTickets) Issue(_ context.Context, _, nonce string) error {
    f.nonc = append(f.nonc, nonce)
    return nil
}

func (f *fakeTickets) IssueQR(c credential.QRCredential) (string, error) {
    return c.TicketID + "." + c.Nonce, nil
}

func TestTransition(t *testing.T) {
    f := &fakeTickets{}
    h := NewTicketHandler(f, f, f, f)

    code, body := call(t, h.Transition, http.MethodPost, "/", `{"to":"revoked","reason":"fraud"}`, "id", "t-1")
    assert.Equal(t, http.StatusOK, code)
    assert.Equal(t, "revoked", body["to"])
    require.Len(t, f.reqs, 1)
    assert.Equal(t, "scanner-1", f.reqs[0].Actor)
    assert.Equal(t, "fraud", f.reqs[0].Reason)

    code, _ = call(t, h.Transition, http.MethodPost, "/", `{"to":"teleported"}`, "id", "t-1")
    assert.Equal(t, http.StatusBadRequest, code)

    f.err = &lifecycle.IllegalTransitionError{TicketID: "t-1", From: model.TicketRevoked, To: model.TicketPaid}
    code, body = call(t, h.Transition, http.MethodPost, "/", `{"to":"paid"}`, "id", "t-1")
    assert.Equal(t, http.StatusConflict, code)
    assert.Equal(t, "revoked", body["from"])

    f.err = repository.ErrNotFound
    code, _ = call(t, h.Transition, http.MethodPost, "/", `{"to":"paid"}`, "id", "t-9")
    assert.Equal(t, http.StatusNotFound, code)
}

func TestTransitionBatchReportsFailingIndex(t *testing.T) {
    f := &fakeTickets{err: &lifecycle.BatchError{Index: 1, Err: &lifecycle.IllegalTransitionError{
        TicketID: "t-2", From: model.TicketRefunded, To: model.TicketUsed}}}
    h := NewTicketHandler(f, f, f, f)

    code, body := call(t, h.TransitionBatch, http.MethodPost, "/",
        `{"transitions":[{"ticket_id":"t-1","to":"paid"},{"ticket_id":"t-2","to":"used"}]}`)
    assert.Equal(t, http.StatusConflict, code)
    assert.Equal(t, float64(1), body["index"])

    f.err = nil
    code, body = call(t, h.TransitionBatch, http.MethodPost, "/",
        `{"transitions":[{"ticket_id":"t-1","to":"paid"},{"ticket_id":"t-2","to":"used"}]}`)
    assert.Equal(t, http.StatusOK, code)
    assert.Len(t, body["changes"], 2)
}

func TestIssueCredential(t *testing.T) {
    ends := time.Date(2026, 7, 1, 23, 0, 0, 0, time.UTC)
    f := &fakeTickets{snap: model.TicketSnapshot{
        Ticket: model.Ticket{ID: "t-1", Status: model.TicketPaid},
        Event:  model.Event{ID: "e-1", OrganizationID: "org-1", EndsAt: ends},
    }}
    h := NewTicketHandler(f, f, f, f)

    code, body := call(t, h.IssueCredential, http.MethodPost, "/", "", "id", "t-1")
    require.Equal(t, http.StatusCreated, code)
    require.Len(t, f.nonc, 1)
    assert.Equal(t, "t-1."+f.nonc[0], body["credential"])

    f.snap.Event.OrganizationID = "org-2"
    code, _ = call(t, h.IssueCredential, http.MethodPost, "/", "", "id", "t-1")
    assert.Equal(t, http.StatusForbidden, code)

    f.snap.Event.OrganizationID = "org-1"
    f.snap.Ticket.Status = model.TicketRefunded
    code, _ = call(t, h.IssueCredential, http.MethodPost, "/", "", "id", "t-1")
    assert.Equal(t, http.StatusConflict, code)

    code, _ = call(t, h.IssueCredential, http.MethodPost, "/", "", "id", "t-404")
    assert.Equal(t, http.StatusNotFound, code)
}

type pinger struct{ err error }

func (p pinger) PingContext(context.Context) error { return p.err }

func TestHealth(t *testing.T) {
    h := NewHealthHandler(pinger{}, nil)
    code, body := call(t, h.Health, http.MethodGet, "/healthz", "")
    assert.Equal(t, http.StatusOK, code)
    assert.Equal(t, "unavailable", body["nfc"])

    h = NewHealthHandler(pinger{}, func(context.Context) error { return nil })
    _, body = call(t, h.Health, http.MethodGet, "/healthz", "")
    assert.Equal(t, "available", body["nfc"])

    h = NewHealthHandler(pinger{err: errors.New("down")}, nil)
    code, _ = call(t, h.Health, http.MethodGet, "/healthz", "")
    assert.Equal(t, http.StatusServiceUnavailable, code)
}
