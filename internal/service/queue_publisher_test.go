package service

import (
    "context"
    "encoding/json"
    "testing"
    "time"

    "github.com/stretchr/testify/assert"
    "github.com/stretchr/testify/require"

    "github.com/iliyamo/event-admission/internal/lifecycle"
    "github.com/iliyamo/event-admission/internal/model"
    "github.com/iliyamo/event-admission/internal/nfc"
    q "github.com/iliyamo/event-admission/internal/queue"
    "github.com/iliyamo/event-admission/internal/validation"
)

type sent struct {
    queue string
    body  []byte
}

func capture(p *Publisher) *[]sent {
    var out []sent
    p.async = false
    p.send = func(_ context.Context, queue string, body []byte) error {
        out = append(out, sent{queue, body})
        return nil
    }
    return &out
}

func TestPublisherRoutesEvents(t *testing.T) {
    p := NewPublisher("amqp://test")
    out := capture(p)
    ctx := context.Background()

    tid := "t1"
    scan := model.Scan{
        ID: "s1", TicketID: &tid, ScannedBy: "gate-1", Method: model.ScanMethodQR,
        Location: &model.Location{Latitude: 1.5, Longitude: 2.5}, IsValid: true,
        CreatedAt: time.Date(2026, 6, 1, 18, 0, 0, 0, time.UTC),
    }
    p.ScanRecorded(ctx, scan, validation.Result{Accepted: true, EventID: "ev1", ScanCount: 1})
    p.TicketTransitioned(ctx, lifecycle.Change{TicketID: "t1", From: model.TicketPaid, To: model.TicketUsed, Actor: "gate-1"})
    d := nfc.Detection{IsCloned: true, Confidence: nfc.ConfidenceHigh, Reasons: []string{"a", "b"}}
    p.CloningDetected(ctx, model.NFCBand{ID: "b1", UserID: "u1"}, d)

    require.Len(t, *out, 3)
    assert.Equal(t, q.ScansQueue, (*out)[0].queue)
    assert.Equal(t, q.TransitionsQueue, (*out)[1].queue)
    assert.Equal(t, q.AlertsQueue, (*out)[2].queue)

    var ev q.ScanRecordedEvent
    require.NoError(t, json.Unmarshal((*out)[0].body, &ev))
    assert.Equal(t, "t1", ev.TicketID)
    assert.Equal(t, "ev1", ev.EventID)
    require.NotNil(t, ev.Latitude)
    assert.Equal(t, 1.5, *ev.Latitude)
    assert.Equal(t, "2026-06-01T18:00:00Z", ev.ScannedAt)

    var alert q.CloningAlertEvent
    require.NoError(t, json.Unmarshal((*out)[2].body, &alert))
    assert.Equal(t, "a; b", alert.Reason)
    assert.Equal(t, "high", alert.Confidence)
}

func TestPublisherDisabled(t *testing.T) {
    p := NewPublisher("")
    out := capture(p)
    require.NoError(t, p.Publish(context.Background(), q.ScansQueue, map[string]string{"a": "b"}))
    assert.Empty(t, *out)

    var nilPub *Publisher
    assert.NoError(t, nilPub.Publish(context.Background(), q.ScansQueue, nil))
}
