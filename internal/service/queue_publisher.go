// Package service publishes admission domain events to RabbitMQ.  Errors
// are logged and never interrupt the request that produced the event.
package service

import (
    "context"
    "encoding/json"
    "strings"
    "time"

    amqp "github.com/rabbitmq/amqp091-go"
    "github.com/sirupsen/logrus"

    "github.com/iliyamo/event-admission/internal/lifecycle"
    "github.com/iliyamo/event-admission/internal/model"
    "github.com/iliyamo/event-admission/internal/nfc"
    q "github.com/iliyamo/event-admission/internal/queue"
    "github.com/iliyamo/event-admission/internal/validation"
)

// publishTimeout bounds one publish including the dial.
const publishTimeout = 5 * time.Second

// Publisher sends events to durable queues on the default exchange.  A
// Publisher with an empty url drops every event.
type Publisher struct {
    url string
    // async runs publishes in their own goroutine; tests turn it off.
    async bool
    send  func(ctx context.Context, queue string, body []byte) error
}

func NewPublisher(url string) *Publisher {
    p := &Publisher{url: url, async: true}
    p.send = p.dialAndPublish
    return p
}

// Publish marshals event and sends it to queue.
func (p *Publisher) Publish(ctx context.Context, queue string, event any) error {
    if p == nil || p.url == "" {
        return nil
    }
    body, err := json.Marshal(event)
    if err != nil {
        logrus.WithError(err).WithField("queue", queue).Error("rabbitmq: marshal event failed")
        return err
    }
    return p.send(ctx, queue, body)
}

func (p *Publisher) fire(queue string, event any) {
    run := func() {
        ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
        defer cancel()
        _ = p.Publish(ctx, queue, event)
    }
    if p.async {
        go run()
        return
    }
    run()
}

// dialAndPublish opens a connection per message.  Event volume is one per
// scan, well below what makes a pooled channel worthwhile.
func (p *Publisher) dialAndPublish(ctx context.Context, queue string, body []byte) error {
    conn, err := amqp.Dial(p.url)
    if err != nil {
        logrus.WithError(err).Warn("rabbitmq: dial failed")
        return err
    }
    defer func() { _ = conn.Close() }()

    ch, err := conn.Channel()
    if err != nil {
        logrus.WithError(err).Warn("rabbitmq: channel open failed")
        return err
    }
    defer func() { _ = ch.Close() }()

    if _, err := ch.QueueDeclare(
        queue, // name
        true,  // durable
        false, // autoDelete
        false, // exclusive
        false, // noWait
        nil,   // args
    ); err != nil {
        logrus.WithError(err).WithField("queue", queue).Warn("rabbitmq: queue declare failed")
        return err
    }

    pub := amqp.Publishing{
        ContentType:  "application/json",
        DeliveryMode: amqp.Persistent,
        Timestamp:    time.Now().UTC(),
        Body:         body,
    }
    if err := ch.PublishWithContext(ctx, "", queue, false, false, pub); err != nil {
        logrus.WithError(err).WithField("queue", queue).Warn("rabbitmq: publish failed")
        return err
    }
    return nil
}

// ScanEvent converts a scan row into its broker payload.
func ScanEvent(scan model.Scan, eventID string, scanCount int) q.ScanRecordedEvent {
    ev := q.ScanRecordedEvent{
        ScanID:          scan.ID,
        ScannerID:       scan.ScannedBy,
        Method:          string(scan.Method),
        Accepted:        scan.IsValid,
        RejectionReason: string(scan.RejectionReason),
        EventID:         eventID,
        ScanCount:       scanCount,
        ScannedAt:       scan.CreatedAt.UTC().Format(time.RFC3339),
    }
    if scan.TicketID != nil {
        ev.TicketID = *scan.TicketID
    }
    if scan.BandID != nil {
        ev.BandID = *scan.BandID
    }
    if scan.Location != nil {
        lat, lng := scan.Location.Latitude, scan.Location.Longitude
        ev.Latitude, ev.Longitude = &lat, &lng
    }
    return ev
}

// ScanRecorded implements validation.Notifier.
func (p *Publisher) ScanRecorded(_ context.Context, scan model.Scan, res validation.Result) {
    p.fire(q.ScansQueue, ScanEvent(scan, res.EventID, res.ScanCount))
}

// BandScanned implements nfc.ScanNotifier.
func (p *Publisher) BandScanned(_ context.Context, scan model.Scan, _ nfc.ValidationResult) {
    p.fire(q.ScansQueue, ScanEvent(scan, "", 0))
}

// TicketTransitioned implements lifecycle.Notifier.
func (p *Publisher) TicketTransitioned(_ context.Context, c lifecycle.Change) {
    p.fire(q.TransitionsQueue, q.TicketTransitionedEvent{
        TicketID: c.TicketID,
        From:     string(c.From),
        To:       string(c.To),
        Reason:   c.Reason,
        Actor:    c.Actor,
        At:       c.At.UTC().Format(time.RFC3339),
    })
}

// CloningDetected implements nfc.AlertNotifier.
func (p *Publisher) CloningDetected(_ context.Context, band model.NFCBand, d nfc.Detection) {
    p.fire(q.AlertsQueue, q.CloningAlertEvent{
        BandID:     band.ID,
        UserID:     band.UserID,
        Confidence: string(d.Confidence),
        Reason:     strings.Join(d.Reasons, "; "),
        DetectedAt: time.Now().UTC().Format(time.RFC3339),
    })
}
