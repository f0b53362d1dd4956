package queue

import (
    "context"
    "encoding/json"
    "errors"
    "fmt"
    "os"
    "path/filepath"
    "time"

    amqp "github.com/rabbitmq/amqp091-go"
    "github.com/sirupsen/logrus"
)

// AlertHandler processes one cloning alert.  Returning an error rejects
// the delivery without requeueing it.
type AlertHandler func(ctx context.Context, ev CloningAlertEvent) error

// StartAlertConsumer connects to RabbitMQ, declares the alerts queue and
// hands every delivery to handle.  It reconnects with exponential backoff
// and only returns once ctx is cancelled.
func StartAlertConsumer(ctx context.Context, url string, handle AlertHandler) error {
    backoff := time.Second
    for {
        if ctx.Err() != nil {
            return ctx.Err()
        }
        conn, err := amqp.Dial(url)
        if err != nil {
            logrus.WithError(err).WithField("retry_in", backoff).Warn("alert-consumer: failed to dial broker")
            if !sleep(ctx, backoff) {
                return ctx.Err()
            }
            if backoff < 30*time.Second {
                backoff *= 2
            }
            continue
        }
        backoff = time.Second // reset after successful connect

        err = consumeLoop(ctx, conn, handle)
        _ = conn.Close()
        if ctx.Err() != nil {
            return ctx.Err()
        }
        logrus.WithError(err).Warn("alert-consumer: consume loop ended; reconnecting")
        if !sleep(ctx, 2*time.Second) {
            return ctx.Err()
        }
    }
}

func sleep(ctx context.Context, d time.Duration) bool {
    t := time.NewTimer(d)
    defer t.Stop()
    select {
    case <-ctx.Done():
        return false
    case <-t.C:
        return true
    }
}

func consumeLoop(ctx context.Context, conn *amqp.Connection, handle AlertHandler) error {
    ch, err := conn.Channel()
    if err != nil {
        return fmt.Errorf("channel open: %w", err)
    }
    defer func() { _ = ch.Close() }()

    if err := ch.Qos(50, 0, false); err != nil {
        logrus.WithError(err).Warn("alert-consumer: set QoS failed")
    }
    if _, err := ch.QueueDeclare(AlertsQueue, true, false, false, false, nil); err != nil {
        return fmt.Errorf("queue declare: %w", err)
    }
    msgs, err := ch.Consume(AlertsQueue, "", false, false, false, false, nil)
    if err != nil {
        return fmt.Errorf("queue consume: %w", err)
    }

    for {
        select {
        case <-ctx.Done():
            return ctx.Err()
        case d, ok := <-msgs:
            if !ok {
                return errors.New("deliveries channel closed")
            }
            if err := handleDelivery(ctx, d.Body, handle); err != nil {
                logrus.WithError(err).Error("alert-consumer: handle message failed")
                _ = d.Nack(false, false) // reject, do not requeue to avoid tight loops
                continue
            }
            _ = d.Ack(false)
        }
    }
}

func handleDelivery(ctx context.Context, body []byte, handle AlertHandler) error {
    var ev CloningAlertEvent
    if err := json.Unmarshal(body, &ev); err != nil {
        return fmt.Errorf("unmarshal: %w", err)
    }
    return handle(ctx, ev)
}

// AlertLogWriter returns a handler that appends each alert as one line to
// dir/alerts.log and logs it at warn level.
func AlertLogWriter(dir string) AlertHandler {
    return func(_ context.Context, ev CloningAlertEvent) error {
        logrus.WithFields(logrus.Fields{
            "band_id":    ev.BandID,
            "user_id":    ev.UserID,
            "confidence": ev.Confidence,
        }).Warn("cloning alert: " + ev.Reason)

        if err := os.MkdirAll(dir, 0o755); err != nil {
            return fmt.Errorf("mkdir %s: %w", dir, err)
        }
        f, err := os.OpenFile(filepath.Join(dir, "alerts.log"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
        if err != nil {
            return fmt.Errorf("open log file: %w", err)
        }
        defer f.Close()

        line := fmt.Sprintf("[%s] Band deactivated | band_id=%s | user_id=%s | confidence=%s | reason=%q\n",
            ev.DetectedAt, ev.BandID, ev.UserID, ev.Confidence, ev.Reason)
        if _, err := f.WriteString(line); err != nil {
            return fmt.Errorf("write log: %w", err)
        }
        return nil
    }
}
