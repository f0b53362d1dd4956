// Package queue defines message payloads exchanged over the message broker
// and the consumer for security alerts.
package queue

// Queue names.  All queues are durable and use the default exchange.
const (
    ScansQueue       = "admission.scans"
    TransitionsQueue = "admission.transitions"
    AlertsQueue      = "admission.alerts"
)

// ScanRecordedEvent is published for every validation attempt that
// produced a scan row.  Downstream consumers use it for live entry
// counters and fraud dashboards without querying the primary database.
type ScanRecordedEvent struct {
    ScanID          string   `json:"scan_id"`
    TicketID        string   `json:"ticket_id,omitempty"`
    BandID          string   `json:"band_id,omitempty"`
    EventID         string   `json:"event_id,omitempty"`
    ScannerID       string   `json:"scanner_id"`
    Method          string   `json:"method"`
    Accepted        bool     `json:"accepted"`
    RejectionReason string   `json:"rejection_reason,omitempty"`
    ScanCount       int      `json:"scan_count"`
    Latitude        *float64 `json:"latitude,omitempty"`
    Longitude       *float64 `json:"longitude,omitempty"`
    ScannedAt       string   `json:"scanned_at"`
}

// TicketTransitionedEvent is published after a status change commits.
type TicketTransitionedEvent struct {
    TicketID string `json:"ticket_id"`
    From     string `json:"from"`
    To       string `json:"to"`
    Reason   string `json:"reason,omitempty"`
    Actor    string `json:"actor"`
    At       string `json:"at"`
}

// CloningAlertEvent is published when a band is deactivated because its
// use pattern indicates a cloned credential.
type CloningAlertEvent struct {
    BandID     string `json:"band_id"`
    UserID     string `json:"user_id"`
    Confidence string `json:"confidence"`
    Reason     string `json:"reason"`
    DetectedAt string `json:"detected_at"`
}
