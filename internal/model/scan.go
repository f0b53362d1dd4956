package model

import "time"

// ScanMethod identifies how a credential was presented.
type ScanMethod string

const (
    ScanMethodQR  ScanMethod = "qr"
    ScanMethodNFC ScanMethod = "nfc"
)

// Location is a scan position.  ZoneID is optional and refers to an
// access zone inside the venue.
type Location struct {
    Latitude  float64 `json:"latitude"`
    Longitude float64 `json:"longitude"`
    ZoneID    string  `json:"zone_id,omitempty"`
}

// Scan is an append-only audit row written for every validation attempt,
// accepted or not.  TicketID is nil when the credential could not be
// trusted far enough to name a ticket.
type Scan struct {
    ID              string          // scans.id
    TicketID        *string         // scans.ticket_id (nullable)
    BandID          *string         // scans.band_id (nullable)
    ScannedBy       string          // scans.scanned_by
    Method          ScanMethod      // scans.method
    Location        *Location       // scans.location (JSON)
    IsValid         bool            // scans.is_valid
    RejectionReason RejectionReason // scans.rejection_reason (empty when valid)
    Message         string          // scans.message
    CreatedAt       time.Time       // scans.created_at
}

// NonceRecord mirrors `ticket_nonces`.  ScanID is set exactly once, the
// first time the nonce is consumed; a record with a ScanID can never be
// consumed again.
type NonceRecord struct {
    TicketID string  // ticket_nonces.ticket_id
    Nonce    string  // ticket_nonces.nonce
    ScanID   *string // ticket_nonces.scan_id (nullable)
}

// AuditEntry is an append-only record of a state change.
type AuditEntry struct {
    EntityType string    // audit_log.entity_type ("ticket", "band")
    EntityID   string    // audit_log.entity_id
    Action     string    // audit_log.action
    FromState  string    // audit_log.from_state
    ToState    string    // audit_log.to_state
    Reason     string    // audit_log.reason
    Actor      string    // audit_log.actor
    CreatedAt  time.Time // audit_log.created_at
}
