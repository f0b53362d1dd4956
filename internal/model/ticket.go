package model

import "time"

// TicketStatus is the lifecycle state of a ticket.  Transitions between
// statuses are owned by the lifecycle package; nothing else writes the
// status column.
type TicketStatus string

const (
    TicketPendingPayment TicketStatus = "pending_payment"
    TicketIssued         TicketStatus = "issued"
    TicketPaid           TicketStatus = "paid"
    TicketUsed           TicketStatus = "used"
    TicketRevoked        TicketStatus = "revoked"
    TicketRefunded       TicketStatus = "refunded"
)

// Valid reports whether s is one of the known statuses.
func (s TicketStatus) Valid() bool {
    switch s {
    case TicketPendingPayment, TicketIssued, TicketPaid, TicketUsed, TicketRevoked, TicketRefunded:
        return true
    }
    return false
}

// Terminal reports whether no transition may leave s.
func (s TicketStatus) Terminal() bool {
    return s == TicketRevoked || s == TicketRefunded
}

// Ticket mirrors a row of the `tickets` table.
//
// Fields:
//  ID           – primary key (uuid string).
//  Number       – human readable ticket number printed on the credential.
//  TicketTypeID – reference to ticket_types.id, which carries the usage policy.
//  EventID      – event the ticket admits to.
//  Status       – lifecycle status, see TicketStatus.
//  ScanCount    – number of accepted scans.
//  FirstScanAt  – time of the first accepted scan (nil until scanned).
//  LastScanAt   – time of the most recent accepted scan.
type Ticket struct {
    ID               string       // tickets.id
    Number           string       // tickets.ticket_number
    TicketTypeID     string       // tickets.ticket_type_id
    EventID          string       // tickets.event_id
    Status           TicketStatus // tickets.status
    ScanCount        int          // tickets.scan_count
    FirstScanAt      *time.Time   // tickets.first_scan_at (nullable)
    LastScanAt       *time.Time   // tickets.last_scan_at (nullable)
    RevokedAt        *time.Time   // tickets.revoked_at (nullable)
    RevocationReason *string      // tickets.revocation_reason (nullable)
}

// TicketType describes how often a ticket of this type may be scanned.
// MaxScans is only meaningful for multi-scan types; zero means unlimited.
type TicketType struct {
    ID          string // ticket_types.id
    Name        string // ticket_types.name
    IsMultiScan bool   // ticket_types.is_multi_scan
    MaxScans    int    // ticket_types.max_scans
}

// Event is the subset of the event record the validator needs.
type Event struct {
    ID             string    // events.id
    OrganizationID string    // events.organization_id
    StartsAt       time.Time // events.starts_at
    EndsAt         time.Time // events.ends_at
    IsMultiDay     bool      // events.is_multi_day
    Timezone       string    // events.timezone (IANA name, empty means UTC)
}

// Location returns the event's time zone, falling back to UTC when the
// stored name is empty or unknown.
func (e Event) Location() *time.Location {
    if e.Timezone == "" {
        return time.UTC
    }
    loc, err := time.LoadLocation(e.Timezone)
    if err != nil {
        return time.UTC
    }
    return loc
}

// TicketSnapshot bundles a ticket with its type and event, loaded in one
// query by the validation path.
type TicketSnapshot struct {
    Ticket Ticket
    Type   TicketType
    Event  Event
}
