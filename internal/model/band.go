package model

import "time"

// BandStatus is the state of an NFC wristband.
type BandStatus string

const (
    BandActive      BandStatus = "active"
    BandLost        BandStatus = "lost"
    BandDeactivated BandStatus = "deactivated"
)

// NFCBand mirrors a row of `nfc_bands`.  SecurityToken holds the single
// currently valid token for the band; issuing a new one voids the old.
type NFCBand struct {
    ID                 string     // nfc_bands.id
    UID                string     // nfc_bands.uid (tag hardware uid)
    UserID             string     // nfc_bands.user_id
    EventID            *string    // nfc_bands.event_id (nullable)
    Status             BandStatus // nfc_bands.status
    BindingVerifiedAt  *time.Time // nfc_bands.binding_verified_at (nullable)
    TagToken           *string    // nfc_bands.tag_token, hex of the token written to the tag
    SecurityToken      *string    // nfc_bands.security_token (nullable)
    ConcurrentUseCount int        // nfc_bands.concurrent_use_count
    MaxConcurrentUses  int        // nfc_bands.max_concurrent_uses
    LastLocation       *Location  // nfc_bands.last_location (JSON)
    Metadata           map[string]string // nfc_bands.metadata (JSON)
}

// UsageSession is one "in use" window of a band at a location.  Open
// sessions (EndedAt == nil) drive the concurrent use checks.
type UsageSession struct {
    ID           string     // usage_sessions.id
    BandID       string     // usage_sessions.band_id
    SessionToken string     // usage_sessions.session_token
    Location     Location   // usage_sessions.location (JSON)
    StartedAt    time.Time  // usage_sessions.started_at
    EndedAt      *time.Time // usage_sessions.ended_at (nullable)
}
