package model

// RejectionReason classifies why a scan or NFC validation was refused.
// The value is persisted on the scan row and returned to scanners.
type RejectionReason string

const (
    ReasonInvalidSignature    RejectionReason = "invalid_signature"
    ReasonCredentialExpired   RejectionReason = "credential_expired"
    ReasonReplayDetected      RejectionReason = "replay_detected"
    ReasonNotFound            RejectionReason = "not_found"
    ReasonWrongOrganization   RejectionReason = "wrong_organization"
    ReasonTicketRevoked       RejectionReason = "ticket_revoked"
    ReasonTicketRefunded      RejectionReason = "ticket_refunded"
    ReasonPaymentNotComplete  RejectionReason = "payment_not_complete"
    ReasonRuleViolation       RejectionReason = "rule_violation"
    ReasonEventTimeOutOfRange RejectionReason = "event_time_out_of_range"
    ReasonRateLimited         RejectionReason = "rate_limited"
    ReasonCloningDetected     RejectionReason = "cloning_detected"
    ReasonBandInactive        RejectionReason = "band_inactive"
    ReasonWrongEvent          RejectionReason = "wrong_event"
    ReasonNetworkError        RejectionReason = "network_error"
)

// Transient reports whether the same request may succeed if retried later.
func (r RejectionReason) Transient() bool {
    return r == ReasonRateLimited || r == ReasonNetworkError
}

// Message returns the default operator-facing text for r.
func (r RejectionReason) Message() string {
    switch r {
    case ReasonInvalidSignature:
        return "Invalid or tampered credential"
    case ReasonCredentialExpired:
        return "Credential has expired"
    case ReasonReplayDetected:
        return "Credential has already been used"
    case ReasonNotFound:
        return "Ticket not found"
    case ReasonWrongOrganization:
        return "Ticket belongs to a different organization"
    case ReasonTicketRevoked:
        return "Ticket has been revoked"
    case ReasonTicketRefunded:
        return "Ticket has been refunded"
    case ReasonPaymentNotComplete:
        return "Payment for this ticket is not complete"
    case ReasonRuleViolation:
        return "Ticket is not valid for entry right now"
    case ReasonEventTimeOutOfRange:
        return "Outside the event admission window"
    case ReasonRateLimited:
        return "Too many attempts, try again shortly"
    case ReasonCloningDetected:
        return "Wristband flagged as cloned and deactivated"
    case ReasonBandInactive:
        return "Wristband is not active"
    case ReasonWrongEvent:
        return "Wristband is registered for a different event"
    case ReasonNetworkError:
        return "Scanner offline, queued for later"
    }
    return "Rejected"
}
