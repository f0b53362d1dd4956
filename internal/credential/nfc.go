package credential

import (
	"encoding/binary"
	"fmt"
	"time"
)

const (
	PayloadVersion = 1
	TokenSize      = 32
	SignatureSize  = 32

	// PayloadSize is version(1) + flags(1) + token(32) + expiry(4) + signature(32).
	PayloadSize = 1 + 1 + TokenSize + 4 + SignatureSize

	// signedSize covers every field except the signature.
	signedSize = PayloadSize - SignatureSize

	// RecordType is the NDEF MIME type written to admission wristbands.
	RecordType = "application/vnd.admission.band"
)

const (
	FlagBound   uint8 = 1 << 0
	FlagExpired uint8 = 1 << 1
)

// TagRecord is the raw record read from, or written to, a tag.
type TagRecord struct {
	Type string
	Data []byte
}

// Payload is the decoded NFC credential.  It is a value type: the flag
// setters return a modified copy.
type Payload struct {
	Version   uint8
	Flags     uint8
	Token     [TokenSize]byte
	ExpiresAt uint32 // unix seconds
	Signature [SignatureSize]byte
}

// Encode serialises p into its fixed binary layout.
func Encode(p Payload) []byte {
	out := make([]byte, PayloadSize)
	out[0] = p.Version
	out[1] = p.Flags
	copy(out[2:2+TokenSize], p.Token[:])
	binary.BigEndian.PutUint32(out[2+TokenSize:signedSize], p.ExpiresAt)
	copy(out[signedSize:], p.Signature[:])
	return out
}

// Record wraps the encoded payload in a tag record of our type.
func (p Payload) Record() TagRecord {
	return TagRecord{Type: RecordType, Data: Encode(p)}
}

// Decode parses a tag record.  Records that are too short or carry a
// different type yield ErrNotOurFormat; records of our type with an
// unknown version yield ErrCorrupt.
func Decode(rec TagRecord) (Payload, error) {
	if rec.Type != RecordType || len(rec.Data) < PayloadSize {
		return Payload{}, ErrNotOurFormat
	}
	data := rec.Data
	if data[0] != PayloadVersion {
		return Payload{}, fmt.Errorf("%w: unsupported version %d", ErrCorrupt, data[0])
	}
	var p Payload
	p.Version = data[0]
	p.Flags = data[1]
	copy(p.Token[:], data[2:2+TokenSize])
	p.ExpiresAt = binary.BigEndian.Uint32(data[2+TokenSize : signedSize])
	copy(p.Signature[:], data[signedSize:PayloadSize])
	return p, nil
}

// signedBytes returns the bytes covered by the signature.
func (p Payload) signedBytes() []byte {
	return Encode(p)[:signedSize]
}

// IsExpired compares the expiry with now in whole seconds.
func (p Payload) IsExpired(now time.Time) bool {
	return now.Unix() > int64(p.ExpiresAt)
}

func (p Payload) IsBound() bool       { return p.Flags&FlagBound != 0 }
func (p Payload) MarkedExpired() bool { return p.Flags&FlagExpired != 0 }

// WithBound returns a copy of p with the bound flag set or cleared.
func (p Payload) WithBound(bound bool) Payload {
	p.Flags = setFlag(p.Flags, FlagBound, bound)
	return p
}

// WithExpired returns a copy of p with the marked-expired flag set or cleared.
func (p Payload) WithExpired(expired bool) Payload {
	p.Flags = setFlag(p.Flags, FlagExpired, expired)
	return p
}

func setFlag(flags, bit uint8, on bool) uint8 {
	if on {
		return flags | bit
	}
	return flags &^ bit
}
