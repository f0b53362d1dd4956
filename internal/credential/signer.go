package credential

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"time"
)

// Signer signs and verifies NFC payloads with keys from a KeyProvider.
type Signer struct {
	keys KeyProvider
	now  func() time.Time
}

func NewSigner(keys KeyProvider) (*Signer, error) {
	if keys == nil || len(keys.Keys()) == 0 {
		return nil, ErrNoKeys
	}
	return &Signer{keys: keys, now: time.Now}, nil
}

// Keys exposes the provider backing the signer.
func (s *Signer) Keys() KeyProvider { return s.keys }

// NewPayload builds an unsigned payload with a random token that expires
// after ttl.
func NewPayload(ttl time.Duration, now time.Time) (Payload, error) {
	p := Payload{Version: PayloadVersion, ExpiresAt: uint32(now.Add(ttl).Unix())}
	if _, err := rand.Read(p.Token[:]); err != nil {
		return Payload{}, fmt.Errorf("credential: generate token: %w", err)
	}
	return p, nil
}

// Sign returns p with its signature computed over every preceding field
// using the active key.
func (s *Signer) Sign(p Payload) (Payload, error) {
	k, err := s.keys.ActiveKey()
	if err != nil {
		return Payload{}, err
	}
	copy(p.Signature[:], mac(k.Secret, p.signedBytes()))
	return p, nil
}

// Verify checks the payload signature against every retained key.
func (s *Signer) Verify(p Payload) error {
	msg := p.signedBytes()
	for _, k := range s.keys.Keys() {
		if hmac.Equal(mac(k.Secret, msg), p.Signature[:]) {
			return nil
		}
	}
	return ErrBadSignature
}

func mac(secret, msg []byte) []byte {
	h := hmac.New(sha256.New, secret)
	h.Write(msg)
	return h.Sum(nil)
}
