package credential

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// QRCredential is the content of a QR ticket token.
type QRCredential struct {
	TicketID  string
	EventID   string
	Nonce     string
	ExpiresAt time.Time
}

type qrClaims struct {
	TicketID string `json:"tid"`
	EventID  string `json:"eid"`
	Nonce    string `json:"nonce"`
	jwt.RegisteredClaims
}

// NewNonce returns a random 128 bit hex nonce.
func NewNonce() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// IssueQR signs c with the active key.  The key id travels in the token
// header so verification survives rotation.
func (s *Signer) IssueQR(c QRCredential) (string, error) {
	if c.TicketID == "" || c.Nonce == "" {
		return "", errors.New("credential: ticket id and nonce are required")
	}
	k, err := s.keys.ActiveKey()
	if err != nil {
		return "", err
	}
	claims := qrClaims{
		TicketID: c.TicketID,
		EventID:  c.EventID,
		Nonce:    c.Nonce,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(c.ExpiresAt),
			IssuedAt:  jwt.NewNumericDate(s.now()),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	token.Header["kid"] = k.ID
	return token.SignedString(k.Secret)
}

// VerifyQR parses and verifies raw as of now.  Expired tokens yield
// ErrExpired, everything else that fails yields ErrBadSignature.
func (s *Signer) VerifyQR(raw string, now time.Time) (QRCredential, error) {
	claims := &qrClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, s.keyFunc,
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(func() time.Time { return now }),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return QRCredential{}, ErrExpired
		}
		return QRCredential{}, fmt.Errorf("%w: %v", ErrBadSignature, err)
	}
	if claims.TicketID == "" || claims.Nonce == "" {
		return QRCredential{}, fmt.Errorf("%w: missing ticket or nonce", ErrBadSignature)
	}
	return claims.credential(), nil
}

func (s *Signer) keyFunc(t *jwt.Token) (interface{}, error) {
	kid, _ := t.Header["kid"].(string)
	if kid == "" {
		return nil, errors.New("missing kid")
	}
	k, ok := s.keys.Lookup(kid)
	if !ok {
		return nil, fmt.Errorf("unknown kid %q", kid)
	}
	return k.Secret, nil
}

// PeekQR reads the claims without verifying the signature.  Only used on
// devices to group queued scans by ticket; never for admission.
func PeekQR(raw string) (QRCredential, error) {
	claims := &qrClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err != nil {
		return QRCredential{}, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return claims.credential(), nil
}

func (c *qrClaims) credential() QRCredential {
	out := QRCredential{TicketID: c.TicketID, EventID: c.EventID, Nonce: c.Nonce}
	if c.ExpiresAt != nil {
		out.ExpiresAt = c.ExpiresAt.Time
	}
	return out
}
