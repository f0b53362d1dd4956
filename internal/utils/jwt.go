package utils // package utils provides token helpers for operators and scanners

import (
    "crypto/rand"
    "encoding/hex"
    "time"

    "github.com/golang-jwt/jwt/v5"
)

// AccessClaims are the claims carried by API access tokens.  Subject is
// the staff user or scanner id.
type AccessClaims struct {
    Role           string `json:"role"`
    OrganizationID string `json:"org,omitempty"`
    jwt.RegisteredClaims
}

// AccessToken is a signed access token and its expiry.
type AccessToken struct {
    Token string
    Exp   time.Time
}

// NewAccessToken signs an HS256 access token for subject.
func NewAccessToken(secret, subject, role, orgID string, ttl time.Duration) (AccessToken, error) {
    now := time.Now().UTC()
    exp := now.Add(ttl)
    claims := AccessClaims{
        Role:           role,
        OrganizationID: orgID,
        RegisteredClaims: jwt.RegisteredClaims{
            Subject:   subject,
            IssuedAt:  jwt.NewNumericDate(now),
            ExpiresAt: jwt.NewNumericDate(exp),
        },
    }
    signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
    if err != nil {
        return AccessToken{}, err
    }
    return AccessToken{Token: signed, Exp: exp}, nil
}

// RandomHex returns n bytes of secure random data, hex encoded.
func RandomHex(n int) (string, error) {
    buf := make([]byte, n)
    if _, err := rand.Read(buf); err != nil {
        return "", err
    }
    return hex.EncodeToString(buf), nil
}
