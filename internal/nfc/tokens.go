package nfc

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/iliyamo/event-admission/internal/credential"
	"github.com/iliyamo/event-admission/internal/model"
)

var (
	// ErrTokenSuperseded means the token verifies but a newer one has
	// been issued for the band since.
	ErrTokenSuperseded = errors.New("nfc: security token superseded")
	ErrTokenInvalid    = errors.New("nfc: invalid security token")
	ErrTokenExpired    = errors.New("nfc: security token expired")
)

const (
	purposeSecurity = "band_security"
	purposeBinding  = "band_binding"
)

type bandClaims struct {
	Purpose string `json:"pur"`
	Nonce   string `json:"nonce"`
	jwt.RegisteredClaims
}

// TokenService issues and checks band scoped tokens.
type TokenService struct {
	keys  credential.KeyProvider
	bands BandStore
	ttl   time.Duration
	now   func() time.Time
}

func NewTokenService(keys credential.KeyProvider, bands BandStore, ttl time.Duration) *TokenService {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &TokenService{keys: keys, bands: bands, ttl: ttl, now: time.Now}
}

func (s *TokenService) sign(bandID, purpose string, ttl time.Duration) (string, time.Time, error) {
	k, err := s.keys.ActiveKey()
	if err != nil {
		return "", time.Time{}, err
	}
	nonce, err := credential.NewNonce()
	if err != nil {
		return "", time.Time{}, err
	}
	now := s.now()
	exp := now.Add(ttl)
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, bandClaims{
		Purpose: purpose,
		Nonce:   nonce,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   bandID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	})
	tok.Header["kid"] = k.ID
	raw, err := tok.SignedString(k.Secret)
	return raw, exp, err
}

// parse verifies raw and returns the band id it is bound to.
func (s *TokenService) parse(raw, purpose string) (string, error) {
	claims := &bandClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		kid, _ := t.Header["kid"].(string)
		k, ok := s.keys.Lookup(kid)
		if !ok {
			return nil, fmt.Errorf("unknown kid %q", kid)
		}
		return k.Secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", ErrTokenExpired
		}
		return "", fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}
	if claims.Purpose != purpose || claims.Subject == "" {
		return "", ErrTokenInvalid
	}
	return claims.Subject, nil
}

// Issue creates a new security token for the band and stores it as the
// band's only valid token, voiding any earlier one.
func (s *TokenService) Issue(ctx context.Context, bandID string) (string, time.Time, error) {
	raw, exp, err := s.sign(bandID, purposeSecurity, s.ttl)
	if err != nil {
		return "", time.Time{}, err
	}
	if err := s.bands.SetSecurityToken(ctx, bandID, raw); err != nil {
		return "", time.Time{}, fmt.Errorf("store security token: %w", err)
	}
	return raw, exp, nil
}

// Verify checks signature and expiry and that raw is still the token
// stored for its band.
func (s *TokenService) Verify(ctx context.Context, raw string) (model.NFCBand, error) {
	bandID, err := s.parse(raw, purposeSecurity)
	if err != nil {
		return model.NFCBand{}, err
	}
	band, err := s.bands.GetByID(ctx, bandID)
	if err != nil {
		return model.NFCBand{}, err
	}
	if band.SecurityToken == nil || subtle.ConstantTimeCompare([]byte(*band.SecurityToken), []byte(raw)) != 1 {
		return band, ErrTokenSuperseded
	}
	return band, nil
}

// IssueBinding creates a short-lived token that authorizes the binding
// calls for one band.  It is not stored.
func (s *TokenService) IssueBinding(bandID string, ttl time.Duration) (string, time.Time, error) {
	return s.sign(bandID, purposeBinding, ttl)
}

// VerifyBinding returns the band id a binding token was issued for.
func (s *TokenService) VerifyBinding(raw string) (string, error) {
	return s.parse(raw, purposeBinding)
}
