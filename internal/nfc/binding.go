package nfc

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/hkdf"

	"github.com/iliyamo/event-admission/internal/credential"
	"github.com/iliyamo/event-admission/internal/model"
	"github.com/iliyamo/event-admission/internal/repository"
)

var (
	ErrChallengeExpired = errors.New("nfc: binding challenge expired")
	ErrBadResponse      = errors.New("nfc: wrong challenge response")
	ErrTagMismatch      = errors.New("nfc: tag does not carry the payload written for this band")
	ErrBandInactive     = errors.New("nfc: band is not active")
)

const challengeSize = 32

// BandSecret derives the per-band secret a tag answers challenges with.
func BandSecret(master []byte, uid string) []byte {
	r := hkdf.New(sha256.New, master, nil, []byte("band:"+uid))
	out := make([]byte, 32)
	// hkdf only fails past 255 blocks of output.
	_, _ = io.ReadFull(r, out)
	return out
}

// ChallengeResponse is what a genuine tag returns for challenge.
func ChallengeResponse(secret, challenge []byte) []byte {
	h := hmac.New(sha256.New, secret)
	h.Write(challenge)
	return h.Sum(nil)
}

// Prepared is the output of the first binding call.
type Prepared struct {
	BandID       string    `json:"band_id"`
	BindingToken string    `json:"binding_token"`
	Challenge    string    `json:"challenge"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// TagRead is the server's view of a tag presented during binding.
type TagRead struct {
	State       credential.TagState `json:"state"`
	BoundBandID string              `json:"bound_band_id,omitempty"`
	ExpiresAt   *time.Time          `json:"expires_at,omitempty"`
}

// Confirmed is the output of a successful confirmation.
type Confirmed struct {
	BandID        string    `json:"band_id"`
	SecurityToken string    `json:"security_token"`
	ExpiresAt     time.Time `json:"expires_at,omitempty"`
	AlreadyBound  bool      `json:"already_bound"`
}

// Binder runs the server side of the three step binding protocol:
// prepare, read, then write and confirm.
type Binder struct {
	rdb       *redis.Client
	bands     BandStore
	tokens    *TokenService
	signer    *credential.Signer
	master    []byte
	ttl       time.Duration
	tagTTL    time.Duration
	now       func() time.Time
	challenge func() ([]byte, error)
}

// NewBinder wires a Binder.  ttl bounds the binding token and challenge,
// tagTTL the expiry written into the tag payload.
func NewBinder(rdb *redis.Client, bands BandStore, tokens *TokenService, signer *credential.Signer, master []byte, ttl, tagTTL time.Duration) *Binder {
	return &Binder{
		rdb:       rdb,
		bands:     bands,
		tokens:    tokens,
		signer:    signer,
		master:    master,
		ttl:       ttl,
		tagTTL:    tagTTL,
		now:       time.Now,
		challenge: randomChallenge,
	}
}

func randomChallenge() ([]byte, error) {
	b := make([]byte, challengeSize)
	_, err := rand.Read(b)
	return b, err
}

func challengeKey(bandID string) string { return "binding:" + bandID }

func (b *Binder) activeBand(ctx context.Context, bandID string) (model.NFCBand, error) {
	band, err := b.bands.GetByID(ctx, bandID)
	if err != nil {
		return band, err
	}
	if band.Status != model.BandActive {
		return band, ErrBandInactive
	}
	return band, nil
}

// Prepare issues a binding token and a fresh challenge for the band.
func (b *Binder) Prepare(ctx context.Context, bandID string) (Prepared, error) {
	if b.rdb == nil {
		return Prepared{}, ErrUnavailable
	}
	if _, err := b.activeBand(ctx, bandID); err != nil {
		return Prepared{}, err
	}
	tok, exp, err := b.tokens.IssueBinding(bandID, b.ttl)
	if err != nil {
		return Prepared{}, err
	}
	ch, err := b.challenge()
	if err != nil {
		return Prepared{}, fmt.Errorf("generate challenge: %w", err)
	}
	chHex := hex.EncodeToString(ch)
	if err := b.rdb.Set(ctx, challengeKey(bandID), chHex, b.ttl).Err(); err != nil {
		return Prepared{}, fmt.Errorf("store challenge: %w", err)
	}
	return Prepared{BandID: bandID, BindingToken: tok, Challenge: chHex, ExpiresAt: exp}, nil
}

// Read classifies a tag.  A bound tag is resolved to the band it was
// written for when that band is known.
func (b *Binder) Read(ctx context.Context, bindingToken string, rec credential.TagRecord) (TagRead, error) {
	if _, err := b.tokens.VerifyBinding(bindingToken); err != nil {
		return TagRead{}, err
	}
	c := b.signer.Classify(rec, b.now())
	out := TagRead{State: c.State}
	if c.State == credential.TagUnbound || c.State == credential.TagInvalid {
		return out, nil
	}
	exp := time.Unix(int64(c.Payload.ExpiresAt), 0).UTC()
	out.ExpiresAt = &exp
	if c.State == credential.TagBound {
		band, err := b.bands.GetByTagToken(ctx, hex.EncodeToString(c.Payload.Token[:]))
		switch {
		case err == nil:
			out.BoundBandID = band.ID
		case !errors.Is(err, repository.ErrNotFound):
			return TagRead{}, err
		}
	}
	return out, nil
}

// Write signs the payload the device must write to the tag and records
// its token against the band.
func (b *Binder) Write(ctx context.Context, bindingToken string) (credential.TagRecord, error) {
	bandID, err := b.tokens.VerifyBinding(bindingToken)
	if err != nil {
		return credential.TagRecord{}, err
	}
	if _, err := b.activeBand(ctx, bandID); err != nil {
		return credential.TagRecord{}, err
	}
	p, err := credential.NewPayload(b.tagTTL, b.now())
	if err != nil {
		return credential.TagRecord{}, err
	}
	p, err = b.signer.Sign(p.WithBound(true))
	if err != nil {
		return credential.TagRecord{}, err
	}
	if err := b.bands.SetTagToken(ctx, bandID, hex.EncodeToString(p.Token[:])); err != nil {
		return credential.TagRecord{}, fmt.Errorf("record tag token: %w", err)
	}
	return p.Record(), nil
}

// Confirm checks the tag's answer to the challenge and that the tag now
// carries the payload from Write.  The first successful confirmation
// marks the binding verified and issues the band's security token;
// later ones return the stored token unchanged.
func (b *Binder) Confirm(ctx context.Context, bindingToken string, response []byte, rec credential.TagRecord) (Confirmed, error) {
	if b.rdb == nil {
		return Confirmed{}, ErrUnavailable
	}
	bandID, err := b.tokens.VerifyBinding(bindingToken)
	if err != nil {
		return Confirmed{}, err
	}
	band, err := b.activeBand(ctx, bandID)
	if err != nil {
		return Confirmed{}, err
	}
	chHex, err := b.rdb.Get(ctx, challengeKey(bandID)).Result()
	if errors.Is(err, redis.Nil) {
		return Confirmed{}, ErrChallengeExpired
	}
	if err != nil {
		return Confirmed{}, fmt.Errorf("load challenge: %w", err)
	}
	ch, err := hex.DecodeString(chHex)
	if err != nil {
		return Confirmed{}, fmt.Errorf("stored challenge: %w", err)
	}
	want := ChallengeResponse(BandSecret(b.master, band.UID), ch)
	if !hmac.Equal(want, response) {
		logrus.WithField("band_id", bandID).Warn("binding challenge failed")
		return Confirmed{}, ErrBadResponse
	}

	c := b.signer.Classify(rec, b.now())
	if c.State != credential.TagBound || band.TagToken == nil ||
		hex.EncodeToString(c.Payload.Token[:]) != *band.TagToken {
		return Confirmed{}, ErrTagMismatch
	}

	if band.BindingVerifiedAt != nil && band.SecurityToken != nil {
		return Confirmed{BandID: bandID, SecurityToken: *band.SecurityToken, AlreadyBound: true}, nil
	}
	if err := b.bands.MarkBindingVerified(ctx, bandID, b.now().UTC()); err != nil {
		return Confirmed{}, err
	}
	tok, exp, err := b.tokens.Issue(ctx, bandID)
	if err != nil {
		return Confirmed{}, err
	}
	logrus.WithFields(logrus.Fields{"band_id": bandID, "user_id": band.UserID}).Info("band bound")
	return Confirmed{BandID: bandID, SecurityToken: tok, ExpiresAt: exp}, nil
}
