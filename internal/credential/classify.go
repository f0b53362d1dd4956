package credential

import (
	"context"
	"errors"
	"time"
)

// TagState is the classification of a tag read during binding.
type TagState string

const (
	TagUnbound TagState = "unbound"
	TagBound   TagState = "bound"
	TagInvalid TagState = "invalid"
	TagExpired TagState = "expired"
)

// Classification is the result of classifying a tag.  Authoritative is
// false when the result came from a local fallback and must be
// re-checked before any final decision.
type Classification struct {
	State         TagState
	Payload       Payload
	Authoritative bool
}

// Classify decides the state of rec using s for signature checks.
func (s *Signer) Classify(rec TagRecord, now time.Time) Classification {
	p, err := Decode(rec)
	switch {
	case errors.Is(err, ErrNotOurFormat):
		return Classification{State: TagUnbound, Authoritative: true}
	case err != nil:
		return Classification{State: TagInvalid, Authoritative: true}
	}
	c := Classification{Payload: p, Authoritative: true}
	switch {
	case s.Verify(p) != nil:
		c.State = TagInvalid
	case p.MarkedExpired() || p.IsExpired(now):
		c.State = TagExpired
	case p.IsBound():
		c.State = TagBound
	default:
		c.State = TagUnbound
	}
	return c
}

// Classifier is an authoritative classification source, normally the
// admission server.
type Classifier interface {
	ClassifyTag(ctx context.Context, rec TagRecord) (Classification, error)
}

// FallbackClassifier asks the authority first.  Only when the authority
// cannot be reached does it fall back to a local signer, and then the
// result is marked non-authoritative.
type FallbackClassifier struct {
	Authority Classifier
	Local     *Signer
	Now       func() time.Time
}

func (f *FallbackClassifier) ClassifyTag(ctx context.Context, rec TagRecord) (Classification, error) {
	c, err := f.Authority.ClassifyTag(ctx, rec)
	if err == nil {
		c.Authoritative = true
		return c, nil
	}
	if f.Local == nil {
		return Classification{}, err
	}
	now := time.Now
	if f.Now != nil {
		now = f.Now
	}
	c = f.Local.Classify(rec, now())
	c.Authoritative = false
	return c, nil
}
