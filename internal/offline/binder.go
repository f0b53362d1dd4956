package offline

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/iliyamo/event-admission/internal/credential"
	"github.com/iliyamo/event-admission/internal/nfc"
)

var (
	ErrAlreadyBound     = errors.New("offline: tag is already bound")
	ErrTagInvalid       = errors.New("offline: tag carries an invalid credential")
	ErrNotAuthoritative = errors.New("offline: tag state could not be confirmed by the server")
	ErrNoAuthenticator  = errors.New("offline: reader cannot answer binding challenges")
)

// BindingAPI is the server side of binding.  *Client satisfies it.
type BindingAPI interface {
	PrepareBinding(ctx context.Context, bandID string) (nfc.Prepared, error)
	BindingSession(bindingToken string) credential.Classifier
	WritePayload(ctx context.Context, bindingToken string) (credential.TagRecord, error)
	ConfirmBinding(ctx context.Context, bindingToken string, response []byte, rec credential.TagRecord) (nfc.Confirmed, error)
}

// DeviceBinder drives a reader through the binding protocol.
type DeviceBinder struct {
	api    BindingAPI
	reader nfc.Reader
	// local is the last resort classifier used when the server cannot
	// be asked.  Its answers are shown to the operator but never acted on.
	local *credential.Signer
}

func NewDeviceBinder(api BindingAPI, reader nfc.Reader, local *credential.Signer) *DeviceBinder {
	return &DeviceBinder{api: api, reader: reader, local: local}
}

// Bind binds the next presented tag to bandID and returns the band's
// security token.
func (b *DeviceBinder) Bind(ctx context.Context, bandID string) (nfc.Confirmed, error) {
	prep, err := b.api.PrepareBinding(ctx, bandID)
	if err != nil {
		return nfc.Confirmed{}, fmt.Errorf("prepare: %w", err)
	}
	challenge, err := hex.DecodeString(prep.Challenge)
	if err != nil {
		return nfc.Confirmed{}, fmt.Errorf("challenge: %w", err)
	}
	auth, ok := b.reader.(nfc.Authenticator)
	if !ok {
		return nfc.Confirmed{}, ErrNoAuthenticator
	}

	tag, err := b.reader.Read(ctx)
	if err != nil {
		return nfc.Confirmed{}, fmt.Errorf("read tag: %w", err)
	}
	classifier := &credential.FallbackClassifier{Authority: b.api.BindingSession(prep.BindingToken), Local: b.local}
	c, err := classifier.ClassifyTag(ctx, tag.Record)
	if err != nil {
		return nfc.Confirmed{}, fmt.Errorf("classify tag: %w", err)
	}
	if !c.Authoritative {
		return nfc.Confirmed{}, fmt.Errorf("%w (locally %s)", ErrNotAuthoritative, c.State)
	}
	switch c.State {
	case credential.TagBound:
		return nfc.Confirmed{}, ErrAlreadyBound
	case credential.TagInvalid:
		return nfc.Confirmed{}, ErrTagInvalid
	}

	rec, err := b.api.WritePayload(ctx, prep.BindingToken)
	if err != nil {
		return nfc.Confirmed{}, fmt.Errorf("sign payload: %w", err)
	}
	if err := b.reader.Write(ctx, rec); err != nil {
		b.reader.Abort()
		return nfc.Confirmed{}, fmt.Errorf("write tag: %w", err)
	}
	resp, err := auth.Respond(ctx, challenge)
	if err != nil {
		return nfc.Confirmed{}, fmt.Errorf("challenge response: %w", err)
	}
	written, err := b.reader.Read(ctx)
	if err != nil {
		return nfc.Confirmed{}, fmt.Errorf("read back: %w", err)
	}
	if written.UID != tag.UID {
		return nfc.Confirmed{}, fmt.Errorf("a different tag was presented (%s, expected %s)", written.UID, tag.UID)
	}
	return b.api.ConfirmBinding(ctx, prep.BindingToken, resp, written.Record)
}
