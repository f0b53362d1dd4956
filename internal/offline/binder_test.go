package offline

import (
	"context"
	"encoding/hex"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/event-admission/internal/credential"
	"github.com/iliyamo/event-admission/internal/nfc"
)

// mockReader emulates one tag in front of the reader.
type mockReader struct {
	uid     string
	record  credential.TagRecord
	secret  []byte
	writes  int
	aborted bool
}

func (m *mockReader) Read(context.Context) (nfc.Tag, error) {
	return nfc.Tag{UID: m.uid, Record: m.record}, nil
}

func (m *mockReader) Write(_ context.Context, rec credential.TagRecord) error {
	m.writes++
	m.record = rec
	return nil
}

func (m *mockReader) Abort() { m.aborted = true }

func (m *mockReader) Respond(_ context.Context, challenge []byte) ([]byte, error) {
	return nfc.ChallengeResponse(m.secret, challenge), nil
}

// plainReader cannot answer challenges.
type plainReader struct{}

func (plainReader) Read(context.Context) (nfc.Tag, error)            { return nfc.Tag{}, nil }
func (plainReader) Write(context.Context, credential.TagRecord) error { return nil }
func (plainReader) Abort()                                            {}

type fakeBindingAPI struct {
	signer    *credential.Signer
	challenge []byte
	state     credential.TagState
	classErr  error
	confirmed struct {
		response []byte
		record   credential.TagRecord
	}
}

func (f *fakeBindingAPI) PrepareBinding(_ context.Context, bandID string) (nfc.Prepared, error) {
	return nfc.Prepared{BandID: bandID, BindingToken: "bt", Challenge: hex.EncodeToString(f.challenge)}, nil
}

func (f *fakeBindingAPI) BindingSession(string) credential.Classifier { return f }

func (f *fakeBindingAPI) ClassifyTag(context.Context, credential.TagRecord) (credential.Classification, error) {
	if f.classErr != nil {
		return credential.Classification{}, f.classErr
	}
	return credential.Classification{State: f.state, Authoritative: true}, nil
}

func (f *fakeBindingAPI) WritePayload(context.Context, string) (credential.TagRecord, error) {
	p, err := credential.NewPayload(time.Hour, time.Now())
	if err != nil {
		return credential.TagRecord{}, err
	}
	p, err = f.signer.Sign(p.WithBound(true))
	return p.Record(), err
}

func (f *fakeBindingAPI) ConfirmBinding(_ context.Context, _ string, response []byte, rec credential.TagRecord) (nfc.Confirmed, error) {
	f.confirmed.response = response
	f.confirmed.record = rec
	return nfc.Confirmed{BandID: "b1", SecurityToken: "sec"}, nil
}

func bindingAPI(t *testing.T) *fakeBindingAPI {
	t.Helper()
	ring, err := credential.NewKeyRing("k1", credential.Key{ID: "k1", Secret: []byte("server")})
	require.NoError(t, err)
	s, err := credential.NewSigner(ring)
	require.NoError(t, err)
	return &fakeBindingAPI{signer: s, challenge: []byte("challenge-bytes"), state: credential.TagUnbound}
}

func TestDeviceBinderBindsUnboundTag(t *testing.T) {
	api := bindingAPI(t)
	secret := nfc.BandSecret([]byte("master"), "04AA")
	r := &mockReader{uid: "04AA", secret: secret, record: credential.TagRecord{Type: "text/plain"}}

	conf, err := NewDeviceBinder(api, r, nil).Bind(context.Background(), "b1")
	require.NoError(t, err)
	assert.Equal(t, "sec", conf.SecurityToken)
	assert.Equal(t, 1, r.writes)
	assert.Equal(t, nfc.ChallengeResponse(secret, api.challenge), api.confirmed.response)
	assert.Equal(t, r.record, api.confirmed.record)
}

func TestDeviceBinderRefusesBoundOrInvalidTags(t *testing.T) {
	api := bindingAPI(t)
	r := &mockReader{uid: "04AA"}

	api.state = credential.TagBound
	_, err := NewDeviceBinder(api, r, nil).Bind(context.Background(), "b1")
	assert.ErrorIs(t, err, ErrAlreadyBound)

	api.state = credential.TagInvalid
	_, err = NewDeviceBinder(api, r, nil).Bind(context.Background(), "b1")
	assert.ErrorIs(t, err, ErrTagInvalid)
	assert.Zero(t, r.writes)
}

func TestDeviceBinderNeverActsOnLocalClassification(t *testing.T) {
	api := bindingAPI(t)
	api.classErr = errors.New("server unreachable")
	r := &mockReader{uid: "04AA", record: credential.TagRecord{Type: "text/plain"}}

	_, err := NewDeviceBinder(api, r, api.signer).Bind(context.Background(), "b1")
	assert.ErrorIs(t, err, ErrNotAuthoritative)
	assert.Contains(t, err.Error(), "unbound")
	assert.Zero(t, r.writes)
}

func TestDeviceBinderNeedsAuthenticator(t *testing.T) {
	_, err := NewDeviceBinder(bindingAPI(t), plainReader{}, nil).Bind(context.Background(), "b1")
	assert.ErrorIs(t, err, ErrNoAuthenticator)
}
