package credential

import "errors"

var (
	// ErrNotOurFormat means the data is not an admission payload at all
	// (too short or a foreign record type).  Callers treat it as an
	// unbound/unknown tag rather than an invalid one.
	ErrNotOurFormat = errors.New("credential: not an admission payload")

	// ErrCorrupt means the data is recognisably ours but cannot be parsed.
	ErrCorrupt = errors.New("credential: corrupt payload")

	// ErrBadSignature means the signature does not match any known key.
	ErrBadSignature = errors.New("credential: signature mismatch")

	// ErrExpired means the credential is past its expiry.
	ErrExpired = errors.New("credential: expired")

	// ErrNoKeys is returned when a key provider holds no usable key.
	ErrNoKeys = errors.New("credential: no signing keys configured")
)
