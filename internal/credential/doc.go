// Package credential encodes, signs and verifies admission credentials.
//
// Two shapes exist.  NFC wristbands carry a fixed 70 byte binary payload
// (version, flags, 32 byte token, big-endian expiry, HMAC-SHA256
// signature) sized for constrained tag storage.  QR tickets carry a
// compact HS256 signed token naming the ticket, event and a single-use
// nonce.
//
// Signing keys come from a KeyProvider.  There is no built-in secret: a
// Signer cannot be constructed without at least one key.  Signing always
// uses the active key; verification accepts every key still held by the
// provider so rotated keys keep validating until they are dropped.
package credential
