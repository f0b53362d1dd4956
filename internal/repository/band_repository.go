package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/iliyamo/event-admission/internal/model"
)

// BandRepo reads and updates NFC wristbands.
type BandRepo struct {
	db *sql.DB
}

func NewBandRepo(db *sql.DB) *BandRepo { return &BandRepo{db: db} }

const bandColumns = `id, uid, user_id, event_id, status, binding_verified_at, tag_token, security_token,
	concurrent_use_count, max_concurrent_uses, last_location, metadata`

func scanBand(row interface{ Scan(...any) error }) (model.NFCBand, error) {
	var (
		b                                  model.NFCBand
		eventID, tagToken, token, loc, meta sql.NullString
		verified                           sql.NullTime
	)
	err := row.Scan(&b.ID, &b.UID, &b.UserID, &eventID, &b.Status, &verified, &tagToken, &token,
		&b.ConcurrentUseCount, &b.MaxConcurrentUses, &loc, &meta)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return b, ErrNotFound
		}
		return b, err
	}
	b.EventID = stringPtr(eventID)
	b.BindingVerifiedAt = timePtr(verified)
	b.TagToken = stringPtr(tagToken)
	b.SecurityToken = stringPtr(token)
	b.LastLocation = scanLocation(loc)
	if meta.Valid && meta.String != "" {
		_ = json.Unmarshal([]byte(meta.String), &b.Metadata)
	}
	return b, nil
}

func (r *BandRepo) GetByID(ctx context.Context, id string) (model.NFCBand, error) {
	return scanBand(r.db.QueryRowContext(ctx, `SELECT `+bandColumns+` FROM nfc_bands WHERE id = ?`, id))
}

func (r *BandRepo) GetByUID(ctx context.Context, uid string) (model.NFCBand, error) {
	return scanBand(r.db.QueryRowContext(ctx, `SELECT `+bandColumns+` FROM nfc_bands WHERE uid = ?`, uid))
}

// GetByTagToken finds the band a tag payload was written for.
func (r *BandRepo) GetByTagToken(ctx context.Context, tagToken string) (model.NFCBand, error) {
	return scanBand(r.db.QueryRowContext(ctx, `SELECT `+bandColumns+` FROM nfc_bands WHERE tag_token = ?`, tagToken))
}

// SetSecurityToken stores token as the only valid security token of the band.
func (r *BandRepo) SetSecurityToken(ctx context.Context, id, token string) error {
	return r.exec(ctx, `UPDATE nfc_bands SET security_token = ? WHERE id = ?`, token, id)
}

// SetTagToken records the token written to the band's tag.
func (r *BandRepo) SetTagToken(ctx context.Context, id, tagToken string) error {
	err := r.exec(ctx, `UPDATE nfc_bands SET tag_token = ? WHERE id = ?`, tagToken, id)
	if isDuplicate(err) {
		return ErrConflict
	}
	return err
}

// MarkBindingVerified sets binding_verified_at once.  Later calls keep the
// first timestamp.
func (r *BandRepo) MarkBindingVerified(ctx context.Context, id string, at time.Time) error {
	return r.exec(ctx, `UPDATE nfc_bands SET binding_verified_at = COALESCE(binding_verified_at, ?) WHERE id = ?`, at, id)
}

// Deactivate stops a band and records why in its metadata.
func (r *BandRepo) Deactivate(ctx context.Context, id, reason string, at time.Time) error {
	return r.exec(ctx,
		`UPDATE nfc_bands
		 SET status = 'deactivated',
		     security_token = NULL,
		     metadata = JSON_SET(COALESCE(metadata, JSON_OBJECT()), '$.deactivation_reason', ?, '$.deactivated_at', ?)
		 WHERE id = ?`,
		reason, at.UTC().Format(time.RFC3339), id)
}

func (r *BandRepo) exec(ctx context.Context, q string, args ...any) error {
	res, err := r.db.ExecContext(ctx, q, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ClaimNonce records a band request nonce.  It reports false when the
// nonce was seen before.
func (r *BandRepo) ClaimNonce(ctx context.Context, bandID, nonce string, at time.Time) (bool, error) {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO nfc_nonces (band_id, nonce, created_at) VALUES (?, ?, ?)`, bandID, nonce, at)
	if err != nil {
		if isDuplicate(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}
