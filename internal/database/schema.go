package database

import (
	"context"
	"database/sql"
	"fmt"
)

// schema is applied in order by Migrate.  Every statement is idempotent.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS events (
		id              CHAR(36)     NOT NULL PRIMARY KEY,
		organization_id CHAR(36)     NOT NULL,
		name            VARCHAR(255) NOT NULL,
		starts_at       DATETIME     NOT NULL,
		ends_at         DATETIME     NOT NULL,
		is_multi_day    BOOLEAN      NOT NULL DEFAULT FALSE,
		timezone        VARCHAR(64)  NOT NULL DEFAULT 'UTC',
		INDEX idx_events_org (organization_id)
	)`,
	`CREATE TABLE IF NOT EXISTS ticket_types (
		id            CHAR(36)     NOT NULL PRIMARY KEY,
		event_id      CHAR(36)     NOT NULL,
		name          VARCHAR(255) NOT NULL,
		is_multi_scan BOOLEAN      NOT NULL DEFAULT FALSE,
		max_scans     INT          NOT NULL DEFAULT 0,
		FOREIGN KEY (event_id) REFERENCES events(id)
	)`,
	`CREATE TABLE IF NOT EXISTS tickets (
		id                CHAR(36)    NOT NULL PRIMARY KEY,
		ticket_number     VARCHAR(64) NOT NULL UNIQUE,
		ticket_type_id    CHAR(36)    NOT NULL,
		event_id          CHAR(36)    NOT NULL,
		status            ENUM('pending_payment','issued','paid','used','revoked','refunded') NOT NULL DEFAULT 'pending_payment',
		scan_count        INT         NOT NULL DEFAULT 0,
		first_scan_at     DATETIME    NULL,
		last_scan_at      DATETIME    NULL,
		revoked_at        DATETIME    NULL,
		revocation_reason VARCHAR(255) NULL,
		updated_at        DATETIME    NOT NULL DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP,
		FOREIGN KEY (ticket_type_id) REFERENCES ticket_types(id),
		FOREIGN KEY (event_id) REFERENCES events(id)
	)`,
	`CREATE TABLE IF NOT EXISTS ticket_nonces (
		ticket_id CHAR(36)    NOT NULL,
		nonce     VARCHAR(64) NOT NULL,
		scan_id   CHAR(36)    NULL,
		claimed_at DATETIME   NULL,
		PRIMARY KEY (ticket_id, nonce)
	)`,
	`CREATE TABLE IF NOT EXISTS scans (
		id               CHAR(36)     NOT NULL PRIMARY KEY,
		ticket_id        CHAR(36)     NULL,
		band_id          CHAR(36)     NULL,
		scanned_by       VARCHAR(64)  NOT NULL,
		method           ENUM('qr','nfc') NOT NULL,
		location         JSON         NULL,
		is_valid         BOOLEAN      NOT NULL,
		rejection_reason VARCHAR(64)  NULL,
		message          VARCHAR(255) NOT NULL DEFAULT '',
		created_at       DATETIME(3)  NOT NULL,
		INDEX idx_scans_ticket (ticket_id, created_at),
		INDEX idx_scans_band (band_id, created_at)
	)`,
	`CREATE TABLE IF NOT EXISTS usage_rules (
		id             CHAR(36)    NOT NULL PRIMARY KEY,
		ticket_type_id CHAR(36)    NOT NULL,
		rule_type      VARCHAR(32) NOT NULL,
		config         JSON        NOT NULL,
		priority       INT         NOT NULL DEFAULT 0,
		is_active      BOOLEAN     NOT NULL DEFAULT TRUE,
		INDEX idx_rules_type (ticket_type_id, is_active, priority)
	)`,
	`CREATE TABLE IF NOT EXISTS nfc_bands (
		id                   CHAR(36)    NOT NULL PRIMARY KEY,
		uid                  VARCHAR(64) NOT NULL UNIQUE,
		user_id              CHAR(36)    NOT NULL,
		event_id             CHAR(36)    NULL,
		status               ENUM('active','lost','deactivated') NOT NULL DEFAULT 'active',
		binding_verified_at  DATETIME    NULL,
		tag_token            CHAR(64)    NULL UNIQUE,
		security_token       TEXT        NULL,
		concurrent_use_count INT         NOT NULL DEFAULT 0,
		max_concurrent_uses  INT         NOT NULL DEFAULT 1,
		last_location        JSON        NULL,
		metadata             JSON        NULL
	)`,
	`CREATE TABLE IF NOT EXISTS nfc_nonces (
		band_id    CHAR(36)    NOT NULL,
		nonce      VARCHAR(64) NOT NULL,
		created_at DATETIME    NOT NULL,
		PRIMARY KEY (band_id, nonce)
	)`,
	`CREATE TABLE IF NOT EXISTS usage_sessions (
		id            CHAR(36)    NOT NULL PRIMARY KEY,
		band_id       CHAR(36)    NOT NULL,
		session_token CHAR(64)    NOT NULL UNIQUE,
		location      JSON        NULL,
		started_at    DATETIME(3) NOT NULL,
		ended_at      DATETIME(3) NULL,
		INDEX idx_sessions_band (band_id, ended_at, started_at)
	)`,
	`CREATE TABLE IF NOT EXISTS audit_log (
		id          BIGINT UNSIGNED AUTO_INCREMENT PRIMARY KEY,
		entity_type VARCHAR(32)  NOT NULL,
		entity_id   CHAR(36)     NOT NULL,
		action      VARCHAR(64)  NOT NULL,
		from_state  VARCHAR(32)  NULL,
		to_state    VARCHAR(32)  NULL,
		reason      VARCHAR(255) NULL,
		actor       VARCHAR(64)  NOT NULL,
		created_at  DATETIME(3)  NOT NULL,
		INDEX idx_audit_entity (entity_type, entity_id)
	)`,
}

// Migrate creates any missing tables.
func Migrate(ctx context.Context, db *sql.DB) error {
	for i, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate statement %d: %w", i, err)
		}
	}
	return nil
}
