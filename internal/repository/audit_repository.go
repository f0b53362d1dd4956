package repository

import (
	"context"
	"database/sql"

	"github.com/iliyamo/event-admission/internal/model"
)

// AuditRepo appends to audit_log.
type AuditRepo struct {
	db *sql.DB
}

func NewAuditRepo(db *sql.DB) *AuditRepo { return &AuditRepo{db: db} }

const insertAudit = `INSERT INTO audit_log
	(entity_type, entity_id, action, from_state, to_state, reason, actor, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

func auditArgs(e model.AuditEntry) []any {
	return []any{e.EntityType, e.EntityID, e.Action, nullString(e.FromState), nullString(e.ToState), nullString(e.Reason), e.Actor, e.CreatedAt}
}

func (r *AuditRepo) Insert(ctx context.Context, e model.AuditEntry) error {
	_, err := r.db.ExecContext(ctx, insertAudit, auditArgs(e)...)
	return err
}

func (r *AuditRepo) InsertTx(ctx context.Context, tx *sql.Tx, e model.AuditEntry) error {
	_, err := tx.ExecContext(ctx, insertAudit, auditArgs(e)...)
	return err
}
