package repository

import (
	"context"
	"fmt"

	"github.com/hotelops/reconciler/internal/domain"
)

// AuditRepo is insert-only; there is no update or delete path.
type AuditRepo struct {
	db DBTX
}

func NewAuditRepo(db DBTX) *AuditRepo {
	return &AuditRepo{db: db}
}

func (r *AuditRepo) Append(ctx context.Context, e *domain.AuditEvent) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO audit_events (id, tenant_id, actor, action, entity_type, entity_id,
			before_ref, after_ref, detail, created_at)
		VALUES (?,?,?,?,?,?,?,?,?,?)`,
		e.ID, e.TenantID, e.Actor, e.Action, e.EntityType, e.EntityID,
		e.BeforeRef, e.AfterRef, e.Detail, formatTime(e.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("append audit event: %w", err)
	}
	return nil
}

func (r *AuditRepo) ListByEntity(ctx context.Context, tenantID, entityType, entityID string) ([]domain.AuditEvent, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, tenant_id, actor, action, entity_type, entity_id, before_ref, after_ref, detail, created_at
		FROM audit_events
		WHERE tenant_id = ? AND entity_type = ? AND entity_id = ?
		ORDER BY created_at, rowid`,
		tenantID, entityType, entityID,
	)
	if err != nil {
		return nil, fmt.Errorf("list audit events: %w", err)
	}
	defer rows.Close()

	var events []domain.AuditEvent
	for rows.Next() {
		var e domain.AuditEvent
		var createdAt string
		if err := rows.Scan(&e.ID, &e.TenantID, &e.Actor, &e.Action, &e.EntityType, &e.EntityID,
			&e.BeforeRef, &e.AfterRef, &e.Detail, &createdAt); err != nil {
			return nil, err
		}
		e.CreatedAt = parseTime(createdAt)
		events = append(events, e)
	}
	return events, rows.Err()
}
