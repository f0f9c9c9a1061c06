package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hotelops/reconciler/internal/domain"
)

type TenantRepo struct {
	db DBTX
}

func NewTenantRepo(db DBTX) *TenantRepo {
	return &TenantRepo{db: db}
}

// Upsert creates the tenant or updates its name and trial window.
func (r *TenantRepo) Upsert(ctx context.Context, t *domain.Tenant) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO tenants (id, name, trial_days, trial_end_date, created_at)
		VALUES (?,?,?,?,?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			trial_days = excluded.trial_days,
			trial_end_date = excluded.trial_end_date`,
		t.ID, t.Name, t.TrialDays, formatNullableTime(t.TrialEndDate), formatTime(t.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("upsert tenant: %w", err)
	}
	return nil
}

func (r *TenantRepo) GetByID(ctx context.Context, id string) (*domain.Tenant, error) {
	var t domain.Tenant
	var trialEnd sql.NullString
	var createdAt string
	err := r.db.QueryRowContext(ctx,
		`SELECT id, name, trial_days, trial_end_date, created_at FROM tenants WHERE id = ?`, id,
	).Scan(&t.ID, &t.Name, &t.TrialDays, &trialEnd, &createdAt)
	if notFound(err) {
		return nil, domain.NotFoundf("tenant %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get tenant: %w", err)
	}
	t.TrialEndDate = parseNullableTime(trialEnd)
	t.CreatedAt = parseTime(createdAt)
	return &t, nil
}
