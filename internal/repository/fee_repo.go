package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hotelops/reconciler/internal/domain"
)

type FeeRepo struct {
	db DBTX
}

func NewFeeRepo(db DBTX) *FeeRepo {
	return &FeeRepo{db: db}
}

const feeConfigColumns = `id, tenant_id, service_category, rate, fee_type, mode, payer, active, created_at, updated_at`

const feeEntryColumns = `id, tenant_id, reference_type, reference_id, base_amount, fee_amount, rate,
	fee_type, mode, payer, billing_cycle, status, metadata, waived_by, waived_reason, approval_notes,
	waived_at, billed_at, settled_at, created_at`

// UpsertConfig creates or replaces the tenant's policy for one service
// category. The stored id is kept on update.
func (r *FeeRepo) UpsertConfig(ctx context.Context, c *domain.FeeConfig) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO fee_configs (`+feeConfigColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT(tenant_id, service_category) DO UPDATE SET
			rate = excluded.rate,
			fee_type = excluded.fee_type,
			mode = excluded.mode,
			payer = excluded.payer,
			active = excluded.active,
			updated_at = excluded.updated_at`,
		c.ID, c.TenantID, c.ServiceCategory, c.Policy.Rate.String(), string(c.Policy.Type),
		string(c.Policy.Mode), string(c.Policy.Payer), boolToInt(c.Active),
		formatTime(c.CreatedAt), formatTime(c.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("upsert fee config: %w", err)
	}
	return nil
}

// ActiveConfig returns the active policy for the category, falling back to the
// tenant default (empty category). It returns nil when neither exists.
func (r *FeeRepo) ActiveConfig(ctx context.Context, tenantID, category string) (*domain.FeeConfig, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+feeConfigColumns+` FROM fee_configs
		WHERE tenant_id = ? AND active = 1 AND service_category IN (?, '')
		ORDER BY CASE WHEN service_category = ? THEN 0 ELSE 1 END
		LIMIT 1`,
		tenantID, category, category,
	)
	c, err := scanFeeConfig(row)
	if notFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get fee config: %w", err)
	}
	return c, nil
}

func (r *FeeRepo) ListConfigs(ctx context.Context, tenantID string) ([]domain.FeeConfig, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT "+feeConfigColumns+" FROM fee_configs WHERE tenant_id = ? ORDER BY service_category", tenantID,
	)
	if err != nil {
		return nil, fmt.Errorf("list fee configs: %w", err)
	}
	defer rows.Close()

	var configs []domain.FeeConfig
	for rows.Next() {
		c, err := scanFeeConfig(rows)
		if err != nil {
			return nil, err
		}
		configs = append(configs, *c)
	}
	return configs, rows.Err()
}

// InsertEntry stores a fee entry. A second entry for the same reference is
// reported as ErrConflict.
func (r *FeeRepo) InsertEntry(ctx context.Context, e *domain.PlatformFeeLedgerEntry) error {
	meta, err := json.Marshal(e.Metadata)
	if err != nil {
		return fmt.Errorf("encode fee metadata: %w", err)
	}
	_, err = r.db.ExecContext(ctx,
		`INSERT INTO platform_fee_ledger (`+feeEntryColumns+`)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		e.ID, e.TenantID, e.ReferenceType, e.ReferenceID, e.BaseAmount.StringFixed(2),
		e.FeeAmount.StringFixed(2), e.Rate.String(), string(e.FeeType), string(e.Mode),
		string(e.Payer), e.BillingCycle, string(e.Status), string(meta), e.WaivedBy,
		e.WaivedReason, e.ApprovalNotes, formatNullableTime(e.WaivedAt),
		formatNullableTime(e.BilledAt), formatNullableTime(e.SettledAt), formatTime(e.CreatedAt),
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: fee entry for %s %s already exists", domain.ErrConflict, e.ReferenceType, e.ReferenceID)
	}
	if err != nil {
		return fmt.Errorf("insert fee entry: %w", err)
	}
	return nil
}

// GetEntryByReference returns nil when no entry exists for the reference.
func (r *FeeRepo) GetEntryByReference(ctx context.Context, tenantID, refType, refID string) (*domain.PlatformFeeLedgerEntry, error) {
	row := r.db.QueryRowContext(ctx,
		"SELECT "+feeEntryColumns+" FROM platform_fee_ledger WHERE tenant_id = ? AND reference_type = ? AND reference_id = ?",
		tenantID, refType, refID,
	)
	e, err := scanFeeEntry(row)
	if notFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get fee entry by reference: %w", err)
	}
	return e, nil
}

func (r *FeeRepo) GetEntry(ctx context.Context, tenantID, id string) (*domain.PlatformFeeLedgerEntry, error) {
	row := r.db.QueryRowContext(ctx,
		"SELECT "+feeEntryColumns+" FROM platform_fee_ledger WHERE tenant_id = ? AND id = ?", tenantID, id,
	)
	e, err := scanFeeEntry(row)
	if notFound(err) {
		return nil, domain.NotFoundf("fee entry %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get fee entry: %w", err)
	}
	return e, nil
}

// GetEntries loads the given entries in one query. Unknown ids are simply
// absent from the result.
func (r *FeeRepo) GetEntries(ctx context.Context, tenantID string, ids []string) ([]domain.PlatformFeeLedgerEntry, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	args := make([]any, 0, len(ids)+1)
	args = append(args, tenantID)
	for _, id := range ids {
		args = append(args, id)
	}
	rows, err := r.db.QueryContext(ctx,
		"SELECT "+feeEntryColumns+" FROM platform_fee_ledger WHERE tenant_id = ? AND id IN ("+placeholders(len(ids))+")",
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("get fee entries: %w", err)
	}
	defer rows.Close()

	var entries []domain.PlatformFeeLedgerEntry
	for rows.Next() {
		e, err := scanFeeEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *e)
	}
	return entries, rows.Err()
}

type FeeEntryFilter struct {
	TenantID     string
	Status       domain.FeeStatus
	BillingCycle string
	Limit        int
}

func (r *FeeRepo) ListEntries(ctx context.Context, f FeeEntryFilter) ([]domain.PlatformFeeLedgerEntry, error) {
	q := "SELECT " + feeEntryColumns + " FROM platform_fee_ledger WHERE tenant_id = ?"
	args := []any{f.TenantID}
	if f.Status != "" {
		q += " AND status = ?"
		args = append(args, string(f.Status))
	}
	if f.BillingCycle != "" {
		q += " AND billing_cycle = ?"
		args = append(args, f.BillingCycle)
	}
	if f.Limit <= 0 {
		f.Limit = 500
	}
	q += " ORDER BY created_at, id LIMIT ?"
	args = append(args, f.Limit)

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list fee entries: %w", err)
	}
	defer rows.Close()

	var entries []domain.PlatformFeeLedgerEntry
	for rows.Next() {
		e, err := scanFeeEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *e)
	}
	return entries, rows.Err()
}

// Waive marks one entry waived. Only pending or billed entries change; the
// caller treats zero affected rows as a state violation.
func (r *FeeRepo) Waive(ctx context.Context, tenantID, id, by, reason, notes string, at time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE platform_fee_ledger
		SET status = ?, waived_by = ?, waived_reason = ?, approval_notes = ?, waived_at = ?
		WHERE tenant_id = ? AND id = ? AND status IN (?, ?)`,
		string(domain.FeeWaived), by, reason, notes, formatTime(at),
		tenantID, id, string(domain.FeePending), string(domain.FeeBilled),
	)
	if err != nil {
		return false, fmt.Errorf("waive fee entry: %w", err)
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

// MarkBilled moves every pending entry of the billing cycle to billed.
func (r *FeeRepo) MarkBilled(ctx context.Context, tenantID, cycle string, at time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE platform_fee_ledger SET status = ?, billed_at = ?
		WHERE tenant_id = ? AND billing_cycle = ? AND status = ?`,
		string(domain.FeeBilled), formatTime(at), tenantID, cycle, string(domain.FeePending),
	)
	if err != nil {
		return 0, fmt.Errorf("mark fees billed: %w", err)
	}
	return res.RowsAffected()
}

// MarkSettled moves one billed entry to settled and reports whether it did.
func (r *FeeRepo) MarkSettled(ctx context.Context, tenantID, id string, at time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE platform_fee_ledger SET status = ?, settled_at = ?
		WHERE tenant_id = ? AND id = ? AND status = ?`,
		string(domain.FeeSettled), formatTime(at), tenantID, id, string(domain.FeeBilled),
	)
	if err != nil {
		return false, fmt.Errorf("mark fee settled: %w", err)
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

func scanFeeConfig(row rowScanner) (*domain.FeeConfig, error) {
	var c domain.FeeConfig
	var feeType, mode, payer, createdAt, updatedAt string
	var active int
	err := row.Scan(&c.ID, &c.TenantID, &c.ServiceCategory, &c.Policy.Rate, &feeType, &mode, &payer,
		&active, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	c.Policy.Type = domain.FeeType(feeType)
	c.Policy.Mode = domain.FeeMode(mode)
	c.Policy.Payer = domain.FeePayer(payer)
	c.Active = active == 1
	c.CreatedAt = parseTime(createdAt)
	c.UpdatedAt = parseTime(updatedAt)
	return &c, nil
}

func scanFeeEntry(row rowScanner) (*domain.PlatformFeeLedgerEntry, error) {
	var e domain.PlatformFeeLedgerEntry
	var feeType, mode, payer, status, meta, createdAt string
	var waivedAt, billedAt, settledAt sql.NullString

	err := row.Scan(
		&e.ID, &e.TenantID, &e.ReferenceType, &e.ReferenceID, &e.BaseAmount, &e.FeeAmount, &e.Rate,
		&feeType, &mode, &payer, &e.BillingCycle, &status, &meta, &e.WaivedBy, &e.WaivedReason,
		&e.ApprovalNotes, &waivedAt, &billedAt, &settledAt, &createdAt,
	)
	if err != nil {
		return nil, err
	}
	if meta != "" {
		if err := json.Unmarshal([]byte(meta), &e.Metadata); err != nil {
			return nil, fmt.Errorf("decode fee metadata of %s: %w", e.ID, err)
		}
	}
	e.FeeType = domain.FeeType(feeType)
	e.Mode = domain.FeeMode(mode)
	e.Payer = domain.FeePayer(payer)
	e.Status = domain.FeeStatus(status)
	e.WaivedAt = parseNullableTime(waivedAt)
	e.BilledAt = parseNullableTime(billedAt)
	e.SettledAt = parseNullableTime(settledAt)
	e.CreatedAt = parseTime(createdAt)
	return &e, nil
}
