package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hotelops/reconciler/internal/domain"
	"github.com/shopspring/decimal"
)

type ReconciliationRepo struct {
	db DBTX
}

func NewReconciliationRepo(db DBTX) *ReconciliationRepo {
	return &ReconciliationRepo{db: db}
}

const reconColumns = `id, tenant_id, reference, amount, expected_amount, status, internal_txn_id,
	matched_by, reconciled_at, source, transaction_date, raw_payload, version, created_at, updated_at`

// Insert stores a new record. It returns ErrConflict when the tenant already
// has a record for the same source and reference.
func (r *ReconciliationRepo) Insert(ctx context.Context, rec *domain.ReconciliationRecord) error {
	var expected any
	if rec.ExpectedAmount.Valid {
		expected = rec.ExpectedAmount.Decimal.String()
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO reconciliation_records (`+reconColumns+`)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		rec.ID, rec.TenantID, rec.Reference, rec.Amount.String(), expected, string(rec.Status),
		nullableString(rec.InternalTxnID), rec.MatchedBy, formatNullableTime(rec.ReconciledAt),
		string(rec.Source), formatTime(rec.TransactionDate), string(rec.RawPayload), rec.Version,
		formatTime(rec.CreatedAt), formatTime(rec.UpdatedAt),
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: reconciliation record for reference %q already exists", domain.ErrConflict, rec.Reference)
	}
	if err != nil {
		return fmt.Errorf("insert reconciliation record: %w", err)
	}
	return nil
}

func (r *ReconciliationRepo) GetByID(ctx context.Context, tenantID, id string) (*domain.ReconciliationRecord, error) {
	row := r.db.QueryRowContext(ctx,
		"SELECT "+reconColumns+" FROM reconciliation_records WHERE tenant_id = ? AND id = ?", tenantID, id,
	)
	rec, err := scanReconRecord(row)
	if notFound(err) {
		return nil, domain.NotFoundf("reconciliation record %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get reconciliation record: %w", err)
	}
	return rec, nil
}

func (r *ReconciliationRepo) GetByReference(ctx context.Context, tenantID string, source domain.ReconciliationSource, reference string) (*domain.ReconciliationRecord, error) {
	row := r.db.QueryRowContext(ctx,
		"SELECT "+reconColumns+" FROM reconciliation_records WHERE tenant_id = ? AND source = ? AND reference = ?",
		tenantID, string(source), reference,
	)
	rec, err := scanReconRecord(row)
	if notFound(err) {
		return nil, domain.NotFoundf("reconciliation record with reference %q", reference)
	}
	if err != nil {
		return nil, fmt.Errorf("get reconciliation record by reference: %w", err)
	}
	return rec, nil
}

// FindByPayment returns the record currently matched to the payment, or nil.
func (r *ReconciliationRepo) FindByPayment(ctx context.Context, tenantID, paymentID string) (*domain.ReconciliationRecord, error) {
	row := r.db.QueryRowContext(ctx,
		"SELECT "+reconColumns+" FROM reconciliation_records WHERE tenant_id = ? AND internal_txn_id = ? LIMIT 1",
		tenantID, paymentID,
	)
	rec, err := scanReconRecord(row)
	if notFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find reconciliation record by payment: %w", err)
	}
	return rec, nil
}

// ListByStatus returns the tenant's records in creation order. An empty status
// lists every record and a limit <= 0 returns every row.
func (r *ReconciliationRepo) ListByStatus(ctx context.Context, tenantID string, status domain.ReconciliationStatus, limit int) ([]domain.ReconciliationRecord, error) {
	q := "SELECT " + reconColumns + " FROM reconciliation_records WHERE tenant_id = ?"
	args := []any{tenantID}
	if status != "" {
		q += " AND status = ?"
		args = append(args, string(status))
	}
	q += " ORDER BY created_at, id"
	if limit > 0 {
		q += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list reconciliation records: %w", err)
	}
	defer rows.Close()

	var records []domain.ReconciliationRecord
	for rows.Next() {
		rec, err := scanReconRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, *rec)
	}
	return records, rows.Err()
}

// UpdateMatchState writes the match fields of rec and bumps its version. The
// write only lands if the stored version still equals rec.Version.
func (r *ReconciliationRepo) UpdateMatchState(ctx context.Context, rec *domain.ReconciliationRecord) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE reconciliation_records
		SET status = ?, internal_txn_id = ?, matched_by = ?, reconciled_at = ?,
			version = version + 1, updated_at = ?
		WHERE tenant_id = ? AND id = ? AND version = ?`,
		string(rec.Status), nullableString(rec.InternalTxnID), rec.MatchedBy,
		formatNullableTime(rec.ReconciledAt), formatTime(rec.UpdatedAt),
		rec.TenantID, rec.ID, rec.Version,
	)
	if err != nil {
		return fmt.Errorf("update reconciliation record: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: reconciliation record %s was modified concurrently (version %d)",
			domain.ErrConflict, rec.ID, rec.Version)
	}
	rec.Version++
	return nil
}

func scanReconRecord(row rowScanner) (*domain.ReconciliationRecord, error) {
	var rec domain.ReconciliationRecord
	var status, source, txnDate, raw, createdAt, updatedAt string
	var expected, internalID, reconciledAt sql.NullString

	err := row.Scan(
		&rec.ID, &rec.TenantID, &rec.Reference, &rec.Amount, &expected, &status, &internalID,
		&rec.MatchedBy, &reconciledAt, &source, &txnDate, &raw, &rec.Version, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}
	if expected.Valid {
		d, err := decimal.NewFromString(expected.String)
		if err != nil {
			return nil, fmt.Errorf("decode expected amount of %s: %w", rec.ID, err)
		}
		rec.ExpectedAmount = decimal.NewNullDecimal(d)
	}
	if internalID.Valid {
		rec.InternalTxnID = internalID.String
	}
	if raw != "" {
		rec.RawPayload = []byte(raw)
	}
	rec.Status = domain.ReconciliationStatus(status)
	rec.Source = domain.ReconciliationSource(source)
	rec.ReconciledAt = parseNullableTime(reconciledAt)
	rec.TransactionDate = parseTime(txnDate)
	rec.CreatedAt = parseTime(createdAt)
	rec.UpdatedAt = parseTime(updatedAt)
	return &rec, nil
}
