package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hotelops/reconciler/internal/domain"
)

type FolioRepo struct {
	db DBTX
}

func NewFolioRepo(db DBTX) *FolioRepo {
	return &FolioRepo{db: db}
}

const folioColumns = `id, tenant_id, booking_id, folio_number, folio_type, is_primary, parent_folio_id,
	status, total_charges, total_payments, balance, version, created_at, closed_at`

const folioTxnColumns = `id, tenant_id, folio_id, kind, amount, transferred_amount, description,
	reference_type, reference_id, department, linked_transaction_id, merged_from_folio_id, created_at`

// NextSequence atomically advances and returns the tenant's folio counter.
func (r *FolioRepo) NextSequence(ctx context.Context, tenantID string) (int64, error) {
	var next int64
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO folio_sequences (tenant_id, next_value) VALUES (?, 1)
		ON CONFLICT(tenant_id) DO UPDATE SET next_value = next_value + 1
		RETURNING next_value`,
		tenantID,
	).Scan(&next)
	if err != nil {
		return 0, fmt.Errorf("next folio sequence: %w", err)
	}
	return next, nil
}

func (r *FolioRepo) NumberExists(ctx context.Context, tenantID, number string) (bool, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM folios WHERE tenant_id = ? AND folio_number = ?", tenantID, number,
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("check folio number: %w", err)
	}
	return count > 0, nil
}

// Insert stores a new folio. A duplicate folio number or a second primary
// folio for the same booking is reported as ErrConflict.
func (r *FolioRepo) Insert(ctx context.Context, f *domain.Folio) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO folios (`+folioColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		f.ID, f.TenantID, f.BookingID, f.FolioNumber, string(f.FolioType), boolToInt(f.IsPrimary),
		nullableString(f.ParentFolioID), string(f.Status), f.TotalCharges.String(),
		f.TotalPayments.String(), f.Balance.String(), f.Version, formatTime(f.CreatedAt),
		formatNullableTime(f.ClosedAt),
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: folio %s for booking %s violates folio number or primary folio uniqueness",
			domain.ErrConflict, f.FolioNumber, f.BookingID)
	}
	if err != nil {
		return fmt.Errorf("insert folio: %w", err)
	}
	return nil
}

func (r *FolioRepo) Get(ctx context.Context, tenantID, id string) (*domain.Folio, error) {
	row := r.db.QueryRowContext(ctx,
		"SELECT "+folioColumns+" FROM folios WHERE tenant_id = ? AND id = ?", tenantID, id,
	)
	f, err := scanFolio(row)
	if notFound(err) {
		return nil, domain.NotFoundf("folio %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get folio: %w", err)
	}
	return f, nil
}

func (r *FolioRepo) ListByBooking(ctx context.Context, tenantID, bookingID string) ([]domain.Folio, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT "+folioColumns+" FROM folios WHERE tenant_id = ? AND booking_id = ? ORDER BY is_primary DESC, created_at",
		tenantID, bookingID,
	)
	if err != nil {
		return nil, fmt.Errorf("list folios: %w", err)
	}
	defer rows.Close()

	var folios []domain.Folio
	for rows.Next() {
		f, err := scanFolio(rows)
		if err != nil {
			return nil, err
		}
		folios = append(folios, *f)
	}
	return folios, rows.Err()
}

// Update writes totals, status and closed_at. It fails with ErrConflict when
// the folio changed since it was read.
func (r *FolioRepo) Update(ctx context.Context, f *domain.Folio) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE folios
		SET total_charges = ?, total_payments = ?, balance = ?, status = ?, closed_at = ?,
			version = version + 1
		WHERE tenant_id = ? AND id = ? AND version = ?`,
		f.TotalCharges.String(), f.TotalPayments.String(), f.Balance.String(), string(f.Status),
		formatNullableTime(f.ClosedAt), f.TenantID, f.ID, f.Version,
	)
	if err != nil {
		return fmt.Errorf("update folio: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: folio %s was modified concurrently (version %d)", domain.ErrConflict, f.ID, f.Version)
	}
	f.Version++
	return nil
}

func (r *FolioRepo) CountOpenChildren(ctx context.Context, tenantID, parentID string) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM folios WHERE tenant_id = ? AND parent_folio_id = ? AND status = ?",
		tenantID, parentID, string(domain.FolioOpen),
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count child folios: %w", err)
	}
	return count, nil
}

func (r *FolioRepo) InsertTransaction(ctx context.Context, t *domain.FolioTransaction) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO folio_transactions (`+folioTxnColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		t.ID, t.TenantID, t.FolioID, string(t.Kind), t.Amount.String(), t.TransferredAmount.String(),
		t.Description, t.ReferenceType, t.ReferenceID, t.Department, t.LinkedTransactionID,
		t.MergedFromFolioID, formatTime(t.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert folio transaction: %w", err)
	}
	return nil
}

func (r *FolioRepo) GetTransaction(ctx context.Context, tenantID, id string) (*domain.FolioTransaction, error) {
	row := r.db.QueryRowContext(ctx,
		"SELECT "+folioTxnColumns+" FROM folio_transactions WHERE tenant_id = ? AND id = ?", tenantID, id,
	)
	t, err := scanFolioTxn(row)
	if notFound(err) {
		return nil, domain.NotFoundf("folio transaction %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get folio transaction: %w", err)
	}
	return t, nil
}

func (r *FolioRepo) ListTransactions(ctx context.Context, tenantID, folioID string) ([]domain.FolioTransaction, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT "+folioTxnColumns+" FROM folio_transactions WHERE tenant_id = ? AND folio_id = ? ORDER BY created_at, rowid",
		tenantID, folioID,
	)
	if err != nil {
		return nil, fmt.Errorf("list folio transactions: %w", err)
	}
	defer rows.Close()

	var txns []domain.FolioTransaction
	for rows.Next() {
		t, err := scanFolioTxn(rows)
		if err != nil {
			return nil, err
		}
		txns = append(txns, *t)
	}
	return txns, rows.Err()
}

// SetTransferred records how much of a charge has been moved off its folio.
func (r *FolioRepo) SetTransferred(ctx context.Context, t *domain.FolioTransaction) error {
	_, err := r.db.ExecContext(ctx,
		"UPDATE folio_transactions SET transferred_amount = ? WHERE tenant_id = ? AND id = ?",
		t.TransferredAmount.String(), t.TenantID, t.ID,
	)
	if err != nil {
		return fmt.Errorf("set transferred amount: %w", err)
	}
	return nil
}

// Reparent moves every line of one folio onto another, tagging each with the
// folio it came from.
func (r *FolioRepo) Reparent(ctx context.Context, tenantID, fromFolioID, toFolioID string) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE folio_transactions SET folio_id = ?, merged_from_folio_id = ?
		WHERE tenant_id = ? AND folio_id = ?`,
		toFolioID, fromFolioID, tenantID, fromFolioID,
	)
	if err != nil {
		return 0, fmt.Errorf("reparent folio transactions: %w", err)
	}
	return res.RowsAffected()
}

func (r *FolioRepo) InsertPostCheckout(ctx context.Context, e *domain.PostCheckoutLedgerEntry) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO post_checkout_ledger_entries (id, tenant_id, folio_id, booking_id, guest_id,
			payment_id, amount, reason, notes, recorded_by, created_at)
		VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		e.ID, e.TenantID, e.FolioID, e.BookingID, e.GuestID, e.PaymentID, e.Amount.String(),
		string(e.Reason), e.Notes, e.RecordedBy, formatTime(e.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert post-checkout entry: %w", err)
	}
	return nil
}

func (r *FolioRepo) ListPostCheckout(ctx context.Context, tenantID, bookingID string) ([]domain.PostCheckoutLedgerEntry, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, tenant_id, folio_id, booking_id, guest_id, payment_id, amount, reason, notes,
			recorded_by, created_at
		FROM post_checkout_ledger_entries WHERE tenant_id = ? AND booking_id = ? ORDER BY created_at`,
		tenantID, bookingID,
	)
	if err != nil {
		return nil, fmt.Errorf("list post-checkout entries: %w", err)
	}
	defer rows.Close()

	var entries []domain.PostCheckoutLedgerEntry
	for rows.Next() {
		var e domain.PostCheckoutLedgerEntry
		var reason, createdAt string
		if err := rows.Scan(&e.ID, &e.TenantID, &e.FolioID, &e.BookingID, &e.GuestID, &e.PaymentID,
			&e.Amount, &reason, &e.Notes, &e.RecordedBy, &createdAt); err != nil {
			return nil, err
		}
		e.Reason = domain.PostCheckoutReason(reason)
		e.CreatedAt = parseTime(createdAt)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func scanFolio(row rowScanner) (*domain.Folio, error) {
	var f domain.Folio
	var folioType, status, createdAt string
	var isPrimary int
	var parentID, closedAt sql.NullString

	err := row.Scan(
		&f.ID, &f.TenantID, &f.BookingID, &f.FolioNumber, &folioType, &isPrimary, &parentID,
		&status, &f.TotalCharges, &f.TotalPayments, &f.Balance, &f.Version, &createdAt, &closedAt,
	)
	if err != nil {
		return nil, err
	}
	f.FolioType = domain.FolioType(folioType)
	f.IsPrimary = isPrimary == 1
	if parentID.Valid {
		f.ParentFolioID = parentID.String
	}
	f.Status = domain.FolioStatus(status)
	f.CreatedAt = parseTime(createdAt)
	f.ClosedAt = parseNullableTime(closedAt)
	return &f, nil
}

func scanFolioTxn(row rowScanner) (*domain.FolioTransaction, error) {
	var t domain.FolioTransaction
	var kind, createdAt string
	err := row.Scan(
		&t.ID, &t.TenantID, &t.FolioID, &kind, &t.Amount, &t.TransferredAmount, &t.Description,
		&t.ReferenceType, &t.ReferenceID, &t.Department, &t.LinkedTransactionID,
		&t.MergedFromFolioID, &createdAt,
	)
	if err != nil {
		return nil, err
	}
	t.Kind = domain.TransactionKind(kind)
	t.CreatedAt = parseTime(createdAt)
	return &t, nil
}
