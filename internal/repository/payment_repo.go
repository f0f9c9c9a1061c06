package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/hotelops/reconciler/internal/domain"
)

type PaymentRepo struct {
	db DBTX
}

func NewPaymentRepo(db DBTX) *PaymentRepo {
	return &PaymentRepo{db: db}
}

const paymentColumns = `id, tenant_id, booking_id, folio_id, amount, currency, method,
	provider_reference, rrn, terminal_id, approval_code, status, created_at`

func (r *PaymentRepo) Insert(ctx context.Context, p *domain.Payment) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO payments (`+paymentColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		p.ID, p.TenantID, p.BookingID, p.FolioID, p.Amount.String(), p.Currency, p.Method,
		p.ProviderReference, p.RRN, p.TerminalID, p.ApprovalCode, string(p.Status),
		formatTime(p.CreatedAt),
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: payment %s already exists", domain.ErrConflict, p.ID)
	}
	if err != nil {
		return fmt.Errorf("insert payment: %w", err)
	}
	return nil
}

func (r *PaymentRepo) GetByID(ctx context.Context, tenantID, id string) (*domain.Payment, error) {
	row := r.db.QueryRowContext(ctx,
		"SELECT "+paymentColumns+" FROM payments WHERE tenant_id = ? AND id = ?", tenantID, id,
	)
	p, err := scanPayment(row)
	if notFound(err) {
		return nil, domain.NotFoundf("payment %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get payment: %w", err)
	}
	return p, nil
}

// ListMatchCandidates returns captured payments created in [from, to) that no
// settlement record has claimed yet.
func (r *PaymentRepo) ListMatchCandidates(ctx context.Context, tenantID string, from, to time.Time) ([]domain.Payment, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+paymentColumns+` FROM payments p
		WHERE p.tenant_id = ? AND p.status = ? AND p.created_at >= ? AND p.created_at < ?
			AND NOT EXISTS (
				SELECT 1 FROM settlement_records s
				WHERE s.tenant_id = p.tenant_id AND s.ledger_entry_id = p.id
			)
		ORDER BY p.created_at`,
		tenantID, string(domain.PaymentCaptured), formatTime(from), formatTime(to),
	)
	if err != nil {
		return nil, fmt.Errorf("list match candidates: %w", err)
	}
	defer rows.Close()
	return collectPayments(rows)
}

// ListUnreconciled returns captured payments not referenced by any matched
// reconciliation record, newest first. A limit <= 0 returns every row.
func (r *PaymentRepo) ListUnreconciled(ctx context.Context, tenantID string, limit int) ([]domain.Payment, error) {
	q := `SELECT ` + paymentColumns + ` FROM payments p
		WHERE p.tenant_id = ? AND p.status = ?
			AND NOT EXISTS (
				SELECT 1 FROM reconciliation_records rr
				WHERE rr.tenant_id = p.tenant_id AND rr.internal_txn_id = p.id
			)
		ORDER BY p.created_at DESC`
	args := []any{tenantID, string(domain.PaymentCaptured)}
	if limit > 0 {
		q += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list unreconciled payments: %w", err)
	}
	defer rows.Close()
	return collectPayments(rows)
}

type PaymentFilter struct {
	TenantID  string
	BookingID string
	FolioID   string
	Limit     int
}

func (r *PaymentRepo) List(ctx context.Context, f PaymentFilter) ([]domain.Payment, error) {
	q := "SELECT " + paymentColumns + " FROM payments WHERE tenant_id = ?"
	args := []any{f.TenantID}
	if f.BookingID != "" {
		q += " AND booking_id = ?"
		args = append(args, f.BookingID)
	}
	if f.FolioID != "" {
		q += " AND folio_id = ?"
		args = append(args, f.FolioID)
	}
	if f.Limit <= 0 {
		f.Limit = 100
	}
	q += " ORDER BY created_at DESC LIMIT ?"
	args = append(args, f.Limit)

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list payments: %w", err)
	}
	defer rows.Close()
	return collectPayments(rows)
}

type paymentRows interface {
	rowScanner
	Next() bool
	Err() error
}

func collectPayments(rows paymentRows) ([]domain.Payment, error) {
	var payments []domain.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		payments = append(payments, *p)
	}
	return payments, rows.Err()
}

func scanPayment(row rowScanner) (*domain.Payment, error) {
	var p domain.Payment
	var status, createdAt string
	err := row.Scan(
		&p.ID, &p.TenantID, &p.BookingID, &p.FolioID, &p.Amount, &p.Currency, &p.Method,
		&p.ProviderReference, &p.RRN, &p.TerminalID, &p.ApprovalCode, &status, &createdAt,
	)
	if err != nil {
		return nil, err
	}
	p.Status = domain.PaymentStatus(status)
	p.CreatedAt = parseTime(createdAt)
	return &p, nil
}
