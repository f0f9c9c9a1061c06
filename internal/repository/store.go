package repository

import (
	"context"
	"database/sql"
	"fmt"
)

// Store groups every repository over one database handle.
type Store struct {
	db   *sql.DB
	inTx bool

	Tenants     *TenantRepo
	Settlements *SettlementRepo
	Payments    *PaymentRepo
	Recon       *ReconciliationRepo
	Audit       *AuditRepo
	Folios      *FolioRepo
	Fees        *FeeRepo
}

func NewStore(db *sql.DB) *Store {
	return &Store{
		db:          db,
		Tenants:     NewTenantRepo(db),
		Settlements: NewSettlementRepo(db),
		Payments:    NewPaymentRepo(db),
		Recon:       NewReconciliationRepo(db),
		Audit:       NewAuditRepo(db),
		Folios:      NewFolioRepo(db),
		Fees:        NewFeeRepo(db),
	}
}

// InTx runs fn inside one database transaction. The Store handed to fn has
// every repository bound to that transaction; fn must not use the outer Store.
// The transaction commits only if fn returns nil. Calling InTx on a Store that
// is already transactional joins the running transaction.
func (s *Store) InTx(ctx context.Context, fn func(tx *Store) error) error {
	if s.inTx {
		return fn(s)
	}
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer sqlTx.Rollback()

	txStore := &Store{
		db:          s.db,
		inTx:        true,
		Tenants:     &TenantRepo{db: sqlTx},
		Settlements: &SettlementRepo{db: sqlTx},
		Payments:    &PaymentRepo{db: sqlTx},
		Recon:       &ReconciliationRepo{db: sqlTx},
		Audit:       &AuditRepo{db: sqlTx},
		Folios:      &FolioRepo{db: sqlTx},
		Fees:        &FeeRepo{db: sqlTx},
	}
	if err := fn(txStore); err != nil {
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}
