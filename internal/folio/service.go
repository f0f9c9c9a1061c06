// Package folio implements the per-booking folio ledger. Every mutation runs
// in one store transaction that re-reads the affected folios, writes the new
// lines and rewrites the totals under a version check.
package folio

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/hotelops/reconciler/internal/domain"
	"github.com/hotelops/reconciler/internal/money"
	"github.com/hotelops/reconciler/internal/repository"
)

type Service struct {
	store *repository.Store
	log   *zap.Logger
	nowFn func() time.Time
}

func NewService(store *repository.Store, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{store: store, log: log, nowFn: time.Now}
}

type OpenRequest struct {
	BookingID     string           `json:"booking_id"`
	FolioType     domain.FolioType `json:"folio_type"`
	IsPrimary     bool             `json:"is_primary"`
	ParentFolioID string           `json:"parent_folio_id,omitempty"`
}

// OpenFolio creates an empty open folio with a freshly allocated number.
func (s *Service) OpenFolio(ctx context.Context, tenantID string, req OpenRequest) (*domain.Folio, error) {
	req.BookingID = strings.TrimSpace(req.BookingID)
	if req.BookingID == "" {
		return nil, domain.Validationf("booking_id is required")
	}
	if !req.FolioType.Valid() {
		return nil, domain.Validationf("unknown folio type %q", req.FolioType)
	}
	if req.IsPrimary && req.ParentFolioID != "" {
		return nil, domain.Validationf("a primary folio cannot have a parent folio")
	}

	var f *domain.Folio
	err := s.store.InTx(ctx, func(tx *repository.Store) error {
		if req.ParentFolioID != "" {
			parent, err := tx.Folios.Get(ctx, tenantID, req.ParentFolioID)
			if err != nil {
				return err
			}
			if parent.BookingID != req.BookingID {
				return domain.Validationf("parent folio %s belongs to booking %s, not %s",
					parent.ID, parent.BookingID, req.BookingID)
			}
		}

		number, err := s.generateFolioNumber(ctx, tx, tenantID, req.FolioType)
		if err != nil {
			return err
		}
		f = &domain.Folio{
			ID:            uuid.NewString(),
			TenantID:      tenantID,
			BookingID:     req.BookingID,
			FolioNumber:   number,
			FolioType:     req.FolioType,
			IsPrimary:     req.IsPrimary,
			ParentFolioID: req.ParentFolioID,
			Status:        domain.FolioOpen,
			Version:       1,
			CreatedAt:     s.nowFn().UTC(),
		}
		f.SetTotals(decimal.Zero, decimal.Zero)
		return tx.Folios.Insert(ctx, f)
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("folio opened",
		zap.String("tenant_id", tenantID),
		zap.String("folio_id", f.ID),
		zap.String("folio_number", f.FolioNumber),
		zap.String("booking_id", f.BookingID),
		zap.Bool("primary", f.IsPrimary),
	)
	return f, nil
}

// GenerateFolioNumber allocates the next tenant-scoped folio number, for
// example RM-2026-000042. A collision with an existing folio is ErrConflict.
// The counter still advances, so a retry draws the next number.
func (s *Service) GenerateFolioNumber(ctx context.Context, tenantID, bookingID string, folioType domain.FolioType) (string, error) {
	if strings.TrimSpace(bookingID) == "" {
		return "", domain.Validationf("booking_id is required")
	}
	if !folioType.Valid() {
		return "", domain.Validationf("unknown folio type %q", folioType)
	}
	var number string
	var taken bool
	err := s.store.InTx(ctx, func(tx *repository.Store) error {
		var err error
		number, taken, err = s.allocateFolioNumber(ctx, tx, tenantID, folioType)
		return err
	})
	if err != nil {
		return "", err
	}
	if taken {
		return "", folioNumberTaken(number)
	}
	return number, nil
}

func (s *Service) generateFolioNumber(ctx context.Context, tx *repository.Store, tenantID string, folioType domain.FolioType) (string, error) {
	number, taken, err := s.allocateFolioNumber(ctx, tx, tenantID, folioType)
	if err != nil {
		return "", err
	}
	if taken {
		return "", folioNumberTaken(number)
	}
	return number, nil
}

func (s *Service) allocateFolioNumber(ctx context.Context, tx *repository.Store, tenantID string, folioType domain.FolioType) (string, bool, error) {
	seq, err := tx.Folios.NextSequence(ctx, tenantID)
	if err != nil {
		return "", false, err
	}
	number := fmt.Sprintf("%s-%d-%06d", folioType.Prefix(), s.nowFn().UTC().Year(), seq)
	exists, err := tx.Folios.NumberExists(ctx, tenantID, number)
	if err != nil {
		return "", false, err
	}
	return number, exists, nil
}

func folioNumberTaken(number string) error {
	return fmt.Errorf("%w: folio number %s is already taken", domain.ErrConflict, number)
}

type ChargeRequest struct {
	Amount        decimal.Decimal `json:"amount"`
	Description   string          `json:"description"`
	ReferenceType string          `json:"reference_type,omitempty"`
	ReferenceID   string          `json:"reference_id,omitempty"`
	Department    string          `json:"department,omitempty"`
}

// PostCharge appends a charge line to an open folio.
func (s *Service) PostCharge(ctx context.Context, tenantID, folioID string, req ChargeRequest) (*domain.Folio, *domain.FolioTransaction, error) {
	amount, err := positiveAmount(req.Amount, "charge amount")
	if err != nil {
		return nil, nil, err
	}
	if strings.TrimSpace(req.Description) == "" {
		return nil, nil, domain.Validationf("charge description is required")
	}

	var f *domain.Folio
	var line *domain.FolioTransaction
	err = s.store.InTx(ctx, func(tx *repository.Store) error {
		var err error
		f, err = loadOpen(ctx, tx, tenantID, folioID)
		if err != nil {
			return err
		}
		line = s.newLine(f, domain.KindCharge, amount, req.Description)
		line.ReferenceType = req.ReferenceType
		line.ReferenceID = req.ReferenceID
		line.Department = req.Department
		if err := tx.Folios.InsertTransaction(ctx, line); err != nil {
			return err
		}
		return recompute(ctx, tx, f)
	})
	if err != nil {
		return nil, nil, err
	}

	s.log.Info("charge posted",
		zap.String("tenant_id", tenantID),
		zap.String("folio_id", folioID),
		zap.String("amount", amount.StringFixed(2)),
		zap.String("balance", f.Balance.StringFixed(2)),
	)
	return f, line, nil
}

type PaymentRequest struct {
	Amount            decimal.Decimal `json:"amount"`
	Currency          string          `json:"currency,omitempty"`
	Method            string          `json:"method"`
	ProviderReference string          `json:"provider_reference,omitempty"`
	RRN               string          `json:"rrn,omitempty"`
	TerminalID        string          `json:"terminal_id,omitempty"`
	ApprovalCode      string          `json:"approval_code,omitempty"`
	Description       string          `json:"description,omitempty"`
}

// RecordPayment books a payment against an open folio. The payment is also
// stored as an internal payment so settlement matching can find it.
func (s *Service) RecordPayment(ctx context.Context, tenantID, folioID string, req PaymentRequest) (*domain.Folio, *domain.Payment, error) {
	amount, err := positiveAmount(req.Amount, "payment amount")
	if err != nil {
		return nil, nil, err
	}
	if req.Method == "" {
		return nil, nil, domain.Validationf("payment method is required")
	}

	var f *domain.Folio
	var p *domain.Payment
	err = s.store.InTx(ctx, func(tx *repository.Store) error {
		var err error
		f, err = loadOpen(ctx, tx, tenantID, folioID)
		if err != nil {
			return err
		}
		p, err = s.insertPayment(ctx, tx, f, amount, req)
		if err != nil {
			return err
		}

		desc := req.Description
		if desc == "" {
			desc = "Payment (" + req.Method + ")"
		}
		line := s.newLine(f, domain.KindPayment, amount, desc)
		line.ReferenceType = "payment"
		line.ReferenceID = p.ID
		if err := tx.Folios.InsertTransaction(ctx, line); err != nil {
			return err
		}
		return recompute(ctx, tx, f)
	})
	if err != nil {
		return nil, nil, err
	}

	s.log.Info("payment recorded",
		zap.String("tenant_id", tenantID),
		zap.String("folio_id", folioID),
		zap.String("payment_id", p.ID),
		zap.String("amount", amount.StringFixed(2)),
		zap.String("balance", f.Balance.StringFixed(2)),
	)
	return f, p, nil
}

// CloseFolio closes an open folio. A non-zero balance blocks the close unless
// force is set.
func (s *Service) CloseFolio(ctx context.Context, tenantID, folioID string, force bool) (*domain.Folio, error) {
	var f *domain.Folio
	err := s.store.InTx(ctx, func(tx *repository.Store) error {
		var err error
		f, err = tx.Folios.Get(ctx, tenantID, folioID)
		if err != nil {
			return err
		}
		if !f.IsOpen() {
			return domain.InvalidStatef("folio %s is already closed", folioID)
		}
		if !f.Balance.IsZero() && !force {
			return domain.InvalidStatef("folio %s has outstanding balance %s", folioID, f.Balance.StringFixed(2))
		}
		now := s.nowFn().UTC()
		f.Status = domain.FolioClosed
		f.ClosedAt = &now
		return tx.Folios.Update(ctx, f)
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("folio closed",
		zap.String("tenant_id", tenantID),
		zap.String("folio_id", folioID),
		zap.Bool("forced", force),
		zap.String("balance", f.Balance.StringFixed(2)),
	)
	return f, nil
}

type PostCheckoutRequest struct {
	Amount            decimal.Decimal           `json:"amount"`
	Reason            domain.PostCheckoutReason `json:"reason"`
	Notes             string                    `json:"notes,omitempty"`
	GuestID           string                    `json:"guest_id,omitempty"`
	Method            string                    `json:"method"`
	Currency          string                    `json:"currency,omitempty"`
	ProviderReference string                    `json:"provider_reference,omitempty"`
	RRN               string                    `json:"rrn,omitempty"`
}

// RecordPostCheckoutPayment books a payment received after checkout. The
// closed folio is not reopened and its totals do not change.
func (s *Service) RecordPostCheckoutPayment(ctx context.Context, tenantID, folioID, actor string, req PostCheckoutRequest) (*domain.PostCheckoutLedgerEntry, error) {
	amount, err := positiveAmount(req.Amount, "post-checkout amount")
	if err != nil {
		return nil, err
	}
	if !req.Reason.Valid() {
		return nil, domain.Validationf("unknown post-checkout reason %q", req.Reason)
	}
	if req.Method == "" {
		req.Method = "card"
	}

	var entry *domain.PostCheckoutLedgerEntry
	err = s.store.InTx(ctx, func(tx *repository.Store) error {
		f, err := tx.Folios.Get(ctx, tenantID, folioID)
		if err != nil {
			return err
		}
		if f.IsOpen() {
			return domain.InvalidStatef("folio %s is still open; record a regular payment", folioID)
		}
		p, err := s.insertPayment(ctx, tx, f, amount, PaymentRequest{
			Currency:          req.Currency,
			Method:            req.Method,
			ProviderReference: req.ProviderReference,
			RRN:               req.RRN,
		})
		if err != nil {
			return err
		}
		entry = &domain.PostCheckoutLedgerEntry{
			ID:         uuid.NewString(),
			TenantID:   tenantID,
			FolioID:    f.ID,
			BookingID:  f.BookingID,
			GuestID:    req.GuestID,
			PaymentID:  p.ID,
			Amount:     amount,
			Reason:     req.Reason,
			Notes:      req.Notes,
			RecordedBy: actorOrSystem(actor),
			CreatedAt:  s.nowFn().UTC(),
		}
		return tx.Folios.InsertPostCheckout(ctx, entry)
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("post-checkout payment recorded",
		zap.String("tenant_id", tenantID),
		zap.String("folio_id", folioID),
		zap.String("reason", string(req.Reason)),
		zap.String("amount", amount.StringFixed(2)),
	)
	return entry, nil
}

func (s *Service) GetFolio(ctx context.Context, tenantID, folioID string) (*domain.Folio, error) {
	return s.store.Folios.Get(ctx, tenantID, folioID)
}

func (s *Service) ListTransactions(ctx context.Context, tenantID, folioID string) ([]domain.FolioTransaction, error) {
	if _, err := s.store.Folios.Get(ctx, tenantID, folioID); err != nil {
		return nil, err
	}
	return s.store.Folios.ListTransactions(ctx, tenantID, folioID)
}

// BookingBalance sums every folio of a booking. Outstanding also subtracts
// payments received after checkout.
type BookingBalance struct {
	BookingID            string                           `json:"booking_id"`
	Folios               []domain.Folio                   `json:"folios"`
	TotalCharges         decimal.Decimal                  `json:"total_charges"`
	TotalPayments        decimal.Decimal                  `json:"total_payments"`
	Balance              decimal.Decimal                  `json:"balance"`
	PostCheckoutPayments decimal.Decimal                  `json:"post_checkout_payments"`
	Outstanding          decimal.Decimal                  `json:"outstanding"`
	PostCheckoutEntries  []domain.PostCheckoutLedgerEntry `json:"post_checkout_entries"`
}

func (s *Service) BookingBalance(ctx context.Context, tenantID, bookingID string) (*BookingBalance, error) {
	folios, err := s.store.Folios.ListByBooking(ctx, tenantID, bookingID)
	if err != nil {
		return nil, err
	}
	if len(folios) == 0 {
		return nil, domain.NotFoundf("no folios for booking %s", bookingID)
	}
	entries, err := s.store.Folios.ListPostCheckout(ctx, tenantID, bookingID)
	if err != nil {
		return nil, err
	}

	b := &BookingBalance{
		BookingID:            bookingID,
		Folios:               folios,
		TotalCharges:         decimal.Zero,
		TotalPayments:        decimal.Zero,
		PostCheckoutPayments: decimal.Zero,
		PostCheckoutEntries:  entries,
	}
	for _, f := range folios {
		b.TotalCharges = b.TotalCharges.Add(f.TotalCharges)
		b.TotalPayments = b.TotalPayments.Add(f.TotalPayments)
	}
	for _, e := range entries {
		b.PostCheckoutPayments = b.PostCheckoutPayments.Add(e.Amount)
	}
	b.Balance = b.TotalCharges.Sub(b.TotalPayments)
	b.Outstanding = b.Balance.Sub(b.PostCheckoutPayments)
	return b, nil
}

func (s *Service) insertPayment(ctx context.Context, tx *repository.Store, f *domain.Folio, amount decimal.Decimal, req PaymentRequest) (*domain.Payment, error) {
	currency := strings.ToUpper(req.Currency)
	if currency == "" {
		currency = "USD"
	}
	if _, err := money.Places(currency); err != nil {
		return nil, domain.Validationf("%v", err)
	}
	p := &domain.Payment{
		ID:                uuid.NewString(),
		TenantID:          f.TenantID,
		BookingID:         f.BookingID,
		FolioID:           f.ID,
		Amount:            amount,
		Currency:          currency,
		Method:            req.Method,
		ProviderReference: req.ProviderReference,
		RRN:               req.RRN,
		TerminalID:        req.TerminalID,
		ApprovalCode:      req.ApprovalCode,
		Status:            domain.PaymentCaptured,
		CreatedAt:         s.nowFn().UTC(),
	}
	if err := tx.Payments.Insert(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

func (s *Service) newLine(f *domain.Folio, kind domain.TransactionKind, amount decimal.Decimal, desc string) *domain.FolioTransaction {
	return &domain.FolioTransaction{
		ID:                uuid.NewString(),
		TenantID:          f.TenantID,
		FolioID:           f.ID,
		Kind:              kind,
		Amount:            amount,
		TransferredAmount: decimal.Zero,
		Description:       desc,
		CreatedAt:         s.nowFn().UTC(),
	}
}

// loadOpen reads a folio and rejects it with ErrFolioClosed unless it is open.
func loadOpen(ctx context.Context, tx *repository.Store, tenantID, folioID string) (*domain.Folio, error) {
	f, err := tx.Folios.Get(ctx, tenantID, folioID)
	if err != nil {
		return nil, err
	}
	if !f.IsOpen() {
		return nil, fmt.Errorf("%w: folio %s (%s) is closed", domain.ErrFolioClosed, f.ID, f.FolioNumber)
	}
	return f, nil
}

// recompute rebuilds a folio's totals from its lines and writes them back.
func recompute(ctx context.Context, tx *repository.Store, f *domain.Folio) error {
	lines, err := tx.Folios.ListTransactions(ctx, f.TenantID, f.ID)
	if err != nil {
		return err
	}
	charges, payments := decimal.Zero, decimal.Zero
	for _, l := range lines {
		switch sign := l.Kind.ChargeSign(); {
		case l.Kind == domain.KindPayment:
			payments = payments.Add(l.Amount)
		case sign > 0:
			charges = charges.Add(l.Amount)
		case sign < 0:
			charges = charges.Sub(l.Amount)
		}
	}
	f.SetTotals(charges, payments)
	return tx.Folios.Update(ctx, f)
}

func positiveAmount(d decimal.Decimal, what string) (decimal.Decimal, error) {
	if !d.IsPositive() {
		return decimal.Zero, domain.Validationf("%s %s must be positive", what, d.String())
	}
	rounded := money.Round2(d)
	if !rounded.Equal(d) {
		return decimal.Zero, domain.Validationf("%s %s has more than two decimal places", what, d.String())
	}
	return rounded, nil
}

func actorOrSystem(actor string) string {
	if actor == "" {
		return "system"
	}
	return actor
}
