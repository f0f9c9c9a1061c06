package reconciliation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/hotelops/reconciler/internal/domain"
	"github.com/hotelops/reconciler/internal/repository"
)

// EntityReconciliationRecord is the audit entity type of reconciliation records.
const EntityReconciliationRecord = "reconciliation_record"

// ExternalTransaction is a transaction reported by a payment provider.
type ExternalTransaction struct {
	Reference       string                      `json:"reference"`
	Amount          decimal.Decimal             `json:"amount"`
	ExpectedAmount  decimal.NullDecimal         `json:"expected_amount"`
	Source          domain.ReconciliationSource `json:"source"`
	TransactionDate time.Time                   `json:"transaction_date"`
	RawPayload      json.RawMessage             `json:"raw_payload,omitempty"`
}

// RecordExternal stores an external transaction the first time its reference
// is seen. A repeated reference returns the existing record with created=false.
func (s *Service) RecordExternal(ctx context.Context, tenantID, actor string, in ExternalTransaction) (rec *domain.ReconciliationRecord, created bool, err error) {
	in.Reference = strings.TrimSpace(in.Reference)
	if in.Reference == "" {
		return nil, false, domain.Validationf("reference is required")
	}
	if !in.Amount.IsPositive() {
		return nil, false, domain.Validationf("amount %s for reference %s must be positive", in.Amount, in.Reference)
	}
	if in.ExpectedAmount.Valid && in.ExpectedAmount.Decimal.IsNegative() {
		return nil, false, domain.Validationf("expected amount %s for reference %s must not be negative", in.ExpectedAmount.Decimal, in.Reference)
	}
	if in.Source == "" {
		in.Source = domain.SourceAPI
	}
	if in.Source != domain.SourceAPI && in.Source != domain.SourceCSV {
		return nil, false, domain.Validationf("unknown source %q", in.Source)
	}

	now := s.nowFn().UTC()
	if in.TransactionDate.IsZero() {
		in.TransactionDate = now
	}

	err = s.store.InTx(ctx, func(tx *repository.Store) error {
		existing, err := tx.Recon.GetByReference(ctx, tenantID, in.Source, in.Reference)
		if err == nil {
			rec = existing
			return nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			return err
		}

		rec = &domain.ReconciliationRecord{
			ID:              uuid.NewString(),
			TenantID:        tenantID,
			Reference:       in.Reference,
			Amount:          in.Amount,
			ExpectedAmount:  in.ExpectedAmount,
			Source:          in.Source,
			TransactionDate: in.TransactionDate.UTC(),
			RawPayload:      in.RawPayload,
			Version:         1,
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		rec.Status = rec.InitialStatus()
		if err := tx.Recon.Insert(ctx, rec); err != nil {
			return err
		}
		created = true
		return s.appendAudit(ctx, tx, tenantID, actor, "reconciliation.recorded", EntityReconciliationRecord, rec.ID, "", "", string(rec.Status))
	})
	if err != nil {
		return nil, false, err
	}
	return rec, created, nil
}

// MatchRequest links one reconciliation record to a payment. ExpectedVersion,
// when non-zero, must equal the record's current version.
type MatchRequest struct {
	RecordID        string `json:"record_id"`
	PaymentID       string `json:"payment_id"`
	ExpectedVersion int    `json:"expected_version,omitempty"`
}

// Match marks a record matched to a payment. Matching again to the same
// payment is a no-op. Matching to a different payment replaces the earlier
// link. A payment can back only one record.
func (s *Service) Match(ctx context.Context, tenantID, actor string, req MatchRequest) (*domain.ReconciliationRecord, error) {
	if req.RecordID == "" || req.PaymentID == "" {
		return nil, domain.Validationf("record_id and payment_id are required")
	}

	var out *domain.ReconciliationRecord
	err := s.store.InTx(ctx, func(tx *repository.Store) error {
		rec, err := tx.Recon.GetByID(ctx, tenantID, req.RecordID)
		if err != nil {
			return err
		}
		if err := checkVersion(rec, req.ExpectedVersion); err != nil {
			return err
		}
		if rec.Status == domain.ReconMatched && rec.InternalTxnID == req.PaymentID {
			out = rec
			return nil
		}

		if _, err := tx.Payments.GetByID(ctx, tenantID, req.PaymentID); err != nil {
			return err
		}
		holder, err := tx.Recon.FindByPayment(ctx, tenantID, req.PaymentID)
		if err != nil {
			return err
		}
		if holder != nil && holder.ID != rec.ID {
			return fmt.Errorf("%w: payment %s is already matched to reconciliation record %s",
				domain.ErrConflict, req.PaymentID, holder.ID)
		}

		before := rec.InternalTxnID
		now := s.nowFn().UTC()
		rec.Status = domain.ReconMatched
		rec.InternalTxnID = req.PaymentID
		rec.MatchedBy = actorOrSystem(actor)
		rec.ReconciledAt = &now
		rec.UpdatedAt = now
		if err := tx.Recon.UpdateMatchState(ctx, rec); err != nil {
			return err
		}
		out = rec
		return s.appendAudit(ctx, tx, tenantID, actor, "reconciliation.match", EntityReconciliationRecord, rec.ID, before, req.PaymentID, "")
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Unmatch clears a record's link and returns it to unmatched. It is allowed
// on any record; a record with no link is left untouched, status included.
func (s *Service) Unmatch(ctx context.Context, tenantID, actor, recordID string, expectedVersion int) (*domain.ReconciliationRecord, error) {
	var out *domain.ReconciliationRecord
	err := s.store.InTx(ctx, func(tx *repository.Store) error {
		rec, err := tx.Recon.GetByID(ctx, tenantID, recordID)
		if err != nil {
			return err
		}
		if err := checkVersion(rec, expectedVersion); err != nil {
			return err
		}
		if rec.InternalTxnID == "" && rec.ReconciledAt == nil {
			out = rec
			return nil
		}

		before := rec.InternalTxnID
		rec.Status = domain.ReconUnmatched
		rec.InternalTxnID = ""
		rec.MatchedBy = ""
		rec.ReconciledAt = nil
		rec.UpdatedAt = s.nowFn().UTC()
		if err := tx.Recon.UpdateMatchState(ctx, rec); err != nil {
			return err
		}
		out = rec
		return s.appendAudit(ctx, tx, tenantID, actor, "reconciliation.unmatch", EntityReconciliationRecord, rec.ID, before, "", "")
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

type BulkError struct {
	RecordID string `json:"record_id"`
	Error    string `json:"error"`
}

// BulkResult reports per-item outcomes of a bulk match.
type BulkResult struct {
	Successful int         `json:"successful"`
	Failed     int         `json:"failed"`
	Total      int         `json:"total"`
	Errors     []BulkError `json:"errors,omitempty"`
}

// BulkMatch applies Match to each item independently. A failing item does not
// undo or stop the others; only a cancelled context aborts the batch.
func (s *Service) BulkMatch(ctx context.Context, tenantID, actor string, items []MatchRequest) (*BulkResult, error) {
	res := &BulkResult{Total: len(items)}
	for _, item := range items {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if _, err := s.Match(ctx, tenantID, actor, item); err != nil {
			res.Failed++
			res.Errors = append(res.Errors, BulkError{RecordID: item.RecordID, Error: err.Error()})
			continue
		}
		res.Successful++
	}

	s.log.Info("bulk match finished",
		zap.String("tenant_id", tenantID),
		zap.Int("total", res.Total),
		zap.Int("successful", res.Successful),
		zap.Int("failed", res.Failed),
	)
	return res, nil
}

// AutoMatchResult reports an auto-match run. NoMatches is set when no
// high-confidence pair was found, which is not an error.
type AutoMatchResult struct {
	Examined  int         `json:"examined"`
	Matched   int         `json:"matched"`
	Failed    int         `json:"failed"`
	NoMatches bool        `json:"no_matches"`
	Message   string      `json:"message"`
	Errors    []BulkError `json:"errors,omitempty"`
}

// AutoMatch grades every unmatched record of the tenant against the tenant's
// unreconciled payments and bulk-matches only high-confidence pairs.
func (s *Service) AutoMatch(ctx context.Context, tenantID, actor string) (*AutoMatchResult, error) {
	records, err := s.store.Recon.ListByStatus(ctx, tenantID, domain.ReconUnmatched, 0)
	if err != nil {
		return nil, err
	}
	payments, err := s.store.Payments.ListUnreconciled(ctx, tenantID, 0)
	if err != nil {
		return nil, err
	}

	taken := make(map[string]bool)
	var items []MatchRequest
	for i := range records {
		p, conf, ok := bestReferenceMatch(&records[i], payments, taken)
		if !ok || conf != domain.ReferenceHigh {
			continue
		}
		taken[p.ID] = true
		items = append(items, MatchRequest{
			RecordID:        records[i].ID,
			PaymentID:       p.ID,
			ExpectedVersion: records[i].Version,
		})
	}

	res := &AutoMatchResult{Examined: len(records)}
	if len(items) == 0 {
		res.NoMatches = true
		res.Message = "no matches found"
		return res, nil
	}

	bulk, err := s.BulkMatch(ctx, tenantID, actorOrSystem(actor), items)
	if err != nil {
		return nil, err
	}
	res.Matched = bulk.Successful
	res.Failed = bulk.Failed
	res.Errors = bulk.Errors
	res.Message = fmt.Sprintf("matched %d of %d records", bulk.Successful, len(records))
	return res, nil
}

// Suggestion is a graded candidate for one reconciliation record.
type Suggestion struct {
	RecordID   string                     `json:"record_id"`
	PaymentID  string                     `json:"payment_id"`
	Confidence domain.ReferenceConfidence `json:"confidence"`
}

// Suggest lists the best candidate for each unmatched record, including those
// below high confidence, for people to review before a bulk match.
func (s *Service) Suggest(ctx context.Context, tenantID string) ([]Suggestion, error) {
	records, err := s.store.Recon.ListByStatus(ctx, tenantID, domain.ReconUnmatched, 0)
	if err != nil {
		return nil, err
	}
	payments, err := s.store.Payments.ListUnreconciled(ctx, tenantID, 0)
	if err != nil {
		return nil, err
	}

	out := []Suggestion{}
	taken := make(map[string]bool)
	for i := range records {
		p, conf, ok := bestReferenceMatch(&records[i], payments, taken)
		if !ok {
			continue
		}
		taken[p.ID] = true
		out = append(out, Suggestion{RecordID: records[i].ID, PaymentID: p.ID, Confidence: conf})
	}
	return out, nil
}

// ListPayments lists the tenant's internal payments for candidate review.
func (s *Service) ListPayments(ctx context.Context, f repository.PaymentFilter) ([]domain.Payment, error) {
	return s.store.Payments.List(ctx, f)
}

func (s *Service) GetRecord(ctx context.Context, tenantID, id string) (*domain.ReconciliationRecord, error) {
	return s.store.Recon.GetByID(ctx, tenantID, id)
}

func (s *Service) ListRecords(ctx context.Context, tenantID string, status domain.ReconciliationStatus, limit int) ([]domain.ReconciliationRecord, error) {
	return s.store.Recon.ListByStatus(ctx, tenantID, status, limit)
}

func (s *Service) AuditTrail(ctx context.Context, tenantID, entityType, entityID string) ([]domain.AuditEvent, error) {
	return s.store.Audit.ListByEntity(ctx, tenantID, entityType, entityID)
}

func checkVersion(rec *domain.ReconciliationRecord, expected int) error {
	if expected != 0 && expected != rec.Version {
		return fmt.Errorf("%w: reconciliation record %s is at version %d, expected %d",
			domain.ErrConflict, rec.ID, rec.Version, expected)
	}
	return nil
}

func actorOrSystem(actor string) string {
	if actor == "" {
		return "system"
	}
	return actor
}
