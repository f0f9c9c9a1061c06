package reconciliation

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hotelops/reconciler/internal/domain"
	"github.com/hotelops/reconciler/internal/repository"
)

// Config tunes the settlement matcher.
type Config struct {
	WindowDays int
	MinScore   int
}

func (c Config) withDefaults() Config {
	if c.WindowDays <= 0 {
		c.WindowDays = 7
	}
	if c.MinScore <= 0 {
		c.MinScore = DefaultMinScore
	}
	return c
}

// Service matches settlement records to payments and owns the reconciliation
// record state machine.
type Service struct {
	store *repository.Store
	cfg   Config
	log   *zap.Logger
	nowFn func() time.Time
}

func NewService(store *repository.Store, cfg Config, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{store: store, cfg: cfg.withDefaults(), log: log, nowFn: time.Now}
}

// MatchItem is one settlement record paired with its best payment.
type MatchItem struct {
	SettlementRecordID string                 `json:"settlement_record_id"`
	LedgerEntryID      string                 `json:"ledger_entry_id"`
	Confidence         domain.MatchConfidence `json:"confidence"`
	MatchScore         int                    `json:"match_score"`
	MatchReasons       []string               `json:"match_reasons"`
	Committed          bool                   `json:"committed"`
}

type MatchSummary struct {
	Total     int `json:"total"`
	Matched   int `json:"matched"`
	Suggested int `json:"suggested"`
	Unmatched int `json:"unmatched"`
}

type MatchRunResult struct {
	ImportID string       `json:"import_id"`
	Matches  []MatchItem  `json:"matches"`
	Summary  MatchSummary `json:"summary"`
}

// MatchImport runs the matcher over every unmatched record of an import.
// With autoMatch, exact-confidence matches are committed; everything else is
// returned as a suggestion. A payment is offered to at most one record per run.
func (s *Service) MatchImport(ctx context.Context, tenantID, importID string, autoMatch bool, actor string) (*MatchRunResult, error) {
	imp, err := s.store.Settlements.GetImport(ctx, tenantID, importID)
	if err != nil {
		return nil, err
	}
	if imp.Status != domain.ImportCompleted {
		return nil, domain.InvalidStatef("import %s is %s, only completed imports can be matched", importID, imp.Status)
	}

	records, err := s.store.Settlements.ListRecordsByImport(ctx, tenantID, importID, true)
	if err != nil {
		return nil, err
	}

	result := &MatchRunResult{ImportID: importID, Matches: []MatchItem{}}
	taken := make(map[string]bool)
	window := time.Duration(s.cfg.WindowDays) * 24 * time.Hour

	for i := range records {
		rec := &records[i]
		result.Summary.Total++

		from := rec.TransactionDate.Add(-window)
		to := rec.TransactionDate.Add(24 * time.Hour)
		pool, err := s.store.Payments.ListMatchCandidates(ctx, tenantID, from, to)
		if err != nil {
			return nil, err
		}
		candidates := pool[:0]
		for _, p := range pool {
			if !taken[p.ID] {
				candidates = append(candidates, p)
			}
		}

		m, ok := BestMatch(rec, candidates, s.cfg.MinScore)
		if !ok {
			result.Summary.Unmatched++
			continue
		}
		taken[m.Payment.ID] = true

		item := MatchItem{
			SettlementRecordID: rec.ID,
			LedgerEntryID:      m.Payment.ID,
			Confidence:         m.Confidence,
			MatchScore:         m.Score,
			MatchReasons:       m.Reasons,
		}

		if autoMatch && m.Confidence == domain.ConfidenceExact {
			if err := s.commitSettlementMatch(ctx, rec, m.Payment.ID, m.Confidence, m.Score, actor, "settlement.auto_match"); err != nil {
				return nil, err
			}
			item.Committed = true
			result.Summary.Matched++
		} else {
			result.Summary.Suggested++
		}
		result.Matches = append(result.Matches, item)
	}

	if err := s.refreshImportCounts(ctx, s.store, tenantID, importID); err != nil {
		return nil, err
	}

	s.log.Info("settlement matching finished",
		zap.String("tenant_id", tenantID),
		zap.String("import_id", importID),
		zap.Bool("auto_match", autoMatch),
		zap.Int("total", result.Summary.Total),
		zap.Int("matched", result.Summary.Matched),
		zap.Int("suggested", result.Summary.Suggested),
		zap.Int("unmatched", result.Summary.Unmatched),
	)
	return result, nil
}

// ConfirmMatch commits a suggested match chosen by a person.
func (s *Service) ConfirmMatch(ctx context.Context, tenantID, recordID, paymentID, actor string) (*domain.SettlementRecord, error) {
	if paymentID == "" {
		return nil, domain.Validationf("payment_id is required")
	}
	var out *domain.SettlementRecord
	err := s.store.InTx(ctx, func(tx *repository.Store) error {
		rec, err := tx.Settlements.GetRecord(ctx, tenantID, recordID)
		if err != nil {
			return err
		}
		if rec.LedgerEntryID == paymentID {
			out = rec
			return nil
		}
		if rec.IsMatched() {
			return fmt.Errorf("%w: settlement record %s is already matched to payment %s; unlink it first",
				domain.ErrConflict, recordID, rec.LedgerEntryID)
		}

		p, err := tx.Payments.GetByID(ctx, tenantID, paymentID)
		if err != nil {
			return err
		}
		claimed, err := tx.Settlements.PaymentClaimed(ctx, tenantID, paymentID)
		if err != nil {
			return err
		}
		if claimed {
			return fmt.Errorf("%w: payment %s is already matched to another settlement record", domain.ErrConflict, paymentID)
		}

		score, _, _ := Score(rec, p)
		if err := s.commitSettlementMatchTx(ctx, tx, rec, paymentID, domain.ConfidenceManual, score, actor, "settlement.confirm_match"); err != nil {
			return err
		}
		if err := s.refreshImportCounts(ctx, tx, tenantID, rec.ImportID); err != nil {
			return err
		}
		out, err = tx.Settlements.GetRecord(ctx, tenantID, recordID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// UnlinkSettlement clears a settlement record's match. Unlinking an unmatched
// record changes nothing.
func (s *Service) UnlinkSettlement(ctx context.Context, tenantID, recordID, actor string) (*domain.SettlementRecord, error) {
	var out *domain.SettlementRecord
	err := s.store.InTx(ctx, func(tx *repository.Store) error {
		rec, err := tx.Settlements.GetRecord(ctx, tenantID, recordID)
		if err != nil {
			return err
		}
		if !rec.IsMatched() {
			out = rec
			return nil
		}
		if err := tx.Settlements.ClearMatch(ctx, tenantID, recordID); err != nil {
			return err
		}
		if err := s.appendAudit(ctx, tx, tenantID, actor, "settlement.unlink", "settlement_record", recordID, rec.LedgerEntryID, "", ""); err != nil {
			return err
		}
		if err := s.refreshImportCounts(ctx, tx, tenantID, rec.ImportID); err != nil {
			return err
		}
		out, err = tx.Settlements.GetRecord(ctx, tenantID, recordID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Service) commitSettlementMatch(ctx context.Context, rec *domain.SettlementRecord, paymentID string, confidence domain.MatchConfidence, score int, actor, action string) error {
	return s.store.InTx(ctx, func(tx *repository.Store) error {
		return s.commitSettlementMatchTx(ctx, tx, rec, paymentID, confidence, score, actor, action)
	})
}

func (s *Service) commitSettlementMatchTx(ctx context.Context, tx *repository.Store, rec *domain.SettlementRecord, paymentID string, confidence domain.MatchConfidence, score int, actor, action string) error {
	now := s.nowFn().UTC()
	if err := tx.Settlements.SetMatch(ctx, rec.TenantID, rec.ID, paymentID, confidence, score, now); err != nil {
		return err
	}
	detail := fmt.Sprintf("confidence=%s score=%d", confidence, score)
	return s.appendAudit(ctx, tx, rec.TenantID, actor, action, "settlement_record", rec.ID, "", paymentID, detail)
}

func (s *Service) refreshImportCounts(ctx context.Context, st *repository.Store, tenantID, importID string) error {
	matched, unmatched, err := st.Settlements.CountMatches(ctx, tenantID, importID)
	if err != nil {
		return err
	}
	return st.Settlements.UpdateMatchCounts(ctx, tenantID, importID, matched, unmatched)
}

func (s *Service) appendAudit(ctx context.Context, tx *repository.Store, tenantID, actor, action, entityType, entityID, before, after, detail string) error {
	return tx.Audit.Append(ctx, &domain.AuditEvent{
		ID:         uuid.NewString(),
		TenantID:   tenantID,
		Actor:      actorOrSystem(actor),
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		BeforeRef:  before,
		AfterRef:   after,
		Detail:     detail,
		CreatedAt:  s.nowFn().UTC(),
	})
}
