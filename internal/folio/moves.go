package folio

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/hotelops/reconciler/internal/domain"
	"github.com/hotelops/reconciler/internal/repository"
)

type TransferRequest struct {
	SourceFolioID string          `json:"source_folio_id"`
	TargetFolioID string          `json:"target_folio_id"`
	TransactionID string          `json:"transaction_id"`
	Amount        decimal.Decimal `json:"amount"`
}

type TransferResult struct {
	Source      *domain.Folio            `json:"source"`
	Target      *domain.Folio            `json:"target"`
	OutLine     *domain.FolioTransaction `json:"out_transaction"`
	InLine      *domain.FolioTransaction `json:"in_transaction"`
	Transferred decimal.Decimal          `json:"transferred"`
}

// TransferCharge moves part or all of a charge line from one open folio to
// another. It writes a linked transfer_out/transfer_in pair and advances the
// original line's transferred amount.
func (s *Service) TransferCharge(ctx context.Context, tenantID string, req TransferRequest) (*TransferResult, error) {
	amount, err := positiveAmount(req.Amount, "transfer amount")
	if err != nil {
		return nil, err
	}
	if req.SourceFolioID == req.TargetFolioID {
		return nil, domain.Validationf("source and target folio must differ (%s)", req.SourceFolioID)
	}

	res := &TransferResult{Transferred: amount}
	err = s.store.InTx(ctx, func(tx *repository.Store) error {
		source, err := loadOpen(ctx, tx, tenantID, req.SourceFolioID)
		if err != nil {
			return err
		}
		target, err := loadOpen(ctx, tx, tenantID, req.TargetFolioID)
		if err != nil {
			return err
		}
		orig, err := tx.Folios.GetTransaction(ctx, tenantID, req.TransactionID)
		if err != nil {
			return err
		}
		if orig.FolioID != source.ID {
			return domain.Validationf("transaction %s is not on folio %s", orig.ID, source.ID)
		}
		if !orig.Kind.IsChargeLike() {
			return domain.Validationf("transaction %s is a %s line and cannot be transferred", orig.ID, orig.Kind)
		}
		if remaining := orig.Remaining(); amount.GreaterThan(remaining) {
			return domain.Validationf("transfer amount %s exceeds remaining %s on transaction %s",
				amount.StringFixed(2), remaining.StringFixed(2), orig.ID)
		}

		out := s.newLine(source, domain.KindTransferOut, amount, "Transfer to "+target.FolioNumber+": "+orig.Description)
		in := s.newLine(target, domain.KindTransferIn, amount, "Transfer from "+source.FolioNumber+": "+orig.Description)
		for _, l := range []*domain.FolioTransaction{out, in} {
			l.ReferenceType = "folio_transaction"
			l.ReferenceID = orig.ID
			l.Department = orig.Department
		}
		out.LinkedTransactionID = in.ID
		in.LinkedTransactionID = out.ID

		if err := tx.Folios.InsertTransaction(ctx, out); err != nil {
			return err
		}
		if err := tx.Folios.InsertTransaction(ctx, in); err != nil {
			return err
		}
		orig.TransferredAmount = orig.TransferredAmount.Add(amount)
		if err := tx.Folios.SetTransferred(ctx, orig); err != nil {
			return err
		}
		if err := recompute(ctx, tx, source); err != nil {
			return err
		}
		if err := recompute(ctx, tx, target); err != nil {
			return err
		}
		res.Source, res.Target, res.OutLine, res.InLine = source, target, out, in
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("charge transferred",
		zap.String("tenant_id", tenantID),
		zap.String("transaction_id", req.TransactionID),
		zap.String("source_folio_id", req.SourceFolioID),
		zap.String("target_folio_id", req.TargetFolioID),
		zap.String("amount", amount.StringFixed(2)),
	)
	return res, nil
}

type SplitPart struct {
	TargetFolioID string          `json:"target_folio_id"`
	Amount        decimal.Decimal `json:"amount"`
}

type SplitRequest struct {
	TransactionID string      `json:"transaction_id"`
	Splits        []SplitPart `json:"splits"`
}

type SplitResult struct {
	OutLine *domain.FolioTransaction  `json:"out_transaction"`
	InLines []domain.FolioTransaction `json:"in_transactions"`
	Folios  []domain.Folio            `json:"folios"`
}

// SplitCharge divides an untouched charge line across one or more open
// folios. The split amounts must add up to the charge exactly; the source
// folio may itself be one of the targets.
func (s *Service) SplitCharge(ctx context.Context, tenantID string, req SplitRequest) (*SplitResult, error) {
	if len(req.Splits) == 0 {
		return nil, domain.Validationf("at least one split is required")
	}
	total := decimal.Zero
	for i, part := range req.Splits {
		if part.TargetFolioID == "" {
			return nil, domain.Validationf("split %d has no target folio", i)
		}
		amount, err := positiveAmount(part.Amount, fmt.Sprintf("split %d amount", i))
		if err != nil {
			return nil, err
		}
		req.Splits[i].Amount = amount
		total = total.Add(amount)
	}

	res := &SplitResult{}
	err := s.store.InTx(ctx, func(tx *repository.Store) error {
		orig, err := tx.Folios.GetTransaction(ctx, tenantID, req.TransactionID)
		if err != nil {
			return err
		}
		if !orig.Kind.IsChargeLike() {
			return domain.Validationf("transaction %s is a %s line and cannot be split", orig.ID, orig.Kind)
		}
		if !orig.TransferredAmount.IsZero() {
			return domain.Validationf("transaction %s already had %s moved off it and cannot be split",
				orig.ID, orig.TransferredAmount.StringFixed(2))
		}
		if !total.Equal(orig.Amount) {
			return domain.Validationf("split amounts total %s but transaction %s is %s",
				total.StringFixed(2), orig.ID, orig.Amount.StringFixed(2))
		}

		source, err := loadOpen(ctx, tx, tenantID, orig.FolioID)
		if err != nil {
			return err
		}
		folios := map[string]*domain.Folio{source.ID: source}
		order := []string{source.ID}
		for _, part := range req.Splits {
			if _, ok := folios[part.TargetFolioID]; ok {
				continue
			}
			f, err := loadOpen(ctx, tx, tenantID, part.TargetFolioID)
			if err != nil {
				return err
			}
			folios[f.ID] = f
			order = append(order, f.ID)
		}

		out := s.newLine(source, domain.KindSplitOut, orig.Amount, "Split: "+orig.Description)
		out.ReferenceType = "folio_transaction"
		out.ReferenceID = orig.ID
		out.Department = orig.Department
		if err := tx.Folios.InsertTransaction(ctx, out); err != nil {
			return err
		}
		res.OutLine = out

		for _, part := range req.Splits {
			target := folios[part.TargetFolioID]
			in := s.newLine(target, domain.KindSplitIn, part.Amount, "Split from "+source.FolioNumber+": "+orig.Description)
			in.ReferenceType = "folio_transaction"
			in.ReferenceID = orig.ID
			in.Department = orig.Department
			in.LinkedTransactionID = out.ID
			if err := tx.Folios.InsertTransaction(ctx, in); err != nil {
				return err
			}
			res.InLines = append(res.InLines, *in)
		}

		orig.TransferredAmount = orig.Amount
		if err := tx.Folios.SetTransferred(ctx, orig); err != nil {
			return err
		}
		for _, id := range order {
			if err := recompute(ctx, tx, folios[id]); err != nil {
				return err
			}
			res.Folios = append(res.Folios, *folios[id])
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("charge split",
		zap.String("tenant_id", tenantID),
		zap.String("transaction_id", req.TransactionID),
		zap.Int("parts", len(req.Splits)),
		zap.String("amount", total.StringFixed(2)),
	)
	return res, nil
}

type MergeResult struct {
	Source     *domain.Folio `json:"source"`
	Target     *domain.Folio `json:"target"`
	MovedLines int64         `json:"moved_lines"`
}

// MergeFolios moves every line of the source folio onto the target and closes
// the source. A closed source, or a primary source that still has open child
// folios, is rejected.
func (s *Service) MergeFolios(ctx context.Context, tenantID, sourceID, targetID string) (*MergeResult, error) {
	if sourceID == targetID {
		return nil, domain.Validationf("source and target folio must differ (%s)", sourceID)
	}

	res := &MergeResult{}
	err := s.store.InTx(ctx, func(tx *repository.Store) error {
		source, err := tx.Folios.Get(ctx, tenantID, sourceID)
		if err != nil {
			return err
		}
		if !source.IsOpen() {
			return domain.InvalidStatef("source folio %s is already closed", sourceID)
		}
		if source.IsPrimary {
			children, err := tx.Folios.CountOpenChildren(ctx, tenantID, source.ID)
			if err != nil {
				return err
			}
			if children > 0 {
				return domain.InvalidStatef("primary folio %s still has %d open dependent folios", sourceID, children)
			}
		}
		target, err := loadOpen(ctx, tx, tenantID, targetID)
		if err != nil {
			return err
		}

		moved, err := tx.Folios.Reparent(ctx, tenantID, source.ID, target.ID)
		if err != nil {
			return err
		}
		now := s.nowFn().UTC()
		source.Status = domain.FolioClosed
		source.ClosedAt = &now
		if err := recompute(ctx, tx, source); err != nil {
			return err
		}
		if err := recompute(ctx, tx, target); err != nil {
			return err
		}
		res.Source, res.Target, res.MovedLines = source, target, moved
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("folios merged",
		zap.String("tenant_id", tenantID),
		zap.String("source_folio_id", sourceID),
		zap.String("target_folio_id", targetID),
		zap.Int64("moved_lines", res.MovedLines),
	)
	return res, nil
}
