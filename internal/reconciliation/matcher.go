package reconciliation

import (
	"fmt"
	"time"

	"github.com/hotelops/reconciler/internal/domain"
	"github.com/hotelops/reconciler/internal/money"
	"github.com/shopspring/decimal"
)

// Points awarded per matching signal.
const (
	pointsSTAN         = 50
	pointsRRN          = 50
	pointsAmountExact  = 30
	pointsAmountClose  = 10
	pointsTerminal     = 15
	pointsApprovalCode = 20
	pointsSameDay      = 10

	// DefaultMinScore is the lowest score accepted as a match.
	DefaultMinScore = 40
)

var closeAmountTolerance = decimal.NewFromInt(1)

// Match is the best candidate payment found for one settlement record.
type Match struct {
	Payment    domain.Payment
	Score      int
	Confidence domain.MatchConfidence
	Reasons    []string
}

// Score compares a settlement record with one internal payment. The STAN is
// compared against the payment's provider reference.
func Score(rec *domain.SettlementRecord, p *domain.Payment) (int, domain.MatchConfidence, []string) {
	score := 0
	var reasons []string
	exactID := false

	if rec.STAN != "" && p.ProviderReference != "" && rec.STAN == p.ProviderReference {
		score += pointsSTAN
		exactID = true
		reasons = append(reasons, fmt.Sprintf("STAN %s matches", rec.STAN))
	}
	if rec.RRN != "" && p.RRN != "" && rec.RRN == p.RRN {
		score += pointsRRN
		exactID = true
		reasons = append(reasons, fmt.Sprintf("RRN %s matches", rec.RRN))
	}

	diff := rec.Amount.Sub(p.Amount).Abs()
	switch {
	case diff.LessThan(money.Cent):
		score += pointsAmountExact
		reasons = append(reasons, fmt.Sprintf("amount %s matches exactly", rec.Amount.StringFixed(2)))
	case diff.LessThan(closeAmountTolerance):
		score += pointsAmountClose
		reasons = append(reasons, fmt.Sprintf("amount within %s (diff %s)", closeAmountTolerance, diff.StringFixed(2)))
	}

	if rec.TerminalID != "" && p.TerminalID != "" && rec.TerminalID == p.TerminalID {
		score += pointsTerminal
		reasons = append(reasons, fmt.Sprintf("terminal %s matches", rec.TerminalID))
	}
	if rec.ApprovalCode != "" && p.ApprovalCode != "" && rec.ApprovalCode == p.ApprovalCode {
		score += pointsApprovalCode
		reasons = append(reasons, fmt.Sprintf("approval code %s matches", rec.ApprovalCode))
	}
	if sameDay(rec.TransactionDate, p.CreatedAt) {
		score += pointsSameDay
		reasons = append(reasons, "same transaction day")
	}

	confidence := domain.ConfidenceProbable
	if exactID {
		confidence = domain.ConfidenceExact
	}
	return score, confidence, reasons
}

// BestMatch returns the highest scoring candidate. Ties keep the candidate
// seen first. Nothing is returned when the best score is below minScore.
func BestMatch(rec *domain.SettlementRecord, candidates []domain.Payment, minScore int) (*Match, bool) {
	var best *Match
	for i := range candidates {
		score, confidence, reasons := Score(rec, &candidates[i])
		if best == nil || score > best.Score {
			best = &Match{
				Payment:    candidates[i],
				Score:      score,
				Confidence: confidence,
				Reasons:    reasons,
			}
		}
	}
	if best == nil || best.Score < minScore {
		return nil, false
	}
	return best, true
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.UTC().Date()
	by, bm, bd := b.UTC().Date()
	return ay == by && am == bm && ad == bd
}
