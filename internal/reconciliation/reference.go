package reconciliation

import (
	"strings"

	"github.com/hotelops/reconciler/internal/domain"
	"github.com/hotelops/reconciler/internal/money"
)

var confidenceRank = map[domain.ReferenceConfidence]int{
	domain.ReferenceHigh:   3,
	domain.ReferenceMedium: 2,
	domain.ReferenceLow:    1,
}

// GradeReference grades how well an externally reported transaction matches
// an internal payment. The reference is compared with the payment's provider
// reference and RRN, ignoring case. ok is false when nothing lines up.
func GradeReference(rec *domain.ReconciliationRecord, p *domain.Payment) (domain.ReferenceConfidence, bool) {
	ref := normalizeRef(rec.Reference)
	amountExact := money.Equal(rec.Amount, p.Amount)

	equal, contained := false, false
	for _, candidate := range []string{p.ProviderReference, p.RRN} {
		c := normalizeRef(candidate)
		if ref == "" || c == "" {
			continue
		}
		if ref == c {
			equal = true
		} else if strings.Contains(ref, c) || strings.Contains(c, ref) {
			contained = true
		}
	}

	switch {
	case equal && amountExact:
		return domain.ReferenceHigh, true
	case equal, contained && amountExact:
		return domain.ReferenceMedium, true
	case amountExact && sameDay(rec.TransactionDate, p.CreatedAt):
		return domain.ReferenceLow, true
	}
	return "", false
}

// bestReferenceMatch returns the best graded payment for rec, skipping
// payments in taken. Ties keep the payment seen first.
func bestReferenceMatch(rec *domain.ReconciliationRecord, payments []domain.Payment, taken map[string]bool) (*domain.Payment, domain.ReferenceConfidence, bool) {
	var best *domain.Payment
	var bestConf domain.ReferenceConfidence
	for i := range payments {
		if taken[payments[i].ID] {
			continue
		}
		conf, ok := GradeReference(rec, &payments[i])
		if !ok {
			continue
		}
		if best == nil || confidenceRank[conf] > confidenceRank[bestConf] {
			best = &payments[i]
			bestConf = conf
		}
	}
	return best, bestConf, best != nil
}

func normalizeRef(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
