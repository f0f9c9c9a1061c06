package reconciliation

import (
	"testing"
	"time"

	"github.com/hotelops/reconciler/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var day = time.Date(2026, 3, 13, 0, 0, 0, 0, time.UTC)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestScoreStanAndExactAmount(t *testing.T) {
	rec := &domain.SettlementRecord{STAN: "123456", Amount: dec("5000.00"), TransactionDate: day}
	p := &domain.Payment{ID: "p1", ProviderReference: "123456", Amount: dec("5000.00"), CreatedAt: day.AddDate(0, 0, -2)}

	score, conf, reasons := Score(rec, p)
	assert.Equal(t, 80, score)
	assert.Equal(t, domain.ConfidenceExact, conf)
	assert.Len(t, reasons, 2)
}

func TestScoreAllSignals(t *testing.T) {
	rec := &domain.SettlementRecord{
		STAN: "1", RRN: "R1", TerminalID: "T9", ApprovalCode: "A7",
		Amount: dec("10.00"), TransactionDate: day.Add(9 * time.Hour),
	}
	p := &domain.Payment{
		ProviderReference: "1", RRN: "R1", TerminalID: "T9", ApprovalCode: "A7",
		Amount: dec("10.00"), CreatedAt: day.Add(20 * time.Hour),
	}
	score, _, _ := Score(rec, p)
	assert.Equal(t, 50+50+30+15+20+10, score)
}

func TestScoreCloseAmountOnlyWhenNotExact(t *testing.T) {
	rec := &domain.SettlementRecord{Amount: dec("100.00"), TransactionDate: day}

	score, conf, _ := Score(rec, &domain.Payment{Amount: dec("100.50"), CreatedAt: day})
	assert.Equal(t, 10+10, score)
	assert.Equal(t, domain.ConfidenceProbable, conf)

	score, _, _ = Score(rec, &domain.Payment{Amount: dec("100.005"), CreatedAt: day.AddDate(0, 0, -1)})
	assert.Equal(t, 30, score)

	score, _, _ = Score(rec, &domain.Payment{Amount: dec("101.00"), CreatedAt: day.AddDate(0, 0, -1)})
	assert.Equal(t, 0, score)
}

func TestScoreIgnoresEmptyIdentifiers(t *testing.T) {
	rec := &domain.SettlementRecord{Amount: dec("1"), TransactionDate: day}
	p := &domain.Payment{Amount: dec("999"), CreatedAt: day.AddDate(0, 0, -3)}
	score, conf, reasons := Score(rec, p)
	assert.Zero(t, score)
	assert.Equal(t, domain.ConfidenceProbable, conf)
	assert.Empty(t, reasons)
}

func TestBestMatchThreshold(t *testing.T) {
	rec := &domain.SettlementRecord{Amount: dec("75.00"), TransactionDate: day}

	// amount exact + same day = 40, exactly the threshold
	atThreshold := []domain.Payment{{ID: "p1", Amount: dec("75.00"), CreatedAt: day}}
	m, ok := BestMatch(rec, atThreshold, DefaultMinScore)
	require.True(t, ok)
	assert.Equal(t, 40, m.Score)
	assert.Equal(t, domain.ConfidenceProbable, m.Confidence)

	var below []domain.Payment
	for i := 0; i < 50; i++ {
		below = append(below, domain.Payment{ID: "x", Amount: dec("75.00"), CreatedAt: day.AddDate(0, 0, -1)})
	}
	_, ok = BestMatch(rec, below, DefaultMinScore)
	assert.False(t, ok)

	_, ok = BestMatch(rec, nil, DefaultMinScore)
	assert.False(t, ok)
}

func TestBestMatchPrefersHighestAndFirstOnTie(t *testing.T) {
	rec := &domain.SettlementRecord{RRN: "R5", Amount: dec("20.00"), TransactionDate: day}
	candidates := []domain.Payment{
		{ID: "amount-only", Amount: dec("20.00"), CreatedAt: day},
		{ID: "rrn-first", RRN: "R5", Amount: dec("20.00"), CreatedAt: day},
		{ID: "rrn-second", RRN: "R5", Amount: dec("20.00"), CreatedAt: day},
	}
	m, ok := BestMatch(rec, candidates, DefaultMinScore)
	require.True(t, ok)
	assert.Equal(t, "rrn-first", m.Payment.ID)
	assert.Equal(t, domain.ConfidenceExact, m.Confidence)
	assert.Equal(t, 90, m.Score)
}

func TestGradeReference(t *testing.T) {
	rec := &domain.ReconciliationRecord{Reference: "PSK-001", Amount: dec("50.00"), TransactionDate: day}

	cases := []struct {
		name string
		p    domain.Payment
		want domain.ReferenceConfidence
		ok   bool
	}{
		{"equal ref exact amount", domain.Payment{ProviderReference: "psk-001", Amount: dec("50.00")}, domain.ReferenceHigh, true},
		{"equal rrn exact amount", domain.Payment{RRN: "PSK-001", Amount: dec("50.00")}, domain.ReferenceHigh, true},
		{"equal ref other amount", domain.Payment{ProviderReference: "PSK-001", Amount: dec("45.00")}, domain.ReferenceMedium, true},
		{"contained ref exact amount", domain.Payment{ProviderReference: "TX-PSK-001-A", Amount: dec("50.00")}, domain.ReferenceMedium, true},
		{"contained ref other amount", domain.Payment{ProviderReference: "TX-PSK-001-A", Amount: dec("45.00"), CreatedAt: day}, "", false},
		{"amount and day only", domain.Payment{Amount: dec("50.00"), CreatedAt: day.Add(5 * time.Hour)}, domain.ReferenceLow, true},
		{"amount other day", domain.Payment{Amount: dec("50.00"), CreatedAt: day.AddDate(0, 0, 2)}, "", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := GradeReference(rec, &tc.p)
			assert.Equal(t, tc.ok, ok)
			assert.Equal(t, tc.want, got)
		})
	}
}
