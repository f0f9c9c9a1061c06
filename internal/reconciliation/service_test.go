package reconciliation

import (
	"context"
	"testing"
	"time"

	"github.com/hotelops/reconciler/internal/domain"
	"github.com/hotelops/reconciler/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

func newTestService(t *testing.T) (*Service, *repository.Store) {
	t.Helper()
	db, err := repository.InitDB(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	store := repository.NewStore(db)
	svc := NewService(store, Config{}, nil)
	svc.nowFn = func() time.Time { return testNow }
	return svc, store
}

func seedPayment(t *testing.T, store *repository.Store, p domain.Payment) {
	t.Helper()
	if p.TenantID == "" {
		p.TenantID = "t1"
	}
	if p.Currency == "" {
		p.Currency = "USD"
	}
	if p.Method == "" {
		p.Method = "card"
	}
	if p.Status == "" {
		p.Status = domain.PaymentCaptured
	}
	require.NoError(t, store.Payments.Insert(context.Background(), &p))
}

func seedImport(t *testing.T, store *repository.Store, records ...domain.SettlementRecord) string {
	t.Helper()
	ctx := context.Background()
	imp := &domain.SettlementImport{
		ID: "imp-1", TenantID: "t1", FileName: "f.csv", FileHash: "h1", ProviderName: "acme",
		SettlementDate: day, UploadedBy: "staff", Status: domain.ImportCompleted,
		TotalRecords: len(records), UnmatchedRecords: len(records), CreatedAt: testNow,
	}
	require.NoError(t, store.Settlements.InsertImport(ctx, imp))
	for i := range records {
		records[i].TenantID = "t1"
		records[i].ImportID = imp.ID
		records[i].CreatedAt = testNow
	}
	_, err := store.Settlements.InsertRecords(ctx, records)
	require.NoError(t, err)
	return imp.ID
}

func TestMatchImportAutoMatchesExact(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	seedPayment(t, store, domain.Payment{ID: "p-stan", ProviderReference: "123456", Amount: dec("5000.00"), CreatedAt: day.Add(10 * time.Hour)})
	seedPayment(t, store, domain.Payment{ID: "p-amount", Amount: dec("80.00"), CreatedAt: day.Add(11 * time.Hour)})

	importID := seedImport(t, store,
		domain.SettlementRecord{ID: "r-stan", STAN: "123456", Amount: dec("5000.00"), TransactionDate: day.AddDate(0, 0, 1)},
		domain.SettlementRecord{ID: "r-amount", Amount: dec("80.00"), TransactionDate: day},
		domain.SettlementRecord{ID: "r-none", Amount: dec("1.23"), TransactionDate: day},
	)

	res, err := svc.MatchImport(ctx, "t1", importID, true, "staff-1")
	require.NoError(t, err)
	assert.Equal(t, MatchSummary{Total: 3, Matched: 1, Suggested: 1, Unmatched: 1}, res.Summary)
	require.Len(t, res.Matches, 2)

	exact := res.Matches[0]
	assert.Equal(t, "r-stan", exact.SettlementRecordID)
	assert.Equal(t, "p-stan", exact.LedgerEntryID)
	assert.Equal(t, 80, exact.MatchScore)
	assert.Equal(t, domain.ConfidenceExact, exact.Confidence)
	assert.True(t, exact.Committed)

	probable := res.Matches[1]
	assert.Equal(t, domain.ConfidenceProbable, probable.Confidence)
	assert.False(t, probable.Committed)

	rec, err := store.Settlements.GetRecord(ctx, "t1", "r-stan")
	require.NoError(t, err)
	assert.Equal(t, "p-stan", rec.LedgerEntryID)
	assert.Equal(t, domain.ConfidenceExact, rec.MatchConfidence)
	require.NotNil(t, rec.MatchedAt)

	imp, err := store.Settlements.GetImport(ctx, "t1", importID)
	require.NoError(t, err)
	assert.Equal(t, 1, imp.MatchedRecords)
	assert.Equal(t, 2, imp.UnmatchedRecords)

	events, err := store.Audit.ListByEntity(ctx, "t1", "settlement_record", "r-stan")
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "settlement.auto_match", events[0].Action)
}

func TestMatchImportWithoutAutoMatchOnlySuggests(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	seedPayment(t, store, domain.Payment{ID: "p1", ProviderReference: "123456", Amount: dec("5000.00"), CreatedAt: day})
	importID := seedImport(t, store, domain.SettlementRecord{ID: "r1", STAN: "123456", Amount: dec("5000.00"), TransactionDate: day})

	res, err := svc.MatchImport(ctx, "t1", importID, false, "")
	require.NoError(t, err)
	assert.Equal(t, 1, res.Summary.Suggested)

	rec, err := store.Settlements.GetRecord(ctx, "t1", "r1")
	require.NoError(t, err)
	assert.False(t, rec.IsMatched())
}

func TestMatchImportOffersPaymentOnce(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	seedPayment(t, store, domain.Payment{ID: "p1", ProviderReference: "777", Amount: dec("10.00"), CreatedAt: day})
	importID := seedImport(t, store,
		domain.SettlementRecord{ID: "r1", STAN: "777", Amount: dec("10.00"), TransactionDate: day},
		domain.SettlementRecord{ID: "r2", STAN: "777", Amount: dec("10.00"), TransactionDate: day},
	)

	res, err := svc.MatchImport(ctx, "t1", importID, true, "")
	require.NoError(t, err)
	assert.Equal(t, 1, res.Summary.Matched)
	assert.Equal(t, 1, res.Summary.Unmatched)
}

func TestMatchImportIgnoresPaymentsOutsideWindow(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	seedPayment(t, store, domain.Payment{ID: "old", ProviderReference: "555", Amount: dec("10.00"), CreatedAt: day.AddDate(0, 0, -10)})
	seedPayment(t, store, domain.Payment{ID: "other-tenant", TenantID: "t2", ProviderReference: "555", Amount: dec("10.00"), CreatedAt: day})
	importID := seedImport(t, store, domain.SettlementRecord{ID: "r1", STAN: "555", Amount: dec("10.00"), TransactionDate: day})

	res, err := svc.MatchImport(ctx, "t1", importID, true, "")
	require.NoError(t, err)
	assert.Equal(t, 1, res.Summary.Unmatched)
	assert.Empty(t, res.Matches)
}

func TestConfirmAndUnlinkSettlement(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	seedPayment(t, store, domain.Payment{ID: "p1", Amount: dec("80.00"), CreatedAt: day})
	seedPayment(t, store, domain.Payment{ID: "p2", Amount: dec("80.00"), CreatedAt: day})
	importID := seedImport(t, store,
		domain.SettlementRecord{ID: "r1", Amount: dec("80.00"), TransactionDate: day},
		domain.SettlementRecord{ID: "r2", Amount: dec("80.00"), TransactionDate: day},
	)

	rec, err := svc.ConfirmMatch(ctx, "t1", "r1", "p1", "staff-1")
	require.NoError(t, err)
	assert.Equal(t, domain.ConfidenceManual, rec.MatchConfidence)
	assert.Equal(t, 40, rec.MatchScore)

	_, err = svc.ConfirmMatch(ctx, "t1", "r1", "p1", "staff-1")
	require.NoError(t, err)

	_, err = svc.ConfirmMatch(ctx, "t1", "r2", "p1", "staff-1")
	assert.ErrorIs(t, err, domain.ErrConflict)

	_, err = svc.ConfirmMatch(ctx, "t1", "r1", "p2", "staff-1")
	assert.ErrorIs(t, err, domain.ErrConflict)

	imp, err := store.Settlements.GetImport(ctx, "t1", importID)
	require.NoError(t, err)
	assert.Equal(t, 1, imp.MatchedRecords)

	rec, err = svc.UnlinkSettlement(ctx, "t1", "r1", "staff-2")
	require.NoError(t, err)
	assert.False(t, rec.IsMatched())

	imp, err = store.Settlements.GetImport(ctx, "t1", importID)
	require.NoError(t, err)
	assert.Equal(t, 0, imp.MatchedRecords)
	assert.Equal(t, 2, imp.UnmatchedRecords)

	events, err := store.Audit.ListByEntity(ctx, "t1", "settlement_record", "r1")
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "settlement.confirm_match", events[0].Action)
	assert.Equal(t, "settlement.unlink", events[1].Action)
	assert.Equal(t, "p1", events[1].BeforeRef)
}

func TestMatchImportRequiresCompletedImport(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	imp := &domain.SettlementImport{
		ID: "imp-p", TenantID: "t1", FileName: "f.csv", FileHash: "h", ProviderName: "acme",
		SettlementDate: day, UploadedBy: "staff", Status: domain.ImportProcessing, CreatedAt: testNow,
	}
	require.NoError(t, store.Settlements.InsertImport(ctx, imp))

	_, err := svc.MatchImport(ctx, "t1", "imp-p", true, "")
	assert.ErrorIs(t, err, domain.ErrInvalidState)

	_, err = svc.MatchImport(ctx, "t2", "imp-p", true, "")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
