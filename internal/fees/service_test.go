package fees

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hotelops/reconciler/internal/domain"
	"github.com/hotelops/reconciler/internal/repository"
)

const tenant = "t1"

var testNow = time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)

func newTestService(t *testing.T) *Service {
	t.Helper()
	db, err := repository.InitDB(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	svc := NewService(repository.NewStore(db), nil)
	svc.nowFn = func() time.Time { return testNow }
	return svc
}

func guestConfig(t *testing.T, svc *Service, category, rate string) {
	t.Helper()
	_, err := svc.UpsertConfig(context.Background(), tenant, ConfigRequest{
		ServiceCategory: category,
		Rate:            dec(rate),
		FeeType:         domain.FeePercentage,
		Mode:            domain.FeeInclusive,
		Payer:           domain.PayerGuest,
	})
	require.NoError(t, err)
}

func record(t *testing.T, svc *Service, requestID, amount string) *RecordResult {
	t.Helper()
	res, err := svc.Record(context.Background(), tenant, RecordRequest{
		RequestID:       requestID,
		ServiceCategory: "spa",
		Amount:          dec(amount),
		PaymentMethod:   "card",
	})
	require.NoError(t, err)
	return res
}

func TestRecordComputesAndStoresEntry(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	guestConfig(t, svc, "", "5")

	res := record(t, svc, "req-1", "10500")
	require.True(t, res.Applicable)
	assert.Equal(t, "10000.00", res.BaseAmount.StringFixed(2))
	assert.Equal(t, "500.00", res.FeeAmount.StringFixed(2))

	entry, err := svc.GetEntry(ctx, tenant, res.LedgerEntryID)
	require.NoError(t, err)
	assert.Equal(t, domain.FeePending, entry.Status)
	assert.Equal(t, "2026-03", entry.BillingCycle)
	assert.Equal(t, "service_request", entry.ReferenceType)
	assert.Equal(t, "spa", entry.Metadata.ServiceCategory)
	assert.Equal(t, "10500.00", entry.Metadata.ChargedAmount)

	again := record(t, svc, "req-1", "10500")
	assert.True(t, again.Duplicate)
	assert.Equal(t, res.LedgerEntryID, again.LedgerEntryID)

	entries, err := svc.ListEntries(ctx, repository.FeeEntryFilter{TenantID: tenant})
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestRecordPrefersCategoryConfig(t *testing.T) {
	svc := newTestService(t)
	guestConfig(t, svc, "", "5")
	guestConfig(t, svc, "spa", "10")

	res := record(t, svc, "req-1", "110")
	assert.Equal(t, "100.00", res.BaseAmount.StringFixed(2))
	assert.Equal(t, "10.00", res.FeeAmount.StringFixed(2))
}

func TestRecordNotApplicable(t *testing.T) {
	ctx := context.Background()

	t.Run("no config", func(t *testing.T) {
		svc := newTestService(t)
		res := record(t, svc, "req-1", "100")
		assert.False(t, res.Applicable)
		assert.Equal(t, ReasonNoActiveConfig, res.Reason)
	})

	t.Run("trial by days", func(t *testing.T) {
		svc := newTestService(t)
		guestConfig(t, svc, "", "5")
		_, err := svc.UpsertTenant(ctx, domain.Tenant{ID: tenant, Name: "Harbour Inn", TrialDays: 30, CreatedAt: testNow.AddDate(0, 0, -10)})
		require.NoError(t, err)

		res := record(t, svc, "req-1", "100")
		assert.False(t, res.Applicable)
		assert.Equal(t, ReasonTrialExempt, res.Reason)

		entries, err := svc.ListEntries(ctx, repository.FeeEntryFilter{TenantID: tenant})
		require.NoError(t, err)
		assert.Empty(t, entries)
	})

	t.Run("explicit trial end passed", func(t *testing.T) {
		svc := newTestService(t)
		guestConfig(t, svc, "", "5")
		end := testNow.Add(-time.Hour)
		_, err := svc.UpsertTenant(ctx, domain.Tenant{ID: tenant, TrialDays: 365, TrialEndDate: &end, CreatedAt: testNow.AddDate(0, 0, -10)})
		require.NoError(t, err)

		res := record(t, svc, "req-1", "100")
		assert.True(t, res.Applicable)
	})

	t.Run("unsupported mode", func(t *testing.T) {
		svc := newTestService(t)
		_, err := svc.UpsertConfig(ctx, tenant, ConfigRequest{
			Rate: dec("5"), FeeType: domain.FeePercentage, Mode: domain.FeeExclusive, Payer: domain.PayerGuest,
		})
		require.NoError(t, err)

		res := record(t, svc, "req-1", "100")
		assert.False(t, res.Applicable)
		assert.Equal(t, ReasonUnsupportedFeeMode, res.Reason)
	})
}

func TestWaive(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	guestConfig(t, svc, "", "5")
	a := record(t, svc, "req-a", "105")
	b := record(t, svc, "req-b", "210")

	_, err := svc.Waive(ctx, tenant, "ops", "staff", WaiveRequest{LedgerIDs: []string{a.LedgerEntryID}, WaivedReason: "goodwill"})
	assert.ErrorIs(t, err, domain.ErrForbidden)

	_, err = svc.Waive(ctx, tenant, "admin", RolePlatformAdmin, WaiveRequest{LedgerIDs: []string{a.LedgerEntryID}, WaivedReason: "  "})
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = svc.Waive(ctx, tenant, "admin", RolePlatformAdmin, WaiveRequest{LedgerIDs: []string{a.LedgerEntryID, "missing"}, WaivedReason: "goodwill"})
	assert.ErrorIs(t, err, domain.ErrNotFound)

	res, err := svc.Waive(ctx, tenant, "admin", RolePlatformAdmin, WaiveRequest{
		LedgerIDs:     []string{a.LedgerEntryID, b.LedgerEntryID, a.LedgerEntryID},
		WaivedReason:  "onboarding credit",
		ApprovalNotes: "approved by finance",
	})
	require.NoError(t, err)
	assert.Equal(t, 2, res.WaivedCount)
	assert.Equal(t, "15.00", res.TotalWaivedAmount.StringFixed(2))

	entry, err := svc.GetEntry(ctx, tenant, a.LedgerEntryID)
	require.NoError(t, err)
	assert.Equal(t, domain.FeeWaived, entry.Status)
	assert.Equal(t, "admin", entry.WaivedBy)
	assert.Equal(t, "onboarding credit", entry.WaivedReason)
	require.NotNil(t, entry.WaivedAt)

	events, err := svc.store.Audit.ListByEntity(ctx, tenant, entityFeeEntry, a.LedgerEntryID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "fee.waive", events[0].Action)
	assert.Equal(t, "pending", events[0].BeforeRef)
}

func TestWaiveIsAllOrNothing(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	guestConfig(t, svc, "", "5")
	settled := record(t, svc, "req-a", "105")
	pending := record(t, svc, "req-b", "210")

	n, err := svc.MarkBilled(ctx, tenant, "2026-03")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	_, err = svc.MarkSettled(ctx, tenant, []string{settled.LedgerEntryID})
	require.NoError(t, err)

	_, err = svc.Waive(ctx, tenant, "admin", RolePlatformAdmin, WaiveRequest{
		LedgerIDs:    []string{pending.LedgerEntryID, settled.LedgerEntryID},
		WaivedReason: "dispute",
	})
	assert.ErrorIs(t, err, domain.ErrInvalidState)

	entry, err := svc.GetEntry(ctx, tenant, pending.LedgerEntryID)
	require.NoError(t, err)
	assert.Equal(t, domain.FeeBilled, entry.Status)

	res, err := svc.Waive(ctx, tenant, "admin", RolePlatformAdmin, WaiveRequest{
		LedgerIDs:    []string{pending.LedgerEntryID},
		WaivedReason: "dispute",
	})
	require.NoError(t, err)
	assert.Equal(t, 1, res.WaivedCount)
}

func TestBillingLifecycle(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	guestConfig(t, svc, "", "5")
	res := record(t, svc, "req-a", "105")

	_, err := svc.MarkBilled(ctx, tenant, "March")
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = svc.MarkSettled(ctx, tenant, []string{res.LedgerEntryID})
	assert.ErrorIs(t, err, domain.ErrInvalidState)

	n, err := svc.MarkBilled(ctx, tenant, "2026-02")
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = svc.MarkBilled(ctx, tenant, "2026-03")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	settled, err := svc.MarkSettled(ctx, tenant, []string{res.LedgerEntryID})
	require.NoError(t, err)
	assert.Equal(t, 1, settled)

	entry, err := svc.GetEntry(ctx, tenant, res.LedgerEntryID)
	require.NoError(t, err)
	assert.Equal(t, domain.FeeSettled, entry.Status)
	assert.NotNil(t, entry.BilledAt)
	assert.NotNil(t, entry.SettledAt)
}

func TestUpsertConfigValidation(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	_, err := svc.UpsertConfig(ctx, tenant, ConfigRequest{Rate: dec("100"), FeeType: domain.FeePercentage, Mode: domain.FeeInclusive, Payer: domain.PayerGuest})
	assert.ErrorIs(t, err, domain.ErrValidation)
	_, err = svc.UpsertConfig(ctx, tenant, ConfigRequest{Rate: dec("5"), FeeType: domain.FeePercentage, Mode: "hybrid", Payer: domain.PayerGuest})
	assert.ErrorIs(t, err, domain.ErrValidation)

	first, err := svc.UpsertConfig(ctx, tenant, ConfigRequest{Rate: dec("5"), FeeType: domain.FeePercentage, Mode: domain.FeeInclusive, Payer: domain.PayerGuest})
	require.NoError(t, err)
	second, err := svc.UpsertConfig(ctx, tenant, ConfigRequest{Rate: dec("7"), FeeType: domain.FeePercentage, Mode: domain.FeeInclusive, Payer: domain.PayerGuest})
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.True(t, second.Policy.Rate.Equal(dec("7")))
}
