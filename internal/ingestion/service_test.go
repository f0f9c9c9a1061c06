package ingestion

import (
	"context"
	"testing"
	"time"

	"github.com/hotelops/reconciler/internal/domain"
	"github.com/hotelops/reconciler/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestService(t *testing.T) (*Service, *repository.Store) {
	t.Helper()
	db, err := repository.InitDB(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	store := repository.NewStore(db)
	svc := NewService(store, nil)
	svc.nowFn = func() time.Time { return time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC) }
	return svc, store
}

const scenarioCSV = "Amount,Txn Date,STAN,RRN\n" +
	"100.00,2026-03-13,000001,R1\n" +
	"abc,2026-03-13,000002,R2\n" +
	"250.50,2026-03-12,000003,R3\n"

func uploadRequest(content string, mapping domain.ColumnMapping) UploadRequest {
	return UploadRequest{
		TenantID:       "t1",
		FileName:       "acme-2026-03-14.csv",
		FileContent:    content,
		ProviderName:   "acme",
		SettlementDate: settleDate,
		ColumnMapping:  mapping,
		UploadedBy:     "staff-1",
	}
}

func TestUploadPersistsImportAndRecords(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	res, err := svc.Upload(ctx, uploadRequest(scenarioCSV, basicMapping))
	require.NoError(t, err)
	assert.Equal(t, 3, res.TotalRecords)
	assert.Equal(t, 2, res.ProcessedRecords)
	assert.Equal(t, 1, res.FailedRecords)
	assert.False(t, res.Duplicate)

	imp, err := store.Settlements.GetImport(ctx, "t1", res.ImportID)
	require.NoError(t, err)
	assert.Equal(t, domain.ImportCompleted, imp.Status)
	assert.Equal(t, 3, imp.TotalRecords)
	assert.Equal(t, 2, imp.UnmatchedRecords)
	require.NotNil(t, imp.CompletedAt)

	records, err := svc.ListRecords(ctx, "t1", res.ImportID, false)
	require.NoError(t, err)
	assert.Len(t, records, 2)

	_, err = svc.ListRecords(ctx, "t2", res.ImportID, false)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestUploadIsIdempotentOnContent(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	first, err := svc.Upload(ctx, uploadRequest(scenarioCSV, basicMapping))
	require.NoError(t, err)
	second, err := svc.Upload(ctx, uploadRequest(scenarioCSV, basicMapping))
	require.NoError(t, err)

	assert.True(t, second.Duplicate)
	assert.Equal(t, first.ImportID, second.ImportID)
	assert.Equal(t, 2, second.ProcessedRecords)
}

func TestUploadReusesSavedMapping(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Upload(ctx, uploadRequest(scenarioCSV, basicMapping))
	require.NoError(t, err)

	next := "Amount,Txn Date,STAN,RRN\n42.00,2026-03-14,000009,R9\n"
	res, err := svc.Upload(ctx, uploadRequest(next, nil))
	require.NoError(t, err)
	assert.Equal(t, 1, res.ProcessedRecords)
}

func TestUploadValidation(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	req := uploadRequest(scenarioCSV, basicMapping)
	req.ProviderName = " "
	_, err := svc.Upload(ctx, req)
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = svc.Upload(ctx, uploadRequest(scenarioCSV, nil))
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = svc.Upload(ctx, uploadRequest("Amount,STAN\n", basicMapping))
	assert.ErrorIs(t, err, domain.ErrEmptyFile)

	imports, total, err := store.Settlements.ListImports(ctx, repository.ImportFilter{TenantID: "t1"})
	require.NoError(t, err)
	assert.Zero(t, total)
	assert.Empty(t, imports)
}

func TestImportPayments(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	data := []byte(`{"tenant_id":"t1","payments":[
		{"id":"p1","amount":"5000.00","currency":"usd","provider_reference":"123456","created_at":"2026-03-13T10:00:00Z"},
		{"id":"p2","amount":"1,200.5","rrn":"R77","created_at":"2026-03-13 11:30:00"}
	]}`)

	inserted, skipped, err := svc.ImportPayments(ctx, data, "")
	require.NoError(t, err)
	assert.Equal(t, 2, inserted)
	assert.Zero(t, skipped)

	inserted, skipped, err = svc.ImportPayments(ctx, data, "")
	require.NoError(t, err)
	assert.Zero(t, inserted)
	assert.Equal(t, 2, skipped)

	p, err := store.Payments.GetByID(ctx, "t1", "p2")
	require.NoError(t, err)
	assert.Equal(t, "1200.5", p.Amount.String())
	assert.Equal(t, "USD", p.Currency)
	assert.Equal(t, domain.PaymentCaptured, p.Status)
}
