package ingestion

import (
	"testing"
	"time"

	"github.com/hotelops/reconciler/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var settleDate = time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC)

var basicMapping = domain.ColumnMapping{
	domain.FieldAmount: "Amount",
	domain.FieldDate:   "Txn Date",
	domain.FieldSTAN:   "STAN",
	domain.FieldRRN:    "RRN",
}

func TestParseCountsBadAmountAsFailed(t *testing.T) {
	content := "Amount,Txn Date,STAN,RRN\n" +
		"100.00,2026-03-13,000001,R1\n" +
		"abc,2026-03-13,000002,R2\n" +
		"250.50,2026-03-12,000003,R3\n"

	res, err := ParseSettlementCSV(content, basicMapping, settleDate)
	require.NoError(t, err)

	assert.Equal(t, 3, res.TotalRecords)
	assert.Equal(t, 2, res.ProcessedRecords)
	assert.Equal(t, 1, res.FailedRecords)
	require.Len(t, res.Failures, 1)
	assert.Equal(t, 3, res.Failures[0].Line)

	require.Len(t, res.Records, 2)
	assert.Equal(t, "000001", res.Records[0].STAN)
	assert.True(t, res.Records[1].Amount.Equal(decimal.RequireFromString("250.50")))
	assert.Equal(t, time.Date(2026, 3, 12, 0, 0, 0, 0, time.UTC), res.Records[1].TransactionDate)
}

func TestParseRejectsNonPositiveAmounts(t *testing.T) {
	content := "Amount,STAN\n0,1\n-5.00,2\n10,3\n"
	res, err := ParseSettlementCSV(content, domain.ColumnMapping{"amount": "Amount", "stan": "STAN"}, settleDate)
	require.NoError(t, err)
	assert.Equal(t, 3, res.TotalRecords)
	assert.Equal(t, 1, res.ProcessedRecords)
	assert.Equal(t, 2, res.FailedRecords)
}

func TestParseHandlesQuotedFieldsAndBlankLines(t *testing.T) {
	content := "\n\nAmount,Merchant\n\n\"1,250.00\",\"Hotel \"\"Sunrise\"\", Lobby\"\n\n"
	res, err := ParseSettlementCSV(content, domain.ColumnMapping{"amount": "amount", "merchant_name": "MERCHANT"}, settleDate)
	require.NoError(t, err)

	require.Len(t, res.Records, 1)
	rec := res.Records[0]
	assert.True(t, rec.Amount.Equal(decimal.RequireFromString("1250")))
	assert.Equal(t, `Hotel "Sunrise", Lobby`, rec.MerchantName)
	assert.Equal(t, settleDate, rec.TransactionDate)
	assert.Equal(t, "1,250.00", rec.RawData["Amount"])
}

func TestParseEmptyFile(t *testing.T) {
	for _, content := range []string{"", "\n\n", "Amount,STAN\n", "Amount,STAN\n\n ,\n"} {
		_, err := ParseSettlementCSV(content, basicMapping, settleDate)
		assert.ErrorIs(t, err, domain.ErrEmptyFile, "content %q", content)
	}
}

func TestParseMappingErrors(t *testing.T) {
	content := "Amount,STAN\n10,1\n"

	_, err := ParseSettlementCSV(content, domain.ColumnMapping{"stan": "STAN"}, settleDate)
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = ParseSettlementCSV(content, domain.ColumnMapping{"amount": "Amount", "color": "STAN"}, settleDate)
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = ParseSettlementCSV(content, domain.ColumnMapping{"amount": "Gross"}, settleDate)
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestParseShortRowsUseEmptyValues(t *testing.T) {
	content := "Amount,Txn Date,STAN,RRN\n75.25\n"
	res, err := ParseSettlementCSV(content, basicMapping, settleDate)
	require.NoError(t, err)
	require.Len(t, res.Records, 1)
	assert.Empty(t, res.Records[0].STAN)
	assert.Equal(t, settleDate, res.Records[0].TransactionDate)
}

func TestParseCountsLettersInsideAmountAsFailed(t *testing.T) {
	mapping := domain.ColumnMapping{domain.FieldAmount: "Amount", domain.FieldSTAN: "STAN"}
	content := "Amount,STAN\n5O00,1\n1E3,2\n12.50,3\nKES 40,4\n"

	res, err := ParseSettlementCSV(content, mapping, settleDate)
	require.NoError(t, err)

	assert.Equal(t, 4, res.TotalRecords)
	assert.Equal(t, 2, res.ProcessedRecords)
	assert.Equal(t, 2, res.FailedRecords)
	require.Len(t, res.Failures, 2)
	assert.Equal(t, 2, res.Failures[0].Line)
	assert.Equal(t, 3, res.Failures[1].Line)

	require.Len(t, res.Records, 2)
	assert.Equal(t, "3", res.Records[0].STAN)
	assert.True(t, res.Records[0].Amount.Equal(decimal.RequireFromString("12.50")))
	assert.True(t, res.Records[1].Amount.Equal(decimal.NewFromInt(40)))
}
