package fees

import (
	"math/rand"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hotelops/reconciler/internal/domain"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func policy(rate string, typ domain.FeeType, mode domain.FeeMode, payer domain.FeePayer) domain.FeePolicy {
	return domain.FeePolicy{Rate: dec(rate), Type: typ, Mode: mode, Payer: payer}
}

func TestCalculate(t *testing.T) {
	tests := []struct {
		name   string
		amount string
		policy domain.FeePolicy
		base   string
		fee    string
	}{
		{"guest inclusive percentage", "10500", policy("5", domain.FeePercentage, domain.FeeInclusive, domain.PayerGuest), "10000.00", "500.00"},
		{"guest inclusive rounding", "100", policy("3", domain.FeePercentage, domain.FeeInclusive, domain.PayerGuest), "97.09", "2.91"},
		{"guest inclusive flat", "250.00", policy("15", domain.FeeFlat, domain.FeeInclusive, domain.PayerGuest), "235.00", "15.00"},
		{"property exclusive percentage", "200", policy("2.5", domain.FeePercentage, domain.FeeExclusive, domain.PayerProperty), "200.00", "5.00"},
		{"property exclusive flat", "80", policy("1.25", domain.FeeFlat, domain.FeeExclusive, domain.PayerProperty), "80.00", "1.25"},
		{"zero rate", "99.99", policy("0", domain.FeePercentage, domain.FeeInclusive, domain.PayerGuest), "99.99", "0.00"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			b, err := Calculate(dec(tc.amount), tc.policy)
			require.NoError(t, err)
			assert.Equal(t, tc.base, b.BaseAmount.StringFixed(2))
			assert.Equal(t, tc.fee, b.FeeAmount.StringFixed(2))
		})
	}
}

func TestCalculateUnsupportedCombinations(t *testing.T) {
	for _, p := range []domain.FeePolicy{
		policy("5", domain.FeePercentage, domain.FeeExclusive, domain.PayerGuest),
		policy("5", domain.FeePercentage, domain.FeeInclusive, domain.PayerProperty),
		policy("5", "tiered", domain.FeeInclusive, domain.PayerGuest),
	} {
		_, err := Calculate(dec("100"), p)
		assert.ErrorIs(t, err, ErrNotApplicable, "%+v", p)
	}
}

func TestCalculateRejectsBadInput(t *testing.T) {
	guest := policy("5", domain.FeePercentage, domain.FeeInclusive, domain.PayerGuest)
	_, err := Calculate(dec("0"), guest)
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = Calculate(dec("10"), policy("10", domain.FeeFlat, domain.FeeInclusive, domain.PayerGuest))
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = Calculate(dec("10"), policy("-1", domain.FeePercentage, domain.FeeInclusive, domain.PayerGuest))
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestGuestInclusiveRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	tolerance := dec("0.01")
	for i := 0; i < 2000; i++ {
		amount := decimal.New(rng.Int63n(10_000_000)+1, -2)
		rate := decimal.New(rng.Int63n(9999)+1, -2)
		p := policy(rate.String(), domain.FeePercentage, domain.FeeInclusive, domain.PayerGuest)

		b, err := Calculate(amount, p)
		require.NoError(t, err)
		assert.True(t, b.BaseAmount.Add(b.FeeAmount).Equal(amount), "base+fee must equal amount %s", amount)

		rebuilt := b.BaseAmount.Mul(decimal.NewFromInt(1).Add(rate.Div(hundred)))
		assert.True(t, rebuilt.Sub(amount).Abs().LessThanOrEqual(tolerance),
			"amount %s rate %s base %s rebuilt %s", amount, rate, b.BaseAmount, rebuilt)
	}
}
