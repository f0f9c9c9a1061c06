// Package fees derives platform commissions from charged amounts and keeps
// the per-tenant fee ledger through its pending, billed, settled and waived
// states.
package fees

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/hotelops/reconciler/internal/domain"
	"github.com/hotelops/reconciler/internal/money"
)

// ErrNotApplicable is returned by Calculate when the policy's payer and mode
// combination has no defined formula.
var ErrNotApplicable = errors.New("fee not applicable")

var hundred = decimal.NewFromInt(100)

// Breakdown is the result of applying a fee policy to one charged amount.
type Breakdown struct {
	BaseAmount decimal.Decimal `json:"base_amount"`
	FeeAmount  decimal.Decimal `json:"fee_amount"`
}

// Calculate applies the policy to amount. Both outputs are rounded to cents.
//
//	guest + inclusive:     base = amount / (1 + rate/100) or amount - rate; fee = amount - base
//	property + exclusive:  base = amount; fee = amount * rate/100 or rate
func Calculate(amount decimal.Decimal, p domain.FeePolicy) (Breakdown, error) {
	if !amount.IsPositive() {
		return Breakdown{}, domain.Validationf("charged amount %s must be positive", amount.String())
	}
	if p.Rate.IsNegative() {
		return Breakdown{}, domain.Validationf("fee rate %s must not be negative", p.Rate.String())
	}
	if p.Type != domain.FeePercentage && p.Type != domain.FeeFlat {
		return Breakdown{}, fmt.Errorf("%w: unknown fee type %q", ErrNotApplicable, p.Type)
	}

	switch {
	case p.Payer == domain.PayerGuest && p.Mode == domain.FeeInclusive:
		var base decimal.Decimal
		if p.Type == domain.FeePercentage {
			base = money.Round2(amount.Div(decimal.NewFromInt(1).Add(p.Rate.Div(hundred))))
		} else {
			base = money.Round2(amount.Sub(p.Rate))
		}
		if !base.IsPositive() {
			return Breakdown{}, domain.Validationf("flat fee %s consumes the whole charged amount %s",
				p.Rate.StringFixed(2), amount.StringFixed(2))
		}
		return Breakdown{BaseAmount: base, FeeAmount: money.Round2(amount).Sub(base)}, nil

	case p.Payer == domain.PayerProperty && p.Mode == domain.FeeExclusive:
		fee := p.Rate
		if p.Type == domain.FeePercentage {
			fee = amount.Mul(p.Rate).Div(hundred)
		}
		return Breakdown{BaseAmount: money.Round2(amount), FeeAmount: money.Round2(fee)}, nil
	}

	return Breakdown{}, fmt.Errorf("%w: payer %q with mode %q", ErrNotApplicable, p.Payer, p.Mode)
}
