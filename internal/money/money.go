package money

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// minorUnits maps ISO currency codes to the number of decimal places used when
// settling amounts in that currency.
var minorUnits = map[string]int32{
	"USD": 2,
	"EUR": 2,
	"GBP": 2,
	"KES": 2,
	"NGN": 2,
	"ZAR": 2,
	"INR": 2,
	"AED": 2,
	"JPY": 0,
	"KRW": 0,
	"KWD": 3,
	"BHD": 3,
}

// DefaultPlaces is used for amounts with no currency attached.
const DefaultPlaces int32 = 2

// Cent is the smallest difference treated as a real amount mismatch.
var Cent = decimal.New(1, -2)

// Places returns the minor unit count for a currency.
func Places(currency string) (int32, error) {
	if currency == "" {
		return DefaultPlaces, nil
	}
	p, ok := minorUnits[strings.ToUpper(currency)]
	if !ok {
		return 0, fmt.Errorf("unsupported currency: %s", currency)
	}
	return p, nil
}

// Round rounds half away from zero to the currency's minor unit.
func Round(amount decimal.Decimal, currency string) (decimal.Decimal, error) {
	p, err := Places(currency)
	if err != nil {
		return decimal.Zero, err
	}
	return amount.Round(p), nil
}

// Round2 rounds to two decimal places.
func Round2(amount decimal.Decimal) decimal.Decimal {
	return amount.Round(DefaultPlaces)
}

// Parse reads a human-entered amount such as "1,250.00", "$ 99.5", "KES 300"
// or "300 KES". A currency symbol or code may only lead or trail the number;
// inside it only digits, one decimal point and thousands separators are allowed.
func Parse(raw string) (decimal.Decimal, error) {
	s := strings.TrimSpace(raw)
	sign := ""
	if strings.HasPrefix(s, "-") {
		sign, s = "-", s[1:]
	}
	s = strings.TrimLeftFunc(s, isCurrencyAffix)
	s = strings.TrimRightFunc(s, isCurrencyAffix)
	if sign == "" && strings.HasPrefix(s, "-") {
		sign, s = "-", s[1:]
	}

	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9', r == '.':
			b.WriteRune(r)
		case r == ',' || r == ' ' || r == '\u00a0':
		default:
			return decimal.Zero, fmt.Errorf("invalid character %q in amount %q", r, raw)
		}
	}
	cleaned := b.String()
	if cleaned == "" {
		return decimal.Zero, fmt.Errorf("amount %q has no digits", raw)
	}
	d, err := decimal.NewFromString(sign + cleaned)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse amount %q: %w", raw, err)
	}
	return d, nil
}

func isCurrencyAffix(r rune) bool {
	switch {
	case r >= 'A' && r <= 'Z':
		return true
	case r == ' ' || r == '\u00a0':
		return true
	case r == '$' || r == '€' || r == '£' || r == '¥' || r == '₦' || r == '₹':
		return true
	}
	return false
}

// Equal reports whether two amounts differ by less than one cent.
func Equal(a, b decimal.Decimal) bool {
	return a.Sub(b).Abs().LessThan(Cent)
}
