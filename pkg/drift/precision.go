package drift

import (
	"errors"
	"fmt"
	"math"

	"github.com/shopspring/decimal"
)

// MaxBaseUnits is the largest whole-unit amount whose native value fits in
// an int64.
const MaxBaseUnits = math.MaxInt64 / BasePrecision

// ErrAmountOutOfRange is returned when an amount does not fit native precision.
var ErrAmountOutOfRange = errors.New("amount out of range")

var (
	basePrecision  = decimal.NewFromInt(BasePrecision)
	pricePrecision = decimal.NewFromInt(PricePrecision)
	quotePrecision = decimal.NewFromInt(QuotePrecision)
	maxNative      = decimal.NewFromInt(math.MaxInt64)
)

// BaseFromUnits scales signed whole base units to native precision.
func BaseFromUnits(units int64) (int64, error) {
	if units > MaxBaseUnits || units < -MaxBaseUnits {
		return 0, fmt.Errorf("%w: %d base units", ErrAmountOutOfRange, units)
	}
	return units * BasePrecision, nil
}

// ToBaseChecked is ToBase for untrusted input: the native value must fit in
// an int64 with either sign.
func ToBaseChecked(amount decimal.Decimal) (int64, error) {
	native := amount.Mul(basePrecision).Truncate(0)
	if native.Abs().GreaterThan(maxNative) {
		return 0, fmt.Errorf("%w: base amount %s", ErrAmountOutOfRange, amount)
	}
	return native.IntPart(), nil
}

// ToPriceChecked is ToPrice for untrusted input. Negative prices are an error.
func ToPriceChecked(price decimal.Decimal) (uint64, error) {
	if price.IsNegative() {
		return 0, fmt.Errorf("%w: negative price %s", ErrAmountOutOfRange, price)
	}
	native := price.Mul(pricePrecision).Truncate(0)
	if native.GreaterThan(maxNative) {
		return 0, fmt.Errorf("%w: price %s", ErrAmountOutOfRange, price)
	}
	return uint64(native.IntPart()), nil
}

// ToBase converts whole base units to native precision, truncating toward zero.
func ToBase(amount decimal.Decimal) int64 {
	return amount.Mul(basePrecision).Truncate(0).IntPart()
}

// ToPrice converts a quote price to native precision, truncating toward zero.
// Negative prices clamp to zero.
func ToPrice(price decimal.Decimal) uint64 {
	if price.IsNegative() {
		return 0
	}
	return uint64(price.Mul(pricePrecision).Truncate(0).IntPart())
}

// BaseToDecimal converts a native base amount to whole units.
func BaseToDecimal(base int64) decimal.Decimal {
	return decimal.NewFromInt(base).Div(basePrecision)
}

// PriceToDecimal converts a native price to quote units.
func PriceToDecimal(price int64) decimal.Decimal {
	return decimal.NewFromInt(price).Div(pricePrecision)
}

// QuoteToDecimal converts a native quote amount to quote units.
func QuoteToDecimal(quote int64) decimal.Decimal {
	return decimal.NewFromInt(quote).Div(quotePrecision)
}

// BaseToQuote values a native base amount at a native price, in quote precision.
func BaseToQuote(base, price int64) int64 {
	return decimal.NewFromInt(base).
		Mul(decimal.NewFromInt(price)).
		Div(basePrecision).
		Truncate(0).
		IntPart()
}
