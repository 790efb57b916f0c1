// Package pricing holds the stateless price rules used by the trading loop.
package pricing

import (
	"errors"

	"github.com/shopspring/decimal"
)

// PriceScale is the number of fractional digits prices are rounded to.
const PriceScale int32 = 6

var (
	// ErrInvalidPrice is returned for zero or negative prices.
	ErrInvalidPrice = errors.New("pricing: price must be greater than zero")

	// DefaultDiscount marks a listing undervalued when 15% below the reference.
	DefaultDiscount = decimal.RequireFromString("0.15")
	// DefaultMarkup lists purchased cards 5% above cost.
	DefaultMarkup = decimal.RequireFromString("1.05")
	// DefaultCounterOfferFloor accepts offers down to 95% of cost.
	DefaultCounterOfferFloor = decimal.RequireFromString("0.95")
)

// Evaluator decides whether a listed price is significantly below a reference price.
type Evaluator struct {
	threshold decimal.Decimal
}

// NewEvaluator builds an evaluator for the given discount fraction.
func NewEvaluator(discount decimal.Decimal) Evaluator {
	if !discount.IsPositive() {
		discount = DefaultDiscount
	}
	return Evaluator{threshold: decimal.NewFromInt(1).Sub(discount)}
}

// IsUndervalued reports price < reference * (1 - discount). Inputs must be validated first.
func (e Evaluator) IsUndervalued(price, reference decimal.Decimal) bool {
	return price.LessThan(reference.Mul(e.threshold))
}

// Threshold returns the price a listing must be strictly under.
func (e Evaluator) Threshold(reference decimal.Decimal) decimal.Decimal {
	return reference.Mul(e.threshold)
}

// Validate rejects non-positive prices before they reach the evaluator.
func Validate(prices ...decimal.Decimal) error {
	for _, p := range prices {
		if !p.IsPositive() {
			return ErrInvalidPrice
		}
	}
	return nil
}

// Markup applies the resale factor, rounded half-up to PriceScale digits.
func Markup(price, factor decimal.Decimal) decimal.Decimal {
	return price.Mul(factor).Round(PriceScale)
}

// RelistPrice is the high-priority resale price: the larger of the markup and the rolling average.
func RelistPrice(purchase, factor, average decimal.Decimal) decimal.Decimal {
	return decimal.Max(Markup(purchase, factor), average)
}

// MinAcceptable is the lowest counter-offer accepted for a card bought at purchase.
func MinAcceptable(purchase, floor decimal.Decimal) decimal.Decimal {
	return purchase.Mul(floor)
}
