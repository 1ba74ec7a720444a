// Package order turns desired trade sizes into exchange-acceptable orders
// and manages their submission and fill resolution.
package order

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/apadron/bybit-scalp-bot/internal/exchange/bybit"
)

var (
	// ErrInsufficientBalance means the sellable amount cannot form a valid
	// order under the instrument's minimums.
	ErrInsufficientBalance = errors.New("balance below instrument minimum")
	// ErrPriceUnavailable means a notional check was required but no
	// reference price was available.
	ErrPriceUnavailable = errors.New("no reference price for notional check")
)

// Quantity is a normalized order quantity: the numeric value and the exact
// string submitted to the exchange.
type Quantity struct {
	Value float64
	Str   string
}

// NormalizeBuyBase sizes a buy of qty base units so the exchange accepts
// it: rounded UP to the quantity step, raised to the minimum quantity and
// minimum notional, clamped to the maximum. Rounding up means the buyer
// gets at least what was asked for. price is the reference price for the
// notional check; it must be positive when the instrument has a minimum
// notional.
func NormalizeBuyBase(f *bybit.SymbolFilters, qty, price float64) (Quantity, error) {
	if qty <= 0 {
		return Quantity{}, fmt.Errorf("invalid buy quantity %v", qty)
	}

	step := decimal.NewFromFloat(f.QtyStep)
	q := ceilToStep(decimal.NewFromFloat(qty), step)

	if minQty := decimal.NewFromFloat(f.MinQty); q.LessThan(minQty) {
		q = ceilToStep(minQty, step)
	}

	if f.MinNotional > 0 {
		if price <= 0 {
			return Quantity{}, ErrPriceUnavailable
		}
		p := decimal.NewFromFloat(price)
		minNotional := decimal.NewFromFloat(f.MinNotional)
		if q.Mul(p).LessThan(minNotional) {
			q = ceilToStep(minNotional.Div(p), step)
		}
	}

	if maxQty := decimal.NewFromFloat(f.MaxQty); f.MaxQty > 0 && q.GreaterThan(maxQty) {
		q = floorToStep(maxQty, step)
	}

	return toQuantity(q, f.BasePrecision), nil
}

// NormalizeSellBase sizes a sell of qty base units: capped at the available
// balance and rounded DOWN to the quantity step, so the order can never
// exceed holdings. Amounts below the minimum quantity or minimum notional
// are unsellable and reported as ErrInsufficientBalance. The notional check
// is skipped when no price is available; the exchange then has the final
// word.
func NormalizeSellBase(f *bybit.SymbolFilters, qty, available, price float64) (Quantity, error) {
	if qty <= 0 {
		return Quantity{}, fmt.Errorf("invalid sell quantity %v", qty)
	}
	if qty > available {
		qty = available
	}

	step := decimal.NewFromFloat(f.QtyStep)
	q := floorToStep(decimal.NewFromFloat(qty), step)

	if q.LessThan(decimal.NewFromFloat(f.MinQty)) || q.IsZero() {
		return Quantity{}, fmt.Errorf("sell %v below min qty %v: %w", qty, f.MinQty, ErrInsufficientBalance)
	}
	if f.MinNotional > 0 && price > 0 {
		notional := q.Mul(decimal.NewFromFloat(price))
		if notional.LessThan(decimal.NewFromFloat(f.MinNotional)) {
			return Quantity{}, fmt.Errorf("sell notional %s below minimum %v: %w",
				notional.StringFixed(4), f.MinNotional, ErrInsufficientBalance)
		}
	}

	return toQuantity(q, f.BasePrecision), nil
}

// NormalizeBuyQuote sizes a market buy denominated in quote currency,
// raised to the minimum notional and formatted at the quote precision.
func NormalizeBuyQuote(f *bybit.SymbolFilters, quoteAmount float64) (Quantity, error) {
	if quoteAmount <= 0 {
		return Quantity{}, fmt.Errorf("invalid quote amount %v", quoteAmount)
	}
	amt := decimal.NewFromFloat(quoteAmount)
	if minNotional := decimal.NewFromFloat(f.MinNotional); amt.LessThan(minNotional) {
		amt = minNotional
	}
	return toQuantity(amt, f.QuotePrecision), nil
}

// RoundPriceToTick rounds a price to the nearest tick and formats it at the
// tick's precision.
func RoundPriceToTick(f *bybit.SymbolFilters, price float64) (Quantity, error) {
	if price <= 0 {
		return Quantity{}, fmt.Errorf("invalid price %v", price)
	}
	tick := decimal.NewFromFloat(f.PriceTick)
	if tick.IsZero() {
		return toQuantity(decimal.NewFromFloat(price), 8), nil
	}
	p := decimal.NewFromFloat(price).Div(tick).Round(0).Mul(tick)
	decimals := 0
	if exp := tick.Exponent(); exp < 0 {
		decimals = int(-exp)
	}
	return toQuantity(p, decimals), nil
}

func ceilToStep(v, step decimal.Decimal) decimal.Decimal {
	if step.IsZero() {
		return v
	}
	return v.Div(step).Ceil().Mul(step)
}

func floorToStep(v, step decimal.Decimal) decimal.Decimal {
	if step.IsZero() {
		return v
	}
	return v.Div(step).Floor().Mul(step)
}

func toQuantity(v decimal.Decimal, decimals int) Quantity {
	value, _ := v.Float64()
	return Quantity{Value: value, Str: v.StringFixed(int32(decimals))}
}
