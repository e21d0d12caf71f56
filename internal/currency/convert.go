package currency

import (
	"errors"
	"fmt"
	"math"

	"github.com/shopspring/decimal"
)

var (
	// ErrInvalidRate is returned for zero, negative or non-finite exchange rates.
	ErrInvalidRate = errors.New("currency: invalid exchange rate")
	// ErrRateUnavailable is returned when the rate source cannot provide a quote.
	ErrRateUnavailable = errors.New("currency: exchange rate unavailable")
)

// minorUnitPlaces is the number of decimal places of the target currency (kopecks).
const minorUnitPlaces = 2

// Convert turns amount into the target currency and rounds the result up to
// the next minor unit. Duty is never rounded in the payer's favour.
func Convert(amount, rate decimal.Decimal) (decimal.Decimal, error) {
	if !rate.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: %s", ErrInvalidRate, rate)
	}
	return amount.Mul(rate).Shift(minorUnitPlaces).Ceil().Shift(-minorUnitPlaces), nil
}

// RateFromFloat converts a quote received as a float into a decimal rate.
func RateFromFloat(value float64) (decimal.Decimal, error) {
	if math.IsNaN(value) || math.IsInf(value, 0) || value <= 0 {
		return decimal.Zero, fmt.Errorf("%w: %v", ErrInvalidRate, value)
	}
	return decimal.NewFromFloat(value), nil
}
