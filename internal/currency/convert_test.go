package currency

import (
	"math"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestConvertRoundsUpToMinorUnit(t *testing.T) {
	cases := []struct {
		amount string
		rate   string
		want   string
	}{
		{"100.004", "1", "100.01"},
		{"100.00", "1", "100.00"},
		{"100.001", "1", "100.01"},
		{"100.0099", "1", "100.01"},
		{"4900", "91.2345", "447049.05"},
		{"0.001", "1", "0.01"},
		{"1", "0.333", "0.34"},
	}
	for _, tc := range cases {
		got, err := Convert(decimal.RequireFromString(tc.amount), decimal.RequireFromString(tc.rate))
		require.NoError(t, err)
		require.Truef(t, decimal.RequireFromString(tc.want).Equal(got), "%s x %s: want %s got %s", tc.amount, tc.rate, tc.want, got)
	}
}

func TestConvertNeverRoundsDown(t *testing.T) {
	rate := decimal.RequireFromString("97.1234")
	for cents := int64(1); cents < 2000; cents += 7 {
		amount := decimal.New(cents, -3)
		got, err := Convert(amount, rate)
		require.NoError(t, err)
		exact := amount.Mul(rate)
		require.True(t, got.GreaterThanOrEqual(exact), "got %s below exact %s", got, exact)
		require.True(t, got.Sub(exact).LessThan(decimal.New(1, -2)))
		require.LessOrEqual(t, -got.Exponent(), int32(2))
	}
}

func TestConvertRejectsInvalidRate(t *testing.T) {
	for _, rate := range []decimal.Decimal{decimal.Zero, decimal.NewFromInt(-3)} {
		_, err := Convert(decimal.NewFromInt(100), rate)
		require.ErrorIs(t, err, ErrInvalidRate)
	}
}

func TestRateFromFloat(t *testing.T) {
	rate, err := RateFromFloat(91.5)
	require.NoError(t, err)
	require.True(t, decimal.RequireFromString("91.5").Equal(rate))

	for _, bad := range []float64{0, -1, math.NaN(), math.Inf(1), math.Inf(-1)} {
		_, err := RateFromFloat(bad)
		require.ErrorIs(t, err, ErrInvalidRate)
	}
}
