package amount

import (
	"errors"
	"math/rand"
	"testing"

	sdkmath "cosmossdk.io/math"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToDisplayTruncates(t *testing.T) {
	cases := []struct {
		subunits Amount
		want     string
	}{
		{Zero(), "0.00"},
		{FromUint64(1), "0.00"},
		{FromUint64(9_999_999_999), "0.00"},
		{FromUint64(10_000_000_000), "0.01"},
		{FromUint64(1_000_000_000_000), "1.00"},
		{FromUint64(1_234_567_890_123), "1.23"},
		{FromUint64(1_239_999_999_999), "1.23"},
		{sdkmath.NewUintFromString("1000000000000000000"), "1000000.00"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, ToDisplay(tc.subunits, NativeDecimals), tc.subunits.String())
	}
}

func TestFormatTrimsTrailingZeros(t *testing.T) {
	assert.Equal(t, "1.5", Format(FromUint64(1_500_000_000_000), 12))
	assert.Equal(t, "2", Format(FromUint64(2_000_000_000_000), 12))
	assert.Equal(t, "0.000000000001", Format(FromUint64(1), 12))
	assert.Equal(t, "42", Format(FromUint64(42), 0))
}

func TestParseToSubunits(t *testing.T) {
	cases := map[string]uint64{
		"1":              1_000_000_000_000,
		"1.5":            1_500_000_000_000,
		"0.000000000001": 1,
		".25":            250_000_000_000,
		"3.":             3_000_000_000_000,
		" 007.10 ":       7_100_000_000_000,
		"0":              0,
	}
	for in, want := range cases {
		got, err := ParseToSubunits(in, 12)
		require.NoError(t, err, in)
		assert.True(t, got.Equal(FromUint64(want)), "%q: got %s", in, got)
	}
}

func TestParseToSubunitsRejects(t *testing.T) {
	bad := []string{
		"", " ", ".", "-1", "+1", "1e3", "abc", "1.2.3", "1,5", "0x10",
		"0.0000000000001", // 13 fractional digits
		"340282366920938463463374607431768211456", // 2^128 whole units
	}
	for _, in := range bad {
		_, err := ParseToSubunits(in, 12)
		require.Error(t, err, in)
		assert.True(t, errors.Is(err, ErrInvalidAmount), "%q: %v", in, err)
	}
}

func TestParseRangeAndLeadingZeros(t *testing.T) {
	v, err := Parse("00010")
	require.NoError(t, err)
	assert.Equal(t, "10", v.String())

	max, err := Parse(MaxU128().String())
	require.NoError(t, err)
	assert.True(t, max.Equal(MaxU128()))

	_, err = Parse(MaxU128().AddUint64(1).String())
	assert.ErrorIs(t, err, ErrInvalidAmount)
}

func TestDisplayRoundTripWithinTolerance(t *testing.T) {
	tolerance := FromUint64(10_000_000_000) // 0.01 at 12 decimals
	r := rand.New(rand.NewSource(7))
	for i := 0; i < 500; i++ {
		a := FromUint64(r.Uint64())
		back, err := ParseToSubunits(ToDisplay(a, 12), 12)
		require.NoError(t, err)
		require.True(t, back.LTE(a), "display must round toward zero")
		require.True(t, a.Sub(back).LT(tolerance), "a=%s back=%s", a, back)
	}
}
