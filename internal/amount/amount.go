// Package amount converts between smallest-unit integers and display strings
// without touching floating point.
package amount

import (
	"math/big"
	"strings"

	sdkmath "cosmossdk.io/math"

	"github.com/pezkuwi/pezkuwi_wallet/internal/apperr"
)

const (
	// NativeDecimals is the precision of the native token (HEZ).
	NativeDecimals uint8 = 12
	// GovernanceDecimals is the precision of the governance asset (PEZ).
	GovernanceDecimals uint8 = 12
	// DisplayDecimals is how many fractional digits ToDisplay keeps.
	DisplayDecimals = 2

	maxBits = 128
)

// ErrInvalidAmount is returned for any text that is not a well-formed,
// non-negative decimal within u128 range.
var ErrInvalidAmount = apperr.Validation("invalid_amount", "invalid amount")

// Amount is an unsigned integer in a token's smallest unit.
type Amount = sdkmath.Uint

// Zero returns a zero amount. Use it instead of the zero value of Amount.
func Zero() Amount { return sdkmath.ZeroUint() }

// FromUint64 wraps n.
func FromUint64(n uint64) Amount { return sdkmath.NewUint(n) }

// MaxU128 is 2^128 - 1.
func MaxU128() Amount {
	max := new(big.Int).Lsh(big.NewInt(1), maxBits)
	return sdkmath.NewUintFromBigInt(max.Sub(max, big.NewInt(1)))
}

// Parse reads an integer subunit string such as the ones returned by the
// chain RPC. It accepts decimal digits only.
func Parse(s string) (Amount, error) {
	s = strings.TrimSpace(s)
	if !isDigits(s) {
		return Zero(), apperr.Wrapf(ErrInvalidAmount, nil, "%q is not an integer", s)
	}
	// ParseUint guesses the base from the prefix, so leading zeros would
	// read as octal.
	s = strings.TrimLeft(s, "0")
	if s == "" {
		return Zero(), nil
	}
	v, err := sdkmath.ParseUint(s)
	if err != nil {
		return Zero(), apperr.Wrap(ErrInvalidAmount, err)
	}
	if v.BigInt().BitLen() > maxBits {
		return Zero(), apperr.Wrapf(ErrInvalidAmount, nil, "%q exceeds u128", s)
	}
	return v, nil
}

// ToDisplay renders subunits with DisplayDecimals fractional digits, rounding
// toward zero.
func ToDisplay(subunits Amount, decimals uint8) string {
	whole, frac := split(subunits, decimals)
	if len(frac) > DisplayDecimals {
		frac = frac[:DisplayDecimals]
	}
	for len(frac) < DisplayDecimals {
		frac += "0"
	}
	return whole + "." + frac
}

// Format renders subunits at full precision with trailing zeros trimmed.
func Format(subunits Amount, decimals uint8) string {
	whole, frac := split(subunits, decimals)
	frac = strings.TrimRight(frac, "0")
	if frac == "" {
		return whole
	}
	return whole + "." + frac
}

// ParseToSubunits parses a human decimal string. It only checks syntax and
// range; balance checks belong to the caller.
func ParseToSubunits(text string, decimals uint8) (Amount, error) {
	s := strings.TrimSpace(text)
	if s == "" {
		return Zero(), apperr.Wrapf(ErrInvalidAmount, nil, "empty")
	}

	whole, frac, hasDot := strings.Cut(s, ".")
	if hasDot && frac == "" && whole == "" {
		return Zero(), apperr.Wrapf(ErrInvalidAmount, nil, "%q is not a number", text)
	}
	if whole == "" {
		whole = "0"
	}
	if !isDigits(whole) || (hasDot && frac != "" && !isDigits(frac)) {
		return Zero(), apperr.Wrapf(ErrInvalidAmount, nil, "%q is not a non-negative decimal", text)
	}
	if len(frac) > int(decimals) {
		return Zero(), apperr.Wrapf(ErrInvalidAmount, nil, "%q has more than %d fractional digits", text, decimals)
	}

	frac += strings.Repeat("0", int(decimals)-len(frac))
	return Parse(whole + frac)
}

func split(subunits Amount, decimals uint8) (string, string) {
	s := "0"
	if !subunits.IsNil() {
		s = subunits.String()
	}
	d := int(decimals)
	if d == 0 {
		return s, ""
	}
	if len(s) <= d {
		s = strings.Repeat("0", d-len(s)+1) + s
	}
	pos := len(s) - d
	return s[:pos], s[pos:]
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
