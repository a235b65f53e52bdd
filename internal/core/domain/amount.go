package domain

import (
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
)

// TokenDecimals is the fixed-point precision of the game token.
const TokenDecimals = 18

// maxAmountBits is the width of a ledger uint256.
const maxAmountBits = 256

// ParseTokenAmount converts a decimal string ("20", "0.5") into minor units.
func ParseTokenAmount(s string) (*big.Int, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid amount %q", ErrValidation, s)
	}
	minor := d.Shift(TokenDecimals)
	if !minor.Equal(minor.Truncate(0)) {
		return nil, fmt.Errorf("%w: amount %q has more than %d decimals", ErrValidation, s, TokenDecimals)
	}
	v := minor.BigInt()
	if v.BitLen() > maxAmountBits {
		return nil, fmt.Errorf("%w: amount %q does not fit in %d bits", ErrValidation, s, maxAmountBits)
	}
	return v, nil
}

// FormatTokenAmount renders minor units as a decimal string.
func FormatTokenAmount(v *big.Int) string {
	return FormatUnits(v, TokenDecimals)
}

func FormatUnits(v *big.Int, decimals int32) string {
	if v == nil {
		return "0"
	}
	return decimal.NewFromBigInt(v, -decimals).String()
}

// AddAmount returns a+b treating nil as zero.
func AddAmount(a, b *big.Int) *big.Int {
	out := new(big.Int)
	if a != nil {
		out.Set(a)
	}
	if b != nil {
		out.Add(out, b)
	}
	return out
}
