package events

import (
	"fmt"
	"math/big"
	"strings"
)

// AmountScale is the fixed number of fractional digits in formatted amounts.
const AmountScale = 18

// FormatUnits renders raw / 10^decimals as a fixed-scale decimal string with
// AmountScale fractional digits. raw is never negative (uint256 payload) and
// binary floating point is never involved.
func FormatUnits(raw *big.Int, decimals uint8) string {
	den := pow10(uint(decimals))

	intPart := new(big.Int)
	rem := new(big.Int)
	intPart.QuoRem(raw, den, rem)

	// Scale the remainder to exactly AmountScale digits, truncating any
	// precision beyond the fixed scale.
	frac := new(big.Int).Mul(rem, pow10(AmountScale))
	frac.Quo(frac, den)

	fracDigits := frac.String()
	if pad := AmountScale - len(fracDigits); pad > 0 {
		fracDigits = strings.Repeat("0", pad) + fracDigits
	}

	return intPart.String() + "." + fracDigits
}

// ParseDecimalAmount parses a non-negative decimal string into a big.Int.
func ParseDecimalAmount(s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(strings.TrimSpace(s), 10)
	if !ok || v.Sign() < 0 {
		return nil, fmt.Errorf("invalid amount %q", s)
	}
	return v, nil
}

func pow10(n uint) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), new(big.Int).SetUint64(uint64(n)), nil)
}
