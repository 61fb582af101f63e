package chain

import (
	"fmt"
	"math/big"
	"strconv"
	"strings"
)

// Amount is a raw token quantity with its decimals.
type Amount struct {
	Raw      *big.Int
	Decimals uint8
}

// Text formats the amount with prec fractional digits.
func (a Amount) Text(prec int) string {
	if a.Raw == nil {
		return "N/A"
	}
	r := new(big.Rat).SetFrac(new(big.Int).Set(a.Raw), pow10(a.Decimals))
	return r.FloatString(prec)
}

// Covers reports whether a holds at least want whole units.
func (a Amount) Covers(want float64) bool {
	if a.Raw == nil {
		return false
	}
	need, err := ParseUnits(want, a.Decimals)
	if err != nil {
		return false
	}
	return a.Raw.Cmp(need) >= 0
}

// ParseUnits converts a decimal amount into base units, truncating digits
// beyond decimals.
func ParseUnits(v float64, decimals uint8) (*big.Int, error) {
	if v < 0 {
		return nil, fmt.Errorf("negative amount %v", v)
	}
	s := strconv.FormatFloat(v, 'f', -1, 64)
	whole, frac, _ := strings.Cut(s, ".")
	if len(frac) > int(decimals) {
		frac = frac[:decimals]
	}
	frac += strings.Repeat("0", int(decimals)-len(frac))
	out, ok := new(big.Int).SetString(whole+frac, 10)
	if !ok {
		return nil, fmt.Errorf("parse amount %q", s)
	}
	return out, nil
}

func pow10(d uint8) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(d)), nil)
}

func gweiToWei(g int64) *big.Int {
	x := new(big.Int).SetInt64(g)
	return x.Mul(x, big.NewInt(1_000_000_000))
}

// withBuffer returns gas*1.2.
func withBuffer(gas uint64) uint64 {
	return gas * 12 / 10
}

func maxBig(a, b *big.Int) *big.Int {
	if a == nil {
		return new(big.Int).Set(b)
	}
	if b == nil || a.Cmp(b) >= 0 {
		return new(big.Int).Set(a)
	}
	return new(big.Int).Set(b)
}
