package formula

import (
	"math/big"

	amerr "convertnet/core/errors"
)

// Precision is the number of fractional bits carried by Power results.
const Precision = 127

// maxPowerBits bounds the integer part of log2(result). Larger powers cannot
// produce an amount that fits in 256 bits after scaling and are reported as
// overflow.
const maxPowerBits = 512

var (
	fixedOne = new(big.Int).Lsh(big.NewInt(1), Precision)
	fixedTwo = new(big.Int).Lsh(big.NewInt(1), Precision+1)
	fracMask = new(big.Int).Sub(fixedOne, big.NewInt(1))
	ln2Fixed = computeLn2()
)

// Power returns (result, precision) such that result/2^precision approximates
// (baseN/baseD)^(expN/expD) from below. baseN must be at least baseD.
//
// The binary logarithm of the base is extracted one bit at a time, scaled by
// the exponent, and raised back through 2^int * exp(frac*ln2). Every step
// truncates, so the result never exceeds the exact power.
func Power(baseN, baseD *big.Int, expN, expD uint64) (*big.Int, uint, error) {
	if baseD.Sign() <= 0 || baseN.Cmp(baseD) < 0 || expD == 0 {
		return nil, 0, amerr.ErrInvalidAmount
	}
	base := new(big.Int).Lsh(baseN, Precision)
	base.Quo(base, baseD)

	exponent := log2Fixed(base)
	exponent.Mul(exponent, new(big.Int).SetUint64(expN))
	exponent.Quo(exponent, new(big.Int).SetUint64(expD))

	whole := new(big.Int).Rsh(exponent, Precision)
	if !whole.IsUint64() || whole.Uint64() > maxPowerBits {
		return nil, 0, amerr.ErrOverflow
	}
	result := exp2Fixed(new(big.Int).And(exponent, fracMask))
	result.Lsh(result, uint(whole.Uint64()))
	return result, Precision, nil
}

// log2Fixed returns floor(log2(x/2^Precision) * 2^Precision) for x >= 2^Precision.
func log2Fixed(x *big.Int) *big.Int {
	n := x.BitLen() - 1 - Precision
	res := new(big.Int).Lsh(big.NewInt(int64(n)), Precision)
	y := new(big.Int).Rsh(x, uint(n))
	for bit := Precision - 1; bit >= 0; bit-- {
		y.Mul(y, y)
		y.Rsh(y, Precision)
		if y.Cmp(fixedTwo) >= 0 {
			y.Rsh(y, 1)
			res.SetBit(res, bit, 1)
		}
	}
	return res
}

// exp2Fixed returns 2^(frac/2^Precision) in fixed point for frac < 2^Precision.
func exp2Fixed(frac *big.Int) *big.Int {
	z := new(big.Int).Mul(frac, ln2Fixed)
	z.Rsh(z, Precision)

	sum := new(big.Int).Set(fixedOne)
	term := new(big.Int).Set(fixedOne)
	for i := int64(1); ; i++ {
		term.Mul(term, z)
		term.Rsh(term, Precision)
		term.Quo(term, big.NewInt(i))
		if term.Sign() == 0 {
			break
		}
		sum.Add(sum, term)
	}
	return sum
}

// computeLn2 sums ln 2 = Σ 1/(k·2^k) with guard bits, truncated to Precision.
func computeLn2() *big.Int {
	const guard = 16
	unit := new(big.Int).Lsh(big.NewInt(1), Precision+guard)
	sum := new(big.Int)
	for k := int64(1); ; k++ {
		term := new(big.Int).Rsh(unit, uint(k))
		term.Quo(term, big.NewInt(k))
		if term.Sign() == 0 {
			break
		}
		sum.Add(sum, term)
	}
	return sum.Rsh(sum, guard)
}
