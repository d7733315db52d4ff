// Package mathex provides the deterministic 256-bit integer primitives the
// conversion engine prices with. Every function is pure: inputs are never
// mutated and a fresh value is returned. Results that do not fit in 256 bits
// fail with ErrOverflow instead of wrapping.
package mathex

import (
	"math/big"

	"github.com/holiman/uint256"

	amerr "convertnet/core/errors"
)

var (
	// MaxUint256 is 2^256-1.
	MaxUint256 = new(uint256.Int).Not(new(uint256.Int))
	// MaxUint128 is 2^128-1.
	MaxUint128 = maxBits(128)
	// MaxUint112 is 2^112-1, the bound applied to stored average rates.
	MaxUint112 = maxBits(112)

	one = uint256.NewInt(1)
	ten = uint256.NewInt(10)
)

func maxBits(bits uint) *uint256.Int {
	v := new(uint256.Int).Lsh(uint256.NewInt(1), bits)
	return v.Sub(v, uint256.NewInt(1))
}

// Zero returns a new zero value.
func Zero() *uint256.Int { return new(uint256.Int) }

// U returns a new value holding v.
func U(v uint64) *uint256.Int { return uint256.NewInt(v) }

// Clone copies x, treating nil as zero.
func Clone(x *uint256.Int) *uint256.Int {
	if x == nil {
		return new(uint256.Int)
	}
	return new(uint256.Int).Set(x)
}

// FloorSqrt returns the largest r such that r*r <= n.
func FloorSqrt(n *uint256.Int) *uint256.Int {
	return new(uint256.Int).Sqrt(n)
}

// CeilSqrt returns the smallest r such that r*r >= n.
func CeilSqrt(n *uint256.Int) *uint256.Int {
	r := FloorSqrt(n)
	sq := new(uint256.Int).Mul(r, r)
	if !sq.Eq(n) {
		r.AddUint64(r, 1)
	}
	return r
}

// Add returns x+y or ErrOverflow.
func Add(x, y *uint256.Int) (*uint256.Int, error) {
	z, overflow := new(uint256.Int).AddOverflow(x, y)
	if overflow {
		return nil, amerr.ErrOverflow
	}
	return z, nil
}

// Sub returns x-y or ErrOverflow when y > x.
func Sub(x, y *uint256.Int) (*uint256.Int, error) {
	z, underflow := new(uint256.Int).SubOverflow(x, y)
	if underflow {
		return nil, amerr.ErrOverflow
	}
	return z, nil
}

// Mul returns x*y or ErrOverflow.
func Mul(x, y *uint256.Int) (*uint256.Int, error) {
	z, overflow := new(uint256.Int).MulOverflow(x, y)
	if overflow {
		return nil, amerr.ErrOverflow
	}
	return z, nil
}

// MulDivFloor returns floor(a*b/c) using a 512-bit intermediate product.
func MulDivFloor(a, b, c *uint256.Int) (*uint256.Int, error) {
	if c.IsZero() {
		return nil, amerr.ErrOverflow
	}
	z, overflow := new(uint256.Int).MulDivOverflow(a, b, c)
	if overflow {
		return nil, amerr.ErrOverflow
	}
	return z, nil
}

// MulDivCeil returns ceil(a*b/c) using a 512-bit intermediate product.
func MulDivCeil(a, b, c *uint256.Int) (*uint256.Int, error) {
	z, err := MulDivFloor(a, b, c)
	if err != nil {
		return nil, err
	}
	if new(uint256.Int).MulMod(a, b, c).IsZero() {
		return z, nil
	}
	return Add(z, one)
}

// RoundDiv returns n/d rounded half up.
func RoundDiv(n, d *uint256.Int) (*uint256.Int, error) {
	if d.IsZero() {
		return nil, amerr.ErrOverflow
	}
	q := new(uint256.Int).Div(n, d)
	r := new(uint256.Int).Mod(n, d)
	half := new(uint256.Int).Sub(d, new(uint256.Int).Rsh(d, 1))
	if !r.Lt(half) {
		return Add(q, one)
	}
	return q, nil
}

// ReducedRatio rescales a:b so that neither side exceeds max. When scaling is
// needed the larger input becomes exactly max and the smaller one is rounded
// to the nearest integer, never below 1 unless it was zero.
func ReducedRatio(a, b, max *uint256.Int) (*uint256.Int, *uint256.Int, error) {
	if !a.Gt(max) && !b.Gt(max) {
		return Clone(a), Clone(b), nil
	}
	if a.Lt(b) {
		y, x, err := ReducedRatio(b, a, max)
		return x, y, err
	}
	// a is the pivot: a -> max, b -> round(b*max/a)
	scaled, err := mulDivRound(b, max, a)
	if err != nil {
		return nil, nil, err
	}
	if scaled.IsZero() && !b.IsZero() {
		scaled.SetOne()
	}
	return Clone(max), scaled, nil
}

// NormalizedRatio splits scale between a and b proportionally so that the
// two results add up to scale.
func NormalizedRatio(a, b, scale *uint256.Int) (*uint256.Int, *uint256.Int, error) {
	if !a.Gt(b) {
		return AccurateRatio(a, b, scale)
	}
	y, x, err := AccurateRatio(b, a, scale)
	return x, y, err
}

// AccurateRatio returns (x, scale-x) where x = round(a*scale/(a+b)).
func AccurateRatio(a, b, scale *uint256.Int) (*uint256.Int, *uint256.Int, error) {
	if a.IsZero() && b.IsZero() {
		return nil, nil, amerr.ErrInvalidAmount
	}
	sum := new(big.Int).Add(a.ToBig(), b.ToBig())
	num := new(big.Int).Mul(a.ToBig(), scale.ToBig())
	x := bigRoundDiv(num, sum)
	ux, overflow := uint256.FromBig(x)
	if overflow || ux.Gt(scale) {
		return nil, nil, amerr.ErrOverflow
	}
	return ux, new(uint256.Int).Sub(scale, ux), nil
}

// DecimalLength returns the number of decimal digits of x (0 for zero).
func DecimalLength(x *uint256.Int) uint64 {
	var n uint64
	for v := Clone(x); !v.IsZero(); v.Div(v, ten) {
		n++
	}
	return n
}

// GeometricMean approximates the geometric mean of values as a power of ten:
// 10^(round(average decimal length) - 1).
func GeometricMean(values []*uint256.Int) (*uint256.Int, error) {
	if len(values) == 0 {
		return nil, amerr.ErrInvalidAmount
	}
	var digits uint64
	for _, v := range values {
		digits += DecimalLength(v)
	}
	count := uint64(len(values))
	avg := (digits + count/2) / count
	if avg == 0 {
		return nil, amerr.ErrInvalidAmount
	}
	return new(uint256.Int).Exp(ten, uint256.NewInt(avg-1)), nil
}

func mulDivRound(a, b, c *uint256.Int) (*uint256.Int, error) {
	q, err := MulDivFloor(a, b, c)
	if err != nil {
		return nil, err
	}
	r := new(uint256.Int).MulMod(a, b, c)
	// round half up: r >= c - r
	if !r.Lt(new(uint256.Int).Sub(c, r)) {
		return Add(q, one)
	}
	return q, nil
}

func bigRoundDiv(n, d *big.Int) *big.Int {
	q, r := new(big.Int).QuoRem(n, d, new(big.Int))
	if new(big.Int).Lsh(r, 1).Cmp(d) >= 0 {
		q.Add(q, big.NewInt(1))
	}
	return q
}
