package mathex

import (
	"errors"
	"math/big"
	"testing"

	"github.com/holiman/uint256"

	amerr "convertnet/core/errors"
)

func powerOfTwoNeighbours() []*uint256.Int {
	values := make([]*uint256.Int, 0, 3*256)
	for n := uint(1); n <= 256; n++ {
		base := new(big.Int).Lsh(big.NewInt(1), n)
		for _, k := range []int64{-1, 0, 1} {
			v := new(big.Int).Add(base, big.NewInt(k))
			u, overflow := uint256.FromBig(v)
			if overflow {
				continue
			}
			values = append(values, u)
		}
	}
	return values
}

func TestFloorAndCeilSqrt(t *testing.T) {
	for _, x := range powerOfTwoNeighbours() {
		floor := new(big.Int).Sqrt(x.ToBig())
		if got := FloorSqrt(x); got.ToBig().Cmp(floor) != 0 {
			t.Fatalf("FloorSqrt(%s) = %s, want %s", x.Dec(), got.Dec(), floor)
		}
		ceil := new(big.Int).Set(floor)
		if new(big.Int).Mul(floor, floor).Cmp(x.ToBig()) != 0 {
			ceil.Add(ceil, big.NewInt(1))
		}
		if got := CeilSqrt(x); got.ToBig().Cmp(ceil) != 0 {
			t.Fatalf("CeilSqrt(%s) = %s, want %s", x.Dec(), got.Dec(), ceil)
		}
	}
}

func TestMulDiv(t *testing.T) {
	got, err := MulDivFloor(MaxUint256, MaxUint256, MaxUint256)
	if err != nil {
		t.Fatalf("muldiv max: %v", err)
	}
	if !got.Eq(MaxUint256) {
		t.Fatalf("expected max, got %s", got.Dec())
	}

	got, err = MulDivFloor(U(7), U(3), U(2))
	if err != nil || got.Uint64() != 10 {
		t.Fatalf("floor(21/2) = %v err=%v", got, err)
	}
	got, err = MulDivCeil(U(7), U(3), U(2))
	if err != nil || got.Uint64() != 11 {
		t.Fatalf("ceil(21/2) = %v err=%v", got, err)
	}
	got, err = MulDivCeil(U(8), U(3), U(2))
	if err != nil || got.Uint64() != 12 {
		t.Fatalf("ceil(24/2) = %v err=%v", got, err)
	}

	if _, err := MulDivFloor(MaxUint256, U(2), U(1)); !errors.Is(err, amerr.ErrOverflow) {
		t.Fatalf("expected overflow, got %v", err)
	}
	if _, err := MulDivCeil(MaxUint256, MaxUint256, new(uint256.Int).Sub(MaxUint256, U(1))); !errors.Is(err, amerr.ErrOverflow) {
		t.Fatalf("expected overflow, got %v", err)
	}
	if _, err := MulDivFloor(U(1), U(1), Zero()); !errors.Is(err, amerr.ErrOverflow) {
		t.Fatalf("expected division by zero to fail, got %v", err)
	}
}

func TestCheckedArithmetic(t *testing.T) {
	if _, err := Add(MaxUint256, U(1)); !errors.Is(err, amerr.ErrOverflow) {
		t.Fatalf("expected add overflow, got %v", err)
	}
	if _, err := Sub(U(1), U(2)); !errors.Is(err, amerr.ErrOverflow) {
		t.Fatalf("expected sub underflow, got %v", err)
	}
	if _, err := Mul(MaxUint128, new(uint256.Int).Lsh(U(1), 129)); !errors.Is(err, amerr.ErrOverflow) {
		t.Fatalf("expected mul overflow, got %v", err)
	}
	sum, err := Add(U(40), U(2))
	if err != nil || sum.Uint64() != 42 {
		t.Fatalf("unexpected sum %v err=%v", sum, err)
	}
}

func TestRoundDiv(t *testing.T) {
	for n := uint64(0); n < 10; n++ {
		for d := uint64(1); d <= 10; d++ {
			want := (2*n + d) / (2 * d)
			got, err := RoundDiv(U(n), U(d))
			if err != nil {
				t.Fatalf("RoundDiv(%d,%d): %v", n, d, err)
			}
			if got.Uint64() != want {
				t.Fatalf("RoundDiv(%d,%d) = %d, want %d", n, d, got.Uint64(), want)
			}
		}
	}
}

func TestReducedRatio(t *testing.T) {
	a, b, err := ReducedRatio(U(3), U(7), U(1_000_000))
	if err != nil || a.Uint64() != 3 || b.Uint64() != 7 {
		t.Fatalf("small ratio should be unchanged: %v %v %v", a, b, err)
	}

	a, b, err = ReducedRatio(U(4000), U(1000), U(100))
	if err != nil {
		t.Fatalf("reduce: %v", err)
	}
	if a.Uint64() != 100 || b.Uint64() != 25 {
		t.Fatalf("expected 100:25, got %d:%d", a.Uint64(), b.Uint64())
	}

	// the larger side always becomes the pivot
	a, b, err = ReducedRatio(U(1000), U(3000), U(100))
	if err != nil {
		t.Fatalf("reduce: %v", err)
	}
	if a.Uint64() != 33 || b.Uint64() != 100 {
		t.Fatalf("expected 33:100, got %d:%d", a.Uint64(), b.Uint64())
	}

	a, b, err = ReducedRatio(MaxUint256, U(1), MaxUint112)
	if err != nil {
		t.Fatalf("reduce extreme: %v", err)
	}
	if !a.Eq(MaxUint112) || b.Uint64() != 1 {
		t.Fatalf("expected max112:1, got %s:%s", a.Dec(), b.Dec())
	}

	a, b, err = ReducedRatio(MaxUint256, MaxUint256, MaxUint112)
	if err != nil || !a.Eq(MaxUint112) || !b.Eq(MaxUint112) {
		t.Fatalf("equal inputs must reduce to max:max, got %v:%v err=%v", a, b, err)
	}
}

func TestNormalizedRatio(t *testing.T) {
	scale := U(1_000_000)
	for a := uint64(0); a < 10; a++ {
		for b := uint64(1); b <= 10; b++ {
			x, y, err := NormalizedRatio(U(a), U(b), scale)
			if err != nil {
				t.Fatalf("NormalizedRatio(%d,%d): %v", a, b, err)
			}
			if new(uint256.Int).Add(x, y).Uint64() != 1_000_000 {
				t.Fatalf("parts must add up to scale: %d + %d", x.Uint64(), y.Uint64())
			}
			want := (2*a*1_000_000 + (a + b)) / (2 * (a + b))
			if x.Uint64() != want {
				t.Fatalf("NormalizedRatio(%d,%d) x = %d, want %d", a, b, x.Uint64(), want)
			}
		}
	}
}

func TestGeometricMean(t *testing.T) {
	cases := []struct {
		values []uint64
		want   uint64
	}{
		{values: []uint64{123, 456789}, want: 10_000},
		{values: []uint64{12, 345, 6789}, want: 100},
		{values: []uint64{1, 1000, 1000000, 1000000000, 1000000000000}, want: 1_000_000},
		{values: []uint64{5000, 5000}, want: 1000},
	}
	for _, tc := range cases {
		values := make([]*uint256.Int, len(tc.values))
		for i, v := range tc.values {
			values[i] = U(v)
		}
		got, err := GeometricMean(values)
		if err != nil {
			t.Fatalf("GeometricMean(%v): %v", tc.values, err)
		}
		if got.Uint64() != tc.want {
			t.Fatalf("GeometricMean(%v) = %d, want %d", tc.values, got.Uint64(), tc.want)
		}
	}
	if _, err := GeometricMean(nil); !errors.Is(err, amerr.ErrInvalidAmount) {
		t.Fatalf("expected invalid amount for empty input, got %v", err)
	}
}

func TestDecimalLength(t *testing.T) {
	for n := 1; n <= 77; n++ {
		pow := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(n)), nil)
		for _, k := range []int64{-1, 0, 1} {
			v := new(big.Int).Add(pow, big.NewInt(k))
			u, overflow := uint256.FromBig(v)
			if overflow {
				t.Fatalf("unexpected overflow for 10^%d%+d", n, k)
			}
			if got := DecimalLength(u); got != uint64(len(v.String())) {
				t.Fatalf("DecimalLength(%s) = %d", v, got)
			}
		}
	}
}
