package formula

import (
	"errors"
	"math"
	"math/big"
	"testing"

	"github.com/holiman/uint256"

	amerr "convertnet/core/errors"
)

func u(v uint64) *uint256.Int { return uint256.NewInt(v) }

func toFloat(result *big.Int, precision uint) float64 {
	f := new(big.Float).SetInt(result)
	f.Quo(f, new(big.Float).SetInt(new(big.Int).Lsh(big.NewInt(1), precision)))
	v, _ := f.Float64()
	return v
}

func TestPowerAccuracy(t *testing.T) {
	cases := []struct {
		baseN, baseD int64
		expN, expD   uint64
	}{
		{3, 2, 1, 2},
		{2, 1, 1, 1},
		{1001, 1000, 500_000, 1_000_000},
		{1_000_000, 999_000, 1_000_000, 250_000},
		{51_000, 50_000, 300_000, 700_000},
		{7, 3, 1_000_000, 1},
		{123456789, 1, 1, 3},
		{5, 5, 17, 3},
	}
	for _, tc := range cases {
		result, precision, err := Power(big.NewInt(tc.baseN), big.NewInt(tc.baseD), tc.expN, tc.expD)
		if tc.expN == 1_000_000 && tc.expD == 1 {
			if !errors.Is(err, amerr.ErrOverflow) {
				t.Fatalf("expected overflow for huge exponent, got %v", err)
			}
			continue
		}
		if err != nil {
			t.Fatalf("Power(%d/%d, %d/%d): %v", tc.baseN, tc.baseD, tc.expN, tc.expD, err)
		}
		want := math.Pow(float64(tc.baseN)/float64(tc.baseD), float64(tc.expN)/float64(tc.expD))
		got := toFloat(result, precision)
		if rel := math.Abs(got-want) / want; rel > 1e-6 {
			t.Fatalf("Power(%d/%d, %d/%d) = %v, want %v (rel %g)", tc.baseN, tc.baseD, tc.expN, tc.expD, got, want, rel)
		}
	}
}

func TestPowerRoundsDown(t *testing.T) {
	result, precision, err := Power(big.NewInt(2), big.NewInt(1), 1, 1)
	if err != nil {
		t.Fatalf("power: %v", err)
	}
	exact := new(big.Int).Lsh(big.NewInt(2), precision)
	if result.Cmp(exact) > 0 {
		t.Fatalf("power must not exceed the exact value")
	}
	result, precision, err = Power(big.NewInt(4), big.NewInt(1), 1, 2)
	if err != nil {
		t.Fatalf("power: %v", err)
	}
	if result.Cmp(new(big.Int).Lsh(big.NewInt(2), precision)) > 0 {
		t.Fatalf("sqrt(4) must not exceed 2")
	}
}

func TestPowerRejectsBaseBelowOne(t *testing.T) {
	if _, _, err := Power(big.NewInt(1), big.NewInt(2), 1, 1); !errors.Is(err, amerr.ErrInvalidAmount) {
		t.Fatalf("expected invalid amount, got %v", err)
	}
}

func TestZeroAmountIdentity(t *testing.T) {
	for _, w := range []uint32{1, 100_000, 500_000, 999_999, MaxWeight} {
		got, err := PurchaseTargetAmount(u(1_000_000), u(250_000), w, u(0))
		if err != nil || !got.IsZero() {
			t.Fatalf("purchase(w=%d, 0) = %v err=%v", w, got, err)
		}
		got, err = SaleTargetAmount(u(1_000_000), u(250_000), w, u(0))
		if err != nil || !got.IsZero() {
			t.Fatalf("sale(w=%d, 0) = %v err=%v", w, got, err)
		}
		got, err = CrossReserveTargetAmount(u(1_000_000), w, u(250_000), MaxWeight-w+1, u(0))
		if err != nil || !got.IsZero() {
			t.Fatalf("cross(w=%d, 0) = %v err=%v", w, got, err)
		}
	}
}

func TestFullSaleIdentity(t *testing.T) {
	supplies := []*uint256.Int{u(1), u(1_000_000), new(uint256.Int).Lsh(u(1), 200)}
	for _, supply := range supplies {
		for _, w := range []uint32{1, 333_333, 500_000, MaxWeight} {
			reserve := u(987_654_321)
			got, err := SaleTargetAmount(supply, reserve, w, supply)
			if err != nil {
				t.Fatalf("sale: %v", err)
			}
			if !got.Eq(reserve) {
				t.Fatalf("full sale must return the reserve, got %s", got.Dec())
			}
		}
	}
}

func TestPurchaseMonotonic(t *testing.T) {
	for _, w := range []uint32{100_000, 500_000, 900_000} {
		prev := uint256.NewInt(0)
		for amount := uint64(0); amount <= 50_000; amount += 997 {
			got, err := PurchaseTargetAmount(u(1_000_000), u(2_000_000), w, u(amount))
			if err != nil {
				t.Fatalf("purchase(w=%d, %d): %v", w, amount, err)
			}
			if got.Lt(prev) {
				t.Fatalf("purchase must be non-decreasing: %d then %d at amount %d", prev.Uint64(), got.Uint64(), amount)
			}
			prev = got
		}
	}
}

func TestCrossReserveEqualWeights(t *testing.T) {
	got, err := CrossReserveTargetAmount(u(50_000), 500_000, u(40_000), 500_000, u(1000))
	if err != nil {
		t.Fatalf("cross: %v", err)
	}
	// 40000*1000/51000
	if got.Uint64() != 784 {
		t.Fatalf("expected 784, got %d", got.Uint64())
	}
}

func TestWeightedFormulasTrackClosedForm(t *testing.T) {
	purchase, err := PurchaseTargetAmount(u(1_000_000_000), u(1_000_000_000), 500_000, u(1_000_000))
	if err != nil {
		t.Fatalf("purchase: %v", err)
	}
	want := 1e9 * (math.Sqrt(1.001) - 1)
	if math.Abs(want-float64(purchase.Uint64())) > 2 {
		t.Fatalf("purchase = %d, want about %f", purchase.Uint64(), want)
	}

	sale, err := SaleTargetAmount(u(1_000_000_000), u(1_000_000_000), 500_000, u(1_000_000))
	if err != nil {
		t.Fatalf("sale: %v", err)
	}
	want = 1e9 * (1 - math.Pow(1-0.001, 2))
	if math.Abs(want-float64(sale.Uint64())) > 2 {
		t.Fatalf("sale = %d, want about %f", sale.Uint64(), want)
	}

	cross, err := CrossReserveTargetAmount(u(10_000_000), 200_000, u(10_000_000), 800_000, u(100_000))
	if err != nil {
		t.Fatalf("cross: %v", err)
	}
	want = 1e7 * (1 - math.Pow(1e7/1.01e7, 0.25))
	if math.Abs(want-float64(cross.Uint64())) > 2 {
		t.Fatalf("cross = %d, want about %f", cross.Uint64(), want)
	}
}

func TestMaxWeightShortcuts(t *testing.T) {
	got, err := PurchaseTargetAmount(u(1000), u(4000), MaxWeight, u(400))
	if err != nil || got.Uint64() != 100 {
		t.Fatalf("purchase shortcut = %v err=%v", got, err)
	}
	got, err = SaleTargetAmount(u(1000), u(4000), MaxWeight, u(100))
	if err != nil || got.Uint64() != 400 {
		t.Fatalf("sale shortcut = %v err=%v", got, err)
	}
}

func TestCrossReserveSourceAmountInvertsTarget(t *testing.T) {
	for _, weights := range [][2]uint32{{500_000, 500_000}, {200_000, 800_000}, {700_000, 300_000}} {
		src, dst := u(5_000_000), u(3_000_000)
		for _, target := range []uint64{1, 1000, 250_000, 1_500_000} {
			source, err := CrossReserveSourceAmount(src, weights[0], dst, weights[1], u(target))
			if err != nil {
				t.Fatalf("source amount: %v", err)
			}
			back, err := CrossReserveTargetAmount(src, weights[0], dst, weights[1], source)
			if err != nil {
				t.Fatalf("target amount: %v", err)
			}
			// paying the quoted source must deliver the target, give or take the
			// truncation of the power approximation
			lower := target - target/1_000_000 - 1
			if back.Uint64() < lower {
				t.Fatalf("weights %v: source %d buys %d, wanted %d", weights, source.Uint64(), back.Uint64(), target)
			}
		}
	}
	if _, err := CrossReserveSourceAmount(u(10), 500_000, u(10), 500_000, u(10)); !errors.Is(err, amerr.ErrInvalidAmount) {
		t.Fatalf("draining the target reserve must fail, got %v", err)
	}
}

func TestFundingFormulas(t *testing.T) {
	supply, reserve := u(1_000_000), u(2_000_000)
	cost, err := FundCost(supply, reserve, 2*MaxWeight, u(1000))
	if err != nil {
		t.Fatalf("fund cost: %v", err)
	}
	// two full reserves: each pays reserve*((1+1000/1e6)^0.5-1)
	want := 2e6 * (math.Sqrt(1.001) - 1)
	if math.Abs(float64(cost.Uint64())-want) > 2 {
		t.Fatalf("fund cost = %d, want about %f", cost.Uint64(), want)
	}

	cost, err = FundCost(supply, reserve, MaxWeight, u(3))
	if err != nil || cost.Uint64() != 6 {
		t.Fatalf("fund cost shortcut = %v err=%v", cost, err)
	}

	minted, err := FundSupplyAmount(supply, reserve, MaxWeight, u(6))
	if err != nil || minted.Uint64() != 3 {
		t.Fatalf("fund supply shortcut = %v err=%v", minted, err)
	}
	minted, err = FundSupplyAmount(supply, reserve, 2*MaxWeight, u(2000))
	if err != nil {
		t.Fatalf("fund supply: %v", err)
	}
	want = 1e6 * (1.001*1.001 - 1)
	if math.Abs(want-float64(minted.Uint64())) > 2 {
		t.Fatalf("fund supply = %d, want about %f", minted.Uint64(), want)
	}

	paid, err := LiquidateReserveAmount(supply, reserve, 2*MaxWeight, supply)
	if err != nil || !paid.Eq(reserve) {
		t.Fatalf("liquidating the supply must pay the reserve, got %v err=%v", paid, err)
	}
	paid, err = LiquidateReserveAmount(supply, reserve, MaxWeight, u(500_000))
	if err != nil || paid.Uint64() != 1_000_000 {
		t.Fatalf("liquidate shortcut = %v err=%v", paid, err)
	}
	if _, err := FundCost(supply, reserve, 1, u(1)); !errors.Is(err, amerr.ErrInvalidWeight) {
		t.Fatalf("expected invalid weight, got %v", err)
	}
}

func TestValidation(t *testing.T) {
	if _, err := PurchaseTargetAmount(u(1), u(0), 500_000, u(1)); !errors.Is(err, amerr.ErrInvalidReserve) {
		t.Fatalf("expected invalid reserve, got %v", err)
	}
	if _, err := PurchaseTargetAmount(u(1), u(1), 0, u(1)); !errors.Is(err, amerr.ErrInvalidWeight) {
		t.Fatalf("expected invalid weight, got %v", err)
	}
	if _, err := SaleTargetAmount(u(10), u(10), MaxWeight+1, u(1)); !errors.Is(err, amerr.ErrInvalidWeight) {
		t.Fatalf("expected invalid weight, got %v", err)
	}
	if _, err := SaleTargetAmount(u(10), u(10), 500_000, u(11)); !errors.Is(err, amerr.ErrInvalidAmount) {
		t.Fatalf("selling more than the supply must fail, got %v", err)
	}
	if _, err := CrossReserveTargetAmount(u(0), 500_000, u(1), 500_000, u(1)); !errors.Is(err, amerr.ErrInvalidReserve) {
		t.Fatalf("expected invalid reserve, got %v", err)
	}
}
