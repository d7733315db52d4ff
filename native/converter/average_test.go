package converter

import (
	"testing"
	"time"

	"github.com/holiman/uint256"
)

func sameRatio(n, d *uint256.Int, wantN, wantD uint64) bool {
	left := new(uint256.Int).Mul(n, u(wantD))
	right := new(uint256.Int).Mul(d, u(wantN))
	return left.Eq(right)
}

func TestBlendAverage(t *testing.T) {
	prev := AverageRate{N: u(2_000), D: u(1_000), UpdatedAt: 100}

	got, err := blendAverage(prev, u(1_000), u(2_000), 100, 600)
	if err != nil {
		t.Fatalf("blend: %v", err)
	}
	if !sameRatio(got.N, got.D, 2, 1) || got.UpdatedAt != 100 {
		t.Fatalf("zero elapsed must keep the previous average, got %s/%s", got.N.Dec(), got.D.Dec())
	}

	got, err = blendAverage(prev, u(1_000), u(2_000), 700, 600)
	if err != nil {
		t.Fatalf("blend: %v", err)
	}
	if !sameRatio(got.N, got.D, 1, 2) || got.UpdatedAt != 700 {
		t.Fatalf("full window must take the spot rate, got %s/%s", got.N.Dec(), got.D.Dec())
	}

	got, err = blendAverage(prev, u(1_000), u(2_000), 400, 600)
	if err != nil {
		t.Fatalf("blend: %v", err)
	}
	// (2·300 + 0.5·300) / 600
	if !sameRatio(got.N, got.D, 5, 4) {
		t.Fatalf("expected 1.25, got %s/%s", got.N.Dec(), got.D.Dec())
	}

	got, err = blendAverage(AverageRate{}, u(3), u(7), 50, 600)
	if err != nil {
		t.Fatalf("blend: %v", err)
	}
	if got.N.Uint64() != 3 || got.D.Uint64() != 7 || got.UpdatedAt != 50 {
		t.Fatalf("first update must take the spot rate, got %+v", got)
	}
}

func TestRecentAverageRate(t *testing.T) {
	h := newHarness(t, TypeStandard, 0,
		reserveSpec{tokA, 500_000, 1_000}, reserveSpec{tokB, 500_000, 2_000})

	n, d, err := h.conv.RecentAverageRate(tokA)
	if err != nil {
		t.Fatalf("average rate: %v", err)
	}
	if !sameRatio(n, d, 2, 1) {
		t.Fatalf("expected spot 2/1 before any trade, got %s/%s", n.Dec(), d.Dec())
	}

	// pre-trade spot 2/1 is recorded, post-trade spot is 1/2
	if _, err := h.convert(alice, tokA, tokB, 1_000, 0); err != nil {
		t.Fatalf("convert: %v", err)
	}
	reserves := h.info().Reserves
	if reserves[0].Balance.Uint64() != 2_000 || reserves[1].Balance.Uint64() != 1_000 {
		t.Fatalf("unexpected reserves %d/%d", reserves[0].Balance.Uint64(), reserves[1].Balance.Uint64())
	}

	cases := []struct {
		name    string
		elapsed time.Duration
		n, d    uint64
	}{
		{"same second", 0, 2, 1},
		{"half window", 5 * time.Minute, 5, 4},
		{"full window", DefaultAverageRateWindow, 1, 2},
		{"past window", time.Hour, 1, 2},
	}
	for _, tc := range cases {
		h.now = genesisTime.Add(tc.elapsed)
		n, d, err := h.conv.RecentAverageRate(tokA)
		if err != nil {
			t.Fatalf("%s: %v", tc.name, err)
		}
		if !sameRatio(n, d, tc.n, tc.d) {
			t.Fatalf("%s: expected %d/%d, got %s/%s", tc.name, tc.n, tc.d, n.Dec(), d.Dec())
		}
		n, d, err = h.conv.RecentAverageRate(tokB)
		if err != nil {
			t.Fatalf("%s inverse: %v", tc.name, err)
		}
		if !sameRatio(n, d, tc.d, tc.n) {
			t.Fatalf("%s inverse: expected %d/%d, got %s/%s", tc.name, tc.d, tc.n, n.Dec(), d.Dec())
		}
	}

	if _, _, err := h.conv.RecentAverageRate(tokC); err == nil {
		t.Fatalf("expected error for non-reserve asset")
	}
}

func TestAverageRateWindowOverride(t *testing.T) {
	h := newHarness(t, TypeStandard, 0,
		reserveSpec{tokA, 500_000, 1_000}, reserveSpec{tokB, 500_000, 2_000})
	h.conv.SetAverageRateWindow(time.Minute)
	if _, err := h.convert(alice, tokA, tokB, 1_000, 0); err != nil {
		t.Fatalf("convert: %v", err)
	}
	h.now = genesisTime.Add(time.Minute)
	n, d, err := h.conv.RecentAverageRate(tokA)
	if err != nil {
		t.Fatalf("average rate: %v", err)
	}
	if !sameRatio(n, d, 1, 2) {
		t.Fatalf("expected spot after one-minute window, got %s/%s", n.Dec(), d.Dec())
	}
}
