package converter

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	amerr "convertnet/core/errors"
	"convertnet/native/mathex"
)

// tracksAverage reports whether the pool keeps a recent average rate. Only
// two-reserve curve pools do; a fixed-rate pool's rate is its average.
func (c *Converter) tracksAverage(rec *record) bool {
	return len(rec.Reserves) == 2 && c.typ != TypeFixedRate
}

// spotRate returns the price of the primary reserve in the secondary one,
// adjusted for weights and reduced to 112 bits.
func spotRate(rec *record) (*uint256.Int, *uint256.Int, error) {
	primary, secondary := rec.Reserves[0], rec.Reserves[1]
	if primary.Balance.IsZero() || secondary.Balance.IsZero() {
		return nil, nil, amerr.ErrInvalidReserve
	}
	n, d, err := mathex.ReducedRatio(secondary.Balance, primary.Balance, mathex.MaxUint112)
	if err != nil || primary.Weight == secondary.Weight {
		return n, d, err
	}
	if n, err = mathex.Mul(n, uint256.NewInt(uint64(primary.Weight))); err != nil {
		return nil, nil, err
	}
	if d, err = mathex.Mul(d, uint256.NewInt(uint64(secondary.Weight))); err != nil {
		return nil, nil, err
	}
	return mathex.ReducedRatio(n, d, mathex.MaxUint112)
}

// blendAverage applies one update of the average rate at time now:
//
//	Δt == 0:  unchanged
//	Δt >= T:  spot
//	else:     (prevN·curD·(T−Δt) + prevD·curN·Δt) / (T·prevD·curD)
func blendAverage(prev AverageRate, curN, curD *uint256.Int, now, window uint64) (AverageRate, error) {
	spot := AverageRate{N: mathex.Clone(curN), D: mathex.Clone(curD), UpdatedAt: now}
	if prev.UpdatedAt == 0 || prev.D == nil || prev.D.IsZero() {
		return spot, nil
	}
	if now <= prev.UpdatedAt {
		return prev, nil
	}
	elapsed := now - prev.UpdatedAt
	if elapsed >= window {
		return spot, nil
	}
	a, err := mulAll(prev.N, curD, uint256.NewInt(window-elapsed))
	if err != nil {
		return AverageRate{}, err
	}
	b, err := mulAll(prev.D, curN, uint256.NewInt(elapsed))
	if err != nil {
		return AverageRate{}, err
	}
	n, err := mathex.Add(a, b)
	if err != nil {
		return AverageRate{}, err
	}
	d, err := mulAll(uint256.NewInt(window), prev.D, curD)
	if err != nil {
		return AverageRate{}, err
	}
	n, d, err = mathex.ReducedRatio(n, d, mathex.MaxUint112)
	if err != nil {
		return AverageRate{}, err
	}
	return AverageRate{N: n, D: d, UpdatedAt: now}, nil
}

func mulAll(x, y, z *uint256.Int) (*uint256.Int, error) {
	xy, err := mathex.Mul(x, y)
	if err != nil {
		return nil, err
	}
	return mathex.Mul(xy, z)
}

func (c *Converter) nowUnix() uint64 {
	ts := c.now().Unix()
	if ts < 0 {
		return 0
	}
	return uint64(ts)
}

func (c *Converter) windowSeconds() uint64 {
	return uint64(c.window.Seconds())
}

// updateAverageRate folds the pre-trade spot rate into the stored average.
func (c *Converter) updateAverageRate(rec *record) error {
	if !c.tracksAverage(rec) {
		return nil
	}
	n, d, err := spotRate(rec)
	if err != nil {
		// empty reserves cannot be priced; the formula rejects the trade
		return nil
	}
	next, err := blendAverage(rec.Average, n, d, c.nowUnix(), c.windowSeconds())
	if err != nil {
		return err
	}
	rec.Average = next
	return nil
}

// RecentAverageRate returns the time-decayed rate for asset as N/D. For the
// primary reserve the rate is secondary per primary; for the secondary
// reserve it is the inverse.
func (c *Converter) RecentAverageRate(asset common.Address) (*uint256.Int, *uint256.Int, error) {
	var n, d *uint256.Int
	err := c.state.View(func() error {
		rec, err := c.load()
		if err != nil {
			return err
		}
		idx := rec.index(asset)
		if idx < 0 {
			return fmt.Errorf("converter: %s is not a reserve: %w", asset.Hex(), amerr.ErrInvalidReserve)
		}
		if len(rec.Reserves) != 2 {
			return fmt.Errorf("converter: average rate needs a two-reserve pool: %w", amerr.ErrInvalidReserve)
		}
		if c.typ == TypeFixedRate {
			n, d = rec.RateN, rec.RateD
		} else {
			curN, curD, err := spotRate(rec)
			if err != nil {
				return err
			}
			avg, err := blendAverage(rec.Average, curN, curD, c.nowUnix(), c.windowSeconds())
			if err != nil {
				return err
			}
			n, d = avg.N, avg.D
		}
		if idx == 1 {
			n, d = d, n
		}
		return nil
	})
	return n, d, err
}
