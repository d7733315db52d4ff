package converter

import (
	"fmt"

	"github.com/holiman/uint256"

	amerr "convertnet/core/errors"
	"convertnet/native/formula"
	"convertnet/native/mathex"
)

const halfWeight = formula.MaxWeight / 2

var errReverseUnsupported = fmt.Errorf("converter: reverse quote not supported by this pool: %w", amerr.ErrInvalidReserve)

// pool is the pricing view of a converter's state.
type pool struct {
	reserves []Reserve
	supply   *uint256.Int
	rateN    *uint256.Int
	rateD    *uint256.Int
}

// pricer is the per-type pricing strategy. It is chosen when the converter is
// constructed and never changes.
type pricer interface {
	// checkReserve validates adding weight as reserve number count+1.
	checkReserve(existing []Reserve, weight uint32) error
	// checkComplete validates the full reserve set before activation.
	checkComplete(reserves []Reserve) error
	// targetAmount returns the gross target amount for converting amount of
	// reserve src into reserve dst.
	targetAmount(p *pool, src, dst int, amount *uint256.Int) (*uint256.Int, error)
	// sourceAmount returns the source amount whose gross target is target.
	sourceAmount(p *pool, src, dst int, target *uint256.Int) (*uint256.Int, error)
}

func newPricer(t Type) (pricer, error) {
	switch t {
	case TypeWeighted:
		return weightedPricer{}, nil
	case TypeStandard:
		return standardPricer{}, nil
	case TypeFixedRate:
		return fixedRatePricer{}, nil
	default:
		return nil, fmt.Errorf("converter: unsupported type %d", t)
	}
}

type weightedPricer struct{}

func (weightedPricer) checkReserve(existing []Reserve, weight uint32) error {
	var total uint32
	for _, r := range existing {
		total += r.Weight
	}
	if total+weight > formula.MaxWeight {
		return fmt.Errorf("converter: reserve weights exceed %d: %w", formula.MaxWeight, amerr.ErrInvalidWeight)
	}
	return nil
}

func (weightedPricer) checkComplete(reserves []Reserve) error {
	if len(reserves) < 2 {
		return fmt.Errorf("converter: weighted pool needs at least two reserves: %w", amerr.ErrInvalidReserve)
	}
	var total uint32
	for _, r := range reserves {
		total += r.Weight
	}
	if total != formula.MaxWeight {
		return fmt.Errorf("converter: reserve weights sum to %d: %w", total, amerr.ErrInvalidWeight)
	}
	return nil
}

func (weightedPricer) targetAmount(p *pool, src, dst int, amount *uint256.Int) (*uint256.Int, error) {
	s, d := p.reserves[src], p.reserves[dst]
	if len(p.reserves) == 2 {
		return formula.CrossReserveTargetAmount(s.Balance, s.Weight, d.Balance, d.Weight, amount)
	}
	// buy pool tokens with the source reserve, then sell them for the target
	minted, err := formula.PurchaseTargetAmount(p.supply, s.Balance, s.Weight, amount)
	if err != nil {
		return nil, err
	}
	supply, err := mathex.Add(p.supply, minted)
	if err != nil {
		return nil, err
	}
	return formula.SaleTargetAmount(supply, d.Balance, d.Weight, minted)
}

func (weightedPricer) sourceAmount(p *pool, src, dst int, target *uint256.Int) (*uint256.Int, error) {
	if len(p.reserves) != 2 {
		return nil, errReverseUnsupported
	}
	s, d := p.reserves[src], p.reserves[dst]
	return formula.CrossReserveSourceAmount(s.Balance, s.Weight, d.Balance, d.Weight, target)
}

type standardPricer struct{}

func checkPair(existing []Reserve, weight uint32) error {
	if len(existing) >= 2 {
		return fmt.Errorf("converter: pool takes exactly two reserves: %w", amerr.ErrInvalidReserve)
	}
	if weight != halfWeight {
		return fmt.Errorf("converter: pool reserves must weigh %d: %w", halfWeight, amerr.ErrInvalidWeight)
	}
	return nil
}

func checkPairComplete(reserves []Reserve) error {
	if len(reserves) != 2 {
		return fmt.Errorf("converter: pool needs exactly two reserves: %w", amerr.ErrInvalidReserve)
	}
	return nil
}

func (standardPricer) checkReserve(existing []Reserve, weight uint32) error {
	return checkPair(existing, weight)
}

func (standardPricer) checkComplete(reserves []Reserve) error { return checkPairComplete(reserves) }

func (standardPricer) targetAmount(p *pool, src, dst int, amount *uint256.Int) (*uint256.Int, error) {
	s, d := p.reserves[src], p.reserves[dst]
	return formula.CrossReserveTargetAmount(s.Balance, halfWeight, d.Balance, halfWeight, amount)
}

func (standardPricer) sourceAmount(p *pool, src, dst int, target *uint256.Int) (*uint256.Int, error) {
	s, d := p.reserves[src], p.reserves[dst]
	return formula.CrossReserveSourceAmount(s.Balance, halfWeight, d.Balance, halfWeight, target)
}

type fixedRatePricer struct{}

func (fixedRatePricer) checkReserve(existing []Reserve, weight uint32) error {
	return checkPair(existing, weight)
}

func (fixedRatePricer) checkComplete(reserves []Reserve) error { return checkPairComplete(reserves) }

// rate returns the multiplier n/d applied when converting src into dst. The
// configured rate is secondary per primary.
func (fixedRatePricer) rate(p *pool, src int) (*uint256.Int, *uint256.Int) {
	if src == 0 {
		return p.rateN, p.rateD
	}
	return p.rateD, p.rateN
}

func (f fixedRatePricer) targetAmount(p *pool, src, dst int, amount *uint256.Int) (*uint256.Int, error) {
	n, d := f.rate(p, src)
	return mathex.MulDivFloor(amount, n, d)
}

func (f fixedRatePricer) sourceAmount(p *pool, src, dst int, target *uint256.Int) (*uint256.Int, error) {
	n, d := f.rate(p, src)
	if !target.Lt(p.reserves[dst].Balance) {
		return nil, amerr.ErrInvalidAmount
	}
	return mathex.MulDivCeil(target, d, n)
}
