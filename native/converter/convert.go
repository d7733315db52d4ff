package converter

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	amerr "convertnet/core/errors"
	"convertnet/core/events"
	"convertnet/native/fees"
	"convertnet/native/formula"
	"convertnet/native/mathex"
)

// leg identifies one side of a conversion: a reserve index or the anchor.
type leg struct {
	index  int
	anchor bool
}

func (c *Converter) resolve(rec *record, src, dst common.Address) (leg, leg, error) {
	if src == dst {
		return leg{}, leg{}, amerr.ErrSameSourceTarget
	}
	find := func(asset common.Address) (leg, error) {
		if asset == c.anchor {
			if c.typ != TypeWeighted {
				return leg{}, fmt.Errorf("converter: anchor conversions need a weighted pool: %w", amerr.ErrInvalidReserve)
			}
			return leg{index: -1, anchor: true}, nil
		}
		idx := rec.index(asset)
		if idx < 0 {
			return leg{}, fmt.Errorf("converter: %s is not a reserve: %w", asset.Hex(), amerr.ErrInvalidReserve)
		}
		return leg{index: idx}, nil
	}
	s, err := find(src)
	if err != nil {
		return leg{}, leg{}, err
	}
	d, err := find(dst)
	if err != nil {
		return leg{}, leg{}, err
	}
	return s, d, nil
}

// grossAmount prices amount of src into dst before fees.
func (c *Converter) grossAmount(p *pool, src, dst leg, amount *uint256.Int) (*uint256.Int, error) {
	switch {
	case dst.anchor:
		r := p.reserves[src.index]
		return formula.PurchaseTargetAmount(p.supply, r.Balance, r.Weight, amount)
	case src.anchor:
		r := p.reserves[dst.index]
		if amount.Gt(p.supply) {
			return nil, fmt.Errorf("converter: sale exceeds pool token supply: %w", amerr.ErrInvalidAmount)
		}
		return formula.SaleTargetAmount(p.supply, r.Balance, r.Weight, amount)
	}
	gross, err := c.pricer.targetAmount(p, src.index, dst.index, amount)
	if err != nil {
		return nil, err
	}
	if !gross.Lt(p.reserves[dst.index].Balance) {
		return nil, fmt.Errorf("converter: target reserve cannot cover %s: %w", gross.Dec(), amerr.ErrInvalidAmount)
	}
	return gross, nil
}

func (c *Converter) quote(rec *record, src, dst common.Address, amount *uint256.Int) (leg, leg, fees.ApplyResult, error) {
	s, d, err := c.resolve(rec, src, dst)
	if err != nil {
		return leg{}, leg{}, fees.ApplyResult{}, err
	}
	p, err := c.poolView(rec)
	if err != nil {
		return leg{}, leg{}, fees.ApplyResult{}, err
	}
	gross, err := c.grossAmount(p, s, d, amount)
	if err != nil {
		return leg{}, leg{}, fees.ApplyResult{}, err
	}
	applied, err := fees.Apply(gross, rec.ConversionFee)
	if err != nil {
		return leg{}, leg{}, fees.ApplyResult{}, err
	}
	return s, d, applied, nil
}

// Quote returns the net target amount and fee for converting amount of src
// into dst. The caller must hold the state lock.
func (c *Converter) Quote(src, dst common.Address, amount *uint256.Int) (*uint256.Int, *uint256.Int, error) {
	rec, err := c.loadActive()
	if err != nil {
		return nil, nil, err
	}
	_, _, applied, err := c.quote(rec, src, dst, amount)
	if err != nil {
		return nil, nil, err
	}
	return applied.Net, applied.Fee, nil
}

// TargetAmountAndFee is the read-only quote for a single conversion.
func (c *Converter) TargetAmountAndFee(src, dst common.Address, amount *uint256.Int) (*uint256.Int, *uint256.Int, error) {
	var net, fee *uint256.Int
	err := c.state.View(func() error {
		var err error
		net, fee, err = c.Quote(src, dst, amount)
		return err
	})
	return net, fee, err
}

// SourceAmountAndFee returns the source amount required to receive
// targetAmount after fees, and the fee charged on the way.
func (c *Converter) SourceAmountAndFee(src, dst common.Address, targetAmount *uint256.Int) (*uint256.Int, *uint256.Int, error) {
	var source, fee *uint256.Int
	err := c.state.View(func() error {
		rec, err := c.loadActive()
		if err != nil {
			return err
		}
		s, d, err := c.resolve(rec, src, dst)
		if err != nil {
			return err
		}
		if s.anchor || d.anchor {
			return errReverseUnsupported
		}
		gross, err := fees.GrossFor(targetAmount, rec.ConversionFee)
		if err != nil {
			return err
		}
		p, err := c.poolView(rec)
		if err != nil {
			return err
		}
		source, err = c.pricer.sourceAmount(p, s.index, d.index, gross)
		if err != nil {
			return err
		}
		applied, err := fees.Apply(gross, rec.ConversionFee)
		if err != nil {
			return err
		}
		fee = applied.Fee
		return nil
	})
	return source, fee, err
}

// Convert executes one hop. The source amount must already be held by the
// converter on top of its recorded reserve balance; the net target amount is
// sent to the beneficiary after all bookkeeping is stored. The caller must
// hold the state lock and roll back on error.
func (c *Converter) Convert(req ConvertRequest) (*Conversion, error) {
	rec, err := c.loadActive()
	if err != nil {
		return nil, err
	}
	if req.Amount == nil || req.Amount.IsZero() {
		return nil, amerr.ErrInvalidAmount
	}
	src, dst, err := c.resolve(rec, req.Source, req.Target)
	if err != nil {
		return nil, err
	}
	if !src.anchor && !dst.anchor {
		if err := c.updateAverageRate(rec); err != nil {
			return nil, err
		}
	}
	if err := c.checkDelivered(rec, req.Source, src, req.Amount); err != nil {
		return nil, err
	}
	_, _, applied, err := c.quote(rec, req.Source, req.Target, req.Amount)
	if err != nil {
		return nil, err
	}
	if req.MinReturn != nil && applied.Net.Lt(req.MinReturn) {
		return nil, fmt.Errorf("converter: return %s below minimum %s: %w", applied.Net.Dec(), req.MinReturn.Dec(), amerr.ErrReturnTooLow)
	}

	var networkPPM, affiliatePPM uint32
	settings := c.settings()
	if c.typ == TypeStandard && settings.Enabled() {
		networkPPM = settings.NetworkFeePPM
	}
	if req.Affiliate != (common.Address{}) {
		affiliatePPM = req.AffiliateFeePPM
	}
	split, err := fees.Split(applied.Fee, networkPPM, affiliatePPM)
	if err != nil {
		return nil, err
	}

	// book the trade before any asset leaves the converter
	if src.anchor {
		if err := c.bank.Burn(c.anchor, c.address, c.address, req.Amount); err != nil {
			return nil, err
		}
	} else {
		credited, err := mathex.Add(rec.Reserves[src.index].Balance, req.Amount)
		if err != nil {
			return nil, err
		}
		rec.Reserves[src.index].Balance = credited
	}
	if !dst.anchor {
		outflow := new(uint256.Int).Add(applied.Net, split.Affiliate)
		remaining, err := mathex.Sub(rec.Reserves[dst.index].Balance, outflow)
		if err != nil {
			return nil, fmt.Errorf("converter: target reserve underflow: %w", amerr.ErrInvalidAmount)
		}
		rec.Reserves[dst.index].Balance = remaining
	}
	if !split.Network.IsZero() {
		if err := c.accrueNetworkFee(rec, src.index, dst.index, split.Network); err != nil {
			return nil, err
		}
	}
	if err := c.save(rec); err != nil {
		return nil, err
	}

	conv := &Conversion{
		Converter: c.address,
		Anchor:    c.anchor,
		Source:    req.Source,
		Target:    req.Target,
		AmountIn:  mathex.Clone(req.Amount),
		AmountOut: applied.Net,
		Fee:       applied.Fee,
		Fees:      split,
	}
	c.state.Emit(events.Conversion{
		TradeID:      req.TradeID,
		Converter:    c.address,
		Source:       req.Source,
		Target:       req.Target,
		Trader:       req.Trader,
		AmountIn:     conv.AmountIn,
		AmountOut:    conv.AmountOut,
		Fee:          conv.Fee,
		NetworkFee:   split.Network,
		AffiliateFee: split.Affiliate,
	})
	if !src.anchor && !dst.anchor {
		c.emitRate(rec, src.index, dst.index)
	}

	if err := c.pay(req.Target, dst, req.Beneficiary, applied.Net); err != nil {
		return nil, err
	}
	if !split.Affiliate.IsZero() {
		if err := c.pay(req.Target, dst, req.Affiliate, split.Affiliate); err != nil {
			return nil, err
		}
	}
	return conv, nil
}

// checkDelivered verifies that the converter holds amount of asset beyond
// what its books already account for. Assets that fail transfers silently
// are caught here.
func (c *Converter) checkDelivered(rec *record, asset common.Address, l leg, amount *uint256.Int) error {
	held, err := c.bank.BalanceOf(asset, c.address)
	if err != nil {
		return err
	}
	booked := new(uint256.Int)
	if !l.anchor {
		booked = rec.Reserves[l.index].Balance
	}
	expected, err := mathex.Add(booked, amount)
	if err != nil {
		return err
	}
	if held.Lt(expected) {
		return fmt.Errorf("converter: %s not delivered: %w", asset.Hex(), amerr.ErrInsufficientFunds)
	}
	return nil
}

func (c *Converter) pay(asset common.Address, l leg, to common.Address, amount *uint256.Int) error {
	if amount.IsZero() {
		return nil
	}
	if l.anchor {
		return c.bank.Mint(c.anchor, c.address, to, amount)
	}
	return c.bank.Transfer(asset, c.address, to, amount)
}

func (c *Converter) emitRate(rec *record, src, dst int) {
	s, d := rec.Reserves[src], rec.Reserves[dst]
	if s.Balance.IsZero() {
		return
	}
	n, den := d.Balance, s.Balance
	var err error
	if s.Weight != d.Weight {
		if n, err = mathex.Mul(n, uint256.NewInt(uint64(s.Weight))); err != nil {
			return
		}
		if den, err = mathex.Mul(den, uint256.NewInt(uint64(d.Weight))); err != nil {
			return
		}
	}
	n, den, err = mathex.ReducedRatio(n, den, mathex.MaxUint112)
	if err != nil {
		return
	}
	c.state.Emit(events.TokenRateUpdate{Converter: c.address, Token1: s.Asset, Token2: d.Asset, RateN: n, RateD: den})
}
