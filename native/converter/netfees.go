package converter

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"convertnet/core/events"
	"convertnet/native/mathex"
)

// accrueNetworkFee books share (in target units) against the target reserve
// and its equivalent, at post-trade balances, against the source reserve.
func (c *Converter) accrueNetworkFee(rec *record, src, dst int, share *uint256.Int) error {
	target, err := mathex.Add(rec.NetworkFees[dst], share)
	if err != nil {
		return err
	}
	rec.NetworkFees[dst] = target
	dstBalance := rec.Reserves[dst].Balance
	if dstBalance.IsZero() {
		return nil
	}
	equivalent, err := mathex.MulDivFloor(share, rec.Reserves[src].Balance, dstBalance)
	if err != nil {
		return err
	}
	source, err := mathex.Add(rec.NetworkFees[src], equivalent)
	if err != nil {
		return err
	}
	rec.NetworkFees[src] = source
	return nil
}

// ProcessNetworkFees pays the accrued network fees to the network fee wallet.
// It returns the amounts paid in reserve order, or nil when nothing was due.
func (c *Converter) ProcessNetworkFees() ([]*uint256.Int, error) {
	var paid []*uint256.Int
	err := c.state.Exclusive(func() error {
		rec, err := c.loadActive()
		if err != nil {
			return err
		}
		paid, err = c.processNetworkFees(rec)
		return err
	})
	if err != nil {
		return nil, err
	}
	if paid != nil {
		c.metrics.ObserveNetworkFees(c.anchor.Hex())
	}
	return paid, nil
}

// processNetworkFees moves accrued fees out of the reserves. Nothing happens
// while no fee wallet is configured.
func (c *Converter) processNetworkFees(rec *record) ([]*uint256.Int, error) {
	if c.typ != TypeStandard {
		return nil, nil
	}
	settings := c.settings()
	if settings.FeeWallet == (common.Address{}) {
		return nil, nil
	}
	pending := false
	for _, f := range rec.NetworkFees {
		if !f.IsZero() {
			pending = true
			break
		}
	}
	if !pending {
		return nil, nil
	}
	amounts := make([]*uint256.Int, len(rec.Reserves))
	assets := make([]common.Address, len(rec.Reserves))
	for i, r := range rec.Reserves {
		amount := rec.NetworkFees[i]
		if amount.Gt(r.Balance) {
			amount = mathex.Clone(r.Balance)
		}
		amounts[i] = amount
		assets[i] = r.Asset
		rec.Reserves[i].Balance = new(uint256.Int).Sub(r.Balance, amount)
		rec.NetworkFees[i] = new(uint256.Int)
	}
	if err := c.save(rec); err != nil {
		return nil, err
	}
	c.state.Emit(events.NetworkFeesProcessed{Converter: c.address, Wallet: settings.FeeWallet, Assets: assets, Amounts: amounts})
	for i, asset := range assets {
		if amounts[i].IsZero() {
			continue
		}
		if err := c.bank.Transfer(asset, c.address, settings.FeeWallet, amounts[i]); err != nil {
			return nil, err
		}
	}
	return amounts, nil
}
