package converter

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	amerr "convertnet/core/errors"
	"convertnet/core/events"
	"convertnet/native/bank"
	"convertnet/native/formula"
	"convertnet/native/mathex"
)

// order maps request assets onto reserve indexes. Every reserve must appear
// exactly once.
func order(rec *record, assets []common.Address) ([]int, error) {
	if len(assets) != len(rec.Reserves) {
		return nil, fmt.Errorf("converter: expected %d reserve assets, got %d: %w", len(rec.Reserves), len(assets), amerr.ErrInvalidReserve)
	}
	seen := make(map[int]bool, len(assets))
	out := make([]int, len(assets))
	for i, asset := range assets {
		idx := rec.index(asset)
		if idx < 0 || seen[idx] {
			return nil, fmt.Errorf("converter: reserve %s: %w", asset.Hex(), amerr.ErrInvalidReserve)
		}
		seen[idx] = true
		out[i] = idx
	}
	return out, nil
}

// AddLiquidity deposits reserves for pool tokens. The first deposit mints the
// geometric mean of the amounts and takes them all; later deposits mint the
// smallest proportional share any reserve allows and only take what that
// share costs from each reserve. Native value not consumed is refunded.
func (c *Converter) AddLiquidity(req AddLiquidityRequest) (*uint256.Int, error) {
	var minted *uint256.Int
	err := c.state.Exclusive(func() error {
		var err error
		minted, err = c.addLiquidity(req)
		return err
	})
	if err != nil {
		return nil, err
	}
	c.metrics.ObserveLiquidity(c.anchor.Hex(), "add")
	c.observeReserves()
	return minted, nil
}

func (c *Converter) addLiquidity(req AddLiquidityRequest) (*uint256.Int, error) {
	rec, err := c.loadActive()
	if err != nil {
		return nil, err
	}
	if _, err := c.processNetworkFees(rec); err != nil {
		return nil, err
	}
	idx, err := order(rec, req.Assets)
	if err != nil {
		return nil, err
	}
	if len(req.Amounts) != len(idx) {
		return nil, fmt.Errorf("converter: %d amounts for %d assets: %w", len(req.Amounts), len(idx), amerr.ErrInvalidAmount)
	}
	amounts := make([]*uint256.Int, len(rec.Reserves))
	for i, r := range idx {
		if req.Amounts[i] == nil || req.Amounts[i].IsZero() {
			return nil, amerr.ErrInvalidAmount
		}
		amounts[r] = req.Amounts[i]
	}
	nativeIdx := rec.index(bank.NativeAsset)
	value := mathex.Clone(req.Value)
	if nativeIdx < 0 && !value.IsZero() {
		return nil, amerr.ErrEthAmountMismatch
	}
	if nativeIdx >= 0 && !value.Eq(amounts[nativeIdx]) {
		return nil, amerr.ErrEthAmountMismatch
	}

	supply, err := c.bank.TotalSupply(c.anchor)
	if err != nil {
		return nil, err
	}
	taken := make([]*uint256.Int, len(rec.Reserves))
	var minted *uint256.Int
	if supply.IsZero() {
		if minted, err = mathex.GeometricMean(amounts); err != nil {
			return nil, err
		}
		copy(taken, amounts)
	} else {
		for i, r := range rec.Reserves {
			if r.Balance.IsZero() {
				return nil, fmt.Errorf("converter: reserve %s is empty: %w", r.Asset.Hex(), amerr.ErrInvalidReserve)
			}
			share, err := mathex.MulDivFloor(supply, amounts[i], r.Balance)
			if err != nil {
				return nil, err
			}
			if minted == nil || share.Lt(minted) {
				minted = share
			}
		}
		for i, r := range rec.Reserves {
			if taken[i], err = mathex.MulDivCeil(r.Balance, minted, supply); err != nil {
				return nil, err
			}
		}
	}
	if minted.IsZero() || (req.MinReturn != nil && minted.Lt(req.MinReturn)) {
		return nil, fmt.Errorf("converter: minted %s: %w", minted.Dec(), amerr.ErrReturnTooLow)
	}

	// Books are credited before any funds move; a failed pull unwinds both
	// with the enclosing Exclusive.
	for i, r := range rec.Reserves {
		if rec.Reserves[i].Balance, err = mathex.Add(r.Balance, taken[i]); err != nil {
			return nil, err
		}
	}
	if err := c.save(rec); err != nil {
		return nil, err
	}
	for i, r := range rec.Reserves {
		if err := c.pull(r.Asset, req.Provider, taken[i], value); err != nil {
			return nil, err
		}
	}
	if err := c.bank.Mint(c.anchor, c.address, req.Provider, minted); err != nil {
		return nil, err
	}
	newSupply := new(uint256.Int).Add(supply, minted)
	for i, r := range rec.Reserves {
		c.state.Emit(events.LiquidityAdded{LiquidityChange: events.LiquidityChange{
			Converter:  c.address,
			Provider:   req.Provider,
			Asset:      r.Asset,
			Amount:     taken[i],
			NewBalance: r.Balance,
			NewSupply:  newSupply,
		}})
	}
	return minted, nil
}

// pull moves amount of asset from provider into the converter and checks it
// arrived. Native deposits arrive as attached value; the unused part goes
// back to the provider.
func (c *Converter) pull(asset, provider common.Address, amount, value *uint256.Int) error {
	before, err := c.bank.BalanceOf(asset, c.address)
	if err != nil {
		return err
	}
	if asset == bank.NativeAsset {
		if err := c.bank.Transfer(asset, provider, c.address, value); err != nil {
			return err
		}
		if refund := new(uint256.Int).Sub(value, amount); !refund.IsZero() {
			if err := c.bank.Transfer(asset, c.address, provider, refund); err != nil {
				return err
			}
		}
	} else if err := c.bank.TransferFrom(asset, c.address, provider, c.address, amount); err != nil {
		return err
	}
	after, err := c.bank.BalanceOf(asset, c.address)
	if err != nil {
		return err
	}
	if new(uint256.Int).Sub(after, before).Lt(amount) || after.Lt(before) {
		return fmt.Errorf("converter: %s deposit not received: %w", asset.Hex(), amerr.ErrInsufficientFunds)
	}
	return nil
}

// RemoveLiquidity burns amount pool tokens and pays the provider its share of
// every reserve. Burning the whole supply pays out the full balances.
// Payouts are returned in the order of req.Assets.
func (c *Converter) RemoveLiquidity(req RemoveLiquidityRequest) ([]*uint256.Int, error) {
	var payouts []*uint256.Int
	err := c.state.Exclusive(func() error {
		var err error
		payouts, err = c.removeLiquidity(req)
		return err
	})
	if err != nil {
		return nil, err
	}
	c.metrics.ObserveLiquidity(c.anchor.Hex(), "remove")
	c.observeReserves()
	return payouts, nil
}

func (c *Converter) removeLiquidity(req RemoveLiquidityRequest) ([]*uint256.Int, error) {
	rec, err := c.loadActive()
	if err != nil {
		return nil, err
	}
	if _, err := c.processNetworkFees(rec); err != nil {
		return nil, err
	}
	if req.Amount == nil || req.Amount.IsZero() {
		return nil, amerr.ErrInvalidAmount
	}
	idx, err := order(rec, req.Assets)
	if err != nil {
		return nil, err
	}
	if len(req.MinReturns) != len(idx) {
		return nil, fmt.Errorf("converter: %d minimums for %d assets: %w", len(req.MinReturns), len(idx), amerr.ErrInvalidAmount)
	}
	supply, err := c.bank.TotalSupply(c.anchor)
	if err != nil {
		return nil, err
	}
	if req.Amount.Gt(supply) {
		return nil, fmt.Errorf("converter: burn exceeds supply: %w", amerr.ErrInvalidAmount)
	}
	paid := make([]*uint256.Int, len(rec.Reserves))
	for i, r := range rec.Reserves {
		if req.Amount.Eq(supply) {
			paid[i] = mathex.Clone(r.Balance)
			continue
		}
		if paid[i], err = mathex.MulDivFloor(r.Balance, req.Amount, supply); err != nil {
			return nil, err
		}
	}
	out := make([]*uint256.Int, len(idx))
	for i, r := range idx {
		out[i] = paid[r]
		if req.MinReturns[i] != nil && paid[r].Lt(req.MinReturns[i]) {
			return nil, fmt.Errorf("converter: payout %s of %s below minimum: %w", paid[r].Dec(), rec.Reserves[r].Asset.Hex(), amerr.ErrReturnTooLow)
		}
	}

	if err := c.bank.Burn(c.anchor, c.address, req.Provider, req.Amount); err != nil {
		return nil, err
	}
	for i := range rec.Reserves {
		rec.Reserves[i].Balance = new(uint256.Int).Sub(rec.Reserves[i].Balance, paid[i])
	}
	if err := c.save(rec); err != nil {
		return nil, err
	}
	newSupply := new(uint256.Int).Sub(supply, req.Amount)
	for i, r := range rec.Reserves {
		c.state.Emit(events.LiquidityRemoved{LiquidityChange: events.LiquidityChange{
			Converter:  c.address,
			Provider:   req.Provider,
			Asset:      r.Asset,
			Amount:     paid[i],
			NewBalance: r.Balance,
			NewSupply:  newSupply,
		}})
	}
	for i, r := range rec.Reserves {
		if paid[i].IsZero() {
			continue
		}
		if err := c.bank.Transfer(r.Asset, c.address, req.Provider, paid[i]); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// AddLiquidityCost returns what each reserve costs to mint amount pool tokens,
// in reserve order.
func (c *Converter) AddLiquidityCost(amount *uint256.Int) ([]*uint256.Int, error) {
	var costs []*uint256.Int
	err := c.state.View(func() error {
		rec, err := c.load()
		if err != nil {
			return err
		}
		supply, err := c.bank.TotalSupply(c.anchor)
		if err != nil {
			return err
		}
		ratio := rec.totalWeight()
		for _, r := range rec.Reserves {
			cost, err := formula.FundCost(supply, r.Balance, ratio, amount)
			if err != nil {
				return err
			}
			costs = append(costs, cost)
		}
		return nil
	})
	return costs, err
}

// AddLiquidityReturn returns the pool tokens minted for depositing amount of
// one reserve alongside proportional amounts of the others.
func (c *Converter) AddLiquidityReturn(asset common.Address, amount *uint256.Int) (*uint256.Int, error) {
	var minted *uint256.Int
	err := c.state.View(func() error {
		rec, err := c.load()
		if err != nil {
			return err
		}
		idx := rec.index(asset)
		if idx < 0 {
			return fmt.Errorf("converter: %s is not a reserve: %w", asset.Hex(), amerr.ErrInvalidReserve)
		}
		supply, err := c.bank.TotalSupply(c.anchor)
		if err != nil {
			return err
		}
		minted, err = formula.FundSupplyAmount(supply, rec.Reserves[idx].Balance, rec.totalWeight(), amount)
		return err
	})
	return minted, err
}

// RemoveLiquidityReturn returns what burning amount pool tokens pays from
// each reserve, in reserve order.
func (c *Converter) RemoveLiquidityReturn(amount *uint256.Int) ([]*uint256.Int, error) {
	var out []*uint256.Int
	err := c.state.View(func() error {
		rec, err := c.load()
		if err != nil {
			return err
		}
		supply, err := c.bank.TotalSupply(c.anchor)
		if err != nil {
			return err
		}
		ratio := rec.totalWeight()
		for _, r := range rec.Reserves {
			paid, err := formula.LiquidateReserveAmount(supply, r.Balance, ratio, amount)
			if err != nil {
				return err
			}
			out = append(out, paid)
		}
		return nil
	})
	return out, err
}

func (c *Converter) observeReserves() {
	if c.metrics == nil {
		return
	}
	info, err := c.Info()
	if err != nil {
		return
	}
	for _, r := range info.Reserves {
		c.metrics.SetReserveBalance(c.anchor.Hex(), r.Asset.Hex(), r.Balance)
	}
}
