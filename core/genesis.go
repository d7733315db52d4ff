package core

import (
	"fmt"
	"log/slog"

	"github.com/holiman/uint256"

	"convertnet/config"
	"convertnet/native/bank"
	"convertnet/native/converter"
	"convertnet/native/fees"
)

var genesisKey = []byte("engine/genesis")

type genesisMarker struct {
	Pools  uint64
	Assets uint64
}

func (e *Engine) isFresh() (bool, error) {
	var found bool
	err := e.state.View(func() error {
		var err error
		found, err = e.state.KVGet(genesisKey, nil)
		return err
	})
	return !found, err
}

// applyGenesis registers assets and balances, then creates, activates and
// funds every configured pool. The marker is written last so an interrupted
// genesis is retried on the next start against a fresh data directory.
func (e *Engine) applyGenesis(pools []*converter.Converter) error {
	if err := e.state.Exclusive(e.genesisAssets); err != nil {
		return err
	}
	for i, c := range pools {
		if err := e.setupPool(e.cfg.Pools[i], c); err != nil {
			return fmt.Errorf("pool %s: %w", c.Anchor().Hex(), err)
		}
	}
	settings, err := networkSettings(e.cfg.Network)
	if err != nil {
		return err
	}
	if err := e.network.SetNetworkSettings(settings); err != nil {
		return err
	}
	for i, c := range pools {
		if err := e.fundPool(e.cfg.Pools[i], c); err != nil {
			return fmt.Errorf("pool %s: %w", c.Anchor().Hex(), err)
		}
	}
	err = e.state.Exclusive(func() error {
		return e.state.KVPut(genesisKey, genesisMarker{Pools: uint64(len(pools)), Assets: uint64(len(e.cfg.Assets))})
	})
	if err != nil {
		return err
	}
	e.logger.Info("genesis applied",
		slog.Int("assets", len(e.cfg.Assets)),
		slog.Int("pools", len(pools)))
	return nil
}

func (e *Engine) genesisAssets() error {
	networkAddr := e.network.Address()
	for i, ac := range e.cfg.Assets {
		field := fmt.Sprintf("assets[%d]", i)
		addr, err := config.Address(field+".address", ac.Address)
		if err != nil {
			return err
		}
		owner, err := config.Address(field+".owner", ac.Owner)
		if err != nil {
			return err
		}
		kind, err := bank.ParseKind(ac.Kind)
		if err != nil {
			return err
		}
		if err := e.bank.Register(bank.Asset{Address: addr, Kind: kind, Owner: owner, Symbol: ac.Symbol, Decimals: ac.Decimals}); err != nil {
			return err
		}
		for j, bc := range ac.Balances {
			bfield := fmt.Sprintf("%s.balances[%d]", field, j)
			account, err := config.Address(bfield+".account", bc.Account)
			if err != nil {
				return err
			}
			amount, err := config.Amount(bfield+".amount", bc.Amount)
			if err != nil {
				return err
			}
			if !amount.IsZero() {
				if err := e.bank.Mint(addr, owner, account, amount); err != nil {
					return fmt.Errorf("%s: %w", bfield, err)
				}
			}
			if bc.ApproveNetwork {
				if err := e.bank.Approve(addr, account, networkAddr, new(uint256.Int).SetAllOne()); err != nil {
					return fmt.Errorf("%s: %w", bfield, err)
				}
			}
		}
	}
	return nil
}

// setupPool adds the reserves, hands the anchor to the converter and
// activates it.
func (e *Engine) setupPool(pc config.PoolConfig, c *converter.Converter) error {
	owner, err := config.Address("owner", pc.Owner)
	if err != nil {
		return err
	}
	for _, rc := range pc.Reserves {
		asset, err := config.Address("reserve", rc.Asset)
		if err != nil {
			return err
		}
		if err := c.AddReserve(asset, rc.Weight); err != nil {
			return err
		}
	}
	if c.Type() == converter.TypeFixedRate {
		n, err := config.Amount("rate.n", pc.Rate.N)
		if err != nil {
			return err
		}
		d, err := config.Amount("rate.d", pc.Rate.D)
		if err != nil {
			return err
		}
		if err := c.SetRate(n, d); err != nil {
			return err
		}
	}
	err = e.state.Exclusive(func() error {
		return e.bank.TransferOwnership(c.Anchor(), owner, c.Address())
	})
	if err != nil {
		return err
	}
	if err := c.AcceptAnchorOwnership(); err != nil {
		return err
	}
	if err := c.SetConversionFee(pc.ConversionFeePPM); err != nil {
		return err
	}
	return e.network.Register(c)
}

// fundPool deposits the owner's initial reserves.
func (e *Engine) fundPool(pc config.PoolConfig, c *converter.Converter) error {
	owner, err := config.Address("owner", pc.Owner)
	if err != nil {
		return err
	}
	req := converter.AddLiquidityRequest{Provider: owner, Value: new(uint256.Int)}
	for _, rc := range pc.Reserves {
		asset, err := config.Address("reserve", rc.Asset)
		if err != nil {
			return err
		}
		amount, err := config.Amount("reserve.amount", rc.Amount)
		if err != nil {
			return err
		}
		req.Assets = append(req.Assets, asset)
		req.Amounts = append(req.Amounts, amount)
		if asset == bank.NativeAsset {
			req.Value = amount
		}
	}
	err = e.state.Exclusive(func() error {
		for i, asset := range req.Assets {
			if asset == bank.NativeAsset {
				continue
			}
			if err := e.bank.Approve(asset, owner, c.Address(), req.Amounts[i]); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	minted, err := c.AddLiquidity(req)
	if err != nil {
		return err
	}
	e.logger.Info("pool funded",
		slog.String("anchor", c.Anchor().Hex()),
		slog.String("owner", owner.Hex()),
		slog.String("minted", minted.Dec()))
	return nil
}

func networkSettings(nc config.NetworkConfig) (fees.NetworkSettings, error) {
	wallet, err := config.OptionalAddress("network.fee_wallet", nc.FeeWallet)
	if err != nil {
		return fees.NetworkSettings{}, err
	}
	return fees.NetworkSettings{FeeWallet: wallet, NetworkFeePPM: nc.NetworkFeePPM}, nil
}
