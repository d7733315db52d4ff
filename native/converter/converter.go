// Package converter implements a liquidity pool: a set of weighted reserves
// backed by a pool token (the anchor), priced by a pluggable strategy.
//
// Mutating entry points take the state lock themselves. Quote and Convert are
// hop-level operations used by the network and expect the caller to hold it.
package converter

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	amerr "convertnet/core/errors"
	"convertnet/core/events"
	"convertnet/native/bank"
	nativecommon "convertnet/native/common"
	"convertnet/native/fees"
	"convertnet/native/formula"
	"convertnet/native/mathex"
	"convertnet/observability/metrics"
)

const moduleName = "converter"

// DefaultAverageRateWindow is the averaging window of the recent average rate.
const DefaultAverageRateWindow = 10 * time.Minute

var (
	errNilState = errors.New("converter: state not configured")
	errNilBank  = errors.New("converter: bank not configured")
)

type engineState interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
	Exclusive(fn func() error) error
	View(fn func() error) error
	Emit(events.Event)
}

// Bank is the asset ledger the converter holds its reserves in.
type Bank interface {
	Asset(addr common.Address) (*bank.Asset, error)
	BalanceOf(asset, account common.Address) (*uint256.Int, error)
	TotalSupply(asset common.Address) (*uint256.Int, error)
	Owner(asset common.Address) (common.Address, error)
	Transfer(asset, from, to common.Address, amount *uint256.Int) error
	TransferFrom(asset, spender, owner, to common.Address, amount *uint256.Int) error
	Mint(asset, caller, to common.Address, amount *uint256.Int) error
	Burn(asset, caller, from common.Address, amount *uint256.Int) error
	TransferOwnership(asset, caller, newOwner common.Address) error
}

// NetworkSettingsSource supplies the current network fee configuration.
type NetworkSettingsSource interface {
	NetworkSettings() fees.NetworkSettings
}

// Config fixes the identity and type of a converter.
type Config struct {
	Address          common.Address
	Anchor           common.Address
	Type             Type
	MaxConversionFee uint32
}

// Converter is one liquidity pool.
type Converter struct {
	address          common.Address
	anchor           common.Address
	typ              Type
	maxConversionFee uint32
	pricer           pricer

	state   engineState
	bank    Bank
	network NetworkSettingsSource
	pauses  nativecommon.PauseView
	metrics *metrics.AMMMetrics
	logger  *slog.Logger
	now     func() time.Time
	window  time.Duration
}

// New constructs a converter. Its persisted state starts in StatusCreated.
func New(cfg Config, state engineState, ledger Bank) (*Converter, error) {
	if state == nil {
		return nil, errNilState
	}
	if ledger == nil {
		return nil, errNilBank
	}
	if cfg.Address == (common.Address{}) || cfg.Anchor == (common.Address{}) {
		return nil, fmt.Errorf("converter: address and anchor required")
	}
	if cfg.MaxConversionFee > formula.MaxWeight {
		return nil, fmt.Errorf("converter: max conversion fee %d: %w", cfg.MaxConversionFee, amerr.ErrInvalidConversionFee)
	}
	p, err := newPricer(cfg.Type)
	if err != nil {
		return nil, err
	}
	return &Converter{
		address:          cfg.Address,
		anchor:           cfg.Anchor,
		typ:              cfg.Type,
		maxConversionFee: cfg.MaxConversionFee,
		pricer:           p,
		state:            state,
		bank:             ledger,
		logger:           slog.Default(),
		now:              time.Now,
		window:           DefaultAverageRateWindow,
	}, nil
}

// SetClock overrides the time source used for average rates.
func (c *Converter) SetClock(now func() time.Time) {
	if c == nil || now == nil {
		return
	}
	c.now = now
}

// SetAverageRateWindow overrides the averaging window.
func (c *Converter) SetAverageRateWindow(window time.Duration) {
	if c == nil || window < time.Second {
		return
	}
	c.window = window
}

// SetNetworkSettings wires the source of network fee settings.
func (c *Converter) SetNetworkSettings(src NetworkSettingsSource) {
	if c == nil {
		return
	}
	c.network = src
}

// SetPauses wires the module pause switch.
func (c *Converter) SetPauses(p nativecommon.PauseView) {
	if c == nil {
		return
	}
	c.pauses = p
}

// SetMetrics wires the metrics sink.
func (c *Converter) SetMetrics(m *metrics.AMMMetrics) {
	if c == nil {
		return
	}
	c.metrics = m
}

// SetLogger overrides the default logger.
func (c *Converter) SetLogger(logger *slog.Logger) {
	if c == nil || logger == nil {
		return
	}
	c.logger = logger.With(slog.String("converter", c.address.Hex()))
}

// Address returns the account holding the converter's reserves.
func (c *Converter) Address() common.Address { return c.address }

// Anchor returns the pool token address.
func (c *Converter) Anchor() common.Address { return c.anchor }

// Type returns the pricing strategy type.
func (c *Converter) Type() Type { return c.typ }

func (c *Converter) key() []byte {
	return append([]byte("converter/"), c.address.Bytes()...)
}

func (c *Converter) load() (*record, error) {
	rec := new(record)
	if _, err := c.state.KVGet(c.key(), rec); err != nil {
		return nil, fmt.Errorf("converter: load: %w", err)
	}
	rec.normalize()
	return rec, nil
}

func (c *Converter) save(rec *record) error {
	if err := c.state.KVPut(c.key(), rec); err != nil {
		return fmt.Errorf("converter: save: %w", err)
	}
	return nil
}

func (c *Converter) loadActive() (*record, error) {
	if err := nativecommon.Guard(c.pauses, moduleName); err != nil {
		return nil, err
	}
	rec, err := c.load()
	if err != nil {
		return nil, err
	}
	if Status(rec.Status) != StatusActive {
		return nil, amerr.ErrInactive
	}
	return rec, nil
}

func (c *Converter) settings() fees.NetworkSettings {
	if c.network == nil {
		return fees.NetworkSettings{}
	}
	return c.network.NetworkSettings()
}

func (c *Converter) poolView(rec *record) (*pool, error) {
	supply, err := c.bank.TotalSupply(c.anchor)
	if err != nil {
		return nil, err
	}
	return &pool{reserves: rec.Reserves, supply: supply, rateN: rec.RateN, rateD: rec.RateD}, nil
}

// AddReserve appends a reserve. Reserves can only be added before activation.
func (c *Converter) AddReserve(asset common.Address, weight uint32) error {
	return c.state.Exclusive(func() error {
		rec, err := c.load()
		if err != nil {
			return err
		}
		if Status(rec.Status) == StatusActive {
			return fmt.Errorf("converter: reserves are fixed once active: %w", amerr.ErrAccessDenied)
		}
		if asset == c.anchor || rec.index(asset) >= 0 {
			return fmt.Errorf("converter: reserve %s: %w", asset.Hex(), amerr.ErrInvalidReserve)
		}
		if weight == 0 || weight > formula.MaxWeight {
			return amerr.ErrInvalidWeight
		}
		if _, err := c.bank.Asset(asset); err != nil {
			return fmt.Errorf("converter: reserve %s: %w", asset.Hex(), err)
		}
		if err := c.pricer.checkReserve(rec.Reserves, weight); err != nil {
			return err
		}
		rec.Reserves = append(rec.Reserves, Reserve{Asset: asset, Weight: weight, Balance: new(uint256.Int)})
		rec.NetworkFees = append(rec.NetworkFees, new(uint256.Int))
		rec.Status = uint8(StatusInactive)
		return c.save(rec)
	})
}

// AcceptAnchorOwnership activates the converter once the anchor has been
// handed to it in the bank and the reserve set is complete.
func (c *Converter) AcceptAnchorOwnership() error {
	return c.state.Exclusive(func() error {
		rec, err := c.load()
		if err != nil {
			return err
		}
		if err := c.pricer.checkComplete(rec.Reserves); err != nil {
			return err
		}
		owner, err := c.bank.Owner(c.anchor)
		if err != nil {
			return err
		}
		if owner != c.address {
			return fmt.Errorf("converter: anchor owned by %s: %w", owner.Hex(), amerr.ErrAccessDenied)
		}
		rec.Status = uint8(StatusActive)
		if err := c.save(rec); err != nil {
			return err
		}
		c.state.Emit(events.Activation{Converter: c.address, ConverterType: uint16(c.typ), Anchor: c.anchor, Activated: true})
		return nil
	})
}

// TransferAnchorOwnership hands the anchor to newOwner and deactivates the
// converter.
func (c *Converter) TransferAnchorOwnership(newOwner common.Address) error {
	return c.state.Exclusive(func() error {
		rec, err := c.load()
		if err != nil {
			return err
		}
		if err := c.bank.TransferOwnership(c.anchor, c.address, newOwner); err != nil {
			return err
		}
		wasActive := Status(rec.Status) == StatusActive
		rec.Status = uint8(StatusInactive)
		if err := c.save(rec); err != nil {
			return err
		}
		if wasActive {
			c.state.Emit(events.Activation{Converter: c.address, ConverterType: uint16(c.typ), Anchor: c.anchor, Activated: false})
		}
		return nil
	})
}

// SetConversionFee updates the conversion fee in parts per million.
func (c *Converter) SetConversionFee(feePPM uint32) error {
	if feePPM > c.maxConversionFee {
		return fmt.Errorf("converter: fee %d above maximum %d: %w", feePPM, c.maxConversionFee, amerr.ErrInvalidConversionFee)
	}
	return c.state.Exclusive(func() error {
		rec, err := c.load()
		if err != nil {
			return err
		}
		previous := rec.ConversionFee
		rec.ConversionFee = feePPM
		if err := c.save(rec); err != nil {
			return err
		}
		c.state.Emit(events.ConversionFeeUpdate{Converter: c.address, Previous: previous, Current: feePPM})
		return nil
	})
}

// SetRate sets the secondary-per-primary rate of a fixed-rate pool.
func (c *Converter) SetRate(n, d *uint256.Int) error {
	if c.typ != TypeFixedRate {
		return fmt.Errorf("converter: rate is only configurable on fixed-rate pools: %w", amerr.ErrInvalidRate)
	}
	if n == nil || d == nil || n.IsZero() || d.IsZero() {
		return amerr.ErrInvalidRate
	}
	return c.state.Exclusive(func() error {
		rec, err := c.load()
		if err != nil {
			return err
		}
		rec.RateN, rec.RateD = mathex.Clone(n), mathex.Clone(d)
		if err := c.save(rec); err != nil {
			return err
		}
		if len(rec.Reserves) == 2 {
			c.state.Emit(events.TokenRateUpdate{Converter: c.address, Token1: rec.Reserves[0].Asset, Token2: rec.Reserves[1].Asset, RateN: rec.RateN, RateD: rec.RateD})
		}
		return nil
	})
}

// Info returns a read-only snapshot of the converter.
func (c *Converter) Info() (Info, error) {
	var info Info
	err := c.state.View(func() error {
		rec, err := c.load()
		if err != nil {
			return err
		}
		supply, err := c.bank.TotalSupply(c.anchor)
		if err != nil {
			return err
		}
		info = Info{
			Address:          c.address,
			Anchor:           c.anchor,
			Type:             c.typ,
			Status:           Status(rec.Status),
			ConversionFee:    rec.ConversionFee,
			MaxConversionFee: c.maxConversionFee,
			Supply:           supply,
			RateN:            rec.RateN,
			RateD:            rec.RateD,
		}
		for i, r := range rec.Reserves {
			info.Reserves = append(info.Reserves, r.Clone())
			info.NetworkFees = append(info.NetworkFees, mathex.Clone(rec.NetworkFees[i]))
		}
		return nil
	})
	return info, err
}

// HasReserve reports whether asset is one of the converter's reserves. The
// caller must hold the state lock.
func (c *Converter) HasReserve(asset common.Address) (bool, error) {
	rec, err := c.load()
	if err != nil {
		return false, err
	}
	return rec.index(asset) >= 0, nil
}
