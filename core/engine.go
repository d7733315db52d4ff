// Package core assembles the conversion engine: state, asset ledger, converter
// registry, converters and the path router, wired to history, metrics and
// event subscribers.
package core

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"convertnet/config"
	"convertnet/core/events"
	"convertnet/core/state"
	"convertnet/native/bank"
	"convertnet/native/converter"
	"convertnet/native/network"
	"convertnet/native/registry"
	"convertnet/observability/metrics"
	"convertnet/storage"
	"convertnet/storage/history"
)

// Engine owns every component of a running conversion network.
type Engine struct {
	cfg      *config.Config
	db       storage.Database
	state    *state.Manager
	bank     *bank.Ledger
	registry *registry.Registry
	network  *network.Network
	history  *history.Store
	metrics  *metrics.AMMMetrics
	logger   *slog.Logger
	now      func() time.Time
	emitters []events.Emitter
}

// Option customises New.
type Option func(*Engine)

// WithLogger overrides slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithClock sets the time source of every converter, the network and the
// history store.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithDatabase replaces the state backend chosen from the configuration.
func WithDatabase(db storage.Database) Option {
	return func(e *Engine) { e.db = db }
}

// WithHistory replaces the history store opened from the configuration.
func WithHistory(store *history.Store) Option {
	return func(e *Engine) { e.history = store }
}

// WithEmitter adds a subscriber for committed events.
func WithEmitter(emitter events.Emitter) Option {
	return func(e *Engine) {
		if emitter != nil {
			e.emitters = append(e.emitters, emitter)
		}
	}
}

// WithMetrics overrides the process-wide AMM metrics.
func WithMetrics(m *metrics.AMMMetrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// New builds the engine described by cfg and applies genesis when the state
// is empty.
func New(cfg *config.Config, opts ...Option) (*Engine, error) {
	if cfg == nil {
		return nil, fmt.Errorf("core: config required")
	}
	e := &Engine{cfg: cfg, logger: slog.Default(), now: time.Now}
	for _, opt := range opts {
		opt(e)
	}
	if e.metrics == nil {
		e.metrics = metrics.AMM()
	}
	if err := e.open(); err != nil {
		e.Close()
		return nil, err
	}
	if err := e.assemble(); err != nil {
		e.Close()
		return nil, err
	}
	return e, nil
}

func (e *Engine) open() error {
	if e.db == nil {
		if e.cfg.DataDir == "" {
			e.db = storage.NewMemDB()
		} else {
			if err := os.MkdirAll(e.cfg.DataDir, 0o755); err != nil {
				return fmt.Errorf("core: create data dir: %w", err)
			}
			db, err := openState(e.cfg.StateBackend, e.cfg.DataDir)
			if err != nil {
				return fmt.Errorf("core: open state: %w", err)
			}
			e.db = db
		}
	}
	if e.history == nil {
		store, err := history.Open(e.cfg.History.Driver, e.cfg.History.DSN)
		if err != nil {
			return err
		}
		e.history = store
	}
	e.history.SetLogger(e.logger)
	e.history.SetClock(e.now)
	return nil
}

func openState(backend, dir string) (storage.Database, error) {
	switch strings.ToLower(backend) {
	case "", config.StateLevelDB:
		return storage.NewLevelDB(filepath.Join(dir, "state"))
	case config.StateBolt:
		return storage.NewBoltDB(filepath.Join(dir, "state.bolt"))
	default:
		return nil, fmt.Errorf("unsupported state backend %q", backend)
	}
}

func (e *Engine) assemble() error {
	e.state = state.NewManager(e.db)
	e.state.SetLogger(e.logger)
	e.state.SetEmitter(append(events.MultiEmitter{e.history}, e.emitters...))

	pauses := e.cfg.PauseSet()
	e.bank = bank.NewLedger(e.state)
	e.bank.SetPauses(pauses)
	e.bank.SetLogger(e.logger)
	e.registry = registry.New(e.state)

	netCfg, err := networkConfig(e.cfg.Network)
	if err != nil {
		return err
	}
	e.network, err = network.New(netCfg, e.state, e.bank, e.registry)
	if err != nil {
		return err
	}
	e.network.SetMetrics(e.metrics)
	e.network.SetLogger(e.logger)
	e.network.SetClock(e.now)

	pools := make([]*converter.Converter, 0, len(e.cfg.Pools))
	for i, pc := range e.cfg.Pools {
		c, err := e.newConverter(pc)
		if err != nil {
			return fmt.Errorf("core: pools[%d]: %w", i, err)
		}
		pools = append(pools, c)
	}

	fresh, err := e.isFresh()
	if err != nil {
		return err
	}
	if fresh {
		if err := e.applyGenesis(pools); err != nil {
			return fmt.Errorf("core: genesis: %w", err)
		}
		return nil
	}
	for _, c := range pools {
		if err := e.network.Register(c); err != nil {
			return err
		}
	}
	e.logger.Info("engine resumed", slog.Int("pools", len(pools)))
	return nil
}

func (e *Engine) newConverter(pc config.PoolConfig) (*converter.Converter, error) {
	anchor, err := config.Address("anchor", pc.Anchor)
	if err != nil {
		return nil, err
	}
	addr, err := config.Address("converter", pc.Converter)
	if err != nil {
		return nil, err
	}
	typ, err := converter.ParseType(pc.Type)
	if err != nil {
		return nil, err
	}
	c, err := converter.New(converter.Config{Address: addr, Anchor: anchor, Type: typ, MaxConversionFee: pc.MaxConversionFeePPM}, e.state, e.bank)
	if err != nil {
		return nil, err
	}
	c.SetPauses(e.cfg.PauseSet())
	c.SetMetrics(e.metrics)
	c.SetLogger(e.logger)
	c.SetClock(e.now)
	if pc.AverageRateWindow.Duration > 0 {
		c.SetAverageRateWindow(pc.AverageRateWindow.Duration)
	}
	return c, nil
}

func networkConfig(nc config.NetworkConfig) (network.Config, error) {
	addr, err := config.Address("network.address", nc.Address)
	if err != nil {
		return network.Config{}, err
	}
	ref, err := config.OptionalAddress("network.reference_asset", nc.ReferenceAsset)
	if err != nil {
		return network.Config{}, err
	}
	return network.Config{
		Address:         addr,
		ReferenceAsset:  ref,
		MaxHops:         nc.MaxHops,
		MaxAffiliateFee: nc.MaxAffiliateFeePPM,
	}, nil
}

// Config returns the configuration the engine was built from.
func (e *Engine) Config() *config.Config { return e.cfg }

// State returns the state manager.
func (e *Engine) State() *state.Manager { return e.state }

// Bank returns the asset ledger.
func (e *Engine) Bank() *bank.Ledger { return e.bank }

// Network returns the path router.
func (e *Engine) Network() *network.Network { return e.network }

// History returns the conversion history store.
func (e *Engine) History() *history.Store { return e.history }

// BalanceOf is the locked read of an account balance.
func (e *Engine) BalanceOf(asset, account common.Address) (*uint256.Int, error) {
	var out *uint256.Int
	err := e.state.View(func() error {
		var err error
		out, err = e.bank.BalanceOf(asset, account)
		return err
	})
	return out, err
}

// Approve sets the allowance spender may pull from owner.
func (e *Engine) Approve(asset, owner, spender common.Address, amount *uint256.Int) error {
	return e.state.Exclusive(func() error {
		return e.bank.Approve(asset, owner, spender, amount)
	})
}

// Close releases the history store and the state database.
func (e *Engine) Close() error {
	var errs []error
	if e.history != nil {
		errs = append(errs, e.history.Close())
	}
	if e.db != nil {
		e.db.Close()
	}
	return errors.Join(errs...)
}
