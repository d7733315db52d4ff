// Package network routes conversions across converters. A path alternates
// assets and anchors, [asset0, anchor1, asset1, ..., anchorN, assetN], and is
// executed as one atomic operation: either every hop settles or none does.
package network

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	amerr "convertnet/core/errors"
	"convertnet/native/converter"
	"convertnet/native/fees"
	"convertnet/native/registry"
	"convertnet/observability/metrics"
)

const (
	// DefaultMaxHops bounds the number of conversions in one path.
	DefaultMaxHops = 16
	// DefaultMaxAffiliateFee is the default affiliate fee cap in ppm.
	DefaultMaxAffiliateFee uint32 = 30_000
)

var (
	errNilState    = errors.New("network: state not configured")
	errNilBank     = errors.New("network: bank not configured")
	errNilRegistry = errors.New("network: registry not configured")

	settingsKey = []byte("network/settings")
)

type engineState interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
	Exclusive(fn func() error) error
	View(fn func() error) error
}

// Bank is the subset of the asset ledger the network moves trader funds with.
type Bank interface {
	Transfer(asset, from, to common.Address, amount *uint256.Int) error
	TransferFrom(asset, spender, owner, to common.Address, amount *uint256.Int) error
}

// Registry is the converter registry the network resolves and searches.
type Registry interface {
	Register(entry registry.Entry) error
	Entry(anchor common.Address) (*registry.Entry, error)
	IsAnchor(addr common.Address) (bool, error)
	Anchors() ([]common.Address, error)
	AnchorsFor(asset common.Address) ([]common.Address, error)
}

// Config fixes the network account and its limits.
type Config struct {
	// Address is the account the network pulls trader funds as.
	Address common.Address
	// ReferenceAsset is the asset affiliate fees are paid in. When unset no
	// conversion pays an affiliate share.
	ReferenceAsset  common.Address
	MaxHops         int
	MaxAffiliateFee uint32
}

// Network executes conversion paths.
type Network struct {
	address         common.Address
	reference       common.Address
	maxHops         int
	maxAffiliateFee uint32

	state    engineState
	bank     Bank
	registry Registry

	mu    sync.RWMutex
	pools map[common.Address]*converter.Converter

	metrics    *metrics.AMMMetrics
	logger     *slog.Logger
	tracer     trace.Tracer
	now        func() time.Time
	newTradeID func() string
}

// New constructs a network with no converters attached.
func New(cfg Config, state engineState, ledger Bank, reg Registry) (*Network, error) {
	if state == nil {
		return nil, errNilState
	}
	if ledger == nil {
		return nil, errNilBank
	}
	if reg == nil {
		return nil, errNilRegistry
	}
	if cfg.Address == (common.Address{}) {
		return nil, fmt.Errorf("network: address required")
	}
	if cfg.MaxHops <= 0 {
		cfg.MaxHops = DefaultMaxHops
	}
	if cfg.MaxAffiliateFee == 0 {
		cfg.MaxAffiliateFee = DefaultMaxAffiliateFee
	}
	if cfg.MaxAffiliateFee > fees.PPMResolution {
		return nil, fmt.Errorf("network: max affiliate fee %d: %w", cfg.MaxAffiliateFee, amerr.ErrInvalidAffiliateFee)
	}
	return &Network{
		address:         cfg.Address,
		reference:       cfg.ReferenceAsset,
		maxHops:         cfg.MaxHops,
		maxAffiliateFee: cfg.MaxAffiliateFee,
		state:           state,
		bank:            ledger,
		registry:        reg,
		pools:           make(map[common.Address]*converter.Converter),
		logger:          slog.Default(),
		tracer:          otel.Tracer("convertnet/network"),
		now:             time.Now,
		newTradeID:      uuid.NewString,
	}, nil
}

// SetMetrics wires the metrics sink.
func (n *Network) SetMetrics(m *metrics.AMMMetrics) {
	if n == nil {
		return
	}
	n.metrics = m
}

// SetLogger overrides the default logger.
func (n *Network) SetLogger(logger *slog.Logger) {
	if n == nil || logger == nil {
		return
	}
	n.logger = logger
}

// SetClock overrides the time source used for latency measurements.
func (n *Network) SetClock(now func() time.Time) {
	if n == nil || now == nil {
		return
	}
	n.now = now
}

// Address returns the network account.
func (n *Network) Address() common.Address { return n.address }

// ReferenceAsset returns the asset affiliate fees are restricted to.
func (n *Network) ReferenceAsset() common.Address { return n.reference }

// MaxHops returns the longest path, in conversions, the network accepts.
func (n *Network) MaxHops() int { return n.maxHops }

// MaxAffiliateFee returns the affiliate fee cap in ppm.
func (n *Network) MaxAffiliateFee() uint32 { return n.maxAffiliateFee }

// Register attaches c to the network and records it in the registry. A
// converter already present in the registry under the same address is
// reattached.
func (n *Network) Register(c *converter.Converter) error {
	info, err := c.Info()
	if err != nil {
		return err
	}
	entry := registry.Entry{Anchor: info.Anchor, Converter: info.Address, ConverterType: uint16(info.Type)}
	for _, r := range info.Reserves {
		entry.Reserves = append(entry.Reserves, r.Asset)
	}
	err = n.state.Exclusive(func() error {
		err := n.registry.Register(entry)
		if !errors.Is(err, registry.ErrAlreadyRegistered) {
			return err
		}
		existing, lookupErr := n.registry.Entry(entry.Anchor)
		if lookupErr != nil {
			return lookupErr
		}
		if existing.Converter != entry.Converter {
			return err
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("network: register %s: %w", info.Anchor.Hex(), err)
	}
	n.mu.Lock()
	n.pools[info.Anchor] = c
	n.mu.Unlock()
	c.SetNetworkSettings(n)
	n.logger.Info("converter registered",
		slog.String("anchor", info.Anchor.Hex()),
		slog.String("converter", info.Address.Hex()),
		slog.String("type", info.Type.String()),
		slog.Int("reserves", len(entry.Reserves)))
	return nil
}

// Converter returns the converter owning anchor.
func (n *Network) Converter(anchor common.Address) (*converter.Converter, error) {
	n.mu.RLock()
	c, ok := n.pools[anchor]
	n.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("network: %s: %w", anchor.Hex(), amerr.ErrUnknownAnchor)
	}
	return c, nil
}

// Converters returns the attached converters in registration order.
func (n *Network) Converters() ([]*converter.Converter, error) {
	var anchors []common.Address
	err := n.state.View(func() error {
		var err error
		anchors, err = n.registry.Anchors()
		return err
	})
	if err != nil {
		return nil, err
	}
	out := make([]*converter.Converter, 0, len(anchors))
	for _, anchor := range anchors {
		if c, err := n.Converter(anchor); err == nil {
			out = append(out, c)
		}
	}
	return out, nil
}

// NetworkSettings returns the stored network fee settings. Converters call it
// with the state lock held.
func (n *Network) NetworkSettings() fees.NetworkSettings {
	var settings fees.NetworkSettings
	if _, err := n.state.KVGet(settingsKey, &settings); err != nil {
		n.logger.Error("network settings unreadable", slog.Any("error", err))
		return fees.NetworkSettings{}
	}
	return settings
}

// CurrentNetworkSettings is the locked read of the network fee settings.
func (n *Network) CurrentNetworkSettings() (fees.NetworkSettings, error) {
	var settings fees.NetworkSettings
	err := n.state.View(func() error {
		_, err := n.state.KVGet(settingsKey, &settings)
		return err
	})
	return settings, err
}

// SetNetworkSettings validates and stores the network fee settings.
func (n *Network) SetNetworkSettings(settings fees.NetworkSettings) error {
	if err := settings.Validate(); err != nil {
		return err
	}
	return n.state.Exclusive(func() error {
		return n.state.KVPut(settingsKey, settings)
	})
}
