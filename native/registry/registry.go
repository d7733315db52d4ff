// Package registry records which converters exist, the anchor each one owns
// and the reserve assets it connects. The path finder walks this graph.
package registry

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

var (
	// ErrAlreadyRegistered is returned when an anchor is registered twice.
	ErrAlreadyRegistered = errors.New("registry: anchor already registered")
	// ErrNotRegistered is returned for unknown anchors.
	ErrNotRegistered = errors.New("registry: anchor not registered")
	errNilState      = errors.New("registry: state not configured")
)

// Entry is the persisted description of one converter.
type Entry struct {
	Anchor        common.Address
	Converter     common.Address
	ConverterType uint16
	Reserves      []common.Address
}

type registryState interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
	KVAppend(key []byte, value []byte) error
	KVGetList(key []byte, out interface{}) error
}

// Registry stores converter entries in engine state.
type Registry struct {
	state registryState
}

// New constructs a registry persisting into state.
func New(state registryState) *Registry {
	return &Registry{state: state}
}

var (
	anchorListKey = []byte("registry/anchors")
	entryPrefix   = []byte("registry/entry/")
	reservePrefix = []byte("registry/reserve/")
)

func entryKey(anchor common.Address) []byte {
	return append(append([]byte{}, entryPrefix...), anchor.Bytes()...)
}

func reserveKey(asset common.Address) []byte {
	return append(append([]byte{}, reservePrefix...), asset.Bytes()...)
}

// Register adds a converter entry and indexes it under each reserve asset.
func (r *Registry) Register(entry Entry) error {
	if r == nil || r.state == nil {
		return errNilState
	}
	if entry.Anchor == (common.Address{}) {
		return fmt.Errorf("registry: anchor address required")
	}
	if len(entry.Reserves) < 2 {
		return fmt.Errorf("registry: converter %s needs at least two reserves", entry.Anchor.Hex())
	}
	ok, err := r.state.KVGet(entryKey(entry.Anchor), nil)
	if err != nil {
		return err
	}
	if ok {
		return fmt.Errorf("%w: %s", ErrAlreadyRegistered, entry.Anchor.Hex())
	}
	if err := r.state.KVPut(entryKey(entry.Anchor), entry); err != nil {
		return err
	}
	if err := r.state.KVAppend(anchorListKey, entry.Anchor.Bytes()); err != nil {
		return err
	}
	for _, asset := range entry.Reserves {
		if err := r.state.KVAppend(reserveKey(asset), entry.Anchor.Bytes()); err != nil {
			return err
		}
	}
	return nil
}

// Entry returns the registration of anchor.
func (r *Registry) Entry(anchor common.Address) (*Entry, error) {
	if r == nil || r.state == nil {
		return nil, errNilState
	}
	entry := new(Entry)
	ok, err := r.state.KVGet(entryKey(anchor), entry)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotRegistered, anchor.Hex())
	}
	return entry, nil
}

// IsAnchor reports whether addr is a registered anchor.
func (r *Registry) IsAnchor(addr common.Address) (bool, error) {
	if r == nil || r.state == nil {
		return false, errNilState
	}
	return r.state.KVGet(entryKey(addr), nil)
}

// Anchors lists every registered anchor in registration order.
func (r *Registry) Anchors() ([]common.Address, error) {
	return r.list(anchorListKey)
}

// AnchorsFor lists the anchors whose converters hold asset as a reserve, in
// registration order.
func (r *Registry) AnchorsFor(asset common.Address) ([]common.Address, error) {
	return r.list(reserveKey(asset))
}

func (r *Registry) list(key []byte) ([]common.Address, error) {
	if r == nil || r.state == nil {
		return nil, errNilState
	}
	var raw [][]byte
	if err := r.state.KVGetList(key, &raw); err != nil {
		return nil, err
	}
	out := make([]common.Address, len(raw))
	for i, b := range raw {
		out[i] = common.BytesToAddress(b)
	}
	return out, nil
}
