// Package bank keeps fungible asset balances, allowances and supplies in
// engine state. It stands in for the asset-transfer interface the conversion
// engine consumes and models both strictly-compliant and non-compliant
// assets.
package bank

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	amerr "convertnet/core/errors"
	nativecommon "convertnet/native/common"
)

const moduleName = "bank"

// Kind selects how an asset reports failed transfers.
type Kind uint8

const (
	// KindStandard assets fail loudly with ErrInsufficientFunds.
	KindStandard Kind = iota + 1
	// KindNonStandard assets silently skip transfers that cannot be honoured;
	// callers must compare balances to find out.
	KindNonStandard
	// KindNative is the chain's native unit.
	KindNative
)

// String returns the configuration name of the kind.
func (k Kind) String() string {
	switch k {
	case KindStandard:
		return "standard"
	case KindNonStandard:
		return "non-standard"
	case KindNative:
		return "native"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// ParseKind maps a configuration name to a Kind.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "standard":
		return KindStandard, nil
	case "non-standard", "nonstandard":
		return KindNonStandard, nil
	case "native":
		return KindNative, nil
	default:
		return 0, fmt.Errorf("bank: unknown asset kind %q", s)
	}
}

// NativeAsset is the address the engine uses for the native unit.
var NativeAsset = common.HexToAddress("0xEeeeeEeeeEeEeeEeEeEeeEEEeeeeEeeeeeeeEEeE")

var (
	// ErrUnknownAsset is returned for assets that were never registered.
	ErrUnknownAsset = errors.New("bank: unknown asset")
	// ErrAssetExists is returned when registering an address twice.
	ErrAssetExists = errors.New("bank: asset already registered")
	errNilState    = errors.New("bank: state not configured")
)

// Asset describes a registered fungible asset.
type Asset struct {
	Address  common.Address
	Kind     Kind
	Owner    common.Address
	Symbol   string
	Decimals uint8
	Supply   *uint256.Int
}

type ledgerState interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
	KVAppend(key []byte, value []byte) error
	KVGetList(key []byte, out interface{}) error
}

// Ledger implements transfers, allowances and owner-controlled supply.
type Ledger struct {
	state  ledgerState
	pauses nativecommon.PauseView
	logger *slog.Logger
}

// NewLedger constructs a ledger persisting into state.
func NewLedger(state ledgerState) *Ledger {
	return &Ledger{state: state, logger: slog.Default()}
}

// SetPauses wires the module pause switch.
func (l *Ledger) SetPauses(p nativecommon.PauseView) {
	if l == nil {
		return
	}
	l.pauses = p
}

// SetLogger overrides the default logger.
func (l *Ledger) SetLogger(logger *slog.Logger) {
	if l == nil || logger == nil {
		return
	}
	l.logger = logger
}

var (
	assetListKey    = []byte("bank/assets")
	assetPrefix     = []byte("bank/asset/")
	balancePrefix   = []byte("bank/balance/")
	allowancePrefix = []byte("bank/allowance/")
)

func assetKey(asset common.Address) []byte {
	return append(append([]byte{}, assetPrefix...), asset.Bytes()...)
}

func balanceKey(asset, account common.Address) []byte {
	key := append(append([]byte{}, balancePrefix...), asset.Bytes()...)
	return append(key, account.Bytes()...)
}

func allowanceKey(asset, owner, spender common.Address) []byte {
	key := append(append([]byte{}, allowancePrefix...), asset.Bytes()...)
	key = append(key, owner.Bytes()...)
	return append(key, spender.Bytes()...)
}

// Register records a new asset with zero supply.
func (l *Ledger) Register(asset Asset) error {
	if l == nil || l.state == nil {
		return errNilState
	}
	if asset.Address == (common.Address{}) {
		return fmt.Errorf("bank: asset address required")
	}
	if asset.Kind == 0 {
		asset.Kind = KindStandard
	}
	if asset.Address == NativeAsset {
		asset.Kind = KindNative
	} else if asset.Kind == KindNative {
		return fmt.Errorf("bank: native kind is reserved for %s", NativeAsset.Hex())
	}
	ok, err := l.state.KVGet(assetKey(asset.Address), nil)
	if err != nil {
		return err
	}
	if ok {
		return fmt.Errorf("%w: %s", ErrAssetExists, asset.Address.Hex())
	}
	asset.Supply = new(uint256.Int)
	if err := l.putAsset(&asset); err != nil {
		return err
	}
	return l.state.KVAppend(assetListKey, asset.Address.Bytes())
}

// Asset returns the metadata of a registered asset.
func (l *Ledger) Asset(addr common.Address) (*Asset, error) {
	if l == nil || l.state == nil {
		return nil, errNilState
	}
	asset := new(Asset)
	ok, err := l.state.KVGet(assetKey(addr), asset)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAsset, addr.Hex())
	}
	if asset.Supply == nil {
		asset.Supply = new(uint256.Int)
	}
	return asset, nil
}

// Assets lists registered asset addresses in registration order.
func (l *Ledger) Assets() ([]common.Address, error) {
	if l == nil || l.state == nil {
		return nil, errNilState
	}
	var raw [][]byte
	if err := l.state.KVGetList(assetListKey, &raw); err != nil {
		return nil, err
	}
	out := make([]common.Address, len(raw))
	for i, b := range raw {
		out[i] = common.BytesToAddress(b)
	}
	return out, nil
}

func (l *Ledger) putAsset(asset *Asset) error {
	return l.state.KVPut(assetKey(asset.Address), asset)
}

// BalanceOf returns the balance of account in asset.
func (l *Ledger) BalanceOf(asset, account common.Address) (*uint256.Int, error) {
	if _, err := l.Asset(asset); err != nil {
		return nil, err
	}
	return l.balance(asset, account)
}

func (l *Ledger) balance(asset, account common.Address) (*uint256.Int, error) {
	out := new(uint256.Int)
	if _, err := l.state.KVGet(balanceKey(asset, account), out); err != nil {
		return nil, err
	}
	return out, nil
}

func (l *Ledger) setBalance(asset, account common.Address, amount *uint256.Int) error {
	return l.state.KVPut(balanceKey(asset, account), amount)
}

// TotalSupply returns the outstanding supply of asset.
func (l *Ledger) TotalSupply(asset common.Address) (*uint256.Int, error) {
	meta, err := l.Asset(asset)
	if err != nil {
		return nil, err
	}
	return meta.Supply, nil
}

// Owner returns the account allowed to mint and burn asset.
func (l *Ledger) Owner(asset common.Address) (common.Address, error) {
	meta, err := l.Asset(asset)
	if err != nil {
		return common.Address{}, err
	}
	return meta.Owner, nil
}

// Transfer moves amount of asset from one account to another. Non-standard
// assets report an unfunded transfer as success without moving anything.
func (l *Ledger) Transfer(asset, from, to common.Address, amount *uint256.Int) error {
	if err := nativecommon.Guard(l.pauses, moduleName); err != nil {
		return err
	}
	meta, err := l.Asset(asset)
	if err != nil {
		return err
	}
	return l.move(meta, from, to, amount)
}

// TransferFrom moves amount from owner to recipient on behalf of spender,
// consuming spender's allowance.
func (l *Ledger) TransferFrom(asset, spender, owner, to common.Address, amount *uint256.Int) error {
	if err := nativecommon.Guard(l.pauses, moduleName); err != nil {
		return err
	}
	meta, err := l.Asset(asset)
	if err != nil {
		return err
	}
	allowance, err := l.Allowance(asset, owner, spender)
	if err != nil {
		return err
	}
	if allowance.Lt(amount) {
		return l.fail(meta, "allowance", owner, amount)
	}
	balance, err := l.balance(asset, owner)
	if err != nil {
		return err
	}
	if balance.Lt(amount) {
		return l.fail(meta, "balance", owner, amount)
	}
	if err := l.state.KVPut(allowanceKey(asset, owner, spender), new(uint256.Int).Sub(allowance, amount)); err != nil {
		return err
	}
	return l.move(meta, owner, to, amount)
}

func (l *Ledger) move(meta *Asset, from, to common.Address, amount *uint256.Int) error {
	if amount == nil || amount.IsZero() || from == to {
		return nil
	}
	fromBalance, err := l.balance(meta.Address, from)
	if err != nil {
		return err
	}
	if fromBalance.Lt(amount) {
		return l.fail(meta, "balance", from, amount)
	}
	toBalance, err := l.balance(meta.Address, to)
	if err != nil {
		return err
	}
	credited, overflow := new(uint256.Int).AddOverflow(toBalance, amount)
	if overflow {
		return amerr.ErrOverflow
	}
	if err := l.setBalance(meta.Address, from, new(uint256.Int).Sub(fromBalance, amount)); err != nil {
		return err
	}
	return l.setBalance(meta.Address, to, credited)
}

func (l *Ledger) fail(meta *Asset, what string, account common.Address, amount *uint256.Int) error {
	if meta.Kind == KindNonStandard {
		l.logger.Debug("bank: non-standard transfer skipped",
			slog.String("asset", meta.Address.Hex()),
			slog.String("account", account.Hex()),
			slog.String("shortfall", what),
			slog.String("amount", amount.Dec()))
		return nil
	}
	return fmt.Errorf("bank: %s %s of %s: %w", meta.Symbol, what, account.Hex(), amerr.ErrInsufficientFunds)
}

// Approve sets spender's allowance over owner's asset balance.
func (l *Ledger) Approve(asset, owner, spender common.Address, amount *uint256.Int) error {
	if _, err := l.Asset(asset); err != nil {
		return err
	}
	if amount == nil {
		amount = new(uint256.Int)
	}
	return l.state.KVPut(allowanceKey(asset, owner, spender), amount)
}

// Allowance returns what spender may still pull from owner.
func (l *Ledger) Allowance(asset, owner, spender common.Address) (*uint256.Int, error) {
	if l == nil || l.state == nil {
		return nil, errNilState
	}
	out := new(uint256.Int)
	if _, err := l.state.KVGet(allowanceKey(asset, owner, spender), out); err != nil {
		return nil, err
	}
	return out, nil
}

// Mint creates amount of asset for to. Only the asset owner may mint.
func (l *Ledger) Mint(asset, caller, to common.Address, amount *uint256.Int) error {
	meta, err := l.Asset(asset)
	if err != nil {
		return err
	}
	if caller != meta.Owner {
		return fmt.Errorf("bank: mint %s by %s: %w", meta.Symbol, caller.Hex(), amerr.ErrAccessDenied)
	}
	supply, overflow := new(uint256.Int).AddOverflow(meta.Supply, amount)
	if overflow {
		return amerr.ErrOverflow
	}
	balance, err := l.balance(asset, to)
	if err != nil {
		return err
	}
	meta.Supply = supply
	if err := l.putAsset(meta); err != nil {
		return err
	}
	return l.setBalance(asset, to, new(uint256.Int).Add(balance, amount))
}

// Burn destroys amount of asset held by from. Only the asset owner may burn.
func (l *Ledger) Burn(asset, caller, from common.Address, amount *uint256.Int) error {
	meta, err := l.Asset(asset)
	if err != nil {
		return err
	}
	if caller != meta.Owner {
		return fmt.Errorf("bank: burn %s by %s: %w", meta.Symbol, caller.Hex(), amerr.ErrAccessDenied)
	}
	balance, err := l.balance(asset, from)
	if err != nil {
		return err
	}
	if balance.Lt(amount) {
		return fmt.Errorf("bank: burn %s from %s: %w", meta.Symbol, from.Hex(), amerr.ErrInsufficientFunds)
	}
	meta.Supply = new(uint256.Int).Sub(meta.Supply, amount)
	if err := l.putAsset(meta); err != nil {
		return err
	}
	return l.setBalance(asset, from, new(uint256.Int).Sub(balance, amount))
}

// TransferOwnership hands mint and burn rights to newOwner.
func (l *Ledger) TransferOwnership(asset, caller, newOwner common.Address) error {
	meta, err := l.Asset(asset)
	if err != nil {
		return err
	}
	if caller != meta.Owner {
		return fmt.Errorf("bank: transfer ownership of %s by %s: %w", meta.Symbol, caller.Hex(), amerr.ErrAccessDenied)
	}
	meta.Owner = newOwner
	return l.putAsset(meta)
}
