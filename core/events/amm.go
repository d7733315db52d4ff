package events

import (
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"convertnet/core/types"
)

const (
	// TypeConversion is emitted for every executed hop.
	TypeConversion = "amm.conversion"
	// TypeLiquidityAdded is emitted once per reserve when liquidity is deposited.
	TypeLiquidityAdded = "amm.liquidity_added"
	// TypeLiquidityRemoved is emitted once per reserve when liquidity is withdrawn.
	TypeLiquidityRemoved = "amm.liquidity_removed"
	// TypeConversionFeeUpdate records a change of a pool's conversion fee.
	TypeConversionFeeUpdate = "amm.conversion_fee_update"
	// TypeTokenRateUpdate publishes the spot rate between two pool tokens.
	TypeTokenRateUpdate = "amm.token_rate_update"
	// TypeActivation marks a converter becoming active or inactive.
	TypeActivation = "amm.activation"
	// TypeNetworkFeesProcessed records accrued network fees paid to the fee wallet.
	TypeNetworkFeesProcessed = "amm.network_fees_processed"
)

func amount(v *uint256.Int) string {
	if v == nil {
		return "0"
	}
	return v.Dec()
}

func address(a common.Address) string {
	if a == (common.Address{}) {
		return ""
	}
	return a.Hex()
}

// Conversion records one hop executed by a converter.
type Conversion struct {
	TradeID      string
	Converter    common.Address
	Source       common.Address
	Target       common.Address
	Trader       common.Address
	AmountIn     *uint256.Int
	AmountOut    *uint256.Int
	Fee          *uint256.Int
	NetworkFee   *uint256.Int
	AffiliateFee *uint256.Int
}

// EventType satisfies the events.Event interface.
func (Conversion) EventType() string { return TypeConversion }

// Event converts the structured payload into a broadcastable event.
func (e Conversion) Event() *types.Event {
	attrs := map[string]string{
		"converter": address(e.Converter),
		"source":    address(e.Source),
		"target":    address(e.Target),
		"trader":    address(e.Trader),
		"amountIn":  amount(e.AmountIn),
		"amountOut": amount(e.AmountOut),
		"fee":       amount(e.Fee),
	}
	if id := strings.TrimSpace(e.TradeID); id != "" {
		attrs["tradeId"] = id
	}
	if e.NetworkFee != nil && !e.NetworkFee.IsZero() {
		attrs["networkFee"] = e.NetworkFee.Dec()
	}
	if e.AffiliateFee != nil && !e.AffiliateFee.IsZero() {
		attrs["affiliateFee"] = e.AffiliateFee.Dec()
	}
	return &types.Event{Type: TypeConversion, Attributes: attrs}
}

// LiquidityChange describes the effect of a deposit or withdrawal on one reserve.
type LiquidityChange struct {
	Converter  common.Address
	Provider   common.Address
	Asset      common.Address
	Amount     *uint256.Int
	NewBalance *uint256.Int
	NewSupply  *uint256.Int
}

func (c LiquidityChange) attributes() map[string]string {
	return map[string]string{
		"converter":  address(c.Converter),
		"provider":   address(c.Provider),
		"asset":      address(c.Asset),
		"amount":     amount(c.Amount),
		"newBalance": amount(c.NewBalance),
		"newSupply":  amount(c.NewSupply),
	}
}

// LiquidityAdded is emitted per reserve on a deposit.
type LiquidityAdded struct{ LiquidityChange }

// EventType satisfies the events.Event interface.
func (LiquidityAdded) EventType() string { return TypeLiquidityAdded }

// Event converts the structured payload into a broadcastable event.
func (e LiquidityAdded) Event() *types.Event {
	return &types.Event{Type: TypeLiquidityAdded, Attributes: e.attributes()}
}

// LiquidityRemoved is emitted per reserve on a withdrawal.
type LiquidityRemoved struct{ LiquidityChange }

// EventType satisfies the events.Event interface.
func (LiquidityRemoved) EventType() string { return TypeLiquidityRemoved }

// Event converts the structured payload into a broadcastable event.
func (e LiquidityRemoved) Event() *types.Event {
	return &types.Event{Type: TypeLiquidityRemoved, Attributes: e.attributes()}
}

// ConversionFeeUpdate records a fee change in parts per million.
type ConversionFeeUpdate struct {
	Converter common.Address
	Previous  uint32
	Current   uint32
}

// EventType satisfies the events.Event interface.
func (ConversionFeeUpdate) EventType() string { return TypeConversionFeeUpdate }

// Event converts the structured payload into a broadcastable event.
func (e ConversionFeeUpdate) Event() *types.Event {
	return &types.Event{
		Type: TypeConversionFeeUpdate,
		Attributes: map[string]string{
			"converter": address(e.Converter),
			"previous":  strconv.FormatUint(uint64(e.Previous), 10),
			"current":   strconv.FormatUint(uint64(e.Current), 10),
		},
	}
}

// TokenRateUpdate publishes Token2 per Token1 as RateN/RateD.
type TokenRateUpdate struct {
	Converter common.Address
	Token1    common.Address
	Token2    common.Address
	RateN     *uint256.Int
	RateD     *uint256.Int
}

// EventType satisfies the events.Event interface.
func (TokenRateUpdate) EventType() string { return TypeTokenRateUpdate }

// Event converts the structured payload into a broadcastable event.
func (e TokenRateUpdate) Event() *types.Event {
	return &types.Event{
		Type: TypeTokenRateUpdate,
		Attributes: map[string]string{
			"converter": address(e.Converter),
			"token1":    address(e.Token1),
			"token2":    address(e.Token2),
			"rateN":     amount(e.RateN),
			"rateD":     amount(e.RateD),
		},
	}
}

// Activation marks the converter's anchor ownership state.
type Activation struct {
	Converter     common.Address
	ConverterType uint16
	Anchor        common.Address
	Activated     bool
}

// EventType satisfies the events.Event interface.
func (Activation) EventType() string { return TypeActivation }

// Event converts the structured payload into a broadcastable event.
func (e Activation) Event() *types.Event {
	return &types.Event{
		Type: TypeActivation,
		Attributes: map[string]string{
			"converter":     address(e.Converter),
			"converterType": strconv.FormatUint(uint64(e.ConverterType), 10),
			"anchor":        address(e.Anchor),
			"activated":     strconv.FormatBool(e.Activated),
		},
	}
}

// NetworkFeesProcessed records the accrued network fees paid to Wallet.
type NetworkFeesProcessed struct {
	Converter common.Address
	Wallet    common.Address
	Assets    []common.Address
	Amounts   []*uint256.Int
}

// EventType satisfies the events.Event interface.
func (NetworkFeesProcessed) EventType() string { return TypeNetworkFeesProcessed }

// Event converts the structured payload into a broadcastable event.
func (e NetworkFeesProcessed) Event() *types.Event {
	attrs := map[string]string{
		"converter": address(e.Converter),
		"wallet":    address(e.Wallet),
	}
	for i, asset := range e.Assets {
		if i < len(e.Amounts) {
			attrs["amount:"+asset.Hex()] = amount(e.Amounts[i])
		}
	}
	return &types.Event{Type: TypeNetworkFeesProcessed, Attributes: attrs}
}
