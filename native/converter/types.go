package converter

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"convertnet/native/fees"
	"convertnet/native/mathex"
)

// Type selects the pricing strategy of a converter. The numbering follows the
// converter type ids used by indexers.
type Type uint16

const (
	// TypeWeighted prices with the weighted bonding curve over N >= 2 reserves.
	TypeWeighted Type = 1
	// TypeStandard is a 50/50 constant-product pool that accrues network fees.
	TypeStandard Type = 3
	// TypeFixedRate converts between two reserves at a governance-set rate.
	TypeFixedRate Type = 4
)

// String returns the configuration name of the type.
func (t Type) String() string {
	switch t {
	case TypeWeighted:
		return "weighted"
	case TypeStandard:
		return "standard"
	case TypeFixedRate:
		return "fixed-rate"
	default:
		return fmt.Sprintf("type(%d)", uint16(t))
	}
}

// ParseType maps a configuration name to a Type.
func ParseType(s string) (Type, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "weighted", "1":
		return TypeWeighted, nil
	case "standard", "3":
		return TypeStandard, nil
	case "fixed-rate", "fixed", "4":
		return TypeFixedRate, nil
	default:
		return 0, fmt.Errorf("converter: unknown type %q", s)
	}
}

// Status is the lifecycle state of a converter.
type Status uint8

const (
	// StatusCreated converters have no reserves yet.
	StatusCreated Status = iota
	// StatusInactive converters have reserves but do not own their anchor.
	StatusInactive
	// StatusActive converters own their anchor and accept conversions.
	StatusActive
)

// String returns a human readable status.
func (s Status) String() string {
	switch s {
	case StatusCreated:
		return "created"
	case StatusInactive:
		return "inactive"
	case StatusActive:
		return "active"
	default:
		return "unknown"
	}
}

// Reserve is one asset balance held by a converter.
type Reserve struct {
	Asset   common.Address
	Weight  uint32
	Balance *uint256.Int
}

// Clone returns a deep copy of the reserve.
func (r Reserve) Clone() Reserve {
	return Reserve{Asset: r.Asset, Weight: r.Weight, Balance: mathex.Clone(r.Balance)}
}

// AverageRate is a time-decayed rate N/D with the unix second of its last
// update. A zero UpdatedAt means the rate was never recorded.
type AverageRate struct {
	N         *uint256.Int
	D         *uint256.Int
	UpdatedAt uint64
}

// Conversion is the record of one executed hop.
type Conversion struct {
	Converter common.Address
	Anchor    common.Address
	Source    common.Address
	Target    common.Address
	AmountIn  *uint256.Int
	AmountOut *uint256.Int
	Fee       *uint256.Int
	Fees      fees.Breakdown
}

// ConvertRequest describes one hop executed on behalf of the network.
type ConvertRequest struct {
	Source    common.Address
	Target    common.Address
	Amount    *uint256.Int
	MinReturn *uint256.Int
	// Trader is recorded in events only; the source amount must already be
	// held by the converter.
	Trader      common.Address
	Beneficiary common.Address
	// Affiliate receives AffiliateFeePPM of the hop fee when set.
	Affiliate       common.Address
	AffiliateFeePPM uint32
	TradeID         string
}

// AddLiquidityRequest deposits reserve assets in exchange for pool tokens.
type AddLiquidityRequest struct {
	Provider  common.Address
	Assets    []common.Address
	Amounts   []*uint256.Int
	MinReturn *uint256.Int
	// Value is the native amount attached to the call.
	Value *uint256.Int
}

// RemoveLiquidityRequest burns pool tokens for a share of every reserve.
type RemoveLiquidityRequest struct {
	Provider   common.Address
	Amount     *uint256.Int
	Assets     []common.Address
	MinReturns []*uint256.Int
}

// Info is a read-only snapshot of a converter.
type Info struct {
	Address          common.Address
	Anchor           common.Address
	Type             Type
	Status           Status
	ConversionFee    uint32
	MaxConversionFee uint32
	Reserves         []Reserve
	Supply           *uint256.Int
	RateN            *uint256.Int
	RateD            *uint256.Int
	NetworkFees      []*uint256.Int
}

// record is the persisted converter state.
type record struct {
	Status        uint8
	ConversionFee uint32
	Reserves      []Reserve
	RateN         *uint256.Int
	RateD         *uint256.Int
	Average       AverageRate
	NetworkFees   []*uint256.Int
}

func (r *record) index(asset common.Address) int {
	for i, res := range r.Reserves {
		if res.Asset == asset {
			return i
		}
	}
	return -1
}

func (r *record) totalWeight() uint32 {
	var total uint32
	for _, res := range r.Reserves {
		total += res.Weight
	}
	return total
}

func (r *record) normalize() {
	for i := range r.Reserves {
		if r.Reserves[i].Balance == nil {
			r.Reserves[i].Balance = new(uint256.Int)
		}
	}
	for len(r.NetworkFees) < len(r.Reserves) {
		r.NetworkFees = append(r.NetworkFees, new(uint256.Int))
	}
	for i := range r.NetworkFees {
		if r.NetworkFees[i] == nil {
			r.NetworkFees[i] = new(uint256.Int)
		}
	}
	if r.RateN == nil || r.RateN.IsZero() || r.RateD == nil || r.RateD.IsZero() {
		r.RateN, r.RateD = uint256.NewInt(1), uint256.NewInt(1)
	}
	if r.Average.N == nil {
		r.Average.N = new(uint256.Int)
	}
	if r.Average.D == nil {
		r.Average.D = new(uint256.Int)
	}
}
