package fees

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	amerr "convertnet/core/errors"
	"convertnet/native/mathex"
)

// PPMResolution is the denominator of every fee expressed in parts per million.
const PPMResolution uint32 = 1_000_000

var ppm = uint256.NewInt(uint64(PPMResolution))

// ApplyResult is the outcome of charging a conversion fee on a gross amount.
type ApplyResult struct {
	Gross *uint256.Int
	Fee   *uint256.Int
	Net   *uint256.Int
}

// Apply charges feePPM on gross. The fee rounds up so the pool never
// undercharges, and Fee + Net always equals Gross.
func Apply(gross *uint256.Int, feePPM uint32) (ApplyResult, error) {
	if feePPM > PPMResolution {
		return ApplyResult{}, amerr.ErrInvalidConversionFee
	}
	result := ApplyResult{Gross: mathex.Clone(gross), Fee: mathex.Zero(), Net: mathex.Clone(gross)}
	if gross == nil || gross.IsZero() || feePPM == 0 {
		return result, nil
	}
	fee, err := mathex.MulDivCeil(gross, uint256.NewInt(uint64(feePPM)), ppm)
	if err != nil {
		return ApplyResult{}, err
	}
	result.Fee = fee
	result.Net = new(uint256.Int).Sub(gross, fee)
	return result, nil
}

// GrossFor returns the smallest gross amount whose net, after feePPM, is at
// least net. It is the inverse used by reverse quotes.
func GrossFor(net *uint256.Int, feePPM uint32) (*uint256.Int, error) {
	if feePPM >= PPMResolution {
		return nil, amerr.ErrInvalidConversionFee
	}
	if feePPM == 0 || net.IsZero() {
		return mathex.Clone(net), nil
	}
	return mathex.MulDivCeil(net, ppm, uint256.NewInt(uint64(PPMResolution-feePPM)))
}

// Breakdown is the distribution of one conversion fee. The three parts always
// add up to the fee they were split from.
type Breakdown struct {
	Pool      *uint256.Int
	Network   *uint256.Int
	Affiliate *uint256.Int
}

// Total returns Pool + Network + Affiliate.
func (b Breakdown) Total() *uint256.Int {
	total := new(uint256.Int).Add(mathex.Clone(b.Pool), mathex.Clone(b.Network))
	return total.Add(total, mathex.Clone(b.Affiliate))
}

// Clone returns a deep copy of the breakdown.
func (b Breakdown) Clone() Breakdown {
	return Breakdown{Pool: mathex.Clone(b.Pool), Network: mathex.Clone(b.Network), Affiliate: mathex.Clone(b.Affiliate)}
}

// Split distributes fee between the pool, the network fee wallet and an
// affiliate. The affiliate carve-out is fee*affiliatePPM/1e6; the network share
// is computed on half of the fee, floor(fee/2)*networkPPM/(1e6+networkPPM),
// and can never eat into the affiliate's part. Whatever remains stays in the
// pool.
func Split(fee *uint256.Int, networkPPM, affiliatePPM uint32) (Breakdown, error) {
	if networkPPM > PPMResolution {
		return Breakdown{}, amerr.ErrInvalidNetworkFee
	}
	if affiliatePPM > PPMResolution {
		return Breakdown{}, amerr.ErrInvalidAffiliateFee
	}
	out := Breakdown{Pool: mathex.Clone(fee), Network: mathex.Zero(), Affiliate: mathex.Zero()}
	if fee == nil || fee.IsZero() {
		return out, nil
	}
	if affiliatePPM > 0 {
		affiliate, err := mathex.MulDivFloor(fee, uint256.NewInt(uint64(affiliatePPM)), ppm)
		if err != nil {
			return Breakdown{}, err
		}
		out.Affiliate = affiliate
	}
	if networkPPM > 0 {
		network, err := NetworkShare(fee, networkPPM)
		if err != nil {
			return Breakdown{}, err
		}
		if room := new(uint256.Int).Sub(fee, out.Affiliate); network.Gt(room) {
			network = room
		}
		out.Network = network
	}
	out.Pool = new(uint256.Int).Sub(fee, out.Network)
	out.Pool.Sub(out.Pool, out.Affiliate)
	return out, nil
}

// NetworkShare returns floor(fee/2) * networkPPM / (1e6 + networkPPM).
func NetworkShare(fee *uint256.Int, networkPPM uint32) (*uint256.Int, error) {
	if networkPPM > PPMResolution {
		return nil, amerr.ErrInvalidNetworkFee
	}
	half := new(uint256.Int).Rsh(fee, 1)
	return mathex.MulDivFloor(half, uint256.NewInt(uint64(networkPPM)), uint256.NewInt(uint64(PPMResolution)+uint64(networkPPM)))
}

// NetworkSettings is the governance-controlled network fee configuration.
type NetworkSettings struct {
	FeeWallet     common.Address `toml:"fee_wallet" yaml:"fee_wallet" json:"feeWallet"`
	NetworkFeePPM uint32         `toml:"network_fee_ppm" yaml:"network_fee_ppm" json:"networkFeePpm"`
}

// Validate checks the fee bound and that a wallet is configured whenever a
// network fee is charged.
func (s NetworkSettings) Validate() error {
	if s.NetworkFeePPM > PPMResolution {
		return fmt.Errorf("fees: network fee %d ppm: %w", s.NetworkFeePPM, amerr.ErrInvalidNetworkFee)
	}
	if s.NetworkFeePPM > 0 && s.FeeWallet == (common.Address{}) {
		return fmt.Errorf("fees: network fee wallet required: %w", amerr.ErrInvalidNetworkFee)
	}
	return nil
}

// Enabled reports whether conversions accrue a network share.
func (s NetworkSettings) Enabled() bool {
	return s.NetworkFeePPM > 0 && s.FeeWallet != (common.Address{})
}
