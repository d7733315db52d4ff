package fees

import (
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	amerr "convertnet/core/errors"
)

func TestApplyRoundsFeeUp(t *testing.T) {
	result, err := Apply(uint256.NewInt(1001), 1000)
	require.NoError(t, err)
	// 1001 * 0.1% = 1.001 -> 2
	require.Equal(t, uint64(2), result.Fee.Uint64())
	require.Equal(t, uint64(999), result.Net.Uint64())
	require.Equal(t, uint64(1001), new(uint256.Int).Add(result.Fee, result.Net).Uint64())

	result, err = Apply(uint256.NewInt(1000), 1000)
	require.NoError(t, err)
	require.Equal(t, uint64(1), result.Fee.Uint64())

	result, err = Apply(uint256.NewInt(0), 1000)
	require.NoError(t, err)
	require.True(t, result.Fee.IsZero())
	require.True(t, result.Net.IsZero())

	_, err = Apply(uint256.NewInt(5), PPMResolution+1)
	require.ErrorIs(t, err, amerr.ErrInvalidConversionFee)
}

func TestGrossForInvertsApply(t *testing.T) {
	for _, feePPM := range []uint32{0, 1, 1000, 3000, 250_000} {
		for _, net := range []uint64{1, 7, 999, 123_456} {
			gross, err := GrossFor(uint256.NewInt(net), feePPM)
			if err != nil {
				t.Fatalf("gross for %d at %d: %v", net, feePPM, err)
			}
			result, err := Apply(gross, feePPM)
			if err != nil {
				t.Fatalf("apply: %v", err)
			}
			if result.Net.Uint64() < net {
				t.Fatalf("fee %d: gross %d nets %d, wanted at least %d", feePPM, gross.Uint64(), result.Net.Uint64(), net)
			}
		}
	}
}

func TestSplitSumsToFee(t *testing.T) {
	for _, fee := range []uint64{0, 1, 2, 3, 999, 1_000_000, 123_456_789} {
		for _, network := range []uint32{0, 1, 200_000, PPMResolution} {
			for _, affiliate := range []uint32{0, 10_000, 500_000, PPMResolution} {
				b, err := Split(uint256.NewInt(fee), network, affiliate)
				if err != nil {
					t.Fatalf("split: %v", err)
				}
				if got := b.Total().Uint64(); got != fee {
					t.Fatalf("split(%d, %d, %d) sums to %d", fee, network, affiliate, got)
				}
			}
		}
	}
}

func TestSplitShares(t *testing.T) {
	b, err := Split(uint256.NewInt(1000), 200_000, 100_000)
	require.NoError(t, err)
	require.Equal(t, uint64(100), b.Affiliate.Uint64())
	// floor(1000/2) * 200000 / 1200000
	require.Equal(t, uint64(83), b.Network.Uint64())
	require.Equal(t, uint64(817), b.Pool.Uint64())

	_, err = Split(uint256.NewInt(1), PPMResolution+1, 0)
	require.ErrorIs(t, err, amerr.ErrInvalidNetworkFee)
	_, err = Split(uint256.NewInt(1), 0, PPMResolution+1)
	require.ErrorIs(t, err, amerr.ErrInvalidAffiliateFee)
}

func TestNetworkSettingsValidate(t *testing.T) {
	if err := (NetworkSettings{}).Validate(); err != nil {
		t.Fatalf("empty settings should be valid: %v", err)
	}
	err := NetworkSettings{NetworkFeePPM: 1000}.Validate()
	if !errors.Is(err, amerr.ErrInvalidNetworkFee) {
		t.Fatalf("expected missing wallet to fail, got %v", err)
	}
	settings := NetworkSettings{FeeWallet: common.HexToAddress("0x01"), NetworkFeePPM: 1000}
	if err := settings.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !settings.Enabled() {
		t.Fatalf("expected settings to be enabled")
	}
}
