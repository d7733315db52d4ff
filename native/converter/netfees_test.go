package converter

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"convertnet/core/events"
)

func TestNetworkFeeAccrual(t *testing.T) {
	h := newHarness(t, TypeStandard, 10_000,
		reserveSpec{tokA, 500_000, 1_000_000}, reserveSpec{tokB, 500_000, 1_000_000})
	h.conv.SetNetworkSettings(staticSettings{FeeWallet: feeWallet, NetworkFeePPM: 200_000})

	conv, err := h.convert(alice, tokA, tokB, 10_000, 0)
	require.NoError(t, err)
	// gross 9900, fee 99, network floor(49*0.2/1.2)
	require.Equal(t, uint64(9_801), conv.AmountOut.Uint64())
	require.Equal(t, uint64(8), conv.Fees.Network.Uint64())
	require.Equal(t, uint64(91), conv.Fees.Pool.Uint64())

	info := h.info()
	require.Equal(t, uint64(1_010_000), info.Reserves[0].Balance.Uint64())
	require.Equal(t, uint64(990_199), info.Reserves[1].Balance.Uint64(), "network share stays in the reserve until processed")
	// target share 8, source equivalent 8*1010000/990199
	require.Equal(t, []uint64{8, 8}, []uint64{info.NetworkFees[0].Uint64(), info.NetworkFees[1].Uint64()})
	h.checkBooks()

	evt := eventsOfType(h.events, events.TypeConversion)[0].(events.Conversion)
	require.Equal(t, uint64(8), evt.NetworkFee.Uint64())

	paid, err := h.conv.ProcessNetworkFees()
	require.NoError(t, err)
	require.Equal(t, []uint64{8, 8}, []uint64{paid[0].Uint64(), paid[1].Uint64()})
	require.Equal(t, uint64(8), h.balance(tokA, feeWallet))
	require.Equal(t, uint64(8), h.balance(tokB, feeWallet))

	info = h.info()
	require.Equal(t, uint64(1_009_992), info.Reserves[0].Balance.Uint64())
	require.Equal(t, uint64(990_191), info.Reserves[1].Balance.Uint64())
	require.True(t, info.NetworkFees[0].IsZero() && info.NetworkFees[1].IsZero())
	h.checkBooks()

	processed := eventsOfType(h.events, events.TypeNetworkFeesProcessed)
	require.Len(t, processed, 1)
	require.Equal(t, feeWallet, processed[0].(events.NetworkFeesProcessed).Wallet)

	paid, err = h.conv.ProcessNetworkFees()
	require.NoError(t, err)
	require.Nil(t, paid, "nothing left to pay")
}

func TestNetworkFeesProcessedBeforeLiquidityChange(t *testing.T) {
	h := newHarness(t, TypeStandard, 10_000,
		reserveSpec{tokA, 500_000, 1_000_000}, reserveSpec{tokB, 500_000, 1_000_000})
	h.conv.SetNetworkSettings(staticSettings{FeeWallet: feeWallet, NetworkFeePPM: 200_000})
	_, err := h.convert(alice, tokA, tokB, 10_000, 0)
	require.NoError(t, err)

	_, err = h.conv.RemoveLiquidity(RemoveLiquidityRequest{Provider: alice, Amount: u(1), Assets: []common.Address{tokA, tokB}, MinReturns: []*uint256.Int{nil, nil}})
	require.NoError(t, err)
	require.Equal(t, uint64(8), h.balance(tokA, feeWallet))
	require.Equal(t, uint64(8), h.balance(tokB, feeWallet))
	h.checkBooks()
}

func TestNetworkFeeOnlyOnStandardPools(t *testing.T) {
	h := newHarness(t, TypeWeighted, 10_000,
		reserveSpec{tokA, 500_000, 1_000_000}, reserveSpec{tokB, 500_000, 1_000_000})
	h.conv.SetNetworkSettings(staticSettings{FeeWallet: feeWallet, NetworkFeePPM: 200_000})
	conv, err := h.convert(alice, tokA, tokB, 10_000, 0)
	require.NoError(t, err)
	require.True(t, conv.Fees.Network.IsZero())
	paid, err := h.conv.ProcessNetworkFees()
	require.NoError(t, err)
	require.Nil(t, paid)
}

func TestNetworkFeeNeedsWallet(t *testing.T) {
	h := newHarness(t, TypeStandard, 10_000,
		reserveSpec{tokA, 500_000, 1_000_000}, reserveSpec{tokB, 500_000, 1_000_000})
	h.conv.SetNetworkSettings(staticSettings{NetworkFeePPM: 200_000})
	conv, err := h.convert(alice, tokA, tokB, 10_000, 0)
	require.NoError(t, err)
	require.True(t, conv.Fees.Network.IsZero(), "no wallet, no network share")
	require.Equal(t, uint64(99), conv.Fees.Pool.Uint64())
}
