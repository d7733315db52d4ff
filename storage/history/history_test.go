package history

import (
	"context"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"
	"lukechampine.com/blake3"

	"convertnet/core/events"
)

var (
	alice = common.HexToAddress("0xa1")
	bob   = common.HexToAddress("0xb0")
	convA = common.HexToAddress("0xc0")
	convB = common.HexToAddress("0xc1")
	tokA  = common.HexToAddress("0x1001")
	tokB  = common.HexToAddress("0x1002")
)

func openStore(t *testing.T) (*Store, *time.Time) {
	t.Helper()
	store, err := Open(DriverSQLite, filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	now := time.Unix(1_700_000_000, 0).UTC()
	store.SetClock(func() time.Time { return now })
	return store, &now
}

func conversion(trade string, conv, trader common.Address, in uint64) events.Conversion {
	return events.Conversion{
		TradeID:    trade,
		Converter:  conv,
		Source:     tokA,
		Target:     tokB,
		Trader:     trader,
		AmountIn:   uint256.NewInt(in),
		AmountOut:  uint256.NewInt(in - 1),
		Fee:        uint256.NewInt(1),
		NetworkFee: uint256.NewInt(0),
	}
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := Open("oracle", "x")
	require.Error(t, err)
	_, err = Open(DriverPostgres, "")
	require.Error(t, err)
}

func TestEmitRecordsConversions(t *testing.T) {
	store, now := openStore(t)
	store.Emit(conversion("t1", convA, alice, 100))
	*now = now.Add(time.Minute)
	store.Emit(conversion("t1", convB, alice, 99))
	*now = now.Add(time.Minute)
	store.Emit(conversion("t2", convA, bob, 500))
	store.Emit(events.Activation{})

	ctx := context.Background()
	all, err := store.List(ctx, Filter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	require.Equal(t, "t2", all[0].TradeID, "newest first")
	require.Equal(t, "500", all[0].AmountIn)
	require.Equal(t, "0", all[0].AffiliateFee)

	byTrader, err := store.List(ctx, Filter{Trader: alice.Hex()})
	require.NoError(t, err)
	require.Len(t, byTrader, 2)

	byConverter, err := store.List(ctx, Filter{Converter: convA.Hex()})
	require.NoError(t, err)
	require.Len(t, byConverter, 2)

	byTrade, err := store.List(ctx, Filter{TradeID: "t1", Limit: 1})
	require.NoError(t, err)
	require.Len(t, byTrade, 1)
	require.Equal(t, convB.Hex(), byTrade[0].Converter)
}

func TestExportParquet(t *testing.T) {
	store, now := openStore(t)
	start := *now
	for i := 0; i < 4; i++ {
		store.Emit(conversion("t", convA, alice, uint64(100+i)))
		*now = now.Add(time.Hour)
	}

	path := filepath.Join(t.TempDir(), "conversions.parquet")
	out, err := store.ExportParquet(context.Background(), path, start.Add(time.Hour), start.Add(3*time.Hour))
	require.NoError(t, err)
	require.Equal(t, 2, out.Rows)
	require.Equal(t, path, out.Path)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	sum := blake3.Sum256(raw)
	require.Equal(t, hex.EncodeToString(sum[:]), out.Digest)

	all, err := store.ExportParquet(context.Background(), filepath.Join(t.TempDir(), "all.parquet"), time.Time{}, time.Time{})
	require.NoError(t, err)
	require.Equal(t, 4, all.Rows)
}
