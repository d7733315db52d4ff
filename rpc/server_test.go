package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"

	"convertnet/config"
	"convertnet/core"
	"convertnet/core/events"
	"convertnet/core/types"
	"convertnet/crypto"
	"convertnet/storage/history"
)

const testSecret = "rpc-test-secret"

var (
	netAddr  = common.HexToAddress("0x4e")
	owner    = common.HexToAddress("0x0a")
	trader   = common.HexToAddress("0xa1")
	other    = common.HexToAddress("0xa2")
	tokA     = common.HexToAddress("0x1001")
	tokB     = common.HexToAddress("0x1002")
	poolTok  = common.HexToAddress("0xa0")
	convAddr = common.HexToAddress("0xc0")
	wallet   = common.HexToAddress("0xfe")
)

type testEnv struct {
	engine *core.Engine
	hub    *Hub
	server *Server
	http   http.Handler
}

func newTestEnv(t *testing.T, mutate func(*Config)) *testEnv {
	t.Helper()
	dir := t.TempDir()
	cfg := &config.Config{
		Network: config.NetworkConfig{Address: netAddr.Hex()},
		Assets: []config.AssetConfig{
			{Address: tokA.Hex(), Symbol: "A", Owner: owner.Hex(), Balances: []config.BalanceConfig{
				{Account: owner.Hex(), Amount: "1000000"},
				{Account: trader.Hex(), Amount: "1000000", ApproveNetwork: true},
				{Account: other.Hex(), Amount: "1000"},
			}},
			{Address: tokB.Hex(), Symbol: "B", Owner: owner.Hex(), Balances: []config.BalanceConfig{
				{Account: owner.Hex(), Amount: "1000000"},
			}},
			{Address: poolTok.Hex(), Symbol: "POOL", Owner: owner.Hex()},
		},
		Pools: []config.PoolConfig{{
			Anchor:              poolTok.Hex(),
			Converter:           convAddr.Hex(),
			Owner:               owner.Hex(),
			Type:                "standard",
			ConversionFeePPM:    1000,
			MaxConversionFeePPM: 30000,
			Reserves: []config.ReserveConfig{
				{Asset: tokA.Hex(), Weight: 500000, Amount: "500000"},
				{Asset: tokB.Hex(), Weight: 500000, Amount: "500000"},
			},
		}},
		History: config.HistoryConfig{Driver: history.DriverSQLite, DSN: filepath.Join(dir, "history.db")},
	}
	hub := NewHub(nil)
	engine, err := core.New(cfg, core.WithEmitter(hub))
	require.NoError(t, err)
	t.Cleanup(func() { _ = engine.Close() })

	rpcCfg := Config{
		Auth:      AuthConfig{HMACSecret: testSecret, Issuer: "convertnet-test"},
		ExportDir: filepath.Join(dir, "exports"),
	}
	if mutate != nil {
		mutate(&rpcCfg)
	}
	srv, err := New(rpcCfg, engine, hub, nil)
	require.NoError(t, err)
	return &testEnv{engine: engine, hub: hub, server: srv, http: srv.Handler()}
}

func (e *testEnv) do(t *testing.T, method, target string, body any, token string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		switch v := body.(type) {
		case string:
			buf.WriteString(v)
		default:
			require.NoError(t, json.NewEncoder(&buf).Encode(v))
		}
	}
	req := httptest.NewRequest(method, target, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.http.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, out any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), out), rec.Body.String())
}

func signToken(t *testing.T, scope string, issuer string) string {
	t.Helper()
	return signSubjectToken(t, "ops", scope, issuer)
}

// tradeToken authorises account to move its own funds.
func tradeToken(t *testing.T, account common.Address) string {
	t.Helper()
	return signSubjectToken(t, account.Hex(), ScopeTrade, "convertnet-test")
}

func signSubjectToken(t *testing.T, subject, scope, issuer string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":   subject,
		"iss":   issuer,
		"scope": scope,
		"exp":   time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte(testSecret))
	require.NoError(t, err)
	return signed
}

func TestHealthAndPools(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(t, http.MethodGet, "/healthz", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodGet, "/v1/pools", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var pools []poolView
	decodeBody(t, rec, &pools)
	require.Len(t, pools, 1)
	require.Equal(t, poolTok.Hex(), pools[0].Anchor)
	require.Equal(t, "standard", pools[0].Type)
	require.Equal(t, "active", pools[0].Status)
	require.Equal(t, "500000", pools[0].Reserves[0].Balance)

	bech, err := crypto.EncodeAddress(crypto.DefaultPrefix, poolTok)
	require.NoError(t, err)
	rec = env.do(t, http.MethodGet, "/v1/pools/"+bech, nil, "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodGet, "/v1/pools/"+common.HexToAddress("0xdead").Hex(), nil, "")
	require.Equal(t, http.StatusNotFound, rec.Code)
	var errBody errorResponse
	decodeBody(t, rec, &errBody)
	require.NotEmpty(t, errBody.Reason)
}

func TestQuoteMatchesConvert(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(t, http.MethodPost, "/v1/path", pathRequest{Source: tokA.Hex(), Target: tokB.Hex()}, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var path pathResponse
	decodeBody(t, rec, &path)
	require.Equal(t, []string{tokA.Hex(), poolTok.Hex(), tokB.Hex()}, path.Path)

	rec = env.do(t, http.MethodPost, "/v1/quote", quoteRequest{Path: path.Path, Amount: "1000"}, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var quote quoteResponse
	decodeBody(t, rec, &quote)

	rec = env.do(t, http.MethodPost, "/v1/convert", convertRequest{Path: path.Path, Amount: "1000", Trader: trader.Hex()}, tradeToken(t, trader))
	require.Equal(t, http.StatusOK, rec.Code)
	var res convertResponse
	decodeBody(t, rec, &res)
	require.Equal(t, quote.Amount, res.Amount)
	require.Len(t, res.Conversions, 1)
	require.NotEmpty(t, res.TradeID)

	rec = env.do(t, http.MethodGet, "/v1/balances/"+trader.Hex()+"?asset="+tokB.Hex(), nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var bal map[string]string
	decodeBody(t, rec, &bal)
	require.Equal(t, quote.Amount, bal["balance"])

	rec = env.do(t, http.MethodGet, "/v1/conversions?trader="+trader.Hex(), nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var records []history.ConversionRecord
	decodeBody(t, rec, &records)
	require.Len(t, records, 1)
	require.Equal(t, res.TradeID, records[0].TradeID)
}

func TestReverseQuote(t *testing.T) {
	env := newTestEnv(t, nil)
	path := []string{tokA.Hex(), poolTok.Hex(), tokB.Hex()}

	rec := env.do(t, http.MethodPost, "/v1/quote", quoteRequest{Path: path, Amount: "1000", Reverse: true}, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var needed quoteResponse
	decodeBody(t, rec, &needed)

	rec = env.do(t, http.MethodPost, "/v1/quote", quoteRequest{Path: path, Amount: needed.Amount}, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var forward quoteResponse
	decodeBody(t, rec, &forward)
	got, err := strconv.ParseUint(forward.Amount, 10, 64)
	require.NoError(t, err)
	require.GreaterOrEqual(t, got, uint64(1000))
}

func TestConvertRejections(t *testing.T) {
	env := newTestEnv(t, nil)
	path := []string{tokA.Hex(), poolTok.Hex(), tokB.Hex()}

	token := tradeToken(t, trader)
	rec := env.do(t, http.MethodPost, "/v1/convert", `{"path": [], "bogus": 1}`, token)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPost, "/v1/convert", convertRequest{Path: path[:2], Amount: "1000", Trader: trader.Hex()}, token)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPost, "/v1/convert", convertRequest{Path: path, Amount: "1000", MinReturn: "1000", Trader: trader.Hex()}, token)
	require.Equal(t, http.StatusConflict, rec.Code)

	// other holds tokens but never approved the network
	rec = env.do(t, http.MethodPost, "/v1/convert", convertRequest{Path: path, Amount: "100", Trader: other.Hex()}, tradeToken(t, other))
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = env.do(t, http.MethodPost, "/v1/approvals", approveRequest{Asset: tokA.Hex(), Owner: other.Hex(), Spender: netAddr.Hex(), Amount: "100"}, tradeToken(t, other))
	require.Equal(t, http.StatusOK, rec.Code)
	rec = env.do(t, http.MethodPost, "/v1/convert", convertRequest{Path: path, Amount: "100", Trader: other.Hex()}, tradeToken(t, other))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestTradeRoutesRequireToken(t *testing.T) {
	env := newTestEnv(t, nil)
	path := []string{tokA.Hex(), poolTok.Hex(), tokB.Hex()}

	rec := env.do(t, http.MethodPost, "/v1/convert", convertRequest{Path: path, Amount: "100", Trader: trader.Hex()}, "")
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.do(t, http.MethodPost, "/v1/convert", convertRequest{Path: path, Amount: "100", Trader: trader.Hex()}, signSubjectToken(t, trader.Hex(), ScopeAdmin, "convertnet-test"))
	require.Equal(t, http.StatusForbidden, rec.Code, "admin scope does not trade")

	env = newTestEnv(t, func(cfg *Config) { cfg.Auth.HMACSecret = "" })
	rec = env.do(t, http.MethodPost, "/v1/convert", convertRequest{Path: path, Amount: "100", Trader: trader.Hex()}, tradeToken(t, trader))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestTokenCannotActForAnotherAccount(t *testing.T) {
	env := newTestEnv(t, nil)
	token := tradeToken(t, trader)
	path := []string{tokA.Hex(), poolTok.Hex(), tokB.Hex()}
	thief := common.HexToAddress("0xbad")

	rec := env.do(t, http.MethodPost, "/v1/approvals", approveRequest{Asset: tokA.Hex(), Owner: other.Hex(), Spender: netAddr.Hex(), Amount: "1000"}, token)
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = env.do(t, http.MethodPost, "/v1/convert", convertRequest{Path: path, Amount: "1000", Trader: other.Hex(), Beneficiary: thief.Hex()}, token)
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = env.do(t, http.MethodPost, "/v1/liquidity/add", addLiquidityRequest{
		Anchor: poolTok.Hex(), Provider: owner.Hex(), Assets: []string{tokA.Hex(), tokB.Hex()}, Amounts: []string{"1000", "1000"},
	}, token)
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = env.do(t, http.MethodPost, "/v1/liquidity/remove", removeLiquidityRequest{
		Anchor: poolTok.Hex(), Provider: owner.Hex(), Amount: "1000", Assets: []string{tokA.Hex(), tokB.Hex()},
	}, token)
	require.Equal(t, http.StatusForbidden, rec.Code)

	bal, err := env.engine.BalanceOf(tokA, other)
	require.NoError(t, err)
	require.Equal(t, uint64(1000), bal.Uint64())
	bal, err = env.engine.BalanceOf(tokB, thief)
	require.NoError(t, err)
	require.True(t, bal.IsZero())
	bal, err = env.engine.BalanceOf(poolTok, owner)
	require.NoError(t, err)
	require.Equal(t, uint64(500000), bal.Uint64())
}

func TestOwnLiquidityRoundTrip(t *testing.T) {
	env := newTestEnv(t, nil)
	token := tradeToken(t, owner)
	assets := []string{tokA.Hex(), tokB.Hex()}

	for _, asset := range assets {
		rec := env.do(t, http.MethodPost, "/v1/approvals", approveRequest{Asset: asset, Owner: owner.Hex(), Spender: convAddr.Hex(), Amount: "1000"}, token)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	}
	rec := env.do(t, http.MethodPost, "/v1/liquidity/add", addLiquidityRequest{
		Anchor: poolTok.Hex(), Provider: owner.Hex(), Assets: assets, Amounts: []string{"1000", "1000"},
	}, token)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var minted map[string]string
	decodeBody(t, rec, &minted)
	require.Equal(t, "1000", minted["minted"])

	rec = env.do(t, http.MethodPost, "/v1/liquidity/remove", removeLiquidityRequest{
		Anchor: poolTok.Hex(), Provider: owner.Hex(), Amount: "1000", Assets: assets,
	}, token)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var paid map[string][]string
	decodeBody(t, rec, &paid)
	require.Equal(t, []string{"1000", "1000"}, paid["amounts"])
}

func TestAdminAuth(t *testing.T) {
	env := newTestEnv(t, nil)
	target := "/v1/admin/pools/" + poolTok.Hex() + "/fee"

	rec := env.do(t, http.MethodPost, target, feeRequest{FeePPM: 2000}, "")
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.do(t, http.MethodPost, target, feeRequest{FeePPM: 2000}, "not-a-token")
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.do(t, http.MethodPost, target, feeRequest{FeePPM: 2000}, signToken(t, "admin", "someone-else"))
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.do(t, http.MethodPost, target, feeRequest{FeePPM: 2000}, signToken(t, "read", "convertnet-test"))
	require.Equal(t, http.StatusForbidden, rec.Code)

	token := signToken(t, "read admin", "convertnet-test")
	rec = env.do(t, http.MethodPost, target, feeRequest{FeePPM: 2000}, token)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodPost, target, feeRequest{FeePPM: 40000}, token)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodGet, "/v1/pools/"+poolTok.Hex(), nil, "")
	var view poolView
	decodeBody(t, rec, &view)
	require.Equal(t, uint32(2000), view.ConversionFee)
}

func TestAdminUnavailableWithoutSecret(t *testing.T) {
	env := newTestEnv(t, func(cfg *Config) { cfg.Auth.HMACSecret = "" })
	rec := env.do(t, http.MethodPost, "/v1/admin/network/settings", settingsRequest{}, signToken(t, "admin", "convertnet-test"))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestNetworkSettingsAndFees(t *testing.T) {
	env := newTestEnv(t, nil)
	token := signToken(t, "admin", "convertnet-test")

	rec := env.do(t, http.MethodPost, "/v1/admin/network/settings", settingsRequest{NetworkFeePPM: 100000}, token)
	require.Equal(t, http.StatusBadRequest, rec.Code, "fee without a wallet")

	rec = env.do(t, http.MethodPost, "/v1/admin/network/settings", settingsRequest{FeeWallet: wallet.Hex(), NetworkFeePPM: 200000}, token)
	require.Equal(t, http.StatusOK, rec.Code)
	var settings settingsView
	decodeBody(t, rec, &settings)
	require.Equal(t, wallet.Hex(), settings.FeeWallet)
	require.Equal(t, uint32(200000), settings.NetworkFeePPM)

	path := []string{tokA.Hex(), poolTok.Hex(), tokB.Hex()}
	rec = env.do(t, http.MethodPost, "/v1/convert", convertRequest{Path: path, Amount: "10000", Trader: trader.Hex()}, tradeToken(t, trader))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodPost, "/v1/admin/pools/"+poolTok.Hex()+"/network-fees", nil, token)
	require.Equal(t, http.StatusOK, rec.Code)
	var paid map[string][]string
	decodeBody(t, rec, &paid)
	require.Len(t, paid["paid"], 2)

	bal, err := env.engine.BalanceOf(tokB, wallet)
	require.NoError(t, err)
	require.False(t, bal.IsZero())
}

func TestHistoryExport(t *testing.T) {
	env := newTestEnv(t, nil)
	path := []string{tokA.Hex(), poolTok.Hex(), tokB.Hex()}
	for i := 0; i < 3; i++ {
		rec := env.do(t, http.MethodPost, "/v1/convert", convertRequest{Path: path, Amount: "500", Trader: trader.Hex()}, tradeToken(t, trader))
		require.Equal(t, http.StatusOK, rec.Code)
	}

	token := signToken(t, "admin", "convertnet-test")
	rec := env.do(t, http.MethodPost, "/v1/admin/history/export", exportRequest{From: "not-a-time"}, token)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPost, "/v1/admin/history/export", exportRequest{}, token)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var out struct {
		Path   string `json:"path"`
		Rows   int    `json:"rows"`
		Digest string `json:"digest"`
	}
	decodeBody(t, rec, &out)
	require.Equal(t, 3, out.Rows)
	require.Len(t, out.Digest, 64)
	require.True(t, strings.HasSuffix(out.Path, ".parquet"))
}

func TestRateLimit(t *testing.T) {
	env := newTestEnv(t, func(cfg *Config) { cfg.RateLimit = RateLimit{RequestsPerSecond: 0.001, Burst: 1} })
	require.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/healthz", nil, "").Code)
	require.Equal(t, http.StatusTooManyRequests, env.do(t, http.MethodGet, "/healthz", nil, "").Code)
}

func TestEventStream(t *testing.T) {
	env := newTestEnv(t, nil)
	ts := httptest.NewServer(env.http)
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/events/ws?types=" + events.TypeConversion
	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "done")

	rec := env.do(t, http.MethodPost, "/v1/convert", convertRequest{
		Path: []string{tokA.Hex(), poolTok.Hex(), tokB.Hex()}, Amount: "1000", Trader: trader.Hex(),
	}, tradeToken(t, trader))
	require.Equal(t, http.StatusOK, rec.Code)

	_, data, err := conn.Read(ctx)
	require.NoError(t, err)
	var evt types.Event
	require.NoError(t, json.Unmarshal(data, &evt))
	require.Equal(t, events.TypeConversion, evt.Type)
	require.NotEmpty(t, evt.Attributes)
}

func TestEventStreamOrigins(t *testing.T) {
	dial := func(t *testing.T, env *testEnv, origin string) error {
		t.Helper()
		ts := httptest.NewServer(env.http)
		defer ts.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/events/ws"
		conn, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{
			HTTPHeader: http.Header{"Origin": []string{origin}},
		})
		if err == nil {
			conn.Close(websocket.StatusNormalClosure, "done")
		}
		return err
	}

	env := newTestEnv(t, nil)
	require.Error(t, dial(t, env, "https://app.example.com"), "cross-origin refused by default")

	env = newTestEnv(t, func(cfg *Config) { cfg.AllowedOrigins = []string{"app.example.com"} })
	require.NoError(t, dial(t, env, "https://app.example.com"))
	require.Error(t, dial(t, env, "https://evil.example.com"))
}

func TestHubDropsForLaggingSubscriber(t *testing.T) {
	hub := NewHub(nil)
	updates, cancel := hub.Subscribe()
	for i := 0; i < subscriberBuffer+10; i++ {
		hub.Emit(events.Activation{Anchor: poolTok, Activated: true})
	}
	require.Len(t, updates, subscriberBuffer)
	cancel()
	cancel()
	hub.Emit(events.Activation{Anchor: poolTok, Activated: true})
}
