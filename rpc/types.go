package rpc

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"convertnet/crypto"
	"convertnet/native/converter"
)

// Amounts travel as base-10 strings, addresses as hex or bech32.

type reserveView struct {
	Asset   string `json:"asset"`
	Weight  uint32 `json:"weight"`
	Balance string `json:"balance"`
}

type poolView struct {
	Address          string        `json:"address"`
	Anchor           string        `json:"anchor"`
	Type             string        `json:"type"`
	Status           string        `json:"status"`
	ConversionFee    uint32        `json:"conversionFeePpm"`
	MaxConversionFee uint32        `json:"maxConversionFeePpm"`
	Reserves         []reserveView `json:"reserves"`
	Supply           string        `json:"supply"`
	RateN            string        `json:"rateN,omitempty"`
	RateD            string        `json:"rateD,omitempty"`
	NetworkFees      []string      `json:"networkFees,omitempty"`
}

func poolViewFrom(info converter.Info) poolView {
	view := poolView{
		Address:          info.Address.Hex(),
		Anchor:           info.Anchor.Hex(),
		Type:             info.Type.String(),
		Status:           info.Status.String(),
		ConversionFee:    info.ConversionFee,
		MaxConversionFee: info.MaxConversionFee,
		Supply:           dec(info.Supply),
	}
	for _, r := range info.Reserves {
		view.Reserves = append(view.Reserves, reserveView{Asset: r.Asset.Hex(), Weight: r.Weight, Balance: dec(r.Balance)})
	}
	if info.Type == converter.TypeFixedRate {
		view.RateN, view.RateD = dec(info.RateN), dec(info.RateD)
	}
	for _, f := range info.NetworkFees {
		view.NetworkFees = append(view.NetworkFees, dec(f))
	}
	return view
}

type quoteRequest struct {
	Path   []string `json:"path"`
	Amount string   `json:"amount"`
	// Reverse asks for the source amount needed to receive Amount. Only
	// single-hop paths can be reversed.
	Reverse bool `json:"reverse,omitempty"`
}

type quoteResponse struct {
	Amount string `json:"amount"`
	Fee    string `json:"fee"`
}

type pathRequest struct {
	Source string `json:"source"`
	Target string `json:"target"`
}

type pathResponse struct {
	Path []string `json:"path"`
}

type convertRequest struct {
	Path            []string `json:"path"`
	Amount          string   `json:"amount"`
	MinReturn       string   `json:"minReturn,omitempty"`
	Trader          string   `json:"trader"`
	Beneficiary     string   `json:"beneficiary,omitempty"`
	Affiliate       string   `json:"affiliate,omitempty"`
	AffiliateFeePPM uint32   `json:"affiliateFeePpm,omitempty"`
	Value           string   `json:"value,omitempty"`
}

type conversionView struct {
	Converter    string `json:"converter"`
	Anchor       string `json:"anchor"`
	Source       string `json:"source"`
	Target       string `json:"target"`
	AmountIn     string `json:"amountIn"`
	AmountOut    string `json:"amountOut"`
	Fee          string `json:"fee"`
	PoolFee      string `json:"poolFee"`
	NetworkFee   string `json:"networkFee"`
	AffiliateFee string `json:"affiliateFee"`
}

type convertResponse struct {
	TradeID     string           `json:"tradeId"`
	Amount      string           `json:"amount"`
	Fee         string           `json:"fee"`
	Conversions []conversionView `json:"conversions"`
}

type addLiquidityRequest struct {
	Anchor    string   `json:"anchor"`
	Provider  string   `json:"provider"`
	Assets    []string `json:"assets"`
	Amounts   []string `json:"amounts"`
	MinReturn string   `json:"minReturn,omitempty"`
	Value     string   `json:"value,omitempty"`
}

type removeLiquidityRequest struct {
	Anchor     string   `json:"anchor"`
	Provider   string   `json:"provider"`
	Amount     string   `json:"amount"`
	Assets     []string `json:"assets"`
	MinReturns []string `json:"minReturns,omitempty"`
}

type approveRequest struct {
	Asset   string `json:"asset"`
	Owner   string `json:"owner"`
	Spender string `json:"spender"`
	Amount  string `json:"amount"`
}

type settingsView struct {
	Network         string `json:"network"`
	ReferenceAsset  string `json:"referenceAsset,omitempty"`
	MaxHops         int    `json:"maxHops"`
	MaxAffiliateFee uint32 `json:"maxAffiliateFeePpm"`
	FeeWallet       string `json:"feeWallet,omitempty"`
	NetworkFeePPM   uint32 `json:"networkFeePpm"`
}

type settingsRequest struct {
	FeeWallet     string `json:"feeWallet"`
	NetworkFeePPM uint32 `json:"networkFeePpm"`
}

type feeRequest struct {
	FeePPM uint32 `json:"feePpm"`
}

type exportRequest struct {
	From string `json:"from,omitempty"`
	To   string `json:"to,omitempty"`
}

func dec(v *uint256.Int) string {
	if v == nil {
		return "0"
	}
	return v.Dec()
}

func parseAddress(field, value string) (common.Address, error) {
	addr, err := crypto.ParseAddress(value)
	if err != nil {
		return common.Address{}, fmt.Errorf("%s: %w", field, err)
	}
	return addr, nil
}

func parseOptionalAddress(field, value string) (common.Address, error) {
	if strings.TrimSpace(value) == "" {
		return common.Address{}, nil
	}
	return parseAddress(field, value)
}

func parseAddresses(field string, values []string) ([]common.Address, error) {
	out := make([]common.Address, len(values))
	for i, v := range values {
		addr, err := parseAddress(fmt.Sprintf("%s[%d]", field, i), v)
		if err != nil {
			return nil, err
		}
		out[i] = addr
	}
	return out, nil
}

func parseAmount(field, value string) (*uint256.Int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, fmt.Errorf("%s: amount required", field)
	}
	v, err := uint256.FromDecimal(trimmed)
	if err != nil {
		return nil, fmt.Errorf("%s: invalid amount %q", field, value)
	}
	return v, nil
}

// parseOptionalAmount maps an empty value to nil.
func parseOptionalAmount(field, value string) (*uint256.Int, error) {
	if strings.TrimSpace(value) == "" {
		return nil, nil
	}
	return parseAmount(field, value)
}

func hexes(addrs []common.Address) []string {
	out := make([]string, len(addrs))
	for i, a := range addrs {
		out[i] = a.Hex()
	}
	return out
}
