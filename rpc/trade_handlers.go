package rpc

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"convertnet/crypto"
	"convertnet/native/converter"
	"convertnet/native/network"
	"convertnet/storage/history"
)

func (s *Server) handleQuote(w http.ResponseWriter, r *http.Request) {
	var req quoteRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	path, err := parseAddresses("path", req.Path)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	amount, err := parseAmount("amount", req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	net := s.engine.Network()
	if err := network.ValidatePath(path, net.MaxHops()); err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	var out, fee *uint256.Int
	if req.Reverse {
		if len(path) != 3 {
			writeError(w, http.StatusBadRequest, "reverse quotes take a single hop")
			return
		}
		c, lookupErr := net.Converter(path[1])
		if lookupErr != nil {
			s.writeEngineError(w, r, lookupErr)
			return
		}
		out, fee, err = c.SourceAmountAndFee(path[0], path[2], amount)
	} else {
		out, fee, err = net.RateByPath(r.Context(), path, amount)
	}
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, quoteResponse{Amount: dec(out), Fee: dec(fee)})
}

func (s *Server) handlePath(w http.ResponseWriter, r *http.Request) {
	var req pathRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	source, err := parseAddress("source", req.Source)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	target, err := parseAddress("target", req.Target)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	path, err := s.engine.Network().ConversionPath(source, target)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, pathResponse{Path: hexes(path)})
}

func (s *Server) handleConvert(w http.ResponseWriter, r *http.Request) {
	var body convertRequest
	if !decodeJSON(w, r, &body) {
		return
	}
	req, err := body.toNetwork()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !requireSubject(w, r, "trader", req.Trader) {
		return
	}
	res, err := s.engine.Network().ConvertByPath(r.Context(), req)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	out := convertResponse{TradeID: res.TradeID, Amount: dec(res.Amount), Fee: dec(res.Fee)}
	for _, c := range res.Conversions {
		out.Conversions = append(out.Conversions, conversionView{
			Converter:    c.Converter.Hex(),
			Anchor:       c.Anchor.Hex(),
			Source:       c.Source.Hex(),
			Target:       c.Target.Hex(),
			AmountIn:     dec(c.AmountIn),
			AmountOut:    dec(c.AmountOut),
			Fee:          dec(c.Fee),
			PoolFee:      dec(c.Fees.Pool),
			NetworkFee:   dec(c.Fees.Network),
			AffiliateFee: dec(c.Fees.Affiliate),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (b convertRequest) toNetwork() (network.ConvertRequest, error) {
	var req network.ConvertRequest
	var err error
	if req.Path, err = parseAddresses("path", b.Path); err != nil {
		return req, err
	}
	if req.Amount, err = parseAmount("amount", b.Amount); err != nil {
		return req, err
	}
	if req.MinReturn, err = parseOptionalAmount("minReturn", b.MinReturn); err != nil {
		return req, err
	}
	if req.Value, err = parseOptionalAmount("value", b.Value); err != nil {
		return req, err
	}
	if req.Trader, err = parseAddress("trader", b.Trader); err != nil {
		return req, err
	}
	if req.Beneficiary, err = parseOptionalAddress("beneficiary", b.Beneficiary); err != nil {
		return req, err
	}
	if req.Affiliate, err = parseOptionalAddress("affiliate", b.Affiliate); err != nil {
		return req, err
	}
	req.AffiliateFeePPM = b.AffiliateFeePPM
	return req, nil
}

func (s *Server) handleAddLiquidity(w http.ResponseWriter, r *http.Request) {
	var body addLiquidityRequest
	if !decodeJSON(w, r, &body) {
		return
	}
	anchor, err := parseAddress("anchor", body.Anchor)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	req := converter.AddLiquidityRequest{}
	if req.Provider, err = parseAddress("provider", body.Provider); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !requireSubject(w, r, "provider", req.Provider) {
		return
	}
	if req.Assets, err = parseAddresses("assets", body.Assets); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	for i, a := range body.Amounts {
		amount, err := parseAmount("amounts["+strconv.Itoa(i)+"]", a)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		req.Amounts = append(req.Amounts, amount)
	}
	if req.MinReturn, err = parseOptionalAmount("minReturn", body.MinReturn); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Value, err = parseOptionalAmount("value", body.Value); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	c, err := s.engine.Network().Converter(anchor)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	minted, err := c.AddLiquidity(req)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"minted": dec(minted)})
}

func (s *Server) handleRemoveLiquidity(w http.ResponseWriter, r *http.Request) {
	var body removeLiquidityRequest
	if !decodeJSON(w, r, &body) {
		return
	}
	anchor, err := parseAddress("anchor", body.Anchor)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	req := converter.RemoveLiquidityRequest{}
	if req.Provider, err = parseAddress("provider", body.Provider); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !requireSubject(w, r, "provider", req.Provider) {
		return
	}
	if req.Amount, err = parseAmount("amount", body.Amount); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Assets, err = parseAddresses("assets", body.Assets); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	req.MinReturns = make([]*uint256.Int, len(req.Assets))
	for i, m := range body.MinReturns {
		if i >= len(req.MinReturns) {
			writeError(w, http.StatusBadRequest, "more minReturns than assets")
			return
		}
		if req.MinReturns[i], err = parseOptionalAmount("minReturns["+strconv.Itoa(i)+"]", m); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	c, err := s.engine.Network().Converter(anchor)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	paid, err := c.RemoveLiquidity(req)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	out := make([]string, len(paid))
	for i, p := range paid {
		out[i] = dec(p)
	}
	writeJSON(w, http.StatusOK, map[string][]string{"amounts": out})
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	var body approveRequest
	if !decodeJSON(w, r, &body) {
		return
	}
	asset, err := parseAddress("asset", body.Asset)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	owner, err := parseAddress("owner", body.Owner)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !requireSubject(w, r, "owner", owner) {
		return
	}
	spender, err := parseAddress("spender", body.Spender)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	amount, err := parseAmount("amount", body.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.engine.Approve(asset, owner, spender, amount); err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "approved"})
}

func (s *Server) handleConversions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := history.Filter{TradeID: q.Get("trade_id")}
	if raw := q.Get("trader"); raw != "" {
		addr, err := parseAddress("trader", raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		filter.Trader = addr.Hex()
	}
	if raw := q.Get("converter"); raw != "" {
		addr, err := parseAddress("converter", raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		filter.Converter = addr.Hex()
	}
	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		filter.Limit = limit
	}
	records, err := s.engine.History().List(r.Context(), filter)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

// requireSubject answers 403 unless the authenticated token subject is
// account.
func requireSubject(w http.ResponseWriter, r *http.Request, field string, account common.Address) bool {
	subject, err := crypto.ParseAddress(subjectFromContext(r.Context()))
	if err != nil || subject != account {
		writeError(w, http.StatusForbidden, fmt.Sprintf("token subject may not act as %s %s", field, account.Hex()))
		return false
	}
	return true
}
