package rpc

import (
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"

	"convertnet/crypto"
)

func (s *Server) handlePools(w http.ResponseWriter, r *http.Request) {
	pools, err := s.engine.Network().Converters()
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	out := make([]poolView, 0, len(pools))
	for _, c := range pools {
		info, err := c.Info()
		if err != nil {
			s.writeEngineError(w, r, err)
			return
		}
		out = append(out, poolViewFrom(info))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handlePool(w http.ResponseWriter, r *http.Request) {
	anchor, err := parseAddress("anchor", chi.URLParam(r, "anchor"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	c, err := s.engine.Network().Converter(anchor)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	info, err := c.Info()
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, poolViewFrom(info))
}

func (s *Server) handleAverageRate(w http.ResponseWriter, r *http.Request) {
	anchor, err := parseAddress("anchor", chi.URLParam(r, "anchor"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	asset, err := parseAddress("asset", r.URL.Query().Get("asset"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	c, err := s.engine.Network().Converter(anchor)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	n, d, err := c.RecentAverageRate(asset)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"n": dec(n), "d": dec(d)})
}

func (s *Server) handleSettings(w http.ResponseWriter, r *http.Request) {
	net := s.engine.Network()
	settings, err := net.CurrentNetworkSettings()
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	view := settingsView{
		Network:         net.Address().Hex(),
		MaxHops:         net.MaxHops(),
		MaxAffiliateFee: net.MaxAffiliateFee(),
		NetworkFeePPM:   settings.NetworkFeePPM,
	}
	if ref := net.ReferenceAsset(); ref != (common.Address{}) {
		view.ReferenceAsset = ref.Hex()
	}
	if settings.FeeWallet != (common.Address{}) {
		view.FeeWallet = settings.FeeWallet.Hex()
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleAddress(w http.ResponseWriter, r *http.Request) {
	addr, err := parseAddress("address", chi.URLParam(r, "address"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	encoded, err := crypto.EncodeAddress(crypto.DefaultPrefix, addr)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"hex": addr.Hex(), "bech32": encoded})
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	account, err := parseAddress("account", chi.URLParam(r, "account"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	asset, err := parseAddress("asset", r.URL.Query().Get("asset"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	bal, err := s.engine.BalanceOf(asset, account)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"asset": asset.Hex(), "account": account.Hex(), "balance": dec(bal)})
}
