package rpc

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"convertnet/native/fees"
)

func (s *Server) handleSetFee(w http.ResponseWriter, r *http.Request) {
	anchor, err := parseAddress("anchor", chi.URLParam(r, "anchor"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req feeRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	c, err := s.engine.Network().Converter(anchor)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	if err := c.SetConversionFee(req.FeePPM); err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	s.logger.Info("rpc: conversion fee updated",
		slog.String("anchor", anchor.Hex()),
		slog.Uint64("fee_ppm", uint64(req.FeePPM)),
		slog.String("subject", subjectFromContext(r.Context())))
	writeJSON(w, http.StatusOK, map[string]uint32{"feePpm": req.FeePPM})
}

func (s *Server) handleProcessNetworkFees(w http.ResponseWriter, r *http.Request) {
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
	paid, err := c.ProcessNetworkFees()
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	out := make([]string, len(paid))
	for i, p := range paid {
		out[i] = dec(p)
	}
	writeJSON(w, http.StatusOK, map[string][]string{"paid": out})
}

func (s *Server) handleSetSettings(w http.ResponseWriter, r *http.Request) {
	var req settingsRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	wallet, err := parseOptionalAddress("feeWallet", req.FeeWallet)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	settings := fees.NetworkSettings{FeeWallet: wallet, NetworkFeePPM: req.NetworkFeePPM}
	if err := s.engine.Network().SetNetworkSettings(settings); err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	s.logger.Info("rpc: network settings updated",
		slog.String("fee_wallet", wallet.Hex()),
		slog.Uint64("network_fee_ppm", uint64(req.NetworkFeePPM)),
		slog.String("subject", subjectFromContext(r.Context())))
	s.handleSettings(w, r)
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	if strings.TrimSpace(s.cfg.ExportDir) == "" {
		writeError(w, http.StatusServiceUnavailable, "history export directory not configured")
		return
	}
	var req exportRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	from, err := parseTime("from", req.From)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	to, err := parseTime("to", req.To)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := os.MkdirAll(s.cfg.ExportDir, 0o755); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	name := fmt.Sprintf("conversions-%d.parquet", s.now().UTC().UnixNano())
	export, err := s.engine.History().ExportParquet(r.Context(), filepath.Join(s.cfg.ExportDir, name), from, to)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"path": export.Path, "rows": export.Rows, "digest": export.Digest})
}

func parseTime(field, value string) (time.Time, error) {
	if strings.TrimSpace(value) == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("%s: %w", field, err)
	}
	return t, nil
}
