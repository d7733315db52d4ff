package config

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"convertnet/native/bank"
	"convertnet/native/converter"
	"convertnet/native/fees"
)

// Validate checks the configuration for values the engine would reject at
// genesis, so that errors surface before any state is written.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config required")
	}
	if _, err := Address("network.address", cfg.Network.Address); err != nil {
		return err
	}
	if _, err := OptionalAddress("network.reference_asset", cfg.Network.ReferenceAsset); err != nil {
		return err
	}
	if _, err := OptionalAddress("network.fee_wallet", cfg.Network.FeeWallet); err != nil {
		return err
	}
	if cfg.Network.NetworkFeePPM > fees.PPMResolution {
		return fmt.Errorf("network: network_fee_ppm %d exceeds %d", cfg.Network.NetworkFeePPM, fees.PPMResolution)
	}
	if cfg.Network.MaxAffiliateFeePPM > fees.PPMResolution {
		return fmt.Errorf("network: max_affiliate_fee_ppm %d exceeds %d", cfg.Network.MaxAffiliateFeePPM, fees.PPMResolution)
	}
	if cfg.Network.MaxHops < 0 {
		return fmt.Errorf("network: max_hops must not be negative")
	}

	assets := make(map[common.Address]bool, len(cfg.Assets))
	for i, asset := range cfg.Assets {
		field := fmt.Sprintf("assets[%d]", i)
		addr, err := Address(field+".address", asset.Address)
		if err != nil {
			return err
		}
		if assets[addr] {
			return fmt.Errorf("%s: duplicate asset %s", field, addr.Hex())
		}
		assets[addr] = true
		if _, err := bank.ParseKind(asset.Kind); err != nil {
			return fmt.Errorf("%s: %w", field, err)
		}
		if _, err := Address(field+".owner", asset.Owner); err != nil {
			return err
		}
		for j, bal := range asset.Balances {
			bfield := fmt.Sprintf("%s.balances[%d]", field, j)
			if _, err := Address(bfield+".account", bal.Account); err != nil {
				return err
			}
			if _, err := Amount(bfield+".amount", bal.Amount); err != nil {
				return err
			}
		}
	}

	anchors := make(map[common.Address]bool, len(cfg.Pools))
	for i, pool := range cfg.Pools {
		if err := validatePool(fmt.Sprintf("pools[%d]", i), pool, assets, anchors); err != nil {
			return err
		}
	}

	if cfg.RPC.RateLimit < 0 || cfg.RPC.RateBurst < 0 {
		return fmt.Errorf("rpc: rate limits must not be negative")
	}
	switch strings.ToLower(cfg.StateBackend) {
	case "", StateLevelDB, StateBolt:
	default:
		return fmt.Errorf("state_backend: unsupported backend %q", cfg.StateBackend)
	}
	switch strings.ToLower(cfg.History.Driver) {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("history: unsupported driver %q", cfg.History.Driver)
	}
	return nil
}

func validatePool(field string, pool PoolConfig, assets, anchors map[common.Address]bool) error {
	anchor, err := Address(field+".anchor", pool.Anchor)
	if err != nil {
		return err
	}
	if !assets[anchor] {
		return fmt.Errorf("%s: anchor %s is not a configured asset", field, anchor.Hex())
	}
	if anchors[anchor] {
		return fmt.Errorf("%s: duplicate anchor %s", field, anchor.Hex())
	}
	anchors[anchor] = true
	if _, err := Address(field+".converter", pool.Converter); err != nil {
		return err
	}
	if _, err := Address(field+".owner", pool.Owner); err != nil {
		return err
	}
	typ, err := converter.ParseType(pool.Type)
	if err != nil {
		return fmt.Errorf("%s: %w", field, err)
	}
	if pool.MaxConversionFeePPM > fees.PPMResolution {
		return fmt.Errorf("%s: max_conversion_fee_ppm %d exceeds %d", field, pool.MaxConversionFeePPM, fees.PPMResolution)
	}
	if pool.ConversionFeePPM > pool.MaxConversionFeePPM {
		return fmt.Errorf("%s: conversion_fee_ppm %d above max_conversion_fee_ppm %d", field, pool.ConversionFeePPM, pool.MaxConversionFeePPM)
	}
	if len(pool.Reserves) < 2 {
		return fmt.Errorf("%s: at least two reserves required", field)
	}
	for j, r := range pool.Reserves {
		rfield := fmt.Sprintf("%s.reserves[%d]", field, j)
		asset, err := Address(rfield+".asset", r.Asset)
		if err != nil {
			return err
		}
		if !assets[asset] {
			return fmt.Errorf("%s: asset %s is not configured", rfield, asset.Hex())
		}
		if r.Weight == 0 || r.Weight > fees.PPMResolution {
			return fmt.Errorf("%s: weight %d out of range", rfield, r.Weight)
		}
		amount, err := Amount(rfield+".amount", r.Amount)
		if err != nil {
			return err
		}
		if amount.IsZero() {
			return fmt.Errorf("%s: initial amount required", rfield)
		}
	}
	if typ == converter.TypeFixedRate {
		n, err := Amount(field+".rate.n", pool.Rate.N)
		if err != nil {
			return err
		}
		d, err := Amount(field+".rate.d", pool.Rate.D)
		if err != nil {
			return err
		}
		if n.IsZero() || d.IsZero() {
			return fmt.Errorf("%s: fixed-rate pools need a non-zero rate", field)
		}
	}
	return nil
}
