// Package crypto handles the textual forms of engine addresses. Addresses are
// accepted as 0x-prefixed hex or as bech32 strings carrying any prefix.
package crypto

import (
	"fmt"
	"strings"

	"github.com/btcsuite/btcutil/bech32"
	"github.com/ethereum/go-ethereum/common"
)

// DefaultPrefix is the human-readable part used when rendering bech32.
const DefaultPrefix = "cvt"

// EncodeAddress renders addr as bech32 with the given prefix.
func EncodeAddress(prefix string, addr common.Address) (string, error) {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	conv, err := bech32.ConvertBits(addr.Bytes(), 8, 5, true)
	if err != nil {
		return "", err
	}
	return bech32.Encode(prefix, conv)
}

// ParseAddress decodes a hex or bech32 address.
func ParseAddress(s string) (common.Address, error) {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return common.Address{}, fmt.Errorf("address required")
	}
	if strings.HasPrefix(trimmed, "0x") || strings.HasPrefix(trimmed, "0X") {
		if !common.IsHexAddress(trimmed) {
			return common.Address{}, fmt.Errorf("invalid hex address %q", trimmed)
		}
		return common.HexToAddress(trimmed), nil
	}
	_, decoded, err := bech32.Decode(trimmed)
	if err != nil {
		return common.Address{}, fmt.Errorf("invalid bech32 string: %w", err)
	}
	conv, err := bech32.ConvertBits(decoded, 5, 8, false)
	if err != nil {
		return common.Address{}, fmt.Errorf("error converting bits: %w", err)
	}
	if len(conv) != common.AddressLength {
		return common.Address{}, fmt.Errorf("address must be %d bytes, got %d", common.AddressLength, len(conv))
	}
	return common.BytesToAddress(conv), nil
}

// MustParseAddress is ParseAddress for trusted literals.
func MustParseAddress(s string) common.Address {
	addr, err := ParseAddress(s)
	if err != nil {
		panic(err)
	}
	return addr
}
