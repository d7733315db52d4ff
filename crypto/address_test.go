package crypto

import (
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

func TestAddressRoundTrip(t *testing.T) {
	addr := common.HexToAddress("0x00000000000000000000000000000000000000c0")
	encoded, err := EncodeAddress("", addr)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if !strings.HasPrefix(encoded, DefaultPrefix+"1") {
		t.Fatalf("unexpected encoding %q", encoded)
	}
	decoded, err := ParseAddress(encoded)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded != addr {
		t.Fatalf("round trip mismatch: %s != %s", decoded.Hex(), addr.Hex())
	}
}

func TestParseAddressHex(t *testing.T) {
	got, err := ParseAddress(" 0xEeeeeEeeeEeEeeEeEeEeeEEEeeeeEeeeeeeeEEeE ")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got != common.HexToAddress("0xEeeeeEeeeEeEeeEeEeEeeEEEeeeeEeeeeeeeEEeE") {
		t.Fatalf("unexpected address %s", got.Hex())
	}
	for _, bad := range []string{"", "0x1234", "cvt1qqqq", "not-an-address"} {
		if _, err := ParseAddress(bad); err == nil {
			t.Fatalf("expected error for %q", bad)
		}
	}
}
