package bunker

import (
	"encoding/hex"
	"slices"
	"strings"

	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	jsoniter "github.com/json-iterator/go"
	"github.com/nbd-wtf/go-nostr"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// NormalizeRelays normalizes every url, drops the invalid ones, then sorts and dedups.
func NormalizeRelays(relays ...string) []string {
	out := make([]string, 0, len(relays))
	for _, r := range relays {
		if n, ok := normalizeRelay(r); ok {
			out = append(out, n)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}

func normalizeRelay(u string) (string, bool) {
	if u == "" || strings.ContainsAny(u, " \t\r\n") {
		return "", false
	}
	if scheme, _, ok := strings.Cut(u, "://"); ok {
		switch strings.ToLower(scheme) {
		case "ws", "wss", "http", "https":
		default:
			return "", false
		}
	}

	n := nostr.NormalizeURL(u)
	if !strings.HasPrefix(n, "wss://") && !strings.HasPrefix(n, "ws://") {
		return "", false
	}
	if len(n) == len("wss://") || n == "ws://" {
		return "", false
	}
	return n, true
}

// IsValidPublicKey checks for 64 lowercase hex chars encoding a valid BIP-340 x-only key.
func IsValidPublicKey(pk string) bool {
	if len(pk) != 64 || strings.ToLower(pk) != pk {
		return false
	}
	b, err := hex.DecodeString(pk)
	if err != nil {
		return false
	}
	_, err = schnorr.ParsePubKey(b)
	return err == nil
}
