// Package store holds what the SessionStore backends share: the record encoding and key layout.
package store

import (
	jsoniter "github.com/json-iterator/go"
	"github.com/nostrsigner/bunker"
)

var json = jsoniter.ConfigFastest

var (
	// UnpairedKey is the one key under which the pending pairing context lives.
	UnpairedKey = []byte("unpaired")

	// SessionPrefix prefixes session keys, followed by the peer public key.
	SessionPrefix = []byte("session:")
)

func SessionKey(peerPubKey string) []byte {
	k := make([]byte, 0, len(SessionPrefix)+len(peerPubKey))
	k = append(k, SessionPrefix...)
	return append(k, peerPubKey...)
}

func EncodeSession(s bunker.PairedSession) ([]byte, error) { return json.Marshal(s) }

func DecodeSession(b []byte) (bunker.PairedSession, error) {
	var s bunker.PairedSession
	err := json.Unmarshal(b, &s)
	return s, err
}

func EncodeUnpaired(uc bunker.UnpairedContext) ([]byte, error) { return json.Marshal(uc) }

func DecodeUnpaired(b []byte) (bunker.UnpairedContext, error) {
	var uc bunker.UnpairedContext
	err := json.Unmarshal(b, &uc)
	return uc, err
}

// EncodeRelays and DecodeRelays are for backends that keep relays in a column.
func EncodeRelays(relays []string) (string, error) {
	if relays == nil {
		relays = []string{}
	}
	return json.MarshalToString(relays)
}

func DecodeRelays(s string) ([]string, error) {
	var relays []string
	err := json.UnmarshalFromString(s, &relays)
	return relays, err
}

// CheckPairing decides whether a pairing may be committed, given what is currently stored.
func CheckPairing(alreadyPaired bool, uc bunker.UnpairedContext, pending bool, secret string) error {
	if alreadyPaired {
		return bunker.ErrAlreadyPaired
	}
	if !pending {
		return bunker.ErrNoPendingPairing
	}
	if uc.Secret != secret {
		return bunker.ErrSecretMismatch
	}
	return nil
}
