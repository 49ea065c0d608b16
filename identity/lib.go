package identity

import (
	"fmt"
	"strings"

	"github.com/nbd-wtf/go-nostr"
	"github.com/nbd-wtf/go-nostr/nip19"
	"github.com/nbd-wtf/go-nostr/nip49"
)

// New creates a KeySigner from any of the usual ways of writing down a secret key:
// - ncryptsec: decrypted with password
// - nsec
// - hex
func New(input string, password string) (*KeySigner, error) {
	input = strings.TrimSpace(input)

	switch {
	case input == "":
		return nil, fmt.Errorf("no secret key given")
	case strings.HasPrefix(input, "ncryptsec"):
		sk, err := nip49.Decrypt(input, password)
		if err != nil {
			if password == "" {
				return nil, fmt.Errorf("failed to decrypt with blank password: %w", err)
			}
			return nil, fmt.Errorf("failed to decrypt with given password: %w", err)
		}
		return NewKeySigner(sk)
	case strings.HasPrefix(input, "nsec1"):
		prefix, value, err := nip19.Decode(input)
		if err != nil {
			return nil, fmt.Errorf("invalid nsec: %w", err)
		}
		sk, ok := value.(string)
		if prefix != "nsec" || !ok {
			return nil, fmt.Errorf("'%s' is not an nsec", input)
		}
		return NewKeySigner(sk)
	case nostr.IsValid32ByteHex(input):
		return NewKeySigner(input)
	default:
		return nil, fmt.Errorf("unsupported secret key format")
	}
}

// Generate creates a signer for a brand new random key.
func Generate() *KeySigner {
	ks, _ := NewKeySigner(nostr.GeneratePrivateKey())
	return ks
}

// SecretKey exposes the hex secret key, for storing a freshly generated key.
func (ks *KeySigner) SecretKey() string { return ks.sk }
