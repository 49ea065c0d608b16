package bunker

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"net/url"
	"strings"

	"github.com/nbd-wtf/go-nostr/nip19"
)

const (
	nostrConnectScheme = "nostrconnect://"
	secretSize         = 32
)

// NewUnpairedContext generates a fresh pairing secret for the given relays.
func NewUnpairedContext(relays []string) (UnpairedContext, error) {
	secret := make([]byte, secretSize)
	if _, err := rand.Read(secret); err != nil {
		return UnpairedContext{}, fmt.Errorf("failed to generate pairing secret: %w", err)
	}

	return UnpairedContext{
		Secret: base64.RawURLEncoding.EncodeToString(secret),
		Relays: NormalizeRelays(relays...),
	}, nil
}

// Token renders the string a peer needs to pair with us:
//
//	<npub>#<secret>?relay=<r1>&relay=<r2>
func (uc UnpairedContext) Token(publicKey string) (string, error) {
	if publicKey == "" {
		return "", ErrNoPublicKey
	}
	npub, err := nip19.EncodePublicKey(publicKey)
	if err != nil {
		return "", fmt.Errorf("failed to encode public key %s: %w", publicKey, err)
	}

	var b strings.Builder
	b.Grow(len(npub) + 1 + len(uc.Secret) + 1 + len(uc.Relays)*32)
	b.WriteString(npub)
	b.WriteByte('#')
	b.WriteString(uc.Secret)
	b.WriteByte('?')
	for i, r := range uc.Relays {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString("relay=")
		b.WriteString(escape(r))
	}
	return b.String(), nil
}

// NostrConnectURI is a pairing offer made by the peer itself.
type NostrConnectURI struct {
	PeerPubKey string
	Relays     []string
	Metadata   *PeerMetadata
}

// ParseNostrConnectURI parses
//
//	nostrconnect://<hex-pubkey>?relay=<url>&relay=<url>&metadata=<json>
//
// metadata, when present, must come last and runs until the end of the input.
func ParseNostrConnectURI(input string) (NostrConnectURI, error) {
	var ncu NostrConnectURI
	sc := uriScanner{s: input}

	if !sc.consume(nostrConnectScheme) {
		return ncu, ErrBadScheme
	}

	pk, ok := sc.take(64)
	if !ok || !IsValidPublicKey(pk) {
		return ncu, fmt.Errorf("%w: '%s'", ErrBadPeerKey, pk)
	}
	ncu.PeerPubKey = pk

	if !sc.consume("?") {
		return ncu, ErrMissingSeparator
	}

	for !sc.done() {
		switch {
		case sc.consume("relay="):
			raw, _ := sc.until('&')
			relay, ok := normalizeRelay(unescape(raw))
			if !ok {
				return ncu, fmt.Errorf("%w: '%s'", ErrBadRelay, raw)
			}
			ncu.Relays = append(ncu.Relays, relay)
		case sc.consume("metadata="):
			raw := unescape(sc.rest())
			if !strings.HasPrefix(strings.TrimSpace(raw), "{") {
				return ncu, ErrBadMetadata
			}
			var md PeerMetadata
			if err := json.Unmarshal([]byte(raw), &md); err != nil {
				return ncu, fmt.Errorf("%w: %w", ErrBadMetadata, err)
			}
			ncu.Metadata = &md
		default:
			// TODO: skip unknown fields once peers are known to send others (e.g. perms, secret)
			return ncu, ErrUnknownField
		}
	}

	return ncu, nil
}

func (ncu NostrConnectURI) String() string {
	var b strings.Builder
	b.WriteString(nostrConnectScheme)
	b.WriteString(ncu.PeerPubKey)
	b.WriteByte('?')
	for i, r := range ncu.Relays {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString("relay=")
		b.WriteString(escape(r))
	}
	if ncu.Metadata != nil {
		if len(ncu.Relays) > 0 {
			b.WriteByte('&')
		}
		j, _ := json.Marshal(ncu.Metadata)
		b.WriteString("metadata=")
		b.WriteString(escape(string(j)))
	}
	return b.String()
}

var valueEscaper = strings.NewReplacer("%", "%25", "&", "%26", "?", "%3F", "#", "%23", " ", "%20")

// escape encodes only what would end a value early or be mistaken for an escape.
func escape(s string) string { return valueEscaper.Replace(s) }

// percent-encoded values are decoded, anything else is taken literally
func unescape(s string) string {
	if !strings.Contains(s, "%") {
		return s
	}
	if u, err := url.PathUnescape(s); err == nil {
		return u
	}
	return s
}

// uriScanner walks over the uri without ever slicing past its end.
type uriScanner struct {
	s string
}

func (sc *uriScanner) done() bool { return sc.s == "" }

func (sc *uriScanner) consume(prefix string) bool {
	if !strings.HasPrefix(sc.s, prefix) {
		return false
	}
	sc.s = sc.s[len(prefix):]
	return true
}

func (sc *uriScanner) take(n int) (string, bool) {
	if len(sc.s) < n {
		v := sc.s
		sc.s = ""
		return v, false
	}
	v := sc.s[:n]
	sc.s = sc.s[n:]
	return v, true
}

// until returns everything before sep and moves past it. found is false if sep never shows up,
// in which case the remainder is returned.
func (sc *uriScanner) until(sep byte) (segment string, found bool) {
	idx := strings.IndexByte(sc.s, sep)
	if idx == -1 {
		return sc.rest(), false
	}
	segment = sc.s[:idx]
	sc.s = sc.s[idx+1:]
	return segment, true
}

func (sc *uriScanner) rest() string {
	v := sc.s
	sc.s = ""
	return v
}
