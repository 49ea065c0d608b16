package bunker

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"unicode/utf8"

	"github.com/mailru/easyjson"
	"github.com/nbd-wtf/go-nostr"
	"github.com/tidwall/gjson"
)

// Method is the closed set of commands a peer can send.
type Method int

const (
	MethodUnknown Method = iota
	MethodConnect
	MethodGetPublicKey
	MethodSignEvent
	MethodGetRelays
	MethodNip04Encrypt
	MethodNip04Decrypt
	MethodNip44GetKey
	MethodNip44Encrypt
	MethodNip44Decrypt
	MethodPing
)

var methodNames = map[string]Method{
	"connect":        MethodConnect,
	"get_public_key": MethodGetPublicKey,
	"sign_event":     MethodSignEvent,
	"get_relays":     MethodGetRelays,
	"nip04_encrypt":  MethodNip04Encrypt,
	"nip04_decrypt":  MethodNip04Decrypt,
	"nip44_get_key":  MethodNip44GetKey,
	"nip44_encrypt":  MethodNip44Encrypt,
	"nip44_decrypt":  MethodNip44Decrypt,
	"ping":           MethodPing,
}

// ParseMethod maps a wire name to its Method, MethodUnknown if there is none.
func ParseMethod(name string) Method {
	return methodNames[name]
}

func (m Method) String() string {
	for name, mm := range methodNames {
		if mm == m {
			return name
		}
	}
	return "unknown"
}

var errUnrecognized = errors.New("unrecognized command")

// Dispatch runs cmd for an already paired session. The returned error is what the peer
// gets told; it only matters to the caller of Dispatch when it wraps ErrNoPublicKey.
func (e *Engine) Dispatch(ctx context.Context, session PairedSession, cmd Command) (string, error) {
	switch cmd.Method {
	case MethodConnect:
		return "", fmt.Errorf("already connected")
	case MethodGetPublicKey:
		return e.getPublicKey(ctx)
	case MethodSignEvent:
		return e.signEvent(ctx, cmd.Params)
	case MethodGetRelays:
		return getRelays(session)
	case MethodNip04Encrypt:
		return e.withPeerAndText(ctx, "nip04_encrypt", cmd.Params, e.Identity.EncryptNip04)
	case MethodNip04Decrypt:
		return e.nip04Decrypt(ctx, cmd.Params)
	case MethodNip44GetKey:
		return e.nip44GetKey(ctx, cmd.Params)
	case MethodNip44Encrypt:
		return e.withPeerAndText(ctx, "nip44_encrypt", cmd.Params, e.Identity.Encrypt)
	case MethodNip44Decrypt:
		return e.withPeerAndText(ctx, "nip44_decrypt", cmd.Params, e.Identity.Decrypt)
	case MethodPing:
		return "pong", nil
	case MethodUnknown:
		return "", errUnrecognized
	}
	return "", errUnrecognized
}

func (e *Engine) getPublicKey(ctx context.Context) (string, error) {
	pk, err := e.Identity.GetPublicKey(ctx)
	if err != nil {
		return "", err
	}
	if pk == "" {
		return "", ErrNoPublicKey
	}
	return pk, nil
}

func (e *Engine) signEvent(ctx context.Context, params []string) (string, error) {
	if len(params) < 1 {
		return "", fmt.Errorf("sign_event: requires a parameter")
	}

	pk, err := e.getPublicKey(ctx)
	if err != nil {
		return "", err
	}

	evt, err := parseUnsignedEvent(params[0], pk)
	if err != nil {
		return "", fmt.Errorf("sign_event: %w", err)
	}

	if err := e.Identity.SignEvent(ctx, &evt); err != nil {
		return "", fmt.Errorf("sign_event: failed to sign: %w", err)
	}

	jevt, err := easyjson.Marshal(evt)
	if err != nil {
		return "", fmt.Errorf("sign_event: failed to encode event: %w", err)
	}
	return string(jevt), nil
}

// parseUnsignedEvent reads {pubkey?, created_at?, kind, tags, content}.
// A pubkey other than ours is refused here, before anything gets signed.
func parseUnsignedEvent(descriptor string, ourPubKey string) (nostr.Event, error) {
	var evt nostr.Event

	if !gjson.Valid(descriptor) {
		return evt, fmt.Errorf("invalid json")
	}
	d := gjson.Parse(descriptor)
	if !d.IsObject() {
		return evt, fmt.Errorf("event is not a json object")
	}

	if pk := d.Get("pubkey"); pk.Exists() && pk.Type != gjson.Null {
		if pk.Type != gjson.String || pk.Str != ourPubKey {
			return evt, fmt.Errorf("pubkey mismatch")
		}
	}
	evt.PubKey = ourPubKey

	switch ca := d.Get("created_at"); ca.Type {
	case gjson.Null:
		evt.CreatedAt = nostr.Now()
	case gjson.Number:
		evt.CreatedAt = nostr.Timestamp(ca.Int())
	default:
		return evt, fmt.Errorf("created_at is not a number")
	}

	kind := d.Get("kind")
	if kind.Type != gjson.Number {
		return evt, fmt.Errorf("kind missing or not a number")
	}
	evt.Kind = int(kind.Int())

	tags := d.Get("tags")
	if !tags.IsArray() {
		return evt, fmt.Errorf("tags missing or not an array")
	}
	evt.Tags = make(nostr.Tags, 0, len(tags.Array()))
	for _, jtag := range tags.Array() {
		if !jtag.IsArray() {
			return evt, fmt.Errorf("tag is not an array")
		}
		tag := make(nostr.Tag, 0, len(jtag.Array()))
		for _, item := range jtag.Array() {
			if item.Type != gjson.String {
				return evt, fmt.Errorf("tag item is not a string")
			}
			tag = append(tag, item.Str)
		}
		evt.Tags = append(evt.Tags, tag)
	}

	content := d.Get("content")
	if content.Type != gjson.String {
		return evt, fmt.Errorf("content missing or not a string")
	}
	evt.Content = content.Str

	return evt, nil
}

func getRelays(session PairedSession) (string, error) {
	relays := session.Relays
	if relays == nil {
		relays = []string{}
	}
	j, err := json.Marshal(relays)
	if err != nil {
		return "", err
	}
	return string(j), nil
}

func (e *Engine) withPeerAndText(
	ctx context.Context,
	name string,
	params []string,
	op func(ctx context.Context, text string, peer string) (string, error),
) (string, error) {
	if len(params) < 2 {
		return "", fmt.Errorf("%s: requires two parameters", name)
	}
	if !IsValidPublicKey(params[0]) {
		return "", fmt.Errorf("%s: first parameter is not a valid public key", name)
	}
	res, err := op(ctx, params[1], params[0])
	if err != nil {
		return "", fmt.Errorf("%s: %w", name, err)
	}
	return res, nil
}

func (e *Engine) nip04Decrypt(ctx context.Context, params []string) (string, error) {
	plain, err := e.withPeerAndText(ctx, "nip04_decrypt", params, e.Identity.DecryptNip04)
	if err != nil {
		return "", err
	}
	if !utf8.ValidString(plain) {
		return "", fmt.Errorf("nip04_decrypt: plaintext is not valid utf-8")
	}
	return plain, nil
}

func (e *Engine) nip44GetKey(ctx context.Context, params []string) (string, error) {
	if len(params) < 1 {
		return "", fmt.Errorf("nip44_get_key: requires a parameter")
	}
	if !IsValidPublicKey(params[0]) {
		return "", fmt.Errorf("nip44_get_key: parameter is not a valid public key")
	}
	ck, err := e.Identity.ConversationKey(ctx, params[0])
	if err != nil {
		return "", fmt.Errorf("nip44_get_key: %w", err)
	}
	return hex.EncodeToString(ck), nil
}
