package bunker

import (
	"context"
	"fmt"

	"github.com/mailru/easyjson/jwriter"
	"github.com/nbd-wtf/go-nostr"
	"github.com/tidwall/gjson"
)

// DecodeCommand decrypts content sent by sender and parses the command envelope inside it.
//
// Errors that happen before the id is known cannot be answered and are plain errors.
// After that they are *ParseError, which carries the id so a response can be targeted.
func (e *Engine) DecodeCommand(ctx context.Context, sender string, content string) (Command, error) {
	var cmd Command

	plain, err := e.Identity.DecryptNip04(ctx, content, sender)
	if err != nil {
		return cmd, fmt.Errorf("%w from %s: %w", ErrDecrypt, sender, err)
	}

	return parseCommand(plain)
}

func parseCommand(plain string) (Command, error) {
	var cmd Command

	if !gjson.Valid(plain) {
		return cmd, ErrNotJSONObject
	}
	root := gjson.Parse(plain)
	if !root.IsObject() {
		return cmd, ErrNotJSONObject
	}

	id := root.Get("id")
	if id.Type != gjson.String {
		return cmd, ErrMissingID
	}
	cmd.ID = id.Str

	method := root.Get("method")
	if !method.Exists() {
		return cmd, &ParseError{ID: cmd.ID, Reason: "method parameter missing"}
	}
	if method.Type != gjson.String {
		return cmd, &ParseError{ID: cmd.ID, Reason: "method not a string"}
	}
	cmd.Name = method.Str
	cmd.Method = ParseMethod(method.Str)

	params := root.Get("params")
	if !params.Exists() {
		return cmd, &ParseError{ID: cmd.ID, Reason: "params missing"}
	}
	if !params.IsArray() {
		return cmd, &ParseError{ID: cmd.ID, Reason: "params not an array"}
	}
	elems := params.Array()
	cmd.Params = make([]string, 0, len(elems))
	for _, p := range elems {
		if p.Type != gjson.String {
			return cmd, &ParseError{ID: cmd.ID, Reason: "non-string parameter found"}
		}
		cmd.Params = append(cmd.Params, p.Str)
	}

	return cmd, nil
}

// MarshalJSON writes all three fields, even when empty.
func (r Response) MarshalJSON() ([]byte, error) {
	w := jwriter.Writer{}
	w.RawString(`{"id":`)
	w.String(r.ID)
	w.RawString(`,"result":`)
	w.String(r.Result)
	w.RawString(`,"error":`)
	w.String(r.Error)
	w.RawByte('}')
	return w.BuildBytes()
}

// SendResponse encrypts resp to recipient, wraps it in a signed kind 24133 event and publishes it.
// This is the only way a peer ever learns the outcome of a request.
func (e *Engine) SendResponse(ctx context.Context, resp Response, recipient string, relays []string) error {
	if len(relays) == 0 {
		return ErrRelayNeeded
	}

	jresp, err := resp.MarshalJSON()
	if err != nil {
		return fmt.Errorf("failed to encode response: %w", err)
	}

	ciphertext, err := e.Identity.EncryptNip04(ctx, string(jresp), recipient)
	if err != nil {
		return fmt.Errorf("failed to encrypt response: %w", err)
	}

	evt := nostr.Event{
		Content:   ciphertext,
		CreatedAt: nostr.Now(),
		Kind:      nostr.KindNostrConnect,
		Tags:      nostr.Tags{nostr.Tag{"p", recipient}},
	}
	if err := e.Identity.SignEvent(ctx, &evt); err != nil {
		return fmt.Errorf("failed to sign response: %w", err)
	}

	if err := e.Transport.Publish(ctx, evt, relays); err != nil {
		return fmt.Errorf("failed to publish response to %v: %w", relays, err)
	}

	e.Metrics.responseSent(resp)
	Logger.Debug().Str("id", resp.ID).Str("peer", recipient).Strs("relays", relays).
		Bool("error", resp.Error != "").Msg("response sent")
	return nil
}

func (e *Engine) reply(ctx context.Context, id string, result string, errText string, recipient string, relays []string) error {
	return e.SendResponse(ctx, Response{ID: id, Result: result, Error: errText}, recipient, relays)
}
