package bunker

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/nbd-wtf/go-nostr"
)

// replies sent to senders that have no session
const (
	msgNotConfigured   = "not configured to receive a connection"
	msgNotPaired       = "your pubkey is not configured for pairing here"
	msgConnectParams   = "connect requires two parameters"
	msgWrongTargetKey  = "not configured to sign with the requested public key"
	msgIncorrectSecret = "incorrect secret"
	resultAck          = "ack"
)

// Engine answers NIP-46 requests on behalf of Identity. It holds everything a request
// needs, so there is no global state and all collaborators can be swapped in tests.
type Engine struct {
	Identity  Identity
	Store     SessionStore
	Transport Transport

	// Metrics is optional.
	Metrics *Metrics
}

func New(identity Identity, store SessionStore, transport Transport) *Engine {
	return &Engine{
		Identity:  identity,
		Store:     store,
		Transport: transport,
	}
}

// HandleEvent processes one inbound kind 24133 event seen on relay seenOn (which may be empty).
//
// A nil return means a response was sent or nothing could be sent for expected reasons.
// Returned errors are infrastructure or configuration failures and undecryptable or
// malformed messages; rejections of peers are never returned.
func (e *Engine) HandleEvent(ctx context.Context, evt *nostr.Event, seenOn string) error {
	if evt.Kind != nostr.KindNostrConnect {
		return fmt.Errorf("%w: got %d, expected %d", ErrWrongKind, evt.Kind, nostr.KindNostrConnect)
	}
	if ok, _ := evt.CheckSignature(); !ok {
		return fmt.Errorf("%w on %s from %s", ErrBadSignature, evt.ID, evt.PubKey)
	}

	session, paired, err := e.Store.GetSession(ctx, evt.PubKey)
	if err != nil {
		return fmt.Errorf("failed to read session for %s: %w", evt.PubKey, err)
	}
	if paired {
		return e.handlePaired(ctx, session, evt)
	}
	return e.handleUnpaired(ctx, evt, seenOn)
}

func (e *Engine) handlePaired(ctx context.Context, session PairedSession, evt *nostr.Event) error {
	cmd, err := e.DecodeCommand(ctx, evt.PubKey, evt.Content)
	if err != nil {
		return e.failDecode(ctx, err, evt.PubKey, session.Relays)
	}
	return e.serve(ctx, session, cmd)
}

// serve dispatches cmd and sends the outcome back over the session relays.
func (e *Engine) serve(ctx context.Context, session PairedSession, cmd Command) error {
	Logger.Debug().Str("peer", session.PeerPubKey).Str("id", cmd.ID).Str("method", cmd.Name).Msg("command")

	result, derr := e.Dispatch(ctx, session, cmd)
	e.Metrics.commandHandled(cmd.Method, derr)

	if derr != nil {
		if err := e.reply(ctx, cmd.ID, "", derr.Error(), session.PeerPubKey, session.Relays); err != nil {
			return errors.Join(derr, err)
		}
		if errors.Is(derr, ErrNoPublicKey) {
			return derr
		}
		return nil
	}

	return e.reply(ctx, cmd.ID, result, "", session.PeerPubKey, session.Relays)
}

// failDecode answers attributable decoding failures and always returns the original error.
func (e *Engine) failDecode(ctx context.Context, err error, sender string, relays []string) error {
	e.Metrics.decodeFailed()

	var perr *ParseError
	if errors.As(err, &perr) {
		if rerr := e.reply(ctx, perr.ID, "", perr.Reason, sender, relays); rerr != nil {
			return errors.Join(err, rerr)
		}
	}
	return err
}

// handleUnpaired is the pairing handshake: the only thing a stranger can do is redeem
// the pending UnpairedContext with a connect command carrying our key and its secret.
func (e *Engine) handleUnpaired(ctx context.Context, evt *nostr.Event, seenOn string) error {
	uc, pending, err := e.Store.GetUnpaired(ctx)
	if err != nil {
		return fmt.Errorf("failed to read unpaired context: %w", err)
	}

	var replyRelays []string
	if pending {
		replyRelays = NormalizeRelays(append(slices.Clone(uc.Relays), seenOn)...)
	} else {
		replyRelays = NormalizeRelays(seenOn)
	}
	if len(replyRelays) == 0 {
		return ErrRelayNeeded
	}

	cmd, err := e.DecodeCommand(ctx, evt.PubKey, evt.Content)
	if err != nil {
		return e.failDecode(ctx, err, evt.PubKey, replyRelays)
	}

	log := Logger.With().Str("peer", evt.PubKey).Str("id", cmd.ID).Str("method", cmd.Name).Logger()
	reject := func(msg string) error {
		log.Info().Str("reason", msg).Msg("rejected pairing attempt")
		e.Metrics.pairingAttempt(msg)
		return e.reply(ctx, cmd.ID, "", msg, evt.PubKey, replyRelays)
	}

	if !pending {
		return reject(msgNotConfigured)
	}
	if cmd.Method != MethodConnect {
		return reject(msgNotPaired)
	}
	if len(cmd.Params) != 2 {
		return reject(msgConnectParams)
	}

	pk, err := e.Identity.GetPublicKey(ctx)
	if err == nil && pk == "" {
		err = ErrNoPublicKey
	}
	if err != nil {
		log.Error().Err(err).Msg("can't pair without a local key")
		if rerr := e.reply(ctx, cmd.ID, "", msgConnectParams, evt.PubKey, replyRelays); rerr != nil {
			return errors.Join(err, rerr)
		}
		return err
	}

	if cmd.Params[0] != pk {
		return reject(msgWrongTargetKey)
	}
	if cmd.Params[1] != uc.Secret {
		return reject(msgIncorrectSecret)
	}

	session := PairedSession{
		PeerPubKey: evt.PubKey,
		Relays:     replyRelays,
	}
	switch err := e.Store.CompletePairing(ctx, session, cmd.Params[1]); {
	case err == nil:
	case errors.Is(err, ErrAlreadyPaired):
		// somebody else paired this peer in the meantime, so this is an ordinary command
		existing, ok, gerr := e.Store.GetSession(ctx, evt.PubKey)
		if gerr != nil {
			return fmt.Errorf("failed to read session for %s: %w", evt.PubKey, gerr)
		}
		if !ok {
			return fmt.Errorf("session for %s vanished: %w", evt.PubKey, err)
		}
		return e.serve(ctx, existing, cmd)
	case errors.Is(err, ErrNoPendingPairing):
		return reject(msgNotConfigured)
	case errors.Is(err, ErrSecretMismatch):
		return reject(msgIncorrectSecret)
	default:
		return fmt.Errorf("failed to store session for %s: %w", evt.PubKey, err)
	}

	log.Info().Strs("relays", replyRelays).Msg("paired")
	e.Metrics.pairingAttempt(resultAck)
	return e.reply(ctx, cmd.ID, resultAck, "", evt.PubKey, replyRelays)
}

// CreatePairing replaces any pending invitation with a new one and returns the token
// to be handed to the peer out of band.
func (e *Engine) CreatePairing(ctx context.Context, relays []string) (string, error) {
	pk, err := e.Identity.GetPublicKey(ctx)
	if err != nil {
		return "", err
	}
	if pk == "" {
		return "", ErrNoPublicKey
	}

	uc, err := NewUnpairedContext(relays)
	if err != nil {
		return "", err
	}
	token, err := uc.Token(pk)
	if err != nil {
		return "", err
	}

	if err := e.Store.PutUnpaired(ctx, uc); err != nil {
		return "", fmt.Errorf("failed to store unpaired context: %w", err)
	}
	return token, nil
}

// CancelPairing abandons the pending invitation, if any.
func (e *Engine) CancelPairing(ctx context.Context) error {
	return e.Store.DeleteUnpaired(ctx)
}

// AcceptNostrConnect pairs with a peer that offered itself with a nostrconnect:// uri.
func (e *Engine) AcceptNostrConnect(ctx context.Context, uri string) (PairedSession, error) {
	ncu, err := ParseNostrConnectURI(uri)
	if err != nil {
		return PairedSession{}, err
	}

	relays := NormalizeRelays(ncu.Relays...)
	if len(relays) == 0 {
		return PairedSession{}, ErrRelayNeeded
	}

	session := PairedSession{
		PeerPubKey: ncu.PeerPubKey,
		Relays:     relays,
		Metadata:   ncu.Metadata,
	}
	if err := e.Store.PutSession(ctx, session); err != nil {
		return PairedSession{}, err
	}
	return session, nil
}
