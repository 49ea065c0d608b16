package bunker

import (
	"context"

	"github.com/nbd-wtf/go-nostr"
)

// Identity is the locally held key on behalf of which the engine answers peers.
// It abstracts away key management, so the key may be in memory, encrypted or elsewhere.
type Identity interface {
	Signer
	LegacyCipher
	Cipher
}

// Signer signs events with the local key.
type Signer interface {
	// GetPublicKey returns the hex public key, or ErrNoPublicKey when no key is configured.
	GetPublicKey(ctx context.Context) (string, error)

	// SignEvent sets ID, PubKey and Sig on the event.
	SignEvent(ctx context.Context, evt *nostr.Event) error
}

// LegacyCipher is NIP-04 encryption. It is also what the transport envelope uses.
type LegacyCipher interface {
	EncryptNip04(ctx context.Context, plaintext string, recipientPublicKey string) (string, error)
	DecryptNip04(ctx context.Context, ciphertext string, senderPublicKey string) (string, error)
}

// Cipher is NIP-44 (v2) encryption.
type Cipher interface {
	// ConversationKey returns the 32-byte NIP-44 conversation key shared with peer.
	ConversationKey(ctx context.Context, peerPublicKey string) ([]byte, error)

	Encrypt(ctx context.Context, plaintext string, recipientPublicKey string) (base64ciphertext string, err error)
	Decrypt(ctx context.Context, base64ciphertext string, senderPublicKey string) (plaintext string, err error)
}

// SessionStore durably holds the paired sessions and the single pending UnpairedContext.
// Implementations must be safe for concurrent use.
type SessionStore interface {
	// GetSession returns the session for peer, if any.
	GetSession(ctx context.Context, peerPubKey string) (PairedSession, bool, error)
	ListSessions(ctx context.Context) ([]PairedSession, error)

	// PutSession creates a session directly, used for client-initiated (nostrconnect://) pairing.
	// It fails with ErrAlreadyPaired if the peer has one already.
	PutSession(ctx context.Context, session PairedSession) error

	GetUnpaired(ctx context.Context) (UnpairedContext, bool, error)

	// PutUnpaired replaces any existing unpaired context.
	PutUnpaired(ctx context.Context, uc UnpairedContext) error
	DeleteUnpaired(ctx context.Context) error

	// CompletePairing atomically creates session and deletes the unpaired context, provided
	// the stored context holds secret and no session exists for session.PeerPubKey.
	// Otherwise nothing is written and ErrAlreadyPaired, ErrNoPendingPairing or
	// ErrSecretMismatch is returned.
	CompletePairing(ctx context.Context, session PairedSession, secret string) error

	Close() error
}

// Transport delivers already signed events to relays.
type Transport interface {
	Publish(ctx context.Context, evt nostr.Event, relays []string) error
}
