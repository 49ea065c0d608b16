package identity

import (
	"context"
	"crypto/aes"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/nbd-wtf/go-nostr"
	"github.com/nbd-wtf/go-nostr/nip04"
	"github.com/nbd-wtf/go-nostr/nip44"
	"github.com/nostrsigner/bunker"
	"github.com/puzpuzpuz/xsync/v3"
)

var _ bunker.Identity = (*KeySigner)(nil)

// KeySigner holds the private key in memory and can do all the operations instantly.
type KeySigner struct {
	sk string
	pk string

	sharedSecrets *xsync.MapOf[string, []byte]
}

// NewKeySigner takes a hex secret key.
func NewKeySigner(sk string) (*KeySigner, error) {
	pk, err := nostr.GetPublicKey(sk)
	if err != nil {
		return nil, fmt.Errorf("invalid secret key: %w", err)
	}
	return &KeySigner{
		sk:            sk,
		pk:            pk,
		sharedSecrets: xsync.NewMapOf[string, []byte](),
	}, nil
}

func (ks *KeySigner) GetPublicKey(ctx context.Context) (string, error) {
	if ks.pk == "" {
		return "", bunker.ErrNoPublicKey
	}
	return ks.pk, nil
}

func (ks *KeySigner) SignEvent(ctx context.Context, evt *nostr.Event) error {
	return evt.Sign(ks.sk)
}

func (ks *KeySigner) sharedSecret(peer string) ([]byte, error) {
	if ss, ok := ks.sharedSecrets.Load(peer); ok {
		return ss, nil
	}
	ss, err := nip04.ComputeSharedSecret(peer, ks.sk)
	if err != nil {
		return nil, fmt.Errorf("failed to compute shared secret: %w", err)
	}
	ks.sharedSecrets.Store(peer, ss)
	return ss, nil
}

func (ks *KeySigner) EncryptNip04(ctx context.Context, plaintext string, recipient string) (string, error) {
	ss, err := ks.sharedSecret(recipient)
	if err != nil {
		return "", err
	}
	return nip04.Encrypt(plaintext, ss)
}

func (ks *KeySigner) DecryptNip04(ctx context.Context, ciphertext string, sender string) (string, error) {
	if err := checkNip04Payload(ciphertext); err != nil {
		return "", err
	}
	ss, err := ks.sharedSecret(sender)
	if err != nil {
		return "", err
	}
	return nip04.Decrypt(ciphertext, ss)
}

// checkNip04Payload rejects what nip04.Decrypt would otherwise panic on.
func checkNip04Payload(payload string) error {
	b64ct, b64iv, ok := strings.Cut(payload, "?iv=")
	if !ok {
		return fmt.Errorf("invalid nip04 payload: missing iv")
	}
	iv, err := base64.StdEncoding.DecodeString(b64iv)
	if err != nil {
		return fmt.Errorf("invalid nip04 iv: %w", err)
	}
	if len(iv) != aes.BlockSize {
		return fmt.Errorf("invalid nip04 iv: %d bytes, expected %d", len(iv), aes.BlockSize)
	}
	ct, err := base64.StdEncoding.DecodeString(b64ct)
	if err != nil {
		return fmt.Errorf("invalid nip04 ciphertext: %w", err)
	}
	if len(ct) == 0 || len(ct)%aes.BlockSize != 0 {
		return fmt.Errorf("invalid nip04 ciphertext: %d bytes is not a whole number of blocks", len(ct))
	}
	return nil
}

func (ks *KeySigner) ConversationKey(ctx context.Context, peer string) ([]byte, error) {
	ck, err := nip44.GenerateConversationKey(peer, ks.sk)
	if err != nil {
		return nil, fmt.Errorf("failed to compute conversation key: %w", err)
	}
	return ck[:], nil
}

func (ks *KeySigner) Encrypt(ctx context.Context, plaintext string, recipient string) (string, error) {
	ck, err := nip44.GenerateConversationKey(recipient, ks.sk)
	if err != nil {
		return "", fmt.Errorf("failed to compute conversation key: %w", err)
	}
	return nip44.Encrypt(plaintext, ck)
}

func (ks *KeySigner) Decrypt(ctx context.Context, base64ciphertext string, sender string) (string, error) {
	ck, err := nip44.GenerateConversationKey(sender, ks.sk)
	if err != nil {
		return "", fmt.Errorf("failed to compute conversation key: %w", err)
	}
	return nip44.Decrypt(base64ciphertext, ck)
}
