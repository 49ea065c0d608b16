package transport_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/fiatjaf/khatru"
	"github.com/nbd-wtf/go-nostr"
	"github.com/nostrsigner/bunker"
	"github.com/nostrsigner/bunker/identity"
	"github.com/nostrsigner/bunker/store/memory"
	"github.com/nostrsigner/bunker/transport"
	"github.com/stretchr/testify/require"
)

func startRelay(t *testing.T, relay *khatru.Relay) string {
	t.Helper()
	srv := httptest.NewServer(relay)
	t.Cleanup(srv.Close)
	return "ws://" + strings.TrimPrefix(srv.URL, "http://")
}

func TestPublishAndListen(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	url := startRelay(t, khatru.NewRelay())
	pool := transport.New(ctx, nil)

	receiver := identity.Generate()
	receiverPK, _ := receiver.GetPublicKey(ctx)
	inbound := pool.Listen(ctx, receiverPK, []string{url})

	sender := identity.Generate()
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case in := <-inbound:
			require.Equal(t, nostr.KindNostrConnect, in.Event.Kind)
			require.Equal(t, nostr.NormalizeURL(url), in.Relay)
			return
		case <-ticker.C:
			// keep trying until the subscription is live
			evt := nostr.Event{
				Kind:      nostr.KindNostrConnect,
				CreatedAt: nostr.Now(),
				Tags:      nostr.Tags{{"p", receiverPK}},
			}
			require.NoError(t, sender.SignEvent(ctx, &evt))
			require.NoError(t, pool.Publish(ctx, evt, []string{url}))
		case <-ctx.Done():
			t.Fatal("nothing received")
		}
	}
}

func TestPublishFailures(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool := transport.New(ctx, nil)
	evt := nostr.Event{Kind: nostr.KindNostrConnect, CreatedAt: nostr.Now()}
	require.NoError(t, identity.Generate().SignEvent(ctx, &evt))

	require.ErrorIs(t, pool.Publish(ctx, evt, nil), bunker.ErrRelayNeeded)
	require.Error(t, pool.Publish(ctx, evt, []string{"ws://127.0.0.1:1"}))

	// one good relay is enough
	require.NoError(t, pool.Publish(ctx, evt, []string{"ws://127.0.0.1:1", startRelay(t, khatru.NewRelay())}))
}

func TestPublishDoesNotWaitForAcknowledgement(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	// this relay takes events but never answers with OK
	silent := khatru.NewRelay()
	block := make(chan struct{})
	silent.StoreEvent = append(silent.StoreEvent, func(ctx context.Context, evt *nostr.Event) error {
		<-block
		return nil
	})
	url := startRelay(t, silent)
	t.Cleanup(func() { close(block) })

	pool := transport.New(ctx, nil)
	for i := 0; i < 3; i++ {
		evt := nostr.Event{Kind: 1, CreatedAt: nostr.Now(), Content: fmt.Sprintf("n%d", i)}
		require.NoError(t, identity.Generate().SignEvent(ctx, &evt))

		start := time.Now()
		require.NoError(t, pool.Publish(ctx, evt, []string{url}))
		require.Less(t, time.Since(start), 2*time.Second)
	}
}

// TestRemoteSigning pairs and signs over a real relay, the way an app would talk to us.
func TestRemoteSigning(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	url := startRelay(t, khatru.NewRelay())

	signer := identity.Generate()
	signerPK, _ := signer.GetPublicKey(ctx)
	pool := transport.New(ctx, nil)
	engine := bunker.New(signer, memory.New(), pool)

	token, err := engine.CreatePairing(ctx, []string{url})
	require.NoError(t, err)
	_, rest, _ := strings.Cut(token, "#")
	secret, _, _ := strings.Cut(rest, "?")

	go engine.Run(ctx, pool.Listen(ctx, signerPK, []string{url}), 2)

	app := identity.Generate()
	appPK, _ := app.GetPublicKey(ctx)
	appPool := transport.New(ctx, nil)
	replies := appPool.Listen(ctx, appPK, []string{url})

	request := func(id string, method string, params ...string) bunker.Response {
		t.Helper()
		j, _ := json.Marshal(map[string]any{"id": id, "method": method, "params": params})
		ciphertext, err := app.EncryptNip04(ctx, string(j), signerPK)
		require.NoError(t, err)

		ticker := time.NewTicker(500 * time.Millisecond)
		defer ticker.Stop()
		for {
			evt := nostr.Event{
				Kind:      nostr.KindNostrConnect,
				CreatedAt: nostr.Now(),
				Tags:      nostr.Tags{{"p", signerPK}},
				Content:   ciphertext,
			}
			require.NoError(t, app.SignEvent(ctx, &evt))
			require.NoError(t, appPool.Publish(ctx, evt, []string{url}))

			select {
			case in := <-replies:
				plain, err := app.DecryptNip04(ctx, in.Event.Content, signerPK)
				require.NoError(t, err)
				var resp bunker.Response
				require.NoError(t, json.Unmarshal([]byte(plain), &resp))
				return resp
			case <-ticker.C:
				// subscriptions might not have been live yet
			case <-ctx.Done():
				t.Fatalf("no reply to %s", method)
			}
		}
	}

	resp := request("1", "connect", signerPK, secret)
	require.Equal(t, "1", resp.ID)
	if resp.Result != "ack" {
		// our first connect went through before the reply subscription was live
		require.Equal(t, "already connected", resp.Error)
	}

	resp = request("2", "sign_event", `{"kind":1,"created_at":1700000000,"tags":[],"content":"remote"}`)
	for resp.ID != "2" { // a retried connect may answer late
		resp = request("2", "sign_event", `{"kind":1,"created_at":1700000000,"tags":[],"content":"remote"}`)
	}
	require.Empty(t, resp.Error)

	var signed nostr.Event
	require.NoError(t, json.Unmarshal([]byte(resp.Result), &signed))
	require.Equal(t, signerPK, signed.PubKey)
	require.Equal(t, "remote", signed.Content)
}
