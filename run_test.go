package bunker_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/nostrsigner/bunker"
	"github.com/stretchr/testify/require"
)

func TestRunKeepsPeerOrder(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	peers := make([]peer, 5)
	for i := range peers {
		peers[i] = newPeer(t, h.pk)
		h.pairDirectly(t, peers[i], "wss://a.com")
	}

	inbound := make(chan bunker.Inbound)
	done := make(chan struct{})
	go func() {
		h.engine.Run(ctx, inbound, 3)
		close(done)
	}()

	const perPeer = 20
	for n := 0; n < perPeer; n++ {
		for i, p := range peers {
			inbound <- bunker.Inbound{Event: p.command(t, fmt.Sprintf("%d-%d", i, n), "ping"), Relay: "wss://a.com"}
		}
	}
	inbound <- bunker.Inbound{} // ignored
	close(inbound)

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("Run didn't return after inbound was closed")
	}

	for i, p := range peers {
		rs := h.replies(t, p)
		require.Len(t, rs, perPeer)
		for n, r := range rs {
			require.Equal(t, fmt.Sprintf("%d-%d", i, n), r.ID)
			require.Equal(t, "pong", r.Result)
		}
	}
}

func TestRunStopsWithContext(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		h.engine.Run(ctx, make(chan bunker.Inbound), 0)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Run didn't return after cancel")
	}
}
