package test

import (
	"context"
	"sync"
	"testing"

	"github.com/nostrsigner/bunker"
	"github.com/stretchr/testify/require"
)

const (
	peer1  = "79be667ef9dcbbac55a06295ce870b07029bfcdb2dce28d959f2815b16f81798"
	peer2  = "c6047f9441ed7d6d3045406e95c07cd85c778e4b8cef3ca7abac09b95c709ee5"
	relayA = "wss://aaa.com"
	relayB = "wss://bbb.net"
	relayC = "wss://ccc.org"
)

func runTestWith(t *testing.T, db bunker.SessionStore) {
	ctx := context.Background()

	// empty store
	_, ok, err := db.GetUnpaired(ctx)
	require.NoError(t, err)
	require.False(t, ok)

	_, ok, err = db.GetSession(ctx, peer1)
	require.NoError(t, err)
	require.False(t, ok)

	list, err := db.ListSessions(ctx)
	require.NoError(t, err)
	require.Empty(t, list)

	// nothing to redeem yet
	err = db.CompletePairing(ctx, bunker.PairedSession{PeerPubKey: peer1, Relays: []string{relayA}}, "s1")
	require.ErrorIs(t, err, bunker.ErrNoPendingPairing)

	// there is only ever one unpaired context
	require.NoError(t, db.PutUnpaired(ctx, bunker.UnpairedContext{Secret: "s1", Relays: []string{relayA}}))
	require.NoError(t, db.PutUnpaired(ctx, bunker.UnpairedContext{Secret: "s2", Relays: []string{relayA, relayB}}))
	uc, ok, err := db.GetUnpaired(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, bunker.UnpairedContext{Secret: "s2", Relays: []string{relayA, relayB}}, uc)

	// wrong secret leaves everything alone
	err = db.CompletePairing(ctx, bunker.PairedSession{PeerPubKey: peer1, Relays: []string{relayA}}, "s1")
	require.ErrorIs(t, err, bunker.ErrSecretMismatch)
	_, ok, _ = db.GetSession(ctx, peer1)
	require.False(t, ok)
	_, ok, _ = db.GetUnpaired(ctx)
	require.True(t, ok)

	// the right one creates the session and consumes the context
	session1 := bunker.PairedSession{PeerPubKey: peer1, Relays: []string{relayA, relayB, relayC}}
	require.NoError(t, db.CompletePairing(ctx, session1, "s2"))

	got, ok, err := db.GetSession(ctx, peer1)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, session1, got)

	_, ok, err = db.GetUnpaired(ctx)
	require.NoError(t, err)
	require.False(t, ok)

	// pairing again is refused even with a new context around
	require.NoError(t, db.PutUnpaired(ctx, bunker.UnpairedContext{Secret: "s3", Relays: []string{relayC}}))
	err = db.CompletePairing(ctx, bunker.PairedSession{PeerPubKey: peer1, Relays: []string{relayC}}, "s3")
	require.ErrorIs(t, err, bunker.ErrAlreadyPaired)
	_, ok, _ = db.GetUnpaired(ctx)
	require.True(t, ok, "a refused pairing must not consume the context")

	// abandoning
	require.NoError(t, db.DeleteUnpaired(ctx))
	_, ok, _ = db.GetUnpaired(ctx)
	require.False(t, ok)
	require.NoError(t, db.DeleteUnpaired(ctx))

	// client-initiated sessions carry metadata
	session2 := bunker.PairedSession{
		PeerPubKey: peer2,
		Relays:     []string{relayB},
		Metadata:   &bunker.PeerMetadata{Name: "app", URL: "https://app.example", Description: "an app"},
	}
	require.NoError(t, db.PutSession(ctx, session2))
	require.ErrorIs(t, db.PutSession(ctx, session2), bunker.ErrAlreadyPaired)

	got, ok, err = db.GetSession(ctx, peer2)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, session2, got)

	list, err = db.ListSessions(ctx)
	require.NoError(t, err)
	require.ElementsMatch(t, []bunker.PairedSession{session1, session2}, list)
}

func runConcurrentPairingTestWith(t *testing.T, db bunker.SessionStore) {
	ctx := context.Background()
	require.NoError(t, db.PutUnpaired(ctx, bunker.UnpairedContext{Secret: "race", Relays: []string{relayA}}))

	const attempts = 8
	errs := make([]error, attempts)
	wg := sync.WaitGroup{}
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = db.CompletePairing(ctx, bunker.PairedSession{PeerPubKey: peer1, Relays: []string{relayA}}, "race")
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		require.ErrorIs(t, err, bunker.ErrAlreadyPaired)
	}
	require.Equal(t, 1, succeeded)

	list, err := db.ListSessions(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)

	_, ok, err := db.GetUnpaired(ctx)
	require.NoError(t, err)
	require.False(t, ok)
}
