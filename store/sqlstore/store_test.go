package sqlstore

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/jmoiron/sqlx"
	"github.com/nostrsigner/bunker"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

const peer = "79be667ef9dcbbac55a06295ce870b07029bfcdb2dce28d959f2815b16f81798"

func openTestStore(t *testing.T) *Store {
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "bunker.sqlite"))
	require.NoError(t, err)
	db.SetMaxOpenConns(1)

	s, err := New(db, "sqlite")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// the writes must hold up on their own when a concurrent transaction got in between
// the checks and the commit
func TestCommitPairingAfterLostRace(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	require.NoError(t, s.PutUnpaired(ctx, bunker.UnpairedContext{Secret: "s1", Relays: []string{"wss://a.com"}}))
	require.NoError(t, s.PutSession(ctx, bunker.PairedSession{PeerPubKey: peer, Relays: []string{"wss://b.com"}}))

	err := s.inTx(ctx, func(txn *sqlx.Tx) error {
		return s.commitPairing(ctx, txn, bunker.PairedSession{PeerPubKey: peer, Relays: []string{"wss://a.com"}}, "s1")
	})
	require.ErrorIs(t, err, bunker.ErrAlreadyPaired)

	// rolled back: the invitation is still there and the existing session untouched
	uc, ok, err := s.GetUnpaired(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "s1", uc.Secret)
	session, _, err := s.GetSession(ctx, peer)
	require.NoError(t, err)
	require.Equal(t, []string{"wss://b.com"}, session.Relays)

	require.NoError(t, s.DeleteUnpaired(ctx))
	err = s.inTx(ctx, func(txn *sqlx.Tx) error {
		return s.commitPairing(ctx, txn, bunker.PairedSession{PeerPubKey: "other", Relays: []string{"wss://a.com"}}, "s1")
	})
	require.ErrorIs(t, err, bunker.ErrNoPendingPairing)

	_, ok, err = s.GetSession(ctx, "other")
	require.NoError(t, err)
	require.False(t, ok)
}
