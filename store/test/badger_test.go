package test

import (
	"testing"

	"github.com/nostrsigner/bunker/store/badgerstore"
	"github.com/stretchr/testify/require"
)

func TestBadgerStore(t *testing.T) {
	db, err := badgerstore.New(t.TempDir())
	require.NoError(t, err)
	defer db.Close()

	runTestWith(t, db)
}

func TestBadgerStoreConcurrentPairing(t *testing.T) {
	db, err := badgerstore.New(t.TempDir())
	require.NoError(t, err)
	defer db.Close()

	runConcurrentPairingTestWith(t, db)
}
