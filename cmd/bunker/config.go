package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/nostrsigner/bunker"
	"github.com/nostrsigner/bunker/identity"
	"github.com/nostrsigner/bunker/store/badgerstore"
	"github.com/nostrsigner/bunker/store/lmdbstore"
	"github.com/nostrsigner/bunker/store/memory"
	"github.com/nostrsigner/bunker/store/sqlstore"
	"github.com/spf13/viper"
	_ "modernc.org/sqlite"
)

func loadIdentity(v *viper.Viper) (*identity.KeySigner, error) {
	sk := v.GetString("secret-key")
	if sk == "" {
		return nil, fmt.Errorf("%w: pass --secret-key or set BUNKER_SECRET_KEY", bunker.ErrNoPublicKey)
	}
	return identity.New(sk, v.GetString("password"))
}

func openStore(kind string, dataDir string) (bunker.SessionStore, error) {
	switch kind {
	case "memory":
		return memory.New(), nil
	case "lmdb":
		return lmdbstore.New(filepath.Join(dataDir, "lmdb"))
	case "badger":
		return badgerstore.New(filepath.Join(dataDir, "badger"))
	case "sqlite":
		if err := os.MkdirAll(dataDir, 0o700); err != nil {
			return nil, err
		}
		db, err := sql.Open("sqlite", filepath.Join(dataDir, "bunker.sqlite"))
		if err != nil {
			return nil, err
		}
		db.SetMaxOpenConns(1)
		return sqlstore.New(db, "sqlite")
	default:
		return nil, fmt.Errorf("unknown store '%s'", kind)
	}
}

// newEngine wires an engine out of the configuration. The returned close func releases the store.
func newEngine(ctx context.Context, v *viper.Viper, transport bunker.Transport) (*bunker.Engine, func(), error) {
	ks, err := loadIdentity(v)
	if err != nil {
		return nil, nil, err
	}

	st, err := openStore(v.GetString("store"), v.GetString("data-dir"))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open %s store: %w", v.GetString("store"), err)
	}

	return bunker.New(ks, st, transport), func() { st.Close() }, nil
}

// listenRelays is everywhere a request could come from: configured relays, the pending
// pairing's relays and the relays of every session.
func listenRelays(ctx context.Context, st bunker.SessionStore, configured []string) ([]string, error) {
	relays := append([]string{}, configured...)

	uc, ok, err := st.GetUnpaired(ctx)
	if err != nil {
		return nil, err
	}
	if ok {
		relays = append(relays, uc.Relays...)
	}

	sessions, err := st.ListSessions(ctx)
	if err != nil {
		return nil, err
	}
	for _, s := range sessions {
		relays = append(relays, s.Relays...)
	}

	return bunker.NormalizeRelays(relays...), nil
}
