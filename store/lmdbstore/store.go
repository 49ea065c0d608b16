package lmdbstore

import (
	"bytes"
	"context"
	"fmt"
	"os"

	"github.com/PowerDNS/lmdb-go/lmdb"
	"github.com/nostrsigner/bunker"
	"github.com/nostrsigner/bunker/store"
)

var _ bunker.SessionStore = (*Store)(nil)

// Store keeps sessions in LMDB. Each pairing is a single write transaction.
type Store struct {
	env *lmdb.Env
	dbi lmdb.DBI
}

func New(path string) (*Store, error) {
	// create directory if it doesn't exist
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, err
	}

	env, err := lmdb.NewEnv()
	if err != nil {
		return nil, err
	}

	env.SetMaxDBs(1)
	env.SetMapSize(1 << 26) // 64MB, sessions are tiny

	if err := env.Open(path, lmdb.NoTLS, 0o644); err != nil {
		env.Close()
		return nil, err
	}

	s := &Store{env: env}
	if err := env.Update(func(txn *lmdb.Txn) error {
		dbi, err := txn.OpenDBI("bunker", lmdb.Create)
		if err != nil {
			return err
		}
		s.dbi = dbi
		return nil
	}); err != nil {
		env.Close()
		return nil, err
	}

	return s, nil
}

func (s *Store) Close() error {
	s.env.Close()
	return nil
}

// get copies the value since it is only valid during the transaction. nil means not found.
func (s *Store) get(txn *lmdb.Txn, key []byte) ([]byte, error) {
	v, err := txn.Get(s.dbi, key)
	if lmdb.IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return bytes.Clone(v), nil
}

func (s *Store) GetSession(ctx context.Context, peerPubKey string) (bunker.PairedSession, bool, error) {
	var raw []byte
	err := s.env.View(func(txn *lmdb.Txn) (err error) {
		raw, err = s.get(txn, store.SessionKey(peerPubKey))
		return err
	})
	if err != nil || raw == nil {
		return bunker.PairedSession{}, false, err
	}

	session, err := store.DecodeSession(raw)
	if err != nil {
		return session, false, fmt.Errorf("corrupted session for %s: %w", peerPubKey, err)
	}
	return session, true, nil
}

func (s *Store) ListSessions(ctx context.Context) ([]bunker.PairedSession, error) {
	list := make([]bunker.PairedSession, 0, 8)
	err := s.env.View(func(txn *lmdb.Txn) error {
		cursor, err := txn.OpenCursor(s.dbi)
		if err != nil {
			return err
		}
		defer cursor.Close()

		k, v, err := cursor.Get(store.SessionPrefix, nil, lmdb.SetRange)
		for ; err == nil && bytes.HasPrefix(k, store.SessionPrefix); k, v, err = cursor.Get(nil, nil, lmdb.Next) {
			session, derr := store.DecodeSession(v)
			if derr != nil {
				return fmt.Errorf("corrupted session under %s: %w", k, derr)
			}
			list = append(list, session)
		}
		if err != nil && !lmdb.IsNotFound(err) {
			return err
		}
		return nil
	})
	return list, err
}

func (s *Store) PutSession(ctx context.Context, session bunker.PairedSession) error {
	val, err := store.EncodeSession(session)
	if err != nil {
		return err
	}
	return s.env.Update(func(txn *lmdb.Txn) error {
		key := store.SessionKey(session.PeerPubKey)
		if existing, err := s.get(txn, key); err != nil {
			return err
		} else if existing != nil {
			return bunker.ErrAlreadyPaired
		}
		return txn.Put(s.dbi, key, val, 0)
	})
}

func (s *Store) GetUnpaired(ctx context.Context) (bunker.UnpairedContext, bool, error) {
	var raw []byte
	err := s.env.View(func(txn *lmdb.Txn) (err error) {
		raw, err = s.get(txn, store.UnpairedKey)
		return err
	})
	if err != nil || raw == nil {
		return bunker.UnpairedContext{}, false, err
	}

	uc, err := store.DecodeUnpaired(raw)
	if err != nil {
		return uc, false, fmt.Errorf("corrupted unpaired context: %w", err)
	}
	return uc, true, nil
}

func (s *Store) PutUnpaired(ctx context.Context, uc bunker.UnpairedContext) error {
	val, err := store.EncodeUnpaired(uc)
	if err != nil {
		return err
	}
	return s.env.Update(func(txn *lmdb.Txn) error {
		return txn.Put(s.dbi, store.UnpairedKey, val, 0)
	})
}

func (s *Store) DeleteUnpaired(ctx context.Context) error {
	return s.env.Update(func(txn *lmdb.Txn) error {
		err := txn.Del(s.dbi, store.UnpairedKey, nil)
		if lmdb.IsNotFound(err) {
			return nil
		}
		return err
	})
}

func (s *Store) CompletePairing(ctx context.Context, session bunker.PairedSession, secret string) error {
	val, err := store.EncodeSession(session)
	if err != nil {
		return err
	}

	// lmdb has a single writer, so whoever gets here second sees what the first one did
	return s.env.Update(func(txn *lmdb.Txn) error {
		key := store.SessionKey(session.PeerPubKey)
		existing, err := s.get(txn, key)
		if err != nil {
			return err
		}

		var uc bunker.UnpairedContext
		raw, err := s.get(txn, store.UnpairedKey)
		if err != nil {
			return err
		}
		if raw != nil {
			if uc, err = store.DecodeUnpaired(raw); err != nil {
				return fmt.Errorf("corrupted unpaired context: %w", err)
			}
		}

		if err := store.CheckPairing(existing != nil, uc, raw != nil, secret); err != nil {
			return err
		}

		if err := txn.Put(s.dbi, key, val, 0); err != nil {
			return err
		}
		return txn.Del(s.dbi, store.UnpairedKey, nil)
	})
}
