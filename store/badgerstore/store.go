package badgerstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
	"github.com/nostrsigner/bunker"
	"github.com/nostrsigner/bunker/store"
)

var _ bunker.SessionStore = (*Store)(nil)

// Store keeps sessions in badger. Transactions are optimistic, so writes that conflict
// with a concurrent transaction are retried from scratch.
type Store struct {
	db *badger.DB
}

const maxRetries = 10

func New(path string) (*Store, error) {
	opts := badger.DefaultOptions(path).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) update(fn func(txn *badger.Txn) error) error {
	var err error
	for i := 0; i < maxRetries; i++ {
		err = s.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
	}
	return err
}

// get returns a copy of the value, nil if there is none.
func get(txn *badger.Txn, key []byte) ([]byte, error) {
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return item.ValueCopy(nil)
}

func (s *Store) GetSession(ctx context.Context, peerPubKey string) (bunker.PairedSession, bool, error) {
	var raw []byte
	err := s.db.View(func(txn *badger.Txn) (err error) {
		raw, err = get(txn, store.SessionKey(peerPubKey))
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
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek(store.SessionPrefix); it.ValidForPrefix(store.SessionPrefix); it.Next() {
			item := it.Item()
			if err := item.Value(func(v []byte) error {
				session, err := store.DecodeSession(v)
				if err != nil {
					return fmt.Errorf("corrupted session under %s: %w", item.Key(), err)
				}
				list = append(list, session)
				return nil
			}); err != nil {
				return err
			}
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
	return s.update(func(txn *badger.Txn) error {
		key := store.SessionKey(session.PeerPubKey)
		if existing, err := get(txn, key); err != nil {
			return err
		} else if existing != nil {
			return bunker.ErrAlreadyPaired
		}
		return txn.Set(key, val)
	})
}

func (s *Store) GetUnpaired(ctx context.Context) (bunker.UnpairedContext, bool, error) {
	var raw []byte
	err := s.db.View(func(txn *badger.Txn) (err error) {
		raw, err = get(txn, store.UnpairedKey)
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
	return s.update(func(txn *badger.Txn) error {
		return txn.Set(store.UnpairedKey, val)
	})
}

func (s *Store) DeleteUnpaired(ctx context.Context) error {
	return s.update(func(txn *badger.Txn) error {
		return txn.Delete(store.UnpairedKey)
	})
}

func (s *Store) CompletePairing(ctx context.Context, session bunker.PairedSession, secret string) error {
	val, err := store.EncodeSession(session)
	if err != nil {
		return err
	}

	// both keys are read inside the transaction, so a concurrent pairing makes this one
	// conflict and the retry then sees the committed state
	return s.update(func(txn *badger.Txn) error {
		key := store.SessionKey(session.PeerPubKey)
		existing, err := get(txn, key)
		if err != nil {
			return err
		}

		var uc bunker.UnpairedContext
		raw, err := get(txn, store.UnpairedKey)
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

		if err := txn.Set(key, val); err != nil {
			return err
		}
		return txn.Delete(store.UnpairedKey)
	})
}
