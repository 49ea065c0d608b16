package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/nostrsigner/bunker"
	"github.com/nostrsigner/bunker/store"
)

var _ bunker.SessionStore = (*Store)(nil)

// Store keeps sessions in a SQL database through sqlx.
//
// With sqlite the *sql.DB should be limited to a single open connection, which is what
// serializes concurrent pairings.
type Store struct {
	*sqlx.DB
}

type sessionRow struct {
	PeerPubKey string         `db:"peer_pubkey"`
	Relays     string         `db:"relays"`
	Metadata   sql.NullString `db:"metadata"`
}

type unpairedRow struct {
	Secret string `db:"secret"`
	Relays string `db:"relays"`
}

// New takes an open database and the sqlx driver name ("sqlite", "sqlite3" or "postgres")
// and creates the tables if needed.
func New(db *sql.DB, driverName string) (*Store, error) {
	s := &Store{DB: sqlx.NewDb(db, driverName)}

	if _, err := s.Exec(`CREATE TABLE IF NOT EXISTS bunker_sessions (` +
		`peer_pubkey text PRIMARY KEY, ` +
		`relays text NOT NULL, ` +
		`metadata text` +
		`)`); err != nil {
		return nil, fmt.Errorf("failed to create sessions table: %w", err)
	}
	if _, err := s.Exec(`CREATE TABLE IF NOT EXISTS bunker_unpaired (` +
		`id integer PRIMARY KEY CHECK (id = 1), ` +
		`secret text NOT NULL, ` +
		`relays text NOT NULL` +
		`)`); err != nil {
		return nil, fmt.Errorf("failed to create unpaired table: %w", err)
	}

	return s, nil
}

func (row sessionRow) toSession() (bunker.PairedSession, error) {
	session := bunker.PairedSession{PeerPubKey: row.PeerPubKey}
	relays, err := store.DecodeRelays(row.Relays)
	if err != nil {
		return session, fmt.Errorf("corrupted relays for %s: %w", row.PeerPubKey, err)
	}
	session.Relays = relays

	if row.Metadata.Valid {
		var md bunker.PeerMetadata
		if err := json.UnmarshalFromString(row.Metadata.String, &md); err != nil {
			return session, fmt.Errorf("corrupted metadata for %s: %w", row.PeerPubKey, err)
		}
		session.Metadata = &md
	}
	return session, nil
}

func fromSession(session bunker.PairedSession) (sessionRow, error) {
	row := sessionRow{PeerPubKey: session.PeerPubKey}
	relays, err := store.EncodeRelays(session.Relays)
	if err != nil {
		return row, err
	}
	row.Relays = relays

	if session.Metadata != nil {
		md, err := json.MarshalToString(session.Metadata)
		if err != nil {
			return row, err
		}
		row.Metadata = sql.NullString{String: md, Valid: true}
	}
	return row, nil
}

func (s *Store) GetSession(ctx context.Context, peerPubKey string) (bunker.PairedSession, bool, error) {
	var row sessionRow
	err := s.GetContext(ctx, &row,
		s.Rebind(`SELECT peer_pubkey, relays, metadata FROM bunker_sessions WHERE peer_pubkey = ?`), peerPubKey)
	if errors.Is(err, sql.ErrNoRows) {
		return bunker.PairedSession{}, false, nil
	}
	if err != nil {
		return bunker.PairedSession{}, false, err
	}

	session, err := row.toSession()
	return session, err == nil, err
}

func (s *Store) ListSessions(ctx context.Context) ([]bunker.PairedSession, error) {
	rows := make([]sessionRow, 0, 8)
	if err := s.SelectContext(ctx, &rows,
		`SELECT peer_pubkey, relays, metadata FROM bunker_sessions ORDER BY peer_pubkey`); err != nil {
		return nil, err
	}

	list := make([]bunker.PairedSession, 0, len(rows))
	for _, row := range rows {
		session, err := row.toSession()
		if err != nil {
			return nil, err
		}
		list = append(list, session)
	}
	return list, nil
}

func (s *Store) PutSession(ctx context.Context, session bunker.PairedSession) error {
	return s.inTx(ctx, func(txn *sqlx.Tx) error {
		paired, err := s.hasSession(ctx, txn, session.PeerPubKey)
		if err != nil {
			return err
		}
		if paired {
			return bunker.ErrAlreadyPaired
		}
		return s.insertSession(ctx, txn, session)
	})
}

func (s *Store) GetUnpaired(ctx context.Context) (bunker.UnpairedContext, bool, error) {
	return s.getUnpaired(ctx, s.DB)
}

func (s *Store) getUnpaired(ctx context.Context, q sqlx.QueryerContext) (bunker.UnpairedContext, bool, error) {
	var row unpairedRow
	err := sqlx.GetContext(ctx, q, &row, `SELECT secret, relays FROM bunker_unpaired WHERE id = 1`)
	if errors.Is(err, sql.ErrNoRows) {
		return bunker.UnpairedContext{}, false, nil
	}
	if err != nil {
		return bunker.UnpairedContext{}, false, err
	}

	relays, err := store.DecodeRelays(row.Relays)
	if err != nil {
		return bunker.UnpairedContext{}, false, fmt.Errorf("corrupted unpaired context: %w", err)
	}
	return bunker.UnpairedContext{Secret: row.Secret, Relays: relays}, true, nil
}

func (s *Store) PutUnpaired(ctx context.Context, uc bunker.UnpairedContext) error {
	relays, err := store.EncodeRelays(uc.Relays)
	if err != nil {
		return err
	}
	_, err = s.ExecContext(ctx, s.Rebind(
		`INSERT INTO bunker_unpaired (id, secret, relays) VALUES (1, ?, ?) `+
			`ON CONFLICT (id) DO UPDATE SET secret = excluded.secret, relays = excluded.relays`),
		uc.Secret, relays)
	return err
}

func (s *Store) DeleteUnpaired(ctx context.Context) error {
	_, err := s.ExecContext(ctx, `DELETE FROM bunker_unpaired`)
	return err
}

func (s *Store) CompletePairing(ctx context.Context, session bunker.PairedSession, secret string) error {
	return s.inTx(ctx, func(txn *sqlx.Tx) error {
		paired, err := s.hasSession(ctx, txn, session.PeerPubKey)
		if err != nil {
			return err
		}
		uc, pending, err := s.getUnpaired(ctx, txn)
		if err != nil {
			return err
		}
		if err := store.CheckPairing(paired, uc, pending, secret); err != nil {
			return err
		}

		return s.commitPairing(ctx, txn, session, secret)
	})
}

// commitPairing does the writes of CompletePairing without relying on the reads before it,
// which a concurrent transaction may have invalidated under READ COMMITTED.
func (s *Store) commitPairing(ctx context.Context, txn *sqlx.Tx, session bunker.PairedSession, secret string) error {
	res, err := txn.ExecContext(ctx,
		s.Rebind(`DELETE FROM bunker_unpaired WHERE id = 1 AND secret = ?`), secret)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		return bunker.ErrNoPendingPairing
	}

	return s.insertSession(ctx, txn, session)
}

func (s *Store) inTx(ctx context.Context, fn func(txn *sqlx.Tx) error) error {
	txn, err := s.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(txn); err != nil {
		txn.Rollback()
		return err
	}
	return txn.Commit()
}

func (s *Store) hasSession(ctx context.Context, txn *sqlx.Tx, peerPubKey string) (bool, error) {
	var count int
	err := txn.GetContext(ctx, &count,
		s.Rebind(`SELECT count(*) FROM bunker_sessions WHERE peer_pubkey = ?`), peerPubKey)
	return count > 0, err
}

// insertSession fails with ErrAlreadyPaired if the peer has a session, including one
// committed by a concurrent transaction.
func (s *Store) insertSession(ctx context.Context, txn *sqlx.Tx, session bunker.PairedSession) error {
	row, err := fromSession(session)
	if err != nil {
		return err
	}
	res, err := txn.NamedExecContext(ctx,
		`INSERT INTO bunker_sessions (peer_pubkey, relays, metadata) VALUES (:peer_pubkey, :relays, :metadata) `+
			`ON CONFLICT (peer_pubkey) DO NOTHING`,
		row)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return bunker.ErrAlreadyPaired
	}
	return nil
}
