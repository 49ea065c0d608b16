package memory

import (
	"context"
	"slices"
	"strings"
	"sync"

	"github.com/nostrsigner/bunker"
	"github.com/nostrsigner/bunker/store"
)

var _ bunker.SessionStore = (*Store)(nil)

// Store keeps everything in process memory, it is for tests and ephemeral signers.
type Store struct {
	sessions map[string]bunker.PairedSession
	unpaired *bunker.UnpairedContext

	sync.Mutex
}

func New() *Store {
	return &Store{
		sessions: make(map[string]bunker.PairedSession),
	}
}

func clone(s bunker.PairedSession) bunker.PairedSession {
	s.Relays = slices.Clone(s.Relays)
	if s.Metadata != nil {
		md := *s.Metadata
		s.Metadata = &md
	}
	return s
}

func (s *Store) GetSession(ctx context.Context, peerPubKey string) (bunker.PairedSession, bool, error) {
	s.Lock()
	defer s.Unlock()

	session, ok := s.sessions[peerPubKey]
	if !ok {
		return bunker.PairedSession{}, false, nil
	}
	return clone(session), true, nil
}

func (s *Store) ListSessions(ctx context.Context) ([]bunker.PairedSession, error) {
	s.Lock()
	defer s.Unlock()

	list := make([]bunker.PairedSession, 0, len(s.sessions))
	for _, session := range s.sessions {
		list = append(list, clone(session))
	}
	slices.SortFunc(list, func(a, b bunker.PairedSession) int {
		return strings.Compare(a.PeerPubKey, b.PeerPubKey)
	})
	return list, nil
}

func (s *Store) PutSession(ctx context.Context, session bunker.PairedSession) error {
	s.Lock()
	defer s.Unlock()

	if _, exists := s.sessions[session.PeerPubKey]; exists {
		return bunker.ErrAlreadyPaired
	}
	s.sessions[session.PeerPubKey] = clone(session)
	return nil
}

func (s *Store) GetUnpaired(ctx context.Context) (bunker.UnpairedContext, bool, error) {
	s.Lock()
	defer s.Unlock()

	if s.unpaired == nil {
		return bunker.UnpairedContext{}, false, nil
	}
	uc := *s.unpaired
	uc.Relays = slices.Clone(uc.Relays)
	return uc, true, nil
}

func (s *Store) PutUnpaired(ctx context.Context, uc bunker.UnpairedContext) error {
	s.Lock()
	defer s.Unlock()

	uc.Relays = slices.Clone(uc.Relays)
	s.unpaired = &uc
	return nil
}

func (s *Store) DeleteUnpaired(ctx context.Context) error {
	s.Lock()
	defer s.Unlock()

	s.unpaired = nil
	return nil
}

func (s *Store) CompletePairing(ctx context.Context, session bunker.PairedSession, secret string) error {
	s.Lock()
	defer s.Unlock()

	_, paired := s.sessions[session.PeerPubKey]
	var uc bunker.UnpairedContext
	if s.unpaired != nil {
		uc = *s.unpaired
	}
	if err := store.CheckPairing(paired, uc, s.unpaired != nil, secret); err != nil {
		return err
	}

	s.sessions[session.PeerPubKey] = clone(session)
	s.unpaired = nil
	return nil
}

func (s *Store) Close() error { return nil }
