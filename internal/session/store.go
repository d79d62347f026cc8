package session

import (
	"sync"

	"bistro/internal/domain"
)

// CredentialStore is the single owner of the current token pair. It is the
// only shared mutable state in the client core, so all access goes through
// the lock; readers never see a half-replaced pair.
type CredentialStore struct {
	mu   sync.RWMutex
	cred domain.Credential
	set  bool
}

func NewCredentialStore() *CredentialStore {
	return &CredentialStore{}
}

func (s *CredentialStore) Get() (domain.Credential, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cred, s.set
}

// Set replaces both tokens at once (login).
func (s *CredentialStore) Set(cred domain.Credential) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cred = cred
	s.set = true
}

// SetAccessToken swaps in a renewed access token while keeping the refresh
// token of the current pair. A cleared store stays cleared: a renewal that
// lost the race against Clear must not resurrect the session.
func (s *CredentialStore) SetAccessToken(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.set {
		return
	}
	s.cred.AccessToken = token
}

func (s *CredentialStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cred = domain.Credential{}
	s.set = false
}
