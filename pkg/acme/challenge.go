package acme

import (
	"sync"

	"github.com/hangarlabs/hangar/pkg/log"
)

// ChallengeMap holds active HTTP-01 token -> key-authorization pairs.
// The driver writes entries while an order is in flight and the bouncer
// proxy reads them to answer /.well-known/acme-challenge/{token}.
type ChallengeMap struct {
	mu         sync.RWMutex
	challenges map[string]string
}

// NewChallengeMap creates an empty challenge map.
func NewChallengeMap() *ChallengeMap {
	return &ChallengeMap{challenges: make(map[string]string)}
}

// Present implements the lego challenge provider interface.
func (m *ChallengeMap) Present(domain, token, keyAuth string) error {
	m.mu.Lock()
	m.challenges[token] = keyAuth
	m.mu.Unlock()

	log.WithComponent("acme").Debug().
		Str("domain", domain).
		Str("token", token).
		Msg("Presenting HTTP-01 challenge")
	return nil
}

// CleanUp implements the lego challenge provider interface.
func (m *ChallengeMap) CleanUp(domain, token, keyAuth string) error {
	m.mu.Lock()
	delete(m.challenges, token)
	m.mu.Unlock()

	log.WithComponent("acme").Debug().
		Str("domain", domain).
		Str("token", token).
		Msg("Cleaned up HTTP-01 challenge")
	return nil
}

// KeyAuth returns the key authorization for a token, if one is active.
func (m *ChallengeMap) KeyAuth(token string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keyAuth, ok := m.challenges[token]
	return keyAuth, ok
}
