package session

import (
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"scripthost/internal/auth"
)

const CookieName = "session"

type entry struct {
	identity auth.Identity
	expires  time.Time
}

// Manager maps opaque tokens to identities. Tokens are uuid v4 strings held
// in an HttpOnly cookie; entries expire after ttl and are swept lazily on
// lookup plus periodically by a background loop.
type Manager struct {
	ttl time.Duration

	mu     sync.Mutex
	tokens map[string]entry

	stopCh   chan struct{}
	stopOnce sync.Once
}

func NewManager(ttl time.Duration) *Manager {
	m := &Manager{
		ttl:    ttl,
		tokens: make(map[string]entry),
		stopCh: make(chan struct{}),
	}
	go m.sweepLoop()
	return m
}

// Stop terminates the background sweep.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() { close(m.stopCh) })
}

// Start issues a token for id and sets the session cookie.
func (m *Manager) Start(w http.ResponseWriter, id auth.Identity) string {
	token := uuid.NewString()
	m.mu.Lock()
	m.tokens[token] = entry{identity: id, expires: time.Now().Add(m.ttl)}
	m.mu.Unlock()
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(m.ttl / time.Second),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	return token
}

// Destroy drops the request's session, if any, and clears the cookie.
func (m *Manager) Destroy(w http.ResponseWriter, r *http.Request) {
	if c, err := r.Cookie(CookieName); err == nil && c.Value != "" {
		m.mu.Lock()
		delete(m.tokens, c.Value)
		m.mu.Unlock()
	}
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
	})
}

// Identify resolves the request's cookie to an identity.
func (m *Manager) Identify(r *http.Request) (auth.Identity, bool) {
	c, err := r.Cookie(CookieName)
	if err != nil || c.Value == "" {
		return auth.Identity{}, false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.tokens[c.Value]
	if !ok {
		return auth.Identity{}, false
	}
	if time.Now().After(e.expires) {
		delete(m.tokens, c.Value)
		return auth.Identity{}, false
	}
	return e.identity, true
}

// Len reports live (possibly expired but unswept) sessions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tokens)
}

func (m *Manager) sweepLoop() {
	t := time.NewTicker(10 * time.Minute)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			m.sweep()
		case <-m.stopCh:
			return
		}
	}
}

func (m *Manager) sweep() {
	now := time.Now()
	m.mu.Lock()
	defer m.mu.Unlock()
	for tok, e := range m.tokens {
		if now.After(e.expires) {
			delete(m.tokens, tok)
		}
	}
}
