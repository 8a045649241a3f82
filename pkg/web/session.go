package web

import (
	"crypto/subtle"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
)

// SessionCookie is the name of the cookie holding the session id.
const SessionCookie = "snaptrack_session"

// DefaultSessionTTL is how long a login stays valid.
const DefaultSessionTTL = 24 * time.Hour

// sessions is an in-memory session table. Sessions do not survive a
// restart of the server.
type sessions struct {
	mu      sync.Mutex
	expires map[string]time.Time
	ttl     time.Duration
	now     func() time.Time
}

func newSessions(ttl time.Duration, now func() time.Time) *sessions {
	return &sessions{expires: make(map[string]time.Time), ttl: ttl, now: now}
}

// create starts a session and returns its id.
func (s *sessions) create() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := uuid.NewString()
	now := s.now()
	s.expires[id] = now.Add(s.ttl)

	for k, exp := range s.expires {
		if now.After(exp) {
			delete(s.expires, k)
		}
	}
	return id
}

func (s *sessions) valid(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	exp, ok := s.expires[id]
	if !ok {
		return false
	}
	if s.now().After(exp) {
		delete(s.expires, id)
		return false
	}
	return true
}

func (s *sessions) destroy(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.expires, id)
}

// sessionID returns the session cookie value of r, or "".
func sessionID(r *http.Request) string {
	c, err := r.Cookie(SessionCookie)
	if err != nil {
		return ""
	}
	return c.Value
}

// credentialsMatch compares both values in constant time.
func credentialsMatch(gotUser, gotPass, wantUser, wantPass string) bool {
	userOK := subtle.ConstantTimeCompare([]byte(gotUser), []byte(wantUser))
	passOK := subtle.ConstantTimeCompare([]byte(gotPass), []byte(wantPass))
	return userOK&passOK == 1
}
