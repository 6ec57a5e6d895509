package auth

import (
	"errors"
	"net/http"

	"github.com/gorilla/sessions"
)

const (
	SessionName = "inbox-session"
	userIDKey   = "user_id"
	maxAge      = 30 * 24 * 60 * 60
)

var ErrNoSession = errors.New("no authenticated session")

// Sessions keeps the authenticated user id in a signed and encrypted cookie.
type Sessions struct {
	store *sessions.CookieStore
}

// NewSessions derives the cookie keys from secret. The first 32 bytes sign
// the cookie, the next 32 (when present) encrypt it.
func NewSessions(secret []byte, secure bool) *Sessions {
	keys := [][]byte{secret}
	if len(secret) >= 64 {
		keys = [][]byte{secret[:32], secret[32:64]}
	}
	store := sessions.NewCookieStore(keys...)
	store.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	}
	return &Sessions{store: store}
}

func (s *Sessions) Login(w http.ResponseWriter, r *http.Request, userID string) error {
	// A tampered or stale cookie yields a fresh session along with the error.
	session, _ := s.store.Get(r, SessionName)
	session.Values[userIDKey] = userID
	return session.Save(r, w)
}

// UserID returns the id of the authenticated user behind r.
func (s *Sessions) UserID(r *http.Request) (string, error) {
	session, err := s.store.Get(r, SessionName)
	if err != nil {
		return "", ErrNoSession
	}
	userID, ok := session.Values[userIDKey].(string)
	if !ok || userID == "" {
		return "", ErrNoSession
	}
	return userID, nil
}

func (s *Sessions) Logout(w http.ResponseWriter, r *http.Request) error {
	session, _ := s.store.Get(r, SessionName)
	delete(session.Values, userIDKey)
	session.Options.MaxAge = -1
	return session.Save(r, w)
}
