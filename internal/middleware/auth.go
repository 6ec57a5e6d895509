package middleware

import (
	"context"
	"encoding/json"
	"log"
	"net/http"

	"github.com/pliu/inbox/internal/auth"
)

type contextKey string

const UserIDKey contextKey = "user_id"

// ForbiddenMessage is returned to every request without a valid session.
const ForbiddenMessage = "Forbidden."

// Auth rejects requests that carry no authenticated session and puts the
// user id of the others into the request context.
func Auth(sessions *auth.Sessions) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, err := sessions.UserID(r)
			if err != nil {
				writeForbidden(w, r)
				return
			}

			ctx := context.WithValue(r.Context(), UserIDKey, userID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func writeForbidden(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusForbidden)
	if err := json.NewEncoder(w).Encode(map[string]string{"message": ForbiddenMessage}); err != nil {
		log.Printf("%s %s: encode forbidden response: %v", r.Method, r.URL.Path, err)
	}
}

func UserIDFromContext(ctx context.Context) (string, bool) {
	userID, ok := ctx.Value(UserIDKey).(string)
	return userID, ok && userID != ""
}
