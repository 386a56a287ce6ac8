package middleware

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"

	pkgmw "github.com/tars-dashboard/engine/pkg/middleware"
)

// DefaultCookieName carries the client session id.
const DefaultCookieName = "tars_sid"

// SessionCookie gives every client a stable session id, the server-side
// counterpart of a browser tab's sessionStorage scope.
type SessionCookie struct {
	Name   string
	Secure bool
	MaxAge time.Duration
}

// Handler reads the session cookie, issuing a fresh random id when it is
// missing or malformed, and stores the id in the request context.
func (sc SessionCookie) Handler(next http.Handler) http.Handler {
	name := sc.Name
	if name == "" {
		name = DefaultCookieName
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := ""
		if c, err := r.Cookie(name); err == nil {
			if parsed, err := uuid.Parse(c.Value); err == nil {
				id = parsed.String()
			}
		}
		if id == "" {
			id = uuid.NewString()
			cookie := &http.Cookie{
				Name:     name,
				Value:    id,
				Path:     "/",
				HttpOnly: true,
				Secure:   sc.Secure,
				SameSite: http.SameSiteLaxMode,
			}
			if sc.MaxAge > 0 {
				cookie.MaxAge = int(sc.MaxAge.Seconds())
			}
			http.SetCookie(w, cookie)
		}
		next.ServeHTTP(w, r.WithContext(pkgmw.SetSessionID(r.Context(), id)))
	})
}

// RequireUnlocked rejects requests whose session is locked with 401.
func RequireUnlocked(unlocked func(r *http.Request, sessionID string) bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := pkgmw.GetSessionID(r.Context())
			if id == "" || !unlocked(r, id) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				json.NewEncoder(w).Encode(map[string]string{
					"error":   "session_locked",
					"message": "Dashboard is locked",
				})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
