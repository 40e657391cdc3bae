package api

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
)

const (
	// SessionCookie names the browser session cookie.
	SessionCookie = "clinicchat_session"
	// SessionHeader lets non-browser clients pick a session explicitly.
	SessionHeader = "X-Session-ID"

	sessionCookieMaxAge = 30 * 24 * time.Hour
)

type sessionKey struct{}

// Sessions assigns every request a session id, taken from the X-Session-ID
// header, then the session cookie, else freshly generated and set as a cookie.
func Sessions(secure bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get(SessionHeader)
			if id == "" {
				if c, err := r.Cookie(SessionCookie); err == nil && validSessionID(c.Value) {
					id = c.Value
				}
			}
			if id == "" {
				id = uuid.New().String()
				http.SetCookie(w, &http.Cookie{
					Name:     SessionCookie,
					Value:    id,
					Path:     "/",
					MaxAge:   int(sessionCookieMaxAge.Seconds()),
					HttpOnly: true,
					Secure:   secure,
					SameSite: http.SameSiteLaxMode,
				})
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), sessionKey{}, id)))
		})
	}
}

func validSessionID(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}

// SessionID returns the id assigned by Sessions, or "".
func SessionID(ctx context.Context) string {
	id, _ := ctx.Value(sessionKey{}).(string)
	return id
}
