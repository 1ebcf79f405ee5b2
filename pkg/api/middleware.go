package api

import (
	"net/http"
	"time"

	"golang.org/x/crypto/bcrypt"
)

// requestLogger logs incoming HTTP requests.
func (s *server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)

		s.log.WithField("method", r.Method).
			WithField("path", r.URL.Path).
			WithField("remote", r.RemoteAddr).
			WithField("duration", time.Since(start)).
			Debug("Request handled")
	})
}

// requireBasicAuth validates HTTP basic auth credentials against the
// configured users.
func (s *server) requireBasicAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		username, password, ok := r.BasicAuth()
		if !ok {
			s.unauthorized(w)

			return
		}

		hash, exists := s.users[username]
		if !exists {
			// Burn a comparison anyway so unknown usernames cost the
			// same as wrong passwords.
			_ = bcrypt.CompareHashAndPassword(
				[]byte("$2a$10$000000000000000000000u"), []byte(password),
			)

			s.unauthorized(w)

			return
		}

		if err := bcrypt.CompareHashAndPassword(
			hash, []byte(password),
		); err != nil {
			s.unauthorized(w)

			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *server) unauthorized(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", `Basic realm="racesyncer"`)
	writeJSON(w, http.StatusUnauthorized,
		errorResponse{"authentication required"})
}
