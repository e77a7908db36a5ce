package middleware

import (
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"fundarb/pkg/crypto"
	"fundarb/pkg/utils"
)

// Auth проверяет bearer-токен из заголовка Authorization против
// bcrypt-хеша из конфигурации. Пустой хеш отключает аутентификацию
// (локальное развертывание); middleware логирует это один раз при
// старте.
func Auth(tokenHash string, logger *utils.Logger) mux.MiddlewareFunc {
	log := utils.EnsureLogger(logger).WithComponent("api")
	if tokenHash == "" {
		log.Warn("api auth disabled: no token hash configured")
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if tokenHash == "" {
				next.ServeHTTP(w, r)
				return
			}

			token, ok := bearerToken(r)
			if !ok {
				w.Header().Set("WWW-Authenticate", "Bearer")
				unauthorized(w, "missing bearer token")
				return
			}

			if !crypto.TokenMatches(token, tokenHash) {
				log.Warn("rejected api token",
					utils.String("remote", r.RemoteAddr),
					utils.String("path", r.URL.Path),
				)
				unauthorized(w, "invalid token")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// bearerToken извлекает токен из "Authorization: Bearer <token>"
func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", false
	}
	return header[len(prefix):], true
}

func unauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	w.Write([]byte(`{"error":"` + message + `"}`))
}
