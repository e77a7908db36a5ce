// Package middleware - HTTP middleware операторского API:
// recovery, логирование запросов, CORS и bearer-аутентификация.
package middleware

import (
	"net/http"
	"runtime/debug"

	"github.com/gorilla/mux"

	"fundarb/pkg/utils"
)

// Recovery перехватывает панику в handler'ах, логирует stack trace
// и возвращает клиенту 500. Сервер продолжает обслуживать запросы.
func Recovery(logger *utils.Logger) mux.MiddlewareFunc {
	log := utils.EnsureLogger(logger).WithComponent("api")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					log.Error("handler panic",
						utils.String("method", r.Method),
						utils.String("path", r.URL.Path),
						utils.Any("panic", rec),
						utils.String("stack", string(debug.Stack())),
					)
					w.Header().Set("Content-Type", "application/json")
					w.WriteHeader(http.StatusInternalServerError)
					w.Write([]byte(`{"error":"internal server error"}`))
				}
			}()

			next.ServeHTTP(w, r)
		})
	}
}
