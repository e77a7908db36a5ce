// Package api - HTTP-маршруты операторского API.
package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"fundarb/internal/api/handlers"
	"fundarb/internal/api/middleware"
	"fundarb/internal/losstrack"
	"fundarb/internal/registry"
	"fundarb/pkg/utils"
)

// StreamHandler обслуживает WebSocket-подключения UI
type StreamHandler interface {
	ServeWS(w http.ResponseWriter, r *http.Request)
}

// Dependencies - зависимости API handlers. Executions и Events
// могут быть nil (работа без БД), Stream - nil без WebSocket.
type Dependencies struct {
	Keeper     handlers.KeeperControl
	Portfolio  handlers.PortfolioView
	Tracker    *losstrack.Tracker
	Orders     *registry.OrderRegistry
	Limiter    handlers.LimiterReporter
	Executions handlers.ExecutionStore
	Events     handlers.EventStore
	Stream     StreamHandler

	// AuthTokenHash - bcrypt-хеш операторского токена. Пустой хеш
	// отключает аутентификацию.
	AuthTokenHash  string
	AllowedOrigins []string

	Logger *utils.Logger
}

// SetupRoutes настраивает все HTTP маршруты приложения.
//
// Структура маршрутов:
//
//	/health  - проверка живости (без auth)
//	/metrics - prometheus (без auth)
//	/ws/stream - WebSocket для real-time обновлений
//	/api/v1/
//	  ├── GET  /status       - состояние keeper'а и портфеля
//	  ├── GET  /executions   - последние исполнения
//	  ├── GET  /positions    - позиции, окупаемость, одиночные ноги
//	  ├── GET  /ratelimit    - аналитика limiter'а (1h/24h)
//	  ├── GET  /events       - журнал доменных событий
//	  ├── POST /keeper/pause  - приостановить стратегию
//	  └── POST /keeper/resume - возобновить стратегию
//
// Middleware применяется в порядке: Recovery, Logging, CORS для всех
// маршрутов; Auth только для /api/v1.
func SetupRoutes(deps *Dependencies) *mux.Router {
	if deps == nil {
		deps = &Dependencies{}
	}

	router := mux.NewRouter()

	router.Use(middleware.Recovery(deps.Logger))
	router.Use(middleware.Logging(deps.Logger))
	router.Use(middleware.CORS(deps.AllowedOrigins))

	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	}).Methods("GET")

	router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	if deps.Stream != nil {
		router.HandleFunc("/ws/stream", deps.Stream.ServeWS)
	}

	api := router.PathPrefix("/api/v1").Subrouter()
	api.Use(middleware.Auth(deps.AuthTokenHash, deps.Logger))

	statusHandler := handlers.NewStatusHandler(deps.Keeper, deps.Portfolio)
	api.HandleFunc("/status", statusHandler.GetStatus).Methods("GET")

	executionHandler := handlers.NewExecutionHandler(deps.Executions)
	api.HandleFunc("/executions", executionHandler.GetExecutions).Methods("GET")

	positionHandler := handlers.NewPositionHandler(deps.Keeper, deps.Tracker, deps.Orders)
	api.HandleFunc("/positions", positionHandler.GetPositions).Methods("GET")

	ratelimitHandler := handlers.NewRatelimitHandler(deps.Limiter)
	api.HandleFunc("/ratelimit", ratelimitHandler.GetReport).Methods("GET")

	eventHandler := handlers.NewEventHandler(deps.Events)
	api.HandleFunc("/events", eventHandler.GetEvents).Methods("GET")

	keeperHandler := handlers.NewKeeperHandler(deps.Keeper)
	api.HandleFunc("/keeper/pause", keeperHandler.Pause).Methods("POST")
	api.HandleFunc("/keeper/resume", keeperHandler.Resume).Methods("POST")

	return router
}
