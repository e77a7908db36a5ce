// Package config - конфигурация из переменных окружения (.env через
// godotenv). Секреты площадок могут подаваться зашифрованными
// (AES-GCM, *_ENC варианты) и расшифровываются при загрузке.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"fundarb/internal/exchange"
	"fundarb/pkg/crypto"
)

// Config содержит всю конфигурацию приложения
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Venues    VenuesConfig
	Execution ExecutionConfig
	Locks     LocksConfig
	Evaluator EvaluatorConfig
	Keeper    KeeperConfig
	Logging   LoggingConfig
}

// ServerConfig - настройки HTTP сервера
type ServerConfig struct {
	Host string
	Port int

	// AuthTokenHash - bcrypt-хеш операторского токена.
	// Пустой хеш отключает аутентификацию API.
	AuthTokenHash string

	// AllowedOrigins - origins операторского UI (CORS и WebSocket)
	AllowedOrigins []string
}

// DatabaseConfig - настройки подключения к PostgreSQL.
// Enabled=false: keeper работает без персистентности.
type DatabaseConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Name     string
	User     string
	Password string
	SSLMode  string
}

// VenueCredentials - учетные данные одной площадки
type VenueCredentials struct {
	APIKey     string
	Secret     string
	Passphrase string
}

// VenueRateLimit - override лимитов запросов площадки
type VenueRateLimit struct {
	MaxPerSecond float64
	MaxPerMinute float64
}

// VenuesConfig - площадки и их учетные данные
type VenuesConfig struct {
	// Names - включенные площадки, в порядке перечисления
	Names []string

	// Constrained - площадка с фиксированным расписанием фандинга,
	// её нога исполняется первой
	Constrained string

	Credentials map[string]VenueCredentials
	RateLimits  map[string]VenueRateLimit
}

// ExecutionConfig - параметры слайсированного исполнения
type ExecutionConfig struct {
	MaxPortfolioPctPerSlice float64
	MaxUsdPerSlice          float64
	MinSlices               int
	MaxSlices               int
	SliceFillTimeout        time.Duration
	FillCheckInterval       time.Duration
	InterSliceDelay         time.Duration
	MaxImbalancePercent     float64
	DynamicSlicing          bool
	FundingBuffer           time.Duration
}

// LocksConfig - таймауты блокировок
type LocksConfig struct {
	SymbolLockTimeout time.Duration
	GlobalLockTimeout time.Duration
}

// EvaluatorConfig - параметры оценщика
type EvaluatorConfig struct {
	MaxWorstCaseBreakEvenDays float64
}

// KeeperConfig - параметры оркестратора
type KeeperConfig struct {
	Symbols []string

	PollInterval      time.Duration
	EvaluateInterval  time.Duration
	EquityInterval    time.Duration
	ReconcileInterval time.Duration

	HistoryDays    int
	PositionPct    float64
	MaxPositionUsd float64
	TakerFeeRate   float64
	SlippageRate   float64

	ExecutionCooldown time.Duration

	// PaperMode заменяет реальные площадки mock-адаптерами
	PaperMode bool

	// DataDir - каталог персистентности трекера убытков
	DataDir string
}

// LoggingConfig - настройки логирования
type LoggingConfig struct {
	Level  string
	Format string
}

// Load загружает конфигурацию: .env (если есть), затем переменные
// окружения, затем расшифровка секретов и валидация.
func Load() (*Config, error) {
	// .env опционален: в контейнере конфигурация приходит окружением
	_ = godotenv.Load()

	cfg := &Config{
		Server: ServerConfig{
			Host:           getEnv("SERVER_HOST", "0.0.0.0"),
			Port:           getEnvAsInt("SERVER_PORT", 8080),
			AuthTokenHash:  getEnv("FUNDARB_API_TOKEN_HASH", ""),
			AllowedOrigins: getEnvAsSlice("CORS_ALLOWED_ORIGINS", nil),
		},
		Database: DatabaseConfig{
			Enabled:  getEnvAsBool("DB_ENABLED", false),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvAsInt("DB_PORT", 5432),
			Name:     getEnv("DB_NAME", "fundarb"),
			User:     getEnv("DB_USER", "fundarb"),
			Password: getEnv("DB_PASSWORD", ""),
			SSLMode:  getEnv("DB_SSL_MODE", "disable"),
		},
		Venues: VenuesConfig{
			Names:       getEnvAsSlice("VENUES", []string{exchange.VenueHyperliquid, exchange.VenueBybit}),
			Constrained: getEnv("CONSTRAINED_VENUE", exchange.VenueHyperliquid),
			Credentials: make(map[string]VenueCredentials),
			RateLimits:  make(map[string]VenueRateLimit),
		},
		Execution: ExecutionConfig{
			MaxPortfolioPctPerSlice: getEnvAsFloat("EXEC_MAX_PORTFOLIO_PCT_PER_SLICE", 0.05),
			MaxUsdPerSlice:          getEnvAsFloat("EXEC_MAX_USD_PER_SLICE", 10_000),
			MinSlices:               getEnvAsInt("EXEC_MIN_SLICES", 1),
			MaxSlices:               getEnvAsInt("EXEC_MAX_SLICES", 10),
			SliceFillTimeout:        getEnvAsDuration("EXEC_SLICE_FILL_TIMEOUT", 30*time.Second),
			FillCheckInterval:       getEnvAsDuration("EXEC_FILL_CHECK_INTERVAL", time.Second),
			InterSliceDelay:         getEnvAsDuration("EXEC_INTER_SLICE_DELAY", 500*time.Millisecond),
			MaxImbalancePercent:     getEnvAsFloat("EXEC_MAX_IMBALANCE_PCT", 0.10),
			DynamicSlicing:          getEnvAsBool("EXEC_DYNAMIC_SLICING", false),
			FundingBuffer:           getEnvAsDuration("EXEC_FUNDING_BUFFER", 2*time.Minute),
		},
		Locks: LocksConfig{
			SymbolLockTimeout: getEnvAsDuration("LOCK_SYMBOL_TIMEOUT", 10*time.Second),
			GlobalLockTimeout: getEnvAsDuration("LOCK_GLOBAL_TIMEOUT", 30*time.Second),
		},
		Evaluator: EvaluatorConfig{
			MaxWorstCaseBreakEvenDays: getEnvAsFloat("EVAL_MAX_WORST_CASE_BE_DAYS", 7),
		},
		Keeper: KeeperConfig{
			Symbols:           getEnvAsSlice("SYMBOLS", []string{"BTC", "ETH"}),
			PollInterval:      getEnvAsDuration("KEEPER_POLL_INTERVAL", time.Minute),
			EvaluateInterval:  getEnvAsDuration("KEEPER_EVALUATE_INTERVAL", 5*time.Minute),
			EquityInterval:    getEnvAsDuration("KEEPER_EQUITY_INTERVAL", 2*time.Minute),
			ReconcileInterval: getEnvAsDuration("KEEPER_RECONCILE_INTERVAL", 10*time.Minute),
			HistoryDays:       getEnvAsInt("KEEPER_HISTORY_DAYS", 7),
			PositionPct:       getEnvAsFloat("KEEPER_POSITION_PCT", 0.2),
			MaxPositionUsd:    getEnvAsFloat("KEEPER_MAX_POSITION_USD", 50_000),
			TakerFeeRate:      getEnvAsFloat("KEEPER_TAKER_FEE_RATE", 0.00055),
			SlippageRate:      getEnvAsFloat("KEEPER_SLIPPAGE_RATE", 0.0003),
			ExecutionCooldown: getEnvAsDuration("KEEPER_EXECUTION_COOLDOWN", 5*time.Minute),
			PaperMode:         getEnvAsBool("KEEPER_PAPER_MODE", false),
			DataDir:           getEnv("KEEPER_DATA_DIR", ""),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}

	if err := cfg.loadVenueSecrets(); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadVenueSecrets читает учетные данные и rate-limit overrides
// каждой площадки. Секрет подается либо открытым текстом
// (<VENUE>_API_SECRET), либо зашифрованным (<VENUE>_API_SECRET_ENC,
// ключ в FUNDARB_ENCRYPTION_KEY).
func (c *Config) loadVenueSecrets() error {
	keyHex := getEnv("FUNDARB_ENCRYPTION_KEY", "")
	var key []byte
	if keyHex != "" {
		var err error
		key, err = crypto.KeyFromHex(keyHex)
		if err != nil {
			return fmt.Errorf("FUNDARB_ENCRYPTION_KEY: %w", err)
		}
	}

	for _, name := range c.Venues.Names {
		prefix := strings.ToUpper(name)

		creds := VenueCredentials{
			APIKey:     getEnv(prefix+"_API_KEY", ""),
			Secret:     getEnv(prefix+"_API_SECRET", ""),
			Passphrase: getEnv(prefix+"_PASSPHRASE", ""),
		}

		if enc := getEnv(prefix+"_API_SECRET_ENC", ""); enc != "" {
			if key == nil {
				return fmt.Errorf("%s_API_SECRET_ENC set but FUNDARB_ENCRYPTION_KEY missing", prefix)
			}
			secret, err := crypto.DecryptSecret(enc, key)
			if err != nil {
				return fmt.Errorf("decrypt %s_API_SECRET_ENC: %w", prefix, err)
			}
			creds.Secret = secret
		}

		c.Venues.Credentials[name] = creds

		perSecond := getEnvAsFloat(prefix+"_MAX_PER_SECOND", 0)
		perMinute := getEnvAsFloat(prefix+"_MAX_PER_MINUTE", 0)
		if perSecond > 0 || perMinute > 0 {
			c.Venues.RateLimits[name] = VenueRateLimit{
				MaxPerSecond: perSecond,
				MaxPerMinute: perMinute,
			}
		}
	}
	return nil
}

// validate проверяет диапазоны и согласованность параметров
func (c *Config) validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("SERVER_PORT must be between 1 and 65535, got %d", c.Server.Port)
	}
	if c.Database.Enabled && (c.Database.Port < 1 || c.Database.Port > 65535) {
		return fmt.Errorf("DB_PORT must be between 1 and 65535, got %d", c.Database.Port)
	}

	if len(c.Venues.Names) < 2 {
		return fmt.Errorf("at least two venues required, got %v", c.Venues.Names)
	}
	for _, name := range c.Venues.Names {
		if !exchange.IsSupported(name) {
			return fmt.Errorf("unsupported venue: %s", name)
		}
	}

	if c.Execution.MinSlices < 1 {
		return fmt.Errorf("EXEC_MIN_SLICES must be at least 1, got %d", c.Execution.MinSlices)
	}
	if c.Execution.MaxSlices < c.Execution.MinSlices {
		return fmt.Errorf("EXEC_MAX_SLICES (%d) must be >= EXEC_MIN_SLICES (%d)",
			c.Execution.MaxSlices, c.Execution.MinSlices)
	}
	if c.Execution.MaxPortfolioPctPerSlice <= 0 || c.Execution.MaxPortfolioPctPerSlice > 1 {
		return fmt.Errorf("EXEC_MAX_PORTFOLIO_PCT_PER_SLICE must be in (0,1], got %v",
			c.Execution.MaxPortfolioPctPerSlice)
	}
	if c.Execution.SliceFillTimeout <= 0 {
		return fmt.Errorf("EXEC_SLICE_FILL_TIMEOUT must be positive, got %v", c.Execution.SliceFillTimeout)
	}
	if c.Execution.MaxImbalancePercent <= 0 {
		return fmt.Errorf("EXEC_MAX_IMBALANCE_PCT must be positive, got %v", c.Execution.MaxImbalancePercent)
	}

	if c.Keeper.PositionPct <= 0 || c.Keeper.PositionPct > 1 {
		return fmt.Errorf("KEEPER_POSITION_PCT must be in (0,1], got %v", c.Keeper.PositionPct)
	}
	if c.Keeper.MaxPositionUsd <= 0 {
		return fmt.Errorf("KEEPER_MAX_POSITION_USD must be positive, got %v", c.Keeper.MaxPositionUsd)
	}
	if len(c.Keeper.Symbols) == 0 {
		return fmt.Errorf("SYMBOLS must not be empty")
	}
	if c.Keeper.HistoryDays < 1 {
		return fmt.Errorf("KEEPER_HISTORY_DAYS must be at least 1, got %d", c.Keeper.HistoryDays)
	}

	if c.Locks.SymbolLockTimeout <= 0 || c.Locks.GlobalLockTimeout <= 0 {
		return fmt.Errorf("lock timeouts must be positive")
	}
	return nil
}

// DSN возвращает строку подключения к базе данных
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode)
}

// DSNWithoutPassword - строка подключения без пароля (для логов)
func (d DatabaseConfig) DSNWithoutPassword() string {
	return fmt.Sprintf("host=%s port=%d user=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Name, d.SSLMode)
}

// Вспомогательные функции для чтения переменных окружения

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsSlice(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	parts := strings.Split(valueStr, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
