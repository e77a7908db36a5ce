package utils

// logger.go - структурированное логирование на базе zap
//
// Назначение:
// Единая точка инициализации логирования для keeper.
// Каждый компонент получает *Logger в конструкторе и сужает его
// через WithComponent / WithVenue / WithSymbol.
//
// Форматы:
// - json: production (машиночитаемый вывод)
// - text: разработка (консольный вывод)
//
// Уровни: debug, info, warn, warning, error, fatal.

import (
	"math"
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LogConfig - конфигурация логирования
type LogConfig struct {
	Level       string // debug, info, warn, error, fatal (default: info)
	Format      string // json, text (default: json)
	Output      string // путь к файлу; пусто = stderr
	Development bool   // режим разработки (caller, stacktrace на warn)
}

// Logger оборачивает zap.Logger и его sugar-вариант.
//
// Встроенный *zap.Logger дает типизированные методы (Info, Warn, ...),
// sugar используется для printf-стиля (Infof, ...).
type Logger struct {
	*zap.Logger
	sugar *zap.SugaredLogger
}

// InitLogger создает logger по конфигурации.
//
// Никогда не возвращает nil: при недоступном файле вывода
// происходит fallback на stderr.
func InitLogger(cfg LogConfig) *Logger {
	level := parseLevel(cfg.Level)

	// Энкодер по формату
	var encoder zapcore.Encoder
	switch strings.ToLower(cfg.Format) {
	case "text", "console":
		encCfg := zap.NewDevelopmentEncoderConfig()
		encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
		encoder = zapcore.NewConsoleEncoder(encCfg)
	default: // json
		encCfg := zap.NewProductionEncoderConfig()
		encCfg.TimeKey = "ts"
		encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
		encoder = zapcore.NewJSONEncoder(encCfg)
	}

	// Вывод: файл или stderr
	sink := zapcore.AddSync(os.Stderr)
	if cfg.Output != "" {
		file, err := os.OpenFile(cfg.Output, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err == nil {
			sink = zapcore.AddSync(file)
		}
		// При ошибке открытия остаемся на stderr
	}

	core := zapcore.NewCore(encoder, sink, level)

	opts := []zap.Option{}
	if cfg.Development {
		opts = append(opts, zap.Development(), zap.AddCaller())
	}

	zl := zap.New(core, opts...)
	return &Logger{Logger: zl, sugar: zl.Sugar()}
}

// NopLogger возвращает logger, который ничего не пишет.
// Используется в тестах и как замена nil.
func NopLogger() *Logger {
	zl := zap.NewNop()
	return &Logger{Logger: zl, sugar: zl.Sugar()}
}

// EnsureLogger заменяет nil на no-op logger.
// Конструкторы компонентов вызывают его первым делом.
func EnsureLogger(l *Logger) *Logger {
	if l == nil {
		return NopLogger()
	}
	return l
}

// parseLevel преобразует строку в уровень zap.
// Неизвестный уровень трактуется как info.
func parseLevel(level string) zapcore.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zapcore.DebugLevel
	case "info":
		return zapcore.InfoLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	case "fatal":
		return zapcore.FatalLevel
	default:
		return zapcore.InfoLevel
	}
}

// ============================================================
// Производные логгеры
// ============================================================

// With возвращает новый Logger с дополнительными полями.
func (l *Logger) With(fields ...zap.Field) *Logger {
	zl := l.Logger.With(fields...)
	return &Logger{Logger: zl, sugar: zl.Sugar()}
}

// WithComponent добавляет поле component.
func (l *Logger) WithComponent(name string) *Logger {
	return l.With(Component(name))
}

// WithVenue добавляет поле venue.
func (l *Logger) WithVenue(venue string) *Logger {
	return l.With(Venue(venue))
}

// WithSymbol добавляет поле symbol.
func (l *Logger) WithSymbol(symbol string) *Logger {
	return l.With(Symbol(symbol))
}

// WithExecutionID добавляет поле execution_id.
func (l *Logger) WithExecutionID(id string) *Logger {
	return l.With(ExecutionID(id))
}

// Sugar возвращает sugar-вариант логгера.
func (l *Logger) Sugar() *zap.SugaredLogger {
	return l.sugar
}

// ============================================================
// Глобальный логгер
// ============================================================

var (
	globalLogger *Logger
	globalMu     sync.RWMutex
)

// InitGlobalLogger инициализирует глобальный логгер.
func InitGlobalLogger(cfg LogConfig) *Logger {
	logger := InitLogger(cfg)
	SetGlobalLogger(logger)
	return logger
}

// SetGlobalLogger устанавливает глобальный логгер.
func SetGlobalLogger(logger *Logger) {
	globalMu.Lock()
	globalLogger = logger
	globalMu.Unlock()
}

// GetGlobalLogger возвращает глобальный логгер, создавая
// логгер по умолчанию при первом обращении.
func GetGlobalLogger() *Logger {
	globalMu.RLock()
	l := globalLogger
	globalMu.RUnlock()

	if l != nil {
		return l
	}

	globalMu.Lock()
	defer globalMu.Unlock()
	if globalLogger == nil {
		globalLogger = InitLogger(LogConfig{})
	}
	return globalLogger
}

// L - короткий алиас для GetGlobalLogger.
func L() *Logger {
	return GetGlobalLogger()
}

// Глобальные функции логирования
func Debug(msg string, fields ...zap.Field) { L().Debug(msg, fields...) }
func Info(msg string, fields ...zap.Field)  { L().Info(msg, fields...) }
func Warn(msg string, fields ...zap.Field)  { L().Warn(msg, fields...) }
func Error(msg string, fields ...zap.Field) { L().Error(msg, fields...) }

// Printf-стиль
func Debugf(format string, args ...interface{}) { L().sugar.Debugf(format, args...) }
func Infof(format string, args ...interface{})  { L().sugar.Infof(format, args...) }
func Warnf(format string, args ...interface{})  { L().sugar.Warnf(format, args...) }
func Errorf(format string, args ...interface{}) { L().sugar.Errorf(format, args...) }

// ============================================================
// Конструкторы доменных полей
// ============================================================

// Venue - поле venue (идентификатор биржи)
func Venue(venue string) zap.Field { return zap.String("venue", venue) }

// Symbol - поле symbol (нормализованный символ)
func Symbol(symbol string) zap.Field { return zap.String("symbol", symbol) }

// ExecutionID - поле execution_id
func ExecutionID(id string) zap.Field { return zap.String("execution_id", id) }

// OrderID - поле order_id
func OrderID(id string) zap.Field { return zap.String("order_id", id) }

// Price - поле price
func Price(price float64) zap.Field { return zap.Float64("price", price) }

// Size - поле size (объем в единицах актива)
func Size(size float64) zap.Field { return zap.Float64("size", size) }

// Rate - поле rate (ставка фандинга)
func Rate(rate float64) zap.Field { return zap.Float64("rate", rate) }

// Side - поле side (long/short)
func Side(side string) zap.Field { return zap.String("side", side) }

// State - поле state
func State(state string) zap.Field { return zap.String("state", state) }

// Slice - поле slice (порядковый номер слайса)
func Slice(n int) zap.Field { return zap.Int("slice", n) }

// Latency - поле latency_ms
func Latency(ms float64) zap.Field { return zap.Float64("latency_ms", ms) }

// RequestID - поле request_id
func RequestID(id string) zap.Field { return zap.String("request_id", id) }

// Component - поле component
func Component(name string) zap.Field { return zap.String("component", name) }

// Переэкспорт стандартных конструкторов, чтобы вызывающим
// не требовался прямой импорт zap.
var (
	String   = zap.String
	Int      = zap.Int
	Int64    = zap.Int64
	Float64  = zap.Float64
	Bool     = zap.Bool
	Err      = zap.Error
	Any      = zap.Any
	Duration = zap.Duration
)

// fieldsToInterface разворачивает zap-поля в плоский список
// ключ-значение для sugar-вызовов.
func fieldsToInterface(fields []zap.Field) []interface{} {
	out := make([]interface{}, 0, len(fields)*2)
	for _, f := range fields {
		out = append(out, f.Key)
		switch f.Type {
		case zapcore.StringType:
			out = append(out, f.String)
		case zapcore.Int64Type, zapcore.Int32Type, zapcore.Int16Type, zapcore.Int8Type:
			out = append(out, f.Integer)
		case zapcore.Float64Type:
			out = append(out, math.Float64frombits(uint64(f.Integer)))
		case zapcore.BoolType:
			out = append(out, f.Integer == 1)
		default:
			out = append(out, f.Interface)
		}
	}
	return out
}

// Debugw/Infow/Warnw/Errorw - sugar-вызовы с zap-полями.
func (l *Logger) Debugw(msg string, fields ...zap.Field) {
	l.sugar.Debugw(msg, fieldsToInterface(fields)...)
}

func (l *Logger) Infow(msg string, fields ...zap.Field) {
	l.sugar.Infow(msg, fieldsToInterface(fields)...)
}

func (l *Logger) Warnw(msg string, fields ...zap.Field) {
	l.sugar.Warnw(msg, fieldsToInterface(fields)...)
}

func (l *Logger) Errorw(msg string, fields ...zap.Field) {
	l.sugar.Errorw(msg, fieldsToInterface(fields)...)
}
