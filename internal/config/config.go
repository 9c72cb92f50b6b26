package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config содержит всю конфигурацию приложения
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Security  SecurityConfig
	Broker    BrokerConfig
	Data      DataConfig
	Refresher RefresherConfig
}

// ServerConfig - настройки HTTP сервера
type ServerConfig struct {
	Port     int
	Host     string
	UseHTTPS bool
	CertFile string
	KeyFile  string
}

// DatabaseConfig - настройки подключения к БД с привязанными аккаунтами
type DatabaseConfig struct {
	Driver   string
	Host     string
	Port     int
	Name     string
	User     string
	Password string
	SSLMode  string
}

// SecurityConfig - настройки безопасности
type SecurityConfig struct {
	// Ключ AES-256 для расшифровки API ключей брокера, хранящихся в БД
	EncryptionKey string
	// bcrypt-хеш токена доступа к dashboard API (пустой = auth выключен)
	AccessTokenHash string
}

// BrokerConfig - настройки upstream API брокера
type BrokerConfig struct {
	LiveBaseURL     string
	PracticeBaseURL string

	// Таймаут одного batch-запроса к брокеру; по истечении все
	// ожидающие запросы батча отклоняются
	FetchTimeout time.Duration

	// Лимиты скользящего окна (запросов в окно RateWindow)
	RateWindow         time.Duration // размер окна rate limiter'а
	KeyLimitPerWindow  float64       // лимит на один API ключ (upstream)
	UserLimitPerWindow float64       // лимит на пользователя (наш API)
}

// DataConfig - настройки кэша и коалесинга запросов
type DataConfig struct {
	// TTL по типам данных
	PortfolioTTL time.Duration
	AccountTTL   time.Duration
	OrdersTTL    time.Duration
	PositionsTTL time.Duration

	// Окно debounce: запросы одного аккаунта, пришедшие в этом окне,
	// объединяются в один запрос к брокеру
	DebounceDelay time.Duration

	// Интервал фоновой очистки устаревших записей кэша и окон limiter'а
	CleanupInterval time.Duration
}

// RefresherConfig - настройки фонового обновления кэша
type RefresherConfig struct {
	Interval    time.Duration // период прохода по активным аккаунтам
	StopTimeout time.Duration // сколько ждать in-flight запрос при остановке
}

// Load загружает конфигурацию из переменных окружения
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:     getEnvAsInt("SERVER_PORT", 8080),
			Host:     getEnv("SERVER_HOST", "0.0.0.0"),
			UseHTTPS: getEnvAsBool("USE_HTTPS", false),
			CertFile: getEnv("CERT_FILE", ""),
			KeyFile:  getEnv("KEY_FILE", ""),
		},
		Database: DatabaseConfig{
			Driver:   getEnv("DB_DRIVER", "postgres"),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvAsInt("DB_PORT", 5432),
			Name:     getEnv("DB_NAME", "brokergate"),
			User:     getEnv("DB_USER", "user"),
			Password: getEnv("DB_PASSWORD", "password"),
			SSLMode:  getEnv("DB_SSL_MODE", "disable"),
		},
		Security: SecurityConfig{
			EncryptionKey:   getEnv("ENCRYPTION_KEY", ""),
			AccessTokenHash: getEnv("ACCESS_TOKEN_HASH", ""),
		},
		Broker: BrokerConfig{
			LiveBaseURL:     getEnv("BROKER_LIVE_URL", ""),
			PracticeBaseURL: getEnv("BROKER_PRACTICE_URL", ""),
			FetchTimeout:    getEnvAsDuration("BROKER_FETCH_TIMEOUT", 7*time.Second),

			RateWindow:         getEnvAsDuration("RATE_WINDOW", time.Minute),
			KeyLimitPerWindow:  float64(getEnvAsInt("KEY_LIMIT_PER_WINDOW", 30)),
			UserLimitPerWindow: float64(getEnvAsInt("USER_LIMIT_PER_WINDOW", 60)),
		},
		Data: DataConfig{
			PortfolioTTL: getEnvAsDuration("PORTFOLIO_TTL", 5*time.Minute),
			AccountTTL:   getEnvAsDuration("ACCOUNT_TTL", 10*time.Minute),
			OrdersTTL:    getEnvAsDuration("ORDERS_TTL", 2*time.Minute),
			PositionsTTL: getEnvAsDuration("POSITIONS_TTL", 5*time.Minute),

			DebounceDelay:   getEnvAsDuration("DEBOUNCE_DELAY", 50*time.Millisecond),
			CleanupInterval: getEnvAsDuration("CLEANUP_INTERVAL", time.Minute),
		},
		Refresher: RefresherConfig{
			Interval:    getEnvAsDuration("REFRESH_INTERVAL", 2*time.Minute),
			StopTimeout: getEnvAsDuration("REFRESH_STOP_TIMEOUT", 10*time.Second),
		},
	}

	// Валидация критичных параметров безопасности
	if err := cfg.validateSecurity(); err != nil {
		return nil, err
	}

	// Валидация числовых диапазонов
	if err := cfg.validateRanges(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// validateSecurity проверяет параметры безопасности
func (c *Config) validateSecurity() error {
	// ENCRYPTION_KEY обязателен: без него нельзя расшифровать
	// API ключи брокера из БД
	if c.Security.EncryptionKey == "" {
		return fmt.Errorf("ENCRYPTION_KEY is required for decrypting broker API keys")
	}

	if len(c.Security.EncryptionKey) != 32 {
		return fmt.Errorf("ENCRYPTION_KEY must be exactly 32 bytes for AES-256")
	}

	return nil
}

// validateRanges проверяет числовые диапазоны параметров
func (c *Config) validateRanges() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("SERVER_PORT must be between 1 and 65535, got %d", c.Server.Port)
	}

	if c.Database.Port < 1 || c.Database.Port > 65535 {
		return fmt.Errorf("DB_PORT must be between 1 and 65535, got %d", c.Database.Port)
	}

	if c.Broker.FetchTimeout <= 0 {
		return fmt.Errorf("BROKER_FETCH_TIMEOUT must be positive, got %v", c.Broker.FetchTimeout)
	}

	if c.Broker.RateWindow <= 0 {
		return fmt.Errorf("RATE_WINDOW must be positive, got %v", c.Broker.RateWindow)
	}

	if c.Data.DebounceDelay <= 0 {
		return fmt.Errorf("DEBOUNCE_DELAY must be positive, got %v", c.Data.DebounceDelay)
	}

	// Debounce заметно больше секунды почти наверняка ошибка конфигурации:
	// каждый промах кэша ждёт минимум это время
	if c.Data.DebounceDelay > time.Second {
		return fmt.Errorf("DEBOUNCE_DELAY should not exceed 1s, got %v", c.Data.DebounceDelay)
	}

	for name, ttl := range map[string]time.Duration{
		"PORTFOLIO_TTL": c.Data.PortfolioTTL,
		"ACCOUNT_TTL":   c.Data.AccountTTL,
		"ORDERS_TTL":    c.Data.OrdersTTL,
		"POSITIONS_TTL": c.Data.PositionsTTL,
	} {
		if ttl <= 0 {
			return fmt.Errorf("%s must be positive, got %v", name, ttl)
		}
	}

	if c.Refresher.Interval <= 0 {
		return fmt.Errorf("REFRESH_INTERVAL must be positive, got %v", c.Refresher.Interval)
	}

	if c.Refresher.StopTimeout <= 0 {
		return fmt.Errorf("REFRESH_STOP_TIMEOUT must be positive, got %v", c.Refresher.StopTimeout)
	}

	return nil
}

// DSN возвращает строку подключения к базе данных
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode)
}

// DSNWithoutPassword возвращает строку подключения без пароля (для логирования)
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
