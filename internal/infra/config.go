package infra

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config — корневая структура конфигурации сервиса.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Gateway  GatewayConfig  `mapstructure:"gateway"`
	Logger   LoggerConfig   `mapstructure:"logger"`
}

// ServerConfig описывает настройки HTTP-сервера.
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ConsolePort  int           `mapstructure:"console_port"`
	MetricsPort  int           `mapstructure:"metrics_port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// DatabaseConfig описывает подключение к PostgreSQL.
type DatabaseConfig struct {
	URL      string `mapstructure:"url"`
	MaxConns int32  `mapstructure:"max_conns"`
	MinConns int32  `mapstructure:"min_conns"`
}

// RedisConfig описывает подключение к Redis (сигналы cache bypass).
// Пустой Addr означает «работаем без Redis» — рантайм-переключение
// кэша тогда недоступно, остается только ENV-флаг.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// AuthConfig содержит симметричный секрет HS256 и настройки выпуска токенов.
type AuthConfig struct {
	// SecretPath — файловый fallback на случай, когда ENV процесса
	// нельзя править на лету (systemd unit и т.п.).
	SecretPath string        `mapstructure:"secret_path"`
	TokenTTL   time.Duration `mapstructure:"token_ttl"`
	BcryptCost int           `mapstructure:"bcrypt_cost"`
	Secret     []byte
}

// GatewayConfig — специфичные настройки ядра диспетчеризации.
type GatewayConfig struct {
	// CacheDisabled — аварийный выключатель кэша результатов.
	// Перекрывается также Redis-сигналом в рантайме.
	CacheDisabled bool `mapstructure:"cache_disabled"`

	AuditBufferSize    int           `mapstructure:"audit_buffer_size"`
	AuditFlushInterval time.Duration `mapstructure:"audit_flush_interval"`

	// Настройки Circuit Breaker для чтений снапшотов
	CBMaxRequests uint32        `mapstructure:"cb_max_requests"`
	CBInterval    time.Duration `mapstructure:"cb_interval"`
	CBTimeout     time.Duration `mapstructure:"cb_timeout"`

	// Лимит чтений снапшотов в секунду (защита общей базы)
	SnapshotRPS   float64 `mapstructure:"snapshot_rps"`
	SnapshotBurst int     `mapstructure:"snapshot_burst"`
}

// LoggerConfig настраивает поведение zap логгера.
type LoggerConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // json, console
}

// LoadConfig инициализирует конфигурацию, объединяя значения из файла и ENV.
func LoadConfig() (*Config, error) {
	v := viper.New()

	// 1. Настройка поиска файла
	v.SetConfigName("config")    // имя файла без расширения
	v.SetConfigType("yaml")      // формат
	v.AddConfigPath(".")         // ищем в корне
	v.AddConfigPath("./configs") // и в папке с конфигами

	// 2. Настройка переменных окружения (ENV)
	// SERVER_PORT=9000 перекроет server.port
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Операционные флаги с историческими именами
	_ = v.BindEnv("gateway.cache_disabled", "HYPEPIPE_CACHE_DISABLED")
	_ = v.BindEnv("database.url", "DB_URL")

	// 3. Установка дефолтных значений
	setDefaults(v)

	// 4. Чтение файла
	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Если файла нет — работаем на ENV и дефолтах
	}

	// 5. Маппинг в структуру
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode into struct: %w", err)
	}

	// 6. Секрет подписи: сначала ENV, потом файл по пути из конфига.
	// Пустой секрет здесь НЕ ошибка загрузки — верификатор отдаст
	// server-side fault на первом же запросе, чтобы операторы отличали
	// «секрет не настроен» от «вызывающий не авторизован».
	cfg.Auth.Secret = loadSecretResource(cfg.Auth.SecretPath, "HYPEPIPE_JWT_SECRET")

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.console_port", 8000)
	v.SetDefault("server.metrics_port", 9090)
	v.SetDefault("server.read_timeout", 5*time.Second)
	v.SetDefault("server.write_timeout", 10*time.Second)
	v.SetDefault("database.max_conns", 15)
	v.SetDefault("database.min_conns", 5)
	v.SetDefault("auth.secret_path", ".hypepipe_jwt_secret")
	v.SetDefault("auth.token_ttl", time.Hour)
	v.SetDefault("auth.bcrypt_cost", 12)
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "json")
	v.SetDefault("gateway.audit_buffer_size", 10000)
	v.SetDefault("gateway.audit_flush_interval", 500*time.Millisecond)
	v.SetDefault("gateway.cb_max_requests", 3)
	v.SetDefault("gateway.cb_interval", 5*time.Second)
	v.SetDefault("gateway.cb_timeout", 30*time.Second)
	v.SetDefault("gateway.snapshot_rps", 100)
	v.SetDefault("gateway.snapshot_burst", 20)
}

// loadSecretResource — универсальный хелпер: значение напрямую из ENV
// либо содержимое файла по пути из конфига.
func loadSecretResource(path string, envDataKey string) []byte {
	if data := os.Getenv(envDataKey); data != "" {
		return []byte(data)
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err == nil {
			return []byte(strings.TrimSpace(string(data)))
		}
	}
	return nil
}
