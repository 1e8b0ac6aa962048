// Ininicializing common application configuration
package config

import (
	"log"
	"os"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Pricing  PricingConfig  `mapstructure:"pricing"`
	Provider ProviderConfig `mapstructure:"provider"`
	Gateway  GatewayConfig  `mapstructure:"gateway"`
	RabbitMQ RabbitMQConfig `mapstructure:"rabbitmq"`
	Worker   WorkerConfig   `mapstructure:"worker"`
	Queue    QueueConfig    `mapstructure:"queue"`
}

type ServerConfig struct {
	AppVersion   string `json:"appVersion"`
	Host         string `json:"host" validate:"required"`
	Port         string `json:"port" validate:"required"`
	Timeout      time.Duration
	Idle_timeout time.Duration
	Env          string `json:"environment"`
	Mode         string `mapstructure:"mode"`
}

type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	DBName          string        `mapstructure:"dbname"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

type RedisConfig struct {
	Host     string `json:"host" validate:"required"`
	Port     int    `json:"port" validate:"required"`
	Password string `json:"password"`
	DB       int    `json:"db"`

	// Настройки пула соединений
	MaxRetries   int
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	PoolTimeout  time.Duration
}

// CacheConfig настраивает кэш предложений и сессий оформления.
// Backend: "memory" или "redis".
type CacheConfig struct {
	Backend       string        `mapstructure:"backend"`
	OfferTTL      time.Duration `mapstructure:"offer_ttl"`
	SessionTTL    time.Duration `mapstructure:"session_ttl"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
	TokenLength   int           `mapstructure:"token_length"`
}

type PricingConfig struct {
	ServiceFeePercent float64 `mapstructure:"service_fee_percent"`
	DefaultCurrency   string  `mapstructure:"default_currency"`
}

// ProviderConfig выбирает реализацию провайдера инвентаря.
// Mode: "mock" или "api".
type ProviderConfig struct {
	Mode         string        `mapstructure:"mode"`
	BaseURL      string        `mapstructure:"base_url"`
	APIKey       string        `mapstructure:"api_key"`
	Timeout      time.Duration `mapstructure:"timeout"`
	QuoteTTL     time.Duration `mapstructure:"quote_ttl"`
	MaxAttempts  int           `mapstructure:"max_attempts"`
	RetryBackoff time.Duration `mapstructure:"retry_backoff"`
}

type GatewayConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	MerchantID     string        `mapstructure:"merchant_id"`
	Secret         string        `mapstructure:"secret"`
	CallbackURL    string        `mapstructure:"callback_url"`
	Timeout        time.Duration `mapstructure:"timeout"`
	MaxAttempts    int           `mapstructure:"max_attempts"`
	RetryBackoff   time.Duration `mapstructure:"retry_backoff"`
	SessionTimeout time.Duration `mapstructure:"session_timeout"`
}

type RabbitMQConfig struct {
	URL       string `mapstructure:"url"`
	QueueName string `mapstructure:"queue_name"`
	Enabled   bool   `mapstructure:"enabled"`
}

type WorkerConfig struct {
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`
	BatchSize       int           `mapstructure:"batch_size"`
}

type QueueConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	MainQueue    string        `mapstructure:"main_queue"`
	DelayedQueue string        `mapstructure:"delayed_queue"`
	DLQ          string        `mapstructure:"dlq"`
	MaxRetries   int           `mapstructure:"max_retries"`
	BaseDelay    time.Duration `mapstructure:"base_delay"`
}

func LoadConfig() (*viper.Viper, error) {

	viperInstance := viper.New()

	viperInstance.AddConfigPath("./config")
	viperInstance.SetConfigName("config")
	viperInstance.SetConfigType("yaml")

	err := viperInstance.ReadInConfig()

	if err != nil {
		return nil, err
	}
	return viperInstance, nil
}

func ParseConfig(v *viper.Viper) (*Config, error) {

	var c Config

	err := v.Unmarshal(&c)
	if err != nil {
		log.Fatalf("unable to decode config into struct, %v", err)
		return nil, err
	}
	return &c, nil
}

func GetEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
