// Ininicializing common application configuration
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

const envPrefix = "APPOINTLY"

type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Store      StoreConfig      `mapstructure:"store"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Booking    BookingConfig    `mapstructure:"booking"`
	SMS        SMSConfig        `mapstructure:"sms"`
	Reminder   ReminderConfig   `mapstructure:"reminder"`
	RateLimits RateLimitsConfig `mapstructure:"rate_limits"`
	Admin      AdminConfig      `mapstructure:"admin"`
	JWT        JWTConfig        `mapstructure:"jwt"`
	Telegram   TelegramConfig   `mapstructure:"telegram"`
	Queue      QueueConfig      `mapstructure:"queue"`
	RabbitMQ   RabbitMQConfig   `mapstructure:"rabbitmq"`
	Scheduler  SchedulerConfig  `mapstructure:"scheduler"`
	Worker     WorkerConfig     `mapstructure:"worker"`
}

type ServerConfig struct {
	AppVersion     string        `mapstructure:"app_version"`
	Host           string        `mapstructure:"host"`
	Port           string        `mapstructure:"port"`
	Timeout        time.Duration `mapstructure:"timeout"`
	IdleTimeout    time.Duration `mapstructure:"idle_timeout"`
	RequestTimeout int           `mapstructure:"request_timeout"` // в секундах
	Env            string        `mapstructure:"environment"`
	Mode           string        `mapstructure:"mode"`
}

// StoreConfig selects the Record Store backend: "redis" or "postgres".
type StoreConfig struct {
	Driver string `mapstructure:"driver"`
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
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`

	// Настройки пула соединений
	MaxRetries   int           `mapstructure:"max_retries"`
	PoolSize     int           `mapstructure:"pool_size"`
	MinIdleConns int           `mapstructure:"min_idle_conns"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	PoolTimeout  time.Duration `mapstructure:"pool_timeout"`
}

// BookingConfig describes the daily slot grid.
type BookingConfig struct {
	OpenHour  int    `mapstructure:"open_hour"`
	CloseHour int    `mapstructure:"close_hour"` // exclusive
	Timezone  string `mapstructure:"timezone"`
}

type SMSConfig struct {
	Provider         string        `mapstructure:"provider"` // twilio | console
	AccountSID       string        `mapstructure:"account_sid"`
	AuthToken        string        `mapstructure:"auth_token"`
	FromNumber       string        `mapstructure:"from_number"`
	AdminPhone       string        `mapstructure:"admin_phone"`
	Timeout          time.Duration `mapstructure:"timeout"`
	StatusPollDelay  time.Duration `mapstructure:"status_poll_delay"`
	DispatchTimeout  time.Duration `mapstructure:"dispatch_timeout"`
	BusinessName     string        `mapstructure:"business_name"`
	ReconcileLimit   int           `mapstructure:"reconcile_limit"`
	ReconcileEnabled bool          `mapstructure:"reconcile_enabled"`
}

type ReminderConfig struct {
	LockTTL    time.Duration `mapstructure:"lock_ttl"`
	CronSecret string        `mapstructure:"cron_secret"`
}

// RateLimit is a fixed window: at most Limit calls per Window.
type RateLimit struct {
	Limit  int64         `mapstructure:"limit"`
	Window time.Duration `mapstructure:"window"`
}

type AuthEscalationConfig struct {
	Threshold int64         `mapstructure:"threshold"`
	Window    time.Duration `mapstructure:"window"`
	Block     time.Duration `mapstructure:"block"`
}

type RateLimitsConfig struct {
	Booking        RateLimit            `mapstructure:"booking"`
	SMS            RateLimit            `mapstructure:"sms"`
	Status         RateLimit            `mapstructure:"status"`
	Auth           RateLimit            `mapstructure:"auth"`
	AuthEscalation AuthEscalationConfig `mapstructure:"auth_escalation"`
}

type AdminConfig struct {
	Username     string `mapstructure:"username"`
	PasswordHash string `mapstructure:"password_hash"` // bcrypt
}

type JWTConfig struct {
	Secret     string        `mapstructure:"secret"`
	Expiration time.Duration `mapstructure:"expiration"`
}

type TelegramConfig struct {
	BotToken string        `mapstructure:"bot_token"`
	ChatID   string        `mapstructure:"chat_id"`
	Enabled  bool          `mapstructure:"enabled"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

type QueueConfig struct {
	Enabled    bool          `mapstructure:"enabled"`
	Prefix     string        `mapstructure:"prefix"`
	MaxRetries int           `mapstructure:"max_retries"`
	BaseDelay  time.Duration `mapstructure:"base_delay"`
}

type RabbitMQConfig struct {
	URL      string `mapstructure:"url"`
	Exchange string `mapstructure:"exchange"`
}

type SchedulerConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	ReminderSpec string        `mapstructure:"reminder_spec"`
	JobTimeout   time.Duration `mapstructure:"job_timeout"`
}

type WorkerConfig struct {
	ReconcileInterval time.Duration `mapstructure:"reconcile_interval"`
}

// LoadConfig reads ./config/config.yaml (if present), .env and APPOINTLY_* variables.
func LoadConfig() (*viper.Viper, error) {
	// .env не обязателен
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		logrus.Warnf("failed to load .env: %v", err)
	}

	viperInstance := viper.New()
	setDefaults(viperInstance)

	viperInstance.AddConfigPath("./config")
	viperInstance.SetConfigName("config")
	viperInstance.SetConfigType("yaml")

	viperInstance.SetEnvPrefix(envPrefix)
	viperInstance.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viperInstance.AutomaticEnv()

	err := viperInstance.ReadInConfig()
	if err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
		logrus.Warn("config file not found, using defaults and environment")
	}
	return viperInstance, nil
}

func ParseConfig(v *viper.Viper) (*Config, error) {

	var c Config

	err := v.Unmarshal(&c)
	if err != nil {
		return nil, fmt.Errorf("unable to decode config into struct: %w", err)
	}

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate catches settings that would break slot or limiter arithmetic.
func (c *Config) Validate() error {
	if c.Booking.OpenHour < 0 || c.Booking.CloseHour > 24 || c.Booking.OpenHour >= c.Booking.CloseHour {
		return fmt.Errorf("invalid booking hours: open=%d close=%d", c.Booking.OpenHour, c.Booking.CloseHour)
	}
	if _, err := time.LoadLocation(c.Booking.Timezone); err != nil {
		return fmt.Errorf("invalid booking timezone %q: %w", c.Booking.Timezone, err)
	}
	switch c.Store.Driver {
	case "redis", "postgres":
	default:
		return fmt.Errorf("unknown store driver %q", c.Store.Driver)
	}
	if c.Scheduler.Enabled && c.Scheduler.JobTimeout <= 0 {
		return fmt.Errorf("scheduler.job_timeout must be positive, got %s", c.Scheduler.JobTimeout)
	}
	return nil
}

// Location returns the business timezone. Validate has already checked it.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Booking.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// GetServerAddress возвращает полный адрес сервера
func (c *Config) GetServerAddress() string {
	return c.Server.Host + ":" + c.Server.Port
}

// IsProduction проверяет, production ли окружение
func (c *Config) IsProduction() bool {
	return c.Server.Env == "production"
}

// setDefaults устанавливает значения по умолчанию
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.app_version", "1.0.0")
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.timeout", 30*time.Second)
	v.SetDefault("server.idle_timeout", 60*time.Second)
	v.SetDefault("server.request_timeout", 30)
	v.SetDefault("server.environment", "development")
	v.SetDefault("server.mode", "debug")

	v.SetDefault("store.driver", "redis")

	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "appointly")
	v.SetDefault("database.password", "password")
	v.SetDefault("database.dbname", "appointly")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 5*time.Minute)

	// Redis defaults
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.max_retries", 3)
	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("redis.min_idle_conns", 2)
	v.SetDefault("redis.dial_timeout", 5*time.Second)
	v.SetDefault("redis.read_timeout", 3*time.Second)
	v.SetDefault("redis.write_timeout", 3*time.Second)
	v.SetDefault("redis.pool_timeout", 4*time.Second)

	// Booking defaults
	v.SetDefault("booking.open_hour", 9)
	v.SetDefault("booking.close_hour", 17)
	v.SetDefault("booking.timezone", "UTC")

	// SMS defaults
	v.SetDefault("sms.provider", "console")
	v.SetDefault("sms.account_sid", "")
	v.SetDefault("sms.auth_token", "")
	v.SetDefault("sms.from_number", "")
	v.SetDefault("sms.admin_phone", "")
	v.SetDefault("sms.timeout", 10*time.Second)
	v.SetDefault("sms.status_poll_delay", 250*time.Millisecond)
	v.SetDefault("sms.dispatch_timeout", 30*time.Second)
	v.SetDefault("sms.business_name", "Appointly")
	v.SetDefault("sms.reconcile_limit", 100)
	v.SetDefault("sms.reconcile_enabled", true)

	v.SetDefault("reminder.lock_ttl", 5*time.Minute)
	v.SetDefault("reminder.cron_secret", "")

	// Rate limit defaults
	v.SetDefault("rate_limits.booking.limit", 10)
	v.SetDefault("rate_limits.booking.window", time.Minute)
	v.SetDefault("rate_limits.sms.limit", 100)
	v.SetDefault("rate_limits.sms.window", 24*time.Hour)
	v.SetDefault("rate_limits.status.limit", 60)
	v.SetDefault("rate_limits.status.window", time.Hour)
	v.SetDefault("rate_limits.auth.limit", 5)
	v.SetDefault("rate_limits.auth.window", 15*time.Minute)
	v.SetDefault("rate_limits.auth_escalation.threshold", 10)
	v.SetDefault("rate_limits.auth_escalation.window", time.Hour)
	v.SetDefault("rate_limits.auth_escalation.block", time.Hour)

	v.SetDefault("admin.username", "admin")
	v.SetDefault("admin.password_hash", "")

	// JWT defaults
	v.SetDefault("jwt.secret", "change-me-in-production")
	v.SetDefault("jwt.expiration", 12*time.Hour)

	// Telegram defaults
	v.SetDefault("telegram.enabled", false)
	v.SetDefault("telegram.bot_token", "")
	v.SetDefault("telegram.chat_id", "")
	v.SetDefault("telegram.timeout", 5*time.Second)

	v.SetDefault("queue.enabled", false)
	v.SetDefault("queue.prefix", "appointly")
	v.SetDefault("queue.max_retries", 3)
	v.SetDefault("queue.base_delay", 5*time.Second)

	v.SetDefault("rabbitmq.url", "")
	v.SetDefault("rabbitmq.exchange", "appointly.events")

	v.SetDefault("scheduler.enabled", false)
	v.SetDefault("scheduler.reminder_spec", "*/15 * * * *")
	v.SetDefault("scheduler.job_timeout", 10*time.Minute)

	// Worker defaults
	v.SetDefault("worker.reconcile_interval", 10*time.Minute)
}
