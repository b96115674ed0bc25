package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config holds the complete configuration for the alerting service
type Config struct {
	Environment   string              `mapstructure:"environment"`
	Debug         bool                `mapstructure:"debug"`
	Server        ServerConfig        `mapstructure:"server"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Redis         RedisConfig         `mapstructure:"redis"`
	Kafka         KafkaConfig         `mapstructure:"kafka"`
	Alerting      AlertingConfig      `mapstructure:"alerting"`
	Notifications NotificationsConfig `mapstructure:"notifications"`
	Scheduler     SchedulerConfig     `mapstructure:"scheduler"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	HTTPPort     int           `mapstructure:"http_port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
	BaseURL      string        `mapstructure:"base_url"`
}

// DatabaseConfig contains database configuration
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Name            string        `mapstructure:"name"`
	Username        string        `mapstructure:"username"`
	Password        string        `mapstructure:"password"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	MigrationsPath  string        `mapstructure:"migrations_path"`
}

// DSN builds the postgres connection string.
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.Username, c.Password, c.Name, c.SSLMode,
	)
}

// RedisConfig contains Redis configuration for the recipient cache
type RedisConfig struct {
	Host     string        `mapstructure:"host"`
	Port     int           `mapstructure:"port"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	PoolSize int           `mapstructure:"pool_size"`
	CacheTTL time.Duration `mapstructure:"cache_ttl"`
}

// Addr returns the host:port address of the Redis server.
func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// KafkaConfig contains Kafka configuration
type KafkaConfig struct {
	Enabled bool         `mapstructure:"enabled"`
	Brokers []string     `mapstructure:"brokers"`
	GroupID string       `mapstructure:"group_id"`
	Topics  TopicsConfig `mapstructure:"topics"`
}

// TopicsConfig contains Kafka topic configuration
type TopicsConfig struct {
	SensorReadings string `mapstructure:"sensor_readings"`
	AlertEvents    string `mapstructure:"alert_events"`
}

// AlertingConfig contains lifecycle configuration
type AlertingConfig struct {
	AlertTTL                time.Duration `mapstructure:"alert_ttl"`
	DedupeWindow            time.Duration `mapstructure:"dedupe_window"`
	DispatchTimeout         time.Duration `mapstructure:"dispatch_timeout"`
	NotifyOnSeverityUpgrade bool          `mapstructure:"notify_on_severity_upgrade"`
	ExpirySweepBatch        int           `mapstructure:"expiry_sweep_batch"`
}

// NotificationsConfig contains notification channel configuration
type NotificationsConfig struct {
	Email        EmailConfig   `mapstructure:"email"`
	SMS          SMSConfig     `mapstructure:"sms"`
	InApp        InAppConfig   `mapstructure:"in_app"`
	Webhook      WebhookConfig `mapstructure:"webhook"`
	MaxRetries   int           `mapstructure:"max_retries"`
	WorkerLimit  int           `mapstructure:"worker_limit"`
	RetryBatch   int           `mapstructure:"retry_batch"`
}

// EmailConfig contains email channel configuration
type EmailConfig struct {
	Enabled         bool   `mapstructure:"enabled"`
	SendGridAPIKey  string `mapstructure:"sendgrid_api_key"`
	FromAddress     string `mapstructure:"from_address"`
	FromName        string `mapstructure:"from_name"`
	RateLimitPerMin int    `mapstructure:"rate_limit_per_min"`
}

// SMSConfig contains SMS channel configuration
type SMSConfig struct {
	Enabled         bool   `mapstructure:"enabled"`
	TwilioSID       string `mapstructure:"twilio_sid"`
	TwilioToken     string `mapstructure:"twilio_token"`
	FromNumber      string `mapstructure:"from_number"`
	RateLimitPerMin int    `mapstructure:"rate_limit_per_min"`
}

// InAppConfig contains in-app channel configuration
type InAppConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// WebhookConfig contains webhook channel configuration
type WebhookConfig struct {
	Enabled         bool              `mapstructure:"enabled"`
	URL             string            `mapstructure:"url"`
	Headers         map[string]string `mapstructure:"headers"`
	Timeout         time.Duration     `mapstructure:"timeout"`
	RateLimitPerMin int               `mapstructure:"rate_limit_per_min"`
}

// SchedulerConfig contains background sweep configuration
type SchedulerConfig struct {
	Enabled              bool   `mapstructure:"enabled"`
	ExpirySweepSchedule  string `mapstructure:"expiry_sweep_schedule"`
	RetrySweepSchedule   string `mapstructure:"retry_sweep_schedule"`
	CleanupSchedule      string `mapstructure:"cleanup_schedule"`
	AlertRetentionDays   int    `mapstructure:"alert_retention_days"`
}

// Load loads configuration from flags, environment variables and config files
func Load() (*Config, error) {
	flags := pflag.NewFlagSet("alerting-service", pflag.ContinueOnError)
	configPath := flags.String("config", "", "path to config file")
	flags.Int("http-port", 0, "HTTP listen port")
	flags.Bool("debug", false, "enable debug logging")
	if err := flags.Parse(os.Args[1:]); err != nil && err != pflag.ErrHelp {
		return nil, fmt.Errorf("error parsing flags: %w", err)
	}
	// Flags only override when actually passed; otherwise the file and
	// environment win.
	if flags.Changed("http-port") {
		viper.BindPFlag("server.http_port", flags.Lookup("http-port"))
	}
	if flags.Changed("debug") {
		viper.BindPFlag("debug", flags.Lookup("debug"))
	}

	if *configPath != "" {
		viper.SetConfigFile(*configPath)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("./config")
		viper.AddConfigPath("/etc/smart-city-alerting")
	}

	setDefaults()

	viper.AutomaticEnv()
	viper.SetEnvPrefix("SMARTCITY")

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	return &config, nil
}

// setDefaults sets default configuration values
func setDefaults() {
	viper.SetDefault("environment", "development")
	viper.SetDefault("debug", false)

	// Server
	viper.SetDefault("server.http_port", 8080)
	viper.SetDefault("server.read_timeout", "30s")
	viper.SetDefault("server.write_timeout", "30s")
	viper.SetDefault("server.idle_timeout", "120s")
	viper.SetDefault("server.base_url", "http://localhost:3000")

	// Database
	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.name", "smartcity_alerts")
	viper.SetDefault("database.username", "postgres")
	viper.SetDefault("database.password", "postgres")
	viper.SetDefault("database.ssl_mode", "disable")
	viper.SetDefault("database.max_open_conns", 25)
	viper.SetDefault("database.max_idle_conns", 5)
	viper.SetDefault("database.conn_max_lifetime", "5m")
	viper.SetDefault("database.migrations_path", "file://migrations")

	// Redis
	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", 6379)
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("redis.pool_size", 10)
	viper.SetDefault("redis.cache_ttl", "30s")

	// Kafka
	viper.SetDefault("kafka.enabled", false)
	viper.SetDefault("kafka.brokers", []string{"localhost:9092"})
	viper.SetDefault("kafka.group_id", "smart-city-alerting")
	viper.SetDefault("kafka.topics.sensor_readings", "sensor-readings")
	viper.SetDefault("kafka.topics.alert_events", "alert-events")

	// Alerting
	viper.SetDefault("alerting.alert_ttl", "168h")
	viper.SetDefault("alerting.dedupe_window", "10m")
	viper.SetDefault("alerting.dispatch_timeout", "30s")
	viper.SetDefault("alerting.notify_on_severity_upgrade", true)
	viper.SetDefault("alerting.expiry_sweep_batch", 100)

	// Notifications
	viper.SetDefault("notifications.max_retries", 3)
	viper.SetDefault("notifications.worker_limit", 8)
	viper.SetDefault("notifications.retry_batch", 50)
	viper.SetDefault("notifications.email.enabled", false)
	viper.SetDefault("notifications.email.from_address", "alerts@smartcity.local")
	viper.SetDefault("notifications.email.from_name", "Smart City Alerts")
	viper.SetDefault("notifications.email.rate_limit_per_min", 60)
	viper.SetDefault("notifications.sms.enabled", false)
	viper.SetDefault("notifications.sms.rate_limit_per_min", 10)
	viper.SetDefault("notifications.in_app.enabled", true)
	viper.SetDefault("notifications.webhook.enabled", false)
	viper.SetDefault("notifications.webhook.timeout", "15s")
	viper.SetDefault("notifications.webhook.rate_limit_per_min", 120)

	// Scheduler
	viper.SetDefault("scheduler.enabled", true)
	viper.SetDefault("scheduler.expiry_sweep_schedule", "@every 1m")
	viper.SetDefault("scheduler.retry_sweep_schedule", "@every 5m")
	viper.SetDefault("scheduler.cleanup_schedule", "@daily")
	viper.SetDefault("scheduler.alert_retention_days", 90)
}
