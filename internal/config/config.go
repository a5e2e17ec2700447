package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/spf13/viper"
)

type Config struct {
	Clinic   ClinicConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Channels ChannelsConfig
	Delivery DeliveryConfig
	Health   HealthConfig
	Server   ServerConfig
}

type ClinicConfig struct {
	Name     string `mapstructure:"name"`
	Timezone string `mapstructure:"timezone"`
}

type ServerConfig struct {
	Port int `mapstructure:"port"`
}

type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Name     string `mapstructure:"name"`
	SSLMode  string `mapstructure:"sslmode"`
}

func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode)
}

type RedisConfig struct {
	URL          string        `mapstructure:"url"`
	MaxRetries   int           `mapstructure:"max_retries"`
	RetryBackoff time.Duration `mapstructure:"retry_backoff"`
	PoolSize     int           `mapstructure:"pool_size"`
	MinIdleConns int           `mapstructure:"min_idle_conns"`
}

// ChannelsConfig carries per-channel credentials. A channel whose
// credentials are absent is simply not registered with the dispatcher; the
// fallback policy routes around it and the health check flags it.
// Credentials are overlaid from the environment (REMINDER_CHANNELS_* keys).
type ChannelsConfig struct {
	Line  LineConfig  `mapstructure:"line"`
	Email EmailConfig `mapstructure:"email"`
	SMS   SMSConfig   `mapstructure:"sms"`
}

type LineConfig struct {
	ChannelToken string `mapstructure:"channel_token" envconfig:"LINE_CHANNEL_TOKEN"`
	APIBaseURL   string `mapstructure:"api_base_url" envconfig:"LINE_API_BASE_URL"`
	// PushPerSecond bounds LINE API push calls; the API rate-limits hard.
	PushPerSecond int `mapstructure:"push_per_second" envconfig:"LINE_PUSH_PER_SECOND"`
}

func (c LineConfig) Configured() bool { return c.ChannelToken != "" }

type EmailConfig struct {
	SMTPHost string `mapstructure:"smtp_host" envconfig:"EMAIL_SMTP_HOST"`
	SMTPPort int    `mapstructure:"smtp_port" envconfig:"EMAIL_SMTP_PORT"`
	Username string `mapstructure:"username" envconfig:"EMAIL_USERNAME"`
	Password string `mapstructure:"password" envconfig:"EMAIL_PASSWORD"`
	From     string `mapstructure:"from" envconfig:"EMAIL_FROM"`
}

func (c EmailConfig) Configured() bool { return c.SMTPHost != "" && c.From != "" }

type SMSConfig struct {
	Enabled    bool   `mapstructure:"enabled" envconfig:"SMS_ENABLED"`
	AccountSID string `mapstructure:"account_sid" envconfig:"SMS_ACCOUNT_SID"`
	AuthToken  string `mapstructure:"auth_token" envconfig:"SMS_AUTH_TOKEN"`
	FromNumber string `mapstructure:"from_number" envconfig:"SMS_FROM_NUMBER"`
}

func (c SMSConfig) Configured() bool {
	return c.AccountSID != "" && c.AuthToken != "" && c.FromNumber != ""
}

// DeliveryConfig tunes the dispatcher and the sweeps.
type DeliveryConfig struct {
	// RetryCeiling caps automatic retries; after it a reminder stays failed
	// until an operator steps in.
	RetryCeiling int `mapstructure:"retry_ceiling"`
	// Backoff holds per-retry-count waits; retries past the table use
	// MaxBackoff (though the ceiling normally stops them first).
	Backoff     []time.Duration `mapstructure:"backoff"`
	MaxBackoff  time.Duration   `mapstructure:"max_backoff"`
	SendTimeout time.Duration   `mapstructure:"send_timeout"`
	BatchSize   int             `mapstructure:"batch_size"`
	// PollInterval drives the delivery sweep ticker.
	PollInterval time.Duration `mapstructure:"poll_interval"`
	// StaleClaimAfter bounds how long a processing claim may sit before a
	// sweep reclaims it.
	StaleClaimAfter time.Duration `mapstructure:"stale_claim_after"`
}

// BackoffFor returns the wait before the given retry attempt (1-based).
func (c DeliveryConfig) BackoffFor(retryCount int) time.Duration {
	if retryCount <= 0 {
		return 0
	}
	if retryCount <= len(c.Backoff) {
		return c.Backoff[retryCount-1]
	}
	return c.MaxBackoff
}

type HealthConfig struct {
	SuccessRateThreshold float64       `mapstructure:"success_rate_threshold"`
	Window               time.Duration `mapstructure:"window"`
	StaleAfter           time.Duration `mapstructure:"stale_after"`
}

func setDefaults() {
	viper.SetDefault("clinic.name", "Dental Clinic")
	viper.SetDefault("clinic.timezone", "Asia/Tokyo")
	viper.SetDefault("server.port", 8081)
	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.sslmode", "disable")
	viper.SetDefault("redis.max_retries", 3)
	viper.SetDefault("redis.retry_backoff", 100*time.Millisecond)
	viper.SetDefault("redis.pool_size", 10)
	viper.SetDefault("redis.min_idle_conns", 2)
	viper.SetDefault("channels.line.api_base_url", "https://api.line.me")
	viper.SetDefault("channels.line.push_per_second", 10)
	viper.SetDefault("channels.email.smtp_port", 587)
	viper.SetDefault("delivery.retry_ceiling", 3)
	viper.SetDefault("delivery.backoff", []time.Duration{time.Minute, 5 * time.Minute, 15 * time.Minute})
	viper.SetDefault("delivery.max_backoff", 30*time.Minute)
	viper.SetDefault("delivery.send_timeout", 15*time.Second)
	viper.SetDefault("delivery.batch_size", 100)
	viper.SetDefault("delivery.poll_interval", 2*time.Minute)
	viper.SetDefault("delivery.stale_claim_after", 10*time.Minute)
	viper.SetDefault("health.success_rate_threshold", 0.8)
	viper.SetDefault("health.window", 24*time.Hour)
	viper.SetDefault("health.stale_after", 30*time.Minute)
}

func LoadConfig() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	setDefaults()
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Credentials come from the environment in deployment; the overlay wins
	// over anything in the file.
	if err := envconfig.Process("reminder_channels", &config.Channels); err != nil {
		return nil, fmt.Errorf("failed to process channel env overrides: %w", err)
	}

	return &config, nil
}
