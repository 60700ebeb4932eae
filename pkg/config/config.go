package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/credwatch-go/pkg/logger"
)

// ErrInvalidConfiguration covers anything rejected at load time. Reminder
// thresholds in particular are validated here, never per-credential at
// runtime.
var ErrInvalidConfiguration = errors.New("invalid configuration")

type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Kafka      KafkaConfig      `mapstructure:"kafka"`
	AWS        AWSConfig        `mapstructure:"aws"`
	Compliance ComplianceConfig `mapstructure:"compliance"`
	Logger     logger.Config    `mapstructure:"logger"`
}

type ServerConfig struct {
	Port            int `mapstructure:"port"`
	ReadTimeout     int `mapstructure:"read_timeout"`
	WriteTimeout    int `mapstructure:"write_timeout"`
	ShutdownTimeout int `mapstructure:"shutdown_timeout"`
}

type DatabaseConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	User         string `mapstructure:"user"`
	Password     string `mapstructure:"password"`
	Name         string `mapstructure:"name"`
	SSLMode      string `mapstructure:"ssl_mode"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
}

type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	PoolSize int    `mapstructure:"pool_size"`
}

type KafkaConfig struct {
	Enabled bool     `mapstructure:"enabled"`
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

type AWSConfig struct {
	Region    string `mapstructure:"region"`
	SESSource string `mapstructure:"ses_source"`
	SNSSender string `mapstructure:"sns_sender"`
}

// ChannelsConfig is the process-wide default for which channels are enabled;
// per-holder settings override it.
type ChannelsConfig struct {
	Email bool `mapstructure:"email"`
	SMS   bool `mapstructure:"sms"`
	InApp bool `mapstructure:"in_app"`
}

type ComplianceConfig struct {
	// ReminderThresholds are day offsets before expiry, strictly descending.
	ReminderThresholds []int          `mapstructure:"reminder_thresholds"`
	Channels           ChannelsConfig `mapstructure:"channels"`

	// PassInterval is how often the scheduler sweeps all credentials.
	PassInterval time.Duration `mapstructure:"pass_interval"`

	// Workers is the number of concurrent per-credential cycles.
	Workers int `mapstructure:"workers"`

	// CredentialTimeout bounds one credential's evaluate-dispatch-record
	// cycle; on expiry the cycle is abandoned and retried next pass.
	CredentialTimeout time.Duration `mapstructure:"credential_timeout"`

	// ConflictRetries bounds re-read-and-recompute attempts after an
	// optimistic write conflict before deferring to the next pass.
	ConflictRetries int `mapstructure:"conflict_retries"`

	// DispatchRate caps transport handoffs per second across a pass.
	DispatchRate  int `mapstructure:"dispatch_rate"`
	DispatchBurst int `mapstructure:"dispatch_burst"`
}

func Load(serviceName string) (*Config, error) {
	viper.SetConfigName(serviceName)
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./configs")
	viper.AddConfigPath("/etc/credwatch")

	setDefaults()

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.SetEnvPrefix("CREDWATCH")

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := config.Compliance.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// Validate rejects engine settings the scheduler cannot run with.
func (c *ComplianceConfig) Validate() error {
	if len(c.ReminderThresholds) == 0 {
		return fmt.Errorf("%w: reminder_thresholds must not be empty", ErrInvalidConfiguration)
	}
	for i, d := range c.ReminderThresholds {
		if d <= 0 {
			return fmt.Errorf("%w: reminder threshold %d is not a positive day offset", ErrInvalidConfiguration, d)
		}
		if i > 0 && c.ReminderThresholds[i-1] <= d {
			return fmt.Errorf("%w: reminder_thresholds must be strictly descending", ErrInvalidConfiguration)
		}
	}
	if c.PassInterval <= 0 {
		return fmt.Errorf("%w: pass_interval must be positive", ErrInvalidConfiguration)
	}
	if c.Workers <= 0 {
		return fmt.Errorf("%w: workers must be positive", ErrInvalidConfiguration)
	}
	if c.CredentialTimeout <= 0 {
		return fmt.Errorf("%w: credential_timeout must be positive", ErrInvalidConfiguration)
	}
	if c.ConflictRetries < 0 {
		return fmt.Errorf("%w: conflict_retries must not be negative", ErrInvalidConfiguration)
	}
	return nil
}

func setDefaults() {
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.read_timeout", 30)
	viper.SetDefault("server.write_timeout", 30)
	viper.SetDefault("server.shutdown_timeout", 30)

	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.user", "credwatch")
	viper.SetDefault("database.password", "credwatch")
	viper.SetDefault("database.name", "credwatch")
	viper.SetDefault("database.ssl_mode", "disable")
	viper.SetDefault("database.max_open_conns", 25)
	viper.SetDefault("database.max_idle_conns", 25)

	viper.SetDefault("redis.enabled", true)
	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", 6379)
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("redis.pool_size", 10)

	viper.SetDefault("kafka.enabled", false)
	viper.SetDefault("kafka.brokers", []string{"localhost:9092"})
	viper.SetDefault("kafka.topic", "credwatch.compliance")

	viper.SetDefault("aws.region", "us-east-1")
	viper.SetDefault("aws.ses_source", "compliance@credwatch.local")

	viper.SetDefault("compliance.reminder_thresholds", []int{90, 60, 30, 14, 7, 1})
	viper.SetDefault("compliance.channels.email", true)
	viper.SetDefault("compliance.channels.sms", false)
	viper.SetDefault("compliance.channels.in_app", true)
	viper.SetDefault("compliance.pass_interval", "1h")
	viper.SetDefault("compliance.workers", 8)
	viper.SetDefault("compliance.credential_timeout", "30s")
	viper.SetDefault("compliance.conflict_retries", 3)
	viper.SetDefault("compliance.dispatch_rate", 50)
	viper.SetDefault("compliance.dispatch_burst", 10)

	viper.SetDefault("logger.level", "info")
	viper.SetDefault("logger.format", "json")
	viper.SetDefault("logger.output", "stdout")
	viper.SetDefault("logger.add_caller", true)
}

func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode)
}

func (c *RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
