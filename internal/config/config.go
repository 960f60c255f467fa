package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Queue     QueueConfig     `mapstructure:"queue"`
	Pipeline  PipelineConfig  `mapstructure:"pipeline"`
	Generator GeneratorConfig `mapstructure:"generator"`
	Blob      BlobConfig      `mapstructure:"blob"`
	Notify    NotifyConfig    `mapstructure:"notify"`
}

type ServerConfig struct {
	Port int        `mapstructure:"port"`
	Mode string     `mapstructure:"mode"`
	CORS CORSConfig `mapstructure:"cors"`
}

type CORSConfig struct {
	AllowedOrigins  []string `mapstructure:"allowed_origins"`
	AllowAllOrigins bool     `mapstructure:"allow_all_origins"`
}

type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"`
	Path            string        `mapstructure:"path"`
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Name            string        `mapstructure:"name"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

// DSN builds the connection string for the configured driver.
func (c *DatabaseConfig) DSN() string {
	if c.Driver == "postgres" {
		return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode)
	}
	return c.Path
}

// StageQueueConfig holds per-stage delivery settings.
type StageQueueConfig struct {
	VisibilityTimeout time.Duration `mapstructure:"visibility_timeout"`
	MaxAttempts       int           `mapstructure:"max_attempts"`
	Workers           int           `mapstructure:"workers"`
}

type QueueConfig struct {
	PollInterval time.Duration    `mapstructure:"poll_interval"`
	Plan         StageQueueConfig `mapstructure:"plan"`
	Develop      StageQueueConfig `mapstructure:"develop"`
	Verify       StageQueueConfig `mapstructure:"verify"`
	Deploy       StageQueueConfig `mapstructure:"deploy"`
}

type PipelineConfig struct {
	CoverageThreshold float64 `mapstructure:"coverage_threshold"`
	SecurityThreshold float64 `mapstructure:"security_threshold"`
	MaxFileItemBytes  int     `mapstructure:"max_file_item_bytes"`
}

type GeneratorConfig struct {
	Provider    string        `mapstructure:"provider"`
	Model       string        `mapstructure:"model"`
	APIKey      string        `mapstructure:"api_key"`
	BaseURL     string        `mapstructure:"base_url"`
	Timeout     time.Duration `mapstructure:"timeout"`
	MaxRetries  int           `mapstructure:"max_retries"`
	Temperature float64       `mapstructure:"temperature"`
	MaxTokens   int           `mapstructure:"max_tokens"`
}

type BlobConfig struct {
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	UseSSL    bool   `mapstructure:"use_ssl"`
	Bucket    string `mapstructure:"bucket"`
	Region    string `mapstructure:"region"`
	PublicURL string `mapstructure:"public_url"`
}

type NotifyConfig struct {
	WebhookURL string        `mapstructure:"webhook_url"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

func Load(configPath string) (*Config, error) {
	// Load .env file if exists
	_ = godotenv.Load()

	v := viper.New()

	// Set config file path
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	// Enable environment variable override
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Set defaults
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "debug")
	v.SetDefault("server.cors.allow_all_origins", true)
	v.SetDefault("server.cors.allowed_origins", []string{})
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "./data/forge.db")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.max_open_conns", 20)
	v.SetDefault("database.conn_max_lifetime", "1h")
	v.SetDefault("database.auto_migrate", true)
	v.SetDefault("queue.poll_interval", "1s")
	v.SetDefault("queue.plan.visibility_timeout", "2m")
	v.SetDefault("queue.plan.max_attempts", 3)
	v.SetDefault("queue.plan.workers", 1)
	v.SetDefault("queue.develop.visibility_timeout", "5m")
	v.SetDefault("queue.develop.max_attempts", 3)
	v.SetDefault("queue.develop.workers", 4)
	v.SetDefault("queue.verify.visibility_timeout", "2m")
	v.SetDefault("queue.verify.max_attempts", 3)
	v.SetDefault("queue.verify.workers", 2)
	v.SetDefault("queue.deploy.visibility_timeout", "3m")
	v.SetDefault("queue.deploy.max_attempts", 3)
	v.SetDefault("queue.deploy.workers", 1)
	v.SetDefault("pipeline.coverage_threshold", 0.70)
	v.SetDefault("pipeline.security_threshold", 0.60)
	v.SetDefault("pipeline.max_file_item_bytes", 262144)
	v.SetDefault("generator.provider", "openai")
	v.SetDefault("generator.model", "gpt-4o-mini")
	v.SetDefault("generator.base_url", "https://api.openai.com/v1")
	v.SetDefault("generator.timeout", "60s")
	v.SetDefault("generator.max_retries", 2)
	v.SetDefault("generator.temperature", 0.2)
	v.SetDefault("generator.max_tokens", 2048)
	v.SetDefault("blob.endpoint", "localhost:9000")
	v.SetDefault("blob.use_ssl", false)
	v.SetDefault("blob.bucket", "forge-artifacts")
	v.SetDefault("notify.timeout", "5s")

	// Read config file
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Bind environment variables explicitly for sensitive data
	v.BindEnv("database.host", "DB_HOST")
	v.BindEnv("database.password", "DB_PASSWORD")
	v.BindEnv("generator.api_key", "OPENAI_API_KEY")
	v.BindEnv("generator.base_url", "OPENAI_BASE_URL")
	v.BindEnv("generator.model", "GENERATOR_MODEL")
	v.BindEnv("blob.endpoint", "BLOB_ENDPOINT")
	v.BindEnv("blob.access_key", "BLOB_ACCESS_KEY")
	v.BindEnv("blob.secret_key", "BLOB_SECRET_KEY")
	v.BindEnv("blob.use_ssl", "BLOB_USE_SSL")
	v.BindEnv("notify.webhook_url", "NOTIFY_WEBHOOK_URL")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// StageQueue returns the queue settings for a stage name, falling back to
// develop's settings for unknown names.
func (c *QueueConfig) StageQueue(stage string) StageQueueConfig {
	switch stage {
	case "plan":
		return c.Plan
	case "develop":
		return c.Develop
	case "verify":
		return c.Verify
	case "deploy":
		return c.Deploy
	default:
		return c.Develop
	}
}
