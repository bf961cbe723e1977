package config

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Store backends.
const (
	StoreBackendRedis    = "redis"
	StoreBackendPostgres = "postgres"
	StoreBackendMemory   = "memory"
)

// Mail delivery modes.
const (
	MailDeliverySMTP  = "smtp"
	MailDeliveryQueue = "queue"
)

// Queue backends for queued mail delivery.
const (
	QueueBackendRabbitMQ = "rabbitmq"
	QueueBackendPubSub   = "pubsub"
)

// Template sources.
const (
	TemplateSourceEmbedded = "embedded"
	TemplateSourceMinio    = "minio"
	TemplateSourceGCS      = "gcs"
)

type Config struct {
	Env        string `env:"ENV" envDefault:"prod"`
	ServerPort int    `env:"SERVER_PORT" envDefault:"5002"`

	// CORSOrigins lists origins allowed to call the API from a browser.
	CORSOrigins []string `env:"SERVER_CORS_ORIGINS" envSeparator:"," envDefault:"*"`

	Log       LogConfig       `envPrefix:"LOG_"`
	Store     StoreConfig     `envPrefix:"STORE_"`
	Redis     RedisConfig     `envPrefix:"REDIS_"`
	Database  DatabaseConfig  `envPrefix:"DB_"`
	SMTP      SMTPConfig      `envPrefix:"SMTP_"`
	Mail      MailConfig      `envPrefix:"MAIL_"`
	RabbitMQ  RabbitMQConfig  `envPrefix:"RABBITMQ_"`
	PubSub    PubSubConfig    `envPrefix:"PUBSUB_"`
	Templates TemplatesConfig `envPrefix:"TEMPLATES_"`
	Minio     MinioConfig     `envPrefix:"MINIO_"`
	GCS       GCSConfig       `envPrefix:"GCS_"`
	Auth      AuthConfig      `envPrefix:"AUTH_"`
}

type LogConfig struct {
	Level  string `env:"LEVEL" envDefault:"info"`
	Format string `env:"FORMAT" envDefault:"json"`
}

// StoreConfig selects the key-value backend. Timeout bounds every store call.
type StoreConfig struct {
	Backend string        `env:"BACKEND" envDefault:"redis"`
	Timeout time.Duration `env:"TIMEOUT" envDefault:"3s"`
}

type RedisConfig struct {
	Addr     string `env:"ADDR" envDefault:"localhost:6379"`
	Username string `env:"USERNAME"`
	Password string `env:"PASSWORD"`
	DB       int    `env:"DB" envDefault:"0"`
}

type DatabaseConfig struct {
	Host     string `env:"HOST" envDefault:"localhost"`
	Port     int    `env:"PORT" envDefault:"5432"`
	User     string `env:"USER" envDefault:"auroraid"`
	Password string `env:"PASSWORD" envDefault:"password"`
	DBName   string `env:"NAME" envDefault:"auroraid"`
	UseSSL   bool   `env:"USE_SSL" envDefault:"false"`
}

// SMTPConfig describes the outbound relay. From defaults to Username.
// RequireTLS refuses relays that do not offer STARTTLS.
type SMTPConfig struct {
	Host       string        `env:"HOST" envDefault:"smtp.example.com"`
	Port       int           `env:"PORT" envDefault:"587"`
	Username   string        `env:"USERNAME"`
	Password   string        `env:"PASSWORD"`
	From       string        `env:"FROM"`
	Timeout    time.Duration `env:"TIMEOUT" envDefault:"15s"`
	RequireTLS bool          `env:"REQUIRE_TLS" envDefault:"true"`
}

// MailConfig controls how the notification gateway hands off messages.
type MailConfig struct {
	Delivery     string `env:"DELIVERY" envDefault:"smtp"`
	QueueBackend string `env:"QUEUE_BACKEND" envDefault:"rabbitmq"`
	QueueName    string `env:"QUEUE_NAME" envDefault:"auroraid.mail"`
	Locale       string `env:"LOCALE" envDefault:"en"`
	ProductName  string `env:"PRODUCT_NAME" envDefault:"AuroraID"`
}

type RabbitMQConfig struct {
	URL             string `env:"URL"`
	QueueDurable    bool   `env:"QUEUE_DURABLE" envDefault:"true"`
	QueueAutoDelete bool   `env:"QUEUE_AUTO_DELETE" envDefault:"false"`
	PrefetchCount   int    `env:"PREFETCH_COUNT" envDefault:"10"`
}

type PubSubConfig struct {
	ProjectID          string `env:"PROJECT_ID"`
	CredentialsFile    string `env:"CREDENTIALS_FILE"`
	SubscriptionSuffix string `env:"SUBSCRIPTION_SUFFIX" envDefault:"-sub"`
}

// TemplatesConfig selects where mail templates are read from. Prefix is the
// object key prefix inside the bucket.
type TemplatesConfig struct {
	Source string `env:"SOURCE" envDefault:"embedded"`
	Prefix string `env:"PREFIX" envDefault:"templates/"`
}

type MinioConfig struct {
	Endpoint  string `env:"ENDPOINT"`
	AccessKey string `env:"ACCESS_KEY"`
	SecretKey string `env:"SECRET_KEY"`
	Bucket    string `env:"BUCKET"`
	UseSSL    bool   `env:"USE_SSL" envDefault:"false"`
}

type GCSConfig struct {
	ProjectID       string `env:"PROJECT_ID"`
	Bucket          string `env:"BUCKET"`
	CredentialsFile string `env:"CREDENTIALS_FILE"`
}

type AuthConfig struct {
	CodeLength     int           `env:"CODE_LENGTH" envDefault:"6"`
	CodeTTL        time.Duration `env:"CODE_TTL" envDefault:"300s"`
	PasswordLength int           `env:"PASSWORD_LENGTH" envDefault:"12"`
	BcryptCost     int           `env:"BCRYPT_COST" envDefault:"10"`
}

// LoadConfig reads configuration from the environment. In dev mode a .env
// file in the working directory is loaded first.
func LoadConfig() (Config, error) {
	if os.Getenv("ENV") == "dev" {
		_ = godotenv.Load()
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects settings the server cannot start with.
func (c Config) Validate() error {
	switch c.Store.Backend {
	case StoreBackendRedis, StoreBackendPostgres, StoreBackendMemory:
	default:
		return fmt.Errorf("unknown store backend %q", c.Store.Backend)
	}
	switch c.Mail.Delivery {
	case MailDeliverySMTP, MailDeliveryQueue:
	default:
		return fmt.Errorf("unknown mail delivery %q", c.Mail.Delivery)
	}
	switch c.Mail.QueueBackend {
	case QueueBackendRabbitMQ, QueueBackendPubSub:
	default:
		return fmt.Errorf("unknown queue backend %q", c.Mail.QueueBackend)
	}
	switch c.Templates.Source {
	case TemplateSourceEmbedded, TemplateSourceMinio, TemplateSourceGCS:
	default:
		return fmt.Errorf("unknown template source %q", c.Templates.Source)
	}
	if c.Auth.CodeLength <= 0 {
		return fmt.Errorf("AUTH_CODE_LENGTH must be positive")
	}
	if c.Auth.CodeTTL <= 0 {
		return fmt.Errorf("AUTH_CODE_TTL must be positive")
	}
	if c.Auth.PasswordLength <= 0 {
		return fmt.Errorf("AUTH_PASSWORD_LENGTH must be positive")
	}
	return nil
}
