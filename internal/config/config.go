package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port           string        `mapstructure:"PORT"`
	Env            string        `mapstructure:"ENV"`
	StoreDriver    string        `mapstructure:"STORE_DRIVER"`
	DatabaseURL    string        `mapstructure:"DATABASE_URL"`
	DBMaxConns     int32         `mapstructure:"DB_MAX_CONNS"`
	DBMinConns     int32         `mapstructure:"DB_MIN_CONNS"`
	BoltPath       string        `mapstructure:"BOLT_PATH"`
	AuthIssuer     string        `mapstructure:"AUTH_ISSUER"`
	AuthJWKSURL    string        `mapstructure:"AUTH_JWKS_URL"`
	AuthAudience   string        `mapstructure:"AUTH_AUDIENCE"`
	AuthSigningKey string        `mapstructure:"AUTH_SIGNING_KEY"`
	CORSOrigins    []string      `mapstructure:"CORS_ORIGINS"`
	RateLimitRPS   float64       `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst int           `mapstructure:"RATE_LIMIT_BURST"`
	RequestTimeout time.Duration `mapstructure:"REQUEST_TIMEOUT"`

	// Payment gateway webhook intake.
	WebhookSecret          string        `mapstructure:"WEBHOOK_SECRET"`
	WebhookSignatureHeader string        `mapstructure:"WEBHOOK_SIGNATURE_HEADER"`
	WebhookTimeout         time.Duration `mapstructure:"WEBHOOK_TIMEOUT"`
	WebhookBodyLimit       string        `mapstructure:"WEBHOOK_BODY_LIMIT"`

	// Downstream event publishing.
	EventsDriver        string   `mapstructure:"EVENTS_DRIVER"`
	KafkaBrokers        []string `mapstructure:"KAFKA_BROKERS"`
	KafkaTopic          string   `mapstructure:"KAFKA_TOPIC"`
	RabbitMQURL         string   `mapstructure:"RABBITMQ_URL"`
	RabbitMQQueue       string   `mapstructure:"RABBITMQ_QUEUE"`
	NotifyWebhookURL    string   `mapstructure:"NOTIFY_WEBHOOK_URL"`
	NotifyWebhookSecret string   `mapstructure:"NOTIFY_WEBHOOK_SECRET"`
	// Events are queued in front of the sink so requests never wait on it.
	EventsBuffer         int           `mapstructure:"EVENTS_BUFFER"`
	EventsPublishTimeout time.Duration `mapstructure:"EVENTS_PUBLISH_TIMEOUT"`

	// Refund execution through Stripe. Empty disables dispatch. Only valid
	// when payments were captured by Stripe: gateway_transaction_id must hold
	// the payment intent id, and refund outcomes arrive on /webhooks/stripe.
	StripeAPIKey        string        `mapstructure:"STRIPE_API_KEY"`
	StripeWebhookSecret string        `mapstructure:"STRIPE_WEBHOOK_SECRET"`
	RefundTimeout       time.Duration `mapstructure:"REFUND_TIMEOUT"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("STORE_DRIVER", "postgres")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("BOLT_PATH", "healthbook.db")
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("RATE_LIMIT_RPS", 100)
	v.SetDefault("RATE_LIMIT_BURST", 200)
	v.SetDefault("REQUEST_TIMEOUT", "30s")
	v.SetDefault("WEBHOOK_SIGNATURE_HEADER", "X-Razorpay-Signature")
	v.SetDefault("WEBHOOK_TIMEOUT", "5s")
	v.SetDefault("WEBHOOK_BODY_LIMIT", "256K")
	v.SetDefault("EVENTS_DRIVER", "log")
	v.SetDefault("KAFKA_TOPIC", "healthbook.payments")
	v.SetDefault("RABBITMQ_QUEUE", "payment_notifications")
	v.SetDefault("EVENTS_BUFFER", 1024)
	v.SetDefault("EVENTS_PUBLISH_TIMEOUT", "10s")
	v.SetDefault("REFUND_TIMEOUT", "30s")

	// Bind env vars explicitly so Unmarshal picks them up
	for _, key := range []string{
		"PORT", "ENV", "STORE_DRIVER", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS",
		"BOLT_PATH", "AUTH_ISSUER", "AUTH_JWKS_URL", "AUTH_AUDIENCE", "AUTH_SIGNING_KEY",
		"CORS_ORIGINS", "RATE_LIMIT_RPS", "RATE_LIMIT_BURST", "REQUEST_TIMEOUT",
		"WEBHOOK_SECRET", "WEBHOOK_SIGNATURE_HEADER", "WEBHOOK_TIMEOUT", "WEBHOOK_BODY_LIMIT",
		"EVENTS_DRIVER", "KAFKA_BROKERS", "KAFKA_TOPIC", "RABBITMQ_URL", "RABBITMQ_QUEUE",
		"NOTIFY_WEBHOOK_URL", "NOTIFY_WEBHOOK_SECRET", "EVENTS_BUFFER", "EVENTS_PUBLISH_TIMEOUT",
		"STRIPE_API_KEY", "STRIPE_WEBHOOK_SECRET", "REFUND_TIMEOUT",
	} {
		_ = v.BindEnv(key)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.CORSOrigins = splitList(cfg.CORSOrigins, v.GetString("CORS_ORIGINS"))
	cfg.KafkaBrokers = splitList(cfg.KafkaBrokers, v.GetString("KAFKA_BROKERS"))

	if cfg.StoreDriver == "postgres" && cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required when STORE_DRIVER is postgres")
	}

	if cfg.IsDev() {
		log.Println("WARNING: ============================================================")
		log.Println("WARNING: Server is running in DEVELOPMENT mode (ENV=development).")
		log.Println("WARNING: DevAuthMiddleware is active: all requests get admin access.")
		log.Println("WARNING: Do NOT use this configuration in production.")
		log.Println("WARNING: ============================================================")
	}

	return cfg, nil
}

// splitList normalises a comma separated env value. Viper only decodes a
// slice on its own when the source was already a list.
func splitList(decoded []string, raw string) []string {
	if len(decoded) == 1 && strings.Contains(decoded[0], ",") {
		raw = decoded[0]
		decoded = nil
	}
	if decoded != nil {
		return decoded
	}
	if raw == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Validate checks that the configuration is safe to run. The webhook secret
// is always required: without it no gateway notification can be trusted.
func (c *Config) Validate() error {
	switch c.StoreDriver {
	case "postgres":
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required when STORE_DRIVER is postgres")
		}
	case "bolt":
		if c.BoltPath == "" {
			return fmt.Errorf("BOLT_PATH is required when STORE_DRIVER is bolt")
		}
	default:
		return fmt.Errorf("STORE_DRIVER must be \"postgres\" or \"bolt\", got %q", c.StoreDriver)
	}

	if c.WebhookSecret == "" {
		return fmt.Errorf("WEBHOOK_SECRET is required")
	}
	if c.WebhookSignatureHeader == "" {
		return fmt.Errorf("WEBHOOK_SIGNATURE_HEADER must not be empty")
	}
	if c.WebhookTimeout <= 0 {
		return fmt.Errorf("WEBHOOK_TIMEOUT must be positive, got %s", c.WebhookTimeout)
	}

	if !c.IsDev() && c.AuthIssuer == "" && c.AuthSigningKey == "" {
		return fmt.Errorf(
			"AUTH_ISSUER or AUTH_SIGNING_KEY must be set outside development (current ENV=%q)", c.Env)
	}

	switch c.EventsDriver {
	case "log":
	case "kafka":
		if len(c.KafkaBrokers) == 0 || c.KafkaTopic == "" {
			return fmt.Errorf("KAFKA_BROKERS and KAFKA_TOPIC are required when EVENTS_DRIVER is kafka")
		}
	case "rabbitmq":
		if c.RabbitMQURL == "" || c.RabbitMQQueue == "" {
			return fmt.Errorf("RABBITMQ_URL and RABBITMQ_QUEUE are required when EVENTS_DRIVER is rabbitmq")
		}
	case "webhook":
		if c.NotifyWebhookURL == "" || c.NotifyWebhookSecret == "" {
			return fmt.Errorf("NOTIFY_WEBHOOK_URL and NOTIFY_WEBHOOK_SECRET are required when EVENTS_DRIVER is webhook")
		}
	default:
		return fmt.Errorf("EVENTS_DRIVER must be one of log, kafka, rabbitmq, webhook; got %q", c.EventsDriver)
	}
	if c.EventsBuffer <= 0 || c.EventsPublishTimeout <= 0 {
		return fmt.Errorf("EVENTS_BUFFER and EVENTS_PUBLISH_TIMEOUT must be positive")
	}

	if c.StripeAPIKey != "" {
		if c.StripeWebhookSecret == "" {
			return fmt.Errorf("STRIPE_WEBHOOK_SECRET is required when STRIPE_API_KEY is set: Stripe reports refund outcomes on /webhooks/stripe")
		}
		if c.RefundTimeout <= 0 {
			return fmt.Errorf("REFUND_TIMEOUT must be positive, got %s", c.RefundTimeout)
		}
	}

	return nil
}
