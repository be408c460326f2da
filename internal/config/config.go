package config

import (
	"errors"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application.
type Config struct {
	Port    string `mapstructure:"PORT"`
	GinMode string `mapstructure:"GIN_MODE"`

	// ClientURL is the deployment's own base URL; checkout success/cancel
	// redirects and the billing-portal return URL are rooted here, and CORS
	// allows this origin.
	ClientURL string `mapstructure:"CLIENT_URL"`

	// Postgres connection string for the Supabase database (profiles,
	// conversions).
	DatabaseURL string `mapstructure:"DATABASE_URL"`

	// Supabase project settings. The JWT secret verifies client access
	// tokens (HS256); the service role key authorizes admin metadata writes.
	SupabaseURL            string `mapstructure:"SUPABASE_URL"`
	SupabaseServiceRoleKey string `mapstructure:"SUPABASE_SERVICE_ROLE_KEY"`
	SupabaseJWTSecret      string `mapstructure:"SUPABASE_JWT_SECRET"`

	StripeSecretKey     string `mapstructure:"STRIPE_SECRET_KEY"`
	StripeWebhookSecret string `mapstructure:"STRIPE_WEBHOOK_SECRET"`

	// Preconfigured Stripe price IDs, one per plan. The plan→price mapping
	// is static for the lifetime of the process.
	StripePriceMonthly   string `mapstructure:"STRIPE_PRICE_MONTHLY"`
	StripePriceQuarterly string `mapstructure:"STRIPE_PRICE_QUARTERLY"`
	StripePriceAnnual    string `mapstructure:"STRIPE_PRICE_ANNUAL"`

	// Meta Conversions API credentials for the best-effort purchase
	// attribution event. Optional: empty disables attribution.
	MetaPixelID     string `mapstructure:"META_PIXEL_ID"`
	MetaAccessToken string `mapstructure:"META_ACCESS_TOKEN"`

	// Redis, used for best-effort webhook event dedup markers. Optional.
	RedisAddr     string `mapstructure:"REDIS_ADDR"`
	RedisPassword string `mapstructure:"REDIS_PASSWORD"`
	RedisDB       int    `mapstructure:"REDIS_DB"`

	// RabbitMQ, used to fan conversion events out to marketing/analytics
	// consumers. Optional.
	AMQPURL              string `mapstructure:"AMQP_URL"`
	AMQPConversionsQueue string `mapstructure:"AMQP_CONVERSIONS_QUEUE"`

	// SMTP settings for payment-failure notification mail. Optional.
	SMTPHost string `mapstructure:"SMTP_HOST"`
	SMTPPort string `mapstructure:"SMTP_PORT"`
	SMTPUser string `mapstructure:"SMTP_USER"`
	SMTPPass string `mapstructure:"SMTP_PASS"`
	MailFrom string `mapstructure:"MAIL_FROM"`
}

var appConfig *Config

// LoadConfig loads configuration from environment variables using Viper.
func LoadConfig() (*Config, error) {
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Set default values
	viper.SetDefault("PORT", "8080")
	viper.SetDefault("GIN_MODE", "debug")
	viper.SetDefault("REDIS_DB", 0)
	viper.SetDefault("AMQP_CONVERSIONS_QUEUE", "conversions")
	viper.SetDefault("SMTP_PORT", "587")

	// Bind environment variables
	for _, key := range []string{
		"PORT", "GIN_MODE", "CLIENT_URL", "DATABASE_URL",
		"SUPABASE_URL", "SUPABASE_SERVICE_ROLE_KEY", "SUPABASE_JWT_SECRET",
		"STRIPE_SECRET_KEY", "STRIPE_WEBHOOK_SECRET",
		"STRIPE_PRICE_MONTHLY", "STRIPE_PRICE_QUARTERLY", "STRIPE_PRICE_ANNUAL",
		"META_PIXEL_ID", "META_ACCESS_TOKEN",
		"REDIS_ADDR", "REDIS_PASSWORD", "REDIS_DB",
		"AMQP_URL", "AMQP_CONVERSIONS_QUEUE",
		"SMTP_HOST", "SMTP_PORT", "SMTP_USER", "SMTP_PASS", "MAIL_FROM",
	} {
		viper.BindEnv(key)
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, errors.New("failed to unmarshal config: " + err.Error())
	}

	// Validate required fields
	if cfg.ClientURL == "" {
		return nil, errors.New("CLIENT_URL is required")
	}
	if cfg.DatabaseURL == "" {
		return nil, errors.New("DATABASE_URL is required")
	}
	if cfg.SupabaseJWTSecret == "" {
		return nil, errors.New("SUPABASE_JWT_SECRET is required")
	}
	if cfg.StripeSecretKey == "" {
		return nil, errors.New("STRIPE_SECRET_KEY is required")
	}
	if cfg.StripeWebhookSecret == "" {
		return nil, errors.New("STRIPE_WEBHOOK_SECRET is required")
	}
	if cfg.StripePriceMonthly == "" || cfg.StripePriceQuarterly == "" || cfg.StripePriceAnnual == "" {
		return nil, errors.New("STRIPE_PRICE_MONTHLY, STRIPE_PRICE_QUARTERLY and STRIPE_PRICE_ANNUAL are required")
	}
	// JWT metadata sync degrades to DB-only entitlement when the admin API
	// is not configured, but a URL without its key is a misconfiguration.
	if cfg.SupabaseURL != "" && cfg.SupabaseServiceRoleKey == "" {
		return nil, errors.New("SUPABASE_SERVICE_ROLE_KEY is required when SUPABASE_URL is set")
	}

	appConfig = &cfg
	return appConfig, nil
}

// GetConfig returns the loaded application configuration.
// It will panic if LoadConfig has not been called successfully.
func GetConfig() *Config {
	if appConfig == nil {
		panic("config not loaded; call LoadConfig first")
	}
	return appConfig
}
