package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

// Store drivers.
const (
	StoreDriverPostgres = "postgres"
	StoreDriverMemory   = "memory"
)

// Config holds application configuration loaded from environment.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	JWT      JWTConfig
	AWS      AWSConfig
	Pricing  PricingConfig
	Booking  BookingConfig
	Invoice  InvoiceConfig
	Payments PaymentsConfig
	Engine   EngineConfig
	Worker   WorkerConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port               string
	ReadTimeout        int
	WriteTimeout       int
	CORSAllowedOrigins string // comma-separated, or "*" for all
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	URL      string // if set, used as-is
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
	MaxConns int32
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// JWTConfig holds settings for validating tokens issued by the identity service.
type JWTConfig struct {
	Secret      string
	ExpireHours int
}

// AWSConfig holds AWS credentials and the invoice archive bucket.
type AWSConfig struct {
	Region               string
	AccessKeyID          string
	SecretAccessKey      string
	InvoiceBucket        string
	PresignExpireMinutes int
}

// PricingConfig holds the fallback market and the flat platform fee added to every booking.
type PricingConfig struct {
	DefaultCountry string
	PlatformFee    decimal.Decimal
}

// BookingConfig bounds recurrence expansion and reminder timing.
type BookingConfig struct {
	HorizonMonths     int
	MaxOccurrences    int
	ReminderLeadHours int
}

// InvoiceConfig holds invoice terms.
type InvoiceConfig struct {
	NetDays int
}

// ProviderConfig is one external payment provider.
type ProviderConfig struct {
	BaseURL string
	APIKey  string
}

// Enabled reports whether the provider is configured.
func (p ProviderConfig) Enabled() bool { return p.BaseURL != "" }

// PaymentsConfig holds payment provider endpoints.
type PaymentsConfig struct {
	Card           ProviderConfig
	StcPay         ProviderConfig
	URPay          ProviderConfig
	HTTPTimeoutSec int
}

// EngineConfig bounds every engine operation and selects the store.
type EngineConfig struct {
	TimeoutSec  int
	StoreDriver string
}

// WorkerConfig holds background sweep intervals.
type WorkerConfig struct {
	ReminderIntervalSec int
	OverdueIntervalSec  int
}

// DSN returns the PostgreSQL connection string.
// If DatabaseConfig.URL is set (e.g. DATABASE_URL env), it is used as-is; otherwise built from components.
func (c DatabaseConfig) DSN() string {
	if c.URL != "" {
		return c.URL
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.DBName, c.SSLMode,
	)
}

// Timeout returns the engine operation timeout.
func (c EngineConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSec) * time.Second
}

// ReminderLead returns how far ahead reminders are sent.
func (c BookingConfig) ReminderLead() time.Duration {
	return time.Duration(c.ReminderLeadHours) * time.Hour
}

// Load reads configuration from environment, with optional .env file.
func Load() (*Config, error) {
	_ = godotenv.Load()      // .env
	_ = godotenv.Load("env") // env (no leading dot)

	platformFee, err := decimal.NewFromString(getEnv("PLATFORM_FEE", "0"))
	if err != nil {
		return nil, fmt.Errorf("PLATFORM_FEE: %w", err)
	}
	if platformFee.IsNegative() {
		return nil, fmt.Errorf("PLATFORM_FEE must not be negative")
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:               getEnv("PORT", "8080"),
			ReadTimeout:        getEnvInt("READ_TIMEOUT_SEC", 30),
			WriteTimeout:       getEnvInt("WRITE_TIMEOUT_SEC", 30),
			CORSAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:3000"),
		},
		Database: DatabaseConfig{
			URL:      getEnv("DATABASE_URL", ""),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", "postgres"),
			DBName:   getEnv("DB_NAME", "marketplace"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
			MaxConns: int32(getEnvInt("DB_MAX_CONNS", 10)),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		JWT: JWTConfig{
			Secret:      getEnv("JWT_SECRET", "change-me-in-production"),
			ExpireHours: getEnvInt("JWT_EXPIRE_HOURS", 24),
		},
		AWS: AWSConfig{
			Region:               getEnv("AWS_REGION", "me-south-1"),
			AccessKeyID:          getEnv("AWS_ACCESS_KEY_ID", ""),
			SecretAccessKey:      getEnv("AWS_SECRET_ACCESS_KEY", ""),
			InvoiceBucket:        getEnv("AWS_S3_INVOICE_BUCKET", ""),
			PresignExpireMinutes: getEnvInt("AWS_PRESIGN_EXPIRE_MINUTES", 15),
		},
		Pricing: PricingConfig{
			DefaultCountry: getEnv("DEFAULT_COUNTRY", "SA"),
			PlatformFee:    platformFee,
		},
		Booking: BookingConfig{
			HorizonMonths:     getEnvInt("RECURRENCE_HORIZON_MONTHS", 3),
			MaxOccurrences:    getEnvInt("RECURRENCE_MAX_OCCURRENCES", 520),
			ReminderLeadHours: getEnvInt("REMINDER_LEAD_HOURS", 24),
		},
		Invoice: InvoiceConfig{
			NetDays: getEnvInt("INVOICE_NET_DAYS", 7),
		},
		Payments: PaymentsConfig{
			Card:           ProviderConfig{BaseURL: getEnv("CARD_PROVIDER_URL", ""), APIKey: getEnv("CARD_PROVIDER_KEY", "")},
			StcPay:         ProviderConfig{BaseURL: getEnv("STCPAY_PROVIDER_URL", ""), APIKey: getEnv("STCPAY_PROVIDER_KEY", "")},
			URPay:          ProviderConfig{BaseURL: getEnv("URPAY_PROVIDER_URL", ""), APIKey: getEnv("URPAY_PROVIDER_KEY", "")},
			HTTPTimeoutSec: getEnvInt("PAYMENT_HTTP_TIMEOUT_SEC", 15),
		},
		Engine: EngineConfig{
			TimeoutSec:  getEnvInt("ENGINE_TIMEOUT_SEC", 10),
			StoreDriver: strings.ToLower(getEnv("STORE_DRIVER", StoreDriverPostgres)),
		},
		Worker: WorkerConfig{
			ReminderIntervalSec: getEnvInt("REMINDER_SWEEP_INTERVAL_SEC", 300),
			OverdueIntervalSec:  getEnvInt("OVERDUE_SWEEP_INTERVAL_SEC", 3600),
		},
	}
	if d := cfg.Engine.StoreDriver; d != StoreDriverPostgres && d != StoreDriverMemory {
		return nil, fmt.Errorf("STORE_DRIVER must be %q or %q, got %q", StoreDriverPostgres, StoreDriverMemory, d)
	}
	for key, v := range map[string]int{
		"REMINDER_SWEEP_INTERVAL_SEC": cfg.Worker.ReminderIntervalSec,
		"OVERDUE_SWEEP_INTERVAL_SEC":  cfg.Worker.OverdueIntervalSec,
	} {
		if v <= 0 {
			return nil, fmt.Errorf("%s must be positive, got %d", key, v)
		}
	}
	return cfg, nil
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
