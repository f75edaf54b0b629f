package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

const (
	BackendPostgres = "postgres"
	BackendMemory   = "memory"
)

type Config struct {
	App       AppConfig
	Postgres  PostgresConfig
	Redis     RedisConfig
	Auth      AuthConfig
	RateLimit RateLimitConfig
	Pricing   PricingConfig
}

type AppConfig struct {
	Port     string
	Env      string
	LogLevel string
	// StoreBackend selects where orders and products live: "postgres" or "memory".
	StoreBackend string
}

type PostgresConfig struct {
	Host            string
	Port            string
	User            string
	Password        string `json:"-"`
	DBName          string
	SSLMode         string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MigrationsPath  string
}

type RedisConfig struct {
	// URL is optional; rate limiting is disabled without it.
	URL string `json:"-"`
}

type AuthConfig struct {
	JWTSecret string `json:"-"`
}

type RateLimitConfig struct {
	OrdersPerWindow int
	Window          time.Duration
}

type PricingConfig struct {
	FreeShippingThreshold decimal.Decimal
	ShippingFee           decimal.Decimal
	TaxRate               decimal.Decimal
	Coupons               map[string]decimal.Decimal
}

// NewConfig reads the environment, loading .env first when it exists.
func NewConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("config: failed to load .env: %w", err)
	}
	return FromEnv()
}

func FromEnv() (*Config, error) {
	var missing []string
	required := func(key string) string {
		v := strings.TrimSpace(os.Getenv(key))
		if v == "" {
			missing = append(missing, key)
		}
		return v
	}

	cfg := &Config{
		App: AppConfig{
			Port:         getEnv("APP_PORT", "8080"),
			Env:          getEnv("APP_ENV", "development"),
			LogLevel:     getEnv("LOG_LEVEL", "debug"),
			StoreBackend: getEnv("STORE_BACKEND", BackendPostgres),
		},
		Redis: RedisConfig{URL: os.Getenv("REDIS_URL")},
		Auth:  AuthConfig{JWTSecret: required("JWT_SECRET")},
	}

	switch cfg.App.StoreBackend {
	case BackendPostgres:
		cfg.Postgres = PostgresConfig{
			Host:           required("DB_HOST"),
			Port:           getEnv("DB_PORT", "5432"),
			User:           required("DB_USER"),
			Password:       os.Getenv("DB_PASSWORD"),
			DBName:         required("DB_NAME"),
			SSLMode:        getEnv("DB_SSLMODE", "disable"),
			MigrationsPath: getEnv("MIGRATIONS_PATH", "migrations"),
		}
	case BackendMemory:
	default:
		return nil, fmt.Errorf("config: unsupported STORE_BACKEND %q", cfg.App.StoreBackend)
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("config: missing required environment variables: %s", strings.Join(missing, ", "))
	}

	var err error
	if cfg.Postgres.MaxConns, err = getInt32("DB_MAX_CONNS", 10); err != nil {
		return nil, err
	}
	if cfg.Postgres.MinConns, err = getInt32("DB_MIN_CONNS", 2); err != nil {
		return nil, err
	}
	if cfg.Postgres.MaxConnLifetime, err = getDuration("DB_MAX_CONN_LIFETIME", 30*time.Minute); err != nil {
		return nil, err
	}

	limit, err := strconv.Atoi(getEnv("RATE_LIMIT_ORDERS", "10"))
	if err != nil || limit < 1 {
		return nil, fmt.Errorf("config: RATE_LIMIT_ORDERS must be a positive integer")
	}
	cfg.RateLimit.OrdersPerWindow = limit
	if cfg.RateLimit.Window, err = getDuration("RATE_LIMIT_WINDOW", time.Minute); err != nil {
		return nil, err
	}

	cfg.Pricing = DefaultPricing()
	if path := os.Getenv("PRICING_FILE"); path != "" {
		if err := cfg.Pricing.LoadFile(path); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

func DefaultPricing() PricingConfig {
	return PricingConfig{
		FreeShippingThreshold: decimal.NewFromInt(5000),
		ShippingFee:           decimal.NewFromInt(200),
		TaxRate:               decimal.RequireFromString("0.18"),
		Coupons:               map[string]decimal.Decimal{"ANIME10": decimal.NewFromInt(10)},
	}
}

type pricingFile struct {
	FreeShippingThreshold *string           `yaml:"free_shipping_threshold"`
	ShippingFee           *string           `yaml:"shipping_fee"`
	TaxRate               *string           `yaml:"tax_rate"`
	Coupons               map[string]string `yaml:"coupons"`
}

// LoadFile overrides the fields present in a YAML pricing file. A coupons section replaces the whole table.
func (p *PricingConfig) LoadFile(path string) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("config: failed to open pricing file: %w", err)
	}
	defer file.Close()

	var raw pricingFile
	if err := yaml.NewDecoder(file).Decode(&raw); err != nil {
		return fmt.Errorf("config: invalid pricing file %s: %w", path, err)
	}

	for _, field := range []struct {
		name  string
		value *string
		dst   *decimal.Decimal
	}{
		{"free_shipping_threshold", raw.FreeShippingThreshold, &p.FreeShippingThreshold},
		{"shipping_fee", raw.ShippingFee, &p.ShippingFee},
		{"tax_rate", raw.TaxRate, &p.TaxRate},
	} {
		if field.value == nil {
			continue
		}
		d, err := parseNonNegative(*field.value)
		if err != nil {
			return fmt.Errorf("config: pricing %s: %w", field.name, err)
		}
		*field.dst = d
	}

	if raw.Coupons != nil {
		coupons := make(map[string]decimal.Decimal, len(raw.Coupons))
		for code, percent := range raw.Coupons {
			d, err := parseNonNegative(percent)
			if err != nil || d.GreaterThan(decimal.NewFromInt(100)) {
				return fmt.Errorf("config: coupon %s must be a percentage between 0 and 100", code)
			}
			coupons[strings.ToUpper(strings.TrimSpace(code))] = d
		}
		p.Coupons = coupons
	}

	return nil
}

func parseNonNegative(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.Zero, err
	}
	if d.IsNegative() {
		return decimal.Zero, fmt.Errorf("must not be negative, got %s", s)
	}
	return d, nil
}

func getEnv(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func getInt32(key string, fallback int32) (int32, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.ParseInt(v, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("config: %s must be an integer: %w", key, err)
	}
	return int32(n), nil
}

func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("config: %s must be a duration: %w", key, err)
	}
	return d, nil
}
