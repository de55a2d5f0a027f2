// Package config loads application configuration from environment
// variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/shopspring/decimal"

	"github.com/iliyamo/raffle-settlement/internal/gateway"
	"github.com/iliyamo/raffle-settlement/internal/scheduler"
	"github.com/iliyamo/raffle-settlement/internal/service"
)

const (
	StoreMySQL  = "mysql"
	StoreMemory = "memory"
)

type Config struct {
	Env         string `env:"APP_ENV" envDefault:"dev"`
	Port        string `env:"APP_PORT" envDefault:"8080"`
	StoreDriver string `env:"STORE_DRIVER" envDefault:"mysql"`

	DB        DBConfig
	Auth      AuthConfig
	Gateway   GatewayConfig
	Redis     RedisConfig
	RateLimit RateLimitConfig
	Telegram  TelegramConfig
	Engine    EngineConfig
	Jobs      JobsConfig

	RabbitMQURL string `env:"RABBITMQ_URL"`
}

type DBConfig struct {
	User string `env:"DB_USER"`
	Pass string `env:"DB_PASS"`
	Host string `env:"DB_HOST" envDefault:"127.0.0.1"`
	Port string `env:"DB_PORT" envDefault:"3306"`
	Name string `env:"DB_NAME"`
	// Bootstrap applies the embedded schema at startup.
	Bootstrap bool `env:"DB_BOOTSTRAP" envDefault:"false"`
}

type AuthConfig struct {
	JWTSecret    string `env:"JWT_SECRET"`
	AccessTTLMin int    `env:"ACCESS_TOKEN_TTL_MIN" envDefault:"60"`
	BcryptCost   int    `env:"BCRYPT_COST" envDefault:"12"`
	// Seed operator created at startup when both are set.
	SeedOperatorEmail    string `env:"SEED_OPERATOR_EMAIL"`
	SeedOperatorPassword string `env:"SEED_OPERATOR_PASSWORD"`
}

type GatewayConfig struct {
	AccessToken       string        `env:"MP_ACCESS_TOKEN"`
	BaseURL           string        `env:"MP_BASE_URL" envDefault:"https://api.mercadopago.com"`
	WebhookSecret     string        `env:"MP_WEBHOOK_SECRET"`
	RequestsPerSecond float64       `env:"GATEWAY_RPS" envDefault:"5"`
	Timeout           time.Duration `env:"GATEWAY_TIMEOUT" envDefault:"10s"`
}

type TelegramConfig struct {
	BotToken    string `env:"TELEGRAM_BOT_TOKEN"`
	AlertChatID int64  `env:"TELEGRAM_ALERT_CHAT_ID"`
}

type EngineConfig struct {
	ExpirationWindowMinutes int      `env:"EXPIRATION_WINDOW_MINUTES" envDefault:"15"`
	CommissionRatePerTier   []string `env:"COMMISSION_RATE_PER_TIER" envSeparator:"," envDefault:"0.10,0.05,0.02"`
	MaxAffiliateChainDepth  int      `env:"MAX_AFFILIATE_CHAIN_DEPTH" envDefault:"10"`
	RoundingPrecision       int32    `env:"ROUNDING_PRECISION" envDefault:"2"`
	CommissionMode          string   `env:"COMMISSION_MODE" envDefault:"purchase"`
}

type JobsConfig struct {
	SweepSchedule string        `env:"SWEEP_SCHEDULE" envDefault:"@every 1m"`
	PollSchedule  string        `env:"POLL_SCHEDULE" envDefault:"@every 2m"`
	PollLimit     int           `env:"POLL_LIMIT" envDefault:"50"`
	JobTimeout    time.Duration `env:"JOB_TIMEOUT" envDefault:"30s"`
}

// Load parses the environment and validates the result.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.RateLimit.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	switch c.StoreDriver {
	case StoreMySQL:
		if c.DB.User == "" || c.DB.Name == "" {
			errs = append(errs, errors.New("DB_USER and DB_NAME are required for the mysql store"))
		}
	case StoreMemory:
	default:
		errs = append(errs, fmt.Errorf("unknown STORE_DRIVER %q", c.StoreDriver))
	}
	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	if c.Engine.ExpirationWindowMinutes < 1 {
		errs = append(errs, errors.New("EXPIRATION_WINDOW_MINUTES must be positive"))
	}
	if _, err := c.Engine.rates(); err != nil {
		errs = append(errs, err)
	}
	switch service.CommissionMode(c.Engine.CommissionMode) {
	case service.CommissionOnPurchase, service.CommissionOnSettlement:
	default:
		errs = append(errs, fmt.Errorf("unknown COMMISSION_MODE %q", c.Engine.CommissionMode))
	}
	return errors.Join(errs...)
}

func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Env, "prod") || strings.EqualFold(c.Env, "production")
}

func (e EngineConfig) rates() ([]decimal.Decimal, error) {
	out := make([]decimal.Decimal, 0, len(e.CommissionRatePerTier))
	for _, s := range e.CommissionRatePerTier {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		r, err := decimal.NewFromString(s)
		if err != nil {
			return nil, fmt.Errorf("COMMISSION_RATE_PER_TIER: %q: %w", s, err)
		}
		if r.IsNegative() || r.GreaterThan(decimal.NewFromInt(1)) {
			return nil, fmt.Errorf("COMMISSION_RATE_PER_TIER: %s is outside [0, 1]", s)
		}
		out = append(out, r)
	}
	return out, nil
}

// Options converts the engine settings into service options.
func (e EngineConfig) Options() (service.Options, error) {
	rates, err := e.rates()
	if err != nil {
		return service.Options{}, err
	}
	return service.Options{
		ExpirationWindow:  time.Duration(e.ExpirationWindowMinutes) * time.Minute,
		CommissionRates:   rates,
		MaxChainDepth:     e.MaxAffiliateChainDepth,
		RoundingPrecision: e.RoundingPrecision,
		CommissionMode:    service.CommissionMode(e.CommissionMode),
	}, nil
}

func (g GatewayConfig) Client() gateway.Config {
	return gateway.Config{
		BaseURL:           g.BaseURL,
		AccessToken:       g.AccessToken,
		RequestsPerSecond: g.RequestsPerSecond,
		Timeout:           g.Timeout,
	}
}

// Scheduler returns the job settings.  Polling is disabled when no
// gateway token is configured.
func (c *Config) Scheduler() scheduler.Config {
	poll := c.Jobs.PollSchedule
	if c.Gateway.AccessToken == "" {
		poll = ""
	}
	return scheduler.Config{
		SweepSchedule: c.Jobs.SweepSchedule,
		PollSchedule:  poll,
		PollLimit:     c.Jobs.PollLimit,
		JobTimeout:    c.Jobs.JobTimeout,
	}
}
