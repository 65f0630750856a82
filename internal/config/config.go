package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

const (
	ProviderNowPayments = "nowpayments"
	ProviderManual      = "manual"
)

type Config struct {
	AppEnv string

	DBUser     string `validate:"required"`
	DBPassword string
	DBName     string `validate:"required"`
	DBHost     string `validate:"required"`
	DBPort     string `validate:"required"`

	RedisHost     string `validate:"required"`
	RedisPort     string `validate:"required"`
	RedisPassword string

	BotToken        string `validate:"required"`
	OperatorID      int64  `validate:"required"`
	GroupID         int64
	GroupInviteLink string `validate:"required"`

	PaymentProvider  string          `validate:"oneof=nowpayments manual"`
	NowPaymentsURL   string          `validate:"omitempty,url"`
	NowPaymentsKey   string          `validate:"required_if=PaymentProvider nowpayments"`
	WalletAddress    string          `validate:"required_if=PaymentProvider manual"`
	ManualCurrency   string
	PriceAmount      decimal.Decimal
	PriceCurrency    string          `validate:"required"`
	PayCurrency      string          `validate:"required"`
	SubscriptionDays int             `validate:"min=1"`
	PaymentTTL       time.Duration   `validate:"min=1m"`
	GatewayTimeout   time.Duration   `validate:"min=1s,max=2m"`
	AdmitPartial     bool

	SweepInterval     time.Duration `validate:"min=1m"`
	SweepInitialDelay time.Duration
	ReminderLead      time.Duration

	HTTPAddr            string   `validate:"required"`
	MetricsAllowedCIDRs []string `validate:"dive,cidr"`
}

func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using system environment variables")
	}

	cfg := &Config{
		AppEnv:     getEnv("APP_ENV", "prod"),
		DBUser:     getEnv("DB_USER", "postgres"),
		DBPassword: getEnv("DB_PASSWORD", "postgres"),
		DBName:     getEnv("DB_NAME", "vipgate"),
		DBHost:     getEnv("DB_HOST", "localhost"),
		DBPort:     getEnv("DB_PORT", "5432"),

		RedisHost:     getEnv("REDIS_HOST", "localhost"),
		RedisPort:     getEnv("REDIS_PORT", "6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),

		BotToken:        getEnv("TELEGRAM_BOT_TOKEN", ""),
		GroupInviteLink: getEnv("TELEGRAM_GROUP_INVITE_LINK", ""),

		PaymentProvider: strings.ToLower(getEnv("PAYMENT_PROVIDER", ProviderNowPayments)),
		NowPaymentsURL:  strings.TrimRight(getEnv("NOWPAYMENTS_API_URL", "https://api.nowpayments.io/v1"), "/"),
		NowPaymentsKey:  getEnv("NOWPAYMENTS_API_KEY", ""),
		WalletAddress:   getEnv("USDT_WALLET_ADDRESS", ""),
		ManualCurrency:  getEnv("MANUAL_PAY_CURRENCY", "USDT (TRC-20)"),
		PriceCurrency:   strings.ToLower(getEnv("PRICE_CURRENCY", "usd")),
		PayCurrency:     strings.ToLower(getEnv("PAY_CURRENCY", "btc")),

		HTTPAddr:            getEnv("HTTP_ADDR", ":8080"),
		MetricsAllowedCIDRs: getEnvList("METRICS_ALLOWED_CIDRS"),
	}

	var err error
	if cfg.OperatorID, err = getEnvInt64("ADMIN_ID", 0); err != nil {
		return nil, err
	}
	if cfg.GroupID, err = getEnvInt64("TELEGRAM_GROUP_ID", 0); err != nil {
		return nil, err
	}
	if cfg.PriceAmount, err = getEnvDecimal("MINIMUM_PAYMENT_USD", "30"); err != nil {
		return nil, err
	}
	days, err := getEnvInt64("SUBSCRIPTION_DAYS", 30)
	if err != nil {
		return nil, err
	}
	cfg.SubscriptionDays = int(days)
	if cfg.AdmitPartial, err = getEnvBool("ADMIT_PARTIAL_PAYMENTS", true); err != nil {
		return nil, err
	}

	durations := []struct {
		dst      *time.Duration
		key      string
		fallback time.Duration
	}{
		{&cfg.PaymentTTL, "PAYMENT_TTL", 20 * time.Minute},
		{&cfg.GatewayTimeout, "GATEWAY_TIMEOUT", 30 * time.Second},
		{&cfg.SweepInterval, "SWEEP_INTERVAL", 24 * time.Hour},
		{&cfg.SweepInitialDelay, "SWEEP_INITIAL_DELAY", time.Minute},
		{&cfg.ReminderLead, "REMINDER_LEAD", 24 * time.Hour},
	}
	for _, d := range durations {
		if *d.dst, err = getEnvDuration(d.key, d.fallback); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks field constraints and the price.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if !c.PriceAmount.IsPositive() {
		return fmt.Errorf("invalid config: MINIMUM_PAYMENT_USD must be positive, got %s", c.PriceAmount)
	}
	return nil
}

// SubscriptionPeriod is the length one payment or approval adds to a window.
func (c *Config) SubscriptionPeriod() time.Duration {
	return time.Duration(c.SubscriptionDays) * 24 * time.Hour
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvInt64(key string, fallback int64) (int64, error) {
	value, exists := os.LookupEnv(key)
	if !exists || value == "" {
		return fallback, nil
	}
	n, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func getEnvBool(key string, fallback bool) (bool, error) {
	value, exists := os.LookupEnv(key)
	if !exists || value == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(strings.TrimSpace(value))
	if err != nil {
		return false, fmt.Errorf("%s: %w", key, err)
	}
	return b, nil
}

func getEnvDuration(key string, fallback time.Duration) (time.Duration, error) {
	value, exists := os.LookupEnv(key)
	if !exists || value == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}

func getEnvDecimal(key, fallback string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(getEnv(key, fallback)))
	if err != nil {
		return decimal.Zero, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}

func getEnvList(key string) []string {
	var out []string
	for _, part := range strings.Split(getEnv(key, ""), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
