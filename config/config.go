// Package config loads the earnings engine settings from the environment.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
	"github.com/umbra/earnings-engine/bonus"
	"github.com/umbra/earnings-engine/currency"
	"github.com/umbra/earnings-engine/engine"
	"github.com/umbra/earnings-engine/generic"
)

type Config struct {
	HTTPPort    string `mapstructure:"HTTP_PORT"`
	DBDriver    string `mapstructure:"DB_DRIVER"`
	DBPath      string `mapstructure:"DB_PATH"`
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	RedisURL    string `mapstructure:"REDIS_URL"`
	AMQPURL     string `mapstructure:"AMQP_URL"`

	AMQPExchange      string `mapstructure:"AMQP_EXCHANGE"`
	ReferenceTimezone string `mapstructure:"REFERENCE_TIMEZONE"`
	ReferenceDataFile string `mapstructure:"REFERENCE_DATA_FILE"`
	BaseCurrency      string `mapstructure:"BASE_CURRENCY"`
	CurrencyRates     string `mapstructure:"CURRENCY_RATES"`

	DailyBonusMode      string        `mapstructure:"DAILY_BONUS_MODE"`
	DailyHoldExtraDays  int           `mapstructure:"DAILY_HOLD_EXTRA_DAYS"`
	MonthlyHoldDuration time.Duration `mapstructure:"MONTHLY_HOLD_DURATION"`
	BurnCheckHour       int           `mapstructure:"BURN_CHECK_HOUR"`
	ShiftGracePeriod    time.Duration `mapstructure:"SHIFT_GRACE_PERIOD"`
	AutoCloseOffset     time.Duration `mapstructure:"SHIFT_AUTOCLOSE_OFFSET"`
	FallbackHourlyRate  string        `mapstructure:"SALARY_FALLBACK_HOURLY_RATE"`

	SchedulerEnabled    bool          `mapstructure:"SCHEDULER_ENABLED"`
	SweepSchedule       string        `mapstructure:"SWEEP_SCHEDULE"`
	AutoCloseSchedule   string        `mapstructure:"AUTOCLOSE_SCHEDULE"`
	SweepConcurrency    int           `mapstructure:"SWEEP_CONCURRENCY"`
	ExternalCallTimeout time.Duration `mapstructure:"EXTERNAL_CALL_TIMEOUT"`
	DepositRetryLimit   int           `mapstructure:"DEPOSIT_RETRY_LIMIT"`

	ScenariosEnabled bool   `mapstructure:"SCENARIOS_ENABLED"`
	AllowedOrigins   string `mapstructure:"CORS_ALLOWED_ORIGINS"`

	LogLevel  string `mapstructure:"LOG_LEVEL"`
	LogFormat string `mapstructure:"LOG_FORMAT"`
}

var keys = []string{
	"HTTP_PORT", "DB_DRIVER", "DB_PATH", "DATABASE_URL", "REDIS_URL", "AMQP_URL",
	"AMQP_EXCHANGE", "REFERENCE_TIMEZONE", "REFERENCE_DATA_FILE", "BASE_CURRENCY", "CURRENCY_RATES",
	"DAILY_BONUS_MODE", "DAILY_HOLD_EXTRA_DAYS", "MONTHLY_HOLD_DURATION", "BURN_CHECK_HOUR",
	"SHIFT_GRACE_PERIOD", "SHIFT_AUTOCLOSE_OFFSET", "SALARY_FALLBACK_HOURLY_RATE",
	"SCHEDULER_ENABLED", "SWEEP_SCHEDULE", "AUTOCLOSE_SCHEDULE", "SWEEP_CONCURRENCY",
	"EXTERNAL_CALL_TIMEOUT", "DEPOSIT_RETRY_LIMIT", "SCENARIOS_ENABLED", "CORS_ALLOWED_ORIGINS",
	"LOG_LEVEL", "LOG_FORMAT",
}

// Load reads configuration from environment variables and validates it.
func Load() (*Config, error) {
	viper.SetDefault("HTTP_PORT", "8080")
	viper.SetDefault("DB_DRIVER", "sqlite")
	viper.SetDefault("DB_PATH", "earnings.db")
	viper.SetDefault("AMQP_EXCHANGE", "umbra.earnings")
	viper.SetDefault("REFERENCE_TIMEZONE", "UTC")
	viper.SetDefault("BASE_CURRENCY", "USD")
	viper.SetDefault("DAILY_BONUS_MODE", string(bonus.ModeIncremental))
	viper.SetDefault("DAILY_HOLD_EXTRA_DAYS", 1)
	viper.SetDefault("MONTHLY_HOLD_DURATION", "72h")
	viper.SetDefault("BURN_CHECK_HOUR", 22)
	viper.SetDefault("SHIFT_GRACE_PERIOD", "30m")
	viper.SetDefault("SHIFT_AUTOCLOSE_OFFSET", "0s")
	viper.SetDefault("SCHEDULER_ENABLED", true)
	viper.SetDefault("SWEEP_SCHEDULE", "*/15 * * * *")     // every 15 minutes
	viper.SetDefault("AUTOCLOSE_SCHEDULE", "*/10 * * * *") // every 10 minutes
	viper.SetDefault("SWEEP_CONCURRENCY", 4)
	viper.SetDefault("EXTERNAL_CALL_TIMEOUT", "5s")
	viper.SetDefault("DEPOSIT_RETRY_LIMIT", 3)
	viper.SetDefault("SCENARIOS_ENABLED", false)
	viper.SetDefault("LOG_LEVEL", "info")
	viper.SetDefault("LOG_FORMAT", "json")
	viper.AutomaticEnv()

	// Explicit binds so keys without defaults still reach Unmarshal.
	for _, k := range keys {
		_ = viper.BindEnv(k)
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.DBDriver = strings.ToLower(strings.TrimSpace(cfg.DBDriver))
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate fails fast on settings the engine cannot run with.
func (c *Config) Validate() error {
	switch c.DBDriver {
	case "sqlite":
		if c.DBPath == "" {
			return fmt.Errorf("DB_PATH is required for sqlite")
		}
	case "postgres":
		if strings.TrimSpace(c.DatabaseURL) == "" {
			return fmt.Errorf("DATABASE_URL is required for postgres")
		}
	default:
		return fmt.Errorf("DB_DRIVER %q is not supported, want sqlite or postgres", c.DBDriver)
	}
	if _, err := time.LoadLocation(c.ReferenceTimezone); err != nil {
		return fmt.Errorf("REFERENCE_TIMEZONE: %w", err)
	}
	if _, err := bonus.ParseMode(c.DailyBonusMode); err != nil {
		return fmt.Errorf("DAILY_BONUS_MODE: %w", err)
	}
	if c.BurnCheckHour < 0 || c.BurnCheckHour > 23 {
		return fmt.Errorf("BURN_CHECK_HOUR must be 0-23, got %d", c.BurnCheckHour)
	}
	if c.DailyHoldExtraDays < 0 {
		return fmt.Errorf("DAILY_HOLD_EXTRA_DAYS must not be negative")
	}
	if c.MonthlyHoldDuration < 0 || c.ShiftGracePeriod < 0 {
		return fmt.Errorf("hold and grace durations must not be negative")
	}
	if _, err := c.fallbackRate(); err != nil {
		return err
	}
	if _, err := currency.ParseRates(c.CurrencyRates); err != nil {
		return fmt.Errorf("CURRENCY_RATES: %w", err)
	}
	for name, spec := range map[string]string{"SWEEP_SCHEDULE": c.SweepSchedule, "AUTOCLOSE_SCHEDULE": c.AutoCloseSchedule} {
		if spec == "" {
			continue
		}
		if _, err := cron.ParseStandard(spec); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	return nil
}

func (c *Config) fallbackRate() (*decimal.Decimal, error) {
	s := strings.TrimSpace(c.FallbackHourlyRate)
	if s == "" {
		return nil, nil
	}
	r, err := decimal.NewFromString(s)
	if err != nil {
		return nil, fmt.Errorf("SALARY_FALLBACK_HOURLY_RATE: %w", err)
	}
	if !r.IsPositive() {
		return nil, fmt.Errorf("SALARY_FALLBACK_HOURLY_RATE must be positive, got %s", s)
	}
	return &r, nil
}

// Origins splits CORS_ALLOWED_ORIGINS on commas.
func (c *Config) Origins() []string {
	var out []string
	for _, o := range strings.Split(c.AllowedOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}

// Calendar resolves the reference timezone.
func (c *Config) Calendar() (generic.Calendar, error) {
	return generic.LoadCalendar(c.ReferenceTimezone)
}

// Converter builds the static currency table.
func (c *Config) Converter() (*currency.Static, error) {
	rates, err := currency.ParseRates(c.CurrencyRates)
	if err != nil {
		return nil, err
	}
	return currency.NewStatic(c.BaseCurrency, rates)
}

// Options maps the business knobs onto engine.Options.
func (c *Config) Options() (engine.Options, error) {
	mode, err := bonus.ParseMode(c.DailyBonusMode)
	if err != nil {
		return engine.Options{}, err
	}
	rate, err := c.fallbackRate()
	if err != nil {
		return engine.Options{}, err
	}
	return engine.Options{
		DailyMode:           mode,
		DailyHoldExtraDays:  c.DailyHoldExtraDays,
		MonthlyHoldDuration: c.MonthlyHoldDuration,
		BurnCheckHour:       c.BurnCheckHour,
		ShiftGracePeriod:    c.ShiftGracePeriod,
		AutoCloseOffset:     c.AutoCloseOffset,
		FallbackHourlyRate:  rate,
		SweepConcurrency:    c.SweepConcurrency,
		DepositRetryLimit:   c.DepositRetryLimit,
		ExternalCallTimeout: c.ExternalCallTimeout,
	}, nil
}
