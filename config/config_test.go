package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/umbra/earnings-engine/bonus"
)

func resetViper(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)
}

func TestLoad_Defaults(t *testing.T) {
	resetViper(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.DBDriver)
	assert.Equal(t, 22, cfg.BurnCheckHour)
	assert.Equal(t, 72*time.Hour, cfg.MonthlyHoldDuration)
	assert.Equal(t, 30*time.Minute, cfg.ShiftGracePeriod)

	opts, err := cfg.Options()
	require.NoError(t, err)
	assert.Equal(t, bonus.ModeIncremental, opts.DailyMode)
	assert.Nil(t, opts.FallbackHourlyRate)
	assert.Equal(t, 1, opts.DailyHoldExtraDays)
}

func TestLoad_FromEnvironment(t *testing.T) {
	resetViper(t)
	t.Setenv("DAILY_BONUS_MODE", "cumulative")
	t.Setenv("BURN_CHECK_HOUR", "21")
	t.Setenv("SHIFT_AUTOCLOSE_OFFSET", "15m")
	t.Setenv("SALARY_FALLBACK_HOURLY_RATE", "2.50")
	t.Setenv("CURRENCY_RATES", "EUR=0.9")
	t.Setenv("REFERENCE_TIMEZONE", "Europe/Berlin")

	cfg, err := Load()
	require.NoError(t, err)

	opts, err := cfg.Options()
	require.NoError(t, err)
	assert.Equal(t, bonus.ModeCumulative, opts.DailyMode)
	assert.Equal(t, 21, opts.BurnCheckHour)
	assert.Equal(t, 15*time.Minute, opts.AutoCloseOffset)
	require.NotNil(t, opts.FallbackHourlyRate)
	assert.Equal(t, "2.5", opts.FallbackHourlyRate.String())

	conv, err := cfg.Converter()
	require.NoError(t, err)
	assert.Equal(t, []string{"USD", "EUR"}, conv.Codes())

	cal, err := cfg.Calendar()
	require.NoError(t, err)
	assert.Equal(t, "Europe/Berlin", cal.Location.String())
}

func TestLoad_FailsFast(t *testing.T) {
	cases := map[string]map[string]string{
		"unknown driver":       {"DB_DRIVER": "mysql"},
		"postgres without url": {"DB_DRIVER": "postgres"},
		"bad timezone":         {"REFERENCE_TIMEZONE": "Mars/Olympus"},
		"bad mode":             {"DAILY_BONUS_MODE": "generous"},
		"bad burn hour":        {"BURN_CHECK_HOUR": "24"},
		"bad fallback rate":    {"SALARY_FALLBACK_HOURLY_RATE": "two"},
		"negative fallback":    {"SALARY_FALLBACK_HOURLY_RATE": "-1"},
		"bad currency table":   {"CURRENCY_RATES": "EURO"},
		"bad cron":             {"SWEEP_SCHEDULE": "every minute"},
	}
	for name, env := range cases {
		t.Run(name, func(t *testing.T) {
			resetViper(t)
			for k, v := range env {
				t.Setenv(k, v)
			}
			_, err := Load()
			assert.Error(t, err)
		})
	}
}

func TestLoad_DisabledScheduleAndOrigins(t *testing.T) {
	resetViper(t)
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://ops.umbra.test, http://localhost:5173,")

	cfg, err := Load()
	require.NoError(t, err)

	cfg.SweepSchedule = ""
	assert.NoError(t, cfg.Validate())
	assert.Equal(t, []string{"https://ops.umbra.test", "http://localhost:5173"}, cfg.Origins())
	assert.False(t, cfg.ScenariosEnabled)
}
