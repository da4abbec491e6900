package bootstrap

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/umbra/earnings-engine/config"
	"go.uber.org/zap"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		DBDriver:          "sqlite",
		DBPath:            ":memory:",
		ReferenceTimezone: "UTC",
		BaseCurrency:      "USD",
		DailyBonusMode:    "incremental",
		BurnCheckHour:     22,
		SweepConcurrency:  2,
	}
}

func TestNew_SQLiteWithReferenceFile(t *testing.T) {
	// GIVEN: a reference file with a salary section only
	path := filepath.Join(t.TempDir(), "reference.yaml")
	require.NoError(t, os.WriteFile(path, []byte("salary:\n  hourly_rate: 2.5\n"), 0o600))
	cfg := testConfig(t)
	cfg.ReferenceDataFile = path

	// WHEN
	app, err := New(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	defer app.Close()

	// THEN
	rate, err := app.Engine.HourlyRate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "2.5", rate.String())
}

func TestNew_BadReferenceFile(t *testing.T) {
	cfg := testConfig(t)
	cfg.ReferenceDataFile = filepath.Join(t.TempDir(), "missing.yaml")

	_, err := New(context.Background(), cfg, zap.NewNop())
	assert.Error(t, err)
}
