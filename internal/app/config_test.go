package app

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voyagehq/voyage/internal/booking"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.AppAddr)
	assert.Equal(t, AuditSinkPostgres, cfg.AuditSink)
	assert.Equal(t, 1000, cfg.MetricsWindowCapacity)
	assert.Equal(t, 30*time.Second, cfg.ConvertLockTTL)
	assert.False(t, cfg.IsProduction())

	defaults, err := cfg.ConversionDefaults()
	require.NoError(t, err)
	want := booking.DefaultConversionDefaults()
	assert.True(t, want.DepositPercent.Equal(defaults.DepositPercent))
	assert.True(t, want.DefaultMarkupPercent.Equal(defaults.DefaultMarkupPercent))
	assert.True(t, want.DefaultPlatformFeePercent.Equal(defaults.DefaultPlatformFeePercent))
	assert.Equal(t, want.DepositDueAfter, defaults.DepositDueAfter)
	assert.Equal(t, want.FinalPaymentLead, defaults.FinalPaymentLead)
	assert.Equal(t, want.HoldPeriod, defaults.HoldPeriod)
	assert.Equal(t, booking.BreakdownNormalized, defaults.Breakdown)
}

func TestLoadConfigOverrides(t *testing.T) {
	t.Setenv("APP_ENV", "production")
	t.Setenv("AUDIT_SINK", "queue")
	t.Setenv("DEFAULT_DEPOSIT_PERCENT", "0.30")
	t.Setenv("DEPOSIT_DUE_DAYS", "3")
	t.Setenv("COMMISSION_HOLD_DAYS", "14")
	t.Setenv("BREAKDOWN_POLICY", "compat")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.True(t, cfg.IsProduction())
	assert.Equal(t, AuditSinkQueue, cfg.AuditSink)

	defaults, err := cfg.ConversionDefaults()
	require.NoError(t, err)
	assert.Equal(t, "0.3", defaults.DepositPercent.String())
	assert.Equal(t, 3*24*time.Hour, defaults.DepositDueAfter)
	assert.Equal(t, 14*24*time.Hour, defaults.HoldPeriod)
	assert.Equal(t, booking.BreakdownCompat, defaults.Breakdown)
}

func TestLoadConfigRejectsInvalidValues(t *testing.T) {
	tests := []struct {
		key   string
		value string
	}{
		{"AUDIT_SINK", "kafka"},
		{"METRICS_WINDOW_CAPACITY", "0"},
		{"DEFAULT_DEPOSIT_PERCENT", "1.5"},
		{"DEFAULT_PLATFORM_FEE_PERCENT", "-0.1"},
		{"DEFAULT_MARKUP_PERCENT", "abc"},
		{"BREAKDOWN_POLICY", "weighted"},
		{"CONVERT_LOCK_TTL", "soon"},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			_, err := LoadConfig()
			assert.Error(t, err)
		})
	}
}

func TestNilConfig(t *testing.T) {
	var cfg *Config
	assert.False(t, cfg.IsProduction())
	defaults, err := cfg.ConversionDefaults()
	require.NoError(t, err)
	assert.Equal(t, booking.BreakdownNormalized, defaults.Breakdown)
}
