package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_ParsesYAMLAndAppliesDefaults(t *testing.T) {
	content := `
server:
  port: 8080
database:
  driver: sqlite
  dsn: "file::memory:?cache=shared"
loan:
  period_days: 7
  max_renewals: 2
rate_limit:
  requests: 10
  window_seconds: 30
`
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, 7*24*time.Hour, cfg.Loan.Period())
	assert.Equal(t, 2, cfg.Loan.Renewals())
	assert.Equal(t, 10, cfg.RateLimit.Requests)
	assert.Equal(t, 30*time.Second, cfg.RateLimit.Window())

	// Unset sections fall back to the documented defaults.
	assert.Equal(t, 3, cfg.Loan.MaxActiveLoans)
	assert.Equal(t, int64(200), cfg.Loan.FinePerDayCents)
	assert.Equal(t, 24*time.Hour, cfg.Reservation.HoldTTL())
	assert.Equal(t, 15*time.Second, cfg.Cache.TTL())
	assert.Equal(t, time.Minute, cfg.Sweeper.Interval)
}

func TestApplyDefaults_RenewalCap(t *testing.T) {
	var cfg Config
	cfg.ApplyDefaults()
	assert.Equal(t, 1, cfg.Loan.Renewals(), "the renewal cap defaults to one")

	zero := 0
	cfg.Loan.MaxRenewals = &zero
	assert.Equal(t, 0, cfg.Loan.Renewals(), "an explicit zero disables renewals")
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}
