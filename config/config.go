package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the overall application configuration.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Database    DatabaseConfig    `yaml:"database"`
	Loan        LoanConfig        `yaml:"loan"`
	Reservation ReservationConfig `yaml:"reservation"`
	RateLimit   RateLimitConfig   `yaml:"rate_limit"`
	Cache       CacheConfig       `yaml:"cache"`
	Sweeper     SweeperConfig     `yaml:"sweeper"`
}

// ServerConfig holds the HTTP server configuration.
type ServerConfig struct {
	Port            int     `yaml:"port"`
	RateLimitPerSec float64 `yaml:"rate_limit_per_sec"` // per-IP guard in front of the API
	RateLimitBurst  int     `yaml:"rate_limit_burst"`
}

// DatabaseConfig holds the database connection configuration. Driver is
// "postgres" in production; "sqlite" is supported for local development.
type DatabaseConfig struct {
	Driver                 string `yaml:"driver"`
	DSN                    string `yaml:"dsn"`
	MaxOpenConns           int    `yaml:"max_open_conns"`
	MaxIdleConns           int    `yaml:"max_idle_conns"`
	ConnMaxLifetimeMinutes int    `yaml:"conn_max_lifetime_minutes"`
}

// LoanConfig holds the lending business rules.
type LoanConfig struct {
	PeriodDays      int   `yaml:"period_days"`
	MaxRenewals     *int  `yaml:"max_renewals"`
	MaxActiveLoans  int   `yaml:"max_active_loans"`
	FinePerDayCents int64 `yaml:"fine_per_day_cents"`
}

// Period returns the loan term as a duration.
func (c LoanConfig) Period() time.Duration {
	return time.Duration(c.PeriodDays) * 24 * time.Hour
}

// Renewals returns the configured renewal cap.
func (c LoanConfig) Renewals() int {
	if c.MaxRenewals == nil {
		return 1
	}
	return *c.MaxRenewals
}

// ReservationConfig holds the hold-window rule.
type ReservationConfig struct {
	HoldHours int `yaml:"hold_hours"`
}

// HoldTTL returns how long a promoted hold stays claimable.
func (c ReservationConfig) HoldTTL() time.Duration {
	return time.Duration(c.HoldHours) * time.Hour
}

// RateLimitConfig holds the per-actor sliding-window admission settings.
type RateLimitConfig struct {
	Requests      int `yaml:"requests"`
	WindowSeconds int `yaml:"window_seconds"`
}

// Window returns the sliding-window length.
func (c RateLimitConfig) Window() time.Duration {
	return time.Duration(c.WindowSeconds) * time.Second
}

// CacheConfig holds the availability-cache settings.
type CacheConfig struct {
	AvailabilityTTLSeconds int `yaml:"availability_ttl_seconds"`
}

// TTL returns the availability-cache entry lifetime.
func (c CacheConfig) TTL() time.Duration {
	return time.Duration(c.AvailabilityTTLSeconds) * time.Second
}

// SweeperConfig controls the background hold sweep. The engine holds no
// timers of its own; the same sweep is reachable through the admin API.
type SweeperConfig struct {
	Enabled         bool          `yaml:"enabled"`
	IntervalSeconds int           `yaml:"interval_seconds"`
	Interval        time.Duration `yaml:"-"` // Ignored by YAML parser
}

// Load reads the configuration from the given path and applies defaults.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cfg Config
	decoder := yaml.NewDecoder(f)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, err
	}

	cfg.ApplyDefaults()
	return &cfg, nil
}

// ApplyDefaults fills unset fields with the documented defaults.
func (cfg *Config) ApplyDefaults() {
	if cfg.Server.RateLimitPerSec <= 0 {
		cfg.Server.RateLimitPerSec = 10
	}
	if cfg.Server.RateLimitBurst <= 0 {
		cfg.Server.RateLimitBurst = 5
	}
	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "postgres"
	}
	if cfg.Loan.PeriodDays <= 0 {
		cfg.Loan.PeriodDays = 14
	}
	if cfg.Loan.MaxActiveLoans <= 0 {
		cfg.Loan.MaxActiveLoans = 3
	}
	if cfg.Loan.FinePerDayCents <= 0 {
		cfg.Loan.FinePerDayCents = 200 // R$ 2.00/day
	}
	if cfg.Reservation.HoldHours <= 0 {
		cfg.Reservation.HoldHours = 24
	}
	if cfg.RateLimit.Requests <= 0 {
		cfg.RateLimit.Requests = 60
	}
	if cfg.RateLimit.WindowSeconds <= 0 {
		cfg.RateLimit.WindowSeconds = 60
	}
	if cfg.Cache.AvailabilityTTLSeconds <= 0 {
		cfg.Cache.AvailabilityTTLSeconds = 15
	}
	if cfg.Sweeper.IntervalSeconds <= 0 {
		cfg.Sweeper.IntervalSeconds = 60
	}
	cfg.Sweeper.Interval = time.Duration(cfg.Sweeper.IntervalSeconds) * time.Second
}
