/*
Package config loads server and billing configuration from a TOML file.

PURPOSE:
  Translates the deployment's TOML file into validated billing.ModuleConfig
  values plus server settings. Penalty rate and grace days are REQUIRED
  per module: a missing financial field is an explicit error at startup,
  never a silent default.

EXAMPLE FILE:

  [server]
  port = 8080
  db   = "billing.db"

  [dues]
  penalty_rate            = "0.10"
  grace_days              = 30
  fiscal_year_start_month = 1
  billing_frequency       = "monthly"
  look_ahead_days         = 60
  max_lookback_years      = 3

  [metered]
  penalty_rate         = "0.05"
  grace_days           = 30
  max_lookback_periods = 24
*/
package config

import (
	"fmt"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/shopspring/decimal"

	"github.com/strata/billing-engine/billing"
)

// Config is the full server configuration.
type Config struct {
	Server  ServerConfig `toml:"server"`
	Dues    ModuleFile   `toml:"dues"`
	Metered ModuleFile   `toml:"metered"`
}

type ServerConfig struct {
	Port int    `toml:"port"`
	DB   string `toml:"db"`
}

// ModuleFile is the raw TOML shape of one module's billing settings.
// Penalty fields are pointers so that "absent" is distinguishable from
// "zero" - zero is not a valid default for money fields.
type ModuleFile struct {
	PenaltyRate          *string `toml:"penalty_rate"`
	GraceDays            *int    `toml:"grace_days"`
	FiscalYearStartMonth int     `toml:"fiscal_year_start_month"`
	BillingFrequency     string  `toml:"billing_frequency"`
	LookAheadDays        int     `toml:"look_ahead_days"`
	MaxLookbackYears     int     `toml:"max_lookback_years"`
	MaxLookbackPeriods   int     `toml:"max_lookback_periods"`
}

// Load reads and validates the configuration file.
func Load(path string) (*Config, error) {
	var cfg Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.DB == "" {
		cfg.Server.DB = "billing.db"
	}
	return &cfg, nil
}

// DuesConfig builds the validated dues module config.
func (c *Config) DuesConfig() (billing.ModuleConfig, error) {
	return c.Dues.moduleConfig(billing.ModuleRecurringDues)
}

// MeteredConfig builds the validated metered module config.
func (c *Config) MeteredConfig() (billing.ModuleConfig, error) {
	return c.Metered.moduleConfig(billing.ModuleMeteredConsumption)
}

func (m ModuleFile) moduleConfig(module billing.ModuleType) (billing.ModuleConfig, error) {
	if m.PenaltyRate == nil {
		return billing.ModuleConfig{}, &billing.ConfigError{Module: module, Field: "penalty_rate"}
	}
	if m.GraceDays == nil {
		return billing.ModuleConfig{}, &billing.ConfigError{Module: module, Field: "grace_days"}
	}
	rate, err := decimal.NewFromString(*m.PenaltyRate)
	if err != nil {
		return billing.ModuleConfig{}, &billing.ConfigError{Module: module, Field: "penalty_rate"}
	}

	cfg := billing.ModuleConfig{
		Penalty: billing.PenaltyConfig{
			Rate:      rate,
			GraceDays: *m.GraceDays,
		},
		FiscalYearStartMonth: time.Month(m.FiscalYearStartMonth),
		BillingFrequency:     billing.Frequency(m.BillingFrequency),
		LookAheadDays:        m.LookAheadDays,
		MaxLookbackYears:     m.MaxLookbackYears,
		MaxLookbackPeriods:   m.MaxLookbackPeriods,
	}
	if err := cfg.Validate(module); err != nil {
		return billing.ModuleConfig{}, err
	}
	return cfg, nil
}
