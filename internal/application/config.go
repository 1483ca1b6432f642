package application

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/ahrav/go-tally/infrastructure/aggregation"
	"github.com/ahrav/go-tally/infrastructure/signature"
	"github.com/ahrav/go-tally/internal/domain"
	"github.com/ahrav/go-tally/internal/ports"
)

// Config is the complete engine configuration and the primary entry point
// for deployments. Load it from YAML with LoadConfig; fields that are left
// out keep the values from DefaultConfig.
type Config struct {
	// Tabulation controls how scores become totals and ranks.
	Tabulation TabulationConfig `yaml:"tabulation" validate:"required"`
	// Roles maps certification levels to the role claims allowed to sign
	// them.
	Roles RolePolicy `yaml:"roles" validate:"required"`
	// Submission paces score writes per judge.
	Submission SubmissionConfig `yaml:"submission"`
	// Bulk bounds the parallelism of multi-scope tabulation.
	Bulk BulkConfig `yaml:"bulk"`
	// Signature configures the typed-name check.
	Signature signature.Options `yaml:"signature"`
	// Store selects the persistence adapter.
	Store StoreConfig `yaml:"store" validate:"required"`
	// Logging sets the zap logger level.
	Logging LoggingConfig `yaml:"logging"`
	// Metrics sets the Prometheus namespace.
	Metrics MetricsConfig `yaml:"metrics"`
}

// TabulationConfig holds the aggregation defaults. A category's own
// aggregation rule overrides AggregationRule.
type TabulationConfig struct {
	// AggregationRule combines per-judge subtotals: mean, sum or median.
	AggregationRule string `yaml:"aggregation_rule" validate:"required,aggrule"`
	// RoundingPlaces is the number of decimal places kept for judge
	// subtotals and totals.
	RoundingPlaces int `yaml:"rounding_places" validate:"min=0,max=6"`
	// RequireScoreCap makes tabulation of an uncapped category a
	// configuration error.
	RequireScoreCap bool `yaml:"require_score_cap"`
}

// RolePolicy lists the role claims accepted for each privileged operation.
// Judge certification always requires the judge role.
type RolePolicy struct {
	Tally      []domain.Role `yaml:"tally" validate:"required,min=1,dive,role"`
	Final      []domain.Role `yaml:"final" validate:"required,min=1,dive,role"`
	Revocation []domain.Role `yaml:"revocation" validate:"required,min=1,dive,role"`
}

// SubmissionConfig configures the per-judge token bucket applied to score
// writes. A zero RatePerSecond disables pacing.
type SubmissionConfig struct {
	RatePerSecond float64 `yaml:"rate_per_second" validate:"min=0"`
	Burst         int     `yaml:"burst" validate:"min=0,max=10000"`
}

// BulkConfig bounds TabulateMany.
type BulkConfig struct {
	Concurrency int `yaml:"concurrency" validate:"min=1,max=256"`
}

// StoreConfig selects and configures the store adapter.
type StoreConfig struct {
	// Driver is "memory" or "postgres".
	Driver string `yaml:"driver" validate:"required,oneof=memory postgres"`
	// DSN is the Postgres connection string.
	DSN string `yaml:"dsn" validate:"required_if=Driver postgres"`
	// MaxAttempts bounds transaction retries on serialization failures.
	MaxAttempts int `yaml:"max_attempts" validate:"min=1,max=10"`
}

// LoggingConfig sets the log level.
type LoggingConfig struct {
	Level string `yaml:"level" validate:"omitempty,oneof=debug info warn error"`
}

// MetricsConfig sets the metric name prefix.
type MetricsConfig struct {
	Namespace string `yaml:"namespace" validate:"omitempty,metricname"`
}

// DefaultConfig returns the production defaults: mean aggregation rounded
// to one decimal place, Tally Master for tally sign-off, Auditor or Board
// for final sign-off, Admin or Board for revocation, no pacing, and the
// in-memory store.
func DefaultConfig() Config {
	return Config{
		Tabulation: TabulationConfig{
			AggregationRule: aggregation.RuleMean,
			RoundingPlaces:  1,
		},
		Roles: RolePolicy{
			Tally:      []domain.Role{domain.RoleTallyMaster},
			Final:      []domain.Role{domain.RoleAuditor, domain.RoleBoard},
			Revocation: []domain.Role{domain.RoleAdmin, domain.RoleBoard},
		},
		Bulk:      BulkConfig{Concurrency: 4},
		Signature: signature.DefaultOptions(),
		Store:     StoreConfig{Driver: "memory", MaxAttempts: 3},
		Logging:   LoggingConfig{Level: "info"},
		Metrics:   MetricsConfig{Namespace: "tally"},
	}
}

// LoadConfig reads, decodes and validates a YAML configuration file.
func LoadConfig(path string) (Config, error) {
	cleanPath := filepath.Clean(path)

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		if os.IsNotExist(err) {
			return Config{}, ports.NewConfigError(cleanPath, ports.ErrConfigNotFound)
		}
		return Config{}, ports.NewConfigError(cleanPath, err)
	}
	return ParseConfig(bytes.NewReader(data))
}

// ParseConfig decodes YAML from r over DefaultConfig and validates the
// result. Unknown fields are rejected so typos are not silently ignored.
func ParseConfig(r io.Reader) (Config, error) {
	cfg := DefaultConfig()

	decoder := yaml.NewDecoder(r)
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil && err != io.EOF {
		return Config{}, ports.NewConfigError("yaml", fmt.Errorf("YAML decode failed: %w", err))
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks struct tags and registered custom rules.
func (c Config) Validate() error {
	v := validator.New()
	if err := registerConfigValidators(v); err != nil {
		return ports.NewConfigError("validator", err)
	}
	if err := v.Struct(c); err != nil {
		return ports.NewConfigError("struct", fmt.Errorf("struct validation failed: %w", err))
	}
	return nil
}
