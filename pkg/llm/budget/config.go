package budget

import (
	"os"

	"gopkg.in/yaml.v3"

	"github.com/quentra/playbook/pkg/errors"
)

// Config is the on-disk budget configuration.
type Config struct {
	// Defaults apply to organizations without an explicit entry.
	Defaults CostLimits `yaml:"defaults"`

	// Orgs maps organization IDs to their limits.
	Orgs map[string]CostLimits `yaml:"orgs"`
}

// LoadConfig reads a budget configuration file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &errors.ConfigError{Key: "budget", Reason: "cannot read config file", Cause: err}
	}
	return ParseConfig(data)
}

// ParseConfig parses budget configuration YAML.
func ParseConfig(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, &errors.ConfigError{Key: "budget", Reason: "invalid YAML", Cause: err}
	}
	if cfg.Defaults == (CostLimits{}) {
		cfg.Defaults = DefaultCostLimits()
	}
	for org, l := range cfg.Orgs {
		if l.DailyLimitEUR < 0 || l.MonthlyLimitEUR < 0 || l.PerRequestLimitEUR < 0 {
			return nil, &errors.ConfigError{Key: "orgs." + org, Reason: "limits must not be negative"}
		}
	}
	return &cfg, nil
}

// Build creates guardrails from the configuration.
func (c *Config) Build(opts ...Option) *Guardrails {
	g := New(c.Defaults, opts...)
	for org, l := range c.Orgs {
		g.SetLimits(org, l)
	}
	return g
}
