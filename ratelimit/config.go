package ratelimit

import (
	"fmt"

	"github.com/GoCodeAlone/ratevent/internal/configfeed"
)

// Config is a file-loadable seed for either RateLimiter mode: one
// struct, tag-annotated fields, mutually exclusive option groups
// resolved by Build.
type Config struct {
	// Rate is the steady-state permits per second. Required, > 0.
	Rate float64 `json:"rate" yaml:"rate" toml:"rate"`

	// MaxBurstSeconds selects SmoothBursty mode when > 0.
	MaxBurstSeconds float64 `json:"maxBurstSeconds" yaml:"maxBurstSeconds" toml:"maxBurstSeconds"`

	// WarmupPeriodSeconds and ColdFactor select SmoothWarmingUp mode
	// when WarmupPeriodSeconds > 0.
	WarmupPeriodSeconds float64 `json:"warmupPeriodSeconds" yaml:"warmupPeriodSeconds" toml:"warmupPeriodSeconds"`
	ColdFactor          float64 `json:"coldFactor" yaml:"coldFactor" toml:"coldFactor"`
}

// FromYAML loads a Config from a YAML file and builds the RateLimiter
// it describes.
func FromYAML(path string, opts ...Option) (*RateLimiter, error) {
	var cfg Config
	if err := configfeed.Load(path, &cfg); err != nil {
		return nil, err
	}
	return cfg.Build(opts...)
}

// FromTOML loads a Config from a TOML file and builds the RateLimiter
// it describes.
func FromTOML(path string, opts ...Option) (*RateLimiter, error) {
	var cfg Config
	if err := configfeed.Load(path, &cfg); err != nil {
		return nil, err
	}
	return cfg.Build(opts...)
}

// Build constructs the RateLimiter the config describes. Exactly one
// of MaxBurstSeconds or WarmupPeriodSeconds must be set.
func (c Config) Build(opts ...Option) (*RateLimiter, error) {
	bursty := c.MaxBurstSeconds > 0
	warmup := c.WarmupPeriodSeconds > 0
	switch {
	case bursty && warmup:
		return nil, fmt.Errorf("ratelimit: config sets both maxBurstSeconds and warmupPeriodSeconds")
	case bursty:
		return NewSmoothBursty(c.Rate, c.MaxBurstSeconds, opts...)
	case warmup:
		coldFactor := c.ColdFactor
		if coldFactor == 0 {
			coldFactor = 3 // Guava's own documented default.
		}
		return NewSmoothWarmingUp(c.Rate, c.WarmupPeriodSeconds*1e6, coldFactor, opts...)
	default:
		return nil, fmt.Errorf("ratelimit: config must set maxBurstSeconds or warmupPeriodSeconds")
	}
}
