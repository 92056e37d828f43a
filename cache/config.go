package cache

import (
	"github.com/GoCodeAlone/ratevent/internal/configfeed"
)

// Config is a file-loadable seed for a CacheBuilder: one struct,
// tag-annotated scalar fields. Because CacheBuilder is generic over
// key/value types and a config file isn't, Config only carries the
// scalar options (sizes, durations, flags); ApplyTo wires them onto an
// already-typed builder so the caller supplies K/V once, at the call
// site, the way NewCacheBuilder[K, V]() already requires.
//
// ExpireAfterWrite and ExpireAfterAccess are untyped on the wire:
// authors write them as a Go duration string ("90s"), a bare number of
// seconds, or omit them, and configfeed.Duration resolves whichever
// form shows up into a time.Duration.
type Config struct {
	InitialCapacity   int   `json:"initialCapacity" yaml:"initialCapacity" toml:"initialCapacity"`
	ConcurrencyLevel  int   `json:"concurrencyLevel" yaml:"concurrencyLevel" toml:"concurrencyLevel"`
	MaximumSize       int64 `json:"maximumSize" yaml:"maximumSize" toml:"maximumSize"`
	ExpireAfterWrite  any   `json:"expireAfterWrite" yaml:"expireAfterWrite" toml:"expireAfterWrite"`
	ExpireAfterAccess any   `json:"expireAfterAccess" yaml:"expireAfterAccess" toml:"expireAfterAccess"`
	RecordStats       bool  `json:"recordStats" yaml:"recordStats" toml:"recordStats"`
}

// LoadConfig reads a Config from a YAML or TOML file, dispatching on
// extension exactly like ratelimit.FromYAML/FromTOML's shared
// configfeed.Load.
func LoadConfig(path string) (Config, error) {
	var cfg Config
	err := configfeed.Load(path, &cfg)
	return cfg, err
}

// ApplyTo applies every non-zero Config field to b, returning the same
// builder for chaining. Fields left at their zero value are left at
// the builder's own defaults.
func ApplyTo[K comparable, V any](b *CacheBuilder[K, V], cfg Config) (*CacheBuilder[K, V], error) {
	var err error
	if cfg.InitialCapacity > 0 {
		if b, err = b.InitialCapacity(cfg.InitialCapacity); err != nil {
			return b, err
		}
	}
	if cfg.ConcurrencyLevel > 0 {
		if b, err = b.ConcurrencyLevel(cfg.ConcurrencyLevel); err != nil {
			return b, err
		}
	}
	if cfg.MaximumSize > 0 {
		if b, err = b.MaximumSize(cfg.MaximumSize); err != nil {
			return b, err
		}
	}
	if cfg.ExpireAfterWrite != nil {
		d, derr := configfeed.Duration(cfg.ExpireAfterWrite)
		if derr != nil {
			return b, derr
		}
		if b, err = b.ExpireAfterWrite(d); err != nil {
			return b, err
		}
	}
	if cfg.ExpireAfterAccess != nil {
		d, derr := configfeed.Duration(cfg.ExpireAfterAccess)
		if derr != nil {
			return b, derr
		}
		if b, err = b.ExpireAfterAccess(d); err != nil {
			return b, err
		}
	}
	if cfg.RecordStats {
		if b, err = b.RecordStats(); err != nil {
			return b, err
		}
	}
	return b, nil
}
