// Package config parses and validates the TOML configuration file
// described in spec.md §6. The load→apply-defaults→validate shape is
// adapted from the teacher's pkg/topology/topology.go
// (ParseTopologyFile/applyDefaults/Validate), retargeted from a YAML
// cluster topology to the TOML site list this spec requires.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// ErrInvalid wraps every validation failure (spec.md §7, error kind
// config-invalid).
var ErrInvalid = fmt.Errorf("config: invalid")

// Config is the top-level parsed document.
type Config struct {
	Listen string       `toml:"listen"`
	Sites  []SiteConfig `toml:"sites"`
}

// SiteConfig is one [[sites]] table entry.
type SiteConfig struct {
	Name                string `toml:"name"`
	Branch              string `toml:"branch"`
	Meshinfo            string `toml:"meshinfo"`
	LatestVersion       string `toml:"latest-version"`
	OnUpdate            string `toml:"on-update"`
	OnNoupdate          string `toml:"on-noupdate"`
	UpdateDefault       bool   `toml:"update-default"`
	DryRun              bool   `toml:"dry-run"`
	IgnoreAutoupdateOff bool   `toml:"ignore-autoupdate-off"`
	RefreshIntervalSecs uint64 `toml:"refresh-interval"`
	UpdateTimeoutSecs   uint64 `toml:"update-timeout"`
	BrokenThreshold     uint32 `toml:"broken-threshold"`
	StateFile           string `toml:"state-file"`
	Enabled             bool   `toml:"enabled"`
	// MaxNodeAgeDays bounds how stale a node's lastseen may be before the
	// graph builder's intake pass drops it (spec.md §4.1). Not named in
	// §6's field table explicitly but required by §4.1; defaults applied
	// below if zero.
	MaxNodeAgeDays uint32 `toml:"max-node-age-days"`
}

// RefreshInterval is RefreshIntervalSecs as a time.Duration.
func (s SiteConfig) RefreshInterval() time.Duration {
	return time.Duration(s.RefreshIntervalSecs) * time.Second
}

// UpdateTimeout is UpdateTimeoutSecs as a time.Duration.
func (s SiteConfig) UpdateTimeout() time.Duration {
	return time.Duration(s.UpdateTimeoutSecs) * time.Second
}

// MaxNodeAge is MaxNodeAgeDays as a time.Duration.
func (s SiteConfig) MaxNodeAge() time.Duration {
	return time.Duration(s.MaxNodeAgeDays) * 24 * time.Hour
}

// Load reads, parses, applies derived defaults to, and validates the
// config file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: reading %s: %v", ErrInvalid, path, err)
	}

	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("%w: parsing %s: %v", ErrInvalid, path, err)
	}

	cfg.applyDefaults(filepath.Dir(path))

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	return &cfg, nil
}

// applyDefaults fills in derived fields the way the teacher's
// Topology.applyDefaults fills node directories from the global section:
// state-file paths given as relative are resolved against the config
// file's own directory, and max-node-age-days defaults to 7.
func (c *Config) applyDefaults(configDir string) {
	for i := range c.Sites {
		s := &c.Sites[i]
		if s.StateFile != "" && !filepath.IsAbs(s.StateFile) {
			s.StateFile = filepath.Join(configDir, s.StateFile)
		}
		if s.MaxNodeAgeDays == 0 {
			s.MaxNodeAgeDays = 7
		}
	}
}

// Validate checks the required fields named in spec.md §6 and rejects
// duplicate (name, branch) pairs, which would make the site map in
// internal/orchestrator ambiguous.
func (c *Config) Validate() error {
	if c.Listen == "" {
		return fmt.Errorf("listen is required")
	}
	if len(c.Sites) == 0 {
		return fmt.Errorf("at least one [[sites]] entry is required")
	}

	seen := make(map[[2]string]bool)
	for _, s := range c.Sites {
		if s.Name == "" {
			return fmt.Errorf("site missing name")
		}
		if s.Branch == "" {
			return fmt.Errorf("site %s missing branch", s.Name)
		}
		if s.Meshinfo == "" {
			return fmt.Errorf("site %s/%s missing meshinfo URL", s.Name, s.Branch)
		}
		if s.LatestVersion == "" {
			return fmt.Errorf("site %s/%s missing latest-version", s.Name, s.Branch)
		}
		if s.OnUpdate == "" || s.OnNoupdate == "" {
			return fmt.Errorf("site %s/%s missing on-update or on-noupdate", s.Name, s.Branch)
		}
		if s.StateFile == "" {
			return fmt.Errorf("site %s/%s missing state-file", s.Name, s.Branch)
		}
		if s.RefreshIntervalSecs == 0 {
			return fmt.Errorf("site %s/%s missing refresh-interval", s.Name, s.Branch)
		}
		if s.UpdateTimeoutSecs == 0 {
			return fmt.Errorf("site %s/%s missing update-timeout", s.Name, s.Branch)
		}
		if s.BrokenThreshold == 0 {
			return fmt.Errorf("site %s/%s missing broken-threshold", s.Name, s.Branch)
		}

		key := [2]string{s.Name, s.Branch}
		if seen[key] {
			return fmt.Errorf("duplicate site %s/%s", s.Name, s.Branch)
		}
		seen[key] = true
	}
	return nil
}
