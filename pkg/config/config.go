// Package config provides configuration loading, validation, and defaults
// for the swarm coordinator.
//
// Configuration is strictly separated from state: cycle bounds, persona
// definitions, and runner settings live here; session progress, task
// status, and conflict history belong to the state store. Algorithm
// parameters (lock staleness, poll intervals) are code constants, not
// configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Coordination modes.
const (
	ModePipeline = "pipeline"
	ModeParallel = "parallel"
	ModeAdaptive = "adaptive"
)

// Well-known persona roles. Other roles are allowed; they sort after these
// in conflict precedence.
const (
	RoleDeveloper = "developer"
	RoleTester    = "tester"
	RoleReviewer  = "reviewer"
	RolePlanner   = "planner"
)

// Default bounds for the pipeline feedback loops.
const (
	DefaultMaxBugFixCycles = 3
	DefaultMaxReviewCycles = 3
	DefaultMaxIterations   = 8
)

// Persona describes one role instance participating in a session.
type Persona struct {
	Name     string `yaml:"name"`
	Role     string `yaml:"role"`
	Priority int    `yaml:"priority,omitempty"` // Conflict precedence, lower wins
	Enabled  *bool  `yaml:"enabled,omitempty"`
}

// IsEnabled treats a missing enabled flag as true.
func (p *Persona) IsEnabled() bool {
	return p.Enabled == nil || *p.Enabled
}

// PipelineConfig bounds the plan/dev/test/review loops.
type PipelineConfig struct {
	MaxBugFixCycles  int    `yaml:"max_bugfix_cycles"`
	MaxReviewCycles  int    `yaml:"max_review_cycles"`
	MaxIterations    int    `yaml:"max_iterations"`
	AutoMerge        bool   `yaml:"auto_merge"`
	ConflictStrategy string `yaml:"conflict_strategy"`
}

// RunnerConfig describes the external coding-agent process.
type RunnerConfig struct {
	Command        string `yaml:"command"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// PathsConfig locates the on-disk documents the coordinator owns.
type PathsConfig struct {
	StateDir   string `yaml:"state_dir"`
	LogDir     string `yaml:"log_dir"`
	InsightsDB string `yaml:"insights_db"`
	RepoDir    string `yaml:"repo_dir"`
}

// Config is the root configuration document (swarm.yaml).
type Config struct {
	Goal     string         `yaml:"goal"`
	Mode     string         `yaml:"mode"`
	Personas []Persona      `yaml:"personas"`
	Pipeline PipelineConfig `yaml:"pipeline"`
	Runner   RunnerConfig   `yaml:"runner"`
	Paths    PathsConfig    `yaml:"paths"`
}

// Load reads and validates a YAML config file, applying defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	cfg.applyDefaults(filepath.Dir(path))
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return &cfg, nil
}

// Default returns a config with defaults applied, for tests and first runs.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults(".")
	return cfg
}

func (c *Config) applyDefaults(baseDir string) {
	if c.Mode == "" {
		c.Mode = ModePipeline
	}
	if c.Pipeline.MaxBugFixCycles <= 0 {
		c.Pipeline.MaxBugFixCycles = DefaultMaxBugFixCycles
	}
	if c.Pipeline.MaxReviewCycles <= 0 {
		c.Pipeline.MaxReviewCycles = DefaultMaxReviewCycles
	}
	if c.Pipeline.MaxIterations <= 0 {
		c.Pipeline.MaxIterations = DefaultMaxIterations
	}
	if c.Pipeline.ConflictStrategy == "" {
		c.Pipeline.ConflictStrategy = "sequential"
	}
	if c.Runner.TimeoutSeconds <= 0 {
		c.Runner.TimeoutSeconds = 600
	}
	if c.Paths.StateDir == "" {
		c.Paths.StateDir = filepath.Join(baseDir, ".swarm", "state")
	}
	if c.Paths.LogDir == "" {
		c.Paths.LogDir = filepath.Join(baseDir, ".swarm", "logs")
	}
	if c.Paths.RepoDir == "" {
		c.Paths.RepoDir = baseDir
	}
	for i := range c.Personas {
		p := &c.Personas[i]
		if p.Priority == 0 {
			p.Priority = RolePrecedence(p.Role)
		}
	}
}

// Validate rejects configs that would leave the coordinator unable to run.
func (c *Config) Validate() error {
	switch c.Mode {
	case ModePipeline, ModeParallel, ModeAdaptive:
	default:
		return fmt.Errorf("unknown coordination mode: %s", c.Mode)
	}
	switch c.Pipeline.ConflictStrategy {
	case "sequential", "priority", "merge", "manual":
	default:
		return fmt.Errorf("unknown conflict strategy: %s", c.Pipeline.ConflictStrategy)
	}
	seen := make(map[string]bool, len(c.Personas))
	for i := range c.Personas {
		p := &c.Personas[i]
		if p.Name == "" {
			return fmt.Errorf("persona %d has no name", i)
		}
		if p.Role == "" {
			return fmt.Errorf("persona %s has no role", p.Name)
		}
		if seen[p.Name] {
			return fmt.Errorf("duplicate persona name: %s", p.Name)
		}
		seen[p.Name] = true
	}
	return nil
}

// PersonaByRole returns the first enabled persona with the given role.
func (c *Config) PersonaByRole(role string) (*Persona, bool) {
	for i := range c.Personas {
		p := &c.Personas[i]
		if p.IsEnabled() && strings.EqualFold(p.Role, role) {
			return p, true
		}
	}
	return nil, false
}

// RolePrecedence returns the fixed conflict precedence for a role.
// Lower wins: developer < tester < reviewer < everything else.
func RolePrecedence(role string) int {
	switch strings.ToLower(role) {
	case RoleDeveloper:
		return 1
	case RoleTester:
		return 2
	case RoleReviewer:
		return 3
	default:
		return 100
	}
}
