package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dyluth/protomodels/internal/mutate"
	"github.com/dyluth/protomodels/pkg/protomodel"
)

// Scheduler kinds.
const (
	SchedulerLocal  = "local"
	SchedulerDocker = "docker"
)

// WalkConfig specifies the hill climb of every worker
type WalkConfig struct {
	MaxSteps               int    `yaml:"max_steps,omitempty"`                // Steps per session (default 1000)
	MutationsPerStep       int    `yaml:"mutations_per_step,omitempty"`       // Default 1
	FlushEvery             int    `yaml:"flush_every,omitempty"`              // History records buffered before a flush (default 10)
	PredictTimeout         string `yaml:"predict_timeout,omitempty"`          // Per adapter call, e.g. "30s" (default "60s")
	MaxConsecutiveTimeouts int    `yaml:"max_consecutive_timeouts,omitempty"` // Default 5

	predictTimeout time.Duration
}

// PredictTimeoutDuration returns the parsed predict_timeout.
func (w *WalkConfig) PredictTimeoutDuration() time.Duration {
	return w.predictTimeout
}

// MutatorConfig specifies mutation weights and magnitudes
type MutatorConfig struct {
	Weights         map[string]float64 `yaml:"weights,omitempty"` // mutation kind → relative weight
	MassSigma       float64            `yaml:"mass_sigma,omitempty"`
	MaxMass         float64            `yaml:"max_mass,omitempty"`
	BranchingSigma  float64            `yaml:"branching_sigma,omitempty"`
	MultiplierSigma float64            `yaml:"multiplier_sigma,omitempty"`
}

// CombinationConfig specifies the combination optimizer
type CombinationConfig struct {
	TopK          int     `yaml:"top_k,omitempty"`          // Cliques requested from the finder; the best-weight one is profiled (default 3)
	MuMax         float64 `yaml:"mu_max,omitempty"`         // Upper bound of the signal strength
	MaxExpansions int     `yaml:"max_expansions,omitempty"` // Branch-and-bound node budget (0 = unlimited)
}

// CriticConfig specifies the upper-limit critic
type CriticConfig struct {
	MaxR float64 `yaml:"max_r,omitempty"` // Exclude models with any r above this (0 = disabled)
}

// HiscoreConfig specifies the leaderboards
type HiscoreConfig struct {
	MaxEntries  int     `yaml:"max_entries,omitempty"`  // Default 10
	LockTimeout string  `yaml:"lock_timeout,omitempty"` // Default "30s"
	TrimTop     int     `yaml:"trim_top,omitempty"`     // Models trimmed per consolidation (default 3)
	MaxLoss     float64 `yaml:"max_loss,omitempty"`     // Fractional Z loss allowed by trimming (default 0.01)

	lockTimeout time.Duration
}

// LockTimeoutDuration returns the parsed lock_timeout.
func (h *HiscoreConfig) LockTimeoutDuration() time.Duration {
	return h.lockTimeout
}

// ConsolidationConfig specifies the background merge loop
type ConsolidationConfig struct {
	Interval string `yaml:"interval,omitempty"` // Default "5m"

	interval time.Duration
}

// IntervalDuration returns the parsed interval.
func (c *ConsolidationConfig) IntervalDuration() time.Duration {
	return c.interval
}

// AdapterConfig specifies the simplified-likelihood prediction adapter
type AdapterConfig struct {
	SignalNorm    float64 `yaml:"signal_norm,omitempty"`
	ReferenceMass float64 `yaml:"reference_mass,omitempty"`
	Smearing      float64 `yaml:"smearing,omitempty"`
}

// SchedulerConfig specifies how workers are launched
type SchedulerConfig struct {
	Kind          string   `yaml:"kind,omitempty"`            // "local" (default) or "docker"
	WorkerBinary  string   `yaml:"worker_binary,omitempty"`   // local: path of the walker binary (default "walker")
	Image         string   `yaml:"image,omitempty"`           // docker: required image
	Network       string   `yaml:"network,omitempty"`         // docker: optional network
	WorkersPerJob int      `yaml:"workers_per_job,omitempty"` // Split ranges into jobs of this size (0 = one job)
	Environment   []string `yaml:"environment,omitempty"`
}

// FeedConfig specifies the Redis step feed
type FeedConfig struct {
	RedisURL string `yaml:"redis_url,omitempty"` // Empty disables the feed
}

// Config represents the top-level pmodel.yml configuration
type Config struct {
	Version       string               `yaml:"version"`
	RunName       string               `yaml:"run_name"`
	OutputDir     string               `yaml:"output_dir,omitempty"` // Default "output"
	Seed          int64                `yaml:"seed,omitempty"`
	Particles     []int                `yaml:"particles,omitempty"`
	Catalog       string               `yaml:"catalog"`
	Policy        string               `yaml:"policy,omitempty"`
	Walk          *WalkConfig          `yaml:"walk,omitempty"`
	Mutator       *MutatorConfig       `yaml:"mutator,omitempty"`
	Combination   *CombinationConfig   `yaml:"combination,omitempty"`
	Critic        *CriticConfig        `yaml:"critic,omitempty"`
	Hiscore       *HiscoreConfig       `yaml:"hiscore,omitempty"`
	Consolidation *ConsolidationConfig `yaml:"consolidation,omitempty"`
	Adapter       *AdapterConfig       `yaml:"adapter,omitempty"`
	Scheduler     *SchedulerConfig     `yaml:"scheduler,omitempty"`
	Feed          *FeedConfig          `yaml:"feed,omitempty"`

	baseDir string
}

// Validate performs strict validation on the configuration and applies
// defaults for missing sections.
func (c *Config) Validate() error {
	// Required: version
	if c.Version != "1.0" {
		return fmt.Errorf("unsupported version: %s (expected: 1.0)", c.Version)
	}

	// Required: run name
	if c.RunName == "" {
		return fmt.Errorf("run_name is required")
	}
	if err := ValidateRunName(c.RunName); err != nil {
		return fmt.Errorf("run_name: %w", err)
	}

	// Required: catalog
	if c.Catalog == "" {
		return fmt.Errorf("catalog is required")
	}

	if c.OutputDir == "" {
		c.OutputDir = "output"
	}

	if len(c.Particles) == 0 {
		c.Particles = append([]int(nil), protomodel.DefaultParticles...)
	}
	hasLSP := false
	for _, pid := range c.Particles {
		if !protomodel.IsBSM(pid) {
			return fmt.Errorf("particle %d is not a BSM particle id", pid)
		}
		if pid == protomodel.LSP {
			hasLSP = true
		}
	}
	if !hasLSP {
		return fmt.Errorf("particles must include the LSP (%d)", protomodel.LSP)
	}

	if err := c.validateWalk(); err != nil {
		return err
	}
	if err := c.validateMutator(); err != nil {
		return err
	}

	if c.Combination == nil {
		c.Combination = &CombinationConfig{}
	}
	if c.Combination.TopK == 0 {
		c.Combination.TopK = 3
	}
	if c.Combination.TopK < 1 {
		return fmt.Errorf("combination.top_k must be >= 1, got %d", c.Combination.TopK)
	}
	if c.Combination.MuMax < 0 || c.Combination.MaxExpansions < 0 {
		return fmt.Errorf("combination.mu_max and combination.max_expansions must be >= 0")
	}

	if c.Critic == nil {
		c.Critic = &CriticConfig{}
	}
	if c.Critic.MaxR < 0 {
		return fmt.Errorf("critic.max_r must be >= 0 (0 = disabled), got %g", c.Critic.MaxR)
	}

	if err := c.validateHiscore(); err != nil {
		return err
	}

	if c.Consolidation == nil {
		c.Consolidation = &ConsolidationConfig{}
	}
	if c.Consolidation.Interval == "" {
		c.Consolidation.Interval = "5m"
	}
	interval, err := parsePositiveDuration("consolidation.interval", c.Consolidation.Interval)
	if err != nil {
		return err
	}
	c.Consolidation.interval = interval

	if c.Adapter == nil {
		c.Adapter = &AdapterConfig{}
	}
	if c.Adapter.SignalNorm < 0 || c.Adapter.ReferenceMass < 0 || c.Adapter.Smearing < 0 {
		return fmt.Errorf("adapter parameters must be >= 0")
	}

	if err := c.validateScheduler(); err != nil {
		return err
	}

	if c.Feed == nil {
		c.Feed = &FeedConfig{}
	}

	return nil
}

func (c *Config) validateWalk() error {
	if c.Walk == nil {
		c.Walk = &WalkConfig{}
	}
	w := c.Walk
	if w.MaxSteps == 0 {
		w.MaxSteps = 1000
	}
	if w.MutationsPerStep == 0 {
		w.MutationsPerStep = 1
	}
	if w.FlushEvery == 0 {
		w.FlushEvery = 10
	}
	if w.MaxConsecutiveTimeouts == 0 {
		w.MaxConsecutiveTimeouts = 5
	}
	if w.PredictTimeout == "" {
		w.PredictTimeout = "60s"
	}
	if w.MaxSteps < 1 || w.MutationsPerStep < 1 || w.FlushEvery < 1 || w.MaxConsecutiveTimeouts < 1 {
		return fmt.Errorf("walk.max_steps, walk.mutations_per_step, walk.flush_every and walk.max_consecutive_timeouts must be >= 1")
	}
	d, err := parsePositiveDuration("walk.predict_timeout", w.PredictTimeout)
	if err != nil {
		return err
	}
	w.predictTimeout = d
	return nil
}

func (c *Config) validateMutator() error {
	defaults := mutate.DefaultConfig()
	if c.Mutator == nil {
		c.Mutator = &MutatorConfig{}
	}
	m := c.Mutator
	if len(m.Weights) == 0 {
		m.Weights = make(map[string]float64, len(defaults.Weights))
		for kind, w := range defaults.Weights {
			m.Weights[string(kind)] = w
		}
	}
	total := 0.0
	for name, w := range m.Weights {
		if !isMutationKind(name) {
			return fmt.Errorf("mutator.weights: unknown mutation kind '%s'", name)
		}
		if w < 0 {
			return fmt.Errorf("mutator.weights.%s must be >= 0, got %g", name, w)
		}
		total += w
	}
	if total <= 0 {
		return fmt.Errorf("mutator.weights must contain at least one positive weight")
	}
	if m.MassSigma == 0 {
		m.MassSigma = defaults.MassSigma
	}
	if m.MaxMass == 0 {
		m.MaxMass = defaults.MaxMass
	}
	if m.BranchingSigma == 0 {
		m.BranchingSigma = defaults.BranchingSigma
	}
	if m.MultiplierSigma == 0 {
		m.MultiplierSigma = defaults.MultiplierSigma
	}
	if m.MassSigma < 0 || m.MaxMass < 0 || m.BranchingSigma < 0 || m.MultiplierSigma < 0 {
		return fmt.Errorf("mutator sigmas and max_mass must be >= 0")
	}
	if m.MaxMass <= protomodel.DefaultLSPMass {
		return fmt.Errorf("mutator.max_mass must exceed the LSP mass (%g GeV), got %g", protomodel.DefaultLSPMass, m.MaxMass)
	}
	return nil
}

func isMutationKind(name string) bool {
	for _, k := range mutate.Kinds {
		if string(k) == name {
			return true
		}
	}
	return false
}

func (c *Config) validateHiscore() error {
	if c.Hiscore == nil {
		c.Hiscore = &HiscoreConfig{}
	}
	h := c.Hiscore
	if h.MaxEntries == 0 {
		h.MaxEntries = 10
	}
	if h.TrimTop == 0 {
		h.TrimTop = 3
	}
	if h.MaxLoss == 0 {
		h.MaxLoss = 0.01
	}
	if h.LockTimeout == "" {
		h.LockTimeout = "30s"
	}
	if h.MaxEntries < 1 {
		return fmt.Errorf("hiscore.max_entries must be >= 1, got %d", h.MaxEntries)
	}
	if h.TrimTop < 0 {
		return fmt.Errorf("hiscore.trim_top must be >= 0, got %d", h.TrimTop)
	}
	if h.MaxLoss < 0 || h.MaxLoss >= 1 {
		return fmt.Errorf("hiscore.max_loss must be in [0, 1), got %g", h.MaxLoss)
	}
	d, err := parsePositiveDuration("hiscore.lock_timeout", h.LockTimeout)
	if err != nil {
		return err
	}
	h.lockTimeout = d
	return nil
}

func (c *Config) validateScheduler() error {
	if c.Scheduler == nil {
		c.Scheduler = &SchedulerConfig{}
	}
	s := c.Scheduler
	if s.Kind == "" {
		s.Kind = SchedulerLocal
	}
	switch s.Kind {
	case SchedulerLocal:
		if s.WorkerBinary == "" {
			s.WorkerBinary = "walker"
		}
	case SchedulerDocker:
		if s.Image == "" {
			return fmt.Errorf("scheduler.image is required for the docker scheduler")
		}
	default:
		return fmt.Errorf("invalid scheduler.kind: %s (must be 'local' or 'docker')", s.Kind)
	}
	if s.WorkersPerJob < 0 {
		return fmt.Errorf("scheduler.workers_per_job must be >= 0, got %d", s.WorkersPerJob)
	}
	return nil
}

func parsePositiveDuration(field, value string) (time.Duration, error) {
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s '%s': %w", field, value, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s must be positive, got %s", field, value)
	}
	return d, nil
}

// ResolvePath returns p relative to the directory of the loaded config file.
// Absolute paths are returned unchanged.
func (c *Config) ResolvePath(p string) string {
	if p == "" || filepath.IsAbs(p) || c.baseDir == "" {
		return p
	}
	return filepath.Join(c.baseDir, p)
}

// CatalogPath returns the resolved catalog path.
func (c *Config) CatalogPath() string {
	return c.ResolvePath(c.Catalog)
}

// PolicyPath returns the resolved policy path, or "" when none is configured.
func (c *Config) PolicyPath() string {
	return c.ResolvePath(c.Policy)
}

// RunDir returns the resolved output directory of the run.
func (c *Config) RunDir() string {
	return c.ResolvePath(c.OutputDir)
}

// Load reads and validates pmodel.yml from the specified path
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config path: %w", err)
	}
	config.baseDir = filepath.Dir(abs)

	return &config, nil
}
