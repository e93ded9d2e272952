// Package config loads wayfinder's YAML configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all wayfinder configuration.
type Config struct {
	Store     StoreConfig     `yaml:"store"`
	Learner   LearnerConfig   `yaml:"learner"`
	Apportion ApportionConfig `yaml:"apportion"`
	Quality   QualityConfig   `yaml:"quality"`
	Links     LinksConfig     `yaml:"links"`
	Traversal TraversalConfig `yaml:"traversal"`
	Planner   PlannerConfig   `yaml:"planner"`
	Engine    EngineConfig    `yaml:"engine"`
	Log       LogConfig       `yaml:"log"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// StoreConfig configures persistence.
type StoreConfig struct {
	DataDir string `yaml:"data_dir"`
	// Disabled keeps the graph in memory only.
	Disabled bool `yaml:"disabled"`
}

// LearnerConfig configures the weight learner.
type LearnerConfig struct {
	Alpha            float64       `yaml:"alpha"`
	MinCohort        int           `yaml:"min_cohort"`
	FirstRate        float64       `yaml:"first_rate"`
	MinRate          float64       `yaml:"min_rate"`
	MaxRate          float64       `yaml:"max_rate"`
	DefaultTau       time.Duration `yaml:"default_tau"`
	TauWindow        int           `yaml:"tau_window"`
	TauMinSamples    int           `yaml:"tau_min_samples"`
	BaselineInterval time.Duration `yaml:"baseline_interval"`
}

// ApportionConfig configures seat apportionment.
type ApportionConfig struct {
	TotalSeats int `yaml:"total_seats"`
}

// QualityConfig configures formation quality scoring.
type QualityConfig struct {
	EvidenceDefault float64             `yaml:"evidence_default"`
	NoveltyDefault  float64             `yaml:"novelty_default"`
	LookupTimeout   time.Duration       `yaml:"lookup_timeout"`
	MinFieldLength  int                 `yaml:"min_field_length"`
	Schemas         map[string][]string `yaml:"schemas,omitempty"` // merged over the built-in schemas
}

// LinksConfig configures link-strength evolution.
type LinksConfig struct {
	HebbianRate          float64       `yaml:"hebbian_rate"`
	HebbianGate          int           `yaml:"hebbian_gate"`
	HebbianWindow        time.Duration `yaml:"hebbian_window"`
	ValidationRate       float64       `yaml:"validation_rate"`
	ValidationConfidence float64       `yaml:"validation_confidence"`
	ConfirmationRate     float64       `yaml:"confirmation_rate"`
	DecayRate            float64       `yaml:"decay_rate"`
	DecayAfter           time.Duration `yaml:"decay_after"`
	InitialStrength      float64       `yaml:"initial_strength"`
	DecayInterval        time.Duration `yaml:"decay_interval"`
}

// TraversalConfig configures the selector.
type TraversalConfig struct {
	Epsilon            float64 `yaml:"epsilon"`
	SatisfiedThreshold float64 `yaml:"satisfied_threshold"`
	MaxActivation      float64 `yaml:"max_activation"`
	MinActivationCost  float64 `yaml:"min_activation_cost"`
	CompetitionRate    float64 `yaml:"competition_rate"`
	RelevanceUseful    float64 `yaml:"relevance_useful"`
	RelevanceUnhelpful float64 `yaml:"relevance_unhelpful"`
	SpikeThreshold     float64 `yaml:"spike_threshold"`
	CompletenessGain   float64 `yaml:"completeness_gain"`
	EmotionRate        float64 `yaml:"emotion_rate"`
	Seed               uint64  `yaml:"seed"` // 0 seeds from the clock
	// TickInterval is how often staged activation is published.
	TickInterval time.Duration `yaml:"tick_interval"`
}

// PlannerConfig configures multi-hop plans.
type PlannerConfig struct {
	Capacity float64 `yaml:"capacity"`
	MaxHops  int     `yaml:"max_hops"`
}

// EngineConfig configures the single-writer queue.
type EngineConfig struct {
	FlushInterval time.Duration `yaml:"flush_interval"`
	MaxBatch      int           `yaml:"max_batch"`
	QueueSize     int           `yaml:"queue_size"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level       string `yaml:"level"` // debug, info, warn, error
	Development bool   `yaml:"development"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Addr string `yaml:"addr"` // empty disables /metrics
}

// DefaultDir returns ~/.wayfinder.
func DefaultDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".wayfinder")
}

// DefaultPath returns the default config file location.
func DefaultPath() string {
	return filepath.Join(DefaultDir(), "config.yaml")
}

// DefaultConfig returns the built-in configuration.
func DefaultConfig() *Config {
	return &Config{
		Store: StoreConfig{DataDir: DefaultDir()},
		Learner: LearnerConfig{
			Alpha:            0.1,
			MinCohort:        3,
			FirstRate:        0.15,
			MinRate:          0.01,
			MaxRate:          0.95,
			DefaultTau:       time.Hour,
			TauWindow:        32,
			TauMinSamples:    8,
			BaselineInterval: 5 * time.Minute,
		},
		Apportion: ApportionConfig{TotalSeats: 100},
		Quality: QualityConfig{
			EvidenceDefault: 0.5,
			NoveltyDefault:  0.7,
			LookupTimeout:   250 * time.Millisecond,
			MinFieldLength:  3,
		},
		Links: LinksConfig{
			HebbianRate:          0.05,
			HebbianGate:          5,
			HebbianWindow:        10 * time.Minute,
			ValidationRate:       0.2,
			ValidationConfidence: 0.8,
			ConfirmationRate:     0.3,
			DecayRate:            0.01,
			DecayAfter:           720 * time.Hour,
			InitialStrength:      0.5,
			DecayInterval:        24 * time.Hour,
		},
		Traversal: TraversalConfig{
			Epsilon:            0.2,
			SatisfiedThreshold: 0.9,
			MaxActivation:      1.0,
			MinActivationCost:  0.1,
			CompetitionRate:    0.1,
			RelevanceUseful:    0.7,
			RelevanceUnhelpful: 0.3,
			SpikeThreshold:     0.2,
			CompletenessGain:   0.25,
			EmotionRate:        0.2,
			TickInterval:       time.Second,
		},
		Planner: PlannerConfig{Capacity: 10, MaxHops: 16},
		Engine: EngineConfig{
			FlushInterval: time.Second,
			MaxBatch:      256,
			QueueSize:     1024,
		},
		Log: LogConfig{Level: "info"},
	}
}

// Load loads configuration from a YAML file. A missing file yields the
// defaults. Environment overrides are applied last.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	cfg.applyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the configuration as YAML.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("config: create dir: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("config: marshal: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("config: write %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnvOverrides() {
	if dir := os.Getenv("WAYFINDER_DATA_DIR"); dir != "" {
		c.Store.DataDir = dir
	}
	if lvl := os.Getenv("WAYFINDER_LOG_LEVEL"); lvl != "" {
		c.Log.Level = lvl
	}
	if addr := os.Getenv("WAYFINDER_METRICS_ADDR"); addr != "" {
		c.Metrics.Addr = addr
	}
}

// Validate rejects out-of-range values.
func (c *Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}
	check(c.Store.Disabled || c.Store.DataDir != "", "store.data_dir is required")

	l := c.Learner
	check(l.Alpha > 0 && l.Alpha <= 1, "learner.alpha %v not in (0,1]", l.Alpha)
	check(l.MinCohort >= 1, "learner.min_cohort must be positive")
	check(l.MinRate > 0 && l.MinRate <= l.MaxRate && l.MaxRate <= 1, "learner rates must satisfy 0 < min_rate ≤ max_rate ≤ 1")
	check(l.FirstRate > 0 && l.FirstRate <= 1, "learner.first_rate %v not in (0,1]", l.FirstRate)
	check(l.DefaultTau > 0, "learner.default_tau must be positive")
	check(l.TauWindow > 0 && l.TauMinSamples > 0, "learner tau window and samples must be positive")
	check(l.BaselineInterval > 0, "learner.baseline_interval must be positive")

	check(c.Apportion.TotalSeats > 0, "apportion.total_seats must be positive")

	q := c.Quality
	check(q.EvidenceDefault >= 0 && q.EvidenceDefault <= 1, "quality.evidence_default not in [0,1]")
	check(q.NoveltyDefault >= 0 && q.NoveltyDefault <= 1, "quality.novelty_default not in [0,1]")
	check(q.LookupTimeout > 0, "quality.lookup_timeout must be positive")

	k := c.Links
	check(k.InitialStrength >= 0 && k.InitialStrength <= 1, "links.initial_strength not in [0,1]")
	check(k.HebbianGate > 0, "links.hebbian_gate must be positive")
	check(k.DecayInterval > 0, "links.decay_interval must be positive")

	t := c.Traversal
	check(t.Epsilon >= 0 && t.Epsilon <= 1, "traversal.epsilon %v not in [0,1]", t.Epsilon)
	check(t.SatisfiedThreshold > 0 && t.SatisfiedThreshold <= 1, "traversal.satisfied_threshold not in (0,1]")
	check(t.MaxActivation > 0, "traversal.max_activation must be positive")
	check(t.MinActivationCost > 0, "traversal.min_activation_cost must be positive")
	check(t.CompletenessGain > 0 && t.CompletenessGain <= 1, "traversal.completeness_gain not in (0,1]")
	check(t.TickInterval > 0, "traversal.tick_interval must be positive")

	check(c.Planner.Capacity > 0, "planner.capacity must be positive")

	e := c.Engine
	check(e.FlushInterval > 0, "engine.flush_interval must be positive")
	check(e.MaxBatch > 0 && e.QueueSize > 0, "engine.max_batch and queue_size must be positive")

	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log.level %q not one of debug, info, warn, error", c.Log.Level))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}
