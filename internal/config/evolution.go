package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/banshee-data/bundle.evolution/internal/evolution"
)

// DefaultConfigPath is the path to the canonical sweep defaults file.
const DefaultConfigPath = "config/evolution.defaults.json"

// maxFileSize bounds config files read from disk.
const maxFileSize = 1 * 1024 * 1024

// EvolutionConfig holds the sweep parameters. Every field is optional; the
// Get* methods supply defaults for fields left out of a file, so partial
// configs are safe.
type EvolutionConfig struct {
	LambdaFactor    *float64 `json:"lambda_factor,omitempty" yaml:"lambda_factor,omitempty" validate:"omitempty,gte=0"`
	MinEps          *float64 `json:"min_eps,omitempty" yaml:"min_eps,omitempty" validate:"omitempty,gte=0"`
	MaxEps          *float64 `json:"max_eps,omitempty" yaml:"max_eps,omitempty" validate:"omitempty,gte=0"`
	Increment       *string  `json:"increment,omitempty" yaml:"increment,omitempty" validate:"omitempty,oneof=additive multiplicative"`
	Step            *float64 `json:"step,omitempty" yaml:"step,omitempty" validate:"omitempty,gt=0"`
	IgnoreDirection *bool    `json:"ignore_direction,omitempty" yaml:"ignore_direction,omitempty"`
	Workers         *int     `json:"workers,omitempty" yaml:"workers,omitempty" validate:"omitempty,gte=1"`
	Parallel        *bool    `json:"parallel,omitempty" yaml:"parallel,omitempty"`
	Refine          *bool    `json:"refine,omitempty" yaml:"refine,omitempty"`
	RTreeMaxEntries *int     `json:"rtree_max_entries,omitempty" yaml:"rtree_max_entries,omitempty" validate:"omitempty,gte=2"`
}

func ptrFloat64(v float64) *float64 { return &v }
func ptrBool(v bool) *bool          { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }

// EmptyEvolutionConfig returns a config with every field unset.
func EmptyEvolutionConfig() *EvolutionConfig {
	return &EvolutionConfig{}
}

// DefaultEvolutionConfig returns a config with every field set to its
// default.
func DefaultEvolutionConfig() *EvolutionConfig {
	empty := EmptyEvolutionConfig()
	return &EvolutionConfig{
		LambdaFactor:    ptrFloat64(empty.GetLambdaFactor()),
		MinEps:          ptrFloat64(empty.GetMinEps()),
		MaxEps:          ptrFloat64(empty.GetMaxEps()),
		Increment:       ptrString(empty.GetIncrement()),
		Step:            ptrFloat64(empty.GetStep()),
		IgnoreDirection: ptrBool(empty.GetIgnoreDirection()),
		Workers:         ptrInt(empty.GetWorkers()),
		Parallel:        ptrBool(empty.GetParallel()),
		Refine:          ptrBool(empty.GetRefine()),
		RTreeMaxEntries: ptrInt(empty.GetRTreeMaxEntries()),
	}
}

// LoadEvolutionConfig loads a config from a .json, .yaml or .yml file of at
// most 1MB.
func LoadEvolutionConfig(path string) (*EvolutionConfig, error) {
	cleanPath := filepath.Clean(path)
	ext := strings.ToLower(filepath.Ext(cleanPath))
	if ext != ".json" && ext != ".yaml" && ext != ".yml" {
		return nil, fmt.Errorf("config file must have .json, .yaml or .yml extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyEvolutionConfig()
	if ext == ".json" {
		err = json.Unmarshal(data, cfg)
	} else {
		err = yaml.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", strings.TrimPrefix(ext, "."), err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// MustLoadDefaultConfig loads DefaultConfigPath from the current directory or
// one of its parents. Panics if the file cannot be loaded; intended for tests
// and the CLI's fallback.
func MustLoadDefaultConfig() *EvolutionConfig {
	candidates := []string{
		DefaultConfigPath,
		"../../" + DefaultConfigPath,    // from internal/config/
		"../../../" + DefaultConfigPath, // from cmd/bundles/ subpackages
	}
	for _, path := range candidates {
		if cfg, err := LoadEvolutionConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run from repository root")
}

// Validate checks field ranges and the combinations the sweep needs.
func (c *EvolutionConfig) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return err
	}
	if c.GetMaxEps() < c.GetMinEps() {
		return fmt.Errorf("max_eps %g must not be below min_eps %g", c.GetMaxEps(), c.GetMinEps())
	}
	if c.GetIncrement() == string(evolution.Multiplicative) && c.GetStep() <= 1 {
		return fmt.Errorf("multiplicative step must be greater than 1, got %g", c.GetStep())
	}
	return nil
}

// GetLambdaFactor returns lambda_factor or the default.
func (c *EvolutionConfig) GetLambdaFactor() float64 {
	if c.LambdaFactor == nil {
		return 0.25
	}
	return *c.LambdaFactor
}

// GetMinEps returns min_eps or the default.
func (c *EvolutionConfig) GetMinEps() float64 {
	if c.MinEps == nil {
		return 1
	}
	return *c.MinEps
}

// GetMaxEps returns max_eps or the default.
func (c *EvolutionConfig) GetMaxEps() float64 {
	if c.MaxEps == nil {
		return 64
	}
	return *c.MaxEps
}

// GetIncrement returns the increment kind or the default.
func (c *EvolutionConfig) GetIncrement() string {
	if c.Increment == nil || *c.Increment == "" {
		return string(evolution.Multiplicative)
	}
	return *c.Increment
}

// GetStep returns step or the default for the increment kind.
func (c *EvolutionConfig) GetStep() float64 {
	if c.Step == nil {
		if c.GetIncrement() == string(evolution.Additive) {
			return 1
		}
		return 2
	}
	return *c.Step
}

// GetIgnoreDirection returns ignore_direction or the default.
func (c *EvolutionConfig) GetIgnoreDirection() bool {
	if c.IgnoreDirection == nil {
		return false
	}
	return *c.IgnoreDirection
}

// GetWorkers returns workers or the number of CPUs.
func (c *EvolutionConfig) GetWorkers() int {
	if c.Workers == nil {
		return runtime.NumCPU()
	}
	return *c.Workers
}

// GetParallel returns parallel or the default.
func (c *EvolutionConfig) GetParallel() bool {
	if c.Parallel == nil {
		return false
	}
	return *c.Parallel
}

// GetRefine returns refine or the default.
func (c *EvolutionConfig) GetRefine() bool {
	if c.Refine == nil {
		return true
	}
	return *c.Refine
}

// GetRTreeMaxEntries returns rtree_max_entries or the default.
func (c *EvolutionConfig) GetRTreeMaxEntries() int {
	if c.RTreeMaxEntries == nil {
		return 16
	}
	return *c.RTreeMaxEntries
}

// ToBuilderConfig converts c into the sweep configuration.
func (c *EvolutionConfig) ToBuilderConfig() evolution.Config {
	return evolution.Config{
		LambdaFactor:      c.GetLambdaFactor(),
		MinEps:            c.GetMinEps(),
		MaxEps:            c.GetMaxEps(),
		Increment:         evolution.Increment{Kind: evolution.IncrementKind(c.GetIncrement()), Step: c.GetStep()},
		IgnoreDirection:   c.GetIgnoreDirection(),
		Workers:           c.GetWorkers(),
		Parallel:          c.GetParallel(),
		DisableRefinement: !c.GetRefine(),
	}
}
