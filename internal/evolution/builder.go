// Package evolution sweeps epsilon over a set of trajectories, tracks the
// bundles found at each epsilon as persistent classes, and refines the sweep
// to recover bundles that live between coarse samples.
package evolution

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/banshee-data/bundle.evolution/internal/bundle"
	"github.com/banshee-data/bundle.evolution/internal/monitoring"
	"github.com/banshee-data/bundle.evolution/internal/timeutil"
	"github.com/banshee-data/bundle.evolution/internal/trajectory"
)

// ErrInvalidConfig wraps every configuration rejected by NewBuilder.
var ErrInvalidConfig = errors.New("invalid evolution config")

// Config controls one sweep.
type Config struct {
	// LambdaFactor scales epsilon into the containment slack lambda.
	LambdaFactor float64   `json:"lambda_factor"`
	MinEps       float64   `json:"min_eps"`
	MaxEps       float64   `json:"max_eps"`
	Increment    Increment `json:"increment"`
	// IgnoreDirection lets trajectories bundle with reversed copies.
	IgnoreDirection bool `json:"ignore_direction"`
	// Workers is the thread budget; parallel mode runs Workers-1 tasks at once.
	Workers int `json:"workers"`
	// Parallel samples coarse epsilons concurrently and skips refinement.
	Parallel bool `json:"parallel"`
	// DisableRefinement turns off the refinement search in sequential mode.
	DisableRefinement bool `json:"disable_refinement"`
}

// Validate checks the configuration before any computation starts.
func (c Config) Validate() error {
	if err := c.Increment.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	switch {
	case math.IsNaN(c.MinEps) || math.IsNaN(c.MaxEps) || math.IsInf(c.MaxEps, 0):
		return fmt.Errorf("%w: epsilon range must be finite", ErrInvalidConfig)
	case c.MinEps < 0:
		return fmt.Errorf("%w: min epsilon must be non-negative, got %g", ErrInvalidConfig, c.MinEps)
	case c.MaxEps < c.MinEps:
		return fmt.Errorf("%w: max epsilon %g below min epsilon %g", ErrInvalidConfig, c.MaxEps, c.MinEps)
	case c.LambdaFactor < 0 || math.IsNaN(c.LambdaFactor):
		return fmt.Errorf("%w: lambda factor must be non-negative, got %g", ErrInvalidConfig, c.LambdaFactor)
	case c.Workers < 0:
		return fmt.Errorf("%w: workers must be non-negative, got %d", ErrInvalidConfig, c.Workers)
	}
	return nil
}

func (c Config) params(eps float64) bundle.Params {
	return bundle.Params{Epsilon: eps, Lambda: eps * c.LambdaFactor, IgnoreDirection: c.IgnoreDirection}
}

// Status of a builder run.
type Status string

const (
	StatusIdle     Status = "idle"
	StatusRunning  Status = "running"
	StatusComplete Status = "complete"
	StatusAborted  Status = "aborted"
)

// BuildState reports progress of the current or last run.
type BuildState struct {
	Status         Status     `json:"status"`
	Mode           string     `json:"mode"`
	StartedAt      *time.Time `json:"started_at,omitempty"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
	CurrentEpsilon float64    `json:"current_epsilon"`
	TotalSamples   int        `json:"total_samples"`
	Samples        int        `json:"samples"`
	RefinedSamples int        `json:"refined_samples"`
	Classes        int        `json:"classes"`
}

// Builder runs epsilon sweeps. Caches live for one Run and are never shared
// between builders.
type Builder struct {
	cfg     Config
	gen     bundle.Generator
	initial *Diagram
	clock   timeutil.Clock

	mu      sync.RWMutex
	state   BuildState
	cancel  context.CancelFunc
	aborted atomic.Bool
}

// Option configures a Builder.
type Option func(*Builder)

// WithInitialDiagram makes Run extend d in place, resuming at the epsilon
// following d's last state.
func WithInitialDiagram(d *Diagram) Option {
	return func(b *Builder) { b.initial = d }
}

// WithClock sets the clock used for progress timestamps.
func WithClock(c timeutil.Clock) Option {
	return func(b *Builder) { b.clock = c }
}

// NewBuilder validates cfg and returns a builder using gen.
func NewBuilder(cfg Config, gen bundle.Generator, opts ...Option) (*Builder, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if gen == nil {
		return nil, fmt.Errorf("%w: bundle generator is required", ErrInvalidConfig)
	}
	b := &Builder{cfg: cfg, gen: gen, clock: timeutil.RealClock{}, state: BuildState{Status: StatusIdle}}
	for _, opt := range opts {
		opt(b)
	}
	return b, nil
}

// Config returns the validated configuration.
func (b *Builder) Config() Config { return b.cfg }

// State returns a copy of the progress state.
func (b *Builder) State() BuildState {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.state
}

// Abort stops a running sweep. Run returns the diagram built so far.
func (b *Builder) Abort() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.aborted.Store(true)
	if b.cancel != nil {
		b.cancel()
	}
}

// Aborted reports whether the last run stopped early, either through Abort
// or because its context was cancelled.
func (b *Builder) Aborted() bool { return b.aborted.Load() }

func (b *Builder) updateState(fn func(s *BuildState)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	fn(&b.state)
}

// Run sweeps epsilon over trajectories and returns the evolution diagram. An
// aborted run returns the partial diagram; Aborted reports it.
func (b *Builder) Run(ctx context.Context, trajectories []*trajectory.Trajectory) *Diagram {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	b.mu.Lock()
	b.cancel = cancel
	b.mu.Unlock()
	b.aborted.Store(false)

	d := b.initial
	if d == nil {
		d = NewDiagram()
	}
	start := b.cfg.MinEps
	if last, ok := d.Last(); ok {
		start = advance(b.cfg.Increment, last.Epsilon, b.cfg.MaxEps)
	}
	schedule := Schedule(b.cfg.Increment, start, b.cfg.MaxEps)

	mode := "sequential"
	if b.cfg.Parallel {
		mode = "parallel"
	}
	now := b.clock.Now()
	b.updateState(func(s *BuildState) {
		*s = BuildState{Status: StatusRunning, Mode: mode, StartedAt: &now, TotalSamples: len(schedule)}
	})
	monitoring.Statusf(monitoring.TagEvolution, "%s sweep over %d trajectories, %d samples from eps=%g",
		mode, len(trajectories), len(schedule), start)

	fold := newFolder(d, b.cfg.LambdaFactor)
	if b.cfg.Parallel {
		b.runParallel(runCtx, trajectories, schedule, fold)
	} else {
		s := newSweep(runCtx, b, trajectories)
		s.run(schedule, d)
		s.fold(fold)
	}

	if runCtx.Err() != nil {
		b.aborted.Store(true)
	}
	done := b.clock.Now()
	status := StatusComplete
	if b.Aborted() {
		status = StatusAborted
	}
	b.updateState(func(s *BuildState) {
		s.Status = status
		s.CompletedAt = &done
		s.Classes = d.NumClasses()
	})
	b.mu.Lock()
	b.cancel = nil
	b.mu.Unlock()

	monitoring.Statusf(monitoring.TagEvolution, "sweep %s in %v: %d states, %d classes",
		status, done.Sub(now), len(d.epsilons), d.NumClasses())
	return d
}
