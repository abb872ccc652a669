package evolution

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/bundle.evolution/internal/bundle"
	"github.com/banshee-data/bundle.evolution/internal/monitoring"
	"github.com/banshee-data/bundle.evolution/internal/timeutil"
	"github.com/banshee-data/bundle.evolution/internal/trajectory"
)

func TestMain(m *testing.M) {
	monitoring.SetLogger(nil)
	m.Run()
}

func additive(min, max, step float64) Config {
	return Config{MinEps: min, MaxEps: max, Increment: Increment{Kind: Additive, Step: step}, Workers: 3}
}

func TestNewBuilderRejectsInvalidConfig(t *testing.T) {
	gen := bundle.FreeSpaceGenerator{}

	cfg := additive(1, 10, 1)
	cfg.Increment = Increment{Kind: Multiplicative, Step: 1}
	_, err := NewBuilder(cfg, gen)
	assert.True(t, errors.Is(err, ErrInvalidConfig))
	assert.True(t, errors.Is(err, ErrInvalidIncrement))

	for name, cfg := range map[string]Config{
		"reversed range":  additive(5, 1, 1),
		"negative min":    additive(-1, 1, 1),
		"negative lambda": {MinEps: 0, MaxEps: 1, Increment: Increment{Kind: Additive, Step: 1}, LambdaFactor: -0.1},
		"zero step":       additive(0, 1, 0),
	} {
		_, err := NewBuilder(cfg, gen)
		assert.True(t, errors.Is(err, ErrInvalidConfig), name)
	}

	_, err = NewBuilder(additive(1, 2, 1), nil)
	assert.True(t, errors.Is(err, ErrInvalidConfig))
}

func TestRunEmptyTrajectorySet(t *testing.T) {
	b, err := NewBuilder(additive(1, 10, 1), bundle.FreeSpaceGenerator{})
	require.NoError(t, err)

	d := b.Run(context.Background(), nil)
	assert.Zero(t, d.NumClasses())
	assert.False(t, b.Aborted())
	assert.Equal(t, StatusComplete, b.State().Status)
}

func TestRunSingleTrajectory(t *testing.T) {
	tr := trajectory.FromXY("t", 0, 0, 1, 0, 2, 1, 3, 1)
	b, err := NewBuilder(additive(1, 10, 1), bundle.FreeSpaceGenerator{})
	require.NoError(t, err)

	d := b.Run(context.Background(), []*trajectory.Trajectory{tr})
	assert.Equal(t, []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}, d.Epsilons())
	assert.Equal(t, map[int]float64{0: 1}, births(d))
	_, merged := d.MergeMoment(0)
	assert.False(t, merged)

	for _, e := range d.Epsilons() {
		s, _ := d.State(e)
		assert.Equal(t, []string{"{t[0,3]}"}, stateKeys(s), "eps %g", e)
	}
}

func TestRunIdenticalTrajectories(t *testing.T) {
	trajs := []*trajectory.Trajectory{line("p", 0, 5), line("q", 0, 5)}
	b, err := NewBuilder(additive(1, 10, 1), bundle.FreeSpaceGenerator{})
	require.NoError(t, err)

	d := b.Run(context.Background(), trajs)
	require.Equal(t, []int{0}, d.Classes())
	best, ok := d.BestEpsilon(0)
	require.True(t, ok)
	bd, ok := d.BundleUpToLevel(0, best)
	require.True(t, ok)
	assert.Equal(t, 2, bd.Size())
}

func TestRunClassInvariants(t *testing.T) {
	trajs := []*trajectory.Trajectory{line("a", 0, 5), line("b", 1, 5), line("c", 2.2, 5)}
	b, err := NewBuilder(additive(0.5, 3, 0.5), bundle.FreeSpaceGenerator{MaxEntries: 4})
	require.NoError(t, err)

	d := b.Run(context.Background(), trajs)
	require.NotZero(t, d.NumClasses())

	prevBirth := 0.0
	for _, c := range d.Classes() {
		birth, ok := d.BirthMoment(c)
		require.True(t, ok)
		assert.GreaterOrEqual(t, birth, prevBirth, "class %d born out of order", c)
		prevBirth = birth
		if m, ok := d.MergeMoment(c); ok {
			assert.Greater(t, m, birth, "class %d", c)
			into, _ := d.MergedInto(c)
			assert.NotEqual(t, c, into)
		}
	}
	for _, e := range d.Epsilons() {
		s, _ := d.State(e)
		for _, c := range s.Classes() {
			birth, _ := d.BirthMoment(c)
			assert.LessOrEqual(t, birth, e)
		}
	}

	last, ok := d.Last()
	require.True(t, ok)
	assert.Equal(t, []string{"{a[0,4];b[0,4];c[0,4]}"}, stateKeys(last))
}

// refinementScenario produces X up to 2.4, a short lived T up to 2.6 and a
// three member U from then on. Coarse samples at 2 and 4 never see T.
func refinementScenario() bundle.Generator {
	x := bundle.New(sub(trA, 0, 2), sub(trB, 0, 2))
	tb := bundle.New(sub(trA, 0, 1), sub(trB, 0, 1))
	u := bundle.New(sub(trA, 0, 9), sub(trB, 0, 9), sub(trC, 0, 9))
	return scripted(func(eps float64) []*bundle.Bundle {
		switch {
		case eps <= 2.4:
			return []*bundle.Bundle{x}
		case eps < 2.6:
			return []*bundle.Bundle{tb}
		default:
			return []*bundle.Bundle{u}
		}
	})
}

func TestRunRefinementFindsShortLivedClass(t *testing.T) {
	b, err := NewBuilder(additive(2, 8, 2), refinementScenario())
	require.NoError(t, err)

	d := b.Run(context.Background(), nil)
	assert.Equal(t, []float64{2, 2.5, 4, 6, 8}, d.Epsilons())
	assert.Equal(t, map[int]float64{0: 2, 1: 2.5, 2: 4}, births(d))

	m, ok := d.MergeMoment(1)
	require.True(t, ok)
	assert.Equal(t, 4.0, m)
	into, _ := d.MergedInto(1)
	assert.Equal(t, 2, into)

	_, ok = d.MergeMoment(0)
	assert.False(t, ok, "nothing at 2.5 covers X")

	st := b.State()
	assert.Equal(t, 4, st.Samples)
	assert.Equal(t, 3, st.RefinedSamples, "2.5, 2.75 and 3 were probed")
	assert.Equal(t, 3, st.Classes)
	assert.Equal(t, "sequential", st.Mode)
}

func TestRunRefinementKeepsUnrelatedClasses(t *testing.T) {
	// y never changes; the bundle on c grows with epsilon, so it continues
	// by containment rather than equality.
	y := bundle.New(sub(trD, 0, 9))
	inner := refinementScenario()
	gen := bundle.GeneratorFunc(func(ctx context.Context, trajs []*trajectory.Trajectory, p bundle.Params) (bundle.Result, error) {
		res, err := inner.Generate(ctx, trajs, p)
		res.Bundles.Add(y)
		res.Bundles.Add(bundle.New(sub(trC, 0, 4+p.Epsilon/2)))
		return res, err
	})
	b, err := NewBuilder(additive(2, 8, 2), gen)
	require.NoError(t, err)

	d := b.Run(context.Background(), nil)
	assert.Equal(t, map[int]float64{0: 2, 1: 2, 2: 2, 3: 2.5, 4: 4}, births(d))
	for _, c := range []int{1, 2} {
		_, merged := d.MergeMoment(c)
		assert.False(t, merged, "the refined state at 2.5 must not retire class %d", c)
	}
	into, ok := d.MergedInto(3)
	require.True(t, ok)
	assert.Equal(t, 4, into)

	s, ok := d.State(2.5)
	require.True(t, ok)
	assert.Equal(t, []int{1, 2, 3}, s.Classes())
	grown, ok := s.Bundle(1)
	require.True(t, ok)
	assert.Equal(t, "{c[0,5.25]}", grown.Key())

	last, ok := d.Last()
	require.True(t, ok)
	assert.Equal(t, []int{1, 2, 4}, last.Classes())
}

func TestRunWithoutRefinement(t *testing.T) {
	cfg := additive(2, 8, 2)
	cfg.DisableRefinement = true
	b, err := NewBuilder(cfg, refinementScenario())
	require.NoError(t, err)

	d := b.Run(context.Background(), nil)
	assert.Equal(t, []float64{2, 4, 6, 8}, d.Epsilons())
	assert.Equal(t, map[int]float64{0: 4}, births(d))
	assert.Equal(t, 0, b.State().RefinedSamples)
}

func TestRunMultiplicative(t *testing.T) {
	x := bundle.New(sub(trA, 0, 9))
	cfg := Config{MinEps: 0.5, MaxEps: 10, Increment: Increment{Kind: Multiplicative, Step: 2}}
	b, err := NewBuilder(cfg, scripted(func(float64) []*bundle.Bundle { return []*bundle.Bundle{x} }))
	require.NoError(t, err)

	d := b.Run(context.Background(), nil)
	assert.Equal(t, []float64{0.5, 2, 4, 8, 10}, d.Epsilons())
	assert.Equal(t, map[int]float64{0: 0.5}, births(d))
}

func TestRunAbortReturnsPartialDiagram(t *testing.T) {
	x := bundle.New(sub(trA, 0, 9))
	var b *Builder
	gen := scripted(func(eps float64) []*bundle.Bundle {
		if eps == 3 {
			b.Abort()
		}
		return []*bundle.Bundle{x}
	})
	b, err := NewBuilder(additive(1, 5, 1), gen)
	require.NoError(t, err)

	d := b.Run(context.Background(), nil)
	assert.True(t, b.Aborted())
	assert.Equal(t, StatusAborted, b.State().Status)
	assert.Equal(t, []float64{1, 2}, d.Epsilons())
	assert.Equal(t, map[int]float64{0: 1}, births(d))
}

func TestRunCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	for _, parallel := range []bool{false, true} {
		cfg := additive(1, 5, 1)
		cfg.Parallel = parallel
		b, err := NewBuilder(cfg, bundle.FreeSpaceGenerator{})
		require.NoError(t, err)

		d := b.Run(ctx, []*trajectory.Trajectory{trA})
		assert.True(t, d.IsEmpty(), "parallel=%v", parallel)
		assert.True(t, b.Aborted(), "parallel=%v", parallel)
	}
}

func TestRunExtendsInitialDiagram(t *testing.T) {
	x := bundle.New(sub(trA, 0, 9))
	gen := scripted(func(float64) []*bundle.Bundle { return []*bundle.Bundle{x} })

	b, err := NewBuilder(additive(1, 3, 1), gen)
	require.NoError(t, err)
	d := b.Run(context.Background(), nil)
	require.Equal(t, []float64{1, 2, 3}, d.Epsilons())

	ext, err := NewBuilder(additive(1, 5, 1), gen, WithInitialDiagram(d))
	require.NoError(t, err)
	got := ext.Run(context.Background(), nil)
	assert.Same(t, d, got)
	assert.Equal(t, []float64{1, 2, 3, 4, 5}, got.Epsilons())
	assert.Equal(t, []int{0}, got.Classes())
	assert.Equal(t, 2, ext.State().TotalSamples)
}

func TestRunParallelMatchesSequential(t *testing.T) {
	trajs := []*trajectory.Trajectory{line("a", 0, 5), line("b", 1, 5), line("c", 2.2, 5)}
	seqCfg := additive(0.5, 3, 0.5)
	seqCfg.DisableRefinement = true
	parCfg := seqCfg
	parCfg.Parallel = true

	seq, err := NewBuilder(seqCfg, bundle.FreeSpaceGenerator{})
	require.NoError(t, err)
	par, err := NewBuilder(parCfg, bundle.FreeSpaceGenerator{})
	require.NoError(t, err)

	ds := seq.Run(context.Background(), trajs)
	dp := par.Run(context.Background(), trajs)

	assert.Equal(t, ds.Epsilons(), dp.Epsilons())
	last, _ := dp.Last()
	assert.Equal(t, []string{"{a[0,4];b[0,4];c[0,4]}"}, stateKeys(last))
	assert.Equal(t, "parallel", par.State().Mode)
	assert.Equal(t, 6, par.State().Samples)
}

func TestRunFinalSampleKeepsNewBundles(t *testing.T) {
	trajs := []*trajectory.Trajectory{line("a", 0, 5), line("b", 9.5, 5)}
	run := func(cfg Config) *Diagram {
		b, err := NewBuilder(cfg, bundle.FreeSpaceGenerator{})
		require.NoError(t, err)
		return b.Run(context.Background(), trajs)
	}

	t.Run("merge at the last epsilon", func(t *testing.T) {
		seqCfg := additive(1, 10, 1)
		parCfg := seqCfg
		parCfg.Parallel = true

		for name, d := range map[string]*Diagram{"sequential": run(seqCfg), "parallel": run(parCfg)} {
			assert.Equal(t, map[int]float64{0: 1, 1: 1, 2: 10}, births(d), name)
			last, ok := d.Last()
			require.True(t, ok, name)
			assert.Equal(t, 10.0, last.Epsilon, name)
			assert.Equal(t, []string{"{a[0,4];b[0,4]}"}, stateKeys(last), name)
			for _, c := range []int{0, 1} {
				m, ok := d.MergeMoment(c)
				require.True(t, ok, "%s: class %d", name, c)
				assert.Equal(t, 10.0, m, name)
				into, _ := d.MergedInto(c)
				assert.Equal(t, 2, into, name)
			}
		}
	})

	t.Run("single sample", func(t *testing.T) {
		seqCfg := additive(3, 3, 1)
		parCfg := seqCfg
		parCfg.Parallel = true

		for name, d := range map[string]*Diagram{"sequential": run(seqCfg), "parallel": run(parCfg)} {
			assert.Equal(t, []float64{3}, d.Epsilons(), name)
			assert.Equal(t, map[int]float64{0: 3, 1: 3}, births(d), name)
		}
	})
}

func TestRunParallelTaskFailures(t *testing.T) {
	x := bundle.New(sub(trA, 0, 9))
	gen := bundle.GeneratorFunc(func(_ context.Context, _ []*trajectory.Trajectory, p bundle.Params) (bundle.Result, error) {
		switch p.Epsilon {
		case 2:
			panic("boom")
		case 3:
			return bundle.Result{}, errors.New("generator failed")
		}
		res := bundle.EmptyResult()
		res.Bundles.Add(x)
		return res, nil
	})
	cfg := additive(1, 4, 1)
	cfg.Parallel = true
	cfg.Workers = 1
	b, err := NewBuilder(cfg, gen)
	require.NoError(t, err)

	d := b.Run(context.Background(), nil)
	assert.False(t, b.Aborted())
	assert.Equal(t, []float64{1, 2, 3, 4}, d.Epsilons())
	for _, e := range []float64{2, 3} {
		s, ok := d.State(e)
		require.True(t, ok)
		assert.Zero(t, s.Len(), "eps %g", e)
	}
	assert.Equal(t, map[int]float64{0: 1}, births(d))
}

func TestPoolSize(t *testing.T) {
	assert.Equal(t, 1, Config{Workers: 0}.poolSize())
	assert.Equal(t, 1, Config{Workers: 2}.poolSize())
	assert.Equal(t, 7, Config{Workers: 8}.poolSize())
}

func TestRunRecordsTimestamps(t *testing.T) {
	start := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := timeutil.NewMockClock(start)
	clock.Step = time.Second

	b, err := NewBuilder(additive(1, 2, 1), bundle.FreeSpaceGenerator{}, WithClock(clock))
	require.NoError(t, err)
	b.Run(context.Background(), nil)

	st := b.State()
	require.NotNil(t, st.StartedAt)
	require.NotNil(t, st.CompletedAt)
	assert.Equal(t, start, *st.StartedAt)
	assert.Equal(t, start.Add(time.Second), *st.CompletedAt)
	assert.Equal(t, 2, st.TotalSamples)
}
