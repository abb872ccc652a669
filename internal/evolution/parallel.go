package evolution

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/banshee-data/bundle.evolution/internal/bundle"
	"github.com/banshee-data/bundle.evolution/internal/monitoring"
	"github.com/banshee-data/bundle.evolution/internal/trajectory"
)

type taskOutcome int

const (
	taskSkipped taskOutcome = iota
	taskDone
	taskFailed
)

// poolSize leaves one thread of the budget to the caller.
func (c Config) poolSize() int {
	if c.Workers-1 < 1 {
		return 1
	}
	return c.Workers - 1
}

// runParallel generates every coarse sample on a bounded pool and folds the
// results in epsilon order. Failed tasks fold as empty states; tasks skipped
// by an abort are not folded.
func (b *Builder) runParallel(ctx context.Context, trajs []*trajectory.Trajectory, schedule []float64, f *folder) {
	results := make([]bundle.Result, len(schedule))
	outcomes := make([]taskOutcome, len(schedule))

	var g errgroup.Group
	g.SetLimit(b.cfg.poolSize())
	for i, eps := range schedule {
		if ctx.Err() != nil || b.aborted.Load() {
			monitoring.Statusf(monitoring.TagEvolution, "aborted before submitting eps=%g", eps)
			break
		}
		g.Go(func() error {
			res, err := b.generateTask(ctx, trajs, eps)
			switch {
			case err == nil:
				results[i], outcomes[i] = res, taskDone
			case ctx.Err() != nil:
				outcomes[i] = taskSkipped
			default:
				monitoring.Warnf(monitoring.TagEvolution, "eps=%g: task failed: %v", eps, err)
				results[i], outcomes[i] = bundle.EmptyResult(), taskFailed
			}
			b.updateState(func(s *BuildState) {
				s.Samples++
				if eps > s.CurrentEpsilon {
					s.CurrentEpsilon = eps
				}
			})
			return nil
		})
	}
	_ = g.Wait()

	for i, eps := range schedule {
		if outcomes[i] == taskSkipped {
			continue
		}
		res := results[i]
		if res.Bundles == nil {
			res.Bundles = make(bundle.Set)
		}
		f.process(eps, res.Bundles, res.Merges)
	}
}

// generateTask runs the generator once and turns a panic into an error.
func (b *Builder) generateTask(ctx context.Context, trajs []*trajectory.Trajectory, eps float64) (res bundle.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in bundle generation: %v", r)
		}
	}()
	if err := ctx.Err(); err != nil {
		return bundle.Result{}, err
	}
	return b.gen.Generate(ctx, trajs, b.cfg.params(eps))
}
