package diagramdb

import (
	"context"
	"errors"
	"math"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/bundle.evolution/internal/bundle"
	"github.com/banshee-data/bundle.evolution/internal/evolution"
	"github.com/banshee-data/bundle.evolution/internal/monitoring"
	"github.com/banshee-data/bundle.evolution/internal/trajectory"
)

func TestMain(m *testing.M) {
	monitoring.SetLogger(nil)
	m.Run()
}

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "diagrams.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

var testTrajectories = []*trajectory.Trajectory{
	trajectory.FromXY("a", 0, 0, 1, 0, 2, 0, 3, 0),
	trajectory.FromXY("b", 0, 1, 1, 1, 2, 1, 3, 1),
	trajectory.FromXY("c", 0, 2.2, 1, 2.2, 2, 2.2, 3, 2.2),
}

func buildDiagram(t *testing.T) (*evolution.Diagram, evolution.Config) {
	t.Helper()
	cfg := evolution.Config{
		MinEps:    0.5,
		MaxEps:    3,
		Increment: evolution.Increment{Kind: evolution.Additive, Step: 0.5},
	}
	b, err := evolution.NewBuilder(cfg, bundle.FreeSpaceGenerator{})
	require.NoError(t, err)
	d := b.Run(context.Background(), testTrajectories)
	require.NotZero(t, d.NumClasses())
	return d, cfg
}

type classView struct {
	Birth, Merge float64
	Into         int
	Merged       bool
}

type stateView struct {
	Bundles map[int]string
	Births  []int
	Merges  map[int]int
}

// view flattens a diagram into comparable values.
func view(d *evolution.Diagram) (map[int]classView, map[float64]stateView) {
	classes := make(map[int]classView)
	for _, c := range d.Classes() {
		var v classView
		v.Birth, _ = d.BirthMoment(c)
		v.Merge, v.Merged = d.MergeMoment(c)
		v.Into, _ = d.MergedInto(c)
		classes[c] = v
	}
	states := make(map[float64]stateView)
	for _, e := range d.Epsilons() {
		st, _ := d.State(e)
		sv := stateView{Bundles: make(map[int]string), Births: st.Births(), Merges: st.Merges()}
		for _, c := range st.Classes() {
			b, _ := st.Bundle(c)
			sv.Bundles[c] = b.Key()
		}
		states[e] = sv
	}
	return classes, states
}

func TestOpenAppliesMigrations(t *testing.T) {
	s := openTestStore(t)
	version, dirty, err := s.MigrateVersion()
	require.NoError(t, err)
	assert.Equal(t, uint(2), version)
	assert.False(t, dirty)

	require.NoError(t, s.MigrateUp(), "a second migration is a no-op")
}

func TestSaveAndLoadRun(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	d, cfg := buildDiagram(t)

	id, err := s.SaveRun(ctx, cfg, evolution.StatusComplete, len(testTrajectories), d, evolution.DefaultAttributes())
	require.NoError(t, err)
	require.NotEmpty(t, id)

	loaded, summary, err := s.LoadRun(ctx, id, testTrajectories)
	require.NoError(t, err)
	assert.Equal(t, id, summary.ID)
	assert.Equal(t, cfg, summary.Config)
	assert.Equal(t, evolution.StatusComplete, summary.Status)
	assert.Equal(t, len(d.Epsilons()), summary.StateCount)
	assert.Equal(t, d.NumClasses(), summary.ClassCount)
	assert.Equal(t, 3, summary.TrajectoryCount)

	wantClasses, wantStates := view(d)
	gotClasses, gotStates := view(loaded)
	if diff := cmp.Diff(wantClasses, gotClasses); diff != "" {
		t.Errorf("classes mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(wantStates, gotStates); diff != "" {
		t.Errorf("states mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadRunUnknownTrajectory(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	d, cfg := buildDiagram(t)
	id, err := s.SaveRun(ctx, cfg, evolution.StatusComplete, 3, d, nil)
	require.NoError(t, err)

	_, _, err = s.LoadRun(ctx, id, testTrajectories[:1])
	assert.ErrorContains(t, err, "unknown trajectory")
}

func TestRunNotFound(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, _, err := s.LoadRun(ctx, "missing", nil)
	assert.True(t, errors.Is(err, ErrRunNotFound))
	assert.True(t, errors.Is(s.DeleteRun(ctx, "missing"), ErrRunNotFound))
	_, err = s.ClassAttributes(ctx, "missing")
	assert.True(t, errors.Is(err, ErrRunNotFound))
}

func TestListAndDeleteRuns(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	d, cfg := buildDiagram(t)

	first, err := s.SaveRun(ctx, cfg, evolution.StatusComplete, 3, d, nil)
	require.NoError(t, err)
	second, err := s.SaveRun(ctx, cfg, evolution.StatusAborted, 3, evolution.NewDiagram(), nil)
	require.NoError(t, err)

	runs, err := s.ListRuns(ctx)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, second, runs[0].ID, "newest first")
	assert.Equal(t, evolution.StatusAborted, runs[0].Status)
	assert.Zero(t, runs[0].StateCount)

	require.NoError(t, s.DeleteRun(ctx, first))
	runs, err = s.ListRuns(ctx)
	require.NoError(t, err)
	require.Len(t, runs, 1)

	var orphans int
	require.NoError(t, s.DB().QueryRow(`SELECT COUNT(*) FROM state_bundles WHERE run_id = ?`, first).Scan(&orphans))
	assert.Zero(t, orphans, "bundles are removed with their run")
}

func TestClassAttributes(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	d, cfg := buildDiagram(t)
	attrs := evolution.DefaultAttributes()

	id, err := s.SaveRun(ctx, cfg, evolution.StatusComplete, 3, d, attrs)
	require.NoError(t, err)

	got, err := s.ClassAttributes(ctx, id)
	require.NoError(t, err)
	require.Len(t, got, d.NumClasses())
	for _, c := range d.Classes() {
		want := attrs.Evaluate(d, c)
		for name, v := range want {
			if math.IsNaN(v) {
				assert.True(t, math.IsNaN(got[c][name]), "class %d %s", c, name)
				continue
			}
			assert.InDelta(t, v, got[c][name], 1e-12, "class %d %s", c, name)
		}
	}
}
