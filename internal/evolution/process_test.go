package evolution

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/bundle.evolution/internal/bundle"
)

func TestProcessFirstStateBirthsEverything(t *testing.T) {
	d := NewDiagram()
	f := newFolder(d, 0)
	x := bundle.New(sub(trA, 0, 2), sub(trB, 0, 2))
	y := bundle.New(sub(trC, 0, 2))

	st := f.process(1, bundle.NewSet(x, y), nil)
	assert.Equal(t, []int{0, 1}, st.Births())
	assert.Equal(t, map[int]float64{0: 1, 1: 1}, births(d))
}

func TestProcessExactContinuation(t *testing.T) {
	d := NewDiagram()
	f := newFolder(d, 0)
	f.process(1, bundle.NewSet(bundle.New(sub(trA, 0, 2), sub(trB, 0, 2))), nil)
	st := f.process(2, bundle.NewSet(bundle.New(sub(trA, 0, 3), sub(trB, 0, 2.5))), nil)

	assert.Equal(t, []int{0}, st.Classes())
	assert.Empty(t, st.Births())
	assert.Equal(t, 1, d.NumClasses())
}

func TestProcessLambdaContinuation(t *testing.T) {
	x := bundle.New(sub(trA, 0, 2), sub(trB, 0, 2))
	shrunk := bundle.New(sub(trA, 0, 1.75), sub(trB, 0, 2))

	d := NewDiagram()
	f := newFolder(d, 0.5)
	f.process(1, bundle.NewSet(x), nil)
	st := f.process(2, bundle.NewSet(shrunk), nil)
	assert.Equal(t, []int{0}, st.Classes(), "lambda 1 covers the 0.25 shortfall")

	d = NewDiagram()
	f = newFolder(d, 0)
	f.process(1, bundle.NewSet(x), nil)
	st = f.process(2, bundle.NewSet(shrunk), nil)
	assert.Equal(t, []int{1}, st.Classes())
	_, merged := d.MergeMoment(0)
	assert.False(t, merged, "no bundle covers the retired class")
}

func TestProcessContinuationNeedsEqualSize(t *testing.T) {
	d := NewDiagram()
	f := newFolder(d, 0)
	f.process(1, bundle.NewSet(bundle.New(sub(trA, 0, 2), sub(trB, 0, 2))), nil)
	st := f.process(2, bundle.NewSet(bundle.New(sub(trA, 0, 9), sub(trB, 0, 9), sub(trC, 0, 9))), nil)

	assert.Equal(t, []int{1}, st.Classes())
	assert.Equal(t, map[int]int{0: 1}, st.Merges())
	e, ok := d.MergeMoment(0)
	require.True(t, ok)
	assert.Equal(t, 2.0, e)
}

func TestProcessEachClassContinuesOnce(t *testing.T) {
	x := bundle.New(sub(trA, 0, 2), sub(trB, 0, 2))
	d := NewDiagram()
	f := newFolder(d, 0)
	f.process(1, bundle.NewSet(x), nil)

	wide := bundle.New(sub(trA, 0, 3), sub(trB, 0, 3))
	wider := bundle.New(sub(trA, 0, 4), sub(trB, 0, 4))
	st := f.process(2, bundle.NewSet(wide, wider), nil)

	c, ok := st.Class(wide)
	require.True(t, ok)
	assert.Equal(t, 0, c, "the first bundle in key order claims the class")
	c, ok = st.Class(wider)
	require.True(t, ok)
	assert.Equal(t, 1, c)
}

func TestProcessMergesIntoCoveringBundle(t *testing.T) {
	ab := bundle.New(sub(trA, 0, 9), sub(trB, 0, 9))
	cd := bundle.New(sub(trC, 0, 9), sub(trD, 0, 9))
	all := bundle.New(sub(trA, 0, 9), sub(trB, 0, 9), sub(trC, 0, 9), sub(trD, 0, 9))

	d := NewDiagram()
	f := newFolder(d, 0)
	f.process(1, bundle.NewSet(ab, cd), nil)
	st := f.process(2, bundle.NewSet(all), nil)

	assert.Equal(t, []int{2}, st.Births())
	assert.Equal(t, map[int]int{0: 2, 1: 2}, st.Merges())
	into, ok := d.MergedInto(1)
	require.True(t, ok)
	assert.Equal(t, 2, into)
}

func TestProcessFollowsGeneratorMergeChain(t *testing.T) {
	ab := bundle.New(sub(trA, 0, 2), sub(trB, 0, 2))
	gone := bundle.New(sub(trA, 0, 5))
	cd := bundle.New(sub(trC, 0, 2), sub(trD, 0, 2))

	merges := make(bundle.Merges)
	merges.Add(ab, gone)
	merges.Add(gone, cd)
	merges.Add(cd, ab)

	d := NewDiagram()
	f := newFolder(d, 0)
	f.process(1, bundle.NewSet(ab), nil)
	st := f.process(2, bundle.NewSet(cd), merges)

	assert.Equal(t, map[int]int{0: 1}, st.Merges())
}

func TestProcessMergeChainCycle(t *testing.T) {
	ab := bundle.New(sub(trA, 0, 2), sub(trB, 0, 2))
	p := bundle.New(sub(trA, 0, 5))
	q := bundle.New(sub(trB, 0, 5))
	merges := make(bundle.Merges)
	merges.Add(ab, p)
	merges.Add(p, q)
	merges.Add(q, p)

	d := NewDiagram()
	f := newFolder(d, 0)
	f.process(1, bundle.NewSet(ab), nil)
	st := f.process(2, bundle.NewSet(bundle.New(sub(trC, 0, 2))), merges)

	assert.Empty(t, st.Merges())
	_, ok := d.MergeMoment(0)
	assert.False(t, ok)
}

func TestProcessDropsReappearingBundle(t *testing.T) {
	x := bundle.New(sub(trA, 0, 2), sub(trB, 0, 2))
	y := bundle.New(sub(trC, 0, 2), sub(trD, 0, 2))

	d := NewDiagram()
	f := newFolder(d, 0)
	f.process(1, bundle.NewSet(x), nil)
	f.process(2, bundle.NewSet(y), nil)
	st := f.process(3, bundle.NewSet(x), nil)

	assert.Equal(t, 0, st.Len())
	assert.Equal(t, 2, d.NumClasses())
}

func TestFolderResumesFromDiagram(t *testing.T) {
	x := bundle.New(sub(trA, 0, 2), sub(trB, 0, 2))
	y := bundle.New(sub(trC, 0, 2), sub(trD, 0, 2))
	d := NewDiagram()
	newFolder(d, 0).process(1, bundle.NewSet(x), nil)

	f := newFolder(d, 0)
	st := f.process(2, bundle.NewSet(x, y), nil)
	c, ok := st.Class(y)
	require.True(t, ok)
	assert.Equal(t, 1, c)
	c, ok = st.Class(x)
	require.True(t, ok)
	assert.Equal(t, 0, c)
}
