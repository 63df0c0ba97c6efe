package scheduler

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/srand/jolt/coordinator/pkg/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func drainChooser(t *testing.T, chooser Chooser) []testBuild {
	builds := []testBuild{}
	for {
		agent, requests, err := chooser.ChooseNextBuild(context.Background())
		require.NoError(t, err)
		if agent == nil {
			return builds
		}
		builds = append(builds, testBuild{agent: agent.Name(), ids: requestIDs(requests)})
	}
}

func TestParseChooserStrategy(t *testing.T) {
	strategy, err := ParseChooserStrategy("")
	assert.NoError(t, err)
	assert.Equal(t, ChooserBasic, strategy)

	strategy, err = ParseChooserStrategy("priority_resume")
	assert.NoError(t, err)
	assert.Equal(t, ChooserPriorityResume, strategy)

	_, err = ParseChooserStrategy("fifo")
	assert.Error(t, err)
}

func TestChooserOrder(t *testing.T) {
	s := openTestStore(t)
	at := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	_, late := addTestBuildset(t, s, []string{"b"}, withSubmittedAt(at.Add(time.Minute)))
	_, early := addTestBuildset(t, s, []string{"b"}, withSubmittedAt(at))
	_, urgent := addTestBuildset(t, s, []string{"b"}, withPriority(-1), withSubmittedAt(at.Add(time.Hour)))

	builder := newTestBuilder(t, BuilderConfig{Name: "b"})
	builder.SelectAgent = firstAgent
	pool := newTestPool(newTestAgent("a1"), newTestAgent("a2"), newTestAgent("a3"))

	builds := drainChooser(t, newTestChooser(s, pool, builder, "owner"))
	require.Len(t, builds, 3)
	assert.Equal(t, []int64{urgent["b"]}, builds[0].ids)
	assert.Equal(t, []int64{early["b"]}, builds[1].ids)
	assert.Equal(t, []int64{late["b"]}, builds[2].ids)
	assert.Equal(t, "a1", builds[0].agent)
	assert.Equal(t, "a2", builds[1].agent)
	assert.Equal(t, "a3", builds[2].agent)
}

// Same state and same agents give the same builds.
func TestChooserDeterministic(t *testing.T) {
	s := openTestStore(t)
	for i := 0; i < 6; i++ {
		addTestBuildset(t, s, []string{"b"}, withPriority(i%3), withRevision(strconv.Itoa(i%2)))
	}

	builder := newTestBuilder(t, BuilderConfig{Name: "b", Merge: true})
	builder.SelectAgent = firstAgent

	choose := func() []testBuild {
		pool := newTestPool(newTestAgent("a1"), newTestAgent("a2", "os=linux"), newTestAgent("a3"))
		return drainChooser(t, newTestChooser(s, pool, builder, "owner"))
	}

	first := choose()
	assert.Len(t, first, 2)
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, choose())
	}
}

func TestChooserMergeIsNotTransitive(t *testing.T) {
	s := openTestStore(t)
	_, r1 := addTestBuildset(t, s, []string{"b"}, withProperty("n", "1"))
	_, r2 := addTestBuildset(t, s, []string{"b"}, withProperty("n", "2"))
	_, r3 := addTestBuildset(t, s, []string{"b"}, withProperty("n", "3"))

	// Neighbours merge, 1 and 3 do not
	builder := newTestBuilder(t, BuilderConfig{Name: "b"})
	builder.SelectAgent = firstAgent
	builder.CanMerge = func(a, b *Request) bool {
		na, _ := strconv.Atoi(a.Properties["n"])
		nb, _ := strconv.Atoi(b.Properties["n"])
		return na-nb <= 1 && nb-na <= 1
	}

	pool := newTestPool(newTestAgent("a1"), newTestAgent("a2"))
	builds := drainChooser(t, newTestChooser(s, pool, builder, "owner"))

	require.Len(t, builds, 2)
	assert.Equal(t, []int64{r1["b"], r2["b"]}, builds[0].ids)
	assert.Equal(t, []int64{r3["b"]}, builds[1].ids)
}

func TestChooserDefaultMerge(t *testing.T) {
	s := openTestStore(t)
	_, r1 := addTestBuildset(t, s, []string{"b"}, withRevision("r1"))
	_, r2 := addTestBuildset(t, s, []string{"b"}, withRevision("r2"))
	_, r3 := addTestBuildset(t, s, []string{"b"}, withRevision("r1"))

	builder := newTestBuilder(t, BuilderConfig{Name: "b", Merge: true})
	builder.SelectAgent = firstAgent

	pool := newTestPool(newTestAgent("a1"), newTestAgent("a2"))
	builds := drainChooser(t, newTestChooser(s, pool, builder, "owner"))

	require.Len(t, builds, 2)
	assert.Equal(t, []int64{r1["b"], r3["b"]}, builds[0].ids)
	assert.Equal(t, []int64{r2["b"]}, builds[1].ids)
}

func TestChooserMergeWithSelfPanics(t *testing.T) {
	s := openTestStore(t)
	addTestBuildset(t, s, []string{"b"})

	builder := newTestBuilder(t, BuilderConfig{Name: "b", Merge: true})
	chooser := newTestChooser(s, newTestPool(), builder, "owner").(*basicChooser)
	require.NoError(t, chooser.load(context.Background()))
	require.Len(t, chooser.unclaimed, 1)

	assert.Panics(t, func() {
		chooser.MergeRequests(context.Background(), chooser.unclaimed[0])
	})
}

// An agent declining the most urgent request is kept for the next one.
func TestChooserRecyclesDecliningAgents(t *testing.T) {
	s := openTestStore(t)
	_, linux := addTestBuildset(t, s, []string{"b"}, withProperty("platform.os", "linux"), withPriority(0))
	_, windows := addTestBuildset(t, s, []string{"b"}, withProperty("platform.os", "windows"), withPriority(1))

	builder := newTestBuilder(t, BuilderConfig{Name: "b"})
	builder.SelectAgent = firstAgent

	pool := newTestPool(newTestAgent("win", "os=windows"), newTestAgent("lin", "os=linux"))
	builds := drainChooser(t, newTestChooser(s, pool, builder, "owner"))

	require.Len(t, builds, 2)
	assert.Equal(t, testBuild{agent: "lin", ids: []int64{linux["b"]}}, builds[0])
	assert.Equal(t, testBuild{agent: "win", ids: []int64{windows["b"]}}, builds[1])
	assert.Equal(t, 2, pool.satisfyCalls("win"))
}

func TestChooserSkipsUnbuildableRequests(t *testing.T) {
	s := openTestStore(t)
	addTestBuildset(t, s, []string{"b"}, withProperty("platform.os", "macos"), withPriority(0))
	_, linux := addTestBuildset(t, s, []string{"b"}, withProperty("platform.os", "linux"), withPriority(1))

	builder := newTestBuilder(t, BuilderConfig{Name: "b"})
	pool := newTestPool(newTestAgent("lin", "os=linux"))
	builds := drainChooser(t, newTestChooser(s, pool, builder, "owner"))

	require.Len(t, builds, 1)
	assert.Equal(t, []int64{linux["b"]}, builds[0].ids)
}

func TestChooserBuilderRequirements(t *testing.T) {
	s := openTestStore(t)
	addTestBuildset(t, s, []string{"b"})

	builder := newTestBuilder(t, BuilderConfig{Name: "b", Platform: []string{"arch=arm64"}})
	pool := newTestPool(newTestAgent("x86", "arch=amd64"))
	assert.Empty(t, drainChooser(t, newTestChooser(s, pool, builder, "owner")))

	pool = newTestPool(newTestAgent("x86", "arch=amd64"), newTestAgent("arm", "arch=arm64"))
	builds := drainChooser(t, newTestChooser(s, pool, builder, "owner"))
	require.Len(t, builds, 1)
	assert.Equal(t, "arm", builds[0].agent)
}

func TestChooserRejectedAgents(t *testing.T) {
	s := openTestStore(t)
	addTestBuildset(t, s, []string{"b"})

	builder := newTestBuilder(t, BuilderConfig{Name: "b"})
	pool := newTestPool(newTestAgent("a1"))
	pool.rejectGenerically("a1")

	assert.Empty(t, drainChooser(t, newTestChooser(s, pool, builder, "owner")))
	assert.Equal(t, 0, pool.satisfyCalls("a1"))
}

func TestChooserNoAgents(t *testing.T) {
	s := openTestStore(t)
	addTestBuildset(t, s, []string{"b"})

	builder := newTestBuilder(t, BuilderConfig{Name: "b"})
	assert.Empty(t, drainChooser(t, newTestChooser(s, newTestPool(), builder, "owner")))
}

func TestPriorityResumeChooser(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	at := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	_, older := addTestBuildset(t, s, []string{"b"}, withSubmittedAt(at))
	_, resumed := addTestBuildset(t, s, []string{"b"}, withSubmittedAt(at.Add(time.Minute)))
	_, urgent := addTestBuildset(t, s, []string{"b"}, withSubmittedAt(at.Add(time.Hour)), withPriority(-1))
	_, foreign := addTestBuildset(t, s, []string{"b"}, withSubmittedAt(at))

	require.NoError(t, s.ClaimRequests(ctx, []int64{resumed["b"]}, "owner", at))
	require.NoError(t, s.ClaimRequests(ctx, []int64{foreign["b"]}, "other", at))

	builder := newTestBuilder(t, BuilderConfig{Name: "b", Chooser: "priority_resume"})
	builder.SelectAgent = firstAgent

	pool := newTestPool(newTestAgent("a1"), newTestAgent("a2"), newTestAgent("a3"), newTestAgent("a4"))
	builds := drainChooser(t, newTestChooser(s, pool, builder, "owner"))

	require.Len(t, builds, 3)
	assert.Equal(t, []int64{urgent["b"]}, builds[0].ids)
	assert.Equal(t, []int64{resumed["b"]}, builds[1].ids)
	assert.Equal(t, []int64{older["b"]}, builds[2].ids)
}

func TestPriorityResumeChooserSkipsInFlight(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	_, unclaimed := addTestBuildset(t, s, []string{"b"})
	_, running := addTestBuildset(t, s, []string{"b"})
	require.NoError(t, s.ClaimRequests(ctx, []int64{running["b"]}, "owner", time.Now()))

	builder := newTestBuilder(t, BuilderConfig{Name: "b", Chooser: "priority_resume"})
	chooser := newChooser(&chooserContext{
		builder:  builder,
		storage:  s,
		pool:     newTestPool(newTestAgent("a1"), newTestAgent("a2")),
		resolver: newRequestResolver(s, 0),
		owner:    "owner",
		inFlight: func(id int64) bool { return id == running["b"] },
	})

	builds := drainChooser(t, chooser)
	require.Len(t, builds, 1)
	assert.Equal(t, []int64{unclaimed["b"]}, builds[0].ids)
}

func TestChooserIgnoresCompleteRequests(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	_, done := addTestBuildset(t, s, []string{"b"})
	require.NoError(t, s.ClaimRequests(ctx, []int64{done["b"]}, "owner", time.Now()))
	require.NoError(t, s.CompleteRequests(ctx, []int64{done["b"]}, "owner", 0, time.Now()))

	requests, err := s.ListRequests(ctx, store.RequestFilter{Builder: "b", Complete: store.Bool(false)})
	require.NoError(t, err)
	require.Empty(t, requests)

	for _, strategy := range []string{"basic", "priority_resume"} {
		builder := newTestBuilder(t, BuilderConfig{Name: "b", Chooser: strategy})
		assert.Empty(t, drainChooser(t, newTestChooser(s, newTestPool(newTestAgent("a1")), builder, "owner")))
	}
}
