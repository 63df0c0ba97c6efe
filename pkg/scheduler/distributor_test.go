package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/srand/jolt/coordinator/pkg/protocol"
	"github.com/srand/jolt/coordinator/pkg/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type distributorFixture struct {
	store       *store.Store
	pool        *testPool
	dispatcher  *testDispatcher
	claims      *ClaimManager
	stats       *Statistics
	distributor *Distributor
}

func newDistributorFixture(t *testing.T, storage func(*store.Store) Storage, giveUp GiveUpFunc, builders ...*Builder) *distributorFixture {
	f := &distributorFixture{store: openTestStore(t), stats: &Statistics{}}
	f.pool = newTestPool(newTestAgent("a1"), newTestAgent("a2"))
	f.dispatcher = newTestDispatcher(f.pool)

	var s Storage = f.store
	if storage != nil {
		s = storage(f.store)
	}

	f.claims = NewClaimManager(s, "owner")
	f.distributor = NewDistributor(DistributorConfig{
		Storage:    s,
		Pool:       f.pool,
		Dispatcher: f.dispatcher,
		Claims:     f.claims,
		Builders:   builders,
		Statistics: f.stats,
		GiveUp:     giveUp,
	})
	t.Cleanup(func() { f.distributor.Stop(context.Background()) })
	return f
}

func (f *distributorFixture) request(t *testing.T, id int64) *store.BuildRequest {
	request, err := f.store.GetRequest(context.Background(), id)
	require.NoError(t, err)
	return request
}

// Both requests of a buildset are built on separate agents and the
// buildset completes exactly once.
func TestDistributorEndToEnd(t *testing.T) {
	ctx := context.Background()
	f := newDistributorFixture(t, nil, nil,
		newTestBuilder(t, BuilderConfig{Name: "linux"}),
		newTestBuilder(t, BuilderConfig{Name: "windows"}))

	bsid, brids := addTestBuildset(t, f.store, []string{"linux", "windows"})

	f.distributor.Notify("linux", "windows", "unknown")
	f.distributor.Wait()

	builds := f.dispatcher.started()
	require.Len(t, builds, 2)
	assert.NotEqual(t, builds[0].agent, builds[1].agent)
	for _, build := range builds {
		assert.Equal(t, []int64{brids[build.builder]}, build.ids)
		assert.True(t, f.distributor.InFlight(brids[build.builder]))
		assert.Equal(t, "owner", f.request(t, brids[build.builder]).ClaimedBy)
	}

	events := &MockEventSink{}
	events.On("BuildsetComplete", bsid, protocol.ResultWarnings).Once()
	tracker := NewCompletionTracker(f.store, f.claims, events, f.stats)

	require.NoError(t, tracker.CompleteRequests(ctx, []int64{brids["linux"]}, protocol.ResultSuccess))
	require.NoError(t, tracker.CompleteRequests(ctx, []int64{brids["windows"]}, protocol.ResultWarnings))
	events.AssertExpectations(t)

	agents := f.distributor.Release([]int64{brids["linux"], brids["windows"]})
	assert.Equal(t, []string{"a1", "a2"}, agents)
	assert.False(t, f.distributor.InFlight(brids["linux"]))

	stats := f.stats.Snapshot()
	assert.EqualValues(t, 2, stats.Claims)
	assert.EqualValues(t, 2, stats.Dispatches)
	assert.EqualValues(t, 1, stats.BuildsetsCompleted)
	assert.EqualValues(t, 0, stats.ActivePasses)
}

func TestDistributorMoreRequestsThanAgents(t *testing.T) {
	f := newDistributorFixture(t, nil, nil, newTestBuilder(t, BuilderConfig{Name: "b"}))
	for i := 0; i < 5; i++ {
		addTestBuildset(t, f.store, []string{"b"}, withPriority(i))
	}

	f.distributor.Notify("b")
	f.distributor.Wait()
	assert.Len(t, f.dispatcher.started(), 2)

	unclaimed, err := f.store.ListRequests(context.Background(), store.RequestFilter{Claimed: store.Bool(false)})
	require.NoError(t, err)
	assert.Len(t, unclaimed, 3)
}

// Claims the victim for another coordinator just before the first claim.
type stealingStorage struct {
	*store.Store
	once   sync.Once
	victim int64
}

func (s *stealingStorage) ClaimRequests(ctx context.Context, ids []int64, owner string, at time.Time) error {
	s.once.Do(func() {
		if err := s.Store.ClaimRequests(ctx, []int64{s.victim}, "other", at); err != nil {
			panic(err)
		}
	})
	return s.Store.ClaimRequests(ctx, ids, owner, at)
}

func TestDistributorClaimConflict(t *testing.T) {
	var stealer *stealingStorage
	builder := newTestBuilder(t, BuilderConfig{Name: "b"})

	f := newDistributorFixture(t, func(s *store.Store) Storage {
		stealer = &stealingStorage{Store: s}
		return stealer
	}, nil, builder)

	_, first := addTestBuildset(t, f.store, []string{"b"}, withPriority(0))
	_, second := addTestBuildset(t, f.store, []string{"b"}, withPriority(1))
	stealer.victim = first["b"]

	f.distributor.Notify("b")
	f.distributor.Wait()

	builds := f.dispatcher.started()
	require.Len(t, builds, 1)
	assert.Equal(t, []int64{second["b"]}, builds[0].ids)
	assert.Equal(t, "other", f.request(t, first["b"]).ClaimedBy)
	assert.EqualValues(t, 1, f.stats.Snapshot().ClaimConflicts)
}

func TestDistributorDispatchFailure(t *testing.T) {
	builder := newTestBuilder(t, BuilderConfig{Name: "b", MaxDispatchAttempts: 2})
	f := newDistributorFixture(t, nil, nil, builder)
	f.pool.agents = f.pool.agents[:1]
	f.dispatcher.refuseAgent("a1")

	_, brids := addTestBuildset(t, f.store, []string{"b"})

	f.distributor.Notify("b")
	f.distributor.Wait()

	// Retried once, then left to the next reschedule
	assert.Equal(t, 2, f.dispatcher.attempts())
	assert.False(t, f.request(t, brids["b"]).Claimed())
	assert.False(t, f.distributor.InFlight(brids["b"]))

	stats := f.stats.Snapshot()
	assert.EqualValues(t, 2, stats.DispatchFailures)
	assert.EqualValues(t, 0, stats.GiveUps)
}

func TestDistributorGiveUp(t *testing.T) {
	var mu sync.Mutex
	givenUp := [][]int64{}

	giveUp := func(ctx context.Context, builder string, requests []*Request) {
		mu.Lock()
		defer mu.Unlock()
		givenUp = append(givenUp, requestIDs(requests))
	}

	builder := newTestBuilder(t, BuilderConfig{Name: "b", MaxDispatchAttempts: 1})
	f := newDistributorFixture(t, nil, giveUp, builder)
	f.dispatcher.refuseAgent("a1")
	f.dispatcher.refuseAgent("a2")

	_, brids := addTestBuildset(t, f.store, []string{"b"})

	f.distributor.Notify("b")
	f.distributor.Wait()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, [][]int64{{brids["b"]}}, givenUp)
	assert.Equal(t, 1, f.dispatcher.attempts())

	// Still claimed, the hook decides what happens
	assert.Equal(t, "owner", f.request(t, brids["b"]).ClaimedBy)
	assert.EqualValues(t, 1, f.stats.Snapshot().GiveUps)
}

// Builders are scheduled oldest request first. Builders without
// unclaimed requests go last, by name.
func TestDistributorPrioritize(t *testing.T) {
	at := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	f := newDistributorFixture(t, nil, nil,
		newTestBuilder(t, BuilderConfig{Name: "a"}),
		newTestBuilder(t, BuilderConfig{Name: "b"}),
		newTestBuilder(t, BuilderConfig{Name: "c"}),
		newTestBuilder(t, BuilderConfig{Name: "d"}))

	addTestBuildset(t, f.store, []string{"a"}, withSubmittedAt(at.Add(time.Minute)))
	addTestBuildset(t, f.store, []string{"b"}, withSubmittedAt(at))

	order := f.distributor.prioritize(context.Background(), []string{"d", "c", "a", "b"})
	assert.Equal(t, []string{"b", "a", "c", "d"}, order)
}

func TestDistributorCustomPrioritize(t *testing.T) {
	f := newDistributorFixture(t, nil, nil,
		newTestBuilder(t, BuilderConfig{Name: "a"}),
		newTestBuilder(t, BuilderConfig{Name: "b"}))
	f.distributor.prioritizeBuilders = func(ctx context.Context, builders []string) []string {
		return []string{"b"}
	}

	addTestBuildset(t, f.store, []string{"a", "b"})

	f.distributor.Notify("a", "b")
	f.distributor.Wait()

	builds := f.dispatcher.started()
	require.Len(t, builds, 1)
	assert.Equal(t, "b", builds[0].builder)
}

func TestDistributorStop(t *testing.T) {
	f := newDistributorFixture(t, nil, nil, newTestBuilder(t, BuilderConfig{Name: "b"}))
	require.NoError(t, f.distributor.Stop(context.Background()))

	addTestBuildset(t, f.store, []string{"b"})
	f.distributor.Notify("b")
	f.distributor.Wait()

	assert.Equal(t, 0, f.distributor.Pending())
	assert.Empty(t, f.dispatcher.started())
}

func TestDistributorBuilders(t *testing.T) {
	f := newDistributorFixture(t, nil, nil,
		newTestBuilder(t, BuilderConfig{Name: "windows"}),
		newTestBuilder(t, BuilderConfig{Name: "linux"}))

	assert.Equal(t, []string{"linux", "windows"}, f.distributor.Builders())
	assert.True(t, f.distributor.HasBuilder("linux"))
	assert.False(t, f.distributor.HasBuilder("macos"))
}

// Fails every claim while broken is set.
type brokenStorage struct {
	*store.Store
	mu     sync.Mutex
	broken bool
}

func (s *brokenStorage) setBroken(broken bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.broken = broken
}

func (s *brokenStorage) ClaimRequests(ctx context.Context, ids []int64, owner string, at time.Time) error {
	s.mu.Lock()
	broken := s.broken
	s.mu.Unlock()
	if broken {
		return errors.New("database is locked")
	}
	return s.Store.ClaimRequests(ctx, ids, owner, at)
}

func TestDistributorStorageError(t *testing.T) {
	broken := &brokenStorage{broken: true}
	f := newDistributorFixture(t, func(s *store.Store) Storage {
		broken.Store = s
		return broken
	}, nil, newTestBuilder(t, BuilderConfig{Name: "b"}))

	_, brids := addTestBuildset(t, f.store, []string{"b"})

	f.distributor.Notify("b")
	f.distributor.Wait()
	assert.Empty(t, f.dispatcher.started())
	assert.EqualValues(t, 1, f.stats.Snapshot().StorageErrors)
	assert.Empty(t, f.request(t, brids["b"]).ClaimedBy)

	broken.setBroken(false)
	f.distributor.Notify("b")
	f.distributor.Wait()
	require.Len(t, f.dispatcher.started(), 1)
	assert.Equal(t, "owner", f.request(t, brids["b"]).ClaimedBy)
}

// The agent of a merged build is freed once, when its last request completes.
func TestDistributorReleaseMergedBuild(t *testing.T) {
	f := newDistributorFixture(t, nil, nil, newTestBuilder(t, BuilderConfig{Name: "b", Merge: true}))

	_, first := addTestBuildset(t, f.store, []string{"b"})
	_, second := addTestBuildset(t, f.store, []string{"b"})

	f.distributor.Notify("b")
	f.distributor.Wait()

	builds := f.dispatcher.started()
	require.Len(t, builds, 1)
	assert.ElementsMatch(t, []int64{first["b"], second["b"]}, builds[0].ids)

	assert.Empty(t, f.distributor.Release([]int64{first["b"]}))
	assert.False(t, f.distributor.InFlight(first["b"]))
	assert.True(t, f.distributor.InFlight(second["b"]))

	assert.Equal(t, []string{builds[0].agent}, f.distributor.Release([]int64{second["b"]}))
	assert.Empty(t, f.distributor.Release([]int64{second["b"]}))
}

func TestDistributorStartsWorkersOnNotify(t *testing.T) {
	f := newDistributorFixture(t, nil, nil, newTestBuilder(t, BuilderConfig{Name: "b"}))

	f.distributor.mu.Lock()
	assert.False(t, f.distributor.workersStarted)
	f.distributor.mu.Unlock()

	f.distributor.Notify("unknown")
	f.distributor.mu.Lock()
	assert.False(t, f.distributor.workersStarted)
	f.distributor.mu.Unlock()

	f.distributor.Notify("b")
	f.distributor.Wait()
	f.distributor.mu.Lock()
	assert.True(t, f.distributor.workersStarted)
	f.distributor.mu.Unlock()
}
