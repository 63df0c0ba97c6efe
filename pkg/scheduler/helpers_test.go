package scheduler

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/srand/jolt/coordinator/pkg/protocol"
	"github.com/srand/jolt/coordinator/pkg/store"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *store.Store {
	dsn := filepath.Join(t.TempDir(), "coordinator.db") +
		"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_txlock=immediate"

	s, err := store.Open(context.Background(), "sqlite", dsn)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

type buildsetOption func(nb *store.NewBuildset)

func withPriority(priority int) buildsetOption {
	return func(nb *store.NewBuildset) { nb.Priority = priority }
}

func withRevision(revision string) buildsetOption {
	return func(nb *store.NewBuildset) { nb.SourceStamps[0].Revision = revision }
}

func withProperty(key, value string) buildsetOption {
	return func(nb *store.NewBuildset) { nb.Properties[key] = value }
}

func withSubmittedAt(at time.Time) buildsetOption {
	return func(nb *store.NewBuildset) { nb.SubmittedAt = at }
}

func addTestBuildset(t *testing.T, s *store.Store, builders []string, options ...buildsetOption) (int64, map[string]int64) {
	nb := store.NewBuildset{
		Reason:   "test",
		Builders: builders,
		SourceStamps: []protocol.SourceStamp{
			{Codebase: "app", Repository: "https://example.com/app.git", Branch: "main", Revision: "r1"},
		},
		Properties:  map[string]string{},
		SubmittedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
	for _, option := range options {
		option(&nb)
	}

	bsid, brids, err := s.AddBuildset(context.Background(), nb)
	require.NoError(t, err)
	return bsid, brids
}

type testAgent struct {
	name     string
	platform *Platform
}

func newTestAgent(name string, properties ...string) *testAgent {
	platform, err := ParsePlatform(properties)
	if err != nil {
		panic(err)
	}
	return &testAgent{name: name, platform: platform}
}

func (a *testAgent) Name() string {
	return a.name
}

func (a *testAgent) Platform() *Platform {
	return a.platform
}

// Agent pool where idle agents build for any builder,
// provided they have the platform properties of the request.
type testPool struct {
	mu       sync.Mutex
	agents   []Agent
	busy     map[string]bool
	generic  map[string]bool
	satisfy  map[string]int
	released []string
}

func newTestPool(agents ...Agent) *testPool {
	return &testPool{
		agents:  agents,
		busy:    map[string]bool{},
		generic: map[string]bool{},
		satisfy: map[string]int{},
	}
}

func (p *testPool) ListAvailable(ctx context.Context, builder string) ([]Agent, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	agents := []Agent{}
	for _, agent := range p.agents {
		if !p.busy[agent.Name()] {
			agents = append(agents, agent)
		}
	}
	return agents, nil
}

func (p *testPool) CanGenericallyStart(ctx context.Context, builder string, agent Agent) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return !p.generic[agent.Name()], nil
}

func (p *testPool) CanSatisfy(ctx context.Context, agent Agent, request *Request) (bool, error) {
	p.mu.Lock()
	p.satisfy[agent.Name()]++
	p.mu.Unlock()
	return agent.Platform().Fulfills(request.Requirements()), nil
}

func (p *testPool) ReleaseAgent(name string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.busy, name)
	p.released = append(p.released, name)
}

// Agent can not start builds for any builder
func (p *testPool) rejectGenerically(name string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.generic[name] = true
}

func (p *testPool) satisfyCalls(name string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.satisfy[name]
}

type testBuild struct {
	builder string
	agent   string
	ids     []int64
}

// Starts builds by marking agents busy.
type testDispatcher struct {
	mu     sync.Mutex
	pool   *testPool
	refuse map[string]bool
	builds []testBuild
	calls  int
}

func newTestDispatcher(pool *testPool) *testDispatcher {
	return &testDispatcher{pool: pool, refuse: map[string]bool{}}
}

func (d *testDispatcher) Dispatch(ctx context.Context, builder string, agent Agent, requests []*Request) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.calls++
	if d.refuse[agent.Name()] {
		return false, nil
	}

	d.pool.mu.Lock()
	d.pool.busy[agent.Name()] = true
	d.pool.mu.Unlock()

	d.builds = append(d.builds, testBuild{builder: builder, agent: agent.Name(), ids: requestIDs(requests)})
	return true, nil
}

func (d *testDispatcher) refuseAgent(name string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.refuse[name] = true
}

func (d *testDispatcher) started() []testBuild {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]testBuild{}, d.builds...)
}

func (d *testDispatcher) attempts() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

type MockEventSink struct {
	mock.Mock
}

func (m *MockEventSink) BuildsetComplete(bsid int64, result protocol.Result) {
	m.Called(bsid, result)
}

func (m *MockEventSink) RequestRemoved(bsid, brid int64) {
	m.Called(bsid, brid)
}

func newTestBuilder(t *testing.T, config BuilderConfig) *Builder {
	builder, err := NewBuilder(config)
	require.NoError(t, err)
	return builder
}

func newTestChooser(s Storage, pool AgentPool, builder *Builder, owner string) Chooser {
	return newChooser(&chooserContext{
		builder:  builder,
		storage:  s,
		pool:     pool,
		resolver: newRequestResolver(s, 0),
		owner:    owner,
	})
}

// Deterministic agent selection
func firstAgent(agents []Agent, _ *Request) Agent {
	return agents[0]
}
