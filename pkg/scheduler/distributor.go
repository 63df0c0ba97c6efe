package scheduler

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/srand/jolt/coordinator/pkg/log"
	"github.com/srand/jolt/coordinator/pkg/store"
	"github.com/srand/jolt/coordinator/pkg/utils"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Called when dispatching requests has failed too many times.
// The requests are still claimed by this coordinator when called.
type GiveUpFunc func(ctx context.Context, builder string, requests []*Request)

// Orders builders for a scheduling pass, first to be scheduled first.
type PrioritizeBuildersFunc func(ctx context.Context, builders []string) []string

type DistributorConfig struct {
	Storage    Storage
	Pool       AgentPool
	Dispatcher Dispatcher
	Claims     *ClaimManager
	Builders   []*Builder

	// Number of resolved requests to cache.
	RequestCacheSize int

	// Optional
	Statistics         *Statistics
	GiveUp             GiveUpFunc
	PrioritizeBuilders PrioritizeBuildersFunc
}

// Claims pending requests and dispatches them to agents.
//
// Builders needing attention are collected by Notify and drained by a
// single goroutine, one builder at a time. The goroutine exits when
// there are no more builders to schedule and is restarted by the next
// Notify. The worker pool is started by the first Notify and stopped
// by Stop.
type Distributor struct {
	storage            Storage
	pool               AgentPool
	dispatcher         Dispatcher
	claims             *ClaimManager
	resolver           *requestResolver
	builders           map[string]*Builder
	stats              *Statistics
	workers            *utils.WorkerPool
	giveUp             GiveUpFunc
	prioritizeBuilders PrioritizeBuildersFunc
	logger             *log.Logger

	mu             sync.Mutex
	pending        map[string]bool
	active         bool
	stopping       bool
	workersStarted bool
	idle           chan struct{}

	// Request id to the build it is part of
	inFlight map[int64]*dispatchedBuild

	// Failed dispatches per request
	attempts map[int64]int
}

func NewDistributor(config DistributorConfig) *Distributor {
	idle := make(chan struct{})
	close(idle)

	stats := config.Statistics
	if stats == nil {
		stats = &Statistics{}
	}

	builders := map[string]*Builder{}
	for _, builder := range config.Builders {
		builders[builder.Name] = builder
	}

	d := &Distributor{
		storage:            config.Storage,
		pool:               config.Pool,
		dispatcher:         config.Dispatcher,
		claims:             config.Claims,
		resolver:           newRequestResolver(config.Storage, config.RequestCacheSize),
		builders:           builders,
		stats:              stats,
		workers:            utils.NewWorkerPool(4),
		giveUp:             config.GiveUp,
		prioritizeBuilders: config.PrioritizeBuilders,
		logger:             log.Component("distributor"),
		pending:            map[string]bool{},
		idle:               idle,
		inFlight:           map[int64]*dispatchedBuild{},
		attempts:           map[int64]int{},
	}
	return d
}

// One build on an agent. The agent slot is held until every
// merged request of the build has completed.
type dispatchedBuild struct {
	agent     string
	remaining int
}

// Returns the names of all configured builders.
func (d *Distributor) Builders() []string {
	names := make([]string, 0, len(d.builders))
	for name := range d.builders {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (d *Distributor) HasBuilder(name string) bool {
	_, ok := d.builders[name]
	return ok
}

// Requests a scheduling pass for the builders. Never blocks.
func (d *Distributor) Notify(names ...string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopping {
		return
	}

	for _, name := range names {
		if _, ok := d.builders[name]; !ok {
			d.logger.Tracef("ign - builder - unknown: %s", name)
			continue
		}
		d.pending[name] = true
	}

	if len(d.pending) == 0 || d.active {
		return
	}

	if !d.workersStarted {
		d.workers.Start()
		d.workersStarted = true
	}

	d.active = true
	d.idle = make(chan struct{})
	go d.activityLoop(d.idle)
}

// Number of builders waiting for a pass.
func (d *Distributor) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}

// Waits until there are no more builders to schedule.
func (d *Distributor) Wait() {
	for {
		d.mu.Lock()
		idle, active := d.idle, d.active
		d.mu.Unlock()

		if !active {
			return
		}
		<-idle
	}
}

// Stops scheduling. Waits for the build being claimed and dispatched,
// if any, unless ctx expires first.
func (d *Distributor) Stop(ctx context.Context) error {
	d.mu.Lock()
	d.stopping = true
	idle := d.idle
	d.mu.Unlock()

	select {
	case <-idle:
	case <-ctx.Done():
		return ctx.Err()
	}

	d.workers.Stop()
	d.logger.Debug("stopped")
	return nil
}

func (d *Distributor) isStopping() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stopping
}

func (d *Distributor) activityLoop(idle chan struct{}) {
	defer close(idle)

	ctx := context.Background()

	for {
		d.mu.Lock()
		if d.stopping || len(d.pending) == 0 {
			d.active = false
			d.mu.Unlock()
			return
		}

		names := make([]string, 0, len(d.pending))
		for name := range d.pending {
			names = append(names, name)
		}
		d.pending = map[string]bool{}
		d.mu.Unlock()

		for _, name := range d.prioritize(ctx, names) {
			if d.isStopping() {
				break
			}
			d.runPass(ctx, name)
		}
	}
}

// Orders builders by the age of their oldest unclaimed request.
// Builders without unclaimed requests may still have requests to
// resume and are scheduled last, by name.
func (d *Distributor) prioritize(ctx context.Context, names []string) []string {
	if d.prioritizeBuilders != nil {
		return d.prioritizeBuilders(ctx, names)
	}

	type entry struct {
		name   string
		oldest time.Time
		ok     bool
	}

	entries := utils.ParallelMap(d.workers, names, func(name string) entry {
		oldest, ok, err := d.storage.OldestUnclaimedSubmission(ctx, name)
		if err != nil {
			d.logger.Warnf("nok - oldest request - builder: %s, error: %v", name, err)
			return entry{name: name}
		}
		return entry{name: name, oldest: oldest, ok: ok}
	})

	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if a.ok != b.ok {
			return a.ok
		}
		if a.ok && !a.oldest.Equal(b.oldest) {
			return a.oldest.Before(b.oldest)
		}
		return a.name < b.name
	})

	ordered := make([]string, len(entries))
	for i, e := range entries {
		ordered[i] = e.name
	}
	return ordered
}

func (d *Distributor) newChooser(builder *Builder) Chooser {
	return newChooser(&chooserContext{
		builder:  builder,
		storage:  d.storage,
		pool:     d.pool,
		resolver: d.resolver,
		owner:    d.claims.Owner(),
		inFlight: d.InFlight,
	})
}

// Builds as many requests of the builder as there are agents for.
func (d *Distributor) runPass(ctx context.Context, name string) {
	builder := d.builders[name]

	ctx, span := tracer.Start(ctx, "distributor.pass", trace.WithAttributes(attribute.String("builder", name)))
	defer span.End()

	atomic.AddInt64(&d.stats.passes, 1)
	atomic.AddInt64(&d.stats.activePasses, 1)
	defer atomic.AddInt64(&d.stats.activePasses, -1)

	d.logger.Tracef("beg - pass - builder: %s", name)

	chooser := d.newChooser(builder)

	for !d.isStopping() {
		agent, requests, err := chooser.ChooseNextBuild(ctx)
		if err != nil {
			d.logger.Errorf("nok - pass - builder: %s, error: %v", name, err)
			atomic.AddInt64(&d.stats.storageErrors, 1)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return
		}

		if agent == nil {
			d.logger.Tracef("end - pass - builder: %s", name)
			return
		}

		ids := requestIDs(requests)

		err = d.claims.Claim(ctx, ids)
		if errors.Is(err, store.ErrAlreadyClaimed) {
			// Another coordinator got there first, start over with fresh state
			atomic.AddInt64(&d.stats.claimConflicts, 1)
			d.resolver.Invalidate(ids...)
			chooser = d.newChooser(builder)
			continue
		}
		if err != nil {
			d.logger.Errorf("nok - claim - builder: %s, ids: %v, error: %v", name, ids, err)
			atomic.AddInt64(&d.stats.storageErrors, 1)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return
		}
		atomic.AddInt64(&d.stats.claims, 1)

		d.dispatch(ctx, builder, agent, requests)
	}
}

func (d *Distributor) dispatch(ctx context.Context, builder *Builder, agent Agent, requests []*Request) {
	ids := requestIDs(requests)

	ctx, span := tracer.Start(ctx, "distributor.dispatch", trace.WithAttributes(
		attribute.String("builder", builder.Name),
		attribute.String("agent", agent.Name()),
		attribute.Int64Slice("request.ids", ids),
	))
	defer span.End()

	d.markInFlight(ids, agent.Name())

	started, err := d.dispatcher.Dispatch(ctx, builder.Name, agent, requests)
	if err != nil {
		d.logger.Warnf("nok - dispatch - builder: %s, agent: %s, ids: %v, error: %v", builder.Name, agent.Name(), ids, err)
		span.RecordError(err)
		started = false
	}

	if started {
		atomic.AddInt64(&d.stats.dispatches, 1)
		d.clearAttempts(ids)
		d.resolver.Invalidate(ids...)
		d.logger.Infof("run - build - builder: %s, agent: %s, requests: %v", builder.Name, agent.Name(), ids)
		return
	}

	atomic.AddInt64(&d.stats.dispatchFailures, 1)
	span.SetStatus(codes.Error, "not started")
	d.clearInFlight(ids)

	if d.countAttempt(ids, builder.MaxDispatchAttempts) {
		if d.giveUp != nil {
			d.logger.Warnf("nok - build - giving up - builder: %s, requests: %v", builder.Name, ids)
			atomic.AddInt64(&d.stats.giveUps, 1)
			d.giveUp(ctx, builder.Name, requests)
			return
		}

		// Leave the requests to the next periodic reschedule
		d.logger.Warnf("nok - build - too many attempts - builder: %s, requests: %v", builder.Name, ids)
		if err := d.claims.Unclaim(ctx, ids); err != nil {
			d.logger.Errorf("nok - unclaim - ids: %v, error: %v", ids, err)
		}
		return
	}

	if err := d.claims.Unclaim(ctx, ids); err != nil {
		d.logger.Errorf("nok - unclaim - ids: %v, error: %v", ids, err)
	}

	d.Notify(builder.Name)
}

func (d *Distributor) markInFlight(ids []int64, agent string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	build := &dispatchedBuild{agent: agent, remaining: len(ids)}
	for _, id := range ids {
		d.inFlight[id] = build
	}
}

func (d *Distributor) clearInFlight(ids []int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, id := range ids {
		delete(d.inFlight, id)
	}
}

func (d *Distributor) clearAttempts(ids []int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, id := range ids {
		delete(d.attempts, id)
	}
}

// Counts a failed dispatch. Returns true, and forgets the attempts,
// if any of the requests has failed limit times.
func (d *Distributor) countAttempt(ids []int64, limit int) bool {
	if limit <= 0 {
		limit = DefaultMaxDispatchAttempts
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	exhausted := false
	for _, id := range ids {
		d.attempts[id]++
		if d.attempts[id] >= limit {
			exhausted = true
		}
	}

	if exhausted {
		for _, id := range ids {
			delete(d.attempts, id)
		}
	}
	return exhausted
}

// Returns true if the request was dispatched by this coordinator
// and has not completed yet.
func (d *Distributor) InFlight(id int64) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.inFlight[id]
	return ok
}

// Forgets completed requests. Returns the agents of the builds that
// have no incomplete requests left, once per build.
func (d *Distributor) Release(ids []int64) []string {
	d.mu.Lock()
	names := []string{}
	for _, id := range ids {
		if build, ok := d.inFlight[id]; ok {
			delete(d.inFlight, id)
			build.remaining--
			if build.remaining == 0 {
				names = append(names, build.agent)
			}
		}
		delete(d.attempts, id)
	}
	d.mu.Unlock()

	d.resolver.Invalidate(ids...)

	sort.Strings(names)
	return names
}
