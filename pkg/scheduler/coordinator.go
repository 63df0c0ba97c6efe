package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/srand/jolt/coordinator/pkg/log"
	"github.com/srand/jolt/coordinator/pkg/protocol"
	"github.com/srand/jolt/coordinator/pkg/store"
	"github.com/srand/jolt/coordinator/pkg/utils"
)

// How long shutdown waits for an in-flight dispatch.
const shutdownTimeout = 30 * time.Second

// Collaborators of a coordinator, constructed by the caller.
type Services struct {
	Storage    CoordinatorStorage
	Pool       AgentPool
	Dispatcher Dispatcher

	// Optional, created if nil
	Events *Events

	// Optional, called with true when the coordinator starts
	// scheduling and with false when it stops.
	OnStatusChange func(serving bool)
}

// One coordinator process. Owns the claim manager, the distributor
// and the completion tracker, and keeps its registration alive.
type Coordinator struct {
	config      *Config
	owner       string
	storage     CoordinatorStorage
	pool        AgentPool
	claims      *ClaimManager
	tracker     *CompletionTracker
	distributor *Distributor
	events      *Events
	stats       *Statistics
	onStatus    func(serving bool)
	now         func() time.Time
	logger      *log.Logger

	// Channel used to trigger rescheduling of all pending builders
	rescheduleChan chan bool
}

func NewCoordinator(config *Config, services Services) (*Coordinator, error) {
	if services.Storage == nil || services.Pool == nil || services.Dispatcher == nil {
		return nil, errors.New("coordinator requires storage, agent pool and dispatcher")
	}

	builders := make([]*Builder, 0, len(config.Builders))
	for _, bc := range config.Builders {
		builder, err := NewBuilder(bc)
		if err != nil {
			return nil, err
		}
		builders = append(builders, builder)
	}

	events := services.Events
	if events == nil {
		events = NewEvents()
	}

	c := &Coordinator{
		config:         config,
		owner:          uuid.NewString(),
		storage:        services.Storage,
		pool:           services.Pool,
		events:         events,
		stats:          &Statistics{},
		onStatus:       services.OnStatusChange,
		now:            time.Now,
		logger:         log.Component("coordinator"),
		rescheduleChan: make(chan bool, 1),
	}

	c.claims = NewClaimManager(c.storage, c.owner)
	c.tracker = NewCompletionTracker(c.storage, c.claims, c.events, c.stats)
	c.distributor = NewDistributor(DistributorConfig{
		Storage:          c.storage,
		Pool:             c.pool,
		Dispatcher:       services.Dispatcher,
		Claims:           c.claims,
		Builders:         builders,
		RequestCacheSize: config.RequestCacheSize,
		Statistics:       c.stats,
		GiveUp:           c.giveUp,
	})

	return c, nil
}

func (c *Coordinator) Name() string {
	return c.config.Name
}

// The owner token of this process, stored in claimed requests.
func (c *Coordinator) Owner() string {
	return c.owner
}

func (c *Coordinator) Events() *Events {
	return c.events
}

func (c *Coordinator) Distributor() *Distributor {
	return c.distributor
}

func (c *Coordinator) Tracker() *CompletionTracker {
	return c.tracker
}

// Registers the coordinator and schedules until ctx is cancelled.
func (c *Coordinator) Run(ctx context.Context) error {
	if err := c.storage.RegisterCoordinator(ctx, c.config.Name, c.owner, c.now()); err != nil {
		return err
	}

	c.logger.Infof("new - coordinator - name: %s, owner: %s", c.config.Name, c.owner)
	c.setStatus(true)

	ticker := time.NewTicker(c.config.HeartbeatInterval)
	defer ticker.Stop()

	c.heartbeat(ctx)

	for {
		select {
		case <-ctx.Done():
			return c.shutdown()

		case <-ticker.C:
			c.heartbeat(ctx)

		case <-c.rescheduleChan:
			c.logger.Trace("rescheduling")
			c.notifyPending(ctx)
		}
	}
}

func (c *Coordinator) setStatus(serving bool) {
	if c.onStatus != nil {
		c.onStatus(serving)
	}
}

func (c *Coordinator) shutdown() error {
	c.setStatus(false)

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	err := c.distributor.Stop(ctx)
	if err != nil {
		c.logger.Errorf("nok - stop - %v", err)
	}

	if err := c.storage.MarkInactive(ctx, c.owner); err != nil {
		c.logger.Errorf("nok - deactivate - %v", err)
	}

	c.events.Close()
	c.logger.Infof("del - coordinator - name: %s", c.config.Name)
	return err
}

// Refreshes the registration, releases claims of silent coordinators
// and schedules whatever is pending.
func (c *Coordinator) heartbeat(ctx context.Context) {
	now := c.now()

	if err := c.storage.Heartbeat(ctx, c.owner, now); err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			c.logger.Errorf("nok - heartbeat - %v", err)
			return
		}

		c.logger.Warn("heartbeat - registration lost, registering again")
		if err := c.storage.RegisterCoordinator(ctx, c.config.Name, c.owner, now); err != nil {
			c.logger.Errorf("nok - register - %v", err)
			return
		}
	}

	if _, err := c.storage.ExpireCoordinators(ctx, now.Add(-c.config.StaleAfter)); err != nil {
		c.logger.Errorf("nok - expire - %v", err)
	}

	c.notifyPending(ctx)
}

// Notifies builders with unclaimed requests, and builders that may
// have requests to resume.
func (c *Coordinator) notifyPending(ctx context.Context) {
	builders, err := c.storage.PendingBuilders(ctx)
	if err != nil {
		c.logger.Errorf("nok - pending builders - %v", err)
		return
	}

	for _, name := range c.distributor.Builders() {
		if c.distributor.builders[name].Strategy == ChooserPriorityResume {
			builders = append(builders, name)
		}
	}

	c.distributor.Notify(builders...)
}

// Request the coordinator to schedule the builders, or all builders
// with pending requests if none are given.
func (c *Coordinator) Reschedule(builders ...string) {
	if len(builders) > 0 {
		c.distributor.Notify(builders...)
		return
	}

	select {
	case c.rescheduleChan <- true:
	default:
	}
}

func (c *Coordinator) AddBuildset(ctx context.Context, request *protocol.CreateBuildsetRequest) (*protocol.CreateBuildsetResponse, error) {
	if len(request.Builders) == 0 {
		return nil, fmt.Errorf("%w: no builders", utils.ErrBadRequest)
	}

	for _, builder := range request.Builders {
		if !c.distributor.HasBuilder(builder) {
			return nil, fmt.Errorf("%w: unknown builder %s", utils.ErrBadRequest, builder)
		}
	}

	bsid, brids, err := c.storage.AddBuildset(ctx, store.NewBuildset{
		Reason:       request.Reason,
		ExternalID:   request.ExternalID,
		Builders:     request.Builders,
		SourceStamps: request.SourceStamps,
		Properties:   request.Properties,
		Priority:     request.Priority,
		SubmittedAt:  c.now(),
	})
	if err != nil {
		return nil, err
	}

	c.logger.Infof("new - buildset - id: %d, builders: %v", bsid, request.Builders)
	c.distributor.Notify(request.Builders...)

	return &protocol.CreateBuildsetResponse{BuildsetID: bsid, Requests: brids}, nil
}

func (c *Coordinator) GetBuildset(ctx context.Context, id int64) (*protocol.Buildset, error) {
	bs, err := c.storage.GetBuildset(ctx, id)
	if err != nil {
		return nil, err
	}

	stamps, err := c.storage.GetSourceStamps(ctx, id)
	if err != nil {
		return nil, err
	}

	props, err := c.storage.GetBuildsetProperties(ctx, id)
	if err != nil {
		return nil, err
	}

	requests, err := c.ListRequests(ctx, store.RequestFilter{BuildsetID: id})
	if err != nil {
		return nil, err
	}

	result := bs.Protocol()
	result.SourceStamps = stamps
	result.Properties = props
	result.Requests = requests
	return &result, nil
}

func (c *Coordinator) ListRequests(ctx context.Context, filter store.RequestFilter) ([]protocol.BuildRequest, error) {
	brs, err := c.storage.ListRequests(ctx, filter)
	if err != nil {
		return nil, err
	}

	requests := make([]protocol.BuildRequest, len(brs))
	for i, br := range brs {
		requests[i] = br.Protocol()
	}
	return requests, nil
}

// Completes requests dispatched by this coordinator and frees their agents.
// Agents are freed even if the requests could not be completed, as the
// build has finished either way. An invalid result frees nothing.
func (c *Coordinator) CompleteRequests(ctx context.Context, ids []int64, result protocol.Result) error {
	err := c.tracker.CompleteRequests(ctx, ids, result)
	if errors.Is(err, utils.ErrBadRequest) {
		return err
	}

	c.release(ids)
	return err
}

func (c *Coordinator) CancelRequest(ctx context.Context, id int64) error {
	return c.tracker.CancelRequest(ctx, id)
}

func (c *Coordinator) release(ids []int64) {
	agents := c.distributor.Release(ids)

	if releaser, ok := c.pool.(AgentReleaser); ok {
		for _, agent := range agents {
			releaser.ReleaseAgent(agent)
		}
	}

	// Freed agents may build for any builder
	c.Reschedule()
}

// Completes requests that could not be dispatched with an exception.
func (c *Coordinator) giveUp(ctx context.Context, builder string, requests []*Request) {
	ids := requestIDs(requests)

	if err := c.tracker.CompleteRequests(ctx, ids, protocol.ResultException); err != nil {
		c.logger.Errorf("nok - give up - builder: %s, ids: %v, error: %v", builder, ids, err)
		if err := c.claims.Unclaim(ctx, ids); err != nil {
			c.logger.Errorf("nok - unclaim - ids: %v, error: %v", ids, err)
		}
		return
	}

	c.distributor.Release(ids)
}

func (c *Coordinator) Statistics() *StatisticsSnapshot {
	stats := c.stats.Snapshot()
	stats.PendingBuilders = int64(c.distributor.Pending())
	return stats
}
