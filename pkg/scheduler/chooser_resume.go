package scheduler

import (
	"context"
	"fmt"

	"github.com/srand/jolt/coordinator/pkg/store"
	"github.com/srand/jolt/coordinator/pkg/utils"
)

// Chooses among unclaimed requests and requests claimed by this
// coordinator that are not being built, e.g. because releasing the
// claim after a failed dispatch did not succeed. Requests are kept in
// a priority queue; at equal priority resumed requests go first.
type priorityResumeChooser struct {
	cc     *chooserContext
	picker agentPicker
	agents agentBuckets

	loaded bool
	queue  *utils.PriorityQueue[*Request]
}

func newPriorityResumeChooser(cc *chooserContext, picker agentPicker) *priorityResumeChooser {
	c := &priorityResumeChooser{cc: cc, picker: picker}
	c.queue = utils.NewPriorityQueue[*Request](c.compare, func(a, b *Request) bool {
		return a.ID == b.ID
	})
	return c
}

func (c *priorityResumeChooser) resumable(r *Request) bool {
	return r.Claimed() && r.ClaimedBy == c.cc.owner
}

func (c *priorityResumeChooser) compare(a, b *Request) int {
	if a.Priority != b.Priority {
		return compareRequests(a, b)
	}

	ra, rb := c.resumable(a), c.resumable(b)
	switch {
	case ra && !rb:
		return -1
	case rb && !ra:
		return 1
	}

	return compareRequests(a, b)
}

func (c *priorityResumeChooser) load(ctx context.Context) error {
	if c.loaded {
		return nil
	}

	unclaimed, err := loadUnclaimed(ctx, c.cc)
	if err != nil {
		return err
	}

	brs, err := c.cc.storage.ListRequests(ctx, store.RequestFilter{
		Builder:   c.cc.builder.Name,
		ClaimedBy: c.cc.owner,
		Complete:  store.Bool(false),
	})
	if err != nil {
		return err
	}

	resumable := make([]*store.BuildRequest, 0, len(brs))
	for _, br := range brs {
		if c.cc.inFlight == nil || !c.cc.inFlight(br.ID) {
			resumable = append(resumable, br)
		}
	}

	resumed, err := c.cc.resolver.ResolveAll(ctx, resumable)
	if err != nil {
		return err
	}

	for _, request := range append(unclaimed, resumed...) {
		c.queue.Push(request)
	}

	c.loaded = true
	return nil
}

func (c *priorityResumeChooser) ChooseNextBuild(ctx context.Context) (Agent, []*Request, error) {
	return chooseNextBuild(ctx, c)
}

func (c *priorityResumeChooser) PopNextBuild(ctx context.Context) (Agent, *Request, error) {
	if err := c.load(ctx); err != nil {
		return nil, nil, err
	}

	if err := c.picker.load(ctx, &c.agents); err != nil {
		return nil, nil, err
	}

	for c.queue.Len() > 0 && !c.agents.empty() {
		request := c.cc.builder.chooseRequest(c.queue.Sorted())
		if request == nil {
			break
		}

		if !c.queue.Remove(request) {
			panic(fmt.Sprintf("chosen request %d is not pending", request.ID))
		}

		agent, err := c.picker.pick(ctx, &c.agents, request)
		if err != nil {
			return nil, nil, err
		}
		if agent != nil {
			if c.resumable(request) {
				chooserLog.Debugf("res - request - builder: %s, request: %d", c.cc.builder.Name, request.ID)
			}
			return agent, request, nil
		}

		chooserLog.Tracef("nok - agent - builder: %s, request: %d", c.cc.builder.Name, request.ID)
	}

	return nil, nil, nil
}

func (c *priorityResumeChooser) MergeRequests(ctx context.Context, seed *Request) ([]*Request, error) {
	merged := []*Request{seed}
	if c.cc.builder.CanMerge == nil {
		return merged, nil
	}

	for _, request := range c.queue.Sorted() {
		if request.ID == seed.ID {
			panic(fmt.Sprintf("request %d merged with itself", seed.ID))
		}

		if c.cc.builder.CanMerge(seed, request) {
			c.queue.Remove(request)
			merged = append(merged, request)
		}
	}

	return merged, nil
}
