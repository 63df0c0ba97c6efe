package scheduler

import (
	"context"
	"fmt"
	"sort"

	"github.com/srand/jolt/coordinator/pkg/store"
)

// Chooses among unclaimed requests, most urgent first.
type basicChooser struct {
	cc     *chooserContext
	picker agentPicker
	agents agentBuckets

	loaded    bool
	unclaimed []*Request
}

func newBasicChooser(cc *chooserContext, picker agentPicker) *basicChooser {
	return &basicChooser{cc: cc, picker: picker}
}

func (c *basicChooser) load(ctx context.Context) error {
	if c.loaded {
		return nil
	}

	requests, err := loadUnclaimed(ctx, c.cc)
	if err != nil {
		return err
	}

	c.unclaimed = requests
	c.loaded = true
	return nil
}

func (c *basicChooser) remove(request *Request) bool {
	for i, r := range c.unclaimed {
		if r.ID == request.ID {
			c.unclaimed = append(c.unclaimed[:i:i], c.unclaimed[i+1:]...)
			return true
		}
	}
	return false
}

func (c *basicChooser) ChooseNextBuild(ctx context.Context) (Agent, []*Request, error) {
	return chooseNextBuild(ctx, c)
}

func (c *basicChooser) PopNextBuild(ctx context.Context) (Agent, *Request, error) {
	if err := c.load(ctx); err != nil {
		return nil, nil, err
	}

	if err := c.picker.load(ctx, &c.agents); err != nil {
		return nil, nil, err
	}

	for len(c.unclaimed) > 0 && !c.agents.empty() {
		request := c.cc.builder.chooseRequest(c.unclaimed)
		if request == nil {
			break
		}

		// Either build it now or leave it for another pass
		if !c.remove(request) {
			panic(fmt.Sprintf("chosen request %d is not pending", request.ID))
		}

		agent, err := c.picker.pick(ctx, &c.agents, request)
		if err != nil {
			return nil, nil, err
		}
		if agent != nil {
			return agent, request, nil
		}

		chooserLog.Tracef("nok - agent - builder: %s, request: %d", c.cc.builder.Name, request.ID)
	}

	return nil, nil, nil
}

func (c *basicChooser) MergeRequests(ctx context.Context, seed *Request) ([]*Request, error) {
	merged := []*Request{seed}
	if c.cc.builder.CanMerge == nil {
		return merged, nil
	}

	remaining := make([]*Request, 0, len(c.unclaimed))
	for _, request := range c.unclaimed {
		if request.ID == seed.ID {
			panic(fmt.Sprintf("request %d merged with itself", seed.ID))
		}

		// Only the seed is compared, merging is not transitive
		if c.cc.builder.CanMerge(seed, request) {
			merged = append(merged, request)
		} else {
			remaining = append(remaining, request)
		}
	}
	c.unclaimed = remaining

	return merged, nil
}

func chooseNextBuild(ctx context.Context, c Chooser) (Agent, []*Request, error) {
	agent, seed, err := c.PopNextBuild(ctx)
	if err != nil || agent == nil {
		return nil, nil, err
	}

	requests, err := c.MergeRequests(ctx, seed)
	if err != nil {
		return nil, nil, err
	}
	return agent, requests, nil
}

// Reads and resolves the unclaimed requests of the builder, most urgent first.
func loadUnclaimed(ctx context.Context, cc *chooserContext) ([]*Request, error) {
	brs, err := cc.storage.ListRequests(ctx, store.RequestFilter{
		Builder:  cc.builder.Name,
		Claimed:  store.Bool(false),
		Complete: store.Bool(false),
	})
	if err != nil {
		return nil, err
	}

	requests, err := cc.resolver.ResolveAll(ctx, brs)
	if err != nil {
		return nil, err
	}

	sort.SliceStable(requests, func(i, j int) bool {
		return compareRequests(requests[i], requests[j]) < 0
	})
	return requests, nil
}
