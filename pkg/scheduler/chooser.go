package scheduler

import (
	"context"
	"fmt"

	"github.com/srand/jolt/coordinator/pkg/log"
	"github.com/srand/jolt/coordinator/pkg/utils"
)

// Selects builds for one builder during one scheduling pass.
// A chooser caches pending requests and available agents when first
// used and must be discarded at the end of the pass.
type Chooser interface {
	// Selects an agent and a set of merged requests to build on it.
	// Returns a nil agent when there is nothing more to do.
	ChooseNextBuild(ctx context.Context) (Agent, []*Request, error)

	// Selects the most urgent request that an agent can build.
	// The request is removed from the chooser.
	PopNextBuild(ctx context.Context) (Agent, *Request, error)

	// Removes and returns all pending requests that can be merged with
	// the seed. The seed is always the first request of the result.
	MergeRequests(ctx context.Context, seed *Request) ([]*Request, error)
}

type ChooserStrategy string

const (
	// Schedules unclaimed requests.
	ChooserBasic ChooserStrategy = "basic"

	// Also resumes requests claimed by this coordinator which are
	// no longer being built, ahead of unclaimed requests of the same
	// priority.
	ChooserPriorityResume ChooserStrategy = "priority_resume"
)

func ParseChooserStrategy(name string) (ChooserStrategy, error) {
	switch ChooserStrategy(name) {
	case "", ChooserBasic:
		return ChooserBasic, nil
	case ChooserPriorityResume:
		return ChooserPriorityResume, nil
	}
	return "", fmt.Errorf("%w: unknown chooser: %s", utils.ErrBadRequest, name)
}

// Everything a chooser needs from its distributor.
type chooserContext struct {
	builder  *Builder
	storage  Storage
	pool     AgentPool
	resolver *requestResolver
	owner    string

	// Returns true if the request has been dispatched by this coordinator.
	inFlight func(id int64) bool
}

func newChooser(cc *chooserContext) Chooser {
	picker := agentPicker{builder: cc.builder, pool: cc.pool}

	switch cc.builder.Strategy {
	case ChooserPriorityResume:
		return newPriorityResumeChooser(cc, picker)
	default:
		return newBasicChooser(cc, picker)
	}
}

var chooserLog = log.Component("chooser")
