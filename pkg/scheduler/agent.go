package scheduler

import "context"

// An execution agent able to run builds.
type Agent interface {
	// Unique name of the agent.
	Name() string

	// The platform properties provided by the agent.
	Platform() *Platform
}

// The agents known to the coordinator.
type AgentPool interface {
	// Returns the agents currently able to accept a build for the builder.
	ListAvailable(ctx context.Context, builder string) ([]Agent, error)

	// Returns true if the agent can start a build for the builder
	// at all, regardless of which request is built.
	CanGenericallyStart(ctx context.Context, builder string, agent Agent) (bool, error)

	// Returns true if the agent can build the request.
	CanSatisfy(ctx context.Context, agent Agent, request *Request) (bool, error)
}

// Implemented by agent pools that track how many builds an agent runs.
type AgentReleaser interface {
	// Called when a build dispatched to the agent has completed.
	ReleaseAgent(name string)
}

// Hands claimed requests to an agent.
type Dispatcher interface {
	// Starts a build of the requests on the agent.
	// Returns false if the build could not be started.
	Dispatch(ctx context.Context, builder string, agent Agent, requests []*Request) (bool, error)
}
