package scheduler

import "context"

// The agents of one scheduling pass, partitioned by how they responded
// to earlier requests. Owned by a chooser.
type agentBuckets struct {
	loaded bool

	// Not tried yet
	pool []Agent

	// Able to start a build for the builder, but declined an earlier
	// request. Tried first.
	recycled []Agent

	// Not able to start a build for the builder when tried. Tried last.
	rejected []Agent
}

func (b *agentBuckets) empty() bool {
	return len(b.pool) == 0 && len(b.recycled) == 0 && len(b.rejected) == 0
}

// Assigns agents to requests. Shared by all chooser strategies;
// all state lives in the agentBuckets passed in.
type agentPicker struct {
	builder *Builder
	pool    AgentPool
}

// Fetches the available agents the first time it is called.
func (p agentPicker) load(ctx context.Context, b *agentBuckets) error {
	if b.loaded {
		return nil
	}

	agents, err := p.pool.ListAvailable(ctx, p.builder.Name)
	if err != nil {
		return err
	}

	b.pool = append([]Agent{}, agents...)
	b.loaded = true
	return nil
}

func (p agentPicker) canStart(ctx context.Context, agent Agent) (bool, error) {
	if !agent.Platform().Fulfills(p.builder.Requirements) {
		return false, nil
	}
	return p.pool.CanGenericallyStart(ctx, p.builder.Name, agent)
}

// Returns an agent able to build the request and removes it from the
// buckets, or nil if there is none. Agents which decline the request
// are kept for later requests.
func (p agentPicker) pick(ctx context.Context, b *agentBuckets, request *Request) (Agent, error) {
	declined := []Agent{}
	defer func() {
		b.recycled = append(b.recycled, declined...)
	}()

	for len(b.recycled) > 0 {
		agent := b.recycled[0]
		b.recycled = b.recycled[1:]

		ok, err := p.pool.CanSatisfy(ctx, agent, request)
		if err != nil {
			return nil, err
		}
		if ok {
			return agent, nil
		}
		declined = append(declined, agent)
	}

	for len(b.pool) > 0 {
		agent := p.builder.selectAgent(b.pool, request)

		var found bool
		if b.pool, found = removeAgent(b.pool, agent); !found {
			// Selection policy declined all candidates
			break
		}

		ok, err := p.canStart(ctx, agent)
		if err != nil {
			return nil, err
		}
		if !ok {
			b.rejected = append(b.rejected, agent)
			continue
		}

		ok, err = p.pool.CanSatisfy(ctx, agent, request)
		if err != nil {
			return nil, err
		}
		if ok {
			return agent, nil
		}
		declined = append(declined, agent)
	}

	// Last resort, rejected agents may have become able to start
	for i := 0; i < len(b.rejected); i++ {
		agent := b.rejected[i]

		ok, err := p.canStart(ctx, agent)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}

		b.rejected = append(b.rejected[:i:i], b.rejected[i+1:]...)
		i--

		ok, err = p.pool.CanSatisfy(ctx, agent, request)
		if err != nil {
			return nil, err
		}
		if ok {
			return agent, nil
		}
		declined = append(declined, agent)
	}

	return nil, nil
}

func removeAgent(agents []Agent, agent Agent) ([]Agent, bool) {
	if agent == nil {
		return agents, false
	}
	for i, a := range agents {
		if a == agent {
			return append(agents[:i:i], agents[i+1:]...), true
		}
	}
	return agents, false
}
