package worker

import (
	"context"
	"fmt"
	"sync"

	"github.com/srand/jolt/coordinator/pkg/log"
	"github.com/srand/jolt/coordinator/pkg/scheduler"
	"github.com/srand/jolt/coordinator/pkg/utils"
)

// An agent from the configuration file.
type agent struct {
	name      string
	url       string
	builders  map[string]bool
	platform  *scheduler.Platform
	maxBuilds int
	running   int
}

func (a *agent) Name() string {
	return a.name
}

func (a *agent) Platform() *scheduler.Platform {
	return a.platform
}

func (a *agent) buildsFor(builder string) bool {
	return len(a.builders) == 0 || a.builders[builder]
}

// Snapshot of an agent's load.
type AgentStatus struct {
	Name      string
	Running   int
	MaxBuilds int
}

// A fixed set of agents, each able to run a limited number of builds.
// Implements scheduler.AgentPool and scheduler.AgentReleaser.
type Pool struct {
	mu     sync.Mutex
	agents []*agent
	byName map[string]*agent
	logger *log.Logger
}

func NewPool(configs []AgentConfig) (*Pool, error) {
	pool := &Pool{
		byName: map[string]*agent{},
		logger: log.Component("agents"),
	}

	for _, config := range configs {
		config.SetDefaults()
		if err := config.Validate(); err != nil {
			return nil, err
		}

		if _, ok := pool.byName[config.Name]; ok {
			return nil, fmt.Errorf("%w: duplicate agent %s", utils.ErrBadRequest, config.Name)
		}

		platform, _ := scheduler.ParsePlatform(config.Platform)

		a := &agent{
			name:      config.Name,
			url:       config.Url,
			builders:  map[string]bool{},
			platform:  platform,
			maxBuilds: config.MaxBuilds,
		}
		for _, builder := range config.Builders {
			a.builders[builder] = true
		}

		pool.agents = append(pool.agents, a)
		pool.byName[a.name] = a
	}

	return pool, nil
}

// Implementation of scheduler.AgentPool
func (p *Pool) ListAvailable(ctx context.Context, builder string) ([]scheduler.Agent, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	agents := []scheduler.Agent{}
	for _, a := range p.agents {
		if a.buildsFor(builder) && a.running < a.maxBuilds {
			agents = append(agents, a)
		}
	}
	return agents, nil
}

// Implementation of scheduler.AgentPool
func (p *Pool) CanGenericallyStart(ctx context.Context, builder string, agent scheduler.Agent) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	a, ok := p.byName[agent.Name()]
	if !ok {
		return false, nil
	}
	return a.buildsFor(builder) && a.running < a.maxBuilds, nil
}

// Implementation of scheduler.AgentPool
func (p *Pool) CanSatisfy(ctx context.Context, agent scheduler.Agent, request *scheduler.Request) (bool, error) {
	return agent.Platform().Fulfills(request.Requirements()), nil
}

// Takes a build slot of the agent. Returns false if all slots are taken.
func (p *Pool) Reserve(name string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	a, ok := p.byName[name]
	if !ok || a.running >= a.maxBuilds {
		return false
	}

	a.running++
	p.logger.Tracef("add - slot - agent: %s, running: %d", name, a.running)
	return true
}

// Implementation of scheduler.AgentReleaser
func (p *Pool) ReleaseAgent(name string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	a, ok := p.byName[name]
	if !ok || a.running == 0 {
		return
	}

	a.running--
	p.logger.Tracef("del - slot - agent: %s, running: %d", name, a.running)
}

func (p *Pool) url(name string) (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	a, ok := p.byName[name]
	if !ok {
		return "", false
	}
	return a.url, true
}

func (p *Pool) Status() []AgentStatus {
	p.mu.Lock()
	defer p.mu.Unlock()

	status := make([]AgentStatus, len(p.agents))
	for i, a := range p.agents {
		status[i] = AgentStatus{Name: a.name, Running: a.running, MaxBuilds: a.maxBuilds}
	}
	return status
}
