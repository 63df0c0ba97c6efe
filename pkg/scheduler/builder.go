package scheduler

import (
	"fmt"
	"math/rand"
	"reflect"
	"sort"
)

// Returns true if request b may be built together with request a.
type CanMergeFunc func(a, b *Request) bool

// Selects one of the candidate agents for the request.
type SelectAgentFunc func(agents []Agent, request *Request) Agent

// Selects the next request to build among the candidates,
// which are ordered most urgent first.
type ChooseRequestFunc func(requests []*Request) *Request

// A class of builds and the policies used to schedule them.
type Builder struct {
	Name string

	// Chooser strategy used for the builder.
	Strategy ChooserStrategy

	// Properties agents must provide to build for the builder.
	Requirements *Platform

	// Requests are never merged if nil.
	CanMerge CanMergeFunc

	// Random agent if nil.
	SelectAgent SelectAgentFunc

	// Most urgent request if nil.
	ChooseRequest ChooseRequestFunc

	// Number of failed dispatches of a request before giving up.
	MaxDispatchAttempts int
}

func NewBuilder(config BuilderConfig) (*Builder, error) {
	strategy, err := ParseChooserStrategy(config.Chooser)
	if err != nil {
		return nil, fmt.Errorf("builder %s: %w", config.Name, err)
	}

	requirements, err := ParsePlatform(config.Platform)
	if err != nil {
		return nil, fmt.Errorf("builder %s: %w", config.Name, err)
	}

	builder := &Builder{
		Name:                config.Name,
		Strategy:            strategy,
		Requirements:        requirements,
		MaxDispatchAttempts: config.MaxDispatchAttempts,
	}

	if config.Merge {
		builder.CanMerge = DefaultCanMerge
	}

	if builder.MaxDispatchAttempts <= 0 {
		builder.MaxDispatchAttempts = DefaultMaxDispatchAttempts
	}

	return builder, nil
}

func (b *Builder) selectAgent(agents []Agent, request *Request) Agent {
	if len(agents) == 0 {
		return nil
	}
	if b.SelectAgent != nil {
		return b.SelectAgent(agents, request)
	}
	return RandomAgent(agents, request)
}

func (b *Builder) chooseRequest(requests []*Request) *Request {
	if len(requests) == 0 {
		return nil
	}
	if b.ChooseRequest != nil {
		return b.ChooseRequest(requests)
	}
	return requests[0]
}

func RandomAgent(agents []Agent, _ *Request) Agent {
	return agents[rand.Intn(len(agents))]
}

// Requests may be merged if their buildsets have the same properties
// and their source stamps refer to the same revisions of the same
// codebases.
func DefaultCanMerge(a, b *Request) bool {
	if len(a.SourceStamps) != len(b.SourceStamps) {
		return false
	}

	as := append(a.SourceStamps[:0:0], a.SourceStamps...)
	bs := append(b.SourceStamps[:0:0], b.SourceStamps...)
	sort.Slice(as, func(i, j int) bool { return as[i].Codebase < as[j].Codebase })
	sort.Slice(bs, func(i, j int) bool { return bs[i].Codebase < bs[j].Codebase })

	for i := range as {
		if as[i] != bs[i] {
			return false
		}
	}

	if len(a.Properties) == 0 && len(b.Properties) == 0 {
		return true
	}
	return reflect.DeepEqual(a.Properties, b.Properties)
}
