package scheduler

import (
	"context"
	"fmt"
	"strconv"

	"github.com/srand/jolt/coordinator/pkg/protocol"
	"github.com/srand/jolt/coordinator/pkg/store"
	"github.com/srand/jolt/coordinator/pkg/utils"
)

// A build request together with the sources and properties of its buildset.
type Request struct {
	*store.BuildRequest

	SourceStamps []protocol.SourceStamp
	Properties   map[string]string
}

// Implementation of utils.LRUItem
func (r *Request) Key() string {
	return strconv.FormatInt(r.ID, 10)
}

// Implementation of utils.LRUItem
func (r *Request) Size() int64 {
	return 1
}

// Platform properties an agent must provide to build the request.
func (r *Request) Requirements() *Platform {
	return PlatformFromProperties(r.Properties)
}

func requestIDs(requests []*Request) []int64 {
	ids := make([]int64, len(requests))
	for i, req := range requests {
		ids[i] = req.ID
	}
	return ids
}

// Compares requests by urgency: priority ascending, then
// submission time ascending, then id.
func compareRequests(a, b *Request) int {
	if a.Priority != b.Priority {
		if a.Priority < b.Priority {
			return -1
		}
		return 1
	}

	if !a.SubmittedAt.Equal(b.SubmittedAt) {
		if a.SubmittedAt.Before(b.SubmittedAt) {
			return -1
		}
		return 1
	}

	switch {
	case a.ID < b.ID:
		return -1
	case a.ID > b.ID:
		return 1
	}
	return 0
}

// Resolves build requests into Requests.
// Sources and properties of a buildset never change, so resolved requests
// are cached until they are invalidated or evicted.
type requestResolver struct {
	storage Storage
	cache   *utils.LRU[*Request]
}

func newRequestResolver(storage Storage, size int) *requestResolver {
	if size <= 0 {
		size = 1000
	}
	return &requestResolver{
		storage: storage,
		cache:   utils.NewLRU[*Request](int64(size), nil),
	}
}

func (r *requestResolver) Resolve(ctx context.Context, br *store.BuildRequest) (*Request, error) {
	if cached, ok := r.cache.Get(strconv.FormatInt(br.ID, 10)); ok {
		// Claim state may have changed since the request was cached
		return &Request{
			BuildRequest: br,
			SourceStamps: cached.SourceStamps,
			Properties:   cached.Properties,
		}, nil
	}

	stamps, err := r.storage.GetSourceStamps(ctx, br.BuildsetID)
	if err != nil {
		return nil, fmt.Errorf("resolve request %d: %w", br.ID, err)
	}

	props, err := r.storage.GetBuildsetProperties(ctx, br.BuildsetID)
	if err != nil {
		return nil, fmt.Errorf("resolve request %d: %w", br.ID, err)
	}

	req := &Request{
		BuildRequest: br,
		SourceStamps: stamps,
		Properties:   props,
	}
	r.cache.Add(req)
	return req, nil
}

func (r *requestResolver) ResolveAll(ctx context.Context, brs []*store.BuildRequest) ([]*Request, error) {
	requests := make([]*Request, 0, len(brs))
	for _, br := range brs {
		req, err := r.Resolve(ctx, br)
		if err != nil {
			return nil, err
		}
		requests = append(requests, req)
	}
	return requests, nil
}

// Drops requests that were merged, claimed elsewhere or completed.
func (r *requestResolver) Invalidate(ids ...int64) {
	for _, id := range ids {
		r.cache.Remove(strconv.FormatInt(id, 10))
	}
}

func (r *requestResolver) Len() int {
	return r.cache.Len()
}
