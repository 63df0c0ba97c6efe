package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/srand/jolt/coordinator/pkg/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompareRequests(t *testing.T) {
	at := time.Now()
	request := func(id int64, priority int, submitted time.Time) *Request {
		return &Request{BuildRequest: &store.BuildRequest{ID: id, Priority: priority, SubmittedAt: submitted}}
	}

	assert.Equal(t, -1, compareRequests(request(2, 0, at), request(1, 1, at)))
	assert.Equal(t, -1, compareRequests(request(2, 0, at), request(1, 0, at.Add(time.Second))))
	assert.Equal(t, -1, compareRequests(request(1, 0, at), request(2, 0, at)))
	assert.Equal(t, 1, compareRequests(request(2, 0, at), request(1, 0, at)))
	assert.Equal(t, 0, compareRequests(request(1, 0, at), request(1, 0, at)))
}

func TestRequestResolver(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	_, brids := addTestBuildset(t, s, []string{"b"}, withProperty("platform.os", "linux"))

	resolver := newRequestResolver(s, 10)

	br, err := s.GetRequest(ctx, brids["b"])
	require.NoError(t, err)

	request, err := resolver.Resolve(ctx, br)
	require.NoError(t, err)
	assert.Equal(t, "linux", request.Properties["platform.os"])
	assert.Equal(t, "r1", request.SourceStamps[0].Revision)
	assert.Equal(t, 1, resolver.Len())

	os, ok := request.Requirements().GetPropertiesForKey("os")
	assert.True(t, ok)
	assert.Equal(t, []string{"linux"}, os)

	// Cached, but with the latest claim state
	require.NoError(t, s.ClaimRequests(ctx, []int64{br.ID}, "owner", time.Now()))
	br, err = s.GetRequest(ctx, brids["b"])
	require.NoError(t, err)

	cached, err := resolver.Resolve(ctx, br)
	require.NoError(t, err)
	assert.True(t, cached.Claimed())
	assert.Equal(t, request.Properties, cached.Properties)

	resolver.Invalidate(br.ID)
	assert.Equal(t, 0, resolver.Len())
}
