package scheduler

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/srand/jolt/coordinator/pkg/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClaimManagerAllOrNothing(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	_, brids := addTestBuildset(t, s, []string{"linux", "windows"})

	a := NewClaimManager(s, "a")
	b := NewClaimManager(s, "b")

	require.NoError(t, a.Claim(ctx, []int64{brids["linux"]}))

	err := b.Claim(ctx, []int64{brids["linux"], brids["windows"]})
	assert.ErrorIs(t, err, store.ErrAlreadyClaimed)

	windows, err := s.GetRequest(ctx, brids["windows"])
	require.NoError(t, err)
	assert.False(t, windows.Claimed())

	linux, err := s.GetRequest(ctx, brids["linux"])
	require.NoError(t, err)
	assert.Equal(t, "a", linux.ClaimedBy)
}

func TestClaimManagerUnclaim(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	_, brids := addTestBuildset(t, s, []string{"linux"})
	ids := []int64{brids["linux"]}

	a := NewClaimManager(s, "a")
	b := NewClaimManager(s, "b")

	require.NoError(t, a.Claim(ctx, ids))

	// Not the owner, nothing happens
	require.NoError(t, b.Unclaim(ctx, ids))
	assert.ErrorIs(t, b.Claim(ctx, ids), store.ErrAlreadyClaimed)

	require.NoError(t, a.Unclaim(ctx, ids))
	require.NoError(t, a.Unclaim(ctx, ids))
	require.NoError(t, b.Claim(ctx, ids))
}

func TestClaimManagerConcurrentClaims(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	_, brids := addTestBuildset(t, s, []string{"a", "b", "c"})

	ids := []int64{brids["a"], brids["b"], brids["c"]}

	var wg sync.WaitGroup
	var mu sync.Mutex
	winners := []string{}

	for i := 0; i < 8; i++ {
		owner := fmt.Sprintf("coordinator-%d", i)
		manager := NewClaimManager(s, owner)

		// Overlapping subsets of the same requests
		subset := ids[i%2:]

		wg.Add(1)
		go func() {
			defer wg.Done()

			err := manager.Claim(ctx, subset)
			if err == nil {
				mu.Lock()
				winners = append(winners, owner)
				mu.Unlock()
				return
			}
			assert.ErrorIs(t, err, store.ErrAlreadyClaimed)
		}()
	}
	wg.Wait()

	require.Len(t, winners, 1)

	requests, err := s.ListRequests(ctx, store.RequestFilter{IDs: ids, Claimed: store.Bool(true)})
	require.NoError(t, err)
	for _, request := range requests {
		assert.Equal(t, winners[0], request.ClaimedBy)
	}
}
