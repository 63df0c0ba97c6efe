package scheduler

import (
	"context"
	"time"

	"github.com/srand/jolt/coordinator/pkg/protocol"
	"github.com/srand/jolt/coordinator/pkg/store"
)

// Storage used by the claim manager, the build choosers, the distributor
// and the completion tracker. Implemented by *store.Store.
type Storage interface {
	// List requests, most urgent first.
	ListRequests(ctx context.Context, filter store.RequestFilter) ([]*store.BuildRequest, error)

	GetRequest(ctx context.Context, id int64) (*store.BuildRequest, error)

	// Claim all requests or none. Fails with store.ErrAlreadyClaimed.
	ClaimRequests(ctx context.Context, ids []int64, owner string, at time.Time) error

	// Release claims held by owner. Idempotent.
	UnclaimRequests(ctx context.Context, ids []int64, owner string) error

	// Complete requests claimed by owner. Fails with store.ErrNotClaimed.
	CompleteRequests(ctx context.Context, ids []int64, owner string, result protocol.Result, at time.Time) error

	// Complete an unclaimed request as cancelled in one conditional update.
	// Fails with store.ErrAlreadyClaimed if it is claimed or complete.
	CancelRequest(ctx context.Context, id int64, at time.Time) error

	GetBuildset(ctx context.Context, id int64) (*store.Buildset, error)

	// Mark the buildset complete unless it already is.
	// Returns false if it already was.
	CompleteBuildset(ctx context.Context, id int64, result protocol.Result, at time.Time) (bool, error)

	GetSourceStamps(ctx context.Context, bsid int64) ([]protocol.SourceStamp, error)

	GetBuildsetProperties(ctx context.Context, bsid int64) (map[string]string, error)

	OldestUnclaimedSubmission(ctx context.Context, builder string) (time.Time, bool, error)

	PendingBuilders(ctx context.Context) ([]string, error)
}

// Storage needed by the coordinator in addition to Storage.
type CoordinatorStorage interface {
	Storage

	AddBuildset(ctx context.Context, nb store.NewBuildset) (int64, map[string]int64, error)

	RegisterCoordinator(ctx context.Context, name, owner string, at time.Time) error

	Heartbeat(ctx context.Context, owner string, at time.Time) error

	ExpireCoordinators(ctx context.Context, staleBefore time.Time) ([]string, error)

	MarkInactive(ctx context.Context, owner string) error
}
