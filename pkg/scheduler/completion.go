package scheduler

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/srand/jolt/coordinator/pkg/log"
	"github.com/srand/jolt/coordinator/pkg/protocol"
	"github.com/srand/jolt/coordinator/pkg/store"
	"github.com/srand/jolt/coordinator/pkg/utils"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Completes requests and the buildsets they belong to.
type CompletionTracker struct {
	storage Storage
	claims  *ClaimManager
	events  EventSink
	stats   *Statistics
	now     func() time.Time
	logger  *log.Logger
}

func NewCompletionTracker(storage Storage, claims *ClaimManager, events EventSink, stats *Statistics) *CompletionTracker {
	if stats == nil {
		stats = &Statistics{}
	}
	return &CompletionTracker{
		storage: storage,
		claims:  claims,
		events:  events,
		stats:   stats,
		now:     time.Now,
		logger:  log.Component("tracker"),
	}
}

func (t *CompletionTracker) OnRequestComplete(ctx context.Context, id int64, result protocol.Result) error {
	return t.CompleteRequests(ctx, []int64{id}, result)
}

// Completes requests claimed by this coordinator, then completes
// their buildsets if all sibling requests are complete.
func (t *CompletionTracker) CompleteRequests(ctx context.Context, ids []int64, result protocol.Result) error {
	if !result.Valid() || result == protocol.ResultNone {
		return fmt.Errorf("%w: invalid result %v", utils.ErrBadRequest, result)
	}

	if err := t.storage.CompleteRequests(ctx, ids, t.claims.Owner(), result, t.now()); err != nil {
		return err
	}
	t.logger.Debugf("del - request - ids: %v, result: %v", ids, result)

	return t.evaluateBuildsetsOf(ctx, ids)
}

func (t *CompletionTracker) evaluateBuildsetsOf(ctx context.Context, ids []int64) error {
	requests, err := t.storage.ListRequests(ctx, store.RequestFilter{IDs: ids})
	if err != nil {
		return err
	}

	seen := map[int64]bool{}
	for _, request := range requests {
		if seen[request.BuildsetID] {
			continue
		}
		seen[request.BuildsetID] = true

		if _, err := t.EvaluateBuildset(ctx, request.BuildsetID); err != nil {
			return err
		}
	}
	return nil
}

// Completes the buildset if all of its requests are complete.
// Returns true if this call completed it. Losing the race to another
// evaluation is not an error.
func (t *CompletionTracker) EvaluateBuildset(ctx context.Context, bsid int64) (bool, error) {
	ctx, span := tracer.Start(ctx, "tracker.evaluate", trace.WithAttributes(attribute.Int64("buildset.id", bsid)))
	defer span.End()

	// Always read from storage, other coordinators complete requests too
	siblings, err := t.storage.ListRequests(ctx, store.RequestFilter{BuildsetID: bsid})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return false, err
	}

	results := make([]protocol.Result, 0, len(siblings))
	for _, sibling := range siblings {
		if !sibling.Complete {
			return false, nil
		}
		results = append(results, sibling.Result)
	}

	result := protocol.Aggregate(results...)

	completed, err := t.storage.CompleteBuildset(ctx, bsid, result, t.now())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return false, err
	}

	if !completed {
		t.logger.Tracef("ign - buildset - already complete - id: %d", bsid)
		atomic.AddInt64(&t.stats.completionRaces, 1)
		return false, nil
	}

	t.logger.Infof("del - buildset - id: %d, result: %v", bsid, result)
	atomic.AddInt64(&t.stats.buildsetsCompleted, 1)
	span.SetAttributes(attribute.String("buildset.result", result.String()))

	if t.events != nil {
		t.events.BuildsetComplete(bsid, result)
	}
	return true, nil
}

// Cancels an unclaimed request. Fails with store.ErrAlreadyClaimed
// if a coordinator has claimed or completed it.
func (t *CompletionTracker) CancelRequest(ctx context.Context, id int64) error {
	request, err := t.storage.GetRequest(ctx, id)
	if err != nil {
		return err
	}

	if request.Claimed() || request.Complete {
		return fmt.Errorf("%w: request %d", store.ErrAlreadyClaimed, id)
	}

	// A pass may claim the request after the check above
	if err := t.storage.CancelRequest(ctx, id, t.now()); err != nil {
		return err
	}

	t.logger.Infof("del - request - cancelled - id: %d", id)

	if t.events != nil {
		t.events.RequestRemoved(request.BuildsetID, id)
	}

	_, err = t.EvaluateBuildset(ctx, request.BuildsetID)
	return err
}
