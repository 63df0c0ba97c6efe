package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/srand/jolt/coordinator/pkg/log"
	"github.com/srand/jolt/coordinator/pkg/store"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("github.com/srand/jolt/coordinator/pkg/scheduler")

// Claims build requests on behalf of one coordinator.
// Every operation is a single storage transaction, nothing is retried.
type ClaimManager struct {
	storage Storage
	owner   string
	now     func() time.Time
	logger  *log.Logger
}

func NewClaimManager(storage Storage, owner string) *ClaimManager {
	return &ClaimManager{
		storage: storage,
		owner:   owner,
		now:     time.Now,
		logger:  log.Component("claims"),
	}
}

// The owner token stored in claimed requests.
func (m *ClaimManager) Owner() string {
	return m.owner
}

// Claims all requests, or none. Fails with store.ErrAlreadyClaimed if
// another coordinator got there first.
func (m *ClaimManager) Claim(ctx context.Context, ids []int64) error {
	ctx, span := tracer.Start(ctx, "claims.claim")
	defer span.End()
	span.SetAttributes(attribute.Int64Slice("request.ids", ids))

	err := m.storage.ClaimRequests(ctx, ids, m.owner, m.now())
	switch {
	case err == nil:
		m.logger.Debugf("ack - claim - ids: %v", ids)
	case errors.Is(err, store.ErrAlreadyClaimed):
		m.logger.Debugf("nok - claim - ids: %v", ids)
		span.SetAttributes(attribute.Bool("claim.conflict", true))
	default:
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

// Releases claims held by this coordinator. Idempotent.
func (m *ClaimManager) Unclaim(ctx context.Context, ids []int64) error {
	err := m.storage.UnclaimRequests(ctx, ids, m.owner)
	if err == nil {
		m.logger.Debugf("del - claim - ids: %v", ids)
	}
	return err
}
