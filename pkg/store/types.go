package store

import (
	"time"

	"github.com/srand/jolt/coordinator/pkg/protocol"
)

type BuildRequest struct {
	ID          int64
	BuildsetID  int64
	BuilderName string
	// Lower is more urgent
	Priority    int
	SubmittedAt time.Time
	ClaimedAt   *time.Time
	ClaimedBy   string
	Complete    bool
	CompleteAt  *time.Time
	Result      protocol.Result
}

func (r *BuildRequest) Claimed() bool {
	return r.ClaimedAt != nil
}

func (r *BuildRequest) Protocol() protocol.BuildRequest {
	return protocol.BuildRequest{
		ID:          r.ID,
		BuildsetID:  r.BuildsetID,
		Builder:     r.BuilderName,
		Priority:    r.Priority,
		SubmittedAt: r.SubmittedAt,
		ClaimedAt:   r.ClaimedAt,
		ClaimedBy:   r.ClaimedBy,
		Complete:    r.Complete,
		CompleteAt:  r.CompleteAt,
		Result:      r.Result,
	}
}

type Buildset struct {
	ID          int64
	Reason      string
	ExternalID  string
	SubmittedAt time.Time
	Complete    bool
	CompleteAt  *time.Time
	Result      protocol.Result
}

func (b *Buildset) Protocol() protocol.Buildset {
	return protocol.Buildset{
		ID:          b.ID,
		Reason:      b.Reason,
		ExternalID:  b.ExternalID,
		SubmittedAt: b.SubmittedAt,
		Complete:    b.Complete,
		CompleteAt:  b.CompleteAt,
		Result:      b.Result,
	}
}

// Everything needed to create a buildset and its requests in one transaction.
type NewBuildset struct {
	Reason       string
	ExternalID   string
	Builders     []string
	SourceStamps []protocol.SourceStamp
	Properties   map[string]string
	Priority     int
	SubmittedAt  time.Time
}

// Selects build requests. Zero values do not filter.
type RequestFilter struct {
	IDs        []int64
	BuildsetID int64
	Builder    string
	Claimed    *bool
	Complete   *bool
	ClaimedBy  string
}

type Coordinator struct {
	ID         int64
	Name       string
	Owner      string
	Active     bool
	LastActive time.Time
}

func Bool(b bool) *bool {
	return &b
}
