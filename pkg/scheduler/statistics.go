package scheduler

import "sync/atomic"

// Counters updated by the distributor and the completion tracker.
type Statistics struct {
	claims             int64
	claimConflicts     int64
	dispatches         int64
	dispatchFailures   int64
	giveUps            int64
	buildsetsCompleted int64
	completionRaces    int64
	passes             int64
	activePasses       int64
	storageErrors      int64
}

// A point in time copy of the statistics.
type StatisticsSnapshot struct {
	// Number of successful claims
	Claims int64

	// Number of claims lost to another coordinator
	ClaimConflicts int64

	// Number of builds started on agents
	Dispatches int64

	// Number of builds agents refused to start
	DispatchFailures int64

	// Number of times request dispatching was given up
	GiveUps int64

	// Number of buildsets completed by this coordinator
	BuildsetsCompleted int64

	// Number of buildset completions lost to a concurrent evaluation
	CompletionRaces int64

	// Number of scheduling passes
	Passes int64

	// Number of scheduling passes in progress
	ActivePasses int64

	// Number of passes ended by a storage or agent pool error
	StorageErrors int64

	// Number of builders waiting for a scheduling pass
	PendingBuilders int64
}

func (s *Statistics) Snapshot() *StatisticsSnapshot {
	return &StatisticsSnapshot{
		Claims:             atomic.LoadInt64(&s.claims),
		ClaimConflicts:     atomic.LoadInt64(&s.claimConflicts),
		Dispatches:         atomic.LoadInt64(&s.dispatches),
		DispatchFailures:   atomic.LoadInt64(&s.dispatchFailures),
		GiveUps:            atomic.LoadInt64(&s.giveUps),
		BuildsetsCompleted: atomic.LoadInt64(&s.buildsetsCompleted),
		CompletionRaces:    atomic.LoadInt64(&s.completionRaces),
		Passes:             atomic.LoadInt64(&s.passes),
		ActivePasses:       atomic.LoadInt64(&s.activePasses),
		StorageErrors:      atomic.LoadInt64(&s.storageErrors),
	}
}
