package scheduler

import (
	"sync"
	"time"

	"github.com/srand/jolt/coordinator/pkg/protocol"
	"github.com/srand/jolt/coordinator/pkg/utils"
)

// Receives notifications about buildsets and requests.
// Implementations must not block.
type EventSink interface {
	// A buildset completed with the aggregated result.
	BuildsetComplete(bsid int64, result protocol.Result)

	// A request was removed from scheduling without being built.
	RequestRemoved(bsid, brid int64)
}

// Fans out events to registered sinks and to channel subscribers.
// Subscribers that do not keep up lose events.
type Events struct {
	sync.RWMutex
	observers []EventSink
	broadcast *utils.Broadcast[protocol.Event]
	now       func() time.Time
}

func NewEvents() *Events {
	return &Events{
		broadcast: utils.NewBroadcast[protocol.Event](100),
		now:       time.Now,
	}
}

func (e *Events) AddObserver(sink EventSink) {
	e.Lock()
	defer e.Unlock()

	e.observers = append(e.observers, sink)
}

// Returns a consumer receiving all future events until it is closed.
func (e *Events) Subscribe() *utils.BroadcastConsumer[protocol.Event] {
	return e.broadcast.NewConsumer()
}

func (e *Events) Close() {
	e.broadcast.Close()
}

// Implementation of EventSink interface
func (e *Events) BuildsetComplete(bsid int64, result protocol.Result) {
	e.RLock()
	observers := e.observers
	e.RUnlock()

	for _, observer := range observers {
		observer.BuildsetComplete(bsid, result)
	}

	e.broadcast.Send(protocol.Event{
		Type:       protocol.EventBuildsetComplete,
		BuildsetID: bsid,
		Result:     result,
		Time:       e.now(),
	})
}

// Implementation of EventSink interface
func (e *Events) RequestRemoved(bsid, brid int64) {
	e.RLock()
	observers := e.observers
	e.RUnlock()

	for _, observer := range observers {
		observer.RequestRemoved(bsid, brid)
	}

	e.broadcast.Send(protocol.Event{
		Type:       protocol.EventRequestRemoved,
		BuildsetID: bsid,
		RequestID:  brid,
		Result:     protocol.ResultNone,
		Time:       e.now(),
	})
}
