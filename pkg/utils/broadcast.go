package utils

import (
	"github.com/google/uuid"
	"github.com/srand/jolt/coordinator/pkg/log"
)

// A subscriber of a broadcast.
// Items are delivered on Chan until the consumer or the broadcast is closed.
type BroadcastConsumer[E any] struct {
	Chan      chan E
	ID        string
	Broadcast *Broadcast[E]
}

// Fans out items to all subscribed consumers.
// Sending never blocks: items for a consumer whose channel is full are dropped.
type Broadcast[E any] struct {
	mu        RWMutex
	consumers map[string]*BroadcastConsumer[E]
	capacity  int
	dropped   int64
}

func NewBroadcast[E any](capacity int) *Broadcast[E] {
	if capacity <= 0 {
		capacity = 100
	}
	return &Broadcast[E]{
		mu:        NewRWMutex(),
		consumers: map[string]*BroadcastConsumer[E]{},
		capacity:  capacity,
	}
}

func (bc *Broadcast[E]) NewConsumer() *BroadcastConsumer[E] {
	id, _ := uuid.NewRandom()
	consumer := &BroadcastConsumer[E]{
		Chan:      make(chan E, bc.capacity),
		ID:        id.String(),
		Broadcast: bc,
	}
	bc.mu.Lock()
	defer bc.mu.Unlock()
	if bc.consumers == nil {
		// Broadcast already closed
		close(consumer.Chan)
		return consumer
	}
	bc.consumers[consumer.ID] = consumer
	return consumer
}

func (bc *Broadcast[E]) HasConsumer() bool {
	bc.mu.RLock()
	defer bc.mu.RUnlock()
	return len(bc.consumers) > 0
}

// Number of items dropped because a consumer was not keeping up.
func (bc *Broadcast[E]) Dropped() int64 {
	bc.mu.RLock()
	defer bc.mu.RUnlock()
	return bc.dropped
}

func (bc *Broadcast[E]) Close() {
	bc.mu.Lock()
	defer bc.mu.Unlock()

	for _, consumer := range bc.consumers {
		close(consumer.Chan)
	}

	bc.consumers = nil
}

func (bc *Broadcast[E]) Remove(bcc *BroadcastConsumer[E]) bool {
	bc.mu.Lock()
	defer bc.mu.Unlock()
	if bc.consumers == nil {
		return false
	}
	_, ok := bc.consumers[bcc.ID]
	delete(bc.consumers, bcc.ID)
	return ok
}

func (bcc *BroadcastConsumer[E]) Close() {
	if bcc.Broadcast.Remove(bcc) {
		close(bcc.Chan)
	}
}

func (bc *Broadcast[E]) Send(data E) {
	bc.mu.Lock()
	defer bc.mu.Unlock()
	for _, c := range bc.consumers {
		select {
		case c.Chan <- data:
		default:
			bc.dropped++
			log.Debugf("unable to send event to %s, channel full", c.ID)
		}
	}
}
