package orchestrator

import (
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// EventEmitter handles event emission for the pool.
// It provides a simple, thread-safe way to emit events to subscribers.
type EventEmitter struct {
	events       chan PoolEvent
	droppedCount atomic.Uint64
	log          *zap.SugaredLogger
}

// NewEventEmitter creates a new EventEmitter with the given buffer size.
func NewEventEmitter(bufferSize int, log *zap.SugaredLogger) *EventEmitter {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &EventEmitter{
		events: make(chan PoolEvent, bufferSize),
		log:    log,
	}
}

// Emit sends an event to the events channel.
// If the channel is full, it tries with a timeout before dropping the event.
func (e *EventEmitter) Emit(event PoolEvent) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	select {
	case e.events <- event:
		return
	default:
	}

	// Give the receiver a chance to drain.
	select {
	case e.events <- event:
		return
	case <-time.After(100 * time.Millisecond):
		count := e.droppedCount.Add(1)
		if count%10 == 1 {
			e.log.Warnw("event channel full, dropped event", "dropped_total", count, "type", string(event.Type))
		}
	}
}

// DroppedCount returns the total number of events that have been dropped.
func (e *EventEmitter) DroppedCount() uint64 {
	return e.droppedCount.Load()
}

// Events returns a read-only channel of events.
func (e *EventEmitter) Events() <-chan PoolEvent {
	return e.events
}

// Close closes the events channel. Call it only after Pool.Run returns.
func (e *EventEmitter) Close() {
	close(e.events)
}
