package orchestrator

import (
	"time"

	"github.com/ShayCichocki/issuepilot/pkg/models"
)

// EventType represents the type of pool event.
type EventType string

const (
	// EventItemDispatched indicates a work item was assigned to a slot.
	EventItemDispatched EventType = "item_dispatched"
	// EventItemCompleted indicates a worker produced its result.
	EventItemCompleted EventType = "item_completed"
	// EventDispatchRejected indicates the resource gate refused a dispatch.
	EventDispatchRejected EventType = "dispatch_rejected"
	// EventRunDone indicates every slot has drained.
	EventRunDone EventType = "run_done"
)

// PoolEvent represents an event emitted by the pool. The CLI uses these to
// print progress.
type PoolEvent struct {
	// Type is the kind of event.
	Type EventType
	// Slot is the slot the item ran in, or zero.
	Slot models.Slot
	// Item is the label of the related work item, if applicable.
	Item string
	// Mode is the related item's mode, if applicable.
	Mode models.Mode
	// Outcome is set on completion events.
	Outcome models.Outcome
	// Message provides additional context about the event.
	Message string
	// Error contains error details for rejections and run failures.
	Error error
	// Timestamp is when the event occurred.
	Timestamp time.Time
	// Duration is how long the item ran (completion events).
	Duration time.Duration
}
