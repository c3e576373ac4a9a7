package models

import "strconv"

// Slot is one unit of bounded concurrency in the worker pool. Slots are
// numbered from 1.
type Slot int

// Tag returns the prefix written before every streamed output line of the
// worker occupying this slot.
func (s Slot) Tag() string {
	return "[slot-" + strconv.Itoa(int(s)) + "] "
}
