//go:build !linux

package resource

// hostMemory has no portable implementation; the memory check is skipped.
func hostMemory() (int64, float64) {
	return Unknown, 0
}
