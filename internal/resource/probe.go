package resource

import (
	"fmt"
	"time"

	"golang.org/x/sys/unix"
)

// HostProbe measures free space on the filesystem holding Path and the
// host's available memory.
type HostProbe struct {
	Path string
}

// NewHostProbe returns a probe for the filesystem containing path.
func NewHostProbe(path string) *HostProbe {
	return &HostProbe{Path: path}
}

// Snapshot implements Prober.
func (p *HostProbe) Snapshot() (Snapshot, error) {
	snap := Snapshot{
		AvailableDiskMB:   Unknown,
		AvailableMemoryMB: Unknown,
		TakenAt:           time.Now(),
	}

	var st unix.Statfs_t
	if err := unix.Statfs(p.Path, &st); err != nil {
		return snap, fmt.Errorf("statfs %s: %w", p.Path, err)
	}
	snap.AvailableDiskMB = int64(st.Bavail * uint64(st.Bsize) / (1 << 20))

	mem, load := hostMemory()
	snap.AvailableMemoryMB = mem
	snap.LoadAverage = load
	return snap, nil
}
