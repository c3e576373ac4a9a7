// Package resource decides whether the host has enough free disk and memory
// to start another worker.
package resource

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
)

// ErrResourceExhausted is wrapped by errors reporting a rejected dispatch.
var ErrResourceExhausted = errors.New("insufficient host resources")

// Unknown marks a measurement the probe could not take.
const Unknown int64 = -1

// Snapshot is a point-in-time reading of host resources. Snapshots are taken
// right before each dispatch and never cached.
type Snapshot struct {
	AvailableDiskMB   int64
	AvailableMemoryMB int64
	LoadAverage       float64
	TakenAt           time.Time
}

// Thresholds are the minimum free resources a dispatch requires.
type Thresholds struct {
	MinDiskMB   int64
	MinMemoryMB int64
}

// ShortfallKind names the resource that fell below its threshold.
type ShortfallKind string

const (
	InsufficientDisk   ShortfallKind = "insufficientDisk"
	InsufficientMemory ShortfallKind = "insufficientMemory"
)

// Shortfall is one rejection reason with the measured value and threshold.
type Shortfall struct {
	Kind        ShortfallKind
	MeasuredMB  int64
	ThresholdMB int64
}

func (s Shortfall) String() string {
	return fmt.Sprintf("%s: %d MB available, %d MB required", s.Kind, s.MeasuredMB, s.ThresholdMB)
}

// Decision is the outcome of a gate check.
type Decision struct {
	Approved   bool
	Shortfalls []Shortfall
	Snapshot   Snapshot
}

// Reason joins the shortfalls into one line.
func (d Decision) Reason() string {
	parts := make([]string, 0, len(d.Shortfalls))
	for _, s := range d.Shortfalls {
		parts = append(parts, s.String())
	}
	return strings.Join(parts, "; ")
}

// Err returns nil for approvals and an error wrapping ErrResourceExhausted
// for rejections.
func (d Decision) Err() error {
	if d.Approved {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrResourceExhausted, d.Reason())
}

// Prober takes resource snapshots.
type Prober interface {
	Snapshot() (Snapshot, error)
}

// Checker is the dispatch-time contract of a gate.
type Checker interface {
	Check(t Thresholds) Decision
}

// Gate compares fresh snapshots against thresholds. It holds no state
// between checks and has no side effects.
type Gate struct {
	probe Prober
	log   *zap.SugaredLogger
}

// NewGate creates a gate reading from probe.
func NewGate(probe Prober, log *zap.SugaredLogger) *Gate {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Gate{probe: probe, log: log}
}

// Check takes a snapshot and evaluates disk and memory independently. A
// probe failure or an unknown measurement skips that check with a warning
// rather than rejecting.
func (g *Gate) Check(t Thresholds) Decision {
	snap, err := g.probe.Snapshot()
	if err != nil {
		g.log.Warnw("resource probe failed, skipping checks", "error", err)
		return Decision{Approved: true, Snapshot: snap}
	}
	return Evaluate(snap, t, g.log)
}

// Evaluate applies thresholds to a snapshot.
func Evaluate(snap Snapshot, t Thresholds, log *zap.SugaredLogger) Decision {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	d := Decision{Snapshot: snap}

	if snap.AvailableDiskMB == Unknown {
		log.Warnw("free disk unknown, skipping disk check")
	} else if snap.AvailableDiskMB < t.MinDiskMB {
		d.Shortfalls = append(d.Shortfalls, Shortfall{Kind: InsufficientDisk, MeasuredMB: snap.AvailableDiskMB, ThresholdMB: t.MinDiskMB})
	}

	if snap.AvailableMemoryMB == Unknown {
		log.Warnw("free memory unknown, skipping memory check")
	} else if snap.AvailableMemoryMB < t.MinMemoryMB {
		d.Shortfalls = append(d.Shortfalls, Shortfall{Kind: InsufficientMemory, MeasuredMB: snap.AvailableMemoryMB, ThresholdMB: t.MinMemoryMB})
	}

	d.Approved = len(d.Shortfalls) == 0
	return d
}

// Verify Gate implements Checker at compile time.
var _ Checker = (*Gate)(nil)
