package orchestrator

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ShayCichocki/issuepilot/internal/resource"
	"github.com/ShayCichocki/issuepilot/internal/source"
	"github.com/ShayCichocki/issuepilot/pkg/models"
)

var widgets = models.RepoID{Owner: "octo", Name: "widgets"}

func freshItem(n int) models.WorkItem {
	return models.WorkItem{
		Issue: models.Issue{Ref: models.IssueRef{Repo: widgets, Number: n}},
		Mode:  models.ModeFresh,
	}
}

// sliceSource yields a fixed list of items.
type sliceSource struct {
	mu    sync.Mutex
	items []models.WorkItem
	pos   int
	err   error
	pulls int
}

func (s *sliceSource) Next(ctx context.Context) (models.WorkItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pulls++
	if s.pos >= len(s.items) {
		if s.err != nil {
			return models.WorkItem{}, s.err
		}
		return models.WorkItem{}, source.ErrExhausted
	}
	item := s.items[s.pos]
	s.pos++
	return item, nil
}

func (s *sliceSource) Skipped() []source.Skip {
	return []source.Skip{{Label: "octo/widgets#99", Reason: "excluded label wontfix"}}
}

func items(n int) []models.WorkItem {
	out := make([]models.WorkItem, n)
	for i := range out {
		out[i] = freshItem(i + 1)
	}
	return out
}

// gateFunc adapts a function to resource.Checker.
type gateFunc func(resource.Thresholds) resource.Decision

func (f gateFunc) Check(t resource.Thresholds) resource.Decision { return f(t) }

var approveAll = gateFunc(func(resource.Thresholds) resource.Decision {
	return resource.Decision{Approved: true}
})

// trackingWorker records concurrency and per-issue overlap.
type trackingWorker struct {
	delay     time.Duration
	running   atomic.Int32
	maxSeen   atomic.Int32
	mu        sync.Mutex
	inFlight  map[string]bool
	overlap   bool
	slotsSeen map[models.Slot]bool
	outcome   func(models.WorkItem) models.Outcome
	block     bool
}

func newTrackingWorker(delay time.Duration) *trackingWorker {
	return &trackingWorker{delay: delay, inFlight: map[string]bool{}, slotsSeen: map[models.Slot]bool{}}
}

func (w *trackingWorker) Run(ctx context.Context, slot models.Slot, item models.WorkItem) models.WorkResult {
	n := w.running.Add(1)
	for {
		m := w.maxSeen.Load()
		if n <= m || w.maxSeen.CompareAndSwap(m, n) {
			break
		}
	}
	w.mu.Lock()
	if w.inFlight[item.Key()] {
		w.overlap = true
	}
	w.inFlight[item.Key()] = true
	w.slotsSeen[slot] = true
	w.mu.Unlock()

	started := time.Now()
	outcome := models.OutcomeSuccess
	if w.block {
		<-ctx.Done()
		outcome = models.OutcomeAborted
	} else {
		select {
		case <-time.After(w.delay):
		case <-ctx.Done():
			outcome = models.OutcomeAborted
		}
	}
	if w.outcome != nil && outcome == models.OutcomeSuccess {
		outcome = w.outcome(item)
	}

	w.mu.Lock()
	delete(w.inFlight, item.Key())
	w.mu.Unlock()
	w.running.Add(-1)
	return models.WorkResult{Item: item, Slot: int(slot), Outcome: outcome, StartedAt: started, FinishedAt: time.Now()}
}

func TestPool_RespectsConcurrency(t *testing.T) {
	for _, concurrency := range []int{1, 2, 4} {
		w := newTrackingWorker(20 * time.Millisecond)
		src := &sliceSource{items: items(10)}
		pool := NewPool(PoolConfig{Concurrency: concurrency, Worker: w})

		report, err := pool.Run(context.Background(), src, approveAll)
		if err != nil {
			t.Fatalf("concurrency %d: Run failed: %v", concurrency, err)
		}
		if got := int(w.maxSeen.Load()); got > concurrency {
			t.Errorf("concurrency %d: %d workers ran at once", concurrency, got)
		}
		if report.MaxBusy > concurrency || report.MaxBusy < 1 {
			t.Errorf("concurrency %d: MaxBusy = %d", concurrency, report.MaxBusy)
		}
		if len(report.Results) != 10 {
			t.Errorf("concurrency %d: expected 10 results, got %d", concurrency, len(report.Results))
		}
		for s := range w.slotsSeen {
			if s < 1 || int(s) > concurrency {
				t.Errorf("slot %d outside 1..%d", s, concurrency)
			}
		}
	}
}

func TestPool_OneResultPerItem(t *testing.T) {
	w := newTrackingWorker(time.Millisecond)
	w.outcome = func(item models.WorkItem) models.Outcome {
		if item.Issue.Ref.Number%3 == 0 {
			return models.OutcomeAgentFailure
		}
		return models.OutcomeSuccess
	}
	src := &sliceSource{items: items(9)}

	report, err := NewPool(PoolConfig{Concurrency: 3, Worker: w}).Run(context.Background(), src, approveAll)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	seen := map[int]int{}
	for _, r := range report.Results {
		seen[r.Item.Issue.Ref.Number]++
	}
	for n := 1; n <= 9; n++ {
		if seen[n] != 1 {
			t.Errorf("issue %d has %d results", n, seen[n])
		}
	}
	counts := report.Counts()
	if counts[models.OutcomeAgentFailure] != 3 || counts[models.OutcomeSuccess] != 6 {
		t.Errorf("unexpected counts %v", counts)
	}
	if report.AllSucceeded() {
		t.Error("AllSucceeded should be false with failures")
	}
	if len(report.Skipped) != 1 {
		t.Errorf("expected skipped items from source, got %v", report.Skipped)
	}
	if report.RunID == "" {
		t.Error("RunID should be generated")
	}
	if w.overlap {
		t.Error("an issue ran in two slots at once")
	}
}

func TestPool_DuplicateIssueIsContractViolation(t *testing.T) {
	w := newTrackingWorker(10 * time.Millisecond)
	src := &sliceSource{items: []models.WorkItem{freshItem(1), freshItem(2), freshItem(1), freshItem(3)}}

	report, err := NewPool(PoolConfig{Concurrency: 2, Worker: w}).Run(context.Background(), src, approveAll)
	if !errors.Is(err, ErrContractViolation) {
		t.Fatalf("expected ErrContractViolation, got %v", err)
	}
	if len(report.Results) != 2 {
		t.Errorf("in-flight items should drain: got %d results", len(report.Results))
	}
	if src.pulls != 3 {
		t.Errorf("dispatch should stop at the duplicate, pulled %d", src.pulls)
	}
}

func TestPool_InvalidItemIsContractViolation(t *testing.T) {
	bad := freshItem(2)
	bad.Mode = models.ModeContinue
	src := &sliceSource{items: []models.WorkItem{freshItem(1), bad}}

	report, err := NewPool(PoolConfig{Concurrency: 2, Worker: newTrackingWorker(time.Millisecond)}).Run(context.Background(), src, approveAll)
	if !errors.Is(err, ErrContractViolation) || !errors.Is(err, models.ErrInvalidWorkItem) {
		t.Fatalf("expected ErrContractViolation, got %v", err)
	}
	if len(report.Results) != 1 {
		t.Errorf("expected the valid item to finish, got %d results", len(report.Results))
	}
	if report.Error == "" {
		t.Error("report should carry the stop reason")
	}
}

func TestPool_GateRejectionAbortsRun(t *testing.T) {
	var checks atomic.Int32
	gate := gateFunc(func(th resource.Thresholds) resource.Decision {
		if checks.Add(1) <= 2 {
			return resource.Decision{Approved: true}
		}
		return resource.Evaluate(resource.Snapshot{AvailableDiskMB: 100, AvailableMemoryMB: 8000}, th, nil)
	})
	w := newTrackingWorker(10 * time.Millisecond)
	src := &sliceSource{items: items(5)}
	pool := NewPool(PoolConfig{
		Concurrency: 2,
		Thresholds:  resource.Thresholds{MinDiskMB: 500, MinMemoryMB: 100},
		Worker:      w,
	})

	report, err := pool.Run(context.Background(), src, gate)
	if !errors.Is(err, resource.ErrResourceExhausted) {
		t.Fatalf("expected ErrResourceExhausted, got %v", err)
	}
	if len(report.Results) != 3 {
		t.Fatalf("expected 2 completed + 1 rejected result, got %d", len(report.Results))
	}
	counts := report.Counts()
	if counts[models.OutcomeResourceRejected] != 1 || counts[models.OutcomeSuccess] != 2 {
		t.Errorf("unexpected counts %v", counts)
	}
	if src.pulls != 3 {
		t.Errorf("no items should be pulled after the rejection, pulled %d", src.pulls)
	}
}

func TestPool_CancellationDrainsWorkers(t *testing.T) {
	w := newTrackingWorker(0)
	w.block = true
	src := &sliceSource{items: items(5)}
	events := NewEventEmitter(32, nil)
	pool := NewPool(PoolConfig{Concurrency: 2, Worker: w, Events: events})

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	report, err := pool.Run(ctx, src, approveAll)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if w.running.Load() != 0 {
		t.Error("workers still running after Run returned")
	}
	if len(report.Results) != 2 {
		t.Fatalf("expected the 2 in-flight items to report, got %d", len(report.Results))
	}
	if src.pulls != len(report.Results) {
		t.Errorf("pulled %d items but reported %d", src.pulls, len(report.Results))
	}
	for _, r := range report.Results {
		if r.Outcome != models.OutcomeAborted {
			t.Errorf("expected aborted, got %s", r.Outcome)
		}
	}

	events.Close()
	var dispatched, completed, done int
	for ev := range events.Events() {
		switch ev.Type {
		case EventItemDispatched:
			dispatched++
		case EventItemCompleted:
			completed++
		case EventRunDone:
			done++
		}
	}
	if dispatched != 2 || completed != 2 || done != 1 {
		t.Errorf("events: dispatched=%d completed=%d done=%d", dispatched, completed, done)
	}
}

func TestPool_DiscoveryErrorStopsRun(t *testing.T) {
	src := &sliceSource{items: items(1), err: errors.New("bad credentials")}

	report, err := NewPool(PoolConfig{Concurrency: 1, Worker: newTrackingWorker(time.Millisecond)}).Run(context.Background(), src, approveAll)
	if err == nil || errors.Is(err, ErrContractViolation) {
		t.Fatalf("expected discovery error, got %v", err)
	}
	if len(report.Results) != 1 {
		t.Errorf("expected dispatched item to finish, got %d", len(report.Results))
	}
}

type panickyWorker struct{}

func (panickyWorker) Run(ctx context.Context, slot models.Slot, item models.WorkItem) models.WorkResult {
	panic("boom")
}

func TestPool_WorkerPanicBecomesAborted(t *testing.T) {
	src := &sliceSource{items: items(2)}

	report, err := NewPool(PoolConfig{Concurrency: 2, Worker: panickyWorker{}}).Run(context.Background(), src, approveAll)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(report.Results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(report.Results))
	}
	for _, r := range report.Results {
		if r.Outcome != models.OutcomeAborted || r.ErrorDetail != "worker panic: boom" {
			t.Errorf("unexpected result %+v", r)
		}
	}
}

type recorder struct {
	mu  sync.Mutex
	got []models.WorkResult
}

func (r *recorder) Record(res models.WorkResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, res)
	return nil
}

func TestPool_RecordsInCompletionOrder(t *testing.T) {
	// Item 1 is slow, item 2 fast: item 2 must be recorded first.
	w := &orderedWorker{delays: map[int]time.Duration{1: 80 * time.Millisecond, 2: 5 * time.Millisecond}}
	rec := &recorder{}
	src := &sliceSource{items: items(2)}

	report, err := NewPool(PoolConfig{Concurrency: 2, Worker: w, Recorder: rec, RunID: "run-1"}).Run(context.Background(), src, approveAll)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if report.RunID != "run-1" {
		t.Errorf("RunID = %q", report.RunID)
	}
	if report.Results[0].Item.Issue.Ref.Number != 2 || report.Results[1].Item.Issue.Ref.Number != 1 {
		t.Errorf("results not in completion order: %v", report.Results)
	}
	if len(rec.got) != 2 || rec.got[0].Item.Issue.Ref.Number != 2 {
		t.Errorf("recorder saw %v", rec.got)
	}
}

type orderedWorker struct {
	delays map[int]time.Duration
}

func (w *orderedWorker) Run(ctx context.Context, slot models.Slot, item models.WorkItem) models.WorkResult {
	time.Sleep(w.delays[item.Issue.Ref.Number])
	return models.WorkResult{Item: item, Slot: int(slot), Outcome: models.OutcomeSuccess}
}

func TestPool_PullsOnlyWhenASlotIsFree(t *testing.T) {
	w := newTrackingWorker(0)
	w.block = true
	src := &sliceSource{items: items(5)}
	pool := NewPool(PoolConfig{Concurrency: 1, Worker: w})

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	report, err := pool.Run(ctx, src, approveAll)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if src.pulls != 1 {
		t.Errorf("expected one pull while the only slot was busy, got %d", src.pulls)
	}
	if len(report.Results) != src.pulls {
		t.Errorf("pulled %d items but reported %d", src.pulls, len(report.Results))
	}
}
