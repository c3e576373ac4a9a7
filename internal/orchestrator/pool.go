package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/panics"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/ShayCichocki/issuepilot/internal/resource"
	"github.com/ShayCichocki/issuepilot/internal/source"
	"github.com/ShayCichocki/issuepilot/pkg/models"
)

// ErrContractViolation is returned when the source hands the pool an item
// it must never receive: a malformed item or a second item for an issue
// already dispatched in this run.
var ErrContractViolation = errors.New("work item contract violation")

// Source yields work items until it returns source.ErrExhausted.
type Source interface {
	Next(ctx context.Context) (models.WorkItem, error)
}

// Worker runs one item to completion and always returns its result.
type Worker interface {
	Run(ctx context.Context, slot models.Slot, item models.WorkItem) models.WorkResult
}

// PoolConfig contains configuration options for a Pool.
type PoolConfig struct {
	// Concurrency is the number of slots. Values below one mean one.
	Concurrency int
	Thresholds  resource.Thresholds
	Worker      Worker
	// Events is optional; when set, dispatch and completion are reported.
	Events *EventEmitter
	// Recorder is optional; it receives each result as it completes.
	Recorder ResultRecorder
	// RunID identifies the run; a new ULID is generated when empty.
	RunID  string
	Logger *zap.SugaredLogger
}

// Pool dispatches work items onto a fixed set of slots.
type Pool struct {
	cfg PoolConfig
	log *zap.SugaredLogger
}

// NewPool creates a new Pool.
func NewPool(cfg PoolConfig) *Pool {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if cfg.RunID == "" {
		cfg.RunID = ulid.Make().String()
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Pool{cfg: cfg, log: log.Named("pool").With("run", cfg.RunID)}
}

// RunID returns the identifier of the pool's run.
func (p *Pool) RunID() string {
	return p.cfg.RunID
}

// slotTable tracks which slots are busy and which issues were dispatched.
type slotTable struct {
	mu         sync.Mutex
	busy       []bool
	active     int
	maxActive  int
	dispatched map[string]bool
}

func newSlotTable(n int) *slotTable {
	return &slotTable{busy: make([]bool, n), dispatched: make(map[string]bool)}
}

// claim marks the lowest idle slot busy. The caller must already hold a
// semaphore unit, so an idle slot always exists.
func (t *slotTable) claim() models.Slot {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, b := range t.busy {
		if !b {
			t.busy[i] = true
			t.active++
			if t.active > t.maxActive {
				t.maxActive = t.active
			}
			return models.Slot(i + 1)
		}
	}
	panic("orchestrator: no idle slot while holding a semaphore unit")
}

func (t *slotTable) release(s models.Slot) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.busy[int(s)-1] = false
	t.active--
}

// markDispatched records key and reports whether it was new.
func (t *slotTable) markDispatched(key string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.dispatched[key] {
		return false
	}
	t.dispatched[key] = true
	return true
}

func (t *slotTable) peak() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.maxActive
}

// Run pulls items from src until it is exhausted, dispatching each to an
// idle slot once gate approves. It returns after every dispatched worker
// has finished. A gate rejection stops dispatching and returns an error
// wrapping resource.ErrResourceExhausted; a malformed or repeated item
// returns ErrContractViolation. In both cases in-flight workers drain
// first. Cancelling ctx cancels the workers.
func (p *Pool) Run(ctx context.Context, src Source, gate resource.Checker) (*Report, error) {
	report := &Report{RunID: p.cfg.RunID, StartedAt: time.Now()}
	slots := newSlotTable(p.cfg.Concurrency)
	sem := semaphore.NewWeighted(int64(p.cfg.Concurrency))
	runLog := &RunLog{}

	p.log.Infow("run started", "concurrency", p.cfg.Concurrency)

	var workers conc.WaitGroup
	runErr := p.dispatch(ctx, src, gate, sem, slots, runLog, &workers)
	workers.Wait()

	report.FinishedAt = time.Now()
	report.Results = runLog.Results()
	report.MaxBusy = slots.peak()
	if s, ok := src.(interface{ Skipped() []source.Skip }); ok {
		report.Skipped = s.Skipped()
	}
	if runErr != nil {
		report.Error = runErr.Error()
		p.log.Errorw("run stopped", "error", runErr, "results", len(report.Results))
	} else {
		p.log.Infow("run finished", "results", len(report.Results), "duration", report.Duration().Round(time.Second))
	}
	p.emit(PoolEvent{Type: EventRunDone, Error: runErr, Duration: report.Duration()})
	return report, runErr
}

func (p *Pool) dispatch(
	ctx context.Context,
	src Source,
	gate resource.Checker,
	sem *semaphore.Weighted,
	slots *slotTable,
	runLog *RunLog,
	workers *conc.WaitGroup,
) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		// Wait for an idle slot before pulling, so an item leaves the source
		// only when it can be dispatched right away.
		if err := sem.Acquire(ctx, 1); err != nil {
			return err
		}

		item, err := src.Next(ctx)
		if errors.Is(err, source.ErrExhausted) {
			sem.Release(1)
			return nil
		}
		if err != nil {
			sem.Release(1)
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			return fmt.Errorf("discover work items: %w", err)
		}

		if err := item.Validate(); err != nil {
			sem.Release(1)
			return fmt.Errorf("%w: %w", ErrContractViolation, err)
		}
		if !slots.markDispatched(item.Key()) {
			sem.Release(1)
			return fmt.Errorf("%w: %s dispatched twice", ErrContractViolation, item.Label())
		}

		decision := gate.Check(p.cfg.Thresholds)
		if !decision.Approved {
			sem.Release(1)
			now := time.Now()
			res := models.WorkResult{
				Item:        item,
				Outcome:     models.OutcomeResourceRejected,
				ErrorDetail: decision.Reason(),
				StartedAt:   now,
				FinishedAt:  now,
			}
			p.complete(runLog, res)
			p.emit(PoolEvent{Type: EventDispatchRejected, Item: item.Label(), Mode: item.Mode, Outcome: res.Outcome, Error: decision.Err()})
			return decision.Err()
		}

		slot := slots.claim()
		p.log.Infow("dispatching", "slot", int(slot), "item", item.Label(), "mode", string(item.Mode))
		p.emit(PoolEvent{Type: EventItemDispatched, Slot: slot, Item: item.Label(), Mode: item.Mode})

		workers.Go(func() {
			defer sem.Release(1)
			defer slots.release(slot)

			res := p.runWorker(ctx, slot, item)
			p.complete(runLog, res)
			p.emit(PoolEvent{
				Type:     EventItemCompleted,
				Slot:     slot,
				Item:     item.Label(),
				Mode:     item.Mode,
				Outcome:  res.Outcome,
				Message:  res.PRURL,
				Duration: res.Duration(),
			})
		})
	}
}

// runWorker converts a worker panic into an aborted result so every
// dispatched item still yields exactly one result.
func (p *Pool) runWorker(ctx context.Context, slot models.Slot, item models.WorkItem) models.WorkResult {
	started := time.Now()
	var res models.WorkResult
	var pc panics.Catcher
	pc.Try(func() {
		res = p.cfg.Worker.Run(ctx, slot, item)
	})
	if r := pc.Recovered(); r != nil {
		p.log.Errorw("worker panicked", "slot", int(slot), "item", item.Label(), "panic", r.Value)
		return models.WorkResult{
			Item:        item,
			Slot:        int(slot),
			Outcome:     models.OutcomeAborted,
			ErrorDetail: fmt.Sprintf("worker panic: %v", r.Value),
			StartedAt:   started,
			FinishedAt:  time.Now(),
		}
	}
	return res
}

func (p *Pool) complete(runLog *RunLog, res models.WorkResult) {
	runLog.Append(res)
	if p.cfg.Recorder != nil {
		if err := p.cfg.Recorder.Record(res); err != nil {
			p.log.Warnw("failed to record result", "item", res.Item.Label(), "error", err)
		}
	}
	p.log.Infow("item finished",
		"slot", res.Slot,
		"item", res.Item.Label(),
		"outcome", string(res.Outcome),
		"pr", res.PRURL,
	)
}

func (p *Pool) emit(ev PoolEvent) {
	if p.cfg.Events != nil {
		p.cfg.Events.Emit(ev)
	}
}
