package state

import (
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/ShayCichocki/issuepilot/pkg/models"
)

func sampleResult(n int) models.WorkResult {
	start := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	return models.WorkResult{
		Item: models.WorkItem{
			Issue:            models.Issue{Ref: models.IssueRef{Repo: models.RepoID{Owner: "octo", Name: "widgets"}, Number: n}},
			Mode:             models.ModeFresh,
			BranchName:       fmt.Sprintf("issue-%d-abc", n),
			WorkingDirectory: fmt.Sprintf("/work/issue-%d", n),
		},
		Slot:       n % 3,
		Outcome:    models.OutcomeSuccess,
		PRURL:      fmt.Sprintf("https://github.com/octo/widgets/pull/%d", 100+n),
		StartedAt:  start,
		FinishedAt: start.Add(time.Duration(n) * time.Minute),
	}
}

func TestCreateAndGetRun(t *testing.T) {
	db := setupTestDB(t)

	run := &Run{ID: "01J000", Repo: "octo/widgets", Concurrency: 3, DryRun: true, PID: 4242}
	if err := db.CreateRun(run); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}

	got, err := db.GetRun("01J000")
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if got == nil {
		t.Fatal("GetRun returned nil")
	}
	if got.Repo != "octo/widgets" || got.Concurrency != 3 || !got.DryRun || got.PID != 4242 {
		t.Errorf("GetRun = %+v", got)
	}
	if got.Status != RunActive {
		t.Errorf("Status = %q, want active", got.Status)
	}
	if got.FinishedAt != nil {
		t.Error("FinishedAt set on a new run")
	}
}

func TestGetRun_NotFound(t *testing.T) {
	db := setupTestDB(t)
	got, err := db.GetRun("missing")
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if got != nil {
		t.Errorf("GetRun = %+v, want nil", got)
	}
}

func TestFinishRun(t *testing.T) {
	db := setupTestDB(t)
	if err := db.CreateRun(&Run{ID: "r", Repo: "o/r", Concurrency: 1}); err != nil {
		t.Fatal(err)
	}
	if err := db.FinishRun("r", RunFailed, "list issues: boom"); err != nil {
		t.Fatalf("FinishRun: %v", err)
	}

	got, _ := db.GetRun("r")
	if got.Status != RunFailed || got.Error != "list issues: boom" || got.FinishedAt == nil {
		t.Errorf("finished run = %+v", got)
	}
	if !got.Status.Terminal() {
		t.Error("failed status should be terminal")
	}

	if err := db.FinishRun("nope", RunCompleted, ""); err == nil {
		t.Error("expected error finishing an unknown run")
	}
}

func TestListRuns_NewestFirst(t *testing.T) {
	db := setupTestDB(t)
	base := time.Now().Add(-time.Hour)
	for i := 0; i < 4; i++ {
		r := &Run{ID: fmt.Sprintf("r%d", i), Repo: "o/r", Concurrency: 1, StartedAt: base.Add(time.Duration(i) * time.Minute)}
		if err := db.CreateRun(r); err != nil {
			t.Fatal(err)
		}
	}

	runs, err := db.ListRuns(2)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(runs) != 2 || runs[0].ID != "r3" || runs[1].ID != "r2" {
		t.Errorf("ListRuns(2) = %v", runs)
	}

	all, _ := db.ListRuns(0)
	if len(all) != 4 {
		t.Errorf("ListRuns(0) returned %d runs, want 4", len(all))
	}
}

func TestRecordAndListResults(t *testing.T) {
	db := setupTestDB(t)
	if err := db.CreateRun(&Run{ID: "r", Repo: "octo/widgets", Concurrency: 2}); err != nil {
		t.Fatal(err)
	}

	failed := sampleResult(2)
	failed.Outcome = models.OutcomeAgentFailure
	failed.PRURL = ""
	failed.ErrorDetail = "agent exited with code 2"
	failed.ExitCode = 2

	for _, res := range []models.WorkResult{sampleResult(1), failed} {
		if err := db.RecordResult("r", res); err != nil {
			t.Fatalf("RecordResult: %v", err)
		}
	}

	results, err := db.ListResults("r")
	if err != nil {
		t.Fatalf("ListResults: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}

	first := results[0]
	if first.ItemKey != sampleResult(1).Item.Key() || first.Label != "octo/widgets#1" {
		t.Errorf("first = %+v", first)
	}
	if first.Outcome != models.OutcomeSuccess || first.PRURL == "" || first.Branch != "issue-1-abc" {
		t.Errorf("first = %+v", first)
	}
	if !first.FinishedAt.Equal(sampleResult(1).FinishedAt) {
		t.Errorf("FinishedAt = %v", first.FinishedAt)
	}

	second := results[1]
	if second.Outcome != models.OutcomeAgentFailure || second.ExitCode != 2 || second.PRURL != "" {
		t.Errorf("second = %+v", second)
	}
}

func TestRecordResult_UnknownRun(t *testing.T) {
	db := setupTestDB(t)
	if err := db.RecordResult("ghost", sampleResult(1)); err == nil {
		t.Error("expected foreign key error for unknown run")
	}
}

func TestRecorder_Concurrent(t *testing.T) {
	db := setupTestDB(t)
	if err := db.CreateRun(&Run{ID: "r", Repo: "o/r", Concurrency: 8}); err != nil {
		t.Fatal(err)
	}
	rec := NewRecorder(db, "r")

	var wg sync.WaitGroup
	for i := 1; i <= 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			if err := rec.Record(sampleResult(n)); err != nil {
				t.Errorf("Record(%d): %v", n, err)
			}
		}(i)
	}
	wg.Wait()

	results, _ := db.ListResults("r")
	if len(results) != 8 {
		t.Errorf("got %d results, want 8", len(results))
	}
}

func TestRecoveryManager_MarkInterrupted(t *testing.T) {
	db := setupTestDB(t)
	runs := []*Run{
		{ID: "dead", Repo: "o/r", Concurrency: 1, PID: 111},
		{ID: "alive", Repo: "o/r", Concurrency: 1, PID: 222},
		{ID: "done", Repo: "o/r", Concurrency: 1, PID: 333},
	}
	for _, r := range runs {
		if err := db.CreateRun(r); err != nil {
			t.Fatal(err)
		}
	}
	if err := db.FinishRun("done", RunCompleted, ""); err != nil {
		t.Fatal(err)
	}
	if err := db.RecordResult("dead", sampleResult(1)); err != nil {
		t.Fatal(err)
	}

	rm := NewRecoveryManager(db)
	rm.alive = func(pid int) bool { return pid == 222 }

	got, err := rm.MarkInterrupted()
	if err != nil {
		t.Fatalf("MarkInterrupted: %v", err)
	}
	if len(got) != 1 || got[0].RunID != "dead" || got[0].Results != 1 {
		t.Fatalf("MarkInterrupted = %+v", got)
	}

	dead, _ := db.GetRun("dead")
	if dead.Status != RunInterrupted {
		t.Errorf("dead run status = %q", dead.Status)
	}
	alive, _ := db.GetRun("alive")
	if alive.Status != RunActive {
		t.Errorf("alive run status = %q", alive.Status)
	}
	done, _ := db.GetRun("done")
	if done.Status != RunCompleted {
		t.Errorf("completed run status = %q", done.Status)
	}
}

func TestIsProcessAlive(t *testing.T) {
	if !isProcessAlive(os.Getpid()) {
		t.Error("current process reported dead")
	}
}
