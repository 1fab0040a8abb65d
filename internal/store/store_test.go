package store

import (
	"errors"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"henkan/internal/session"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "henkan.db"), time.Second)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpenCreatesDirectory(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "subdir", "nested", "henkan.db")

	s, err := Open(dbPath, 0)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("Close failed: %v", err)
	}
}

func TestCloseNilDB(t *testing.T) {
	s := &Store{db: nil}
	if err := s.Close(); err != nil {
		t.Errorf("Close on nil db should not error: %v", err)
	}
}

func TestReopenKeepsSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "henkan.db")
	s, err := Open(path, 0)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.AddHistory([]session.HistoryEntry{{Reading: "か", Word: "蚊", Count: 1, LastUsed: time.Now()}}); err != nil {
		t.Fatal(err)
	}
	s.Close()

	s, err = Open(path, 0)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s.Close()

	status, err := GetMigrationStatus(s.DB())
	if err != nil {
		t.Fatal(err)
	}
	if status.CurrentVersion != status.LatestVersion || len(status.Pending) != 0 {
		t.Errorf("unexpected status %+v", status)
	}
	entries, err := s.LoadHistory()
	if err != nil || len(entries) != 1 {
		t.Errorf("LoadHistory after reopen = %v, %v", entries, err)
	}
}

func TestHistoryRoundTrip(t *testing.T) {
	s := openTestStore(t)

	empty, err := s.LoadHistory()
	if err != nil {
		t.Fatal(err)
	}
	if len(empty) != 0 {
		t.Errorf("expected empty history, got %d", len(empty))
	}

	used := time.Date(2026, 3, 1, 12, 0, 0, 123, time.UTC)
	entries := []session.HistoryEntry{
		{Reading: "きしゃ", Word: "記者", Count: 3, LastUsed: used},
		{Reading: "かんじ", Word: "漢字", Count: 1, LastUsed: used.Add(time.Hour)},
	}
	if err := s.AddHistory(entries); err != nil {
		t.Fatalf("AddHistory failed: %v", err)
	}

	got, err := s.LoadHistory()
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(got))
	}
	// Ordered by reading.
	if got[0].Word != "漢字" || got[1].Word != "記者" {
		t.Errorf("unexpected order: %+v", got)
	}
	if got[1].Count != 3 || !got[1].LastUsed.Equal(used) {
		t.Errorf("entry not preserved: %+v", got[1])
	}
}

func TestAddHistoryAccumulates(t *testing.T) {
	s := openTestStore(t)
	earlier := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	later := earlier.Add(time.Hour)

	if err := s.AddHistory([]session.HistoryEntry{
		{Reading: "あ", Word: "亜", Count: 1, LastUsed: later},
		{Reading: "い", Word: "胃", Count: 1, LastUsed: earlier},
	}); err != nil {
		t.Fatal(err)
	}
	// A second session adds to the same pair with an older timestamp.
	if err := s.AddHistory([]session.HistoryEntry{
		{Reading: "あ", Word: "亜", Count: 2, LastUsed: earlier},
	}); err != nil {
		t.Fatal(err)
	}

	got, _ := s.LoadHistory()
	if len(got) != 2 {
		t.Fatalf("expected 2 entries, got %+v", got)
	}
	if got[0].Word != "亜" || got[0].Count != 3 || !got[0].LastUsed.Equal(later) {
		t.Errorf("entry not accumulated: %+v", got[0])
	}
	if got[1].Word != "胃" || got[1].Count != 1 {
		t.Errorf("unlisted entry changed: %+v", got[1])
	}

	if err := s.ClearHistory(); err != nil {
		t.Fatal(err)
	}
	got, _ = s.LoadHistory()
	if len(got) != 0 {
		t.Errorf("expected cleared history, got %+v", got)
	}
}

func TestAddHistoryInvalidRollsBack(t *testing.T) {
	s := openTestStore(t)
	now := time.Now()
	if err := s.AddHistory([]session.HistoryEntry{{Reading: "う", Word: "鵜", Count: 1, LastUsed: now}}); err != nil {
		t.Fatal(err)
	}

	err := s.AddHistory([]session.HistoryEntry{
		{Reading: "う", Word: "鵜", Count: 1, LastUsed: now},
		{Reading: "え", Word: "", Count: 1, LastUsed: now},
	})
	if err == nil {
		t.Fatal("expected error for empty word")
	}

	got, _ := s.LoadHistory()
	if len(got) != 1 || got[0].Count != 1 {
		t.Errorf("failed batch must leave history untouched, got %+v", got)
	}
}

func sampleResults() []QualityResult {
	return []QualityResult{
		{Source: "news", Input: "きしゃ", Expected: "記者", Output: "記者", Score: 1},
		{Source: "news", Input: "きしゃが", Expected: "記者が", Output: "汽車が", Score: 0.5},
		{Source: "chat", Input: "かんじ", Expected: "漢字", Output: "感じ", Score: 0, Error: ""},
		{Source: "chat", Input: "x", Expected: "x", Output: "", Score: 0, Error: "session: not connected"},
	}
}

func TestRecordRun(t *testing.T) {
	s := openTestStore(t)

	started := time.Now().Add(-time.Minute)
	run := &QualityRun{Label: "nightly", StartedAt: started, FinishedAt: time.Now()}
	results := sampleResults()
	if err := s.RecordRun(run, results); err != nil {
		t.Fatalf("RecordRun failed: %v", err)
	}

	if _, err := uuid.Parse(run.ID); err != nil {
		t.Errorf("run id %q is not a uuid: %v", run.ID, err)
	}
	if run.CaseCount != 4 {
		t.Errorf("CaseCount = %d, want 4", run.CaseCount)
	}
	for _, r := range results {
		if r.RunID != run.ID {
			t.Errorf("result not tagged with run id: %+v", r)
		}
	}

	got, err := s.Run(run.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Label != "nightly" || !got.StartedAt.Equal(time.Unix(0, started.UnixNano())) {
		t.Errorf("unexpected run %+v", got)
	}

	stored, err := s.Results(run.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(stored) != 4 || stored[1].Output != "汽車が" || stored[3].Error == "" {
		t.Errorf("unexpected results %+v", stored)
	}
}

func TestSourceScores(t *testing.T) {
	s := openTestStore(t)
	run := &QualityRun{StartedAt: time.Now()}
	if err := s.RecordRun(run, sampleResults()); err != nil {
		t.Fatal(err)
	}

	scores, err := s.SourceScores(run.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(scores) != 2 {
		t.Fatalf("expected 2 sources, got %+v", scores)
	}
	if scores[0].Source != "chat" || scores[0].Mean != 0 || scores[0].Cases != 1 {
		t.Errorf("unexpected chat score %+v", scores[0])
	}
	if scores[1].Source != "news" || math.Abs(scores[1].Mean-0.75) > 1e-9 {
		t.Errorf("unexpected news score %+v", scores[1])
	}

	if _, err := s.SourceScores("missing"); !errors.Is(err, ErrRunNotFound) {
		t.Errorf("expected ErrRunNotFound, got %v", err)
	}
}

func TestRunsNewestFirst(t *testing.T) {
	s := openTestStore(t)
	base := time.Now()
	for i := 0; i < 3; i++ {
		run := &QualityRun{Label: string(rune('a' + i)), StartedAt: base.Add(time.Duration(i) * time.Minute)}
		if err := s.RecordRun(run, nil); err != nil {
			t.Fatal(err)
		}
	}

	runs, err := s.Runs(2)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 2 || runs[0].Label != "c" || runs[1].Label != "b" {
		t.Errorf("unexpected runs %+v", runs)
	}
	if !runs[0].FinishedAt.IsZero() {
		t.Error("unfinished run should have zero FinishedAt")
	}

	all, _ := s.Runs(0)
	if len(all) != 3 {
		t.Errorf("expected all runs, got %d", len(all))
	}
}

func TestDeleteRunCascades(t *testing.T) {
	s := openTestStore(t)
	run := &QualityRun{StartedAt: time.Now()}
	if err := s.RecordRun(run, sampleResults()); err != nil {
		t.Fatal(err)
	}

	if err := s.DeleteRun(run.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Run(run.ID); !errors.Is(err, ErrRunNotFound) {
		t.Errorf("expected ErrRunNotFound, got %v", err)
	}
	results, _ := s.Results(run.ID)
	if len(results) != 0 {
		t.Errorf("results not removed: %d", len(results))
	}
	if err := s.DeleteRun(run.ID); !errors.Is(err, ErrRunNotFound) {
		t.Errorf("second delete: %v", err)
	}
}

func TestRollbackMigration(t *testing.T) {
	s := openTestStore(t)

	if err := RollbackMigration(s.DB()); err != nil {
		t.Fatalf("RollbackMigration failed: %v", err)
	}
	status, _ := GetMigrationStatus(s.DB())
	if status.CurrentVersion != 1 || len(status.Pending) != 1 {
		t.Errorf("unexpected status after rollback %+v", status)
	}
	if _, err := s.Runs(0); err == nil {
		t.Error("quality tables should be gone after rollback")
	}

	if err := MigrateDB(s.DB()); err != nil {
		t.Fatalf("re-migrate: %v", err)
	}
	if _, err := s.Runs(0); err != nil {
		t.Errorf("quality tables missing after re-migrate: %v", err)
	}
}
