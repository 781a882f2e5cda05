package history

import (
	"testing"
	"time"

	"github.com/rcourtman/shellgate/internal/pipeline"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(StoreConfig{
		DataDir:       t.TempDir(),
		RetentionDays: 7,
	})
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func record(s *Store, id, level string, ts time.Time, preview string) {
	s.RecordExecution(id, ts, level, pipeline.ExecutionSummary{
		Preview:           preview,
		DurationMs:        10,
		TerminationReason: "completed",
		SessionID:         "s1",
	})
}

func TestRecentNewestFirst(t *testing.T) {
	s := newTestStore(t)
	base := time.Now().Add(-time.Hour)
	record(s, "01A", "SAFE", base, "Get-Date")
	record(s, "01B", "RISKY", base.Add(time.Minute), "Remove-Item ./x")
	record(s, "01C", "SAFE", base.Add(2*time.Minute), "Get-Location")
	s.Flush()

	rows, err := s.Recent(2)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("rows = %d", len(rows))
	}
	if rows[0].ID != "01C" || rows[1].ID != "01B" {
		t.Fatalf("order = %s, %s", rows[0].ID, rows[1].ID)
	}
	if rows[1].Level != "RISKY" || rows[1].Preview != "Remove-Item ./x" {
		t.Fatalf("row = %+v", rows[1])
	}
}

func TestUnknownTop(t *testing.T) {
	s := newTestStore(t)
	now := time.Now()
	for i := 0; i < 3; i++ {
		record(s, string(rune('A'+i)), "UNKNOWN", now, "Invoke-Widget")
	}
	record(s, "D", "UNKNOWN", now, "Invoke-Gadget")
	record(s, "E", "SAFE", now, "Get-Date")
	s.Flush()

	top, err := s.UnknownTop(5)
	if err != nil {
		t.Fatalf("unknown top: %v", err)
	}
	if len(top) != 2 {
		t.Fatalf("top = %+v", top)
	}
	if top[0].Preview != "Invoke-Widget" || top[0].Count != 3 {
		t.Fatalf("top[0] = %+v", top[0])
	}
}

func TestLevelCountsSince(t *testing.T) {
	s := newTestStore(t)
	now := time.Now()
	record(s, "A", "SAFE", now.Add(-48*time.Hour), "old")
	record(s, "B", "SAFE", now, "new")
	record(s, "C", "RISKY", now, "new2")
	s.Flush()

	counts, err := s.LevelCountsSince(now.Add(-24 * time.Hour))
	if err != nil {
		t.Fatalf("level counts: %v", err)
	}
	if counts["SAFE"] != 1 || counts["RISKY"] != 1 {
		t.Fatalf("counts = %+v", counts)
	}
}

func TestRetentionSweep(t *testing.T) {
	s := newTestStore(t)
	record(s, "OLD", "SAFE", time.Now().AddDate(0, 0, -30), "ancient")
	record(s, "NEW", "SAFE", time.Now(), "fresh")
	s.Flush()
	s.sweep()

	rows, err := s.Recent(10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(rows) != 1 || rows[0].ID != "NEW" {
		t.Fatalf("rows = %+v", rows)
	}
}

func TestExitCodeRoundTrip(t *testing.T) {
	s := newTestStore(t)
	code := 124
	s.RecordExecution("T", time.Now(), "SAFE", pipeline.ExecutionSummary{
		Preview:           "slow",
		TimedOut:          true,
		TerminationReason: "timeout",
		ExitCode:          &code,
	})
	s.RecordExecution("N", time.Now().Add(time.Second), "SAFE", pipeline.ExecutionSummary{
		Preview: "none",
	})
	s.Flush()

	rows, err := s.Recent(2)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if rows[0].ExitCode != nil {
		t.Fatalf("null exit code not preserved: %+v", rows[0])
	}
	if rows[1].ExitCode == nil || *rows[1].ExitCode != 124 {
		t.Fatalf("exit code lost: %+v", rows[1])
	}
	if !rows[1].TimedOut {
		t.Fatal("timedOut flag lost")
	}
}
