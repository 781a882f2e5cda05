package reporting

import (
	"bytes"
	"testing"
	"time"

	"github.com/rcourtman/shellgate/pkg/audit"
)

func writeDay(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	journal, err := audit.NewJournal(dir)
	if err != nil {
		t.Fatalf("audit journal: %v", err)
	}
	defer journal.Close()

	journal.Record(audit.LevelInfo, audit.CategoryExec, "Command executed",
		map[string]any{"level": "SAFE", "durationMs": 12})
	journal.Record(audit.LevelInfo, audit.CategoryExec, "Command executed",
		map[string]any{"level": "RISKY", "confirmed": true})
	journal.Record(audit.LevelError, audit.CategoryCommandBlocked, "Command blocked",
		map[string]any{"reason": "matched blocked pattern: blocked.rm-root"})
	journal.Record(audit.LevelWarn, audit.CategoryConfirmRequired, "Command requires confirmation",
		map[string]any{"reason": "matched risky pattern: risky.remove-item"})
	return dir
}

func TestLoadDayAggregates(t *testing.T) {
	dir := writeDay(t)

	data, err := LoadDay(dir, time.Now())
	if err != nil {
		t.Fatalf("load day: %v", err)
	}
	if data.Entries != 4 {
		t.Fatalf("entries = %d", data.Entries)
	}
	if data.Executions != 2 {
		t.Fatalf("executions = %d", data.Executions)
	}
	if len(data.Blocked) != 1 || len(data.Confirmation) != 1 {
		t.Fatalf("blocked=%d confirmation=%d", len(data.Blocked), len(data.Confirmation))
	}
	if data.ByCategory[audit.CategoryExec] != 2 {
		t.Fatalf("byCategory = %+v", data.ByCategory)
	}
	if data.ByLevel[audit.LevelWarn] != 1 {
		t.Fatalf("byLevel = %+v", data.ByLevel)
	}
}

func TestLoadDayMissingFile(t *testing.T) {
	data, err := LoadDay(t.TempDir(), time.Now())
	if err != nil {
		t.Fatalf("missing journal must not error: %v", err)
	}
	if data.Entries != 0 {
		t.Fatalf("entries = %d", data.Entries)
	}
}

func TestGeneratePDF(t *testing.T) {
	dir := writeDay(t)
	data, err := LoadDay(dir, time.Now())
	if err != nil {
		t.Fatalf("load day: %v", err)
	}

	pdfBytes, err := NewPDFGenerator().Generate(data)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if !bytes.HasPrefix(pdfBytes, []byte("%PDF-")) {
		t.Fatalf("output is not a PDF: %.8s", pdfBytes)
	}
	if len(pdfBytes) < 1000 {
		t.Fatalf("suspiciously small PDF: %d bytes", len(pdfBytes))
	}
}

func TestSortedCounts(t *testing.T) {
	rows := sortedCounts(map[string]int{"b": 2, "a": 2, "c": 5})
	if rows[0][0] != "c" || rows[1][0] != "a" || rows[2][0] != "b" {
		t.Fatalf("rows = %v", rows)
	}
}
