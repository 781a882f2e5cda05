// Package reporting renders a day's audit journal into a PDF summary for
// operators: totals per category and level, plus tables of blocked and
// confirmation-required commands.
package reporting

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/rcourtman/shellgate/pkg/audit"
)

// ReportData is the aggregated view of one day's audit journal.
type ReportData struct {
	Date    time.Time
	Entries int

	ByCategory map[string]int
	ByLevel    map[string]int

	Blocked      []audit.Entry
	Confirmation []audit.Entry
	Executions   int
}

// LoadDay reads the strict NDJSON journal for the given date from logsDir.
// A missing file yields an empty report, not an error.
func LoadDay(logsDir string, date time.Time) (*ReportData, error) {
	data := &ReportData{
		Date:       date,
		ByCategory: make(map[string]int),
		ByLevel:    make(map[string]int),
	}

	path := filepath.Join(logsDir, fmt.Sprintf("audit-%s.ndjson", date.Format("2006-01-02")))
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			log.Warn().Str("path", path).Msg("No audit journal for date")
			return data, nil
		}
		return nil, fmt.Errorf("open audit journal: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1<<20)
	for scanner.Scan() {
		var entry audit.Entry
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			// A torn final line from a crashed process is not worth
			// failing the whole report over.
			continue
		}
		data.Entries++
		data.ByCategory[entry.Category]++
		data.ByLevel[entry.Level]++

		switch entry.Category {
		case audit.CategoryCommandBlocked:
			data.Blocked = append(data.Blocked, entry)
		case audit.CategoryConfirmRequired:
			data.Confirmation = append(data.Confirmation, entry)
		case audit.CategoryExec:
			data.Executions++
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan audit journal: %w", err)
	}
	return data, nil
}

// sortedCounts renders a count map as stable (key, count) pairs, highest
// count first.
func sortedCounts(m map[string]int) [][2]any {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if m[keys[i]] != m[keys[j]] {
			return m[keys[i]] > m[keys[j]]
		}
		return keys[i] < keys[j]
	})

	out := make([][2]any, 0, len(keys))
	for _, k := range keys {
		out = append(out, [2]any{k, m[k]})
	}
	return out
}
