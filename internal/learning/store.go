package learning

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/rcourtman/shellgate/internal/patterns"
)

const (
	queueFile   = "learn-queue.json"
	learnedFile = "learned-safe.json"

	learnedFileVersion = 1
	saveDebounce       = 5 * time.Second
)

// QueueEntry is one normalized form awaiting human approval.
type QueueEntry struct {
	Normalized   string    `json:"normalized"`
	AddedAt      time.Time `json:"addedAt"`
	LastQueuedAt time.Time `json:"lastQueuedAt"`
	TimesQueued  int       `json:"timesQueued"`
	Source       string    `json:"source"`
}

// ApprovedEntry is one promoted learned-safe pattern.
type ApprovedEntry struct {
	Normalized string    `json:"normalized"`
	Added      time.Time `json:"added"`
	Pattern    string    `json:"pattern"`
	Source     string    `json:"source"`
}

type learnedDocument struct {
	Version  int             `json:"version"`
	Approved []ApprovedEntry `json:"approved"`
}

// Store manages the learn queue and the approved learned-safe list, and
// installs approved patterns on the Pattern Store. Queue writes are
// debounced; approvals are persisted synchronously so a failed write never
// leaves the in-memory pattern store ahead of disk.
type Store struct {
	mu       sync.Mutex
	dataDir  string
	store    *patterns.Store
	queue    map[string]*QueueEntry
	approved []ApprovedEntry

	saveTimer   *time.Timer
	savePending bool

	nowFn func() time.Time
}

// StoreConfig configures the learning store.
type StoreConfig struct {
	DataDir  string
	Patterns *patterns.Store
}

// NewStore loads any persisted queue and approved list from cfg.DataDir
// and installs the approved patterns on the Pattern Store.
func NewStore(cfg StoreConfig) (*Store, error) {
	if cfg.DataDir == "" {
		return nil, fmt.Errorf("data directory is required")
	}
	if cfg.Patterns == nil {
		return nil, fmt.Errorf("pattern store is required")
	}
	if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}

	s := &Store{
		dataDir: cfg.DataDir,
		store:   cfg.Patterns,
		queue:   make(map[string]*QueueEntry),
		nowFn:   time.Now,
	}
	if err := s.load(); err != nil {
		log.Warn().Err(err).Msg("Failed to load learning state, starting fresh")
	}
	s.installApprovedLocked()
	return s, nil
}

// Queue adds normalized forms to the approval queue. Re-queueing an
// existing form bumps its counters instead of duplicating it.
func (s *Store) Queue(normalized []string, source string) []QueueEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.nowFn()
	for _, n := range normalized {
		if n == "" {
			continue
		}
		if entry, ok := s.queue[n]; ok {
			entry.LastQueuedAt = now
			entry.TimesQueued++
			continue
		}
		s.queue[n] = &QueueEntry{
			Normalized:   n,
			AddedAt:      now,
			LastQueuedAt: now,
			TimesQueued:  1,
			Source:       source,
		}
	}
	s.scheduleSaveLocked()
	return s.listQueueLocked()
}

// ListQueue returns the queued entries ordered by when they were added.
func (s *Store) ListQueue() []QueueEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listQueueLocked()
}

func (s *Store) listQueueLocked() []QueueEntry {
	out := make([]QueueEntry, 0, len(s.queue))
	for _, e := range s.queue {
		out = append(out, *e)
	}
	sort.Slice(out, func(a, b int) bool {
		if !out[a].AddedAt.Equal(out[b].AddedAt) {
			return out[a].AddedAt.Before(out[b].AddedAt)
		}
		return out[a].Normalized < out[b].Normalized
	})
	return out
}

// RemoveFromQueue drops normalized forms from the queue, reporting how
// many were present.
func (s *Store) RemoveFromQueue(normalized []string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for _, n := range normalized {
		if _, ok := s.queue[n]; ok {
			delete(s.queue, n)
			removed++
		}
	}
	if removed > 0 {
		s.scheduleSaveLocked()
	}
	return removed
}

// Approve promotes normalized forms to learned-safe patterns. The approved
// list is persisted first; only on success are the patterns installed on
// the Pattern Store and the forms removed from the queue.
func (s *Store) Approve(normalized []string, approvedBy string) ([]ApprovedEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing := make(map[string]bool, len(s.approved))
	for _, e := range s.approved {
		existing[e.Normalized] = true
	}

	now := s.nowFn()
	var added []ApprovedEntry
	for _, n := range normalized {
		if n == "" || existing[n] {
			continue
		}
		def := patterns.LearnedSafeDefinition(n)
		added = append(added, ApprovedEntry{
			Normalized: n,
			Added:      now,
			Pattern:    def.Expr,
			Source:     approvedBy,
		})
		existing[n] = true
	}
	if len(added) == 0 {
		return nil, nil
	}

	candidate := append(append([]ApprovedEntry(nil), s.approved...), added...)
	if err := s.writeLearnedFile(candidate); err != nil {
		return nil, fmt.Errorf("persist approved list: %w", err)
	}
	s.approved = candidate

	defs := make([]patterns.Definition, 0, len(added))
	for _, e := range added {
		defs = append(defs, patterns.Definition{Name: "learned:" + e.Normalized, Expr: e.Pattern})
		delete(s.queue, e.Normalized)
	}
	s.store.AddLearnedSafe(defs...)
	s.scheduleSaveLocked()

	log.Info().Int("count", len(added)).Str("by", approvedBy).Msg("Approved learned-safe patterns")
	return added, nil
}

// Approved returns a copy of the approved list.
func (s *Store) Approved() []ApprovedEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ApprovedEntry(nil), s.approved...)
}

// ReloadApproved re-reads learned-safe.json and reinstalls the learned
// group wholesale, used when the file changes on disk.
func (s *Store) ReloadApproved() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := readLearnedFile(filepath.Join(s.dataDir, learnedFile))
	if err != nil {
		return err
	}
	s.approved = doc.Approved
	s.installApprovedLocked()
	return nil
}

func (s *Store) installApprovedLocked() {
	defs := make([]patterns.Definition, 0, len(s.approved))
	for _, e := range s.approved {
		defs = append(defs, patterns.Definition{Name: "learned:" + e.Normalized, Expr: e.Pattern})
	}
	s.store.SetLearnedSafe(defs)
}

// Flush writes any pending queue state synchronously. Call on shutdown.
func (s *Store) Flush() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.saveTimer != nil {
		s.saveTimer.Stop()
		s.saveTimer = nil
	}
	if s.savePending {
		s.saveQueueLocked()
	}
}

func (s *Store) scheduleSaveLocked() {
	s.savePending = true
	if s.saveTimer != nil {
		return
	}
	s.saveTimer = time.AfterFunc(saveDebounce, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.saveTimer = nil
		if s.savePending {
			s.saveQueueLocked()
		}
	})
}

func (s *Store) saveQueueLocked() {
	s.savePending = false
	entries := s.listQueueLocked()
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		log.Error().Err(err).Msg("Failed to marshal learn queue")
		return
	}
	path := filepath.Join(s.dataDir, queueFile)
	if err := writeFileAtomic(path, data); err != nil {
		log.Error().Err(err).Str("path", path).Msg("Failed to save learn queue")
	}
}

func (s *Store) writeLearnedFile(approved []ApprovedEntry) error {
	doc := learnedDocument{Version: learnedFileVersion, Approved: approved}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	return writeFileAtomic(filepath.Join(s.dataDir, learnedFile), data)
}

func (s *Store) load() error {
	queuePath := filepath.Join(s.dataDir, queueFile)
	if data, err := os.ReadFile(queuePath); err == nil {
		var entries []QueueEntry
		if err := json.Unmarshal(data, &entries); err != nil {
			return fmt.Errorf("parse %s: %w", queueFile, err)
		}
		for i := range entries {
			e := entries[i]
			s.queue[e.Normalized] = &e
		}
	} else if !os.IsNotExist(err) {
		return err
	}

	doc, err := readLearnedFile(filepath.Join(s.dataDir, learnedFile))
	if err != nil {
		return err
	}
	s.approved = doc.Approved
	return nil
}

func readLearnedFile(path string) (learnedDocument, error) {
	var doc learnedDocument
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return doc, nil
		}
		return doc, err
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return doc, fmt.Errorf("parse %s: %w", learnedFile, err)
	}
	return doc, nil
}

// writeFileAtomic writes via a temp file and rename so readers never see a
// half-written document.
func writeFileAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
