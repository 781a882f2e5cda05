// Package learning captures redacted, hashed unknown-command candidates,
// scores them for promotion, and manages the human-gated queue → approve
// pipeline that turns candidates into learned-safe patterns. Raw command
// text is never persisted: every stored form has been normalized and its
// volatile tokens replaced by placeholders.
package learning

import (
	"bufio"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/rcourtman/shellgate/internal/redact"
)

const (
	candidatesFile = "learnCandidates.jsonl"
	rotatedSuffix  = ".1"

	defaultJournalMaxKB = 4096
	defaultHMACSecret   = "shellgate-learn"
)

// journalLine is one NDJSON record in the candidates journal.
type journalLine struct {
	StructuralHash string    `json:"structuralHash"`
	Normalized     string    `json:"normalized"`
	FirstSeen      time.Time `json:"firstSeen"`
	LastSeen       time.Time `json:"lastSeen"`
	SessionID      string    `json:"sessionId,omitempty"`
}

// Candidate is the aggregated view of one normalized form.
type Candidate struct {
	Normalized       string    `json:"normalized"`
	StructuralHash   string    `json:"structuralHash"`
	Count            int       `json:"count"`
	FirstSeen        time.Time `json:"firstSeen"`
	LastSeen         time.Time `json:"lastSeen"`
	DistinctSessions int       `json:"distinctSessions"`
	SampleRedacted   string    `json:"sampleRedacted"`
}

// Journal appends candidate sightings to a size-rotated NDJSON file and
// aggregates them on read. Safe for concurrent use.
type Journal struct {
	mu       sync.Mutex
	path     string
	maxBytes int64
	secret   []byte

	nowFn func() time.Time
}

// JournalConfig configures the candidates journal.
type JournalConfig struct {
	DataDir    string
	MaxKB      int    // rotate when the journal exceeds this size
	HMACSecret string // keyed hash secret; a default is used when empty
}

// NewJournal creates the candidates journal under cfg.DataDir.
func NewJournal(cfg JournalConfig) (*Journal, error) {
	if cfg.DataDir == "" {
		return nil, fmt.Errorf("data directory is required")
	}
	if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}
	maxKB := cfg.MaxKB
	if maxKB <= 0 {
		maxKB = defaultJournalMaxKB
	}
	secret := cfg.HMACSecret
	if secret == "" {
		secret = defaultHMACSecret
	}
	return &Journal{
		path:     filepath.Join(cfg.DataDir, candidatesFile),
		maxBytes: int64(maxKB) * 1024,
		secret:   []byte(secret),
		nowFn:    time.Now,
	}, nil
}

// StructuralHash computes the keyed HMAC identifying a normalized form.
func (j *Journal) StructuralHash(normalized string) string {
	mac := hmac.New(sha256.New, j.secret)
	mac.Write([]byte(normalized))
	return hex.EncodeToString(mac.Sum(nil))
}

// Record redacts and normalizes the command and appends one journal line.
// The raw command never reaches disk.
func (j *Journal) Record(command, sessionID string) error {
	redacted, _ := redact.SensitiveText(command)
	normalized := redact.Normalize(redacted)
	if normalized == "" {
		return nil
	}

	now := j.nowFn()
	line := journalLine{
		StructuralHash: j.StructuralHash(normalized),
		Normalized:     normalized,
		FirstSeen:      now,
		LastSeen:       now,
		SessionID:      sessionID,
	}
	data, err := json.Marshal(line)
	if err != nil {
		return fmt.Errorf("marshal candidate: %w", err)
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	j.rotateIfNeededLocked(int64(len(data) + 1))

	f, err := os.OpenFile(j.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("open candidates journal: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("append candidate: %w", err)
	}
	return nil
}

func (j *Journal) rotateIfNeededLocked(incoming int64) {
	info, err := os.Stat(j.path)
	if err != nil || info.Size()+incoming <= j.maxBytes {
		return
	}
	rotated := j.path + rotatedSuffix
	if err := os.Rename(j.path, rotated); err != nil {
		log.Warn().Err(err).Str("path", j.path).Msg("Failed to rotate candidates journal")
	}
}

// Aggregate scans the journal (including the rotated generation) and folds
// sightings into per-normalized-form candidates, sorted by count descending.
func (j *Journal) Aggregate() ([]Candidate, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	byHash := make(map[string]*Candidate)
	sessions := make(map[string]map[string]struct{})

	for _, path := range []string{j.path + rotatedSuffix, j.path} {
		if err := scanJournalFile(path, byHash, sessions); err != nil {
			return nil, err
		}
	}

	out := make([]Candidate, 0, len(byHash))
	for hash, c := range byHash {
		c.DistinctSessions = len(sessions[hash])
		out = append(out, *c)
	}
	sort.Slice(out, func(a, b int) bool {
		if out[a].Count != out[b].Count {
			return out[a].Count > out[b].Count
		}
		return out[a].Normalized < out[b].Normalized
	})
	return out, nil
}

func scanJournalFile(path string, byHash map[string]*Candidate, sessions map[string]map[string]struct{}) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("open candidates journal %s: %w", path, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		var line journalLine
		if err := json.Unmarshal(scanner.Bytes(), &line); err != nil {
			// A torn write at rotation time is not fatal.
			continue
		}
		c, ok := byHash[line.StructuralHash]
		if !ok {
			c = &Candidate{
				Normalized:     line.Normalized,
				StructuralHash: line.StructuralHash,
				FirstSeen:      line.FirstSeen,
				LastSeen:       line.LastSeen,
				SampleRedacted: line.Normalized,
			}
			byHash[line.StructuralHash] = c
			sessions[line.StructuralHash] = make(map[string]struct{})
		}
		c.Count++
		if line.FirstSeen.Before(c.FirstSeen) {
			c.FirstSeen = line.FirstSeen
		}
		if line.LastSeen.After(c.LastSeen) {
			c.LastSeen = line.LastSeen
		}
		if line.SessionID != "" {
			sessions[line.StructuralHash][line.SessionID] = struct{}{}
		}
	}
	return scanner.Err()
}
