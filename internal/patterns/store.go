// Package patterns holds the gateway's named regex pattern groups and
// publishes them as immutable compiled snapshots. Mutations build a new
// snapshot and install it atomically, so a classification that started on
// the previous snapshot finishes on it unchanged.
package patterns

import (
	"regexp"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/IGLOU-EU/go-wildcard/v2"
	"github.com/rs/zerolog/log"
)

// Definition is a named regular expression in authored form.
type Definition struct {
	Name string `json:"name"`
	Expr string `json:"expr"`
}

// Pattern is a compiled named regular expression.
type Pattern struct {
	Name string
	re   *regexp.Regexp
}

// Match reports whether the pattern matches the command.
func (p Pattern) Match(command string) bool {
	return p.re.MatchString(command)
}

// Group is an ordered set of compiled patterns; lookup is first-match.
type Group []Pattern

// FirstMatch returns the name of the first pattern matching command.
func (g Group) FirstMatch(command string) (string, bool) {
	for _, p := range g {
		if p.re.MatchString(command) {
			return p.Name, true
		}
	}
	return "", false
}

// Snapshot is an immutable compiled view of every pattern group, in the
// order the classifier consults them.
type Snapshot struct {
	CriticalAliases Group
	Blocked         Group
	Dangerous       Group
	Risky           Group
	Safe            Group
	LearnedSafe     Group
}

// Store owns the authored definitions and publishes compiled snapshots.
// All methods are safe for concurrent use.
type Store struct {
	mu       sync.Mutex
	snapshot atomic.Pointer[Snapshot]

	critical   []Definition
	blocked    []Definition
	dangerous  []Definition
	risky      []Definition
	safe       []Definition
	learned    []Definition
	suppressed []string
}

// NewStore builds a store seeded with the built-in groups and installs the
// first snapshot.
func NewStore() *Store {
	s := &Store{
		critical:  builtinCritical(),
		blocked:   builtinBlocked(),
		dangerous: builtinDangerous(),
		risky:     builtinRisky(),
		safe:      builtinSafe(),
	}
	s.rebuildLocked()
	return s
}

// CurrentSnapshot returns the active compiled snapshot. The returned value
// never mutates; callers may hold it for the duration of a classification.
func (s *Store) CurrentSnapshot() *Snapshot {
	return s.snapshot.Load()
}

// AddSafe appends a safe pattern and installs a new snapshot.
func (s *Store) AddSafe(def Definition) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.safe = append(s.safe, def)
	s.rebuildLocked()
}

// AddBlocked appends a blocked pattern and installs a new snapshot.
func (s *Store) AddBlocked(def Definition) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blocked = append(s.blocked, def)
	s.rebuildLocked()
}

// AddLearnedSafe appends learned-safe patterns and installs a new snapshot.
func (s *Store) AddLearnedSafe(defs ...Definition) {
	if len(defs) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.learned = append(s.learned, defs...)
	s.rebuildLocked()
}

// SetLearnedSafe replaces the learned-safe group wholesale, used when the
// approved list is (re)loaded from disk.
func (s *Store) SetLearnedSafe(defs []Definition) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.learned = append([]Definition(nil), defs...)
	s.rebuildLocked()
}

// Suppress removes built-ins whose names match the wildcard expression
// (e.g. "dangerous.*") from subsequent snapshots.
func (s *Store) Suppress(name string) {
	name = strings.TrimSpace(name)
	if name == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.suppressed = append(s.suppressed, name)
	s.rebuildLocked()
}

// LearnedCount returns the number of learned-safe patterns in the store.
func (s *Store) LearnedCount() int {
	snap := s.snapshot.Load()
	if snap == nil {
		return 0
	}
	return len(snap.LearnedSafe)
}

func (s *Store) rebuildLocked() {
	snap := &Snapshot{
		CriticalAliases: compileGroup(s.critical, s.suppressed),
		Blocked:         compileGroup(s.blocked, s.suppressed),
		Dangerous:       compileGroup(s.dangerous, s.suppressed),
		Risky:           compileGroup(s.risky, s.suppressed),
		Safe:            compileGroup(s.safe, s.suppressed),
		LearnedSafe:     compileGroup(s.learned, s.suppressed),
	}
	s.snapshot.Store(snap)
}

// compileGroup compiles definitions case-insensitively, dropping suppressed
// names and skipping invalid expressions with a warning.
func compileGroup(defs []Definition, suppressed []string) Group {
	group := make(Group, 0, len(defs))
	for _, def := range defs {
		if isSuppressed(def.Name, suppressed) {
			continue
		}
		expr := def.Expr
		if !strings.HasPrefix(expr, "(?i)") {
			expr = "(?i)" + expr
		}
		re, err := regexp.Compile(expr)
		if err != nil {
			log.Warn().Err(err).Str("pattern", def.Name).Msg("Skipping invalid pattern regex")
			continue
		}
		group = append(group, Pattern{Name: def.Name, re: re})
	}
	return group
}

func isSuppressed(name string, suppressed []string) bool {
	for _, expr := range suppressed {
		if wildcard.Match(expr, name) {
			return true
		}
	}
	return false
}

// LearnedSafeDefinition renders a normalized form as an anchored,
// whitespace-tolerant learned-safe pattern.
func LearnedSafeDefinition(normalized string) Definition {
	tokens := strings.Fields(normalized)
	escaped := make([]string, len(tokens))
	for i, tok := range tokens {
		escaped[i] = regexp.QuoteMeta(tok)
	}
	return Definition{
		Name: "learned:" + normalized,
		Expr: "^" + strings.Join(escaped, `\s+`) + "$",
	}
}
