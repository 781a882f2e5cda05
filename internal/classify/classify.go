// Package classify assigns a risk level to shell commands by consulting the
// pattern store's snapshot groups in a fixed layer order, falling back to
// verb heuristics for commands no pattern covers. Unmatched commands are
// handed to the learning pipeline as candidates.
package classify

import (
	"strings"

	"github.com/rcourtman/shellgate/internal/patterns"
	"github.com/rcourtman/shellgate/internal/redact"
)

// Level is the six-valued risk bucket assigned to a command.
type Level string

const (
	LevelSafe      Level = "SAFE"
	LevelRisky     Level = "RISKY"
	LevelDangerous Level = "DANGEROUS"
	LevelCritical  Level = "CRITICAL"
	LevelBlocked   Level = "BLOCKED"
	LevelUnknown   Level = "UNKNOWN"
)

// Levels lists every classification level in severity order.
var Levels = []Level{LevelSafe, LevelRisky, LevelDangerous, LevelCritical, LevelBlocked, LevelUnknown}

// Assessment is the immutable outcome of classifying one command.
type Assessment struct {
	Level                Level    `json:"level"`
	Blocked              bool     `json:"blocked"`
	RequiresConfirmation bool     `json:"requiresConfirmation"`
	Reason               string   `json:"reason"`
	MatchedPatterns      []string `json:"matchedPatterns,omitempty"`
	Verb                 string   `json:"verb,omitempty"`
	Noun                 string   `json:"noun,omitempty"`
}

var safeVerbs = map[string]bool{
	"get": true, "test": true, "measure": true, "format": true,
	"select": true, "where": true, "sort": true,
}

var destructiveVerbs = map[string]bool{
	"set": true, "stop": true, "remove": true, "new": true, "clear": true,
	"disable": true, "restart": true, "add": true, "import": true,
	"export": true, "invoke": true, "install": true, "uninstall": true,
	"move": true, "rename": true, "send": true, "copy": true,
}

var destructiveNouns = map[string]bool{
	"service": true, "process": true, "item": true, "itemproperty": true,
	"variable": true, "alias": true, "module": true, "job": true,
}

// Config wires the classifier's collaborators.
type Config struct {
	Store *patterns.Store

	// OnUnknown receives commands no layer matched; invoked on its own
	// goroutine so classification never waits on the learning pipeline.
	OnUnknown func(command, sessionID string)
}

// Classifier produces assessments from command strings. Safe for
// concurrent use; each classification reads one snapshot.
type Classifier struct {
	store     *patterns.Store
	onUnknown func(command, sessionID string)
}

// New builds a classifier over the given pattern store.
func New(cfg Config) *Classifier {
	return &Classifier{
		store:     cfg.Store,
		onUnknown: cfg.OnUnknown,
	}
}

// Classify assesses a command with no session attribution.
func (c *Classifier) Classify(command string) Assessment {
	return c.ClassifyForSession(command, "")
}

// ClassifyForSession assesses a command, attributing any learning candidate
// to the given session. Layers are applied in fixed order; the first
// decisive outcome wins and later layers never lower severity.
func (c *Classifier) ClassifyForSession(command, sessionID string) Assessment {
	trimmed := strings.TrimSpace(command)
	lowered := strings.ToLower(trimmed)
	verb, noun := parseVerbNoun(lowered)

	if lowered == "" {
		return Assessment{
			Level:                LevelUnknown,
			RequiresConfirmation: true,
			Reason:               "empty command",
		}
	}

	// One snapshot for the whole classification.
	snap := c.store.CurrentSnapshot()

	if name, ok := snap.CriticalAliases.FirstMatch(lowered); ok {
		return Assessment{
			Level:           LevelCritical,
			Blocked:         true,
			Reason:          "suspicious construction: " + name,
			MatchedPatterns: []string{name},
			Verb:            verb,
			Noun:            noun,
		}
	}

	if name, ok := snap.Blocked.FirstMatch(lowered); ok {
		return Assessment{
			Level:           LevelBlocked,
			Blocked:         true,
			Reason:          "matched blocked pattern: " + name,
			MatchedPatterns: []string{name},
			Verb:            verb,
			Noun:            noun,
		}
	}

	if name, ok := snap.Dangerous.FirstMatch(lowered); ok {
		return Assessment{
			Level:           LevelDangerous,
			Blocked:         true,
			Reason:          "matched dangerous pattern: " + name,
			MatchedPatterns: []string{name},
			Verb:            verb,
			Noun:            noun,
		}
	}

	if name, ok := snap.Risky.FirstMatch(lowered); ok {
		return Assessment{
			Level:                LevelRisky,
			RequiresConfirmation: true,
			Reason:               "matched risky pattern: " + name,
			MatchedPatterns:      []string{name},
			Verb:                 verb,
			Noun:                 noun,
		}
	}

	if name, ok := snap.Safe.FirstMatch(lowered); ok {
		return Assessment{
			Level:           LevelSafe,
			Reason:          "matched safe pattern: " + name,
			MatchedPatterns: []string{name},
			Verb:            verb,
			Noun:            noun,
		}
	}
	// Learned-safe patterns are authored against normalized forms, so they
	// are matched against the command's normalized rendering.
	if name, ok := snap.LearnedSafe.FirstMatch(redact.Normalize(trimmed)); ok {
		return Assessment{
			Level:           LevelSafe,
			Reason:          "matched learned-safe pattern",
			MatchedPatterns: []string{name},
			Verb:            verb,
			Noun:            noun,
		}
	}

	if safeVerbs[verb] {
		return Assessment{
			Level:  LevelSafe,
			Reason: "safe verb baseline: " + verb,
			Verb:   verb,
			Noun:   noun,
		}
	}

	if destructiveVerbs[verb] {
		hasForce := hasSwitch(lowered, "-force")
		hasRecurse := hasSwitch(lowered, "-recurse")
		hasWhatIf := hasSwitch(lowered, "-whatif")
		hasConfirmFalse := strings.Contains(lowered, "-confirm:$false")

		if destructiveNouns[noun] || hasForce || hasRecurse {
			level := LevelRisky
			reason := "destructive verb " + verb
			if destructiveNouns[noun] {
				reason += " on noun " + noun
			}
			if hasForce || hasRecurse {
				reason += " with force/recurse switch"
			}
			if hasConfirmFalse {
				level = LevelDangerous
				reason += ", confirmation suppressed"
			}
			// -WhatIf is a dry run; without -Force it caps the escalation.
			if hasWhatIf && !hasForce && level == LevelDangerous {
				level = LevelRisky
			}
			return Assessment{
				Level:                level,
				Blocked:              level == LevelDangerous,
				RequiresConfirmation: level == LevelRisky,
				Reason:               reason,
				Verb:                 verb,
				Noun:                 noun,
			}
		}
	}

	if c.onUnknown != nil {
		go c.onUnknown(trimmed, sessionID)
	}
	return Assessment{
		Level:                LevelUnknown,
		RequiresConfirmation: true,
		Reason:               "no pattern matched; command is unknown",
		Verb:                 verb,
		Noun:                 noun,
	}
}

// parseVerbNoun splits the leading token of a lowered command at its first
// hyphen. Commands without a hyphenated head yield the head as verb only.
func parseVerbNoun(lowered string) (string, string) {
	fields := strings.Fields(lowered)
	if len(fields) == 0 {
		return "", ""
	}
	head := fields[0]
	if i := strings.IndexByte(head, '-'); i > 0 && i < len(head)-1 {
		return head[:i], head[i+1:]
	}
	return head, ""
}

// hasSwitch reports whether the command carries the given switch as a
// standalone token (so -force does not match -forcefully).
func hasSwitch(lowered, name string) bool {
	for _, field := range strings.Fields(lowered) {
		if field == name || strings.HasPrefix(field, name+":") {
			return true
		}
	}
	return false
}
