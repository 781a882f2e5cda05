package redact

import (
	"regexp"
	"strings"
)

// Placeholder tokens substituted into normalized forms. They are uppercase
// so they cannot collide with the lowercased command text around them.
const (
	PlaceholderPath  = "OBF_PATH"
	PlaceholderGUID  = "OBF_GUID"
	PlaceholderIP    = "OBF_IP"
	PlaceholderEmail = "OBF_EMAIL"
	PlaceholderHash  = "OBF_HASH"
)

var (
	windowsPathRE = regexp.MustCompile(`\b[a-z]:[\\/][^\s"']*`)
	uncPathRE     = regexp.MustCompile(`\\\\[^\s"']+`)
	posixPathRE   = regexp.MustCompile(`(^|[\s"'=(])(/[^\s"')]+)`)
	guidRE        = regexp.MustCompile(`\b[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}\b`)
	ipRE          = regexp.MustCompile(`\b(?:\d{1,3}\.){3}\d{1,3}\b`)
	emailRE       = regexp.MustCompile(`\b[a-z0-9._%+-]+@[a-z0-9.-]+\.[a-z]{2,}\b`)
	hexHashRE     = regexp.MustCompile(`\b[0-9a-f]{16,}\b`)
)

// Normalize renders a command into its aggregation form: lowercased,
// whitespace collapsed to single spaces, and volatile tokens (absolute
// paths, GUIDs, IP literals, email addresses, long hex strings) replaced
// by named placeholders. The result is deterministic and free of the
// material that makes raw commands sensitive.
func Normalize(command string) string {
	normalized := strings.ToLower(strings.TrimSpace(command))
	normalized = strings.Join(strings.Fields(normalized), " ")
	if normalized == "" {
		return normalized
	}

	normalized = windowsPathRE.ReplaceAllString(normalized, PlaceholderPath)
	normalized = uncPathRE.ReplaceAllString(normalized, PlaceholderPath)
	normalized = posixPathRE.ReplaceAllString(normalized, "${1}"+PlaceholderPath)
	normalized = guidRE.ReplaceAllString(normalized, PlaceholderGUID)
	normalized = ipRE.ReplaceAllString(normalized, PlaceholderIP)
	normalized = emailRE.ReplaceAllString(normalized, PlaceholderEmail)
	normalized = hexHashRE.ReplaceAllString(normalized, PlaceholderHash)

	return normalized
}
