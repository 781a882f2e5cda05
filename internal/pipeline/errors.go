package pipeline

import "fmt"

// Error kinds surfaced over the tool RPC. Blocked commands are not errors;
// they come back as inline results carrying the assessment.
const (
	KindUnauthorized    = "unauthorized"
	KindRateLimited     = "rate-limited"
	KindInvalidArgument = "invalid-argument"
	KindInternal        = "internal"
)

// Error is a pipeline failure with an enumerated kind the transport maps
// onto its own error surface.
type Error struct {
	Kind    string
	Message string
}

func (e *Error) Error() string {
	return e.Kind + ": " + e.Message
}

func errf(kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// KindOf extracts the pipeline error kind, defaulting to internal for
// anything that is not a pipeline error.
func KindOf(err error) string {
	if pe, ok := err.(*Error); ok {
		return pe.Kind
	}
	return KindInternal
}
