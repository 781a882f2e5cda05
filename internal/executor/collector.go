package executor

import (
	"strings"
	"sync"
	"time"
)

// TruncationMarker is appended to output that was cut by the line or byte
// caps.
const TruncationMarker = "\n…[output truncated]"

// outputCollector accumulates one stream in chunked buffers, tracks last
// activity for the adaptive timer, and reports when the global caps are
// crossed. One collector per stream; both share the caps via the parent.
type outputCollector struct {
	mu sync.Mutex

	chunks     []string
	chunkLimit int
	current    strings.Builder

	totalBytes int64
	lines      int

	maxBytes int64
	maxLines int

	capped    bool
	truncated bool

	lastActivity time.Time
	nowFn        func() time.Time
}

func newOutputCollector(chunkKB, maxOutputKB, maxLines int) *outputCollector {
	return &outputCollector{
		chunkLimit:   chunkKB * 1024,
		maxBytes:     int64(maxOutputKB) * 1024,
		maxLines:     maxLines,
		lastActivity: time.Now(),
		nowFn:        time.Now,
	}
}

// Write folds one read's worth of data in. It returns true the first time
// a cap is crossed, so the executor can apply the overflow strategy once.
func (c *outputCollector) Write(p []byte) (overflowNow bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.lastActivity = c.nowFn()
	data := string(p)
	c.totalBytes += int64(len(data))
	c.lines += strings.Count(data, "\n")

	// Past the cap the pumps keep draining so totalBytes stays honest,
	// but nothing more is buffered.
	if c.capped {
		return false
	}

	byteOverflow := c.maxBytes > 0 && c.totalBytes > c.maxBytes
	lineOverflow := c.maxLines > 0 && c.lines > c.maxLines
	if byteOverflow || lineOverflow {
		// Keep only what fits under the byte cap.
		keep := len(data)
		if byteOverflow {
			over := c.totalBytes - c.maxBytes
			keep -= int(over)
			if keep < 0 {
				keep = 0
			}
		}
		c.appendLocked(data[:keep])
		c.capped = true
		c.truncated = true
		return true
	}

	c.appendLocked(data)
	return false
}

func (c *outputCollector) appendLocked(data string) {
	c.current.WriteString(data)
	if c.chunkLimit > 0 && c.current.Len() >= c.chunkLimit {
		c.chunks = append(c.chunks, c.current.String())
		c.current.Reset()
	}
}

// String joins the chunked buffers, appending the truncation marker when
// any cap fired.
func (c *outputCollector) String() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	var b strings.Builder
	for _, chunk := range c.chunks {
		b.WriteString(chunk)
	}
	b.WriteString(c.current.String())
	if c.truncated {
		b.WriteString(TruncationMarker)
	}
	return b.String()
}

func (c *outputCollector) TotalBytes() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.totalBytes
}

func (c *outputCollector) Truncated() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.truncated
}

func (c *outputCollector) LastActivity() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastActivity
}
