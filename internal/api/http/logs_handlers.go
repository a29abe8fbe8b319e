package http

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/GriffinCanCode/FitQuest/backend/internal/relay"
)

// SandboxLogEntry is a log message posted by the sandbox page.
type SandboxLogEntry struct {
	Event     string    `json:"event"`
	Message   string    `json:"message,omitempty"`
	ID        string    `json:"id,omitempty"`
	Data      any       `json:"data,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// LogBuffer keeps the most recent sandbox log messages for inspection and
// forwards each one to the next sink.
type LogBuffer struct {
	mu      sync.Mutex
	entries []SandboxLogEntry
	next    int
	full    bool
	forward relay.LogSink
	now     func() time.Time
}

// NewLogBuffer creates a buffer holding up to size entries. forward may be nil.
func NewLogBuffer(size int, forward relay.LogSink) *LogBuffer {
	if size <= 0 {
		size = 200
	}
	return &LogBuffer{
		entries: make([]SandboxLogEntry, size),
		forward: forward,
		now:     time.Now,
	}
}

// Sink returns the relay.LogSink that feeds the buffer.
func (b *LogBuffer) Sink() relay.LogSink {
	return b.record
}

func (b *LogBuffer) record(m relay.Message) {
	entry := SandboxLogEntry{
		Event:     m.Event,
		Message:   m.Message,
		ID:        m.ID,
		Data:      m.Data,
		Timestamp: b.now(),
	}
	b.mu.Lock()
	b.entries[b.next] = entry
	b.next = (b.next + 1) % len(b.entries)
	if b.next == 0 {
		b.full = true
	}
	b.mu.Unlock()

	if b.forward != nil {
		b.forward(m)
	}
}

// Recent returns up to limit entries, oldest first. limit <= 0 returns all.
func (b *LogBuffer) Recent(limit int) []SandboxLogEntry {
	b.mu.Lock()
	defer b.mu.Unlock()

	var out []SandboxLogEntry
	if b.full {
		out = append(out, b.entries[b.next:]...)
	}
	out = append(out, b.entries[:b.next]...)
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}

// GetSandboxLogs returns recent sandbox log messages. ?limit=N caps the count.
func (h *Handlers) GetSandboxLogs(c *gin.Context) {
	if h.logs == nil {
		c.JSON(http.StatusOK, gin.H{"entries": []SandboxLogEntry{}, "count": 0})
		return
	}
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a non-negative integer"})
			return
		}
		limit = n
	}
	entries := h.logs.Recent(limit)
	c.JSON(http.StatusOK, gin.H{"entries": entries, "count": len(entries)})
}
