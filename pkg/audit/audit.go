// Package audit implements a PacketHandler that extracts SQL queries
// from the frames flowing through a proxy session. Packets pass
// through unmodified — this is a passive tap on the forward direction,
// not a rewriter.
//
// The proxy serializes handler invocations per session, so the
// per-session parser state in this package needs no locking of its
// own; the Collector is independently safe for concurrent use because
// recordings may be read while a session is still live.
package audit

import (
	"encoding/json"
	"sync"
	"time"
)

// QueryType classifies how a query was sent.
type QueryType string

const (
	QuerySimple   QueryType = "simple"
	QueryPrepare  QueryType = "prepare"
	QueryExecute  QueryType = "execute"
	QueryComQuery QueryType = "com_query"
)

// QueryEvent represents a single database query captured from the wire
// protocol.
type QueryEvent struct {
	Timestamp time.Time `json:"timestamp"`
	Query     string    `json:"query"`
	Type      QueryType `json:"type"`
}

// frameParser extracts query events from complete client → backend
// frames. Implementations keep per-session handshake state.
type frameParser interface {
	// parseFrame inspects one complete wire frame, header included.
	parseFrame(frame []byte) []QueryEvent
}

// Collector accumulates QueryEvents during a session and serializes
// them as a JSON array when the session closes.
type Collector struct {
	mu     sync.Mutex
	events []QueryEvent
}

// NewCollector creates a new query event collector.
func NewCollector() *Collector {
	return &Collector{}
}

// Add appends a query event to the collection.
func (c *Collector) Add(ev QueryEvent) {
	c.mu.Lock()
	c.events = append(c.events, ev)
	c.mu.Unlock()
}

// Count returns the number of collected events.
func (c *Collector) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.events)
}

// Recording serializes all collected events as a JSON array string.
// Returns an empty string if no events were collected.
func (c *Collector) Recording() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.events) == 0 {
		return ""
	}

	data, err := json.Marshal(c.events)
	if err != nil {
		return "[]"
	}
	return string(data)
}
