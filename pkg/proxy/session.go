package proxy

import (
	"context"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

// channelDepth bounds the short-circuit channels. A full channel
// suspends the sending pipe's goroutine until the sibling drains it.
const channelDepth = 16

// Session is one client–backend connection: a Forward pipe, a Backward
// pipe, and the channel pair between them. It owns the lifecycle of
// both connections.
type Session struct {
	ID        string
	DBType    DatabaseType
	CreatedAt time.Time

	clientConn net.Conn
	serverConn net.Conn
	handler    *HandlerHandle
	logger     *slog.Logger
	maxFrame   int

	// BytesToServer / BytesToClient count bytes actually written to
	// each sink; SSLDeclines counts probes answered without the
	// backend. All read at metrics scrape time.
	BytesToServer atomic.Int64
	BytesToClient atomic.Int64
	SSLDeclines   atomic.Int64

	closed  atomic.Bool
	closeCh chan struct{}
}

// NewSession pairs a client connection with a freshly dialed backend
// connection. The handler instance is shared by both directions.
// maxFrame ≤ 0 selects DefaultMaxFrameSize.
func NewSession(id string, dbType DatabaseType, handler PacketHandler, clientConn, serverConn net.Conn, logger *slog.Logger, maxFrame int) *Session {
	return &Session{
		ID:         id,
		DBType:     dbType,
		CreatedAt:  time.Now(),
		clientConn: clientConn,
		serverConn: serverConn,
		handler:    NewHandlerHandle(handler),
		logger:     logger.With("session", id, "db_type", dbType.String()),
		maxFrame:   maxFrame,
		closeCh:    make(chan struct{}),
	}
}

// Run starts both pipes and blocks until the session ends. The first
// pipe to fail ends the session: both connections are closed, which
// unblocks the surviving pipe, and the first error is returned. A
// cancelled context closes the connections the same way.
func (s *Session) Run(ctx context.Context) error {
	// Forward sends short-circuit replies on fwd, which Backward
	// receives and writes to the client; and vice versa.
	fwd := make(chan Packet, channelDepth)
	bwd := make(chan Packet, channelDepth)

	forward := NewPipe(s.ID, s.DBType, s.handler, Forward,
		s.clientConn, &countingWriter{w: s.serverConn, n: &s.BytesToServer}, s.logger, s.maxFrame)
	backward := NewPipe(s.ID, s.DBType, s.handler, Backward,
		s.serverConn, &countingWriter{w: s.clientConn, n: &s.BytesToClient}, s.logger, s.maxFrame)
	forward.declines = &s.SSLDeclines
	backward.declines = &s.SSLDeclines

	errCh := make(chan error, 2)
	go func() { errCh <- forward.Run(fwd, bwd) }()
	go func() { errCh <- backward.Run(bwd, fwd) }()

	var first error
	received := 0
	select {
	case <-ctx.Done():
		first = ctx.Err()
		s.Close()
	case first = <-errCh:
		received = 1
		s.Close()
	case <-s.closeCh:
	}

	// Closing the connections fails any surviving pipe's next read;
	// wait for both goroutines so the channel pair is fully released.
	for ; received < 2; received++ {
		err := <-errCh
		if first == nil {
			first = err
		}
	}
	s.logger.Info("session ended", "error", first,
		"bytes_to_server", s.BytesToServer.Load(),
		"bytes_to_client", s.BytesToClient.Load(),
	)
	return first
}

// Close tears the session down: both connections are closed exactly
// once. Safe to call from any goroutine.
func (s *Session) Close() {
	if s.closed.CompareAndSwap(false, true) {
		close(s.closeCh)
		s.clientConn.Close()
		s.serverConn.Close()
	}
}

// IsClosed reports whether Close has run.
func (s *Session) IsClosed() bool { return s.closed.Load() }

// countingWriter tracks bytes successfully written to a sink.
type countingWriter struct {
	w io.Writer
	n *atomic.Int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n.Add(int64(n))
	return n, err
}

// SessionManager tracks the live sessions of one server.
type SessionManager struct {
	logger   *slog.Logger
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewSessionManager creates an empty session registry.
func NewSessionManager(logger *slog.Logger) *SessionManager {
	return &SessionManager{
		logger:   logger,
		sessions: make(map[string]*Session),
	}
}

// Add registers a session.
func (m *SessionManager) Add(s *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ID] = s
	m.logger.Debug("session added", "id", s.ID, "db_type", s.DBType.String())
}

// Get retrieves a session by ID.
func (m *SessionManager) Get(id string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	return s, ok
}

// Remove drops a session from the registry. It does not close it.
func (m *SessionManager) Remove(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
}

// Count returns the number of registered sessions.
func (m *SessionManager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// SessionStats is a snapshot of live session counters.
type SessionStats struct {
	Active        int
	BytesToServer int64
	BytesToClient int64
	SSLDeclines   int64
}

// Stats returns live counters for metrics scraping.
func (m *SessionManager) Stats() SessionStats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var st SessionStats
	for _, s := range m.sessions {
		st.Active++
		st.BytesToServer += s.BytesToServer.Load()
		st.BytesToClient += s.BytesToClient.Load()
		st.SSLDeclines += s.SSLDeclines.Load()
	}
	return st
}

// CloseAll closes every registered session and empties the registry.
func (m *SessionManager) CloseAll() {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for id, s := range m.sessions {
		sessions = append(sessions, s)
		delete(m.sessions, id)
	}
	m.mu.Unlock()

	for _, s := range sessions {
		s.Close()
	}
}
