package proxy

import "sync"

// PacketHandler transforms packets flowing through a session. One
// instance is shared by both directions of a session so implementations
// can correlate requests with responses; the proxy serializes calls, so
// implementations need no internal locking for per-session state.
//
// Implementations must not retain the input packet beyond the call and
// must return a packet tagged with the session's database type. A
// returned error is fatal: the pipe stops and the session is torn down.
type PacketHandler interface {
	// HandleRequest transforms one client → backend packet.
	HandleRequest(p Packet) (Packet, error)

	// HandleResponse transforms one backend → client packet.
	HandleResponse(p Packet) (Packet, error)
}

// HandlerHandle guards one session's PacketHandler so that the two
// pipes never invoke it concurrently. The mutex blocks only the calling
// goroutine; the sibling pipe keeps running.
type HandlerHandle struct {
	mu sync.Mutex
	h  PacketHandler
}

// NewHandlerHandle wraps a handler for sharing between the two pipes of
// one session.
func NewHandlerHandle(h PacketHandler) *HandlerHandle {
	return &HandlerHandle{h: h}
}

// transform dispatches to the handler operation for the given direction
// under the session-wide lock.
func (s *HandlerHandle) transform(dir Direction, p Packet) (Packet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if dir == Forward {
		return s.h.HandleRequest(p)
	}
	return s.h.HandleResponse(p)
}

// PassthroughHandler forwards every packet unchanged.
type PassthroughHandler struct{}

func (PassthroughHandler) HandleRequest(p Packet) (Packet, error)  { return p, nil }
func (PassthroughHandler) HandleResponse(p Packet) (Packet, error) { return p, nil }
