package proxy

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
)

// readChunkSize is the size of the scratch buffer handed to each source
// read. Frames larger than this are reassembled across reads.
const readChunkSize = 4096

// Pipe carries one direction of a session: it reassembles complete
// frames from the source stream, runs each through the shared handler,
// and writes the result to the sink. SSL negotiation probes are
// answered without touching the backend: the canned decline is handed
// to the sibling pipe over the channel pair, and anything received from
// the sibling is written straight to the sink, bypassing framing and
// the handler.
//
// A pipe owns its accumulation and output buffers exclusively; the two
// pipes of a session communicate only through their channels.
type Pipe struct {
	name      string
	dbType    DatabaseType
	direction Direction
	handler   *HandlerHandle
	source    io.Reader
	sink      io.Writer
	logger    *slog.Logger
	maxFrame  int

	// declines, when set, counts SSL probes answered locally.
	declines *atomic.Int64

	buf []byte // accumulated source bytes not yet framed
	out []byte // bytes awaiting the sink
}

// NewPipe builds a pipe for one direction. The handler handle must be
// the same for both pipes of a session. maxFrame ≤ 0 selects
// DefaultMaxFrameSize.
func NewPipe(name string, dbType DatabaseType, handler *HandlerHandle, direction Direction, source io.Reader, sink io.Writer, logger *slog.Logger, maxFrame int) *Pipe {
	return &Pipe{
		name:      name,
		dbType:    dbType,
		direction: direction,
		handler:   handler,
		source:    source,
		sink:      sink,
		logger:    logger.With("pipe", name, "direction", direction.String()),
		maxFrame:  maxFrame,
	}
}

// readResult is one completed source read, delivered to the event loop
// by the reader goroutine.
type readResult struct {
	data []byte
	err  error
}

// Run drives the pipe until a terminal failure. Each iteration races
// the source stream against the sibling-receive channel, fully handles
// whichever fires first, then drains the output buffer to the sink
// before the next race.
//
// Run closes send on return, which the sibling observes as
// ErrSiblingClosed. The caller owns both underlying connections and
// must close them when either pipe's Run ends; closing the source is
// what unblocks a pipe stalled in a read.
func (p *Pipe) Run(send chan<- Packet, recv <-chan Packet) error {
	defer close(send)

	done := make(chan struct{})
	defer close(done)

	readCh := make(chan readResult)
	go p.readLoop(readCh, done)

	p.logger.Debug("pipe running")

	for {
		select {
		case res := <-readCh:
			if err := p.processRead(res, send, recv); err != nil {
				p.logger.Warn("pipe stopping", "error", err)
				return err
			}

		case pkt, ok := <-recv:
			if !ok {
				err := p.fail(ErrSiblingClosed)
				p.logger.Warn("pipe stopping", "error", err)
				return err
			}
			// Short-circuit path: bytes synthesized by the sibling go
			// straight out, no framing, no handler.
			p.logger.Debug("short-circuit packet", "bytes", pkt.Size())
			p.out = append(p.out, pkt.Bytes()...)
		}

		if err := p.flush(); err != nil {
			p.logger.Warn("pipe stopping", "error", err)
			return err
		}
	}
}

// readLoop feeds source reads into the event loop one at a time. Data
// and the terminating error travel as separate results so a final
// chunk delivered together with EOF is not lost. Stops once the event
// loop is gone.
func (p *Pipe) readLoop(readCh chan<- readResult, done <-chan struct{}) {
	scratch := make([]byte, readChunkSize)
	for {
		n, err := p.source.Read(scratch)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, scratch[:n])
			select {
			case readCh <- readResult{data: chunk}:
			case <-done:
				return
			}
		}
		if err != nil {
			select {
			case readCh <- readResult{err: err}:
			case <-done:
			}
			return
		}
	}
}

// processRead folds one source read into the accumulation buffer and
// handles every complete frame it now holds.
func (p *Pipe) processRead(res readResult, send chan<- Packet, recv <-chan Packet) error {
	if res.err != nil {
		if errors.Is(res.err, io.EOF) {
			return p.fail(ErrSourceClosed)
		}
		return p.fail(fmt.Errorf("read from source: %w", res.err))
	}
	if len(res.data) == 0 {
		return p.fail(ErrSourceClosed)
	}

	p.buf = append(p.buf, res.data...)
	p.logger.Debug("source bytes", "read", len(res.data), "buffered", len(p.buf))

	for {
		pkt, n, err := NextPacket(p.dbType, p.buf, p.maxFrame)
		if err != nil {
			return p.fail(err)
		}
		if n == 0 {
			return nil
		}
		p.buf = p.buf[n:]

		if pkt.IsSSLRequest() {
			// Decline the TLS upgrade on behalf of the backend. The
			// reply has to reach this pipe's own peer, so it travels
			// through the sibling, whose sink is our source's peer.
			p.logger.Debug("declining SSL request")
			if err := p.sendToSibling(send, recv, sslDecline(p.dbType)); err != nil {
				return p.fail(fmt.Errorf("sending SSL decline: %w", err))
			}
			if p.declines != nil {
				p.declines.Add(1)
			}
			continue
		}

		transformed, err := p.handler.transform(p.direction, pkt)
		if err != nil {
			return p.fail(fmt.Errorf("handler: %w", err))
		}
		p.out = append(p.out, transformed.Bytes()...)
	}
}

// sendToSibling delivers a short-circuit packet. The send blocks under
// back-pressure, suspending only this pipe's goroutine. While blocked
// it keeps servicing its own receive side: that both detects a sibling
// that terminated (closed channel) and breaks the deadlock of two
// pipes sending to each other at once.
func (p *Pipe) sendToSibling(send chan<- Packet, recv <-chan Packet, pkt Packet) error {
	for {
		select {
		case send <- pkt:
			return nil
		case in, ok := <-recv:
			if !ok {
				return ErrSiblingClosed
			}
			p.out = append(p.out, in.Bytes()...)
		}
	}
}

// flush writes the output buffer to the sink, retaining only what the
// sink did not accept. Partial writes are not errors; the loop simply
// continues until the buffer is empty.
func (p *Pipe) flush() error {
	for len(p.out) > 0 {
		n, err := p.sink.Write(p.out)
		p.out = p.out[n:]
		if err != nil {
			return p.fail(fmt.Errorf("write to sink: %w", err))
		}
		p.logger.Debug("bytes written to sink", "bytes", n)
	}
	p.out = nil
	return nil
}

func (p *Pipe) fail(err error) error {
	return &PipeError{Pipe: p.name, Direction: p.direction, Err: err}
}
