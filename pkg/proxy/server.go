package proxy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server accepts client connections, dials the backend for each, and
// runs the resulting sessions. One server speaks one wire protocol to
// one backend.
type Server struct {
	cfg    *Config
	logger *slog.Logger

	// NewHandler builds the PacketHandler for each session. Both
	// directions of a session share the returned instance.
	newHandler func() PacketHandler

	listenerMu     sync.Mutex
	listener       net.Listener
	healthListener net.Listener
	healthServer   *http.Server

	sessions *SessionManager
	metrics  *metricsProvider
	registry *prometheus.Registry

	nextID       atomic.Int64
	wg           sync.WaitGroup
	shutdownOnce sync.Once
	shutdownCh   chan struct{}
}

// NewServer creates a proxy server. newHandler is invoked once per
// accepted connection; nil selects PassthroughHandler.
func NewServer(cfg *Config, newHandler func() PacketHandler, logger *slog.Logger) (*Server, error) {
	if newHandler == nil {
		newHandler = func() PacketHandler { return PassthroughHandler{} }
	}

	sessions := NewSessionManager(logger)
	metrics := newMetricsProvider(sessions)

	registry := prometheus.NewRegistry()
	if err := registry.Register(metrics); err != nil {
		return nil, fmt.Errorf("registering metrics: %w", err)
	}

	return &Server{
		cfg:        cfg,
		logger:     logger,
		newHandler: newHandler,
		sessions:   sessions,
		metrics:    metrics,
		registry:   registry,
		shutdownCh: make(chan struct{}),
	}, nil
}

// Run listens and serves until the context is cancelled or Shutdown is
// called. Each accepted connection runs as its own session goroutine; a
// session failure ends only that session.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.cfg.ListenAddr, err)
	}
	s.listenerMu.Lock()
	s.listener = ln
	s.listenerMu.Unlock()

	if s.cfg.HealthAddr != "" {
		if err := s.startHealthServer(); err != nil {
			ln.Close()
			return err
		}
	}

	s.logger.Info("proxy listening",
		"listen_addr", s.cfg.ListenAddr,
		"backend_addr", s.cfg.BackendAddr,
		"backend_type", s.cfg.BackendType.String(),
	)

	go func() {
		select {
		case <-ctx.Done():
			s.Shutdown(context.Background())
		case <-s.shutdownCh:
		}
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-s.shutdownCh:
				return nil
			default:
			}
			return fmt.Errorf("accept: %w", err)
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConn(ctx, conn)
		}()
	}
}

// handleConn dials the backend and runs one session to completion.
func (s *Server) handleConn(ctx context.Context, clientConn net.Conn) {
	serverConn, err := net.Dial("tcp", s.cfg.BackendAddr)
	if err != nil {
		s.logger.Error("backend dial failed",
			"backend_addr", s.cfg.BackendAddr,
			"client", clientConn.RemoteAddr().String(),
			"error", err,
		)
		clientConn.Close()
		return
	}

	id := fmt.Sprintf("%s-%d", clientConn.RemoteAddr().String(), s.nextID.Add(1))
	sess := NewSession(id, s.cfg.BackendType, s.newHandler(), clientConn, serverConn, s.logger, s.cfg.MaxFrameSize)

	s.sessions.Add(sess)
	s.metrics.sessionStarted()
	defer func() {
		s.metrics.sessionEnded(sess)
		s.sessions.Remove(sess.ID)
	}()

	// Session failures are expected at disconnect; only log loudly
	// when the error is something other than a peer hanging up.
	if err := sess.Run(ctx); err != nil {
		level := slog.LevelInfo
		if !errors.Is(err, ErrSourceClosed) && !errors.Is(err, ErrSiblingClosed) && !errors.Is(err, context.Canceled) {
			level = slog.LevelWarn
		}
		s.logger.Log(ctx, level, "session terminated", "session", sess.ID, "error", err)
	}
}

// Shutdown stops accepting, closes all sessions, and waits for session
// goroutines to drain, bounded by the configured shutdown timeout.
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	s.shutdownOnce.Do(func() {
		close(s.shutdownCh)
		s.listenerMu.Lock()
		if s.listener != nil {
			s.listener.Close()
		}
		s.listenerMu.Unlock()

		s.sessions.CloseAll()

		doneCh := make(chan struct{})
		go func() {
			s.wg.Wait()
			close(doneCh)
		}()

		timeout := s.cfg.ShutdownTimeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		select {
		case <-doneCh:
		case <-time.After(timeout):
			err = fmt.Errorf("shutdown timed out after %s", timeout)
		case <-ctx.Done():
			err = ctx.Err()
		}

		if s.healthServer != nil {
			s.healthServer.Close()
		}
		s.logger.Info("proxy stopped")
	})
	return err
}

// Sessions exposes the live session registry.
func (s *Server) Sessions() *SessionManager { return s.sessions }

// Addr returns the bound listen address once Run has opened it, or nil.
func (s *Server) Addr() net.Addr {
	s.listenerMu.Lock()
	defer s.listenerMu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// HealthAddr returns the bound health address, or nil when the health
// server is disabled or not yet listening.
func (s *Server) HealthAddr() net.Addr {
	s.listenerMu.Lock()
	defer s.listenerMu.Unlock()
	if s.healthListener == nil {
		return nil
	}
	return s.healthListener.Addr()
}

func (s *Server) startHealthServer() error {
	ln, err := net.Listen("tcp", s.cfg.HealthAddr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.cfg.HealthAddr, err)
	}
	s.listenerMu.Lock()
	s.healthListener = ln
	s.listenerMu.Unlock()

	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/ready", s.handleReady)
	mux.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))

	s.healthServer = &http.Server{Handler: mux}
	go func() {
		if err := s.healthServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("health server error", "error", err)
		}
	}()
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"healthy"}`))
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	select {
	case <-s.shutdownCh:
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(`{"status":"draining"}`))
	default:
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ready"}`))
	}
}
