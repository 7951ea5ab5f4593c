// Package server wires the pipeline together: listener, session spawn,
// shard queues, executors, and graceful shutdown.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/Blackjack1937/Babble/internal/broker"
	"github.com/Blackjack1937/Babble/internal/config"
	"github.com/Blackjack1937/Babble/internal/executor"
	"github.com/Blackjack1937/Babble/internal/metrics"
	"github.com/Blackjack1937/Babble/internal/registry"
	"github.com/Blackjack1937/Babble/internal/session"
)

// Server owns every long-lived component of the pipeline.
type Server struct {
	cfg     config.Config
	log     zerolog.Logger
	metrics *metrics.Registry

	registry *registry.Registry
	broker   *broker.Broker
	pool     *executor.Pool
	limiter  *rate.Limiter

	listener net.Listener
	acceptWG sync.WaitGroup

	// Session table keyed by a monotonically increasing id, so a live
	// session's handle can never be overwritten by a newcomer.
	mu        sync.Mutex
	sessions  map[uint64]net.Conn
	nextID    uint64
	sessionWG sync.WaitGroup
}

// New assembles a server from configuration. Nothing runs until Start.
func New(cfg config.Config, logger zerolog.Logger, m *metrics.Registry) *Server {
	reg := registry.New(cfg.MaxClients)
	b := broker.New(reg, logger, m, cfg.TimelineMax)

	delay := time.Duration(0)
	if cfg.RandomDelay {
		delay = cfg.RandomDelayMax
	}
	pool := executor.NewPool(executor.Config{
		Shards:         cfg.Shards,
		QueueCapacity:  cfg.QueueCapacity,
		RandomDelayMax: delay,
	}, b, logger, m)

	var limiter *rate.Limiter
	if cfg.AcceptRate > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.AcceptRate), cfg.AcceptBurst)
	}

	return &Server{
		cfg:      cfg,
		log:      logger.With().Str("component", "server").Logger(),
		metrics:  m,
		registry: reg,
		broker:   b,
		pool:     pool,
		limiter:  limiter,
		sessions: make(map[uint64]net.Conn),
	}
}

// Start binds the listener, launches the executors and the accept loop.
func (s *Server) Start() error {
	addr := fmt.Sprintf(":%d", s.cfg.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("bind %s: %w", addr, err)
	}
	s.listener = ln

	s.pool.Start()

	s.acceptWG.Add(1)
	go func() {
		defer s.acceptWG.Done()
		s.acceptLoop()
	}()

	s.log.Info().Str("addr", ln.Addr().String()).Int("shards", s.cfg.Shards).
		Int("queue_capacity", s.cfg.QueueCapacity).Int("max_clients", s.cfg.MaxClients).
		Bool("random_delay", s.cfg.RandomDelay).Msg("babble server listening")
	return nil
}

// Addr reports the bound listener address, for tests using port 0.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// Registry exposes the client table for health reporting.
func (s *Server) Registry() *registry.Registry {
	return s.registry
}

func (s *Server) acceptLoop() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			// Stop closes the listener; anything else is fatal to the loop
			// and reported. Either way the loop ends here.
			if !errors.Is(err, net.ErrClosed) {
				s.log.Error().Err(err).Msg("accept failed")
			}
			return
		}

		if s.limiter != nil && !s.limiter.Allow() {
			if s.metrics != nil {
				s.metrics.ConnectionsRejected.Inc()
			}
			s.log.Warn().Str("remote", conn.RemoteAddr().String()).Msg("connection rejected by rate limiter")
			conn.Close()
			continue
		}

		s.spawnSession(conn)
	}
}

func (s *Server) spawnSession(conn net.Conn) {
	s.mu.Lock()
	s.nextID++
	id := s.nextID
	s.sessions[id] = conn
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.SessionsTotal.Inc()
		s.metrics.ActiveSessions.Inc()
	}

	sess := session.New(id, conn, s.pool, s.broker, s.log, s.metrics)

	s.sessionWG.Add(1)
	go func() {
		defer s.sessionWG.Done()
		sess.Run()

		s.mu.Lock()
		delete(s.sessions, id)
		s.mu.Unlock()
		if s.metrics != nil {
			s.metrics.ActiveSessions.Dec()
		}
	}()
}

// Stop shuts the server down: close the listener so the blocked accept
// returns, close the queues and join the executors once buffered commands
// have drained, then close the remaining session sockets so blocked reads
// return, and join the sessions.
func (s *Server) Stop(ctx context.Context) error {
	if s.listener != nil {
		_ = s.listener.Close()
	}
	s.acceptWG.Wait()

	s.pool.Stop()

	s.mu.Lock()
	for _, conn := range s.sessions {
		_ = conn.Close()
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.sessionWG.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return fmt.Errorf("shutdown: %w", ctx.Err())
	}

	s.log.Info().Msg("babble server stopped")
	return nil
}
