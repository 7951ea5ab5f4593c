// Package session drives the per-connection state machine: one framed
// LOGIN, then a read-parse-enqueue loop, then a terminal UNREGISTER.
package session

import (
	"errors"
	"fmt"
	"net"

	"github.com/rs/zerolog"

	"github.com/Blackjack1937/Babble/internal/broker"
	"github.com/Blackjack1937/Babble/internal/executor"
	"github.com/Blackjack1937/Babble/internal/metrics"
	"github.com/Blackjack1937/Babble/internal/protocol"
)

var errNotLogin = errors.New("first command must be LOGIN")

// Session reads commands from one connection and produces them into the
// shard queues. The session owns its socket for its whole lifetime.
type Session struct {
	id      uint64
	conn    net.Conn
	pool    *executor.Pool
	broker  *broker.Broker
	log     zerolog.Logger
	metrics *metrics.Registry

	key  uint64 // 0 until LOGIN succeeds
	name string
}

// New builds a session for an accepted connection.
func New(id uint64, conn net.Conn, pool *executor.Pool, b *broker.Broker, logger zerolog.Logger, m *metrics.Registry) *Session {
	return &Session{
		id:      id,
		conn:    conn,
		pool:    pool,
		broker:  b,
		log:     logger.With().Str("component", "session").Uint64("session_id", id).Logger(),
		metrics: m,
	}
}

// Run executes the state machine until the peer disconnects, framing
// fails, or shutdown is observed. It always closes the socket, and always
// unregisters the client if its LOGIN succeeded.
func (s *Session) Run() {
	defer s.conn.Close()

	if err := s.login(); err != nil {
		s.log.Debug().Err(err).Msg("session ended before registration")
		return
	}
	defer s.unregister()

	s.live()
}

// login handles NEW -> PARSING: exactly one framed message, which must be
// a well-formed LOGIN. It is dispatched inline on the session goroutine so
// no later command can be enqueued before the client is registered.
func (s *Session) login() error {
	raw, err := protocol.Recv(s.conn)
	if err != nil {
		return fmt.Errorf("recv login: %w", err)
	}

	cmd, err := protocol.ParseCommand(string(raw), 0)
	if err == nil && cmd.ID != protocol.Login {
		err = errNotLogin
	}
	if err != nil {
		if s.metrics != nil {
			s.metrics.ParseErrors.Inc()
		}
		_ = protocol.WriteAck(s.conn, protocol.ErrorAck(err))
		return err
	}

	cmd.Conn = s.conn
	cmd.Key = protocol.HashName(cmd.Payload)

	answer, err := s.broker.Dispatch(cmd)
	if answer != nil {
		if serr := protocol.SendAnswer(answer); serr != nil {
			return fmt.Errorf("send login ack: %w", serr)
		}
	}
	if err != nil {
		return fmt.Errorf("login %q: %w", cmd.Payload, err)
	}

	s.key = cmd.Key
	s.name = cmd.Payload
	s.log.Debug().Str("name", s.name).Uint64("key", s.key).Msg("session live")
	return nil
}

// live is the LIVE state loop. Parse errors are answered directly without
// touching the queues; well-formed commands are enqueued on the client's
// shard and block under backpressure.
func (s *Session) live() {
	for {
		raw, err := protocol.Recv(s.conn)
		if err != nil {
			return
		}

		cmd, err := protocol.ParseCommand(string(raw), s.key)
		if err != nil {
			if s.metrics != nil {
				s.metrics.ParseErrors.Inc()
			}
			s.log.Warn().Str("name", s.name).Err(err).Msg("parse error")
			if werr := protocol.WriteAck(s.conn, protocol.ErrorAck(err)); werr != nil {
				return
			}
			continue
		}
		cmd.Conn = s.conn
		if cmd.ID == protocol.Login {
			// A LOGIN after registration targets its own name's shard, like
			// any lifecycle command.
			cmd.Key = protocol.HashName(cmd.Payload)
		}

		if err := s.pool.Enqueue(cmd); err != nil {
			// Shutdown fired mid-wait; exit without processing.
			return
		}
	}
}

// unregister is the CLOSING action. The synthesized UNREGISTER goes
// through the client's shard queue so it runs after every command this
// session already enqueued; if the queues are gone it runs inline against
// the registry.
func (s *Session) unregister() {
	cmd := &protocol.Command{ID: protocol.Unregister, Key: s.key, Conn: s.conn}
	if err := s.pool.Enqueue(cmd); err != nil {
		if uerr := s.broker.Unregister(s.key); uerr != nil {
			s.log.Warn().Uint64("key", s.key).Err(uerr).Msg("inline unregister failed")
		}
	}
}
