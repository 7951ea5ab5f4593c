// Package broker implements the per-command business logic: registration,
// publication, follow relationships, timelines. Executors are the only
// callers for everything except LOGIN and the terminal UNREGISTER, which
// sessions may run inline.
package broker

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/Blackjack1937/Babble/internal/metrics"
	"github.com/Blackjack1937/Babble/internal/protocol"
	"github.com/Blackjack1937/Babble/internal/registry"
)

// ErrUnknownClient is returned when a command carries a key that is not
// registered, e.g. a FOLLOW of a name nobody logged in with.
var ErrUnknownClient = errors.New("unknown client")

// Broker owns the registry and applies commands to it.
type Broker struct {
	reg         *registry.Registry
	log         zerolog.Logger
	metrics     *metrics.Registry
	timelineMax int
}

// New creates a broker over reg. timelineMax bounds both per-client
// timelines and the merged TIMELINE reply.
func New(reg *registry.Registry, logger zerolog.Logger, m *metrics.Registry, timelineMax int) *Broker {
	return &Broker{
		reg:         reg,
		log:         logger.With().Str("component", "broker").Logger(),
		metrics:     m,
		timelineMax: timelineMax,
	}
}

// Dispatch runs one command and returns its answer. A nil answer means
// nothing is to be sent (streaming commands, UNREGISTER). The returned
// error is for logging; whatever the client should see is already in the
// answer.
func (b *Broker) Dispatch(cmd *protocol.Command) (*protocol.Answer, error) {
	switch cmd.ID {
	case protocol.Login:
		return b.login(cmd)
	case protocol.Publish:
		return b.publish(cmd)
	case protocol.Follow:
		return b.follow(cmd)
	case protocol.Timeline:
		return b.timeline(cmd)
	case protocol.FollowCount:
		return b.followCount(cmd)
	case protocol.Rdv:
		return b.rdv(cmd)
	case protocol.Unregister:
		return nil, b.Unregister(cmd.Key)
	default:
		return nil, fmt.Errorf("%s: unhandled command", cmd.ID)
	}
}

func (b *Broker) login(cmd *protocol.Command) (*protocol.Answer, error) {
	name := cmd.Payload
	key := protocol.HashName(name)
	bundle := registry.NewBundle(key, name, cmd.Conn)

	if err := b.reg.Insert(bundle); err != nil {
		b.log.Warn().Str("name", name).Uint64("key", key).Err(err).Msg("login rejected")
		return &protocol.Answer{Conn: cmd.Conn, Payload: protocol.ErrorAck(err)}, err
	}

	if b.metrics != nil {
		b.metrics.RegisteredClients.Set(float64(b.reg.Len()))
	}
	b.log.Info().Str("name", name).Uint64("key", key).Msg("client registered")
	return &protocol.Answer{Conn: cmd.Conn, Payload: protocol.LoginAck(name, key)}, nil
}

func (b *Broker) publish(cmd *protocol.Command) (*protocol.Answer, error) {
	bundle, ok := b.reg.Lookup(cmd.Key)
	if !ok {
		return b.errorAnswer(cmd, ErrUnknownClient)
	}

	bundle.AddPublication(registry.Publication{
		Author:    bundle.Name,
		Message:   cmd.Payload,
		Timestamp: time.Now().UnixNano(),
	}, b.timelineMax)

	if !cmd.AnswerExpected {
		return nil, nil
	}
	return &protocol.Answer{Conn: cmd.Conn, Payload: protocol.PublishAck(cmd.Payload)}, nil
}

func (b *Broker) follow(cmd *protocol.Command) (*protocol.Answer, error) {
	follower, ok := b.reg.Lookup(cmd.Key)
	if !ok {
		return b.errorAnswer(cmd, ErrUnknownClient)
	}

	target, ok := b.reg.Lookup(protocol.HashName(cmd.Payload))
	if !ok {
		return b.errorAnswer(cmd, fmt.Errorf("%w: %s", ErrUnknownClient, cmd.Payload))
	}

	// Two bundles are touched but never locked together, so there is no
	// lock-order cycle even when two clients follow each other at once.
	follower.AddFollowed(target.Key)
	target.AddFollower(follower.Key)

	if !cmd.AnswerExpected {
		return nil, nil
	}
	return &protocol.Answer{Conn: cmd.Conn, Payload: protocol.FollowAck(target.Name)}, nil
}

func (b *Broker) timeline(cmd *protocol.Command) (*protocol.Answer, error) {
	bundle, ok := b.reg.Lookup(cmd.Key)
	if !ok {
		return b.errorAnswer(cmd, ErrUnknownClient)
	}

	var merged []registry.Publication
	for _, key := range bundle.Followed() {
		followed, ok := b.reg.Lookup(key)
		if !ok {
			continue // unregistered since the follow
		}
		merged = append(merged, followed.Publications()...)
	}

	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].Timestamp > merged[j].Timestamp
	})
	if b.timelineMax > 0 && len(merged) > b.timelineMax {
		merged = merged[:b.timelineMax]
	}

	items := make([]string, len(merged))
	for i, p := range merged {
		items[i] = protocol.FormatPublication(p.Author, p.Timestamp, p.Message)
	}

	return &protocol.Answer{
		Conn:         cmd.Conn,
		Timeline:     items,
		TimelineSize: uint32(len(items)),
	}, nil
}

func (b *Broker) followCount(cmd *protocol.Command) (*protocol.Answer, error) {
	bundle, ok := b.reg.Lookup(cmd.Key)
	if !ok {
		return b.errorAnswer(cmd, ErrUnknownClient)
	}
	return &protocol.Answer{Conn: cmd.Conn, Payload: fmt.Sprintf("%d", bundle.FollowerCount())}, nil
}

func (b *Broker) rdv(cmd *protocol.Command) (*protocol.Answer, error) {
	return &protocol.Answer{Conn: cmd.Conn, Payload: protocol.RdvAck()}, nil
}

// Unregister removes the client from the registry. It is idempotent from
// the session's point of view: a second call for the same key is a no-op.
func (b *Broker) Unregister(key uint64) error {
	bundle, ok := b.reg.Remove(key)
	if !ok {
		return nil
	}
	if b.metrics != nil {
		b.metrics.RegisteredClients.Set(float64(b.reg.Len()))
	}
	b.log.Info().Str("name", bundle.Name).Uint64("key", key).Msg("client unregistered")
	return nil
}

func (b *Broker) errorAnswer(cmd *protocol.Command, err error) (*protocol.Answer, error) {
	b.log.Warn().Stringer("command", cmd.ID).Uint64("key", cmd.Key).Err(err).Msg("command failed")
	if !cmd.AnswerExpected {
		return nil, err
	}
	return &protocol.Answer{Conn: cmd.Conn, Payload: protocol.ErrorAck(err)}, err
}
