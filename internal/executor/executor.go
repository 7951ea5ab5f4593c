// Package executor runs the sharded consumer side of the command
// pipeline: N bounded queues, one executor goroutine each. A command's
// shard is its client key modulo N, so everything one client sends is
// drained by a single executor in FIFO order while distinct clients
// spread across shards.
package executor

import (
	"math/rand"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/Blackjack1937/Babble/internal/broker"
	"github.com/Blackjack1937/Babble/internal/metrics"
	"github.com/Blackjack1937/Babble/internal/protocol"
	"github.com/Blackjack1937/Babble/internal/queue"
)

// Config sizes the pool.
type Config struct {
	Shards        int
	QueueCapacity int
	// RandomDelayMax, when positive, sleeps a random duration up to this
	// bound before PUBLISH, FOLLOW and TIMELINE. Used for stress testing.
	RandomDelayMax time.Duration
}

// Pool owns the shard queues and their executors.
type Pool struct {
	cfg     Config
	queues  []*queue.Queue
	broker  *broker.Broker
	log     zerolog.Logger
	metrics *metrics.Registry
	group   errgroup.Group
	started bool
}

// NewPool builds the queues without starting any executor.
func NewPool(cfg Config, b *broker.Broker, logger zerolog.Logger, m *metrics.Registry) *Pool {
	if cfg.Shards < 1 {
		cfg.Shards = 1
	}
	queues := make([]*queue.Queue, cfg.Shards)
	for i := range queues {
		queues[i] = queue.New(cfg.QueueCapacity)
	}
	return &Pool{
		cfg:     cfg,
		queues:  queues,
		broker:  b,
		log:     logger.With().Str("component", "executor").Logger(),
		metrics: m,
	}
}

// ShardFor maps a client key to its queue index. Stateless and
// deterministic: all commands from one client land on one shard.
func (p *Pool) ShardFor(key uint64) int {
	return int(key % uint64(len(p.queues)))
}

// Enqueue routes cmd to its shard, blocking on backpressure. It returns
// queue.ErrShutdown once the pool is stopping.
func (p *Pool) Enqueue(cmd *protocol.Command) error {
	shard := p.ShardFor(cmd.Key)
	if err := p.queues[shard].Enqueue(cmd); err != nil {
		return err
	}
	if p.metrics != nil {
		label := strconv.Itoa(shard)
		p.metrics.CommandsEnqueued.WithLabelValues(label).Inc()
		p.metrics.QueueDepth.WithLabelValues(label).Set(float64(p.queues[shard].Len()))
	}
	return nil
}

// Start launches one executor per shard.
func (p *Pool) Start() {
	if p.started {
		return
	}
	p.started = true
	for i := range p.queues {
		shard := i
		p.group.Go(func() error {
			p.run(shard)
			return nil
		})
	}
}

// Stop closes every queue and waits for the executors to drain buffered
// commands and exit.
func (p *Pool) Stop() {
	for _, q := range p.queues {
		q.Close()
	}
	_ = p.group.Wait()
}

func (p *Pool) run(shard int) {
	label := strconv.Itoa(shard)
	for {
		cmd, err := p.queues[shard].Dequeue()
		if err != nil {
			p.log.Debug().Int("shard", shard).Msg("executor exiting")
			return
		}
		if p.metrics != nil {
			p.metrics.QueueDepth.WithLabelValues(label).Set(float64(p.queues[shard].Len()))
		}

		p.dispatch(shard, label, cmd)
	}
}

func (p *Pool) dispatch(shard int, label string, cmd *protocol.Command) {
	// A failing or panicking business call must not kill the executor.
	defer func() {
		if r := recover(); r != nil {
			if p.metrics != nil {
				p.metrics.ExecutorPanics.Inc()
			}
			p.log.Error().Int("shard", shard).Stringer("command", cmd.ID).
				Interface("panic", r).Msg("recovered business-logic panic")
		}
	}()

	p.maybeDelay(cmd.ID)

	answer, err := p.broker.Dispatch(cmd)
	if err != nil {
		p.log.Warn().Int("shard", shard).Stringer("command", cmd.ID).
			Uint64("key", cmd.Key).Err(err).Msg("command failed")
	}
	if p.metrics != nil {
		p.metrics.CommandsProcessed.WithLabelValues(label, cmd.ID.String()).Inc()
	}

	if answer == nil {
		return
	}
	if err := protocol.SendAnswer(answer); err != nil {
		if p.metrics != nil {
			p.metrics.AnswerErrors.Inc()
		}
		p.log.Debug().Int("shard", shard).Uint64("key", cmd.Key).Err(err).Msg("answer send failed")
		return
	}
	if p.metrics != nil {
		p.metrics.AnswersSent.Inc()
	}
}

func (p *Pool) maybeDelay(id protocol.CommandID) {
	if p.cfg.RandomDelayMax <= 0 {
		return
	}
	switch id {
	case protocol.Publish, protocol.Follow, protocol.Timeline:
		time.Sleep(time.Duration(rand.Int63n(int64(p.cfg.RandomDelayMax))))
	}
}
