package broker

import (
	"fmt"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Blackjack1937/Babble/internal/protocol"
	"github.com/Blackjack1937/Babble/internal/registry"
)

func newBroker(maxClients, timelineMax int) *Broker {
	return New(registry.New(maxClients), zerolog.Nop(), nil, timelineMax)
}

func login(t *testing.T, b *Broker, name string) uint64 {
	t.Helper()
	answer, err := b.Dispatch(&protocol.Command{ID: protocol.Login, Payload: name, AnswerExpected: true})
	require.NoError(t, err)
	require.NotNil(t, answer)
	key, err := protocol.ParseLoginAck(answer.Payload)
	require.NoError(t, err)
	return key
}

func TestLoginRegistersClient(t *testing.T) {
	b := newBroker(8, 16)
	key := login(t, b, "alice")

	assert.Equal(t, protocol.HashName("alice"), key)

	bundle, ok := b.reg.Lookup(key)
	require.True(t, ok)
	assert.Equal(t, "alice", bundle.Name)
}

func TestDuplicateLoginRejectedFirstRemains(t *testing.T) {
	b := newBroker(8, 16)
	key := login(t, b, "alice")

	answer, err := b.Dispatch(&protocol.Command{ID: protocol.Login, Payload: "alice", AnswerExpected: true})
	require.Error(t, err)
	require.NotNil(t, answer)
	assert.Contains(t, answer.Payload, "error")

	bundle, ok := b.reg.Lookup(key)
	require.True(t, ok)
	assert.Equal(t, "alice", bundle.Name)
}

func TestLoginFullConveyedInAck(t *testing.T) {
	b := newBroker(1, 16)
	login(t, b, "alice")

	answer, err := b.Dispatch(&protocol.Command{ID: protocol.Login, Payload: "bob", AnswerExpected: true})
	require.ErrorIs(t, err, registry.ErrFull)
	require.NotNil(t, answer)
	assert.Contains(t, answer.Payload, "full")
}

func TestPublishAppearsInFollowerTimeline(t *testing.T) {
	b := newBroker(8, 16)
	alice := login(t, b, "alice")
	bob := login(t, b, "bob")

	_, err := b.Dispatch(&protocol.Command{ID: protocol.Follow, Key: bob, Payload: "alice", AnswerExpected: true})
	require.NoError(t, err)

	_, err = b.Dispatch(&protocol.Command{ID: protocol.Publish, Key: alice, Payload: "hi", AnswerExpected: true})
	require.NoError(t, err)

	answer, err := b.Dispatch(&protocol.Command{ID: protocol.Timeline, Key: bob, AnswerExpected: true})
	require.NoError(t, err)
	require.NotNil(t, answer.Timeline)
	require.Len(t, answer.Timeline, 1)
	assert.True(t, strings.HasPrefix(answer.Timeline[0], "alice["))
	assert.True(t, strings.HasSuffix(answer.Timeline[0], ": hi"))
	assert.Equal(t, uint32(1), answer.TimelineSize)
}

func TestOwnTimelineNewestFirstAndBounded(t *testing.T) {
	b := newBroker(8, 4)
	alice := login(t, b, "alice")

	for i := 0; i < 6; i++ {
		_, err := b.Dispatch(&protocol.Command{ID: protocol.Publish, Key: alice, Payload: fmt.Sprintf("m%d", i)})
		require.NoError(t, err)
	}

	answer, err := b.Dispatch(&protocol.Command{ID: protocol.Timeline, Key: alice, AnswerExpected: true})
	require.NoError(t, err)
	require.Len(t, answer.Timeline, 4)
	assert.True(t, strings.HasSuffix(answer.Timeline[0], ": m5"))
	assert.True(t, strings.HasSuffix(answer.Timeline[3], ": m2"))
}

func TestFollowCountsOnce(t *testing.T) {
	b := newBroker(8, 16)
	login(t, b, "alice")
	bob := login(t, b, "bob")

	count := func() string {
		answer, err := b.Dispatch(&protocol.Command{ID: protocol.FollowCount, Key: protocol.HashName("alice"), AnswerExpected: true})
		require.NoError(t, err)
		return answer.Payload
	}

	assert.Equal(t, "0", count())

	_, err := b.Dispatch(&protocol.Command{ID: protocol.Follow, Key: bob, Payload: "alice", AnswerExpected: true})
	require.NoError(t, err)
	assert.Equal(t, "1", count())

	// A second FOLLOW by the same client does not double-count.
	_, err = b.Dispatch(&protocol.Command{ID: protocol.Follow, Key: bob, Payload: "alice", AnswerExpected: true})
	require.NoError(t, err)
	assert.Equal(t, "1", count())
}

func TestFollowUnknownTarget(t *testing.T) {
	b := newBroker(8, 16)
	bob := login(t, b, "bob")

	answer, err := b.Dispatch(&protocol.Command{ID: protocol.Follow, Key: bob, Payload: "nobody", AnswerExpected: true})
	require.ErrorIs(t, err, ErrUnknownClient)
	require.NotNil(t, answer)
	assert.Contains(t, answer.Payload, "error")
}

func TestStreamingCommandsProduceNoAnswer(t *testing.T) {
	b := newBroker(8, 16)
	alice := login(t, b, "alice")
	login(t, b, "bob")

	answer, err := b.Dispatch(&protocol.Command{ID: protocol.Publish, Key: alice, Payload: "quiet"})
	require.NoError(t, err)
	assert.Nil(t, answer)

	answer, err = b.Dispatch(&protocol.Command{ID: protocol.Follow, Key: alice, Payload: "bob"})
	require.NoError(t, err)
	assert.Nil(t, answer)
}

func TestRdv(t *testing.T) {
	b := newBroker(8, 16)
	alice := login(t, b, "alice")

	answer, err := b.Dispatch(&protocol.Command{ID: protocol.Rdv, Key: alice, AnswerExpected: true})
	require.NoError(t, err)
	assert.Equal(t, "rdv_ack", answer.Payload)
}

func TestUnregisterRestoresOccupancy(t *testing.T) {
	b := newBroker(8, 16)
	before := b.reg.Len()
	key := login(t, b, "ghost")
	require.Equal(t, before+1, b.reg.Len())

	answer, err := b.Dispatch(&protocol.Command{ID: protocol.Unregister, Key: key})
	require.NoError(t, err)
	assert.Nil(t, answer)
	assert.Equal(t, before, b.reg.Len())

	// Idempotent from the session's point of view.
	require.NoError(t, b.Unregister(key))
}

func TestPublishFromUnknownKey(t *testing.T) {
	b := newBroker(8, 16)
	answer, err := b.Dispatch(&protocol.Command{ID: protocol.Publish, Key: 424242, Payload: "x", AnswerExpected: true})
	require.ErrorIs(t, err, ErrUnknownClient)
	require.NotNil(t, answer)
	assert.Contains(t, answer.Payload, "error")
}
