package protocol

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCommand(t *testing.T) {
	tests := []struct {
		name           string
		line           string
		wantID         CommandID
		wantPayload    string
		wantAnswer     bool
		wantErr        error
	}{
		{name: "login", line: "1 alice\n", wantID: Login, wantPayload: "alice", wantAnswer: true},
		{name: "publish", line: "2 hello world\n", wantID: Publish, wantPayload: "hello world", wantAnswer: true},
		{name: "streaming publish", line: "S 2 hi\n", wantID: Publish, wantPayload: "hi", wantAnswer: false},
		{name: "streaming follow", line: "S 3 bob\n", wantID: Follow, wantPayload: "bob", wantAnswer: false},
		{name: "timeline ignores trailing payload", line: "4 junk\n", wantID: Timeline, wantPayload: "", wantAnswer: true},
		{name: "follow count", line: "5\n", wantID: FollowCount, wantAnswer: true},
		{name: "rdv", line: "6\n", wantID: Rdv, wantAnswer: true},
		{name: "unregister", line: "7\n", wantID: Unregister, wantAnswer: true},
		{name: "trailing nul", line: "1 alice\n\x00", wantID: Login, wantPayload: "alice", wantAnswer: true},
		{name: "garbage", line: "nonsense\n", wantErr: ErrMalformed},
		{name: "unknown id", line: "42 x\n", wantErr: ErrUnknownCommand},
		{name: "empty login name", line: "1\n", wantErr: ErrPayloadTooLong},
		{name: "streaming timeline refused", line: "S 4\n", wantErr: ErrMalformed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd, err := ParseCommand(tt.line, 7)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantID, cmd.ID)
			assert.Equal(t, tt.wantPayload, cmd.Payload)
			assert.Equal(t, tt.wantAnswer, cmd.AnswerExpected)
			assert.Equal(t, uint64(7), cmd.Key)
		})
	}
}

func TestParseCommandPayloadBoundaries(t *testing.T) {
	atLimit := strings.Repeat("a", IDSize)
	cmd, err := ParseCommand("1 "+atLimit+"\n", 0)
	require.NoError(t, err)
	assert.Equal(t, atLimit, cmd.Payload)

	_, err = ParseCommand("1 "+atLimit+"b\n", 0)
	require.ErrorIs(t, err, ErrPayloadTooLong)

	pubLimit := strings.Repeat("m", PublicationSize)
	_, err = ParseCommand("2 "+pubLimit+"\n", 0)
	require.NoError(t, err)

	_, err = ParseCommand("2 "+pubLimit+"m\n", 0)
	require.ErrorIs(t, err, ErrPayloadTooLong)
}

func TestHashNameNeverZero(t *testing.T) {
	assert.NotZero(t, HashName("alice"))
	assert.Equal(t, HashName("alice"), HashName("alice"))
	assert.NotEqual(t, HashName("alice"), HashName("bob"))
}

func TestLoginAckRoundTrip(t *testing.T) {
	ack := LoginAck("alice", 12345)
	key, err := ParseLoginAck(ack)
	require.NoError(t, err)
	assert.Equal(t, uint64(12345), key)

	_, err = ParseLoginAck("error: registry full")
	require.Error(t, err)
}
