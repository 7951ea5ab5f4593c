package protocol

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// CommandID identifies a client command. The numeric values are part of the
// wire protocol and shared with the client.
type CommandID int

const (
	Login CommandID = iota + 1
	Publish
	Follow
	Timeline
	FollowCount
	Rdv
	Unregister
)

// Payload size limits in bytes.
const (
	IDSize          = 32 // LOGIN and FOLLOW payloads
	PublicationSize = 64 // PUBLISH payloads
)

func (c CommandID) String() string {
	switch c {
	case Login:
		return "LOGIN"
	case Publish:
		return "PUBLISH"
	case Follow:
		return "FOLLOW"
	case Timeline:
		return "TIMELINE"
	case FollowCount:
		return "FOLLOW_COUNT"
	case Rdv:
		return "RDV"
	case Unregister:
		return "UNREGISTER"
	default:
		return fmt.Sprintf("COMMAND(%d)", int(c))
	}
}

// Command is one parsed client request. Commands are value-carrying: once
// built by a session they are never mutated, only dispatched and dropped.
type Command struct {
	ID             CommandID
	Key            uint64 // originating client key, 0 while unset
	Payload        string
	AnswerExpected bool
	Conn           net.Conn // destination for the answer
}

// Answer is the result of a dispatched command, addressed to one socket.
// When Timeline is non-nil the answer uses the two-phase timeline framing
// instead of a single ack frame.
type Answer struct {
	Conn         net.Conn
	Payload      string
	Timeline     []string
	TimelineSize uint32
}

// Parse errors surfaced to the client as error acks.
var (
	ErrMalformed      = errors.New("malformed command")
	ErrUnknownCommand = errors.New("unknown command id")
	ErrPayloadTooLong = errors.New("payload too long")
)

// HashName derives the 64-bit client key from a registered name. Key 0 is
// reserved to mean "unset", so the zero hash is remapped.
func HashName(name string) uint64 {
	k := xxhash.Sum64String(name)
	if k == 0 {
		k = 1
	}
	return k
}

// ParseCommand parses one wire line into a Command. key is the key of the
// client the line came from (0 before LOGIN). A leading "S " marks a
// streaming PUBLISH or FOLLOW: no answer is expected and none is sent.
func ParseCommand(line string, key uint64) (*Command, error) {
	s := strings.TrimRight(line, "\x00\n\r ")

	answerExpected := true
	if strings.HasPrefix(s, "S ") {
		answerExpected = false
		s = s[2:]
	}

	idStr, payload, _ := strings.Cut(s, " ")
	id, err := strconv.Atoi(idStr)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrMalformed, line)
	}

	cmd := &Command{
		ID:             CommandID(id),
		Key:            key,
		Payload:        payload,
		AnswerExpected: answerExpected,
	}

	switch cmd.ID {
	case Login, Follow:
		if len(payload) == 0 || len(payload) > IDSize {
			return nil, fmt.Errorf("%w: %s payload must be 1..%d bytes", ErrPayloadTooLong, cmd.ID, IDSize)
		}
	case Publish:
		if len(payload) == 0 || len(payload) > PublicationSize {
			return nil, fmt.Errorf("%w: %s payload must be 1..%d bytes", ErrPayloadTooLong, cmd.ID, PublicationSize)
		}
	case Timeline, FollowCount, Rdv, Unregister:
		// No payload; trailing bytes are ignored.
		cmd.Payload = ""
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownCommand, id)
	}

	if !answerExpected && cmd.ID != Publish && cmd.ID != Follow {
		return nil, fmt.Errorf("%w: streaming only applies to PUBLISH and FOLLOW", ErrMalformed)
	}

	return cmd, nil
}

// FormatRequest builds the wire line for a command, as sent by clients.
func FormatRequest(id CommandID, payload string, streaming bool) string {
	prefix := ""
	if streaming {
		prefix = "S "
	}
	if payload == "" {
		return fmt.Sprintf("%s%d\n", prefix, int(id))
	}
	return fmt.Sprintf("%s%d %s\n", prefix, int(id), payload)
}

// Ack payload constructors. The formats are part of the protocol: the login
// ack carries the assigned key, the publish ack contains the braced message,
// the follow ack contains the word "follow".

func LoginAck(name string, key uint64) string {
	return fmt.Sprintf("welcome %s, key=%d", name, key)
}

// ParseLoginAck extracts the assigned key from a login ack.
func ParseLoginAck(ack string) (uint64, error) {
	i := strings.LastIndex(ack, "key=")
	if i < 0 {
		return 0, fmt.Errorf("login refused: %s", ack)
	}
	key, err := strconv.ParseUint(ack[i+len("key="):], 10, 64)
	if err != nil || key == 0 {
		return 0, fmt.Errorf("bad login ack %q", ack)
	}
	return key, nil
}

func PublishAck(msg string) string {
	return fmt.Sprintf("published { %s }", msg)
}

func FollowAck(target string) string {
	return fmt.Sprintf("follow %s", target)
}

func RdvAck() string {
	return "rdv_ack"
}

// FormatPublication renders one timeline item.
func FormatPublication(author string, ts int64, msg string) string {
	return fmt.Sprintf("%s[%d]: %s", author, ts, msg)
}

// ErrorAck renders an error as a diagnostic answer payload.
func ErrorAck(err error) string {
	return "error: " + err.Error()
}
