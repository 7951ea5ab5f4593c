// Package client is the Babble client library: it dials the server,
// performs the LOGIN handshake, and issues commands over the framed wire
// protocol. The babble-client binary and the end-to-end tests both build
// on it.
package client

import (
	"fmt"
	"net"
	"strconv"

	"github.com/Blackjack1937/Babble/internal/protocol"
)

// Client is one logged-in connection to a Babble server. It is not safe
// for concurrent use: the protocol interleaves requests and answers on a
// single socket.
type Client struct {
	conn net.Conn
	key  uint64
	name string
}

// Dial connects to addr without logging in.
func Dial(addr string) (*Client, error) {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	return &Client{conn: conn}, nil
}

// Key returns the key assigned at login, 0 before that.
func (c *Client) Key() uint64 { return c.key }

// Close tears the connection down. The server unregisters the client as a
// consequence.
func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) send(id protocol.CommandID, payload string, streaming bool) error {
	line := protocol.FormatRequest(id, payload, streaming)
	return protocol.Send(c.conn, []byte(line))
}

// recvAck reads a single-frame answer: count header (must be 1), then the
// ack payload.
func (c *Client) recvAck() (string, error) {
	n, err := protocol.RecvUint32(c.conn)
	if err != nil {
		return "", err
	}
	if n != 1 {
		return "", fmt.Errorf("expected a single answer, %d announced", n)
	}
	buf, err := protocol.Recv(c.conn)
	if err != nil {
		return "", err
	}
	return string(buf), nil
}

// Login registers name and stores the assigned key.
func (c *Client) Login(name string) (uint64, error) {
	if len(name) == 0 || len(name) > protocol.IDSize {
		return 0, fmt.Errorf("invalid client id %q", name)
	}
	if err := c.send(protocol.Login, name, false); err != nil {
		return 0, err
	}
	ack, err := c.recvAck()
	if err != nil {
		return 0, err
	}
	key, err := protocol.ParseLoginAck(ack)
	if err != nil {
		return 0, err
	}
	c.key = key
	c.name = name
	return key, nil
}

// Publish sends a publication. In streaming mode no ack is awaited.
func (c *Client) Publish(msg string, streaming bool) error {
	if len(msg) > protocol.PublicationSize {
		return fmt.Errorf("publication too long (%d bytes)", len(msg))
	}
	if err := c.send(protocol.Publish, msg, streaming); err != nil {
		return err
	}
	if streaming {
		return nil
	}
	ack, err := c.recvAck()
	if err != nil {
		return err
	}
	if ack != protocol.PublishAck(msg) {
		return fmt.Errorf("publish refused: %s", ack)
	}
	return nil
}

// Follow subscribes to name's publications. In streaming mode no ack is
// awaited.
func (c *Client) Follow(name string, streaming bool) error {
	if len(name) == 0 || len(name) > protocol.IDSize {
		return fmt.Errorf("invalid client id %q", name)
	}
	if err := c.send(protocol.Follow, name, streaming); err != nil {
		return err
	}
	if streaming {
		return nil
	}
	ack, err := c.recvAck()
	if err != nil {
		return err
	}
	if ack != protocol.FollowAck(name) {
		return fmt.Errorf("follow refused: %s", ack)
	}
	return nil
}

// Timeline fetches the merged timeline: the rendered items newest first,
// plus the announced timeline size.
func (c *Client) Timeline() ([]string, int, error) {
	if err := c.send(protocol.Timeline, "", false); err != nil {
		return nil, 0, err
	}

	nItems, err := protocol.RecvUint32(c.conn)
	if err != nil {
		return nil, 0, err
	}
	if nItems == 0 {
		return nil, 0, fmt.Errorf("empty timeline reply")
	}
	size, err := protocol.RecvUint32(c.conn)
	if err != nil {
		return nil, 0, err
	}

	items := make([]string, 0, nItems-1)
	for i := uint32(1); i < nItems; i++ {
		buf, err := protocol.Recv(c.conn)
		if err != nil {
			return nil, 0, fmt.Errorf("recv timeline item %d: %w", i, err)
		}
		items = append(items, string(buf))
	}
	return items, int(size), nil
}

// FollowCount asks how many clients follow this one.
func (c *Client) FollowCount() (int, error) {
	if err := c.send(protocol.FollowCount, "", false); err != nil {
		return 0, err
	}
	ack, err := c.recvAck()
	if err != nil {
		return 0, err
	}
	count, err := strconv.Atoi(ack)
	if err != nil {
		return 0, fmt.Errorf("bad follow count ack %q", ack)
	}
	return count, nil
}

// Rdv performs the liveness round-trip probe.
func (c *Client) Rdv() error {
	if err := c.send(protocol.Rdv, "", false); err != nil {
		return err
	}
	ack, err := c.recvAck()
	if err != nil {
		return err
	}
	if ack != protocol.RdvAck() {
		return fmt.Errorf("unexpected rdv answer %q", ack)
	}
	return nil
}

// SendRaw writes an arbitrary line as one frame, for protocol testing.
func (c *Client) SendRaw(line string) error {
	return protocol.Send(c.conn, []byte(line))
}

// RecvRawAck reads one ack, for protocol testing.
func (c *Client) RecvRawAck() (string, error) {
	return c.recvAck()
}
