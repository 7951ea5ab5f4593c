package protocol

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"
)

// MaxFrameSize bounds a single incoming frame. Requests are short lines and
// answers are capped by the publication size, so anything larger is a
// corrupt or hostile peer.
const MaxFrameSize = 4096

// Send writes one length-prefixed frame: a 4-byte big-endian length
// followed by the payload.
func Send(conn net.Conn, payload []byte) error {
	hdr := make([]byte, 4, 4+len(payload))
	binary.BigEndian.PutUint32(hdr, uint32(len(payload)))
	if _, err := conn.Write(append(hdr, payload...)); err != nil {
		return fmt.Errorf("send frame: %w", err)
	}
	return nil
}

// Recv reads the next frame from conn. It returns io.EOF when the peer
// closed the connection cleanly between frames.
func Recv(conn net.Conn) ([]byte, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(conn, hdr[:]); err != nil {
		if err == io.ErrUnexpectedEOF {
			return nil, io.EOF
		}
		return nil, err
	}
	n := binary.BigEndian.Uint32(hdr[:])
	if n > MaxFrameSize {
		return nil, fmt.Errorf("frame of %d bytes exceeds limit %d", n, MaxFrameSize)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(conn, buf); err != nil {
		return nil, fmt.Errorf("recv frame body: %w", err)
	}
	return buf, nil
}

func sendUint32(conn net.Conn, v uint32) error {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	return Send(conn, b[:])
}

// RecvUint32 reads one frame that must carry exactly a uint32.
func RecvUint32(conn net.Conn) (uint32, error) {
	buf, err := Recv(conn)
	if err != nil {
		return 0, err
	}
	if len(buf) != 4 {
		return 0, fmt.Errorf("expected 4-byte frame, got %d bytes", len(buf))
	}
	return binary.BigEndian.Uint32(buf), nil
}

// WriteAck sends a single answer: an item-count frame of 1, then the
// payload frame.
func WriteAck(conn net.Conn, payload string) error {
	if err := sendUint32(conn, 1); err != nil {
		return err
	}
	return Send(conn, []byte(payload))
}

// WriteTimeline sends the two-phase timeline reply: the item count covers
// the size frame plus the publications, then the timeline size, then one
// frame per publication.
func WriteTimeline(conn net.Conn, size uint32, items []string) error {
	if err := sendUint32(conn, uint32(len(items))+1); err != nil {
		return err
	}
	if err := sendUint32(conn, size); err != nil {
		return err
	}
	for _, item := range items {
		if err := Send(conn, []byte(item)); err != nil {
			return err
		}
	}
	return nil
}

// SendAnswer transmits an answer using the framing its shape calls for.
func SendAnswer(a *Answer) error {
	if a.Timeline != nil {
		return WriteTimeline(a.Conn, a.TimelineSize, a.Timeline)
	}
	return WriteAck(a.Conn, a.Payload)
}
