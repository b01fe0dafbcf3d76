// Package transport turns a byte-stream connection into a queue of discrete
// protocol messages and back.
//
// A Session owns exactly one duplex stream. TCP delivers bytes with no
// message boundaries, so the receive side accumulates chunks in a buffer and
// extracts every complete newline-terminated frame, leaving any trailing
// partial frame buffered for the next read.
package transport

import (
	"bytes"
	"errors"
	"io"
	"net"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/bernardosdias/fightnet/protocol"
)

// ErrSessionClosed indicates an operation on a session that is already dead.
var ErrSessionClosed = errors.New("session closed")

// Session owns one bidirectional byte stream and its framing state. The
// receive buffer is touched only by the goroutine driving Feed/ReadMessages;
// sends and lifecycle are safe from any goroutine.
type Session struct {
	id   string
	conn io.ReadWriteCloser
	buf  []byte

	mu     sync.Mutex
	closed bool
}

// NewSession wraps a connection. The caller owns the session and must Close
// it; closing also closes the underlying connection.
func NewSession(conn io.ReadWriteCloser) *Session {
	return &Session{
		id:   uuid.New().String(),
		conn: conn,
	}
}

// ID returns the session's identifier, used for log correlation.
func (s *Session) ID() string {
	return s.id
}

// RemoteAddr reports the peer address when the underlying stream is a network
// connection, or "" otherwise.
func (s *Session) RemoteAddr() string {
	if nc, ok := s.conn.(net.Conn); ok {
		return nc.RemoteAddr().String()
	}
	return ""
}

// Feed appends a raw chunk to the receive buffer and extracts every complete
// frame it now holds. Malformed frames are dropped; an oversized frame or
// oversized unterminated remainder is a protocol violation that closes the
// session and returns protocol.ErrFrameTooLarge.
func (s *Session) Feed(chunk []byte) ([]*protocol.Message, error) {
	s.buf = append(s.buf, chunk...)

	var messages []*protocol.Message
	for {
		idx := bytes.IndexByte(s.buf, protocol.Delimiter)
		if idx < 0 {
			break
		}
		line := s.buf[:idx]
		msg, err := protocol.Decode(line)
		s.buf = s.buf[idx+1:]
		if err != nil {
			s.Close()
			return messages, err
		}
		if msg == nil {
			// Undecodable frame: drop it, keep the stream alive.
			logrus.WithFields(logrus.Fields{
				"session": s.id,
				"bytes":   len(line),
			}).Debug("Dropped malformed frame")
			continue
		}
		messages = append(messages, msg)
	}

	if len(s.buf) > protocol.MaxFrameSize {
		s.Close()
		return messages, protocol.ErrFrameTooLarge
	}
	return messages, nil
}

// Send encodes a message and writes it as one frame. A write failure closes
// the session and is returned to the caller, which decides whether to tear
// down further state.
func (s *Session) Send(m *protocol.Message) error {
	line, err := protocol.Encode(m)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	if _, err := s.conn.Write(line); err != nil {
		s.closed = true
		s.conn.Close()
		return err
	}
	return nil
}

// ReadMessages blocks reading the stream in BufferSize chunks, handing every
// decoded message to handle in arrival order. It returns nil on a clean EOF
// and the underlying error otherwise; either way the session is closed when
// it returns.
func (s *Session) ReadMessages(handle func(*protocol.Message)) error {
	defer s.Close()

	chunk := make([]byte, protocol.BufferSize)
	for {
		n, err := s.conn.Read(chunk)
		if n > 0 {
			messages, feedErr := s.Feed(chunk[:n])
			for _, msg := range messages {
				handle(msg)
			}
			if feedErr != nil {
				return feedErr
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			if s.Closed() {
				// Read failure caused by our own Close.
				return nil
			}
			return err
		}
	}
}

// Closed reports whether the session has been marked dead.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Close marks the session dead and closes the underlying stream. It is
// idempotent.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.conn.Close()
}
