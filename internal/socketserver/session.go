package socketserver

import (
	"bufio"
	"net"
	"sync"
	"sync/atomic"

	"geochat/go-geochat-server/internal/protocol"
)

// session is the per-connection state. The read loop owns name and
// authenticated; writes from other execution contexts go through Deliver,
// which serializes on writeMu.
type session struct {
	conn    net.Conn
	reader  *bufio.Reader
	writeMu sync.Mutex
	closed  atomic.Bool

	name          string
	authenticated bool
}

func newSession(conn net.Conn) *session {
	return &session{
		conn:   conn,
		reader: bufio.NewReader(conn),
	}
}

// Deliver writes one envelope to the peer. It implements directory.Transport
// so the server can forward live messages through the recipient's handle.
func (s *session) Deliver(env protocol.Envelope) error {
	if s.closed.Load() {
		return net.ErrClosed
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return protocol.WriteEnvelope(s.conn, env)
}

func (s *session) close() {
	if s.closed.CompareAndSwap(false, true) {
		_ = s.conn.Close()
	}
}

func (s *session) remoteAddr() string {
	if addr := s.conn.RemoteAddr(); addr != nil {
		return addr.String()
	}
	return "unknown"
}
