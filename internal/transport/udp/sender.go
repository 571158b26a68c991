package udp

import (
	"errors"
	"fmt"
	"net"
	"sync"

	"trackmix/internal/log"
)

var senderLog = log.Named("udp")

// ErrSenderClosed is returned by Send after Close.
var ErrSenderClosed = errors.New("udp: sender closed")

// Sender writes meter frames to one connected peer, a datagram per frame.
// Frames are best effort: a failed write is counted, never retried, and
// only the first failure of a run is logged.
type Sender struct {
	mu      sync.Mutex
	conn    *net.UDPConn // nil once closed
	sent    uint64
	dropped uint64
	failing bool
}

// NewSender connects to target, given as "host:port".
func NewSender(target string) (*Sender, error) {
	addr, err := net.ResolveUDPAddr("udp", target)
	if err != nil {
		return nil, fmt.Errorf("udp: resolve meter target %q: %w", target, err)
	}
	conn, err := net.DialUDP("udp", nil, addr)
	if err != nil {
		return nil, fmt.Errorf("udp: dial meter target %s: %w", addr, err)
	}
	senderLog.Infof("sending meter frames to %s", addr)
	return &Sender{conn: conn}, nil
}

// Send writes frame as one datagram.
func (s *Sender) Send(frame []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn == nil {
		return ErrSenderClosed
	}
	if _, err := s.conn.Write(frame); err != nil {
		s.dropped++
		if !s.failing {
			s.failing = true
			senderLog.Warnf("dropping meter frames: %v", err)
		}
		return fmt.Errorf("udp: send meter frame: %w", err)
	}
	if s.failing {
		s.failing = false
		senderLog.Infof("meter frames flowing again after %d dropped", s.dropped)
	}
	s.sent++
	return nil
}

// Stats returns how many frames were sent and dropped so far.
func (s *Sender) Stats() (sent, dropped uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sent, s.dropped
}

// Close closes the connection. Later calls return nil.
func (s *Sender) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn == nil {
		return nil
	}
	conn := s.conn
	s.conn = nil
	senderLog.Infof("closing meter stream to %s after %d frames (%d dropped)",
		conn.RemoteAddr(), s.sent, s.dropped)
	if err := conn.Close(); err != nil {
		return fmt.Errorf("udp: close: %w", err)
	}
	return nil
}
