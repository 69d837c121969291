package ws

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/louisbranch/taskhub/internal/services/notifications/registry"
	"golang.org/x/net/websocket"
)

// session is one websocket connection. Writes are serialized by mu and
// bounded by writeTimeout.
type session struct {
	id           string
	conn         *websocket.Conn
	mu           sync.Mutex
	encoder      *json.Encoder
	writeTimeout time.Duration
	lastSeen     atomic.Int64
	lifecycle    registry.Lifecycle
	clock        func() time.Time
}

func newSession(id string, conn *websocket.Conn, writeTimeout time.Duration, clock func() time.Time) *session {
	s := &session{
		id:           id,
		conn:         conn,
		encoder:      json.NewEncoder(conn),
		writeTimeout: writeTimeout,
		clock:        clock,
	}
	s.touch()
	return s
}

func (s *session) ID() string { return s.id }

func (s *session) Send(message any) error {
	if s.lifecycle.State() == registry.StateClosed {
		return errSessionClosed
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.writeTimeout > 0 {
		_ = s.conn.SetWriteDeadline(s.clock().Add(s.writeTimeout))
	}
	return s.encoder.Encode(message)
}

func (s *session) LastSeen() time.Time {
	return time.UnixMilli(s.lastSeen.Load())
}

func (s *session) touch() {
	s.lastSeen.Store(s.clock().UnixMilli())
}

func (s *session) Close() error {
	if !s.lifecycle.Close() {
		return nil
	}
	return s.conn.Close()
}
