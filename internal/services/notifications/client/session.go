package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/louisbranch/taskhub/internal/platform/logging"
	"github.com/louisbranch/taskhub/internal/platform/timeouts"
	"github.com/louisbranch/taskhub/internal/services/notifications/domain"
	"github.com/sirupsen/logrus"
	"golang.org/x/net/websocket"
)

// State is the push session's connection state.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateSubscribed
	// StateGaveUp means the bounded retry budget ran out. Only Reconnect
	// leaves it.
	StateGaveUp
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateSubscribed:
		return "subscribed"
	case StateGaveUp:
		return "gave-up"
	default:
		return "unknown"
	}
}

// ErrAuthRejected is returned when the server refuses the authenticate frame.
// It is not retried.
var ErrAuthRejected = errors.New("push session authentication rejected")

const (
	defaultMaxAttempts    = 5
	defaultInitialBackoff = 500 * time.Millisecond
	defaultMaxBackoff     = 30 * time.Second
)

// SessionConfig locates and authenticates the push endpoint.
type SessionConfig struct {
	// URL is the websocket endpoint, e.g. ws://host/ws.
	URL    string
	Origin string
	UserID string
	Token  string

	MaxAttempts    uint
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// SessionHandlers receives session events. Every field is optional.
type SessionHandlers struct {
	// OnPush is called for each pushed notification.
	OnPush func(domain.Notification)
	// OnSubscribed is called after every successful (re)authentication,
	// before pushes are read.
	OnSubscribed func(ctx context.Context)
	// OnStateChange is called on each transition.
	OnStateChange func(State)
}

// Session keeps one push connection alive with bounded exponential retry.
type Session struct {
	cfg      SessionConfig
	handlers SessionHandlers
	log      logrus.FieldLogger

	state     atomic.Int32
	reconnect chan struct{}

	mu   sync.Mutex
	conn *websocket.Conn
}

type inboundFrame struct {
	Type    string          `json:"type"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

// NewSession builds a session. Call Run to start it.
func NewSession(cfg SessionConfig, handlers SessionHandlers, log logrus.FieldLogger) *Session {
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = defaultInitialBackoff
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = defaultMaxBackoff
	}
	if cfg.Origin == "" {
		cfg.Origin = originFor(cfg.URL)
	}
	if log == nil {
		log = logging.Discard()
	}
	return &Session{
		cfg:       cfg,
		handlers:  handlers,
		log:       log,
		reconnect: make(chan struct{}, 1),
	}
}

// State returns the current state.
func (s *Session) State() State {
	return State(s.state.Load())
}

// Reconnect restarts a session that gave up. It is a no-op in other states.
func (s *Session) Reconnect() {
	if s.State() != StateGaveUp {
		return
	}
	select {
	case s.reconnect <- struct{}{}:
	default:
	}
}

// Run connects, reads pushes, and reconnects until ctx is done.
func (s *Session) Run(ctx context.Context) error {
	defer s.setState(StateDisconnected)

	for {
		conn, err := s.connect(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			s.log.WithError(err).Warn("push session gave up")
			s.setState(StateGaveUp)
			select {
			case <-ctx.Done():
				return nil
			case <-s.reconnect:
				continue
			}
		}

		s.setState(StateSubscribed)
		if s.handlers.OnSubscribed != nil {
			s.handlers.OnSubscribed(ctx)
		}
		err = s.readLoop(ctx, conn)
		s.closeConn()
		if ctx.Err() != nil {
			return nil
		}
		s.log.WithError(err).Info("push session disconnected")
		s.setState(StateDisconnected)
	}
}

func (s *Session) connect(ctx context.Context) (*websocket.Conn, error) {
	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = s.cfg.InitialBackoff
	expo.MaxInterval = s.cfg.MaxBackoff

	return backoff.Retry(ctx, func() (*websocket.Conn, error) {
		s.setState(StateConnecting)
		conn, err := s.dialAndAuthenticate()
		if errors.Is(err, ErrAuthRejected) {
			return nil, backoff.Permanent(err)
		}
		return conn, err
	},
		backoff.WithBackOff(expo),
		backoff.WithMaxTries(s.cfg.MaxAttempts),
		backoff.WithNotify(func(err error, wait time.Duration) {
			s.log.WithError(err).WithField("retry_in", wait).Debug("push session connect failed")
		}),
	)
}

func (s *Session) dialAndAuthenticate() (*websocket.Conn, error) {
	config, err := websocket.NewConfig(s.cfg.URL, s.cfg.Origin)
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("websocket config: %w", err))
	}
	config.Dialer = &net.Dialer{Timeout: timeouts.HTTPRequest}
	conn, err := websocket.DialConfig(config)
	if err != nil {
		return nil, fmt.Errorf("dial push endpoint: %w", err)
	}

	payload, _ := json.Marshal(map[string]string{"user_id": s.cfg.UserID, "token": s.cfg.Token})
	_ = conn.SetDeadline(time.Now().Add(timeouts.HTTPRequest))
	if err := json.NewEncoder(conn).Encode(map[string]any{"type": "authenticate", "payload": json.RawMessage(payload)}); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("send authenticate: %w", err)
	}
	var reply inboundFrame
	if err := json.NewDecoder(conn).Decode(&reply); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("read authenticate reply: %w", err)
	}
	if reply.Type != "authenticated" {
		_ = conn.Close()
		return nil, fmt.Errorf("%w: %s", ErrAuthRejected, strings.TrimSpace(string(reply.Payload)))
	}
	_ = conn.SetDeadline(time.Time{})

	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()
	return conn, nil
}

func (s *Session) readLoop(ctx context.Context, conn *websocket.Conn) error {
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	decoder := json.NewDecoder(conn)
	for {
		var frame inboundFrame
		if err := decoder.Decode(&frame); err != nil {
			return err
		}
		switch {
		case frame.Event == "notification":
			var n domain.Notification
			if err := json.Unmarshal(frame.Payload, &n); err != nil {
				s.log.WithError(err).Warn("discarding malformed push")
				continue
			}
			if s.handlers.OnPush != nil {
				s.handlers.OnPush(n)
			}
		case frame.Type == "ping":
			if err := s.send(map[string]string{"type": "pong"}); err != nil {
				return err
			}
		case frame.Type == "error":
			s.log.WithField("payload", string(frame.Payload)).Warn("push session error frame")
		}
	}
}

func (s *Session) send(frame any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return errors.New("push session not connected")
	}
	return json.NewEncoder(s.conn).Encode(frame)
}

func (s *Session) closeConn() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		_ = s.conn.Close()
		s.conn = nil
	}
}

func (s *Session) setState(state State) {
	if State(s.state.Swap(int32(state))) == state {
		return
	}
	if s.handlers.OnStateChange != nil {
		s.handlers.OnStateChange(state)
	}
}

// originFor derives an http origin from a websocket URL.
func originFor(wsURL string) string {
	switch {
	case strings.HasPrefix(wsURL, "wss://"):
		return "https://" + hostOf(strings.TrimPrefix(wsURL, "wss://"))
	case strings.HasPrefix(wsURL, "ws://"):
		return "http://" + hostOf(strings.TrimPrefix(wsURL, "ws://"))
	default:
		return wsURL
	}
}

func hostOf(rest string) string {
	host, _, _ := strings.Cut(rest, "/")
	return host
}
