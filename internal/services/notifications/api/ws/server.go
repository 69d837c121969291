// Package ws is the real-time push transport. Clients connect anonymously,
// identify themselves with an authenticate frame, and then receive
// notification envelopes for that identity.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/louisbranch/taskhub/internal/platform/id"
	"github.com/louisbranch/taskhub/internal/platform/logging"
	"github.com/louisbranch/taskhub/internal/platform/timeouts"
	"github.com/louisbranch/taskhub/internal/services/notifications/registry"
	"github.com/sirupsen/logrus"
	"golang.org/x/net/websocket"
)

const (
	frameAuthenticate  = "authenticate"
	frameAuthenticated = "authenticated"
	framePing          = "ping"
	framePong          = "pong"
	frameError         = "error"

	maxDecodeErrorsPerConn = 5
	maxFramesPerSecond     = 20
	authenticateTimeout    = 10 * time.Second
)

var errSessionClosed = errors.New("session closed")

// Frame is the control message shape in both directions.
type Frame struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type authenticatePayload struct {
	UserID string `json:"user_id"`
	Token  string `json:"token"`
}

type errorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// TokenVerifier resolves an identity token to its user id.
type TokenVerifier interface {
	Verify(token string) (string, error)
}

// Options tunes heartbeat behavior.
type Options struct {
	HeartbeatInterval time.Duration
	IdleTimeout       time.Duration
	WriteTimeout      time.Duration
}

// Server accepts push sessions and joins authenticated ones to the registry.
type Server struct {
	registry *registry.Registry
	verifier TokenVerifier
	log      logrus.FieldLogger
	opts     Options
	clock    func() time.Time
}

// NewServer builds the transport. A nil verifier accepts the user_id in the
// authenticate frame as-is, which is only suitable for local development.
func NewServer(reg *registry.Registry, verifier TokenVerifier, log logrus.FieldLogger, opts Options) *Server {
	if log == nil {
		log = logging.Discard()
	}
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = timeouts.HeartbeatInterval
	}
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = timeouts.SessionIdle
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = timeouts.PushWrite
	}
	return &Server{registry: reg, verifier: verifier, log: log, opts: opts, clock: time.Now}
}

// Handler returns the websocket upgrade handler.
func (s *Server) Handler() http.Handler {
	return websocket.Server{
		// Browsers on other origins authenticate with the frame, not cookies.
		Handshake: func(*websocket.Config, *http.Request) error { return nil },
		Handler:   s.serveConn,
	}
}

func (s *Server) serveConn(conn *websocket.Conn) {
	sessionID, err := id.NewID()
	if err != nil {
		s.log.WithError(err).Error("allocate session id")
		_ = conn.Close()
		return
	}
	sess := newSession(sessionID, conn, s.opts.WriteTimeout, s.clock)
	entry := s.log.WithField("session_id", sessionID)
	defer func() {
		s.registry.Unregister(sess)
		_ = sess.Close()
		entry.Debug("push session closed")
	}()

	_ = conn.SetReadDeadline(s.clock().Add(authenticateTimeout))
	decoder := json.NewDecoder(conn)
	windowStart := s.clock()
	framesInWindow := 0
	decodeErrors := 0

	for {
		var frame Frame
		if err := decoder.Decode(&frame); err != nil {
			if errors.Is(err, io.EOF) || sess.lifecycle.State() == registry.StateClosed {
				return
			}
			var syntaxErr *json.SyntaxError
			var typeErr *json.UnmarshalTypeError
			if !errors.As(err, &syntaxErr) && !errors.As(err, &typeErr) {
				return
			}
			decodeErrors++
			_ = s.writeError(sess, "INVALID_ARGUMENT", "invalid frame payload")
			if decodeErrors >= maxDecodeErrorsPerConn {
				return
			}
			decoder = json.NewDecoder(conn)
			continue
		}
		decodeErrors = 0
		sess.touch()

		now := s.clock()
		if now.Sub(windowStart) >= time.Second {
			windowStart = now
			framesInWindow = 0
		}
		framesInWindow++
		if framesInWindow > maxFramesPerSecond {
			_ = s.writeError(sess, "RESOURCE_EXHAUSTED", "rate limit exceeded")
			return
		}

		switch frame.Type {
		case frameAuthenticate:
			if !s.authenticate(sess, frame, entry) {
				return
			}
			_ = conn.SetReadDeadline(time.Time{})
		case framePing:
			_ = sess.Send(Frame{Type: framePong})
		case framePong:
		default:
			_ = s.writeError(sess, "INVALID_ARGUMENT", "unsupported frame type")
		}
	}
}

// authenticate joins sess to the identity in frame. It reports false when the
// connection should be dropped.
func (s *Server) authenticate(sess *session, frame Frame, entry logrus.FieldLogger) bool {
	if sess.lifecycle.State() != registry.StateConnecting {
		_ = s.writeError(sess, "FAILED_PRECONDITION", "session already authenticated")
		return true
	}
	var payload authenticatePayload
	if err := json.Unmarshal(frame.Payload, &payload); err != nil {
		_ = s.writeError(sess, "INVALID_ARGUMENT", "invalid authenticate payload")
		return true
	}
	userID := strings.TrimSpace(payload.UserID)
	if s.verifier != nil {
		subject, err := s.verifier.Verify(payload.Token)
		if err != nil {
			entry.WithError(err).Info("push session rejected")
			_ = s.writeError(sess, "UNAUTHENTICATED", "invalid token")
			return false
		}
		if userID != "" && userID != subject {
			_ = s.writeError(sess, "PERMISSION_DENIED", "user_id does not match token")
			return false
		}
		userID = subject
	}
	if userID == "" {
		_ = s.writeError(sess, "INVALID_ARGUMENT", "user_id is required")
		return true
	}
	if !sess.lifecycle.Authenticate() {
		return false
	}
	if err := s.registry.Register(userID, sess); err != nil {
		entry.WithError(err).Error("register push session")
		return false
	}
	entry.WithField("user_id", userID).Debug("push session authenticated")
	payloadJSON, _ := json.Marshal(map[string]string{"user_id": userID})
	return sess.Send(Frame{Type: frameAuthenticated, Payload: payloadJSON}) == nil
}

func (s *Server) writeError(sess *session, code string, message string) error {
	payload, _ := json.Marshal(errorPayload{Code: code, Message: message})
	return sess.Send(Frame{Type: frameError, Payload: payload})
}

// RunHeartbeat pings every registered session each interval and reaps
// sessions that stopped answering or whose writes fail.
func (s *Server) RunHeartbeat(ctx context.Context) error {
	ticker := time.NewTicker(s.opts.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.heartbeat()
		}
	}
}

func (s *Server) heartbeat() {
	for _, stale := range s.registry.Prune(s.clock(), s.opts.IdleTimeout) {
		s.log.WithField("session_id", stale.ID()).Info("reaping idle push session")
		_ = stale.Close()
	}
	for _, sess := range s.registry.All() {
		if err := sess.Send(Frame{Type: framePing}); err != nil {
			if s.registry.Unregister(sess) {
				s.log.WithError(err).WithField("session_id", sess.ID()).Info("dropping unreachable push session")
			}
			_ = sess.Close()
		}
	}
}
