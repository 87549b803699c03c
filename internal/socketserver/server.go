// Package socketserver accepts point-to-point client connections and
// dispatches the length-framed JSON protocol. Each accepted connection runs
// its own receive loop; the participant directory is the only state shared
// across loops.
package socketserver

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"geochat/go-geochat-server/internal/directory"
	"geochat/go-geochat-server/internal/event"
	"geochat/go-geochat-server/internal/geo"
	"geochat/go-geochat-server/internal/metrics"
	"geochat/go-geochat-server/internal/model"
	"geochat/go-geochat-server/internal/protocol"
	"geochat/go-geochat-server/internal/routing"
)

// maxProtocolViolations closes a connection that keeps sending malformed or
// out-of-state envelopes.
const maxProtocolViolations = 5

// shutdownJoinTimeout bounds how long Stop waits for connection loops to
// finish; a missed join is logged, not escalated.
const shutdownJoinTimeout = 5 * time.Second

// Server accepts connections on a configured address and owns one execution
// context per connection.
type Server struct {
	logger   *slog.Logger
	dir      *directory.Directory
	notifier *event.Notifier
	metrics  *metrics.Metrics

	mu           sync.Mutex
	listener     net.Listener
	wg           sync.WaitGroup
	shuttingDown atomic.Bool

	sessionsMu sync.RWMutex
	sessions   map[*session]struct{}
}

// New constructs a server over the given directory. notifier and metrics may
// be nil.
func New(logger *slog.Logger, dir *directory.Directory, notifier *event.Notifier, m *metrics.Metrics) *Server {
	return &Server{
		logger:   logger,
		dir:      dir,
		notifier: notifier,
		metrics:  m,
		sessions: make(map[*session]struct{}),
	}
}

// Start begins listening on bind. The returned channel is closed once the
// accept loop terminates; fatal errors are sent on it.
func (s *Server) Start(bind string) (<-chan error, error) {
	ln, err := net.Listen("tcp", bind)
	if err != nil {
		return nil, fmt.Errorf("socket listen: %w", err)
	}

	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	errCh := make(chan error, 1)

	s.logger.Info("socket server listening", "addr", bind)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			conn, err := ln.Accept()
			if err != nil {
				if s.shuttingDown.Load() {
					close(errCh)
					return
				}
				if ne, ok := err.(net.Error); ok && ne.Timeout() {
					s.logger.Warn("transient accept error", "error", err)
					time.Sleep(50 * time.Millisecond)
					continue
				}
				errCh <- fmt.Errorf("socket accept: %w", err)
				close(errCh)
				return
			}

			sess := newSession(conn)
			s.addSession(sess)

			s.wg.Add(1)
			go func() {
				defer s.wg.Done()
				s.handleConn(sess)
			}()
		}
	}()

	return errCh, nil
}

// Addr reports the bound listener address, or "" before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Stop closes the listener and every open connection, then joins the
// connection loops with a bounded timeout.
func (s *Server) Stop() error {
	if !s.shuttingDown.CompareAndSwap(false, true) {
		return nil
	}

	s.mu.Lock()
	ln := s.listener
	s.listener = nil
	s.mu.Unlock()

	if ln != nil {
		_ = ln.Close()
	}

	s.sessionsMu.Lock()
	for sess := range s.sessions {
		sess.close()
	}
	s.sessions = make(map[*session]struct{})
	s.sessionsMu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(shutdownJoinTimeout):
		s.logger.Warn("socket server shutdown timed out waiting for connection loops")
	}
	return nil
}

func (s *Server) addSession(sess *session) {
	s.sessionsMu.Lock()
	s.sessions[sess] = struct{}{}
	s.sessionsMu.Unlock()
}

func (s *Server) removeSession(sess *session) {
	s.sessionsMu.Lock()
	delete(s.sessions, sess)
	s.sessionsMu.Unlock()
}

func (s *Server) handleConn(sess *session) {
	defer func() {
		sess.close()
		s.removeSession(sess)
		if sess.authenticated {
			if s.dir.Unregister(sess.name) {
				s.metrics.DecConnected()
				s.logger.Info("participant disconnected", "name", sess.name)
			}
		}
	}()

	violations := 0

	for {
		body, err := protocol.ReadFrame(sess.reader)
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				s.logger.Debug("read frame", "addr", sess.remoteAddr(), "error", err)
			}
			return
		}

		var env protocol.Envelope
		if err := json.Unmarshal(body, &env); err != nil {
			s.metrics.IncProtocolError()
			s.reply(sess, protocol.NewError("invalid message format"))
			violations++
			if violations >= maxProtocolViolations {
				s.logger.Warn("closing connection after repeated protocol errors", "addr", sess.remoteAddr())
				return
			}
			continue
		}

		if !s.dispatch(sess, env, &violations) {
			return
		}
	}
}

// dispatch handles one envelope; it returns false when the connection must
// close.
func (s *Server) dispatch(sess *session, env protocol.Envelope, violations *int) bool {
	if !sess.authenticated && env.Tipo != protocol.TypeConnect {
		s.metrics.IncProtocolError()
		s.reply(sess, protocol.NewError("authentication required: send connect first"))
		*violations++
		return *violations < maxProtocolViolations
	}

	switch env.Tipo {
	case protocol.TypeConnect:
		s.handleConnect(sess, env)
	case protocol.TypeUpdateLocation:
		s.handleUpdateLocation(sess, env)
	case protocol.TypeSendMessage:
		s.handleSendMessage(sess, env)
	case protocol.TypeListUsers:
		s.handleListUsers(sess)
	default:
		s.metrics.IncProtocolError()
		s.reply(sess, protocol.NewError(fmt.Sprintf("unknown message type: %s", env.Tipo)))
		*violations++
		return *violations < maxProtocolViolations
	}
	return true
}

func (s *Server) handleConnect(sess *session, env protocol.Envelope) {
	if sess.authenticated {
		s.reply(sess, protocol.NewError("already connected"))
		return
	}
	if env.User == nil || env.User.Name == "" {
		s.reply(sess, protocol.NewError("connect requires a user with a name"))
		return
	}

	radius := env.User.Radius
	if radius == 0 {
		radius = model.DefaultRadiusMeters
	}

	p := model.Participant{
		Name:      env.User.Name,
		Latitude:  env.User.Latitude,
		Longitude: env.User.Longitude,
		Radius:    radius,
		Status:    model.StatusOnline,
	}

	if err := s.dir.Register(p, sess); err != nil {
		switch {
		case errors.Is(err, directory.ErrDuplicateName):
			s.reply(sess, protocol.NewError("user already connected"))
		case errors.Is(err, directory.ErrInvalidRadius):
			s.reply(sess, protocol.NewError("radius must be greater than zero"))
		default:
			s.reply(sess, protocol.NewError("connection rejected"))
		}
		return
	}

	sess.name = p.Name
	sess.authenticated = true
	s.metrics.IncConnected()

	s.reply(sess, protocol.NewAck(protocol.TypeConnectionAccepted, "connected successfully"))
	s.logger.Info("participant connected", "name", p.Name, "addr", sess.remoteAddr())
}

func (s *Server) handleUpdateLocation(sess *session, env protocol.Envelope) {
	if env.Latitude == nil || env.Longitude == nil {
		s.reply(sess, protocol.NewError("update_location requires latitude and longitude"))
		return
	}

	if err := s.dir.UpdateLocation(sess.name, *env.Latitude, *env.Longitude); err != nil {
		s.reply(sess, protocol.NewError("user not found"))
		return
	}

	s.reply(sess, protocol.NewAck(protocol.TypeLocationUpdated, "location updated successfully"))

	if s.notifier != nil {
		if p, ok := s.dir.Lookup(sess.name); ok {
			s.notifier.Publish(event.Event{Kind: event.KindLocationUpdated, Participant: p})
		}
	}
}

// handleSendMessage performs or refuses live delivery. Queued delivery is
// never initiated here; when live delivery is not permitted the caller is
// told why and retries through the asynchronous path itself.
func (s *Server) handleSendMessage(sess *session, env protocol.Envelope) {
	if env.Destinatario == "" {
		s.reply(sess, protocol.NewError("send_message requires a destinatario"))
		return
	}

	sender, ok := s.dir.Lookup(sess.name)
	if !ok {
		s.reply(sess, protocol.NewError("sender not registered"))
		return
	}

	recipient, transport, ok := s.dir.LookupTransport(env.Destinatario)
	if !ok {
		s.reply(sess, protocol.NewError("recipient not online"))
		return
	}

	if !routing.CanDeliverLive(sender, recipient) {
		s.reply(sess, protocol.NewError("out of range"))
		return
	}

	// Copies and the transport handle were taken above; the directory lock
	// is not held across this write.
	if err := transport.Deliver(protocol.NewMessageReceived(sender.Name, env.Conteudo)); err != nil {
		s.logger.Warn("live delivery failed", "recipient", recipient.Name, "error", err)
		s.reply(sess, protocol.NewError("delivery failed"))
		return
	}

	s.metrics.ObserveLive()
	s.reply(sess, protocol.NewAck(protocol.TypeMessageSent, "message delivered"))

	if s.notifier != nil {
		s.notifier.Publish(event.Event{
			Kind:      event.KindMessageRouted,
			Sender:    sender.Name,
			Recipient: recipient.Name,
			Content:   env.Conteudo,
		})
	}
}

func (s *Server) handleListUsers(sess *session) {
	requester, ok := s.dir.Lookup(sess.name)
	if !ok {
		s.reply(sess, protocol.NewError("user not found"))
		return
	}

	users := make([]protocol.UserSummary, 0)
	for _, p := range s.dir.Snapshot() {
		if p.Name == requester.Name {
			continue
		}
		dist := geo.Distance(requester.Latitude, requester.Longitude, p.Latitude, p.Longitude)
		users = append(users, protocol.UserSummary{
			Nome:      p.Name,
			Latitude:  p.Latitude,
			Longitude: p.Longitude,
			Status:    string(p.Status),
			Distancia: math.Round(dist*100) / 100,
			NoRaio:    dist <= requester.Radius,
		})
	}

	s.reply(sess, protocol.NewUserList(users))
}

func (s *Server) reply(sess *session, env protocol.Envelope) {
	if err := sess.Deliver(env); err != nil {
		s.logger.Debug("write reply", "addr", sess.remoteAddr(), "error", err)
	}
}
