// Package honeypot runs the deception listeners: one accept loop per
// configured port and one capture session per accepted connection.
package honeypot

import (
	"context"
	"errors"
	"io"
	"net"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Zerofisher/honeypot/banner"
	"github.com/Zerofisher/honeypot/classify"
	"github.com/Zerofisher/honeypot/internal/metrics"
	"github.com/Zerofisher/honeypot/pkg/model"
	"github.com/Zerofisher/honeypot/pkg/store"
)

// SessionConfig holds the capture timeouts of a session.
type SessionConfig struct {
	InitialTimeout     time.Duration // wait for the first payload
	ExtendedTimeout    time.Duration // idle limit for each later read
	MaxSessionDuration time.Duration // 0 = no overall cap
	ReadBufferSize     int

	// Banner returns the greeting for a port. nil means banner.For.
	Banner func(port int) []byte
}

// DefaultSessionConfig returns the standard 10s/30s capture timeouts.
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		InitialTimeout:  10 * time.Second,
		ExtendedTimeout: 30 * time.Second,
		ReadBufferSize:  1024,
	}
}

// ConnectionHandler owns an accepted connection until it returns.
type ConnectionHandler interface {
	HandleConnection(conn net.Conn, port int)
}

// SessionHandler runs a Session for every connection it is handed.
type SessionHandler struct {
	Store   store.Store
	Config  SessionConfig
	Log     zerolog.Logger
	Metrics *metrics.Metrics
}

var _ ConnectionHandler = (*SessionHandler)(nil)

func (h *SessionHandler) HandleConnection(conn net.Conn, port int) {
	NewSession(conn, port, h.Store, h.Config, h.Log, h.Metrics).Run()
}

// Session captures one connection: banner, initial read, then extended
// reads until the peer goes quiet or closes.
//
// Every row a session stores carries the whole payload received so far.
// Rows share the session id and are numbered by Seq; the highest Seq is
// the complete capture.
type Session struct {
	id      string
	conn    net.Conn
	port    int
	ip      string
	store   store.Store
	cfg     SessionConfig
	log     zerolog.Logger
	metrics *metrics.Metrics

	started time.Time
	raw     []byte // bytes received, for classification
	text    string // decoded payload; only ever appended to
	dec     model.TextDecoder
	seq     int
}

// NewSession prepares a session for conn, accepted on port.
func NewSession(conn net.Conn, port int, st store.Store, cfg SessionConfig, log zerolog.Logger, m *metrics.Metrics) *Session {
	if cfg.ReadBufferSize <= 0 {
		cfg.ReadBufferSize = 1024
	}
	id := uuid.NewString()
	ip := remoteIP(conn.RemoteAddr())
	return &Session{
		id:      id,
		conn:    conn,
		port:    port,
		ip:      ip,
		store:   st,
		cfg:     cfg,
		metrics: m,
		log: log.With().
			Str("session", id).
			Str("ip", ip).
			Int("port", port).
			Logger(),
	}
}

// ID returns the session id stored with every row of this session.
func (s *Session) ID() string { return s.id }

// Run drives the connection to completion and closes it. It never returns
// an error: I/O failures end the session and are logged at debug level.
func (s *Session) Run() {
	defer s.conn.Close()
	defer s.metrics.SessionStarted()()
	s.metrics.ConnectionAccepted(s.port)

	s.started = time.Now()
	s.log.Info().
		Time("time", s.started).
		Msgf("Connection from %s on port %s", s.ip, banner.FormatPort(s.port))

	greet := banner.For
	if s.cfg.Banner != nil {
		greet = s.cfg.Banner
	}
	if _, err := s.conn.Write(greet(s.port)); err != nil {
		s.log.Debug().Err(err).Msg("Banner write failed")
		return
	}

	buf := make([]byte, s.cfg.ReadBufferSize)

	// Initial capture: silence and EOF both record an empty payload.
	closed, err := s.read(buf, s.started.Add(s.cfg.InitialTimeout))
	if err != nil {
		s.log.Debug().Err(err).Msg("Connection abandoned during initial capture")
		return
	}
	s.record()
	s.log.Info().
		Str("kind", classify.Payload(s.raw).String()).
		Str("data", s.text).
		Msg("Received payload")
	if closed {
		return
	}

	// Extended capture: each read re-records the whole buffer.
	for {
		deadline := time.Now().Add(s.cfg.ExtendedTimeout)
		if s.cfg.MaxSessionDuration > 0 {
			limit := s.started.Add(s.cfg.MaxSessionDuration)
			if !limit.After(time.Now()) {
				s.log.Debug().Msg("Session duration cap reached")
				return
			}
			if limit.Before(deadline) {
				deadline = limit
			}
		}

		before, beforeText := len(s.raw), len(s.text)
		closed, err := s.read(buf, deadline)
		if err != nil {
			s.log.Debug().Err(err).Msg("Connection abandoned during extended capture")
			return
		}
		if len(s.raw) == before {
			// Timed out or closed without new bytes.
			return
		}
		s.record()
		s.log.Info().
			Int("seq", s.seq-1).
			Int("bytes", len(s.raw)).
			Str("data", s.text[beforeText:]).
			Msg("Additional data received")
		if closed {
			return
		}
	}
}

// read performs one read with the given deadline and appends what arrived.
// closed reports EOF. A deadline expiry is not an error.
func (s *Session) read(buf []byte, deadline time.Time) (closed bool, err error) {
	if err := s.conn.SetReadDeadline(deadline); err != nil {
		return false, err
	}
	n, err := s.conn.Read(buf)
	s.raw = append(s.raw, buf[:n]...)
	s.text += s.dec.Write(buf[:n])

	switch {
	case err == nil:
		return false, nil
	case errors.Is(err, io.EOF):
		return true, nil
	case errors.Is(err, os.ErrDeadlineExceeded):
		return false, nil
	default:
		return false, err
	}
}

// record stores a snapshot of the payload received so far.
func (s *Session) record() {
	a := &model.ConnectionAttempt{
		IPAddress: s.ip,
		Port:      s.port,
		Data:      s.text,
		SessionID: s.id,
		Seq:       s.seq,
	}
	s.seq++

	// Inserts outlive shutdown; the store rejects them once closed.
	if id := s.store.Insert(context.Background(), a); id != 0 {
		s.metrics.AttemptPersisted(s.port)
	}
}

// remoteIP returns the host part of addr, or its full string form when it
// has no port.
func remoteIP(addr net.Addr) string {
	if addr == nil {
		return ""
	}
	if tcp, ok := addr.(*net.TCPAddr); ok {
		return tcp.IP.String()
	}
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String()
	}
	return host
}
