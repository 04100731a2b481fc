package honeypot

import (
	"context"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/Zerofisher/honeypot/banner"
	"github.com/Zerofisher/honeypot/internal/metrics"
	"github.com/Zerofisher/honeypot/internal/retry"
	"github.com/Zerofisher/honeypot/pkg/store"
)

// Config configures a Supervisor.
type Config struct {
	Host    string
	Ports   []int
	Session SessionConfig

	MaxConnections        int // process-wide ceiling; 0 = unbounded
	MaxConnectionsPerPort int // 0 = unbounded

	// A dead listener is rebound up to ListenerRetries times in total,
	// waiting ListenerBackoff, then doubling, between attempts.
	ListenerRetries int
	ListenerBackoff time.Duration
}

const maxListenerBackoff = time.Minute

// Supervisor runs one listener per configured port and owns the store's
// lifetime.
type Supervisor struct {
	cfg     Config
	store   store.Store
	log     zerolog.Logger
	metrics *metrics.Metrics
	handler ConnectionHandler
	slots   *semaphore.Weighted

	// OnListen, if set before Start, is called each time a port is bound.
	OnListen func(port int, addr net.Addr)

	mu       sync.Mutex
	cancel   context.CancelFunc
	stopping bool
	stopOnce sync.Once
}

// NewSupervisor creates a Supervisor that records sessions into st.
func NewSupervisor(cfg Config, st store.Store, log zerolog.Logger, m *metrics.Metrics) *Supervisor {
	s := &Supervisor{
		cfg:     cfg,
		store:   st,
		log:     log,
		metrics: m,
		handler: &SessionHandler{
			Store:   st,
			Config:  cfg.Session,
			Log:     log.With().Str("component", "session").Logger(),
			Metrics: m,
		},
	}
	if cfg.MaxConnections > 0 {
		s.slots = semaphore.NewWeighted(int64(cfg.MaxConnections))
	}
	return s
}

// Start runs every listener concurrently and returns once all of them have
// finished, which in normal operation only happens after Stop or when ctx
// is cancelled. A port that cannot be kept open is logged and given up on;
// the other ports keep running.
func (s *Supervisor) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.mu.Lock()
	if s.stopping {
		s.mu.Unlock()
		return nil
	}
	s.cancel = cancel
	s.mu.Unlock()

	names := make([]string, len(s.cfg.Ports))
	for i, p := range s.cfg.Ports {
		names[i] = banner.FormatPort(p)
	}
	s.log.Info().
		Str("host", s.cfg.Host).
		Int("max_connections", s.cfg.MaxConnections).
		Msgf("Starting honeypot on ports %s", strings.Join(names, ", "))

	// Plain Group: one port's failure must not cancel the others.
	var g errgroup.Group
	for _, port := range s.cfg.Ports {
		port := port
		g.Go(func() error {
			s.supervise(ctx, port)
			return nil
		})
	}
	return g.Wait()
}

// supervise keeps the listener for port running, rebinding with backoff
// after failures until the retries run out or ctx ends.
func (s *Supervisor) supervise(ctx context.Context, port int) {
	log := s.log.With().Str("component", "listener").Int("port", port).Logger()

	l := &Listener{
		Host:     s.cfg.Host,
		Port:     port,
		MaxConns: s.cfg.MaxConnectionsPerPort,
		Slots:    s.slots,
		Handler:  s.handler,
		Log:      log,
		OnListen: func(addr net.Addr) {
			s.metrics.SetListenerUp(port, true)
			if s.OnListen != nil {
				s.OnListen(port, addr)
			}
		},
	}

	policy := retry.Config{
		MaxRetries:     s.cfg.ListenerRetries,
		InitialBackoff: s.cfg.ListenerBackoff,
		MaxBackoff:     maxListenerBackoff,
		Jitter:         0.1,
		OnRetry: func(attempt int, err error, wait time.Duration) {
			log.Warn().
				Err(err).
				Int("attempt", attempt+1).
				Dur("retry_in", wait).
				Msg("Listener failed, restarting")
		},
	}

	err := retry.Do(ctx, policy, func(int) error {
		err := l.Run(ctx)
		s.metrics.SetListenerUp(port, false)
		return err
	}, func(error) bool {
		return ctx.Err() == nil
	})
	if err != nil && ctx.Err() == nil {
		log.Error().
			Err(err).
			Bool("coverage_lost", true).
			Msgf("Giving up on port %s", banner.FormatPort(port))
	}
}

// Stop cancels every listener and closes the store. Only the first call
// has any effect, so it is safe to call from a signal handler and a
// deferred cleanup alike. Sessions already running are not interrupted;
// their remaining inserts are rejected by the closed store.
func (s *Supervisor) Stop() {
	s.stopOnce.Do(func() {
		s.log.Info().Msg("Stopping honeypot")

		s.mu.Lock()
		s.stopping = true
		if s.cancel != nil {
			s.cancel()
		}
		s.mu.Unlock()

		if err := s.store.Close(); err != nil {
			s.log.Error().Err(err).Msg("Failed to close store")
		}
	})
}
