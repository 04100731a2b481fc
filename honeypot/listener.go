package honeypot

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/net/netutil"
	"golang.org/x/sync/semaphore"

	"github.com/Zerofisher/honeypot/banner"
)

// Listener accepts connections on one port and hands each to Handler on
// its own goroutine.
type Listener struct {
	Host string
	Port int

	// MaxConns caps concurrent connections on this port. 0 means no cap.
	MaxConns int

	// Slots is the process-wide connection ceiling shared by all
	// listeners. Accept waits while it is exhausted. Optional.
	Slots *semaphore.Weighted

	Handler ConnectionHandler
	Log     zerolog.Logger

	// OnListen is called with the bound address once the socket is open.
	OnListen func(addr net.Addr)
}

// Run binds the port and accepts until ctx is cancelled or accepting fails.
// Cancellation closes the socket and returns nil; a bind or accept failure
// is returned.
func (l *Listener) Run(ctx context.Context) error {
	addr := net.JoinHostPort(l.Host, strconv.Itoa(l.Port))

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	if l.MaxConns > 0 {
		ln = netutil.LimitListener(ln, l.MaxConns)
	}
	defer ln.Close()

	stop := context.AfterFunc(ctx, func() { ln.Close() })
	defer stop()

	l.Log.Info().
		Str("addr", ln.Addr().String()).
		Msgf("Listening on port %s", banner.FormatPort(l.Port))
	if l.OnListen != nil {
		l.OnListen(ln.Addr())
	}

	var tempDelay time.Duration
	for {
		if l.Slots != nil {
			if err := l.Slots.Acquire(ctx, 1); err != nil {
				return nil
			}
		}

		conn, err := ln.Accept()
		if err != nil {
			l.release()
			if ctx.Err() != nil {
				return nil
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				if tempDelay == 0 {
					tempDelay = 5 * time.Millisecond
				} else {
					tempDelay *= 2
				}
				if tempDelay > time.Second {
					tempDelay = time.Second
				}
				l.Log.Warn().Err(err).Dur("retry_in", tempDelay).Msg("Accept error")
				time.Sleep(tempDelay)
				continue
			}
			return fmt.Errorf("accept on %s: %w", addr, err)
		}
		tempDelay = 0

		go func() {
			defer l.release()
			l.Handler.HandleConnection(conn, l.Port)
		}()
	}
}

func (l *Listener) release() {
	if l.Slots != nil {
		l.Slots.Release(1)
	}
}
