package honeypot

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/semaphore"
)

// gateHandler records each connection and holds it until release is closed.
type gateHandler struct {
	mu      sync.Mutex
	ports   []int
	entered chan struct{}
	release chan struct{}
}

func newGateHandler() *gateHandler {
	return &gateHandler{
		entered: make(chan struct{}, 16),
		release: make(chan struct{}),
	}
}

func (h *gateHandler) HandleConnection(conn net.Conn, port int) {
	defer conn.Close()
	h.mu.Lock()
	h.ports = append(h.ports, port)
	h.mu.Unlock()
	h.entered <- struct{}{}
	<-h.release
}

func (h *gateHandler) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.ports)
}

// runListener starts l in the background and returns its bound address
// and the channel carrying Run's result.
func runListener(t *testing.T, ctx context.Context, l *Listener) (net.Addr, <-chan error) {
	t.Helper()
	bound := make(chan net.Addr, 1)
	l.OnListen = func(addr net.Addr) { bound <- addr }

	errc := make(chan error, 1)
	go func() { errc <- l.Run(ctx) }()

	select {
	case addr := <-bound:
		return addr, errc
	case err := <-errc:
		t.Fatalf("listener exited early: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("listener did not bind")
	}
	return nil, nil
}

func TestListener_HandsOffConnections(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h := newGateHandler()
	defer close(h.release)
	l := &Listener{Host: "127.0.0.1", Port: 0, Handler: h, Log: zerolog.Nop()}
	addr, _ := runListener(t, ctx, l)

	for i := 0; i < 3; i++ {
		conn, err := net.Dial("tcp", addr.String())
		require.NoError(t, err)
		defer conn.Close()
	}
	// Connections are handled concurrently: all three are inside the
	// handler at once.
	for i := 0; i < 3; i++ {
		select {
		case <-h.entered:
		case <-time.After(5 * time.Second):
			t.Fatalf("only %d connections handled", i)
		}
	}
	assert.Equal(t, 3, h.count())
}

func TestListener_CancelClosesSocket(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	l := &Listener{Host: "127.0.0.1", Port: 0, Handler: newGateHandler(), Log: zerolog.Nop()}
	addr, errc := runListener(t, ctx, l)

	cancel()
	select {
	case err := <-errc:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	_, err := net.DialTimeout("tcp", addr.String(), time.Second)
	assert.Error(t, err, "socket should be closed")
}

func TestListener_BindFailure(t *testing.T) {
	busy, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer busy.Close()
	port := busy.Addr().(*net.TCPAddr).Port

	l := &Listener{Host: "127.0.0.1", Port: port, Handler: newGateHandler(), Log: zerolog.Nop()}
	err = l.Run(context.Background())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to listen")
}

func TestListener_GlobalCeiling(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h := newGateHandler()
	slots := semaphore.NewWeighted(1)
	l := &Listener{Host: "127.0.0.1", Port: 0, Slots: slots, Handler: h, Log: zerolog.Nop()}
	addr, _ := runListener(t, ctx, l)

	first, err := net.Dial("tcp", addr.String())
	require.NoError(t, err)
	defer first.Close()
	<-h.entered

	second, err := net.Dial("tcp", addr.String())
	require.NoError(t, err)
	defer second.Close()

	select {
	case <-h.entered:
		t.Fatal("second connection handled while the ceiling was reached")
	case <-time.After(200 * time.Millisecond):
	}

	close(h.release)
	select {
	case <-h.entered:
	case <-time.After(5 * time.Second):
		t.Fatal("second connection not handled after a slot was freed")
	}
}

func TestListener_PerPortLimit(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h := newGateHandler()
	l := &Listener{Host: "127.0.0.1", Port: 0, MaxConns: 2, Handler: h, Log: zerolog.Nop()}
	addr, _ := runListener(t, ctx, l)

	for i := 0; i < 3; i++ {
		conn, err := net.Dial("tcp", addr.String())
		require.NoError(t, err)
		defer conn.Close()
	}
	<-h.entered
	<-h.entered
	select {
	case <-h.entered:
		t.Fatal("third connection handled past the per-port limit")
	case <-time.After(200 * time.Millisecond):
	}
	close(h.release)
	select {
	case <-h.entered:
	case <-time.After(5 * time.Second):
		t.Fatal("third connection never handled")
	}
}
