package honeypot

import (
	"bytes"
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Zerofisher/honeypot/banner"
	"github.com/Zerofisher/honeypot/internal/metrics"
	"github.com/Zerofisher/honeypot/pkg/query"
	"github.com/Zerofisher/honeypot/pkg/store/sqlite"
)

type syncBuffer struct {
	mu sync.Mutex
	b  bytes.Buffer
}

func (s *syncBuffer) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.Write(p)
}

func (s *syncBuffer) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.String()
}

func testConfig(ports ...int) Config {
	return Config{
		Host:            "127.0.0.1",
		Ports:           ports,
		Session:         fastSession(),
		MaxConnections:  16,
		ListenerRetries: 2,
		ListenerBackoff: 10 * time.Millisecond,
	}
}

// startSupervisor runs sup.Start in the background and waits until the
// given ports are bound.
func startSupervisor(t *testing.T, sup *Supervisor, want ...int) (map[int]net.Addr, <-chan error) {
	t.Helper()

	var mu sync.Mutex
	bound := make(map[int]net.Addr)
	sup.OnListen = func(port int, addr net.Addr) {
		mu.Lock()
		bound[port] = addr
		mu.Unlock()
	}

	errc := make(chan error, 1)
	go func() { errc <- sup.Start(context.Background()) }()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		n := 0
		for _, p := range want {
			if _, ok := bound[p]; ok {
				n++
			}
		}
		mu.Unlock()
		if n == len(want) {
			mu.Lock()
			defer mu.Unlock()
			out := make(map[int]net.Addr, len(bound))
			for k, v := range bound {
				out[k] = v
			}
			return out, errc
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("ports %v not bound in time", want)
	return nil, nil
}

func waitStart(t *testing.T, errc <-chan error) {
	t.Helper()
	select {
	case err := <-errc:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Start did not return")
	}
}

func TestSupervisor_ServesAllPorts(t *testing.T) {
	a, b := freePort(t), freePort(t)
	st := &memStore{}
	sup := NewSupervisor(testConfig(a, b), st, zerolog.Nop(), nil)

	addrs, errc := startSupervisor(t, sup, a, b)

	for _, port := range []int{a, b} {
		conn, err := net.Dial("tcp", addrs[port].String())
		require.NoError(t, err)
		assert.Equal(t, []byte(banner.DefaultResponse), readBanner(t, conn, len(banner.DefaultResponse)))
		_, err = conn.Write([]byte("hello"))
		require.NoError(t, err)
		conn.Close()
	}

	rows := st.waitRows(t, 2)
	ports := []int{rows[0].Port, rows[1].Port}
	assert.ElementsMatch(t, []int{a, b}, ports)

	sup.Stop()
	waitStart(t, errc)
	assert.True(t, st.isClosed())
}

func TestSupervisor_BindFailureIsContained(t *testing.T) {
	busy, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer busy.Close()
	taken := busy.Addr().(*net.TCPAddr).Port
	open := freePort(t)

	logs := &syncBuffer{}
	m := metrics.New()
	st := &memStore{}
	sup := NewSupervisor(testConfig(taken, open), st, zerolog.New(logs), m)

	addrs, errc := startSupervisor(t, sup, open)

	// Wait for the busy port to exhaust its retries.
	deadline := time.Now().Add(5 * time.Second)
	for !strings.Contains(logs.String(), "coverage_lost") && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	assert.Contains(t, logs.String(), `"coverage_lost":true`)
	assert.Contains(t, logs.String(), "Listener failed, restarting")

	// The healthy port still serves.
	conn, err := net.Dial("tcp", addrs[open].String())
	require.NoError(t, err)
	readBanner(t, conn, len(banner.DefaultResponse))
	conn.Close()
	st.waitRows(t, 1)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Contains(t, rec.Body.String(), `honeypot_listener_up{port="`+strconv.Itoa(open)+`"} 1`)
	assert.Contains(t, rec.Body.String(), `honeypot_listener_up{port="`+strconv.Itoa(taken)+`"} 0`)

	sup.Stop()
	waitStart(t, errc)
}

func TestSupervisor_StopIsIdempotent(t *testing.T) {
	port := freePort(t)
	logs := &syncBuffer{}
	st := &memStore{}
	sup := NewSupervisor(testConfig(port), st, zerolog.New(logs), nil)
	addrs, errc := startSupervisor(t, sup, port)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sup.Stop()
		}()
	}
	wg.Wait()
	waitStart(t, errc)

	assert.Equal(t, 1, strings.Count(logs.String(), "Stopping honeypot"))
	assert.True(t, st.isClosed())

	_, err := net.DialTimeout("tcp", addrs[port].String(), time.Second)
	assert.Error(t, err, "listener socket should be released")
}

func TestSupervisor_StopBeforeStart(t *testing.T) {
	st := &memStore{}
	sup := NewSupervisor(testConfig(freePort(t)), st, zerolog.Nop(), nil)
	sup.Stop()

	errc := make(chan error, 1)
	go func() { errc <- sup.Start(context.Background()) }()
	waitStart(t, errc)
}

// runHTTPScenario connects to addr as an HTTP client would, sends one
// request and hangs up, then checks the single row stored for it.
func runHTTPScenario(t *testing.T, addr net.Addr, st *sqlite.SQLiteStore, port int) {
	t.Helper()
	const request = "GET /test\r\n\r\n"

	conn, err := net.Dial("tcp", addr.String())
	require.NoError(t, err)
	want := banner.For(80)
	assert.Equal(t, want, readBanner(t, conn, len(want)))
	_, err = conn.Write([]byte(request))
	require.NoError(t, err)
	conn.Close()

	engine := query.NewSQLiteEngine(st)
	deadline := time.Now().Add(time.Second)
	var n int
	for time.Now().Before(deadline) {
		if n, err = engine.GetAttemptCount(context.Background()); err == nil && n >= 1 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	require.Equal(t, 1, n, "row not stored within 1s")

	sessions, err := engine.GetSessions(context.Background(), query.AttemptFilter{Port: port})
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, "127.0.0.1", sessions[0].IPAddress)
	assert.Equal(t, port, sessions[0].Port)
	assert.Equal(t, request, sessions[0].Data)
	assert.False(t, sessions[0].Timestamp.IsZero())
}

func TestSupervisor_EndToEndHTTP(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "honeypot.db")
	st, err := sqlite.New(sqlite.Config{DBPath: dbPath})
	require.NoError(t, err)

	port := freePort(t)
	cfg := testConfig(port)
	cfg.Session.InitialTimeout = 2 * time.Second
	cfg.Session.Banner = func(int) []byte { return banner.For(80) }
	sup := NewSupervisor(cfg, st, zerolog.Nop(), nil)
	addrs, errc := startSupervisor(t, sup, port)

	runHTTPScenario(t, addrs[port], st, port)

	sup.Stop()
	waitStart(t, errc)
}

func TestSupervisor_EndToEndHTTPOnPort80(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:80")
	if err != nil {
		t.Skipf("cannot bind port 80: %v", err)
	}
	ln.Close()

	dbPath := filepath.Join(t.TempDir(), "honeypot.db")
	st, err := sqlite.New(sqlite.Config{DBPath: dbPath})
	require.NoError(t, err)

	cfg := testConfig(80)
	cfg.Session.InitialTimeout = 2 * time.Second
	sup := NewSupervisor(cfg, st, zerolog.Nop(), nil)
	addrs, errc := startSupervisor(t, sup, 80)

	runHTTPScenario(t, addrs[80], st, 80)

	sup.Stop()
	waitStart(t, errc)
}
