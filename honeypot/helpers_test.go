package honeypot

import (
	"context"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Zerofisher/honeypot/pkg/model"
	"github.com/Zerofisher/honeypot/pkg/store"
)

// memStore is an in-memory store.Store.
type memStore struct {
	mu     sync.Mutex
	rows   []model.ConnectionAttempt
	closed bool
}

var _ store.Store = (*memStore)(nil)

func (m *memStore) Insert(_ context.Context, a *model.ConnectionAttempt) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0
	}
	a.ID = int64(len(m.rows) + 1)
	a.Timestamp = time.Now()
	m.rows = append(m.rows, *a)
	return a.ID
}

func (m *memStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *memStore) Rows() []model.ConnectionAttempt {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.ConnectionAttempt(nil), m.rows...)
}

func (m *memStore) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// waitRows polls until the store holds at least n rows.
func (m *memStore) waitRows(t *testing.T, n int) []model.ConnectionAttempt {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if rows := m.Rows(); len(rows) >= n {
			return rows
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d rows, have %d", n, len(m.Rows()))
	return nil
}

// freePort returns a loopback port that was free a moment ago.
func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())
	return port
}

// readBanner reads exactly len(want) bytes from conn.
func readBanner(t *testing.T, conn net.Conn, n int) []byte {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	buf := make([]byte, n)
	_, err := io.ReadFull(conn, buf)
	require.NoError(t, err)
	return buf
}

// fastSession keeps capture timeouts short enough for tests.
func fastSession() SessionConfig {
	return SessionConfig{
		InitialTimeout:  300 * time.Millisecond,
		ExtendedTimeout: 300 * time.Millisecond,
		ReadBufferSize:  1024,
	}
}
