package smtpd

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gosmtpd/handler"
	"gosmtpd/logging"
)

type state struct{}

func newTestAcceptor(t *testing.T, addr string) *Acceptor[state] {
	t.Helper()
	return New(Config{Addr: addr}, handler.Registry[state]{}, func() *state { return &state{} }, logging.DefaultConfig())
}

func TestShutdownIsIdempotent(t *testing.T) {
	a := newTestAcceptor(t, "127.0.0.1:0")
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	require.NoError(t, a.Shutdown(ctx))
	require.NoError(t, a.Shutdown(ctx))
}

func TestAddRemoveListenerBookkeeping(t *testing.T) {
	a := newTestAcceptor(t, "127.0.0.1:0")
	l1, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l1.Close()

	a.addListener(l1)
	assert.Len(t, a.listeners, 1)
	a.removeListener(l1)
	assert.Len(t, a.listeners, 0)
}

func TestRunAcceptsAndServesAConnection(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := listener.Addr().String()
	require.NoError(t, listener.Close())

	a := newTestAcceptor(t, addr)
	ctx, cancel := context.WithCancel(context.Background())
	runDone := make(chan error, 1)
	go func() { runDone <- a.Run(ctx) }()

	var conn net.Conn
	for i := 0; i < 50; i++ {
		conn, err = net.Dial("tcp", addr)
		if err == nil {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	require.NoError(t, err)
	defer conn.Close()

	buf := make([]byte, 64)
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, err := conn.Read(buf)
	require.NoError(t, err)
	assert.Contains(t, string(buf[:n]), "220")

	cancel()
	select {
	case err := <-runDone:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestWorkerPoolBoundsConcurrentSessions(t *testing.T) {
	const workers = 2

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := listener.Addr().String()
	require.NoError(t, listener.Close())

	a := New(Config{Addr: addr, Workers: workers}, handler.Registry[state]{}, func() *state { return &state{} }, logging.DefaultConfig())
	assert.Equal(t, workers, cap(a.sem))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	runDone := make(chan error, 1)
	go func() { runDone <- a.Run(ctx) }()

	// Open more connections than there are workers; only `workers` of
	// them should ever be admitted into the semaphore at once, and the
	// rest should sit accepted-but-blocked without exceeding the cap.
	conns := make([]net.Conn, 0, workers+2)
	defer func() {
		for _, c := range conns {
			_ = c.Close()
		}
	}()
	for i := 0; i < workers+2; i++ {
		var conn net.Conn
		for attempt := 0; attempt < 50; attempt++ {
			conn, err = net.Dial("tcp", addr)
			if err == nil {
				break
			}
			time.Sleep(20 * time.Millisecond)
		}
		require.NoError(t, err)
		conns = append(conns, conn)
	}

	require.Eventually(t, func() bool {
		return len(a.sem) <= workers
	}, time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-runDone:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
