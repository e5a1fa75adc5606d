package adapter

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"wstunnel/internal/config"
)

// freePort reserves an ephemeral TCP port by opening and immediately
// closing a listener on it, since the adapter's Listen doesn't expose the
// bound *net.TCPListener back to callers.
func freePort(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close()
	return addr
}

func TestTCPAdapterAcceptsAndTagsDest(t *testing.T) {
	r := require.New(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	addr := freePort(t)
	remote := config.Destination{Host: "example.com", Port: 443}
	a := &TCPAdapter{Remote: remote}
	flows, errs := a.Listen(ctx, addr)

	go func() {
		conn, err := net.Dial("tcp", addr)
		r.NoError(err)
		defer conn.Close()
		conn.Write([]byte("hi"))
	}()

	select {
	case flow := <-flows:
		r.Equal(remote, flow.Dest)
		flow.Duplex.Close()
	case err := <-errs:
		t.Fatalf("unexpected error: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for flow")
	}
}

func TestTCPAdapterStopsOnContextCancel(t *testing.T) {
	r := require.New(t)
	ctx, cancel := context.WithCancel(context.Background())

	addr := freePort(t)
	a := &TCPAdapter{Remote: config.Destination{Host: "x", Port: 1}}
	flows, errs := a.Listen(ctx, addr)
	cancel()

	select {
	case _, ok := <-flows:
		r.False(ok)
	case <-time.After(2 * time.Second):
		t.Fatal("flows channel did not close after cancel")
	}
	<-errs
}
