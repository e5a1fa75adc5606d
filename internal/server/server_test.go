package server

import (
	"context"
	"io"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"wstunnel/internal/config"
	"wstunnel/internal/wsframe"
)

// echoListener accepts one connection and echoes everything it reads back
// to the caller, standing in for the "real destination" the server dials.
func echoListener(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		io.Copy(conn, conn)
	}()
	t.Cleanup(func() { ln.Close() })
	return ln.Addr().String()
}

func TestServerRestrictsDestinations(t *testing.T) {
	r := require.New(t)

	srvLn, err := net.Listen("tcp", "127.0.0.1:0")
	r.NoError(err)
	bind := srvLn.Addr().String()
	srvLn.Close()

	cfg, err := config.NewServerConfig(bind, config.WithRestrictTo([]string{"allowed.example:9"}))
	r.NoError(err)
	s := New(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)
	time.Sleep(50 * time.Millisecond)

	conn, err := net.Dial("tcp", bind)
	r.NoError(err)
	defer conn.Close()

	path := wsframe.EncodePath(config.DefaultUpgradePathPrefix, "tcp", "blocked.example", 80, nil)
	_, err = wsframe.ClientUpgrade(conn, bind, path, nil, nil, 0)
	r.Error(err)
}

func TestServerRejectsUnmatchedPrefix(t *testing.T) {
	r := require.New(t)

	srvLn, err := net.Listen("tcp", "127.0.0.1:0")
	r.NoError(err)
	bind := srvLn.Addr().String()
	srvLn.Close()

	cfg, err := config.NewServerConfig(bind)
	r.NoError(err)
	s := New(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)
	time.Sleep(50 * time.Millisecond)

	conn, err := net.Dial("tcp", bind)
	r.NoError(err)
	defer conn.Close()

	path := wsframe.EncodePath("not-the-configured-prefix", "tcp", "example.com", 80, nil)
	_, err = wsframe.ClientUpgrade(conn, bind, path, nil, nil, 0)
	r.Error(err)
}

func TestServerEndToEndTunnelsBytes(t *testing.T) {
	r := require.New(t)

	destAddr := echoListener(t)
	destHost, destPortStr, err := net.SplitHostPort(destAddr)
	r.NoError(err)

	srvLn, err := net.Listen("tcp", "127.0.0.1:0")
	r.NoError(err)
	bind := srvLn.Addr().String()
	srvLn.Close()

	cfg, err := config.NewServerConfig(bind)
	r.NoError(err)
	s := New(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)
	time.Sleep(50 * time.Millisecond)

	conn, err := net.Dial("tcp", bind)
	r.NoError(err)
	defer conn.Close()

	destPortNum, err := strconv.Atoi(destPortStr)
	r.NoError(err)
	destPort := uint16(destPortNum)

	path := wsframe.EncodePath(config.DefaultUpgradePathPrefix, "tcp", destHost, destPort, nil)
	duplex, err := wsframe.ClientUpgrade(conn, bind, path, nil, nil, 0)
	r.NoError(err)
	defer duplex.Close()

	_, err = duplex.Write([]byte("roundtrip"))
	r.NoError(err)

	buf := make([]byte, len("roundtrip"))
	_, err = io.ReadFull(duplex, buf)
	r.NoError(err)
	r.Equal("roundtrip", string(buf))
}

// TestServerUDPIdleTimeoutClosesTunnel exercises the watchdog wired in
// handle(): a UDP target carrying a short timeout_sec option with no
// traffic crossing it must have its tunnel force-closed once the timeout
// elapses, rather than leaking the goroutine and downstream socket forever.
func TestServerUDPIdleTimeoutClosesTunnel(t *testing.T) {
	r := require.New(t)

	destConn, err := net.ListenPacket("udp", "127.0.0.1:0")
	r.NoError(err)
	defer destConn.Close()
	destHost, destPortStr, err := net.SplitHostPort(destConn.LocalAddr().String())
	r.NoError(err)
	destPortNum, err := strconv.Atoi(destPortStr)
	r.NoError(err)
	destPort := uint16(destPortNum)

	srvLn, err := net.Listen("tcp", "127.0.0.1:0")
	r.NoError(err)
	bind := srvLn.Addr().String()
	srvLn.Close()

	cfg, err := config.NewServerConfig(bind)
	r.NoError(err)
	s := New(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)
	time.Sleep(50 * time.Millisecond)

	conn, err := net.Dial("tcp", bind)
	r.NoError(err)
	defer conn.Close()

	timeoutSec := uint64(1)
	path := wsframe.EncodePath(config.DefaultUpgradePathPrefix, "udp", destHost, destPort, &timeoutSec)
	duplex, err := wsframe.ClientUpgrade(conn, bind, path, nil, nil, 0)
	r.NoError(err)
	defer duplex.Close()

	readDone := make(chan error, 1)
	go func() {
		buf := make([]byte, 1)
		_, err := duplex.Read(buf)
		readDone <- err
	}()

	select {
	case err := <-readDone:
		r.Error(err)
	case <-time.After(3 * time.Second):
		t.Fatal("server did not idle-close the UDP tunnel within the configured timeout")
	}
}

