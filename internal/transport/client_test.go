package transport

import (
	"bufio"
	"context"
	"crypto/sha1"
	"encoding/base64"
	"fmt"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"wstunnel/internal/config"
)

const testWebsocketGUID = "258EAFA5-E914-47DA-95CA-C5AB0DC85B11"

func acceptKeyForTest(key string) string {
	h := sha1.New()
	h.Write([]byte(key))
	h.Write([]byte(testWebsocketGUID))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

// fakeUpgradeServer accepts exactly one connection, reads the HTTP/1.1
// upgrade request, and replies with a bare 101 Switching Protocols whose
// Sec-WebSocket-Accept matches the request's key — just enough to let
// DialAndUpgrade/ClientUpgrade complete without a real wsframe server.
func fakeUpgradeServer(t *testing.T, accept func(req *http.Request) string) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		br := bufio.NewReader(conn)
		req, err := http.ReadRequest(br)
		if err != nil {
			return
		}
		acceptVal := accept(req)
		resp := "HTTP/1.1 101 Switching Protocols\r\n" +
			"Upgrade: websocket\r\n" +
			"Connection: Upgrade\r\n" +
			"Sec-WebSocket-Accept: " + acceptVal + "\r\n\r\n"
		conn.Write([]byte(resp))
		io.Copy(io.Discard, conn)
	}()
	t.Cleanup(func() { ln.Close() })
	return ln.Addr().String()
}

func TestDialAndUpgradeEncodesDestinationInPath(t *testing.T) {
	r := require.New(t)

	var gotPath string
	addr := fakeUpgradeServer(t, func(req *http.Request) string {
		gotPath = req.URL.Path
		return acceptKeyForTest(req.Header.Get("Sec-WebSocket-Key"))
	})

	host, portStr, err := net.SplitHostPort(addr)
	r.NoError(err)
	var port int
	fmt.Sscanf(portStr, "%d", &port)

	cfg, err := config.NewClientConfig(config.Destination{Host: host, Port: uint16(port)})
	r.NoError(err)

	dest := config.Destination{Host: "internal-host", Port: 5000}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	duplex, err := DialAndUpgrade(ctx, cfg, "tcp", dest, nil)
	r.NoError(err)
	defer duplex.Close()

	r.Contains(gotPath, "internal-host")
	r.Contains(gotPath, "5000")
}
