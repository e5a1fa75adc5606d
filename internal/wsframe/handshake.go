package wsframe

import (
	"bufio"
	"crypto/rand"
	"crypto/sha1"
	"encoding/base64"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"wstunnel/internal/config"
	"wstunnel/internal/wserr"
)

// websocketGUID is the fixed RFC 6455 magic string used to derive
// Sec-WebSocket-Accept from Sec-WebSocket-Key.
const websocketGUID = "258EAFA5-E914-47DA-95CA-C5AB0DC85B11"

func acceptKey(key string) string {
	h := sha1.New()
	h.Write([]byte(key))
	h.Write([]byte(websocketGUID))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

func newSecKey() (string, error) {
	raw := make([]byte, 16)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// ClientUpgrade performs the client side of the HTTP/1.1 upgrade handshake
// over conn (already TLS-wrapped if applicable) and, on success, returns a
// Duplex framing binary websocket messages over it.
func ClientUpgrade(conn net.Conn, hostHeader, path string, extraHeaders map[string]string, cred *config.BasicCredential, pingFrequency time.Duration) (*Duplex, error) {
	key, err := newSecKey()
	if err != nil {
		return nil, &wserr.DialError{Err: err}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "GET %s HTTP/1.1\r\n", path)
	fmt.Fprintf(&b, "Host: %s\r\n", hostHeader)
	b.WriteString("Upgrade: websocket\r\n")
	b.WriteString("Connection: Upgrade\r\n")
	fmt.Fprintf(&b, "Sec-WebSocket-Key: %s\r\n", key)
	b.WriteString("Sec-WebSocket-Version: 13\r\n")
	if cred != nil {
		token := base64.StdEncoding.EncodeToString([]byte(cred.User + ":" + cred.Pass))
		fmt.Fprintf(&b, "Authorization: Basic %s\r\n", token)
	}
	for name, value := range extraHeaders {
		fmt.Fprintf(&b, "%s: %s\r\n", name, value)
	}
	b.WriteString("\r\n")

	if _, err := conn.Write([]byte(b.String())); err != nil {
		return nil, &wserr.DialError{Addr: hostHeader, Err: err}
	}

	br := bufio.NewReader(conn)
	resp, err := http.ReadResponse(br, nil)
	if err != nil {
		return nil, &wserr.UpgradeError{Msg: err.Error()}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusSwitchingProtocols {
		return nil, &wserr.UpgradeError{Status: resp.StatusCode, Msg: resp.Status}
	}
	if got := resp.Header.Get("Sec-WebSocket-Accept"); got != acceptKey(key) {
		return nil, &wserr.ProtocolError{Msg: "unexpected Sec-WebSocket-Accept"}
	}

	return newDuplex(conn, br, true, false, pingFrequency), nil
}

// Validator decides whether an upgrade's decoded target is acceptable; it
// returns the HTTP status to reject with (never used when err is nil).
type Validator func(DecodedTarget) (status int, err error)

// ServerUpgrade performs the server side of the handshake over conn.
// prefix is the configured http_upgrade_path_prefix; validate is called
// once the path has been decoded, before the 101 response is written, so
// the caller can apply the restriction-list check (spec.md §8 property 4)
// or reject unsupported wire protocols.
func ServerUpgrade(conn net.Conn, prefix string, validate Validator, maskFrames bool, pingFrequency time.Duration) (*Duplex, DecodedTarget, error) {
	br := bufio.NewReader(conn)
	req, err := http.ReadRequest(br)
	if err != nil {
		return nil, DecodedTarget{}, &wserr.ProtocolError{Msg: "reading upgrade request: " + err.Error()}
	}
	defer req.Body.Close()

	if req.Method != http.MethodGet || !strings.EqualFold(req.Header.Get("Upgrade"), "websocket") {
		writeStatusLine(conn, http.StatusBadRequest, "not a websocket upgrade")
		return nil, DecodedTarget{}, &wserr.ProtocolError{Msg: "not a websocket upgrade request"}
	}
	key := req.Header.Get("Sec-WebSocket-Key")
	if key == "" {
		writeStatusLine(conn, http.StatusBadRequest, "missing Sec-WebSocket-Key")
		return nil, DecodedTarget{}, &wserr.ProtocolError{Msg: "missing Sec-WebSocket-Key"}
	}

	target, decodeErr, prefixMatched := DecodePath(prefix, req.URL.Path, req.URL.RawQuery)
	if decodeErr != nil {
		status := http.StatusBadRequest
		if !prefixMatched {
			status = http.StatusNotFound
		}
		writeStatusLine(conn, status, decodeErr.Error())
		return nil, DecodedTarget{}, decodeErr
	}

	if validate != nil {
		if status, err := validate(target); err != nil {
			writeStatusLine(conn, status, err.Error())
			return nil, DecodedTarget{}, err
		}
	}

	resp := "HTTP/1.1 101 Switching Protocols\r\n" +
		"Upgrade: websocket\r\n" +
		"Connection: Upgrade\r\n" +
		"Sec-WebSocket-Accept: " + acceptKey(key) + "\r\n\r\n"
	if _, err := conn.Write([]byte(resp)); err != nil {
		return nil, DecodedTarget{}, &wserr.TransportError{Err: err}
	}

	return newDuplex(conn, br, false, maskFrames, pingFrequency), target, nil
}

func writeStatusLine(conn net.Conn, status int, reason string) {
	body := reason + "\n"
	line := fmt.Sprintf("HTTP/1.1 %d %s\r\nConnection: close\r\nContent-Length: %d\r\n\r\n%s",
		status, http.StatusText(status), len(body), body)
	_, _ = conn.Write([]byte(line))
}
