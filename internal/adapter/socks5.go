package adapter

import (
	"context"
	"encoding/binary"
	"io"
	"net"

	"wstunnel/internal/config"
	"wstunnel/internal/sockopt"
	"wstunnel/internal/wserr"
)

// SOCKS5 wire constants (RFC 1928). Grounded on the negotiation handled by
// the pack's SOCKS5Server.handleConnection, generalized to answer
// unsupported commands and address types with the matching SOCKS5 reply
// code instead of silently dropping the connection.
const (
	socks5Version  = 0x05
	socks5NoAuth   = 0x00
	socks5Connect  = 0x01
	socks5AddrIPv4 = 0x01
	socks5AddrName = 0x03
	socks5AddrIPv6 = 0x04

	socks5NoAcceptableMethods = 0xFF

	socks5ReplyOK                  = 0x00
	socks5ReplyCommandNotSupported = 0x07
	socks5ReplyAddrNotSupported    = 0x08
)

// Socks5Adapter listens for SOCKS5 clients; the remote destination of each
// Flow comes from that client's CONNECT request rather than being fixed at
// startup.
type Socks5Adapter struct {
	SocketMark *int
}

func (a *Socks5Adapter) Listen(ctx context.Context, bind string) (<-chan Flow, <-chan error) {
	flows := make(chan Flow)
	errs := make(chan error, 1)

	lc := net.ListenConfig{}
	if a.SocketMark != nil {
		lc.Control = sockopt.Control(*a.SocketMark)
	}
	ln, err := lc.Listen(ctx, "tcp", bind)
	if err != nil {
		errs <- &wserr.ConfigError{Msg: "listening on " + bind, Err: err}
		close(errs)
		close(flows)
		return flows, errs
	}

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	go func() {
		defer close(flows)
		defer close(errs)
		for {
			conn, err := ln.Accept()
			if err != nil {
				select {
				case <-ctx.Done():
				default:
					errs <- &wserr.TransportError{Err: err}
				}
				return
			}
			go a.negotiate(ctx, conn, flows)
		}
	}()

	return flows, errs
}

// negotiate runs the SOCKS5 handshake on conn and, on success, hands the
// resulting Flow to flows; any failure just closes conn, mirroring the
// pack's socks5 handler.
func (a *Socks5Adapter) negotiate(ctx context.Context, conn net.Conn, flows chan<- Flow) {
	dest, ok := socks5Handshake(conn)
	if !ok {
		conn.Close()
		return
	}
	select {
	case flows <- Flow{Duplex: conn, Dest: dest}:
	case <-ctx.Done():
		conn.Close()
	}
}

func socks5Handshake(conn net.Conn) (config.Destination, bool) {
	header := make([]byte, 2)
	if _, err := io.ReadFull(conn, header); err != nil || header[0] != socks5Version {
		return config.Destination{}, false
	}
	methods := make([]byte, header[1])
	if _, err := io.ReadFull(conn, methods); err != nil {
		return config.Destination{}, false
	}
	selected := byte(socks5NoAcceptableMethods)
	for _, m := range methods {
		if m == socks5NoAuth {
			selected = socks5NoAuth
			break
		}
	}
	if _, err := conn.Write([]byte{socks5Version, selected}); err != nil {
		return config.Destination{}, false
	}
	if selected != socks5NoAuth {
		return config.Destination{}, false
	}

	req := make([]byte, 4)
	if _, err := io.ReadFull(conn, req); err != nil {
		return config.Destination{}, false
	}
	if req[1] != socks5Connect {
		writeSocks5Reply(conn, socks5ReplyCommandNotSupported)
		return config.Destination{}, false
	}

	var host string
	switch req[3] {
	case socks5AddrIPv4:
		ip := make([]byte, 4)
		if _, err := io.ReadFull(conn, ip); err != nil {
			return config.Destination{}, false
		}
		host = net.IP(ip).String()
	case socks5AddrIPv6:
		ip := make([]byte, 16)
		if _, err := io.ReadFull(conn, ip); err != nil {
			return config.Destination{}, false
		}
		host = net.IP(ip).String()
	case socks5AddrName:
		lenBuf := make([]byte, 1)
		if _, err := io.ReadFull(conn, lenBuf); err != nil {
			return config.Destination{}, false
		}
		name := make([]byte, lenBuf[0])
		if _, err := io.ReadFull(conn, name); err != nil {
			return config.Destination{}, false
		}
		host = string(name)
	default:
		writeSocks5Reply(conn, socks5ReplyAddrNotSupported)
		return config.Destination{}, false
	}

	portBuf := make([]byte, 2)
	if _, err := io.ReadFull(conn, portBuf); err != nil {
		return config.Destination{}, false
	}
	port := binary.BigEndian.Uint16(portBuf)

	if err := writeSocks5Reply(conn, socks5ReplyOK); err != nil {
		return config.Destination{}, false
	}
	return config.Destination{Host: host, Port: port}, true
}

// writeSocks5Reply writes [VER, REP, RSV, ATYP, BND.ADDR, BND.PORT]; the
// bound address/port are always zero since this proxy never reports one.
func writeSocks5Reply(conn net.Conn, reply byte) error {
	_, err := conn.Write([]byte{socks5Version, reply, 0x00, socks5AddrIPv4, 0, 0, 0, 0, 0, 0})
	return err
}
