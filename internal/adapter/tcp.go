package adapter

import (
	"context"
	"net"

	"wstunnel/internal/config"
	"wstunnel/internal/sockopt"
	"wstunnel/internal/wserr"
)

// TCPAdapter listens on a fixed local TCP port and tunnels every accepted
// connection to the same Remote destination.
type TCPAdapter struct {
	Remote     config.Destination
	SocketMark *int
}

func (a *TCPAdapter) Listen(ctx context.Context, bind string) (<-chan Flow, <-chan error) {
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
			select {
			case flows <- Flow{Duplex: conn, Dest: a.Remote}:
			case <-ctx.Done():
				conn.Close()
				return
			}
		}
	}()

	return flows, errs
}
