// Package adapter implements the local-side protocol listeners (spec.md
// §4.3): tcp, udp, socks5, and stdio. Each produces a stream of Flows —
// one per logical connection — independent of how that stream gets
// tunneled upstream.
package adapter

import (
	"context"
	"io"

	"wstunnel/internal/config"
)

// Flow is one local connection paired with the remote destination it
// should be tunneled to. For tcp/udp adapters Dest is fixed by the
// TunnelSpec; for socks5 it comes from the client's CONNECT request.
type Flow struct {
	Duplex io.ReadWriteCloser
	Dest   config.Destination
}

// Adapter listens on bind and emits one Flow per local connection until
// ctx is cancelled, at which point both channels are closed.
type Adapter interface {
	Listen(ctx context.Context, bind string) (<-chan Flow, <-chan error)
}

// New builds the Adapter for a TunnelSpec's LocalProtocol.
func New(spec config.TunnelSpec) Adapter {
	switch {
	case spec.LocalProtocol.IsUDP():
		timeout, ok := spec.LocalProtocol.UDPTimeout()
		return &UDPAdapter{Remote: spec.Remote, SocketMark: spec.SocketMark, IdleTimeout: timeout, HasIdleTimeout: ok}
	case spec.LocalProtocol.IsSocks5():
		return &Socks5Adapter{SocketMark: spec.SocketMark}
	case spec.LocalProtocol.IsStdio():
		return &StdioAdapter{Remote: spec.Remote}
	default:
		return &TCPAdapter{Remote: spec.Remote, SocketMark: spec.SocketMark}
	}
}
