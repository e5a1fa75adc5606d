package adapter

import (
	"context"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"wstunnel/internal/config"
	"wstunnel/internal/sockopt"
	"wstunnel/internal/wserr"
)

// udpQueueDepth bounds the per-flow inbound datagram queue; once full, the
// oldest queued datagram is dropped to make room for the newest one
// (spec.md §4.3's bounded drop-oldest queue).
const udpQueueDepth = 128

// UDPAdapter demultiplexes datagrams arriving on one local UDP socket into
// one Flow per source address, closing each flow after IdleTimeout passes
// with no traffic (when HasIdleTimeout is set).
type UDPAdapter struct {
	Remote         config.Destination
	SocketMark     *int
	IdleTimeout    time.Duration
	HasIdleTimeout bool
}

func (a *UDPAdapter) Listen(ctx context.Context, bind string) (<-chan Flow, <-chan error) {
	flows := make(chan Flow)
	errs := make(chan error, 1)

	lc := net.ListenConfig{}
	if a.SocketMark != nil {
		lc.Control = sockopt.Control(*a.SocketMark)
	}
	pc, err := lc.ListenPacket(ctx, "udp", bind)
	if err != nil {
		errs <- &wserr.ConfigError{Msg: "listening on " + bind, Err: err}
		close(errs)
		close(flows)
		return flows, errs
	}

	go func() {
		<-ctx.Done()
		pc.Close()
	}()
	go a.demux(ctx, pc, flows, errs)
	return flows, errs
}

func (a *UDPAdapter) demux(ctx context.Context, pc net.PacketConn, flows chan<- Flow, errs chan<- error) {
	defer close(flows)
	defer close(errs)

	var mu sync.Mutex
	sessions := make(map[string]*udpSession)
	buf := make([]byte, 64*1024)

	for {
		n, addr, err := pc.ReadFrom(buf)
		if err != nil {
			select {
			case <-ctx.Done():
			default:
				errs <- &wserr.TransportError{Err: err}
			}
			return
		}
		key := addr.String()

		mu.Lock()
		sess, ok := sessions[key]
		if !ok {
			sess = newUDPSession(pc, addr)
			sessions[key] = sess
		}
		mu.Unlock()

		if !ok {
			if a.HasIdleTimeout {
				go a.watchIdle(ctx, &mu, sessions, key, sess)
			}
			select {
			case flows <- Flow{Duplex: sess, Dest: a.Remote}:
			case <-ctx.Done():
				return
			}
		}

		data := append([]byte(nil), buf[:n]...)
		sess.deliver(data)
	}
}

func (a *UDPAdapter) watchIdle(ctx context.Context, mu *sync.Mutex, sessions map[string]*udpSession, key string, sess *udpSession) {
	interval := a.IdleTimeout / 4
	if interval <= 0 {
		interval = time.Second
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-sess.closed:
			return
		case <-t.C:
			if time.Since(sess.lastActive()) > a.IdleTimeout {
				mu.Lock()
				delete(sessions, key)
				mu.Unlock()
				sess.Close()
				return
			}
		}
	}
}

// udpSession is one demultiplexed UDP flow's io.ReadWriteCloser: reads
// drain the inbound queue, writes go back to the originating address over
// the shared listening socket.
type udpSession struct {
	conn net.PacketConn
	addr net.Addr

	in     chan []byte
	closed chan struct{}
	once   sync.Once

	lastActiveNanos atomic.Int64
}

func newUDPSession(conn net.PacketConn, addr net.Addr) *udpSession {
	s := &udpSession{
		conn:   conn,
		addr:   addr,
		in:     make(chan []byte, udpQueueDepth),
		closed: make(chan struct{}),
	}
	s.lastActiveNanos.Store(time.Now().UnixNano())
	return s
}

func (s *udpSession) lastActive() time.Time {
	return time.Unix(0, s.lastActiveNanos.Load())
}

// deliver enqueues a datagram, dropping the oldest queued one if full.
func (s *udpSession) deliver(data []byte) {
	s.lastActiveNanos.Store(time.Now().UnixNano())
	for {
		select {
		case s.in <- data:
			return
		default:
		}
		select {
		case <-s.in:
		default:
		}
	}
}

func (s *udpSession) Read(p []byte) (int, error) {
	select {
	case data, ok := <-s.in:
		if !ok {
			return 0, io.EOF
		}
		return copy(p, data), nil
	case <-s.closed:
		return 0, io.EOF
	}
}

func (s *udpSession) Write(p []byte) (int, error) {
	s.lastActiveNanos.Store(time.Now().UnixNano())
	if _, err := s.conn.WriteTo(p, s.addr); err != nil {
		return 0, &wserr.TransportError{Err: err}
	}
	return len(p), nil
}

func (s *udpSession) Close() error {
	s.once.Do(func() { close(s.closed) })
	return nil
}
