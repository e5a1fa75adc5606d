// Package wsframe implements the websocket framing and liveness layer that
// sits between a TLS-or-plain byte stream and the tunnel's byte pump. It
// speaks enough of RFC 6455 to interoperate with itself on both ends:
// binary messages only, masked on the client side and unmasked on the
// server side (unless a server opts into the mask_frame compatibility
// toggle), with ping/pong-driven liveness.
//
// Frame encoding/decoding is built on github.com/gobwas/ws, which operates
// directly on a net.Conn with no net/http.Server dependency; the HTTP/1.1
// upgrade handshake itself lives in handshake.go on top of net/http.
package wsframe

import (
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gobwas/ws"

	"wstunnel/internal/wserr"
)

// Duplex is an io.ReadWriteCloser over one websocket connection's binary
// message stream.
type Duplex struct {
	conn       net.Conn
	r          io.Reader // conn, or a bufio.Reader primed with handshake leftovers
	isClient   bool
	maskServer bool

	writeMu sync.Mutex
	readMu  sync.Mutex
	pending []byte

	lastSeen  atomic.Int64
	closeOnce sync.Once
	closed    chan struct{}
	timedOut  atomic.Bool
}

// newDuplex wires a Duplex around conn, reading frames from r (which may
// already hold bytes the handshake's buffered reader peeked past). Ping and
// liveness goroutines only run when pingFrequency is positive.
func newDuplex(conn net.Conn, r io.Reader, isClient, maskServer bool, pingFrequency time.Duration) *Duplex {
	d := &Duplex{
		conn:       conn,
		r:          r,
		isClient:   isClient,
		maskServer: maskServer,
		closed:     make(chan struct{}),
	}
	d.lastSeen.Store(time.Now().UnixNano())
	if pingFrequency > 0 {
		go d.pingLoop(pingFrequency)
		go d.livenessLoop(pingFrequency)
	}
	return d
}

func (d *Duplex) Read(p []byte) (int, error) {
	d.readMu.Lock()
	defer d.readMu.Unlock()
	for len(d.pending) == 0 {
		op, payload, err := d.readFrame()
		if err != nil {
			return 0, err
		}
		if op == ws.OpBinary || op == ws.OpContinuation {
			d.pending = payload
		}
	}
	n := copy(p, d.pending)
	d.pending = d.pending[n:]
	return n, nil
}

// readFrame reads and classifies one websocket frame, transparently
// answering pings with a pong and the peer's close with our own, per
// spec.md §4.2's liveness model. It returns io.EOF once a close frame has
// been exchanged.
func (d *Duplex) readFrame() (ws.OpCode, []byte, error) {
	for {
		h, err := ws.ReadHeader(d.r)
		if err != nil {
			return 0, nil, d.translateReadErr(err)
		}
		payload := make([]byte, h.Length)
		if _, err := io.ReadFull(d.r, payload); err != nil {
			return 0, nil, d.translateReadErr(err)
		}
		if h.Masked {
			ws.Cipher(payload, h.Mask, 0)
		}
		d.lastSeen.Store(time.Now().UnixNano())

		switch h.OpCode {
		case ws.OpPing:
			d.writeFrame(ws.OpPong, payload)
			continue
		case ws.OpPong:
			continue
		case ws.OpClose:
			d.writeFrame(ws.OpClose, nil)
			return ws.OpClose, nil, io.EOF
		case ws.OpText:
			continue // text frames are drained and ignored, per §4.2
		default:
			return h.OpCode, payload, nil
		}
	}
}

func (d *Duplex) translateReadErr(err error) error {
	select {
	case <-d.closed:
		if d.timedOut.Load() {
			return &wserr.TimeoutError{Msg: "websocket ping liveness timeout"}
		}
	default:
	}
	if err == io.EOF {
		return io.EOF
	}
	return &wserr.TransportError{Err: err}
}

func (d *Duplex) Write(p []byte) (int, error) {
	if err := d.writeFrame(ws.OpBinary, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

// writeFrame masks outgoing frames when this side is the client, or when
// this is the server and ServerConfig.MaskFrames() asked for the
// compatibility toggle; otherwise frames go out unmasked, as RFC 6455
// requires of a conforming server.
func (d *Duplex) writeFrame(op ws.OpCode, payload []byte) error {
	d.writeMu.Lock()
	defer d.writeMu.Unlock()

	mask := d.isClient || d.maskServer
	h := ws.Header{Fin: true, OpCode: op, Length: int64(len(payload))}
	buf := payload
	if mask {
		m := ws.NewMask()
		h.Masked = true
		h.Mask = m
		buf = append([]byte(nil), payload...)
		ws.Cipher(buf, m, 0)
	}
	if err := ws.WriteHeader(d.conn, h); err != nil {
		return &wserr.TransportError{Err: err}
	}
	if len(buf) > 0 {
		if _, err := d.conn.Write(buf); err != nil {
			return &wserr.TransportError{Err: err}
		}
	}
	return nil
}

func (d *Duplex) pingLoop(freq time.Duration) {
	t := time.NewTicker(freq)
	defer t.Stop()
	for {
		select {
		case <-d.closed:
			return
		case <-t.C:
			if err := d.writeFrame(ws.OpPing, nil); err != nil {
				return
			}
		}
	}
}

func (d *Duplex) livenessLoop(freq time.Duration) {
	limit := 3 * freq
	t := time.NewTicker(freq)
	defer t.Stop()
	for {
		select {
		case <-d.closed:
			return
		case <-t.C:
			last := time.Unix(0, d.lastSeen.Load())
			if time.Since(last) > limit {
				d.timedOut.Store(true)
				d.closeOnce.Do(func() {
					close(d.closed)
				})
				d.conn.Close()
				return
			}
		}
	}
}

// Close sends a best-effort close frame and tears down the underlying
// connection.
func (d *Duplex) Close() error {
	d.closeOnce.Do(func() {
		close(d.closed)
	})
	d.writeFrame(ws.OpClose, nil)
	return d.conn.Close()
}
