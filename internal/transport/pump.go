// Package transport drives one tunnel end to end on the client side: dial
// the server, perform the websocket upgrade, and pump bytes between the
// local adapter's Flow and the upgraded connection. Pump itself is shared
// with the server side (internal/server).
package transport

import (
	"context"
	"io"
	"sync"

	"wstunnel/internal/wserr"
)

// bufferSize matches the teacher's pooled copy buffer (internal/tunnel/buffers.go).
const bufferSize = 32 * 1024

var bufferPool = sync.Pool{
	New: func() any {
		buf := make([]byte, bufferSize)
		return &buf
	},
}

// Pump copies bytes bidirectionally between a and b until one direction
// ends, ctx is cancelled, or an I/O error occurs — whichever happens
// first — then closes both sides so the other direction's blocked
// Read/Write unblocks instead of leaking forever. A polite half-close
// isn't enough here on its own: neither wsframe.Duplex nor the UDP
// adapter's per-flow session implements CloseWrite, and a quiet UDP
// flow's websocket ping/pong keeps the connection itself looking alive
// indefinitely, so one side ending (or the caller cancelling ctx) closes
// both rather than waiting for a natural EOF on each.
func Pump(ctx context.Context, a, b io.ReadWriteCloser) error {
	var wg sync.WaitGroup
	wg.Add(2)
	errs := make(chan error, 2)
	done := make(chan struct{})

	var closeOnce sync.Once
	closeBoth := func() {
		closeOnce.Do(func() {
			a.Close()
			b.Close()
		})
	}

	copyOne := func(dst io.Writer, src io.Reader) {
		defer wg.Done()
		buf := bufferPool.Get().(*[]byte)
		defer bufferPool.Put(buf)
		_, err := io.CopyBuffer(dst, src, *buf)
		closeBoth()
		if err != nil {
			errs <- err
		}
	}

	go copyOne(b, a)
	go copyOne(a, b)
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		closeBoth()
		<-done
	}
	close(errs)

	for err := range errs {
		if err != nil {
			return &wserr.TransportError{Err: err}
		}
	}
	return nil
}
