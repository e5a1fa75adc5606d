package server

import (
	"context"
	"io"
	"sync/atomic"
	"time"
)

// activityTracker wraps a downstream connection to record the last time
// real application traffic — not websocket control frames — flowed across
// it. The websocket layer's own ping/pong liveness (wsframe.Duplex's
// lastSeen) keeps a tunnel looking alive indefinitely regardless of
// whether any payload is actually being relayed, so a UDP flow's idle
// timeout (spec.md §4.3/§6's timeout_sec) has to be measured against
// this instead.
type activityTracker struct {
	io.ReadWriteCloser
	lastActiveNanos atomic.Int64
}

func newActivityTracker(rwc io.ReadWriteCloser) *activityTracker {
	t := &activityTracker{ReadWriteCloser: rwc}
	t.lastActiveNanos.Store(time.Now().UnixNano())
	return t
}

func (t *activityTracker) Read(p []byte) (int, error) {
	n, err := t.ReadWriteCloser.Read(p)
	if n > 0 {
		t.lastActiveNanos.Store(time.Now().UnixNano())
	}
	return n, err
}

func (t *activityTracker) Write(p []byte) (int, error) {
	n, err := t.ReadWriteCloser.Write(p)
	if n > 0 {
		t.lastActiveNanos.Store(time.Now().UnixNano())
	}
	return n, err
}

func (t *activityTracker) lastActive() time.Time {
	return time.Unix(0, t.lastActiveNanos.Load())
}

// watchUDPIdle mirrors adapter.UDPAdapter.watchIdle on the server side:
// once timeout has elapsed since the last byte of real traffic crossed
// the downstream socket, it cancels the tunnel's pump context so Pump
// force-closes both ends instead of leaking the goroutine and the
// downstream UDP socket forever.
func watchUDPIdle(ctx context.Context, cancel context.CancelFunc, tracker *activityTracker, timeout time.Duration) {
	interval := timeout / 4
	if interval <= 0 {
		interval = time.Second
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if time.Since(tracker.lastActive()) > timeout {
				cancel()
				return
			}
		}
	}
}
