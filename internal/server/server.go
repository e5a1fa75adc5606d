// Package server implements the tunnel acceptor (spec.md §4.5): accept a
// connection, optionally terminate TLS, complete the websocket upgrade,
// dial the decoded destination, and pump bytes between the two. Grounded
// on the teacher's Server/Session pair (internal/tunnel/server.go,
// session.go): a sync.Map of active sessions plus an atomic counter, now
// driven by context cancellation instead of a polling accept-deadline
// loop, and a WaitGroup that Run waits on at shutdown in place of a bare
// running flag.
package server

import (
	"context"
	"io"
	"net"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"wstunnel/internal/config"
	"wstunnel/internal/reqid"
	"wstunnel/internal/sockopt"
	"wstunnel/internal/tlswrap"
	"wstunnel/internal/transport"
	"wstunnel/internal/wserr"
	"wstunnel/internal/wsframe"
)

// Server accepts tunnel connections on one bind address.
type Server struct {
	cfg *config.ServerConfig

	sessions    sync.Map // map[net.Conn]struct{}
	activeCount int32
	wg          sync.WaitGroup
}

func New(cfg *config.ServerConfig) *Server {
	return &Server{cfg: cfg}
}

// Run listens and serves until ctx is cancelled, then waits for in-flight
// sessions to finish.
func (s *Server) Run(ctx context.Context) error {
	lc := net.ListenConfig{}
	if mark, ok := s.cfg.SocketMark(); ok {
		lc.Control = sockopt.Control(mark)
	}
	ln, err := lc.Listen(ctx, "tcp", s.cfg.Bind())
	if err != nil {
		return &wserr.ConfigError{Msg: "listening on " + s.cfg.Bind(), Err: err}
	}

	if _, ok := s.cfg.TLS(); ok {
		logrus.Info("TLS termination enabled")
	}

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	logrus.WithField("bind", s.cfg.Bind()).Info("listening")
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				s.wg.Wait()
				return nil
			default:
				return &wserr.TransportError{Err: err}
			}
		}
		s.wg.Add(1)
		go s.handle(ctx, conn)
	}
}

func (s *Server) handle(ctx context.Context, conn net.Conn) {
	defer s.wg.Done()
	s.track(conn)
	defer s.untrack(conn)
	defer conn.Close()

	log := logrus.WithFields(logrus.Fields{
		"request_id": reqid.New().String(),
		"remote":     conn.RemoteAddr().String(),
	})

	if tlsSettings, ok := s.cfg.TLS(); ok {
		tlsConn, err := tlswrap.ServerAccept(conn, tlsSettings.Material)
		if err != nil {
			log.WithError(err).Warn("TLS handshake failed")
			return
		}
		conn = tlsConn
	}

	validate := func(target wsframe.DecodedTarget) (int, error) {
		if !s.cfg.Allowed(target.Dest) {
			return http.StatusForbidden, &wserr.RestrictedError{Dest: target.Dest.String()}
		}
		return 0, nil
	}

	duplex, target, err := wsframe.ServerUpgrade(conn, s.cfg.UpgradePathPrefix(), validate, s.cfg.MaskFrames(), s.cfg.PingFrequency())
	if err != nil {
		log.WithError(err).Debug("upgrade rejected")
		return
	}
	log = log.WithField("dest", target.Dest.String())

	downstream, err := s.dialDownstream(ctx, target)
	if err != nil {
		log.WithError(err).Warn("downstream dial failed")
		duplex.Close()
		return
	}

	pumpCtx := ctx
	var downstreamRWC io.ReadWriteCloser = downstream
	idle := config.DefaultUDPTimeout
	if target.HasTimeoutOption {
		idle = time.Duration(target.TimeoutSec) * time.Second
	}
	if target.Proto == "udp" && idle > 0 {
		var cancel context.CancelFunc
		pumpCtx, cancel = context.WithCancel(ctx)
		defer cancel()
		tracker := newActivityTracker(downstream)
		downstreamRWC = tracker
		go watchUDPIdle(pumpCtx, cancel, tracker, idle)
	}

	log.Debug("tunnel established")
	if err := transport.Pump(pumpCtx, duplex, downstreamRWC); err != nil {
		log.WithError(err).Debug("tunnel closed")
	}
}

func (s *Server) dialDownstream(ctx context.Context, target wsframe.DecodedTarget) (net.Conn, error) {
	addr := net.JoinHostPort(target.Dest.Host, strconv.Itoa(int(target.Dest.Port)))
	dialer := net.Dialer{Timeout: s.cfg.ConnectTimeout()}
	if mark, ok := s.cfg.SocketMark(); ok {
		dialer.Control = sockopt.Control(mark)
	}
	conn, err := dialer.DialContext(ctx, target.Proto, addr)
	if err != nil {
		return nil, &wserr.DialError{Addr: addr, Err: err}
	}
	return conn, nil
}

func (s *Server) track(conn net.Conn) {
	s.sessions.Store(conn, struct{}{})
	n := atomic.AddInt32(&s.activeCount, 1)
	logrus.WithField("active", n).Debug("session added")
}

func (s *Server) untrack(conn net.Conn) {
	s.sessions.Delete(conn)
	n := atomic.AddInt32(&s.activeCount, -1)
	logrus.WithField("active", n).Debug("session removed")
}
