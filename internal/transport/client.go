package transport

import (
	"context"
	"net"
	"strconv"
	"sync"

	"github.com/sirupsen/logrus"

	"wstunnel/internal/adapter"
	"wstunnel/internal/config"
	"wstunnel/internal/reqid"
	"wstunnel/internal/tlswrap"
	"wstunnel/internal/wserr"
	"wstunnel/internal/wsframe"
)

// DialAndUpgrade dials cfg's remote, wraps it with TLS if configured, and
// performs the websocket upgrade encoding dest (and, for udp, its idle
// timeout) into the request path.
func DialAndUpgrade(ctx context.Context, cfg *config.ClientConfig, wireProto string, dest config.Destination, udpTimeout *uint64) (*wsframe.Duplex, error) {
	remote := cfg.Remote()
	addr := net.JoinHostPort(remote.Host, strconv.Itoa(int(remote.Port)))

	dialer := net.Dialer{Timeout: cfg.ConnectTimeout()}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, &wserr.DialError{Addr: addr, Err: err}
	}

	if tlsSettings, ok := cfg.TLS(); ok {
		serverName := tlswrap.ServerName(tlsSettings.SNIOverride, remote.Host)
		tlsConn, err := tlswrap.ClientConnect(conn, serverName, tlsSettings.VerifyCertificate)
		if err != nil {
			conn.Close()
			return nil, err
		}
		conn = tlsConn
	}

	path := wsframe.EncodePath(cfg.UpgradePathPrefix(), wireProto, dest.Host, dest.Port, udpTimeout)
	var cred *config.BasicCredential
	if c, ok := cfg.Credential(); ok {
		cred = &c
	}
	duplex, err := wsframe.ClientUpgrade(conn, addr, path, cfg.ExtraHeaders(), cred, cfg.PingFrequency())
	if err != nil {
		conn.Close()
		return nil, err
	}
	return duplex, nil
}

// RunClient drives one TunnelSpec end to end: it listens via the spec's
// local adapter and, for each Flow produced, dials and upgrades a tunnel
// to the configured server and pumps bytes between the two until either
// side ends. It returns only after every flow it started has finished.
func RunClient(ctx context.Context, cfg *config.ClientConfig, spec config.TunnelSpec) error {
	a := adapter.New(spec)
	flows, errs := a.Listen(ctx, spec.LocalBind)

	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err, ok := <-errs:
			if !ok {
				return nil
			}
			if err != nil {
				return err
			}
		case flow, ok := <-flows:
			if !ok {
				return nil
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				handleFlow(ctx, cfg, spec, flow)
			}()
		}
	}
}

func handleFlow(ctx context.Context, cfg *config.ClientConfig, spec config.TunnelSpec, flow adapter.Flow) {
	wireProto := spec.LocalProtocol.WireName()
	dest := flow.Dest

	var udpTimeout *uint64
	if spec.LocalProtocol.IsUDP() {
		if d, ok := spec.LocalProtocol.UDPTimeout(); ok {
			secs := uint64(d.Seconds())
			udpTimeout = &secs
		} else {
			var zero uint64
			udpTimeout = &zero
		}
	}

	log := logrus.WithFields(logrus.Fields{
		"request_id": reqid.New().String(),
		"dest":       dest.String(),
	})
	duplex, err := DialAndUpgrade(ctx, cfg, wireProto, dest, udpTimeout)
	if err != nil {
		log.WithError(err).Warn("tunnel dial/upgrade failed")
		flow.Duplex.Close()
		return
	}
	log.Debug("tunnel established")
	if err := Pump(ctx, flow.Duplex, duplex); err != nil {
		log.WithError(err).Debug("tunnel closed")
	}
}
