package main

import (
	"fmt"
	"net"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"wstunnel/internal/config"
	"wstunnel/internal/transport"
)

func NewClientCommand() *cobra.Command {
	var (
		remote            string
		forwards          []string
		useTLS            bool
		tlsVerify         bool
		tlsSNI            string
		upgradePathPrefix string
		basicAuth         string
		headers           []string
		connectTimeout    time.Duration
		pingFrequency     time.Duration
		logLevel          string
	)

	cmd := &cobra.Command{
		Use:   "client",
		Short: "run the tunnel client, exposing local listeners",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := setLogLevel(logLevel); err != nil {
				return err
			}
			if remote == "" {
				return fmt.Errorf("--remote is required")
			}
			if len(forwards) == 0 {
				return fmt.Errorf("at least one -L is required")
			}

			remoteDest, err := parseDestination(remote)
			if err != nil {
				return fmt.Errorf("--remote: %w", err)
			}

			opts := []config.ClientConfigOption{
				config.WithConnectTimeout(connectTimeout),
				config.WithPingFrequency(pingFrequency),
			}
			if upgradePathPrefix != "" {
				opts = append(opts, config.WithUpgradePathPrefix(upgradePathPrefix))
			}
			if useTLS {
				opts = append(opts, config.WithClientTLS(config.TLSClientSettings{
					SNIOverride:       tlsSNI,
					VerifyCertificate: tlsVerify,
				}))
			}
			if basicAuth != "" {
				user, pass, ok := strings.Cut(basicAuth, ":")
				if !ok {
					return fmt.Errorf("--basic-auth must be USER:PASS")
				}
				opts = append(opts, config.WithBasicCredential(config.BasicCredential{User: user, Pass: pass}))
			}
			for _, h := range headers {
				name, value, ok := strings.Cut(h, ":")
				if !ok {
					return fmt.Errorf("--header must be NAME:VALUE, got %q", h)
				}
				opts = append(opts, config.WithExtraHeader(strings.TrimSpace(name), strings.TrimSpace(value)))
			}

			cfg, err := config.NewClientConfig(remoteDest, opts...)
			if err != nil {
				return err
			}

			specs := make([]config.TunnelSpec, 0, len(forwards))
			for _, raw := range forwards {
				spec, err := config.ParseLocalSpec(raw)
				if err != nil {
					return err
				}
				specs = append(specs, spec)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			var wg sync.WaitGroup
			errs := make(chan error, len(specs))
			for _, spec := range specs {
				wg.Add(1)
				go func(spec config.TunnelSpec) {
					defer wg.Done()
					logrus.WithField("bind", spec.LocalBind).Info("listening")
					if err := transport.RunClient(ctx, cfg, spec); err != nil {
						errs <- err
					}
				}(spec)
			}
			wg.Wait()
			close(errs)
			for err := range errs {
				if err != nil {
					return err
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&remote, "remote", "", "tunnel server address, host:port (required)")
	cmd.Flags().StringArrayVarP(&forwards, "L", "L", nil, "local forwarding spec, repeatable: tcp://, udp://, socks5://, stdio://")
	cmd.Flags().BoolVar(&useTLS, "tls", false, "wrap the connection to the server in TLS (wss)")
	cmd.Flags().BoolVar(&tlsVerify, "tls-verify", false, "verify the server's certificate (off by default)")
	cmd.Flags().StringVar(&tlsSNI, "tls-sni", "", "override the SNI sent in the TLS handshake")
	cmd.Flags().StringVar(&upgradePathPrefix, "upgrade-path-prefix", "", "override the websocket upgrade path prefix")
	cmd.Flags().StringVar(&basicAuth, "basic-auth", "", "USER:PASS credential for the upgrade request")
	cmd.Flags().StringArrayVar(&headers, "header", nil, "extra upgrade request header, NAME:VALUE, repeatable")
	cmd.Flags().DurationVar(&connectTimeout, "connect-timeout", config.DefaultConnectTimeout, "TCP dial timeout to the server")
	cmd.Flags().DurationVar(&pingFrequency, "ping-frequency", config.DefaultPingFrequency, "websocket ping interval")
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "log level: trace, debug, info, warn, error")

	return cmd
}

func parseDestination(s string) (config.Destination, error) {
	host, portStr, err := net.SplitHostPort(s)
	if err != nil {
		return config.Destination{}, err
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return config.Destination{}, fmt.Errorf("invalid port %q", portStr)
	}
	return config.Destination{Host: host, Port: uint16(port)}, nil
}

func setLogLevel(level string) error {
	l, err := logrus.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("--log-level: %w", err)
	}
	logrus.SetLevel(l)
	return nil
}
