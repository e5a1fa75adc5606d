package main

import (
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"wstunnel/internal/config"
	"wstunnel/internal/server"
	"wstunnel/internal/tlswrap"
	"wstunnel/pkg/certgen"
)

func NewServerCommand() *cobra.Command {
	var (
		bind              string
		tlsCertFile       string
		tlsKeyFile        string
		devTLS            bool
		restrictTo        []string
		upgradePathPrefix string
		maskFrames        bool
		socketMark        int
		connectTimeout    time.Duration
		pingFrequency     time.Duration
		logLevel          string
	)

	cmd := &cobra.Command{
		Use:   "server",
		Short: "run the tunnel server, accepting websocket upgrades",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := setLogLevel(logLevel); err != nil {
				return err
			}

			opts := []config.ServerConfigOption{
				config.WithServerConnectTimeout(connectTimeout),
				config.WithServerPingFrequency(pingFrequency),
				config.WithServerMaskFrames(maskFrames),
			}
			if upgradePathPrefix != "" {
				opts = append(opts, config.WithServerUpgradePathPrefix(upgradePathPrefix))
			}
			if len(restrictTo) > 0 {
				opts = append(opts, config.WithRestrictTo(restrictTo))
			}
			if socketMark != 0 {
				opts = append(opts, config.WithServerSocketMark(socketMark))
			}

			if devTLS && tlsCertFile == "" && tlsKeyFile == "" {
				tlsCertFile, tlsKeyFile = "wstunnel-dev-cert.pem", "wstunnel-dev-key.pem"
				if err := certgen.GenerateCert(tlsCertFile, tlsKeyFile); err != nil {
					return fmt.Errorf("generating dev certificate: %w", err)
				}
			}
			if tlsCertFile != "" || tlsKeyFile != "" {
				if tlsCertFile == "" || tlsKeyFile == "" {
					return fmt.Errorf("--tls-cert and --tls-key must be given together")
				}
				material, err := tlswrap.LoadMaterial(tlsCertFile, tlsKeyFile)
				if err != nil {
					return err
				}
				opts = append(opts, config.WithServerTLS(material))
			}

			cfg, err := config.NewServerConfig(bind, opts...)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return server.New(cfg).Run(ctx)
		},
	}

	cmd.Flags().StringVar(&bind, "bind", "0.0.0.0:8080", "address to accept connections on")
	cmd.Flags().StringVar(&tlsCertFile, "tls-cert", "", "PEM certificate chain file")
	cmd.Flags().StringVar(&tlsKeyFile, "tls-key", "", "PEM private key file")
	cmd.Flags().BoolVar(&devTLS, "dev-tls", false, "generate and use a throwaway self-signed certificate")
	cmd.Flags().StringArrayVar(&restrictTo, "restrict-to", nil, "allowed destination host:port, repeatable; none given means unrestricted")
	cmd.Flags().StringVar(&upgradePathPrefix, "upgrade-path-prefix", "", "override the websocket upgrade path prefix")
	cmd.Flags().BoolVar(&maskFrames, "mask-frames", false, "mask outgoing server frames (non-conformant compatibility toggle)")
	cmd.Flags().IntVar(&socketMark, "socket-mark", 0, "SO_MARK applied to the listener and downstream dial sockets (linux only)")
	cmd.Flags().DurationVar(&connectTimeout, "connect-timeout", config.DefaultConnectTimeout, "downstream dial timeout")
	cmd.Flags().DurationVar(&pingFrequency, "ping-frequency", config.DefaultPingFrequency, "websocket ping interval")
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "log level: trace, debug, info, warn, error")

	return cmd
}
