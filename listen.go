package main

import (
	"context"
	"io"

	"github.com/go-i2p/go-wire/lib/config"
	"github.com/go-i2p/go-wire/lib/transport"
	"github.com/go-i2p/go-wire/lib/util/signals"
	"github.com/go-i2p/logger"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func listenCmd() *cobra.Command {
	var (
		echo   bool
		shared map[string]string
	)

	cmd := &cobra.Command{
		Use:   "listen",
		Short: "Accept connections and print what peers send",
		Long: `Accept TCP or WebSocket streams and run one connection on each.

Received messages are printed, echoed back and acknowledged with a running
count. Unpinned peers are accepted when their key is in the trust store, or
always with --tofu, which records them.

The websocket transport serves streams on /wire and Prometheus metrics on
/metrics. With tcp, --metrics names a separate HTTP address for /metrics.
SIGHUP re-reads the config file and applies trust.tofu.

Examples:
  go-wire listen --listen 0.0.0.0:7420 --tofu
  go-wire listen --transport websocket --listen :8080`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			bindings := map[string]string{
				"transport.listen": "listen",
				"metrics.listen":   "metrics",
			}
			for k, v := range shared {
				bindings[k] = v
			}
			cfg, err := loadConfig(cmd, bindings)
			if err != nil {
				return err
			}
			return runListen(cmd.Context(), cmd, cfg, echo)
		},
	}

	shared = connectionFlags(cmd.Flags())
	cmd.Flags().String("listen", "", "listen address (default from config)")
	cmd.Flags().String("metrics", "", "metrics address for the tcp transport")
	cmd.Flags().BoolVar(&echo, "echo", true, "echo received messages back")
	return cmd
}

func runListen(ctx context.Context, cmd *cobra.Command, cfg *config.WireConfig, echo bool) error {
	ep, err := newEndpoint(cfg, cmd.OutOrStdout())
	if err != nil {
		return err
	}
	defer ep.Close()

	id := signals.RegisterReloadHandler(func() { ep.reload() })
	defer signals.DeregisterReloadHandler(id)

	if !cfg.Plaintext {
		ep.out.printf("identity %s\n", ep.identity.Public)
	}

	srv := transport.NewServer(func(ctx context.Context, rwc io.ReadWriteCloser, remote string) {
		if err := ep.serve(ctx, rwc, remote, echo); err != nil {
			log.WithError(err).WithField("remote", remote).Debug("connection_ended")
		}
	},
		transport.WithMaxConnections(cfg.MaxConnections),
		transport.WithGatherer(ep.registry),
	)

	log.WithFields(logger.Fields{
		"at":        "main.runListen",
		"transport": cfg.Transport,
		"addr":      cfg.ListenAddr,
		"plaintext": cfg.Plaintext,
		"tofu":      cfg.TOFU,
	}).Info("Listening")

	if cfg.Transport == config.TransportWebSocket {
		return srv.ListenHTTP(ctx, cfg.ListenAddr)
	}

	if cfg.MetricsAddr != "" {
		metrics := transport.NewServer(nil, transport.WithWirePath(""), transport.WithGatherer(ep.registry))
		go func() {
			if err := metrics.ListenHTTP(ctx, cfg.MetricsAddr); err != nil {
				log.WithError(err).Error("Metrics server failed")
			}
		}()
	}
	return srv.ListenTCP(ctx, cfg.ListenAddr)
}

// reload re-reads the config file and applies settings that can change on a
// live listener.
func (e *endpoint) reload() {
	if err := viper.ReadInConfig(); err != nil {
		log.WithError(err).Warn("Reloading config failed")
		return
	}
	tofu := viper.GetBool("trust.tofu")
	e.tofu.Store(tofu)
	log.WithField("tofu", tofu).Info("Configuration reloaded")
}
