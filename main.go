package main

import (
	"context"
	"fmt"
	"os"

	"github.com/go-i2p/go-wire/lib/config"
	"github.com/go-i2p/go-wire/lib/util"
	"github.com/go-i2p/go-wire/lib/util/signals"
	"github.com/go-i2p/logger"
	"github.com/samber/oops"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Version information set at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var log = logger.GetGoI2PLogger()

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// stop accepting and dialing first, then tear down what is still open
	signals.RegisterPreShutdownHandler(signals.Handler(cancel))
	signals.RegisterInterruptHandler(util.CloseAll)
	go signals.Handle()

	err := newRootCmd().ExecuteContext(ctx)
	signals.StopHandle()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "go-wire",
		Short: "Authenticated, encrypted message streams",
		Long: `go-wire carries ordered messages between two peers over TCP or
WebSocket. Peers prove their long-term X25519 identity in a handshake and
every message is encrypted with a forward-secret ratchet.

Settings are read from $HOME/.go-wire/config.yaml, GOWIRE_* environment
variables and flags, in increasing priority.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&config.CfgFile, "config", "", "config file (default $HOME/.go-wire/config.yaml)")

	rootCmd.AddCommand(
		keygenCmd(),
		listenCmd(),
		dialCmd(),
		peersCmd(),
		versionCmd(),
	)
	return rootCmd
}

// loadConfig binds the named flags of cmd to viper keys, loads the config
// file and returns the validated result. Flags only override when set.
func loadConfig(cmd *cobra.Command, bindings map[string]string) (*config.WireConfig, error) {
	for key, name := range bindings {
		f := cmd.Flags().Lookup(name)
		if f == nil {
			continue
		}
		if err := viper.BindPFlag(key, f); err != nil {
			return nil, oops.Wrapf(err, "binding flag --%s", name)
		}
	}
	if err := config.InitConfig(); err != nil {
		return nil, err
	}

	cfg := config.NewWireConfigFromViper()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// connectionFlags registers the flags shared by listen and dial and returns
// their viper bindings.
func connectionFlags(flags *pflag.FlagSet) map[string]string {
	flags.String("identity", "", "identity key file (created if missing)")
	flags.String("peer", "", "pin the remote identity (hex public key)")
	flags.Bool("plaintext", false, "skip the handshake and encryption")
	flags.Uint32("ack", 0, "initial ack counter")
	flags.String("transport", "", "tcp or websocket")
	flags.Bool("tofu", false, "trust unknown peers on first contact")

	return map[string]string{
		"identity.path":   "identity",
		"peer.public_key": "peer",
		"wire.plaintext":  "plaintext",
		"wire.ack":        "ack",
		"transport.kind":  "transport",
		"trust.tofu":      "tofu",
	}
}
