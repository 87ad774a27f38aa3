package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/go-i2p/go-wire/lib/keys"
	"github.com/go-i2p/go-wire/lib/truststore"
	"github.com/spf13/cobra"
)

func peersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "peers",
		Short: "Manage trusted peer keys",
		Long: `List, add and remove the peer identities accepted without pinning.

The trust store is the SQLite database at trust.db_path.`,
	}
	cmd.PersistentFlags().String("db", "", "trust store path (default from config)")

	cmd.AddCommand(peersListCmd(), peersTrustCmd(), peersRevokeCmd())
	return cmd
}

// openTrustStore loads the config and opens the configured trust store.
func openTrustStore(cmd *cobra.Command) (*truststore.Store, error) {
	cfg, err := loadConfig(cmd, map[string]string{"trust.db_path": "db"})
	if err != nil {
		return nil, err
	}
	return truststore.Open(cfg.TrustDBPath)
}

func peersListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List trusted peers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openTrustStore(cmd)
			if err != nil {
				return err
			}
			defer store.Close()

			peers, err := store.List(cmd.Context())
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "PUBLIC KEY\tLABEL\tADDED\tLAST SEEN")
			for _, p := range peers {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", p.PublicKey, p.Label, formatTime(p.AddedAt), formatTime(p.LastSeen))
			}
			return w.Flush()
		},
	}
}

func peersTrustCmd() *cobra.Command {
	var label string

	cmd := &cobra.Command{
		Use:   "trust <public-key>",
		Short: "Trust a peer key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pub, err := keys.ParsePublicKey(args[0])
			if err != nil {
				return err
			}
			store, err := openTrustStore(cmd)
			if err != nil {
				return err
			}
			defer store.Close()

			if err := store.Trust(cmd.Context(), pub, label); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "trusted %s\n", pub)
			return nil
		},
	}

	cmd.Flags().StringVar(&label, "label", "", "note stored with the key")
	return cmd
}

func peersRevokeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "revoke <public-key>",
		Short: "Stop trusting a peer key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pub, err := keys.ParsePublicKey(args[0])
			if err != nil {
				return err
			}
			store, err := openTrustStore(cmd)
			if err != nil {
				return err
			}
			defer store.Close()

			if err := store.Revoke(cmd.Context(), pub); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "revoked %s\n", pub)
			return nil
		},
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format(time.DateTime)
}
