package main

import (
	"fmt"

	"github.com/go-i2p/go-wire/lib/keys"
	"github.com/spf13/cobra"
)

func keygenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Create the identity key",
		Long: `Create the long-term identity key and print its public half.

An existing key file is never replaced; its public key is printed instead.

Examples:
  go-wire keygen
  go-wire keygen --out ./alice.yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, map[string]string{"identity.path": "out"})
			if err != nil {
				return err
			}

			kp, created, err := keys.LoadOrCreateKeyPair(cfg.IdentityPath)
			if err != nil {
				return err
			}
			defer kp.Zero()

			out := cmd.OutOrStdout()
			if created {
				fmt.Fprintf(out, "created %s\n", cfg.IdentityPath)
			} else {
				fmt.Fprintf(out, "exists %s\n", cfg.IdentityPath)
			}
			fmt.Fprintln(out, kp.Public.String())
			return nil
		},
	}

	cmd.Flags().String("out", "", "identity key file (default from config)")
	return cmd
}
