package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jmerrifield20/docchain/internal/checkpoint"
	"github.com/jmerrifield20/docchain/internal/signer"
)

func (c *cli) keygenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "keygen",
		Short: "Provision the signing key and checkpoint key",
		Long: `keygen writes a fresh Ed25519 signing key and a checkpoint encryption key
to the paths named in the configuration. Existing keys are never overwritten;
replacing a key orphans every record or checkpoint made with the old one.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := c.config()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()

			s, err := signer.Provision(cfg.Signer.KeyFile)
			switch {
			case errors.Is(err, signer.ErrKeyExists):
				fmt.Fprintf(out, "signing key exists:    %s (kept)\n", cfg.Signer.KeyFile)
			case err != nil:
				return err
			default:
				fmt.Fprintf(out, "signing key written:   %s\n", cfg.Signer.KeyFile)
				fmt.Fprintf(out, "verify key:            %s\n", s.PublicKeyHex())
			}

			if _, err := checkpoint.LoadKey(cfg.Checkpoint.KeyFile); err == nil {
				fmt.Fprintf(out, "checkpoint key exists: %s (kept)\n", cfg.Checkpoint.KeyFile)
				return nil
			}
			if _, err := checkpoint.CreateKey(cfg.Checkpoint.KeyFile); err != nil {
				return err
			}
			fmt.Fprintf(out, "checkpoint key written: %s\n", cfg.Checkpoint.KeyFile)
			return nil
		},
	}
}
